// Package db provides the local SQLite database holding the agent's durable state.
package db

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// FileName is the database file created inside the data directory.
const FileName = "fieldsync.db"

// DB wraps sqlx.DB with the agent's SQLite configuration.
type DB struct {
	*sqlx.DB
}

// Open opens (creating if needed) the database in dataDir and applies migrations.
func Open(dataDir string) (*DB, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return OpenPath(filepath.Join(dataDir, FileName))
}

// OpenPath opens the database at path, which may be ":memory:".
// The database is opened with:
// - a single connection, SQLite allows one writer
// - WAL journal and a busy timeout
// - all embedded migrations applied
func OpenPath(path string) (*DB, error) {
	// modernc.org/sqlite registers the pure Go "sqlite" driver, no CGO
	conn, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	if _, err := conn.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA busy_timeout=5000;"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	d := &DB{conn}
	if err := d.Migrate(context.Background()); err != nil {
		conn.Close()
		return nil, err
	}
	return d, nil
}

// Migrate applies pending embedded migrations.
func (db *DB) Migrate(ctx context.Context) error {
	m := NewMigrator(db.DB, EmbeddedMigrations())
	if err := m.Initialize(ctx); err != nil {
		return err
	}
	return m.Up(ctx)
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.DB.Close()
}
