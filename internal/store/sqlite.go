package store

import (
	"context"
	"database/sql"
	stderrors "errors"
	"time"

	"github.com/cpltrack/fieldsync/internal/db"
)

// SQLiteBackend stores values in the kv_store table of the local database.
type SQLiteBackend struct {
	db *db.DB
}

// NewSQLiteBackend uses an opened, migrated database.
func NewSQLiteBackend(database *db.DB) *SQLiteBackend {
	return &SQLiteBackend{db: database}
}

// OpenSQLite opens the database in dataDir and returns a backend owning it.
func OpenSQLite(dataDir string) (*SQLiteBackend, error) {
	database, err := db.Open(dataDir)
	if err != nil {
		return nil, err
	}
	return NewSQLiteBackend(database), nil
}

type kvRow struct {
	Key       string `db:"key"`
	Value     []byte `db:"value"`
	UpdatedAt int64  `db:"updated_at"`
}

func (s *SQLiteBackend) Get(ctx context.Context, key string) ([]byte, error) {
	var row kvRow
	err := s.db.GetContext(ctx, &row, "SELECT key, value, updated_at FROM kv_store WHERE key = ?", key)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.Value, nil
}

func (s *SQLiteBackend) Set(ctx context.Context, key string, value []byte) error {
	row := kvRow{Key: key, Value: value, UpdatedAt: time.Now().UnixMilli()}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO kv_store (key, value, updated_at) VALUES (:key, :value, :updated_at)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`, row)
	return err
}

func (s *SQLiteBackend) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM kv_store WHERE key = ?", key)
	return err
}

func (s *SQLiteBackend) Close() error {
	return s.db.Close()
}
