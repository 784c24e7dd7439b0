package db

import (
	"context"
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	apperrors "github.com/cpltrack/fieldsync/internal/errors"
	"github.com/cpltrack/fieldsync/internal/logging"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// EmbeddedMigrations returns the migrations shipped with the binary.
func EmbeddedMigrations() fs.FS {
	sub, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

const migrationsTable = `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version     INTEGER PRIMARY KEY CHECK(version > 0),
	name        TEXT    NOT NULL,
	checksum    TEXT    NOT NULL CHECK(length(checksum) = 64),
	applied_at  INTEGER NOT NULL
);`

// AppliedMigration is a row of schema_migrations.
type AppliedMigration struct {
	Version   int    `db:"version"`
	Name      string `db:"name"`
	Checksum  string `db:"checksum"`
	AppliedAt int64  `db:"applied_at"`
}

// Time returns when the migration was applied.
func (m AppliedMigration) Time() time.Time {
	return time.UnixMilli(m.AppliedAt)
}

// script is one V<n>__<name>.up.sql file with its optional down file.
type script struct {
	version int
	name    string
	up      string
	down    string
}

func (s script) checksum() string {
	sum := sha256.Sum256([]byte(s.up))
	return hex.EncodeToString(sum[:])
}

// Migrator applies versioned SQL scripts from a filesystem.
type Migrator struct {
	db   *sqlx.DB
	fsys fs.FS
}

func NewMigrator(db *sqlx.DB, fsys fs.FS) *Migrator {
	return &Migrator{db: db, fsys: fsys}
}

// Initialize creates schema_migrations if needed.
func (m *Migrator) Initialize(ctx context.Context) error {
	if _, err := m.db.ExecContext(ctx, migrationsTable); err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "create schema_migrations", err)
	}
	return nil
}

// Version returns the highest applied version, 0 when none.
func (m *Migrator) Version(ctx context.Context) (int, error) {
	var version int
	err := m.db.GetContext(ctx, &version, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	return version, err
}

// Applied lists applied migrations in version order.
func (m *Migrator) Applied(ctx context.Context) ([]AppliedMigration, error) {
	var rows []AppliedMigration
	err := m.db.SelectContext(ctx, &rows,
		"SELECT version, name, checksum, applied_at FROM schema_migrations ORDER BY version")
	return rows, err
}

// scripts loads the V<n>__<name>.up.sql files sorted by version.
// Files that do not follow the naming scheme are ignored.
func (m *Migrator) scripts() ([]script, error) {
	names, err := fs.Glob(m.fsys, "V*__*.up.sql")
	if err != nil {
		return nil, err
	}

	var out []script
	for _, file := range names {
		base := strings.TrimSuffix(file, ".up.sql")
		prefix, name, _ := strings.Cut(base, "__")
		version, err := strconv.Atoi(strings.TrimPrefix(prefix, "V"))
		if err != nil || version <= 0 {
			continue
		}

		up, err := fs.ReadFile(m.fsys, file)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", file, err)
		}
		s := script{version: version, name: name, up: string(up)}
		if down, err := fs.ReadFile(m.fsys, base+".down.sql"); err == nil {
			s.down = string(down)
		}
		out = append(out, s)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })
	return out, nil
}

// Up applies pending migrations in order. An applied migration whose
// script changed since is reported as an error and nothing is applied.
func (m *Migrator) Up(ctx context.Context) error {
	applied, err := m.Applied(ctx)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "read applied migrations", err)
	}
	done := make(map[int]string, len(applied))
	for _, a := range applied {
		done[a.Version] = a.Checksum
	}

	scripts, err := m.scripts()
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "read migrations", err)
	}

	for _, s := range scripts {
		if sum, ok := done[s.version]; ok && sum != s.checksum() {
			return apperrors.New(apperrors.ErrStorage,
				fmt.Sprintf("migration V%d__%s changed after it was applied", s.version, s.name))
		}
	}

	for _, s := range scripts {
		if _, ok := done[s.version]; ok {
			continue
		}
		err := m.withTx(ctx, func(tx *sqlx.Tx) error {
			if _, err := tx.ExecContext(ctx, s.up); err != nil {
				return err
			}
			_, err := tx.NamedExecContext(ctx,
				`INSERT INTO schema_migrations (version, name, checksum, applied_at)
				 VALUES (:version, :name, :checksum, :applied_at)`,
				AppliedMigration{Version: s.version, Name: s.name, Checksum: s.checksum(), AppliedAt: time.Now().UnixMilli()})
			return err
		})
		if err != nil {
			return apperrors.Wrap(apperrors.ErrStorage, fmt.Sprintf("apply migration V%d__%s", s.version, s.name), err)
		}
		logging.Info("Applied migration", map[string]interface{}{"version": s.version, "name": s.name})
	}
	return nil
}

// Down reverts the latest applied migration using its down script.
func (m *Migrator) Down(ctx context.Context) error {
	current, err := m.Version(ctx)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "read schema version", err)
	}
	if current == 0 {
		return apperrors.New(apperrors.ErrNotFound, "no migration to revert")
	}

	scripts, err := m.scripts()
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "read migrations", err)
	}
	var target *script
	for i := range scripts {
		if scripts[i].version == current {
			target = &scripts[i]
		}
	}
	if target == nil || target.down == "" {
		return apperrors.New(apperrors.ErrNotFound, fmt.Sprintf("no down script for version %d", current))
	}

	err = m.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, target.down); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, "DELETE FROM schema_migrations WHERE version = ?", current)
		return err
	})
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, fmt.Sprintf("revert migration V%d", current), err)
	}
	logging.Info("Reverted migration", map[string]interface{}{"version": current, "name": target.name})
	return nil
}

func (m *Migrator) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := m.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
