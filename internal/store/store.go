package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"

	// Pure Go SQLite driver (no CGO).
	_ "modernc.org/sqlite"
)

// Store is the event and snapshot database. The same query code runs on
// SQLite and PostgreSQL through ent's dialect-aware builder.
type Store struct {
	drv     *entsql.Driver
	dialect string
	closeFn func() error
}

// Open connects to target. A postgres:// or postgresql:// URL selects the
// PostgreSQL backend; anything else is a SQLite DSN.
func Open(ctx context.Context, target string) (*Store, error) {
	if strings.HasPrefix(target, "postgres://") || strings.HasPrefix(target, "postgresql://") {
		return OpenPostgres(ctx, target)
	}
	return OpenSQLite(ctx, target)
}

// OpenSQLite creates a Store backed by the SQLite database at dsn.
// It applies recommended pragmas and creates missing tables.
func OpenSQLite(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}

	s := &Store{
		drv:     entsql.OpenDB(dialect.SQLite, db),
		dialect: dialect.SQLite,
		closeFn: db.Close,
	}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Dialect returns the backend name ("sqlite3" or "postgres").
func (s *Store) Dialect() string { return s.dialect }

// DB returns the underlying *sql.DB for raw queries.
func (s *Store) DB() *sql.DB {
	return s.drv.DB()
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.drv.DB().PingContext(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.closeFn()
}

// EventRepo returns an EventRepo backed by this store.
func (s *Store) EventRepo() EventRepo {
	return &eventRepo{s: s}
}

// SnapshotRepo returns a SnapshotRepo backed by this store.
func (s *Store) SnapshotRepo() SnapshotRepo {
	return &snapshotRepo{s: s}
}

// Reset deletes every row from every table.
func (s *Store) Reset(ctx context.Context) error {
	for _, table := range []string{tableEvents, tableSnapshots, tableLLMRequests} {
		q, args := entsql.Dialect(s.dialect).Delete(table).Query()
		if err := s.drv.Exec(ctx, q, args, nil); err != nil {
			return fmt.Errorf("reset %s: %w", table, err)
		}
	}
	return nil
}

func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range schemaFor(s.dialect) {
		if err := s.drv.Exec(ctx, stmt, []any{}, nil); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// query runs a built query and calls scan for every row.
func (s *Store) query(ctx context.Context, q string, args []any, scan func(rows *entsql.Rows) error) error {
	var rows entsql.Rows
	if err := s.drv.Query(ctx, q, args, &rows); err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		if err := scan(&rows); err != nil {
			return err
		}
	}
	return rows.Err()
}

// applyPragmas configures SQLite for a single writer with concurrent
// readers.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}
	return nil
}

// DefaultDBPath resolves the database file path in priority order:
// 1. CROSSTASK_DB environment variable
// 2. $XDG_DATA_HOME/crosstask/crosstask.db
// 3. ~/.local/share/crosstask/crosstask.db
func DefaultDBPath() (string, error) {
	if p := os.Getenv("CROSSTASK_DB"); p != "" {
		if strings.Contains(p, "://") {
			return p, nil
		}
		return p, EnsureDir(p)
	}

	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	p := filepath.Join(dir, "crosstask.db")
	return p, EnsureDir(p)
}

// DataDir returns $XDG_DATA_HOME/crosstask, or ~/.local/share/crosstask.
func DataDir() (string, error) {
	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		dataHome = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataHome, "crosstask"), nil
}

// EnsureDir creates the parent directory of path if it doesn't exist.
// URLs are left alone.
func EnsureDir(path string) error {
	if strings.Contains(path, "://") {
		return nil
	}
	return os.MkdirAll(filepath.Dir(path), 0o755)
}
