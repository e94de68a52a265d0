// Package storage persists users, statuses, labels, tasks and sessions in a
// relational database. SQLite is the default; Postgres is supported through
// the pgx stdlib driver.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Store wraps access to the database and exposes high level helpers.
type Store struct {
	db      *sql.DB
	dialect dialect
	logger  *slog.Logger
}

// Open initializes a store for the given driver and runs the migrations.
// Driver is "sqlite3" or "postgres"; for sqlite3 the dsn is a file path.
func Open(driver, dsn string, logger *slog.Logger) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("empty database dsn")
	}
	if logger == nil {
		logger = slog.Default()
	}

	d, err := dialectFor(driver)
	if err != nil {
		return nil, err
	}

	source := dsn
	if d.name == "sqlite3" {
		if err := ensureDir(dsn); err != nil {
			return nil, err
		}
		source = fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=ON", dsn)
	}

	conn, err := sql.Open(d.driver, source)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", d.name, err)
	}
	if d.name == "sqlite3" {
		conn.SetMaxOpenConns(1)
		conn.SetConnMaxLifetime(0)
	}

	s := &Store{db: conn, dialect: d, logger: logger}
	if err := s.Migrate(context.Background()); err != nil {
		_ = conn.Close()
		return nil, err
	}

	logger.Debug("database ready", slog.String("driver", d.name))
	return s, nil
}

// Close releases the database resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Driver returns the dialect name the store was opened with.
func (s *Store) Driver() string {
	return s.dialect.name
}

func ensureDir(dbPath string) error {
	if strings.HasPrefix(dbPath, ":memory:") {
		return nil
	}
	dir := filepath.Dir(dbPath)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

// Migrate creates the schema if it does not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range s.dialect.schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// translate maps constraint violations to the package sentinels. fkErr is the
// sentinel used for foreign key failures: deletes report ErrInUse, writes
// report ErrInvalidReference.
func (s *Store) translate(op string, err error, fkErr error) error {
	switch {
	case s.dialect.isUnique(err):
		return fmt.Errorf("%s: %w", op, ErrConflict)
	case s.dialect.isForeignKey(err):
		return fmt.Errorf("%s: %w", op, fkErr)
	}
	return fmt.Errorf("%s: %w", op, err)
}

type scanner interface {
	Scan(dest ...any) error
}
