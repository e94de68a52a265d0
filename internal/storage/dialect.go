package storage

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/mattn/go-sqlite3"
)

type dialect struct {
	name         string
	driver       string
	schema       []string
	rebind       func(string) string
	isUnique     func(error) bool
	isForeignKey func(error) bool
}

func dialectFor(name string) (dialect, error) {
	switch strings.ToLower(name) {
	case "", "sqlite", "sqlite3":
		return sqliteDialect, nil
	case "postgres", "postgresql", "pgx":
		return postgresDialect, nil
	}
	return dialect{}, fmt.Errorf("unsupported database driver %q", name)
}

var sqliteDialect = dialect{
	name:   "sqlite3",
	driver: "sqlite3",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS users (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            username TEXT NOT NULL UNIQUE,
            first_name TEXT NOT NULL,
            last_name TEXT NOT NULL,
            password_hash TEXT NOT NULL,
            created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
        );`,
		`CREATE TABLE IF NOT EXISTS statuses (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            name TEXT NOT NULL UNIQUE,
            created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
        );`,
		`CREATE TABLE IF NOT EXISTS labels (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            name TEXT NOT NULL UNIQUE,
            created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
        );`,
		`CREATE TABLE IF NOT EXISTS tasks (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            name TEXT NOT NULL,
            description TEXT NOT NULL DEFAULT '',
            status_id INTEGER NOT NULL REFERENCES statuses(id) ON DELETE RESTRICT,
            author_id INTEGER NOT NULL REFERENCES users(id) ON DELETE RESTRICT,
            executor_id INTEGER REFERENCES users(id) ON DELETE RESTRICT,
            created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
        );`,
		`CREATE TABLE IF NOT EXISTS task_labels (
            task_id INTEGER NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
            label_id INTEGER NOT NULL REFERENCES labels(id) ON DELETE RESTRICT,
            PRIMARY KEY (task_id, label_id)
        );`,
		`CREATE TABLE IF NOT EXISTS sessions (
            id TEXT PRIMARY KEY,
            data TEXT NOT NULL,
            expires_at DATETIME NOT NULL
        );`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status_id);`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_author ON tasks(author_id);`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_executor ON tasks(executor_id);`,
		`CREATE INDEX IF NOT EXISTS idx_task_labels_label ON task_labels(label_id);`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_expires ON sessions(expires_at);`,
	},
	rebind: func(q string) string { return q },
	isUnique: func(err error) bool {
		var se sqlite3.Error
		return errors.As(err, &se) && (se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey)
	},
	isForeignKey: func(err error) bool {
		var se sqlite3.Error
		return errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintForeignKey
	},
}

var postgresDialect = dialect{
	name:   "postgres",
	driver: "pgx",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS users (
            id BIGSERIAL PRIMARY KEY,
            username VARCHAR(150) NOT NULL UNIQUE,
            first_name VARCHAR(150) NOT NULL,
            last_name VARCHAR(150) NOT NULL,
            password_hash TEXT NOT NULL,
            created_at TIMESTAMPTZ NOT NULL DEFAULT now()
        );`,
		`CREATE TABLE IF NOT EXISTS statuses (
            id BIGSERIAL PRIMARY KEY,
            name VARCHAR(100) NOT NULL UNIQUE,
            created_at TIMESTAMPTZ NOT NULL DEFAULT now()
        );`,
		`CREATE TABLE IF NOT EXISTS labels (
            id BIGSERIAL PRIMARY KEY,
            name VARCHAR(100) NOT NULL UNIQUE,
            created_at TIMESTAMPTZ NOT NULL DEFAULT now()
        );`,
		`CREATE TABLE IF NOT EXISTS tasks (
            id BIGSERIAL PRIMARY KEY,
            name VARCHAR(100) NOT NULL,
            description TEXT NOT NULL DEFAULT '',
            status_id BIGINT NOT NULL REFERENCES statuses(id) ON DELETE RESTRICT,
            author_id BIGINT NOT NULL REFERENCES users(id) ON DELETE RESTRICT,
            executor_id BIGINT REFERENCES users(id) ON DELETE RESTRICT,
            created_at TIMESTAMPTZ NOT NULL DEFAULT now()
        );`,
		`CREATE TABLE IF NOT EXISTS task_labels (
            task_id BIGINT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
            label_id BIGINT NOT NULL REFERENCES labels(id) ON DELETE RESTRICT,
            PRIMARY KEY (task_id, label_id)
        );`,
		`CREATE TABLE IF NOT EXISTS sessions (
            id TEXT PRIMARY KEY,
            data TEXT NOT NULL,
            expires_at TIMESTAMPTZ NOT NULL
        );`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status_id);`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_author ON tasks(author_id);`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_executor ON tasks(executor_id);`,
		`CREATE INDEX IF NOT EXISTS idx_task_labels_label ON task_labels(label_id);`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_expires ON sessions(expires_at);`,
	},
	rebind: rebindDollar,
	isUnique: func(err error) bool {
		var pe *pgconn.PgError
		return errors.As(err, &pe) && pe.Code == "23505"
	},
	isForeignKey: func(err error) bool {
		var pe *pgconn.PgError
		return errors.As(err, &pe) && pe.Code == "23503"
	},
}

// rebindDollar rewrites ? placeholders to $1, $2, ...
func rebindDollar(q string) string {
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	for i := 0; i < len(q); i++ {
		if q[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(q[i])
	}
	return b.String()
}
