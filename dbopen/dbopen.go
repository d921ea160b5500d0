// Package dbopen opens the SQLite databases used by the session catalog.
//
// Every connection gets foreign keys, WAL journaling, NORMAL sync and a
// busy timeout. Schema changes are numbered migrations tracked in
// PRAGMA user_version, so reopening an older catalog upgrades it in place.
//
//	import _ "modernc.org/sqlite"
//	db, err := dbopen.Open("sessions.db", dbopen.WithMkdirAll(), dbopen.WithMigrations(steps...))
package dbopen

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const memoryPath = ":memory:"

type config struct {
	busyTimeout int
	mkdirAll    bool
	migrations  []string
}

// Option customises Open.
type Option func(*config)

// WithBusyTimeout sets PRAGMA busy_timeout in milliseconds.
func WithBusyTimeout(ms int) Option {
	return func(c *config) { c.busyTimeout = ms }
}

// WithMkdirAll creates the parent directory of the database file.
func WithMkdirAll() Option {
	return func(c *config) { c.mkdirAll = true }
}

// WithMigrations appends schema steps. Step i brings the database to
// user_version i+1; steps already applied are skipped.
func WithMigrations(steps ...string) Option {
	return func(c *config) { c.migrations = append(c.migrations, steps...) }
}

// dsn carries the pragmas as _pragma parameters so the driver applies
// them to every pooled connection, not only the first.
func (c *config) dsn(path string) string {
	pragmas := []string{
		"foreign_keys(1)",
		"journal_mode(WAL)",
		"synchronous(NORMAL)",
		fmt.Sprintf("busy_timeout(%d)", c.busyTimeout),
	}
	return path + "?_pragma=" + strings.Join(pragmas, "&_pragma=")
}

// Open opens path with the "sqlite" driver and applies pending
// migrations.
func Open(path string, opts ...Option) (*sql.DB, error) {
	c := config{busyTimeout: 10_000}
	for _, o := range opts {
		o(&c)
	}

	if c.mkdirAll && path != memoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("dbopen: create dir for %s: %w", path, err)
		}
	}

	db, err := sql.Open("sqlite", c.dsn(path))
	if err != nil {
		return nil, fmt.Errorf("dbopen: open %s: %w", path, err)
	}
	if path == memoryPath {
		// each connection to :memory: is its own database
		db.SetMaxOpenConns(1)
	}

	if err := setup(db, &c); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func setup(db *sql.DB, c *config) error {
	if err := db.Ping(); err != nil {
		return fmt.Errorf("dbopen: ping: %w", err)
	}
	return migrate(db, c.migrations)
}

// Version returns the schema version recorded in the database.
func Version(db *sql.DB) (int, error) {
	var v int
	if err := db.QueryRow("PRAGMA user_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("dbopen: read user_version: %w", err)
	}
	return v, nil
}

func migrate(db *sql.DB, steps []string) error {
	if len(steps) == 0 {
		return nil
	}
	have, err := Version(db)
	if err != nil {
		return err
	}
	if have > len(steps) {
		return fmt.Errorf("dbopen: database is at version %d, this build knows %d", have, len(steps))
	}
	for i := have; i < len(steps); i++ {
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("dbopen: migration %d: %w", i+1, err)
		}
		if _, err := tx.Exec(steps[i]); err != nil {
			tx.Rollback()
			return fmt.Errorf("dbopen: migration %d: %w", i+1, err)
		}
		// PRAGMA does not take bind parameters.
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", i+1)); err != nil {
			tx.Rollback()
			return fmt.Errorf("dbopen: migration %d: %w", i+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("dbopen: migration %d: commit: %w", i+1, err)
		}
	}
	return nil
}

// OpenMemory opens an in-memory database closed on test cleanup.
func OpenMemory(t testing.TB, opts ...Option) *sql.DB {
	t.Helper()
	db, err := Open(memoryPath, opts...)
	if err != nil {
		t.Fatalf("dbopen.OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}
