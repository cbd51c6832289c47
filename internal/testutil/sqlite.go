// Package testutil provides databases for tests: a migrated SQLite file for
// unit tests and, under the integration build tag, MySQL and Postgres
// containers.
package testutil

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/sky93/taskworker/dialect"
	"github.com/sky93/taskworker/internal/database"
)

// TestDB is a migrated database plus what is needed to open more handles
// on it.
type TestDB struct {
	DB      *sql.DB
	Dialect dialect.Dialect
	Driver  string
	DSN     string
}

// NewSQLite creates a migrated SQLite database in a temp dir. The handle is
// closed via t.Cleanup.
func NewSQLite(t *testing.T) *TestDB {
	t.Helper()
	return open(t, "sqlite", filepath.Join(t.TempDir(), "taskworker.db"))
}

// Reopen returns another, independent handle on the same database, as a
// second worker process would have.
func (tdb *TestDB) Reopen(t *testing.T) *sql.DB {
	t.Helper()
	db, _, err := database.Open(context.Background(), tdb.Driver, tdb.DSN)
	if err != nil {
		t.Fatalf("reopen %s: %v", tdb.Driver, err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// Exec runs statements and fails the test on error.
func (tdb *TestDB) Exec(t *testing.T, query string, args ...any) {
	t.Helper()
	if _, err := tdb.DB.ExecContext(context.Background(), dialect.Rebind(tdb.Dialect, query), args...); err != nil {
		t.Fatalf("exec %q: %v", query, err)
	}
}

func open(t *testing.T, driver, dsn string) *TestDB {
	t.Helper()
	db, d, err := database.Open(context.Background(), driver, dsn)
	if err != nil {
		t.Fatalf("open %s: %v", driver, err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if _, err := database.Migrate(db, d); err != nil {
		t.Fatalf("migrate %s: %v", driver, err)
	}
	return &TestDB{DB: db, Dialect: d, Driver: driver, DSN: dsn}
}
