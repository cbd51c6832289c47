package database

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	migratemysql "github.com/golang-migrate/migrate/v4/database/mysql"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/sky93/taskworker/dialect"
	"github.com/sky93/taskworker/migrations"
)

// Migrate applies every pending embedded migration for d and returns the
// resulting schema version.
func Migrate(db *sql.DB, d dialect.Dialect) (uint, error) {
	src, err := iofs.New(migrations.FS, d.Name())
	if err != nil {
		return 0, fmt.Errorf("migration source: %w", err)
	}

	var driver migratedb.Driver
	switch d.(type) {
	case dialect.MySQL:
		driver, err = migratemysql.WithInstance(db, &migratemysql.Config{})
	case dialect.Postgres:
		driver, err = migratepg.WithInstance(db, &migratepg.Config{})
	case dialect.SQLite:
		driver, err = migratesqlite.WithInstance(db, &migratesqlite.Config{})
	default:
		return 0, fmt.Errorf("%w: %s", dialect.ErrUnknown, d.Name())
	}
	if err != nil {
		return 0, fmt.Errorf("migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, d.Name(), driver)
	if err != nil {
		return 0, fmt.Errorf("migrate init: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, fmt.Errorf("migrate up: %w", err)
	}

	version, _, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return 0, fmt.Errorf("migrate version: %w", err)
	}
	return version, nil
}
