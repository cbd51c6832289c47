// Package database opens *sql.DB handles for the supported drivers with the
// session settings the claim loop relies on, and applies the embedded
// schema migrations.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/sky93/taskworker/dialect"
)

// connectAttempts bounds the startup retry loop that waits for the database
// to accept connections.
const connectAttempts = 10

// Open connects to the database identified by driver and dsn and returns
// the handle together with its dialect. It retries with linear backoff until
// the database answers a ping or ctx is done.
func Open(ctx context.Context, driver, dsn string) (*sql.DB, dialect.Dialect, error) {
	d, err := dialect.Lookup(driver)
	if err != nil {
		return nil, nil, err
	}

	db, err := openHandle(d, dsn)
	if err != nil {
		return nil, nil, err
	}

	var pingErr error
	for attempt := 1; attempt <= connectAttempts; attempt++ {
		if pingErr = db.PingContext(ctx); pingErr == nil {
			return db, d, nil
		}
		slog.Warn("database not ready, retrying",
			"driver", d.Name(),
			"attempt", attempt,
			"error", pingErr,
		)
		timer := time.NewTimer(time.Duration(attempt) * time.Second)
		select {
		case <-ctx.Done():
			timer.Stop()
			_ = db.Close()
			return nil, nil, ctx.Err()
		case <-timer.C:
		}
	}
	_ = db.Close()
	return nil, nil, fmt.Errorf("database unavailable after retries: %w", pingErr)
}

func openHandle(d dialect.Dialect, dsn string) (*sql.DB, error) {
	switch d.(type) {
	case dialect.MySQL:
		cfg, err := mysql.ParseDSN(dsn)
		if err != nil {
			return nil, fmt.Errorf("parse mysql dsn: %w", err)
		}
		cfg.ParseTime = true
		conn, err := mysql.NewConnector(cfg)
		if err != nil {
			return nil, fmt.Errorf("mysql connector: %w", err)
		}
		return sql.OpenDB(conn), nil

	case dialect.Postgres:
		connCfg, err := pgx.ParseConfig(dsn)
		if err != nil {
			return nil, fmt.Errorf("parse postgres dsn: %w", err)
		}
		return stdlib.OpenDB(*connCfg), nil

	case dialect.SQLite:
		db, err := sql.Open("sqlite", SQLiteDSN(dsn))
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		return db, nil
	}
	return nil, fmt.Errorf("%w: %s", dialect.ErrUnknown, d.Name())
}

// SQLiteDSN adds the connection parameters dialect.SQLite depends on:
// BEGIN IMMEDIATE for every transaction, no busy waiting, and WAL so that a
// commit never waits for readers. Parameters already in dsn are kept.
func SQLiteDSN(dsn string) string {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	if !strings.Contains(dsn, "_txlock=") {
		dsn += sep + "_txlock=immediate"
		sep = "&"
	}
	if !strings.Contains(dsn, "busy_timeout") {
		dsn += sep + "_pragma=busy_timeout(0)"
		sep = "&"
	}
	if !strings.Contains(dsn, "journal_mode") {
		dsn += sep + "_pragma=journal_mode(WAL)"
	}
	return dsn
}
