//go:build integration

package testutil

import (
	"context"
	"testing"

	tcmysql "github.com/testcontainers/testcontainers-go/modules/mysql"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
)

// NewMySQL starts a MySQL container with all migrations applied.
func NewMySQL(t *testing.T) *TestDB {
	t.Helper()
	ctx := context.Background()

	ctr, err := tcmysql.Run(ctx,
		"mysql:8.4",
		tcmysql.WithDatabase("taskworker_test"),
		tcmysql.WithUsername("taskworker"),
		tcmysql.WithPassword("testpassword"),
	)
	if err != nil {
		t.Fatalf("start mysql container: %v", err)
	}
	t.Cleanup(func() {
		if err := ctr.Terminate(ctx); err != nil {
			t.Logf("terminate mysql container: %v", err)
		}
	})

	dsn, err := ctr.ConnectionString(ctx, "parseTime=true")
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}
	return open(t, "mysql", dsn)
}

// NewPostgres starts a Postgres container with all migrations applied.
func NewPostgres(t *testing.T) *TestDB {
	t.Helper()
	ctx := context.Background()

	ctr, err := tcpostgres.Run(ctx,
		"postgres:17-alpine",
		tcpostgres.WithDatabase("taskworker_test"),
		tcpostgres.WithUsername("taskworker"),
		tcpostgres.WithPassword("testpassword"),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if err := ctr.Terminate(ctx); err != nil {
			t.Logf("terminate postgres container: %v", err)
		}
	})

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}
	return open(t, "postgres", dsn)
}
