package taskworker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const handleSavepoint = "taskworker_handle"

// beginIteration opens the transaction one iteration runs in. ok is false
// when the store reports at BEGIN that another worker holds the lock.
func beginIteration(ctx context.Context, cfg *Config) (tx *sql.Tx, ok bool, err error) {
	tx, err = cfg.DB.BeginTx(ctx, nil)
	if err != nil {
		if cfg.Dialect.IsLockContention(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return tx, true, nil
}

// claimFirst locks the first row of sel that no other transaction holds.
// found is false when every eligible row is taken or none exist.
func claimFirst[T Task](ctx context.Context, tx *sql.Tx, cfg *Config, sel Selection[T]) (task T, found bool, err error) {
	if err := sel.validate(); err != nil {
		return task, false, err
	}
	query, args := sel.claimSQL(cfg.Dialect)
	row := tx.QueryRowContext(ctx, query, args...)
	task, err = sel.scan(row)
	switch {
	case err == nil:
		return task, true, nil
	case errors.Is(err, sql.ErrNoRows), cfg.Dialect.IsLockContention(err):
		var zero T
		return zero, false, nil
	}
	var zero T
	return zero, false, err
}

// The three supported engines share savepoint syntax.

func savepoint(ctx context.Context, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx, "SAVEPOINT "+handleSavepoint); err != nil {
		return fmt.Errorf("savepoint: %w", err)
	}
	return nil
}

func rollbackToSavepoint(ctx context.Context, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+handleSavepoint); err != nil {
		return fmt.Errorf("rollback to savepoint: %w", err)
	}
	return nil
}

func releaseSavepoint(ctx context.Context, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT "+handleSavepoint); err != nil {
		return fmt.Errorf("release savepoint: %w", err)
	}
	return nil
}
