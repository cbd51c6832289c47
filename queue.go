package taskworker

import (
	"context"
	"database/sql"
)

// Task is a row claimed from a queue. The worker only needs its identity;
// everything else about the row belongs to the Queue implementation.
type Task interface {
	TaskID() int64
}

// Queue is implemented once per task type. A worker calls PendingSet and
// ExcludeExhausted to build the claim query, locks the first row it yields,
// and then calls Handle, or RecordFailure when Handle fails.
//
// Handle and RecordFailure receive the transaction that holds the row lock.
// Every write to the task must go through it.
type Queue[T Task] interface {
	// PendingSet selects tasks that have not been processed yet.
	PendingSet() Selection[T]

	// ExcludeExhausted narrows sel to tasks whose failure counter is still
	// within the retry ceiling. Exhausted tasks stay in the table but are
	// never claimed again.
	ExcludeExhausted(sel Selection[T]) Selection[T]

	// Handle runs the business logic for one task. It must return an error
	// rather than swallow it, and on success must change the task so that
	// PendingSet no longer selects it.
	Handle(ctx context.Context, tx *sql.Tx, task T) error

	// RecordFailure durably bumps the task's failure counter.
	RecordFailure(ctx context.Context, tx *sql.Tx, task T, err *TaskError) error
}
