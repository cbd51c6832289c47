// Package taskworker is an at-least-once task dispatcher over a relational
// database.
//
// A Worker repeatedly opens a transaction, asks a Queue for its pending
// tasks minus the ones that exhausted their retries, and locks the first
// row with a non-blocking lock (FOR UPDATE SKIP LOCKED on MySQL and
// Postgres, an immediate transaction on SQLite). The task is then handed to
// Queue.Handle inside a conversion scope: errors it returns are turned into
// a TaskError carrying the task id and a reason code, passed to
// Queue.RecordFailure, and the worker moves on. Errors the scope is not
// configured to convert stop the worker; run it under a supervisor.
//
// Any number of workers may poll the same tables concurrently. A task is
// held by at most one of them at a time.
package taskworker
