package taskworker

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sky93/taskworker/internal/testutil"
)

type testTask struct {
	ID           int64
	FailureCount int
	Payload      string
}

func (t *testTask) TaskID() int64 { return t.ID }

func scanTestTask(s Scanner) (*testTask, error) {
	var t testTask
	if err := s.Scan(&t.ID, &t.FailureCount, &t.Payload); err != nil {
		return nil, err
	}
	return &t, nil
}

// testQueue serves the tasks table created by newTaskDB.
type testQueue struct {
	ceiling int
	handle  func(ctx context.Context, tx *sql.Tx, task *testTask) error

	polls    atomic.Int32
	mu       sync.Mutex
	handled  []int64
	failures []*TaskError
}

func (q *testQueue) PendingSet() Selection[*testTask] {
	q.polls.Add(1)
	return From("tasks", []string{"id", "failure_count", "payload"}, scanTestTask).
		Filter(Eq("pending", true)).
		OrderBy("id")
}

func (q *testQueue) ExcludeExhausted(sel Selection[*testTask]) Selection[*testTask] {
	return sel.Exclude(Gt("failure_count", q.ceiling))
}

func (q *testQueue) Handle(ctx context.Context, tx *sql.Tx, task *testTask) error {
	q.mu.Lock()
	q.handled = append(q.handled, task.ID)
	q.mu.Unlock()

	if q.handle != nil {
		return q.handle(ctx, tx, task)
	}
	return markDone(ctx, tx, task)
}

func (q *testQueue) RecordFailure(ctx context.Context, tx *sql.Tx, task *testTask, err *TaskError) error {
	q.mu.Lock()
	q.failures = append(q.failures, err)
	q.mu.Unlock()

	_, dbErr := tx.ExecContext(ctx, "UPDATE tasks SET failure_count = failure_count + 1 WHERE id = ?", task.ID)
	return dbErr
}

func (q *testQueue) handledIDs() []int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]int64(nil), q.handled...)
}

func (q *testQueue) recordedFailures() []*TaskError {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]*TaskError(nil), q.failures...)
}

func markDone(ctx context.Context, tx *sql.Tx, task *testTask) error {
	_, err := tx.ExecContext(ctx, "UPDATE tasks SET pending = ? WHERE id = ?", false, task.ID)
	return err
}

func newTaskDB(t *testing.T) *testutil.TestDB {
	t.Helper()
	tdb := testutil.NewSQLite(t)
	tdb.Exec(t, `CREATE TABLE tasks (
		id            INTEGER PRIMARY KEY,
		pending       BOOLEAN NOT NULL DEFAULT 1,
		failure_count INTEGER NOT NULL DEFAULT 0,
		payload       TEXT    NOT NULL DEFAULT ''
	)`)
	return tdb
}

func testConfig(db *sql.DB, tdb *testutil.TestDB) Config {
	return Config{
		DB:           db,
		Dialect:      tdb.Dialect,
		PollInterval: 10 * time.Millisecond,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func taskRow(t *testing.T, tdb *testutil.TestDB, id int64) (pending bool, failures int, payload string) {
	t.Helper()
	err := tdb.DB.QueryRow("SELECT pending, failure_count, payload FROM tasks WHERE id = ?", id).
		Scan(&pending, &failures, &payload)
	require.NoError(t, err)
	return pending, failures, payload
}

func TestWorker_ExhaustedTasksAreQuarantined(t *testing.T) {
	tdb := newTaskDB(t)
	tdb.Exec(t, "INSERT INTO tasks (id, failure_count) VALUES (1, 4), (2, 2), (3, 3)")

	q := &testQueue{ceiling: 3}
	query, args := q.ExcludeExhausted(q.PendingSet()).SQL(tdb.Dialect)
	rows, err := tdb.DB.Query(query, args...)
	require.NoError(t, err)
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		task, err := scanTestTask(rows)
		require.NoError(t, err)
		ids = append(ids, task.ID)
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, []int64{2, 3}, ids)
}

func TestWorker_FailedTaskIsRecordedUntilExhausted(t *testing.T) {
	ctx := context.Background()
	tdb := newTaskDB(t)
	tdb.Exec(t, "INSERT INTO tasks (id, failure_count) VALUES (1, 4), (2, 2)")

	boom := errors.New("telegram unreachable")
	q := &testQueue{
		ceiling: 3,
		handle: func(context.Context, *sql.Tx, *testTask) error {
			return boom
		},
	}
	w, err := NewWorker(testConfig(tdb.DB, tdb), Bind("tasks", q))
	require.NoError(t, err)

	claimed, err := w.RunOnce(ctx)
	require.NoError(t, err)
	assert.True(t, claimed)

	failures := q.recordedFailures()
	require.Len(t, failures, 1)
	assert.Equal(t, "unhandled_exception", failures[0].ReasonCode)
	assert.Equal(t, int64(2), failures[0].TaskID)
	assert.ErrorIs(t, failures[0], boom)

	_, count, _ := taskRow(t, tdb, 2)
	assert.Equal(t, 3, count)

	// A counter equal to the ceiling is still eligible.
	claimed, err = w.RunOnce(ctx)
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = w.RunOnce(ctx)
	require.NoError(t, err)
	assert.False(t, claimed)

	assert.Equal(t, []int64{2, 2}, q.handledIDs())
	pending, count, _ := taskRow(t, tdb, 2)
	assert.True(t, pending, "exhausted tasks are kept, not deleted")
	assert.Equal(t, 4, count)
	assert.Equal(t, WorkerIdle, w.Status())
}

func TestWorker_SuccessMarksTaskProcessed(t *testing.T) {
	ctx := context.Background()
	tdb := newTaskDB(t)
	tdb.Exec(t, "INSERT INTO tasks (id) VALUES (10), (11)")

	var events []LogEvent
	q := &testQueue{ceiling: 3}
	cfg := testConfig(tdb.DB, tdb)
	cfg.InfoLog = func(ev LogEvent) { events = append(events, ev) }
	w, err := NewWorker(cfg, Bind("tasks", q))
	require.NoError(t, err)

	for range 2 {
		claimed, err := w.RunOnce(ctx)
		require.NoError(t, err)
		assert.True(t, claimed)
	}
	claimed, err := w.RunOnce(ctx)
	require.NoError(t, err)
	assert.False(t, claimed)

	assert.Equal(t, []int64{10, 11}, q.handledIDs())
	assert.Empty(t, q.recordedFailures())
	for _, id := range []int64{10, 11} {
		pending, _, _ := taskRow(t, tdb, id)
		assert.False(t, pending)
	}

	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, "Processed successfully task id=11", last.Message)
	require.NotNil(t, last.TaskID)
	assert.Equal(t, int64(11), *last.TaskID)
	assert.Equal(t, w.ID(), last.WorkerID)
	assert.Equal(t, "tasks", last.Queue)
}

func TestWorker_HandlerFailureRollsBackItsWrites(t *testing.T) {
	ctx := context.Background()
	tdb := newTaskDB(t)
	tdb.Exec(t, "INSERT INTO tasks (id) VALUES (1)")

	q := &testQueue{
		ceiling: 3,
		handle: func(ctx context.Context, tx *sql.Tx, task *testTask) error {
			if _, err := tx.ExecContext(ctx, "UPDATE tasks SET payload = 'half done' WHERE id = ?", task.ID); err != nil {
				return err
			}
			return errors.New("second step failed")
		},
	}
	w, err := NewWorker(testConfig(tdb.DB, tdb), Bind("tasks", q))
	require.NoError(t, err)

	claimed, err := w.RunOnce(ctx)
	require.NoError(t, err)
	assert.True(t, claimed)

	pending, count, payload := taskRow(t, tdb, 1)
	assert.True(t, pending)
	assert.Equal(t, 1, count)
	assert.Empty(t, payload)
}

func TestWorker_HandlerReturnsTaskError(t *testing.T) {
	ctx := context.Background()
	tdb := newTaskDB(t)
	tdb.Exec(t, "INSERT INTO tasks (id) VALUES (5)")

	q := &testQueue{
		ceiling: 3,
		handle: func(ctx context.Context, _ *sql.Tx, _ *testTask) error {
			return Fail(ctx, "bad_payload", "payload is not json")
		},
	}
	cfg := testConfig(tdb.DB, tdb)
	cfg.Match = []Matcher{MatchIs(errKey)}
	w, err := NewWorker(cfg, Bind("tasks", q))
	require.NoError(t, err)

	claimed, err := w.RunOnce(ctx)
	require.NoError(t, err)
	assert.True(t, claimed)

	failures := q.recordedFailures()
	require.Len(t, failures, 1)
	assert.Equal(t, "bad_payload", failures[0].ReasonCode)
	assert.Equal(t, "payload is not json", failures[0].Description)
	assert.Equal(t, int64(5), failures[0].TaskID)
}

func TestWorker_HandlerPanicIsRecorded(t *testing.T) {
	ctx := context.Background()
	tdb := newTaskDB(t)
	tdb.Exec(t, "INSERT INTO tasks (id) VALUES (8)")

	q := &testQueue{
		ceiling: 3,
		handle: func(context.Context, *sql.Tx, *testTask) error {
			panic("nil dereference in template")
		},
	}
	w, err := NewWorker(testConfig(tdb.DB, tdb), Bind("tasks", q))
	require.NoError(t, err)

	claimed, err := w.RunOnce(ctx)
	require.NoError(t, err)
	assert.True(t, claimed)

	failures := q.recordedFailures()
	require.Len(t, failures, 1)
	var perr *PanicError
	require.ErrorAs(t, failures[0], &perr)
	assert.Equal(t, "nil dereference in template", perr.Value)
}

func TestWorker_HandleTimeout(t *testing.T) {
	ctx := context.Background()
	tdb := newTaskDB(t)
	tdb.Exec(t, "INSERT INTO tasks (id) VALUES (1)")

	q := &testQueue{
		ceiling: 3,
		handle: func(ctx context.Context, _ *sql.Tx, _ *testTask) error {
			<-ctx.Done()
			return ctx.Err()
		},
	}
	cfg := testConfig(tdb.DB, tdb)
	cfg.HandleTimeout = 20 * time.Millisecond
	w, err := NewWorker(cfg, Bind("tasks", q))
	require.NoError(t, err)

	claimed, err := w.RunOnce(ctx)
	require.NoError(t, err)
	assert.True(t, claimed)

	failures := q.recordedFailures()
	require.Len(t, failures, 1)
	assert.ErrorIs(t, failures[0], context.DeadlineExceeded)
}

func TestWorker_UnmatchedErrorIsFatalAndUnrecorded(t *testing.T) {
	ctx := context.Background()
	tdb := newTaskDB(t)
	tdb.Exec(t, "INSERT INTO tasks (id) VALUES (1)")

	corrupted := errors.New("corrupted state")
	q := &testQueue{
		ceiling: 3,
		handle: func(ctx context.Context, tx *sql.Tx, task *testTask) error {
			if _, err := tx.ExecContext(ctx, "UPDATE tasks SET payload = 'touched' WHERE id = ?", task.ID); err != nil {
				return err
			}
			return corrupted
		},
	}
	cfg := testConfig(tdb.DB, tdb)
	cfg.Match = []Matcher{MatchIs(errKey)}
	w, err := NewWorker(cfg, Bind("tasks", q))
	require.NoError(t, err)

	err = w.Run(ctx)
	require.ErrorIs(t, err, corrupted)
	_, isTaskErr := AsTaskError(err)
	assert.False(t, isTaskErr)
	assert.Equal(t, WorkerFailing, w.Status())

	assert.Empty(t, q.recordedFailures())
	pending, count, payload := taskRow(t, tdb, 1)
	assert.True(t, pending)
	assert.Zero(t, count)
	assert.Empty(t, payload, "the iteration's transaction is rolled back")
}

func TestWorker_ConcurrentWorkersNeverShareATask(t *testing.T) {
	ctx := context.Background()
	tdb := newTaskDB(t)
	tdb.Exec(t, "INSERT INTO tasks (id) VALUES (1)")

	entered := make(chan struct{}, 2)
	release := make(chan struct{})
	q := &testQueue{
		ceiling: 3,
		handle: func(ctx context.Context, tx *sql.Tx, task *testTask) error {
			entered <- struct{}{}
			<-release
			return markDone(ctx, tx, task)
		},
	}

	a, err := NewWorker(testConfig(tdb.DB, tdb), Bind("tasks", q))
	require.NoError(t, err)
	b, err := NewWorker(testConfig(tdb.Reopen(t), tdb), Bind("tasks", q))
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		_, err := a.RunOnce(ctx)
		errCh <- err
	}()

	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("first worker never claimed the task")
	}
	assert.Equal(t, WorkerBusy, a.Status())

	claimed, err := b.RunOnce(ctx)
	require.NoError(t, err)
	assert.False(t, claimed, "second worker must not observe a claimable task")

	close(release)
	require.NoError(t, <-errCh)

	claimed, err = b.RunOnce(ctx)
	require.NoError(t, err)
	assert.False(t, claimed)

	assert.Equal(t, []int64{1}, q.handledIDs())
}

func TestWorker_IdleWorkerSleepsAndRepolls(t *testing.T) {
	tdb := newTaskDB(t)
	q := &testQueue{ceiling: 3}

	cfg := testConfig(tdb.DB, tdb)
	cfg.PollInterval = 20 * time.Millisecond
	w, err := NewWorker(cfg, Bind("tasks", q))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	start := time.Now()
	require.NoError(t, w.Run(ctx))
	elapsed := time.Since(start)

	polls := int(q.polls.Load())
	assert.GreaterOrEqual(t, polls, 2)
	assert.LessOrEqual(t, polls, int(elapsed/cfg.PollInterval)+1)
	assert.Equal(t, WorkerStopped, w.Status())
}

func TestWorker_RunDrainsBacklogThenStops(t *testing.T) {
	tdb := newTaskDB(t)
	tdb.Exec(t, "INSERT INTO tasks (id) VALUES (1), (2), (3)")

	reg := prometheus.NewRegistry()
	q := &testQueue{ceiling: 3}
	cfg := testConfig(tdb.DB, tdb)
	cfg.Metrics = NewMetrics(reg)
	w, err := NewWorker(cfg, Bind("tasks", q))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool {
		return len(q.handledIDs()) == 3
	}, 5*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, []int64{1, 2, 3}, q.handledIDs())
	assert.Equal(t, 3.0, promtest.ToFloat64(cfg.Metrics.claimed.WithLabelValues("tasks")))
	assert.Equal(t, 3.0, promtest.ToFloat64(cfg.Metrics.succeeded.WithLabelValues("tasks")))
	assert.Equal(t, 0.0, promtest.ToFloat64(cfg.Metrics.busy.WithLabelValues("tasks")))
}

func TestWorker_FailureMetrics(t *testing.T) {
	tdb := newTaskDB(t)
	tdb.Exec(t, "INSERT INTO tasks (id) VALUES (1)")

	q := &testQueue{
		ceiling: 3,
		handle: func(context.Context, *sql.Tx, *testTask) error {
			return errors.New("boom")
		},
	}
	cfg := testConfig(tdb.DB, tdb)
	cfg.Metrics = NewMetrics(prometheus.NewRegistry())
	w, err := NewWorker(cfg, Bind("tasks", q))
	require.NoError(t, err)

	_, err = w.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1.0, promtest.ToFloat64(cfg.Metrics.failed.WithLabelValues("tasks", "unhandled_exception")))
	assert.Equal(t, 0.0, promtest.ToFloat64(cfg.Metrics.succeeded.WithLabelValues("tasks")))
}

func TestWorker_UnmatchedPanicSettlesBusyGauge(t *testing.T) {
	tdb := newTaskDB(t)
	tdb.Exec(t, "INSERT INTO tasks (id) VALUES (1)")

	q := &testQueue{
		ceiling: 3,
		handle: func(context.Context, *sql.Tx, *testTask) error {
			panic("corrupted state")
		},
	}
	cfg := testConfig(tdb.DB, tdb)
	cfg.Match = []Matcher{MatchIs(errKey)}
	cfg.Metrics = NewMetrics(prometheus.NewRegistry())
	w, err := NewWorker(cfg, Bind("tasks", q))
	require.NoError(t, err)

	assert.PanicsWithValue(t, "corrupted state", func() {
		_, _ = w.RunOnce(context.Background())
	})

	assert.Equal(t, 1.0, promtest.ToFloat64(cfg.Metrics.claimed.WithLabelValues("tasks")))
	assert.Equal(t, 0.0, promtest.ToFloat64(cfg.Metrics.busy.WithLabelValues("tasks")))
	assert.Empty(t, q.recordedFailures())

	pending, failures, _ := taskRow(t, tdb, 1)
	assert.True(t, pending)
	assert.Zero(t, failures)
}

func TestNewWorker_Validation(t *testing.T) {
	tdb := newTaskDB(t)
	q := &testQueue{ceiling: 3}

	_, err := NewWorker(Config{Dialect: tdb.Dialect}, Bind("tasks", q))
	assert.ErrorIs(t, err, ErrNoDB)

	_, err = NewWorker(Config{DB: tdb.DB}, Bind("tasks", q))
	assert.ErrorIs(t, err, ErrNoDialect)

	_, err = NewWorker(Config{DB: tdb.DB, Dialect: tdb.Dialect, PollInterval: -time.Second}, Bind("tasks", q))
	assert.ErrorIs(t, err, ErrBadPollInterval)

	_, err = NewWorker(Config{DB: tdb.DB, Dialect: tdb.Dialect}, Binding{})
	assert.ErrorIs(t, err, ErrUnknownQueue)

	w, err := NewWorker(Config{DB: tdb.DB, Dialect: tdb.Dialect}, Bind("tasks", q))
	require.NoError(t, err)
	assert.Equal(t, DefaultPollInterval, w.cfg.PollInterval)
	assert.Equal(t, DefaultReasonCode, w.cfg.ReasonCode)
}
