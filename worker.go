package taskworker

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Worker is one claim loop. Several workers, in one process or many, may
// serve the same queue; the store's row locks keep them off each other's
// tasks.
type Worker struct {
	id      string
	status  atomic.Int32
	cfg     *Config
	binding Binding
}

// NewWorker validates cfg and returns a worker serving b.
func NewWorker(cfg Config, b Binding) (*Worker, error) {
	c, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}
	if b.iterate == nil {
		return nil, fmt.Errorf("%w: empty binding", ErrUnknownQueue)
	}
	return newWorker(c, b), nil
}

func newWorker(cfg *Config, b Binding) *Worker {
	return &Worker{
		id:      uuid.New().String(),
		cfg:     cfg,
		binding: b,
	}
}

// ID identifies the worker in logs.
func (w *Worker) ID() string { return w.id }

// Status reports what the worker is doing right now.
func (w *Worker) Status() WorkerStatus { return WorkerStatus(w.status.Load()) }

func (w *Worker) setStatus(s WorkerStatus) { w.status.Store(int32(s)) }

// Run keeps polling the queue until ctx is canceled, which makes it return
// nil at the next iteration boundary. A task that was already claimed is
// always finished and committed first. Run returns a non-nil error when an
// iteration fails fatally: a storage error, or a handler error that the
// conversion scope did not turn into a TaskError.
func (w *Worker) Run(ctx context.Context) error {
	w.cfg.logInfo(LogEvent{
		Message:  "Tracking for new tasks started.",
		WorkerID: w.id,
		Queue:    w.binding.name,
	})

	for {
		if ctx.Err() != nil {
			w.stopped()
			return nil
		}

		claimed, err := w.RunOnce(ctx)
		if err != nil {
			w.setStatus(WorkerFailing)
			w.cfg.logError(LogEvent{
				Message:  "Worker stopped by unrecoverable error.",
				WorkerID: w.id,
				Queue:    w.binding.name,
				Err:      err,
			})
			return err
		}
		if claimed {
			continue
		}

		w.cfg.logDebug(LogEvent{
			Message:  fmt.Sprintf("Sleeping for %s.", w.cfg.PollInterval),
			WorkerID: w.id,
			Queue:    w.binding.name,
		})
		timer := time.NewTimer(w.cfg.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			w.stopped()
			return nil
		case <-timer.C:
		}
	}
}

func (w *Worker) stopped() {
	w.setStatus(WorkerStopped)
	w.cfg.logInfo(LogEvent{
		Message:  "Worker context canceled, stopping.",
		WorkerID: w.id,
		Queue:    w.binding.name,
	})
}

// RunOnce performs a single claim-process-record iteration. claimed reports
// whether a task was processed, successfully or not.
func (w *Worker) RunOnce(ctx context.Context) (claimed bool, err error) {
	return w.binding.iterate(ctx, w)
}

func processOne[T Task](ctx context.Context, w *Worker, q Queue[T]) (claimed bool, err error) {
	cfg, name := w.cfg, w.binding.name
	// Shutdown is honored between iterations only.
	ctx = context.WithoutCancel(ctx)

	w.setStatus(WorkerIdle)

	tx, ok, err := beginIteration(ctx, cfg)
	if err != nil {
		return false, fmt.Errorf("begin transaction: %w", err)
	}
	if !ok {
		cfg.Metrics.lockContended(name)
		return false, nil
	}
	finished := false
	defer func() {
		if !finished {
			_ = tx.Rollback()
		}
	}()

	sel := q.ExcludeExhausted(q.PendingSet())
	task, found, err := claimFirst(ctx, tx, cfg, sel)
	if err != nil {
		return false, fmt.Errorf("claim task from %s: %w", sel.Table(), err)
	}
	if !found {
		finished = true
		if err := tx.Commit(); err != nil {
			return false, fmt.Errorf("commit empty poll: %w", err)
		}
		cfg.Metrics.idlePoll(name)
		return false, nil
	}

	id := task.TaskID()
	ctx = WithDefaultTaskID(ctx, id)
	w.setStatus(WorkerBusy)
	cfg.Metrics.taskClaimed(name)
	settled := false
	defer func() {
		if !settled {
			cfg.Metrics.taskAborted(name)
		}
	}()
	cfg.logInfo(LogEvent{
		Message:  fmt.Sprintf("New task found id=%d", id),
		WorkerID: w.id,
		Queue:    name,
		TaskID:   &id,
	})

	if err := savepoint(ctx, tx); err != nil {
		return true, err
	}

	start := time.Now()
	herr := Convert(ctx, cfg.ReasonCode, func(ctx context.Context) error {
		if cfg.HandleTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, cfg.HandleTimeout)
			defer cancel()
		}
		return q.Handle(ctx, tx, task)
	}, Matching(cfg.Match...))
	elapsed := time.Since(start)

	if herr == nil {
		if err := releaseSavepoint(ctx, tx); err != nil {
			return true, err
		}
		finished = true
		if err := tx.Commit(); err != nil {
			return true, fmt.Errorf("commit task %d: %w", id, err)
		}
		settled = true
		cfg.Metrics.taskDone(name, elapsed, nil)
		cfg.logInfo(LogEvent{
			Message:  fmt.Sprintf("Processed successfully task id=%d", id),
			WorkerID: w.id,
			Queue:    name,
			TaskID:   &id,
			Duration: &elapsed,
		})
		w.setStatus(WorkerIdle)
		return true, nil
	}

	te, ok := AsTaskError(herr)
	if !ok {
		return true, fmt.Errorf("task %d: %w", id, herr)
	}

	// Undo whatever the failed handler wrote before counting the failure.
	if err := rollbackToSavepoint(ctx, tx); err != nil {
		return true, err
	}
	if err := q.RecordFailure(ctx, tx, task, te); err != nil {
		return true, fmt.Errorf("record failure of task %d: %w", id, err)
	}
	finished = true
	if err := tx.Commit(); err != nil {
		return true, fmt.Errorf("commit failure of task %d: %w", id, err)
	}
	settled = true
	cfg.Metrics.taskDone(name, elapsed, te)
	cfg.logError(LogEvent{
		Message:  fmt.Sprintf("Failed task id=%d", id),
		WorkerID: w.id,
		Queue:    name,
		TaskID:   &id,
		Duration: &elapsed,
		Err:      herr,
	})
	w.setStatus(WorkerIdle)
	return true, nil
}
