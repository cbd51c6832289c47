package taskworker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Manager runs several independent workers for one queue inside a single
// process. The workers share nothing but the database.
type Manager struct {
	cfg     *Config
	binding Binding

	mu      sync.Mutex
	cancel  context.CancelFunc
	workers []*Worker
	done    chan struct{}
	err     error
}

// NewManager validates cfg for use with b.
func NewManager(cfg Config, b Binding) (*Manager, error) {
	c, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}
	return &Manager{cfg: c, binding: b}, nil
}

// Start spawns count workers and returns immediately. When one worker fails
// fatally the others are stopped at their next iteration boundary; Wait
// reports the error.
func (m *Manager) Start(ctx context.Context, count int) error {
	if count < 1 {
		return fmt.Errorf("taskworker: worker count must be positive, got %d", count)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.done != nil {
		return ErrAlreadyStarted
	}

	runCtx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(runCtx)

	m.cfg.logInfo(LogEvent{
		Message: fmt.Sprintf("Starting %d workers...", count),
		Queue:   m.binding.name,
	})

	m.workers = make([]*Worker, count)
	for i := range m.workers {
		w := newWorker(m.cfg, m.binding)
		m.workers[i] = w
		g.Go(func() error { return w.Run(gctx) })
	}

	m.cancel = cancel
	m.done = make(chan struct{})
	go func() {
		err := g.Wait()
		cancel()
		m.mu.Lock()
		m.err = err
		m.mu.Unlock()
		close(m.done)
	}()
	return nil
}

// Workers returns the running workers.
func (m *Manager) Workers() []*Worker {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Worker(nil), m.workers...)
}

// Done is closed once every worker has exited. It is nil before Start.
func (m *Manager) Done() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.done
}

// Wait blocks until every worker has exited and returns the first fatal
// error, if any.
func (m *Manager) Wait() error {
	done := m.Done()
	if done == nil {
		return nil
	}
	<-done
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// Shutdown asks all workers to stop and waits up to timeout for them to
// finish their current iteration.
func (m *Manager) Shutdown(timeout time.Duration) error {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.mu.Unlock()

	if done == nil {
		m.cfg.logInfo(LogEvent{Message: "No workers to shut down (did you call Start?)."})
		return nil
	}

	m.cfg.logInfo(LogEvent{Message: "Shutdown requested. Stopping workers...", Queue: m.binding.name})
	cancel()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		m.cfg.logInfo(LogEvent{Message: "All workers exited cleanly.", Queue: m.binding.name})
		return m.Wait()
	case <-timer.C:
		m.cfg.logError(LogEvent{
			Message: fmt.Sprintf("Shutdown timed out after %v. Some workers may still be running.", timeout),
			Queue:   m.binding.name,
		})
		return ErrShutdownTimeout
	}
}
