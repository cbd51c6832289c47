package taskworker

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/sky93/taskworker/dialect"
)

const (
	// DefaultPollInterval is how long an idle worker sleeps before polling again.
	DefaultPollInterval = 5 * time.Second

	// DefaultReasonCode is attached to errors converted by the worker's
	// catch-all conversion scope.
	DefaultReasonCode = "unhandled_exception"
)

// LogEvent captures information about a logging event.
type LogEvent struct {
	// A human-readable message about the event.
	Message string

	// The ID of the worker that triggered the log (if any).
	WorkerID string

	// The queue the worker serves, if any.
	Queue string

	// The task ID, if available.
	TaskID *int64

	// Any error associated with the event.
	Err error

	// How long the task took, if relevant.
	Duration *time.Duration
}

// Config holds the settings and resources needed by the workers.
type Config struct {
	// DB is the user-provided database connection where the task tables live.
	DB *sql.DB

	// Dialect matches the driver behind DB.
	Dialect dialect.Dialect

	// PollInterval is how long a worker sleeps when no task can be claimed.
	// Zero means DefaultPollInterval.
	PollInterval time.Duration

	// HandleTimeout bounds Queue.Handle through its context. Zero means no limit.
	HandleTimeout time.Duration

	// ReasonCode is used for errors converted into TaskErrors by the worker.
	// Empty means DefaultReasonCode.
	ReasonCode string

	// Match restricts which handler errors are converted into TaskErrors.
	// Empty means all of them. Unmatched errors stop the worker.
	Match []Matcher

	// Metrics is optional.
	Metrics *Metrics

	// Logger backs the default log functions. Nil means slog.Default().
	Logger *slog.Logger

	// InfoLog is called for informational or success logs.
	InfoLog func(ev LogEvent)

	// ErrorLog is called for task failures and fatal errors.
	ErrorLog func(ev LogEvent)

	// DebugLog is called for idle polling chatter.
	DebugLog func(ev LogEvent)
}

// withDefaults validates c and returns a copy with defaults filled in.
func (c Config) withDefaults() (*Config, error) {
	if c.DB == nil {
		return nil, ErrNoDB
	}
	if c.Dialect == nil {
		return nil, ErrNoDialect
	}
	if c.PollInterval < 0 {
		return nil, ErrBadPollInterval
	}
	if c.PollInterval == 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.ReasonCode == "" {
		c.ReasonCode = DefaultReasonCode
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return &c, nil
}
