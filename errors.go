package taskworker

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrTaskIDUnknown is a configuration error: a TaskError was built
	// without an explicit task id outside of any WithDefaultTaskID scope.
	ErrTaskIDUnknown = errors.New("can't guess task id: it was not given explicitly and the context carries none")

	ErrNoDB            = errors.New("taskworker: config has no DB")
	ErrNoDialect       = errors.New("taskworker: config has no Dialect")
	ErrBadPollInterval = errors.New("taskworker: poll interval must be positive")
	ErrUnknownQueue    = errors.New("taskworker: unknown queue")
	ErrDuplicateQueue  = errors.New("taskworker: queue already registered")
	ErrAlreadyStarted  = errors.New("taskworker: workers already started")
	ErrShutdownTimeout = errors.New("taskworker: shutdown timed out")
)

// TaskError is a failure attributed to one task. Workers hand it to
// Queue.RecordFailure and keep polling; any other error stops the worker.
type TaskError struct {
	TaskID      int64
	ReasonCode  string
	Description string

	cause error
}

// NewTaskError builds a TaskError. The task id comes from WithTaskID when
// given, otherwise from the id bound to ctx by WithDefaultTaskID. When
// neither is available it returns ErrTaskIDUnknown.
func NewTaskError(ctx context.Context, reasonCode string, opts ...Option) (*TaskError, error) {
	return newTaskError(ctx, reasonCode, collect(opts))
}

func newTaskError(ctx context.Context, reasonCode string, o options) (*TaskError, error) {
	id, ok := o.taskID, o.hasTaskID
	if !ok {
		id, ok = DefaultTaskID(ctx)
	}
	if !ok {
		return nil, ErrTaskIDUnknown
	}
	return &TaskError{
		TaskID:      id,
		ReasonCode:  reasonCode,
		Description: o.description,
		cause:       o.cause,
	}, nil
}

// Fail returns a TaskError for the task bound to ctx. Handlers use it to
// report an expected failure with their own reason code.
func Fail(ctx context.Context, reasonCode, description string) error {
	te, err := NewTaskError(ctx, reasonCode, WithDescription(description))
	if err != nil {
		return err
	}
	return te
}

func (e *TaskError) Error() string {
	desc := e.Description
	if desc == "" {
		desc = "empty"
	}
	return fmt.Sprintf("Error on task %d processing with reason_code=%s and description: %s",
		e.TaskID, reprQuote(e.ReasonCode), desc)
}

func (e *TaskError) Unwrap() error { return e.cause }

// AsTaskError finds the first TaskError in err's chain.
func AsTaskError(err error) (*TaskError, bool) {
	var te *TaskError
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}

// Option configures NewTaskError and Convert.
type Option func(*options)

type options struct {
	taskID      int64
	hasTaskID   bool
	description string
	cause       error
	matchers    []Matcher
}

func collect(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithTaskID sets the task id explicitly, overriding the context.
func WithTaskID(id int64) Option {
	return func(o *options) {
		o.taskID = id
		o.hasTaskID = true
	}
}

// WithDescription sets the human readable description.
func WithDescription(d string) Option {
	return func(o *options) { o.description = d }
}

// WithCause sets the error returned by Unwrap.
func WithCause(err error) Option {
	return func(o *options) { o.cause = err }
}

// Matching limits Convert to errors accepted by at least one matcher.
// Without it Convert matches everything.
func Matching(ms ...Matcher) Option {
	return func(o *options) { o.matchers = append(o.matchers, ms...) }
}

// reprQuote quotes s the way existing log tooling expects reason codes to
// look: single quotes unless s contains a single quote and no double quote.
func reprQuote(s string) string {
	q := '\''
	if strings.ContainsRune(s, '\'') && !strings.ContainsRune(s, '"') {
		q = '"'
	}

	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteRune(q)
	for _, r := range s {
		switch {
		case r == '\\':
			b.WriteString(`\\`)
		case r == q:
			b.WriteRune('\\')
			b.WriteRune(r)
		case r == '\n':
			b.WriteString(`\n`)
		case r == '\r':
			b.WriteString(`\r`)
		case r == '\t':
			b.WriteString(`\t`)
		case r < 0x20 || r == 0x7f:
			fmt.Fprintf(&b, `\x%02x`, r)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteRune(q)
	return b.String()
}
