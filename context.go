package taskworker

import "context"

type taskIDKey struct{}

// WithDefaultTaskID returns a context in which TaskErrors built without an
// explicit id are attributed to id. The binding ends with the returned
// context; the parent is never modified.
func WithDefaultTaskID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, taskIDKey{}, id)
}

// DefaultTaskID returns the task id bound to ctx, if any.
func DefaultTaskID(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(taskIDKey{}).(int64)
	return id, ok
}
