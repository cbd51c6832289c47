package taskworker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
)

// Matcher decides whether Convert should turn an error into a TaskError.
type Matcher func(err error) bool

// MatchAll matches every error, panics included.
func MatchAll() Matcher {
	return func(error) bool { return true }
}

// MatchIs matches errors that wrap target.
func MatchIs(target error) Matcher {
	return func(err error) bool { return errors.Is(err, target) }
}

// MatchAs matches errors whose chain contains an E.
func MatchAs[E error]() Matcher {
	return func(err error) bool {
		var target E
		return errors.As(err, &target)
	}
}

// MatchPanics matches panics recovered by Convert.
func MatchPanics() Matcher {
	return MatchAs[*PanicError]()
}

// PanicError carries a panic recovered inside a conversion scope.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string { return fmt.Sprintf("panic: %v", e.Value) }

func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// Convert runs fn as a conversion scope. An error returned by fn, or a
// panic raised inside it, that matches one of the Matching matchers is
// replaced by a TaskError with the given reason code whose Unwrap returns
// the original. Errors that match nothing come back unchanged and panics
// that match nothing keep unwinding. With no matchers everything matches.
//
// A TaskError returned by fn is passed through as is, without consulting
// the matchers. The task id follows the NewTaskError rules; if it cannot be
// resolved Convert returns an error wrapping ErrTaskIDUnknown instead.
func Convert(ctx context.Context, reasonCode string, fn func(context.Context) error, opts ...Option) (err error) {
	o := collect(opts)
	matchers := o.matchers
	if len(matchers) == 0 {
		matchers = []Matcher{MatchAll()}
	}

	defer func() {
		r := recover()
		if r == nil {
			return
		}
		perr := &PanicError{Value: r, Stack: debug.Stack()}
		if !matchAny(matchers, perr) {
			panic(r)
		}
		err = convertMatched(ctx, reasonCode, o, perr)
	}()

	err = fn(ctx)
	if err == nil {
		return nil
	}
	if _, ok := AsTaskError(err); ok {
		return err
	}
	if !matchAny(matchers, err) {
		return err
	}
	return convertMatched(ctx, reasonCode, o, err)
}

func convertMatched(ctx context.Context, reasonCode string, o options, cause error) error {
	o.cause = cause
	te, err := newTaskError(ctx, reasonCode, o)
	if err != nil {
		return fmt.Errorf("%w; while converting: %v", err, cause)
	}
	return te
}

func matchAny(ms []Matcher, err error) bool {
	for _, m := range ms {
		if m != nil && m(err) {
			return true
		}
	}
	return false
}
