package taskworker

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

// Binding is a Queue with its type parameter erased, ready to be driven by
// workers and stored in a Registry.
type Binding struct {
	name    string
	iterate func(ctx context.Context, w *Worker) (bool, error)
}

// Bind wraps q under name.
func Bind[T Task](name string, q Queue[T]) Binding {
	return Binding{
		name: name,
		iterate: func(ctx context.Context, w *Worker) (bool, error) {
			return processOne(ctx, w, q)
		},
	}
}

// Name returns the name the queue was bound under.
func (b Binding) Name() string { return b.name }

// Factory builds a Binding on demand, so that queues are only constructed
// for the identifier actually selected.
type Factory func() (Binding, error)

// Registry maps queue identifiers to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register associates name with f.
func (r *Registry) Register(name string, f Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateQueue, name)
	}
	r.factories[name] = f
	return nil
}

// Lookup builds the Binding registered under name.
func (r *Registry) Lookup(name string) (Binding, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return Binding{}, fmt.Errorf("%w: %s", ErrUnknownQueue, name)
	}
	b, err := f()
	if err != nil {
		return Binding{}, fmt.Errorf("build queue %s: %w", name, err)
	}
	return b, nil
}

// Names lists registered identifiers in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for n := range r.factories {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}
