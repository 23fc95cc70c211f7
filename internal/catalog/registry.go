package catalog

import (
	"context"
	"errors"
)

var ErrUnknownCollection = errors.New("unknown collection")

// Handle is the type-erased view of a Collection used by the HTTP layer.
type Handle interface {
	Name() string
	List(ctx context.Context) any
	Find(ctx context.Context, key string) (any, bool)
	Invalidate() int
	InvalidateItem(key string) int
	Warm(ctx context.Context) int
}

func (c *Collection[T]) List(ctx context.Context) any {
	return c.ListAll(ctx)
}

func (c *Collection[T]) Find(ctx context.Context, key string) (any, bool) {
	item, ok := c.GetByKey(ctx, key)
	if !ok {
		return nil, false
	}
	return item, true
}

// Warm loads the list into the cache and returns the number of visible
// records.
func (c *Collection[T]) Warm(ctx context.Context) int {
	return len(c.ListAll(ctx))
}

// Registry indexes collections by name.
type Registry struct {
	byName map[string]Handle
	names  []string
}

func NewRegistry(handles ...Handle) *Registry {
	r := &Registry{byName: make(map[string]Handle, len(handles))}
	for _, h := range handles {
		if _, dup := r.byName[h.Name()]; dup {
			continue
		}
		r.byName[h.Name()] = h
		r.names = append(r.names, h.Name())
	}
	return r
}

func (r *Registry) Get(name string) (Handle, error) {
	h, ok := r.byName[name]
	if !ok {
		return nil, ErrUnknownCollection
	}
	return h, nil
}

// All returns the collections in registration order.
func (r *Registry) All() []Handle {
	out := make([]Handle, 0, len(r.names))
	for _, name := range r.names {
		out = append(out, r.byName[name])
	}
	return out
}
