// Package store holds the order table: the Store contract shared by every
// backend, an in-memory backend, and the Guarded handle that serializes
// access from concurrent connection workers.
package store

import (
	"context"
	"sync"

	"github.com/efreitasn/granola/internal/domain"
)

// Store is a table of orders keyed by id. Implementations are not required
// to be safe for concurrent use; wrap them in a Guarded.
type Store interface {
	// Init creates the backing table if needed. Calling it on an existing
	// table is a no-op.
	Init(ctx context.Context) error
	// Insert adds o. It fails with domain.ErrDuplicateID if o.ID is present.
	Insert(ctx context.Context, o domain.Order) error
	// List returns every decodable row in store order. Rows that fail to
	// decode are skipped.
	List(ctx context.Context) ([]domain.Order, error)
	// Delete removes the order with the given id and reports whether a
	// row was removed.
	Delete(ctx context.Context, id string) (bool, error)
	Close() error
}

// Guarded is the single store handle shared by all connection workers.
// Each call holds the lock for exactly its own duration.
type Guarded struct {
	mu    sync.Mutex
	inner Store
}

// NewGuarded wraps s so that calls against it are mutually exclusive.
func NewGuarded(s Store) *Guarded {
	return &Guarded{inner: s}
}

func (g *Guarded) Init(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inner.Init(ctx)
}

func (g *Guarded) Insert(ctx context.Context, o domain.Order) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inner.Insert(ctx, o)
}

func (g *Guarded) List(ctx context.Context) ([]domain.Order, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inner.List(ctx)
}

func (g *Guarded) Delete(ctx context.Context, id string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inner.Delete(ctx, id)
}

func (g *Guarded) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inner.Close()
}
