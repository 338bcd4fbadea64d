package store

import (
	"context"

	"github.com/efreitasn/granola/internal/domain"
	"github.com/google/btree"
)

// MemoryStore keeps orders in a B-tree ordered by id. Contents do not
// survive a restart.
type MemoryStore struct {
	orders *btree.BTreeG[domain.Order]
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	const degree = 32
	return &MemoryStore{
		orders: btree.NewG[domain.Order](degree, byID),
	}
}

func byID(a, b domain.Order) bool {
	return a.ID < b.ID
}

func (s *MemoryStore) Init(context.Context) error {
	return nil
}

func (s *MemoryStore) Insert(_ context.Context, o domain.Order) error {
	if s.orders.Has(o) {
		return &domain.StorageError{Op: "insert", Err: domain.ErrDuplicateID}
	}
	s.orders.ReplaceOrInsert(o)
	return nil
}

func (s *MemoryStore) List(context.Context) ([]domain.Order, error) {
	out := make([]domain.Order, 0, s.orders.Len())
	s.orders.Ascend(func(o domain.Order) bool {
		out = append(out, o)
		return true
	})
	return out, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) (bool, error) {
	_, found := s.orders.Delete(domain.Order{ID: id})
	return found, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
