// Package pebblestore is the default durable order table, kept in an
// embedded Pebble LSM under a single directory.
package pebblestore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cockroachdb/pebble"
	"github.com/efreitasn/granola/internal/domain"
)

// Rows live under orderPrefix+id. orderUpperBound is the first key past
// the prefix ('0' follows '/').
const (
	orderPrefix     = "order/"
	orderUpperBound = "order0"
	schemaKey       = "meta/schema"
	schemaVersion   = "orders/v1"
)

// Store is a store.Store backed by Pebble. It is not safe for concurrent
// use on its own; share it through store.Guarded.
type Store struct {
	db     *pebble.DB
	logger *slog.Logger
}

// Open opens or creates the Pebble directory at dir.
func Open(dir string, logger *slog.Logger) (*Store, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, &domain.StorageError{Op: "open", Err: err}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}, nil
}

// Init stamps a fresh directory with the schema version, or checks the
// stamp on an existing one.
func (s *Store) Init(context.Context) error {
	val, closer, err := s.db.Get([]byte(schemaKey))
	if errors.Is(err, pebble.ErrNotFound) {
		if err := s.db.Set([]byte(schemaKey), []byte(schemaVersion), pebble.Sync); err != nil {
			return &domain.StorageError{Op: "init", Err: err}
		}
		return nil
	}
	if err != nil {
		return &domain.StorageError{Op: "init", Err: err}
	}
	got := string(val)
	_ = closer.Close()

	if got != schemaVersion {
		return &domain.StorageError{Op: "init", Err: fmt.Errorf("unsupported schema %q, want %q", got, schemaVersion)}
	}
	return nil
}

func (s *Store) Insert(_ context.Context, o domain.Order) error {
	key := orderKey(o.ID)

	_, closer, err := s.db.Get(key)
	if err == nil {
		_ = closer.Close()
		return &domain.StorageError{Op: "insert", Err: domain.ErrDuplicateID}
	}
	if !errors.Is(err, pebble.ErrNotFound) {
		return &domain.StorageError{Op: "insert", Err: err}
	}

	val, err := encodeRow(o)
	if err != nil {
		return &domain.StorageError{Op: "insert", Err: err}
	}
	if err := s.db.Set(key, val, pebble.Sync); err != nil {
		return &domain.StorageError{Op: "insert", Err: err}
	}
	return nil
}

func (s *Store) List(context.Context) ([]domain.Order, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(orderPrefix),
		UpperBound: []byte(orderUpperBound),
	})
	if err != nil {
		return nil, &domain.StorageError{Op: "list", Err: err}
	}
	defer iter.Close()

	orders := make([]domain.Order, 0)
	for iter.First(); iter.Valid(); iter.Next() {
		o, err := decodeRow(iter.Value())
		if err != nil {
			s.logger.Warn("skipping undecodable order row",
				slog.String("key", string(iter.Key())),
				slog.String("error", err.Error()),
			)
			continue
		}
		orders = append(orders, o)
	}
	if err := iter.Error(); err != nil {
		return nil, &domain.StorageError{Op: "list", Err: err}
	}
	return orders, nil
}

func (s *Store) Delete(_ context.Context, id string) (bool, error) {
	key := orderKey(id)

	_, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, &domain.StorageError{Op: "delete", Err: err}
	}
	_ = closer.Close()

	if err := s.db.Delete(key, pebble.Sync); err != nil {
		return false, &domain.StorageError{Op: "delete", Err: err}
	}
	return true, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func orderKey(id string) []byte {
	return []byte(orderPrefix + id)
}
