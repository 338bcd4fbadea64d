// Package postgres stores orders in a relational "orders" table.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/efreitasn/granola/internal/domain"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS orders (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	make_amount REAL NOT NULL,
	make_denomination TEXT NOT NULL,
	take_amount REAL NOT NULL,
	take_denomination TEXT NOT NULL
)`

type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// Open connects to dsn and checks the connection.
func Open(ctx context.Context, dsn string, logger *slog.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, &domain.StorageError{Op: "open", Err: err}
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, &domain.StorageError{Op: "open", Err: err}
	}
	return New(pool, logger), nil
}

// New wraps an existing pool.
func New(pool *pgxpool.Pool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger}
}

func (s *Store) Init(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return &domain.StorageError{Op: "init", Err: err}
	}
	return nil
}

func (s *Store) Insert(ctx context.Context, o domain.Order) error {
	const stmt = `
INSERT INTO orders (id, kind, make_amount, make_denomination, take_amount, take_denomination)
VALUES ($1, $2, $3, $4, $5, $6)`

	kind, err := o.Kind.MarshalText()
	if err != nil {
		return &domain.StorageError{Op: "insert", Err: err}
	}
	makeDen, err := o.MakeDenomination.MarshalText()
	if err != nil {
		return &domain.StorageError{Op: "insert", Err: err}
	}
	takeDen, err := o.TakeDenomination.MarshalText()
	if err != nil {
		return &domain.StorageError{Op: "insert", Err: err}
	}

	_, err = s.pool.Exec(ctx, stmt,
		o.ID, string(kind), o.MakeAmount, string(makeDen), o.TakeAmount, string(takeDen))
	if err != nil {
		if isUniqueViolation(err) {
			return &domain.StorageError{Op: "insert", Err: domain.ErrDuplicateID}
		}
		return &domain.StorageError{Op: "insert", Err: err}
	}
	return nil
}

func (s *Store) List(ctx context.Context) ([]domain.Order, error) {
	const query = `
SELECT id, kind, make_amount, make_denomination, take_amount, take_denomination
FROM orders`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, &domain.StorageError{Op: "list", Err: err}
	}
	defer rows.Close()

	orders := make([]domain.Order, 0)
	for rows.Next() {
		var (
			id, kind, makeDen, takeDen string
			makeAmount, takeAmount     float32
		)
		if err := rows.Scan(&id, &kind, &makeAmount, &makeDen, &takeAmount, &takeDen); err != nil {
			s.logger.Warn("skipping unreadable order row", slog.String("error", err.Error()))
			continue
		}
		o, err := decodeRow(id, kind, makeAmount, makeDen, takeAmount, takeDen)
		if err != nil {
			s.logger.Warn("skipping undecodable order row",
				slog.String("id", id),
				slog.String("error", err.Error()),
			)
			continue
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.StorageError{Op: "list", Err: err}
	}
	return orders, nil
}

func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM orders WHERE id = $1`, id)
	if err != nil {
		return false, &domain.StorageError{Op: "delete", Err: err}
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func decodeRow(id, kind string, makeAmount float32, makeDen string, takeAmount float32, takeDen string) (domain.Order, error) {
	k, err := domain.ParseKind(kind)
	if err != nil {
		return domain.Order{}, fmt.Errorf("kind: %w", err)
	}
	md, err := domain.ParseCurrency(makeDen)
	if err != nil {
		return domain.Order{}, fmt.Errorf("make_denomination: %w", err)
	}
	td, err := domain.ParseCurrency(takeDen)
	if err != nil {
		return domain.Order{}, fmt.Errorf("take_denomination: %w", err)
	}
	return domain.Order{
		ID:               id,
		Kind:             k,
		MakeAmount:       makeAmount,
		MakeDenomination: md,
		TakeAmount:       takeAmount,
		TakeDenomination: td,
	}, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
