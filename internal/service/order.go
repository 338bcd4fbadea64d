package service

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/efreitasn/granola/internal/domain"
	"github.com/efreitasn/granola/internal/event"
	"github.com/efreitasn/granola/internal/store"
)

// Seed amounts are drawn uniformly from [seedAmountMin, seedAmountMax)
// whatever the currency pair.
const (
	seedAmountMin = 1.0
	seedAmountMax = 100.0
)

// OrderService creates, lists and deletes orders on the shared store and
// announces the changes.
type OrderService struct {
	store     store.Store
	publisher event.Publisher
	logger    *slog.Logger
	newID     func() (string, error)
	now       func() time.Time
}

// NewOrderService creates a new OrderService. A nil publisher disables
// event publication.
func NewOrderService(s store.Store, publisher event.Publisher, logger *slog.Logger) *OrderService {
	if publisher == nil {
		publisher = event.NopPublisher{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OrderService{
		store:     s,
		publisher: publisher,
		logger:    logger,
		newID:     domain.NewOrderID,
		now:       time.Now,
	}
}

// List returns every order in the store.
func (s *OrderService) List(ctx context.Context) ([]domain.Order, error) {
	return s.store.List(ctx)
}

// Create assigns a fresh id to req and stores the resulting order.
func (s *OrderService) Create(ctx context.Context, req domain.OrderRequest) (domain.Order, error) {
	id, err := s.newID()
	if err != nil {
		return domain.Order{}, err
	}
	order := req.WithID(id)

	if err := s.store.Insert(ctx, order); err != nil {
		return domain.Order{}, err
	}

	s.publish(ctx, event.Event{
		Type:       event.TypeOrderCreated,
		OrderID:    order.ID,
		Order:      &order,
		OccurredAt: s.now(),
	})
	return order, nil
}

// Delete removes the order with the given id and reports whether it
// existed.
func (s *OrderService) Delete(ctx context.Context, id string) (bool, error) {
	removed, err := s.store.Delete(ctx, id)
	if err != nil || !removed {
		return removed, err
	}

	s.publish(ctx, event.Event{
		Type:       event.TypeOrderDeleted,
		OrderID:    id,
		OccurredAt: s.now(),
	})
	return true, nil
}

// Seed fills an empty store with count random orders and returns how many
// were inserted. A store that already holds orders is left untouched.
func (s *OrderService) Seed(ctx context.Context, count int, rng *rand.Rand) (int, error) {
	if count <= 0 {
		return 0, nil
	}
	existing, err := s.store.List(ctx)
	if err != nil {
		return 0, err
	}
	if len(existing) > 0 {
		return 0, nil
	}

	kinds := domain.Kinds()
	currencies := domain.Currencies()
	for i := 0; i < count; i++ {
		req := domain.OrderRequest{
			Kind:             kinds[rng.IntN(len(kinds))],
			MakeAmount:       randomAmount(rng),
			MakeDenomination: currencies[rng.IntN(len(currencies))],
			TakeAmount:       randomAmount(rng),
			TakeDenomination: currencies[rng.IntN(len(currencies))],
		}
		id, err := s.newID()
		if err != nil {
			return i, err
		}
		if err := s.store.Insert(ctx, req.WithID(id)); err != nil {
			return i, err
		}
	}
	return count, nil
}

func randomAmount(rng *rand.Rand) float32 {
	return float32(seedAmountMin + rng.Float64()*(seedAmountMax-seedAmountMin))
}

func (s *OrderService) publish(ctx context.Context, ev event.Event) {
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.logger.Warn("failed to publish order event",
			slog.String("type", ev.Type),
			slog.String("order_id", ev.OrderID),
			slog.String("error", err.Error()),
		)
	}
}
