// Package event publishes order lifecycle events to downstream consumers.
package event

import (
	"context"
	"time"

	"github.com/efreitasn/granola/internal/domain"
)

// Event types.
const (
	TypeOrderCreated = "order.created"
	TypeOrderDeleted = "order.deleted"
)

// Event is one change to the order table. Order is set for creations only.
type Event struct {
	Type       string        `json:"type"`
	OrderID    string        `json:"order_id"`
	Order      *domain.Order `json:"order,omitempty"`
	OccurredAt time.Time     `json:"occurred_at"`
}

// Publisher hands events to a transport.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
func (NopPublisher) Close() error                         { return nil }
