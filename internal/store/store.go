// Package store defines storage interfaces for persisting and retrieving
// orders, fills, circuit-breaker events, and historical volume curves.
package store

import (
	"context"
	"time"

	"tradewind/internal/domain"
)

// OrderStore persists and retrieves order records.
type OrderStore interface {
	// SaveOrder inserts a new order into storage.
	SaveOrder(ctx context.Context, order *domain.Order) error

	// GetOrder retrieves a single order by its ID.
	GetOrder(ctx context.Context, id string) (*domain.Order, error)

	// ListOrders returns all orders matching the given status. An empty
	// status matches everything.
	ListOrders(ctx context.Context, status domain.OrderStatus) ([]domain.Order, error)

	// UpdateOrder persists changes to an existing order.
	UpdateOrder(ctx context.Context, order *domain.Order) error
}

// FillStore persists and retrieves execution fills.
type FillStore interface {
	// SaveFill appends a fill record.
	SaveFill(ctx context.Context, fill *domain.Fill) error

	// ListFills returns all fills for an order, oldest first.
	ListFills(ctx context.Context, orderID string) ([]domain.Fill, error)
}

// BreakerEvent is a durable record of one circuit-breaker state change.
type BreakerEvent struct {
	FromState string
	ToState   string
	Reason    string
	At        time.Time
}

// BreakerEventStore persists circuit-breaker state changes.
type BreakerEventStore interface {
	// SaveBreakerEvent appends a breaker state change.
	SaveBreakerEvent(ctx context.Context, evt BreakerEvent) error

	// ListBreakerEvents returns the most recent events, newest first, up to
	// limit.
	ListBreakerEvents(ctx context.Context, limit int) ([]BreakerEvent, error)
}

// VolumePoint is one observation of traded volume within an intraday bucket.
type VolumePoint struct {
	Timestamp time.Time
	Volume    float64
}

// VolumeStore persists and retrieves intraday volume curves used to build
// execution volume profiles.
type VolumeStore interface {
	// WriteCurve persists the volume curve observed for a symbol on a day.
	WriteCurve(ctx context.Context, symbol string, day time.Time, points []VolumePoint) error

	// ReadCurve returns the volume curve for a symbol on a day, oldest first.
	ReadCurve(ctx context.Context, symbol string, day time.Time) ([]VolumePoint, error)
}
