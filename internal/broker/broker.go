// Package broker defines the Broker capability interface and provides
// implementations for executing orders and managing accounts across
// different brokerages.
package broker

import (
	"context"
	"errors"

	"tradewind/internal/domain"
)

// Sentinel errors shared by broker implementations. Callers check them with
// errors.Is.
var (
	ErrNotConnected      = errors.New("broker: not connected")
	ErrOrderNotFound     = errors.New("broker: order not found")
	ErrInsufficientFunds = errors.New("broker: insufficient funds")
	ErrNoPrice           = errors.New("broker: no price available")
)

// Broker abstracts brokerage operations for order execution and account
// management. All calls may fail with a transport or authorization error;
// callers treat nil/false returns as failure, not absence.
type Broker interface {
	// Name returns the broker identifier (e.g. "alpaca", "simulator").
	Name() string

	// Connect establishes (or verifies) the session with the brokerage.
	Connect(ctx context.Context) error

	// Disconnect tears the session down. The broker becomes unusable until
	// the next Connect.
	Disconnect(ctx context.Context) error

	// IsConnected reports whether the broker is usable.
	IsConnected() bool

	// GetAccount returns a snapshot of the account's financial metrics.
	GetAccount(ctx context.Context) (*domain.AccountInfo, error)

	// GetPositions returns all current positions held at the brokerage.
	GetPositions(ctx context.Context) ([]domain.Position, error)

	// SubmitOrder sends an order to the brokerage for execution and returns
	// the broker's view of it, including the broker-assigned order ID and
	// any fill information already known.
	SubmitOrder(ctx context.Context, order *domain.Order) (*domain.Order, error)

	// CancelOrder requests cancellation of an open order by its broker ID.
	CancelOrder(ctx context.Context, brokerOrderID string) error

	// GetOrder returns the broker's view of one order by its broker ID.
	GetOrder(ctx context.Context, brokerOrderID string) (*domain.Order, error)

	// GetOrders lists orders, optionally filtered by status, newest first,
	// up to limit.
	GetOrders(ctx context.Context, status domain.OrderStatus, limit int) ([]domain.Order, error)

	// GetMarketStatus reports the current trading session.
	GetMarketStatus(ctx context.Context) (domain.MarketStatus, error)
}
