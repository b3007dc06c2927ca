// Package domain defines the core types shared across the trading engine:
// orders, fills, positions, and account snapshots.
package domain

import "time"

// Market identifies a trading venue region.
type Market string

const (
	MarketUS Market = "us"
	MarketCN Market = "cn"
)

// OrderSide is the direction of an order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderType is the execution style of an order.
type OrderType string

const (
	OrderTypeMarket       OrderType = "market"
	OrderTypeLimit        OrderType = "limit"
	OrderTypeStop         OrderType = "stop"
	OrderTypeStopLimit    OrderType = "stop_limit"
	OrderTypeTrailingStop OrderType = "trailing_stop"
)

// TimeInForce controls how long an order stays working.
type TimeInForce string

const (
	TimeInForceDay TimeInForce = "day"
	TimeInForceGTC TimeInForce = "gtc"
	TimeInForceIOC TimeInForce = "ioc"
	TimeInForceFOK TimeInForce = "fok"
)

// OrderStatus is the lifecycle state of an order. Transitions are owned by
// the engine's order manager; nothing else mutates status.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusSubmitted OrderStatus = "submitted"
	OrderStatusAccepted  OrderStatus = "accepted"
	OrderStatusPartial   OrderStatus = "partial"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusRejected  OrderStatus = "rejected"
	OrderStatusExpired   OrderStatus = "expired"
)

// MarketStatus is the current trading session of a market.
type MarketStatus string

const (
	MarketStatusPreMarket  MarketStatus = "pre_market"
	MarketStatusOpen       MarketStatus = "open"
	MarketStatusAfterHours MarketStatus = "after_hours"
	MarketStatusClosed     MarketStatus = "closed"
)

// PositionSide is the direction of a held position.
type PositionSide string

const (
	PositionSideLong  PositionSide = "long"
	PositionSideShort PositionSide = "short"
)

// Order is a single unit of trading intent. Orders are never deleted, only
// moved to a terminal status.
type Order struct {
	ID             string
	Symbol         string
	Side           OrderSide
	Type           OrderType
	Qty            float64
	LimitPrice     float64 // required for limit and stop_limit orders
	StopPrice      float64 // required for stop and stop_limit orders
	TimeInForce    TimeInForce
	Status         OrderStatus
	FilledQty      float64
	FilledAvgPrice float64
	BrokerOrderID  string
	ParentOrderID  string // set on child slices spawned by an execution plan
	Metadata       map[string]string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// IsActive reports whether the order can still trade or be cancelled.
func (o *Order) IsActive() bool {
	switch o.Status {
	case OrderStatusPending, OrderStatusSubmitted, OrderStatusAccepted, OrderStatusPartial:
		return true
	}
	return false
}

// IsTerminal reports whether the order has reached a final state.
func (o *Order) IsTerminal() bool {
	switch o.Status {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected, OrderStatusExpired:
		return true
	}
	return false
}

// RemainingQty returns the unfilled portion of the order.
func (o *Order) RemainingQty() float64 {
	rem := o.Qty - o.FilledQty
	if rem < 0 {
		return 0
	}
	return rem
}

// Fill is an immutable record of one execution against an order. Exactly one
// Fill exists per broker execution report; fills are append-only.
type Fill struct {
	ID         string
	OrderID    string
	Qty        float64
	Price      float64
	Commission float64
	Venue      string
	Timestamp  time.Time
}

// Position is the quantity and cost basis held for a symbol, either locally
// tracked or as reported by a broker.
type Position struct {
	Symbol       string
	Qty          float64
	AvgCost      float64
	Side         PositionSide
	MarketValue  float64
	UnrealizedPL float64
}

// AccountInfo is a snapshot of an account's financial metrics.
type AccountInfo struct {
	ID          string
	Currency    string
	Cash        float64
	Equity      float64
	BuyingPower float64
}
