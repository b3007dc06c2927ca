package domain

import (
	"testing"
	"time"
)

func TestTypesExist(t *testing.T) {
	// Verify Order can be instantiated with zero values.
	order := Order{}
	if order.ID != "" {
		t.Error("expected empty ID for zero-value Order")
	}
	if order.Side != "" {
		t.Error("expected empty Side for zero-value Order")
	}
	if order.Type != "" {
		t.Error("expected empty Type for zero-value Order")
	}
	if order.Status != "" {
		t.Error("expected empty Status for zero-value Order")
	}
	if order.Qty != 0 || order.FilledQty != 0 || order.FilledAvgPrice != 0 {
		t.Error("expected zero Qty/FilledQty/FilledAvgPrice for zero-value Order")
	}
	if !order.CreatedAt.IsZero() || !order.UpdatedAt.IsZero() {
		t.Error("expected zero timestamps for zero-value Order")
	}

	// Verify enum constants are defined correctly.
	if OrderSideBuy != "buy" {
		t.Errorf("OrderSideBuy = %q, want %q", OrderSideBuy, "buy")
	}
	if OrderTypeStopLimit != "stop_limit" {
		t.Errorf("OrderTypeStopLimit = %q, want %q", OrderTypeStopLimit, "stop_limit")
	}
	if MarketUS != "us" || MarketCN != "cn" {
		t.Error("Market constants have unexpected values")
	}
	if MarketStatusPreMarket != "pre_market" || MarketStatusAfterHours != "after_hours" {
		t.Error("MarketStatus constants have unexpected values")
	}

	// Verify structs can be constructed with real values.
	now := time.Now()
	fill := Fill{
		ID:        "f-1",
		OrderID:   "o-1",
		Qty:       100,
		Price:     185.5,
		Venue:     "simulator",
		Timestamp: now,
	}
	if fill.OrderID != "o-1" {
		t.Errorf("fill.OrderID = %q, want %q", fill.OrderID, "o-1")
	}

	pos := Position{
		Symbol: "AAPL",
		Qty:    100,
		Side:   PositionSideLong,
	}
	if pos.Side != PositionSideLong {
		t.Errorf("pos.Side = %q, want %q", pos.Side, PositionSideLong)
	}
}

func TestOrderStatePredicates(t *testing.T) {
	active := []OrderStatus{OrderStatusPending, OrderStatusSubmitted, OrderStatusAccepted, OrderStatusPartial}
	terminal := []OrderStatus{OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected, OrderStatusExpired}

	for _, st := range active {
		o := Order{Status: st}
		if !o.IsActive() {
			t.Errorf("IsActive() = false for status %q, want true", st)
		}
		if o.IsTerminal() {
			t.Errorf("IsTerminal() = true for status %q, want false", st)
		}
	}
	for _, st := range terminal {
		o := Order{Status: st}
		if o.IsActive() {
			t.Errorf("IsActive() = true for status %q, want false", st)
		}
		if !o.IsTerminal() {
			t.Errorf("IsTerminal() = false for status %q, want true", st)
		}
	}
}

func TestOrderRemainingQty(t *testing.T) {
	o := Order{Qty: 100, FilledQty: 30}
	if got := o.RemainingQty(); got != 70 {
		t.Errorf("RemainingQty() = %v, want 70", got)
	}

	// Overfill never reports negative remaining.
	o.FilledQty = 120
	if got := o.RemainingQty(); got != 0 {
		t.Errorf("RemainingQty() after overfill = %v, want 0", got)
	}
}
