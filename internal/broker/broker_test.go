package broker

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/shopspring/decimal"

	"tradewind/internal/domain"
)

func TestAlpacaBrokerName(t *testing.T) {
	b := NewAlpacaBroker("key", "secret", "https://paper-api.alpaca.markets")
	if got := b.Name(); got != "alpaca" {
		t.Errorf("AlpacaBroker.Name() = %q, want %q", got, "alpaca")
	}
	if b.IsConnected() {
		t.Error("AlpacaBroker should start disconnected")
	}
}

func TestPlaceOrderRequestMapping(t *testing.T) {
	stopLimit := placeOrderRequest(&domain.Order{
		ID:          "oid-1",
		Symbol:      "AAPL",
		Side:        domain.OrderSideBuy,
		Type:        domain.OrderTypeStopLimit,
		Qty:         10,
		LimitPrice:  101.5,
		StopPrice:   100.0,
		TimeInForce: domain.TimeInForceDay,
	})
	if stopLimit.StopPrice == nil || !stopLimit.StopPrice.Equal(decimal.NewFromFloat(100.0)) {
		t.Errorf("stop-limit StopPrice = %v, want 100", stopLimit.StopPrice)
	}
	if stopLimit.TrailPrice != nil {
		t.Errorf("stop-limit TrailPrice = %v, want nil", stopLimit.TrailPrice)
	}
	if stopLimit.LimitPrice == nil || !stopLimit.LimitPrice.Equal(decimal.NewFromFloat(101.5)) {
		t.Errorf("stop-limit LimitPrice = %v, want 101.5", stopLimit.LimitPrice)
	}
	if stopLimit.ClientOrderID != "oid-1" {
		t.Errorf("ClientOrderID = %q, want %q", stopLimit.ClientOrderID, "oid-1")
	}

	// The wire format models a trailing stop's trigger as a trail price;
	// sending it as stop_price is rejected upstream.
	trailing := placeOrderRequest(&domain.Order{
		Symbol:      "AAPL",
		Side:        domain.OrderSideSell,
		Type:        domain.OrderTypeTrailingStop,
		Qty:         10,
		StopPrice:   2.5,
		TimeInForce: domain.TimeInForceGTC,
	})
	if trailing.StopPrice != nil {
		t.Errorf("trailing StopPrice = %v, want nil", trailing.StopPrice)
	}
	if trailing.TrailPrice == nil || !trailing.TrailPrice.Equal(decimal.NewFromFloat(2.5)) {
		t.Errorf("trailing TrailPrice = %v, want 2.5", trailing.TrailPrice)
	}
}

func TestSimulatorRequiresConnect(t *testing.T) {
	b := NewSimulatorBroker(10_000)
	ctx := context.Background()

	_, err := b.SubmitOrder(ctx, &domain.Order{Symbol: "AAPL", Side: domain.OrderSideBuy, Qty: 1})
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("SubmitOrder before Connect: err = %v, want ErrNotConnected", err)
	}
}

func TestSimulatorBuyAndSell(t *testing.T) {
	b := NewSimulatorBroker(100_000)
	ctx := context.Background()
	if err := b.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	b.SetPrice("AAPL", 200)

	buy := &domain.Order{
		ID:     "o-1",
		Symbol: "AAPL",
		Side:   domain.OrderSideBuy,
		Type:   domain.OrderTypeMarket,
		Qty:    100,
		Status: domain.OrderStatusSubmitted,
	}
	echo, err := b.SubmitOrder(ctx, buy)
	if err != nil {
		t.Fatalf("SubmitOrder(buy): %v", err)
	}
	if echo.Status != domain.OrderStatusFilled {
		t.Errorf("buy echo Status = %q, want filled", echo.Status)
	}
	if echo.FilledQty != 100 || echo.FilledAvgPrice != 200 {
		t.Errorf("buy echo fill = (%v @ %v), want (100 @ 200)", echo.FilledQty, echo.FilledAvgPrice)
	}
	if echo.BrokerOrderID == "" {
		t.Error("buy echo should carry a broker order ID")
	}

	acct, err := b.GetAccount(ctx)
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if math.Abs(acct.Cash-80_000) > 1e-9 {
		t.Errorf("Cash after buy = %v, want 80000", acct.Cash)
	}
	// Equity = cash + position value at last price.
	if math.Abs(acct.Equity-100_000) > 1e-9 {
		t.Errorf("Equity after buy = %v, want 100000", acct.Equity)
	}

	positions, err := b.GetPositions(ctx)
	if err != nil {
		t.Fatalf("GetPositions: %v", err)
	}
	if len(positions) != 1 || positions[0].Qty != 100 || positions[0].AvgCost != 200 {
		t.Fatalf("positions after buy = %+v, want one 100@200", positions)
	}

	sell := &domain.Order{
		ID:     "o-2",
		Symbol: "AAPL",
		Side:   domain.OrderSideSell,
		Type:   domain.OrderTypeLimit,
		Qty:    100,
		// Limit price is the fill price in the simulator.
		LimitPrice: 210,
	}
	if _, err := b.SubmitOrder(ctx, sell); err != nil {
		t.Fatalf("SubmitOrder(sell): %v", err)
	}

	acct, _ = b.GetAccount(ctx)
	if math.Abs(acct.Cash-101_000) > 1e-9 {
		t.Errorf("Cash after round trip = %v, want 101000", acct.Cash)
	}
	positions, _ = b.GetPositions(ctx)
	if len(positions) != 0 {
		t.Errorf("positions after full sell = %+v, want none", positions)
	}
}

func TestSimulatorRejectsBuyOverCash(t *testing.T) {
	b := NewSimulatorBroker(1_000)
	ctx := context.Background()
	b.Connect(ctx)
	b.SetPrice("TSLA", 300)

	order := &domain.Order{Symbol: "TSLA", Side: domain.OrderSideBuy, Qty: 10}
	_, err := b.SubmitOrder(ctx, order)
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}

	// The rejected order leaves the balance unchanged.
	acct, _ := b.GetAccount(ctx)
	if acct.Cash != 1_000 {
		t.Errorf("Cash after rejected buy = %v, want 1000", acct.Cash)
	}
	positions, _ := b.GetPositions(ctx)
	if len(positions) != 0 {
		t.Errorf("positions after rejected buy = %+v, want none", positions)
	}
}

func TestSimulatorRejectsSellWithoutPosition(t *testing.T) {
	b := NewSimulatorBroker(10_000)
	ctx := context.Background()
	b.Connect(ctx)
	b.SetPrice("MSFT", 400)

	order := &domain.Order{Symbol: "MSFT", Side: domain.OrderSideSell, Qty: 5}
	if _, err := b.SubmitOrder(ctx, order); err == nil {
		t.Error("selling without a position should fail")
	}
}

func TestSimulatorNoPrice(t *testing.T) {
	b := NewSimulatorBroker(10_000)
	ctx := context.Background()
	b.Connect(ctx)

	order := &domain.Order{Symbol: "NVDA", Side: domain.OrderSideBuy, Qty: 1}
	if _, err := b.SubmitOrder(ctx, order); !errors.Is(err, ErrNoPrice) {
		t.Errorf("err = %v, want ErrNoPrice", err)
	}
}

func TestManagerSwitching(t *testing.T) {
	ctx := context.Background()
	m := NewManager(nil)

	sim := NewSimulatorBroker(10_000)
	alp := NewAlpacaBroker("key", "secret", "https://paper-api.alpaca.markets")
	m.Register(sim)
	m.Register(alp)

	// First registered broker is primary.
	if got := m.Primary().Name(); got != "simulator" {
		t.Errorf("Primary() = %q, want simulator", got)
	}

	// Switching to a disconnected broker is refused.
	if err := m.SwitchTo("alpaca"); err == nil {
		t.Error("SwitchTo(disconnected) should fail")
	}
	if err := m.SwitchTo("missing"); err == nil {
		t.Error("SwitchTo(unregistered) should fail")
	}

	sim.Connect(ctx)
	connected := m.Connected()
	if len(connected) != 1 || connected[0] != "simulator" {
		t.Errorf("Connected() = %v, want [simulator]", connected)
	}

	if err := m.SwitchTo("simulator"); err != nil {
		t.Errorf("SwitchTo(simulator): %v", err)
	}
	if got := m.Primary().Name(); got != "simulator" {
		t.Errorf("Primary() after switch = %q, want simulator", got)
	}
}
