package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	alpacaapi "github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/shopspring/decimal"

	"tradewind/internal/domain"
	"tradewind/internal/util"
)

// Compile-time interface check.
var _ Broker = (*AlpacaBroker)(nil)

// Alpaca allows 200 requests per minute per account; every SDK call goes
// through the limiter so bursts from slicing and reconciliation cannot
// trip the server-side limit.
const alpacaRequestsPerMin = 200

const (
	readAttempts  = 3
	readBaseDelay = 500 * time.Millisecond
)

// AlpacaBroker implements the Broker interface using the Alpaca brokerage
// API. Pointing BaseURL at the paper endpoint gives paper trading with the
// same code path.
type AlpacaBroker struct {
	client   *alpacaapi.Client
	calendar *util.TradingCalendar
	limiter  *util.RateLimiter

	mu        sync.Mutex
	connected bool
}

// NewAlpacaBroker creates an AlpacaBroker configured with the given
// credentials and API endpoint.
func NewAlpacaBroker(apiKey, apiSecret, baseURL string) *AlpacaBroker {
	return &AlpacaBroker{
		client: alpacaapi.NewClient(alpacaapi.ClientOpts{
			APIKey:    apiKey,
			APISecret: apiSecret,
			BaseURL:   baseURL,
		}),
		calendar: util.NewTradingCalendar(domain.MarketUS),
		limiter:  util.NewRateLimiter(alpacaRequestsPerMin),
	}
}

// Name returns "alpaca".
func (b *AlpacaBroker) Name() string {
	return "alpaca"
}

// Connect verifies the credentials by fetching the account.
func (b *AlpacaBroker) Connect(ctx context.Context) error {
	err := util.Retry(ctx, readAttempts, readBaseDelay, func() error {
		if err := b.limiter.Wait(ctx); err != nil {
			return err
		}
		_, err := b.client.GetAccount()
		return err
	})
	if err != nil {
		return fmt.Errorf("connecting to alpaca: %w", err)
	}
	b.mu.Lock()
	b.connected = true
	b.mu.Unlock()
	return nil
}

// Disconnect marks the session unusable. The underlying HTTP client is
// stateless, so there is nothing to tear down.
func (b *AlpacaBroker) Disconnect(_ context.Context) error {
	b.mu.Lock()
	b.connected = false
	b.mu.Unlock()
	return nil
}

// IsConnected reports whether Connect has succeeded.
func (b *AlpacaBroker) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

// SubmitOrder sends the order to the Alpaca API for execution. Submissions
// are never retried: a timed-out request may still have reached the
// exchange.
func (b *AlpacaBroker) SubmitOrder(ctx context.Context, order *domain.Order) (*domain.Order, error) {
	if !b.IsConnected() {
		return nil, ErrNotConnected
	}
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	placed, err := b.client.PlaceOrder(placeOrderRequest(order))
	if err != nil {
		return nil, fmt.Errorf("placing order for %s: %w", order.Symbol, err)
	}
	return fromAlpacaOrder(placed), nil
}

// placeOrderRequest maps an order onto the Alpaca wire request. Trailing
// stops carry the trail as TrailPrice; the API rejects them with StopPrice.
func placeOrderRequest(order *domain.Order) alpacaapi.PlaceOrderRequest {
	qty := decimal.NewFromFloat(order.Qty)
	req := alpacaapi.PlaceOrderRequest{
		Symbol:      order.Symbol,
		Qty:         &qty,
		Side:        alpacaapi.Side(order.Side),
		Type:        alpacaapi.OrderType(order.Type),
		TimeInForce: alpacaapi.TimeInForce(order.TimeInForce),
	}
	if order.LimitPrice > 0 {
		lp := decimal.NewFromFloat(order.LimitPrice)
		req.LimitPrice = &lp
	}
	if order.StopPrice > 0 {
		sp := decimal.NewFromFloat(order.StopPrice)
		if order.Type == domain.OrderTypeTrailingStop {
			req.TrailPrice = &sp
		} else {
			req.StopPrice = &sp
		}
	}
	if order.ID != "" {
		req.ClientOrderID = order.ID
	}
	return req
}

// CancelOrder requests cancellation of an open order via the Alpaca API.
func (b *AlpacaBroker) CancelOrder(ctx context.Context, brokerOrderID string) error {
	if !b.IsConnected() {
		return ErrNotConnected
	}
	if err := b.limiter.Wait(ctx); err != nil {
		return err
	}
	if err := b.client.CancelOrder(brokerOrderID); err != nil {
		return fmt.Errorf("cancelling order %s: %w", brokerOrderID, err)
	}
	return nil
}

// GetOrder returns the broker's view of one order.
func (b *AlpacaBroker) GetOrder(ctx context.Context, brokerOrderID string) (*domain.Order, error) {
	if !b.IsConnected() {
		return nil, ErrNotConnected
	}
	var o *alpacaapi.Order
	err := util.Retry(ctx, readAttempts, readBaseDelay, func() error {
		if err := b.limiter.Wait(ctx); err != nil {
			return err
		}
		var err error
		o, err = b.client.GetOrder(brokerOrderID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("fetching order %s: %w", brokerOrderID, err)
	}
	return fromAlpacaOrder(o), nil
}

// GetOrders lists orders from the Alpaca API, optionally filtered by status.
// Alpaca only filters by open/closed/all server-side; exact statuses are
// filtered here.
func (b *AlpacaBroker) GetOrders(ctx context.Context, status domain.OrderStatus, limit int) ([]domain.Order, error) {
	if !b.IsConnected() {
		return nil, ErrNotConnected
	}

	filter := "all"
	switch status {
	case domain.OrderStatusPending, domain.OrderStatusSubmitted,
		domain.OrderStatusAccepted, domain.OrderStatusPartial:
		filter = "open"
	case domain.OrderStatusFilled, domain.OrderStatusCancelled,
		domain.OrderStatusRejected, domain.OrderStatusExpired:
		filter = "closed"
	}

	var orders []alpacaapi.Order
	err := util.Retry(ctx, readAttempts, readBaseDelay, func() error {
		if err := b.limiter.Wait(ctx); err != nil {
			return err
		}
		var err error
		orders, err = b.client.GetOrders(alpacaapi.GetOrdersRequest{
			Status: filter,
			Limit:  limit,
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}

	out := make([]domain.Order, 0, len(orders))
	for i := range orders {
		o := fromAlpacaOrder(&orders[i])
		if status != "" && o.Status != status {
			continue
		}
		out = append(out, *o)
	}
	return out, nil
}

// GetPositions returns all current positions from the Alpaca account.
func (b *AlpacaBroker) GetPositions(ctx context.Context) ([]domain.Position, error) {
	if !b.IsConnected() {
		return nil, ErrNotConnected
	}
	var positions []alpacaapi.Position
	err := util.Retry(ctx, readAttempts, readBaseDelay, func() error {
		if err := b.limiter.Wait(ctx); err != nil {
			return err
		}
		var err error
		positions, err = b.client.GetPositions()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("fetching positions: %w", err)
	}

	out := make([]domain.Position, 0, len(positions))
	for _, p := range positions {
		pos := domain.Position{
			Symbol:  p.Symbol,
			Qty:     p.Qty.InexactFloat64(),
			AvgCost: p.AvgEntryPrice.InexactFloat64(),
			Side:    domain.PositionSide(p.Side),
		}
		if p.MarketValue != nil {
			pos.MarketValue = p.MarketValue.InexactFloat64()
		}
		if p.UnrealizedPL != nil {
			pos.UnrealizedPL = p.UnrealizedPL.InexactFloat64()
		}
		out = append(out, pos)
	}
	return out, nil
}

// GetAccount returns the current account information from the Alpaca API.
func (b *AlpacaBroker) GetAccount(ctx context.Context) (*domain.AccountInfo, error) {
	if !b.IsConnected() {
		return nil, ErrNotConnected
	}
	var acct *alpacaapi.Account
	err := util.Retry(ctx, readAttempts, readBaseDelay, func() error {
		if err := b.limiter.Wait(ctx); err != nil {
			return err
		}
		var err error
		acct, err = b.client.GetAccount()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("fetching account: %w", err)
	}
	return &domain.AccountInfo{
		ID:          acct.ID,
		Currency:    acct.Currency,
		Cash:        acct.Cash.InexactFloat64(),
		Equity:      acct.Equity.InexactFloat64(),
		BuyingPower: acct.BuyingPower.InexactFloat64(),
	}, nil
}

// GetMarketStatus reports the current session using the Alpaca market clock,
// refined to pre-market/after-hours with the trading calendar.
func (b *AlpacaBroker) GetMarketStatus(ctx context.Context) (domain.MarketStatus, error) {
	if !b.IsConnected() {
		return domain.MarketStatusClosed, ErrNotConnected
	}
	var clock *alpacaapi.Clock
	err := util.Retry(ctx, readAttempts, readBaseDelay, func() error {
		if err := b.limiter.Wait(ctx); err != nil {
			return err
		}
		var err error
		clock, err = b.client.GetClock()
		return err
	})
	if err != nil {
		return domain.MarketStatusClosed, fmt.Errorf("fetching market clock: %w", err)
	}
	if clock.IsOpen {
		return domain.MarketStatusOpen, nil
	}
	// Outside the regular session the clock only says "closed"; the calendar
	// distinguishes the extended-hours windows.
	status := b.calendar.Status(clock.Timestamp)
	if status == domain.MarketStatusOpen {
		status = domain.MarketStatusClosed
	}
	return status, nil
}

// fromAlpacaOrder converts the SDK order into the domain representation.
func fromAlpacaOrder(o *alpacaapi.Order) *domain.Order {
	out := &domain.Order{
		ID:            o.ClientOrderID,
		Symbol:        o.Symbol,
		Side:          domain.OrderSide(o.Side),
		Type:          domain.OrderType(o.Type),
		TimeInForce:   domain.TimeInForce(o.TimeInForce),
		Status:        fromAlpacaStatus(o.Status),
		FilledQty:     o.FilledQty.InexactFloat64(),
		BrokerOrderID: o.ID,
		CreatedAt:     o.CreatedAt,
		UpdatedAt:     o.UpdatedAt,
	}
	if o.Qty != nil {
		out.Qty = o.Qty.InexactFloat64()
	}
	if o.LimitPrice != nil {
		out.LimitPrice = o.LimitPrice.InexactFloat64()
	}
	if o.StopPrice != nil {
		out.StopPrice = o.StopPrice.InexactFloat64()
	}
	if o.FilledAvgPrice != nil {
		out.FilledAvgPrice = o.FilledAvgPrice.InexactFloat64()
	}
	return out
}

// fromAlpacaStatus maps Alpaca order statuses onto the lifecycle states.
func fromAlpacaStatus(status string) domain.OrderStatus {
	switch status {
	case "new", "accepted", "pending_new":
		return domain.OrderStatusAccepted
	case "partially_filled":
		return domain.OrderStatusPartial
	case "filled":
		return domain.OrderStatusFilled
	case "canceled", "pending_cancel", "done_for_day":
		return domain.OrderStatusCancelled
	case "rejected", "stopped", "suspended":
		return domain.OrderStatusRejected
	case "expired":
		return domain.OrderStatusExpired
	default:
		return domain.OrderStatusSubmitted
	}
}
