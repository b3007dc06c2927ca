package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"tradewind/internal/domain"
	"tradewind/internal/util"
)

// Compile-time interface check.
var _ Broker = (*SimulatorBroker)(nil)

// SimulatorBroker implements the Broker interface for paper trading and
// testing. It fills orders immediately at the order's limit price or the
// last-known price and maintains its own cash and position ledger. Cash
// accounting uses decimals so repeated fills cannot drift.
type SimulatorBroker struct {
	mu        sync.Mutex
	connected bool
	cash      decimal.Decimal
	positions map[string]*simPosition
	orders    map[string]*domain.Order
	lastPrice map[string]float64
	calendar  *util.TradingCalendar
	nextID    int
	now       func() time.Time
}

type simPosition struct {
	qty     decimal.Decimal
	avgCost decimal.Decimal
}

// NewSimulatorBroker creates a SimulatorBroker seeded with the given cash
// balance.
func NewSimulatorBroker(startingCash float64) *SimulatorBroker {
	return &SimulatorBroker{
		cash:      decimal.NewFromFloat(startingCash),
		positions: make(map[string]*simPosition),
		orders:    make(map[string]*domain.Order),
		lastPrice: make(map[string]float64),
		calendar:  util.NewTradingCalendar(domain.MarketUS),
		now:       time.Now,
	}
}

// Name returns "simulator".
func (b *SimulatorBroker) Name() string {
	return "simulator"
}

// Connect marks the simulator usable.
func (b *SimulatorBroker) Connect(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = true
	return nil
}

// Disconnect marks the simulator unusable.
func (b *SimulatorBroker) Disconnect(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = false
	return nil
}

// IsConnected reports whether Connect has been called.
func (b *SimulatorBroker) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

// SetPrice records the last-known price for a symbol, used to fill market
// orders.
func (b *SimulatorBroker) SetPrice(symbol string, price float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastPrice[symbol] = price
}

// SubmitOrder fills the order immediately at the limit price (when set) or
// the last-known price. Buys whose notional cost exceeds available cash are
// rejected and leave the ledger untouched; sells require an existing
// position of sufficient size.
func (b *SimulatorBroker) SubmitOrder(_ context.Context, order *domain.Order) (*domain.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.connected {
		return nil, ErrNotConnected
	}

	price := order.LimitPrice
	if price <= 0 {
		price = b.lastPrice[order.Symbol]
	}
	if price <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoPrice, order.Symbol)
	}

	qty := decimal.NewFromFloat(order.Qty)
	px := decimal.NewFromFloat(price)
	notional := qty.Mul(px)

	pos := b.positions[order.Symbol]

	if order.Side == domain.OrderSideBuy {
		if notional.GreaterThan(b.cash) {
			return nil, fmt.Errorf("%w: need %s, have %s",
				ErrInsufficientFunds, notional.StringFixed(2), b.cash.StringFixed(2))
		}
		b.cash = b.cash.Sub(notional)
		if pos == nil {
			b.positions[order.Symbol] = &simPosition{qty: qty, avgCost: px}
		} else {
			newQty := pos.qty.Add(qty)
			pos.avgCost = pos.qty.Mul(pos.avgCost).Add(notional).Div(newQty)
			pos.qty = newQty
		}
	} else {
		if pos == nil || pos.qty.LessThan(qty) {
			return nil, fmt.Errorf("broker: insufficient position in %s", order.Symbol)
		}
		b.cash = b.cash.Add(notional)
		pos.qty = pos.qty.Sub(qty)
		if pos.qty.IsZero() {
			delete(b.positions, order.Symbol)
		}
	}

	b.nextID++
	now := b.now()
	b.lastPrice[order.Symbol] = price

	filled := *order
	filled.BrokerOrderID = fmt.Sprintf("sim-%d", b.nextID)
	filled.Status = domain.OrderStatusFilled
	filled.FilledQty = order.Qty
	filled.FilledAvgPrice = price
	filled.UpdatedAt = now

	stored := filled
	b.orders[filled.BrokerOrderID] = &stored

	out := filled
	return &out, nil
}

// CancelOrder marks an open order cancelled. Simulated orders fill
// synchronously, so this only ever applies to orders a caller injected in
// a non-terminal state.
func (b *SimulatorBroker) CancelOrder(_ context.Context, brokerOrderID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.connected {
		return ErrNotConnected
	}
	o, ok := b.orders[brokerOrderID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrOrderNotFound, brokerOrderID)
	}
	if !o.IsTerminal() {
		o.Status = domain.OrderStatusCancelled
		o.UpdatedAt = b.now()
	}
	return nil
}

// GetOrder returns a copy of the simulated order.
func (b *SimulatorBroker) GetOrder(_ context.Context, brokerOrderID string) (*domain.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.connected {
		return nil, ErrNotConnected
	}
	o, ok := b.orders[brokerOrderID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, brokerOrderID)
	}
	out := *o
	return &out, nil
}

// GetOrders returns simulated orders, optionally filtered by status.
func (b *SimulatorBroker) GetOrders(_ context.Context, status domain.OrderStatus, limit int) ([]domain.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.connected {
		return nil, ErrNotConnected
	}
	out := make([]domain.Order, 0, len(b.orders))
	for _, o := range b.orders {
		if status != "" && o.Status != status {
			continue
		}
		out = append(out, *o)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// GetPositions returns all simulated positions.
func (b *SimulatorBroker) GetPositions(_ context.Context) ([]domain.Position, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.connected {
		return nil, ErrNotConnected
	}
	positions := make([]domain.Position, 0, len(b.positions))
	for sym, p := range b.positions {
		qty := p.qty.InexactFloat64()
		side := domain.PositionSideLong
		if qty < 0 {
			side = domain.PositionSideShort
		}
		positions = append(positions, domain.Position{
			Symbol:      sym,
			Qty:         qty,
			AvgCost:     p.avgCost.InexactFloat64(),
			Side:        side,
			MarketValue: p.qty.InexactFloat64() * b.lastPrice[sym],
		})
	}
	return positions, nil
}

// GetAccount returns the simulated cash balance and equity (cash plus the
// value of open positions at last-known prices).
func (b *SimulatorBroker) GetAccount(_ context.Context) (*domain.AccountInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.connected {
		return nil, ErrNotConnected
	}

	equity := b.cash
	for sym, p := range b.positions {
		if px, ok := b.lastPrice[sym]; ok {
			equity = equity.Add(p.qty.Mul(decimal.NewFromFloat(px)))
		} else {
			equity = equity.Add(p.qty.Mul(p.avgCost))
		}
	}

	cash := b.cash.InexactFloat64()
	return &domain.AccountInfo{
		ID:          "simulator",
		Currency:    "USD",
		Cash:        cash,
		Equity:      equity.InexactFloat64(),
		BuyingPower: cash,
	}, nil
}

// GetMarketStatus classifies the current wall-clock time with the US
// trading calendar.
func (b *SimulatorBroker) GetMarketStatus(_ context.Context) (domain.MarketStatus, error) {
	b.mu.Lock()
	now := b.now()
	b.mu.Unlock()
	return b.calendar.Status(now), nil
}
