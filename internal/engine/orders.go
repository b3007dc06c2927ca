// Package engine owns the canonical order and fill state machine. All order
// mutation flows through the OrderManager; brokers execute but never mutate
// local lifecycle state.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"tradewind/internal/broker"
	"tradewind/internal/domain"
	"tradewind/internal/events"
	"tradewind/internal/store"
)

// Sentinel errors returned by the order manager.
var (
	ErrInvalidOrder      = errors.New("engine: invalid order")
	ErrOrderNotFound     = errors.New("engine: order not found")
	ErrInvalidTransition = errors.New("engine: invalid lifecycle transition")
)

// CreateOrderRequest describes the order to create.
type CreateOrderRequest struct {
	Symbol        string
	Side          domain.OrderSide
	Qty           float64
	Type          domain.OrderType
	LimitPrice    float64
	StopPrice     float64
	TimeInForce   domain.TimeInForce
	ParentOrderID string
	Metadata      map[string]string
}

// FillReport carries the optional identifying fields of a broker execution
// report.
type FillReport struct {
	FillID     string
	Commission float64
	Venue      string
}

// orderEntry serializes mutation of a single order. The entry mutex is the
// single-writer boundary per order.
type orderEntry struct {
	mu        sync.Mutex
	order     domain.Order
	fills     []domain.Fill
	seenFills map[string]bool
}

// OrderManager owns all orders it created, drives their lifecycle against an
// injected broker, and publishes every transition on the event feed.
// Persistence is best-effort: a store failure is logged but never blocks the
// state machine.
type OrderManager struct {
	mu     sync.RWMutex
	orders map[string]*orderEntry

	broker     broker.Broker
	bus        *events.Bus
	orderStore store.OrderStore // optional
	fillStore  store.FillStore  // optional
	log        *slog.Logger
	now        func() time.Time
}

// NewOrderManager creates an OrderManager submitting through b. The event
// bus is required; stores may be nil.
func NewOrderManager(b broker.Broker, bus *events.Bus, logger *slog.Logger) *OrderManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &OrderManager{
		orders: make(map[string]*orderEntry),
		broker: b,
		bus:    bus,
		log:    logger.With("component", "engine"),
		now:    time.Now,
	}
}

// WithStores attaches optional persistence for orders and fills.
func (m *OrderManager) WithStores(orders store.OrderStore, fills store.FillStore) *OrderManager {
	m.orderStore = orders
	m.fillStore = fills
	return m
}

// Create validates the request and registers a new pending order. Limit and
// stop-limit orders require a limit price; stop and stop-limit orders
// require a stop price. Validation failures never reach the broker.
func (m *OrderManager) Create(ctx context.Context, req CreateOrderRequest) (*domain.Order, error) {
	if req.Symbol == "" {
		return nil, fmt.Errorf("%w: empty symbol", ErrInvalidOrder)
	}
	if req.Qty <= 0 {
		return nil, fmt.Errorf("%w: quantity %v must be positive", ErrInvalidOrder, req.Qty)
	}
	switch req.Type {
	case domain.OrderTypeLimit, domain.OrderTypeStopLimit:
		if req.LimitPrice <= 0 {
			return nil, fmt.Errorf("%w: %s order requires a limit price", ErrInvalidOrder, req.Type)
		}
	}
	switch req.Type {
	case domain.OrderTypeStop, domain.OrderTypeStopLimit, domain.OrderTypeTrailingStop:
		if req.StopPrice <= 0 {
			return nil, fmt.Errorf("%w: %s order requires a stop price", ErrInvalidOrder, req.Type)
		}
	}

	tif := req.TimeInForce
	if tif == "" {
		tif = domain.TimeInForceDay
	}
	meta := make(map[string]string, len(req.Metadata))
	for k, v := range req.Metadata {
		meta[k] = v
	}

	now := m.now()
	order := domain.Order{
		ID:            uuid.NewString(),
		Symbol:        req.Symbol,
		Side:          req.Side,
		Type:          req.Type,
		Qty:           req.Qty,
		LimitPrice:    req.LimitPrice,
		StopPrice:     req.StopPrice,
		TimeInForce:   tif,
		Status:        domain.OrderStatusPending,
		ParentOrderID: req.ParentOrderID,
		Metadata:      meta,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	entry := &orderEntry{order: order, seenFills: make(map[string]bool)}
	m.mu.Lock()
	m.orders[order.ID] = entry
	m.mu.Unlock()

	m.persistNew(ctx, &order)
	m.publish(events.OrderCreated, &order, nil)

	out := order
	return &out, nil
}

// Submit sends a pending order to the broker. On success the order becomes
// submitted, carries the broker-assigned ID, and any fills the broker
// reported synchronously are applied; the broker's echo is returned. On any
// broker failure the order becomes rejected with the reason recorded in
// metadata — the failure is terminal and never retried here.
func (m *OrderManager) Submit(ctx context.Context, orderID string) (*domain.Order, error) {
	entry, err := m.entry(orderID)
	if err != nil {
		return nil, err
	}

	var staged []events.Event
	defer func() { m.flush(staged) }()
	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.order.Status != domain.OrderStatusPending {
		return nil, fmt.Errorf("%w: submit from %s", ErrInvalidTransition, entry.order.Status)
	}

	sent := entry.order
	echo, err := m.broker.SubmitOrder(ctx, &sent)
	if err != nil {
		entry.order.Status = domain.OrderStatusRejected
		entry.order.Metadata["reject_reason"] = err.Error()
		entry.order.UpdatedAt = m.now()
		m.persistUpdate(ctx, &entry.order)
		staged = m.stage(staged, events.OrderRejected, &entry.order, map[string]string{"reason": err.Error()})
		return nil, fmt.Errorf("submitting order %s: %w", orderID, err)
	}

	entry.order.BrokerOrderID = echo.BrokerOrderID
	entry.order.Status = domain.OrderStatusSubmitted
	entry.order.UpdatedAt = m.now()
	m.persistUpdate(ctx, &entry.order)
	staged = m.stage(staged, events.OrderSubmitted, &entry.order, nil)

	// Brokers with a synchronous fill model report executions in the echo;
	// fold them in so the order never lingers in submitted.
	if echo.FilledQty > 0 {
		var err error
		staged, err = m.applyFill(ctx, entry, staged, echo.FilledQty, echo.FilledAvgPrice, FillReport{})
		if err != nil {
			m.log.Error("applying echo fill failed", "order_id", orderID, "error", err)
		}
	}

	out := *echo
	return &out, nil
}

// MarkAccepted moves a submitted order to accepted, reflecting a broker
// acknowledgement.
func (m *OrderManager) MarkAccepted(ctx context.Context, orderID string) error {
	entry, err := m.entry(orderID)
	if err != nil {
		return err
	}

	var staged []events.Event
	defer func() { m.flush(staged) }()
	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.order.Status != domain.OrderStatusSubmitted {
		return fmt.Errorf("%w: accept from %s", ErrInvalidTransition, entry.order.Status)
	}
	entry.order.Status = domain.OrderStatusAccepted
	entry.order.UpdatedAt = m.now()
	m.persistUpdate(ctx, &entry.order)
	staged = m.stage(staged, events.OrderAccepted, &entry.order, nil)
	return nil
}

// MarkExpired terminalizes an active order whose time-in-force ran out.
func (m *OrderManager) MarkExpired(ctx context.Context, orderID string) error {
	entry, err := m.entry(orderID)
	if err != nil {
		return err
	}

	var staged []events.Event
	defer func() { m.flush(staged) }()
	entry.mu.Lock()
	defer entry.mu.Unlock()

	if !entry.order.IsActive() {
		return fmt.Errorf("%w: expire from %s", ErrInvalidTransition, entry.order.Status)
	}
	entry.order.Status = domain.OrderStatusExpired
	entry.order.UpdatedAt = m.now()
	m.persistUpdate(ctx, &entry.order)
	staged = m.stage(staged, events.OrderExpired, &entry.order, nil)
	return nil
}

// Cancel cancels an active order, asking the broker first when the order has
// already been handed over. Cancelling a terminal order is a state-conflict
// error.
func (m *OrderManager) Cancel(ctx context.Context, orderID string) error {
	entry, err := m.entry(orderID)
	if err != nil {
		return err
	}

	var staged []events.Event
	defer func() { m.flush(staged) }()
	entry.mu.Lock()
	defer entry.mu.Unlock()

	if !entry.order.IsActive() {
		return fmt.Errorf("%w: cancel from %s", ErrInvalidTransition, entry.order.Status)
	}

	if entry.order.BrokerOrderID != "" {
		if err := m.broker.CancelOrder(ctx, entry.order.BrokerOrderID); err != nil {
			return fmt.Errorf("cancelling order %s: %w", orderID, err)
		}
	}

	entry.order.Status = domain.OrderStatusCancelled
	entry.order.UpdatedAt = m.now()
	m.persistUpdate(ctx, &entry.order)
	staged = m.stage(staged, events.OrderCancelled, &entry.order, nil)
	return nil
}

// RecordFill applies one execution report to the order. Application is
// idempotent when the report carries a fill ID: a duplicate ID is ignored.
// Filled quantity is monotonic and never exceeds the requested quantity:
// a report larger than the remaining quantity is clamped, and reports
// against an already-filled order are dropped.
func (m *OrderManager) RecordFill(ctx context.Context, orderID string, qty, price float64, report FillReport) error {
	if qty <= 0 || price <= 0 {
		return fmt.Errorf("%w: fill qty %v price %v", ErrInvalidOrder, qty, price)
	}

	entry, err := m.entry(orderID)
	if err != nil {
		return err
	}

	var staged []events.Event
	defer func() { m.flush(staged) }()
	entry.mu.Lock()
	defer entry.mu.Unlock()
	staged, err = m.applyFill(ctx, entry, staged, qty, price, report)
	return err
}

// applyFill folds one execution into the order and stages the resulting
// transition event. Callers hold entry.mu and publish the returned events
// after releasing it.
func (m *OrderManager) applyFill(ctx context.Context, entry *orderEntry, staged []events.Event, qty, price float64, report FillReport) ([]events.Event, error) {
	if entry.order.Status == domain.OrderStatusFilled {
		m.log.Debug("ignoring fill for filled order", "order_id", entry.order.ID, "fill_id", report.FillID)
		return staged, nil
	}
	switch entry.order.Status {
	case domain.OrderStatusSubmitted, domain.OrderStatusAccepted, domain.OrderStatusPartial:
	default:
		return staged, fmt.Errorf("%w: fill in %s", ErrInvalidTransition, entry.order.Status)
	}

	if report.FillID != "" && entry.seenFills[report.FillID] {
		m.log.Debug("ignoring duplicate fill", "order_id", entry.order.ID, "fill_id", report.FillID)
		return staged, nil
	}

	// Brokers redeliver execution reports; an unidentified redelivery would
	// otherwise push FilledQty past Qty.
	if remaining := entry.order.RemainingQty(); qty > remaining {
		m.log.Warn("clamping fill to remaining quantity",
			"order_id", entry.order.ID, "fill_id", report.FillID,
			"reported_qty", qty, "remaining", remaining)
		qty = remaining
	}

	fillID := report.FillID
	if fillID == "" {
		fillID = uuid.NewString()
	}
	fill := domain.Fill{
		ID:         fillID,
		OrderID:    entry.order.ID,
		Qty:        qty,
		Price:      price,
		Commission: report.Commission,
		Venue:      report.Venue,
		Timestamp:  m.now(),
	}
	entry.fills = append(entry.fills, fill)
	entry.seenFills[fillID] = true

	o := &entry.order
	newFilled := o.FilledQty + qty
	o.FilledAvgPrice = (o.FilledQty*o.FilledAvgPrice + qty*price) / newFilled
	o.FilledQty = newFilled
	o.UpdatedAt = fill.Timestamp

	evt := events.OrderPartial
	if o.FilledQty >= o.Qty {
		o.Status = domain.OrderStatusFilled
		evt = events.OrderFilled
	} else {
		o.Status = domain.OrderStatusPartial
	}

	if m.fillStore != nil {
		if err := m.fillStore.SaveFill(ctx, &fill); err != nil {
			m.log.Error("persisting fill failed", "order_id", entry.order.ID, "error", err)
		}
	}
	m.persistUpdate(ctx, o)
	staged = m.stage(staged, evt, o, map[string]string{
		"fill_qty":   strconv.FormatFloat(qty, 'f', -1, 64),
		"fill_price": strconv.FormatFloat(price, 'f', -1, 64),
	})
	return staged, nil
}

// Get returns a copy of the order.
func (m *OrderManager) Get(orderID string) (*domain.Order, error) {
	entry, err := m.entry(orderID)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	out := entry.order
	return &out, nil
}

// Fills returns copies of the fills applied to the order, oldest first.
func (m *OrderManager) Fills(orderID string) ([]domain.Fill, error) {
	entry, err := m.entry(orderID)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	out := make([]domain.Fill, len(entry.fills))
	copy(out, entry.fills)
	return out, nil
}

// List returns copies of all orders matching the given status. An empty
// status matches everything.
func (m *OrderManager) List(status domain.OrderStatus) []domain.Order {
	m.mu.RLock()
	entries := make([]*orderEntry, 0, len(m.orders))
	for _, e := range m.orders {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	var out []domain.Order
	for _, e := range entries {
		e.mu.Lock()
		if status == "" || e.order.Status == status {
			out = append(out, e.order)
		}
		e.mu.Unlock()
	}
	return out
}

func (m *OrderManager) entry(orderID string) (*orderEntry, error) {
	m.mu.RLock()
	entry, ok := m.orders[orderID]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	return entry, nil
}

func (m *OrderManager) publish(typ events.Type, o *domain.Order, detail map[string]string) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(events.Event{
		Type:    typ,
		Source:  "engine",
		Symbol:  o.Symbol,
		OrderID: o.ID,
		Detail:  detail,
		At:      o.UpdatedAt,
	})
}

// stage queues a transition event for publishing once the entry lock is
// released. Publishing under the lock can wedge against a subscriber that
// reads the order back on receipt: the send blocks on the subscriber while
// the subscriber blocks on the lock.
func (m *OrderManager) stage(staged []events.Event, typ events.Type, o *domain.Order, detail map[string]string) []events.Event {
	if m.bus == nil {
		return staged
	}
	return append(staged, events.Event{
		Type:    typ,
		Source:  "engine",
		Symbol:  o.Symbol,
		OrderID: o.ID,
		Detail:  detail,
		At:      o.UpdatedAt,
	})
}

// flush publishes staged events in order. Callers must not hold any entry
// lock.
func (m *OrderManager) flush(staged []events.Event) {
	for _, evt := range staged {
		m.bus.Publish(evt)
	}
}

func (m *OrderManager) persistNew(ctx context.Context, o *domain.Order) {
	if m.orderStore == nil {
		return
	}
	if err := m.orderStore.SaveOrder(ctx, o); err != nil {
		m.log.Error("persisting order failed", "order_id", o.ID, "error", err)
	}
}

func (m *OrderManager) persistUpdate(ctx context.Context, o *domain.Order) {
	if m.orderStore == nil {
		return
	}
	if err := m.orderStore.UpdateOrder(ctx, o); err != nil {
		m.log.Error("persisting order update failed", "order_id", o.ID, "error", err)
	}
}
