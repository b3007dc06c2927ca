// Package reconcile keeps the locally tracked position book consistent
// with the brokerage's view of the account.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"sync"
	"time"

	"tradewind/internal/broker"
	"tradewind/internal/domain"
	"tradewind/internal/engine"
	"tradewind/internal/events"
)

// DiffStatus classifies one symbol's local-vs-broker comparison.
type DiffStatus string

const (
	DiffSynced           DiffStatus = "synced"
	DiffLocalOnly        DiffStatus = "local_only"
	DiffRemoteOnly       DiffStatus = "remote_only"
	DiffQuantityMismatch DiffStatus = "quantity_mismatch"
)

// Diff records the two views of one symbol.
type Diff struct {
	Symbol        string
	LocalQty      float64
	RemoteQty     float64
	LocalAvgCost  float64
	RemoteAvgCost float64
	Status        DiffStatus
}

// Observer is notified of every drift found. Observers run before any
// corrective action is taken.
type Observer func(Diff)

// Reconciler owns the local position book and periodically compares it
// against the broker. Pull is the safe default: the broker is the source
// of truth. Push submits corrective orders and only runs when asked
// explicitly.
type Reconciler struct {
	broker broker.Broker
	mgr    *engine.OrderManager
	bus    *events.Bus
	log    *slog.Logger

	// tolerancePct treats quantity differences below this fraction of the
	// remote quantity as synced.
	tolerancePct float64

	// syncMu serializes whole pull/push passes so corrective actions from
	// overlapping ticks cannot interleave.
	syncMu sync.Mutex

	mu        sync.Mutex
	local     map[string]domain.Position
	observers []Observer
}

// New builds a reconciler against b. mgr is required only for PushSync;
// bus is optional.
func New(b broker.Broker, tolerancePct float64, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		broker:       b,
		tolerancePct: tolerancePct,
		log:          logger.With("component", "reconcile"),
		local:        make(map[string]domain.Position),
	}
}

// WithOrderManager enables push-mode corrections through mgr.
func (r *Reconciler) WithOrderManager(mgr *engine.OrderManager) *Reconciler {
	r.mgr = mgr
	return r
}

// WithBus attaches an event feed for drift notifications.
func (r *Reconciler) WithBus(bus *events.Bus) *Reconciler {
	r.bus = bus
	return r
}

// Observe registers an observer for future drifts.
func (r *Reconciler) Observe(fn Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, fn)
}

// ApplyFill folds one execution into the local book.
func (r *Reconciler) ApplyFill(symbol string, side domain.OrderSide, qty, price float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pos := r.local[symbol]
	pos.Symbol = symbol
	if side == domain.OrderSideBuy {
		newQty := pos.Qty + qty
		if newQty != 0 {
			pos.AvgCost = (pos.Qty*pos.AvgCost + qty*price) / newQty
		}
		pos.Qty = newQty
	} else {
		pos.Qty -= qty
	}
	pos.Side = domain.PositionSideLong
	if pos.Qty < 0 {
		pos.Side = domain.PositionSideShort
	}
	if pos.Qty == 0 {
		delete(r.local, symbol)
		return
	}
	r.local[symbol] = pos
}

// Local returns a copy of the local book.
func (r *Reconciler) Local() []domain.Position {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Position, 0, len(r.local))
	for _, p := range r.local {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Compare fetches broker positions and classifies every symbol either side
// knows about. Observers and the event feed see every non-synced diff.
func (r *Reconciler) Compare(ctx context.Context) ([]Diff, error) {
	remote, err := r.broker.GetPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching broker positions: %w", err)
	}

	r.mu.Lock()
	diffs := r.classify(remote)
	observers := make([]Observer, len(r.observers))
	copy(observers, r.observers)
	r.mu.Unlock()

	r.notify(diffs, observers)
	return diffs, nil
}

// classify builds the per-symbol diff list. Callers hold r.mu.
func (r *Reconciler) classify(remote []domain.Position) []Diff {
	remoteBySym := make(map[string]domain.Position, len(remote))
	for _, p := range remote {
		remoteBySym[p.Symbol] = p
	}

	symbols := make(map[string]bool, len(r.local)+len(remote))
	for s := range r.local {
		symbols[s] = true
	}
	for s := range remoteBySym {
		symbols[s] = true
	}

	diffs := make([]Diff, 0, len(symbols))
	for sym := range symbols {
		local, hasLocal := r.local[sym]
		rem, hasRemote := remoteBySym[sym]
		d := Diff{
			Symbol:        sym,
			LocalQty:      local.Qty,
			RemoteQty:     rem.Qty,
			LocalAvgCost:  local.AvgCost,
			RemoteAvgCost: rem.AvgCost,
		}
		switch {
		case hasLocal && !hasRemote:
			d.Status = DiffLocalOnly
		case !hasLocal && hasRemote:
			d.Status = DiffRemoteOnly
		case r.withinTolerance(local.Qty, rem.Qty):
			d.Status = DiffSynced
		default:
			d.Status = DiffQuantityMismatch
		}
		diffs = append(diffs, d)
	}
	sort.Slice(diffs, func(i, j int) bool { return diffs[i].Symbol < diffs[j].Symbol })
	return diffs
}

func (r *Reconciler) withinTolerance(localQty, remoteQty float64) bool {
	diff := math.Abs(localQty - remoteQty)
	if diff == 0 {
		return true
	}
	base := math.Abs(remoteQty)
	if base == 0 {
		return false
	}
	return diff/base <= r.tolerancePct
}

func (r *Reconciler) notify(diffs []Diff, observers []Observer) {
	for _, d := range diffs {
		if d.Status == DiffSynced {
			continue
		}
		r.log.Warn("position drift",
			"symbol", d.Symbol, "status", string(d.Status),
			"local_qty", d.LocalQty, "remote_qty", d.RemoteQty)
		for _, fn := range observers {
			fn(d)
		}
		if r.bus != nil {
			r.bus.Publish(events.Event{
				Type:   events.PositionDrift,
				Source: "reconcile",
				Symbol: d.Symbol,
				Detail: map[string]string{
					"status":     string(d.Status),
					"local_qty":  strconv.FormatFloat(d.LocalQty, 'f', -1, 64),
					"remote_qty": strconv.FormatFloat(d.RemoteQty, 'f', -1, 64),
				},
				At: time.Now(),
			})
		}
	}
}

// PullSync replaces the local book with the broker's positions. This is
// the default corrective action: the brokerage settled the trades, so its
// book wins.
func (r *Reconciler) PullSync(ctx context.Context) ([]Diff, error) {
	r.syncMu.Lock()
	defer r.syncMu.Unlock()

	diffs, err := r.Compare(ctx)
	if err != nil {
		return nil, err
	}

	remote, err := r.broker.GetPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching broker positions: %w", err)
	}

	r.mu.Lock()
	r.local = make(map[string]domain.Position, len(remote))
	for _, p := range remote {
		r.local[p.Symbol] = p
	}
	r.mu.Unlock()
	return diffs, nil
}

// PushSync submits corrective market orders so the broker converges on the
// local book. Requires an order manager; never runs implicitly.
func (r *Reconciler) PushSync(ctx context.Context) ([]Diff, error) {
	if r.mgr == nil {
		return nil, fmt.Errorf("reconcile: push sync requires an order manager")
	}
	r.syncMu.Lock()
	defer r.syncMu.Unlock()

	diffs, err := r.Compare(ctx)
	if err != nil {
		return nil, err
	}

	for _, d := range diffs {
		if d.Status == DiffSynced {
			continue
		}
		delta := d.LocalQty - d.RemoteQty
		side := domain.OrderSideBuy
		if delta < 0 {
			side = domain.OrderSideSell
		}
		order, err := r.mgr.Create(ctx, engine.CreateOrderRequest{
			Symbol:   d.Symbol,
			Side:     side,
			Type:     domain.OrderTypeMarket,
			Qty:      math.Abs(delta),
			Metadata: map[string]string{"purpose": "reconcile"},
		})
		if err != nil {
			r.log.Error("corrective order create failed", "symbol", d.Symbol, "error", err)
			continue
		}
		if _, err := r.mgr.Submit(ctx, order.ID); err != nil {
			r.log.Error("corrective order submit failed", "symbol", d.Symbol, "error", err)
		}
	}
	return diffs, nil
}

// Run pulls on a fixed interval until ctx is cancelled. Meant to be run in
// its own goroutine.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.PullSync(ctx); err != nil {
				r.log.Error("periodic sync failed", "error", err)
			}
		}
	}
}
