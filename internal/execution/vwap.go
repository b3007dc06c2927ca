// Package execution schedules large parent orders as sequences of child
// slices tracking a volume-weighted average price target.
package execution

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"tradewind/internal/config"
	"tradewind/internal/domain"
	"tradewind/internal/engine"
	"tradewind/internal/events"
	"tradewind/internal/slippage"
)

// Gate gives risk controls a veto over new child orders. A nil gate always
// allows trading.
type Gate interface {
	CanTrade(isClosing bool) bool
}

// MarketData supplies the market observations slicing depends on.
// CurrentPrice is required. SliceVolume reports market volume traded over
// the most recent slice interval and may be nil, which disables
// participation clamping. Conditions may be nil; the estimator then runs on
// zero-value conditions.
type MarketData struct {
	CurrentPrice func(ctx context.Context, symbol string) (float64, error)
	SliceVolume  func(ctx context.Context, symbol string) (float64, error)
	Conditions   func(ctx context.Context, symbol string) (slippage.MarketConditions, error)
}

// Config holds the slicing knobs.
type Config struct {
	Duration             time.Duration
	SliceInterval        time.Duration
	MaxParticipationRate float64
	MinSliceQty          float64
	LimitOffsetPct       float64
	AggressiveOffsetPct  float64
	CatchUpThreshold     float64
	UrgencyFactor        float64
	UseLimitOrders       bool
	AdaptToMarket        bool
}

// ConfigFrom converts the file-level execution settings.
func ConfigFrom(ec config.ExecutionConfig) Config {
	return Config{
		Duration:             time.Duration(ec.DurationMinutes) * time.Minute,
		SliceInterval:        time.Duration(ec.SliceIntervalMinutes) * time.Minute,
		MaxParticipationRate: ec.MaxParticipationRate,
		MinSliceQty:          ec.MinSliceQty,
		LimitOffsetPct:       ec.LimitOffsetPct,
		AggressiveOffsetPct:  ec.AggressiveOffsetPct,
		CatchUpThreshold:     ec.CatchUpThreshold,
		UrgencyFactor:        ec.UrgencyFactor,
		UseLimitOrders:       ec.UseLimitOrders,
		AdaptToMarket:        ec.AdaptToMarket,
	}
}

// SliceStatus classifies the outcome of one slice.
type SliceStatus string

const (
	SliceDone    SliceStatus = "completed"
	SliceFail    SliceStatus = "failed"
	SliceSkipped SliceStatus = "skipped"
)

// SliceResult records one slice of the plan.
type SliceResult struct {
	Index     int
	TargetQty float64
	FilledQty float64
	AvgPrice  float64
	OrderID   string
	Status    SliceStatus
	Reason    string
}

// Result summarizes a finished plan. IsComplete is true when at least 99%
// of the parent quantity filled.
type Result struct {
	Symbol            string
	Side              domain.OrderSide
	TotalQty          float64
	TotalFilled       float64
	AvgFillPrice      float64
	ParticipationRate float64
	BehindSchedule    bool
	IsComplete        bool
	Cancelled         bool
	Slices            []SliceResult
}

// Scheduler executes one parent order at a time as a VWAP slice plan.
// Pause, Resume and Cancel act cooperatively: the running plan observes
// them at wait boundaries, never mid-submission.
type Scheduler struct {
	cfg  Config
	mgr  *engine.OrderManager
	md   MarketData
	est  slippage.Estimator
	gate Gate
	bus  *events.Bus
	log  *slog.Logger

	mu        sync.Mutex
	paused    bool
	cancelled bool
	resume    chan struct{}

	sleep func(ctx context.Context, d time.Duration) error
}

// NewScheduler builds a scheduler submitting through mgr. est prices limit
// orders and may be nil when UseLimitOrders is off; gate and bus are
// optional.
func NewScheduler(cfg Config, mgr *engine.OrderManager, md MarketData, est slippage.Estimator, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SliceInterval <= 0 {
		cfg.SliceInterval = 30 * time.Minute
	}
	if cfg.Duration <= 0 {
		cfg.Duration = 6*time.Hour + 30*time.Minute
	}
	if cfg.CatchUpThreshold <= 0 {
		cfg.CatchUpThreshold = 0.20
	}
	if cfg.UrgencyFactor <= 0 {
		cfg.UrgencyFactor = 1.5
	}
	return &Scheduler{
		cfg:    cfg,
		mgr:    mgr,
		md:     md,
		est:    est,
		log:    logger.With("component", "execution"),
		resume: make(chan struct{}),
		sleep:  sleepCtx,
	}
}

// WithGate attaches a trading gate consulted before each slice.
func (s *Scheduler) WithGate(g Gate) *Scheduler {
	s.gate = g
	return s
}

// WithBus attaches an event feed for plan and slice transitions.
func (s *Scheduler) WithBus(bus *events.Bus) *Scheduler {
	s.bus = bus
	return s
}

// Pause suspends slicing before the next slice. Already-submitted child
// orders are unaffected.
func (s *Scheduler) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.paused {
		s.paused = true
		s.resume = make(chan struct{})
	}
}

// Resume releases a paused plan.
func (s *Scheduler) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paused {
		s.paused = false
		close(s.resume)
	}
}

// Cancel stops the plan at the next wait boundary. Remaining slices are
// never submitted.
func (s *Scheduler) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled = true
	if s.paused {
		s.paused = false
		close(s.resume)
	}
}

// Execute runs a full slice plan for totalQty of symbol. profile supplies
// per-slice weights; nil selects the default intraday profile sized by
// Duration/SliceInterval. Execute blocks until the plan finishes, is
// cancelled, or ctx is done.
func (s *Scheduler) Execute(ctx context.Context, symbol string, side domain.OrderSide, totalQty float64, profile []float64) (*Result, error) {
	if totalQty <= 0 {
		return nil, fmt.Errorf("execution: total quantity %v must be positive", totalQty)
	}
	if s.md.CurrentPrice == nil {
		return nil, fmt.Errorf("execution: market data price source required")
	}

	s.mu.Lock()
	s.cancelled = false
	s.mu.Unlock()

	if profile == nil {
		n := int(s.cfg.Duration / s.cfg.SliceInterval)
		if n < 1 {
			n = 1
		}
		profile = DefaultIntradayProfile(n)
	} else if profile = Normalize(profile); profile == nil {
		return nil, fmt.Errorf("execution: profile has no positive weight")
	}
	targets := SliceTargets(totalQty, profile)

	res := &Result{Symbol: symbol, Side: side, TotalQty: totalQty}
	s.publish(events.PlanStarted, symbol, "", map[string]string{
		"total_qty": strconv.FormatFloat(totalQty, 'f', -1, 64),
		"slices":    strconv.Itoa(len(targets)),
	})

	marketVolume := 0.0
	scheduled := 0.0

	for i, target := range targets {
		if i > 0 {
			if err := s.sleep(ctx, s.cfg.SliceInterval); err != nil {
				return s.finish(res, marketVolume), err
			}
		}
		if err := s.checkpoint(ctx); err != nil {
			if err == errCancelled {
				res.Cancelled = true
				s.publish(events.PlanCancelled, symbol, "", nil)
				return s.finish(res, marketVolume), nil
			}
			return s.finish(res, marketVolume), err
		}

		// Behind means the shortfall against everything scheduled before
		// this slice exceeds the threshold.
		behind := (scheduled-res.TotalFilled)/totalQty > s.cfg.CatchUpThreshold
		if behind {
			res.BehindSchedule = true
		}
		scheduled += target

		if s.gate != nil && !s.gate.CanTrade(false) {
			s.log.Warn("slice skipped, trading halted", "symbol", symbol, "slice", i)
			res.Slices = append(res.Slices, SliceResult{Index: i, TargetQty: target, Status: SliceSkipped, Reason: "trading halted"})
			continue
		}

		qty := scheduled - res.TotalFilled
		if behind {
			qty *= s.cfg.UrgencyFactor
		}
		if volume, ok := s.sliceVolume(ctx, symbol); ok {
			marketVolume += volume
			if s.cfg.AdaptToMarket && s.cfg.MaxParticipationRate > 0 {
				if limit := volume * s.cfg.MaxParticipationRate; qty > limit {
					qty = limit
				}
			}
		}
		if qty < s.cfg.MinSliceQty {
			qty = s.cfg.MinSliceQty
		}
		if remaining := totalQty - res.TotalFilled; qty > remaining {
			qty = remaining
		}
		if qty <= 0 {
			continue
		}

		slice := s.runSlice(ctx, symbol, side, i, target, qty, behind)
		res.Slices = append(res.Slices, slice)
		if slice.Status == SliceDone && slice.FilledQty > 0 {
			newTotal := res.TotalFilled + slice.FilledQty
			res.AvgFillPrice = (res.TotalFilled*res.AvgFillPrice + slice.FilledQty*slice.AvgPrice) / newTotal
			res.TotalFilled = newTotal
		}
		if res.TotalFilled >= totalQty {
			break
		}
	}

	s.publish(events.PlanCompleted, symbol, "", map[string]string{
		"filled": strconv.FormatFloat(res.TotalFilled, 'f', -1, 64),
	})
	return s.finish(res, marketVolume), nil
}

// runSlice creates, submits, and settles one child order. Any failure marks
// the slice failed; the plan keeps going.
func (s *Scheduler) runSlice(ctx context.Context, symbol string, side domain.OrderSide, idx int, target, qty float64, behind bool) SliceResult {
	slice := SliceResult{Index: idx, TargetQty: target}

	price, err := s.md.CurrentPrice(ctx, symbol)
	if err != nil {
		return s.failSlice(slice, symbol, fmt.Errorf("price lookup: %w", err))
	}

	req := engine.CreateOrderRequest{
		Symbol: symbol,
		Side:   side,
		Type:   domain.OrderTypeMarket,
		Qty:    qty,
		Metadata: map[string]string{
			"strategy": "vwap",
			"slice":    strconv.Itoa(idx),
		},
	}
	if s.cfg.UseLimitOrders {
		req.Type = domain.OrderTypeLimit
		req.LimitPrice = s.limitPrice(ctx, symbol, side, price, qty, behind)
	}

	order, err := s.mgr.Create(ctx, req)
	if err != nil {
		return s.failSlice(slice, symbol, err)
	}
	slice.OrderID = order.ID

	// Submit applies any synchronous fills from the broker's echo itself.
	if _, err := s.mgr.Submit(ctx, order.ID); err != nil {
		return s.failSlice(slice, symbol, err)
	}

	final, err := s.mgr.Get(order.ID)
	if err != nil {
		return s.failSlice(slice, symbol, err)
	}
	slice.FilledQty = final.FilledQty
	slice.AvgPrice = final.FilledAvgPrice
	slice.Status = SliceDone
	s.publish(events.SliceCompleted, symbol, order.ID, map[string]string{
		"slice":  strconv.Itoa(idx),
		"filled": strconv.FormatFloat(slice.FilledQty, 'f', -1, 64),
	})
	return slice
}

// limitPrice derives a child limit price from the estimator's expected
// execution price plus a configured offset, widened when behind schedule.
func (s *Scheduler) limitPrice(ctx context.Context, symbol string, side domain.OrderSide, price, qty float64, behind bool) float64 {
	base := price
	if s.est != nil {
		mc := slippage.MarketConditions{}
		if s.md.Conditions != nil {
			if got, err := s.md.Conditions(ctx, symbol); err == nil {
				mc = got
			}
		}
		base = s.est.Estimate(price, qty, side, mc).ExecPrice
	}
	offset := s.cfg.LimitOffsetPct
	if behind && s.cfg.AggressiveOffsetPct > offset {
		offset = s.cfg.AggressiveOffsetPct
	}
	if side == domain.OrderSideBuy {
		return base * (1 + offset)
	}
	return base * (1 - offset)
}

func (s *Scheduler) failSlice(slice SliceResult, symbol string, err error) SliceResult {
	slice.Status = SliceFail
	slice.Reason = err.Error()
	s.log.Error("slice failed", "symbol", symbol, "slice", slice.Index, "error", err)
	s.publish(events.SliceFailed, symbol, slice.OrderID, map[string]string{
		"slice":  strconv.Itoa(slice.Index),
		"reason": err.Error(),
	})
	return slice
}

func (s *Scheduler) sliceVolume(ctx context.Context, symbol string) (float64, bool) {
	if s.md.SliceVolume == nil {
		return 0, false
	}
	volume, err := s.md.SliceVolume(ctx, symbol)
	if err != nil {
		s.log.Warn("slice volume lookup failed", "symbol", symbol, "error", err)
		return 0, false
	}
	return volume, true
}

var errCancelled = fmt.Errorf("execution: plan cancelled")

// checkpoint observes pause and cancel requests. It blocks while paused.
func (s *Scheduler) checkpoint(ctx context.Context) error {
	for {
		s.mu.Lock()
		if s.cancelled {
			s.mu.Unlock()
			return errCancelled
		}
		if !s.paused {
			s.mu.Unlock()
			return nil
		}
		resume := s.resume
		s.mu.Unlock()

		select {
		case <-resume:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Scheduler) finish(res *Result, marketVolume float64) *Result {
	if marketVolume > 0 {
		res.ParticipationRate = res.TotalFilled / marketVolume
	}
	res.IsComplete = res.TotalFilled >= 0.99*res.TotalQty
	return res
}

func (s *Scheduler) publish(typ events.Type, symbol, orderID string, detail map[string]string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(events.Event{
		Type:    typ,
		Source:  "execution",
		Symbol:  symbol,
		OrderID: orderID,
		Detail:  detail,
		At:      time.Now(),
	})
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
