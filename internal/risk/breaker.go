// Package risk implements the trading circuit breaker: a state machine that
// halts risk-bearing activity when loss or volatility thresholds are
// breached, and re-admits trading cautiously after a cooldown.
package risk

import (
	"log/slog"
	"sync"
	"time"

	"tradewind/internal/config"
	"tradewind/internal/events"
)

// State is the breaker's position in the closed/open/half-open cycle.
type State string

const (
	// StateClosed permits all trading.
	StateClosed State = "closed"
	// StateOpen blocks trading (optionally excepting position-closing orders).
	StateOpen State = "open"
	// StateHalfOpen cautiously permits trading after the cooldown.
	StateHalfOpen State = "half_open"
)

// Reason identifies which threshold tripped the breaker.
type Reason string

const (
	ReasonDrawdown          Reason = "drawdown"
	ReasonDailyLoss         Reason = "daily_loss"
	ReasonVaRBreach         Reason = "var_breach"
	ReasonVolatility        Reason = "volatility_spike"
	ReasonPositionLimit     Reason = "position_limit"
	ReasonConsecutiveLosses Reason = "consecutive_losses"
	ReasonAPIErrors         Reason = "api_errors"
	ReasonManual            Reason = "manual"
)

// Config holds breaker thresholds. A zero threshold disables that check.
type Config struct {
	MaxDrawdownPct       float64
	MaxDailyLossPct      float64
	MaxVaRPct            float64
	MaxVolatility        float64
	MaxPositionValue     float64
	MaxConsecutiveLosses int
	MaxAPIErrors         int
	Cooldown             time.Duration
	HalfOpenDuration     time.Duration
	AllowClosingTrades   bool
}

// ConfigFrom converts the file-level risk settings.
func ConfigFrom(rc config.RiskConfig) Config {
	return Config{
		MaxDrawdownPct:       rc.MaxDrawdownPct,
		MaxDailyLossPct:      rc.MaxDailyLossPct,
		MaxVaRPct:            rc.MaxVaRPct,
		MaxVolatility:        rc.MaxVolatility,
		MaxPositionValue:     rc.MaxPositionValue,
		MaxConsecutiveLosses: rc.MaxConsecutiveLosses,
		MaxAPIErrors:         rc.MaxAPIErrors,
		Cooldown:             time.Duration(rc.CooldownMinutes) * time.Minute,
		HalfOpenDuration:     time.Duration(rc.HalfOpenMinutes) * time.Minute,
		AllowClosingTrades:   rc.AllowClosingTrades,
	}
}

// Metrics is one periodic observation of book risk. DailyPnLPct is a signed
// fraction of equity; losses are negative.
type Metrics struct {
	DrawdownPct   float64
	DailyPnLPct   float64
	VaRPct        float64
	Volatility    float64
	PositionValue float64
}

// StateChange is one entry in the breaker's append-only event log.
type StateChange struct {
	From   State
	To     State
	Reason Reason
	At     time.Time
}

// Breaker is the per-book circuit breaker. All state is guarded by a single
// mutex; concurrent metric feeds cannot race past the open transition.
type Breaker struct {
	mu         sync.Mutex
	cfg        Config
	state      State
	reason     Reason
	trippedAt  time.Time
	halfOpenAt time.Time

	consecutiveLosses int
	apiErrors         int
	dailyPnLPct       float64

	history []StateChange

	bus *events.Bus
	log *slog.Logger
	now func() time.Time
}

// NewBreaker creates a closed Breaker. bus may be nil when no event feed is
// wanted.
func NewBreaker(cfg Config, bus *events.Bus, logger *slog.Logger) *Breaker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Breaker{
		cfg:   cfg,
		state: StateClosed,
		bus:   bus,
		log:   logger.With("component", "breaker"),
		now:   time.Now,
	}
}

// State returns the current state, advancing open → half_open → closed when
// the recovery durations have elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advance()
	return b.state
}

// Reason returns what tripped the breaker, or empty when it never tripped.
func (b *Breaker) Reason() Reason {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.reason
}

// CanTrade reports whether a trade may be submitted right now. While open,
// only position-closing trades are permitted, and only when the
// configuration allows closing trades. Half-open permits trading.
func (b *Breaker) CanTrade(isClosing bool) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advance()

	switch b.state {
	case StateClosed, StateHalfOpen:
		return true
	default: // open
		return isClosing && b.cfg.AllowClosingTrades
	}
}

// UpdateMetrics evaluates one risk observation against the metric
// thresholds, in fixed priority order: drawdown, daily loss, VaR,
// volatility, position limit. The first breached threshold trips the
// breaker; an already-open breaker does not re-trip.
//
// The two counter triggers rank below the metric triggers and are not
// re-checked here: RecordLoss and RecordAPIError trip at the moment their
// counter breaches, so a counter at or past its limit has already opened
// the breaker. Counters persist through half-open until full close, and
// re-evaluating them on a metrics observation would re-trip a recovering
// breaker without any new loss.
func (b *Breaker) UpdateMetrics(m Metrics) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advance()

	b.dailyPnLPct = m.DailyPnLPct

	switch {
	case b.cfg.MaxDrawdownPct > 0 && m.DrawdownPct >= b.cfg.MaxDrawdownPct:
		b.trip(ReasonDrawdown)
	case b.cfg.MaxDailyLossPct > 0 && m.DailyPnLPct <= -b.cfg.MaxDailyLossPct:
		b.trip(ReasonDailyLoss)
	case b.cfg.MaxVaRPct > 0 && m.VaRPct >= b.cfg.MaxVaRPct:
		b.trip(ReasonVaRBreach)
	case b.cfg.MaxVolatility > 0 && m.Volatility >= b.cfg.MaxVolatility:
		b.trip(ReasonVolatility)
	case b.cfg.MaxPositionValue > 0 && m.PositionValue >= b.cfg.MaxPositionValue:
		b.trip(ReasonPositionLimit)
	}
}

// RecordLoss increments the consecutive-loss counter and trips the breaker
// when the configured streak is reached.
func (b *Breaker) RecordLoss() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advance()

	b.consecutiveLosses++
	if b.cfg.MaxConsecutiveLosses > 0 && b.consecutiveLosses >= b.cfg.MaxConsecutiveLosses {
		b.trip(ReasonConsecutiveLosses)
	}
}

// RecordWin resets the consecutive-loss counter.
func (b *Breaker) RecordWin() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveLosses = 0
}

// RecordAPIError increments the broker-error counter and trips the breaker
// when the configured limit is reached.
func (b *Breaker) RecordAPIError() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advance()

	b.apiErrors++
	if b.cfg.MaxAPIErrors > 0 && b.apiErrors >= b.cfg.MaxAPIErrors {
		b.trip(ReasonAPIErrors)
	}
}

// ManualTrip opens the breaker immediately, bypassing all thresholds.
func (b *Breaker) ManualTrip() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.trip(ReasonManual)
}

// ManualReset closes the breaker immediately and clears all counters.
func (b *Breaker) ManualReset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transition(StateClosed, ReasonManual)
	b.resetCounters()
}

// History returns a copy of the append-only state-change log.
func (b *Breaker) History() []StateChange {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]StateChange, len(b.history))
	copy(out, b.history)
	return out
}

// trip latches the breaker open. Callers hold b.mu.
func (b *Breaker) trip(reason Reason) {
	if b.state == StateOpen {
		return
	}
	b.reason = reason
	b.trippedAt = b.now()
	b.transition(StateOpen, reason)
}

// advance applies time-based recovery. Callers hold b.mu.
func (b *Breaker) advance() {
	now := b.now()

	if b.state == StateOpen && b.cfg.Cooldown > 0 && !now.Before(b.trippedAt.Add(b.cfg.Cooldown)) {
		b.halfOpenAt = b.trippedAt.Add(b.cfg.Cooldown)
		b.transition(StateHalfOpen, b.reason)
	}
	if b.state == StateHalfOpen && b.cfg.HalfOpenDuration > 0 && !now.Before(b.halfOpenAt.Add(b.cfg.HalfOpenDuration)) {
		b.transition(StateClosed, b.reason)
		b.resetCounters()
	}
}

// resetCounters clears the rolling counters. Callers hold b.mu.
func (b *Breaker) resetCounters() {
	b.consecutiveLosses = 0
	b.apiErrors = 0
	b.dailyPnLPct = 0
}

// transition records and publishes a state change. Callers hold b.mu.
func (b *Breaker) transition(to State, reason Reason) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	change := StateChange{From: from, To: to, Reason: reason, At: b.now()}
	b.history = append(b.history, change)

	b.log.Warn("breaker state change",
		"from", string(from), "to", string(to), "reason", string(reason))

	if b.bus != nil {
		var typ events.Type
		switch to {
		case StateOpen:
			typ = events.BreakerTripped
		case StateHalfOpen:
			typ = events.BreakerHalfOpen
		default:
			typ = events.BreakerClosed
		}
		b.bus.Publish(events.Event{
			Type:   typ,
			Source: "breaker",
			Detail: map[string]string{"reason": string(reason), "from": string(from)},
			At:     change.At,
		})
	}
}
