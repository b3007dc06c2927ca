package risk

import (
	"testing"
	"time"
)

// fakeClock lets tests drive the breaker's recovery timing.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(cfg Config) (*Breaker, *fakeClock) {
	b := NewBreaker(cfg, nil, nil)
	clk := &fakeClock{t: time.Date(2024, 6, 12, 10, 0, 0, 0, time.UTC)}
	b.now = clk.now
	return b, clk
}

func TestBreakerStartsClosed(t *testing.T) {
	b, _ := newTestBreaker(Config{})
	if got := b.State(); got != StateClosed {
		t.Errorf("State() = %q, want %q", got, StateClosed)
	}
	if !b.CanTrade(false) {
		t.Error("CanTrade(false) should be true while closed")
	}
}

func TestBreakerTripsOnDailyLoss(t *testing.T) {
	b, _ := newTestBreaker(Config{MaxDailyLossPct: 0.05})

	b.UpdateMetrics(Metrics{DailyPnLPct: -0.06})

	if got := b.State(); got != StateOpen {
		t.Fatalf("State() after loss breach = %q, want %q", got, StateOpen)
	}
	if got := b.Reason(); got != ReasonDailyLoss {
		t.Errorf("Reason() = %q, want %q", got, ReasonDailyLoss)
	}
	// Immediately after the trip it is still open.
	if got := b.State(); got != StateOpen {
		t.Errorf("State() immediately after trip = %q, want open", got)
	}
	if b.CanTrade(false) {
		t.Error("CanTrade(false) should be false while open")
	}
}

func TestBreakerTriggerPriority(t *testing.T) {
	b, _ := newTestBreaker(Config{
		MaxDrawdownPct:  0.10,
		MaxDailyLossPct: 0.05,
	})

	// Both thresholds breached at once: drawdown has priority.
	b.UpdateMetrics(Metrics{DrawdownPct: 0.12, DailyPnLPct: -0.08})

	if got := b.Reason(); got != ReasonDrawdown {
		t.Errorf("Reason() = %q, want %q (priority order)", got, ReasonDrawdown)
	}
}

func TestBreakerDoesNotRetrip(t *testing.T) {
	b, _ := newTestBreaker(Config{MaxDailyLossPct: 0.05, MaxVaRPct: 0.03})

	b.UpdateMetrics(Metrics{DailyPnLPct: -0.06})
	b.UpdateMetrics(Metrics{VaRPct: 0.10})

	if got := b.Reason(); got != ReasonDailyLoss {
		t.Errorf("Reason() = %q, want first trip reason %q", got, ReasonDailyLoss)
	}
	if changes := b.History(); len(changes) != 1 {
		t.Errorf("History() has %d entries, want 1 (open is latched)", len(changes))
	}
}

func TestBreakerClosingTradesAllowedWhileOpen(t *testing.T) {
	b, _ := newTestBreaker(Config{MaxDailyLossPct: 0.05, AllowClosingTrades: true})
	b.UpdateMetrics(Metrics{DailyPnLPct: -0.06})

	if b.CanTrade(false) {
		t.Error("CanTrade(false) should be false while open")
	}
	if !b.CanTrade(true) {
		t.Error("CanTrade(true) should be true while open with closing trades enabled")
	}

	// With closing trades disabled, even closing orders are blocked.
	b2, _ := newTestBreaker(Config{MaxDailyLossPct: 0.05})
	b2.UpdateMetrics(Metrics{DailyPnLPct: -0.06})
	if b2.CanTrade(true) {
		t.Error("CanTrade(true) should be false when closing trades are disabled")
	}
}

func TestBreakerRecovery(t *testing.T) {
	cfg := Config{
		MaxDailyLossPct:  0.05,
		Cooldown:         30 * time.Minute,
		HalfOpenDuration: 15 * time.Minute,
	}
	b, clk := newTestBreaker(cfg)

	b.UpdateMetrics(Metrics{DailyPnLPct: -0.06})
	b.RecordLoss()
	b.RecordAPIError()

	// Mid-cooldown: still open.
	clk.advance(29 * time.Minute)
	if got := b.State(); got != StateOpen {
		t.Fatalf("State() during cooldown = %q, want open", got)
	}

	// After cooldown: half-open, trading permitted.
	clk.advance(2 * time.Minute)
	if got := b.State(); got != StateHalfOpen {
		t.Fatalf("State() after cooldown = %q, want half_open", got)
	}
	if !b.CanTrade(false) {
		t.Error("CanTrade(false) should be true while half-open")
	}

	// After the half-open window: closed, counters reset.
	clk.advance(15 * time.Minute)
	if got := b.State(); got != StateClosed {
		t.Fatalf("State() after half-open window = %q, want closed", got)
	}
	b.mu.Lock()
	losses, apiErrs := b.consecutiveLosses, b.apiErrors
	b.mu.Unlock()
	if losses != 0 || apiErrs != 0 {
		t.Errorf("counters after recovery = (%d, %d), want (0, 0)", losses, apiErrs)
	}
}

func TestHalfOpenMetricsIgnoreStaleCounters(t *testing.T) {
	cfg := Config{
		MaxConsecutiveLosses: 2,
		Cooldown:             30 * time.Minute,
		HalfOpenDuration:     15 * time.Minute,
	}
	b, clk := newTestBreaker(cfg)

	b.RecordLoss()
	b.RecordLoss()
	if got := b.State(); got != StateOpen {
		t.Fatalf("State() after loss streak = %q, want open", got)
	}

	// Counters only reset at full close, so the loss streak is still at
	// the limit during half-open. A clean metrics observation must not
	// re-trip off it.
	clk.advance(31 * time.Minute)
	if got := b.State(); got != StateHalfOpen {
		t.Fatalf("State() after cooldown = %q, want half_open", got)
	}
	b.UpdateMetrics(Metrics{DailyPnLPct: 0.01})
	if got := b.State(); got != StateHalfOpen {
		t.Errorf("State() after clean metrics = %q, want half_open", got)
	}

	// A fresh loss during half-open does re-trip.
	b.RecordLoss()
	if got := b.State(); got != StateOpen {
		t.Errorf("State() after half-open loss = %q, want open", got)
	}
}

func TestBreakerConsecutiveLosses(t *testing.T) {
	b, _ := newTestBreaker(Config{MaxConsecutiveLosses: 3})

	b.RecordLoss()
	b.RecordLoss()
	b.RecordWin() // streak broken
	b.RecordLoss()
	b.RecordLoss()
	if got := b.State(); got != StateClosed {
		t.Fatalf("State() at streak 2 = %q, want closed", got)
	}

	b.RecordLoss()
	if got := b.State(); got != StateOpen {
		t.Errorf("State() at streak 3 = %q, want open", got)
	}
	if got := b.Reason(); got != ReasonConsecutiveLosses {
		t.Errorf("Reason() = %q, want %q", got, ReasonConsecutiveLosses)
	}
}

func TestBreakerAPIErrors(t *testing.T) {
	b, _ := newTestBreaker(Config{MaxAPIErrors: 2})

	b.RecordAPIError()
	if got := b.State(); got != StateClosed {
		t.Fatalf("State() after one API error = %q, want closed", got)
	}
	b.RecordAPIError()
	if got := b.State(); got != StateOpen {
		t.Errorf("State() after two API errors = %q, want open", got)
	}
}

func TestBreakerManualTripAndReset(t *testing.T) {
	b, _ := newTestBreaker(Config{})

	b.ManualTrip()
	if got := b.State(); got != StateOpen {
		t.Fatalf("State() after ManualTrip = %q, want open", got)
	}
	if got := b.Reason(); got != ReasonManual {
		t.Errorf("Reason() = %q, want %q", got, ReasonManual)
	}

	b.ManualReset()
	if got := b.State(); got != StateClosed {
		t.Errorf("State() after ManualReset = %q, want closed", got)
	}

	history := b.History()
	if len(history) != 2 {
		t.Fatalf("History() has %d entries, want 2", len(history))
	}
	if history[0].To != StateOpen || history[1].To != StateClosed {
		t.Errorf("History transitions = %+v, want open then closed", history)
	}
}

func TestMultiLevelBreaker(t *testing.T) {
	notify, _ := newTestBreaker(Config{MaxDailyLossPct: 0.02, AllowClosingTrades: true})
	pauseNew, _ := newTestBreaker(Config{MaxDailyLossPct: 0.05, AllowClosingTrades: true})
	fullStop, _ := newTestBreaker(Config{MaxDailyLossPct: 0.10})

	ml := NewMultiLevel(
		Level{Name: "notify", Breaker: notify},
		Level{Name: "pause_new", Breaker: pauseNew},
		Level{Name: "full_stop", Breaker: fullStop},
	)

	if _, ok := ml.HighestTripped(); ok {
		t.Error("HighestTripped() should report nothing before any trip")
	}
	if !ml.CanTrade(false) {
		t.Error("CanTrade(false) should be true before any trip")
	}

	// A 6% loss trips notify and pause_new but not full_stop.
	ml.UpdateMetrics(Metrics{DailyPnLPct: -0.06})

	name, ok := ml.HighestTripped()
	if !ok || name != "pause_new" {
		t.Errorf("HighestTripped() = (%q, %v), want (pause_new, true)", name, ok)
	}
	if ml.CanTrade(false) {
		t.Error("CanTrade(false) should be false once any level blocks")
	}
	if !ml.CanTrade(true) {
		t.Error("CanTrade(true) should be true while only close-friendly levels are open")
	}

	// A 12% loss trips full_stop, which blocks even closing trades.
	ml.UpdateMetrics(Metrics{DailyPnLPct: -0.12})
	name, _ = ml.HighestTripped()
	if name != "full_stop" {
		t.Errorf("HighestTripped() = %q, want full_stop", name)
	}
	if ml.CanTrade(true) {
		t.Error("CanTrade(true) should be false once full_stop is open")
	}
}
