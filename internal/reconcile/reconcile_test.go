package reconcile

import (
	"context"
	"math"
	"testing"

	"tradewind/internal/broker"
	"tradewind/internal/domain"
	"tradewind/internal/engine"
	"tradewind/internal/util"
)

func newSim(t *testing.T) *broker.SimulatorBroker {
	t.Helper()
	sim := broker.NewSimulatorBroker(1_000_000)
	if err := sim.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return sim
}

// buyAtBroker establishes a position on the broker side only.
func buyAtBroker(t *testing.T, sim *broker.SimulatorBroker, symbol string, qty, price float64) {
	t.Helper()
	sim.SetPrice(symbol, price)
	_, err := sim.SubmitOrder(context.Background(), &domain.Order{
		Symbol: symbol,
		Side:   domain.OrderSideBuy,
		Type:   domain.OrderTypeMarket,
		Qty:    qty,
	})
	if err != nil {
		t.Fatalf("broker buy %s: %v", symbol, err)
	}
}

func statusOf(diffs []Diff, symbol string) DiffStatus {
	for _, d := range diffs {
		if d.Symbol == symbol {
			return d.Status
		}
	}
	return ""
}

func TestApplyFill(t *testing.T) {
	r := New(newSim(t), 0, util.NewLogger("error", "text"))

	r.ApplyFill("AAPL", domain.OrderSideBuy, 100, 150)
	r.ApplyFill("AAPL", domain.OrderSideBuy, 100, 160)
	local := r.Local()
	if len(local) != 1 {
		t.Fatalf("local book = %d entries, want 1", len(local))
	}
	if local[0].Qty != 200 {
		t.Errorf("qty = %v, want 200", local[0].Qty)
	}
	if math.Abs(local[0].AvgCost-155) > 1e-9 {
		t.Errorf("avg cost = %v, want 155", local[0].AvgCost)
	}

	r.ApplyFill("AAPL", domain.OrderSideSell, 200, 170)
	if got := r.Local(); len(got) != 0 {
		t.Errorf("local book = %v, want empty after flat", got)
	}
}

func TestCompareClassification(t *testing.T) {
	sim := newSim(t)
	buyAtBroker(t, sim, "AAPL", 100, 150) // both sides agree
	buyAtBroker(t, sim, "MSFT", 50, 300)  // remote only
	buyAtBroker(t, sim, "NVDA", 80, 500)  // quantity mismatch

	r := New(sim, 0.01, util.NewLogger("error", "text"))
	r.ApplyFill("AAPL", domain.OrderSideBuy, 100, 150)
	r.ApplyFill("NVDA", domain.OrderSideBuy, 60, 500)
	r.ApplyFill("TSLA", domain.OrderSideBuy, 10, 200) // local only

	diffs, err := r.Compare(context.Background())
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}
	if len(diffs) != 4 {
		t.Fatalf("diffs = %d, want 4", len(diffs))
	}
	want := map[string]DiffStatus{
		"AAPL": DiffSynced,
		"MSFT": DiffRemoteOnly,
		"NVDA": DiffQuantityMismatch,
		"TSLA": DiffLocalOnly,
	}
	for sym, w := range want {
		if got := statusOf(diffs, sym); got != w {
			t.Errorf("%s status = %s, want %s", sym, got, w)
		}
	}
}

func TestCompareTolerance(t *testing.T) {
	sim := newSim(t)
	buyAtBroker(t, sim, "AAPL", 1000, 150)

	r := New(sim, 0.01, util.NewLogger("error", "text"))
	r.ApplyFill("AAPL", domain.OrderSideBuy, 995, 150) // 0.5% off, inside 1%

	diffs, err := r.Compare(context.Background())
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}
	if got := statusOf(diffs, "AAPL"); got != DiffSynced {
		t.Errorf("status = %s, want synced within tolerance", got)
	}
}

func TestObserversFireOnDrift(t *testing.T) {
	sim := newSim(t)
	buyAtBroker(t, sim, "MSFT", 50, 300)

	r := New(sim, 0, util.NewLogger("error", "text"))
	var seen []Diff
	r.Observe(func(d Diff) { seen = append(seen, d) })

	if _, err := r.Compare(context.Background()); err != nil {
		t.Fatalf("Compare: %v", err)
	}
	if len(seen) != 1 || seen[0].Symbol != "MSFT" || seen[0].Status != DiffRemoteOnly {
		t.Errorf("observed = %+v, want one MSFT remote_only drift", seen)
	}
}

func TestPullSync(t *testing.T) {
	sim := newSim(t)
	buyAtBroker(t, sim, "AAPL", 100, 150)

	r := New(sim, 0, util.NewLogger("error", "text"))
	r.ApplyFill("TSLA", domain.OrderSideBuy, 10, 200)

	if _, err := r.PullSync(context.Background()); err != nil {
		t.Fatalf("PullSync: %v", err)
	}
	local := r.Local()
	if len(local) != 1 || local[0].Symbol != "AAPL" || local[0].Qty != 100 {
		t.Errorf("local book = %+v, want only AAPL x100 from broker", local)
	}
}

func TestPushSync(t *testing.T) {
	sim := newSim(t)
	buyAtBroker(t, sim, "AAPL", 100, 150)

	mgr := engine.NewOrderManager(sim, nil, util.NewLogger("error", "text"))
	r := New(sim, 0, util.NewLogger("error", "text")).WithOrderManager(mgr)
	// Local book says 150 shares; the broker only has 100.
	r.ApplyFill("AAPL", domain.OrderSideBuy, 150, 150)

	if _, err := r.PushSync(context.Background()); err != nil {
		t.Fatalf("PushSync: %v", err)
	}

	remote, err := sim.GetPositions(context.Background())
	if err != nil {
		t.Fatalf("GetPositions: %v", err)
	}
	if len(remote) != 1 || remote[0].Qty != 150 {
		t.Errorf("broker positions = %+v, want AAPL x150 after correction", remote)
	}

	orders := mgr.List("")
	if len(orders) != 1 {
		t.Fatalf("corrective orders = %d, want 1", len(orders))
	}
	if orders[0].Metadata["purpose"] != "reconcile" {
		t.Errorf("corrective order purpose = %q, want reconcile", orders[0].Metadata["purpose"])
	}
}

func TestPushSyncRequiresManager(t *testing.T) {
	r := New(newSim(t), 0, util.NewLogger("error", "text"))
	if _, err := r.PushSync(context.Background()); err == nil {
		t.Error("PushSync without manager succeeded, want error")
	}
}
