package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"tradewind/internal/broker"
	"tradewind/internal/config"
	"tradewind/internal/domain"
	"tradewind/internal/engine"
	"tradewind/internal/events"
	"tradewind/internal/reconcile"
	"tradewind/internal/risk"
	"tradewind/internal/store"
	"tradewind/internal/util"
)

func main() {
	_ = godotenv.Load()

	cfgPath := "config/tradewind.yaml"
	if p := os.Getenv("TRADEWIND_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Fatalf("failed to load config: %v", err)
		}
		cfg = config.Default()
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	sqlStore, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("failed to open sqlite store: %v", err)
	}
	defer sqlStore.Close()

	bus := events.NewBus()
	defer bus.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	mgr := broker.NewManager(logger)
	if cfg.Alpaca.APIKey != "" && cfg.Alpaca.APISecret != "" {
		mgr.Register(broker.NewAlpacaBroker(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.BaseURL))
	}
	mgr.Register(broker.NewSimulatorBroker(100_000))
	if err := mgr.ConnectAll(ctx); err != nil {
		logger.Warn("not all brokers connected", "error", err)
	}
	primary := mgr.Primary()
	if primary == nil || !primary.IsConnected() {
		log.Fatalf("no connected broker available")
	}
	logger.Info("trading via broker", "broker", primary.Name())

	breaker := risk.NewMultiLevel(
		risk.Level{Name: "account", Breaker: risk.NewBreaker(risk.ConfigFrom(cfg.Risk), bus, logger)},
	)

	orders := engine.NewOrderManager(primary, bus, logger).
		WithStores(sqlStore, sqlStore)

	reconciler := reconcile.New(primary, cfg.Reconcile.TolerancePct, logger).
		WithOrderManager(orders).
		WithBus(bus)
	go reconciler.Run(ctx, time.Duration(cfg.Reconcile.IntervalSeconds)*time.Second)

	// Fold fill events into the local position book so the reconciler always
	// compares against what the engine believes it executed, and persist
	// breaker transitions for the audit trail.
	sub := bus.Subscribe(256)
	go func() {
		for evt := range sub.C {
			switch evt.Type {
			case events.OrderPartial, events.OrderFilled:
				applyFillEvent(reconciler, orders, evt)
			case events.BreakerTripped, events.BreakerHalfOpen, events.BreakerClosed:
				saveBreakerEvent(ctx, sqlStore, evt, logger)
			}
		}
	}()

	go pollAccountRisk(ctx, primary, breaker, logger)

	logger.Info("tradewind-trader started", "config", cfgPath)
	<-ctx.Done()
	logger.Info("shutting down")
}

func applyFillEvent(r *reconcile.Reconciler, orders *engine.OrderManager, evt events.Event) {
	o, err := orders.Get(evt.OrderID)
	if err != nil {
		return
	}
	qty, err1 := strconv.ParseFloat(evt.Detail["fill_qty"], 64)
	price, err2 := strconv.ParseFloat(evt.Detail["fill_price"], 64)
	if err1 != nil || err2 != nil {
		return
	}
	r.ApplyFill(o.Symbol, o.Side, qty, price)
}

func saveBreakerEvent(ctx context.Context, st store.BreakerEventStore, evt events.Event, logger *slog.Logger) {
	to := "closed"
	switch evt.Type {
	case events.BreakerTripped:
		to = "open"
	case events.BreakerHalfOpen:
		to = "half_open"
	}
	err := st.SaveBreakerEvent(ctx, store.BreakerEvent{
		FromState: evt.Detail["from"],
		ToState:   to,
		Reason:    evt.Detail["reason"],
		At:        evt.At,
	})
	if err != nil {
		logger.Error("persisting breaker event failed", "error", err)
	}
}

// pollAccountRisk snapshots the account once a minute and feeds drawdown,
// daily loss, and exposure observations to the breaker. The daily PnL
// anchor resets at the exchange-local day rollover; the drawdown peak
// persists across days.
func pollAccountRisk(ctx context.Context, b broker.Broker, breaker *risk.MultiLevel, logger *slog.Logger) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	cal := util.NewTradingCalendar(domain.MarketUS)
	var dayOpenEquity, peakEquity float64
	var dayAnchor time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		account, err := b.GetAccount(ctx)
		if err != nil {
			breaker.RecordAPIError()
			logger.Warn("account poll failed", "error", err)
			continue
		}
		if now := time.Now(); dayAnchor.IsZero() || !cal.SameTradingDay(dayAnchor, now) {
			dayAnchor = now
			dayOpenEquity = account.Equity
		}
		if account.Equity > peakEquity {
			peakEquity = account.Equity
		}

		var m risk.Metrics
		if peakEquity > 0 {
			m.DrawdownPct = (peakEquity - account.Equity) / peakEquity
		}
		if dayOpenEquity > 0 {
			m.DailyPnLPct = (account.Equity - dayOpenEquity) / dayOpenEquity
		}
		if positions, err := b.GetPositions(ctx); err == nil {
			for _, p := range positions {
				m.PositionValue += p.MarketValue
			}
		}
		breaker.UpdateMetrics(m)
	}
}
