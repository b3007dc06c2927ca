// One-shot tool: run a single VWAP slice plan against the configured
// broker and print the execution summary.
//
// Usage:
//
//	go run cmd/tradewind-vwap/main.go SYMBOL buy|sell QTY [PRICE]
//
// PRICE marks the symbol on the simulator; live brokers ignore it.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"tradewind/internal/broker"
	"tradewind/internal/config"
	"tradewind/internal/domain"
	"tradewind/internal/engine"
	"tradewind/internal/execution"
	"tradewind/internal/slippage"
	"tradewind/internal/store"
	"tradewind/internal/util"
)

func main() {
	if len(os.Args) < 4 {
		fmt.Fprintln(os.Stderr, "usage: tradewind-vwap SYMBOL buy|sell QTY [PRICE]")
		os.Exit(1)
	}
	symbol := strings.ToUpper(os.Args[1])
	side := domain.OrderSide(strings.ToLower(os.Args[2]))
	if side != domain.OrderSideBuy && side != domain.OrderSideSell {
		fmt.Fprintf(os.Stderr, "side must be buy or sell, got %q\n", os.Args[2])
		os.Exit(1)
	}
	qty, err := strconv.ParseFloat(os.Args[3], 64)
	if err != nil || qty <= 0 {
		fmt.Fprintf(os.Stderr, "bad quantity %q\n", os.Args[3])
		os.Exit(1)
	}
	mark := 0.0
	if len(os.Args) > 4 {
		if mark, err = strconv.ParseFloat(os.Args[4], 64); err != nil {
			fmt.Fprintf(os.Stderr, "bad price %q\n", os.Args[4])
			os.Exit(1)
		}
	}

	_ = godotenv.Load()
	cfgPath := "config/tradewind.yaml"
	if p := os.Getenv("TRADEWIND_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
			os.Exit(1)
		}
		cfg = config.Default()
	}
	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var bk broker.Broker
	if cfg.Alpaca.APIKey != "" && cfg.Alpaca.APISecret != "" {
		bk = broker.NewAlpacaBroker(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.BaseURL)
	} else {
		sim := broker.NewSimulatorBroker(1_000_000)
		if mark > 0 {
			sim.SetPrice(symbol, mark)
		}
		bk = sim
	}
	if err := bk.Connect(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "broker connect: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("executing %s %s x%.0f via %s\n", side, symbol, qty, bk.Name())

	orders := engine.NewOrderManager(bk, nil, logger)
	estimator := slippage.Precision{
		Eta:   cfg.Slippage.TemporaryCoeff,
		Gamma: cfg.Slippage.PermanentCoeff,
	}
	md := execution.MarketData{
		CurrentPrice: func(ctx context.Context, sym string) (float64, error) {
			if mark > 0 {
				return mark, nil
			}
			return 0, broker.ErrNoPrice
		},
	}

	scheduler := execution.NewScheduler(execution.ConfigFrom(cfg.Execution), orders, md, estimator, logger)

	profile := historicalProfile(ctx, cfg, symbol)
	res, err := scheduler.Execute(ctx, symbol, side, qty, profile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "execution failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("\nfilled %.0f / %.0f (complete=%v, behind=%v)\n",
		res.TotalFilled, res.TotalQty, res.IsComplete, res.BehindSchedule)
	fmt.Printf("avg fill price: %.4f\n", res.AvgFillPrice)
	for _, sl := range res.Slices {
		fmt.Printf("  slice %2d: target %8.0f filled %8.0f @ %.4f [%s] %s\n",
			sl.Index, sl.TargetQty, sl.FilledQty, sl.AvgPrice, sl.Status, sl.Reason)
	}
}

// historicalProfile tries the last five weekdays of stored volume curves;
// a nil return selects the scheduler's default intraday profile.
func historicalProfile(ctx context.Context, cfg *config.Config, symbol string) []float64 {
	vs := store.NewParquetVolumeStore(cfg.Storage.DataDir)
	n := cfg.Execution.DurationMinutes / cfg.Execution.SliceIntervalMinutes
	if n < 1 {
		n = 1
	}

	var days []time.Time
	day := time.Now()
	for len(days) < 5 {
		day = day.AddDate(0, 0, -1)
		if day.Weekday() == time.Saturday || day.Weekday() == time.Sunday {
			continue
		}
		days = append(days, day)
	}
	profile, err := execution.HistoricalProfile(ctx, vs, symbol, days, n)
	if err != nil {
		return nil
	}
	return profile
}
