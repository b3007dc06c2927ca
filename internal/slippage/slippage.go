// Package slippage estimates the execution cost of an order before it is
// sent to market. Estimators are pure: identical inputs always produce the
// same Result.
package slippage

import (
	"math"

	"tradewind/internal/domain"
)

// MarketConditions carries the market inputs an estimator may use. Zero
// fields are treated as unknown and substituted with conservative defaults
// where a model requires them.
type MarketConditions struct {
	BidAskSpread float64 // absolute quoted spread
	DailyVolume  float64 // average daily volume in shares
	Volatility   float64 // daily volatility as a fraction, e.g. 0.02
}

// Result is the cost breakdown of executing an order. Component costs are
// expressed in basis points of the reference price; Total is also given as a
// fraction (TotalPct) and folded into an implied execution price.
type Result struct {
	FixedBps     float64 // half-spread and fee-like costs
	TemporaryBps float64 // transient liquidity consumption
	PermanentBps float64 // lasting price shift from trading
	TotalBps     float64
	TotalPct     float64 // TotalBps / 10000
	PerShare     float64 // absolute cost per share
	ExecPrice    float64 // reference price adjusted against the order side
}

// Estimator produces a cost estimate for executing qty shares at the given
// reference price.
type Estimator interface {
	Estimate(price, qty float64, side domain.OrderSide, mc MarketConditions) Result
}

// Compile-time interface checks.
var (
	_ Estimator = Fixed{}
	_ Estimator = VolumeBased{}
	_ Estimator = SquareRoot{}
	_ Estimator = Precision{}
)

// result assembles a Result from component bps costs.
func result(price float64, side domain.OrderSide, fixedBps, tempBps, permBps float64) Result {
	totalBps := fixedBps + tempBps + permBps
	totalPct := totalBps / 10000

	perShare := price * totalPct
	exec := price + perShare
	if side == domain.OrderSideSell {
		exec = price - perShare
	}

	return Result{
		FixedBps:     fixedBps,
		TemporaryBps: tempBps,
		PermanentBps: permBps,
		TotalBps:     totalBps,
		TotalPct:     totalPct,
		PerShare:     perShare,
		ExecPrice:    exec,
	}
}

// ---------------------------------------------------------------------------
// Fixed
// ---------------------------------------------------------------------------

// Fixed charges a constant rate regardless of order size.
type Fixed struct {
	RateBps float64
}

// Estimate returns the constant rate as the whole cost.
func (f Fixed) Estimate(price, qty float64, side domain.OrderSide, _ MarketConditions) Result {
	return result(price, side, f.RateBps, 0, 0)
}

// ---------------------------------------------------------------------------
// VolumeBased
// ---------------------------------------------------------------------------

// VolumeBased scales a base rate by the order-to-daily-volume ratio. An
// order that is 1% of daily volume pays BaseRateBps; larger orders pay
// proportionally more.
type VolumeBased struct {
	BaseRateBps float64
}

// Estimate scales the base rate by participation relative to 1% of daily
// volume. Without a daily volume figure it degrades to the base rate.
func (v VolumeBased) Estimate(price, qty float64, side domain.OrderSide, mc MarketConditions) Result {
	rate := v.BaseRateBps
	if mc.DailyVolume > 0 {
		participation := qty / mc.DailyVolume
		rate = v.BaseRateBps * (participation / 0.01)
	}
	return result(price, side, 0, rate, 0)
}

// ---------------------------------------------------------------------------
// SquareRoot
// ---------------------------------------------------------------------------

// SquareRoot models impact as volatility times the square root of
// participation, the classic square-root law.
type SquareRoot struct {
	Coeff float64 // impact coefficient, typically near 1
}

// Estimate returns Coeff * sigma * sqrt(Q/V) in basis points.
func (s SquareRoot) Estimate(price, qty float64, side domain.OrderSide, mc MarketConditions) Result {
	if mc.DailyVolume <= 0 {
		return result(price, side, 0, 0, 0)
	}
	participation := qty / mc.DailyVolume
	impact := s.Coeff * mc.Volatility * math.Sqrt(participation)
	return result(price, side, 0, impact*10000, 0)
}

// ---------------------------------------------------------------------------
// Precision (three-term) model
// ---------------------------------------------------------------------------

// Precision combines half-spread, temporary impact, and permanent impact:
//
//	total = spread/2 + eta * sigma * sqrt(Q/V) + gamma * (Q/V)
//
// where eta is the temporary-impact coefficient and gamma the
// permanent-impact coefficient.
type Precision struct {
	Eta   float64 // temporary-impact coefficient
	Gamma float64 // permanent-impact coefficient
}

// Estimate returns the full component breakdown of the three-term model.
func (p Precision) Estimate(price, qty float64, side domain.OrderSide, mc MarketConditions) Result {
	var fixedBps float64
	if price > 0 {
		fixedBps = (mc.BidAskSpread / 2) / price * 10000
	}

	var tempBps, permBps float64
	if mc.DailyVolume > 0 {
		participation := qty / mc.DailyVolume
		tempBps = p.Eta * mc.Volatility * math.Sqrt(participation) * 10000
		permBps = p.Gamma * participation * 10000
	}

	return result(price, side, fixedBps, tempBps, permBps)
}
