package util

import (
	"time"

	"tradewind/internal/domain"
)

// TradingCalendar provides market-hours awareness for a specific market.
//
// US sessions (America/New_York): pre-market 04:00-09:30, regular
// 09:30-16:00, after-hours 16:00-20:00. CN sessions (Asia/Shanghai):
// 09:30-11:30 and 13:00-15:00, no extended hours. Weekends are closed.
type TradingCalendar struct {
	market domain.Market
	loc    *time.Location
}

// NewTradingCalendar creates a TradingCalendar for the given market.
func NewTradingCalendar(market domain.Market) *TradingCalendar {
	name := "America/New_York"
	fallback := time.FixedZone("EST", -5*3600)
	if market == domain.MarketCN {
		name = "Asia/Shanghai"
		fallback = time.FixedZone("CST", 8*3600)
	}

	loc, err := time.LoadLocation(name)
	if err != nil {
		loc = fallback
	}

	return &TradingCalendar{
		market: market,
		loc:    loc,
	}
}

// minuteOfDay returns t's minute offset from local midnight.
func (tc *TradingCalendar) minuteOfDay(t time.Time) int {
	local := t.In(tc.loc)
	return local.Hour()*60 + local.Minute()
}

func isWeekend(t time.Time) bool {
	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

// Status classifies time t into a market session.
//
// TODO: account for exchange holidays; a holiday table would narrow this
// down further.
func (tc *TradingCalendar) Status(t time.Time) domain.MarketStatus {
	local := t.In(tc.loc)
	if isWeekend(local) {
		return domain.MarketStatusClosed
	}

	m := tc.minuteOfDay(t)
	if tc.market == domain.MarketCN {
		// 09:30-11:30 and 13:00-15:00.
		if (m >= 9*60+30 && m < 11*60+30) || (m >= 13*60 && m < 15*60) {
			return domain.MarketStatusOpen
		}
		return domain.MarketStatusClosed
	}

	switch {
	case m >= 4*60 && m < 9*60+30:
		return domain.MarketStatusPreMarket
	case m >= 9*60+30 && m < 16*60:
		return domain.MarketStatusOpen
	case m >= 16*60 && m < 20*60:
		return domain.MarketStatusAfterHours
	default:
		return domain.MarketStatusClosed
	}
}

// IsMarketOpen returns whether the regular session is open at time t.
func (tc *TradingCalendar) IsMarketOpen(t time.Time) bool {
	return tc.Status(t) == domain.MarketStatusOpen
}

// SameTradingDay reports whether a and b fall on the same calendar day in
// the market's local time zone. Daily accounting anchors (day-open equity,
// daily PnL) roll over when this turns false.
func (tc *TradingCalendar) SameTradingDay(a, b time.Time) bool {
	ya, ma, da := a.In(tc.loc).Date()
	yb, mb, db := b.In(tc.loc).Date()
	return ya == yb && ma == mb && da == db
}

// sessionOpenMinute returns the first regular-session minute of the day.
func (tc *TradingCalendar) sessionOpenMinute() int {
	return 9*60 + 30
}

// sessionCloseMinute returns the regular-session close minute of the day.
func (tc *TradingCalendar) sessionCloseMinute() int {
	if tc.market == domain.MarketCN {
		return 15 * 60
	}
	return 16 * 60
}

// NextOpen returns the next regular-session open time at or after t.
func (tc *TradingCalendar) NextOpen(t time.Time) time.Time {
	local := t.In(tc.loc)
	openMin := tc.sessionOpenMinute()

	for {
		candidate := time.Date(local.Year(), local.Month(), local.Day(),
			openMin/60, openMin%60, 0, 0, tc.loc)
		if !isWeekend(candidate) && !candidate.Before(local) {
			return candidate
		}
		local = time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, tc.loc).
			AddDate(0, 0, 1)
	}
}

// NextClose returns the next regular-session close time at or after t.
func (tc *TradingCalendar) NextClose(t time.Time) time.Time {
	local := t.In(tc.loc)
	closeMin := tc.sessionCloseMinute()

	for {
		candidate := time.Date(local.Year(), local.Month(), local.Day(),
			closeMin/60, closeMin%60, 0, 0, tc.loc)
		if !isWeekend(candidate) && !candidate.Before(local) {
			return candidate
		}
		local = time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, tc.loc).
			AddDate(0, 0, 1)
	}
}
