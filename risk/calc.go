// Package risk turns prices, stop distance and volatility into position
// size, leverage and stop/target levels. Everything here is pure.
package risk

import (
	"fmt"
	"math"

	"github.com/rustyeddy/riskbook/position"
)

// Size is the outcome of SizeByRisk. Percentages are on a 0-100 scale.
type Size struct {
	Quantity        float64
	Notional        float64
	RiskAmount      float64
	CapitalUsagePct float64
	RiskPct         float64
	Clamped         bool
}

// SizeByRisk sizes a position so that hitting stop loses available×riskPct,
// then clamps notional to available×maxPosPct and finally to available.
// Actual risk is recomputed whenever a clamp applies.
func SizeByRisk(entry, stop, available, riskPct, maxPosPct float64) (Size, error) {
	if entry <= 0 || stop <= 0 {
		return Size{}, fmt.Errorf("size by risk: entry %v stop %v: %w", entry, stop, position.ErrInvalidInput)
	}
	priceRisk := math.Abs(entry - stop)
	if priceRisk == 0 {
		return Size{}, fmt.Errorf("size by risk: stop equals entry %v: %w", entry, position.ErrInvalidInput)
	}

	budget := available * riskPct
	s := Size{
		Quantity:   budget / priceRisk,
		RiskAmount: budget,
	}
	s.Notional = s.Quantity * entry

	if maxNotional := available * maxPosPct; s.Notional > maxNotional {
		s.Quantity = maxNotional / entry
		s.Notional = maxNotional
		s.RiskAmount = s.Quantity * priceRisk
		s.Clamped = true
	}
	if s.Notional > available {
		s.Quantity = available / entry
		s.Notional = available
		s.RiskAmount = s.Quantity * priceRisk
		s.Clamped = true
	}

	if available > 0 {
		s.CapitalUsagePct = s.Notional / available * 100
		s.RiskPct = s.RiskAmount / available * 100
	}
	return s, nil
}

// PlannedRiskUSD is the dollar loss of qty units if the stop is hit.
func PlannedRiskUSD(qty, entry, stop float64) float64 {
	return qty * math.Abs(entry-stop)
}

// RR is reward over risk, 0 when risk is 0.
func RR(entry, stop, takeProfit float64) float64 {
	risk := math.Abs(entry - stop)
	if risk == 0 {
		return 0
	}
	return math.Abs(takeProfit-entry) / risk
}

// RiskPct is planned risk as a fraction of equity.
func RiskPct(plannedRiskUSD, equity float64) float64 {
	if equity <= 0 {
		return math.Inf(1)
	}
	return plannedRiskUSD / equity
}

// Risk profiles accepted by ATRStopLoss.
const (
	Conservative = "conservative"
	Moderate     = "moderate"
	Aggressive   = "aggressive"
)

var atrMultiples = map[string]float64{
	Conservative: 2.5,
	Moderate:     2.0,
	Aggressive:   1.5,
}

type StopLoss struct {
	Price       float64
	Distance    float64
	ATRMultiple float64
	ATR         float64
	RiskPct     float64 // distance as % of entry
	Profile     string
}

// ATRStopLoss places the stop a profile-dependent multiple of ATR away from
// entry. Aggressive uses the short ATR when it is known.
func ATRStopLoss(entry, atr14, atr3 float64, side position.Side, profile string) StopLoss {
	mult, ok := atrMultiples[profile]
	if !ok {
		profile = Moderate
		mult = atrMultiples[Moderate]
	}
	atr := atr14
	if profile == Aggressive && atr3 > 0 {
		atr = atr3
	}

	sl := StopLoss{
		Distance:    atr * mult,
		ATRMultiple: mult,
		ATR:         atr,
		Profile:     profile,
	}
	sl.Price = entry - side.Sign()*sl.Distance
	if entry > 0 {
		sl.RiskPct = sl.Distance / entry * 100
	}
	return sl
}

// DefaultStopPct is the fallback stop distance when no ATR is available.
const DefaultStopPct = 0.02

// PercentStopLoss places the stop pct (0.02 = 2%) away from entry.
func PercentStopLoss(entry float64, side position.Side, pct float64) StopLoss {
	if pct <= 0 {
		pct = DefaultStopPct
	}
	d := entry * pct
	return StopLoss{
		Price:    entry - side.Sign()*d,
		Distance: d,
		RiskPct:  pct * 100,
		Profile:  "percent",
	}
}
