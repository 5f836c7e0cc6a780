package risk

// Volatility states reported by VolatilityPositionAdjustment.
const (
	RapidlyExpanding    = "rapidly_expanding"
	Expanding           = "expanding"
	Contracting         = "contracting"
	SlightlyContracting = "slightly_contracting"
	Stable              = "stable"
	Unknown             = "unknown"
)

// MinAdjustedLeverage is the floor applied when volatility cuts leverage.
const MinAdjustedLeverage = 5

type SizeAdjustment struct {
	Quantity float64
	Factor   float64
	State    string
	ATRRatio float64 // atr3/atr14
	ATRPct   float64 // atr14 as % of entry
}

type LeverageAdjustment struct {
	Leverage int
	Base     int
	ATRRatio float64
	ATRPct   float64
	Reason   string
}

func atrSignal(atr3, atr14, entry float64) (ratio, pct float64) {
	ratio = atr3 / atr14
	if entry > 0 {
		pct = atr14 / entry * 100
	}
	return ratio, pct
}

// VolatilityPositionAdjustment scales baseQty down when short-term ATR is
// running hot against long-term ATR and up when it is quiet. The factor is
// clamped to [0.3, 1.5].
func VolatilityPositionAdjustment(baseQty, atr3, atr14, entry float64) SizeAdjustment {
	if atr14 == 0 {
		return SizeAdjustment{Quantity: baseQty, Factor: 1, State: Unknown}
	}
	ratio, pct := atrSignal(atr3, atr14, entry)

	var factor float64
	var state string
	switch {
	case ratio > 1.3:
		factor, state = 0.6, RapidlyExpanding
	case ratio > 1.1:
		factor, state = 0.8, Expanding
	case ratio < 0.7:
		factor, state = 1.2, Contracting
	case ratio < 0.9:
		factor, state = 1.1, SlightlyContracting
	default:
		factor, state = 1.0, Stable
	}

	switch {
	case pct > 3:
		factor *= 0.8
	case pct < 1:
		factor *= 1.1
	}
	factor = clamp(factor, 0.3, 1.5)

	return SizeAdjustment{
		Quantity: baseQty * factor,
		Factor:   factor,
		State:    state,
		ATRRatio: ratio,
		ATRPct:   pct,
	}
}

// VolatilityLeverageAdjustment trims leverage in volatile markets and lifts
// it slightly in calm ones. Scaled values are truncated to whole leverage and
// kept within [MinAdjustedLeverage, maxLeverage].
func VolatilityLeverageAdjustment(base int, atr3, atr14, entry float64, maxLeverage int) LeverageAdjustment {
	if atr14 == 0 {
		return LeverageAdjustment{Leverage: base, Base: base, Reason: "no ATR data"}
	}
	ratio, pct := atrSignal(atr3, atr14, entry)
	adj := LeverageAdjustment{Base: base, ATRRatio: ratio, ATRPct: pct}

	switch {
	case ratio > 1.3 || pct > 3:
		adj.Leverage = int(float64(base) * 0.6)
		adj.Reason = "high volatility, leverage reduced"
	case ratio > 1.1 || pct > 2:
		adj.Leverage = int(float64(base) * 0.8)
		adj.Reason = "elevated volatility, leverage reduced moderately"
	case ratio < 0.7 && pct < 1.5:
		adj.Leverage = int(float64(base) * 1.1)
		adj.Reason = "low volatility, leverage raised"
	default:
		adj.Leverage = base
		adj.Reason = "normal volatility"
	}

	if adj.Leverage < MinAdjustedLeverage {
		adj.Leverage = MinAdjustedLeverage
	}
	if maxLeverage > 0 && adj.Leverage > maxLeverage {
		adj.Leverage = maxLeverage
	}
	return adj
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
