package risk

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/rustyeddy/riskbook/position"
	"github.com/rustyeddy/riskbook/session"
)

// DefaultRR are the reward multiples used when a session sets none.
var DefaultRR = []float64{2, 3, 4}

var ladderFractions = []float64{0.5, 0.3, 0.2}

// TakeProfitLadder builds up to three scale-out rungs at rr multiples of
// the entry-to-stop risk, taking 50%, 30% and 20% of the position.
func TakeProfitLadder(entry, stop float64, side position.Side, rr []float64) []position.TakeProfitRung {
	if len(rr) == 0 {
		rr = DefaultRR
	}
	if len(rr) > len(ladderFractions) {
		rr = rr[:len(ladderFractions)]
	}
	risk := entry - stop
	if risk < 0 {
		risk = -risk
	}
	if risk == 0 {
		return nil
	}

	rungs := make([]position.TakeProfitRung, 0, len(rr))
	for i, m := range rr {
		rungs = append(rungs, position.TakeProfitRung{
			Price:    entry + side.Sign()*risk*m,
			Fraction: ladderFractions[i],
			RR:       m,
		})
	}
	return rungs
}

// ValidateLadder rejects negative fractions, rungs on the wrong side of
// entry and fractions summing past 100%. The sum is taken in decimal so
// 0.5+0.3+0.2 is exactly 1.
func ValidateLadder(entry float64, side position.Side, rungs []position.TakeProfitRung) error {
	total := decimal.Zero
	for i, r := range rungs {
		if r.Fraction <= 0 {
			return fmt.Errorf("take profit %d: fraction %v must be positive: %w", i, r.Fraction, position.ErrInvalidInput)
		}
		if r.Price <= 0 || side.Sign()*(r.Price-entry) <= 0 {
			return fmt.Errorf("take profit %d: price %v on wrong side of entry %v: %w", i, r.Price, entry, position.ErrInvalidInput)
		}
		total = total.Add(decimal.NewFromFloat(r.Fraction))
	}
	if total.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("take profit fractions sum to %s: %w", total.String(), position.ErrInvalidInput)
	}
	return nil
}

// LeverageForConfidence maps confidence onto the session's leverage tiers.
func LeverageForConfidence(cfg session.Config, confidence float64) int {
	return cfg.LeverageFor(confidence)
}
