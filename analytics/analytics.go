// Package analytics derives trading statistics from a session's closed
// history: win rate, profit factor, drawdown and risk-adjusted returns.
package analytics

import (
	"math"
	"sort"
	"time"

	"github.com/rustyeddy/riskbook/position"
)

type Summary struct {
	TotalTrades     int     `json:"total_trades" yaml:"total_trades"`
	WinningTrades   int     `json:"winning_trades" yaml:"winning_trades"`
	LosingTrades    int     `json:"losing_trades" yaml:"losing_trades"`
	WinRate         float64 `json:"win_rate" yaml:"win_rate"` // fraction
	TotalPnL        float64 `json:"total_pnl" yaml:"total_pnl"`
	AvgWin          float64 `json:"avg_win" yaml:"avg_win"`
	AvgLoss         float64 `json:"avg_loss" yaml:"avg_loss"` // negative
	LargestWin      float64 `json:"largest_win" yaml:"largest_win"`
	LargestLoss     float64 `json:"largest_loss" yaml:"largest_loss"`
	ProfitFactor    float64 `json:"profit_factor" yaml:"profit_factor"`
	AvgHoldingHours float64 `json:"avg_holding_hours" yaml:"avg_holding_hours"`
}

type Statistics struct {
	SessionID   string    `json:"session_id" yaml:"session_id"`
	PeriodStart time.Time `json:"period_start" yaml:"period_start"`
	PeriodEnd   time.Time `json:"period_end" yaml:"period_end"`

	Summary `yaml:",inline"`

	MaxDrawdown    float64 `json:"max_drawdown" yaml:"max_drawdown"`
	MaxDrawdownPct float64 `json:"max_drawdown_pct" yaml:"max_drawdown_pct"`
	Sharpe         float64 `json:"sharpe_ratio" yaml:"sharpe_ratio"`
	Sortino        float64 `json:"sortino_ratio" yaml:"sortino_ratio"`

	// MaxConcurrentPositions needs open history, which is not retained.
	MaxConcurrentPositions int `json:"max_concurrent_positions" yaml:"max_concurrent_positions"`
}

// Summarize counts wins (pnl > 0) and losses (pnl < 0); break-even closes
// count toward the total only. Profit factor is 0 when there are no losses.
func Summarize(closed []position.ClosedPosition) Summary {
	var s Summary
	s.TotalTrades = len(closed)
	if s.TotalTrades == 0 {
		return s
	}

	var wins, losses, hours float64
	for _, c := range closed {
		s.TotalPnL += c.RealizedPnL
		hours += c.HoldingHours
		switch {
		case c.RealizedPnL > 0:
			s.WinningTrades++
			wins += c.RealizedPnL
			s.LargestWin = math.Max(s.LargestWin, c.RealizedPnL)
		case c.RealizedPnL < 0:
			s.LosingTrades++
			losses += c.RealizedPnL
			s.LargestLoss = math.Min(s.LargestLoss, c.RealizedPnL)
		}
	}

	s.WinRate = float64(s.WinningTrades) / float64(s.TotalTrades)
	if s.WinningTrades > 0 {
		s.AvgWin = wins / float64(s.WinningTrades)
	}
	if s.LosingTrades > 0 {
		s.AvgLoss = losses / float64(s.LosingTrades)
	}
	if losses < 0 {
		s.ProfitFactor = wins / math.Abs(losses)
	}
	s.AvgHoldingHours = hours / float64(s.TotalTrades)
	return s
}

// EquityCurve starts at initial and adds each close's realized P&L in
// close-time order.
func EquityCurve(initial float64, closed []position.ClosedPosition) []float64 {
	ordered := append([]position.ClosedPosition(nil), closed...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].ClosedAt.Before(ordered[j].ClosedAt) })

	curve := make([]float64, 0, len(ordered)+1)
	curve = append(curve, initial)
	equity := initial
	for _, c := range ordered {
		equity += c.RealizedPnL
		curve = append(curve, equity)
	}
	return curve
}

// MaxDrawdown returns the largest peak-to-trough fall and that fall as a
// percent of its peak.
func MaxDrawdown(curve []float64) (float64, float64) {
	if len(curve) == 0 {
		return 0, 0
	}
	peak := curve[0]
	var maxDD, maxPct float64
	for _, v := range curve {
		if v > peak {
			peak = v
		}
		dd := peak - v
		if dd > maxDD {
			maxDD = dd
			maxPct = 0
			if peak > 0 {
				maxPct = dd / peak * 100
			}
		}
	}
	return maxDD, maxPct
}

// Returns are the per-step fractional changes of curve. A step from zero
// equity counts as 0.
func Returns(curve []float64) []float64 {
	if len(curve) < 2 {
		return nil
	}
	out := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1]
		if prev == 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, (curve[i]-prev)/prev)
	}
	return out
}

// Sharpe is (mean − rf) / sample stdev. It is 0 with fewer than two returns
// or no dispersion.
func Sharpe(returns []float64, rf float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	m := mean(returns)
	var ss float64
	for _, r := range returns {
		ss += (r - m) * (r - m)
	}
	sd := math.Sqrt(ss / float64(len(returns)-1))
	if flat(returns) || sd <= 1e-12*math.Max(1, math.Abs(m)) {
		return 0
	}
	return (m - rf) / sd
}

// flat reports whether every value equals the first. Rounding in the mean
// leaves a constant series with a tiny nonzero stdev.
func flat(xs []float64) bool {
	for _, x := range xs[1:] {
		if x != xs[0] {
			return false
		}
	}
	return true
}

// Sortino is (mean − rf) over the downside deviation below rf. It is 0 with
// fewer than two returns or no return below rf.
func Sortino(returns []float64, rf float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	var ss float64
	for _, r := range returns {
		if d := r - rf; d < 0 {
			ss += d * d
		}
	}
	dd := math.Sqrt(ss / float64(len(returns)))
	if dd == 0 {
		return 0
	}
	return (mean(returns) - rf) / dd
}

// Compute builds the statistics for closes whose ClosedAt falls inside
// [from, to]. A zero from or to leaves that end open.
func Compute(sessionID string, initial, rf float64, closed []position.ClosedPosition, from, to time.Time) Statistics {
	period := InPeriod(closed, from, to)

	st := Statistics{
		SessionID:   sessionID,
		PeriodStart: from,
		PeriodEnd:   to,
		Summary:     Summarize(period),
	}
	if len(period) == 0 {
		return st
	}

	curve := EquityCurve(initial, period)
	st.MaxDrawdown, st.MaxDrawdownPct = MaxDrawdown(curve)
	rets := Returns(curve)
	st.Sharpe = Sharpe(rets, rf)
	st.Sortino = Sortino(rets, rf)
	return st
}

// InPeriod filters closes to those with ClosedAt in [from, to].
func InPeriod(closed []position.ClosedPosition, from, to time.Time) []position.ClosedPosition {
	var out []position.ClosedPosition
	for _, c := range closed {
		if !from.IsZero() && c.ClosedAt.Before(from) {
			continue
		}
		if !to.IsZero() && c.ClosedAt.After(to) {
			continue
		}
		out = append(out, c)
	}
	return out
}

func mean(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}
