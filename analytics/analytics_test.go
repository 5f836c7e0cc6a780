package analytics

import (
	"bytes"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/riskbook/position"
)

var t0 = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

func closes(pnls ...float64) []position.ClosedPosition {
	out := make([]position.ClosedPosition, len(pnls))
	for i, p := range pnls {
		out[i] = position.ClosedPosition{
			Symbol:       "BTCUSDT",
			RealizedPnL:  p,
			ClosedAt:     t0.Add(time.Duration(i) * time.Hour),
			HoldingHours: float64(i + 1),
		}
	}
	return out
}

func TestSummarize(t *testing.T) {
	t.Parallel()

	s := Summarize(closes(100, -50, 200, 0, -25))
	assert.Equal(t, 5, s.TotalTrades)
	assert.Equal(t, 2, s.WinningTrades)
	assert.Equal(t, 2, s.LosingTrades)
	assert.InDelta(t, 0.4, s.WinRate, 1e-12)
	assert.InDelta(t, 225.0, s.TotalPnL, 1e-12)
	assert.InDelta(t, 150.0, s.AvgWin, 1e-12)
	assert.InDelta(t, -37.5, s.AvgLoss, 1e-12)
	assert.Equal(t, 200.0, s.LargestWin)
	assert.Equal(t, -50.0, s.LargestLoss)
	assert.InDelta(t, 4.0, s.ProfitFactor, 1e-12)
	assert.InDelta(t, 3.0, s.AvgHoldingHours, 1e-12)
}

func TestSummarizeEdgeCases(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		closed []position.ClosedPosition
		want   Summary
	}{
		{"empty", nil, Summary{}},
		{"no losses", closes(10, 30), Summary{
			TotalTrades: 2, WinningTrades: 2, WinRate: 1, TotalPnL: 40,
			AvgWin: 20, LargestWin: 30, AvgHoldingHours: 1.5,
		}},
		{"only losses", closes(-10), Summary{
			TotalTrades: 1, LosingTrades: 1, TotalPnL: -10,
			AvgLoss: -10, LargestLoss: -10, AvgHoldingHours: 1,
		}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := Summarize(tt.closed)
			assert.Equal(t, tt.want, got)
			assert.Zero(t, got.ProfitFactor)
		})
	}
}

func TestEquityCurveOrdersByCloseTime(t *testing.T) {
	t.Parallel()

	c := closes(100, -50, 25)
	c[0].ClosedAt, c[2].ClosedAt = c[2].ClosedAt, c[0].ClosedAt
	assert.Equal(t, []float64{1000, 1025, 975, 1075}, EquityCurve(1000, c))
	assert.Equal(t, []float64{1000}, EquityCurve(1000, nil))
}

func TestMaxDrawdown(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		curve   []float64
		wantAbs float64
		wantPct float64
	}{
		{"empty", nil, 0, 0},
		{"monotonic", []float64{100, 110, 120}, 0, 0},
		{"single dip", []float64{100, 120, 90, 130}, 30, 25},
		{"deepest wins", []float64{100, 95, 200, 150, 210, 205}, 50, 25},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			abs, pct := MaxDrawdown(tt.curve)
			assert.InDelta(t, tt.wantAbs, abs, 1e-9)
			assert.InDelta(t, tt.wantPct, pct, 1e-9)
		})
	}
}

func TestReturns(t *testing.T) {
	t.Parallel()

	assert.Nil(t, Returns([]float64{100}))
	got := Returns([]float64{100, 110, 0, 50})
	require.Len(t, got, 3)
	assert.InDelta(t, 0.1, got[0], 1e-12)
	assert.InDelta(t, -1.0, got[1], 1e-12)
	assert.Equal(t, 0.0, got[2])
}

func TestSharpeAndSortino(t *testing.T) {
	t.Parallel()

	assert.Zero(t, Sharpe([]float64{0.1}, 0))
	assert.Zero(t, Sharpe([]float64{0.1, 0.1, 0.1}, 0))
	assert.Zero(t, Sortino([]float64{0.1}, 0))
	assert.Zero(t, Sortino([]float64{0.1, 0.2}, 0))

	r := []float64{0.02, -0.01, 0.03}
	m := 0.04 / 3
	sd := math.Sqrt((math.Pow(0.02-m, 2) + math.Pow(-0.01-m, 2) + math.Pow(0.03-m, 2)) / 2)
	assert.InDelta(t, m/sd, Sharpe(r, 0), 1e-12)
	assert.InDelta(t, (m-0.005)/sd, Sharpe(r, 0.005), 1e-12)

	dd := math.Sqrt(0.01 * 0.01 / 3)
	assert.InDelta(t, m/dd, Sortino(r, 0), 1e-12)
}

func TestSharpeConstantReturns(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		returns []float64
	}{
		{"three tenths", []float64{0.1, 0.1, 0.1}},
		{"seven", []float64{0.07, 0.07, 0.07, 0.07, 0.07, 0.07, 0.07}},
		{"negative", []float64{-0.013, -0.013, -0.013, -0.013}},
		{"zero", []float64{0, 0}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Zero(t, Sharpe(tt.returns, 0))
			assert.Zero(t, Sharpe(tt.returns, 0.02))
		})
	}

	assert.NotZero(t, Sharpe([]float64{0.1, 0.1, 0.1001}, 0))
}

func TestComputeFiltersPeriod(t *testing.T) {
	t.Parallel()

	c := closes(100, -50, 200, -25)
	from := t0.Add(time.Hour)
	to := t0.Add(2 * time.Hour)

	st := Compute("s1", 1000, 0, c, from, to)
	assert.Equal(t, "s1", st.SessionID)
	assert.Equal(t, from, st.PeriodStart)
	assert.Equal(t, 2, st.TotalTrades)
	assert.InDelta(t, 150.0, st.TotalPnL, 1e-12)
	assert.InDelta(t, 4.0, st.ProfitFactor, 1e-12)
	assert.InDelta(t, 50.0, st.MaxDrawdown, 1e-12)
	assert.InDelta(t, 5.0, st.MaxDrawdownPct, 1e-12)
	assert.Zero(t, st.MaxConcurrentPositions)

	all := Compute("s1", 1000, 0, c, time.Time{}, time.Time{})
	assert.Equal(t, 4, all.TotalTrades)
	assert.NotZero(t, all.Sharpe)

	none := Compute("s1", 1000, 0, c, t0.Add(48*time.Hour), time.Time{})
	assert.Equal(t, Statistics{SessionID: "s1", PeriodStart: t0.Add(48 * time.Hour)}, none)
}

func TestPrint(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	Print(&buf, Compute("s1", 1000, 0, closes(100, -50), time.Time{}, time.Time{}))
	out := buf.String()
	assert.Contains(t, out, "Session:       s1")
	assert.Contains(t, out, "Win Rate:      50.00%")
	assert.Contains(t, out, "Profit Factor: 2.00")
	assert.NotContains(t, out, "Period")
}
