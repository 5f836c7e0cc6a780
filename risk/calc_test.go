package risk

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/riskbook/position"
)

func TestSizeByRisk(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		entry     float64
		stop      float64
		available float64
		riskPct   float64
		maxPos    float64
		wantQty   float64
		wantRisk  float64
		clamped   bool
	}{
		// 10000*0.02 = 200 budget / 1000 = 0.2 BTC = 10000 notional > 2000 cap
		{"clamped to max position", 50000, 49000, 10000, 0.02, 0.20, 0.04, 40, true},
		// 200 / 50 = 4 units = 400 notional, well under 2000
		{"unclamped", 100, 50, 10000, 0.02, 0.20, 4, 200, false},
		// max pos 150% is looser than available, so the second clamp applies
		{"clamped to available", 100, 99, 1000, 0.5, 1.5, 10, 10, true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := SizeByRisk(tt.entry, tt.stop, tt.available, tt.riskPct, tt.maxPos)
			require.NoError(t, err)
			assert.InDelta(t, tt.wantQty, got.Quantity, 1e-6)
			assert.InDelta(t, tt.wantRisk, got.RiskAmount, 1e-6)
			assert.InDelta(t, got.Quantity*tt.entry, got.Notional, 1e-6)
			assert.Equal(t, tt.clamped, got.Clamped)
			assert.LessOrEqual(t, got.Notional, tt.available+1e-9)
		})
	}
}

func TestSizeByRiskRejectsBadPrices(t *testing.T) {
	t.Parallel()

	for _, in := range [][2]float64{{0, 100}, {100, 0}, {-1, 100}, {100, 100}} {
		_, err := SizeByRisk(in[0], in[1], 1000, 0.02, 0.2)
		require.Error(t, err)
		assert.True(t, errors.Is(err, position.ErrInvalidInput))
	}
}

func TestSizeByRiskPercentages(t *testing.T) {
	t.Parallel()

	got, err := SizeByRisk(50000, 49000, 10000, 0.02, 0.20)
	require.NoError(t, err)
	assert.InDelta(t, 20.0, got.CapitalUsagePct, 1e-9)
	assert.InDelta(t, 0.4, got.RiskPct, 1e-9)

	zero, err := SizeByRisk(50000, 49000, 0, 0.02, 0.20)
	require.NoError(t, err)
	assert.Zero(t, zero.CapitalUsagePct)
	assert.Zero(t, zero.RiskPct)
}

func TestATRStopLoss(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		side     position.Side
		profile  string
		atr3     float64
		wantStop float64
		wantPct  float64
	}{
		{"moderate long", position.Long, Moderate, 150, 49600, 0.8},
		{"moderate short", position.Short, Moderate, 150, 50400, 0.8},
		{"conservative long", position.Long, Conservative, 150, 49500, 1.0},
		{"aggressive uses atr3", position.Long, Aggressive, 150, 49775, 0.45},
		{"aggressive falls back to atr14", position.Long, Aggressive, 0, 49700, 0.6},
		{"unknown profile is moderate", position.Long, "yolo", 150, 49600, 0.8},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := ATRStopLoss(50000, 200, tt.atr3, tt.side, tt.profile)
			assert.InDelta(t, tt.wantStop, got.Price, 1e-9)
			assert.InDelta(t, tt.wantPct, got.RiskPct, 1e-9)
		})
	}
}

func TestATRStopLossZeroEntry(t *testing.T) {
	t.Parallel()
	got := ATRStopLoss(0, 200, 150, position.Long, Moderate)
	assert.Zero(t, got.RiskPct)
}

func TestPercentStopLoss(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 98.0, PercentStopLoss(100, position.Long, 0.02).Price, 1e-9)
	assert.InDelta(t, 102.0, PercentStopLoss(100, position.Short, 0).Price, 1e-9)
	assert.InDelta(t, 95.0, PercentStopLoss(100, position.Long, 0.05).Price, 1e-9)
}

func TestRR(t *testing.T) {
	t.Parallel()
	assert.InDelta(t, 2.0, RR(100, 95, 110), 1e-12)
	assert.Zero(t, RR(100, 100, 110))
	assert.InDelta(t, 50.0, PlannedRiskUSD(10, 100, 95), 1e-12)
	assert.InDelta(t, 0.005, RiskPct(50, 10000), 1e-12)
}
