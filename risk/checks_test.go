package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rustyeddy/riskbook/position"
	"github.com/rustyeddy/riskbook/session"
)

func codes(vs []Violation) []string {
	out := make([]string, 0, len(vs))
	for _, v := range vs {
		out = append(out, v.Code)
	}
	return out
}

func TestAssess(t *testing.T) {
	t.Parallel()

	cfg := session.Default(10000)

	t.Run("small trade passes", func(t *testing.T) {
		t.Parallel()
		a := Assess(cfg, Request{Symbol: "BTCUSDT", Quantity: 0.01, Entry: 50000, Stop: 49000, Opening: true}, nil, 10000)
		assert.True(t, a.Allowed)
		assert.Empty(t, a.Violations)
		assert.Empty(t, a.Warnings)
		assert.InDelta(t, 0.1, a.PositionRiskPct, 1e-9)
		assert.InDelta(t, 500.0, a.ExposureAfter, 1e-9)
	})

	t.Run("oversized trade", func(t *testing.T) {
		t.Parallel()
		a := Assess(cfg, Request{Quantity: 0.3, Entry: 50000, Stop: 49000, Opening: true}, nil, 10000)
		assert.False(t, a.Allowed)
		assert.ElementsMatch(t, []string{"MAX_POSITION_SIZE", "INSUFFICIENT_CAPITAL"}, codes(a.Violations))
		assert.Contains(t, codes(a.Warnings), "LARGE_POSITION")
	})

	t.Run("too many positions", func(t *testing.T) {
		t.Parallel()
		c := cfg
		c.MaxConcurrentPositions = 1
		open := []position.Position{{Symbol: "ETHUSDT", Notional: 1000, RiskUSD: 50}}
		a := Assess(c, Request{Quantity: 0.01, Entry: 50000, Stop: 49000, Opening: true}, open, 9000)
		assert.Equal(t, []string{"MAX_POSITIONS"}, codes(a.Violations))
		assert.InDelta(t, 0.006, a.NewPortfolioHeat, 1e-9)
	})

	t.Run("no capital", func(t *testing.T) {
		t.Parallel()
		a := Assess(cfg, Request{Quantity: 1, Entry: 1, Stop: 0.5}, nil, 0)
		assert.Equal(t, []string{"NO_CAPITAL"}, codes(a.Violations))
	})
}

func TestPortfolioHeat(t *testing.T) {
	t.Parallel()

	assert.Zero(t, PortfolioHeat(nil, 0))
	assert.Zero(t, PortfolioHeat(nil, 10000))

	open := []position.Position{
		{Notional: 2000, RiskUSD: 100},
		{Notional: 3000, RiskUSD: 150},
	}
	assert.InDelta(t, 250.0/10000, PortfolioHeat(open, 5000), 1e-12)
	assert.InDelta(t, 5000.0, TotalExposure(open), 1e-12)
}

func TestMargin(t *testing.T) {
	t.Parallel()

	open := []position.Position{
		{Notional: 50000, Leverage: 10},
		{Notional: 30000, Leverage: 10},
	}

	tests := []struct {
		name      string
		available float64
		usage     float64
		warning   bool
		critical  bool
	}{
		{"comfortable", 20000, 40, false, false},
		{"warning", 9500, 8000.0 / 9500 * 100, true, false},
		{"critical", 8500, 8000.0 / 8500 * 100, true, true},
		{"exactly 80 is not warning", 10000, 80, false, false},
		{"no capital", 0, 0, false, false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m := Margin(open, tt.available)
			assert.InDelta(t, 8000.0, m.TotalMarginUsed, 1e-9)
			assert.InDelta(t, tt.usage, m.UsagePct, 1e-9)
			assert.Equal(t, tt.warning, m.Warning)
			assert.Equal(t, tt.critical, m.Critical)
		})
	}
}
