package portfolio

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/riskbook/instruction"
	"github.com/rustyeddy/riskbook/market"
	"github.com/rustyeddy/riskbook/position"
	"github.com/rustyeddy/riskbook/risk"
	"github.com/rustyeddy/riskbook/session"
)

func btcTick(price float64) market.Tick {
	return market.Tick{Symbol: "BTCUSDT", Time: start, Price: price, ATR3: 200, ATR14: 200}
}

func openBTC(mutate ...func(*instruction.Open)) instruction.Open {
	o := instruction.Open{
		Base: instruction.Base{Symbol: "BTCUSDT", Confidence: 0.8, Justification: "trend"},
		Side: position.Long,
	}
	for _, m := range mutate {
		m(&o)
	}
	return o
}

func TestExecuteHold(t *testing.T) {
	t.Parallel()

	p, _ := testPortfolio(t, newSession(100000))
	res, err := p.Execute(context.Background(), instruction.Hold{Base: instruction.Base{Symbol: "BTCUSDT"}}, market.Tick{})
	require.NoError(t, err)
	assert.Equal(t, instruction.KindHold, res.Kind)
	assert.Nil(t, res.Position)
	assert.Empty(t, p.Positions())
}

func TestExecuteOpenResolvesPlan(t *testing.T) {
	t.Parallel()

	p, _ := testPortfolio(t, newSession(100000))
	res, err := p.Execute(context.Background(), openBTC(), btcTick(50000))
	require.NoError(t, err)
	require.NotNil(t, res.Plan)
	require.NotNil(t, res.Position)

	plan := res.Plan
	assert.Equal(t, 49600.0, plan.Stop.Price)
	assert.InDelta(t, 0.8, plan.Stop.RiskPct, 1e-12)
	assert.True(t, plan.Size.Clamped)
	assert.Equal(t, risk.Stable, plan.Volatility.State)
	assert.Equal(t, 15, plan.Leverage.Leverage)
	require.Len(t, plan.Ladder, 3)
	assert.Equal(t, []float64{50800, 51200, 51600}, []float64{plan.Ladder[0].Price, plan.Ladder[1].Price, plan.Ladder[2].Price})
	assert.Equal(t, 51600.0, plan.Target)

	pos := res.Position
	assert.InDelta(t, 0.4, pos.Quantity, 1e-12)
	assert.Equal(t, 15, pos.Leverage)
	assert.Equal(t, 49600.0, pos.StopLoss)
	assert.Equal(t, 51600.0, pos.ProfitTarget)
	assert.Len(t, pos.TakeProfits, 3)
	assert.Equal(t, "trend", pos.Reasoning)
	assert.InDelta(t, 100000-20000.0/15, p.Capital(), 1e-6)
}

func TestExecuteOpenGivenLevels(t *testing.T) {
	t.Parallel()

	p, _ := testPortfolio(t, newSession(100000))
	o := openBTC(func(o *instruction.Open) {
		o.Quantity = 0.1
		o.StopLoss = 49000
		o.ProfitTarget = 52500
		o.Leverage = 25
		o.RiskUSD = 123
	})
	res, err := p.Execute(context.Background(), o, btcTick(50000))
	require.NoError(t, err)

	assert.Equal(t, 20, res.Position.Leverage)
	assert.Equal(t, 0.1, res.Position.Quantity)
	assert.Equal(t, 52500.0, res.Position.ProfitTarget)
	assert.Equal(t, 123.0, res.Position.RiskUSD)
	require.Len(t, res.Position.TakeProfits, 1)
	assert.Equal(t, 52000.0, res.Position.TakeProfits[0].Price)
}

func TestExecuteOpenPercentStopWithoutATR(t *testing.T) {
	t.Parallel()

	p, _ := testPortfolio(t, newSession(100000))
	o := openBTC(func(o *instruction.Open) { o.Side = position.Short })
	res, err := p.Execute(context.Background(), o, market.Tick{Symbol: "BTCUSDT", Price: 50000})
	require.NoError(t, err)
	assert.Equal(t, 51000.0, res.Plan.Stop.Price)
	assert.Equal(t, "no ATR data", res.Plan.Leverage.Reason)
	assert.Equal(t, risk.Unknown, res.Plan.Volatility.State)
	assert.Equal(t, position.Short, res.Position.Side)
	assert.Less(t, res.Position.ProfitTarget, 50000.0)
}

func TestExecuteOpenVolatilityAdjusted(t *testing.T) {
	t.Parallel()

	p, _ := testPortfolio(t, newSession(100000))
	o := instruction.Open{Base: instruction.Base{Symbol: "ETHUSDT"}, Side: position.Long}
	tick := market.Tick{Symbol: "ETHUSDT", Price: 10000, ATR3: 150, ATR14: 100}

	res, err := p.Execute(context.Background(), o, tick)
	require.NoError(t, err)
	assert.Equal(t, 9800.0, res.Plan.Stop.Price)
	assert.Equal(t, risk.RapidlyExpanding, res.Plan.Volatility.State)
	assert.InDelta(t, 0.6, res.Plan.Volatility.Factor, 1e-12)
	assert.InDelta(t, 1.2, res.Position.Quantity, 1e-9)
	assert.Equal(t, risk.MinAdjustedLeverage, res.Position.Leverage)
}

func TestExecuteOpenRejections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*session.Config)
		setup  bool
		in     instruction.Open
		check  string
	}{
		{
			name:   "unsupported symbol",
			mutate: func(c *session.Config) { c.SupportedSymbols = []string{"ETHUSDT"} },
			in:     openBTC(),
			check:  CheckUnsupported,
		},
		{
			name:  "pyramiding disabled",
			setup: true,
			in:    openBTC(),
			check: CheckPyramiding,
		},
		{
			name:  "hedging disabled",
			setup: true,
			in:    openBTC(func(o *instruction.Open) { o.Side = position.Short }),
			check: CheckHedging,
		},
		{
			name:  "too large",
			in:    openBTC(func(o *instruction.Open) { o.Quantity = 1 }),
			check: CheckSize,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var muts []func(*session.Config)
			if tt.mutate != nil {
				muts = append(muts, tt.mutate)
			}
			m := newFakeMetrics()
			p, _ := testPortfolio(t, newSession(100000, muts...), WithMetrics(m))
			ctx := context.Background()
			if tt.setup {
				_, err := p.Execute(ctx, openBTC(), btcTick(50000))
				require.NoError(t, err)
			}
			_, err := p.Execute(ctx, tt.in, btcTick(50000))
			require.Error(t, err)
			assert.True(t, IsRejection(err), err.Error())
			assert.Equal(t, 1, m.rejected[tt.check])
		})
	}
}

func TestExecuteReversalWithHedging(t *testing.T) {
	t.Parallel()

	p, _ := testPortfolio(t, newSession(100000, func(c *session.Config) { c.AllowHedging = true }))
	ctx := context.Background()

	_, err := p.Execute(ctx, openBTC(), btcTick(50000))
	require.NoError(t, err)
	res, err := p.Execute(ctx, openBTC(func(o *instruction.Open) { o.Side = position.Short }), btcTick(50200))
	require.NoError(t, err)
	assert.Equal(t, position.Short, res.Position.Side)

	closed := p.Ledger().Closed()
	require.Len(t, closed, 1)
	assert.Equal(t, position.ExitReverse, closed[0].Reason)
}

func TestExecuteAddReduceClose(t *testing.T) {
	t.Parallel()

	p, _ := testPortfolio(t, newSession(100000, func(c *session.Config) { c.AllowPyramiding = true; c.MaxPositionSizePct = 0.5 }))
	ctx := context.Background()
	base := instruction.Base{Symbol: "BTCUSDT"}

	_, err := p.Execute(ctx, openBTC(func(o *instruction.Open) { o.Quantity = 0.2 }), btcTick(50000))
	require.NoError(t, err)

	res, err := p.Execute(ctx, instruction.Add{Base: base, Quantity: 0.2}, btcTick(51000))
	require.NoError(t, err)
	assert.InDelta(t, 0.4, res.Position.Quantity, 1e-12)
	assert.InDelta(t, 50500.0, res.Position.EntryPrice, 1e-9)

	res, err = p.Execute(ctx, instruction.Reduce{Base: base, Quantity: 0.1}, btcTick(50600))
	require.NoError(t, err)
	require.NotNil(t, res.Closed)
	assert.True(t, res.Closed.Partial)
	assert.InDelta(t, 10.0, res.Closed.RealizedPnL, 1e-9)

	res, err = p.Execute(ctx, instruction.Close{Base: base}, btcTick(50400))
	require.NoError(t, err)
	assert.False(t, res.Closed.Partial)
	assert.Equal(t, position.ExitManual, res.Closed.Reason)
	assert.Empty(t, p.Positions())

	_, err = p.Execute(ctx, instruction.Close{Base: base}, btcTick(50400))
	assert.ErrorIs(t, err, position.ErrNotFound)
}

func TestExecuteRejectsBadInput(t *testing.T) {
	t.Parallel()

	p, _ := testPortfolio(t, newSession(100000))
	ctx := context.Background()
	closeBTC := instruction.Close{Base: instruction.Base{Symbol: "BTCUSDT"}}

	_, err := p.Execute(ctx, closeBTC, market.Tick{Symbol: "ETHUSDT", Price: 3000})
	assert.ErrorIs(t, err, position.ErrInvalidInput)
	_, err = p.Execute(ctx, closeBTC, market.Tick{Symbol: "BTCUSDT"})
	assert.ErrorIs(t, err, position.ErrInvalidInput)
	_, err = p.Execute(ctx, nil, btcTick(50000))
	assert.ErrorIs(t, err, position.ErrInvalidInput)
	_, err = p.Execute(ctx, openBTC(func(o *instruction.Open) { o.StopLoss = 51000 }), btcTick(50000))
	assert.ErrorIs(t, err, position.ErrInvalidInput)
}
