package indicators

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/riskbook/market"
)

var base = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func candle(i int, o, h, l, c float64) market.Candle {
	return market.Candle{Time: base.Add(time.Duration(i) * time.Minute), Open: o, High: h, Low: l, Close: c}
}

func TestATRStreaming(t *testing.T) {
	t.Parallel()

	candles := []market.Candle{
		candle(0, 100, 105, 99, 102),
		candle(1, 102, 107, 101, 105), // TR 6
		candle(2, 105, 108, 104, 106), // TR 4
		candle(3, 106, 110, 105, 108), // TR 5
		candle(4, 108, 109, 100, 101), // TR 9
	}

	a := NewATR(3)
	assert.Equal(t, "ATR(3)", a.Name())
	assert.Equal(t, 4, a.Warmup())

	for _, c := range candles[:3] {
		a.Update(c)
	}
	assert.False(t, a.Ready())
	assert.Zero(t, a.Value())

	a.Update(candles[3])
	require.True(t, a.Ready())
	assert.InDelta(t, 5.0, a.Value(), 1e-9)

	a.Update(candles[4])
	assert.InDelta(t, (5.0*2+9)/3, a.Value(), 1e-9)

	got, err := ATRFunc(candles, 3)
	require.NoError(t, err)
	assert.InDelta(t, a.Value(), got, 1e-12)

	a.Reset()
	assert.False(t, a.Ready())
}

func TestATRFuncErrors(t *testing.T) {
	t.Parallel()

	_, err := ATRFunc(nil, 0)
	assert.Error(t, err)
	_, err = ATRFunc([]market.Candle{candle(0, 1, 1, 1, 1)}, 3)
	assert.Error(t, err)
}

func TestEMA(t *testing.T) {
	t.Parallel()

	e := NewEMA(3)
	assert.Equal(t, "EMA(3)", e.Name())
	for i, c := range []float64{10, 11, 12} {
		e.Update(candle(i, c, c, c, c))
	}
	require.True(t, e.Ready())
	assert.InDelta(t, 11.0, e.Value(), 1e-12)

	e.Update(candle(3, 15, 15, 15, 15))
	assert.InDelta(t, 13.0, e.Value(), 1e-12)
}

func TestSetApplyFillsOnlyMissing(t *testing.T) {
	t.Parallel()

	s := NewSet()
	for i := 0; i < 60; i++ {
		p := 100 + float64(i%5)
		s.Update(candle(i, p, p+2, p-2, p))
	}

	tick := market.Tick{Symbol: "BTCUSDT", Price: 101, ATR3: 7}
	s.Apply(&tick)
	assert.Equal(t, 7.0, tick.ATR3)
	assert.Greater(t, tick.ATR14, 0.0)
	assert.Greater(t, tick.EMA20, 0.0)
	assert.Greater(t, tick.EMA50, 0.0)

	s.Reset()
	fresh := market.Tick{Price: 101}
	s.Apply(&fresh)
	assert.Zero(t, fresh.ATR14)
}
