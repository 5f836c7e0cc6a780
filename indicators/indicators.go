// Package indicators computes the volatility and trend fields a Tick carries
// when the upstream feed leaves them out.
package indicators

import "github.com/rustyeddy/riskbook/market"

// Indicator computes a single streaming value from closed candles.
type Indicator interface {
	// Name returns a stable identifier like "ATR(14)".
	Name() string

	// Warmup returns how many updates are needed before Ready() can be true.
	Warmup() int

	Reset()

	// Update consumes the next closed candle.
	Update(c market.Candle)

	// Ready reports whether Value() is meaningful.
	Ready() bool

	// Value is 0 until Ready.
	Value() float64
}

// Set tracks the indicators one symbol's ticks need.
type Set struct {
	ATR3  *ATR
	ATR14 *ATR
	EMA20 *EMA
	EMA50 *EMA
}

func NewSet() *Set {
	return &Set{
		ATR3:  NewATR(3),
		ATR14: NewATR(14),
		EMA20: NewEMA(20),
		EMA50: NewEMA(50),
	}
}

func (s *Set) all() []Indicator {
	return []Indicator{s.ATR3, s.ATR14, s.EMA20, s.EMA50}
}

func (s *Set) Update(c market.Candle) {
	for _, ind := range s.all() {
		ind.Update(c)
	}
}

func (s *Set) Reset() {
	for _, ind := range s.all() {
		ind.Reset()
	}
}

// Apply fills the tick's indicator fields that are still zero with values
// from ready indicators. Values the feed supplied are left alone.
func (s *Set) Apply(t *market.Tick) {
	fill := func(dst *float64, ind Indicator) {
		if *dst == 0 && ind.Ready() {
			*dst = ind.Value()
		}
	}
	fill(&t.ATR3, s.ATR3)
	fill(&t.ATR14, s.ATR14)
	fill(&t.EMA20, s.EMA20)
	fill(&t.EMA50, s.EMA50)
}
