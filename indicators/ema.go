package indicators

import (
	"fmt"

	"github.com/rustyeddy/riskbook/market"
)

// EMA is a streaming exponential moving average of closes, seeded with the
// simple average of the first period closes.
type EMA struct {
	period int
	mult   float64
	value  float64
	count  int
	sum    float64
}

func NewEMA(period int) *EMA {
	return &EMA{period: period, mult: 2.0 / float64(period+1)}
}

func (e *EMA) Name() string {
	return fmt.Sprintf("EMA(%d)", e.period)
}

func (e *EMA) Warmup() int {
	return e.period
}

func (e *EMA) Reset() {
	e.value = 0
	e.count = 0
	e.sum = 0
}

func (e *EMA) Update(c market.Candle) {
	if e.count < e.period {
		e.sum += c.Close
		e.count++
		if e.count == e.period {
			e.value = e.sum / float64(e.period)
		}
		return
	}
	e.value = (c.Close-e.value)*e.mult + e.value
}

func (e *EMA) Ready() bool {
	return e.count >= e.period
}

func (e *EMA) Value() float64 {
	if !e.Ready() {
		return 0
	}
	return e.value
}
