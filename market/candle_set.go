package market

import (
	"fmt"
	"time"
)

// CandleSet is a bounded, time-ordered candle history for one symbol.
// Candles are keyed by open time.
type CandleSet struct {
	Symbol    string
	Timeframe time.Duration // 0 until inferred from the first two candles
	Max       int           // 0 keeps everything
	Candles   []Candle
	Gaps      []Gap
}

// Gap records missing intervals between two consecutive candles.
type Gap struct {
	After   time.Time // open time of the candle before the gap
	Missing int       // number of missing intervals
}

func NewCandleSet(symbol string, tf time.Duration, max int) *CandleSet {
	return &CandleSet{Symbol: symbol, Timeframe: tf, Max: max}
}

// Add appends c. Candles must arrive in increasing time order; a candle
// with the same open time as the last one replaces it.
func (cs *CandleSet) Add(c Candle) error {
	last, ok := Last(cs.Candles)
	if ok {
		switch {
		case c.Time.Equal(last.Time):
			cs.Candles[len(cs.Candles)-1] = c
			return nil
		case c.Time.Before(last.Time):
			return fmt.Errorf("%s candle at %s is older than %s", cs.Symbol, c.Time.Format(time.RFC3339), last.Time.Format(time.RFC3339))
		}
		if cs.Timeframe == 0 {
			cs.Timeframe = c.Time.Sub(last.Time)
		}
		if step := c.Time.Sub(last.Time); step > cs.Timeframe {
			cs.Gaps = append(cs.Gaps, Gap{After: last.Time, Missing: int(step/cs.Timeframe) - 1})
		}
	}

	cs.Candles = append(cs.Candles, c)
	if cs.Max > 0 && len(cs.Candles) > cs.Max {
		cs.Candles = append(cs.Candles[:0:0], cs.Candles[len(cs.Candles)-cs.Max:]...)
	}
	return nil
}

func (cs *CandleSet) Len() int { return len(cs.Candles) }

func (cs *CandleSet) Last() (Candle, bool) { return Last(cs.Candles) }

// Aggregate rolls the set up into tf candles aligned to tf boundaries. A
// bucket needs at least minValid source candles, and the trailing bucket is
// left out until the source has covered its whole interval. A tf at or
// below the source timeframe returns a copy of the source.
func (cs *CandleSet) Aggregate(tf time.Duration, minValid int) []Candle {
	if len(cs.Candles) == 0 {
		return nil
	}
	if tf <= cs.Timeframe || cs.Timeframe == 0 {
		return append([]Candle(nil), cs.Candles...)
	}
	if minValid < 1 {
		minValid = 1
	}

	var (
		out   []Candle
		cur   Candle
		count int
	)
	flush := func() {
		if count >= minValid {
			out = append(out, cur)
		}
	}
	for _, c := range cs.Candles {
		bucket := c.Time.Truncate(tf)
		if count > 0 && !bucket.Equal(cur.Time) {
			flush()
			count = 0
		}
		if count == 0 {
			cur = Candle{Time: bucket, Open: c.Open, High: c.High, Low: c.Low}
		}
		if c.High > cur.High {
			cur.High = c.High
		}
		if c.Low < cur.Low {
			cur.Low = c.Low
		}
		cur.Close = c.Close
		cur.Volume += c.Volume
		count++
	}

	last, _ := cs.Last()
	if !last.Time.Add(cs.Timeframe).Before(cur.Time.Add(tf)) {
		flush()
	}
	return out
}

// Iterator walks the set oldest first.
type Iterator struct {
	cs  *CandleSet
	idx int
}

func (cs *CandleSet) Iterator() *Iterator {
	return &Iterator{
		cs:  cs,
		idx: -1,
	}
}

func (it *Iterator) Next() bool {
	it.idx++
	return it.idx < len(it.cs.Candles)
}

func (it *Iterator) Candle() Candle {
	return it.cs.Candles[it.idx]
}

func (it *Iterator) Index() int {
	return it.idx
}

func (it *Iterator) Time() time.Time {
	return it.cs.Candles[it.idx].Time
}
