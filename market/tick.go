package market

import (
	"fmt"
	"sync"
	"time"
)

// Tick is the latest market state for a symbol as delivered by the
// ingestion pipeline: a mark price plus the indicator values computed
// upstream. Indicator fields are zero when unavailable.
type Tick struct {
	Symbol string    `json:"symbol"`
	Time   time.Time `json:"time"`
	Price  float64   `json:"price"`
	Volume float64   `json:"volume"`

	ATR3       float64 `json:"atr3"`
	ATR14      float64 `json:"atr14"`
	EMA20      float64 `json:"ema20"`
	EMA50      float64 `json:"ema50"`
	RSI7       float64 `json:"rsi7"`
	RSI14      float64 `json:"rsi14"`
	MACDLine   float64 `json:"macd_line"`
	MACDSignal float64 `json:"macd_signal"`
}

// HasATR reports whether both volatility readings are present.
func (t Tick) HasATR() bool {
	return t.ATR3 > 0 && t.ATR14 > 0
}

// TickStore keeps the latest tick per symbol.
type TickStore struct {
	mu    sync.RWMutex
	ticks map[string]Tick
}

func NewTickStore() *TickStore {
	return &TickStore{ticks: make(map[string]Tick)}
}

func (ts *TickStore) Set(t Tick) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.ticks[t.Symbol] = t
}

func (ts *TickStore) Get(symbol string) (Tick, error) {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	t, ok := ts.ticks[symbol]
	if !ok {
		return Tick{}, fmt.Errorf("no tick for %q", symbol)
	}
	return t, nil
}

// Prices returns symbol -> mark price for every stored tick.
func (ts *TickStore) Prices() map[string]float64 {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	out := make(map[string]float64, len(ts.ticks))
	for sym, t := range ts.ticks {
		out[sym] = t.Price
	}
	return out
}
