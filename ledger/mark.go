package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/rustyeddy/riskbook/market"
	"github.com/rustyeddy/riskbook/position"
)

// MarkToMarket revalues every live position that has a price and fires at
// most one exit per position: stop loss first, then profit target, then
// every take-profit rung reached at the price as one partial exit. Marking
// twice at the same price changes nothing the second time.
func (l *Ledger) MarkToMarket(ctx context.Context, prices map[string]float64) ([]position.ClosedPosition, error) {
	l.mu.Lock()
	symbols := make([]string, 0, len(l.positions))
	for s := range l.positions {
		if _, ok := prices[s]; ok {
			symbols = append(symbols, s)
		}
	}
	sort.Strings(symbols)

	var (
		events []Event
		exits  []position.ClosedPosition
		errs   []error
	)
	for _, sym := range symbols {
		price := prices[sym]
		if price <= 0 {
			errs = append(errs, fmt.Errorf("mark %s: price %v: %w", sym, price, position.ErrInvalidInput))
			continue
		}
		p := l.positions[sym]
		p.Mark(price)

		var (
			ev  Event
			err error
			hit bool
		)
		switch {
		case p.HitStopLoss(price):
			hit = true
			ev, err = l.closeLocked(ctx, sym, price, position.ExitStopLoss)
		case p.HitTakeProfit(price):
			hit = true
			ev, err = l.closeLocked(ctx, sym, price, position.ExitTakeProfit)
		default:
			if rungs := p.ReachedRungs(price); len(rungs) > 0 {
				hit = true
				ev, err = l.reduceLocked(ctx, sym, rungQuantity(*p, rungs), price, position.ExitTakeProfit, rungs...)
			}
		}
		if !hit {
			continue
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		events = append(events, ev)
		exits = append(exits, *ev.Closed)
	}
	l.mu.Unlock()

	l.notify(events)
	return exits, errors.Join(errs...)
}

// rungQuantity converts the fractions of rungs, which are relative to the
// size when the ladder was set, into a quantity of what is left now.
func rungQuantity(p position.Position, rungs []int) float64 {
	filled := 0.0
	for _, r := range p.TakeProfits {
		if r.Filled {
			filled += r.Fraction
		}
	}
	want := 0.0
	for _, i := range rungs {
		want += p.TakeProfits[i].Fraction
	}
	remaining := 1 - filled
	if remaining <= 0 || want >= remaining-1e-9 {
		return p.Quantity
	}
	return want * p.Quantity / remaining
}

// CheckInvalidation evaluates the live position's invalidation rule against
// recent candles (oldest first) and closes it at the latest close when the
// rule fires.
func (l *Ledger) CheckInvalidation(ctx context.Context, symbol string, candles []market.Candle) (bool, error) {
	l.mu.Lock()
	p, ok := l.positions[symbol]
	if !ok {
		l.mu.Unlock()
		return false, fmt.Errorf("check invalidation %s: %w", symbol, position.ErrNotFound)
	}
	if !p.Invalidation.Triggered(candles, p.OpenedAt) {
		l.mu.Unlock()
		return false, nil
	}
	last, _ := market.Last(candles)
	l.log.Warn().
		Str("symbol", symbol).
		Str("rule", p.Invalidation.Description).
		Float64("close", last.Close).
		Msg("invalidation triggered")
	ev, err := l.closeLocked(ctx, symbol, last.Close, position.ExitInvalidation)
	l.mu.Unlock()
	if err != nil {
		return false, err
	}
	l.notify([]Event{ev})
	return true, nil
}
