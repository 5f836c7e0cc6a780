package ledger

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/rustyeddy/riskbook/journal"
	"github.com/rustyeddy/riskbook/pkg/id"
	"github.com/rustyeddy/riskbook/position"
	"github.com/rustyeddy/riskbook/risk"
)

type OpenRequest struct {
	Symbol       string
	Side         position.Side
	Quantity     float64
	EntryPrice   float64
	StopLoss     float64
	ProfitTarget float64 // 0 = none
	TakeProfits  []position.TakeProfitRung
	Invalidation position.InvalidationCondition
	Leverage     int // 0 = session default
	Confidence   float64
	RiskUSD      float64 // 0 = qty × |entry − stop|
	SignalID     string
	Reasoning    string
}

func (l *Ledger) validateOpen(req *OpenRequest) error {
	bad := func(format string, args ...any) error {
		return fmt.Errorf("open %s: %s: %w", req.Symbol, fmt.Sprintf(format, args...), position.ErrInvalidInput)
	}
	req.Symbol = strings.TrimSpace(req.Symbol)
	if req.Symbol == "" {
		return bad("symbol is required")
	}
	if req.Side != position.Long && req.Side != position.Short {
		return bad("side %q", req.Side)
	}
	if req.Quantity <= 0 || math.IsNaN(req.Quantity) {
		return bad("quantity %v must be positive", req.Quantity)
	}
	if req.EntryPrice <= 0 {
		return bad("entry price %v must be positive", req.EntryPrice)
	}
	if req.StopLoss <= 0 {
		return bad("stop loss %v must be positive", req.StopLoss)
	}
	if req.Side.Sign()*(req.EntryPrice-req.StopLoss) <= 0 {
		return bad("stop loss %v on wrong side of entry %v", req.StopLoss, req.EntryPrice)
	}
	if req.ProfitTarget < 0 || (req.ProfitTarget > 0 && req.Side.Sign()*(req.ProfitTarget-req.EntryPrice) <= 0) {
		return bad("profit target %v on wrong side of entry %v", req.ProfitTarget, req.EntryPrice)
	}
	if req.Leverage == 0 {
		req.Leverage = l.cfg.DefaultLeverage
	}
	if req.Leverage < 1 || req.Leverage > l.cfg.MaxLeverage {
		return bad("leverage %d outside [1, %d]", req.Leverage, l.cfg.MaxLeverage)
	}
	if req.Confidence < 0 || req.Confidence > 1 {
		return bad("confidence %v outside [0, 1]", req.Confidence)
	}
	if !req.Invalidation.IsZero() {
		if req.Invalidation.Timeframe == "" {
			req.Invalidation.Timeframe = l.cfg.InvalidationTimeframe
		}
		if req.Invalidation.CandleCloses == 0 && req.Invalidation.Type != position.TimeBased {
			req.Invalidation.CandleCloses = 1
		}
	}
	if err := req.Invalidation.Validate(); err != nil {
		return fmt.Errorf("open %s: %w", req.Symbol, err)
	}
	if err := risk.ValidateLadder(req.EntryPrice, req.Side, req.TakeProfits); err != nil {
		return fmt.Errorf("open %s: %w", req.Symbol, err)
	}
	return nil
}

// Open starts a new position. With pyramiding enabled a same-side open on a
// live symbol becomes an Add; with hedging enabled an opposite-side open
// first closes the live position with signal_reverse.
func (l *Ledger) Open(ctx context.Context, req OpenRequest) (position.Position, error) {
	if err := l.validateOpen(&req); err != nil {
		return position.Position{}, err
	}

	l.mu.Lock()
	p, events, err := l.openLocked(ctx, req)
	l.mu.Unlock()

	l.notify(events)
	return p, err
}

func (l *Ledger) openLocked(ctx context.Context, req OpenRequest) (position.Position, []Event, error) {
	var events []Event

	v := l.viewLocked()
	cur, live := l.positions[req.Symbol]
	if live {
		if cur.Side == req.Side {
			if !l.cfg.AllowPyramiding {
				return position.Position{}, nil, fmt.Errorf("open %s: position already open and pyramiding disabled: %w", req.Symbol, position.ErrNotAllowed)
			}
			ev, err := l.addLocked(ctx, req.Symbol, req.Quantity, req.EntryPrice)
			if err != nil {
				return position.Position{}, nil, err
			}
			return ev.Position, []Event{ev}, nil
		}
		if !l.cfg.AllowHedging {
			return position.Position{}, nil, fmt.Errorf("open %s %s: opposite %s position open and hedging disabled: %w",
				req.Side, req.Symbol, cur.Side, position.ErrNotAllowed)
		}
		v = afterClose(v, *cur, req.EntryPrice)
	}

	// Admission is decided on the view after any reversal so a rejected
	// open leaves the live position alone.
	notional := req.Quantity * req.EntryPrice
	if l.gate != nil {
		if ok, reason := l.gate(v, req.Symbol, notional); !ok {
			return position.Position{}, nil, fmt.Errorf("open %s: %s: %w", req.Symbol, reason, position.ErrNotAllowed)
		}
	}
	margin := notional / float64(req.Leverage)
	if margin > v.Capital {
		return position.Position{}, nil, fmt.Errorf("open %s: margin %.2f exceeds available %.2f: %w",
			req.Symbol, margin, v.Capital, position.ErrNotAllowed)
	}

	if live {
		ev, err := l.closeLocked(ctx, req.Symbol, req.EntryPrice, position.ExitReverse)
		if err != nil {
			return position.Position{}, nil, err
		}
		events = append(events, ev)
	}

	now := l.now()
	p := position.Position{
		ID:           id.NewAt(now),
		SessionID:    l.cfg.ID,
		Symbol:       req.Symbol,
		Side:         req.Side,
		Quantity:     req.Quantity,
		Notional:     notional,
		Leverage:     req.Leverage,
		EntryPrice:   req.EntryPrice,
		CurrentPrice: req.EntryPrice,
		StopLoss:     req.StopLoss,
		ProfitTarget: req.ProfitTarget,
		TakeProfits:  append([]position.TakeProfitRung(nil), req.TakeProfits...),
		Invalidation: req.Invalidation,
		RiskUSD:      req.RiskUSD,
		Confidence:   req.Confidence,
		OpenedAt:     now,
		UpdatedAt:    now,
		SignalID:     req.SignalID,
		Reasoning:    req.Reasoning,
	}
	p.RiskAmount = risk.PlannedRiskUSD(p.Quantity, p.EntryPrice, p.StopLoss)
	if p.RiskUSD == 0 {
		p.RiskUSD = p.RiskAmount
	}
	if p.ProfitTarget > 0 {
		p.RewardPotential = p.Quantity * math.Abs(p.ProfitTarget-p.EntryPrice)
		p.RiskRewardRatio = risk.RR(p.EntryPrice, p.StopLoss, p.ProfitTarget)
	}

	capital := l.cfg.CurrentCapital - margin
	trade := l.tradeRecord(p, journal.ActionOpen, p.Quantity, p.EntryPrice, 0, "")
	tr := journal.Transition{SessionID: l.cfg.ID, Capital: capital, Position: &p, Trade: trade}
	if err := l.persist(ctx, tr); err != nil {
		return position.Position{}, events, err
	}

	l.cfg.CurrentCapital = capital
	stored := p.Clone()
	l.positions[p.Symbol] = &stored
	l.trades = append(l.trades, trade)

	l.log.Info().
		Str("symbol", p.Symbol).
		Str("side", string(p.Side)).
		Float64("qty", p.Quantity).
		Float64("entry", p.EntryPrice).
		Int("leverage", p.Leverage).
		Float64("margin", margin).
		Float64("capital", capital).
		Msg("position opened")

	events = append(events, Event{SessionID: l.cfg.ID, Action: journal.ActionOpen, Position: p.Clone(), Trade: trade, Capital: capital})
	return p.Clone(), events, nil
}

// Add grows a live position at price, moving entry to the volume-weighted
// average. Requires pyramiding.
func (l *Ledger) Add(ctx context.Context, symbol string, qty, price float64) (position.Position, error) {
	if qty <= 0 || price <= 0 {
		return position.Position{}, fmt.Errorf("add %s: quantity %v and price %v must be positive: %w", symbol, qty, price, position.ErrInvalidInput)
	}

	l.mu.Lock()
	ev, err := l.addLocked(ctx, symbol, qty, price)
	l.mu.Unlock()
	if err != nil {
		return position.Position{}, err
	}
	l.notify([]Event{ev})
	return ev.Position, nil
}

func (l *Ledger) addLocked(ctx context.Context, symbol string, qty, price float64) (Event, error) {
	if !l.cfg.AllowPyramiding {
		return Event{}, fmt.Errorf("add %s: pyramiding disabled: %w", symbol, position.ErrNotAllowed)
	}
	cur, ok := l.positions[symbol]
	if !ok {
		return Event{}, fmt.Errorf("add %s: %w", symbol, position.ErrNotFound)
	}
	margin := qty * price / float64(max(cur.Leverage, 1))
	if margin > l.cfg.CurrentCapital {
		return Event{}, fmt.Errorf("add %s: margin %.2f exceeds available %.2f: %w",
			symbol, margin, l.cfg.CurrentCapital, position.ErrNotAllowed)
	}

	now := l.now()
	np := cur.Clone()
	newQty := cur.Quantity + qty
	np.EntryPrice = (cur.Quantity*cur.EntryPrice + qty*price) / newQty
	np.Quantity = newQty
	np.Notional = newQty * np.EntryPrice
	np.RiskUSD = cur.RiskUSD * newQty / cur.Quantity
	np.UpdatedAt = now
	resize(&np)
	np.Mark(price)

	capital := l.cfg.CurrentCapital - margin
	trade := l.tradeRecord(np, journal.ActionAdd, qty, price, 0, "")
	tr := journal.Transition{SessionID: l.cfg.ID, Capital: capital, Position: &np, Trade: trade}
	if err := l.persist(ctx, tr); err != nil {
		return Event{}, err
	}

	l.cfg.CurrentCapital = capital
	*cur = np.Clone()
	l.trades = append(l.trades, trade)

	l.log.Info().
		Str("symbol", symbol).
		Float64("qty", qty).
		Float64("price", price).
		Float64("avg_entry", np.EntryPrice).
		Float64("capital", capital).
		Msg("position added")

	return Event{SessionID: l.cfg.ID, Action: journal.ActionAdd, Position: np.Clone(), Trade: trade, Capital: capital}, nil
}

// Reduce exits qty of a live position at price. Reducing by the whole
// quantity or more closes it.
func (l *Ledger) Reduce(ctx context.Context, symbol string, qty, price float64, reason position.ExitReason) (position.ClosedPosition, error) {
	if qty <= 0 || price <= 0 {
		return position.ClosedPosition{}, fmt.Errorf("reduce %s: quantity %v and price %v must be positive: %w", symbol, qty, price, position.ErrInvalidInput)
	}
	if !reason.Valid() {
		return position.ClosedPosition{}, fmt.Errorf("reduce %s: exit reason %q: %w", symbol, reason, position.ErrInvalidInput)
	}

	l.mu.Lock()
	ev, err := l.reduceLocked(ctx, symbol, qty, price, reason)
	l.mu.Unlock()
	if err != nil {
		return position.ClosedPosition{}, err
	}
	l.notify([]Event{ev})
	return *ev.Closed, nil
}

// reduceLocked exits qty; fills marks those take-profit rungs filled.
func (l *Ledger) reduceLocked(ctx context.Context, symbol string, qty, price float64, reason position.ExitReason, fills ...int) (Event, error) {
	cur, ok := l.positions[symbol]
	if !ok {
		return Event{}, fmt.Errorf("reduce %s: %w", symbol, position.ErrNotFound)
	}
	if qty >= cur.Quantity {
		return l.closeLocked(ctx, symbol, price, reason)
	}

	now := l.now()
	frac := qty / cur.Quantity
	pnl := cur.PnLAt(price, qty)
	exitNotional := qty * cur.EntryPrice
	capital := l.cfg.CurrentCapital + cur.Margin()*frac + pnl

	np := cur.Clone()
	np.Quantity = cur.Quantity - qty
	np.Notional = np.Quantity * np.EntryPrice
	np.RiskUSD = cur.RiskUSD * (1 - frac)
	np.UpdatedAt = now
	for _, i := range fills {
		np.TakeProfits[i].Filled = true
	}
	resize(&np)
	np.Mark(price)

	closed := position.ClosedPosition{
		ID:           id.NewAt(now),
		PositionID:   cur.ID,
		SessionID:    l.cfg.ID,
		Symbol:       symbol,
		Side:         cur.Side,
		Quantity:     qty,
		EntryPrice:   cur.EntryPrice,
		ExitPrice:    price,
		RealizedPnL:  pnl,
		OpenedAt:     cur.OpenedAt,
		ClosedAt:     now,
		HoldingHours: position.HoldingHours(cur.OpenedAt, now),
		Reason:       reason,
		Partial:      true,
		SignalID:     cur.SignalID,
	}
	if exitNotional > 0 {
		closed.RealizedPnLPct = pnl / exitNotional * 100
	}

	trade := l.tradeRecord(np, journal.ActionReduce, qty, price, pnl, string(reason))
	tr := journal.Transition{SessionID: l.cfg.ID, Capital: capital, Position: &np, Closed: &closed, Trade: trade}
	if err := l.persist(ctx, tr); err != nil {
		return Event{}, err
	}

	l.cfg.CurrentCapital = capital
	*cur = np.Clone()
	l.closed = append(l.closed, closed)
	l.trades = append(l.trades, trade)

	l.log.Info().
		Str("symbol", symbol).
		Float64("qty", qty).
		Float64("price", price).
		Float64("pnl", pnl).
		Str("reason", string(reason)).
		Float64("capital", capital).
		Msg("position reduced")

	return Event{SessionID: l.cfg.ID, Action: journal.ActionReduce, Position: np.Clone(), Closed: &closed, Trade: trade, Capital: capital}, nil
}

// Close exits a live position entirely at price.
func (l *Ledger) Close(ctx context.Context, symbol string, price float64, reason position.ExitReason) (position.ClosedPosition, error) {
	if price <= 0 {
		return position.ClosedPosition{}, fmt.Errorf("close %s: price %v must be positive: %w", symbol, price, position.ErrInvalidInput)
	}
	if !reason.Valid() {
		return position.ClosedPosition{}, fmt.Errorf("close %s: exit reason %q: %w", symbol, reason, position.ErrInvalidInput)
	}

	l.mu.Lock()
	ev, err := l.closeLocked(ctx, symbol, price, reason)
	l.mu.Unlock()
	if err != nil {
		return position.ClosedPosition{}, err
	}
	l.notify([]Event{ev})
	return *ev.Closed, nil
}

func (l *Ledger) closeLocked(ctx context.Context, symbol string, price float64, reason position.ExitReason) (Event, error) {
	cur, ok := l.positions[symbol]
	if !ok {
		return Event{}, fmt.Errorf("close %s: %w", symbol, position.ErrNotFound)
	}

	now := l.now()
	pnl := cur.PnLAt(price, cur.Quantity)
	capital := l.cfg.CurrentCapital + cur.Margin() + pnl

	closed := position.ClosedPosition{
		ID:           id.NewAt(now),
		PositionID:   cur.ID,
		SessionID:    l.cfg.ID,
		Symbol:       symbol,
		Side:         cur.Side,
		Quantity:     cur.Quantity,
		EntryPrice:   cur.EntryPrice,
		ExitPrice:    price,
		RealizedPnL:  pnl,
		OpenedAt:     cur.OpenedAt,
		ClosedAt:     now,
		HoldingHours: position.HoldingHours(cur.OpenedAt, now),
		Reason:       reason,
		SignalID:     cur.SignalID,
	}
	if cur.Notional > 0 {
		closed.RealizedPnLPct = pnl / cur.Notional * 100
	}

	final := cur.Clone()
	final.Mark(price)
	final.UpdatedAt = now

	trade := l.tradeRecord(final, journal.ActionClose, cur.Quantity, price, pnl, string(reason))
	tr := journal.Transition{SessionID: l.cfg.ID, Capital: capital, ClosePositionID: cur.ID, Closed: &closed, Trade: trade}
	if err := l.persist(ctx, tr); err != nil {
		return Event{}, err
	}

	l.cfg.CurrentCapital = capital
	delete(l.positions, symbol)
	l.closed = append(l.closed, closed)
	l.trades = append(l.trades, trade)

	ev := l.log.Info()
	if reason == position.ExitStopLoss || reason == position.ExitInvalidation {
		ev = l.log.Warn()
	}
	ev.Str("symbol", symbol).
		Str("side", string(cur.Side)).
		Float64("exit", price).
		Float64("pnl", pnl).
		Float64("pnl_pct", closed.RealizedPnLPct).
		Str("reason", string(reason)).
		Float64("capital", capital).
		Msg("position closed")

	return Event{SessionID: l.cfg.ID, Action: journal.ActionClose, Position: final, Closed: &closed, Trade: trade, Capital: capital}, nil
}

// afterClose projects v as it would be once cur is closed at price.
func afterClose(v View, cur position.Position, price float64) View {
	v.Capital += cur.Margin() + cur.PnLAt(price, cur.Quantity)
	v.Config.CurrentCapital = v.Capital
	kept := make([]position.Position, 0, len(v.Positions))
	for _, p := range v.Positions {
		if p.Symbol != cur.Symbol {
			kept = append(kept, p)
		}
	}
	v.Positions = kept
	return v
}

// resize recomputes the size-dependent risk fields after a quantity change.
func resize(p *position.Position) {
	p.RiskAmount = risk.PlannedRiskUSD(p.Quantity, p.EntryPrice, p.StopLoss)
	p.RewardPotential = 0
	p.RiskRewardRatio = 0
	if p.ProfitTarget > 0 {
		p.RewardPotential = p.Quantity * math.Abs(p.ProfitTarget-p.EntryPrice)
		p.RiskRewardRatio = risk.RR(p.EntryPrice, p.StopLoss, p.ProfitTarget)
	}
}

func (l *Ledger) tradeRecord(p position.Position, action journal.Action, qty, price, pnl float64, reason string) journal.TradeRecord {
	at := p.UpdatedAt
	return journal.TradeRecord{
		ID:         id.NewAt(at),
		SessionID:  l.cfg.ID,
		PositionID: p.ID,
		Time:       at,
		Action:     action,
		Symbol:     p.Symbol,
		Side:       p.Side,
		Quantity:   qty,
		Price:      price,
		Leverage:   p.Leverage,
		PnL:        pnl,
		Reason:     reason,
	}
}
