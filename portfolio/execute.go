package portfolio

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/rustyeddy/riskbook/instruction"
	"github.com/rustyeddy/riskbook/ledger"
	"github.com/rustyeddy/riskbook/market"
	"github.com/rustyeddy/riskbook/position"
	"github.com/rustyeddy/riskbook/risk"
)

// Plan is how an Open instruction was resolved against the market and the
// session's limits.
type Plan struct {
	Entry      float64
	Stop       risk.StopLoss
	Target     float64
	Ladder     []position.TakeProfitRung
	Leverage   risk.LeverageAdjustment
	Size       risk.Size
	Volatility risk.SizeAdjustment
	Quantity   float64
	Assessment risk.Assessment
}

// Result is what Execute did.
type Result struct {
	Kind     instruction.Kind
	Symbol   string
	Position *position.Position
	Closed   *position.ClosedPosition
	Plan     *Plan
}

// Execute applies one instruction at the tick's price. Hold does nothing.
// Open fills in any stop, target, leverage and quantity the instruction
// left out before handing it to the ledger, whose gate runs CanOpen.
func (p *Portfolio) Execute(ctx context.Context, in instruction.Instruction, tick market.Tick) (Result, error) {
	if err := instruction.Validate(in); err != nil {
		return Result{}, err
	}
	h := in.Header()
	res := Result{Kind: in.Kind(), Symbol: h.Symbol}
	if in.Kind() == instruction.KindHold {
		return res, nil
	}
	if tick.Symbol != "" && market.NormalizeSymbol(tick.Symbol) != h.Symbol {
		return res, fmt.Errorf("execute %s: tick is for %s: %w", h.Symbol, tick.Symbol, position.ErrInvalidInput)
	}
	if tick.Price <= 0 || math.IsNaN(tick.Price) {
		return res, fmt.Errorf("execute %s: price %v: %w", h.Symbol, tick.Price, position.ErrInvalidInput)
	}

	switch v := in.(type) {
	case instruction.Open:
		return p.executeOpen(ctx, v, tick)
	case instruction.Add:
		pos, err := p.ledger.Add(ctx, h.Symbol, v.Quantity, tick.Price)
		if err != nil {
			return res, err
		}
		res.Position = &pos
	case instruction.Reduce:
		c, err := p.ledger.Reduce(ctx, h.Symbol, v.Quantity, tick.Price, position.ExitManual)
		if err != nil {
			return res, err
		}
		res.Closed = &c
	case instruction.Close:
		c, err := p.ledger.Close(ctx, h.Symbol, tick.Price, position.ExitManual)
		if err != nil {
			return res, err
		}
		res.Closed = &c
	}
	return res, nil
}

func (p *Portfolio) executeOpen(ctx context.Context, o instruction.Open, tick market.Tick) (Result, error) {
	res := Result{Kind: instruction.KindOpen, Symbol: o.Symbol}

	if !p.cfg.Supports(o.Symbol) {
		reason := fmt.Sprintf("symbol %s is not supported by this session", o.Symbol)
		p.rejected(CheckUnsupported, o.Symbol, reason)
		return res, fmt.Errorf("open %s: %s: %w", o.Symbol, reason, position.ErrNotAllowed)
	}
	if cur, err := p.ledger.Position(o.Symbol); err == nil {
		switch {
		case cur.Side == o.Side && !p.cfg.AllowPyramiding:
			reason := fmt.Sprintf("already have position in %s and pyramiding is disabled", o.Symbol)
			p.rejected(CheckPyramiding, o.Symbol, reason)
			return res, fmt.Errorf("open %s: %s: %w", o.Symbol, reason, position.ErrNotAllowed)
		case cur.Side != o.Side && !p.cfg.AllowHedging:
			reason := fmt.Sprintf("opposite %s position open in %s and hedging is disabled", cur.Side, o.Symbol)
			p.rejected(CheckHedging, o.Symbol, reason)
			return res, fmt.Errorf("open %s: %s: %w", o.Symbol, reason, position.ErrNotAllowed)
		}
	}

	plan, err := p.Plan(o, tick)
	if err != nil {
		return res, err
	}
	res.Plan = &plan
	for _, w := range plan.Assessment.Warnings {
		p.log.Warn().Str("symbol", o.Symbol).Str("code", w.Code).Msg(w.Msg)
	}

	req := ledger.OpenRequest{
		Symbol:       o.Symbol,
		Side:         o.Side,
		Quantity:     plan.Quantity,
		EntryPrice:   plan.Entry,
		StopLoss:     plan.Stop.Price,
		ProfitTarget: plan.Target,
		TakeProfits:  plan.Ladder,
		Invalidation: o.Invalidation,
		Leverage:     plan.Leverage.Leverage,
		Confidence:   o.Confidence,
		RiskUSD:      o.RiskUSD,
		SignalID:     o.SignalID,
		Reasoning:    o.Justification,
	}
	pos, err := p.ledger.Open(ctx, req)
	if err != nil {
		return res, err
	}
	res.Position = &pos
	return res, nil
}

// Plan resolves an Open instruction at the tick's price without touching
// the ledger:
//   - stop: given, else ATR based on the session's risk profile, else a
//     fixed percentage
//   - ladder: rr multiples of the stop distance, cut at an explicit target
//   - target: given, else the last rung
//   - leverage: given, else the confidence tier adjusted for volatility,
//     always capped at the session maximum
//   - quantity: given, else risk-based sizing adjusted for volatility and
//     capped at the per-position limit
func (p *Portfolio) Plan(o instruction.Open, tick market.Tick) (Plan, error) {
	cfg := p.ledger.Config()
	entry := tick.Price
	plan := Plan{Entry: entry}

	switch {
	case o.StopLoss > 0:
		plan.Stop = risk.StopLoss{
			Price:    o.StopLoss,
			Distance: math.Abs(entry - o.StopLoss),
			RiskPct:  math.Abs(entry-o.StopLoss) / entry * 100,
			Profile:  "given",
		}
	case tick.HasATR():
		plan.Stop = risk.ATRStopLoss(entry, tick.ATR14, tick.ATR3, o.Side, cfg.RiskProfile)
	default:
		plan.Stop = risk.PercentStopLoss(entry, o.Side, risk.DefaultStopPct)
	}
	if o.Side.Sign()*(entry-plan.Stop.Price) <= 0 {
		return plan, fmt.Errorf("plan %s: stop %v on wrong side of price %v: %w", o.Symbol, plan.Stop.Price, entry, position.ErrInvalidInput)
	}

	for _, r := range risk.TakeProfitLadder(entry, plan.Stop.Price, o.Side, cfg.TakeProfitRR) {
		if r.Price <= 0 {
			continue
		}
		if o.ProfitTarget > 0 && o.Side.Sign()*(r.Price-o.ProfitTarget) >= 0 {
			continue
		}
		plan.Ladder = append(plan.Ladder, r)
	}
	plan.Target = o.ProfitTarget
	if plan.Target == 0 && len(plan.Ladder) > 0 {
		plan.Target = plan.Ladder[len(plan.Ladder)-1].Price
	}

	if o.Leverage > 0 {
		plan.Leverage = risk.LeverageAdjustment{Leverage: o.Leverage, Base: o.Leverage, Reason: "given"}
	} else {
		base := risk.LeverageForConfidence(cfg, o.Confidence)
		plan.Leverage = risk.VolatilityLeverageAdjustment(base, tick.ATR3, tick.ATR14, entry, cfg.MaxLeverage)
	}
	if plan.Leverage.Leverage > cfg.MaxLeverage {
		plan.Leverage.Leverage = cfg.MaxLeverage
	}
	if plan.Leverage.Leverage < 1 {
		plan.Leverage.Leverage = 1
	}

	plan.Quantity = o.Quantity
	if plan.Quantity == 0 {
		size, err := risk.SizeByRisk(entry, plan.Stop.Price, cfg.CurrentCapital, cfg.RiskPerTradePct, cfg.MaxPositionSizePct)
		if err != nil {
			return plan, fmt.Errorf("plan %s: %w", o.Symbol, err)
		}
		plan.Size = size
		plan.Volatility = risk.VolatilityPositionAdjustment(size.Quantity, tick.ATR3, tick.ATR14, entry)
		plan.Quantity = math.Min(plan.Volatility.Quantity, cfg.CurrentCapital*cfg.MaxPositionSizePct/entry)
	}
	if plan.Quantity <= 0 {
		return plan, fmt.Errorf("plan %s: no capital to size a position: %w", o.Symbol, position.ErrNotAllowed)
	}

	plan.Assessment = p.Assess(o.Symbol, plan.Quantity, entry, plan.Stop.Price)
	return plan, nil
}

// IsRejection reports whether err is a policy rejection rather than a
// fault.
func IsRejection(err error) bool {
	return errors.Is(err, position.ErrNotAllowed)
}
