// Package position holds the unit of exposure tracked by a ledger: the live
// Position, the immutable ClosedPosition written when it exits, and the
// invalidation rules that can force an exit independently of price stops.
package position

import (
	"fmt"
	"strings"
	"time"
)

type Side string

const (
	Long  Side = "long"
	Short Side = "short"
)

// ParseSide accepts long/short and the buy/sell aliases.
func ParseSide(s string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "long", "buy":
		return Long, nil
	case "short", "sell":
		return Short, nil
	}
	return "", fmt.Errorf("side %q: %w", s, ErrInvalidInput)
}

// Sign is +1 for long and -1 for short.
func (s Side) Sign() float64 {
	if s == Short {
		return -1
	}
	return 1
}

func (s Side) Opposite() Side {
	if s == Short {
		return Long
	}
	return Short
}

type ExitReason string

const (
	ExitStopLoss     ExitReason = "stop_loss"
	ExitTakeProfit   ExitReason = "take_profit"
	ExitInvalidation ExitReason = "invalidation_triggered"
	ExitManual       ExitReason = "manual"
	ExitReverse      ExitReason = "signal_reverse"
)

// Valid reports whether r is one of the known exit reasons.
func (r ExitReason) Valid() bool {
	switch r {
	case ExitStopLoss, ExitTakeProfit, ExitInvalidation, ExitManual, ExitReverse:
		return true
	}
	return false
}

// TakeProfitRung is one partial exit of a take-profit ladder. Fraction is the
// share of the quantity at the time the ladder was set (0.5 = 50%).
type TakeProfitRung struct {
	Price    float64 `json:"price" yaml:"price"`
	Fraction float64 `json:"fraction" yaml:"fraction"`
	RR       float64 `json:"rr" yaml:"rr"`
	Filled   bool    `json:"filled" yaml:"filled"`
}

type Position struct {
	ID        string `json:"id"`
	SessionID string `json:"session_id"`
	Symbol    string `json:"symbol"`
	Side      Side   `json:"side"`

	Quantity float64 `json:"quantity"`
	Notional float64 `json:"notional"`
	Leverage int     `json:"leverage"`

	EntryPrice   float64 `json:"entry_price"`
	CurrentPrice float64 `json:"current_price"`

	StopLoss     float64               `json:"stop_loss"`
	ProfitTarget float64               `json:"profit_target"` // 0 = none
	TakeProfits  []TakeProfitRung      `json:"take_profits,omitempty"`
	Invalidation InvalidationCondition `json:"invalidation"`

	RiskUSD         float64 `json:"risk_usd"`
	RiskAmount      float64 `json:"risk_amount"`
	RewardPotential float64 `json:"reward_potential"`
	RiskRewardRatio float64 `json:"risk_reward_ratio"`
	Confidence      float64 `json:"confidence"`

	UnrealizedPnL    float64 `json:"unrealized_pnl"`
	UnrealizedPnLPct float64 `json:"unrealized_pnl_pct"`

	OpenedAt  time.Time `json:"opened_at"`
	UpdatedAt time.Time `json:"updated_at"`

	SignalID  string `json:"signal_id,omitempty"`
	Reasoning string `json:"reasoning,omitempty"`
}

// Margin is the capital debited to carry the position.
func (p Position) Margin() float64 {
	if p.Leverage <= 0 {
		return p.Notional
	}
	return p.Notional / float64(p.Leverage)
}

// PnLAt is the P&L of qty units exited at price.
func (p Position) PnLAt(price, qty float64) float64 {
	return p.Side.Sign() * (price - p.EntryPrice) * qty
}

// Mark revalues the position at price. Marking with an unchanged price
// leaves every field as it was.
func (p *Position) Mark(price float64) float64 {
	pnl := p.PnLAt(price, p.Quantity)
	p.CurrentPrice = price
	p.UnrealizedPnL = pnl
	if p.Notional > 0 {
		p.UnrealizedPnLPct = pnl / p.Notional * 100
	}
	return pnl
}

// HitStopLoss: long stops at or below, short at or above.
func (p Position) HitStopLoss(price float64) bool {
	if p.StopLoss <= 0 {
		return false
	}
	if p.Side == Long {
		return price <= p.StopLoss
	}
	return price >= p.StopLoss
}

// HitTakeProfit: long targets at or above, short at or below.
func (p Position) HitTakeProfit(price float64) bool {
	if p.ProfitTarget <= 0 {
		return false
	}
	if p.Side == Long {
		return price >= p.ProfitTarget
	}
	return price <= p.ProfitTarget
}

// NextRung returns the index of the first unfilled ladder rung reached at
// price, or -1.
func (p Position) NextRung(price float64) int {
	for i, r := range p.TakeProfits {
		if r.Filled {
			continue
		}
		if (p.Side == Long && price >= r.Price) || (p.Side == Short && price <= r.Price) {
			return i
		}
		return -1
	}
	return -1
}

// ReachedRungs returns the indexes of every unfilled rung reached at price,
// in ladder order, starting from NextRung.
func (p Position) ReachedRungs(price float64) []int {
	var out []int
	for i := p.NextRung(price); i >= 0 && i < len(p.TakeProfits); i++ {
		r := p.TakeProfits[i]
		if r.Filled {
			continue
		}
		if (p.Side == Long && price < r.Price) || (p.Side == Short && price > r.Price) {
			break
		}
		out = append(out, i)
	}
	return out
}

// Clone returns a deep copy so callers can't reach the ledger's slices.
func (p Position) Clone() Position {
	if p.TakeProfits != nil {
		rungs := make([]TakeProfitRung, len(p.TakeProfits))
		copy(rungs, p.TakeProfits)
		p.TakeProfits = rungs
	}
	return p
}

// ClosedPosition is the immutable record written when a position, or a slice
// of one, exits.
type ClosedPosition struct {
	ID         string `json:"id"`
	PositionID string `json:"position_id"`
	SessionID  string `json:"session_id"`
	Symbol     string `json:"symbol"`
	Side       Side   `json:"side"`

	Quantity   float64 `json:"quantity"`
	EntryPrice float64 `json:"entry_price"`
	ExitPrice  float64 `json:"exit_price"`

	RealizedPnL    float64 `json:"realized_pnl"`
	RealizedPnLPct float64 `json:"realized_pnl_pct"`

	OpenedAt     time.Time  `json:"opened_at"`
	ClosedAt     time.Time  `json:"closed_at"`
	HoldingHours float64    `json:"holding_hours"`
	Reason       ExitReason `json:"reason"`
	Partial      bool       `json:"partial"`
	SignalID     string     `json:"signal_id,omitempty"`
}

// HoldingHours is the fractional hours between open and close.
func HoldingHours(openedAt, closedAt time.Time) float64 {
	return closedAt.Sub(openedAt).Hours()
}
