// Package instruction is the boundary between the decision engine's JSON
// and the ledger. Every decoded instruction is one of Open, Add, Reduce,
// Close or Hold; anything that cannot be decoded into one of them is
// rejected with position.ErrInvalidInput.
package instruction

import (
	"github.com/rustyeddy/riskbook/position"
)

type Kind string

const (
	KindOpen   Kind = "open"
	KindAdd    Kind = "add"
	KindReduce Kind = "reduce"
	KindClose  Kind = "close"
	KindHold   Kind = "hold"
)

// Leverage bounds accepted from the decision engine. Zero means the session
// default.
const (
	MinLeverage = 5
	MaxLeverage = 40
)

// Instruction is implemented only by the types in this package.
type Instruction interface {
	Kind() Kind
	Header() Base
	sealed()
}

// Base carries the fields every instruction has.
type Base struct {
	Symbol        string
	Confidence    float64
	Justification string
	SignalID      string
}

func (b Base) Header() Base { return b }
func (Base) sealed()        {}

// Open starts a position. Zero Quantity, StopLoss, ProfitTarget or Leverage
// are resolved by the portfolio from market data and session config.
type Open struct {
	Base
	Side         position.Side
	Quantity     float64
	StopLoss     float64
	ProfitTarget float64
	Leverage     int
	RiskUSD      float64
	Invalidation position.InvalidationCondition
}

// Add grows an existing position at the current price.
type Add struct {
	Base
	Quantity float64
}

// Reduce exits part of a position at the current price.
type Reduce struct {
	Base
	Quantity float64
}

// Close exits a whole position at the current price.
type Close struct {
	Base
}

// Hold leaves the position alone.
type Hold struct {
	Base
}

func (Open) Kind() Kind   { return KindOpen }
func (Add) Kind() Kind    { return KindAdd }
func (Reduce) Kind() Kind { return KindReduce }
func (Close) Kind() Kind  { return KindClose }
func (Hold) Kind() Kind   { return KindHold }
