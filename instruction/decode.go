package instruction

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/rustyeddy/riskbook/market"
	"github.com/rustyeddy/riskbook/position"
)

// args is the decision engine's trade_signal_args object.
type args struct {
	Coin          string   `json:"coin"`
	Symbol        string   `json:"symbol"`
	Signal        string   `json:"signal"`
	Side          string   `json:"side"`
	Quantity      float64  `json:"quantity"`
	ProfitTarget  float64  `json:"profit_target"`
	StopLoss      float64  `json:"stop_loss"`
	Invalidation  string   `json:"invalidation_condition"`
	Leverage      int      `json:"leverage"`
	Confidence    *float64 `json:"confidence"`
	RiskUSD       float64  `json:"risk_usd"`
	Justification string   `json:"justification"`
	SignalID      string   `json:"signal_id"`
}

// Decode parses one trade_signal_args object.
func Decode(data []byte) (Instruction, error) {
	var a args
	if err := strictUnmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("decode instruction: %v: %w", err, position.ErrInvalidInput)
	}
	return a.build("")
}

// DecodeBatch parses the {"SYM": {"trade_signal_args": {...}}} form. Valid
// entries are returned in symbol order; each malformed entry contributes
// an ErrInvalidInput to the joined error.
func DecodeBatch(data []byte) ([]Instruction, error) {
	var batch map[string]struct {
		Args *json.RawMessage `json:"trade_signal_args"`
	}
	if err := json.Unmarshal(data, &batch); err != nil {
		return nil, fmt.Errorf("decode batch: %v: %w", err, position.ErrInvalidInput)
	}

	keys := make([]string, 0, len(batch))
	for k := range batch {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var (
		out  []Instruction
		errs []error
	)
	for _, key := range keys {
		entry := batch[key]
		if entry.Args == nil {
			errs = append(errs, fmt.Errorf("%s: missing trade_signal_args: %w", key, position.ErrInvalidInput))
			continue
		}
		var a args
		if err := strictUnmarshal(*entry.Args, &a); err != nil {
			errs = append(errs, fmt.Errorf("%s: %v: %w", key, err, position.ErrInvalidInput))
			continue
		}
		in, err := a.build(key)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, in)
	}
	return out, errors.Join(errs...)
}

func strictUnmarshal(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func (a args) build(key string) (Instruction, error) {
	sym := a.Coin
	if sym == "" {
		sym = a.Symbol
	}
	if sym == "" {
		sym = key
	}
	sym = market.NormalizeSymbol(sym)
	if key != "" && market.NormalizeSymbol(key) != sym {
		return nil, invalid(key, "coin %q does not match key", a.Coin)
	}

	b := Base{
		Symbol:        sym,
		Justification: strings.TrimSpace(a.Justification),
		SignalID:      a.SignalID,
	}
	if a.Confidence != nil {
		b.Confidence = *a.Confidence
	}

	var in Instruction
	switch strings.ToLower(strings.TrimSpace(a.Signal)) {
	case "hold":
		in = Hold{Base: b}
	case "entry", "open":
		o := Open{
			Base:         b,
			Quantity:     a.Quantity,
			StopLoss:     a.StopLoss,
			ProfitTarget: a.ProfitTarget,
			Leverage:     a.Leverage,
			RiskUSD:      a.RiskUSD,
		}
		side, err := resolveSide(a)
		if err != nil {
			return nil, invalid(sym, "%v", err)
		}
		o.Side = side
		inv, err := position.ParseInvalidation(a.Invalidation, "")
		if err != nil {
			return nil, fmt.Errorf("%s: %w", sym, err)
		}
		o.Invalidation = inv
		in = o
	case "add":
		in = Add{Base: b, Quantity: a.Quantity}
	case "exit":
		if a.Quantity > 0 {
			in = Reduce{Base: b, Quantity: a.Quantity}
		} else {
			in = Close{Base: b}
		}
	case "reduce":
		in = Reduce{Base: b, Quantity: a.Quantity}
	case "close":
		in = Close{Base: b}
	case "":
		return nil, invalid(sym, "signal is required")
	default:
		return nil, invalid(sym, "unknown signal %q", a.Signal)
	}

	if err := Validate(in); err != nil {
		return nil, err
	}
	return in, nil
}

// resolveSide takes an explicit side, or infers it from a target above or
// below the stop.
func resolveSide(a args) (position.Side, error) {
	if a.Side != "" {
		return position.ParseSide(a.Side)
	}
	if a.ProfitTarget > 0 && a.StopLoss > 0 && a.ProfitTarget != a.StopLoss {
		if a.ProfitTarget > a.StopLoss {
			return position.Long, nil
		}
		return position.Short, nil
	}
	return "", fmt.Errorf("side missing and not implied by profit_target/stop_loss")
}

// Validate checks the field ranges of an instruction.
func Validate(in Instruction) error {
	if in == nil {
		return fmt.Errorf("nil instruction: %w", position.ErrInvalidInput)
	}
	h := in.Header()
	if h.Symbol == "" {
		return invalid("", "symbol is required")
	}
	if !finite(h.Confidence) || h.Confidence < 0 || h.Confidence > 1 {
		return invalid(h.Symbol, "confidence %v outside [0, 1]", h.Confidence)
	}

	switch v := in.(type) {
	case Open:
		if v.Side != position.Long && v.Side != position.Short {
			return invalid(h.Symbol, "side %q", v.Side)
		}
		for _, f := range []struct {
			name string
			v    float64
		}{
			{"quantity", v.Quantity},
			{"stop_loss", v.StopLoss},
			{"profit_target", v.ProfitTarget},
			{"risk_usd", v.RiskUSD},
		} {
			if !finite(f.v) || f.v < 0 {
				return invalid(h.Symbol, "%s %v must not be negative", f.name, f.v)
			}
		}
		if v.Leverage != 0 && (v.Leverage < MinLeverage || v.Leverage > MaxLeverage) {
			return invalid(h.Symbol, "leverage %d outside [%d, %d]", v.Leverage, MinLeverage, MaxLeverage)
		}
		if v.StopLoss > 0 && v.ProfitTarget > 0 && v.Side.Sign()*(v.ProfitTarget-v.StopLoss) <= 0 {
			return invalid(h.Symbol, "profit target %v and stop %v disagree with side %s", v.ProfitTarget, v.StopLoss, v.Side)
		}
		if err := v.Invalidation.Validate(); err != nil {
			return fmt.Errorf("%s: %w", h.Symbol, err)
		}
	case Add:
		if !finite(v.Quantity) || v.Quantity <= 0 {
			return invalid(h.Symbol, "add quantity %v must be positive", v.Quantity)
		}
	case Reduce:
		if !finite(v.Quantity) || v.Quantity <= 0 {
			return invalid(h.Symbol, "reduce quantity %v must be positive", v.Quantity)
		}
	case Close, Hold:
	default:
		return invalid(h.Symbol, "unsupported instruction %T", in)
	}
	return nil
}

func invalid(sym, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	if sym != "" {
		msg = sym + ": " + msg
	}
	return fmt.Errorf("instruction %s: %w", msg, position.ErrInvalidInput)
}

func finite(x float64) bool { return !math.IsNaN(x) && !math.IsInf(x, 0) }
