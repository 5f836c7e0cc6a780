package position

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rustyeddy/riskbook/market"
)

const (
	CloseBelow = "price_close_below"
	CloseAbove = "price_close_above"
	TimeBased  = "time_based"
)

// Timeframes maps the candle timeframes an invalidation rule may use to
// their length.
var Timeframes = map[string]time.Duration{
	"1m":  time.Minute,
	"3m":  3 * time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"30m": 30 * time.Minute,
	"1h":  time.Hour,
	"4h":  4 * time.Hour,
	"1d":  24 * time.Hour,
}

// InvalidationCondition forces an exit when a run of candle closes breaches
// a threshold, or when a position has been held too long. The zero value
// never triggers.
type InvalidationCondition struct {
	Description     string  `json:"description" yaml:"description"`
	Type            string  `json:"type" yaml:"type"`
	TriggerPrice    float64 `json:"trigger_price" yaml:"trigger_price"`
	Timeframe       string  `json:"timeframe" yaml:"timeframe"`
	CandleCloses    int     `json:"candle_closes" yaml:"candle_closes"`
	MaxHoldingHours float64 `json:"max_holding_hours,omitempty" yaml:"max_holding_hours,omitempty"`
}

func (c InvalidationCondition) IsZero() bool { return c.Type == "" }

func (c InvalidationCondition) Validate() error {
	if c.Timeframe != "" {
		if _, ok := Timeframes[c.Timeframe]; !ok {
			return fmt.Errorf("invalidation timeframe %q: %w", c.Timeframe, ErrInvalidInput)
		}
	}
	switch c.Type {
	case "":
		return nil
	case CloseBelow, CloseAbove:
		if c.TriggerPrice <= 0 {
			return fmt.Errorf("invalidation trigger price must be positive: %w", ErrInvalidInput)
		}
		if c.CandleCloses < 1 {
			return fmt.Errorf("invalidation needs at least one candle close: %w", ErrInvalidInput)
		}
	case TimeBased:
		if c.MaxHoldingHours <= 0 {
			return fmt.Errorf("time based invalidation needs max holding hours: %w", ErrInvalidInput)
		}
	default:
		return fmt.Errorf("invalidation type %q: %w", c.Type, ErrInvalidInput)
	}
	return nil
}

// Triggered evaluates the rule against recent candles, oldest first.
// Price rules need every one of the last CandleCloses closes strictly beyond
// the trigger price and report false until that many candles exist.
// Time based rules compare the latest candle time against openedAt.
func (c InvalidationCondition) Triggered(candles []market.Candle, openedAt time.Time) bool {
	switch c.Type {
	case CloseBelow, CloseAbove:
		if c.TriggerPrice <= 0 || c.CandleCloses < 1 || len(candles) < c.CandleCloses {
			return false
		}
		for _, cl := range market.Closes(candles, c.CandleCloses) {
			if c.Type == CloseBelow && !(cl < c.TriggerPrice) {
				return false
			}
			if c.Type == CloseAbove && !(cl > c.TriggerPrice) {
				return false
			}
		}
		return true
	case TimeBased:
		last, ok := market.Last(candles)
		if !ok || c.MaxHoldingHours <= 0 || openedAt.IsZero() {
			return false
		}
		return HoldingHours(openedAt, last.Time) >= c.MaxHoldingHours
	}
	return false
}

var (
	reHeld      = regexp.MustCompile(`(?:held|open)\s+(?:for\s+)?(?:more than|over|longer than)\s+(\d+(?:\.\d+)?)\s*(?:hours|hour|hrs|hr|h)\b`)
	reClose     = regexp.MustCompile(`clos(?:e|es|ed|ing)\s+(below|under|above|over)\s+\$?([0-9][0-9,]*(?:\.[0-9]+)?)`)
	reConsec    = regexp.MustCompile(`(\d+)\s+consecutive`)
	reTimeframe = regexp.MustCompile(`\b(1m|3m|5m|15m|30m|1h|4h|1d)\b`)
)

// ParseInvalidation turns the decision engine's free-text rule into a
// structured condition. Recognised forms:
//
//	If the price closes below 49000 on a 3m candle
//	If 3 consecutive 15m candles close above 51,250.5
//	If position held for more than 12 hours without follow-through
//
// An empty string yields the zero (never-triggering) condition. Anything
// else is rejected with ErrInvalidInput rather than silently ignored.
func ParseInvalidation(text, defaultTimeframe string) (InvalidationCondition, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return InvalidationCondition{}, nil
	}
	lower := strings.ToLower(text)

	c := InvalidationCondition{
		Description:  text,
		Timeframe:    defaultTimeframe,
		CandleCloses: 1,
	}
	if m := reTimeframe.FindStringSubmatch(lower); m != nil {
		c.Timeframe = m[1]
	}

	if m := reHeld.FindStringSubmatch(lower); m != nil {
		hours, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return InvalidationCondition{}, fmt.Errorf("parse invalidation hours %q: %w", m[1], ErrInvalidInput)
		}
		c.Type = TimeBased
		c.MaxHoldingHours = hours
		return c, c.Validate()
	}

	m := reClose.FindStringSubmatch(lower)
	if m == nil {
		return InvalidationCondition{}, fmt.Errorf("unrecognised invalidation rule %q: %w", text, ErrInvalidInput)
	}
	switch m[1] {
	case "below", "under":
		c.Type = CloseBelow
	default:
		c.Type = CloseAbove
	}
	price, err := strconv.ParseFloat(strings.ReplaceAll(m[2], ",", ""), 64)
	if err != nil {
		return InvalidationCondition{}, fmt.Errorf("parse invalidation price %q: %w", m[2], ErrInvalidInput)
	}
	c.TriggerPrice = price

	if n := reConsec.FindStringSubmatch(lower); n != nil {
		closes, err := strconv.Atoi(n[1])
		if err != nil {
			return InvalidationCondition{}, fmt.Errorf("parse invalidation count %q: %w", n[1], ErrInvalidInput)
		}
		c.CandleCloses = closes
	}
	return c, c.Validate()
}
