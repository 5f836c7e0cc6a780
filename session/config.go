// Package session holds the per-session trading configuration. A *Config is
// shared by the session's ledger and portfolio; CurrentCapital is only ever
// written by the ledger while it holds its lock.
package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type TradingMode string

const (
	Paper    TradingMode = "paper"
	Advisory TradingMode = "advisory"
	Live     TradingMode = "live"
)

// Confidence tiers used by LeverageByConfidence.
const (
	TierHigh   = "high"
	TierMedium = "medium"
	TierLow    = "low"
)

type Config struct {
	ID     string `json:"id" yaml:"id"`
	UserID string `json:"user_id,omitempty" yaml:"user_id,omitempty"`

	InitialCapital float64 `json:"initial_capital" yaml:"initial_capital"`
	CurrentCapital float64 `json:"current_capital" yaml:"current_capital"`

	// Risk limits, as fractions (0.20 = 20%)
	MaxPositionSizePct     float64 `json:"max_position_size_pct" yaml:"max_position_size_pct"`
	MaxTotalExposurePct    float64 `json:"max_total_exposure_pct" yaml:"max_total_exposure_pct"`
	MaxConcurrentPositions int     `json:"max_concurrent_positions" yaml:"max_concurrent_positions"`
	RiskPerTradePct        float64 `json:"risk_per_trade_pct" yaml:"risk_per_trade_pct"`

	AllowPyramiding      bool           `json:"allow_pyramiding" yaml:"allow_pyramiding"`
	AllowHedging         bool           `json:"allow_hedging" yaml:"allow_hedging"`
	DefaultLeverage      int            `json:"default_leverage" yaml:"default_leverage"`
	MaxLeverage          int            `json:"max_leverage" yaml:"max_leverage"`
	LeverageByConfidence map[string]int `json:"leverage_by_confidence" yaml:"leverage_by_confidence"`

	PrimaryTimeframe      string    `json:"primary_timeframe" yaml:"primary_timeframe"`
	InvalidationTimeframe string    `json:"invalidation_timeframe" yaml:"invalidation_timeframe"`
	RiskProfile           string    `json:"risk_profile" yaml:"risk_profile"` // conservative|moderate|aggressive
	TakeProfitRR          []float64 `json:"take_profit_rr" yaml:"take_profit_rr"`
	RiskFreeRate          float64   `json:"risk_free_rate" yaml:"risk_free_rate"`

	SupportedSymbols []string    `json:"supported_symbols,omitempty" yaml:"supported_symbols,omitempty"`
	TradingMode      TradingMode `json:"trading_mode" yaml:"trading_mode"`
	Active           bool        `json:"active" yaml:"active"`

	CreatedAt time.Time `json:"created_at" yaml:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at,omitempty"`
}

// NewID returns a fresh session id.
func NewID() string {
	return uuid.NewString()
}

// Default returns a paper session with the stock risk limits and the given
// starting capital.
func Default(capital float64) Config {
	return Config{
		InitialCapital:         capital,
		CurrentCapital:         capital,
		MaxPositionSizePct:     0.20,
		MaxTotalExposurePct:    0.60,
		MaxConcurrentPositions: 5,
		RiskPerTradePct:        0.02,
		DefaultLeverage:        10,
		MaxLeverage:            20,
		LeverageByConfidence: map[string]int{
			TierHigh:   15,
			TierMedium: 10,
			TierLow:    5,
		},
		PrimaryTimeframe:      "15m",
		InvalidationTimeframe: "3m",
		RiskProfile:           "moderate",
		TakeProfitRR:          []float64{2, 3, 4},
		RiskFreeRate:          0.02,
		TradingMode:           Paper,
		Active:                true,
	}
}

// WithDefaults fills unset fields from Default, assigns an id and seeds
// CurrentCapital from InitialCapital for a fresh session.
func (c Config) WithDefaults(now time.Time) Config {
	d := Default(c.InitialCapital)
	if c.ID == "" {
		c.ID = NewID()
	}
	if c.CurrentCapital == 0 && c.CreatedAt.IsZero() {
		c.CurrentCapital = c.InitialCapital
	}
	if c.MaxPositionSizePct == 0 {
		c.MaxPositionSizePct = d.MaxPositionSizePct
	}
	if c.MaxTotalExposurePct == 0 {
		c.MaxTotalExposurePct = d.MaxTotalExposurePct
	}
	if c.MaxConcurrentPositions == 0 {
		c.MaxConcurrentPositions = d.MaxConcurrentPositions
	}
	if c.RiskPerTradePct == 0 {
		c.RiskPerTradePct = d.RiskPerTradePct
	}
	if c.DefaultLeverage == 0 {
		c.DefaultLeverage = d.DefaultLeverage
	}
	if c.MaxLeverage == 0 {
		c.MaxLeverage = d.MaxLeverage
	}
	if len(c.LeverageByConfidence) == 0 {
		c.LeverageByConfidence = d.LeverageByConfidence
	}
	if c.PrimaryTimeframe == "" {
		c.PrimaryTimeframe = d.PrimaryTimeframe
	}
	if c.InvalidationTimeframe == "" {
		c.InvalidationTimeframe = d.InvalidationTimeframe
	}
	if c.RiskProfile == "" {
		c.RiskProfile = d.RiskProfile
	}
	if len(c.TakeProfitRR) == 0 {
		c.TakeProfitRR = d.TakeProfitRR
	}
	if c.TradingMode == "" {
		c.TradingMode = d.TradingMode
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now.UTC()
		c.Active = true
	}
	c.UpdatedAt = now.UTC()
	return c
}

// Validate checks the limits are coherent.
func (c Config) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("session id is required")
	}
	if c.InitialCapital <= 0 {
		return fmt.Errorf("session %s: initial_capital must be positive", c.ID)
	}
	if c.MaxPositionSizePct <= 0 || c.MaxPositionSizePct > 1 {
		return fmt.Errorf("session %s: max_position_size_pct must be between 0 and 1", c.ID)
	}
	if c.MaxTotalExposurePct <= 0 || c.MaxTotalExposurePct > 1 {
		return fmt.Errorf("session %s: max_total_exposure_pct must be between 0 and 1", c.ID)
	}
	if c.MaxConcurrentPositions <= 0 {
		return fmt.Errorf("session %s: max_concurrent_positions must be positive", c.ID)
	}
	if c.RiskPerTradePct <= 0 || c.RiskPerTradePct > 1 {
		return fmt.Errorf("session %s: risk_per_trade_pct must be between 0 and 1", c.ID)
	}
	if c.MaxLeverage < 1 || c.MaxLeverage > 40 {
		return fmt.Errorf("session %s: max_leverage must be between 1 and 40", c.ID)
	}
	if c.DefaultLeverage < 1 || c.DefaultLeverage > c.MaxLeverage {
		return fmt.Errorf("session %s: default_leverage must be between 1 and max_leverage", c.ID)
	}
	for tier, lev := range c.LeverageByConfidence {
		if lev < 1 {
			return fmt.Errorf("session %s: leverage for tier %q must be positive", c.ID, tier)
		}
	}
	switch c.RiskProfile {
	case "", "conservative", "moderate", "aggressive":
	default:
		return fmt.Errorf("session %s: unknown risk_profile %q", c.ID, c.RiskProfile)
	}
	switch c.TradingMode {
	case "", Paper, Advisory, Live:
	default:
		return fmt.Errorf("session %s: unknown trading_mode %q", c.ID, c.TradingMode)
	}
	return nil
}

// Supports reports whether symbol may be traded. An empty symbol list
// allows everything.
func (c Config) Supports(symbol string) bool {
	if len(c.SupportedSymbols) == 0 {
		return true
	}
	for _, s := range c.SupportedSymbols {
		if strings.EqualFold(s, symbol) {
			return true
		}
	}
	return false
}

// Tier maps a confidence in [0,1] onto a leverage tier.
func Tier(confidence float64) string {
	switch {
	case confidence >= 0.75:
		return TierHigh
	case confidence >= 0.65:
		return TierMedium
	default:
		return TierLow
	}
}

// LeverageFor returns the configured leverage for confidence, falling back
// to DefaultLeverage when the tier is missing, capped at MaxLeverage.
func (c Config) LeverageFor(confidence float64) int {
	lev, ok := c.LeverageByConfidence[Tier(confidence)]
	if !ok || lev < 1 {
		lev = c.DefaultLeverage
	}
	if c.MaxLeverage > 0 && lev > c.MaxLeverage {
		lev = c.MaxLeverage
	}
	if lev < 1 {
		lev = 1
	}
	return lev
}

// Clone copies the config including its map and slices.
func (c Config) Clone() Config {
	if c.LeverageByConfidence != nil {
		m := make(map[string]int, len(c.LeverageByConfidence))
		for k, v := range c.LeverageByConfidence {
			m[k] = v
		}
		c.LeverageByConfidence = m
	}
	c.TakeProfitRR = append([]float64(nil), c.TakeProfitRR...)
	c.SupportedSymbols = append([]string(nil), c.SupportedSymbols...)
	return c
}
