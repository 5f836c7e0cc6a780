package risk

import (
	"fmt"

	"github.com/rustyeddy/riskbook/position"
	"github.com/rustyeddy/riskbook/session"
)

type Violation struct {
	Code string
	Msg  string
}

// Request is a proposed trade handed to Assess.
type Request struct {
	Symbol   string
	Quantity float64
	Entry    float64
	Stop     float64
	Opening  bool // new slot rather than add/reduce
}

type Assessment struct {
	Allowed    bool
	Violations []Violation
	Warnings   []Violation

	PositionRiskPct  float64 // % of total capital
	NewPortfolioHeat float64 // fraction
	CapitalUsagePct  float64
	ExposureAfter    float64
}

func (a *Assessment) add(code, msg string) {
	a.Violations = append(a.Violations, Violation{Code: code, Msg: msg})
	a.Allowed = false
}

func (a *Assessment) warn(code, msg string) {
	a.Warnings = append(a.Warnings, Violation{Code: code, Msg: msg})
}

// Assess reports every limit a trade would break, plus soft warnings. It
// does not short-circuit; use it for reporting, and the portfolio's CanOpen
// for the gate.
func Assess(cfg session.Config, req Request, open []position.Position, available float64) Assessment {
	a := Assessment{Allowed: true}

	notional := req.Quantity * req.Entry
	riskAmount := PlannedRiskUSD(req.Quantity, req.Entry, req.Stop)
	exposure := TotalExposure(open)
	totalCapital := available + exposure
	if totalCapital == 0 {
		a.add("NO_CAPITAL", "no capital available")
		return a
	}

	a.NewPortfolioHeat = PortfolioHeat(open, available) + riskAmount/totalCapital
	a.PositionRiskPct = riskAmount / totalCapital * 100
	a.ExposureAfter = exposure + notional
	if available > 0 {
		a.CapitalUsagePct = notional / available * 100
	}

	if notional > available*cfg.MaxPositionSizePct {
		a.add("MAX_POSITION_SIZE",
			fmt.Sprintf("notional %.2f exceeds max position size %.0f%%", notional, 100*cfg.MaxPositionSizePct))
	}
	if a.NewPortfolioHeat > cfg.MaxTotalExposurePct {
		a.add("PORTFOLIO_HEAT",
			fmt.Sprintf("portfolio heat %.2f%% exceeds limit %.0f%%", 100*a.NewPortfolioHeat, 100*cfg.MaxTotalExposurePct))
	}
	if req.Opening && len(open) >= cfg.MaxConcurrentPositions {
		a.add("MAX_POSITIONS",
			fmt.Sprintf("open positions %d >= max %d", len(open), cfg.MaxConcurrentPositions))
	}
	if notional > available {
		a.add("INSUFFICIENT_CAPITAL",
			fmt.Sprintf("notional %.2f exceeds available %.2f", notional, available))
	}

	if a.NewPortfolioHeat > 0.10 {
		a.warn("HIGH_HEAT", "portfolio risk above 10%")
	}
	if notional > available*0.15 {
		a.warn("LARGE_POSITION", "position above 15% of capital")
	}
	return a
}

// PortfolioHeat is total risk at stake over total capital (available plus
// deployed notional). 0 when there is no capital.
func PortfolioHeat(open []position.Position, available float64) float64 {
	var risk float64
	for _, p := range open {
		risk += p.RiskUSD
	}
	total := available + TotalExposure(open)
	if total == 0 {
		return 0
	}
	return risk / total
}

// TotalExposure is the summed notional of open positions.
func TotalExposure(open []position.Position) float64 {
	var n float64
	for _, p := range open {
		n += p.Notional
	}
	return n
}

type MarginStatus struct {
	TotalMarginUsed float64 `json:"total_margin_used"`
	AvailableMargin float64 `json:"available_margin"`
	UsagePct        float64 `json:"margin_usage_pct"`
	Warning         bool    `json:"is_warning"`
	Critical        bool    `json:"is_critical"`
}

// Margin sums notional/leverage across open positions. Usage above 80% of
// available is a warning, above 90% critical.
func Margin(open []position.Position, available float64) MarginStatus {
	m := MarginStatus{AvailableMargin: available}
	for _, p := range open {
		m.TotalMarginUsed += p.Margin()
	}
	if available > 0 {
		m.UsagePct = m.TotalMarginUsed / available * 100
	}
	m.Warning = m.UsagePct > 80
	m.Critical = m.UsagePct > 90
	return m
}
