package journal

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/rustyeddy/riskbook/position"
)

// FormatTradeOrg renders a TradeRecord as an Org-mode entry with the facts
// in a PROPERTIES drawer.
func FormatTradeOrg(t TradeRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "** %s %s %s (%s)\n", t.Action, t.Symbol, t.Side, shortID(t.ID))
	b.WriteString(":PROPERTIES:\n")
	fmt.Fprintf(&b, ":ID: %s\n", t.ID)
	fmt.Fprintf(&b, ":SESSION_ID: %s\n", t.SessionID)
	fmt.Fprintf(&b, ":POSITION_ID: %s\n", t.PositionID)
	fmt.Fprintf(&b, ":TIME: %s\n", t.Time.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, ":QUANTITY: %s\n", num(t.Quantity))
	fmt.Fprintf(&b, ":PRICE: %s\n", num(t.Price))
	fmt.Fprintf(&b, ":LEVERAGE: %d\n", t.Leverage)
	fmt.Fprintf(&b, ":PNL: %s\n", money(t.PnL))
	if t.Reason != "" {
		fmt.Fprintf(&b, ":REASON: %s\n", t.Reason)
	}
	b.WriteString(":END:\n")
	return b.String()
}

// FormatTradesOrg renders multiple trades separated by blank lines.
func FormatTradesOrg(trades []TradeRecord) string {
	var b strings.Builder
	for i, t := range trades {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(FormatTradeOrg(t))
	}
	return b.String()
}

// FormatClosedOrg renders a closed position with review placeholders.
func FormatClosedOrg(c position.ClosedPosition) string {
	var b strings.Builder
	kind := "Closed"
	if c.Partial {
		kind = "Partial"
	}
	fmt.Fprintf(&b, "** %s: %s %s (%s)\n", kind, c.Symbol, c.Side, shortID(c.PositionID))
	b.WriteString(":PROPERTIES:\n")
	fmt.Fprintf(&b, ":ID: %s\n", c.ID)
	fmt.Fprintf(&b, ":POSITION_ID: %s\n", c.PositionID)
	fmt.Fprintf(&b, ":QUANTITY: %s\n", num(c.Quantity))
	fmt.Fprintf(&b, ":ENTRY_PRICE: %s\n", num(c.EntryPrice))
	fmt.Fprintf(&b, ":EXIT_PRICE: %s\n", num(c.ExitPrice))
	fmt.Fprintf(&b, ":OPEN_TIME: %s\n", c.OpenedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, ":CLOSE_TIME: %s\n", c.ClosedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, ":HOLDING_HOURS: %.2f\n", c.HoldingHours)
	fmt.Fprintf(&b, ":REALIZED_PNL: %s\n", money(c.RealizedPnL))
	fmt.Fprintf(&b, ":REALIZED_PNL_PCT: %s\n", money(c.RealizedPnLPct))
	fmt.Fprintf(&b, ":REASON: %s\n", c.Reason)
	b.WriteString(":END:\n\n")
	b.WriteString("*** Thesis\n- \n\n")
	b.WriteString("*** Review\n- \n")
	return b.String()
}

func shortID(full string) string {
	if len(full) <= 8 {
		return full
	}
	return full[:8]
}

// SessionReport is the input to FormatSessionOrg.
type SessionReport struct {
	SessionID      string
	InitialCapital float64
	Snapshot       Snapshot
	MaxDrawdown    float64
	MaxDrawdownPct float64
	Sharpe         float64
	Sortino        float64
	AvgHoldHours   float64
	Closed         []position.ClosedPosition
	Created        time.Time
}

var reportFuncs = template.FuncMap{
	"mul100": func(x float64) float64 { return x * 100.0 },
	"money":  money,
	"orTime": func(t time.Time) time.Time {
		if t.IsZero() {
			return time.Now()
		}
		return t
	},
}

var sessionTmpl = template.Must(template.New("session").Funcs(reportFuncs).Parse(SessionOrgTemplate))

// FormatSessionOrg renders a session performance report.
func FormatSessionOrg(r SessionReport) (string, error) {
	var buf bytes.Buffer
	if err := sessionTmpl.Execute(&buf, r); err != nil {
		return "", fmt.Errorf("render session report: %w", err)
	}
	return buf.String(), nil
}

const SessionOrgTemplate = `* SESSION: {{.SessionID}}
:PROPERTIES:
:SESSION_ID:   {{.SessionID}}
:START_CAP:    {{money .InitialCapital}}
:TOTAL_CAP:    {{money .Snapshot.TotalCapital}}
:AVAILABLE:    {{money .Snapshot.AvailableCapital}}
:REALIZED:     {{money .Snapshot.RealizedPnL}}
:UNREALIZED:   {{money .Snapshot.UnrealizedPnL}}
:RETURN_PCT:   {{printf "%.2f" .Snapshot.TotalReturnPct}}
:MAX_DD_PCT:   {{printf "%.2f" .MaxDrawdownPct}}
:TRADES:       {{.Snapshot.TotalTrades}}
:WINS:         {{.Snapshot.WinningTrades}}
:LOSSES:       {{.Snapshot.LosingTrades}}
:CREATED:      [{{(orTime .Created).Format "2006-01-02 Mon 15:04"}}]
:END:

** Performance Summary
- Total P/L:        *{{money .Snapshot.TotalPnL}}*
- Return:           *{{printf "%.2f" .Snapshot.TotalReturnPct}}%*
- Max Drawdown:     *{{money .MaxDrawdown}} ({{printf "%.2f" .MaxDrawdownPct}}%)*
- Win Rate:         *{{printf "%.2f" (mul100 .Snapshot.WinRate)}}%*
- Profit Factor:    *{{printf "%.2f" .Snapshot.ProfitFactor}}*
- Sharpe:           *{{printf "%.3f" .Sharpe}}*
- Sortino:          *{{printf "%.3f" .Sortino}}*
- Avg Hold (hours): *{{printf "%.2f" .AvgHoldHours}}*

** Risk
| Metric         | Value |
|----------------+-------|
| Open positions | {{.Snapshot.OpenPositions}} |
| Heat           | {{printf "%.2f" (mul100 .Snapshot.PortfolioHeat)}}% |
| Exposure       | {{printf "%.2f" .Snapshot.ExposurePct}}% |
| Used capital   | {{money .Snapshot.UsedCapital}} |
{{- if .Closed }}

** Closed Positions
| Symbol | Side | Qty | Entry | Exit | P/L | Reason |
|--------+------+-----+-------+------+-----+--------|
{{- range .Closed }}
| {{.Symbol}} | {{.Side}} | {{.Quantity}} | {{.EntryPrice}} | {{.ExitPrice}} | {{money .RealizedPnL}} | {{.Reason}} |
{{- end }}
{{- end }}
`
