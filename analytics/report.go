package analytics

import (
	"fmt"
	"io"
	"time"
)

// Print writes a plain-text statistics block.
func Print(w io.Writer, st Statistics) {
	fmt.Fprintln(w, "==================================================")
	fmt.Fprintln(w, " Session Statistics")
	fmt.Fprintln(w, "==================================================")

	fmt.Fprintf(w, "Session:       %s\n", st.SessionID)
	if !st.PeriodStart.IsZero() || !st.PeriodEnd.IsZero() {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Period")
		fmt.Fprintln(w, "--------------------------------------------------")
		fmt.Fprintf(w, "Start:         %s\n", orOpen(st.PeriodStart))
		fmt.Fprintf(w, "End:           %s\n", orOpen(st.PeriodEnd))
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Trade Statistics")
	fmt.Fprintln(w, "--------------------------------------------------")
	fmt.Fprintf(w, "Trades:        %d\n", st.TotalTrades)
	fmt.Fprintf(w, "Wins:          %d\n", st.WinningTrades)
	fmt.Fprintf(w, "Losses:        %d\n", st.LosingTrades)
	fmt.Fprintf(w, "Win Rate:      %.2f%%\n", st.WinRate*100)
	fmt.Fprintf(w, "Avg Win:       %.2f\n", st.AvgWin)
	fmt.Fprintf(w, "Avg Loss:      %.2f\n", st.AvgLoss)
	fmt.Fprintf(w, "Largest Win:   %.2f\n", st.LargestWin)
	fmt.Fprintf(w, "Largest Loss:  %.2f\n", st.LargestLoss)
	fmt.Fprintf(w, "Avg Hold:      %.1fh\n", st.AvgHoldingHours)

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Performance")
	fmt.Fprintln(w, "--------------------------------------------------")
	fmt.Fprintf(w, "Net P/L:       %.2f\n", st.TotalPnL)
	if st.ProfitFactor > 0 {
		fmt.Fprintf(w, "Profit Factor: %.2f\n", st.ProfitFactor)
	}
	if st.MaxDrawdownPct > 0 {
		fmt.Fprintf(w, "Max Drawdown:  %.2f (%.2f%%)\n", st.MaxDrawdown, st.MaxDrawdownPct)
	}
	fmt.Fprintf(w, "Sharpe:        %.3f\n", st.Sharpe)
	fmt.Fprintf(w, "Sortino:       %.3f\n", st.Sortino)
	fmt.Fprintln(w)
}

func orOpen(t time.Time) string {
	if t.IsZero() {
		return "(open)"
	}
	return t.Format(time.RFC3339)
}
