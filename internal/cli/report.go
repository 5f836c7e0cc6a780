package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/riskbook/analytics"
	"github.com/rustyeddy/riskbook/journal"
	"github.com/rustyeddy/riskbook/portfolio"
)

func newReportCmd(rc *RootConfig) *cobra.Command {
	var (
		sessionID string
		from, to  string
		org       bool
	)

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print performance statistics for a session",
		Long: `Report computes statistics over a session's closed positions.

--from and --to take YYYY-MM-DD or RFC3339 and bound the period by close
time; either may be left out.

Examples:
  riskbook report --session paper-1
  riskbook report --session paper-1 --from 2026-01-01 --org > paper-1.org`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			start, end, err := parsePeriod(from, to)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			store, err := openStore(ctx, rc.Config.Journal)
			if err != nil {
				return err
			}
			defer store.Close()

			opts, err := managerOptions(rc.Config, nil)
			if err != nil {
				return err
			}
			p, err := portfolio.NewManager(store, opts...).Load(ctx, sessionOrDefault(rc, sessionID))
			if err != nil {
				return err
			}

			st := p.Statistics(start, end)
			out := cmd.OutOrStdout()
			if !org {
				analytics.Print(out, st)
				return nil
			}

			cfg := p.Config()
			text, err := journal.FormatSessionOrg(journal.SessionReport{
				SessionID:      cfg.ID,
				InitialCapital: cfg.InitialCapital,
				Snapshot:       p.Snapshot(),
				MaxDrawdown:    st.MaxDrawdown,
				MaxDrawdownPct: st.MaxDrawdownPct,
				Sharpe:         st.Sharpe,
				Sortino:        st.Sortino,
				AvgHoldHours:   st.AvgHoldingHours,
				Closed:         analytics.InPeriod(p.Ledger().Closed(), start, end),
				Created:        cfg.CreatedAt,
			})
			if err != nil {
				return err
			}
			fmt.Fprint(out, text)
			return nil
		},
	}

	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "session id (defaults to the only configured session)")
	cmd.Flags().StringVar(&from, "from", "", "period start")
	cmd.Flags().StringVar(&to, "to", "", "period end")
	cmd.Flags().BoolVar(&org, "org", false, "render as an Org document")
	return cmd
}

// sessionOrDefault falls back to the single configured session.
func sessionOrDefault(rc *RootConfig, id string) string {
	if id == "" && len(rc.Config.Sessions) == 1 {
		return rc.Config.Sessions[0].ID
	}
	return id
}

// parsePeriod reads optional YYYY-MM-DD or RFC3339 bounds. A bare --to date
// covers that whole day.
func parsePeriod(from, to string) (time.Time, time.Time, error) {
	start, _, err := parseBound(from)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("--from: %w", err)
	}
	end, day, err := parseBound(to)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("--to: %w", err)
	}
	if day {
		end = end.Add(24*time.Hour - time.Nanosecond)
	}
	if !start.IsZero() && !end.IsZero() && end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("--to %s is before --from %s", to, from)
	}
	return start, end, nil
}

func parseBound(s string) (time.Time, bool, error) {
	if s == "" {
		return time.Time{}, false, nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, true, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	return t, false, err
}
