package cli

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/riskbook/journal"
	"github.com/rustyeddy/riskbook/position"
)

func newJournalCmd(rc *RootConfig) *cobra.Command {
	var sessionID string

	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Query and export journal data",
		Long: `Query and export what the store recorded for a session.

Subcommands:
  sessions - List stored sessions
  show     - Print trade records (or closed positions) as Org entries
  export   - Write trades, closed positions or snapshots as CSV

Examples:
  riskbook journal sessions
  riskbook journal show --session paper-1 --day 2026-01-24
  riskbook journal export --session paper-1 --kind closed -o closed.csv`,
	}
	cmd.PersistentFlags().StringVarP(&sessionID, "session", "s", "", "session id (defaults to the only configured session)")

	cmd.AddCommand(
		newJournalSessionsCmd(rc),
		newJournalShowCmd(rc, &sessionID),
		newJournalExportCmd(rc, &sessionID),
	)
	return cmd
}

// withStore opens the configured store for the duration of fn.
func withStore(cmd *cobra.Command, rc *RootConfig, fn func(journal.Store) error) error {
	store, err := openStore(cmd.Context(), rc.Config.Journal)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store)
}

func newJournalSessionsCmd(rc *RootConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List stored sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, rc, func(store journal.Store) error {
				cfgs, err := store.ListSessions(cmd.Context())
				if err != nil {
					return fmt.Errorf("list sessions: %w", err)
				}
				out := cmd.OutOrStdout()
				for _, s := range cfgs {
					state := "active"
					if !s.Active {
						state = "inactive"
					}
					fmt.Fprintf(out, "%s\t%s\t%s\tinitial=%.2f\tcurrent=%.2f\n",
						s.ID, s.TradingMode, state, s.InitialCapital, s.CurrentCapital)
				}
				return nil
			})
		},
	}
}

func newJournalShowCmd(rc *RootConfig, sessionID *string) *cobra.Command {
	var (
		day    string
		closed bool
	)
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print trade records or closed positions as Org entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			id := sessionOrDefault(rc, *sessionID)
			var start, end time.Time
			if day != "" {
				var err error
				if start, end, err = dayBounds(time.UTC, day); err != nil {
					return fmt.Errorf("date: %w", err)
				}
			}

			return withStore(cmd, rc, func(store journal.Store) error {
				ctx := cmd.Context()
				out := cmd.OutOrStdout()
				if closed {
					recs, err := store.GetClosedPositions(ctx, id)
					if err != nil {
						return fmt.Errorf("query closed positions: %w", err)
					}
					for _, c := range recs {
						if inDay(c.ClosedAt, start, end) {
							fmt.Fprintln(out, journal.FormatClosedOrg(c))
						}
					}
					return nil
				}

				recs, err := store.GetTradeRecords(ctx, id)
				if err != nil {
					return fmt.Errorf("query trades: %w", err)
				}
				var keep []journal.TradeRecord
				for _, r := range recs {
					if inDay(r.Time, start, end) {
						keep = append(keep, r)
					}
				}
				fmt.Fprintln(out, journal.FormatTradesOrg(keep))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&day, "day", "", "only records from this UTC day (YYYY-MM-DD)")
	cmd.Flags().BoolVar(&closed, "closed", false, "show closed positions instead of trade records")
	return cmd
}

func newJournalExportCmd(rc *RootConfig, sessionID *string) *cobra.Command {
	var (
		kind   string
		output string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write trades, closed positions or snapshots as CSV",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			id := sessionOrDefault(rc, *sessionID)
			return withStore(cmd, rc, func(store journal.Store) error {
				var w io.Writer = cmd.OutOrStdout()
				if output != "" && output != "-" {
					f, err := os.Create(output)
					if err != nil {
						return err
					}
					defer f.Close()
					w = f
				}
				return export(cmd, store, w, id, kind, limit)
			})
		},
	}
	cmd.Flags().StringVarP(&kind, "kind", "k", "trades", "what to export: trades|closed|snapshots")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default stdout)")
	cmd.Flags().IntVar(&limit, "limit", 0, "newest n snapshots (0 = all)")
	return cmd
}

func export(cmd *cobra.Command, store journal.Store, w io.Writer, id, kind string, limit int) error {
	ctx := cmd.Context()
	switch kind {
	case "trades":
		recs, err := store.GetTradeRecords(ctx, id)
		if err != nil {
			return fmt.Errorf("query trades: %w", err)
		}
		return journal.WriteTradesCSV(w, recs)
	case "closed":
		recs, err := store.GetClosedPositions(ctx, id)
		if err != nil {
			return fmt.Errorf("query closed positions: %w", err)
		}
		return journal.WriteClosedCSV(w, recs)
	case "snapshots":
		snaps, err := store.GetSnapshots(ctx, id, limit)
		if err != nil {
			return fmt.Errorf("query snapshots: %w", err)
		}
		return journal.WriteSnapshotsCSV(w, snaps)
	default:
		return fmt.Errorf("unknown export kind %q: %w", kind, position.ErrInvalidInput)
	}
}

func dayBounds(loc *time.Location, day string) (time.Time, time.Time, error) {
	t, err := time.ParseInLocation("2006-01-02", day, loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	end := start.Add(24 * time.Hour)
	return start, end, nil
}

// inDay reports whether t falls in [start, end); a zero range matches all.
func inDay(t, start, end time.Time) bool {
	if start.IsZero() {
		return true
	}
	return !t.Before(start) && t.Before(end)
}
