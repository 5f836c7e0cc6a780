package cli

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/rustyeddy/riskbook/analytics"
	"github.com/rustyeddy/riskbook/journal"
	"github.com/rustyeddy/riskbook/portfolio"
	"github.com/rustyeddy/riskbook/replay"
)

func newReplayCmd(rc *RootConfig) *cobra.Command {
	var (
		sessionID     string
		strict        bool
		snapshotEvery int
		maxCandles    int
		report        bool
	)

	cmd := &cobra.Command{
		Use:   "replay <script.csv>",
		Short: "Replay ticks, candles and instructions against a session",
		Long: `Replay drives one session from a CSV script. Rows:

  time,symbol,TICK,price[,atr3,atr14]
  time,symbol,CANDLE,open,high,low,close[,volume]
  time,symbol,INSTRUCTION,"<instruction json>"
  time,,SNAPSHOT

The session is loaded from the journal, or created from the config file the
first time it is used.

Example:
  riskbook --config riskbook.yaml replay data/btc-breakout.csv --session paper-1`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := rc.Config

			store, err := openStore(ctx, cfg.Journal)
			if err != nil {
				return err
			}
			defer store.Close()

			clock := &replay.Clock{}
			opts, err := managerOptions(cfg, nil, portfolio.WithClock(clock.Now))
			if err != nil {
				return err
			}
			m := portfolio.NewManager(store, opts...)
			p, err := openSession(ctx, m, cfg, sessionID)
			if err != nil {
				return err
			}

			ropts := replay.Options{Strict: strict, SnapshotEvery: snapshotEvery, MaxCandles: maxCandles}
			if cfg.Journal.TradesCSV != "" {
				rec, err := journal.NewCSV(cfg.Journal.TradesCSV, cfg.Journal.SnapshotsCSV)
				if err != nil {
					return fmt.Errorf("open csv journal: %w", err)
				}
				defer rec.Close()
				ropts.Recorder = rec
			}

			r := replay.New(p, clock, ropts)
			stats, err := r.CSV(ctx, args[0])
			log.Info().
				Str("session_id", p.ID()).
				Int("rows", stats.Rows).
				Int("instructions", stats.Instructions).
				Int("rejected", stats.Rejected).
				Int("exits", stats.Exits).
				Msg("replay finished")
			if err != nil {
				return fmt.Errorf("replay %s: %w", args[0], err)
			}

			if _, err := p.SaveSnapshot(ctx); err != nil {
				return err
			}
			if report {
				analytics.Print(cmd.OutOrStdout(), p.Statistics(time.Time{}, time.Time{}))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "session id (defaults to the only configured session)")
	cmd.Flags().BoolVar(&strict, "strict", false, "stop on the first rejected instruction")
	cmd.Flags().IntVar(&snapshotEvery, "snapshot-every", 0, "save a snapshot every n ticks")
	cmd.Flags().IntVar(&maxCandles, "max-candles", 200, "candles kept per symbol for invalidation checks")
	cmd.Flags().BoolVar(&report, "report", true, "print statistics when done")
	return cmd
}
