package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/rustyeddy/riskbook/internal/httpapi"
	"github.com/rustyeddy/riskbook/portfolio"
)

func newServeCmd(rc *RootConfig) *cobra.Command {
	var (
		addr     string
		interval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the session query API and Prometheus metrics",
		Long: `Serve loads every active stored session (creating configured sessions the
store has not seen), then serves:

  /healthz
  /metrics
  /api/sessions
  /api/sessions/{id}/positions[/{symbol}]
  /api/sessions/{id}/snapshot|history|statistics|margin

A snapshot of each session is saved every --snapshot-interval.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := rc.Config
			if addr == "" {
				addr = cfg.Metrics.Addr
			}

			store, err := openStore(ctx, cfg.Journal)
			if err != nil {
				return err
			}
			defer store.Close()

			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
			opts, err := managerOptions(cfg, reg)
			if err != nil {
				return err
			}
			m := portfolio.NewManager(store, opts...)

			n, err := m.LoadAll(ctx)
			if err != nil {
				return err
			}
			for _, sc := range cfg.Sessions {
				if _, err := m.Session(sc.ID); err == nil {
					continue
				}
				if _, err := openSession(ctx, m, cfg, sc.ID); err != nil {
					return err
				}
				n++
			}
			log.Info().Int("sessions", n).Msg("sessions loaded")

			srv := httpapi.New(addr, m, reg)
			if err := srv.Start(ctx); err != nil {
				return fmt.Errorf("listen %s: %w", addr, err)
			}

			snapshotLoop(ctx, m, interval)

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to metrics.addr from config)")
	cmd.Flags().DurationVar(&interval, "snapshot-interval", time.Minute, "how often to save session snapshots (0 disables)")
	return cmd
}

// snapshotLoop saves snapshots and refreshes margin gauges until ctx ends.
func snapshotLoop(ctx context.Context, m *portfolio.Manager, every time.Duration) {
	if every <= 0 {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, id := range m.Sessions() {
				p, err := m.Session(id)
				if err != nil {
					continue
				}
				if _, err := p.SaveSnapshot(ctx); err != nil {
					log.Error().Err(err).Str("session_id", id).Msg("periodic snapshot")
				}
				p.MarginStatus()
			}
		}
	}
}
