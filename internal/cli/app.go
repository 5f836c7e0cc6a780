package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rustyeddy/riskbook/config"
	"github.com/rustyeddy/riskbook/journal"
	"github.com/rustyeddy/riskbook/ledger"
	"github.com/rustyeddy/riskbook/metrics"
	"github.com/rustyeddy/riskbook/portfolio"
	"github.com/rustyeddy/riskbook/position"
)

// openStore opens the persistence store the journal section selects.
func openStore(ctx context.Context, jc config.JournalConfig) (journal.Store, error) {
	switch jc.Type {
	case "sqlite":
		s, err := journal.NewSQLite(jc.DBPath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite %s: %w", jc.DBPath, err)
		}
		return s, nil
	case "postgres":
		s, err := journal.NewPostgres(ctx, jc.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return s, nil
	case "memory":
		return journal.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown journal type %q", jc.Type)
	}
}

// managerOptions builds the per-session options every command shares.
func managerOptions(cfg *config.Config, reg prometheus.Registerer, extra ...portfolio.Option) ([]portfolio.Option, error) {
	backoff, err := cfg.Ledger.Backoff()
	if err != nil {
		return nil, err
	}
	var opts []portfolio.Option
	if cfg.Ledger.RetryAttempts > 0 {
		opts = append(opts, portfolio.WithLedgerOptions(ledger.WithRetry(cfg.Ledger.RetryAttempts, backoff)))
	}
	if reg != nil {
		opts = append(opts, portfolio.WithMetrics(metrics.New(reg)))
	}
	return append(opts, extra...), nil
}

// openSession loads the stored session, creating it from the config file
// when the store has never seen it.
func openSession(ctx context.Context, m *portfolio.Manager, cfg *config.Config, id string) (*portfolio.Portfolio, error) {
	if id == "" {
		if len(cfg.Sessions) != 1 {
			return nil, fmt.Errorf("--session is required when %d sessions are configured", len(cfg.Sessions))
		}
		id = cfg.Sessions[0].ID
	}
	p, err := m.Load(ctx, id)
	if err == nil || !errors.Is(err, position.ErrNotFound) {
		return p, err
	}
	sc, ok := cfg.Session(id)
	if !ok {
		return nil, fmt.Errorf("session %q is neither stored nor configured: %w", id, position.ErrNotFound)
	}
	return m.Create(ctx, sc)
}
