// Package portfolio sits on top of a session's ledger: it decides whether
// new positions are admissible, turns instructions into ledger operations
// and reports snapshots, margin and statistics.
package portfolio

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/rustyeddy/riskbook/analytics"
	"github.com/rustyeddy/riskbook/journal"
	"github.com/rustyeddy/riskbook/ledger"
	"github.com/rustyeddy/riskbook/market"
	"github.com/rustyeddy/riskbook/position"
	"github.com/rustyeddy/riskbook/risk"
	"github.com/rustyeddy/riskbook/session"
)

// Rejection check names passed to Metrics.Rejected.
const (
	CheckNotional    = "notional"
	CheckPositions   = "max_positions"
	CheckSize        = "max_position_size"
	CheckCapital     = "insufficient_capital"
	CheckExposure    = "max_exposure"
	CheckPyramiding  = "pyramiding"
	CheckHedging     = "hedging"
	CheckUnsupported = "unsupported_symbol"
)

// Metrics receives portfolio-level measurements. A Metrics that also
// implements ledger.Observer is registered with the ledger.
type Metrics interface {
	Rejected(sessionID, check string)
	Snapshot(s journal.Snapshot)
	Margin(sessionID string, m risk.MarginStatus)
}

type Portfolio struct {
	cfg     *session.Config
	ledger  *ledger.Ledger
	store   journal.Store
	metrics Metrics
	log     zerolog.Logger
	baseLog zerolog.Logger // without session_id, which the ledger adds
	now     func() time.Time

	ledgerOpts []ledger.Option
}

type Option func(*Portfolio)

func WithClock(now func() time.Time) Option {
	return func(p *Portfolio) { p.now = now }
}

func WithLogger(lg zerolog.Logger) Option {
	return func(p *Portfolio) { p.log = lg }
}

func WithMetrics(m Metrics) Option {
	return func(p *Portfolio) { p.metrics = m }
}

// WithLedgerOptions passes options through to the session's ledger.
func WithLedgerOptions(opts ...ledger.Option) Option {
	return func(p *Portfolio) { p.ledgerOpts = append(p.ledgerOpts, opts...) }
}

func newPortfolio(cfg *session.Config, store journal.Store, opts []Option) *Portfolio {
	p := &Portfolio{
		cfg:   cfg,
		store: store,
		log:   log.Logger,
		now:   time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	p.baseLog = p.log
	p.log = p.log.With().Str("session_id", cfg.ID).Logger()
	return p
}

func (p *Portfolio) ledgerOptions() []ledger.Option {
	lo := []ledger.Option{
		ledger.WithClock(p.now),
		ledger.WithLogger(p.baseLog),
		ledger.WithGate(p.gate),
	}
	if obs, ok := p.metrics.(ledger.Observer); ok {
		lo = append(lo, ledger.WithObserver(obs))
	}
	return append(lo, p.ledgerOpts...)
}

// New starts a portfolio over an empty ledger. cfg is owned by the
// portfolio from here on.
func New(cfg *session.Config, store journal.Store, opts ...Option) *Portfolio {
	p := newPortfolio(cfg, store, opts)
	p.ledger = ledger.New(cfg, store, p.ledgerOptions()...)
	return p
}

// Restore rebuilds a portfolio from what the store holds for cfg.ID.
func Restore(ctx context.Context, cfg *session.Config, store journal.Store, opts ...Option) (*Portfolio, error) {
	p := newPortfolio(cfg, store, opts)
	l, err := ledger.Load(ctx, cfg, store, p.ledgerOptions()...)
	if err != nil {
		return nil, fmt.Errorf("restore session %s: %w", cfg.ID, err)
	}
	p.ledger = l
	return p, nil
}

func (p *Portfolio) ID() string                     { return p.cfg.ID }
func (p *Portfolio) Ledger() *ledger.Ledger         { return p.ledger }
func (p *Portfolio) Config() session.Config         { return p.ledger.Config() }
func (p *Portfolio) Capital() float64               { return p.ledger.Capital() }
func (p *Portfolio) Positions() []position.Position { return p.ledger.Positions() }

// CanOpen runs the admission checks in order and returns the first
// failure's reason, or (true, "OK").
func (p *Portfolio) CanOpen(symbol string, notional float64) (bool, string) {
	check, reason := p.check(p.ledger.View(), symbol, notional)
	return check == "", reason
}

func (p *Portfolio) check(v ledger.View, symbol string, notional float64) (string, string) {
	if notional <= 0 {
		return CheckNotional, fmt.Sprintf("notional %.2f must be positive", notional)
	}
	if n := len(v.Positions); n >= p.cfg.MaxConcurrentPositions {
		return CheckPositions, fmt.Sprintf("max concurrent positions reached (%d)", p.cfg.MaxConcurrentPositions)
	}
	if maxSize := v.Capital * p.cfg.MaxPositionSizePct; notional > maxSize {
		return CheckSize, fmt.Sprintf("position size %.2f exceeds limit (max: %.2f)", notional, maxSize)
	}
	if notional > v.Capital {
		return CheckCapital, fmt.Sprintf("insufficient capital: %.2f needed, %.2f available", notional, v.Capital)
	}
	exposure := risk.TotalExposure(v.Positions)
	if denom := v.Capital + exposure; denom > 0 {
		if pct := (exposure + notional) / denom; pct > p.cfg.MaxTotalExposurePct {
			return CheckExposure, fmt.Sprintf("total exposure %.1f%% exceeds limit (%.0f%%)", pct*100, p.cfg.MaxTotalExposurePct*100)
		}
	}
	if !p.cfg.AllowPyramiding {
		for _, pos := range v.Positions {
			if pos.Symbol == symbol {
				return CheckPyramiding, fmt.Sprintf("already have position in %s and pyramiding is disabled", symbol)
			}
		}
	}
	return "", "OK"
}

// gate is installed on the ledger so admission and open happen under one
// lock.
func (p *Portfolio) gate(v ledger.View, symbol string, notional float64) (bool, string) {
	check, reason := p.check(v, symbol, notional)
	if check == "" {
		return true, reason
	}
	p.rejected(check, symbol, reason)
	return false, reason
}

func (p *Portfolio) rejected(check, symbol, reason string) {
	p.log.Info().Str("symbol", symbol).Str("check", check).Msg("open rejected: " + reason)
	if p.metrics != nil {
		p.metrics.Rejected(p.cfg.ID, check)
	}
}

// Assess reports every limit a proposed trade would break plus soft
// warnings, without stopping at the first.
func (p *Portfolio) Assess(symbol string, qty, entry, stop float64) risk.Assessment {
	v := p.ledger.View()
	opening := true
	for _, pos := range v.Positions {
		if pos.Symbol == symbol {
			opening = false
		}
	}
	req := risk.Request{Symbol: symbol, Quantity: qty, Entry: entry, Stop: stop, Opening: opening}
	return risk.Assess(v.Config, req, v.Positions, v.Capital)
}

// Snapshot values the portfolio now.
func (p *Portfolio) Snapshot() journal.Snapshot {
	return p.snapshot(p.ledger.View())
}

func (p *Portfolio) snapshot(v ledger.View) journal.Snapshot {
	s := journal.Snapshot{
		SessionID:        v.SessionID,
		Time:             p.now().UTC(),
		AvailableCapital: v.Capital,
		OpenPositions:    len(v.Positions),
		Positions:        v.Positions,
	}
	for _, pos := range v.Positions {
		s.TotalPositionValue += pos.Notional
		s.UnrealizedPnL += pos.UnrealizedPnL
	}
	for _, c := range v.Closed {
		s.RealizedPnL += c.RealizedPnL
	}
	s.UsedCapital = s.TotalPositionValue
	s.TotalCapital = v.Capital + s.TotalPositionValue
	s.TotalPnL = s.UnrealizedPnL + s.RealizedPnL
	if v.InitialCapital > 0 {
		s.TotalReturnPct = s.TotalPnL / v.InitialCapital * 100
	}
	s.PortfolioHeat = risk.PortfolioHeat(v.Positions, v.Capital)
	if s.TotalCapital > 0 {
		s.ExposurePct = s.TotalPositionValue / s.TotalCapital * 100
	}

	sum := analytics.Summarize(v.Closed)
	s.TotalTrades = sum.TotalTrades
	s.WinningTrades = sum.WinningTrades
	s.LosingTrades = sum.LosingTrades
	s.WinRate = sum.WinRate
	s.AvgWin = sum.AvgWin
	s.AvgLoss = sum.AvgLoss
	s.ProfitFactor = sum.ProfitFactor
	return s
}

// SaveSnapshot records the current snapshot in the store and returns it.
func (p *Portfolio) SaveSnapshot(ctx context.Context) (journal.Snapshot, error) {
	s := p.Snapshot()
	if p.metrics != nil {
		p.metrics.Snapshot(s)
	}
	if p.store == nil {
		return s, nil
	}
	if err := p.store.SaveSnapshot(ctx, s); err != nil {
		p.log.Error().Err(err).Msg("snapshot not saved")
		return s, fmt.Errorf("save snapshot: %w: %w", position.ErrPersistence, err)
	}
	return s, nil
}

// History returns up to limit saved snapshots, oldest first.
func (p *Portfolio) History(ctx context.Context, limit int) ([]journal.Snapshot, error) {
	if p.store == nil {
		return nil, nil
	}
	snaps, err := p.store.GetSnapshots(ctx, p.cfg.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("snapshot history: %w", err)
	}
	return snaps, nil
}

func (p *Portfolio) MarginStatus() risk.MarginStatus {
	v := p.ledger.View()
	m := risk.Margin(v.Positions, v.Capital)
	if m.Critical {
		p.log.Warn().Float64("usage_pct", m.UsagePct).Msg("margin usage critical")
	}
	if p.metrics != nil {
		p.metrics.Margin(p.cfg.ID, m)
	}
	return m
}

// Statistics covers closes inside [from, to]; zero times leave that end
// open.
func (p *Portfolio) Statistics(from, to time.Time) analytics.Statistics {
	v := p.ledger.View()
	return analytics.Compute(v.SessionID, v.InitialCapital, p.cfg.RiskFreeRate, v.Closed, from, to)
}

// MarkToMarket revalues positions and fires any stop, target or ladder
// exits.
func (p *Portfolio) MarkToMarket(ctx context.Context, prices map[string]float64) ([]position.ClosedPosition, error) {
	exits, err := p.ledger.MarkToMarket(ctx, prices)
	if p.metrics != nil {
		p.metrics.Snapshot(p.Snapshot())
	}
	return exits, err
}

// CheckInvalidations runs each live position's invalidation rule against
// its candles and returns the symbols that were closed.
func (p *Portfolio) CheckInvalidations(ctx context.Context, candles map[string][]market.Candle) ([]string, error) {
	symbols := make([]string, 0, len(candles))
	for s := range candles {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	var (
		closed []string
		errs   []error
	)
	for _, sym := range symbols {
		fired, err := p.ledger.CheckInvalidation(ctx, sym, candles[sym])
		if errors.Is(err, position.ErrNotFound) {
			continue
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if fired {
			closed = append(closed, sym)
		}
	}
	return closed, errors.Join(errs...)
}
