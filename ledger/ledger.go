// Package ledger owns a session's live positions and closed history and
// executes every transition on them. Each transition is staged, written to
// the store, and only then applied in memory.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/rustyeddy/riskbook/journal"
	"github.com/rustyeddy/riskbook/position"
	"github.com/rustyeddy/riskbook/session"
)

// Event describes a committed transition.
type Event struct {
	SessionID string
	Action    journal.Action
	Position  position.Position
	Closed    *position.ClosedPosition
	Trade     journal.TradeRecord
	Capital   float64
}

// Observer is told about committed transitions after the ledger lock is
// released.
type Observer interface {
	OnTransition(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) OnTransition(e Event) { f(e) }

// Gate decides whether a new slot may be opened. It runs under the ledger
// lock so the check and the open are atomic.
type Gate func(v View, symbol string, notional float64) (bool, string)

// View is a consistent copy of the ledger's state.
type View struct {
	SessionID      string
	InitialCapital float64
	Capital        float64 // available
	Positions      []position.Position
	Closed         []position.ClosedPosition
	Config         session.Config // CurrentCapital equals Capital
}

type Ledger struct {
	mu        sync.RWMutex
	cfg       *session.Config
	store     journal.Store
	positions map[string]*position.Position
	closed    []position.ClosedPosition
	trades    []journal.TradeRecord

	gate      Gate
	observers []Observer
	now       func() time.Time
	log       zerolog.Logger
	attempts  int
	backoff   time.Duration
}

type Option func(*Ledger)

// WithClock sets the time source used to stamp transitions.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func WithLogger(lg zerolog.Logger) Option {
	return func(l *Ledger) { l.log = lg }
}

// WithRetry sets how many times a store write is attempted and the initial
// backoff between attempts, doubled after each failure.
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(l *Ledger) {
		if attempts > 0 {
			l.attempts = attempts
		}
		l.backoff = backoff
	}
}

func WithObserver(o Observer) Option {
	return func(l *Ledger) { l.observers = append(l.observers, o) }
}

func WithGate(g Gate) Option {
	return func(l *Ledger) { l.gate = g }
}

// New creates an empty ledger. cfg is shared with the caller; the ledger is
// the only writer of cfg.CurrentCapital.
func New(cfg *session.Config, store journal.Store, opts ...Option) *Ledger {
	l := &Ledger{
		cfg:       cfg,
		store:     store,
		positions: make(map[string]*position.Position),
		now:       time.Now,
		log:       log.Logger,
		attempts:  3,
		backoff:   50 * time.Millisecond,
	}
	for _, o := range opts {
		o(l)
	}
	l.log = l.log.With().Str("session_id", cfg.ID).Logger()
	return l
}

// Load rebuilds a ledger from the store's open positions, closed history and
// trade records.
func Load(ctx context.Context, cfg *session.Config, store journal.Store, opts ...Option) (*Ledger, error) {
	l := New(cfg, store, opts...)

	open, err := store.GetOpenPositions(ctx, cfg.ID)
	if err != nil {
		return nil, fmt.Errorf("load open positions: %w", err)
	}
	for _, p := range open {
		p := p.Clone()
		l.positions[p.Symbol] = &p
	}
	if l.closed, err = store.GetClosedPositions(ctx, cfg.ID); err != nil {
		return nil, fmt.Errorf("load closed positions: %w", err)
	}
	if l.trades, err = store.GetTradeRecords(ctx, cfg.ID); err != nil {
		return nil, fmt.Errorf("load trade records: %w", err)
	}
	l.log.Info().Int("open", len(open)).Int("closed", len(l.closed)).Msg("ledger restored")
	return l, nil
}

// SetGate installs the admission gate.
func (l *Ledger) SetGate(g Gate) {
	l.mu.Lock()
	l.gate = g
	l.mu.Unlock()
}

func (l *Ledger) AddObserver(o Observer) {
	l.mu.Lock()
	l.observers = append(l.observers, o)
	l.mu.Unlock()
}

func (l *Ledger) SessionID() string { return l.cfg.ID }

// Config returns a copy of the session config taken under the ledger lock.
func (l *Ledger) Config() session.Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cfg.Clone()
}

// Capital is the available capital.
func (l *Ledger) Capital() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cfg.CurrentCapital
}

// Positions returns copies of the live positions ordered by symbol.
func (l *Ledger) Positions() []position.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.positionsLocked()
}

func (l *Ledger) positionsLocked() []position.Position {
	out := make([]position.Position, 0, len(l.positions))
	for _, p := range l.positions {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Position returns a copy of the live position in symbol.
func (l *Ledger) Position(symbol string) (position.Position, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.positions[symbol]
	if !ok {
		return position.Position{}, fmt.Errorf("position %s: %w", symbol, position.ErrNotFound)
	}
	return p.Clone(), nil
}

func (l *Ledger) Closed() []position.ClosedPosition {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]position.ClosedPosition(nil), l.closed...)
}

func (l *Ledger) Trades() []journal.TradeRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]journal.TradeRecord(nil), l.trades...)
}

// View returns capital, positions and closed history from one instant.
func (l *Ledger) View() View {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.viewLocked()
}

func (l *Ledger) viewLocked() View {
	return View{
		SessionID:      l.cfg.ID,
		InitialCapital: l.cfg.InitialCapital,
		Capital:        l.cfg.CurrentCapital,
		Positions:      l.positionsLocked(),
		Closed:         append([]position.ClosedPosition(nil), l.closed...),
		Config:         l.cfg.Clone(),
	}
}

// persist writes tr, retrying with exponential backoff. The returned error
// wraps position.ErrPersistence and the last store error.
func (l *Ledger) persist(ctx context.Context, tr journal.Transition) error {
	if l.store == nil {
		return nil
	}
	var err error
	delay := l.backoff
	for attempt := 1; ; attempt++ {
		if err = l.store.Apply(ctx, tr); err == nil {
			return nil
		}
		if attempt >= l.attempts || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			break
		}
		l.log.Warn().Err(err).Int("attempt", attempt).Str("symbol", tr.Trade.Symbol).Msg("store write failed, retrying")

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			err = ctx.Err()
		case <-t.C:
		}
		if ctx.Err() != nil {
			break
		}
		delay *= 2
	}
	l.log.Error().Err(err).
		Str("action", string(tr.Trade.Action)).
		Str("symbol", tr.Trade.Symbol).
		Msg("transition not persisted")
	return fmt.Errorf("%s %s: %w: %w", tr.Trade.Action, tr.Trade.Symbol, position.ErrPersistence, err)
}

func (l *Ledger) notify(events []Event) {
	if len(events) == 0 {
		return
	}
	l.mu.RLock()
	obs := append([]Observer(nil), l.observers...)
	l.mu.RUnlock()
	for _, e := range events {
		for _, o := range obs {
			o.OnTransition(e)
		}
	}
}
