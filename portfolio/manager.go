package portfolio

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/rustyeddy/riskbook/analytics"
	"github.com/rustyeddy/riskbook/journal"
	"github.com/rustyeddy/riskbook/position"
	"github.com/rustyeddy/riskbook/risk"
	"github.com/rustyeddy/riskbook/session"
)

// Manager is the registry of live sessions and the query surface over
// them.
type Manager struct {
	mu       sync.RWMutex
	store    journal.Store
	sessions map[string]*Portfolio
	opts     []Option
	now      func() time.Time
	log      zerolog.Logger
}

// NewManager creates a registry. opts are applied to every session it
// creates or loads.
func NewManager(store journal.Store, opts ...Option) *Manager {
	m := &Manager{
		store:    store,
		sessions: make(map[string]*Portfolio),
		opts:     opts,
		now:      time.Now,
		log:      log.Logger,
	}
	// pick up clock and logger overrides
	scratch := &Portfolio{now: m.now, log: m.log}
	for _, o := range opts {
		o(scratch)
	}
	m.now, m.log = scratch.now, scratch.log
	return m
}

// Create validates cfg, stores it and starts a session for it.
func (m *Manager) Create(ctx context.Context, cfg session.Config) (*Portfolio, error) {
	cfg = cfg.WithDefaults(m.now())
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("create session: %v: %w", err, position.ErrInvalidInput)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[cfg.ID]; ok {
		return nil, fmt.Errorf("create session %s: already exists: %w", cfg.ID, position.ErrNotAllowed)
	}
	if m.store != nil {
		if err := m.store.SaveSession(ctx, cfg); err != nil {
			return nil, fmt.Errorf("create session %s: %w: %w", cfg.ID, position.ErrPersistence, err)
		}
	}
	p := New(&cfg, m.store, m.opts...)
	m.sessions[cfg.ID] = p
	m.log.Info().Str("session_id", cfg.ID).Float64("capital", cfg.InitialCapital).Str("mode", string(cfg.TradingMode)).Msg("session created")
	return p, nil
}

// Load restores a stored session, or returns it if already loaded.
func (m *Manager) Load(ctx context.Context, id string) (*Portfolio, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.sessions[id]; ok {
		return p, nil
	}
	if m.store == nil {
		return nil, fmt.Errorf("load session %s: %w", id, position.ErrNotFound)
	}
	cfg, err := m.store.GetSession(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}
	p, err := Restore(ctx, &cfg, m.store, m.opts...)
	if err != nil {
		return nil, err
	}
	m.sessions[id] = p
	return p, nil
}

// LoadAll restores every active stored session.
func (m *Manager) LoadAll(ctx context.Context) (int, error) {
	if m.store == nil {
		return 0, nil
	}
	cfgs, err := m.store.ListSessions(ctx)
	if err != nil {
		return 0, fmt.Errorf("list sessions: %w", err)
	}
	var (
		n    int
		errs []error
	)
	for _, cfg := range cfgs {
		if !cfg.Active {
			continue
		}
		if _, err := m.Load(ctx, cfg.ID); err != nil {
			errs = append(errs, err)
			continue
		}
		n++
	}
	return n, errors.Join(errs...)
}

// Session returns the loaded session with this id.
func (m *Manager) Session(id string) (*Portfolio, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, position.ErrNotFound)
	}
	return p, nil
}

// Sessions lists the ids of loaded sessions.
func (m *Manager) Sessions() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (m *Manager) OpenPositions(id string) ([]position.Position, error) {
	p, err := m.Session(id)
	if err != nil {
		return nil, err
	}
	return p.Positions(), nil
}

func (m *Manager) Position(id, symbol string) (position.Position, error) {
	p, err := m.Session(id)
	if err != nil {
		return position.Position{}, err
	}
	return p.Ledger().Position(symbol)
}

func (m *Manager) Snapshot(id string) (journal.Snapshot, error) {
	p, err := m.Session(id)
	if err != nil {
		return journal.Snapshot{}, err
	}
	return p.Snapshot(), nil
}

// Statistics covers the session's whole closed history.
func (m *Manager) Statistics(id string) (analytics.Statistics, error) {
	p, err := m.Session(id)
	if err != nil {
		return analytics.Statistics{}, err
	}
	return p.Statistics(time.Time{}, time.Time{}), nil
}

func (m *Manager) MarginStatus(id string) (risk.MarginStatus, error) {
	p, err := m.Session(id)
	if err != nil {
		return risk.MarginStatus{}, err
	}
	return p.MarginStatus(), nil
}
