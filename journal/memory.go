package journal

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rustyeddy/riskbook/position"
	"github.com/rustyeddy/riskbook/session"
)

// Memory is an in-process Store. It is what tests and dry runs use.
type Memory struct {
	mu        sync.RWMutex
	sessions  map[string]session.Config
	order     []string
	open      map[string]position.Position // by position id
	closed    map[string][]position.ClosedPosition
	snapshots map[string][]Snapshot
	trades    map[string][]TradeRecord
}

func NewMemory() *Memory {
	return &Memory{
		sessions:  make(map[string]session.Config),
		open:      make(map[string]position.Position),
		closed:    make(map[string][]position.ClosedPosition),
		snapshots: make(map[string][]Snapshot),
		trades:    make(map[string][]TradeRecord),
	}
}

func (m *Memory) Close() error { return nil }

func (m *Memory) SaveSession(_ context.Context, cfg session.Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[cfg.ID]; !ok {
		m.order = append(m.order, cfg.ID)
	}
	m.sessions[cfg.ID] = cfg.Clone()
	return nil
}

func (m *Memory) GetSession(_ context.Context, id string) (session.Config, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg, ok := m.sessions[id]
	if !ok {
		return session.Config{}, fmt.Errorf("session %q: %w", id, position.ErrNotFound)
	}
	return cfg.Clone(), nil
}

func (m *Memory) ListSessions(_ context.Context) ([]session.Config, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]session.Config, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.sessions[id].Clone())
	}
	return out, nil
}

func (m *Memory) SavePosition(_ context.Context, p position.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.open[p.ID] = p.Clone()
	return nil
}

func (m *Memory) UpdatePosition(ctx context.Context, p position.Position) error {
	return m.SavePosition(ctx, p)
}

func (m *Memory) GetOpenPositions(_ context.Context, sessionID string) ([]position.Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []position.Position
	for _, p := range m.open {
		if p.SessionID == sessionID {
			out = append(out, p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out, nil
}

func (m *Memory) SaveClosedPosition(_ context.Context, c position.ClosedPosition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed[c.SessionID] = append(m.closed[c.SessionID], c)
	return nil
}

func (m *Memory) GetClosedPositions(_ context.Context, sessionID string) ([]position.ClosedPosition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]position.ClosedPosition(nil), m.closed[sessionID]...), nil
}

func (m *Memory) SaveSnapshot(_ context.Context, s Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[s.SessionID] = append(m.snapshots[s.SessionID], s)
	return nil
}

func (m *Memory) GetSnapshots(_ context.Context, sessionID string, limit int) ([]Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := m.snapshots[sessionID]
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return append([]Snapshot(nil), all...), nil
}

func (m *Memory) SaveTradeRecord(_ context.Context, r TradeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trades[r.SessionID] = append(m.trades[r.SessionID], r)
	return nil
}

func (m *Memory) GetTradeRecords(_ context.Context, sessionID string) ([]TradeRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]TradeRecord(nil), m.trades[sessionID]...), nil
}

func (m *Memory) Apply(ctx context.Context, tr Transition) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if tr.Position != nil {
		m.open[tr.Position.ID] = tr.Position.Clone()
	}
	if tr.ClosePositionID != "" {
		delete(m.open, tr.ClosePositionID)
	}
	if tr.Closed != nil {
		m.closed[tr.SessionID] = append(m.closed[tr.SessionID], *tr.Closed)
	}
	if tr.Trade.ID != "" {
		m.trades[tr.SessionID] = append(m.trades[tr.SessionID], tr.Trade)
	}
	if cfg, ok := m.sessions[tr.SessionID]; ok {
		cfg.CurrentCapital = tr.Capital
		m.sessions[tr.SessionID] = cfg
	}
	return nil
}
