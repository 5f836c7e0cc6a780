package journal

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/riskbook/pkg/id"
	"github.com/rustyeddy/riskbook/position"
	"github.com/rustyeddy/riskbook/session"
)

var t0 = time.Date(2025, 2, 3, 9, 0, 0, 0, time.UTC)

func testSession() session.Config {
	cfg := session.Config{InitialCapital: 10000}.WithDefaults(t0)
	cfg.SupportedSymbols = []string{"BTCUSDT"}
	return cfg
}

func testPosition(sessionID string) position.Position {
	return position.Position{
		ID:           id.NewAt(t0),
		SessionID:    sessionID,
		Symbol:       "BTCUSDT",
		Side:         position.Long,
		Quantity:     0.5,
		Notional:     25000,
		Leverage:     10,
		EntryPrice:   50000,
		CurrentPrice: 50000,
		StopLoss:     49000,
		TakeProfits: []position.TakeProfitRung{
			{Price: 52000, Fraction: 0.5, RR: 2},
		},
		Invalidation: position.InvalidationCondition{
			Type: position.CloseBelow, TriggerPrice: 49500, Timeframe: "3m", CandleCloses: 3,
		},
		Confidence: 0.8,
		OpenedAt:   t0,
		UpdatedAt:  t0,
	}
}

// runStoreSuite exercises any Store implementation the same way.
func runStoreSuite(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("session round trip", func(t *testing.T) {
		s := newStore(t)
		cfg := testSession()
		require.NoError(t, s.SaveSession(ctx, cfg))

		got, err := s.GetSession(ctx, cfg.ID)
		require.NoError(t, err)
		assert.Equal(t, cfg.ID, got.ID)
		assert.Equal(t, cfg.InitialCapital, got.InitialCapital)
		assert.Equal(t, cfg.CurrentCapital, got.CurrentCapital)
		assert.Equal(t, cfg.LeverageByConfidence, got.LeverageByConfidence)
		assert.Equal(t, []string{"BTCUSDT"}, got.SupportedSymbols)

		list, err := s.ListSessions(ctx)
		require.NoError(t, err)
		found := false
		for _, c := range list {
			found = found || c.ID == cfg.ID
		}
		assert.True(t, found)
	})

	t.Run("missing session", func(t *testing.T) {
		s := newStore(t)
		_, err := s.GetSession(ctx, "nope-"+id.New())
		require.Error(t, err)
		assert.True(t, errors.Is(err, position.ErrNotFound))
	})

	t.Run("apply open then close", func(t *testing.T) {
		s := newStore(t)
		cfg := testSession()
		require.NoError(t, s.SaveSession(ctx, cfg))

		p := testPosition(cfg.ID)
		require.NoError(t, s.Apply(ctx, Transition{
			SessionID: cfg.ID,
			Capital:   7500,
			Position:  &p,
			Trade: TradeRecord{
				ID: id.NewAt(t0), SessionID: cfg.ID, PositionID: p.ID, Time: t0,
				Action: ActionOpen, Symbol: p.Symbol, Side: p.Side, Quantity: p.Quantity, Price: p.EntryPrice, Leverage: 10,
			},
		}))

		open, err := s.GetOpenPositions(ctx, cfg.ID)
		require.NoError(t, err)
		require.Len(t, open, 1)
		assert.Equal(t, p.ID, open[0].ID)
		assert.Equal(t, p.TakeProfits, open[0].TakeProfits)
		assert.Equal(t, p.Invalidation, open[0].Invalidation)

		got, err := s.GetSession(ctx, cfg.ID)
		require.NoError(t, err)
		assert.Equal(t, 7500.0, got.CurrentCapital)

		closedAt := t0.Add(90 * time.Minute)
		c := position.ClosedPosition{
			ID: id.NewAt(closedAt), PositionID: p.ID, SessionID: cfg.ID, Symbol: p.Symbol, Side: p.Side,
			Quantity: 0.5, EntryPrice: 50000, ExitPrice: 51000, RealizedPnL: 500, RealizedPnLPct: 2,
			OpenedAt: t0, ClosedAt: closedAt, HoldingHours: 1.5, Reason: position.ExitTakeProfit,
		}
		require.NoError(t, s.Apply(ctx, Transition{
			SessionID:       cfg.ID,
			Capital:         10500,
			ClosePositionID: p.ID,
			Closed:          &c,
			Trade: TradeRecord{
				ID: id.NewAt(closedAt), SessionID: cfg.ID, PositionID: p.ID, Time: closedAt,
				Action: ActionClose, Symbol: p.Symbol, Side: p.Side, Quantity: 0.5, Price: 51000, Leverage: 10, PnL: 500,
				Reason: string(position.ExitTakeProfit),
			},
		}))

		open, err = s.GetOpenPositions(ctx, cfg.ID)
		require.NoError(t, err)
		assert.Empty(t, open)

		closed, err := s.GetClosedPositions(ctx, cfg.ID)
		require.NoError(t, err)
		require.Len(t, closed, 1)
		assert.Equal(t, c.ID, closed[0].ID)
		assert.Equal(t, position.ExitTakeProfit, closed[0].Reason)
		assert.Equal(t, position.Long, closed[0].Side)
		assert.InDelta(t, 500.0, closed[0].RealizedPnL, 1e-9)
		assert.WithinDuration(t, closedAt, closed[0].ClosedAt, time.Second)
		assert.False(t, closed[0].Partial)

		trades, err := s.GetTradeRecords(ctx, cfg.ID)
		require.NoError(t, err)
		require.Len(t, trades, 2)
		assert.Equal(t, ActionOpen, trades[0].Action)
		assert.Equal(t, ActionClose, trades[1].Action)

		got, err = s.GetSession(ctx, cfg.ID)
		require.NoError(t, err)
		assert.Equal(t, 10500.0, got.CurrentCapital)
	})

	t.Run("snapshots newest limit oldest first", func(t *testing.T) {
		s := newStore(t)
		cfg := testSession()
		require.NoError(t, s.SaveSession(ctx, cfg))
		for i := 0; i < 5; i++ {
			require.NoError(t, s.SaveSnapshot(ctx, Snapshot{
				SessionID:    cfg.ID,
				Time:         t0.Add(time.Duration(i) * time.Minute),
				TotalCapital: 10000 + float64(i),
			}))
		}

		all, err := s.GetSnapshots(ctx, cfg.ID, 0)
		require.NoError(t, err)
		assert.Len(t, all, 5)

		last, err := s.GetSnapshots(ctx, cfg.ID, 2)
		require.NoError(t, err)
		require.Len(t, last, 2)
		assert.Equal(t, 10003.0, last[0].TotalCapital)
		assert.Equal(t, 10004.0, last[1].TotalCapital)
	})

	t.Run("direct saves", func(t *testing.T) {
		s := newStore(t)
		cfg := testSession()
		require.NoError(t, s.SaveSession(ctx, cfg))

		p := testPosition(cfg.ID)
		require.NoError(t, s.SavePosition(ctx, p))
		p.Quantity = 0.25
		require.NoError(t, s.UpdatePosition(ctx, p))
		open, err := s.GetOpenPositions(ctx, cfg.ID)
		require.NoError(t, err)
		require.Len(t, open, 1)
		assert.Equal(t, 0.25, open[0].Quantity)

		require.NoError(t, s.SaveClosedPosition(ctx, position.ClosedPosition{
			ID: id.New(), PositionID: p.ID, SessionID: cfg.ID, Symbol: "BTCUSDT", Side: position.Long,
			OpenedAt: t0, ClosedAt: t0.Add(time.Hour), Reason: position.ExitManual, Partial: true,
		}))
		closed, err := s.GetClosedPositions(ctx, cfg.ID)
		require.NoError(t, err)
		require.Len(t, closed, 1)
		assert.True(t, closed[0].Partial)

		require.NoError(t, s.SaveTradeRecord(ctx, TradeRecord{
			ID: id.New(), SessionID: cfg.ID, PositionID: p.ID, Time: t0, Action: ActionReduce, Symbol: "BTCUSDT", Side: position.Long,
		}))
		trades, err := s.GetTradeRecords(ctx, cfg.ID)
		require.NoError(t, err)
		require.Len(t, trades, 1)
		assert.Equal(t, ActionReduce, trades[0].Action)
	})
}

func TestMemoryStore(t *testing.T) {
	t.Parallel()
	runStoreSuite(t, func(t *testing.T) Store { return NewMemory() })
}

func TestSQLiteStore(t *testing.T) {
	t.Parallel()
	runStoreSuite(t, func(t *testing.T) Store {
		s, err := NewSQLite(filepath.Join(t.TempDir(), "riskbook.db"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestSQLiteReopenKeepsData(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "riskbook.db")

	s, err := NewSQLite(path)
	require.NoError(t, err)
	cfg := testSession()
	require.NoError(t, s.SaveSession(ctx, cfg))
	require.NoError(t, s.Close())

	s, err = NewSQLite(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	got, err := s.GetSession(ctx, cfg.ID)
	require.NoError(t, err)
	assert.Equal(t, cfg.ID, got.ID)
}

func TestMemoryApplyHonorsContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := NewMemory().Apply(ctx, Transition{SessionID: "s"})
	assert.ErrorIs(t, err, context.Canceled)
}
