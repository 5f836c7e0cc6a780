// Package journal persists sessions, positions, closed history, trade
// records and portfolio snapshots, and exports them as CSV or Org.
package journal

import (
	"context"
	"time"

	"github.com/rustyeddy/riskbook/position"
	"github.com/rustyeddy/riskbook/session"
)

type Action string

const (
	ActionOpen   Action = "OPEN"
	ActionAdd    Action = "ADD"
	ActionReduce Action = "REDUCE"
	ActionClose  Action = "CLOSE"
)

// TradeRecord is one ledger transition.
type TradeRecord struct {
	ID         string        `json:"id"`
	SessionID  string        `json:"session_id"`
	PositionID string        `json:"position_id"`
	Time       time.Time     `json:"time"`
	Action     Action        `json:"action"`
	Symbol     string        `json:"symbol"`
	Side       position.Side `json:"side"`
	Quantity   float64       `json:"quantity"`
	Price      float64       `json:"price"`
	Leverage   int           `json:"leverage"`
	PnL        float64       `json:"pnl"`
	Reason     string        `json:"reason,omitempty"`
}

// Snapshot is a point-in-time view of a session's portfolio. Percentages
// are on a 0-100 scale except PortfolioHeat, which is a fraction.
type Snapshot struct {
	SessionID string    `json:"session_id"`
	Time      time.Time `json:"time"`

	TotalCapital     float64 `json:"total_capital"`
	AvailableCapital float64 `json:"available_capital"`
	UsedCapital      float64 `json:"used_capital"`

	OpenPositions      int     `json:"open_positions"`
	TotalPositionValue float64 `json:"total_position_value"`

	UnrealizedPnL  float64 `json:"unrealized_pnl"`
	RealizedPnL    float64 `json:"realized_pnl"`
	TotalPnL       float64 `json:"total_pnl"`
	TotalReturnPct float64 `json:"total_return_pct"`

	PortfolioHeat float64 `json:"portfolio_heat"`
	ExposurePct   float64 `json:"exposure_pct"`

	TotalTrades   int     `json:"total_trades"`
	WinningTrades int     `json:"winning_trades"`
	LosingTrades  int     `json:"losing_trades"`
	WinRate       float64 `json:"win_rate"`
	AvgWin        float64 `json:"avg_win"`
	AvgLoss       float64 `json:"avg_loss"`
	ProfitFactor  float64 `json:"profit_factor"`

	Positions []position.Position `json:"positions,omitempty"`
}

// Transition is everything one ledger operation changes, written atomically
// by Store.Apply.
type Transition struct {
	SessionID string
	Capital   float64

	// Position is upserted as open. ClosePositionID marks a live row closed.
	Position        *position.Position
	ClosePositionID string

	Closed *position.ClosedPosition
	Trade  TradeRecord
}

// Store is the persistence port the ledger and portfolio talk to. Getters
// for missing sessions wrap position.ErrNotFound.
type Store interface {
	SaveSession(ctx context.Context, cfg session.Config) error
	GetSession(ctx context.Context, id string) (session.Config, error)
	ListSessions(ctx context.Context) ([]session.Config, error)

	SavePosition(ctx context.Context, p position.Position) error
	UpdatePosition(ctx context.Context, p position.Position) error
	GetOpenPositions(ctx context.Context, sessionID string) ([]position.Position, error)

	SaveClosedPosition(ctx context.Context, c position.ClosedPosition) error
	GetClosedPositions(ctx context.Context, sessionID string) ([]position.ClosedPosition, error)

	SaveSnapshot(ctx context.Context, s Snapshot) error
	// GetSnapshots returns the newest limit snapshots, oldest first. limit
	// <= 0 returns all of them.
	GetSnapshots(ctx context.Context, sessionID string, limit int) ([]Snapshot, error)

	SaveTradeRecord(ctx context.Context, r TradeRecord) error
	GetTradeRecords(ctx context.Context, sessionID string) ([]TradeRecord, error)

	Apply(ctx context.Context, tr Transition) error
	Close() error
}

// Recorder is a streaming sink for trades and snapshots.
type Recorder interface {
	RecordTrade(TradeRecord) error
	RecordSnapshot(Snapshot) error
	Close() error
}
