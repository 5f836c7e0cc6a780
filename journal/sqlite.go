package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/rustyeddy/riskbook/position"
	"github.com/rustyeddy/riskbook/session"
)

type SQLite struct {
	db *sql.DB
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	// sqlite allows one writer; serialize through a single connection
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(Schema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) SaveSession(ctx context.Context, cfg session.Config) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO trading_sessions
		(id, user_id, initial_capital, current_capital, active, config_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			user_id = excluded.user_id,
			initial_capital = excluded.initial_capital,
			current_capital = excluded.current_capital,
			active = excluded.active,
			config_json = excluded.config_json,
			updated_at = excluded.updated_at`,
		cfg.ID, cfg.UserID, cfg.InitialCapital, cfg.CurrentCapital, cfg.Active,
		string(data), cfg.CreatedAt.UTC(), cfg.UpdatedAt.UTC(),
	)
	return err
}

func (s *SQLite) GetSession(ctx context.Context, id string) (session.Config, error) {
	var (
		data    string
		capital float64
		active  bool
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT config_json, current_capital, active
		FROM trading_sessions WHERE id = ?`, id).Scan(&data, &capital, &active)
	if errors.Is(err, sql.ErrNoRows) {
		return session.Config{}, fmt.Errorf("session %q: %w", id, position.ErrNotFound)
	}
	if err != nil {
		return session.Config{}, err
	}
	return decodeSession(data, capital, active)
}

func (s *SQLite) ListSessions(ctx context.Context) ([]session.Config, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT config_json, current_capital, active
		FROM trading_sessions ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []session.Config
	for rows.Next() {
		var (
			data    string
			capital float64
			active  bool
		)
		if err := rows.Scan(&data, &capital, &active); err != nil {
			return nil, err
		}
		cfg, err := decodeSession(data, capital, active)
		if err != nil {
			return nil, err
		}
		out = append(out, cfg)
	}
	return out, rows.Err()
}

func decodeSession(data string, capital float64, active bool) (session.Config, error) {
	var cfg session.Config
	if err := json.Unmarshal([]byte(data), &cfg); err != nil {
		return session.Config{}, fmt.Errorf("decode session: %w", err)
	}
	cfg.CurrentCapital = capital
	cfg.Active = active
	return cfg, nil
}

func (s *SQLite) SavePosition(ctx context.Context, p position.Position) error {
	return upsertPosition(ctx, s.db, p, "open")
}

func (s *SQLite) UpdatePosition(ctx context.Context, p position.Position) error {
	return upsertPosition(ctx, s.db, p, "open")
}

func upsertPosition(ctx context.Context, db execer, p position.Position, status string) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO positions
		(id, session_id, symbol, side, status, quantity, entry_price, leverage, position_json, opened_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			quantity = excluded.quantity,
			entry_price = excluded.entry_price,
			leverage = excluded.leverage,
			position_json = excluded.position_json,
			updated_at = excluded.updated_at`,
		p.ID, p.SessionID, p.Symbol, string(p.Side), status, p.Quantity, p.EntryPrice, p.Leverage,
		string(data), p.OpenedAt.UTC(), p.UpdatedAt.UTC(),
	)
	return err
}

func (s *SQLite) GetOpenPositions(ctx context.Context, sessionID string) ([]position.Position, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT position_json FROM positions
		WHERE session_id = ? AND status = 'open'
		ORDER BY opened_at ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []position.Position
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var p position.Position
		if err := json.Unmarshal([]byte(data), &p); err != nil {
			return nil, fmt.Errorf("decode position: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLite) SaveClosedPosition(ctx context.Context, c position.ClosedPosition) error {
	return insertClosed(ctx, s.db, c)
}

func insertClosed(ctx context.Context, db execer, c position.ClosedPosition) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO closed_positions
		(id, position_id, session_id, symbol, side, quantity, entry_price, exit_price,
		 realized_pnl, realized_pnl_pct, opened_at, closed_at, holding_hours, reason, partial, signal_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.PositionID, c.SessionID, c.Symbol, string(c.Side), c.Quantity, c.EntryPrice, c.ExitPrice,
		c.RealizedPnL, c.RealizedPnLPct, c.OpenedAt.UTC(), c.ClosedAt.UTC(), c.HoldingHours,
		string(c.Reason), c.Partial, c.SignalID,
	)
	return err
}

func (s *SQLite) GetClosedPositions(ctx context.Context, sessionID string) ([]position.ClosedPosition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, position_id, session_id, symbol, side, quantity, entry_price, exit_price,
		       realized_pnl, realized_pnl_pct, opened_at, closed_at, holding_hours, reason, partial, signal_id
		FROM closed_positions
		WHERE session_id = ?
		ORDER BY closed_at ASC, id ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []position.ClosedPosition
	for rows.Next() {
		var c position.ClosedPosition
		if err := rows.Scan(
			&c.ID, &c.PositionID, &c.SessionID, &c.Symbol, &c.Side, &c.Quantity, &c.EntryPrice, &c.ExitPrice,
			&c.RealizedPnL, &c.RealizedPnLPct, &c.OpenedAt, &c.ClosedAt, &c.HoldingHours, &c.Reason,
			&c.Partial, &c.SignalID,
		); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLite) SaveSnapshot(ctx context.Context, snap Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO portfolio_snapshots (session_id, time, total_capital, total_pnl, snapshot_json)
		VALUES (?, ?, ?, ?, ?)`,
		snap.SessionID, snap.Time.UTC(), snap.TotalCapital, snap.TotalPnL, string(data),
	)
	return err
}

func (s *SQLite) GetSnapshots(ctx context.Context, sessionID string, limit int) ([]Snapshot, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT snapshot_json FROM portfolio_snapshots
		WHERE session_id = ?
		ORDER BY time DESC
		LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Snapshot
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var snap Snapshot
		if err := json.Unmarshal([]byte(data), &snap); err != nil {
			return nil, fmt.Errorf("decode snapshot: %w", err)
		}
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	reverse(out)
	return out, nil
}

func (s *SQLite) SaveTradeRecord(ctx context.Context, r TradeRecord) error {
	return insertTrade(ctx, s.db, r)
}

func insertTrade(ctx context.Context, db execer, r TradeRecord) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO trade_records
		(id, session_id, position_id, time, action, symbol, side, quantity, price, leverage, pnl, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.SessionID, r.PositionID, r.Time.UTC(), string(r.Action), r.Symbol, string(r.Side),
		r.Quantity, r.Price, r.Leverage, r.PnL, r.Reason,
	)
	return err
}

func (s *SQLite) GetTradeRecords(ctx context.Context, sessionID string) ([]TradeRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, position_id, time, action, symbol, side, quantity, price, leverage, pnl, reason
		FROM trade_records
		WHERE session_id = ?
		ORDER BY time ASC, id ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TradeRecord
	for rows.Next() {
		var r TradeRecord
		if err := rows.Scan(
			&r.ID, &r.SessionID, &r.PositionID, &r.Time, &r.Action, &r.Symbol, &r.Side,
			&r.Quantity, &r.Price, &r.Leverage, &r.PnL, &r.Reason,
		); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Apply writes a ledger transition in one transaction.
func (s *SQLite) Apply(ctx context.Context, tr Transition) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	at := transitionTime(tr)
	if tr.Position != nil {
		if err := upsertPosition(ctx, tx, *tr.Position, "open"); err != nil {
			return fmt.Errorf("apply position: %w", err)
		}
	}
	if tr.ClosePositionID != "" {
		if _, err := tx.ExecContext(ctx,
			`UPDATE positions SET status = 'closed', updated_at = ? WHERE id = ?`,
			at, tr.ClosePositionID); err != nil {
			return fmt.Errorf("apply close: %w", err)
		}
	}
	if tr.Closed != nil {
		if err := insertClosed(ctx, tx, *tr.Closed); err != nil {
			return fmt.Errorf("apply closed position: %w", err)
		}
	}
	if tr.Trade.ID != "" {
		if err := insertTrade(ctx, tx, tr.Trade); err != nil {
			return fmt.Errorf("apply trade record: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE trading_sessions SET current_capital = ?, updated_at = ? WHERE id = ?`,
		tr.Capital, at, tr.SessionID); err != nil {
		return fmt.Errorf("apply capital: %w", err)
	}
	return tx.Commit()
}

func transitionTime(tr Transition) time.Time {
	if !tr.Trade.Time.IsZero() {
		return tr.Trade.Time.UTC()
	}
	return time.Now().UTC()
}

func reverse[T any](s []T) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
