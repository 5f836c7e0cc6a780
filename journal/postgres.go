package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rustyeddy/riskbook/position"
	"github.com/rustyeddy/riskbook/session"
)

type Postgres struct {
	pool *pgxpool.Pool
}

// pgExecer is satisfied by both *pgxpool.Pool and pgx.Tx.
type pgExecer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// NewPostgres connects to dsn and creates the schema if needed.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	if _, err := pool.Exec(ctx, PostgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres schema: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func (p *Postgres) SaveSession(ctx context.Context, cfg session.Config) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO trading_sessions
		(id, user_id, initial_capital, current_capital, active, config_json, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			initial_capital = EXCLUDED.initial_capital,
			current_capital = EXCLUDED.current_capital,
			active = EXCLUDED.active,
			config_json = EXCLUDED.config_json,
			updated_at = EXCLUDED.updated_at`,
		cfg.ID, cfg.UserID, cfg.InitialCapital, cfg.CurrentCapital, cfg.Active,
		string(data), cfg.CreatedAt.UTC(), cfg.UpdatedAt.UTC(),
	)
	return err
}

func (p *Postgres) GetSession(ctx context.Context, id string) (session.Config, error) {
	var (
		data    string
		capital float64
		active  bool
	)
	err := p.pool.QueryRow(ctx, `
		SELECT config_json, current_capital, active
		FROM trading_sessions WHERE id = $1`, id).Scan(&data, &capital, &active)
	if errors.Is(err, pgx.ErrNoRows) {
		return session.Config{}, fmt.Errorf("session %q: %w", id, position.ErrNotFound)
	}
	if err != nil {
		return session.Config{}, err
	}
	return decodeSession(data, capital, active)
}

func (p *Postgres) ListSessions(ctx context.Context) ([]session.Config, error) {
	rows, err := p.pool.Query(ctx, `
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

func (p *Postgres) SavePosition(ctx context.Context, pos position.Position) error {
	return pgUpsertPosition(ctx, p.pool, pos)
}

func (p *Postgres) UpdatePosition(ctx context.Context, pos position.Position) error {
	return pgUpsertPosition(ctx, p.pool, pos)
}

func pgUpsertPosition(ctx context.Context, db pgExecer, pos position.Position) error {
	data, err := json.Marshal(pos)
	if err != nil {
		return err
	}
	_, err = db.Exec(ctx, `
		INSERT INTO positions
		(id, session_id, symbol, side, status, quantity, entry_price, leverage, position_json, opened_at, updated_at)
		VALUES ($1, $2, $3, $4, 'open', $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			quantity = EXCLUDED.quantity,
			entry_price = EXCLUDED.entry_price,
			leverage = EXCLUDED.leverage,
			position_json = EXCLUDED.position_json,
			updated_at = EXCLUDED.updated_at`,
		pos.ID, pos.SessionID, pos.Symbol, string(pos.Side), pos.Quantity, pos.EntryPrice, pos.Leverage,
		string(data), pos.OpenedAt.UTC(), pos.UpdatedAt.UTC(),
	)
	return err
}

func (p *Postgres) GetOpenPositions(ctx context.Context, sessionID string) ([]position.Position, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT position_json FROM positions
		WHERE session_id = $1 AND status = 'open'
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
		var pos position.Position
		if err := json.Unmarshal([]byte(data), &pos); err != nil {
			return nil, fmt.Errorf("decode position: %w", err)
		}
		out = append(out, pos)
	}
	return out, rows.Err()
}

func (p *Postgres) SaveClosedPosition(ctx context.Context, c position.ClosedPosition) error {
	return pgInsertClosed(ctx, p.pool, c)
}

func pgInsertClosed(ctx context.Context, db pgExecer, c position.ClosedPosition) error {
	_, err := db.Exec(ctx, `
		INSERT INTO closed_positions
		(id, position_id, session_id, symbol, side, quantity, entry_price, exit_price,
		 realized_pnl, realized_pnl_pct, opened_at, closed_at, holding_hours, reason, partial, signal_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		c.ID, c.PositionID, c.SessionID, c.Symbol, string(c.Side), c.Quantity, c.EntryPrice, c.ExitPrice,
		c.RealizedPnL, c.RealizedPnLPct, c.OpenedAt.UTC(), c.ClosedAt.UTC(), c.HoldingHours,
		string(c.Reason), c.Partial, c.SignalID,
	)
	return err
}

func (p *Postgres) GetClosedPositions(ctx context.Context, sessionID string) ([]position.ClosedPosition, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, position_id, session_id, symbol, side, quantity, entry_price, exit_price,
		       realized_pnl, realized_pnl_pct, opened_at, closed_at, holding_hours, reason, partial, signal_id
		FROM closed_positions
		WHERE session_id = $1
		ORDER BY closed_at ASC, id ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []position.ClosedPosition
	for rows.Next() {
		var (
			c            position.ClosedPosition
			side, reason string
		)
		if err := rows.Scan(
			&c.ID, &c.PositionID, &c.SessionID, &c.Symbol, &side, &c.Quantity, &c.EntryPrice, &c.ExitPrice,
			&c.RealizedPnL, &c.RealizedPnLPct, &c.OpenedAt, &c.ClosedAt, &c.HoldingHours, &reason,
			&c.Partial, &c.SignalID,
		); err != nil {
			return nil, err
		}
		c.Side = position.Side(side)
		c.Reason = position.ExitReason(reason)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (p *Postgres) SaveSnapshot(ctx context.Context, snap Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO portfolio_snapshots (session_id, time, total_capital, total_pnl, snapshot_json)
		VALUES ($1, $2, $3, $4, $5)`,
		snap.SessionID, snap.Time.UTC(), snap.TotalCapital, snap.TotalPnL, string(data),
	)
	return err
}

func (p *Postgres) GetSnapshots(ctx context.Context, sessionID string, limit int) ([]Snapshot, error) {
	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := p.pool.Query(ctx, `
		SELECT snapshot_json FROM portfolio_snapshots
		WHERE session_id = $1
		ORDER BY time DESC
		LIMIT $2`, sessionID, lim)
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

func (p *Postgres) SaveTradeRecord(ctx context.Context, r TradeRecord) error {
	return pgInsertTrade(ctx, p.pool, r)
}

func pgInsertTrade(ctx context.Context, db pgExecer, r TradeRecord) error {
	_, err := db.Exec(ctx, `
		INSERT INTO trade_records
		(id, session_id, position_id, time, action, symbol, side, quantity, price, leverage, pnl, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		r.ID, r.SessionID, r.PositionID, r.Time.UTC(), string(r.Action), r.Symbol, string(r.Side),
		r.Quantity, r.Price, r.Leverage, r.PnL, r.Reason,
	)
	return err
}

func (p *Postgres) GetTradeRecords(ctx context.Context, sessionID string) ([]TradeRecord, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, session_id, position_id, time, action, symbol, side, quantity, price, leverage, pnl, reason
		FROM trade_records
		WHERE session_id = $1
		ORDER BY time ASC, id ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TradeRecord
	for rows.Next() {
		var (
			r            TradeRecord
			action, side string
		)
		if err := rows.Scan(
			&r.ID, &r.SessionID, &r.PositionID, &r.Time, &action, &r.Symbol, &side,
			&r.Quantity, &r.Price, &r.Leverage, &r.PnL, &r.Reason,
		); err != nil {
			return nil, err
		}
		r.Action = Action(action)
		r.Side = position.Side(side)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Apply writes a ledger transition in one serializable transaction.
func (p *Postgres) Apply(ctx context.Context, tr Transition) error {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	at := transitionTime(tr)
	if tr.Position != nil {
		if err := pgUpsertPosition(ctx, tx, *tr.Position); err != nil {
			return fmt.Errorf("apply position: %w", err)
		}
	}
	if tr.ClosePositionID != "" {
		if _, err := tx.Exec(ctx,
			`UPDATE positions SET status = 'closed', updated_at = $1 WHERE id = $2`,
			at, tr.ClosePositionID); err != nil {
			return fmt.Errorf("apply close: %w", err)
		}
	}
	if tr.Closed != nil {
		if err := pgInsertClosed(ctx, tx, *tr.Closed); err != nil {
			return fmt.Errorf("apply closed position: %w", err)
		}
	}
	if tr.Trade.ID != "" {
		if err := pgInsertTrade(ctx, tx, tr.Trade); err != nil {
			return fmt.Errorf("apply trade record: %w", err)
		}
	}
	if _, err := tx.Exec(ctx,
		`UPDATE trading_sessions SET current_capital = $1, updated_at = $2 WHERE id = $3`,
		tr.Capital, at, tr.SessionID); err != nil {
		return fmt.Errorf("apply capital: %w", err)
	}
	return tx.Commit(ctx)
}
