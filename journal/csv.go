package journal

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rustyeddy/riskbook/position"
)

var (
	tradeHeader    = []string{"id", "session_id", "position_id", "time", "action", "symbol", "side", "quantity", "price", "leverage", "pnl", "reason"}
	snapshotHeader = []string{"time", "session_id", "total_capital", "available_capital", "used_capital", "open_positions", "unrealized_pnl", "realized_pnl", "total_pnl", "portfolio_heat", "exposure_pct"}
	closedHeader   = []string{"id", "position_id", "symbol", "side", "quantity", "entry_price", "exit_price", "realized_pnl", "realized_pnl_pct", "opened_at", "closed_at", "holding_hours", "reason", "partial"}
)

// CSVJournal streams trades and snapshots to two CSV files.
type CSVJournal struct {
	trades    *csv.Writer
	snapshots *csv.Writer
	tf, sf    *os.File
}

func NewCSV(tradesPath, snapshotsPath string) (*CSVJournal, error) {
	tf, err := os.Create(tradesPath)
	if err != nil {
		return nil, err
	}
	sf, err := os.Create(snapshotsPath)
	if err != nil {
		_ = tf.Close()
		return nil, err
	}

	j := &CSVJournal{trades: csv.NewWriter(tf), snapshots: csv.NewWriter(sf), tf: tf, sf: sf}
	if err := j.write(j.trades, tradeHeader); err != nil {
		_ = j.Close()
		return nil, err
	}
	if err := j.write(j.snapshots, snapshotHeader); err != nil {
		_ = j.Close()
		return nil, err
	}
	return j, nil
}

func (j *CSVJournal) write(w *csv.Writer, rec []string) error {
	if err := w.Write(rec); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

func (j *CSVJournal) RecordTrade(r TradeRecord) error {
	return j.write(j.trades, tradeRow(r))
}

func (j *CSVJournal) RecordSnapshot(s Snapshot) error {
	return j.write(j.snapshots, snapshotRow(s))
}

func (j *CSVJournal) Close() error {
	j.trades.Flush()
	j.snapshots.Flush()
	errT := j.tf.Close()
	errS := j.sf.Close()
	if err := j.trades.Error(); err != nil {
		return err
	}
	if err := j.snapshots.Error(); err != nil {
		return err
	}
	if errT != nil {
		return errT
	}
	return errS
}

// WriteTradesCSV writes trade records with a header row.
func WriteTradesCSV(w io.Writer, trades []TradeRecord) error {
	rows := make([][]string, 0, len(trades)+1)
	rows = append(rows, tradeHeader)
	for _, r := range trades {
		rows = append(rows, tradeRow(r))
	}
	return csv.NewWriter(w).WriteAll(rows)
}

// WriteClosedCSV writes closed positions with a header row.
func WriteClosedCSV(w io.Writer, closed []position.ClosedPosition) error {
	rows := make([][]string, 0, len(closed)+1)
	rows = append(rows, closedHeader)
	for _, c := range closed {
		rows = append(rows, []string{
			c.ID,
			c.PositionID,
			c.Symbol,
			string(c.Side),
			num(c.Quantity),
			num(c.EntryPrice),
			num(c.ExitPrice),
			money(c.RealizedPnL),
			money(c.RealizedPnLPct),
			c.OpenedAt.UTC().Format(time.RFC3339),
			c.ClosedAt.UTC().Format(time.RFC3339),
			money(c.HoldingHours),
			string(c.Reason),
			strconv.FormatBool(c.Partial),
		})
	}
	return csv.NewWriter(w).WriteAll(rows)
}

// WriteSnapshotsCSV writes a snapshot series with a header row.
func WriteSnapshotsCSV(w io.Writer, snaps []Snapshot) error {
	rows := make([][]string, 0, len(snaps)+1)
	rows = append(rows, snapshotHeader)
	for _, s := range snaps {
		rows = append(rows, snapshotRow(s))
	}
	return csv.NewWriter(w).WriteAll(rows)
}

func tradeRow(r TradeRecord) []string {
	return []string{
		r.ID,
		r.SessionID,
		r.PositionID,
		r.Time.UTC().Format(time.RFC3339),
		string(r.Action),
		r.Symbol,
		string(r.Side),
		num(r.Quantity),
		num(r.Price),
		strconv.Itoa(r.Leverage),
		money(r.PnL),
		r.Reason,
	}
}

func snapshotRow(s Snapshot) []string {
	return []string{
		s.Time.UTC().Format(time.RFC3339),
		s.SessionID,
		money(s.TotalCapital),
		money(s.AvailableCapital),
		money(s.UsedCapital),
		strconv.Itoa(s.OpenPositions),
		money(s.UnrealizedPnL),
		money(s.RealizedPnL),
		money(s.TotalPnL),
		decimal.NewFromFloat(s.PortfolioHeat).StringFixed(4),
		money(s.ExposurePct),
	}
}

// money rounds half away from zero to cents.
func money(x float64) string {
	return decimal.NewFromFloat(x).StringFixed(2)
}

// num is the shortest exact decimal form of x.
func num(x float64) string {
	return decimal.NewFromFloat(x).String()
}
