package replay

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/riskbook/journal"
	"github.com/rustyeddy/riskbook/ledger"
	"github.com/rustyeddy/riskbook/portfolio"
	"github.com/rustyeddy/riskbook/position"
	"github.com/rustyeddy/riskbook/session"
)

var t0 = time.Date(2026, 1, 24, 9, 30, 0, 0, time.UTC)

func newReplayer(t *testing.T, opts Options) (*Replayer, *portfolio.Portfolio, *journal.Memory) {
	t.Helper()

	cfg := session.Config{ID: "replay", InitialCapital: 100000}.WithDefaults(t0)
	store := journal.NewMemory()
	require.NoError(t, store.SaveSession(context.Background(), cfg))

	clock := &Clock{}
	nop := zerolog.Nop()
	p := portfolio.New(&cfg, store,
		portfolio.WithClock(clock.Now),
		portfolio.WithLogger(nop),
		portfolio.WithLedgerOptions(ledger.WithRetry(1, 0)),
	)
	opts.Logger = &nop
	return New(p, clock, opts), p, store
}

// script renders rows as CSV so instruction JSON gets quoted properly.
func script(t *testing.T, rows ...[]string) string {
	t.Helper()
	var sb strings.Builder
	w := csv.NewWriter(&sb)
	require.NoError(t, w.Write([]string{"time", "symbol", "kind", "arg1", "arg2", "arg3"}))
	require.NoError(t, w.WriteAll(rows))
	return sb.String()
}

func at(min int) string { return t0.Add(time.Duration(min) * time.Minute).Format(time.RFC3339) }

const entryBTC = `{"coin":"BTC","signal":"entry","quantity":0.3,"stop_loss":49000,"profit_target":52000,"leverage":10,"confidence":0.8}`

func TestReplayTakeProfit(t *testing.T) {
	t.Parallel()

	r, p, store := newReplayer(t, Options{})
	src := script(t,
		[]string{at(0), "BTCUSDT", "TICK", "50000"},
		[]string{at(0), "BTC", "INSTRUCTION", entryBTC},
		[]string{at(1), "BTCUSDT", "TICK", "51000"},
		[]string{at(2), "BTCUSDT", "tick", "52000"},
		[]string{at(3), "", "SNAPSHOT"},
	)

	stats, err := r.Read(context.Background(), strings.NewReader(src))
	require.NoError(t, err)
	assert.Equal(t, Stats{Rows: 5, Ticks: 3, Instructions: 1, Exits: 1, Snapshots: 1}, stats)
	assert.Equal(t, stats, r.Stats())

	assert.Empty(t, p.Positions())
	closed := p.Ledger().Closed()
	require.Len(t, closed, 1)
	assert.Equal(t, position.ExitTakeProfit, closed[0].Reason)
	assert.InDelta(t, 600, closed[0].RealizedPnL, 1e-9)
	assert.Equal(t, t0.Add(2*time.Minute), closed[0].ClosedAt)
	assert.InDelta(t, 100600, p.Capital(), 1e-9)

	snaps, err := store.GetSnapshots(context.Background(), "replay", 0)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, t0.Add(3*time.Minute), snaps[0].Time)
	assert.InDelta(t, 600, snaps[0].RealizedPnL, 1e-9)
}

func TestReplayRejections(t *testing.T) {
	t.Parallel()

	rows := [][]string{
		{at(0), "BTCUSDT", "TICK", "50000"},
		{at(0), "BTCUSDT", "INSTRUCTION", entryBTC},
		{at(1), "BTCUSDT", "INSTRUCTION", entryBTC},
		{at(2), "ETHUSDT", "TICK", "3000"},
		{at(2), "ETHUSDT", "INSTRUCTION", `{"coin":"ETH","signal":"close"}`},
		{at(3), "BTCUSDT", "INSTRUCTION", `{"coin":"BTC","signal":"hold"}`},
	}

	t.Run("lenient", func(t *testing.T) {
		t.Parallel()
		r, p, _ := newReplayer(t, Options{})
		stats, err := r.Read(context.Background(), strings.NewReader(script(t, rows...)))
		require.NoError(t, err)
		assert.Equal(t, 4, stats.Instructions)
		assert.Equal(t, 2, stats.Rejected)
		assert.Len(t, p.Positions(), 1)
	})

	t.Run("strict", func(t *testing.T) {
		t.Parallel()
		r, _, _ := newReplayer(t, Options{Strict: true})
		stats, err := r.Read(context.Background(), strings.NewReader(script(t, rows...)))
		require.Error(t, err)
		assert.True(t, errors.Is(err, position.ErrNotAllowed))
		assert.Contains(t, err.Error(), "row 4")
		assert.Equal(t, 2, stats.Instructions)
	})
}

func TestReplayCandlesFillATRAndInvalidate(t *testing.T) {
	t.Parallel()

	r, p, _ := newReplayer(t, Options{MaxCandles: 5})

	var rows [][]string
	for i := 0; i < 20; i++ {
		c := 50000 + float64(i%2)*100
		rows = append(rows, []string{at(i), "BTCUSDT", "CANDLE",
			fmt.Sprint(c), fmt.Sprint(c + 150), fmt.Sprint(c - 150), fmt.Sprint(c)})
	}
	entry := `{"coin":"BTC","signal":"entry","side":"long","quantity":0.3,"stop_loss":49000,"leverage":10,"confidence":0.8,` +
		`"invalidation_condition":"If the price closes below 49500 on a 3m candle"}`
	rows = append(rows,
		[]string{at(20), "BTCUSDT", "TICK", "50000"},
		[]string{at(20), "BTCUSDT", "INSTRUCTION", entry},
		[]string{at(23), "BTCUSDT", "CANDLE", "49800", "49850", "49300", "49400", "12"},
	)

	stats, err := r.Read(context.Background(), strings.NewReader(script(t, rows...)))
	require.NoError(t, err)
	assert.Equal(t, 21, stats.Candles)
	assert.Equal(t, 1, stats.Exits)

	tick, err := r.Ticks().Get("BTCUSDT")
	require.NoError(t, err)
	assert.True(t, tick.HasATR())
	assert.Greater(t, tick.EMA20, 0.0)

	cs := r.candles["BTCUSDT"]
	assert.Equal(t, 5, cs.Len())
	assert.Equal(t, time.Minute, cs.Timeframe)
	require.Len(t, cs.Gaps, 1)
	assert.Equal(t, 3, cs.Gaps[0].Missing)
	assert.Empty(t, p.Positions())
	closed := p.Ledger().Closed()
	require.Len(t, closed, 1)
	assert.Equal(t, position.ExitInvalidation, closed[0].Reason)
	assert.Equal(t, 49400.0, closed[0].ExitPrice)
}

func TestReplayCSVRecorder(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	rec, err := journal.NewCSV(filepath.Join(dir, "trades.csv"), filepath.Join(dir, "snapshots.csv"))
	require.NoError(t, err)

	r, _, _ := newReplayer(t, Options{Recorder: rec, SnapshotEvery: 2})
	path := filepath.Join(dir, "script.csv")
	require.NoError(t, os.WriteFile(path, []byte(script(t,
		[]string{at(0), "BTCUSDT", "TICK", "50000"},
		[]string{at(0), "BTCUSDT", "INSTRUCTION", entryBTC},
		[]string{at(1), "BTCUSDT", "TICK", "48900"},
	)), 0o644))

	stats, err := r.CSV(context.Background(), path)
	require.NoError(t, err)
	require.NoError(t, rec.Close())
	assert.Equal(t, 1, stats.Snapshots)
	assert.Equal(t, 1, stats.Exits)

	trades, err := os.ReadFile(filepath.Join(dir, "trades.csv"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(trades)), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[1], "OPEN")
	assert.Contains(t, lines[2], "stop_loss")

	snaps, err := os.ReadFile(filepath.Join(dir, "snapshots.csv"))
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(string(snaps)), "\n"), 2)
}

func TestReplayBadRows(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		row  []string
		want string
	}{
		{"bad time", []string{"yesterday", "BTCUSDT", "TICK", "1"}, "bad time"},
		{"unknown kind", []string{at(0), "BTCUSDT", "ORDER", "1"}, "unknown event"},
		{"tick without price", []string{at(0), "BTCUSDT", "TICK"}, "need price"},
		{"tick bad price", []string{at(0), "BTCUSDT", "TICK", "cheap"}, "bad price"},
		{"tick without symbol", []string{at(0), "", "TICK", "1"}, "symbol is empty"},
		{"inverted candle", []string{at(0), "BTCUSDT", "CANDLE", "10", "9", "11", "10"}, "below low"},
		{"instruction before tick", []string{at(0), "BTCUSDT", "INSTRUCTION", entryBTC}, "no tick"},
		{"malformed instruction", []string{at(0), "BTCUSDT", "INSTRUCTION", `{"coin":"BTC","signal":"moon"}`}, "invalid input"},
		{"symbol mismatch", []string{at(0), "ETHUSDT", "INSTRUCTION", entryBTC}, "instruction is for BTCUSDT"},
		{"too short", []string{at(0), "BTCUSDT"}, "bad row"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r, _, _ := newReplayer(t, Options{})
			err := r.Row(context.Background(), tt.row)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestReplayCancelled(t *testing.T) {
	t.Parallel()

	r, _, _ := newReplayer(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.Read(ctx, strings.NewReader(script(t, []string{at(0), "BTCUSDT", "TICK", "50000"})))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClockOnlyMovesForward(t *testing.T) {
	t.Parallel()

	var c Clock
	assert.WithinDuration(t, time.Now(), c.Now(), time.Minute)
	c.Set(t0)
	c.Set(t0.Add(-time.Hour))
	assert.Equal(t, t0, c.Now())
}
