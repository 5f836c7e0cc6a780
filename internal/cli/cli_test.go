package cli

import (
	"bytes"
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/riskbook/position"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

// workspace writes a one-session config and a replay script that opens a
// BTC long and takes profit.
func workspace(t *testing.T) (cfgPath, dbPath, scriptPath string) {
	t.Helper()
	dir := t.TempDir()

	cfgPath = filepath.Join(dir, "riskbook.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
sessions:
  - id: cli
    initial_capital: 100000
journal:
  type: memory
log:
  level: error
`), 0o644))

	var sb strings.Builder
	w := csv.NewWriter(&sb)
	require.NoError(t, w.WriteAll([][]string{
		{"time", "symbol", "kind", "arg1"},
		{"2026-01-24T09:30:00Z", "BTCUSDT", "TICK", "50000"},
		{"2026-01-24T09:30:00Z", "BTCUSDT", "INSTRUCTION",
			`{"coin":"BTC","signal":"entry","quantity":0.3,"stop_loss":49000,"profit_target":52000,"leverage":10,"confidence":0.8}`},
		{"2026-01-24T10:30:00Z", "BTCUSDT", "TICK", "52000"},
	}))
	scriptPath = filepath.Join(dir, "script.csv")
	require.NoError(t, os.WriteFile(scriptPath, []byte(sb.String()), 0o644))

	return cfgPath, filepath.Join(dir, "riskbook.db"), scriptPath
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "riskbook dev\n", out)
}

func TestConfigInitAndValidate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "riskbook.yaml")

	out, err := run(t, "--log-level", "error", "config", "init", "-o", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Created default configuration")

	out, err = run(t, "--log-level", "error", "config", "validate", "-f", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Session: paper-1")
	assert.Contains(t, out, "Journal: sqlite")

	_, err = run(t, "--log-level", "error", "config", "validate", "-f", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "validation failed")
}

func TestReplayReportJournal(t *testing.T) {
	cfgPath, dbPath, script := workspace(t)
	base := []string{"--config", cfgPath, "--db", dbPath}

	out, err := run(t, append(base, "replay", script)...)
	require.NoError(t, err)
	assert.Contains(t, out, "Trades:        1")
	assert.Contains(t, out, "Net P/L:       600.00")

	out, err = run(t, append(base, "report", "--session", "cli")...)
	require.NoError(t, err)
	assert.Contains(t, out, "Session:       cli")
	assert.Contains(t, out, "Wins:          1")

	out, err = run(t, append(base, "report", "--org", "--from", "2026-01-24", "--to", "2026-01-24")...)
	require.NoError(t, err)
	assert.Contains(t, out, "* SESSION: cli")
	assert.Contains(t, out, "** Closed Positions")

	out, err = run(t, append(base, "report", "--from", "2026-02-01")...)
	require.NoError(t, err)
	assert.Contains(t, out, "Trades:        0")

	out, err = run(t, append(base, "journal", "sessions")...)
	require.NoError(t, err)
	assert.Contains(t, out, "cli\tpaper\tactive")

	out, err = run(t, append(base, "journal", "show", "--session", "cli")...)
	require.NoError(t, err)
	assert.Contains(t, out, "OPEN BTCUSDT long")
	assert.Contains(t, out, ":REASON: take_profit")

	out, err = run(t, append(base, "journal", "show", "--closed", "--day", "2026-01-25")...)
	require.NoError(t, err)
	assert.NotContains(t, out, "Closed:")

	exported := filepath.Join(t.TempDir(), "closed.csv")
	_, err = run(t, append(base, "journal", "export", "--kind", "closed", "-o", exported)...)
	require.NoError(t, err)
	data, err := os.ReadFile(exported)
	require.NoError(t, err)
	rows, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "take_profit", rows[1][12])

	out, err = run(t, append(base, "journal", "export", "--kind", "snapshots")...)
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(out), "\n"), 2)

	_, err = run(t, append(base, "journal", "export", "--kind", "orders")...)
	assert.ErrorIs(t, err, position.ErrInvalidInput)
}

func TestReplayUnknownSession(t *testing.T) {
	cfgPath, dbPath, script := workspace(t)
	_, err := run(t, "--config", cfgPath, "--db", dbPath, "replay", script, "--session", "ghost")
	assert.ErrorIs(t, err, position.ErrNotFound)
}

func TestParsePeriod(t *testing.T) {
	start, end, err := parsePeriod("2026-01-01", "2026-01-31")
	require.NoError(t, err)
	assert.Equal(t, "2026-01-01T00:00:00Z", start.Format("2006-01-02T15:04:05Z07:00"))
	assert.Equal(t, "2026-01-31T23:59:59Z", end.Format("2006-01-02T15:04:05Z07:00"))

	_, end, err = parsePeriod("", "2026-01-31T12:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, 12, end.Hour())

	_, _, err = parsePeriod("2026-02-01", "2026-01-01")
	assert.ErrorContains(t, err, "before")

	_, _, err = parsePeriod("soon", "")
	assert.ErrorContains(t, err, "--from")
}
