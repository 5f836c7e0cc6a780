package journal

const Schema = `
CREATE TABLE IF NOT EXISTS trading_sessions (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL DEFAULT '',
	initial_capital REAL NOT NULL,
	current_capital REAL NOT NULL,
	active INTEGER NOT NULL DEFAULT 1,
	config_json TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS positions (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	status TEXT NOT NULL,
	quantity REAL NOT NULL,
	entry_price REAL NOT NULL,
	leverage INTEGER NOT NULL,
	position_json TEXT NOT NULL,
	opened_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS closed_positions (
	id TEXT PRIMARY KEY,
	position_id TEXT NOT NULL,
	session_id TEXT NOT NULL,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	quantity REAL NOT NULL,
	entry_price REAL NOT NULL,
	exit_price REAL NOT NULL,
	realized_pnl REAL NOT NULL,
	realized_pnl_pct REAL NOT NULL,
	opened_at DATETIME NOT NULL,
	closed_at DATETIME NOT NULL,
	holding_hours REAL NOT NULL,
	reason TEXT NOT NULL,
	partial INTEGER NOT NULL DEFAULT 0,
	signal_id TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS portfolio_snapshots (
	session_id TEXT NOT NULL,
	time DATETIME NOT NULL,
	total_capital REAL NOT NULL,
	total_pnl REAL NOT NULL,
	snapshot_json TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS trade_records (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	position_id TEXT NOT NULL,
	time DATETIME NOT NULL,
	action TEXT NOT NULL,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	quantity REAL NOT NULL,
	price REAL NOT NULL,
	leverage INTEGER NOT NULL,
	pnl REAL NOT NULL,
	reason TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_positions_session ON positions(session_id, status);
CREATE INDEX IF NOT EXISTS idx_closed_session_time ON closed_positions(session_id, closed_at);
CREATE INDEX IF NOT EXISTS idx_snapshots_session_time ON portfolio_snapshots(session_id, time);
CREATE INDEX IF NOT EXISTS idx_trades_session_time ON trade_records(session_id, time);
`

// PostgresSchema is Schema with Postgres column types.
const PostgresSchema = `
CREATE TABLE IF NOT EXISTS trading_sessions (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL DEFAULT '',
	initial_capital DOUBLE PRECISION NOT NULL,
	current_capital DOUBLE PRECISION NOT NULL,
	active BOOLEAN NOT NULL DEFAULT TRUE,
	config_json TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS positions (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	status TEXT NOT NULL,
	quantity DOUBLE PRECISION NOT NULL,
	entry_price DOUBLE PRECISION NOT NULL,
	leverage INTEGER NOT NULL,
	position_json TEXT NOT NULL,
	opened_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS closed_positions (
	id TEXT PRIMARY KEY,
	position_id TEXT NOT NULL,
	session_id TEXT NOT NULL,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	quantity DOUBLE PRECISION NOT NULL,
	entry_price DOUBLE PRECISION NOT NULL,
	exit_price DOUBLE PRECISION NOT NULL,
	realized_pnl DOUBLE PRECISION NOT NULL,
	realized_pnl_pct DOUBLE PRECISION NOT NULL,
	opened_at TIMESTAMPTZ NOT NULL,
	closed_at TIMESTAMPTZ NOT NULL,
	holding_hours DOUBLE PRECISION NOT NULL,
	reason TEXT NOT NULL,
	partial BOOLEAN NOT NULL DEFAULT FALSE,
	signal_id TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS portfolio_snapshots (
	session_id TEXT NOT NULL,
	time TIMESTAMPTZ NOT NULL,
	total_capital DOUBLE PRECISION NOT NULL,
	total_pnl DOUBLE PRECISION NOT NULL,
	snapshot_json TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS trade_records (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	position_id TEXT NOT NULL,
	time TIMESTAMPTZ NOT NULL,
	action TEXT NOT NULL,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	quantity DOUBLE PRECISION NOT NULL,
	price DOUBLE PRECISION NOT NULL,
	leverage INTEGER NOT NULL,
	pnl DOUBLE PRECISION NOT NULL,
	reason TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_positions_session ON positions(session_id, status);
CREATE INDEX IF NOT EXISTS idx_closed_session_time ON closed_positions(session_id, closed_at);
CREATE INDEX IF NOT EXISTS idx_snapshots_session_time ON portfolio_snapshots(session_id, time);
CREATE INDEX IF NOT EXISTS idx_trades_session_time ON trade_records(session_id, time);
`
