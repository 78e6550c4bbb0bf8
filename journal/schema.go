package journal

const Schema = `
CREATE TABLE IF NOT EXISTS candles (
	instrument TEXT NOT NULL,
	timeframe TEXT NOT NULL,
	open_time DATETIME NOT NULL,
	open REAL NOT NULL,
	high REAL NOT NULL,
	low REAL NOT NULL,
	close REAL NOT NULL,
	volume REAL NOT NULL,
	PRIMARY KEY (instrument, timeframe, open_time)
);

CREATE TABLE IF NOT EXISTS signals (
	signal_id TEXT PRIMARY KEY,
	instrument TEXT NOT NULL,
	timeframe TEXT NOT NULL,
	direction TEXT NOT NULL,
	emit_time DATETIME NOT NULL,
	entry_price REAL NOT NULL,
	stop_price REAL NOT NULL,
	take_profit_price REAL NOT NULL,
	confidence REAL NOT NULL,
	strategy_tag TEXT NOT NULL,
	state TEXT NOT NULL,
	linked_trade_id TEXT
);

CREATE TABLE IF NOT EXISTS trades (
	trade_id TEXT PRIMARY KEY,
	signal_id TEXT NOT NULL,
	instrument TEXT NOT NULL,
	direction TEXT NOT NULL,
	units REAL NOT NULL,
	entry_time DATETIME NOT NULL,
	entry_price REAL NOT NULL,
	exit_time DATETIME,
	exit_price REAL,
	pnl_pips REAL,
	fees_pips REAL,
	cause TEXT
);

CREATE TABLE IF NOT EXISTS equity (
	time DATETIME NOT NULL,
	balance REAL NOT NULL,
	equity REAL NOT NULL,
	margin_used REAL NOT NULL,
	drawdown REAL NOT NULL,
	level TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS audit (
	time DATETIME NOT NULL,
	component TEXT NOT NULL,
	event_type TEXT NOT NULL,
	severity TEXT NOT NULL,
	correlation_id TEXT,
	payload TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_candles_stream ON candles(instrument, timeframe, open_time);
CREATE INDEX IF NOT EXISTS idx_trades_instrument ON trades(instrument, entry_time);
CREATE INDEX IF NOT EXISTS idx_equity_time ON equity(time);
CREATE INDEX IF NOT EXISTS idx_audit_time ON audit(time);
`
