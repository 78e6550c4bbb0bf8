package journal

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/fxpulse/fxpulse/market"
	"github.com/fxpulse/fxpulse/signal"
)

// SQLiteStore implements Store on an embedded sqlite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens (or creates) the journal database at path.
func NewSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open journal db: %w", err)
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply journal schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// RecordCandle appends a candle, deduplicating by (instrument, timeframe,
// open_time).
func (j *SQLiteStore) RecordCandle(c market.Candle) error {
	_, err := j.db.Exec(`
		INSERT OR IGNORE INTO candles
		(instrument, timeframe, open_time, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.Instrument, string(c.Timeframe), c.OpenTime.UTC(),
		c.Open, c.High, c.Low, c.Close, c.Volume,
	)
	return err
}

// RecordSignal appends a signal exactly once; re-inserting the same id is an
// error surfaced to the caller.
func (j *SQLiteStore) RecordSignal(s signal.Signal) error {
	_, err := j.db.Exec(`
		INSERT INTO signals
		(signal_id, instrument, timeframe, direction, emit_time, entry_price,
		 stop_price, take_profit_price, confidence, strategy_tag, state, linked_trade_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.Instrument, string(s.Timeframe), s.Direction.String(),
		s.EmitTime.UTC(), s.EntryPrice, s.StopPrice, s.TakeProfitPrice,
		s.Confidence, s.StrategyTag, string(s.State), s.LinkedTradeID,
	)
	return err
}

func (j *SQLiteStore) UpdateSignalState(signalID string, state signal.State, linkedTradeID string) error {
	res, err := j.db.Exec(`UPDATE signals SET state = ?, linked_trade_id = ? WHERE signal_id = ?`,
		string(state), linkedTradeID, signalID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("update signal state: signal %q not found", signalID)
	}
	return err
}

func (j *SQLiteStore) RecordTrade(t Trade) error {
	_, err := j.db.Exec(`
		INSERT INTO trades
		(trade_id, signal_id, instrument, direction, units, entry_time, entry_price)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.SignalID, t.Instrument, t.Direction.String(),
		t.Units, t.EntryTime.UTC(), t.EntryPrice,
	)
	return err
}

// CloseTradeRecord fills in the exit columns. Closed rows are never touched
// again.
func (j *SQLiteStore) CloseTradeRecord(t Trade) error {
	res, err := j.db.Exec(`
		UPDATE trades
		SET exit_time = ?, exit_price = ?, pnl_pips = ?, fees_pips = ?, cause = ?
		WHERE trade_id = ? AND exit_time IS NULL`,
		t.ExitTime.UTC(), t.ExitPrice, t.PnLPips, t.FeesPips, string(t.Cause), t.ID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("close trade: trade %q not found or already closed", t.ID)
	}
	return err
}

func (j *SQLiteStore) RecordEquity(e EquitySnapshot) error {
	_, err := j.db.Exec(`
		INSERT INTO equity (time, balance, equity, margin_used, drawdown, level)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.Time.UTC(), e.Balance, e.Equity, e.MarginUsed, e.Drawdown, e.Level,
	)
	return err
}

func (j *SQLiteStore) RecordEvent(e Event) error {
	_, err := j.db.Exec(`
		INSERT INTO audit (time, component, event_type, severity, correlation_id, payload)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.Time.UTC(), e.Component, e.Type, string(e.Severity), e.CorrelationID, e.Payload,
	)
	return err
}

func (j *SQLiteStore) Trades(instrument string, from, to time.Time) ([]Trade, error) {
	rows, err := j.db.Query(`
		SELECT trade_id, signal_id, instrument, direction, units, entry_time,
		       entry_price, exit_time, exit_price, pnl_pips, fees_pips, cause
		FROM trades
		WHERE instrument = ? AND entry_time >= ? AND entry_time < ?
		ORDER BY entry_time`,
		instrument, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTrades(rows)
}

func (j *SQLiteStore) OpenTrades() ([]Trade, error) {
	rows, err := j.db.Query(`
		SELECT trade_id, signal_id, instrument, direction, units, entry_time,
		       entry_price, exit_time, exit_price, pnl_pips, fees_pips, cause
		FROM trades WHERE exit_time IS NULL ORDER BY entry_time`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTrades(rows)
}

// SignalByID loads one signal record.
func (j *SQLiteStore) SignalByID(signalID string) (signal.Signal, error) {
	row := j.db.QueryRow(`
		SELECT signal_id, instrument, timeframe, direction, emit_time, entry_price,
		       stop_price, take_profit_price, confidence, strategy_tag, state, linked_trade_id
		FROM signals WHERE signal_id = ?`, signalID)

	var s signal.Signal
	var tf, dir, state string
	var linked sql.NullString
	if err := row.Scan(&s.ID, &s.Instrument, &tf, &dir, &s.EmitTime, &s.EntryPrice,
		&s.StopPrice, &s.TakeProfitPrice, &s.Confidence, &s.StrategyTag, &state, &linked); err != nil {
		return signal.Signal{}, err
	}
	s.Timeframe = market.Timeframe(tf)
	if dir == signal.Short.String() {
		s.Direction = signal.Short
	} else {
		s.Direction = signal.Long
	}
	s.EmitTime = s.EmitTime.UTC()
	s.State = signal.State(state)
	s.LinkedTradeID = linked.String
	return s, nil
}

// SignalIDsByState lists signal ids in any of the given lifecycle states,
// oldest first.
func (j *SQLiteStore) SignalIDsByState(states ...signal.State) ([]string, error) {
	if len(states) == 0 {
		return nil, nil
	}
	args := make([]any, len(states))
	marks := make([]string, len(states))
	for i, st := range states {
		args[i] = string(st)
		marks[i] = "?"
	}
	rows, err := j.db.Query(
		`SELECT signal_id FROM signals WHERE state IN (`+strings.Join(marks, ",")+`) ORDER BY emit_time`,
		args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var sid string
		if err := rows.Scan(&sid); err != nil {
			return nil, err
		}
		out = append(out, sid)
	}
	return out, rows.Err()
}

func scanTrades(rows *sql.Rows) ([]Trade, error) {
	var out []Trade
	for rows.Next() {
		var t Trade
		var dir string
		var exitTime sql.NullTime
		var exitPrice, pnl, fees sql.NullFloat64
		var cause sql.NullString
		if err := rows.Scan(&t.ID, &t.SignalID, &t.Instrument, &dir, &t.Units,
			&t.EntryTime, &t.EntryPrice, &exitTime, &exitPrice, &pnl, &fees, &cause); err != nil {
			return nil, err
		}
		if dir == signal.Short.String() {
			t.Direction = signal.Short
		} else {
			t.Direction = signal.Long
		}
		if exitTime.Valid {
			t.ExitTime = exitTime.Time
			t.ExitPrice = exitPrice.Float64
			t.PnLPips = pnl.Float64
			t.FeesPips = fees.Float64
			t.Cause = Cause(cause.String)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (j *SQLiteStore) Candles(instrument string, tf market.Timeframe, from, to time.Time) ([]market.Candle, error) {
	rows, err := j.db.Query(`
		SELECT instrument, timeframe, open_time, open, high, low, close, volume
		FROM candles
		WHERE instrument = ? AND timeframe = ? AND open_time >= ? AND open_time < ?
		ORDER BY open_time`,
		instrument, string(tf), from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []market.Candle
	for rows.Next() {
		var c market.Candle
		var tfs string
		if err := rows.Scan(&c.Instrument, &tfs, &c.OpenTime, &c.Open, &c.High,
			&c.Low, &c.Close, &c.Volume); err != nil {
			return nil, err
		}
		c.Timeframe = market.Timeframe(tfs)
		c.OpenTime = c.OpenTime.UTC()
		c.Complete = true
		out = append(out, c)
	}
	return out, rows.Err()
}

func (j *SQLiteStore) Close() error {
	return j.db.Close()
}
