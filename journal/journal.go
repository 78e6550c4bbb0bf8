// Package journal is the append-only persistent store and audit log:
// candles, signals, trades, equity snapshots, and audit events.
package journal

import (
	"time"

	"github.com/fxpulse/fxpulse/market"
	"github.com/fxpulse/fxpulse/signal"
)

// Cause records why a trade exited.
type Cause string

const (
	CauseTakeProfit Cause = "TP"
	CauseStopLoss   Cause = "SL"
	CauseManual     Cause = "MANUAL"
	CauseTimeout    Cause = "TIMEOUT"
)

// Trade is one executed round trip. Records are append-only and never
// mutated after close; the link back to the originating signal is by id.
type Trade struct {
	ID         string
	SignalID   string
	Instrument string
	Direction  signal.Direction
	Units      float64
	EntryTime  time.Time
	EntryPrice float64
	ExitTime   time.Time
	ExitPrice  float64
	PnLPips    float64
	FeesPips   float64
	Cause      Cause
}

// Closed reports whether the trade has exited.
func (t Trade) Closed() bool { return !t.ExitTime.IsZero() }

// EquitySnapshot is one mark-to-market observation of the account.
type EquitySnapshot struct {
	Time       time.Time
	Balance    float64
	Equity     float64
	MarginUsed float64
	Drawdown   float64
	Level      string
}

// Severity grades audit events.
type Severity string

const (
	SeverityInfo      Severity = "INFO"
	SeverityWarn      Severity = "WARN"
	SeverityCritical  Severity = "CRITICAL"
	SeverityEmergency Severity = "EMERGENCY"
)

// Event is one structured audit record. CorrelationID carries the signal or
// trade id where applicable; Payload is a JSON document.
type Event struct {
	Time          time.Time
	Component     string
	Type          string
	Severity      Severity
	CorrelationID string
	Payload       string
}

// Store is the append-only persistence contract. Trades and signals get
// exactly-once appends (unique primary key); candles are deduplicated by
// (instrument, timeframe, open_time).
type Store interface {
	RecordCandle(c market.Candle) error
	RecordSignal(s signal.Signal) error
	UpdateSignalState(signalID string, state signal.State, linkedTradeID string) error
	RecordTrade(t Trade) error
	CloseTradeRecord(t Trade) error
	RecordEquity(e EquitySnapshot) error
	RecordEvent(e Event) error

	Trades(instrument string, from, to time.Time) ([]Trade, error)
	OpenTrades() ([]Trade, error)
	SignalByID(signalID string) (signal.Signal, error)
	SignalIDsByState(states ...signal.State) ([]string, error)
	Candles(instrument string, tf market.Timeframe, from, to time.Time) ([]market.Candle, error)
	Close() error
}
