// Package store keeps append-only candle series and incremental indicator
// state per (instrument, timeframe) stream.
package store

import (
	"fmt"
	"sync"
	"time"

	"github.com/fxpulse/fxpulse/indicators"
	"github.com/fxpulse/fxpulse/market"
)

// IngestStatus is the result of offering one candle to the store.
type IngestStatus int

const (
	// Accepted means the candle extended the stream head.
	Accepted IngestStatus = iota
	// Duplicate means the candle has the same open time as the stored head.
	Duplicate
	// OutOfOrder means the candle's open time is strictly earlier than the head.
	OutOfOrder
	// Gap means the candle would leave missing bars at the head; nothing was
	// stored and the caller must backfill from Expected onward.
	Gap
)

func (s IngestStatus) String() string {
	switch s {
	case Accepted:
		return "ACCEPTED"
	case Duplicate:
		return "DUPLICATE"
	case OutOfOrder:
		return "OUT_OF_ORDER"
	case Gap:
		return "GAP_DETECTED"
	}
	return fmt.Sprintf("IngestStatus(%d)", int(s))
}

// IngestResult carries the status plus gap bounds when Status == Gap.
type IngestResult struct {
	Status   IngestStatus
	Expected time.Time // first missing open time (Gap only)
	Got      time.Time // the offered candle's open time (Gap only)
}

// Snapshot is the O(1) indicator view of one stream.
type Snapshot struct {
	EMAFast      float64
	EMASlow      float64
	ATR          float64
	RSI          float64
	LastOpenTime time.Time
	Ready        bool // all indicators past warm-up
}

// Periods configures the indicator periods applied to every stream.
type Periods struct {
	EMAFast int `yaml:"ema_fast"`
	EMASlow int `yaml:"ema_slow"`
	ATR     int `yaml:"atr"`
	RSI     int `yaml:"rsi"`
}

// DefaultPeriods are the H4 strategy defaults.
func DefaultPeriods() Periods {
	return Periods{EMAFast: 10, EMASlow: 20, ATR: 14, RSI: 14}
}

type streamKey struct {
	instrument string
	timeframe  market.Timeframe
}

// stream holds one (instrument, timeframe) series and its indicator state.
// All mutation happens under the owning Store's lock.
type stream struct {
	candles []market.Candle

	emaFast *indicators.ExponentialMA
	emaSlow *indicators.ExponentialMA
	atr     *indicators.ATR
	rsi     *indicators.RSI

	// prev values let the signal engine see bar t-1 without recomputing
	prevEMAFast float64
	prevEMASlow float64
	prevReady   bool

	lastOpenTime time.Time
}

// Store owns candle series and indicator state for many streams. A single
// Ingest is atomic with respect to readers.
type Store struct {
	mu      sync.RWMutex
	periods Periods
	maxKeep int
	streams map[streamKey]*stream
}

// New creates a Store. maxKeep bounds the per-stream candle history kept in
// memory (0 means keep everything, used by backtests).
func New(periods Periods, maxKeep int) *Store {
	return &Store{
		periods: periods,
		maxKeep: maxKeep,
		streams: make(map[streamKey]*stream),
	}
}

func (s *Store) getOrCreate(key streamKey) *stream {
	st, ok := s.streams[key]
	if !ok {
		st = &stream{
			emaFast: indicators.NewEMA(s.periods.EMAFast),
			emaSlow: indicators.NewEMA(s.periods.EMASlow),
			atr:     indicators.NewATR(s.periods.ATR),
			rsi:     indicators.NewRSI(s.periods.RSI),
		}
		s.streams[key] = st
	}
	return st
}

// Ingest offers one completed candle to the store. Only candles whose open
// time equals the stored head plus one bar duration are accepted; the first
// candle of a stream is always accepted. Incomplete or malformed candles are
// rejected with an error.
func (s *Store) Ingest(c market.Candle) (IngestResult, error) {
	if !c.Complete {
		return IngestResult{}, fmt.Errorf("ingest %s %s: incomplete candle at %s",
			c.Instrument, c.Timeframe, c.OpenTime.Format(time.RFC3339))
	}
	if err := c.Validate(); err != nil {
		return IngestResult{}, fmt.Errorf("ingest %s %s: %w", c.Instrument, c.Timeframe, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := streamKey{c.Instrument, c.Timeframe}
	st := s.getOrCreate(key)

	if !st.lastOpenTime.IsZero() {
		expected := st.lastOpenTime.Add(c.Timeframe.Duration())
		switch {
		case c.OpenTime.Equal(st.lastOpenTime):
			return IngestResult{Status: Duplicate}, nil
		case c.OpenTime.Before(st.lastOpenTime):
			return IngestResult{Status: OutOfOrder}, nil
		case c.OpenTime.After(expected):
			return IngestResult{Status: Gap, Expected: expected, Got: c.OpenTime}, nil
		}
	}

	st.prevReady = st.emaFast.Ready() && st.emaSlow.Ready()
	if st.prevReady {
		st.prevEMAFast = st.emaFast.Value()
		st.prevEMASlow = st.emaSlow.Value()
	}

	st.candles = append(st.candles, c)
	if s.maxKeep > 0 && len(st.candles) > s.maxKeep {
		st.candles = st.candles[len(st.candles)-s.maxKeep:]
	}
	st.emaFast.Update(c)
	st.emaSlow.Update(c)
	st.atr.Update(c)
	st.rsi.Update(c)
	st.lastOpenTime = c.OpenTime

	return IngestResult{Status: Accepted}, nil
}

// Series returns up to lookback candles, most-recent-last. Fewer are returned
// when history is insufficient. The returned slice is a copy.
func (s *Store) Series(instrument string, tf market.Timeframe, lookback int) []market.Candle {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.streams[streamKey{instrument, tf}]
	if !ok || lookback <= 0 {
		return nil
	}
	n := len(st.candles)
	if lookback > n {
		lookback = n
	}
	out := make([]market.Candle, lookback)
	copy(out, st.candles[n-lookback:])
	return out
}

// Snapshot returns the current indicator values for a stream in O(1).
func (s *Store) Snapshot(instrument string, tf market.Timeframe) Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.streams[streamKey{instrument, tf}]
	if !ok {
		return Snapshot{}
	}
	return Snapshot{
		EMAFast:      st.emaFast.Value(),
		EMASlow:      st.emaSlow.Value(),
		ATR:          st.atr.Value(),
		RSI:          st.rsi.Value(),
		LastOpenTime: st.lastOpenTime,
		Ready:        st.emaFast.Ready() && st.emaSlow.Ready() && st.atr.Ready() && st.rsi.Ready(),
	}
}

// PrevEMA returns the fast/slow EMA values as of the bar before the head.
// ok is false until two post-warm-up bars have been ingested.
func (s *Store) PrevEMA(instrument string, tf market.Timeframe) (fast, slow float64, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, found := s.streams[streamKey{instrument, tf}]
	if !found || !st.prevReady {
		return 0, 0, false
	}
	return st.prevEMAFast, st.prevEMASlow, true
}

// LastOpenTime returns the head open time for a stream; zero if empty.
func (s *Store) LastOpenTime(instrument string, tf market.Timeframe) time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.streams[streamKey{instrument, tf}]
	if !ok {
		return time.Time{}
	}
	return st.lastOpenTime
}
