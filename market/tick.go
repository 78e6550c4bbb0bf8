package market

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Tick is a bid/ask quote for one instrument at a point in time.
type Tick struct {
	Instrument string
	Time       time.Time
	Bid        float64
	Ask        float64
}

func (t Tick) Mid() float64 { return (t.Bid + t.Ask) / 2 }

func (t Tick) Spread() float64 { return t.Ask - t.Bid }

// TickSource provides the latest quote for an instrument.
type TickSource interface {
	GetTick(ctx context.Context, instrument string) (Tick, error)
}

// ErrNoTick is returned when no quote has been seen for an instrument.
var ErrNoTick = errors.New("no tick for instrument")

// TickStore is a concurrency-safe latest-tick cache keyed by instrument.
type TickStore struct {
	mu    sync.RWMutex
	ticks map[string]Tick
}

func NewTickStore() *TickStore {
	return &TickStore{ticks: make(map[string]Tick)}
}

func (ts *TickStore) Set(t Tick) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.ticks[t.Instrument] = t
}

func (ts *TickStore) GetTick(ctx context.Context, instrument string) (Tick, error) {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	t, ok := ts.ticks[instrument]
	if !ok {
		return Tick{}, ErrNoTick
	}
	return t, nil
}
