// Package brokertest is an in-memory broker for tests: idempotent order
// recording, scripted failures, and scripted candle feeds.
package brokertest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fxpulse/fxpulse/broker"
	"github.com/fxpulse/fxpulse/market"
)

// timeoutErr mimics a transport timeout.
type timeoutErr struct{}

func (timeoutErr) Error() string { return "brokertest: simulated timeout" }
func (timeoutErr) Timeout() bool { return true }

// RecordedOrder is one order the mock accepted, keyed by client order id.
type RecordedOrder struct {
	Req      broker.OrderRequest
	TradeID  string
	Fill     float64
	FillTime time.Time
	Open     bool
}

// Mock implements broker.Broker in memory.
type Mock struct {
	mu sync.Mutex

	Now        time.Time
	Account    broker.AccountSnapshot
	FillPrices map[string]float64 // per instrument; default entry price fallback

	candles map[string][]market.Candle
	ticks   map[string]market.Tick

	orders     map[string]*RecordedOrder // by client order id
	orderSeq   int
	submits    int
	failFirst  int  // submissions to time out (after recording)
	rejectNext bool // reject next submission outright
}

// New returns an empty mock at the given clock.
func New(now time.Time) *Mock {
	return &Mock{
		Now:        now,
		FillPrices: make(map[string]float64),
		candles:    make(map[string][]market.Candle),
		ticks:      make(map[string]market.Tick),
		orders:     make(map[string]*RecordedOrder),
		Account: broker.AccountSnapshot{
			ID: "mock-001", Currency: "USD", Balance: 10000, Equity: 10000, Time: now,
		},
	}
}

func streamKey(instrument string, tf market.Timeframe) string {
	return instrument + "/" + string(tf)
}

// AddCandles appends scripted candles for FetchCandles to serve.
func (m *Mock) AddCandles(cs ...market.Candle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range cs {
		k := streamKey(c.Instrument, c.Timeframe)
		m.candles[k] = append(m.candles[k], c)
	}
}

// SetTick stores the latest quote for an instrument.
func (m *Mock) SetTick(t market.Tick) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ticks[t.Instrument] = t
}

// FailNextSubmits makes the next n PlaceMarketOrder calls time out after
// recording the order broker-side, the worst case for idempotency.
func (m *Mock) FailNextSubmits(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failFirst = n
}

// RejectNext makes the next submission come back REJECTED.
func (m *Mock) RejectNext() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejectNext = true
}

// Orders returns the recorded orders sorted by client order id.
func (m *Mock) Orders() []RecordedOrder {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]RecordedOrder, 0, len(m.orders))
	for _, o := range m.orders {
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Req.ClientOrderID < out[j].Req.ClientOrderID })
	return out
}

// SubmitCount returns how many PlaceMarketOrder calls arrived, including
// ones that timed out.
func (m *Mock) SubmitCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.submits
}

func (m *Mock) FetchCandles(ctx context.Context, instrument string, tf market.Timeframe,
	since time.Time, maxCount int) ([]market.Candle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []market.Candle
	for _, c := range m.candles[streamKey(instrument, tf)] {
		if !since.IsZero() && c.OpenTime.Before(since) {
			continue
		}
		out = append(out, c)
		if maxCount > 0 && len(out) == maxCount {
			break
		}
	}
	return out, nil
}

func (m *Mock) GetTick(ctx context.Context, instrument string) (market.Tick, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.ticks[instrument]
	if !ok {
		return market.Tick{}, market.ErrNoTick
	}
	return t, nil
}

func (m *Mock) PlaceMarketOrder(ctx context.Context, req broker.OrderRequest) (broker.OrderResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.submits++
	if req.ClientOrderID == "" {
		return broker.OrderResult{}, fmt.Errorf("brokertest: missing client order id")
	}

	if m.rejectNext {
		m.rejectNext = false
		return broker.OrderResult{Status: broker.OrderRejected, Reason: "SCRIPTED_REJECT"}, nil
	}

	// Idempotency: a known client order id returns the original fill and
	// records nothing new.
	if existing, ok := m.orders[req.ClientOrderID]; ok {
		return broker.OrderResult{
			Status:    broker.OrderFilled,
			TradeID:   existing.TradeID,
			FillPrice: existing.Fill,
			FillTime:  existing.FillTime,
		}, nil
	}

	m.orderSeq++
	fill := m.FillPrices[req.Instrument]
	if fill == 0 {
		if t, ok := m.ticks[req.Instrument]; ok {
			fill = t.Mid()
		}
	}
	rec := &RecordedOrder{
		Req:      req,
		TradeID:  fmt.Sprintf("mock-t%04d", m.orderSeq),
		Fill:     fill,
		FillTime: m.Now,
		Open:     true,
	}
	m.orders[req.ClientOrderID] = rec

	if m.failFirst > 0 {
		m.failFirst--
		return broker.OrderResult{}, timeoutErr{}
	}

	return broker.OrderResult{
		Status:    broker.OrderFilled,
		TradeID:   rec.TradeID,
		FillPrice: rec.Fill,
		FillTime:  rec.FillTime,
	}, nil
}

func (m *Mock) CancelOrder(ctx context.Context, clientOrderID string) (broker.CancelStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[clientOrderID]; !ok {
		return broker.CancelNotFound, nil
	}
	return broker.CancelDone, nil
}

func (m *Mock) ListOpenOrders(ctx context.Context) ([]broker.Order, error) {
	// The mock fills market orders immediately; nothing stays pending.
	return nil, nil
}

func (m *Mock) ListOpenPositions(ctx context.Context) ([]broker.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []broker.Position
	for _, o := range m.orders {
		if !o.Open {
			continue
		}
		out = append(out, broker.Position{
			Instrument:    o.Req.Instrument,
			Units:         o.Req.Units,
			AvgPrice:      o.Fill,
			TradeID:       o.TradeID,
			ClientOrderID: o.Req.ClientOrderID,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TradeID < out[j].TradeID })
	return out, nil
}

func (m *Mock) ClosePosition(ctx context.Context, tradeID string, units float64) (broker.OrderResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, o := range m.orders {
		if o.TradeID != tradeID || !o.Open {
			continue
		}
		if units <= 0 || units >= abs(o.Req.Units) {
			o.Open = false
		} else if o.Req.Units > 0 {
			o.Req.Units -= units
		} else {
			o.Req.Units += units
		}
		return broker.OrderResult{
			Status:    broker.OrderFilled,
			TradeID:   tradeID,
			FillPrice: o.Fill,
			FillTime:  m.Now,
		}, nil
	}
	return broker.OrderResult{Status: broker.OrderRejected, Reason: "UNKNOWN_TRADE"}, nil
}

// InjectPosition seeds a broker-side position without a submit, for
// reconcile tests.
func (m *Mock) InjectPosition(clientOrderID, instrument string, units, price float64) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.orderSeq++
	rec := &RecordedOrder{
		Req: broker.OrderRequest{
			ClientOrderID: clientOrderID,
			Instrument:    instrument,
			Units:         units,
		},
		TradeID:  fmt.Sprintf("mock-t%04d", m.orderSeq),
		Fill:     price,
		FillTime: m.Now,
		Open:     true,
	}
	m.orders[clientOrderID] = rec
	return rec.TradeID
}

func (m *Mock) GetAccountSnapshot(ctx context.Context) (broker.AccountSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := m.Account
	snap.Time = m.Now
	return snap, nil
}

func (m *Mock) ServerTime(ctx context.Context) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Now, nil
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

var _ broker.Broker = (*Mock)(nil)
