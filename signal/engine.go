package signal

import (
	"sync"

	"github.com/fxpulse/fxpulse/market"
	"github.com/fxpulse/fxpulse/pkg/id"
	"github.com/fxpulse/fxpulse/store"
)

// Strategy evaluates one stream after a completed bar and may emit a signal.
// Implementations are pure functions of stored indicator state plus the last
// candles; they never place orders themselves.
type Strategy interface {
	Name() string
	Evaluate(instrument string, tf market.Timeframe) (Signal, bool)
}

// Params configures the EMA crossover strategy and its confirmation filters.
type Params struct {
	EMAFast int     `json:"ema_fast" yaml:"ema_fast"`
	EMASlow int     `json:"ema_slow" yaml:"ema_slow"`
	StopATR float64 `json:"stop_atr" yaml:"stop_atr"` // SL distance = StopATR × ATR
	TPATR   float64 `json:"tp_atr" yaml:"tp_atr"`     // TP distance = TPATR × ATR
	MinRR   float64 `json:"min_rr" yaml:"min_rr"`

	// RSIFilter rejects entries with RSI outside (RSILow, RSIHigh).
	RSIFilter bool    `json:"rsi_filter" yaml:"rsi_filter"`
	RSILow    float64 `json:"rsi_low" yaml:"rsi_low"`
	RSIHigh   float64 `json:"rsi_high" yaml:"rsi_high"`

	// SessionFilter restricts entries to the instrument's preferred session.
	SessionFilter bool `json:"session_filter" yaml:"session_filter"`

	// CooldownBars suppresses re-entry for N bars after an exit.
	CooldownBars int `json:"cooldown_bars" yaml:"cooldown_bars"`
}

// DefaultParams are the H4 EMA 10/20 defaults.
func DefaultParams() Params {
	return Params{
		EMAFast:      10,
		EMASlow:      20,
		StopATR:      1.5,
		TPATR:        3.0,
		MinRR:        1.5,
		RSIFilter:    true,
		RSILow:       30,
		RSIHigh:      70,
		CooldownBars: 1,
	}
}

// Engine is the EMA crossover strategy over a candle store. It owns the
// per-stream position state machines.
type Engine struct {
	params Params
	store  *store.Store

	mu       sync.Mutex
	machines map[string]*machine
}

// NewEngine creates a crossover engine reading from st.
func NewEngine(params Params, st *store.Store) *Engine {
	return &Engine{
		params:   params,
		store:    st,
		machines: make(map[string]*machine),
	}
}

func (e *Engine) Name() string { return "ema-cross" }

// Params returns the engine's configured parameters.
func (e *Engine) Params() Params { return e.params }

func streamID(instrument string, tf market.Timeframe) string {
	return instrument + "/" + string(tf)
}

func (e *Engine) machineFor(instrument string, tf market.Timeframe) *machine {
	key := streamID(instrument, tf)
	m, ok := e.machines[key]
	if !ok {
		m = newMachine(e.params.CooldownBars)
		e.machines[key] = m
	}
	return m
}

// Evaluate is called exactly once per confirmed bar close per stream. It
// returns (signal, true) when a crossover passes all required filters.
// Insufficient warm-up returns (zero, false).
func (e *Engine) Evaluate(instrument string, tf market.Timeframe) (Signal, bool) {
	snap := e.store.Snapshot(instrument, tf)
	if !snap.Ready {
		return Signal{}, false
	}
	prevFast, prevSlow, ok := e.store.PrevEMA(instrument, tf)
	if !ok {
		return Signal{}, false
	}
	last := e.store.Series(instrument, tf, 1)
	if len(last) == 0 {
		return Signal{}, false
	}
	bar := last[len(last)-1]

	e.mu.Lock()
	defer e.mu.Unlock()

	m := e.machineFor(instrument, tf)
	m.onBar()

	var dir Direction
	switch {
	case prevFast <= prevSlow && snap.EMAFast > snap.EMASlow:
		dir = Long
	case prevFast >= prevSlow && snap.EMAFast < snap.EMASlow:
		dir = Short
	default:
		return Signal{}, false
	}

	if !m.canArm() {
		return Signal{}, false
	}

	meta, err := market.Lookup(instrument)
	if err != nil {
		return Signal{}, false
	}

	sig, ok := e.buildSignal(dir, bar, snap, meta)
	if !ok {
		return Signal{}, false
	}

	m.arm()
	return sig, true
}

// buildSignal applies the confirmation filters and prices the SL/TP levels.
// Entry is the evaluated bar's close; live fills replace it with the next
// bar's open at execution time.
func (e *Engine) buildSignal(dir Direction, bar market.Candle, snap store.Snapshot, meta market.InstrumentMeta) (Signal, bool) {
	p := e.params

	if p.RSIFilter && (snap.RSI <= p.RSILow || snap.RSI >= p.RSIHigh) {
		return Signal{}, false
	}
	if p.SessionFilter && !market.InSession(meta.PreferredSession, bar.CloseTime()) {
		return Signal{}, false
	}

	entry := bar.Close
	stopDist := p.StopATR * snap.ATR
	tpDist := p.TPATR * snap.ATR
	if stopDist <= 0 || tpDist <= 0 {
		return Signal{}, false
	}

	var stop, tp float64
	if dir == Long {
		stop = entry - stopDist
		tp = entry + tpDist
	} else {
		stop = entry + stopDist
		tp = entry - tpDist
	}

	sig := Signal{
		ID:              id.New(),
		Instrument:      meta.Name,
		Timeframe:       bar.Timeframe,
		Direction:       dir,
		EmitTime:        bar.CloseTime(),
		EntryPrice:      entry,
		StopPrice:       stop,
		TakeProfitPrice: tp,
		StrategyTag:     e.Name(),
		State:           StatePending,
	}

	if sig.RiskReward() < p.MinRR {
		return Signal{}, false
	}

	sig.Confidence = confidence(snap.RSI)
	return sig, true
}

// confidence is 1 − |RSI−50|/50, clipped to [0,1]. The filters are hard
// gates, so a priced signal has passed every enabled one; RSI distance from
// the midline is the only graded input.
func confidence(rsi float64) float64 {
	c := 1 - abs(rsi-50)/50
	if c < 0 {
		c = 0
	} else if c > 1 {
		c = 1
	}
	return c
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

// StreamStateFor returns the position state for one stream.
func (e *Engine) StreamStateFor(instrument string, tf market.Timeframe) StreamState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.machineFor(instrument, tf).state
}

// OnFill confirms that the armed signal for a stream was filled.
func (e *Engine) OnFill(instrument string, tf market.Timeframe) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.machineFor(instrument, tf).onFill()
}

// OnAbort returns an armed stream to idle after a reject or expiry.
func (e *Engine) OnAbort(instrument string, tf market.Timeframe) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.machineFor(instrument, tf).onAbort()
}

// OnExit records a position exit and starts the cooldown.
func (e *Engine) OnExit(instrument string, tf market.Timeframe) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.machineFor(instrument, tf).onExit()
}
