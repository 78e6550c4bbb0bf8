package quant

import (
	"fmt"
	"sort"

	"github.com/fxpulse/fxpulse/backtest"
	"github.com/fxpulse/fxpulse/journal"
	"github.com/fxpulse/fxpulse/market"
	"github.com/fxpulse/fxpulse/signal"
)

// Scenario is a named perturbation applied to baseline candle streams
// before replaying them through the trade simulator.
type Scenario struct {
	Name    string
	Perturb func(map[string][]market.Candle) map[string][]market.Candle
}

// StressResult is one scenario's replay outcome.
type StressResult struct {
	Name        string
	Trades      int
	MaxDrawdown float64
	Breached    bool
}

// Scenarios returns the standard stress suite.
func Scenarios() []Scenario {
	return []Scenario{
		{Name: "extreme_volatility", Perturb: perturbEach(scaleVolatility(3.0))},
		{Name: "flash_crash", Perturb: perturbEach(flashCrash(0.05, 5))},
		{Name: "choppy_range", Perturb: perturbEach(detrend)},
		{Name: "high_trend", Perturb: perturbEach(addDrift(0.0004))},
		{Name: "correlation_one", Perturb: correlationOne},
	}
}

// StressSuite replays every scenario through the simulator and scores how
// many keep portfolio drawdown under the configured cap.
func StressSuite(cfg Config, params signal.Params, streams map[string][]market.Candle) ([]StressResult, float64, error) {
	if err := cfg.validate(); err != nil {
		return nil, 0, err
	}
	if len(streams) == 0 {
		return nil, 0, fmt.Errorf("quant: no candle streams")
	}

	scenarios := Scenarios()
	results := make([]StressResult, 0, len(scenarios))
	survived := 0

	for _, sc := range scenarios {
		perturbed := sc.Perturb(streams)

		var trades []journal.Trade
		var signals []signal.Signal
		for instrument, candles := range perturbed {
			sim, err := backtest.Simulate(backtest.DefaultSimConfig(params), instrument, candles)
			if err != nil {
				return nil, 0, fmt.Errorf("stress %s: %w", sc.Name, err)
			}
			trades = append(trades, sim.Trades...)
			signals = append(signals, sim.Signals...)
		}
		sort.Slice(trades, func(i, j int) bool { return trades[i].ExitTime.Before(trades[j].ExitTime) })

		dd := portfolioDrawdown(cfg.RiskPerTrade, RMultiples(trades, signals))
		res := StressResult{
			Name:        sc.Name,
			Trades:      len(trades),
			MaxDrawdown: dd,
			Breached:    dd > cfg.DrawdownCap,
		}
		if !res.Breached {
			survived++
		}
		results = append(results, res)
	}

	resilience := float64(survived) / float64(len(scenarios))
	return results, resilience, nil
}

// portfolioDrawdown compounds R returns at the configured risk fraction and
// returns the worst peak-to-trough equity fraction.
func portfolioDrawdown(riskPerTrade float64, returns []float64) float64 {
	equity := make([]float64, len(returns)+1)
	equity[0] = 1
	for i, r := range returns {
		equity[i+1] = equity[i] * (1 + riskPerTrade*r)
	}
	return backtest.MaxDrawdownFrac(equity)
}

// perturbEach lifts a single-stream transform over all instruments.
func perturbEach(fn func([]market.Candle) []market.Candle) func(map[string][]market.Candle) map[string][]market.Candle {
	return func(streams map[string][]market.Candle) map[string][]market.Candle {
		out := make(map[string][]market.Candle, len(streams))
		for k, v := range streams {
			out[k] = fn(v)
		}
		return out
	}
}

// normalize repairs the OHLC ordering after a transform.
func normalize(c market.Candle) market.Candle {
	hi, lo := c.Open, c.Open
	for _, v := range []float64{c.High, c.Low, c.Close} {
		if v > hi {
			hi = v
		}
		if v < lo {
			lo = v
		}
	}
	c.High, c.Low = hi, lo
	return c
}

// scaleVolatility widens each bar around its close by the given factor,
// leaving the close path untouched.
func scaleVolatility(factor float64) func([]market.Candle) []market.Candle {
	return func(in []market.Candle) []market.Candle {
		out := make([]market.Candle, len(in))
		for i, c := range in {
			m := c
			m.Open = c.Close + factor*(c.Open-c.Close)
			m.High = c.Close + factor*(c.High-c.Close)
			m.Low = c.Close + factor*(c.Low-c.Close)
			out[i] = normalize(m)
		}
		return out
	}
}

// flashCrash applies a sudden drop at mid-stream that recovers linearly
// over the following bars.
func flashCrash(depth float64, recoveryBars int) func([]market.Candle) []market.Candle {
	return func(in []market.Candle) []market.Candle {
		out := make([]market.Candle, len(in))
		crash := len(in) / 2
		for i, c := range in {
			shock := 1.0
			switch {
			case i == crash:
				shock = 1 - depth
			case i > crash && i <= crash+recoveryBars:
				shock = 1 - depth + depth*float64(i-crash)/float64(recoveryBars)
			}
			m := c
			m.Open *= shock
			m.High *= shock
			m.Low *= shock
			m.Close *= shock
			out[i] = normalize(m)
		}
		return out
	}
}

// detrend removes the linear drift between the first and last close,
// leaving a range-bound series with the original bar-level noise.
func detrend(in []market.Candle) []market.Candle {
	if len(in) < 2 || in[0].Close == 0 {
		return in
	}
	total := in[len(in)-1].Close / in[0].Close
	out := make([]market.Candle, len(in))
	for i, c := range in {
		// Divide out the cumulative drift at bar i.
		frac := float64(i) / float64(len(in)-1)
		drift := 1 + frac*(total-1)
		m := c
		m.Open /= drift
		m.High /= drift
		m.Low /= drift
		m.Close /= drift
		out[i] = normalize(m)
	}
	return out
}

// addDrift compounds a per-bar upward drift onto the series.
func addDrift(perBar float64) func([]market.Candle) []market.Candle {
	return func(in []market.Candle) []market.Candle {
		out := make([]market.Candle, len(in))
		drift := 1.0
		for i, c := range in {
			m := c
			m.Open *= drift
			m.High *= drift
			m.Low *= drift
			m.Close *= drift
			drift *= 1 + perBar
			out[i] = normalize(m)
		}
		return out
	}
}

// correlationOne rebuilds every stream from the reference instrument's
// returns so all pairs move in lockstep, the worst case for a portfolio
// that assumes diversification.
func correlationOne(streams map[string][]market.Candle) map[string][]market.Candle {
	names := make([]string, 0, len(streams))
	for k := range streams {
		names = append(names, k)
	}
	sort.Strings(names)
	ref := streams[names[0]]
	if len(ref) == 0 {
		return streams
	}

	out := make(map[string][]market.Candle, len(streams))
	out[names[0]] = ref
	for _, name := range names[1:] {
		own := streams[name]
		n := len(own)
		if n > len(ref) {
			n = len(ref)
		}
		rebuilt := make([]market.Candle, n)
		base := own[0].Close / ref[0].Close
		for i := 0; i < n; i++ {
			r := ref[i]
			m := own[i]
			m.Open = r.Open * base
			m.High = r.High * base
			m.Low = r.Low * base
			m.Close = r.Close * base
			rebuilt[i] = m
		}
		out[name] = rebuilt
	}
	return out
}
