// Package quant runs offline risk quantification: Monte Carlo bootstrap of
// realized trade returns and stress-scenario replays. Nothing here sits on
// the live hot path.
package quant

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"

	"github.com/fxpulse/fxpulse/journal"
	"github.com/fxpulse/fxpulse/market"
	"github.com/fxpulse/fxpulse/signal"
)

// ErrInsufficientHistory means too few realized trades to bootstrap from.
var ErrInsufficientHistory = errors.New("quant: insufficient trade history")

// MinSampleTrades is the smallest return sample Assess accepts.
const MinSampleTrades = 30

// Config controls a Monte Carlo assessment.
type Config struct {
	// NSims is the number of simulated equity paths.
	NSims int

	// PathLength is the number of trades per path, typically the expected
	// trades per year for the strategy.
	PathLength int

	// RiskPerTrade is the equity fraction risked on each trade; one unit
	// of return (1R) moves equity by this fraction.
	RiskPerTrade float64

	// DrawdownCap is the portfolio drawdown fraction the sizing rules are
	// meant to protect, e.g. 0.15.
	DrawdownCap float64

	// BreachTolerance is the acceptable probability of exceeding
	// DrawdownCap under simulation.
	BreachTolerance float64

	// Seed makes runs reproducible.
	Seed int64
}

// DefaultConfig mirrors the standard assessment settings.
func DefaultConfig() Config {
	return Config{
		NSims:           10000,
		PathLength:      100,
		RiskPerTrade:    0.005,
		DrawdownCap:     0.15,
		BreachTolerance: 0.05,
		Seed:            1,
	}
}

func (c Config) validate() error {
	if c.NSims < 1 || c.PathLength < 1 {
		return fmt.Errorf("quant: NSims and PathLength must be positive")
	}
	if c.RiskPerTrade <= 0 || c.RiskPerTrade >= 1 {
		return fmt.Errorf("quant: RiskPerTrade %v out of range", c.RiskPerTrade)
	}
	if c.DrawdownCap <= 0 || c.DrawdownCap >= 1 {
		return fmt.Errorf("quant: DrawdownCap %v out of range", c.DrawdownCap)
	}
	return nil
}

// Report is the Monte Carlo output. VaR and CVaR are one-trade loss figures
// in R units (positive numbers mean losses).
type Report struct {
	SampleSize int
	NSims      int
	PathLength int

	VaR95  float64
	VaR99  float64
	CVaR95 float64
	CVaR99 float64

	// MaxDrawdown95 is the 95th percentile of per-path max drawdown
	// fractions.
	MaxDrawdown95 float64

	// BreachProbability is the fraction of paths whose drawdown exceeded
	// the configured cap.
	BreachProbability float64
	WithinTolerance   bool

	// TerminalMedian is the median terminal equity multiple across paths.
	TerminalMedian float64
}

// RMultiples converts closed trades to R units: realized pips divided by
// the originating signal's stop distance. Trades without a matching signal
// are skipped.
func RMultiples(trades []journal.Trade, signals []signal.Signal) []float64 {
	byID := make(map[string]signal.Signal, len(signals))
	for _, s := range signals {
		byID[s.ID] = s
	}
	out := make([]float64, 0, len(trades))
	for _, t := range trades {
		s, ok := byID[t.SignalID]
		if !ok {
			continue
		}
		meta, err := market.Lookup(s.Instrument)
		if err != nil {
			continue
		}
		risk := s.StopDistancePips(meta)
		if risk <= 0 {
			continue
		}
		out = append(out, t.PnLPips/risk)
	}
	return out
}

// Assess bootstrap-resamples the given trade returns (R units) into NSims
// equity paths and reports tail risk. The caller typically obtains returns
// from RMultiples over a backtest window.
func Assess(cfg Config, returns []float64) (*Report, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if len(returns) < MinSampleTrades {
		return nil, fmt.Errorf("%w: have %d trades, need %d",
			ErrInsufficientHistory, len(returns), MinSampleTrades)
	}

	rng := rand.New(rand.NewSource(cfg.Seed))

	rep := &Report{
		SampleSize: len(returns),
		NSims:      cfg.NSims,
		PathLength: cfg.PathLength,
	}

	// Pool of resampled one-trade outcomes for the VaR quantiles, plus
	// per-path drawdown and terminal equity.
	pool := make([]float64, 0, cfg.NSims*cfg.PathLength)
	maxDDs := make([]float64, cfg.NSims)
	terminals := make([]float64, cfg.NSims)

	for i := 0; i < cfg.NSims; i++ {
		equity := 1.0
		peak := 1.0
		worst := 0.0
		for j := 0; j < cfg.PathLength; j++ {
			r := returns[rng.Intn(len(returns))]
			pool = append(pool, r)
			equity *= 1 + cfg.RiskPerTrade*r
			if equity > peak {
				peak = equity
			}
			if dd := (peak - equity) / peak; dd > worst {
				worst = dd
			}
		}
		maxDDs[i] = worst
		terminals[i] = equity
		if worst > cfg.DrawdownCap {
			rep.BreachProbability++
		}
	}
	rep.BreachProbability /= float64(cfg.NSims)
	rep.WithinTolerance = rep.BreachProbability < cfg.BreachTolerance

	sort.Float64s(pool)
	rep.VaR95 = valueAtRisk(pool, 0.95)
	rep.VaR99 = valueAtRisk(pool, 0.99)
	rep.CVaR95 = condVaR(pool, 0.95)
	rep.CVaR99 = condVaR(pool, 0.99)

	sort.Float64s(maxDDs)
	rep.MaxDrawdown95 = quantile(maxDDs, 0.95)

	sort.Float64s(terminals)
	rep.TerminalMedian = quantile(terminals, 0.50)

	return rep, nil
}

// quantile reads the q-quantile from an ascending-sorted slice.
func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(q * float64(len(sorted)))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// valueAtRisk is the loss at the (1-α) left-tail quantile, as a positive
// number, floored at zero.
func valueAtRisk(sorted []float64, alpha float64) float64 {
	v := -quantile(sorted, 1-alpha)
	if v < 0 {
		return 0
	}
	return v
}

// condVaR is the mean loss over outcomes at or beyond the VaR threshold.
func condVaR(sorted []float64, alpha float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	n := int((1 - alpha) * float64(len(sorted)))
	if n < 1 {
		n = 1
	}
	sum := 0.0
	for _, r := range sorted[:n] {
		sum += r
	}
	v := -sum / float64(n)
	if v < 0 {
		return 0
	}
	return v
}
