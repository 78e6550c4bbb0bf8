package backtest

import (
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/fxpulse/fxpulse/logging"
	"github.com/fxpulse/fxpulse/market"
	"github.com/fxpulse/fxpulse/signal"
)

// Axes declares the parameter grid searched over the train window.
type Axes struct {
	EMAFast   []int
	EMASlow   []int
	StopATR   []float64
	TPATR     []float64
	RSIFilter []bool
}

// DefaultAxes is the standard H4 crossover grid.
func DefaultAxes() Axes {
	return Axes{
		EMAFast:   []int{5, 10, 15},
		EMASlow:   []int{20, 30, 50},
		StopATR:   []float64{1.0, 1.5, 2.0},
		TPATR:     []float64{2.0, 3.0},
		RSIFilter: []bool{true, false},
	}
}

// combos expands the grid, skipping degenerate fast ≥ slow pairs. The order
// is deterministic so tie-breaks are reproducible.
func (a Axes) combos(base signal.Params) []signal.Params {
	var out []signal.Params
	for _, fast := range a.EMAFast {
		for _, slow := range a.EMASlow {
			if fast >= slow {
				continue
			}
			for _, stop := range a.StopATR {
				for _, tp := range a.TPATR {
					for _, rsi := range a.RSIFilter {
						p := base
						p.EMAFast = fast
						p.EMASlow = slow
						p.StopATR = stop
						p.TPATR = tp
						p.RSIFilter = rsi
						out = append(out, p)
					}
				}
			}
		}
	}
	return out
}

// Runner executes walk-forward evaluations. The grid search fans out over
// Workers goroutines; each simulation is independent.
type Runner struct {
	Thresholds Thresholds
	Workers    int
	Log        logging.Logger
}

// NewRunner creates a Runner with default thresholds and one worker per CPU.
func NewRunner(log logging.Logger) *Runner {
	return &Runner{
		Thresholds: DefaultThresholds(),
		Workers:    runtime.NumCPU(),
		Log:        log,
	}
}

type gridResult struct {
	idx     int
	params  signal.Params
	metrics Metrics
	err     error
}

// Run performs the walk-forward protocol: grid-search the train window,
// freeze the winner, replay it on validate and OOS, then judge the outcome.
// Parameter selection can only observe train data; the feed guard enforces
// that mechanically.
func (r *Runner) Run(axes Axes, base signal.Params, instrument string, tf market.Timeframe,
	feed *Feed, ws Windows) (*Report, error) {

	if err := ws.Check(); err != nil {
		return nil, fmt.Errorf("walk-forward: %w", err)
	}

	report := &Report{
		Instrument: instrument,
		Timeframe:  tf,
		Generated:  time.Now().UTC(),
	}

	// Bar-count preflight: a too-thin window can never produce a usable
	// verdict, surface that in the report instead of failing.
	feed.ClearGuard()
	for _, w := range []Window{ws.Train, ws.Validate, ws.OOS} {
		bars, err := feed.Range(w)
		if err != nil {
			return nil, err
		}
		if len(bars) < r.Thresholds.MinWindowBars {
			report.Verdict = VerdictInsufficientData
			report.Train.Window = ws.Train
			report.Validate.Window = ws.Validate
			report.OOS.Window = ws.OOS
			return report, nil
		}
	}

	// Phase 1: grid search, guarded at the train boundary.
	feed.SetGuard(ws.Train.End)
	trainBars, err := feed.Range(ws.Train)
	if err != nil {
		return nil, err
	}

	params := axes.combos(base)
	if len(params) == 0 {
		return nil, fmt.Errorf("walk-forward: empty parameter grid")
	}

	results := make([]gridResult, len(params))
	jobs := make(chan int)
	var wg sync.WaitGroup

	workers := r.Workers
	if workers < 1 {
		workers = 1
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				p := params[idx]
				sim, err := Simulate(DefaultSimConfig(p), instrument, trainBars)
				if err != nil {
					results[idx] = gridResult{idx: idx, err: err}
					continue
				}
				results[idx] = gridResult{
					idx:     idx,
					params:  p,
					metrics: ComputeMetrics(sim.Trades, ws.Train.Span()),
				}
			}
		}()
	}
	for idx := range params {
		jobs <- idx
	}
	close(jobs)
	wg.Wait()

	best, err := pickBest(results)
	if err != nil {
		return nil, err
	}
	report.Params = best.params
	report.Train = WindowResult{Window: ws.Train, Metrics: best.metrics}

	if r.Log != nil {
		r.Log.Info("grid search complete", logging.F{
			"instrument": instrument,
			"ema_fast":   best.params.EMAFast,
			"ema_slow":   best.params.EMASlow,
			"train_pf":   best.metrics.ProfitFactor,
		})
	}

	// Phase 2/3: frozen parameters on validate and OOS.
	for _, phase := range []struct {
		w   Window
		dst *WindowResult
	}{{ws.Validate, &report.Validate}, {ws.OOS, &report.OOS}} {
		feed.SetGuard(phase.w.End)
		bars, err := feed.Range(phase.w)
		if err != nil {
			return nil, err
		}
		sim, err := Simulate(DefaultSimConfig(best.params), instrument, bars)
		if err != nil {
			return nil, err
		}
		*phase.dst = WindowResult{
			Window:  phase.w,
			Metrics: ComputeMetrics(sim.Trades, phase.w.Span()),
			Trades:  sim.Trades,
		}
	}
	feed.ClearGuard()

	report.Degradation = report.Validate.Metrics.WinRate - report.OOS.Metrics.WinRate
	report.Verdict = r.Thresholds.judge(report)
	return report, nil
}

// pickBest selects by profit factor, tie-breaking on higher trade count and
// finally on grid order for determinism.
func pickBest(results []gridResult) (gridResult, error) {
	var best gridResult
	found := false
	for _, res := range results {
		if res.err != nil {
			return gridResult{}, res.err
		}
		if !found {
			best = res
			found = true
			continue
		}
		if res.metrics.ProfitFactor > best.metrics.ProfitFactor ||
			(res.metrics.ProfitFactor == best.metrics.ProfitFactor &&
				res.metrics.TradeCount > best.metrics.TradeCount) {
			best = res
		}
	}
	if !found {
		return gridResult{}, fmt.Errorf("walk-forward: no grid results")
	}
	return best, nil
}
