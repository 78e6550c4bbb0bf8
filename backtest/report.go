package backtest

import (
	"fmt"
	"io"
	"time"

	"github.com/fxpulse/fxpulse/journal"
	"github.com/fxpulse/fxpulse/market"
	"github.com/fxpulse/fxpulse/signal"
)

// Verdict is the reality-check outcome of a walk-forward run.
type Verdict string

const (
	VerdictRealistic        Verdict = "REALISTIC"
	VerdictOverOptimized    Verdict = "OVER_OPTIMIZED"
	VerdictInsufficientData Verdict = "INSUFFICIENT_DATA"
)

// WindowResult bundles a window's simulation output and statistics.
type WindowResult struct {
	Window  Window
	Metrics Metrics
	Trades  []journal.Trade
}

// Report is the full walk-forward output.
type Report struct {
	Instrument string
	Timeframe  market.Timeframe
	Params     signal.Params

	Train    WindowResult
	Validate WindowResult
	OOS      WindowResult

	// Degradation is validate win rate minus OOS win rate.
	Degradation float64
	Verdict     Verdict
	Generated   time.Time
}

// Thresholds gate the reality-check verdict.
type Thresholds struct {
	MinTrades      int
	MinWinRate     float64
	MaxWinRate     float64
	MinPF          float64
	MaxDegradation float64
	MinWindowBars  int
}

// DefaultThresholds are the standard gates: a strategy is believable when
// its OOS win rate sits in a plausible band, it stays profitable after
// costs, and it does not collapse relative to validation.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinTrades:      30,
		MinWinRate:     0.40,
		MaxWinRate:     0.65,
		MinPF:          1.1,
		MaxDegradation: 0.15,
		MinWindowBars:  100,
	}
}

// judge applies the verdict rules to a finished report.
func (th Thresholds) judge(r *Report) Verdict {
	oos := r.OOS.Metrics
	if oos.TradeCount < th.MinTrades {
		return VerdictInsufficientData
	}
	if oos.WinRate >= th.MinWinRate && oos.WinRate <= th.MaxWinRate &&
		oos.ProfitFactor > th.MinPF &&
		r.Degradation < th.MaxDegradation {
		return VerdictRealistic
	}
	return VerdictOverOptimized
}

// Print writes a human-readable report summary.
func (r *Report) Print(w io.Writer) {
	fmt.Fprintln(w, "==================================================")
	fmt.Fprintln(w, " Walk-Forward Report")
	fmt.Fprintln(w, "==================================================")
	fmt.Fprintf(w, "Instrument:    %s %s\n", r.Instrument, r.Timeframe)
	fmt.Fprintf(w, "Generated:     %s\n", r.Generated.Format(time.RFC3339))
	fmt.Fprintf(w, "Params:        EMA %d/%d  SL %.1f×ATR  TP %.1f×ATR  RSI filter=%v\n",
		r.Params.EMAFast, r.Params.EMASlow, r.Params.StopATR, r.Params.TPATR, r.Params.RSIFilter)

	for _, wr := range []struct {
		name string
		res  WindowResult
	}{{"Train", r.Train}, {"Validate", r.Validate}, {"Out-of-sample", r.OOS}} {
		m := wr.res.Metrics
		fmt.Fprintln(w)
		fmt.Fprintf(w, "%s  %s → %s\n", wr.name,
			wr.res.Window.Start.Format("2006-01-02"), wr.res.Window.End.Format("2006-01-02"))
		fmt.Fprintln(w, "--------------------------------------------------")
		fmt.Fprintf(w, "Trades:        %d (W %d / L %d)\n", m.TradeCount, m.Wins, m.Losses)
		fmt.Fprintf(w, "Win Rate:      %.2f%%\n", m.WinRate*100)
		fmt.Fprintf(w, "Profit Factor: %.2f\n", m.ProfitFactor)
		fmt.Fprintf(w, "Total Pips:    %.1f\n", m.TotalPips)
		fmt.Fprintf(w, "Max Drawdown:  %.1f pips\n", m.MaxDrawdownPips)
		fmt.Fprintf(w, "Sharpe:        %.2f   Sortino: %.2f   Calmar: %.2f\n",
			m.Sharpe, m.Sortino, m.Calmar)
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Degradation:   %.3f\n", r.Degradation)
	fmt.Fprintf(w, "Verdict:       %s\n", r.Verdict)
	fmt.Fprintln(w)
}
