package backtest

import (
	"math"
	"time"

	"github.com/fxpulse/fxpulse/journal"
)

const hoursPerYear = 24 * 365.25

// Metrics are trade-level aggregate statistics for one simulation pass.
type Metrics struct {
	TradeCount int
	Wins       int
	Losses     int

	WinRate         float64
	ProfitFactor    float64
	TotalPips       float64
	MaxDrawdownPips float64
	Sharpe          float64
	Sortino         float64
	Calmar          float64
}

// ComputeMetrics aggregates closed trades. span is the simulated window
// length, used to annualize the trade-return Sharpe/Sortino/Calmar ratios.
func ComputeMetrics(trades []journal.Trade, span time.Duration) Metrics {
	var m Metrics
	m.TradeCount = len(trades)
	if m.TradeCount == 0 {
		return m
	}

	var grossWin, grossLoss float64
	returns := make([]float64, 0, len(trades))
	equity := 0.0
	peak := 0.0

	for _, t := range trades {
		pips := t.PnLPips
		returns = append(returns, pips)
		m.TotalPips += pips

		if pips > 0 {
			m.Wins++
			grossWin += pips
		} else {
			m.Losses++
			grossLoss += -pips
		}

		equity += pips
		if equity > peak {
			peak = equity
		}
		if dd := peak - equity; dd > m.MaxDrawdownPips {
			m.MaxDrawdownPips = dd
		}
	}

	m.WinRate = float64(m.Wins) / float64(m.TradeCount)
	if grossLoss > 0 {
		m.ProfitFactor = grossWin / grossLoss
	} else if grossWin > 0 {
		m.ProfitFactor = math.Inf(1)
	}

	mean := m.TotalPips / float64(m.TradeCount)
	var variance, downVar float64
	downN := 0
	for _, r := range returns {
		d := r - mean
		variance += d * d
		if r < 0 {
			downVar += r * r
			downN++
		}
	}
	variance /= float64(m.TradeCount)

	tradesPerYear := 0.0
	if span > 0 {
		tradesPerYear = float64(m.TradeCount) * hoursPerYear / span.Hours()
	}
	annual := math.Sqrt(tradesPerYear)

	if sd := math.Sqrt(variance); sd > 0 {
		m.Sharpe = mean / sd * annual
	}
	if downN > 0 {
		if dsd := math.Sqrt(downVar / float64(m.TradeCount)); dsd > 0 {
			m.Sortino = mean / dsd * annual
		}
	} else if mean > 0 {
		m.Sortino = math.Inf(1)
	}

	if m.MaxDrawdownPips > 0 && span > 0 {
		annualPips := m.TotalPips * hoursPerYear / span.Hours()
		m.Calmar = annualPips / m.MaxDrawdownPips
	}

	return m
}

// EquityCurve converts closed trades to a cumulative pip curve, one point
// per trade, starting at zero.
func EquityCurve(trades []journal.Trade) []float64 {
	curve := make([]float64, len(trades)+1)
	for i, t := range trades {
		curve[i+1] = curve[i] + t.PnLPips
	}
	return curve
}

// MaxDrawdownFrac returns the largest peak-to-trough equity fraction for a
// curve of absolute equity values (not pip deltas).
func MaxDrawdownFrac(equity []float64) float64 {
	peak := math.Inf(-1)
	maxDD := 0.0
	for _, e := range equity {
		if e > peak {
			peak = e
		}
		if peak > 0 {
			if dd := (peak - e) / peak; dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}
