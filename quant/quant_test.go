package quant

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fxpulse/fxpulse/journal"
	"github.com/fxpulse/fxpulse/market"
	"github.com/fxpulse/fxpulse/signal"
)

func normalReturns(seed int64, n int, mean, sd float64) []float64 {
	rng := rand.New(rand.NewSource(seed))
	out := make([]float64, n)
	for i := range out {
		out[i] = mean + sd*rng.NormFloat64()
	}
	return out
}

func TestAssessMatchesAnalyticalTails(t *testing.T) {
	// Returns ~ N(0.3, 1). For a normal distribution the 95% loss
	// quantile is 1.645σ−μ = 1.345 and the expected loss beyond it is
	// σ·φ(1.645)/0.05 − μ ≈ 1.763.
	returns := normalReturns(42, 100000, 0.3, 1.0)

	cfg := DefaultConfig()
	cfg.NSims = 1000
	cfg.PathLength = 100
	cfg.Seed = 7

	rep, err := Assess(cfg, returns)
	require.NoError(t, err)

	assert.InDelta(t, 1.345, rep.VaR95, 0.027)  // 2% of the analytical value
	assert.InDelta(t, 1.763, rep.CVaR95, 0.036)
	assert.Greater(t, rep.VaR99, rep.VaR95)
	assert.Greater(t, rep.CVaR95, rep.VaR95)
	assert.GreaterOrEqual(t, rep.CVaR99, rep.CVaR95)

	// A +0.3R edge at 0.5% risk per trade almost never draws down 15%.
	assert.Less(t, rep.BreachProbability, 0.05)
	assert.True(t, rep.WithinTolerance)
	assert.Greater(t, rep.TerminalMedian, 1.0)
}

func TestAssessReportsBreachProbability(t *testing.T) {
	returns := normalReturns(9, 5000, -0.3, 1.0)

	cfg := DefaultConfig()
	cfg.NSims = 500
	cfg.PathLength = 200
	cfg.Seed = 3

	rep, err := Assess(cfg, returns)
	require.NoError(t, err)
	assert.Greater(t, rep.BreachProbability, 0.5)
	assert.False(t, rep.WithinTolerance)
	assert.Less(t, rep.TerminalMedian, 1.0)
	assert.Greater(t, rep.MaxDrawdown95, cfg.DrawdownCap)
}

func TestAssessDeterministicBySeed(t *testing.T) {
	returns := normalReturns(1, 2000, 0.1, 1.0)
	cfg := DefaultConfig()
	cfg.NSims = 200
	cfg.PathLength = 50

	a, err := Assess(cfg, returns)
	require.NoError(t, err)
	b, err := Assess(cfg, returns)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestAssessInsufficientHistory(t *testing.T) {
	_, err := Assess(DefaultConfig(), normalReturns(1, MinSampleTrades-1, 0, 1))
	require.ErrorIs(t, err, ErrInsufficientHistory)
}

func TestRMultiples(t *testing.T) {
	sig := signal.Signal{
		ID:         "s1",
		Instrument: "EUR_USD",
		Direction:  signal.Long,
		EntryPrice: 1.1000,
		StopPrice:  1.0950, // 50 pips of risk
	}
	trades := []journal.Trade{
		{SignalID: "s1", PnLPips: 100},
		{SignalID: "s1", PnLPips: -50},
		{SignalID: "unknown", PnLPips: 10},
	}

	rs := RMultiples(trades, []signal.Signal{sig})
	require.Len(t, rs, 2)
	assert.InDelta(t, 2.0, rs[0], 1e-9)
	assert.InDelta(t, -1.0, rs[1], 1e-9)
}

func trendStream(instrument string, n int, start float64, step float64) []market.Candle {
	base := time.Date(2022, 1, 3, 0, 0, 0, 0, time.UTC)
	out := make([]market.Candle, n)
	px := start
	for i := range out {
		next := px + step
		hi, lo := px, next
		if lo > hi {
			hi, lo = lo, hi
		}
		out[i] = market.Candle{
			Instrument: instrument,
			Timeframe:  market.H4,
			OpenTime:   base.Add(time.Duration(i) * 4 * time.Hour),
			Open:       px,
			High:       hi + 0.0003,
			Low:        lo - 0.0003,
			Close:      next,
			Volume:     100,
			Complete:   true,
		}
		px = next
	}
	return out
}

func TestStressSuite(t *testing.T) {
	params := signal.DefaultParams()
	params.RSIFilter = false
	params.SessionFilter = false
	params.MinRR = 0

	streams := map[string][]market.Candle{
		"EUR_USD": trendStream("EUR_USD", 200, 1.1000, 0.0004),
		"GBP_USD": trendStream("GBP_USD", 200, 1.2500, -0.0003),
	}

	cfg := DefaultConfig()
	results, resilience, err := StressSuite(cfg, params, streams)
	require.NoError(t, err)

	require.Len(t, results, len(Scenarios()))
	names := map[string]bool{}
	for _, r := range results {
		names[r.Name] = true
		assert.GreaterOrEqual(t, r.MaxDrawdown, 0.0)
	}
	assert.True(t, names["flash_crash"])
	assert.True(t, names["correlation_one"])
	assert.GreaterOrEqual(t, resilience, 0.0)
	assert.LessOrEqual(t, resilience, 1.0)
}

func TestScenarioTransforms(t *testing.T) {
	stream := trendStream("EUR_USD", 100, 1.1000, 0.0005)

	t.Run("volatility keeps closes", func(t *testing.T) {
		out := scaleVolatility(3.0)(stream)
		for i := range out {
			assert.Equal(t, stream[i].Close, out[i].Close)
			assert.GreaterOrEqual(t, out[i].High-out[i].Low, stream[i].High-stream[i].Low)
			assert.NoError(t, out[i].Validate())
		}
	})

	t.Run("detrend flattens", func(t *testing.T) {
		out := detrend(stream)
		first, last := out[0].Close, out[len(out)-1].Close
		assert.InDelta(t, first, last, 1e-9)
		for _, c := range out {
			assert.NoError(t, c.Validate())
		}
	})

	t.Run("flash crash dips", func(t *testing.T) {
		out := flashCrash(0.05, 5)(stream)
		mid := len(stream) / 2
		assert.InDelta(t, stream[mid].Close*0.95, out[mid].Close, 1e-9)
		assert.Equal(t, stream[0], out[0])
	})

	t.Run("correlation rebuilds from reference", func(t *testing.T) {
		streams := map[string][]market.Candle{
			"EUR_USD": trendStream("EUR_USD", 50, 1.1000, 0.0004),
			"GBP_USD": trendStream("GBP_USD", 50, 1.2500, -0.0004),
		}
		out := correlationOne(streams)
		eur, gbp := out["EUR_USD"], out["GBP_USD"]
		for i := 1; i < len(gbp); i++ {
			refRet := eur[i].Close / eur[i-1].Close
			gotRet := gbp[i].Close / gbp[i-1].Close
			assert.InDelta(t, refRet, gotRet, 1e-9)
		}
	})
}
