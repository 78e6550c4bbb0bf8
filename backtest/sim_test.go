package backtest

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

func makeCandles(instrument string, start time.Time, closes []float64, rangePips float64) []market.Candle {
	meta := market.Instruments[instrument]
	half := meta.PipsToPrice(rangePips)
	out := make([]market.Candle, len(closes))
	prev := closes[0]
	for i, c := range closes {
		hi, lo := prev, c
		if lo > hi {
			hi, lo = lo, hi
		}
		out[i] = market.Candle{
			Instrument: instrument,
			Timeframe:  market.H4,
			OpenTime:   start.Add(time.Duration(i) * 4 * time.Hour),
			Open:       prev,
			High:       hi + half,
			Low:        lo - half,
			Close:      c,
			Volume:     500,
			Complete:   true,
		}
		prev = c
	}
	return out
}

func randomWalkCloses(rng *rand.Rand, n int, start, step float64) []float64 {
	closes := make([]float64, n)
	px := start
	for i := range closes {
		px += (rng.Float64() - 0.5) * step
		closes[i] = px
	}
	return closes
}

func frictionlessParams() signal.Params {
	p := signal.DefaultParams()
	p.RSIFilter = false
	p.SessionFilter = false
	p.MinRR = 0
	return p
}

func TestSimulateFillsAtNextOpenWithCosts(t *testing.T) {
	start := time.Date(2022, 1, 3, 0, 0, 0, 0, time.UTC)

	// Decline then strong rally: one bull cross after warm-up.
	closes := make([]float64, 60)
	px := 1.2000
	for i := range closes {
		if i < 30 {
			px -= 0.0008
		} else {
			px += 0.0015
		}
		closes[i] = px
	}
	candles := makeCandles("EUR_USD", start, closes, 2)

	cfg := DefaultSimConfig(frictionlessParams())
	cfg.SpreadPips = 2.0
	cfg.SlippageATRFrac = 0

	res, err := Simulate(cfg, "EUR_USD", candles)
	require.NoError(t, err)
	require.NotEmpty(t, res.Signals)
	require.NotEmpty(t, res.Trades)

	tr := res.Trades[0]
	sig := res.Signals[0]
	assert.Equal(t, signal.Long, tr.Direction)
	assert.Equal(t, sig.ID, tr.SignalID)

	// Entry bar is the bar after the signal bar; fill = open + half spread.
	var entryBar market.Candle
	for _, c := range candles {
		if c.OpenTime.Equal(tr.EntryTime) {
			entryBar = c
		}
	}
	require.False(t, entryBar.OpenTime.IsZero())
	meta := market.Instruments["EUR_USD"]
	assert.InDelta(t, entryBar.Open+meta.PipsToPrice(1.0), tr.EntryPrice, 1e-12)
	assert.InDelta(t, 1.0, tr.FeesPips, 1e-9)
	assert.True(t, entryBar.OpenTime.After(sig.EmitTime.Add(-4*time.Hour)))
}

func TestStopCheckedBeforeTakeProfit(t *testing.T) {
	// A single bar whose range spans both the stop and the target must
	// resolve to the stop loss.
	start := time.Date(2022, 1, 3, 0, 0, 0, 0, time.UTC)

	closes := make([]float64, 60)
	px := 1.2000
	for i := range closes {
		if i < 30 {
			px -= 0.0008
		} else {
			px += 0.0015
		}
		closes[i] = px
	}
	candles := makeCandles("EUR_USD", start, closes, 2)

	// The crossover fires on bar 38 and fills at bar 39's open. Widen the
	// first exit-check bar so it covers both levels at once.
	candles[40].High = candles[40].Close + 0.0200
	candles[40].Low = candles[40].Open - 0.0200

	cfg := DefaultSimConfig(frictionlessParams())
	cfg.SpreadPips = 0
	cfg.SlippageATRFrac = 0

	res, err := Simulate(cfg, "EUR_USD", candles)
	require.NoError(t, err)
	require.NotEmpty(t, res.Trades)
	require.NotEmpty(t, res.Signals)

	tr := res.Trades[0]
	sig := res.Signals[0]
	require.True(t, candles[40].Low <= sig.StopPrice, "bar must reach the stop")
	require.True(t, candles[40].High >= sig.TakeProfitPrice, "bar must reach the target")

	assert.Equal(t, journal.CauseStopLoss, tr.Cause)
	assert.Equal(t, sig.StopPrice, tr.ExitPrice)
	assert.Equal(t, candles[40].CloseTime(), tr.ExitTime)
}

func TestSimulationSymmetry(t *testing.T) {
	// Property: mirroring the price series negates every trade's P&L when
	// costs are zero.
	rng := rand.New(rand.NewSource(23))
	start := time.Date(2022, 1, 3, 0, 0, 0, 0, time.UTC)

	for trial := 0; trial < 10; trial++ {
		closes := randomWalkCloses(rng, 300, 1.2000, 0.004)
		candles := makeCandles("EUR_USD", start, closes, 3)
		mirrored := InvertCandles(candles, 1.2000)

		cfg := DefaultSimConfig(frictionlessParams())
		cfg.SpreadPips = 0
		cfg.SlippageATRFrac = 0

		a, err := Simulate(cfg, "EUR_USD", candles)
		require.NoError(t, err)
		b, err := Simulate(cfg, "EUR_USD", mirrored)
		require.NoError(t, err)

		require.Equal(t, len(a.Trades), len(b.Trades), "trial %d", trial)
		for i := range a.Trades {
			assert.Equal(t, a.Trades[i].Direction.Invert(), b.Trades[i].Direction)
			assert.InDelta(t, -a.Trades[i].PnLPips, b.Trades[i].PnLPips, 1e-6,
				"trial %d trade %d", trial, i)
		}
	}
}

func TestOpenPositionClosesAtWindowEnd(t *testing.T) {
	start := time.Date(2022, 1, 3, 0, 0, 0, 0, time.UTC)

	// Decline, short rally, then flat: the cross fires but price never
	// reaches either exit level again.
	var closes []float64
	px := 1.3000
	for i := 0; i < 25; i++ {
		px -= 0.0006
		closes = append(closes, px)
	}
	for i := 0; i < 12; i++ {
		px += 0.0008
		closes = append(closes, px)
	}
	for i := 0; i < 5; i++ {
		closes = append(closes, px)
	}
	candles := makeCandles("EUR_USD", start, closes, 1)

	cfg := DefaultSimConfig(frictionlessParams())
	cfg.SpreadPips = 0
	cfg.SlippageATRFrac = 0

	res, err := Simulate(cfg, "EUR_USD", candles)
	require.NoError(t, err)
	require.NotEmpty(t, res.Trades)

	last := res.Trades[len(res.Trades)-1]
	assert.Equal(t, journal.CauseTimeout, last.Cause)
	assert.Equal(t, candles[len(candles)-1].Close, last.ExitPrice)
}
