package indicators

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fxpulse/fxpulse/market"
)

func candlesFromCloses(closes []float64) []market.Candle {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]market.Candle, len(closes))
	for i, c := range closes {
		out[i] = market.Candle{
			Instrument: "EUR_USD",
			Timeframe:  market.H4,
			OpenTime:   base.Add(time.Duration(i) * 4 * time.Hour),
			Open:       c,
			High:       c + 0.0005,
			Low:        c - 0.0005,
			Close:      c,
			Complete:   true,
		}
	}
	return out
}

func TestExponentialMA(t *testing.T) {
	candles := candlesFromCloses([]float64{102, 105, 106, 108, 110, 111, 113})

	t.Run("seeds with SMA then applies recurrence", func(t *testing.T) {
		ema := NewEMA(3)
		assert.Equal(t, "EMA(3)", ema.Name())
		assert.Equal(t, 3, ema.Warmup())
		assert.False(t, ema.Ready())
		assert.Equal(t, 0.0, ema.Value())

		ema.Update(candles[0])
		ema.Update(candles[1])
		assert.False(t, ema.Ready())

		ema.Update(candles[2])
		require.True(t, ema.Ready())
		seed := (102.0 + 105.0 + 106.0) / 3.0
		assert.InDelta(t, seed, ema.Value(), 1e-12)

		ema.Update(candles[3])
		// k = 2/(3+1) = 0.5
		assert.InDelta(t, (108.0-seed)*0.5+seed, ema.Value(), 1e-12)
	})

	t.Run("reset clears state", func(t *testing.T) {
		ema := NewEMA(2)
		ema.Update(candles[0])
		ema.Update(candles[1])
		require.True(t, ema.Ready())

		ema.Reset()
		assert.False(t, ema.Ready())
		assert.Equal(t, 0.0, ema.Value())
	})

	t.Run("streaming matches batch on random closes", func(t *testing.T) {
		rng := rand.New(rand.NewSource(42))
		for trial := 0; trial < 50; trial++ {
			n := 30 + rng.Intn(200)
			closes := make([]float64, n)
			px := 1.10
			for i := range closes {
				px += (rng.Float64() - 0.5) * 0.002
				closes[i] = px
			}

			ema := NewEMA(10)
			for _, c := range candlesFromCloses(closes) {
				ema.Update(c)
			}

			batch, err := EMASeries(closes, 10)
			require.NoError(t, err)
			// relative tolerance 1e-12 after warmup
			assert.InEpsilon(t, batch, ema.Value(), 1e-12)
		}
	})
}

func TestATR(t *testing.T) {
	t.Run("wilder smoothing", func(t *testing.T) {
		base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		candles := []market.Candle{
			{OpenTime: base, Open: 100, High: 105, Low: 99, Close: 102, Complete: true},
			{OpenTime: base.Add(4 * time.Hour), Open: 102, High: 107, Low: 101, Close: 105, Complete: true},
			{OpenTime: base.Add(8 * time.Hour), Open: 105, High: 108, Low: 104, Close: 106, Complete: true},
			{OpenTime: base.Add(12 * time.Hour), Open: 106, High: 110, Low: 105, Close: 108, Complete: true},
		}
		for i := range candles {
			candles[i].Instrument = "EUR_USD"
			candles[i].Timeframe = market.H4
		}

		atr := NewATR(2)
		assert.Equal(t, 3, atr.Warmup())

		atr.Update(candles[0])
		assert.False(t, atr.Ready())

		atr.Update(candles[1])
		assert.False(t, atr.Ready())

		// TR1 = max(107-101, |107-102|, |101-102|) = 6
		// TR2 = max(108-104, |108-105|, |104-105|) = 4
		atr.Update(candles[2])
		require.True(t, atr.Ready())
		assert.InDelta(t, 5.0, atr.Value(), 1e-12)

		// TR3 = max(110-105, |110-106|, |105-106|) = 5
		// ATR = (5*1 + 5)/2 = 5
		atr.Update(candles[3])
		assert.InDelta(t, 5.0, atr.Value(), 1e-12)
	})

	t.Run("streaming matches batch", func(t *testing.T) {
		rng := rand.New(rand.NewSource(7))
		closes := make([]float64, 120)
		px := 150.0
		for i := range closes {
			px += (rng.Float64() - 0.5) * 0.4
			closes[i] = px
		}
		candles := candlesFromCloses(closes)

		atr := NewATR(14)
		for _, c := range candles {
			atr.Update(c)
		}

		batch, err := ATRSeries(candles, 14)
		require.NoError(t, err)
		assert.InEpsilon(t, batch, atr.Value(), 1e-12)
	})
}

func TestRSI(t *testing.T) {
	t.Run("bounds and neutral cases", func(t *testing.T) {
		flat := make([]float64, 20)
		for i := range flat {
			flat[i] = 1.1000
		}
		rsi := NewRSI(14)
		for _, c := range candlesFromCloses(flat) {
			rsi.Update(c)
		}
		require.True(t, rsi.Ready())
		assert.Equal(t, 50.0, rsi.Value())

		up := make([]float64, 20)
		for i := range up {
			up[i] = 1.10 + float64(i)*0.001
		}
		rsi.Reset()
		for _, c := range candlesFromCloses(up) {
			rsi.Update(c)
		}
		assert.Equal(t, 100.0, rsi.Value())
	})

	t.Run("streaming matches batch on random closes", func(t *testing.T) {
		rng := rand.New(rand.NewSource(99))
		for trial := 0; trial < 30; trial++ {
			closes := make([]float64, 60+rng.Intn(100))
			px := 1.25
			for i := range closes {
				px += (rng.Float64() - 0.5) * 0.003
				closes[i] = px
			}
			candles := candlesFromCloses(closes)

			rsi := NewRSI(14)
			for _, c := range candles {
				rsi.Update(c)
			}

			batch, err := RSISeries(candles, 14)
			require.NoError(t, err)
			assert.InDelta(t, batch, rsi.Value(), 1e-9)
			assert.True(t, rsi.Value() >= 0 && rsi.Value() <= 100)
		}
	})
}

func TestSimpleMA(t *testing.T) {
	candles := candlesFromCloses([]float64{102, 105, 106, 108, 110})

	ma := NewMA(3)
	assert.Equal(t, "MA(3)", ma.Name())

	for _, c := range candles {
		ma.Update(c)
	}
	require.True(t, ma.Ready())
	assert.InDelta(t, (106.0+108.0+110.0)/3.0, ma.Value(), 1e-12)

	ma.Reset()
	assert.False(t, ma.Ready())
	assert.True(t, math.IsNaN(ma.Value()) == false)
}
