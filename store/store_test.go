package store

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fxpulse/fxpulse/indicators"
	"github.com/fxpulse/fxpulse/market"
)

func h4Candle(openTime time.Time, close float64) market.Candle {
	return market.Candle{
		Instrument: "EUR_USD",
		Timeframe:  market.H4,
		OpenTime:   openTime,
		Open:       close,
		High:       close + 0.0010,
		Low:        close - 0.0010,
		Close:      close,
		Volume:     1000,
		Complete:   true,
	}
}

func TestIngest(t *testing.T) {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	s := New(DefaultPeriods(), 0)

	t.Run("accepts contiguous candles", func(t *testing.T) {
		for i := 0; i < 5; i++ {
			res, err := s.Ingest(h4Candle(base.Add(time.Duration(i)*4*time.Hour), 1.10))
			require.NoError(t, err)
			assert.Equal(t, Accepted, res.Status)
		}
		assert.Equal(t, base.Add(16*time.Hour), s.LastOpenTime("EUR_USD", market.H4))
	})

	t.Run("duplicate head", func(t *testing.T) {
		res, err := s.Ingest(h4Candle(base.Add(16*time.Hour), 1.10))
		require.NoError(t, err)
		assert.Equal(t, Duplicate, res.Status)
	})

	t.Run("out of order", func(t *testing.T) {
		res, err := s.Ingest(h4Candle(base, 1.10))
		require.NoError(t, err)
		assert.Equal(t, OutOfOrder, res.Status)
	})

	t.Run("gap surfaces expected open time", func(t *testing.T) {
		// head is at +16h; next expected +20h; offer +24h
		res, err := s.Ingest(h4Candle(base.Add(24*time.Hour), 1.10))
		require.NoError(t, err)
		assert.Equal(t, Gap, res.Status)
		assert.Equal(t, base.Add(20*time.Hour), res.Expected)
		assert.Equal(t, base.Add(24*time.Hour), res.Got)

		// backfill resolves the gap
		res, err = s.Ingest(h4Candle(base.Add(20*time.Hour), 1.10))
		require.NoError(t, err)
		assert.Equal(t, Accepted, res.Status)
		res, err = s.Ingest(h4Candle(base.Add(24*time.Hour), 1.10))
		require.NoError(t, err)
		assert.Equal(t, Accepted, res.Status)
	})

	t.Run("rejects incomplete candle", func(t *testing.T) {
		c := h4Candle(base.Add(28*time.Hour), 1.10)
		c.Complete = false
		_, err := s.Ingest(c)
		assert.Error(t, err)
	})

	t.Run("rejects malformed candle", func(t *testing.T) {
		c := h4Candle(base.Add(28*time.Hour), 1.10)
		c.High = c.Low - 1
		_, err := s.Ingest(c)
		assert.Error(t, err)
	})
}

func TestIngestMonotonicity(t *testing.T) {
	// Property: last open time is non-decreasing over any ingest sequence,
	// and each gap surfaces exactly once.
	rng := rand.New(rand.NewSource(1))
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for trial := 0; trial < 20; trial++ {
		s := New(DefaultPeriods(), 0)
		last := time.Time{}
		next := base
		gaps := 0

		for i := 0; i < 200; i++ {
			var open time.Time
			switch rng.Intn(10) {
			case 0: // duplicate or out-of-order replay
				open = base.Add(time.Duration(rng.Intn(i+1)) * 4 * time.Hour)
			case 1: // skip a bar
				next = next.Add(4 * time.Hour)
				open = next
			default:
				open = next
			}

			res, err := s.Ingest(h4Candle(open, 1.10+rng.Float64()*0.01))
			require.NoError(t, err)
			if res.Status == Gap {
				gaps++
				// resolve immediately so the gap cannot surface twice
				for bt := res.Expected; !bt.After(res.Got); bt = bt.Add(4 * time.Hour) {
					fill, err := s.Ingest(h4Candle(bt, 1.10))
					require.NoError(t, err)
					require.NotEqual(t, Gap, fill.Status)
				}
			}
			if res.Status == Accepted {
				next = open.Add(4 * time.Hour)
			}

			lot := s.LastOpenTime("EUR_USD", market.H4)
			assert.False(t, lot.Before(last), "last open time regressed")
			last = lot
		}
		_ = gaps
	}
}

func TestSnapshotMatchesBatchIndicators(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	s := New(Periods{EMAFast: 10, EMASlow: 20, ATR: 14, RSI: 14}, 0)
	var candles []market.Candle
	px := 1.2500
	for i := 0; i < 80; i++ {
		px += (rng.Float64() - 0.5) * 0.004
		c := h4Candle(base.Add(time.Duration(i)*4*time.Hour), px)
		candles = append(candles, c)
		res, err := s.Ingest(c)
		require.NoError(t, err)
		require.Equal(t, Accepted, res.Status)
	}

	snap := s.Snapshot("EUR_USD", market.H4)
	require.True(t, snap.Ready)
	assert.Equal(t, candles[len(candles)-1].OpenTime, snap.LastOpenTime)

	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}

	fast, err := indicators.EMASeries(closes, 10)
	require.NoError(t, err)
	slow, err := indicators.EMASeries(closes, 20)
	require.NoError(t, err)
	atr, err := indicators.ATRSeries(candles, 14)
	require.NoError(t, err)
	rsi, err := indicators.RSISeries(candles, 14)
	require.NoError(t, err)

	assert.InEpsilon(t, fast, snap.EMAFast, 1e-12)
	assert.InEpsilon(t, slow, snap.EMASlow, 1e-12)
	assert.InEpsilon(t, atr, snap.ATR, 1e-12)
	assert.InDelta(t, rsi, snap.RSI, 1e-9)
}

func TestSeriesLookback(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := New(DefaultPeriods(), 0)
	for i := 0; i < 10; i++ {
		_, err := s.Ingest(h4Candle(base.Add(time.Duration(i)*4*time.Hour), 1.10))
		require.NoError(t, err)
	}

	got := s.Series("EUR_USD", market.H4, 3)
	require.Len(t, got, 3)
	assert.Equal(t, base.Add(36*time.Hour), got[2].OpenTime) // most-recent-last

	assert.Len(t, s.Series("EUR_USD", market.H4, 100), 10)
	assert.Nil(t, s.Series("GBP_USD", market.H4, 5))
}

func TestMaxKeepBound(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := New(DefaultPeriods(), 50)
	for i := 0; i < 200; i++ {
		_, err := s.Ingest(h4Candle(base.Add(time.Duration(i)*4*time.Hour), 1.10))
		require.NoError(t, err)
	}
	assert.Len(t, s.Series("EUR_USD", market.H4, 1000), 50)
	// head is still the latest candle
	assert.Equal(t, base.Add(199*4*time.Hour), s.LastOpenTime("EUR_USD", market.H4))
}
