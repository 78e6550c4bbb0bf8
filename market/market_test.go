package market

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimeframeAlignAndNextBoundary(t *testing.T) {
	at := time.Date(2026, 1, 5, 10, 37, 12, 0, time.UTC)

	cases := []struct {
		tf       Timeframe
		align    time.Time
		boundary time.Time
	}{
		{M1, time.Date(2026, 1, 5, 10, 37, 0, 0, time.UTC), time.Date(2026, 1, 5, 10, 38, 0, 0, time.UTC)},
		{M15, time.Date(2026, 1, 5, 10, 30, 0, 0, time.UTC), time.Date(2026, 1, 5, 10, 45, 0, 0, time.UTC)},
		{H1, time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC), time.Date(2026, 1, 5, 11, 0, 0, 0, time.UTC)},
		{H4, time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC), time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC)},
		{D1, time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC), time.Date(2026, 1, 6, 0, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		t.Run(string(tc.tf), func(t *testing.T) {
			assert.Equal(t, tc.align, tc.tf.Align(at))
			assert.Equal(t, tc.boundary, tc.tf.NextBoundary(at))
		})
	}

	// A time exactly on the boundary aligns to itself and the next boundary
	// is one full bar later.
	on := time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC)
	assert.Equal(t, on, H4.Align(on))
	assert.Equal(t, on.Add(4*time.Hour), H4.NextBoundary(on))
}

func TestParseTimeframe(t *testing.T) {
	tf, err := ParseTimeframe("H4")
	require.NoError(t, err)
	assert.Equal(t, H4, tf)

	_, err = ParseTimeframe("H7")
	assert.Error(t, err)
}

func TestCandleValidate(t *testing.T) {
	good := Candle{
		Instrument: "EUR_USD", Timeframe: H4,
		OpenTime: time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC),
		Open:     1.10, High: 1.11, Low: 1.09, Close: 1.105, Volume: 10, Complete: true,
	}
	require.NoError(t, good.Validate())

	bad := good
	bad.High, bad.Low = bad.Low, bad.High
	err := bad.Validate()
	require.Error(t, err)
	assert.True(t, IsMalformed(err))

	bad = good
	bad.Close = 1.2
	assert.Error(t, bad.Validate())

	bad = good
	bad.Open = -1
	assert.Error(t, bad.Validate())
}

func TestPipConversions(t *testing.T) {
	eur, err := Lookup("EUR_USD")
	require.NoError(t, err)
	assert.InDelta(t, 0.0001, eur.PipSize(), 1e-12)
	assert.InDelta(t, 25.0, eur.PriceToPips(0.0025), 1e-9)
	assert.InDelta(t, 0.0025, eur.PipsToPrice(25), 1e-12)

	jpy, err := Lookup("USD_JPY")
	require.NoError(t, err)
	assert.InDelta(t, 0.01, jpy.PipSize(), 1e-12)
	assert.InDelta(t, 30.0, jpy.PriceToPips(0.30), 1e-9)
}

func TestCorrelationBuckets(t *testing.T) {
	eur, _ := Lookup("EUR_USD")
	gbp, _ := Lookup("GBP_USD")
	usdjpy, _ := Lookup("USD_JPY")
	eurjpy, _ := Lookup("EUR_JPY")

	assert.Equal(t, eur.CorrelationBucket(), gbp.CorrelationBucket(), "dollar pairs cluster")
	assert.Equal(t, usdjpy.CorrelationBucket(), eurjpy.CorrelationBucket(), "yen crosses cluster")
	assert.NotEqual(t, eur.CorrelationBucket(), usdjpy.CorrelationBucket())
}

func TestInSession(t *testing.T) {
	london := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)
	lateNY := time.Date(2026, 1, 5, 20, 0, 0, 0, time.UTC)
	tokyo := time.Date(2026, 1, 5, 23, 0, 0, 0, time.UTC)
	tokyoMorning := time.Date(2026, 1, 5, 2, 0, 0, 0, time.UTC)

	assert.True(t, InSession(SessionLondon, london))
	assert.False(t, InSession(SessionLondon, lateNY))

	assert.True(t, InSession(SessionNewYork, lateNY))
	assert.False(t, InSession(SessionNewYork, tokyo))

	// The Asian window wraps midnight.
	assert.True(t, InSession(SessionAsian, tokyo))
	assert.True(t, InSession(SessionAsian, tokyoMorning))
	assert.False(t, InSession(SessionAsian, london))

	assert.True(t, InSession(SessionAny, london))
	assert.True(t, InSession("", lateNY))
}

func TestQuoteToAccountRate(t *testing.T) {
	ctx := context.Background()
	ts := NewTickStore()
	ts.Set(Tick{Instrument: "USD_JPY", Time: time.Now(), Bid: 149.99, Ask: 150.01})

	// Quote already in the account currency.
	rate, err := QuoteToAccountRate(ctx, "EUR_USD", "USD", ts)
	require.NoError(t, err)
	assert.Equal(t, 1.0, rate)

	// Account currency on the base leg: invert the pair's own mid.
	rate, err = QuoteToAccountRate(ctx, "USD_JPY", "USD", ts)
	require.NoError(t, err)
	assert.InDelta(t, 1.0/150.0, rate, 1e-9)

	// Cross conversion is unsupported.
	_, err = QuoteToAccountRate(ctx, "EUR_JPY", "USD", ts)
	assert.Error(t, err)

	// No quote seen yet.
	ts2 := NewTickStore()
	_, err = QuoteToAccountRate(ctx, "USD_JPY", "USD", ts2)
	assert.ErrorIs(t, err, ErrNoTick)
}
