package data

import (
	"bytes"
	"context"
	"encoding/binary"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz/lzma"

	"github.com/fxpulse/fxpulse/logging"
	"github.com/fxpulse/fxpulse/market"
)

func encodeTick(buf *bytes.Buffer, ms uint32, ask, bid uint32, vol float32) {
	var rec [tickRecordSize]byte
	binary.BigEndian.PutUint32(rec[0:4], ms)
	binary.BigEndian.PutUint32(rec[4:8], ask)
	binary.BigEndian.PutUint32(rec[8:12], bid)
	binary.BigEndian.PutUint32(rec[12:16], math.Float32bits(vol))
	binary.BigEndian.PutUint32(rec[16:20], math.Float32bits(vol))
	buf.Write(rec[:])
}

func compressLZMA(t *testing.T, flat []byte) []byte {
	t.Helper()
	var out bytes.Buffer
	w, err := lzma.NewWriter(&out)
	require.NoError(t, err)
	_, err = w.Write(flat)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return out.Bytes()
}

type collectSink struct {
	candles []market.Candle
}

func (s *collectSink) RecordCandle(c market.Candle) error {
	s.candles = append(s.candles, c)
	return nil
}

func TestDecodeTicks(t *testing.T) {
	hour := time.Date(2026, 2, 2, 13, 0, 0, 0, time.UTC)
	var buf bytes.Buffer
	encodeTick(&buf, 0, 110005, 110003, 1.5)
	encodeTick(&buf, 90_000, 110015, 110011, 2.0)

	ticks, err := DecodeTicks(buf.Bytes(), hour, 1e5)
	require.NoError(t, err)
	require.Len(t, ticks, 2)

	assert.Equal(t, hour, ticks[0].Time)
	assert.InDelta(t, 1.10003, ticks[0].Bid, 1e-9)
	assert.InDelta(t, 1.10005, ticks[0].Ask, 1e-9)
	assert.InDelta(t, 3.0, ticks[0].Vol, 1e-6)
	assert.Equal(t, hour.Add(90*time.Second), ticks[1].Time)

	_, err = DecodeTicks(buf.Bytes()[:tickRecordSize+3], hour, 1e5)
	assert.Error(t, err, "truncated record must be rejected")
}

func TestAggregateBucketsByTimeframe(t *testing.T) {
	hour := time.Date(2026, 2, 2, 13, 0, 0, 0, time.UTC)
	ticks := []Tick{
		{Time: hour.Add(1 * time.Minute), Bid: 1.1000, Ask: 1.1002, Vol: 1},
		{Time: hour.Add(40 * time.Minute), Bid: 1.1010, Ask: 1.1012, Vol: 1},
		{Time: hour.Add(50 * time.Minute), Bid: 1.0990, Ask: 1.0992, Vol: 1},
		{Time: hour.Add(70 * time.Minute), Bid: 1.1020, Ask: 1.1022, Vol: 2},
	}

	candles := Aggregate("EUR_USD", market.H1, ticks)
	require.Len(t, candles, 2)

	first := candles[0]
	assert.Equal(t, hour, first.OpenTime)
	assert.InDelta(t, 1.1001, first.Open, 1e-9)
	assert.InDelta(t, 1.1011, first.High, 1e-9)
	assert.InDelta(t, 1.0991, first.Low, 1e-9)
	assert.InDelta(t, 1.0991, first.Close, 1e-9)
	assert.InDelta(t, 3.0, first.Volume, 1e-9)
	assert.True(t, first.Complete)

	second := candles[1]
	assert.Equal(t, hour.Add(time.Hour), second.OpenTime)
	assert.InDelta(t, 1.1021, second.Open, 1e-9)
}

func TestImportFetchesAndRecords(t *testing.T) {
	hour := time.Date(2026, 2, 2, 13, 0, 0, 0, time.UTC)

	var buf bytes.Buffer
	encodeTick(&buf, 10_000, 110010, 110006, 1)
	encodeTick(&buf, 2_400_000, 110030, 110026, 1)
	archive := compressLZMA(t, buf.Bytes())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Month is zero-based in the path: February appears as 01.
		if r.URL.Path == "/EURUSD/2026/01/02/13h_ticks.bi5" {
			w.Write(archive)
			return
		}
		http.NotFound(w, r)
	}))
	t.Cleanup(srv.Close)

	im := NewImporter(logging.Nop{})
	im.BaseURL = srv.URL
	im.Sleep = 0
	im.Workers = 2

	sink := &collectSink{}
	stats, err := im.Import(context.Background(), "EUR_USD", market.H1,
		hour, hour.Add(3*time.Hour), sink)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.HoursFetched)
	assert.Equal(t, 2, stats.HoursMissing)
	assert.Equal(t, 2, stats.Ticks)
	require.Equal(t, 1, stats.Candles)
	require.Len(t, sink.candles, 1)

	c := sink.candles[0]
	assert.Equal(t, "EUR_USD", c.Instrument)
	assert.Equal(t, hour, c.OpenTime)
	assert.InDelta(t, 1.10008, c.Open, 1e-9)
	assert.InDelta(t, 1.10028, c.Close, 1e-9)
}

func TestHourURLZeroBasedMonth(t *testing.T) {
	im := NewImporter(logging.Nop{})
	im.BaseURL = "https://example.com/feed"
	u := im.hourURL("USDJPY", time.Date(2026, 12, 31, 22, 0, 0, 0, time.UTC))
	assert.Equal(t, "https://example.com/feed/USDJPY/2026/11/31/22h_ticks.bi5", u)
}

func TestPriceScale(t *testing.T) {
	eur, err := market.Lookup("EUR_USD")
	require.NoError(t, err)
	assert.InDelta(t, 1e5, priceScale(eur), 1e-9)

	jpy, err := market.Lookup("USD_JPY")
	require.NoError(t, err)
	assert.InDelta(t, 1e3, priceScale(jpy), 1e-9)
}
