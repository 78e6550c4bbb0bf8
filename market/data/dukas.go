// Package data imports historical candles from the Dukascopy public data
// feed. Hourly .bi5 tick archives are downloaded, lzma-decoded, and
// aggregated into candles for the journal store.
package data

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ulikunitz/xz/lzma"

	"github.com/fxpulse/fxpulse/logging"
	"github.com/fxpulse/fxpulse/market"
)

const DefaultBaseURL = "https://datafeed.dukascopy.com/datafeed"

// tickRecord is one 20-byte big-endian .bi5 entry: millisecond offset into
// the hour, ask and bid in points, then lot volumes.
const tickRecordSize = 20

// Tick is one decoded Dukascopy tick.
type Tick struct {
	Time time.Time
	Bid  float64
	Ask  float64
	Vol  float64
}

// CandleSink receives imported candles; *journal.SQLiteStore satisfies it.
type CandleSink interface {
	RecordCandle(c market.Candle) error
}

// Stats summarizes one import run.
type Stats struct {
	HoursFetched int
	HoursMissing int
	Ticks        int
	Candles      int
}

// Importer downloads and decodes Dukascopy hour files.
type Importer struct {
	BaseURL string
	Client  *http.Client
	Workers int
	// Sleep is the polite delay before each request.
	Sleep time.Duration

	Log logging.Logger
}

// NewImporter returns an importer with conservative defaults.
func NewImporter(log logging.Logger) *Importer {
	if log == nil {
		log = logging.Nop{}
	}
	return &Importer{
		BaseURL: DefaultBaseURL,
		Client:  &http.Client{Timeout: 45 * time.Second},
		Workers: 4,
		Sleep:   50 * time.Millisecond,
		Log:     log,
	}
}

// hourURL builds the archive URL. Dukascopy uses a zero-based month in the
// path, Jan=00.
func (im *Importer) hourURL(symbol string, t time.Time) string {
	return fmt.Sprintf("%s/%s/%04d/%02d/%02d/%02dh_ticks.bi5",
		strings.TrimRight(im.BaseURL, "/"),
		symbol,
		t.Year(), int(t.Month())-1, t.Day(), t.Hour())
}

// dukasSymbol maps an instrument name to Dukascopy's notation.
func dukasSymbol(instrument string) string {
	return strings.ReplaceAll(instrument, "_", "")
}

// priceScale is the divisor turning stored points into a price. Dukascopy
// stores one decimal past the pip.
func priceScale(meta market.InstrumentMeta) float64 {
	return math.Pow(10, float64(-meta.PipLocation)+1)
}

// Import fetches [from, to) and feeds aggregated candles to sink in time
// order. Hours missing upstream (weekends, holidays) are skipped.
func (im *Importer) Import(ctx context.Context, instrument string, tf market.Timeframe,
	from, to time.Time, sink CandleSink) (Stats, error) {

	meta, err := market.Lookup(instrument)
	if err != nil {
		return Stats{}, err
	}
	from = from.UTC().Truncate(time.Hour)
	to = to.UTC().Truncate(time.Hour)
	if !to.After(from) {
		return Stats{}, fmt.Errorf("dukas import: empty range %s to %s", from, to)
	}

	var hours []time.Time
	for t := from; t.Before(to); t = t.Add(time.Hour) {
		hours = append(hours, t)
	}
	symbol := dukasSymbol(instrument)
	scale := priceScale(meta)

	// Downloads fan out; decode results land in hour order.
	type hourResult struct {
		ticks   []Tick
		missing bool
		err     error
	}
	results := make([]hourResult, len(hours))
	jobs := make(chan int)
	var wg sync.WaitGroup

	workers := im.Workers
	if workers < 1 {
		workers = 1
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				if im.Sleep > 0 {
					time.Sleep(im.Sleep)
				}
				ticks, missing, err := im.fetchHour(ctx, symbol, hours[idx], scale)
				results[idx] = hourResult{ticks: ticks, missing: missing, err: err}
			}
		}()
	}
	for idx := range hours {
		select {
		case jobs <- idx:
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return Stats{}, ctx.Err()
		}
	}
	close(jobs)
	wg.Wait()

	var stats Stats
	var all []Tick
	for i, r := range results {
		if r.err != nil {
			return stats, fmt.Errorf("dukas import %s %s: %w",
				instrument, hours[i].Format("2006-01-02T15"), r.err)
		}
		if r.missing {
			stats.HoursMissing++
			continue
		}
		stats.HoursFetched++
		stats.Ticks += len(r.ticks)
		all = append(all, r.ticks...)
	}

	candles := Aggregate(instrument, tf, all)
	for _, c := range candles {
		if err := sink.RecordCandle(c); err != nil {
			return stats, fmt.Errorf("dukas import: record candle: %w", err)
		}
	}
	stats.Candles = len(candles)

	im.Log.Info("dukas import done", logging.F{
		"instrument": instrument,
		"hours":      stats.HoursFetched,
		"missing":    stats.HoursMissing,
		"candles":    stats.Candles,
	})
	return stats, nil
}

func (im *Importer) fetchHour(ctx context.Context, symbol string, hour time.Time, scale float64) ([]Tick, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, im.hourURL(symbol, hour), nil)
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("User-Agent", "fxpulse-data/1.0")

	resp, err := im.Client.Do(req)
	if err != nil {
		return nil, false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, true, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, false, fmt.Errorf("http status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false, err
	}
	// Empty archives stand in for quiet hours.
	if len(raw) == 0 {
		return nil, true, nil
	}

	r, err := lzma.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, false, fmt.Errorf("lzma: %w", err)
	}
	flat, err := io.ReadAll(r)
	if err != nil {
		return nil, false, fmt.Errorf("lzma: %w", err)
	}
	ticks, err := DecodeTicks(flat, hour, scale)
	return ticks, false, err
}

// DecodeTicks parses decompressed .bi5 records relative to the hour start.
func DecodeTicks(flat []byte, hour time.Time, scale float64) ([]Tick, error) {
	if len(flat)%tickRecordSize != 0 {
		return nil, fmt.Errorf("bi5: %d bytes is not a whole record count", len(flat))
	}
	ticks := make([]Tick, 0, len(flat)/tickRecordSize)
	for off := 0; off < len(flat); off += tickRecordSize {
		rec := flat[off : off+tickRecordSize]
		ms := binary.BigEndian.Uint32(rec[0:4])
		ask := binary.BigEndian.Uint32(rec[4:8])
		bid := binary.BigEndian.Uint32(rec[8:12])
		askVol := math.Float32frombits(binary.BigEndian.Uint32(rec[12:16]))
		bidVol := math.Float32frombits(binary.BigEndian.Uint32(rec[16:20]))

		ticks = append(ticks, Tick{
			Time: hour.Add(time.Duration(ms) * time.Millisecond),
			Bid:  float64(bid) / scale,
			Ask:  float64(ask) / scale,
			Vol:  float64(askVol) + float64(bidVol),
		})
	}
	return ticks, nil
}

// Aggregate buckets ticks into aligned candles on the mid price. Volume is
// the summed tick volume.
func Aggregate(instrument string, tf market.Timeframe, ticks []Tick) []market.Candle {
	if len(ticks) == 0 {
		return nil
	}
	sort.Slice(ticks, func(i, j int) bool { return ticks[i].Time.Before(ticks[j].Time) })

	byOpen := make(map[time.Time]*market.Candle)
	var opens []time.Time
	for _, t := range ticks {
		mid := (t.Bid + t.Ask) / 2
		open := tf.Align(t.Time)
		c, ok := byOpen[open]
		if !ok {
			c = &market.Candle{
				Instrument: instrument,
				Timeframe:  tf,
				OpenTime:   open,
				Open:       mid,
				High:       mid,
				Low:        mid,
				Complete:   true,
			}
			byOpen[open] = c
			opens = append(opens, open)
		}
		if mid > c.High {
			c.High = mid
		}
		if mid < c.Low {
			c.Low = mid
		}
		c.Close = mid
		c.Volume += t.Vol
	}

	out := make([]market.Candle, 0, len(opens))
	for _, open := range opens {
		out = append(out, *byOpen[open])
	}
	return out
}
