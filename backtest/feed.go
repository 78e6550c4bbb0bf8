package backtest

import (
	"fmt"
	"sort"
	"time"

	"github.com/fxpulse/fxpulse/market"
)

// Feed serves candle slices for backtest windows behind a temporal guard.
// Reads past the guard clock fail loudly, which is how walk-forward
// strictness is enforced: during the train grid search the guard sits at the
// train window's end, so no parameter choice can observe later data.
type Feed struct {
	candles []market.Candle // ascending open time
	guard   time.Time       // zero means unguarded
}

// NewFeed copies and sorts the candles by open time.
func NewFeed(candles []market.Candle) *Feed {
	cp := make([]market.Candle, len(candles))
	copy(cp, candles)
	sort.Slice(cp, func(i, j int) bool { return cp[i].OpenTime.Before(cp[j].OpenTime) })
	return &Feed{candles: cp}
}

// SetGuard forbids reads of candles whose open time is at or after t.
func (f *Feed) SetGuard(t time.Time) { f.guard = t }

// ClearGuard removes the temporal guard.
func (f *Feed) ClearGuard() { f.guard = time.Time{} }

// Range returns the candles inside w, most-recent-last. It errors when the
// requested window reaches beyond the guard clock.
func (f *Feed) Range(w Window) ([]market.Candle, error) {
	if !f.guard.IsZero() && w.End.After(f.guard) {
		return nil, fmt.Errorf("feed: window end %s exceeds guard clock %s",
			w.End.Format(time.RFC3339), f.guard.Format(time.RFC3339))
	}

	lo := sort.Search(len(f.candles), func(i int) bool {
		return !f.candles[i].OpenTime.Before(w.Start)
	})
	hi := sort.Search(len(f.candles), func(i int) bool {
		return !f.candles[i].OpenTime.Before(w.End)
	})
	out := make([]market.Candle, hi-lo)
	copy(out, f.candles[lo:hi])
	return out, nil
}

// Len returns the number of candles in the feed.
func (f *Feed) Len() int { return len(f.candles) }
