package market

import (
	"fmt"
	"time"
)

// Timeframe is one of the supported bar granularities.
type Timeframe string

const (
	M1  Timeframe = "M1"
	M5  Timeframe = "M5"
	M15 Timeframe = "M15"
	H1  Timeframe = "H1"
	H4  Timeframe = "H4"
	D1  Timeframe = "D1"
)

var timeframeDurations = map[Timeframe]time.Duration{
	M1:  time.Minute,
	M5:  5 * time.Minute,
	M15: 15 * time.Minute,
	H1:  time.Hour,
	H4:  4 * time.Hour,
	D1:  24 * time.Hour,
}

// Timeframes lists all supported granularities, shortest first.
var Timeframes = []Timeframe{M1, M5, M15, H1, H4, D1}

// ParseTimeframe converts a string like "H4" to a Timeframe.
func ParseTimeframe(s string) (Timeframe, error) {
	tf := Timeframe(s)
	if _, ok := timeframeDurations[tf]; !ok {
		return "", fmt.Errorf("unknown timeframe %q", s)
	}
	return tf, nil
}

// Duration returns the bar length. Unknown timeframes return 0.
func (tf Timeframe) Duration() time.Duration {
	return timeframeDurations[tf]
}

func (tf Timeframe) String() string { return string(tf) }

// Align truncates t down to the open time of the bar that contains it.
// Alignment is relative to the Unix epoch in UTC, which matches OANDA's
// candle boundaries for intraday granularities.
func (tf Timeframe) Align(t time.Time) time.Time {
	return t.UTC().Truncate(tf.Duration())
}

// NextBoundary returns the first bar boundary strictly after t.
func (tf Timeframe) NextBoundary(t time.Time) time.Time {
	return tf.Align(t).Add(tf.Duration())
}
