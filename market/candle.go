package market

import "time"

// Candle is one completed OHLC bar for an (instrument, timeframe) stream.
// OpenTime is UTC and strictly increasing within a stream. Complete is false
// for a still-forming bar; incomplete bars are never used for signals.
type Candle struct {
	Instrument string
	Timeframe  Timeframe
	OpenTime   time.Time
	Open       float64
	High       float64
	Low        float64
	Close      float64
	Volume     float64
	Complete   bool
}

// Validate reports whether the candle is internally consistent.
func (c Candle) Validate() error {
	switch {
	case c.Instrument == "":
		return errMalformed("missing instrument")
	case c.OpenTime.IsZero():
		return errMalformed("missing open time")
	case c.High < c.Low:
		return errMalformed("high below low")
	case c.Open <= 0 || c.High <= 0 || c.Low <= 0 || c.Close <= 0:
		return errMalformed("non-positive price")
	case c.Open > c.High || c.Open < c.Low:
		return errMalformed("open outside high/low range")
	case c.Close > c.High || c.Close < c.Low:
		return errMalformed("close outside high/low range")
	}
	return nil
}

// CloseTime returns the bar's close boundary (open time plus one bar duration).
func (c Candle) CloseTime() time.Time {
	return c.OpenTime.Add(c.Timeframe.Duration())
}

type malformedError string

func errMalformed(msg string) error { return malformedError(msg) }

func (e malformedError) Error() string { return "malformed candle: " + string(e) }

// IsMalformed reports whether err came from Candle.Validate.
func IsMalformed(err error) bool {
	_, ok := err.(malformedError)
	return ok
}
