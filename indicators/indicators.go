// Package indicators provides streaming technical indicators for candle data.
package indicators

import "github.com/fxpulse/fxpulse/market"

// Indicator computes a single streaming value from completed candles.
// It is deterministic, so live, replay, and backtest runs that feed the
// same candles produce bit-identical values.
type Indicator interface {
	// Name returns a stable identifier like "EMA(20)" or "RSI(14)".
	Name() string

	// Warmup returns how many candles are needed before Ready() can be true.
	Warmup() int

	// Reset clears all internal state.
	Reset()

	// Update consumes the next *completed* candle.
	Update(c market.Candle)

	// Ready reports whether Value() is meaningful (warmup completed).
	Ready() bool

	// Value returns the current indicator value. Callers must check Ready();
	// before warmup the value is 0.
	Value() float64
}
