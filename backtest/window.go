// Package backtest runs walk-forward strategy evaluation over historical
// candles with cost-aware trade simulation.
package backtest

import (
	"fmt"
	"time"
)

// Window is a half-open time range [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

func (w Window) Validate() error {
	if !w.End.After(w.Start) {
		return fmt.Errorf("window end %s not after start %s",
			w.End.Format(time.RFC3339), w.Start.Format(time.RFC3339))
	}
	return nil
}

func (w Window) Span() time.Duration { return w.End.Sub(w.Start) }

// Windows is the walk-forward partition. Train strictly precedes Validate,
// which strictly precedes OOS.
type Windows struct {
	Train    Window
	Validate Window
	OOS      Window
}

func (ws Windows) Check() error {
	for _, w := range []struct {
		name string
		w    Window
	}{{"train", ws.Train}, {"validate", ws.Validate}, {"oos", ws.OOS}} {
		if err := w.w.Validate(); err != nil {
			return fmt.Errorf("%s: %w", w.name, err)
		}
	}
	if ws.Validate.Start.Before(ws.Train.End) {
		return fmt.Errorf("validate window overlaps train window")
	}
	if ws.OOS.Start.Before(ws.Validate.End) {
		return fmt.Errorf("oos window overlaps validate window")
	}
	return nil
}
