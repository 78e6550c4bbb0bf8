// Package signal detects EMA crossover entries and tracks signal lifecycle.
package signal

import (
	"fmt"
	"time"

	"github.com/fxpulse/fxpulse/market"
)

// Direction is the trade side of a signal.
type Direction int

const (
	Long Direction = iota + 1
	Short
)

func (d Direction) String() string {
	switch d {
	case Long:
		return "LONG"
	case Short:
		return "SHORT"
	}
	return fmt.Sprintf("Direction(%d)", int(d))
}

// Sign returns +1 for long, -1 for short.
func (d Direction) Sign() float64 {
	if d == Short {
		return -1
	}
	return 1
}

// Invert swaps long and short.
func (d Direction) Invert() Direction {
	if d == Long {
		return Short
	}
	return Long
}

// State is the lifecycle state of a signal.
type State string

const (
	StatePending  State = "PENDING"
	StateFilled   State = "FILLED"
	StateRejected State = "REJECTED"
	StateExpired  State = "EXPIRED"
	StateClosed   State = "CLOSED"
)

// Signal is one trade candidate emitted by a strategy. For LONG the invariant
// is stop < entry < take profit; for SHORT the inverse.
type Signal struct {
	ID              string
	Instrument      string
	Timeframe       market.Timeframe
	Direction       Direction
	EmitTime        time.Time
	EntryPrice      float64
	StopPrice       float64
	TakeProfitPrice float64
	Confidence      float64 // [0,1]
	StrategyTag     string
	State           State
	LinkedTradeID   string
}

// Validate checks the stop/entry/take-profit ordering invariant.
func (s Signal) Validate() error {
	switch s.Direction {
	case Long:
		if !(s.StopPrice < s.EntryPrice && s.EntryPrice < s.TakeProfitPrice) {
			return fmt.Errorf("signal %s: long price ordering violated (stop=%.5f entry=%.5f tp=%.5f)",
				s.ID, s.StopPrice, s.EntryPrice, s.TakeProfitPrice)
		}
	case Short:
		if !(s.TakeProfitPrice < s.EntryPrice && s.EntryPrice < s.StopPrice) {
			return fmt.Errorf("signal %s: short price ordering violated (stop=%.5f entry=%.5f tp=%.5f)",
				s.ID, s.StopPrice, s.EntryPrice, s.TakeProfitPrice)
		}
	default:
		return fmt.Errorf("signal %s: missing direction", s.ID)
	}
	if s.Confidence < 0 || s.Confidence > 1 {
		return fmt.Errorf("signal %s: confidence %.3f outside [0,1]", s.ID, s.Confidence)
	}
	return nil
}

// RiskReward returns reward distance over risk distance.
func (s Signal) RiskReward() float64 {
	risk := s.EntryPrice - s.StopPrice
	reward := s.TakeProfitPrice - s.EntryPrice
	if s.Direction == Short {
		risk, reward = -risk, -reward
	}
	if risk <= 0 {
		return 0
	}
	return reward / risk
}

// StopDistancePips returns the entry-to-stop distance in pips.
func (s Signal) StopDistancePips(meta market.InstrumentMeta) float64 {
	d := s.EntryPrice - s.StopPrice
	if d < 0 {
		d = -d
	}
	return meta.PriceToPips(d)
}
