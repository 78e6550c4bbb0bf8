// Package risk is the real-time risk monitor: portfolio state tracking,
// dynamic position sizing, and the tiered escalation state machine that
// governs trading permissions.
package risk

import "time"

// Level is the escalation tier. Transitions move upward automatically and
// downward only after a cooldown; leaving L4 additionally requires a manual
// override.
type Level int

const (
	Normal Level = iota
	L1
	L2
	L3
	L4
)

func (l Level) String() string {
	switch l {
	case Normal:
		return "NORMAL"
	case L1:
		return "L1"
	case L2:
		return "L2"
	case L3:
		return "L3"
	case L4:
		return "L4"
	}
	return "UNKNOWN"
}

// SizeMultiplier scales new position sizes at this level.
func (l Level) SizeMultiplier() float64 {
	switch l {
	case L2:
		return 0.8
	case L3:
		return 0.5
	case L4:
		return 0
	}
	return 1.0
}

// Thresholds define the escalation triggers. Volatility triggers compare
// current to historical volatility as a ratio; VaR triggers are one-day
// VaR95 as a fraction of equity.
type Thresholds struct {
	L1Drawdown float64 `yaml:"l1_drawdown"`
	L1VolRatio float64 `yaml:"l1_vol_ratio"`
	L1VaR95    float64 `yaml:"l1_var95"`

	L2Drawdown float64 `yaml:"l2_drawdown"`

	L3Drawdown float64 `yaml:"l3_drawdown"`
	L3VolRatio float64 `yaml:"l3_vol_ratio"`
	L3VaR95    float64 `yaml:"l3_var95"`

	L4Drawdown float64 `yaml:"l4_drawdown"`
	L4VaR95    float64 `yaml:"l4_var95"`

	// DataStallLimit is how long the candle feed may be silent before the
	// stall itself forces L4.
	DataStallLimit time.Duration `yaml:"data_stall_limit"`

	// Cooldown is how long all triggers must stay clear before the level
	// steps down one tier.
	Cooldown time.Duration `yaml:"cooldown"`
}

// DefaultThresholds are the standard escalation gates.
func DefaultThresholds() Thresholds {
	return Thresholds{
		L1Drawdown:     0.03,
		L1VolRatio:     1.5,
		L1VaR95:        0.002,
		L2Drawdown:     0.05,
		L3Drawdown:     0.10,
		L3VolRatio:     3.0,
		L3VaR95:        0.004,
		L4Drawdown:     0.15,
		L4VaR95:        0.005,
		DataStallLimit: 2 * time.Minute,
		Cooldown:       15 * time.Minute,
	}
}

// required returns the minimum level the current observations demand.
func (th Thresholds) required(drawdown, volRatio, var95 float64, stall time.Duration) Level {
	switch {
	case drawdown >= th.L4Drawdown || var95 >= th.L4VaR95 ||
		(th.DataStallLimit > 0 && stall > th.DataStallLimit):
		return L4
	case drawdown >= th.L3Drawdown || volRatio >= th.L3VolRatio || var95 >= th.L3VaR95:
		return L3
	case drawdown >= th.L2Drawdown:
		return L2
	case drawdown >= th.L1Drawdown || volRatio >= th.L1VolRatio || var95 >= th.L1VaR95:
		return L1
	}
	return Normal
}
