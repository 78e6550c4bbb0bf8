package risk

import (
	"math"

	"github.com/fxpulse/fxpulse/market"
)

// Budget is the immutable per-run risk configuration.
type Budget struct {
	// RiskPerTrade is the equity fraction risked on one trade.
	RiskPerTrade float64 `yaml:"risk_per_trade"`

	// DrawdownCap is the portfolio drawdown the sizing rules defend; the
	// dd scaling factor reaches its floor as drawdown approaches it.
	DrawdownCap float64 `yaml:"drawdown_cap"`

	// Hard exposure caps, in units.
	MaxUnitsPerInstrument float64 `yaml:"max_units_per_instrument"`
	MaxUnitsPerBucket     float64 `yaml:"max_units_per_bucket"`
	MaxPortfolioUnits     float64 `yaml:"max_portfolio_units"`

	// IntraBucketCorrelation is the assumed correlation between pairs in
	// the same correlation bucket. The exact grouping is configurable.
	IntraBucketCorrelation float64 `yaml:"intra_bucket_correlation"`
}

// DefaultBudget mirrors the standard conservative settings.
func DefaultBudget() Budget {
	return Budget{
		RiskPerTrade:           0.005,
		DrawdownCap:            0.15,
		MaxUnitsPerInstrument:  100000,
		MaxUnitsPerBucket:      150000,
		MaxPortfolioUnits:      300000,
		IntraBucketCorrelation: 0.8,
	}
}

// RegimeTable maps a volatility regime tag to a sizing multiplier.
type RegimeTable map[string]float64

const (
	RegimeNormal  = "NORMAL"
	RegimeHighVol = "HIGH_VOL"
	RegimeCrisis  = "CRISIS"
)

// DefaultRegimeTable scales sizes down as conditions deteriorate.
func DefaultRegimeTable() RegimeTable {
	return RegimeTable{
		RegimeNormal:  1.0,
		RegimeHighVol: 0.7,
		RegimeCrisis:  0.3,
	}
}

// classifyRegime tags the environment from the volatility ratio.
func classifyRegime(volRatio float64, th Thresholds) string {
	switch {
	case volRatio >= th.L3VolRatio:
		return RegimeCrisis
	case volRatio >= th.L1VolRatio:
		return RegimeHighVol
	}
	return RegimeNormal
}

// sizingInputs collects everything the sizing formula needs.
type sizingInputs struct {
	equity          float64
	stopPips        float64
	pipValuePerUnit float64 // account currency per pip per unit
	volRatio        float64
	drawdown        float64
	avgCorrelation  float64
	regime          string
	level           Level
}

// size applies the dynamic sizing formula and returns whole units. Each
// scaling factor has a floor so a single noisy input cannot zero out an
// otherwise healthy signal; only the escalation level can do that.
func (b Budget) size(table RegimeTable, in sizingInputs) float64 {
	if in.stopPips <= 0 || in.pipValuePerUnit <= 0 {
		return 0
	}
	base := math.Floor(in.equity * b.RiskPerTrade / (in.stopPips * in.pipValuePerUnit))

	volFactor := 1.0
	if in.volRatio > 1 {
		volFactor = 1 / in.volRatio
	}
	ddFactor := math.Max(0.1, 1-in.drawdown/b.DrawdownCap)
	corrFactor := math.Max(0.3, 1-in.avgCorrelation)

	regimeMult, ok := table[in.regime]
	if !ok {
		regimeMult = 1.0
	}

	units := base * volFactor * ddFactor * corrFactor * regimeMult * in.level.SizeMultiplier()
	return math.Floor(units)
}

// bucketExposure sums open units in the candidate's correlation bucket, and
// the share of open positions that live there.
func bucketExposure(open map[string]openPosition, meta market.InstrumentMeta) (units float64, share float64) {
	if len(open) == 0 {
		return 0, 0
	}
	n := 0
	for _, p := range open {
		m, err := market.Lookup(p.instrument)
		if err != nil {
			continue
		}
		if m.CorrelationBucket() == meta.CorrelationBucket() {
			units += p.units
			n++
		}
	}
	return units, float64(n) / float64(len(open))
}
