package indicators

import (
	"fmt"

	"github.com/fxpulse/fxpulse/market"
)

// RSI is a streaming Relative Strength Index using Wilder's smoothing of
// average gains and losses. Values are in [0, 100].
type RSI struct {
	period      int
	avgGain     float64
	avgLoss     float64
	count       int
	sumGain     float64
	sumLoss     float64
	prevClose   float64
	hasPrevious bool
}

// NewRSI creates a Relative Strength Index indicator with the given period.
func NewRSI(period int) *RSI {
	return &RSI{period: period}
}

func (r *RSI) Name() string { return fmt.Sprintf("RSI(%d)", r.period) }

// Warmup is period+1 because the first change needs a previous close.
func (r *RSI) Warmup() int { return r.period + 1 }

func (r *RSI) Reset() {
	r.avgGain = 0
	r.avgLoss = 0
	r.count = 0
	r.sumGain = 0
	r.sumLoss = 0
	r.prevClose = 0
	r.hasPrevious = false
}

func (r *RSI) Update(c market.Candle) {
	if !r.hasPrevious {
		r.prevClose = c.Close
		r.hasPrevious = true
		return
	}

	change := c.Close - r.prevClose
	r.prevClose = c.Close

	gain, loss := 0.0, 0.0
	if change > 0 {
		gain = change
	} else {
		loss = -change
	}

	if r.count < r.period {
		r.sumGain += gain
		r.sumLoss += loss
		r.count++
		if r.count == r.period {
			r.avgGain = r.sumGain / float64(r.period)
			r.avgLoss = r.sumLoss / float64(r.period)
		}
		return
	}

	n := float64(r.period)
	r.avgGain = (r.avgGain*(n-1) + gain) / n
	r.avgLoss = (r.avgLoss*(n-1) + loss) / n
}

func (r *RSI) Ready() bool { return r.count >= r.period }

func (r *RSI) Value() float64 {
	if !r.Ready() {
		return 0
	}
	if r.avgLoss == 0 {
		if r.avgGain == 0 {
			return 50
		}
		return 100
	}
	rs := r.avgGain / r.avgLoss
	rsi := 100 - 100/(1+rs)
	if rsi > 100 {
		rsi = 100
	} else if rsi < 0 {
		rsi = 0
	}
	return rsi
}

// RSISeries computes the batch RSI over candles for parity checks against
// the streaming implementation.
func RSISeries(candles []market.Candle, period int) (float64, error) {
	if len(candles) <= period {
		return 0, fmt.Errorf("not enough candles (%d) for RSI period %d", len(candles), period)
	}

	changes := make([]float64, 0, len(candles)-1)
	for i := 1; i < len(candles); i++ {
		changes = append(changes, candles[i].Close-candles[i-1].Close)
	}

	var avgGain, avgLoss float64
	for i := 0; i < period; i++ {
		if changes[i] > 0 {
			avgGain += changes[i]
		} else {
			avgLoss -= changes[i]
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	n := float64(period)
	for i := period; i < len(changes); i++ {
		if changes[i] > 0 {
			avgGain = (avgGain*(n-1) + changes[i]) / n
			avgLoss = (avgLoss * (n - 1)) / n
		} else {
			avgGain = (avgGain * (n - 1)) / n
			avgLoss = (avgLoss*(n-1) - changes[i]) / n
		}
	}

	if avgLoss == 0 {
		if avgGain == 0 {
			return 50, nil
		}
		return 100, nil
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs), nil
}
