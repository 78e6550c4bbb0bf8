package backtest

import (
	"fmt"

	"github.com/fxpulse/fxpulse/journal"
	"github.com/fxpulse/fxpulse/market"
	"github.com/fxpulse/fxpulse/signal"
	"github.com/fxpulse/fxpulse/store"
)

// SimConfig controls one simulation pass over a candle window.
type SimConfig struct {
	Params signal.Params

	// SpreadPips overrides the instrument's typical spread; negative means
	// use the instrument default. Half the spread is paid on entry.
	SpreadPips float64

	// SlippageATRFrac overrides the instrument's slippage model; negative
	// means use the instrument default. Slippage = frac × ATR at entry.
	SlippageATRFrac float64
}

// DefaultSimConfig uses instrument-default costs.
func DefaultSimConfig(params signal.Params) SimConfig {
	return SimConfig{Params: params, SpreadPips: -1, SlippageATRFrac: -1}
}

// SimResult is the raw output of one simulation pass.
type SimResult struct {
	Trades  []journal.Trade
	Signals []signal.Signal
}

// position is an open simulated trade.
type position struct {
	trade    journal.Trade
	sig      signal.Signal
	entryIdx int
}

// Simulate replays candles through a fresh crossover engine and fills the
// emitted signals bar by bar:
//
//   - fills happen at the next bar's open, long fills pay +half-spread
//     +slippage, short fills the inverse;
//   - from the bar after entry onward the stop is checked before the take
//     profit (conservative tie-break when both could trigger in one bar);
//   - at window end any open position closes at the final close (TIMEOUT).
func Simulate(cfg SimConfig, instrument string, candles []market.Candle) (SimResult, error) {
	meta, err := market.Lookup(instrument)
	if err != nil {
		return SimResult{}, err
	}
	if len(candles) == 0 {
		return SimResult{}, nil
	}

	spreadPips := cfg.SpreadPips
	if spreadPips < 0 {
		spreadPips = meta.TypicalSpreadPips
	}
	slipFrac := cfg.SlippageATRFrac
	if slipFrac < 0 {
		slipFrac = meta.SlippageATRFrac
	}

	periods := store.Periods{
		EMAFast: cfg.Params.EMAFast,
		EMASlow: cfg.Params.EMASlow,
		ATR:     store.DefaultPeriods().ATR,
		RSI:     store.DefaultPeriods().RSI,
	}
	st := store.New(periods, 0)
	eng := signal.NewEngine(cfg.Params, st)

	var (
		res     SimResult
		open    *position
		pending *signal.Signal
		seq     int
	)

	closeAt := func(p *position, bar market.Candle, price float64, cause journal.Cause) {
		t := p.trade
		t.ExitTime = bar.CloseTime()
		t.ExitPrice = price
		t.PnLPips = p.sig.Direction.Sign() * meta.PriceToPips(price-t.EntryPrice)
		t.Cause = cause
		res.Trades = append(res.Trades, t)
		eng.OnExit(instrument, bar.Timeframe)
		open = nil
	}

	for i, bar := range candles {
		// Exit checks run on bars after the entry bar, stop before target.
		if open != nil && i > open.entryIdx {
			s := open.sig
			switch s.Direction {
			case signal.Long:
				if bar.Low <= s.StopPrice {
					closeAt(open, bar, s.StopPrice, journal.CauseStopLoss)
				} else if bar.High >= s.TakeProfitPrice {
					closeAt(open, bar, s.TakeProfitPrice, journal.CauseTakeProfit)
				}
			case signal.Short:
				if bar.High >= s.StopPrice {
					closeAt(open, bar, s.StopPrice, journal.CauseStopLoss)
				} else if bar.Low <= s.TakeProfitPrice {
					closeAt(open, bar, s.TakeProfitPrice, journal.CauseTakeProfit)
				}
			}
		}

		// Fill the signal armed on the previous bar at this bar's open.
		if pending != nil && open == nil {
			sig := *pending
			pending = nil

			snap := st.Snapshot(instrument, bar.Timeframe)
			cost := meta.PipsToPrice(spreadPips/2) + slipFrac*snap.ATR
			fill := bar.Open + sig.Direction.Sign()*cost

			seq++
			tr := journal.Trade{
				ID:         fmt.Sprintf("bt-%06d", seq),
				SignalID:   sig.ID,
				Instrument: instrument,
				Direction:  sig.Direction,
				Units:      1,
				EntryTime:  bar.OpenTime,
				EntryPrice: fill,
				FeesPips:   meta.PriceToPips(cost),
			}
			open = &position{trade: tr, sig: sig, entryIdx: i}
			eng.OnFill(instrument, bar.Timeframe)
		} else if pending != nil {
			// A position is still open; the armed signal lapses.
			pending = nil
			eng.OnAbort(instrument, bar.Timeframe)
		}

		if _, err := st.Ingest(bar); err != nil {
			return SimResult{}, fmt.Errorf("simulate %s: %w", instrument, err)
		}

		if sig, ok := eng.Evaluate(instrument, bar.Timeframe); ok {
			res.Signals = append(res.Signals, sig)
			pending = &sig
		}
	}

	// Window end: flatten whatever is still open at the final close.
	if open != nil {
		last := candles[len(candles)-1]
		closeAt(open, last, last.Close, journal.CauseTimeout)
	}

	return res, nil
}

// InvertCandles mirrors a candle series around pivot so that upward moves
// become downward moves. Used by simulation symmetry checks.
func InvertCandles(candles []market.Candle, pivot float64) []market.Candle {
	out := make([]market.Candle, len(candles))
	for i, c := range candles {
		m := c
		m.Open = 2*pivot - c.Open
		m.High = 2*pivot - c.Low
		m.Low = 2*pivot - c.High
		m.Close = 2*pivot - c.Close
		out[i] = m
	}
	return out
}
