package bridge

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/fxpulse/fxpulse/broker"
	"github.com/fxpulse/fxpulse/journal"
	"github.com/fxpulse/fxpulse/logging"
	"github.com/fxpulse/fxpulse/market"
	"github.com/fxpulse/fxpulse/pkg/id"
	"github.com/fxpulse/fxpulse/risk"
	"github.com/fxpulse/fxpulse/signal"
	"github.com/fxpulse/fxpulse/store"
)

// ingestAll polls every configured stream and returns the instruments whose
// head advanced this cycle.
func (b *Bridge) ingestAll(ctx context.Context) []string {
	var advanced []string
	for _, instrument := range b.cfg.Instruments {
		if b.ingestStream(ctx, instrument) {
			advanced = append(advanced, instrument)
		}
	}
	return advanced
}

func (b *Bridge) ingestStream(ctx context.Context, instrument string) bool {
	tf := b.cfg.Timeframe
	since := b.store.LastOpenTime(instrument, tf)
	if !since.IsZero() {
		since = since.Add(tf.Duration())
	}

	bctx, cancel := b.brokerCtx(ctx)
	candles, err := b.brk.FetchCandles(bctx, instrument, tf, since, b.cfg.MaxCandleFetch)
	cancel()
	if err != nil {
		b.log.Error(err, "candle fetch failed", logging.F{"instrument": instrument})
		b.markStall(instrument)
		return false
	}

	advanced := false
	for _, c := range candles {
		ok, recovered := b.ingestOne(ctx, c)
		if !recovered {
			// Backfill failed twice; the stream head is stale, so skip
			// evaluation until it recovers.
			b.markStall(instrument)
			return false
		}
		if ok {
			advanced = true
		}
	}
	if advanced || len(candles) > 0 {
		delete(b.stall, instrument)
	}
	return advanced
}

// ingestOne offers a candle to the store, resolving one gap by backfill.
// The second return is false when the gap could not be resolved.
func (b *Bridge) ingestOne(ctx context.Context, c market.Candle) (advanced, recovered bool) {
	res, err := b.store.Ingest(c)
	if err != nil {
		b.log.Warn("candle rejected", logging.F{
			"instrument": c.Instrument, "open": c.OpenTime.Format(time.RFC3339), "err": err.Error(),
		})
		return false, true
	}

	switch res.Status {
	case store.Accepted:
		if b.journal != nil {
			if err := b.journal.RecordCandle(c); err != nil {
				b.log.Warn("candle persist failed", logging.F{"err": err.Error()})
			}
		}
		return true, true

	case store.Duplicate, store.OutOfOrder:
		return false, true

	case store.Gap:
		b.emit("gap_detected", journal.SeverityWarn, "", map[string]string{
			"instrument": c.Instrument,
			"expected":   res.Expected.Format(time.RFC3339),
			"got":        res.Got.Format(time.RFC3339),
		})
		if !b.backfill(ctx, c, res.Expected) {
			return false, false
		}
		// The gap is filled; the triggering candle goes in last.
		res, err = b.store.Ingest(c)
		if err != nil || res.Status != store.Accepted {
			return false, false
		}
		if b.journal != nil {
			if err := b.journal.RecordCandle(c); err != nil {
				b.log.Warn("candle persist failed", logging.F{"err": err.Error()})
			}
		}
		return true, true
	}
	return false, true
}

// backfill fetches the missing range and ingests it, trying twice before
// giving up.
func (b *Bridge) backfill(ctx context.Context, head market.Candle, expected time.Time) bool {
	tf := b.cfg.Timeframe
	missing := int(head.OpenTime.Sub(expected) / tf.Duration())
	if missing < 1 {
		return false
	}

	for attempt := 0; attempt < 2; attempt++ {
		bctx, cancel := b.brokerCtx(ctx)
		fill, err := b.brk.FetchCandles(bctx, head.Instrument, tf, expected, missing)
		cancel()
		if err != nil {
			b.log.Warn("backfill fetch failed", logging.F{
				"instrument": head.Instrument, "attempt": attempt + 1, "err": err.Error(),
			})
			continue
		}

		done := true
		for _, c := range fill {
			res, err := b.store.Ingest(c)
			if err != nil || (res.Status != store.Accepted && res.Status != store.Duplicate) {
				done = false
				break
			}
			if res.Status == store.Accepted && b.journal != nil {
				if err := b.journal.RecordCandle(c); err != nil {
					b.log.Warn("candle persist failed", logging.F{"err": err.Error()})
				}
			}
		}
		if done && !b.store.LastOpenTime(head.Instrument, tf).Before(expected) {
			b.emit("gap_backfilled", journal.SeverityInfo, "", map[string]string{
				"instrument": head.Instrument,
				"from":       expected.Format(time.RFC3339),
			})
			return true
		}
	}
	return false
}

func (b *Bridge) markStall(instrument string) {
	if _, ok := b.stall[instrument]; !ok {
		b.stall[instrument] = b.now()
	}
}

// stallFor returns the longest-running feed stall across streams.
func (b *Bridge) stallFor() time.Duration {
	var worst time.Duration
	now := b.now()
	for _, since := range b.stall {
		if d := now.Sub(since); d > worst {
			worst = d
		}
	}
	return worst
}

// evaluateAndSubmit runs the signal engine on an advanced stream and pushes
// any accepted candidate to the broker.
func (b *Bridge) evaluateAndSubmit(ctx context.Context, instrument string) {
	sig, ok := b.engine.Evaluate(instrument, b.cfg.Timeframe)
	if !ok {
		return
	}

	if b.journal != nil {
		if err := b.journal.RecordSignal(sig); err != nil {
			b.log.Warn("signal persist failed", logging.F{"signal": sig.ID, "err": err.Error()})
		}
	}
	b.emit("signal_emitted", journal.SeverityInfo, sig.ID, map[string]any{
		"instrument": sig.Instrument,
		"direction":  sig.Direction.String(),
		"confidence": sig.Confidence,
	})

	decision := b.monitor.ValidateSignal(ctx, sig)
	if !decision.Accepted {
		b.setSignalState(sig.ID, signal.StateRejected, "")
		b.engine.OnAbort(instrument, b.cfg.Timeframe)
		b.log.Info("signal rejected", logging.F{"signal": sig.ID, "reason": decision.Reason})
		return
	}

	b.submit(ctx, sig, decision.Units)
}

// submit places the market order. The client order id is derived from the
// signal id, so a retry after a transport timeout cannot double-fill.
func (b *Bridge) submit(ctx context.Context, sig signal.Signal, units float64) {
	clientID := id.ClientOrderID(sig.ID)
	req := broker.OrderRequest{
		ClientOrderID:   clientID,
		Instrument:      sig.Instrument,
		Units:           sig.Direction.Sign() * units,
		StopPrice:       sig.StopPrice,
		TakeProfitPrice: sig.TakeProfitPrice,
	}

	var res broker.OrderResult
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		bctx, cancel := b.brokerCtx(ctx)
		res, err = b.brk.PlaceMarketOrder(bctx, req)
		cancel()
		if err == nil || !broker.Transient(err) {
			break
		}
		b.log.Warn("order submit retry", logging.F{"signal": sig.ID, "err": err.Error()})
	}
	if err != nil {
		b.setSignalState(sig.ID, signal.StateRejected, "")
		b.engine.OnAbort(sig.Instrument, sig.Timeframe)
		b.emit("order_failed", journal.SeverityCritical, sig.ID, map[string]string{"err": err.Error()})
		return
	}

	switch res.Status {
	case broker.OrderFilled:
		b.onFill(sig, units, res)

	case broker.OrderRejected:
		b.setSignalState(sig.ID, signal.StateRejected, "")
		b.engine.OnAbort(sig.Instrument, sig.Timeframe)
		b.emit("order_rejected", journal.SeverityWarn, sig.ID, map[string]string{"reason": res.Reason})

	case broker.OrderPending:
		b.pending[clientID] = pendingOrder{
			sig: sig, units: units, clientOrderID: clientID, submitted: b.now(),
		}
	}
}

func (b *Bridge) onFill(sig signal.Signal, units float64, res broker.OrderResult) {
	trade := journal.Trade{
		ID:         res.TradeID,
		SignalID:   sig.ID,
		Instrument: sig.Instrument,
		Direction:  sig.Direction,
		Units:      units,
		EntryTime:  res.FillTime,
		EntryPrice: res.FillPrice,
	}
	b.open[res.TradeID] = &tracked{trade: trade, sig: sig}

	if b.journal != nil {
		if err := b.journal.RecordTrade(trade); err != nil {
			b.log.Warn("trade persist failed", logging.F{"trade": trade.ID, "err": err.Error()})
		}
	}
	b.setSignalState(sig.ID, signal.StateFilled, res.TradeID)
	b.engine.OnFill(sig.Instrument, sig.Timeframe)
	b.monitor.OnTradeEvent(risk.TradeEvent{Kind: risk.TradeFill, Trade: trade})
	b.emit("order_filled", journal.SeverityInfo, sig.ID, map[string]any{
		"trade": res.TradeID, "price": res.FillPrice, "units": units,
	})
}

// expireStalePending cancels orders that stayed pending past the timeout.
func (b *Bridge) expireStalePending(ctx context.Context) {
	for clientID, po := range b.pending {
		// Re-poll: the order may have filled since submission.
		bctx, cancel := b.brokerCtx(ctx)
		positions, err := b.brk.ListOpenPositions(bctx)
		cancel()
		if err == nil {
			filled := false
			for _, pos := range positions {
				if pos.ClientOrderID == clientID {
					b.onFill(po.sig, po.units, broker.OrderResult{
						Status: broker.OrderFilled, TradeID: pos.TradeID,
						FillPrice: pos.AvgPrice, FillTime: b.now(),
					})
					delete(b.pending, clientID)
					filled = true
					break
				}
			}
			if filled {
				continue
			}
		}

		if b.now().Sub(po.submitted) < b.cfg.OrderTimeout {
			continue
		}
		bctx, cancel = b.brokerCtx(ctx)
		_, err = b.brk.CancelOrder(bctx, clientID)
		cancel()
		if err != nil {
			b.log.Warn("cancel failed", logging.F{"order": clientID, "err": err.Error()})
			continue
		}
		delete(b.pending, clientID)
		b.setSignalState(po.sig.ID, signal.StateExpired, "")
		b.engine.OnAbort(po.sig.Instrument, po.sig.Timeframe)
		b.emit("order_expired", journal.SeverityWarn, po.sig.ID, nil)
	}
}

// checkExits detects positions the broker closed (stop or target hit) and
// settles them locally.
func (b *Bridge) checkExits(ctx context.Context) {
	if len(b.open) == 0 {
		return
	}

	bctx, cancel := b.brokerCtx(ctx)
	positions, err := b.brk.ListOpenPositions(bctx)
	cancel()
	if err != nil {
		b.log.Error(err, "position poll failed", nil)
		return
	}

	alive := make(map[string]bool, len(positions))
	for _, p := range positions {
		alive[p.TradeID] = true
	}

	for tradeID, tr := range b.open {
		if alive[tradeID] {
			continue
		}
		b.settleExit(ctx, tradeID, tr)
	}
}

func (b *Bridge) settleExit(ctx context.Context, tradeID string, tr *tracked) {
	meta, err := market.Lookup(tr.trade.Instrument)
	if err != nil {
		return
	}

	// The broker closed it; classify the cause from the exit level nearest
	// to the latest quote.
	exitPrice := tr.sig.StopPrice
	cause := journal.CauseStopLoss
	bctx, cancel := b.brokerCtx(ctx)
	tick, tickErr := b.brk.GetTick(bctx, tr.trade.Instrument)
	cancel()
	if tickErr == nil {
		mid := tick.Mid()
		if diff(mid, tr.sig.TakeProfitPrice) < diff(mid, tr.sig.StopPrice) {
			exitPrice = tr.sig.TakeProfitPrice
			cause = journal.CauseTakeProfit
		}
	}

	trade := tr.trade
	trade.ExitTime = b.now()
	trade.ExitPrice = exitPrice
	trade.PnLPips = tr.sig.Direction.Sign() * meta.PriceToPips(exitPrice-trade.EntryPrice)
	trade.Cause = cause

	delete(b.open, tradeID)
	if b.journal != nil {
		if err := b.journal.CloseTradeRecord(trade); err != nil {
			b.log.Warn("trade close persist failed", logging.F{"trade": tradeID, "err": err.Error()})
		}
	}
	b.setSignalState(tr.sig.ID, signal.StateClosed, tradeID)
	b.engine.OnExit(trade.Instrument, tr.sig.Timeframe)
	b.monitor.OnTradeEvent(risk.TradeEvent{Kind: risk.TradeExit, Trade: trade})
	b.emit("trade_closed", journal.SeverityInfo, trade.SignalID, map[string]any{
		"trade": tradeID, "cause": string(cause), "pips": trade.PnLPips,
	})
}

// tick refreshes account state, feeds the risk monitor, and fires the L4
// procedure on escalation. An account poll failure must not silence the
// monitor: the stall clock still has to reach it during a broker outage.
func (b *Bridge) tick(ctx context.Context) error {
	bctx, cancel := b.brokerCtx(ctx)
	acct, err := b.brk.GetAccountSnapshot(bctx)
	cancel()
	if err != nil {
		b.log.Error(err, "account poll failed", nil)
		if !b.haveAcct {
			st := b.monitor.State()
			b.lastAcct = broker.AccountSnapshot{Equity: st.Equity, Balance: st.Balance}
		}
		b.feedMonitor(b.lastAcct)
		return b.maybeFlatten(ctx)
	}
	b.lastAcct, b.haveAcct = acct, true
	b.recordEquityPoint(acct.Equity)
	b.feedMonitor(acct)

	if b.journal != nil {
		st := b.monitor.State()
		if err := b.journal.RecordEquity(journal.EquitySnapshot{
			Time:       b.now(),
			Balance:    acct.Balance,
			Equity:     acct.Equity,
			MarginUsed: acct.MarginUsed,
			Drawdown:   st.Drawdown,
			Level:      st.Level.String(),
		}); err != nil {
			b.log.Warn("equity persist failed", logging.F{"err": err.Error()})
		}
	}

	return b.maybeFlatten(ctx)
}

func (b *Bridge) feedMonitor(acct broker.AccountSnapshot) {
	curVol, histVol := b.volatility()
	var95, var10 := b.varEstimate()
	b.monitor.OnTick(risk.Mark{
		Time:          b.now(),
		Equity:        acct.Equity,
		Balance:       acct.Balance,
		MarginUsed:    acct.MarginUsed,
		CurrentVol:    curVol,
		HistoricalVol: histVol,
		VaR95:         var95,
		VaR10Day:      var10,
		DataStallFor:  b.stallFor(),
	})
}

func (b *Bridge) maybeFlatten(ctx context.Context) error {
	if b.monitor.Level() == risk.L4 && !b.flatDone {
		if err := b.EmergencyFlatten(ctx); err != nil {
			return err
		}
		b.flatDone = true
	}
	if b.monitor.Level() < risk.L4 {
		b.flatDone = false
	}
	return nil
}

const (
	equityHistMax = 64
	minVarReturns = 10
)

func (b *Bridge) recordEquityPoint(equity float64) {
	b.equityHist = append(b.equityHist, equity)
	if len(b.equityHist) > equityHistMax {
		b.equityHist = b.equityHist[len(b.equityHist)-equityHistMax:]
	}
}

// varEstimate derives the one-day VaR95 from the recent equity curve: the
// 5th percentile of per-cycle returns, square-root scaled to a day, and the
// ten-day figure by √10. Too few observations yields zero, leaving the
// monitor's VaR triggers to the drawdown and volatility gates.
func (b *Bridge) varEstimate() (var95, var10 float64) {
	rets := make([]float64, 0, len(b.equityHist))
	for i := 1; i < len(b.equityHist); i++ {
		prev := b.equityHist[i-1]
		if prev > 0 {
			rets = append(rets, (b.equityHist[i]-prev)/prev)
		}
	}
	if len(rets) < minVarReturns {
		return 0, 0
	}
	sort.Float64s(rets)
	q := rets[int(float64(len(rets))*0.05)]
	if q >= 0 {
		return 0, 0
	}
	cyclesPerDay := float64(24*time.Hour) / float64(b.cfg.Timeframe.Duration())
	if cyclesPerDay < 1 {
		cyclesPerDay = 1
	}
	var95 = -q * math.Sqrt(cyclesPerDay)
	return var95, var95 * math.Sqrt(10)
}

// volatility tracks each instrument's ATR against its long-run average and
// returns the worst current-to-baseline ratio as (current, historical).
func (b *Bridge) volatility() (current, historical float64) {
	worst := 0.0
	for _, instrument := range b.cfg.Instruments {
		snap := b.store.Snapshot(instrument, b.cfg.Timeframe)
		if !snap.Ready || snap.ATR <= 0 {
			continue
		}
		base := b.baseATR[instrument]
		if base == 0 {
			b.baseATR[instrument] = snap.ATR
			base = snap.ATR
		} else {
			// Slow EWMA keeps the baseline drifting with the market.
			base = base*0.99 + snap.ATR*0.01
			b.baseATR[instrument] = base
		}
		if r := snap.ATR / base; r > worst {
			worst = r
		}
	}
	if worst == 0 {
		return 0, 0
	}
	return worst, 1
}

func (b *Bridge) setSignalState(signalID string, state signal.State, linkedTradeID string) {
	if b.journal == nil {
		return
	}
	if err := b.journal.UpdateSignalState(signalID, state, linkedTradeID); err != nil {
		b.log.Warn("signal state persist failed", logging.F{"signal": signalID, "err": err.Error()})
	}
}

func diff(a, b float64) float64 {
	if a > b {
		return a - b
	}
	return b - a
}
