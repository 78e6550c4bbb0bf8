package bridge

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/jpillora/backoff"

	"github.com/fxpulse/fxpulse/journal"
	"github.com/fxpulse/fxpulse/logging"
	"github.com/fxpulse/fxpulse/risk"
	"github.com/fxpulse/fxpulse/signal"
)

// EmergencyFlatten is the L4 procedure: cancel every pending order, then
// close the configured fraction of each open position, all inside the
// emergency time budget. Exhausting the budget with work left is fatal.
func (b *Bridge) EmergencyFlatten(ctx context.Context) error {
	deadline := b.now().Add(b.cfg.EmergencyBudget)
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	b.emit("emergency_flatten", journal.SeverityEmergency, "", map[string]any{
		"pending":  len(b.pending),
		"open":     len(b.open),
		"fraction": b.cfg.EmergencyCloseFraction,
	})
	b.log.Error(nil, "emergency flatten started", logging.F{
		"pending": len(b.pending), "open": len(b.open),
	})

	bo := &backoff.Backoff{Min: 200 * time.Millisecond, Max: 2 * time.Second, Jitter: true}

	for clientID, po := range b.pending {
		if err := b.retryUntilDeadline(ctx, bo, func(c context.Context) error {
			_, err := b.brk.CancelOrder(c, clientID)
			return err
		}); err != nil {
			return fmt.Errorf("%w: cancel %s: %v", ErrEmergencyBudget, clientID, err)
		}
		delete(b.pending, clientID)
		b.setSignalState(po.sig.ID, signal.StateExpired, "")
		b.engine.OnAbort(po.sig.Instrument, po.sig.Timeframe)
	}

	for tradeID, tr := range b.open {
		closeUnits := math.Floor(tr.trade.Units * b.cfg.EmergencyCloseFraction)
		if closeUnits < 1 {
			continue
		}
		full := closeUnits >= tr.trade.Units

		if err := b.retryUntilDeadline(ctx, bo, func(c context.Context) error {
			_, err := b.brk.ClosePosition(c, tradeID, closeUnits)
			return err
		}); err != nil {
			return fmt.Errorf("%w: close %s: %v", ErrEmergencyBudget, tradeID, err)
		}

		if full {
			trade := tr.trade
			trade.ExitTime = b.now()
			trade.Cause = journal.CauseManual
			delete(b.open, tradeID)
			if b.journal != nil {
				if err := b.journal.CloseTradeRecord(trade); err != nil {
					b.log.Warn("trade close persist failed", logging.F{"trade": tradeID, "err": err.Error()})
				}
			}
			b.setSignalState(tr.sig.ID, signal.StateClosed, tradeID)
			b.monitor.OnTradeEvent(risk.TradeEvent{Kind: risk.TradeExit, Trade: trade})
		} else {
			tr.trade.Units -= closeUnits
			b.monitor.OnTradeEvent(risk.TradeEvent{
				Kind: risk.TradePartialClose, Trade: tr.trade, ClosedUnits: closeUnits,
			})
		}
		b.emit("emergency_close", journal.SeverityEmergency, tr.sig.ID, map[string]any{
			"trade": tradeID, "closed_units": closeUnits, "full": full,
		})
	}

	b.log.Info("emergency flatten complete", logging.F{"remaining_open": len(b.open)})
	return nil
}

// retryUntilDeadline runs fn with backoff until it succeeds or the budget
// context expires.
func (b *Bridge) retryUntilDeadline(ctx context.Context, bo *backoff.Backoff, fn func(context.Context) error) error {
	bo.Reset()
	for {
		bctx, cancel := b.brokerCtx(ctx)
		err := fn(bctx)
		cancel()
		if err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(bo.Duration()):
		}
	}
}
