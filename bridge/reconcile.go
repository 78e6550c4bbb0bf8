package bridge

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fxpulse/fxpulse/broker"
	"github.com/fxpulse/fxpulse/journal"
	"github.com/fxpulse/fxpulse/logging"
	"github.com/fxpulse/fxpulse/pkg/id"
	"github.com/fxpulse/fxpulse/risk"
	"github.com/fxpulse/fxpulse/signal"
)

// ErrInconsistent means the journal and the broker disagree in a way the
// bridge cannot repair on its own.
var ErrInconsistent = errors.New("bridge: journal and broker state inconsistent")

// Reconcile aligns local state with the broker at startup. Trades the
// broker closed while the bridge was down get settled; fills the journal
// missed get recorded. Positions this bridge cannot account for are fatal.
func (b *Bridge) Reconcile(ctx context.Context) error {
	bctx, cancel := b.brokerCtx(ctx)
	positions, err := b.brk.ListOpenPositions(bctx)
	cancel()
	if err != nil {
		return fmt.Errorf("bridge: reconcile position list: %w", err)
	}

	var journalOpen []journal.Trade
	if b.journal != nil {
		journalOpen, err = b.journal.OpenTrades()
		if err != nil {
			return fmt.Errorf("bridge: reconcile journal read: %w", err)
		}
	}

	byTradeID := make(map[string]broker.Position, len(positions))
	for _, p := range positions {
		byTradeID[p.TradeID] = p
	}

	claimed := make(map[string]bool)
	for _, tr := range journalOpen {
		sig, err := b.signalFor(tr)
		if err != nil {
			return fmt.Errorf("%w: open trade %s has no signal record", ErrInconsistent, tr.ID)
		}

		if pos, ok := byTradeID[tr.ID]; ok {
			claimed[pos.TradeID] = true
			b.open[tr.ID] = &tracked{trade: tr, sig: sig}
			b.monitor.OnTradeEvent(risk.TradeEvent{Kind: risk.TradeFill, Trade: tr})
			b.log.Info("reconciled open trade", logging.F{"trade": tr.ID, "instrument": tr.Instrument})
			continue
		}

		// The broker closed it while we were down.
		b.open[tr.ID] = &tracked{trade: tr, sig: sig}
		b.settleExit(ctx, tr.ID, b.open[tr.ID])
		b.log.Info("settled trade closed while offline", logging.F{"trade": tr.ID})
	}

	for _, pos := range positions {
		if claimed[pos.TradeID] {
			continue
		}
		if !strings.HasPrefix(pos.ClientOrderID, id.Prefix) {
			// Not ours; leave foreign positions alone.
			b.log.Warn("ignoring foreign position", logging.F{
				"trade": pos.TradeID, "instrument": pos.Instrument,
			})
			continue
		}
		if err := b.adoptFill(pos); err != nil {
			return err
		}
	}

	b.emit("reconciled", journal.SeverityInfo, "", map[string]int{
		"open": len(b.open),
	})
	return nil
}

// adoptFill records a broker position whose fill the journal missed, which
// happens when the process dies between submit and persist.
func (b *Bridge) adoptFill(pos broker.Position) error {
	sig, ok := b.signalByClientOrder(pos.ClientOrderID)
	if !ok {
		return fmt.Errorf("%w: broker position %s (%s) matches no recorded signal",
			ErrInconsistent, pos.TradeID, pos.ClientOrderID)
	}

	units := pos.Units
	if units < 0 {
		units = -units
	}
	trade := journal.Trade{
		ID:         pos.TradeID,
		SignalID:   sig.ID,
		Instrument: pos.Instrument,
		Direction:  sig.Direction,
		Units:      units,
		EntryTime:  b.now(),
		EntryPrice: pos.AvgPrice,
	}
	b.open[pos.TradeID] = &tracked{trade: trade, sig: sig}
	if b.journal != nil {
		if err := b.journal.RecordTrade(trade); err != nil {
			return fmt.Errorf("bridge: reconcile trade persist: %w", err)
		}
	}
	b.setSignalState(sig.ID, signal.StateFilled, pos.TradeID)
	b.monitor.OnTradeEvent(risk.TradeEvent{Kind: risk.TradeFill, Trade: trade})
	b.emit("fill_recovered", journal.SeverityWarn, sig.ID, map[string]string{
		"trade": pos.TradeID, "instrument": pos.Instrument,
	})
	return nil
}

func (b *Bridge) signalFor(tr journal.Trade) (signal.Signal, error) {
	if b.journal == nil {
		return signal.Signal{}, errors.New("no journal")
	}
	return b.journal.SignalByID(tr.SignalID)
}

// signalByClientOrder scans recent signals for the one whose derived client
// order id matches.
func (b *Bridge) signalByClientOrder(clientOrderID string) (signal.Signal, bool) {
	if b.journal == nil {
		return signal.Signal{}, false
	}
	ids, err := b.journal.SignalIDsByState(signal.StatePending, signal.StateFilled)
	if err != nil {
		return signal.Signal{}, false
	}
	for _, sid := range ids {
		if id.ClientOrderID(sid) != clientOrderID {
			continue
		}
		sig, err := b.journal.SignalByID(sid)
		if err != nil {
			return signal.Signal{}, false
		}
		return sig, true
	}
	return signal.Signal{}, false
}
