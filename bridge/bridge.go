// Package bridge is the live execution loop: it polls broker candles on bar
// boundaries, drives the signal engine, gates candidates through the risk
// monitor, and manages the order lifecycle idempotently.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fxpulse/fxpulse/broker"
	"github.com/fxpulse/fxpulse/journal"
	"github.com/fxpulse/fxpulse/logging"
	"github.com/fxpulse/fxpulse/market"
	"github.com/fxpulse/fxpulse/risk"
	"github.com/fxpulse/fxpulse/signal"
	"github.com/fxpulse/fxpulse/store"
)

// ErrClockSkew means local and broker clocks disagree too much to trade.
var ErrClockSkew = errors.New("bridge: clock skew exceeds limit")

// ErrEmergencyBudget means the L4 flatten procedure exceeded its time
// budget; the incident is fatal.
var ErrEmergencyBudget = errors.New("bridge: emergency flatten exceeded budget")

// Config is the bridge's static configuration.
type Config struct {
	Instruments []string
	Timeframe   market.Timeframe

	// MaxCandleFetch bounds one candle poll.
	MaxCandleFetch int

	// OrderTimeout is how long a submitted order may stay pending before
	// the bridge cancels it and expires the signal. Zero means one bar.
	OrderTimeout time.Duration

	// MaxClockSkew is the startup clock tolerance.
	MaxClockSkew time.Duration

	// EmergencyBudget bounds the L4 cancel-and-flatten procedure.
	EmergencyBudget time.Duration

	// EmergencyCloseFraction is the share of open positions closed on
	// entering L4.
	EmergencyCloseFraction float64

	// BrokerTimeout bounds every broker call.
	BrokerTimeout time.Duration

	// WatchdogFraction is the share of the bar duration one cycle may
	// consume before it is aborted.
	WatchdogFraction float64
}

// DefaultConfig returns the standard live settings for one H4 stream set.
func DefaultConfig(instruments []string) Config {
	return Config{
		Instruments:            instruments,
		Timeframe:              market.H4,
		MaxCandleFetch:         500,
		MaxClockSkew:           30 * time.Second,
		EmergencyBudget:        60 * time.Second,
		EmergencyCloseFraction: 0.5,
		BrokerTimeout:          10 * time.Second,
		WatchdogFraction:       0.9,
	}
}

// tracked is an open live trade with its originating signal.
type tracked struct {
	trade journal.Trade
	sig   signal.Signal
}

// pendingOrder is a submitted-but-unfilled order.
type pendingOrder struct {
	sig           signal.Signal
	units         float64
	clientOrderID string
	submitted     time.Time
}

// Bridge wires the live pipeline together. All state mutation happens on
// the scheduler goroutine; broker I/O is the only suspension point.
type Bridge struct {
	cfg     Config
	brk     broker.Broker
	store   *store.Store
	engine  *signal.Engine
	monitor *risk.Monitor
	journal journal.Store
	audit   *journal.AuditSink
	log     logging.Logger

	open     map[string]*tracked     // by broker trade id
	pending  map[string]pendingOrder // by client order id
	baseATR  map[string]float64      // long-run ATR baseline per instrument
	stall    map[string]time.Time    // first failed backfill per stream
	flatDone bool                    // L4 flatten already executed

	equityHist []float64 // recent per-cycle equity, newest last
	lastAcct   broker.AccountSnapshot
	haveAcct   bool

	now func() time.Time
}

// New assembles a bridge. The engine must share the given candle store.
func New(cfg Config, brk broker.Broker, st *store.Store, eng *signal.Engine,
	mon *risk.Monitor, jrn journal.Store, audit *journal.AuditSink, log logging.Logger) *Bridge {

	if log == nil {
		log = logging.Nop{}
	}
	if cfg.OrderTimeout == 0 {
		cfg.OrderTimeout = cfg.Timeframe.Duration()
	}
	if cfg.WatchdogFraction <= 0 || cfg.WatchdogFraction > 1 {
		cfg.WatchdogFraction = 0.9
	}
	return &Bridge{
		cfg:     cfg,
		brk:     brk,
		store:   st,
		engine:  eng,
		monitor: mon,
		journal: jrn,
		audit:   audit,
		log:     log,
		open:    make(map[string]*tracked),
		pending: make(map[string]pendingOrder),
		baseATR: make(map[string]float64),
		stall:   make(map[string]time.Time),
		now:     time.Now,
	}
}

// CheckClock refuses to start when local time diverges from the broker's
// beyond the configured tolerance.
func (b *Bridge) CheckClock(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.BrokerTimeout)
	defer cancel()

	server, err := b.brk.ServerTime(ctx)
	if err != nil {
		return fmt.Errorf("bridge: read broker clock: %w", err)
	}
	skew := b.now().Sub(server)
	if skew < 0 {
		skew = -skew
	}
	if skew > b.cfg.MaxClockSkew {
		return fmt.Errorf("%w: %s (limit %s)", ErrClockSkew, skew, b.cfg.MaxClockSkew)
	}
	return nil
}

// Run starts the scheduler: reconcile, then one cycle per bar boundary
// until the context ends.
func (b *Bridge) Run(ctx context.Context) error {
	if err := b.CheckClock(ctx); err != nil {
		return err
	}
	if err := b.Reconcile(ctx); err != nil {
		return err
	}

	b.log.Info("bridge started", logging.F{
		"instruments": fmt.Sprintf("%v", b.cfg.Instruments),
		"timeframe":   string(b.cfg.Timeframe),
	})

	for {
		next := b.cfg.Timeframe.NextBoundary(b.now())
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(next.Sub(b.now())):
		}

		if err := b.RunCycle(ctx); err != nil {
			if errors.Is(err, broker.ErrAuth) || errors.Is(err, ErrEmergencyBudget) {
				return err
			}
			b.log.Error(err, "cycle failed", logging.F{"at": next.Format(time.RFC3339)})
		}
	}
}

// RunCycle performs one bar's work under the watchdog budget: ingest new
// candles, evaluate signals, manage orders and exits, then tick the risk
// monitor.
func (b *Bridge) RunCycle(ctx context.Context) error {
	budget := time.Duration(float64(b.cfg.Timeframe.Duration()) * b.cfg.WatchdogFraction)
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	advanced := b.ingestAll(ctx)
	b.expireStalePending(ctx)
	b.checkExits(ctx)

	for _, instrument := range advanced {
		b.evaluateAndSubmit(ctx, instrument)
	}

	if err := b.tick(ctx); err != nil {
		return err
	}
	return ctx.Err()
}

func (b *Bridge) brokerCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, b.cfg.BrokerTimeout)
}

func (b *Bridge) emit(eventType string, sev journal.Severity, correlationID string, payload any) {
	if b.audit != nil {
		b.audit.EmitJSON("bridge", eventType, sev, correlationID, payload)
	}
}
