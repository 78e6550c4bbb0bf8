package risk

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fxpulse/fxpulse/journal"
	"github.com/fxpulse/fxpulse/logging"
	"github.com/fxpulse/fxpulse/market"
	"github.com/fxpulse/fxpulse/signal"
)

// Rejection reasons returned by ValidateSignal.
const (
	ReasonLevelL3       = "LEVEL_L3"
	ReasonLevelL4       = "LEVEL_L4"
	ReasonZeroRisk      = "ZERO_RISK_DISTANCE"
	ReasonBelowMinimum  = "BELOW_MINIMUM_UNITS"
	ReasonInstrumentCap = "INSTRUMENT_CAP"
	ReasonBucketCap     = "BUCKET_CAP"
	ReasonPortfolioCap  = "PORTFOLIO_CAP"
	ReasonPricing       = "PRICING_UNAVAILABLE"
)

// Decision is the outcome of signal validation.
type Decision struct {
	Accepted bool
	Units    float64
	Reason   string
}

func accept(units float64) Decision { return Decision{Accepted: true, Units: units} }

func reject(reason string) Decision { return Decision{Reason: reason} }

// Mark is one mark-to-market observation fed to OnTick.
type Mark struct {
	Time          time.Time
	Equity        float64
	Balance       float64
	MarginUsed    float64
	CurrentVol    float64
	HistoricalVol float64
	VaR95         float64 // one-day, fraction of equity
	VaR10Day      float64
	DataStallFor  time.Duration
}

// TradeEventKind tags portfolio-affecting trade transitions.
type TradeEventKind int

const (
	TradeFill TradeEventKind = iota + 1
	TradePartialClose
	TradeExit
)

// TradeEvent notifies the monitor of a fill, partial close, or exit.
type TradeEvent struct {
	Kind  TradeEventKind
	Trade journal.Trade

	// ClosedUnits applies to partial closes.
	ClosedUnits float64
}

type openPosition struct {
	instrument string
	units      float64
}

// PortfolioState is an immutable snapshot of the monitored portfolio.
type PortfolioState struct {
	Time        time.Time
	Equity      float64
	Balance     float64
	PeakEquity  float64
	Drawdown    float64
	RealizedPnL float64
	VaR95       float64
	VaR10Day    float64
	VolRatio    float64
	Regime      string
	Level       Level
	OpenTrades  []journal.Trade
}

// Auditor receives escalation and validation events. *journal.AuditSink
// satisfies it.
type Auditor interface {
	EmitJSON(component, eventType string, sev journal.Severity, correlationID string, payload any)
}

// Config assembles the monitor's immutable settings.
type Config struct {
	Thresholds      Thresholds
	Budget          Budget
	Regimes         RegimeTable
	AccountCurrency string

	// HaltNewEntriesAtL3 rejects all new signals from L3 up. When false,
	// L3 entries are merely scaled by the level multiplier.
	HaltNewEntriesAtL3 bool
}

// DefaultConfig returns the standard monitor settings for a USD account.
func DefaultConfig() Config {
	return Config{
		Thresholds:         DefaultThresholds(),
		Budget:             DefaultBudget(),
		Regimes:            DefaultRegimeTable(),
		AccountCurrency:    "USD",
		HaltNewEntriesAtL3: true,
	}
}

// Monitor owns PortfolioState. All methods serialize on one mutex, so a
// signal validated at time t observes every event recorded at or before t.
type Monitor struct {
	mu sync.Mutex

	cfg    Config
	prices market.TickSource
	audit  Auditor
	log    logging.Logger

	equity   float64
	balance  float64
	peak     float64
	drawdown float64
	realized float64
	var95    float64
	var10    float64
	volRatio float64
	regime   string
	lastTime time.Time

	level      Level
	clearSince time.Time
	overridden bool

	open map[string]openPosition
	trds map[string]journal.Trade
}

// NewMonitor seeds the monitor with starting equity.
func NewMonitor(cfg Config, startEquity float64, prices market.TickSource, audit Auditor, log logging.Logger) *Monitor {
	if log == nil {
		log = logging.Nop{}
	}
	return &Monitor{
		cfg:    cfg,
		prices: prices,
		audit:  audit,
		log:    log,
		equity: startEquity,
		peak:   startEquity,
		regime: RegimeNormal,
		open:   make(map[string]openPosition),
		trds:   make(map[string]journal.Trade),
	}
}

// Level returns the current escalation level.
func (m *Monitor) Level() Level {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.level
}

// State returns a snapshot of the portfolio.
func (m *Monitor) State() PortfolioState {
	m.mu.Lock()
	defer m.mu.Unlock()

	trades := make([]journal.Trade, 0, len(m.trds))
	for _, t := range m.trds {
		trades = append(trades, t)
	}
	return PortfolioState{
		Time:        m.lastTime,
		Equity:      m.equity,
		Balance:     m.balance,
		PeakEquity:  m.peak,
		Drawdown:    m.drawdown,
		RealizedPnL: m.realized,
		VaR95:       m.var95,
		VaR10Day:    m.var10,
		VolRatio:    m.volRatio,
		Regime:      m.regime,
		Level:       m.level,
		OpenTrades:  trades,
	}
}

// OnTick recomputes drawdown, volatility regime and VaR from a fresh mark
// and drives the escalation state machine.
func (m *Monitor) OnTick(mark Mark) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastTime = mark.Time
	m.equity = mark.Equity
	m.balance = mark.Balance
	if mark.Equity > m.peak {
		m.peak = mark.Equity
	}
	if m.peak > 0 {
		m.drawdown = (m.peak - mark.Equity) / m.peak
	}
	m.var95 = mark.VaR95
	m.var10 = mark.VaR10Day
	m.volRatio = 0
	if mark.HistoricalVol > 0 {
		m.volRatio = mark.CurrentVol / mark.HistoricalVol
	}
	m.regime = classifyRegime(m.volRatio, m.cfg.Thresholds)

	required := m.cfg.Thresholds.required(m.drawdown, m.volRatio, m.var95, mark.DataStallFor)
	m.transition(required, mark.Time)
}

// transition applies the one-way-up, cooldown-down level rules. Callers
// hold the mutex.
func (m *Monitor) transition(required Level, now time.Time) {
	switch {
	case required > m.level:
		from := m.level
		m.level = required
		m.clearSince = time.Time{}
		m.emitTransition(from, m.level, "triggers breached")

	case required < m.level:
		if m.clearSince.IsZero() {
			m.clearSince = now
			return
		}
		if now.Sub(m.clearSince) < m.cfg.Thresholds.Cooldown {
			return
		}
		if m.level == L4 && !m.overridden {
			return
		}
		from := m.level
		m.level--
		if m.level < required {
			m.level = required
		}
		if from == L4 {
			m.overridden = false
		}
		m.clearSince = now
		m.emitTransition(from, m.level, "triggers clear after cooldown")

	default:
		m.clearSince = time.Time{}
	}
}

// ManualOverride records the operator approval required to leave L4.
func (m *Monitor) ManualOverride(operator string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.overridden = true
	m.log.Warn("manual override recorded", logging.F{"operator": operator, "level": m.level.String()})
	if m.audit != nil {
		m.audit.EmitJSON("risk", "manual_override", journal.SeverityWarn, "",
			map[string]string{"operator": operator, "level": m.level.String()})
	}
}

// OnTradeEvent updates the open-position book.
func (m *Monitor) OnTradeEvent(ev TradeEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := ev.Trade
	switch ev.Kind {
	case TradeFill:
		m.open[t.ID] = openPosition{instrument: t.Instrument, units: t.Units}
		m.trds[t.ID] = t

	case TradePartialClose:
		p, ok := m.open[t.ID]
		if !ok {
			return
		}
		p.units -= ev.ClosedUnits
		if p.units <= 0 {
			delete(m.open, t.ID)
			delete(m.trds, t.ID)
			return
		}
		m.open[t.ID] = p

	case TradeExit:
		delete(m.open, t.ID)
		delete(m.trds, t.ID)
		m.realized += t.PnLPips
	}
}

// ValidateSignal sizes a candidate signal against the portfolio and either
// accepts it with a unit count or rejects it with a reason. Serialized with
// OnTradeEvent and OnTick.
func (m *Monitor) ValidateSignal(ctx context.Context, sig signal.Signal) Decision {
	m.mu.Lock()
	defer m.mu.Unlock()

	d := m.validateLocked(ctx, sig)
	if m.audit != nil {
		sev := journal.SeverityInfo
		if !d.Accepted {
			sev = journal.SeverityWarn
		}
		m.audit.EmitJSON("risk", "signal_validated", sev, sig.ID, map[string]any{
			"accepted": d.Accepted,
			"units":    d.Units,
			"reason":   d.Reason,
			"level":    m.level.String(),
		})
	}
	return d
}

func (m *Monitor) validateLocked(ctx context.Context, sig signal.Signal) Decision {
	if m.level == L4 {
		return reject(ReasonLevelL4)
	}
	if m.level == L3 && m.cfg.HaltNewEntriesAtL3 {
		return reject(ReasonLevelL3)
	}

	meta, err := market.Lookup(sig.Instrument)
	if err != nil {
		return reject(ReasonPricing)
	}
	stopPips := sig.StopDistancePips(meta)
	if stopPips <= 0 {
		return reject(ReasonZeroRisk)
	}

	rate, err := market.QuoteToAccountRate(ctx, sig.Instrument, m.cfg.AccountCurrency, m.prices)
	if err != nil {
		m.log.Warn("conversion rate unavailable", logging.F{"instrument": sig.Instrument, "err": err.Error()})
		return reject(ReasonPricing)
	}

	bucketUnits, bucketShare := bucketExposure(m.open, meta)

	units := m.cfg.Budget.size(m.cfg.Regimes, sizingInputs{
		equity:          m.equity,
		stopPips:        stopPips,
		pipValuePerUnit: meta.PipSize() * rate,
		volRatio:        m.volRatio,
		drawdown:        m.drawdown,
		avgCorrelation:  bucketShare * m.cfg.Budget.IntraBucketCorrelation,
		regime:          m.regime,
		level:           m.level,
	})

	if units < meta.MinimumTradeSize {
		return reject(ReasonBelowMinimum)
	}

	instrumentUnits := 0.0
	totalUnits := 0.0
	for _, p := range m.open {
		totalUnits += p.units
		if p.instrument == sig.Instrument {
			instrumentUnits += p.units
		}
	}
	b := m.cfg.Budget
	switch {
	case b.MaxUnitsPerInstrument > 0 && instrumentUnits+units > b.MaxUnitsPerInstrument:
		return reject(ReasonInstrumentCap)
	case b.MaxUnitsPerBucket > 0 && bucketUnits+units > b.MaxUnitsPerBucket:
		return reject(ReasonBucketCap)
	case b.MaxPortfolioUnits > 0 && totalUnits+units > b.MaxPortfolioUnits:
		return reject(ReasonPortfolioCap)
	}

	return accept(units)
}

func (m *Monitor) emitTransition(from, to Level, why string) {
	m.log.Warn("escalation level change", logging.F{
		"from": from.String(), "to": to.String(), "why": why,
		"drawdown": fmt.Sprintf("%.4f", m.drawdown),
	})
	if m.audit == nil {
		return
	}
	sev := journal.SeverityWarn
	switch to {
	case L3:
		sev = journal.SeverityCritical
	case L4:
		sev = journal.SeverityEmergency
	}
	m.audit.EmitJSON("risk", "escalation", sev, "", map[string]any{
		"from":     from.String(),
		"to":       to.String(),
		"drawdown": m.drawdown,
		"vol":      m.volRatio,
		"var95":    m.var95,
		"why":      why,
	})
}
