package market

import (
	"fmt"
	"math"
)

// Session labels the trading session an instrument trades best in.
// Used by the optional per-instrument session filter.
type Session string

const (
	SessionAny     Session = "any"
	SessionAsian   Session = "asian"
	SessionLondon  Session = "london"
	SessionNewYork Session = "newyork"
)

// InstrumentMeta is immutable per-instrument configuration, loaded at startup.
type InstrumentMeta struct {
	Name                string
	BaseCurrency        string
	QuoteCurrency       string
	PipLocation         int     // pip = 10^PipLocation, e.g. -4 for EUR_USD
	TradeUnitsPrecision int
	MinimumTradeSize    float64
	MarginRate          float64
	TypicalSpreadPips   float64 // half is applied per fill side in simulation
	SlippageATRFrac     float64 // slippage model: fraction of entry ATR
	PreferredSession    Session
}

// Instruments is the built-in instrument table. Callers treat it as read-only.
var Instruments = map[string]InstrumentMeta{
	"EUR_USD": {
		Name:                "EUR_USD",
		BaseCurrency:        "EUR",
		QuoteCurrency:       "USD",
		PipLocation:         -4,
		TradeUnitsPrecision: 0,
		MinimumTradeSize:    1,
		MarginRate:          0.02,
		TypicalSpreadPips:   1.2,
		SlippageATRFrac:     0.1,
		PreferredSession:    SessionAny,
	},
	"GBP_USD": {
		Name:                "GBP_USD",
		BaseCurrency:        "GBP",
		QuoteCurrency:       "USD",
		PipLocation:         -4,
		TradeUnitsPrecision: 0,
		MinimumTradeSize:    1,
		MarginRate:          0.03,
		TypicalSpreadPips:   1.8,
		SlippageATRFrac:     0.1,
		PreferredSession:    SessionLondon,
	},
	"USD_JPY": {
		Name:                "USD_JPY",
		BaseCurrency:        "USD",
		QuoteCurrency:       "JPY",
		PipLocation:         -2,
		TradeUnitsPrecision: 0,
		MinimumTradeSize:    1,
		MarginRate:          0.02,
		TypicalSpreadPips:   1.4,
		SlippageATRFrac:     0.1,
		PreferredSession:    SessionAsian,
	},
	"EUR_JPY": {
		Name:                "EUR_JPY",
		BaseCurrency:        "EUR",
		QuoteCurrency:       "JPY",
		PipLocation:         -2,
		TradeUnitsPrecision: 0,
		MinimumTradeSize:    1,
		MarginRate:          0.03,
		TypicalSpreadPips:   1.9,
		SlippageATRFrac:     0.1,
		PreferredSession:    SessionAsian,
	},
	"AUD_USD": {
		Name:                "AUD_USD",
		BaseCurrency:        "AUD",
		QuoteCurrency:       "USD",
		PipLocation:         -4,
		TradeUnitsPrecision: 0,
		MinimumTradeSize:    1,
		MarginRate:          0.03,
		TypicalSpreadPips:   1.6,
		SlippageATRFrac:     0.1,
		PreferredSession:    SessionAsian,
	},
	"USD_CHF": {
		Name:                "USD_CHF",
		BaseCurrency:        "USD",
		QuoteCurrency:       "CHF",
		PipLocation:         -4,
		TradeUnitsPrecision: 0,
		MinimumTradeSize:    1,
		MarginRate:          0.03,
		TypicalSpreadPips:   1.7,
		SlippageATRFrac:     0.1,
		PreferredSession:    SessionLondon,
	},
}

// Lookup returns the metadata for an instrument name like "EUR_USD".
func Lookup(name string) (InstrumentMeta, error) {
	meta, ok := Instruments[name]
	if !ok {
		return InstrumentMeta{}, fmt.Errorf("unknown instrument %q", name)
	}
	return meta, nil
}

// PipSize returns the pip in price units, e.g. 0.0001 for EUR_USD.
func (m InstrumentMeta) PipSize() float64 {
	return math.Pow(10, float64(m.PipLocation))
}

// PriceToPips converts a price delta to pips for this instrument.
func (m InstrumentMeta) PriceToPips(delta float64) float64 {
	return delta / m.PipSize()
}

// PipsToPrice converts pips to a price delta for this instrument.
func (m InstrumentMeta) PipsToPrice(pips float64) float64 {
	return pips * m.PipSize()
}

// CorrelationBucket groups instruments that tend to move together. The
// grouping is deliberately coarse, keyed on the quote currency: dollar
// pairs form one cluster, yen crosses another.
func (m InstrumentMeta) CorrelationBucket() string {
	return m.QuoteCurrency
}

// SharesCurrency reports whether two instruments share a currency leg.
func SharesCurrency(a, b InstrumentMeta) bool {
	return a.BaseCurrency == b.BaseCurrency || a.BaseCurrency == b.QuoteCurrency ||
		a.QuoteCurrency == b.BaseCurrency || a.QuoteCurrency == b.QuoteCurrency
}
