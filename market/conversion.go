package market

import (
	"context"
	"fmt"
)

// QuoteToAccountRate returns the factor that converts one quote-currency unit
// of P/L into the account currency.
//
//	EUR_USD with USD account → 1.0
//	USD_JPY with USD account → 1 / USDJPY mid
func QuoteToAccountRate(ctx context.Context, instrument, accountCurrency string, prices TickSource) (float64, error) {
	meta, ok := Instruments[instrument]
	if !ok {
		return 0, fmt.Errorf("unknown instrument %s", instrument)
	}

	if meta.QuoteCurrency == accountCurrency {
		return 1.0, nil
	}

	// Account currency is the base leg: invert the pair's own mid.
	if meta.BaseCurrency == accountCurrency {
		px, err := prices.GetTick(ctx, instrument)
		if err != nil {
			return 0, err
		}
		if px.Mid() == 0 {
			return 0, fmt.Errorf("zero mid price for %s", instrument)
		}
		return 1.0 / px.Mid(), nil
	}

	return 0, fmt.Errorf("cross conversion not implemented for %s -> %s",
		meta.QuoteCurrency, accountCurrency)
}
