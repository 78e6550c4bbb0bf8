// Package broker defines the outbound broker contracts: candle sourcing,
// order placement, and account state. All order calls are idempotent by
// client order id.
package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fxpulse/fxpulse/market"
)

// CandleSource fetches completed candles. Implementations must never
// return a forming bar.
type CandleSource interface {
	FetchCandles(ctx context.Context, instrument string, tf market.Timeframe,
		since time.Time, maxCount int) ([]market.Candle, error)
}

// OrderStatus is the broker-reported state of an order submission.
type OrderStatus string

const (
	OrderFilled   OrderStatus = "FILLED"
	OrderRejected OrderStatus = "REJECTED"
	OrderPending  OrderStatus = "PENDING"
)

// OrderRequest is a market order with attached stop and take profit. Units
// are signed: positive buys, negative sells.
type OrderRequest struct {
	ClientOrderID   string
	Instrument      string
	Units           float64
	StopPrice       float64
	TakeProfitPrice float64
}

// OrderResult is the outcome of a submission.
type OrderResult struct {
	Status    OrderStatus
	TradeID   string
	FillPrice float64
	FillTime  time.Time
	Reason    string
}

// CancelStatus is the outcome of a cancel call.
type CancelStatus string

const (
	CancelDone     CancelStatus = "CANCELED"
	CancelNotFound CancelStatus = "NOT_FOUND"
)

// Order is a broker-side pending order.
type Order struct {
	ClientOrderID string
	Instrument    string
	Units         float64
	CreateTime    time.Time
}

// Position is a broker-side open position.
type Position struct {
	Instrument    string
	Units         float64 // signed
	AvgPrice      float64
	TradeID       string
	ClientOrderID string
}

// AccountSnapshot is the broker's view of the account.
type AccountSnapshot struct {
	ID         string
	Currency   string
	Balance    float64
	Equity     float64
	MarginUsed float64
	Time       time.Time
}

// OrderClient places and manages orders.
type OrderClient interface {
	PlaceMarketOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	CancelOrder(ctx context.Context, clientOrderID string) (CancelStatus, error)
	ListOpenOrders(ctx context.Context) ([]Order, error)
	ListOpenPositions(ctx context.Context) ([]Position, error)

	// ClosePosition market-closes units of an open position. Units are
	// unsigned; the broker closes against the position's direction.
	ClosePosition(ctx context.Context, tradeID string, units float64) (OrderResult, error)
}

// AccountService reads account state and the broker's clock.
type AccountService interface {
	GetAccountSnapshot(ctx context.Context) (AccountSnapshot, error)
	ServerTime(ctx context.Context) (time.Time, error)
}

// Broker is the full outbound surface the execution bridge needs.
type Broker interface {
	CandleSource
	OrderClient
	AccountService
	market.TickSource
}

// ErrAuth marks a permanent authentication failure; the run must stop.
var ErrAuth = errors.New("broker: authentication failed")

// APIError is a non-2xx broker response.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("broker http %d: %s", e.Status, e.Body)
}

// Transient reports whether err is worth retrying: timeouts, connection
// resets, and 5xx responses. Auth failures and other 4xx are permanent.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrAuth) || errors.Is(err, context.Canceled) {
		return false
	}
	var api *APIError
	if errors.As(err, &api) {
		return api.Status >= 500 || api.Status == 429
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	// Unclassified transport errors are treated as transient.
	return true
}
