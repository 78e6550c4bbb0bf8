package oanda

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/fxpulse/fxpulse/broker"
)

// priceStr formats a price for the v20 API, which takes decimal strings.
func priceStr(p float64) string {
	return strconv.FormatFloat(p, 'f', 5, 64)
}

type clientExtensions struct {
	ID string `json:"id"`
}

type orderBody struct {
	Order struct {
		Type             string            `json:"type"`
		Instrument       string            `json:"instrument"`
		Units            string            `json:"units"`
		TimeInForce      string            `json:"timeInForce"`
		PositionFill     string            `json:"positionFill"`
		ClientExtensions *clientExtensions `json:"clientExtensions,omitempty"`
		StopLossOnFill   *struct {
			Price string `json:"price"`
		} `json:"stopLossOnFill,omitempty"`
		TakeProfitOnFill *struct {
			Price string `json:"price"`
		} `json:"takeProfitOnFill,omitempty"`
	} `json:"order"`
}

type orderResponse struct {
	OrderFillTransaction *struct {
		ID    string    `json:"id"`
		Price string    `json:"price"`
		Time  time.Time `json:"time"`
		TradeOpened *struct {
			TradeID string `json:"tradeID"`
		} `json:"tradeOpened"`
	} `json:"orderFillTransaction"`
	OrderCancelTransaction *struct {
		Reason string `json:"reason"`
	} `json:"orderCancelTransaction"`
	OrderRejectTransaction *struct {
		RejectReason string `json:"rejectReason"`
	} `json:"orderRejectTransaction"`
}

// PlaceMarketOrder submits a market order with attached stop and take
// profit. The client order id rides in clientExtensions, which is what
// makes a retry of the same submission idempotent at OANDA.
func (c *Client) PlaceMarketOrder(ctx context.Context, req broker.OrderRequest) (broker.OrderResult, error) {
	var body orderBody
	body.Order.Type = "MARKET"
	body.Order.Instrument = req.Instrument
	body.Order.Units = strconv.FormatFloat(req.Units, 'f', 0, 64)
	body.Order.TimeInForce = "FOK"
	body.Order.PositionFill = "DEFAULT"
	if req.ClientOrderID != "" {
		body.Order.ClientExtensions = &clientExtensions{ID: req.ClientOrderID}
	}
	if req.StopPrice > 0 {
		body.Order.StopLossOnFill = &struct {
			Price string `json:"price"`
		}{Price: priceStr(req.StopPrice)}
	}
	if req.TakeProfitPrice > 0 {
		body.Order.TakeProfitOnFill = &struct {
			Price string `json:"price"`
		}{Price: priceStr(req.TakeProfitPrice)}
	}

	var resp orderResponse
	path := fmt.Sprintf("/v3/accounts/%s/orders", c.accountID)
	if err := c.do(ctx, http.MethodPost, path, nil, body, &resp); err != nil {
		return broker.OrderResult{}, err
	}

	switch {
	case resp.OrderFillTransaction != nil:
		fill := resp.OrderFillTransaction
		px, err := strconv.ParseFloat(fill.Price, 64)
		if err != nil {
			return broker.OrderResult{}, fmt.Errorf("oanda: parse fill price: %w", err)
		}
		tradeID := fill.ID
		if fill.TradeOpened != nil {
			tradeID = fill.TradeOpened.TradeID
		}
		return broker.OrderResult{
			Status:    broker.OrderFilled,
			TradeID:   tradeID,
			FillPrice: px,
			FillTime:  fill.Time.UTC(),
		}, nil

	case resp.OrderRejectTransaction != nil:
		return broker.OrderResult{
			Status: broker.OrderRejected,
			Reason: resp.OrderRejectTransaction.RejectReason,
		}, nil

	case resp.OrderCancelTransaction != nil:
		return broker.OrderResult{
			Status: broker.OrderRejected,
			Reason: resp.OrderCancelTransaction.Reason,
		}, nil
	}
	return broker.OrderResult{Status: broker.OrderPending}, nil
}

// CancelOrder cancels a pending order by its client order id.
func (c *Client) CancelOrder(ctx context.Context, clientOrderID string) (broker.CancelStatus, error) {
	path := fmt.Sprintf("/v3/accounts/%s/orders/@%s/cancel", c.accountID, clientOrderID)
	err := c.do(ctx, http.MethodPut, path, nil, nil, nil)
	if err != nil {
		var api *broker.APIError
		if errors.As(err, &api) && api.Status == http.StatusNotFound {
			return broker.CancelNotFound, nil
		}
		return "", err
	}
	return broker.CancelDone, nil
}

// ListOpenOrders returns the account's pending orders.
func (c *Client) ListOpenOrders(ctx context.Context) ([]broker.Order, error) {
	var resp struct {
		Orders []struct {
			Instrument       string            `json:"instrument"`
			Units            string            `json:"units"`
			CreateTime       time.Time         `json:"createTime"`
			ClientExtensions *clientExtensions `json:"clientExtensions"`
		} `json:"orders"`
	}
	path := fmt.Sprintf("/v3/accounts/%s/pendingOrders", c.accountID)
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &resp); err != nil {
		return nil, err
	}

	out := make([]broker.Order, 0, len(resp.Orders))
	for _, o := range resp.Orders {
		units, _ := strconv.ParseFloat(o.Units, 64)
		ord := broker.Order{
			Instrument: o.Instrument,
			Units:      units,
			CreateTime: o.CreateTime.UTC(),
		}
		if o.ClientExtensions != nil {
			ord.ClientOrderID = o.ClientExtensions.ID
		}
		out = append(out, ord)
	}
	return out, nil
}

// ListOpenPositions returns open trades, one entry per broker trade so the
// client order id link survives.
func (c *Client) ListOpenPositions(ctx context.Context) ([]broker.Position, error) {
	var resp struct {
		Trades []struct {
			ID               string            `json:"id"`
			Instrument       string            `json:"instrument"`
			CurrentUnits     string            `json:"currentUnits"`
			Price            string            `json:"price"`
			ClientExtensions *clientExtensions `json:"clientExtensions"`
		} `json:"trades"`
	}
	path := fmt.Sprintf("/v3/accounts/%s/openTrades", c.accountID)
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &resp); err != nil {
		return nil, err
	}

	out := make([]broker.Position, 0, len(resp.Trades))
	for _, tr := range resp.Trades {
		units, _ := strconv.ParseFloat(tr.CurrentUnits, 64)
		px, _ := strconv.ParseFloat(tr.Price, 64)
		pos := broker.Position{
			Instrument: tr.Instrument,
			Units:      units,
			AvgPrice:   px,
			TradeID:    tr.ID,
		}
		if tr.ClientExtensions != nil {
			pos.ClientOrderID = tr.ClientExtensions.ID
		}
		out = append(out, pos)
	}
	return out, nil
}

// ClosePosition market-closes part or all of an open trade.
func (c *Client) ClosePosition(ctx context.Context, tradeID string, units float64) (broker.OrderResult, error) {
	body := map[string]string{"units": "ALL"}
	if units > 0 {
		body["units"] = strconv.FormatFloat(units, 'f', 0, 64)
	}

	var resp orderResponse
	path := fmt.Sprintf("/v3/accounts/%s/trades/%s/close", c.accountID, tradeID)
	if err := c.do(ctx, http.MethodPut, path, nil, body, &resp); err != nil {
		return broker.OrderResult{}, err
	}
	if resp.OrderFillTransaction != nil {
		px, err := strconv.ParseFloat(resp.OrderFillTransaction.Price, 64)
		if err != nil {
			return broker.OrderResult{}, fmt.Errorf("oanda: parse close price: %w", err)
		}
		return broker.OrderResult{
			Status:    broker.OrderFilled,
			TradeID:   tradeID,
			FillPrice: px,
			FillTime:  resp.OrderFillTransaction.Time.UTC(),
		}, nil
	}
	return broker.OrderResult{Status: broker.OrderPending, TradeID: tradeID}, nil
}

// GetAccountSnapshot reads balance, equity and margin use.
func (c *Client) GetAccountSnapshot(ctx context.Context) (broker.AccountSnapshot, error) {
	var resp struct {
		Account struct {
			ID         string `json:"id"`
			Currency   string `json:"currency"`
			Balance    string `json:"balance"`
			NAV        string `json:"NAV"`
			MarginUsed string `json:"marginUsed"`
		} `json:"account"`
	}
	path := fmt.Sprintf("/v3/accounts/%s/summary", c.accountID)
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &resp); err != nil {
		return broker.AccountSnapshot{}, err
	}

	bal, err1 := strconv.ParseFloat(resp.Account.Balance, 64)
	nav, err2 := strconv.ParseFloat(resp.Account.NAV, 64)
	margin, err3 := strconv.ParseFloat(resp.Account.MarginUsed, 64)
	if err := errors.Join(err1, err2, err3); err != nil {
		return broker.AccountSnapshot{}, fmt.Errorf("oanda: parse account summary: %w", err)
	}
	return broker.AccountSnapshot{
		ID:         resp.Account.ID,
		Currency:   resp.Account.Currency,
		Balance:    bal,
		Equity:     nav,
		MarginUsed: margin,
		Time:       time.Now().UTC(),
	}, nil
}

// ServerTime reads the broker clock from a response Date header, used for
// the startup clock-skew check.
func (c *Client) ServerTime(ctx context.Context) (time.Time, error) {
	u := c.baseURL + "/v3/accounts/" + c.accountID + "/summary"
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, u, nil)
	if err != nil {
		return time.Time{}, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return time.Time{}, err
	}
	defer resp.Body.Close()

	date := resp.Header.Get("Date")
	if date == "" {
		return time.Time{}, fmt.Errorf("oanda: no Date header in response")
	}
	t, err := http.ParseTime(date)
	if err != nil {
		return time.Time{}, fmt.Errorf("oanda: parse Date header: %w", err)
	}
	return t.UTC(), nil
}

var _ broker.Broker = (*Client)(nil)
