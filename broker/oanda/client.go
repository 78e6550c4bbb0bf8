// Package oanda is the OANDA v20 REST adapter for the broker contracts.
package oanda

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jpillora/backoff"

	"github.com/fxpulse/fxpulse/broker"
	"github.com/fxpulse/fxpulse/logging"
	"github.com/fxpulse/fxpulse/market"
)

const (
	// PracticeURL is OANDA's demo environment.
	PracticeURL = "https://api-fxpractice.oanda.com"
	// LiveURL is OANDA's live trading environment.
	LiveURL = "https://api-fxtrade.oanda.com"

	defaultTimeout = 10 * time.Second
	maxRetries     = 2
)

// BaseURL maps an environment tag to the API host.
func BaseURL(env string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "practice", "demo":
		return PracticeURL, nil
	case "live":
		return LiveURL, nil
	default:
		return "", fmt.Errorf("unknown OANDA env %q (want demo|live)", env)
	}
}

// Client implements broker.Broker against the OANDA v20 REST API.
type Client struct {
	baseURL   string
	token     string
	accountID string
	http      *http.Client
	log       logging.Logger
}

// New builds a client for the given environment tag.
func New(env, token, accountID string, log logging.Logger) (*Client, error) {
	base, err := BaseURL(env)
	if err != nil {
		return nil, err
	}
	if token == "" || accountID == "" {
		return nil, fmt.Errorf("oanda: token and account id are required")
	}
	if log == nil {
		log = logging.Nop{}
	}
	return &Client{
		baseURL:   base,
		token:     token,
		accountID: accountID,
		http:      &http.Client{Timeout: defaultTimeout},
		log:       log,
	}, nil
}

// do runs one HTTP call with auth and bounded exponential-backoff retries
// for transient failures.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("oanda: encode request: %w", err)
		}
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	b := &backoff.Backoff{Min: 250 * time.Millisecond, Max: 2 * time.Second, Jitter: true}
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(b.Duration()):
			case <-ctx.Done():
				return ctx.Err()
			}
			c.log.Warn("retrying broker call", logging.F{
				"path": path, "attempt": attempt, "err": lastErr.Error(),
			})
		}

		lastErr = c.once(ctx, method, u, payload, out)
		if lastErr == nil {
			return nil
		}
		if !broker.Transient(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

func (c *Client) once(ctx context.Context, method, u string, payload []byte, out any) error {
	var rd io.Reader
	if payload != nil {
		rd = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return broker.ErrAuth
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return &broker.APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// granularity maps timeframes to OANDA candle granularities. The naming
// matches except for daily bars.
func granularity(tf market.Timeframe) string {
	if tf == market.D1 {
		return "D"
	}
	return string(tf)
}

type candleData struct {
	O string `json:"o"`
	H string `json:"h"`
	L string `json:"l"`
	C string `json:"c"`
}

type apiCandle struct {
	Complete bool       `json:"complete"`
	Volume   int        `json:"volume"`
	Time     time.Time  `json:"time"`
	Mid      candleData `json:"mid"`
}

type candlesResponse struct {
	Instrument string      `json:"instrument"`
	Candles    []apiCandle `json:"candles"`
}

// FetchCandles returns completed mid-price candles opening at or after
// since, oldest first.
func (c *Client) FetchCandles(ctx context.Context, instrument string, tf market.Timeframe,
	since time.Time, maxCount int) ([]market.Candle, error) {

	q := url.Values{}
	q.Set("price", "M")
	q.Set("granularity", granularity(tf))
	if maxCount > 0 {
		q.Set("count", strconv.Itoa(maxCount))
	}
	if !since.IsZero() {
		q.Set("from", since.UTC().Format(time.RFC3339))
		q.Set("includeFirst", "true")
	}

	var resp candlesResponse
	path := fmt.Sprintf("/v3/instruments/%s/candles", instrument)
	if err := c.do(ctx, http.MethodGet, path, q, nil, &resp); err != nil {
		return nil, err
	}

	out := make([]market.Candle, 0, len(resp.Candles))
	for _, ac := range resp.Candles {
		if !ac.Complete {
			continue
		}
		o, err1 := strconv.ParseFloat(ac.Mid.O, 64)
		h, err2 := strconv.ParseFloat(ac.Mid.H, 64)
		l, err3 := strconv.ParseFloat(ac.Mid.L, 64)
		cl, err4 := strconv.ParseFloat(ac.Mid.C, 64)
		if err := errors.Join(err1, err2, err3, err4); err != nil {
			return nil, fmt.Errorf("oanda: parse candle prices: %w", err)
		}
		out = append(out, market.Candle{
			Instrument: instrument,
			Timeframe:  tf,
			OpenTime:   ac.Time.UTC(),
			Open:       o,
			High:       h,
			Low:        l,
			Close:      cl,
			Volume:     float64(ac.Volume),
			Complete:   true,
		})
	}
	return out, nil
}

// GetTick returns the latest bid/ask for an instrument.
func (c *Client) GetTick(ctx context.Context, instrument string) (market.Tick, error) {
	q := url.Values{}
	q.Set("instruments", instrument)

	var resp struct {
		Prices []struct {
			Instrument string    `json:"instrument"`
			Time       time.Time `json:"time"`
			Bids       []struct {
				Price string `json:"price"`
			} `json:"bids"`
			Asks []struct {
				Price string `json:"price"`
			} `json:"asks"`
		} `json:"prices"`
	}
	path := fmt.Sprintf("/v3/accounts/%s/pricing", c.accountID)
	if err := c.do(ctx, http.MethodGet, path, q, nil, &resp); err != nil {
		return market.Tick{}, err
	}
	if len(resp.Prices) == 0 || len(resp.Prices[0].Bids) == 0 || len(resp.Prices[0].Asks) == 0 {
		return market.Tick{}, market.ErrNoTick
	}
	p := resp.Prices[0]
	bid, err1 := strconv.ParseFloat(p.Bids[0].Price, 64)
	ask, err2 := strconv.ParseFloat(p.Asks[0].Price, 64)
	if err := errors.Join(err1, err2); err != nil {
		return market.Tick{}, fmt.Errorf("oanda: parse prices: %w", err)
	}
	return market.Tick{Instrument: instrument, Time: p.Time.UTC(), Bid: bid, Ask: ask}, nil
}
