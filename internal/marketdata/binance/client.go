// Package binance talks to the Binance spot API: REST klines for candle
// history and the per-symbol @trade websocket stream for live ticks.
package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"regime-engine/internal/model"
)

const (
	DefaultRESTURL = "https://api.binance.com"
	DefaultWSURL   = "wss://stream.binance.com:9443/ws"

	klinesPath = "/api/v3/klines"
	maxLimit   = 1000
)

// ClientConfig configures the REST client.
type ClientConfig struct {
	BaseURL string
	Timeout time.Duration

	// RPS and Burst bound outgoing requests. Defaults: 10 rps, burst 5.
	RPS   float64
	Burst int

	// ConsecutiveFailures trips the breaker; it stays open for OpenTimeout.
	ConsecutiveFailures uint32
	OpenTimeout         time.Duration

	// OnStateChange is called on breaker transitions (e.g. for metrics).
	OnStateChange func(from, to string)

	HTTPClient *http.Client
}

func (c *ClientConfig) defaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultRESTURL
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.RPS <= 0 {
		c.RPS = 10
	}
	if c.Burst <= 0 {
		c.Burst = 5
	}
	if c.ConsecutiveFailures == 0 {
		c.ConsecutiveFailures = 3
	}
	if c.OpenTimeout <= 0 {
		c.OpenTimeout = 30 * time.Second
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
}

// Client fetches klines through a rate limiter and a circuit breaker.
// Safe for concurrent use.
type Client struct {
	cfg     ClientConfig
	http    *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

// NewClient creates a REST client.
func NewClient(cfg ClientConfig) *Client {
	cfg.defaults()
	st := gobreaker.Settings{
		Name:     "binance-rest",
		Interval: 60 * time.Second,
		Timeout:  cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		// A caller giving up says nothing about the provider.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Printf("[binance] breaker %s: %s -> %s", name, from, to)
			if cfg.OnStateChange != nil {
				cfg.OnStateChange(from.String(), to.String())
			}
		},
	}
	return &Client{
		cfg:     cfg,
		http:    cfg.HTTPClient,
		limiter: rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst),
		breaker: gobreaker.NewCircuitBreaker(st),
	}
}

// BreakerState returns "closed", "half-open" or "open".
func (c *Client) BreakerState() string { return c.breaker.State().String() }

// FetchCandles returns up to limit candles for symbol/interval, oldest first.
// Every failure is a *FetchError matching ErrDataFetch.
func (c *Client) FetchCandles(ctx context.Context, symbol, interval string, limit int) ([]model.Candle, error) {
	if limit <= 0 || limit > maxLimit {
		limit = maxLimit
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fetchErr(symbol, interval, err)
	}

	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.fetch(ctx, symbol, interval, limit)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fetchErr(symbol, interval, fmt.Errorf("circuit %s: %w", c.breaker.State(), err))
		}
		return nil, fetchErr(symbol, interval, err)
	}
	return out.([]model.Candle), nil
}

func (c *Client) fetch(ctx context.Context, symbol, interval string, limit int) ([]model.Candle, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", interval)
	params.Set("limit", strconv.Itoa(limit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+klinesPath+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, body)
	}

	var rows [][]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("decode klines: %w", err)
	}
	return parseKlines(rows)
}

// parseKlines converts [openTimeMs, "open", "high", "low", "close", "volume", ...]
// rows into candles with Time in unix seconds.
func parseKlines(rows [][]json.RawMessage) ([]model.Candle, error) {
	out := make([]model.Candle, 0, len(rows))
	for i, row := range rows {
		if len(row) < 6 {
			return nil, fmt.Errorf("kline %d: %d fields", i, len(row))
		}
		var openMs int64
		if err := json.Unmarshal(row[0], &openMs); err != nil {
			return nil, fmt.Errorf("kline %d: open time: %w", i, err)
		}
		var f [5]float64
		for j := range f {
			v, err := parseNum(row[j+1])
			if err != nil {
				return nil, fmt.Errorf("kline %d: field %d: %w", i, j+1, err)
			}
			f[j] = v
		}
		out = append(out, model.Candle{
			Time:   openMs / 1000,
			Open:   f[0],
			High:   f[1],
			Low:    f[2],
			Close:  f[3],
			Volume: f[4],
		})
	}
	return out, nil
}

// parseNum accepts Binance's quoted decimals as well as bare JSON numbers.
func parseNum(raw json.RawMessage) (float64, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strconv.ParseFloat(s, 64)
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, err
	}
	return v, nil
}
