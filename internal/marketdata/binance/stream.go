package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"regime-engine/internal/model"
)

// StreamConfig holds configuration for the trade stream ingest.
type StreamConfig struct {
	// BaseURL of the raw stream endpoint, e.g. "wss://stream.binance.com:9443/ws".
	BaseURL string

	// ReconnectDelay is the initial delay before reconnection attempts.
	// Defaults to 1.5 seconds if zero.
	ReconnectDelay time.Duration

	// MaxReconnectDelay caps the exponential backoff. Defaults to 30s.
	MaxReconnectDelay time.Duration
}

func (c *StreamConfig) defaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultWSURL
	}
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = 1500 * time.Millisecond
	}
	if c.MaxReconnectDelay == 0 {
		c.MaxReconnectDelay = 30 * time.Second
	}
}

// tradeMsg is the @trade payload: p price, q qty, T trade time (ms).
type tradeMsg struct {
	Symbol string `json:"s"`
	Price  string `json:"p"`
	Qty    string `json:"q"`
	Time   int64  `json:"T"`
}

// Stream subscribes to <symbol>@trade and pushes model.Tick values into a
// channel. Reconnection gaps are not filled; the consumer simply sees the
// stream resume.
type Stream struct {
	cfg StreamConfig

	// Optional hooks.
	OnReconnect func()
	OnDrop      func()
}

// NewStream creates a trade stream ingest.
func NewStream(cfg StreamConfig) *Stream {
	cfg.defaults()
	return &Stream{cfg: cfg}
}

// URL returns the stream endpoint for symbol.
func (s *Stream) URL(symbol string) string {
	return strings.TrimRight(s.cfg.BaseURL, "/") + "/" + strings.ToLower(symbol) + "@trade"
}

// Start streams ticks for symbol into tickCh until ctx is cancelled,
// reconnecting with exponential backoff. The backoff restarts from
// ReconnectDelay after every successful connection.
func (s *Stream) Start(ctx context.Context, symbol string, tickCh chan<- model.Tick) error {
	b := backoff{min: s.cfg.ReconnectDelay, max: s.cfg.MaxReconnectDelay}
	b.reset()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		connected, err := s.runOnce(ctx, symbol, tickCh)
		if err == nil {
			return nil
		}
		if connected {
			b.reset()
		}
		delay := b.next()

		log.Printf("[binance] %s stream disconnected (%v), reconnecting in %s...", symbol, err, delay)
		if s.OnReconnect != nil {
			s.OnReconnect()
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

type backoff struct {
	min, max, cur time.Duration
}

func (b *backoff) reset() { b.cur = b.min }

// next returns the current delay and doubles it up to max.
func (b *backoff) next() time.Duration {
	d := b.cur
	b.cur *= 2
	if b.cur > b.max {
		b.cur = b.max
	}
	return d
}

// runOnce makes a single connection attempt and reads until disconnect or
// ctx cancel. The bool reports whether the dial succeeded.
func (s *Stream) runOnce(ctx context.Context, symbol string, tickCh chan<- model.Tick) (bool, error) {
	url := s.URL(symbol)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	log.Printf("[binance] connected to %s", url)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"))
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-ctx.Done():
				return true, nil
			default:
			}
			return true, err
		}

		tick, err := parseTrade(raw, symbol)
		if err != nil {
			log.Printf("[binance] parse error: %v (raw: %s)", err, raw)
			continue
		}

		select {
		case tickCh <- tick:
		default:
			if s.OnDrop != nil {
				s.OnDrop()
			}
			log.Println("[binance] tickCh full, dropping tick")
		}
	}
}

func parseTrade(raw []byte, symbol string) (model.Tick, error) {
	var m tradeMsg
	if err := json.Unmarshal(raw, &m); err != nil {
		return model.Tick{}, err
	}
	price, err := strconv.ParseFloat(m.Price, 64)
	if err != nil {
		return model.Tick{}, fmt.Errorf("price: %w", err)
	}
	qty, err := strconv.ParseFloat(m.Qty, 64)
	if err != nil {
		return model.Tick{}, fmt.Errorf("qty: %w", err)
	}
	if m.Time <= 0 {
		return model.Tick{}, fmt.Errorf("missing trade time")
	}
	sym := m.Symbol
	if sym == "" {
		sym = symbol
	}
	return model.Tick{
		Symbol: strings.ToUpper(sym),
		Price:  price,
		Qty:    qty,
		TickTS: time.UnixMilli(m.Time).UTC(),
	}, nil
}
