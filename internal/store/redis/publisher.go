// Package redis publishes engine events and snapshots to Redis so that
// dashboards and other services can pull the current regime without talking
// to the engine directly.
//
// Per event: SET the latest event of its kind, XADD to the per-symbol event
// stream, PUBLISH on the per-symbol channel. Writes go through a circuit
// breaker; while it is open, events are buffered locally (oldest dropped
// first) and replayed once a write succeeds again.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/sony/gobreaker"

	"regime-engine/internal/model"
	"regime-engine/internal/ringbuf"
)

const (
	defaultLatestTTL    = 30 * time.Minute
	defaultStreamMaxLen = 5000
	defaultMaxBuffered  = 10000
)

// Config configures the publisher.
type Config struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int

	LatestTTL    time.Duration
	StreamMaxLen int64
	MaxBuffered  int

	// Breaker: ConsecutiveFailures trips it; it stays open for OpenTimeout.
	ConsecutiveFailures uint32
	OpenTimeout         time.Duration
}

func (c *Config) defaults() {
	if c.LatestTTL <= 0 {
		c.LatestTTL = defaultLatestTTL
	}
	if c.StreamMaxLen <= 0 {
		c.StreamMaxLen = defaultStreamMaxLen
	}
	if c.MaxBuffered <= 0 {
		c.MaxBuffered = defaultMaxBuffered
	}
	if c.ConsecutiveFailures == 0 {
		c.ConsecutiveFailures = 5
	}
	if c.OpenTimeout <= 0 {
		c.OpenTimeout = 10 * time.Second
	}
}

// Publisher writes events and snapshots to Redis.
type Publisher struct {
	cfg     Config
	client  *goredis.Client
	breaker *gobreaker.CircuitBreaker

	mu      sync.Mutex
	pending *ringbuf.Ring[model.Event]

	// Optional hooks (metrics).
	OnError       func()
	OnBuffer      func()
	OnFlush       func(count int)
	OnStateChange func(from, to string)
}

// LatestKey is where the newest event of a kind is kept.
func LatestKey(symbol string, kind model.EventKind) string {
	return "regime:last:" + symbol + ":" + string(kind)
}

// SnapshotKey is where the engine snapshot for symbol is kept.
func SnapshotKey(symbol string) string { return "regime:snapshot:" + symbol }

// New connects to Redis, pings it and returns a Publisher.
func New(cfg Config) (*Publisher, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return NewWithClient(client, cfg), nil
}

// NewWithClient wraps an existing client (tests use redismock).
func NewWithClient(client *goredis.Client, cfg Config) *Publisher {
	cfg.defaults()
	p := &Publisher{
		cfg:     cfg,
		client:  client,
		pending: ringbuf.New[model.Event](256),
	}
	p.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "redis",
		Timeout: cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Printf("[redis] breaker %s -> %s", from, to)
			if p.OnStateChange != nil {
				p.OnStateChange(from.String(), to.String())
			}
		},
	})
	return p
}

// Client returns the underlying Redis client for health checks.
func (p *Publisher) Client() *goredis.Client { return p.client }

// BreakerState returns "closed", "half-open" or "open".
func (p *Publisher) BreakerState() string { return p.breaker.State().String() }

// Run publishes events from ch until ctx is cancelled or ch is closed.
func (p *Publisher) Run(ctx context.Context, ch <-chan model.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := p.Publish(ctx, ev); err != nil {
				log.Printf("[redis] publish %s %s: %v", ev.Kind, ev.Symbol, err)
			}
		}
	}
}

// Publish writes one event. An open breaker buffers the event and returns nil.
func (p *Publisher) Publish(ctx context.Context, ev model.Event) error {
	_, err := p.breaker.Execute(func() (interface{}, error) {
		return nil, p.write(ctx, ev)
	})
	switch {
	case err == nil:
		if p.PendingCount() > 0 && p.breaker.State() == gobreaker.StateClosed {
			p.flush(ctx)
		}
		return nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		p.buffer(ev)
		return nil
	default:
		if p.OnError != nil {
			p.OnError()
		}
		return err
	}
}

func (p *Publisher) write(ctx context.Context, ev model.Event) error {
	data := string(ev.JSON())
	if err := p.client.Set(ctx, LatestKey(ev.Symbol, ev.Kind), data, p.cfg.LatestTTL).Err(); err != nil {
		return fmt.Errorf("redis SET: %w", err)
	}
	if err := p.client.XAdd(ctx, &goredis.XAddArgs{
		Stream: ev.StreamKey(),
		MaxLen: p.cfg.StreamMaxLen,
		Approx: true,
		Values: map[string]interface{}{"data": data},
	}).Err(); err != nil {
		return fmt.Errorf("redis XADD: %w", err)
	}
	if err := p.client.Publish(ctx, ev.PubSubChannel(), data).Err(); err != nil {
		return fmt.Errorf("redis PUBLISH: %w", err)
	}
	return nil
}

// PublishSnapshot stores a JSON snapshot for symbol with the latest-TTL.
func (p *Publisher) PublishSnapshot(ctx context.Context, symbol string, snapshot interface{}) error {
	b, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("redis: marshal snapshot: %w", err)
	}
	_, err = p.breaker.Execute(func() (interface{}, error) {
		return nil, p.client.Set(ctx, SnapshotKey(symbol), string(b), p.cfg.LatestTTL).Err()
	})
	if err != nil && p.OnError != nil {
		p.OnError()
	}
	return err
}

// Recent returns up to n newest events for symbol, newest first.
func (p *Publisher) Recent(ctx context.Context, symbol string, n int64) ([]model.Event, error) {
	stream := (&model.Event{Symbol: symbol}).StreamKey()
	msgs, err := p.client.XRevRangeN(ctx, stream, "+", "-", n).Result()
	if err != nil {
		if err == goredis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("redis XREVRANGE %s: %w", stream, err)
	}
	out := make([]model.Event, 0, len(msgs))
	for _, m := range msgs {
		raw, ok := m.Values["data"].(string)
		if !ok {
			continue
		}
		var ev model.Event
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			log.Printf("[redis] skipping malformed stream entry %s: %v", m.ID, err)
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

func (p *Publisher) buffer(ev model.Event) {
	p.mu.Lock()
	if p.pending.Len() >= p.cfg.MaxBuffered {
		p.pending.PopFront()
	}
	p.pending.Push(ev)
	p.mu.Unlock()
	if p.OnBuffer != nil {
		p.OnBuffer()
	}
}

// flush replays buffered events in order. Events that fail again are dropped.
func (p *Publisher) flush(ctx context.Context) {
	p.mu.Lock()
	toFlush := make([]model.Event, 0, p.pending.Len())
	for {
		ev, ok := p.pending.PopFront()
		if !ok {
			break
		}
		toFlush = append(toFlush, ev)
	}
	p.mu.Unlock()

	flushed := 0
	for _, ev := range toFlush {
		if err := p.write(ctx, ev); err != nil {
			log.Printf("[redis] flush %s %s: %v", ev.Kind, ev.Symbol, err)
			continue
		}
		flushed++
	}
	log.Printf("[redis] flushed %d/%d buffered events", flushed, len(toFlush))
	if p.OnFlush != nil {
		p.OnFlush(flushed)
	}
}

// PendingCount returns the number of buffered events waiting to be flushed.
func (p *Publisher) PendingCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pending.Len()
}

// Close closes the Redis client.
func (p *Publisher) Close() error {
	return p.client.Close()
}
