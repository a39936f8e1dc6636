// Package candlecache deduplicates candle fetches: concurrent requests for
// the same (symbol, interval, limit) share one in-flight call, and results
// are reused for a short TTL.
package candlecache

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"regime-engine/internal/clock"
	"regime-engine/internal/model"
)

// DefaultTTL is how long a fetched candle set is served without refetching.
const DefaultTTL = 12 * time.Second

// sharedFetchTimeout bounds a shared fetch, which no single caller can cancel.
const sharedFetchTimeout = 30 * time.Second

// Fetcher retrieves ordered candles. *binance.Client satisfies it, and so
// does *Cache.
type Fetcher interface {
	FetchCandles(ctx context.Context, symbol, interval string, limit int) ([]model.Candle, error)
}

type entry struct {
	candles   []model.Candle
	fetchedAt time.Time
}

// Cache wraps a Fetcher. Returned slices are shared and must not be modified.
type Cache struct {
	src   Fetcher
	ttl   time.Duration
	clock clock.Clock

	group singleflight.Group

	mu      sync.Mutex
	entries map[string]entry

	// Optional metrics hooks.
	OnHit  func()
	OnMiss func()
}

// New creates a cache in front of src. A nil clock means wall time.
func New(src Fetcher, ttl time.Duration, clk clock.Clock) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if clk == nil {
		clk = clock.System{}
	}
	return &Cache{
		src:     src,
		ttl:     ttl,
		clock:   clk,
		entries: make(map[string]entry),
	}
}

func key(symbol, interval string, limit int) string {
	return symbol + "|" + interval + "|" + strconv.Itoa(limit)
}

// FetchCandles serves a fresh cached result or joins/starts the fetch for key.
// Failures are never cached. The shared fetch runs detached from ctx.
func (c *Cache) FetchCandles(ctx context.Context, symbol, interval string, limit int) ([]model.Candle, error) {
	k := key(symbol, interval, limit)

	c.mu.Lock()
	if e, ok := c.entries[k]; ok && c.clock.Now().Sub(e.fetchedAt) < c.ttl {
		c.mu.Unlock()
		if c.OnHit != nil {
			c.OnHit()
		}
		return e.candles, nil
	}
	c.mu.Unlock()

	ch := c.group.DoChan(k, func() (interface{}, error) {
		if c.OnMiss != nil {
			c.OnMiss()
		}
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedFetchTimeout)
		defer cancel()
		candles, err := c.src.FetchCandles(fetchCtx, symbol, interval, limit)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.entries[k] = entry{candles: candles, fetchedAt: c.clock.Now()}
		c.mu.Unlock()
		return candles, nil
	})

	// Each caller waits on its own ctx; leaving early does not cancel the
	// fetch for the others.
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]model.Candle), nil
	}
}

// Invalidate drops every entry for symbol. In-flight fetches still complete
// and may repopulate; callers guard staleness on their side.
func (c *Cache) Invalidate(symbol string) {
	prefix := symbol + "|"
	c.mu.Lock()
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
		}
	}
	c.mu.Unlock()
}

// Len returns the number of cached entries, fresh or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
