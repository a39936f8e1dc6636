package candlecache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"regime-engine/internal/clock"
	"regime-engine/internal/model"
)

type fakeFetcher struct {
	calls int32
	gate  chan struct{} // when non-nil, fetches block until closed
	err   error
}

func (f *fakeFetcher) FetchCandles(ctx context.Context, symbol, interval string, limit int) ([]model.Candle, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return []model.Candle{{Time: 1, Close: float64(limit)}}, nil
}

func (f *fakeFetcher) count() int { return int(atomic.LoadInt32(&f.calls)) }

var t0 = time.Unix(1700000000, 0)

func TestCache_TTL(t *testing.T) {
	src := &fakeFetcher{}
	clk := clock.NewManual(t0)
	c := New(src, 12*time.Second, clk)
	ctx := context.Background()

	if _, err := c.FetchCandles(ctx, "BTCUSDT", "1h", 260); err != nil {
		t.Fatal(err)
	}
	clk.Advance(11 * time.Second)
	c.FetchCandles(ctx, "BTCUSDT", "1h", 260)
	if src.count() != 1 {
		t.Fatalf("calls = %d, want 1 within TTL", src.count())
	}

	clk.Advance(time.Second) // exactly TTL old
	c.FetchCandles(ctx, "BTCUSDT", "1h", 260)
	if src.count() != 2 {
		t.Fatalf("calls = %d, want refetch at TTL", src.count())
	}
}

func TestCache_KeyedByRequest(t *testing.T) {
	src := &fakeFetcher{}
	c := New(src, time.Minute, clock.NewManual(t0))
	ctx := context.Background()

	c.FetchCandles(ctx, "BTCUSDT", "1h", 260)
	c.FetchCandles(ctx, "BTCUSDT", "1h", 900)
	c.FetchCandles(ctx, "BTCUSDT", "4h", 260)
	c.FetchCandles(ctx, "ETHUSDT", "1h", 260)
	if src.count() != 4 {
		t.Fatalf("calls = %d, want 4 distinct keys", src.count())
	}
	got, _ := c.FetchCandles(ctx, "BTCUSDT", "1h", 900)
	if got[0].Close != 900 {
		t.Fatalf("wrong entry served: %+v", got)
	}
}

func TestCache_ConcurrentCallsShareOneFetch(t *testing.T) {
	src := &fakeFetcher{gate: make(chan struct{})}
	c := New(src, time.Minute, clock.NewManual(t0))

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.FetchCandles(context.Background(), "BTCUSDT", "1h", 260)
			errs <- err
		}()
	}
	// let the callers pile up behind the first fetch
	time.Sleep(50 * time.Millisecond)
	close(src.gate)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if src.count() != 1 {
		t.Fatalf("calls = %d, want 1 shared fetch", src.count())
	}
}

func TestCache_CancelledCallerDoesNotFailJoiners(t *testing.T) {
	src := &fakeFetcher{gate: make(chan struct{})}
	c := New(src, time.Minute, clock.NewManual(t0))

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := c.FetchCandles(firstCtx, "BTCUSDT", "1h", 260)
		firstErr <- err
	}()
	time.Sleep(20 * time.Millisecond)

	type result struct {
		candles []model.Candle
		err     error
	}
	second := make(chan result, 1)
	go func() {
		got, err := c.FetchCandles(context.Background(), "BTCUSDT", "1h", 260)
		second <- result{got, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelFirst()
	if err := <-firstErr; !errors.Is(err, context.Canceled) {
		t.Fatalf("first caller err = %v, want context.Canceled", err)
	}

	close(src.gate)
	res := <-second
	if res.err != nil {
		t.Fatalf("joiner with live ctx got err=%v", res.err)
	}
	if len(res.candles) != 1 || res.candles[0].Close != 260 {
		t.Fatalf("joiner got %+v", res.candles)
	}
	if src.count() != 1 {
		t.Fatalf("calls = %d, want 1 shared fetch", src.count())
	}
}

func TestCache_ErrorsNotCached(t *testing.T) {
	boom := errors.New("boom")
	src := &fakeFetcher{err: boom}
	c := New(src, time.Minute, clock.NewManual(t0))

	for i := 0; i < 2; i++ {
		if _, err := c.FetchCandles(context.Background(), "BTCUSDT", "1h", 260); !errors.Is(err, boom) {
			t.Fatalf("err = %v", err)
		}
	}
	if src.count() != 2 || c.Len() != 0 {
		t.Fatalf("calls=%d len=%d, failures must not be cached", src.count(), c.Len())
	}
}

func TestCache_Invalidate(t *testing.T) {
	src := &fakeFetcher{}
	c := New(src, time.Minute, clock.NewManual(t0))
	ctx := context.Background()

	c.FetchCandles(ctx, "BTCUSDT", "1h", 260)
	c.FetchCandles(ctx, "BTCUSDTX", "1h", 260)
	c.Invalidate("BTCUSDT")
	if c.Len() != 1 {
		t.Fatalf("len = %d, want only the other symbol left", c.Len())
	}
	c.FetchCandles(ctx, "BTCUSDT", "1h", 260)
	if src.count() != 3 {
		t.Fatalf("calls = %d, want refetch after invalidate", src.count())
	}
}

func TestCache_Hooks(t *testing.T) {
	var hits, misses int
	c := New(&fakeFetcher{}, time.Minute, clock.NewManual(t0))
	c.OnHit = func() { hits++ }
	c.OnMiss = func() { misses++ }

	c.FetchCandles(context.Background(), "BTCUSDT", "1h", 260)
	c.FetchCandles(context.Background(), "BTCUSDT", "1h", 260)
	if hits != 1 || misses != 1 {
		t.Fatalf("hits=%d misses=%d", hits, misses)
	}
}
