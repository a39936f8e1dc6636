package binance

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"regime-engine/internal/model"
)

func TestParseTrade(t *testing.T) {
	tick, err := parseTrade([]byte(`{"e":"trade","s":"BTCUSDT","p":"64000.50","q":"0.012","T":1700000000123}`), "btcusdt")
	if err != nil {
		t.Fatalf("parseTrade: %v", err)
	}
	if tick.Symbol != "BTCUSDT" || tick.Price != 64000.5 || tick.Qty != 0.012 {
		t.Fatalf("tick = %+v", tick)
	}
	if !tick.TickTS.Equal(time.UnixMilli(1700000000123)) {
		t.Fatalf("ts = %v", tick.TickTS)
	}

	for _, raw := range []string{
		`{"p":"abc","q":"1","T":1}`,
		`{"p":"1","q":"","T":1}`,
		`{"p":"1","q":"1"}`,
		`not json`,
	} {
		if _, err := parseTrade([]byte(raw), "BTCUSDT"); err == nil {
			t.Errorf("parseTrade(%s) should fail", raw)
		}
	}
}

func TestStream_DeliversTicks(t *testing.T) {
	upgrader := websocket.Upgrader{}
	paths := make(chan string, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths <- r.URL.Path
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, []byte(`{"s":"BTCUSDT","p":"100","q":"1","T":1700000000000}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`garbage`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"s":"BTCUSDT","p":"101","q":"2","T":1700000001000}`))
		time.Sleep(time.Second)
	}))
	defer srv.Close()

	s := NewStream(StreamConfig{BaseURL: "ws" + strings.TrimPrefix(srv.URL, "http")})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ticks := make(chan model.Tick, 8)
	go s.Start(ctx, "BTCUSDT", ticks)

	var got []model.Tick
	timeout := time.After(3 * time.Second)
	for len(got) < 2 {
		select {
		case tk := <-ticks:
			got = append(got, tk)
		case <-timeout:
			t.Fatalf("received %d ticks before timeout", len(got))
		}
	}
	if got[0].Price != 100 || got[1].Price != 101 || got[1].Qty != 2 {
		t.Fatalf("ticks = %+v", got)
	}
	if p := <-paths; p != "/btcusdt@trade" {
		t.Fatalf("subscribed path = %s", p)
	}
}

func TestBackoff(t *testing.T) {
	b := backoff{min: 10 * time.Millisecond, max: 40 * time.Millisecond}
	b.reset()
	want := []time.Duration{10, 20, 40, 40}
	for i, w := range want {
		if got := b.next(); got != w*time.Millisecond {
			t.Fatalf("next #%d = %s, want %s", i, got, w*time.Millisecond)
		}
	}
	b.reset()
	if got := b.next(); got != 10*time.Millisecond {
		t.Fatalf("after reset = %s", got)
	}
}

func TestStream_BackoffResetsAfterConnect(t *testing.T) {
	upgrader := websocket.Upgrader{}
	var attempts int32
	stamps := make(chan time.Time, 16)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&attempts, 1)
		select {
		case stamps <- time.Now():
		default:
		}
		if n <= 4 {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.Close()
	}))
	defer srv.Close()

	s := NewStream(StreamConfig{
		BaseURL:           "ws" + strings.TrimPrefix(srv.URL, "http"),
		ReconnectDelay:    20 * time.Millisecond,
		MaxReconnectDelay: time.Second,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Start(ctx, "BTCUSDT", make(chan model.Tick, 1))

	var got []time.Time
	timeout := time.After(5 * time.Second)
	for len(got) < 6 {
		select {
		case ts := <-stamps:
			got = append(got, ts)
		case <-timeout:
			t.Fatalf("only %d connection attempts", len(got))
		}
	}
	// four failed dials grew the delay to 320ms; the connect on attempt 5
	// brings it back to 20ms
	if gap := got[5].Sub(got[4]); gap > 200*time.Millisecond {
		t.Fatalf("redial after a successful connect took %s, backoff was not reset", gap)
	}
}
