// cmd/tickserver is a staging trade stream.
// Serves a Binance-compatible <symbol>@trade WebSocket so regimed can run
// without the exchange (BINANCE_WS_URL=ws://localhost:9001/ws).
//
// Message shape matches the exchange payload regimed parses:
//
//	{"e":"trade","s":"BTCUSDT","p":"64123.50","q":"0.012","T":1700000000000}
//
// Ticks come from a random walk with a scripted impulse every
// TICK_IMPULSE_SEC, or from a JSONL recording when TICK_FILE is set.
//
// Config (env vars):
//
//	TICK_SERVER_ADDR  listen address  (default: ":9001")
//	TICK_SYMBOLS      comma-separated SYMBOL:PRICE pairs (default: "BTCUSDT:64000")
//	TICK_INTERVAL_MS  broadcast interval milliseconds (default: "100")
//	TICK_IMPULSE_SEC  seconds between scripted impulses, 0 disables (default: "300")
//	TICK_FILE         JSONL recording to replay instead of simulating
//	TICK_SPEED        replay speed multiplier (default: "1")
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"regime-engine/internal/marketdata/replay"
	"regime-engine/internal/model"
)

// tradeMsg mirrors the exchange @trade payload.
type tradeMsg struct {
	Event  string `json:"e"`
	Symbol string `json:"s"`
	Price  string `json:"p"`
	Qty    string `json:"q"`
	Time   int64  `json:"T"`
}

func encodeTick(t model.Tick) ([]byte, error) {
	return json.Marshal(tradeMsg{
		Event:  "trade",
		Symbol: t.Symbol,
		Price:  strconv.FormatFloat(t.Price, 'f', -1, 64),
		Qty:    strconv.FormatFloat(t.Qty, 'f', -1, 64),
		Time:   t.TickTS.UnixMilli(),
	})
}

// instrument holds per-symbol simulation state.
type instrument struct {
	Symbol string
	Price  float64
}

// ─── Hub ──────────────────────────────────────────────────────────────────────

type client struct {
	symbol string
	ch     chan []byte
}

type hub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]*client
}

func newHub() *hub {
	return &hub{clients: make(map[*websocket.Conn]*client)}
}

func (h *hub) register(conn *websocket.Conn, symbol string) chan []byte {
	c := &client{symbol: symbol, ch: make(chan []byte, 256)}
	h.mu.Lock()
	h.clients[conn] = c
	h.mu.Unlock()
	return c.ch
}

func (h *hub) unregister(conn *websocket.Conn) {
	h.mu.Lock()
	if c, ok := h.clients[conn]; ok {
		close(c.ch)
		delete(h.clients, conn)
	}
	h.mu.Unlock()
}

// broadcast sends msg to every client subscribed to symbol.
func (h *hub) broadcast(symbol string, msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		if c.symbol != symbol {
			continue
		}
		select {
		case c.ch <- msg:
		default: // slow client, drop tick
		}
	}
}

func (h *hub) publish(t model.Tick) {
	b, err := encodeTick(t)
	if err != nil {
		return
	}
	h.broadcast(t.Symbol, b)
}

// ─── WebSocket handler ────────────────────────────────────────────────────────

var upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

// symbolFromPath extracts BTCUSDT from /ws/btcusdt@trade.
func symbolFromPath(path string) (string, bool) {
	stream := path[strings.LastIndex(path, "/")+1:]
	sym, ok := strings.CutSuffix(stream, "@trade")
	if !ok || sym == "" {
		return "", false
	}
	return strings.ToUpper(sym), true
}

func wsHandler(h *hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		symbol, ok := symbolFromPath(r.URL.Path)
		if !ok {
			http.Error(w, "expected /ws/<symbol>@trade", http.StatusNotFound)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[tickserver] upgrade error: %v", err)
			return
		}
		log.Printf("[tickserver] client connected: %s (%s)", r.RemoteAddr, symbol)

		ch := h.register(conn, symbol)
		defer func() {
			h.unregister(conn)
			conn.Close()
			log.Printf("[tickserver] client disconnected: %s", r.RemoteAddr)
		}()

		// Read side only watches for the peer going away.
		go func() {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					h.unregister(conn)
					return
				}
			}
		}()

		for msg := range ch {
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}

// ─── Tick generator ──────────────────────────────────────────────────────────

// walkPrice applies a tiny random walk (±0.02%) to simulate quiet trading.
func walkPrice(rng *rand.Rand, price float64) float64 {
	pct := (rng.Float64()*0.04 - 0.02) / 100.0
	return price * (1 + pct)
}

// impulse is a scripted burst: the price drifts by totalPct over steps ticks
// while volume runs at volMult times normal.
type impulse struct {
	remaining int
	stepPct   float64
	volMult   float64
}

func runGenerator(ctx context.Context, h *hub, instruments []instrument, interval, impulseEvery time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	bursts := make([]impulse, len(instruments))
	nextImpulse := time.Now().Add(impulseEvery)

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if impulseEvery > 0 && now.After(nextImpulse) {
				steps := int((10 * time.Second) / interval)
				if steps < 1 {
					steps = 1
				}
				for i := range bursts {
					dir := 1.0
					if rng.Intn(2) == 0 {
						dir = -1
					}
					bursts[i] = impulse{remaining: steps, stepPct: dir * 1.5 / float64(steps), volMult: 6}
					log.Printf("[tickserver] scripted impulse on %s (%+.1f%% over 10s)", instruments[i].Symbol, dir*1.5)
				}
				nextImpulse = now.Add(impulseEvery)
			}

			for i := range instruments {
				qty := 0.001 + rng.Float64()*0.05
				if b := &bursts[i]; b.remaining > 0 {
					instruments[i].Price *= 1 + b.stepPct/100
					qty *= b.volMult
					b.remaining--
				} else {
					instruments[i].Price = walkPrice(rng, instruments[i].Price)
				}
				h.publish(model.Tick{
					Symbol: instruments[i].Symbol,
					Price:  instruments[i].Price,
					Qty:    qty,
					TickTS: now.UTC(),
				})
			}
		}
	}
}

// runRecording replays path in a loop, restamping ticks to wall-clock time.
func runRecording(ctx context.Context, h *hub, path string, speed float64) error {
	ticks, err := replay.LoadFile(path)
	if err != nil {
		return err
	}
	for ctx.Err() == nil {
		out := make(chan model.Tick, 256)
		done := make(chan error, 1)
		go func() {
			done <- replay.New(ticks).Run(ctx, speed, out)
			close(out)
		}()
		for t := range out {
			t.TickTS = time.Now().UTC()
			h.publish(t)
		}
		if err := <-done; err != nil {
			return nil
		}
		log.Println("[tickserver] recording finished, looping")
	}
	return nil
}

// ─── main ─────────────────────────────────────────────────────────────────────

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[tickserver] starting staging trade server...")

	addr := envOrDefault("TICK_SERVER_ADDR", ":9001")
	interval := time.Duration(envIntOrDefault("TICK_INTERVAL_MS", 100)) * time.Millisecond
	impulseEvery := time.Duration(envIntOrDefault("TICK_IMPULSE_SEC", 300)) * time.Second
	file := os.Getenv("TICK_FILE")

	ctx := context.Background()
	h := newHub()

	if file != "" {
		speed, err := strconv.ParseFloat(envOrDefault("TICK_SPEED", "1"), 64)
		if err != nil {
			speed = 1
		}
		log.Printf("[tickserver] replaying %s at %.1fx", file, speed)
		go func() {
			if err := runRecording(ctx, h, file, speed); err != nil {
				log.Fatalf("[tickserver] recording: %v", err)
			}
		}()
	} else {
		instruments := parseInstruments(envOrDefault("TICK_SYMBOLS", "BTCUSDT:64000"))
		if len(instruments) == 0 {
			log.Fatalf("[tickserver] no instruments configured via TICK_SYMBOLS")
		}
		log.Printf("[tickserver] instruments: %+v, interval %s, impulse every %s", instruments, interval, impulseEvery)
		go runGenerator(ctx, h, instruments, interval, impulseEvery)
	}

	http.HandleFunc("/ws/", wsHandler(h))
	http.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, `{"status":"ok","service":"tickserver"}`)
	})

	log.Printf("[tickserver] listening on %s  (WebSocket: ws://localhost%s/ws/<symbol>@trade)", addr, addr)
	if err := http.ListenAndServe(addr, nil); err != nil {
		log.Fatalf("[tickserver] server error: %v", err)
	}
}

// ─── helpers ──────────────────────────────────────────────────────────────────

func parseInstruments(s string) []instrument {
	var result []instrument
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		seg := strings.SplitN(part, ":", 2)
		if len(seg) != 2 {
			log.Printf("[tickserver] skipping invalid symbol spec: %q", part)
			continue
		}
		price, err := strconv.ParseFloat(strings.TrimSpace(seg[1]), 64)
		if err != nil || price <= 0 {
			log.Printf("[tickserver] skipping invalid price in %q", part)
			continue
		}
		result = append(result, instrument{
			Symbol: strings.ToUpper(strings.TrimSpace(seg[0])),
			Price:  price,
		})
	}
	return result
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOrDefault(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
