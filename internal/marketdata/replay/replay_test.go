package replay

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"regime-engine/internal/model"
)

var t0 = time.Unix(1700000000, 0).UTC()

func TestRecorderLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ticks.jsonl")
	rec, err := NewRecorder(path)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if err := rec.Write(model.Tick{Symbol: "BTCUSDT", Price: 100 + float64(i), Qty: 1, TickTS: t0.Add(time.Duration(i) * time.Second)}); err != nil {
			t.Fatal(err)
		}
	}
	if err := rec.Close(); err != nil {
		t.Fatal(err)
	}

	ticks, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(ticks) != 3 || ticks[2].Price != 102 || !ticks[2].TickTS.Equal(t0.Add(2*time.Second)) {
		t.Fatalf("ticks = %+v", ticks)
	}
}

func TestLoad_BadLine(t *testing.T) {
	in := `{"symbol":"BTCUSDT","price":1,"qty":1,"tick_ts":"2023-11-14T22:13:20Z"}

{oops}
`
	_, err := Load(strings.NewReader(in))
	if err == nil || !strings.Contains(err.Error(), "line 3") {
		t.Fatalf("err = %v, want line 3 error", err)
	}
}

func TestReplayer_OrdersAndEmitsAll(t *testing.T) {
	r := New([]model.Tick{
		{Price: 3, TickTS: t0.Add(3 * time.Second)},
		{Price: 1, TickTS: t0.Add(1 * time.Second)},
		{Price: 2, TickTS: t0.Add(2 * time.Second)},
	})
	out := make(chan model.Tick, 3)
	if err := r.Run(context.Background(), 0, out); err != nil {
		t.Fatal(err)
	}
	close(out)
	want := 1.0
	for tk := range out {
		if tk.Price != want {
			t.Fatalf("got price %v, want %v", tk.Price, want)
		}
		want++
	}
}

func TestReplayer_Cancel(t *testing.T) {
	r := New([]model.Tick{{TickTS: t0}, {TickTS: t0.Add(time.Hour)}})
	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan model.Tick, 2)
	go func() {
		<-out
		cancel()
	}()
	if err := r.Run(ctx, 1, out); err != context.Canceled {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestRecorder_Writer(t *testing.T) {
	var buf bytes.Buffer
	rec := newRecorder(&buf, nil)
	rec.Write(model.Tick{Symbol: "ETHUSDT", Price: 2000, Qty: 0.5, TickTS: t0})
	rec.Close()
	if !strings.HasPrefix(buf.String(), `{"symbol":"ETHUSDT"`) || !strings.HasSuffix(buf.String(), "\n") {
		t.Fatalf("encoded = %q", buf.String())
	}
}
