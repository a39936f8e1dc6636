package impulse

import (
	"fmt"
	"math"
	"testing"
	"time"

	"regime-engine/internal/model"
)

var t0 = time.Unix(1700000000, 0).UTC()

func tick(sec int, price, qty float64) model.Tick {
	return model.Tick{Symbol: "BTCUSDT", Price: price, Qty: qty, TickTS: t0.Add(time.Duration(sec) * time.Second)}
}

// warm feeds n one-second ticks at price 100, qty 1.
func warm(t *testing.T, d *Detector, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if trg, ok := d.Observe(tick(i, 100, 1)); ok {
			t.Fatalf("unexpected trigger during warm-up at %d: %+v", i, trg)
		}
	}
}

func TestDetector_ImpulseUpFires(t *testing.T) {
	d := New("BTCUSDT", DefaultConfig())
	warm(t, d, 100)

	trg, ok := d.Observe(tick(100, 101.2, 100))
	if !ok {
		t.Fatalf("expected trigger, stats=%+v", d.Stats())
	}
	if trg.Direction != model.DirectionUp {
		t.Errorf("direction = %s, want UP", trg.Direction)
	}
	if math.Abs(trg.PercentChange-1.2) > 1e-9 {
		t.Errorf("pct = %v, want 1.2", trg.PercentChange)
	}
	if trg.VolumeRatio < 4 || trg.VolumeRatio > 4.3 {
		t.Errorf("volume ratio = %v, want ~4.15", trg.VolumeRatio)
	}
	if trg.Price != 101.2 || !trg.At.Equal(t0.Add(100*time.Second)) {
		t.Errorf("price/at = %v/%v", trg.Price, trg.At)
	}
	if got := trg.Reason(); got != fmt.Sprintf("Impulse UP | 20s 1.20%% | Vol x%.2f", trg.VolumeRatio) {
		t.Errorf("reason = %q", got)
	}
	if s := d.Stats(); s.Samples != 21 || s.VolumeSum != 120 {
		t.Errorf("stats = %+v, want 21 samples / 120 volume", s)
	}
}

func TestDetector_ImpulseDown(t *testing.T) {
	d := New("BTCUSDT", DefaultConfig())
	warm(t, d, 100)

	trg, ok := d.Observe(tick(100, 98.8, 100))
	if !ok {
		t.Fatal("expected trigger")
	}
	if trg.Direction != model.DirectionDown || trg.PercentChange >= 0 {
		t.Fatalf("got %+v, want DOWN with negative pct", trg)
	}
}

func TestDetector_Cooldown(t *testing.T) {
	d := New("BTCUSDT", DefaultConfig())
	suppressed := 0
	d.OnSuppressed = func() { suppressed++ }
	warm(t, d, 100)

	if _, ok := d.Observe(tick(100, 101.2, 100)); !ok {
		t.Fatal("first impulse should fire")
	}
	if _, ok := d.Observe(tick(105, 102.5, 100)); ok {
		t.Fatal("impulse 5s later should be suppressed by cooldown")
	}
	if suppressed != 1 {
		t.Fatalf("suppressed = %d, want 1", suppressed)
	}
	// exactly Cooldown after the last accepted trigger
	if _, ok := d.Observe(tick(112, 104, 200)); !ok {
		t.Fatalf("impulse 12s later should fire, stats=%+v", d.Stats())
	}
}

func TestDetector_Thresholds(t *testing.T) {
	tests := []struct {
		name  string
		price float64
		qty   float64
	}{
		{"small move, big volume", 100.5, 100},
		{"big move, normal volume", 102, 1},
		{"move just under threshold", 100.89, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := New("BTCUSDT", DefaultConfig())
			warm(t, d, 100)
			if trg, ok := d.Observe(tick(100, tt.price, tt.qty)); ok {
				t.Fatalf("unexpected trigger: %+v", trg)
			}
		})
	}
}

func TestDetector_TooFewSamples(t *testing.T) {
	d := New("BTCUSDT", DefaultConfig())
	// 5s spacing leaves 5 samples in the 20s window.
	for i := 0; i < 20; i++ {
		d.Observe(tick(i*5, 100, 1))
	}
	if _, ok := d.Observe(tick(100, 105, 1000)); ok {
		t.Fatal("should not trigger with fewer than 8 samples")
	}
	if got := d.Stats().Samples; got != 5 {
		t.Fatalf("samples = %d, want 5", got)
	}
}

func TestDetector_NonPositiveAnchorNeverTriggers(t *testing.T) {
	d := New("BTCUSDT", DefaultConfig())
	for i := 0; i < 100; i++ {
		d.Observe(tick(i, 0, 1))
	}
	if _, ok := d.Observe(tick(100, 5, 100)); ok {
		t.Fatal("p0 = 0 must not trigger")
	}
}

func TestDetector_DisabledStillBuffers(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = false
	d := New("BTCUSDT", cfg)
	warm(t, d, 100)

	if _, ok := d.Observe(tick(100, 101.2, 100)); ok {
		t.Fatal("disabled detector must not trigger")
	}
	if d.Stats().Samples != 21 || d.LastPrice() != 101.2 {
		t.Fatalf("disabled detector should keep buffering, stats=%+v last=%v", d.Stats(), d.LastPrice())
	}
}

func TestDetector_IgnoresInvalidAndForeignTicks(t *testing.T) {
	d := New("BTCUSDT", DefaultConfig())
	d.Observe(tick(0, 100, 1))

	bad := []model.Tick{
		{Symbol: "BTCUSDT", Price: math.NaN(), Qty: 1, TickTS: t0.Add(time.Second)},
		{Symbol: "BTCUSDT", Price: 100, Qty: math.Inf(1), TickTS: t0.Add(time.Second)},
		{Symbol: "BTCUSDT", Price: 100, Qty: 1},
		{Symbol: "ETHUSDT", Price: 2000, Qty: 1, TickTS: t0.Add(time.Second)},
	}
	for _, tk := range bad {
		d.Observe(tk)
	}
	if d.Stats().Samples != 1 || d.LastPrice() != 100 {
		t.Fatalf("bad ticks should be ignored, stats=%+v last=%v", d.Stats(), d.LastPrice())
	}
}

func TestDetector_EvictsOldSamples(t *testing.T) {
	d := New("BTCUSDT", DefaultConfig())
	warm(t, d, 200)
	if got := d.prices.Len(); got != 61 {
		t.Fatalf("retained %d prices, want 61 (inclusive 60s)", got)
	}
	if got := d.volumes.Len(); got != 61 {
		t.Fatalf("retained %d volumes, want 61", got)
	}
}

func TestDetector_Reset(t *testing.T) {
	d := New("BTCUSDT", DefaultConfig())
	warm(t, d, 100)
	if _, ok := d.Observe(tick(100, 101.2, 100)); !ok {
		t.Fatal("expected trigger")
	}

	d.Reset("ETHUSDT")
	if d.Symbol() != "ETHUSDT" || d.LastPrice() != 0 || d.Stats() != (Stats{}) {
		t.Fatalf("reset left state behind: sym=%s last=%v stats=%+v", d.Symbol(), d.LastPrice(), d.Stats())
	}
	if _, ok := d.Observe(tick(101, 101.2, 100)); ok {
		t.Fatal("tick for the old symbol must be ignored")
	}

	// cooldown must not carry over: a fresh impulse right after reset fires
	for i := 0; i < 100; i++ {
		d.Observe(model.Tick{Symbol: "ETHUSDT", Price: 100, Qty: 1, TickTS: t0.Add(time.Duration(102+i) * time.Second)})
	}
	if _, ok := d.Observe(model.Tick{Symbol: "ETHUSDT", Price: 101.2, Qty: 100, TickTS: t0.Add(202 * time.Second)}); !ok {
		t.Fatal("expected trigger on new symbol")
	}
}

func TestDetector_StreamTimeIsMonotonic(t *testing.T) {
	d := New("BTCUSDT", DefaultConfig())
	warm(t, d, 100)
	// A late tick is clamped to the newest timestamp rather than rewinding the window.
	d.Observe(tick(50, 100, 1))
	if got := d.Stats().Samples; got != 22 {
		t.Fatalf("samples = %d, want 22", got)
	}
}

func TestDetector_SetConfigKeepsBuffers(t *testing.T) {
	d := New("BTCUSDT", DefaultConfig())
	warm(t, d, 100)

	cfg := DefaultConfig()
	cfg.ThresholdPct = 2
	d.SetConfig(cfg)
	if _, ok := d.Observe(tick(100, 101.2, 100)); ok {
		t.Fatal("1.2% move should not pass a 2% threshold")
	}
	if d.Stats().Samples != 21 {
		t.Fatalf("buffers lost on SetConfig: %+v", d.Stats())
	}
}
