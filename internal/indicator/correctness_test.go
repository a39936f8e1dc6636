package indicator

import (
	"encoding/json"
	"math"
	"testing"

	"regime-engine/internal/model"
)

// ────────────────────────────────────────────────────────────
// Helper
// ────────────────────────────────────────────────────────────

func closes(prices ...float64) []model.Candle {
	out := make([]model.Candle, len(prices))
	for i, p := range prices {
		out[i] = model.Candle{Time: int64(i) * 60, Open: p, High: p + 0.5, Low: p - 0.5, Close: p, Volume: 10}
	}
	return out
}

func assertClose(t *testing.T, label string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s: got %.6f, want %.6f (tol=%.6f, diff=%.6f)", label, got, want, tol, math.Abs(got-want))
	}
}

// ────────────────────────────────────────────────────────────
// Streaming accumulators
// ────────────────────────────────────────────────────────────

func TestSMA_Correctness_Period3(t *testing.T) {
	// Prices: 100, 102, 104, 103, 105
	// SMA after value 3: (100+102+104)/3 = 102
	// SMA after value 4: (102+104+103)/3 = 103
	// SMA after value 5: (104+103+105)/3 = 104
	sma := NewSMA(3)
	prices := []float64{100, 102, 104, 103, 105}
	expected := []float64{0, 0, 102, 103, 104}
	ready := []bool{false, false, true, true, true}

	for i, p := range prices {
		sma.Update(p)
		if sma.Ready() != ready[i] {
			t.Errorf("value %d: Ready()=%v, want %v", i, sma.Ready(), ready[i])
		}
		if ready[i] {
			assertClose(t, "SMA(3)", sma.Value(), expected[i], 1e-9)
		}
	}
}

func TestSMA_Reset(t *testing.T) {
	sma := NewSMA(2)
	sma.Update(10)
	sma.Update(20)
	sma.Reset()
	if sma.Ready() || sma.Value() != 0 {
		t.Fatalf("expected cleared SMA, got ready=%v value=%f", sma.Ready(), sma.Value())
	}
	sma.Update(4)
	sma.Update(6)
	assertClose(t, "SMA after reset", sma.Value(), 5, 1e-9)
}

func TestEMA_SeededWithFirstValue(t *testing.T) {
	// EMA(3): k = 0.5
	// v=10 → 10 (seed), v=20 → 15, v=30 → 22.5 (ready), v=40 → 31.25
	ema := NewEMA(3)
	ema.Update(10)
	ema.Update(20)
	if ema.Ready() {
		t.Fatal("EMA(3) should not be ready after 2 values")
	}
	if ema.Value() != 0 {
		t.Errorf("under-warmed EMA should report 0, got %f", ema.Value())
	}
	ema.Update(30)
	assertClose(t, "EMA(3) #3", ema.Value(), 22.5, 1e-9)
	ema.Update(40)
	assertClose(t, "EMA(3) #4", ema.Value(), 31.25, 1e-9)
}

// ────────────────────────────────────────────────────────────
// Series
// ────────────────────────────────────────────────────────────

func TestMA_WarmUpBoundary(t *testing.T) {
	data := closes(1, 2, 3, 4, 5, 6, 7, 8)
	for period := 1; period <= len(data)+1; period++ {
		s := MA(data, period)
		if s.Len() != len(data) {
			t.Fatalf("period %d: len=%d, want %d", period, s.Len(), len(data))
		}
		for i := range data {
			want := i >= period-1
			if s.Defined(i) != want {
				t.Errorf("period %d index %d: Defined=%v, want %v", period, i, s.Defined(i), want)
			}
		}
	}
}

func TestExpMA_WarmUpBoundary(t *testing.T) {
	data := closes(5, 4, 3, 2, 1, 2, 3)
	for period := 1; period <= len(data); period++ {
		s := ExpMA(data, period)
		for i := range data {
			want := i >= period-1
			if s.Defined(i) != want {
				t.Errorf("period %d index %d: Defined=%v, want %v", period, i, s.Defined(i), want)
			}
		}
	}
}

func TestExpMA_MatchesRecursionFromIndexZero(t *testing.T) {
	data := closes(10, 20, 30, 40)
	s := ExpMA(data, 3)
	v, ok := s.At(2)
	if !ok {
		t.Fatal("expected EMA defined at index 2")
	}
	assertClose(t, "EMA idx2", v, 22.5, 1e-9)
	last, ok := s.Last()
	if !ok {
		t.Fatal("expected EMA defined at last index")
	}
	assertClose(t, "EMA last", last, 31.25, 1e-9)
}

func TestMA_Values(t *testing.T) {
	s := MA(closes(10, 11, 12, 13, 14, 15, 16), 5)
	want := map[int]float64{4: 12, 5: 13, 6: 14}
	for i, w := range want {
		v, ok := s.At(i)
		if !ok {
			t.Fatalf("index %d undefined", i)
		}
		assertClose(t, "MA(5)", v, w, 1e-9)
	}
}

func TestVolMA_TreatsNaNAsZero(t *testing.T) {
	data := closes(1, 1, 1)
	data[0].Volume = 30
	data[1].Volume = math.NaN()
	data[2].Volume = 0
	s := VolMA(data, 3)
	v, ok := s.At(2)
	if !ok {
		t.Fatal("expected VolMA defined at index 2")
	}
	assertClose(t, "VolMA", v, 10, 1e-9)
}

func TestSeries_NonPositivePeriodIsUndefined(t *testing.T) {
	s := MA(closes(1, 2, 3), 0)
	for i := 0; i < 3; i++ {
		if s.Defined(i) {
			t.Errorf("index %d should be undefined for period 0", i)
		}
	}
}

func TestSeries_MarshalJSON(t *testing.T) {
	s := MA(closes(2, 4, 6), 2)
	b, err := json.Marshal(s)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "[null,3,5]" {
		t.Errorf("got %s, want [null,3,5]", b)
	}
}

// ────────────────────────────────────────────────────────────
// Rolling extremes
// ────────────────────────────────────────────────────────────

func TestHighestHigh_LowestLow(t *testing.T) {
	data := closes(10, 12, 11, 15, 9)
	// highs: 10.5 12.5 11.5 15.5 9.5; lows: 9.5 11.5 10.5 14.5 8.5
	assertClose(t, "HH(3,2)", HighestHigh(data, 3, 2), 15.5, 1e-9)
	assertClose(t, "HH(2,30)", HighestHigh(data, 2, 30), 12.5, 1e-9)
	assertClose(t, "LL(4,1)", LowestLow(data, 4, 1), 8.5, 1e-9)
	assertClose(t, "LL(2,1)", LowestLow(data, 2, 1), 10.5, 1e-9)

	if !math.IsInf(HighestHigh(data, -1, 5), -1) {
		t.Error("empty range should give -Inf")
	}
	if !math.IsInf(LowestLow(nil, 0, 5), 1) {
		t.Error("empty series should give +Inf")
	}
}
