package decision

import (
	"strings"
	"testing"

	"regime-engine/internal/model"
)

// candlesAt returns n candles closing at price.
func candlesAt(n int, price float64) []model.Candle {
	out := make([]model.Candle, n)
	for i := range out {
		out[i] = model.Candle{Time: int64(i) * 3600, Open: price, High: price, Low: price, Close: price, Volume: 1}
	}
	return out
}

func TestDecide_FourWay(t *testing.T) {
	hist := candlesAt(200, 100) // EMA(150) == 100

	tests := []struct {
		name  string
		dir   model.Direction
		price float64
		want  string
		trend bool
	}{
		{"up above ema", model.DirectionUp, 101, model.RecommendEventBuy, true},
		{"up below ema", model.DirectionUp, 99, model.RecommendWaitUp, false},
		{"down below ema", model.DirectionDown, 99, model.RecommendRiskOff, false},
		{"down above ema", model.DirectionDown, 101, model.RecommendWaitDown, true},
		{"at ema is not above", model.DirectionUp, 100, model.RecommendWaitUp, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Decide(Input{Direction: tt.dir, LivePrice: tt.price, Reason: "r"}, hist, 150)
			if d.Recommendation != tt.want {
				t.Fatalf("recommendation = %q, want %q", d.Recommendation, tt.want)
			}
			if d.TrendOk != tt.trend || !d.TrendKnown {
				t.Fatalf("trend = %v known=%v", d.TrendOk, d.TrendKnown)
			}
			if !strings.HasSuffix(d.Detail, " | r") {
				t.Fatalf("detail should end with the reason, got %q", d.Detail)
			}
		})
	}
}

func TestDecide_OptimisticWithoutHistory(t *testing.T) {
	short := candlesAt(20, 100)

	d := Decide(Input{Direction: model.DirectionUp, LivePrice: 50}, short, 150)
	if d.Recommendation != model.RecommendEventBuy || d.TrendKnown {
		t.Fatalf("UP with unknown EMA = %+v, want optimistic EVENT BUY", d)
	}
	d = Decide(Input{Direction: model.DirectionDown, LivePrice: 50}, nil, 150)
	if d.Recommendation != model.RecommendWaitDown {
		t.Fatalf("DOWN with unknown EMA = %q, want %q", d.Recommendation, model.RecommendWaitDown)
	}
}

func TestDecide_Idempotent(t *testing.T) {
	hist := candlesAt(200, 100)
	in := Input{TriggerID: "BTCUSDT-1", Symbol: "BTCUSDT", Direction: model.DirectionDown, LivePrice: 98, Reason: "Manual Trigger"}
	a := Decide(in, hist, 150)
	b := Decide(in, hist, 150)
	if a != b {
		t.Fatalf("decisions differ:\n%+v\n%+v", a, b)
	}
	if a.TriggerID != in.TriggerID || a.Symbol != in.Symbol {
		t.Fatalf("identity not carried: %+v", a)
	}
}
