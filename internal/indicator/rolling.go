package indicator

import (
	"math"

	"regime-engine/internal/model"
)

// HighestHigh returns the max high over [max(0,end-lookback), end] inclusive.
// Callers evaluating bar i pass end = i-1 so the current bar is never included.
// Returns -Inf when the range is empty.
func HighestHigh(candles []model.Candle, end, lookback int) float64 {
	hh := math.Inf(-1)
	if end >= len(candles) {
		end = len(candles) - 1
	}
	for i := max(0, end-lookback); i <= end; i++ {
		hh = math.Max(hh, candles[i].High)
	}
	return hh
}

// LowestLow returns the min low over [max(0,end-lookback), end] inclusive.
// Returns +Inf when the range is empty.
func LowestLow(candles []model.Candle, end, lookback int) float64 {
	ll := math.Inf(1)
	if end >= len(candles) {
		end = len(candles) - 1
	}
	for i := max(0, end-lookback); i <= end; i++ {
		ll = math.Min(ll, candles[i].Low)
	}
	return ll
}
