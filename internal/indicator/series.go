package indicator

import (
	"math"

	"regime-engine/internal/model"
)

// MA returns the simple moving average of closes, defined from index period-1.
func MA(candles []model.Candle, period int) Series {
	return replay(candles, period, NewSMA(period), closeOf)
}

// ExpMA returns the exponential moving average of closes. The recursion runs
// from index 0 but values are only exposed from index period-1.
func ExpMA(candles []model.Candle, period int) Series {
	return replay(candles, period, NewEMA(period), closeOf)
}

// VolMA returns the simple moving average of volume; missing or NaN
// volume counts as 0.
func VolMA(candles []model.Candle, period int) Series {
	return replay(candles, period, NewSMA(period), volumeOf)
}

func replay(candles []model.Candle, period int, acc Accumulator, field func(*model.Candle) float64) Series {
	if period < 1 {
		return newSeries(len(candles), len(candles))
	}
	out := newSeries(len(candles), period-1)
	for i := range candles {
		acc.Update(field(&candles[i]))
		if acc.Ready() {
			out.values[i] = acc.Value()
		}
	}
	return out
}

func closeOf(c *model.Candle) float64 { return c.Close }

func volumeOf(c *model.Candle) float64 {
	if math.IsNaN(c.Volume) || math.IsInf(c.Volume, 0) {
		return 0
	}
	return c.Volume
}
