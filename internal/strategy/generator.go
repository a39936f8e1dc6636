// Package strategy replays a candle series under a StrategyProfile and emits
// the deterministic entry/exit log.
//
// The generator holds at most one long position. Entry needs trend + MA
// crossover on a bullish bar with the optional MTF and volume filters, or a
// breakout above the prior N-bar high for breakout profiles. Exits are checked
// in a fixed order: stop loss, trailing take profit, trend failure, reversal.
package strategy

import (
	"regime-engine/internal/indicator"
	"regime-engine/internal/model"
)

// Result is one generator pass: the signal log plus the series it was computed from.
type Result struct {
	Events   []model.SignalEvent `json:"events"`
	MAShort  indicator.Series    `json:"ma_short"`
	MALong   indicator.Series    `json:"ma_long"`
	EMATrend indicator.Series    `json:"ema_trend"`
	VolMA    indicator.Series    `json:"vol_ma"`
}

// position is the generator-local state; never outlives a pass.
type position struct {
	open  bool
	entry float64
	peak  float64
}

func (p *position) reset() { *p = position{} }

// Generate returns the signal log for candles under profile.
func Generate(candles []model.Candle, profile model.StrategyProfile, higher model.TrendReading) []model.SignalEvent {
	return Run(candles, profile, higher).Events
}

// Run walks candles from index 1 and returns the signal log with its indicators.
// Deterministic: no clock reads, no randomness.
func Run(candles []model.Candle, profile model.StrategyProfile, higher model.TrendReading) Result {
	res := Result{
		MAShort:  indicator.MA(candles, profile.MAShortPeriod),
		MALong:   indicator.MA(candles, profile.MALongPeriod),
		EMATrend: indicator.ExpMA(candles, profile.EMATrendPeriod),
		VolMA:    indicator.VolMA(candles, profile.VolPeriod),
	}

	var pos position
	lookback := profile.Lookback()

	for i := 1; i < len(candles); i++ {
		prevS, ok1 := res.MAShort.At(i - 1)
		prevL, ok2 := res.MALong.At(i - 1)
		currS, ok3 := res.MAShort.At(i)
		currL, ok4 := res.MALong.At(i)
		ema, ok5 := res.EMATrend.At(i)
		if !(ok1 && ok2 && ok3 && ok4 && ok5) {
			continue // warm-up
		}

		bar := &candles[i]
		price := bar.Close
		trendOk := price > ema
		bullCross := prevS <= prevL && currS > currL
		bearCross := prevS >= prevL && currS < currL

		var breakoutUp, breakoutDn bool
		if profile.BreakoutEntry {
			breakoutUp = bar.High > indicator.HighestHigh(candles, i-1, lookback) && bar.Bullish()
			breakoutDn = bar.Low < indicator.LowestLow(candles, i-1, lookback) && bar.Bearish()
		}

		if !pos.open {
			crossEntry := trendOk && bullCross && bar.Bullish() &&
				mtfOk(profile, higher) && volOk(profile, res.VolMA, candles, i)
			breakoutEntry := profile.BreakoutEntry && trendOk && breakoutUp
			if !crossEntry && !breakoutEntry {
				continue
			}

			reason := model.ReasonMACross
			if breakoutEntry {
				reason = model.ReasonBreakoutUp
			}
			pos = position{open: true, entry: price, peak: price}
			res.Events = append(res.Events, model.SignalEvent{
				Type:    model.SignalBuy,
				Time:    bar.Time,
				Price:   price,
				Profile: profile.Name,
				Reason:  reason,
			})
			continue
		}

		if price > pos.peak {
			pos.peak = price
		}

		exit, fired := exitFor(profile, &pos, price, currL, bearCross, breakoutDn)
		if !fired {
			continue
		}
		res.Events = append(res.Events, model.SignalEvent{
			Type:    exit,
			Time:    bar.Time,
			Price:   price,
			Profile: profile.Name,
		})
		pos.reset()
	}

	return res
}

// exitFor evaluates the exit checks in priority order; first match wins.
func exitFor(profile model.StrategyProfile, pos *position, price, maLong float64, bearCross, breakoutDn bool) (model.SignalType, bool) {
	switch {
	case price <= pos.entry*(1-profile.StopLossPct):
		return model.SignalStopLoss, true
	case pos.peak > pos.entry && price <= pos.peak*(1-profile.TrailDrawdownPct):
		return model.SignalTakeProfit, true
	case price < maLong || (profile.Name == model.ProfileNormal && bearCross):
		return model.SignalTrendFail, true
	case profile.BreakoutEntry && breakoutDn:
		return model.SignalReversalExit, true
	}
	return "", false
}

// mtfOk is optimistic: an unknown higher-timeframe reading does not block.
func mtfOk(profile model.StrategyProfile, higher model.TrendReading) bool {
	if !profile.EnableMTF {
		return true
	}
	return higher != model.TrendOff
}

// volOk is optimistic while the volume average is still warming up.
func volOk(profile model.StrategyProfile, volMA indicator.Series, candles []model.Candle, i int) bool {
	if !profile.EnableVOL {
		return true
	}
	vma, ok := volMA.At(i)
	if !ok {
		return true
	}
	return volumeAt(candles, i) >= vma
}

func volumeAt(candles []model.Candle, i int) float64 {
	v := candles[i].Volume
	if v != v { // NaN
		return 0
	}
	return v
}
