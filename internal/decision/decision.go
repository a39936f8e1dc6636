// Package decision turns an accepted impulse into an advisory recommendation.
package decision

import (
	"regime-engine/internal/indicator"
	"regime-engine/internal/model"
)

// Input is what the engine knows at the moment of a trigger.
type Input struct {
	TriggerID string
	Symbol    string
	Direction model.Direction
	LivePrice float64
	Reason    string
}

// TrendSanity reports whether livePrice sits above the EMA(period) of the
// most recent candle. known is false while the EMA is still warming up, in
// which case ok is true.
func TrendSanity(livePrice float64, candles []model.Candle, period int) (ok, known bool) {
	ema, defined := indicator.ExpMA(candles, period).Last()
	if !defined {
		return true, false
	}
	return livePrice > ema, true
}

// Decide is deterministic and has no side effects: equal inputs and candles
// always produce the same decision.
func Decide(in Input, candles []model.Candle, emaPeriod int) model.Decision {
	trendOk, known := TrendSanity(in.LivePrice, candles, emaPeriod)

	d := model.Decision{
		TriggerID:  in.TriggerID,
		Symbol:     in.Symbol,
		Direction:  in.Direction,
		LivePrice:  in.LivePrice,
		TrendOk:    trendOk,
		TrendKnown: known,
	}

	switch {
	case in.Direction == model.DirectionUp && trendOk:
		d.Recommendation = model.RecommendEventBuy
		d.Detail = "EVENT decision: ride the move"
	case in.Direction == model.DirectionUp:
		d.Recommendation = model.RecommendWaitUp
		d.Detail = "EVENT guard: spike still below EMA, not chasing a false breakout"
	case !trendOk:
		d.Recommendation = model.RecommendRiskOff
		d.Detail = "EVENT decision: drop with broken trend, not catching the knife"
	default:
		d.Recommendation = model.RecommendWaitDown
		d.Detail = "EVENT guard: drop but still above EMA, waiting for confirmation"
	}
	if in.Reason != "" {
		d.Detail += " | " + in.Reason
	}
	return d
}
