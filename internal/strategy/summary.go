package strategy

import (
	"strings"

	"regime-engine/internal/indicator"
	"regime-engine/internal/model"
)

// Summary is the KPI line shown next to a signal log.
type Summary struct {
	LastPrice float64 `json:"last_price"`
	TrendOk   bool    `json:"trend_ok"`
	Detail    string  `json:"detail"`
}

// Summarize describes the final bar of a pass: trend state and which filters
// would currently pass. Trend is reported OFF while the EMA is warming up.
func Summarize(candles []model.Candle, res Result, profile model.StrategyProfile, higher model.TrendReading) Summary {
	if len(candles) == 0 {
		return Summary{Detail: "NO DATA"}
	}
	last := candles[len(candles)-1]
	lastIdx := len(candles) - 1

	var s Summary
	s.LastPrice = last.Close
	if ema, ok := res.EMATrend.Last(); ok {
		s.TrendOk = last.Close > ema
	}

	parts := make([]string, 0, 4)
	if s.TrendOk {
		parts = append(parts, "TREND OK")
	} else {
		parts = append(parts, "TREND OFF")
	}
	if profile.EnableMTF {
		parts = append(parts, "MTF "+higher.String())
	}
	if profile.EnableVOL {
		if volOk(profile, res.VolMA, candles, lastIdx) {
			parts = append(parts, "VOL OK")
		} else {
			parts = append(parts, "VOL OFF")
		}
	}
	if profile.BreakoutEntry {
		parts = append(parts, "BREAKOUT ON")
	}
	s.Detail = strings.Join(parts, " | ")
	return s
}

// TrendOf reads a higher-timeframe trend: last close above EMA(period).
// Unknown when the series is too short for the EMA.
func TrendOf(candles []model.Candle, period int) model.TrendReading {
	if len(candles) == 0 {
		return model.TrendUnknown
	}
	ema, ok := indicator.ExpMA(candles, period).Last()
	if !ok {
		return model.TrendUnknown
	}
	return model.TrendFrom(candles[len(candles)-1].Close > ema)
}
