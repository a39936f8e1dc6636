package strategy

import "regime-engine/internal/model"

// Shared indicator periods for both regimes.
const (
	DefaultMAShort   = 5
	DefaultMALong    = 20
	DefaultEMATrend  = 150
	DefaultVolPeriod = 20
)

// RiskParams are the operator-tunable exits, as fractions.
type RiskParams struct {
	NormalStopLoss float64
	NormalTrail    float64
	EventStopLoss  float64
	EventTrail     float64
}

// DefaultRisk matches the stock dashboard settings (0.9/1.6% and 2.8/6.5%).
func DefaultRisk() RiskParams {
	return RiskParams{
		NormalStopLoss: 0.009,
		NormalTrail:    0.016,
		EventStopLoss:  0.028,
		EventTrail:     0.065,
	}
}

// BuildProfiles returns the two regime profiles.
// NORMAL keeps entries strict (MTF + volume filters, no breakout).
// EVENT drops the filters and adds breakout entries to react fast.
func BuildProfiles(r RiskParams) model.Profiles {
	return model.Profiles{
		Normal: model.StrategyProfile{
			Name:             model.ProfileNormal,
			StopLossPct:      r.NormalStopLoss,
			TrailDrawdownPct: r.NormalTrail,
			EnableMTF:        true,
			EnableVOL:        true,
			MAShortPeriod:    DefaultMAShort,
			MALongPeriod:     DefaultMALong,
			EMATrendPeriod:   DefaultEMATrend,
			VolPeriod:        DefaultVolPeriod,
		},
		Event: model.StrategyProfile{
			Name:             model.ProfileEvent,
			StopLossPct:      r.EventStopLoss,
			TrailDrawdownPct: r.EventTrail,
			BreakoutEntry:    true,
			MAShortPeriod:    DefaultMAShort,
			MALongPeriod:     DefaultMALong,
			EMATrendPeriod:   DefaultEMATrend,
			VolPeriod:        DefaultVolPeriod,
			BreakoutLookback: model.DefaultBreakoutLookback,
		},
	}
}
