package model

// ProfileName identifies one of the two strategy regimes.
type ProfileName string

const (
	ProfileNormal ProfileName = "NORMAL"
	ProfileEvent  ProfileName = "EVENT"
)

// DefaultBreakoutLookback is used when a breakout profile leaves the lookback unset.
const DefaultBreakoutLookback = 30

// StrategyProfile is the parameter set governing one regime's entry/exit rules.
// Percentages are fractions (0.009 == 0.9%).
type StrategyProfile struct {
	Name             ProfileName `json:"name"`
	StopLossPct      float64     `json:"stop_loss_pct"`
	TrailDrawdownPct float64     `json:"trail_drawdown_pct"`
	EnableMTF        bool        `json:"enable_mtf"`
	EnableVOL        bool        `json:"enable_vol"`
	BreakoutEntry    bool        `json:"breakout_entry"`
	MAShortPeriod    int         `json:"ma_short_period"`
	MALongPeriod     int         `json:"ma_long_period"`
	EMATrendPeriod   int         `json:"ema_trend_period"`
	VolPeriod        int         `json:"vol_period"`
	BreakoutLookback int         `json:"breakout_lookback,omitempty"`
}

// Lookback returns the breakout lookback, falling back to the default.
func (p *StrategyProfile) Lookback() int {
	if p.BreakoutLookback <= 0 {
		return DefaultBreakoutLookback
	}
	return p.BreakoutLookback
}

// Profiles holds the NORMAL and EVENT parameter sets.
type Profiles struct {
	Normal StrategyProfile `json:"normal"`
	Event  StrategyProfile `json:"event"`
}

// For returns the profile for the given regime.
func (p Profiles) For(name ProfileName) StrategyProfile {
	if name == ProfileEvent {
		return p.Event
	}
	return p.Normal
}

// TrendReading is the higher-timeframe trend flag. Unknown never blocks entries.
type TrendReading int8

const (
	TrendUnknown TrendReading = iota
	TrendOK
	TrendOff
)

// TrendFrom converts a known boolean reading.
func TrendFrom(ok bool) TrendReading {
	if ok {
		return TrendOK
	}
	return TrendOff
}

func (t TrendReading) String() string {
	switch t {
	case TrendOK:
		return "OK"
	case TrendOff:
		return "OFF"
	default:
		return "?"
	}
}
