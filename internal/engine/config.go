package engine

import (
	"time"

	"regime-engine/internal/impulse"
	"regime-engine/internal/mode"
	"regime-engine/internal/model"
	"regime-engine/internal/strategy"
)

// Candle request sizes.
const (
	DefaultCandleLimit   = 900 // signal log
	DefaultDecisionLimit = 260 // instant decision trend check
	DefaultHigherLimit   = 600 // higher-timeframe trend
)

// Config holds all engine settings.
type Config struct {
	Symbol   string
	Interval string

	CandleLimit   int
	DecisionLimit int
	HigherLimit   int

	Profiles model.Profiles
	Detector impulse.Config
	Mode     mode.Config

	PollInterval    time.Duration // mode liveness check
	RefreshInterval time.Duration // periodic signal regeneration
	FetchTimeout    time.Duration // per async candle job

	EventBuffer int
}

// DefaultConfig returns BTCUSDT 1h with stock thresholds.
func DefaultConfig() Config {
	return Config{
		Symbol:          "BTCUSDT",
		Interval:        "1h",
		CandleLimit:     DefaultCandleLimit,
		DecisionLimit:   DefaultDecisionLimit,
		HigherLimit:     DefaultHigherLimit,
		Profiles:        strategy.BuildProfiles(strategy.DefaultRisk()),
		Detector:        impulse.DefaultConfig(),
		Mode:            mode.Config{Hold: mode.DefaultHold},
		PollInterval:    time.Second,
		RefreshInterval: time.Minute,
		FetchTimeout:    15 * time.Second,
		EventBuffer:     256,
	}
}

func (c *Config) defaults() {
	d := DefaultConfig()
	if c.Symbol == "" {
		c.Symbol = d.Symbol
	}
	if c.Interval == "" {
		c.Interval = d.Interval
	}
	if c.CandleLimit <= 0 {
		c.CandleLimit = d.CandleLimit
	}
	if c.DecisionLimit <= 0 {
		c.DecisionLimit = d.DecisionLimit
	}
	if c.HigherLimit <= 0 {
		c.HigherLimit = d.HigherLimit
	}
	if c.Detector == (impulse.Config{}) {
		c.Detector = d.Detector
	}
	if c.Profiles == (model.Profiles{}) {
		c.Profiles = d.Profiles
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = d.RefreshInterval
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = d.FetchTimeout
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = d.EventBuffer
	}
}

// Settings are the operator-tunable inputs that can change at runtime.
// Values are expected to be clamped already.
type Settings struct {
	Profiles model.Profiles
	Detector impulse.Config
	Hold     time.Duration
}
