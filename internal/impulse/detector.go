// Package impulse detects short-horizon volatility impulses in a trade stream.
//
// The detector keeps the last 60s of price and volume samples and, after every
// tick, checks the trailing 20s window: at least MinSamples prices, an absolute
// move of ThresholdPct or more from the oldest to the newest price, and a
// volume ratio (20s volume / smoothed baseline) of VolumeMult or more.
// Accepted triggers are debounced by Cooldown.
//
// All time arithmetic uses tick timestamps, never the wall clock, so a
// recorded stream replays to the same triggers.
package impulse

import (
	"math"
	"time"

	"regime-engine/internal/model"
	"regime-engine/internal/ringbuf"
)

const (
	// baselineKeep/baselineMix smooth the 20s volume sum into a baseline.
	baselineKeep = 0.92
	baselineMix  = 0.08

	// minBaseline floors the baseline so the ratio never divides by zero.
	minBaseline = 1e-9
)

// Config holds detector thresholds. ThresholdPct is in percent (0.9 == 0.9%).
type Config struct {
	Enabled      bool
	ThresholdPct float64
	VolumeMult   float64
	Cooldown     time.Duration
	Retention    time.Duration
	Window       time.Duration
	MinSamples   int
}

// DefaultConfig returns the stock thresholds: 0.9% / 2.2x over 20s, 12s cooldown.
func DefaultConfig() Config {
	return Config{
		Enabled:      true,
		ThresholdPct: 0.9,
		VolumeMult:   2.2,
		Cooldown:     12 * time.Second,
		Retention:    60 * time.Second,
		Window:       20 * time.Second,
		MinSamples:   8,
	}
}

func (c *Config) defaults() {
	d := DefaultConfig()
	if c.Cooldown <= 0 {
		c.Cooldown = d.Cooldown
	}
	if c.Retention <= 0 {
		c.Retention = d.Retention
	}
	if c.Window <= 0 {
		c.Window = d.Window
	}
	if c.Window > c.Retention {
		c.Window = c.Retention
	}
	if c.MinSamples <= 0 {
		c.MinSamples = d.MinSamples
	}
}

type sample struct {
	ts time.Time
	v  float64
}

// Stats is the detector's view of the trailing window after the last tick.
type Stats struct {
	Samples       int     `json:"samples"`
	PercentChange float64 `json:"percent_change"`
	VolumeSum     float64 `json:"volume_sum"`
	Baseline      float64 `json:"baseline"`
	VolumeRatio   float64 `json:"volume_ratio"`
}

// Detector holds the rolling state for exactly one instrument.
// Not safe for concurrent use; the engine loop owns it.
type Detector struct {
	cfg    Config
	symbol string

	prices   *ringbuf.Ring[sample]
	volumes  *ringbuf.Ring[sample]
	baseline float64
	now      time.Time

	lastTrigger  time.Time
	hasTriggered bool
	stats        Stats

	// OnSuppressed is called when a qualifying impulse is dropped by the cooldown.
	OnSuppressed func()
}

// New creates a detector for symbol.
func New(symbol string, cfg Config) *Detector {
	cfg.defaults()
	return &Detector{
		cfg:     cfg,
		symbol:  symbol,
		prices:  ringbuf.New[sample](256),
		volumes: ringbuf.New[sample](256),
	}
}

// Symbol returns the instrument the detector is watching.
func (d *Detector) Symbol() string { return d.symbol }

// Config returns the active thresholds.
func (d *Detector) Config() Config { return d.cfg }

// SetConfig swaps thresholds in place. Buffers, baseline and cooldown are kept.
func (d *Detector) SetConfig(cfg Config) {
	cfg.defaults()
	d.cfg = cfg
}

// Reset discards all state and starts watching symbol: fresh buffers,
// zero baseline and no cooldown carried over.
func (d *Detector) Reset(symbol string) {
	d.symbol = symbol
	d.prices.Reset()
	d.volumes.Reset()
	d.baseline = 0
	d.now = time.Time{}
	d.lastTrigger = time.Time{}
	d.hasTriggered = false
	d.stats = Stats{}
}

// Observe ingests one tick and returns an accepted trigger, if any.
// Ticks for another symbol or with non-finite fields are ignored.
func (d *Detector) Observe(tick model.Tick) (model.Trigger, bool) {
	if tick.Symbol != "" && tick.Symbol != d.symbol {
		return model.Trigger{}, false
	}
	if !tick.Valid() {
		return model.Trigger{}, false
	}

	now := tick.TickTS
	if now.Before(d.now) {
		now = d.now // stream time never runs backwards
	}
	d.now = now

	d.prices.Push(sample{ts: now, v: tick.Price})
	d.volumes.Push(sample{ts: now, v: tick.Qty})
	cutoff := now.Add(-d.cfg.Retention)
	evict(d.prices, cutoff)
	evict(d.volumes, cutoff)

	v20 := d.windowVolume(now)
	if d.baseline == 0 {
		d.baseline = v20
	} else {
		d.baseline = d.baseline*baselineKeep + v20*baselineMix
	}

	pct, n, ok := d.windowMove(now)
	d.stats = Stats{
		Samples:       n,
		PercentChange: pct,
		VolumeSum:     v20,
		Baseline:      d.baseline,
		VolumeRatio:   v20 / math.Max(d.baseline, minBaseline),
	}

	if !d.cfg.Enabled || !ok || n < d.cfg.MinSamples {
		return model.Trigger{}, false
	}
	if math.Abs(pct) < d.cfg.ThresholdPct || d.stats.VolumeRatio < d.cfg.VolumeMult {
		return model.Trigger{}, false
	}

	if d.hasTriggered && now.Sub(d.lastTrigger) < d.cfg.Cooldown {
		if d.OnSuppressed != nil {
			d.OnSuppressed()
		}
		return model.Trigger{}, false
	}
	d.hasTriggered = true
	d.lastTrigger = now

	dir := model.DirectionUp
	if pct < 0 {
		dir = model.DirectionDown
	}
	return model.Trigger{
		Symbol:        d.symbol,
		Direction:     dir,
		PercentChange: pct,
		VolumeRatio:   d.stats.VolumeRatio,
		Price:         tick.Price,
		At:            now,
	}, true
}

// Stats returns the window figures computed on the last tick.
func (d *Detector) Stats() Stats { return d.stats }

// LastPrice returns the most recent traded price, or 0 with no samples.
func (d *Detector) LastPrice() float64 {
	s, ok := d.prices.Back()
	if !ok {
		return 0
	}
	return s.v
}

// windowVolume sums quantities with now-ts <= Window.
func (d *Detector) windowVolume(now time.Time) float64 {
	var sum float64
	for i := d.volumes.Len() - 1; i >= 0; i-- {
		s := d.volumes.At(i)
		if now.Sub(s.ts) > d.cfg.Window {
			break
		}
		sum += s.v
	}
	return sum
}

// windowMove returns the percent change from the oldest to the newest price
// in the trailing window and the number of samples in it. ok is false when the
// oldest price cannot anchor a percentage.
func (d *Detector) windowMove(now time.Time) (pct float64, n int, ok bool) {
	first := -1
	for i := d.prices.Len() - 1; i >= 0; i-- {
		if now.Sub(d.prices.At(i).ts) > d.cfg.Window {
			break
		}
		first = i
		n++
	}
	if first < 0 {
		return 0, 0, false
	}
	p0 := d.prices.At(first).v
	p1 := d.prices.At(d.prices.Len() - 1).v
	if p0 <= 0 {
		return 0, n, false
	}
	return (p1 - p0) / p0 * 100, n, true
}

func evict(r *ringbuf.Ring[sample], cutoff time.Time) {
	for {
		s, ok := r.Front()
		if !ok || !s.ts.Before(cutoff) {
			return
		}
		r.PopFront()
	}
}
