// Package mode owns the NORMAL/EVENT regime state. An accepted trigger
// enters (or extends) EVENT for the hold period; a liveness poll reverts to
// NORMAL once the expiry has passed.
package mode

import (
	"log"
	"sync"
	"time"

	"regime-engine/internal/model"
)

// DefaultHold is how long EVENT is held after the last trigger.
const DefaultHold = 12 * time.Minute

// Transition describes what a call to Enter or Poll did.
type Transition int

const (
	NoChange  Transition = iota
	Entered              // NORMAL -> EVENT
	Refreshed            // EVENT -> EVENT, expiry and reason superseded
	Reverted             // EVENT -> NORMAL
)

func (t Transition) String() string {
	switch t {
	case Entered:
		return "entered"
	case Refreshed:
		return "refreshed"
	case Reverted:
		return "reverted"
	default:
		return "none"
	}
}

// Config holds mode controller settings.
type Config struct {
	Hold time.Duration
}

// Controller is the NORMAL/EVENT automaton. It owns the ModeState value;
// consumers only ever see copies.
type Controller struct {
	mu    sync.RWMutex
	hold  time.Duration
	state model.ModeState
}

// NewController starts in NORMAL with no trigger and no decision recorded.
func NewController(cfg Config) *Controller {
	if cfg.Hold <= 0 {
		cfg.Hold = DefaultHold
	}
	return &Controller{
		hold: cfg.Hold,
		state: model.ModeState{
			Current:           model.ModeNormal,
			LastTriggerReason: model.NoDecision,
			LastDecision:      model.NoDecision,
		},
	}
}

// Hold returns the configured EVENT hold window.
func (c *Controller) Hold() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hold
}

// SetHold changes the hold window for subsequent triggers. An active expiry
// is left untouched.
func (c *Controller) SetHold(d time.Duration) {
	if d <= 0 {
		return
	}
	c.mu.Lock()
	c.hold = d
	c.mu.Unlock()
}

// Enter moves to (or stays in) EVENT with expiry now+hold and the given reason.
func (c *Controller) Enter(now time.Time, reason string) Transition {
	c.mu.Lock()
	defer c.mu.Unlock()

	tr := Entered
	if c.state.Current == model.ModeEvent {
		tr = Refreshed
	}
	c.state.Current = model.ModeEvent
	c.state.EventExpiry = now.Add(c.hold)
	c.state.LastTriggerReason = reason

	log.Printf("[mode] EVENT %s until %s: %s", tr, c.state.EventExpiry.Format(time.RFC3339), reason)
	return tr
}

// Poll is the liveness check. It reverts to NORMAL once now >= expiry; the
// last trigger reason is kept for display.
func (c *Controller) Poll(now time.Time) Transition {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Current != model.ModeEvent || now.Before(c.state.EventExpiry) {
		return NoChange
	}
	c.state.Current = model.ModeNormal
	c.state.EventExpiry = time.Time{}
	log.Printf("[mode] EVENT expired, back to NORMAL (last: %s)", c.state.LastTriggerReason)
	return Reverted
}

// State returns a copy of the current mode state.
func (c *Controller) State() model.ModeState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Current returns the active mode.
func (c *Controller) Current() model.Mode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.Current
}

// ActiveProfile is the profile the signal generator should use next.
func (c *Controller) ActiveProfile() model.ProfileName {
	return c.Current().Profile()
}

// Remaining returns the time left in EVENT, or 0 in NORMAL.
func (c *Controller) Remaining(now time.Time) time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state.Current != model.ModeEvent {
		return 0
	}
	if d := c.state.EventExpiry.Sub(now); d > 0 {
		return d
	}
	return 0
}

// RecordDecision stores the latest instant recommendation.
func (c *Controller) RecordDecision(rec string) {
	c.mu.Lock()
	c.state.LastDecision = rec
	c.mu.Unlock()
}

// ClearDecision resets the recorded recommendation to "—".
func (c *Controller) ClearDecision() {
	c.RecordDecision(model.NoDecision)
}
