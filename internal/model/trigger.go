package model

import (
	"fmt"
	"time"
)

// Direction is the sign of an impulse.
type Direction string

const (
	DirectionUp   Direction = "UP"
	DirectionDown Direction = "DOWN"
)

// Trigger is an accepted volatility impulse reported by the detector.
type Trigger struct {
	ID            string    `json:"id"`
	Symbol        string    `json:"symbol"`
	Direction     Direction `json:"direction"`
	PercentChange float64   `json:"percent_change"`
	VolumeRatio   float64   `json:"volume_ratio"`
	Price         float64   `json:"price"` // newest price in the window
	At            time.Time `json:"at"`    // stream time of the tick that fired
	Manual        bool      `json:"manual,omitempty"`
}

// ManualReason is the trigger reason recorded for operator overrides.
const ManualReason = "Manual Trigger"

// Reason renders the human-readable trigger reason stored on the mode state.
func (t *Trigger) Reason() string {
	if t.Manual {
		return ManualReason
	}
	return fmt.Sprintf("Impulse %s | 20s %.2f%% | Vol x%.2f", t.Direction, t.PercentChange, t.VolumeRatio)
}
