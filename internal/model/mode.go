package model

import "time"

// Mode is the regime the controller is currently in.
type Mode string

const (
	ModeNormal Mode = "NORMAL"
	ModeEvent  Mode = "EVENT"
)

// Profile maps a mode to the strategy profile it activates.
func (m Mode) Profile() ProfileName {
	if m == ModeEvent {
		return ProfileEvent
	}
	return ProfileNormal
}

// ModeState is a read-only snapshot of the mode controller.
type ModeState struct {
	Current           Mode      `json:"current"`
	EventExpiry       time.Time `json:"event_expiry"` // zero when not in EVENT
	LastTriggerReason string    `json:"last_trigger_reason"`
	LastDecision      string    `json:"last_decision"`
}
