package model

import (
	"encoding/json"
	"time"
)

// EventKind classifies outbound engine events.
type EventKind string

const (
	EventTrigger  EventKind = "TRIGGER"
	EventMode     EventKind = "MODE"
	EventDecision EventKind = "DECISION"
	EventSignals  EventKind = "SIGNALS"
	EventError    EventKind = "ERROR"
)

// Event is what the engine publishes to consumers (stores, notifiers, API).
// Exactly one payload field is set, matching Kind; Mode is always populated.
type Event struct {
	Kind     EventKind     `json:"kind"`
	Symbol   string        `json:"symbol"`
	Interval string        `json:"interval,omitempty"`
	At       time.Time     `json:"at"`
	Mode     ModeState     `json:"mode"`
	Trigger  *Trigger      `json:"trigger,omitempty"`
	Decision *Decision     `json:"decision,omitempty"`
	Signals  []SignalEvent `json:"signals,omitempty"`
	Profile  ProfileName   `json:"profile,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// JSON returns the JSON-encoded event.
func (e *Event) JSON() []byte {
	b, _ := json.Marshal(e)
	return b
}

// StreamKey returns the Redis stream key: "regime:events:{symbol}".
func (e *Event) StreamKey() string {
	return "regime:events:" + e.Symbol
}

// PubSubChannel returns the Redis PubSub channel: "pub:regime:{symbol}".
func (e *Event) PubSubChannel() string {
	return "pub:regime:" + e.Symbol
}
