package model

import "time"

// Recommendation classes produced by the instant decision synthesizer.
const (
	RecommendEventBuy = "EVENT BUY (Impulse-Up)"
	RecommendWaitUp   = "WAIT (Impulse-Up but below EMA)"
	RecommendRiskOff  = "AVOID / RISK-OFF (Impulse-Down)"
	RecommendWaitDown = "WAIT (Impulse-Down but still above EMA)"
)

// Decision is the advisory output attached to one trigger.
type Decision struct {
	TriggerID      string    `json:"trigger_id"`
	Symbol         string    `json:"symbol"`
	Direction      Direction `json:"direction"`
	LivePrice      float64   `json:"live_price"`
	TrendOk        bool      `json:"trend_ok"`
	TrendKnown     bool      `json:"trend_known"`
	Recommendation string    `json:"recommendation"`
	Detail         string    `json:"detail"`
	At             time.Time `json:"at"`
}
