package model

// SignalType is the kind of entry/exit event emitted by the signal generator.
type SignalType string

const (
	SignalBuy          SignalType = "BUY"
	SignalStopLoss     SignalType = "STOP_LOSS"
	SignalTakeProfit   SignalType = "TAKE_PROFIT"
	SignalTrendFail    SignalType = "TREND_FAIL"
	SignalReversalExit SignalType = "REVERSAL_EXIT"
)

// Entry reasons attached to BUY events.
const (
	ReasonMACross    = "MA-CROSS"
	ReasonBreakoutUp = "BREAKOUT-UP"
)

// NoDecision is the placeholder shown when nothing has been decided yet.
const NoDecision = "—"

// SignalEvent is one entry in a generator pass's append-only log.
type SignalEvent struct {
	Type    SignalType  `json:"type"`
	Time    int64       `json:"time"` // candle time, Unix seconds
	Price   float64     `json:"price"`
	Profile ProfileName `json:"profile"`
	Reason  string      `json:"reason,omitempty"`
}

// IsExit reports whether the event closes a position.
func (e *SignalEvent) IsExit() bool { return e.Type != SignalBuy }

// Label renders the event the way the "last decision" field shows it.
func (e *SignalEvent) Label() string {
	return string(e.Type) + " [" + string(e.Profile) + "]"
}

// LastDecision derives the caller-facing decision from a signal log.
func LastDecision(events []SignalEvent) string {
	if len(events) == 0 {
		return NoDecision
	}
	return events[len(events)-1].Label()
}
