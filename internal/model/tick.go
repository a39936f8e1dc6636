package model

import (
	"math"
	"time"
)

// Tick is a single trade print from the live stream of one instrument.
type Tick struct {
	Symbol string    `json:"symbol"`
	Price  float64   `json:"price"`
	Qty    float64   `json:"qty"`
	TickTS time.Time `json:"tick_ts"` // trade time, millisecond precision
}

// Valid reports whether the tick carries finite numbers and a timestamp.
func (t *Tick) Valid() bool {
	if t.TickTS.IsZero() {
		return false
	}
	return !math.IsNaN(t.Price) && !math.IsInf(t.Price, 0) &&
		!math.IsNaN(t.Qty) && !math.IsInf(t.Qty, 0)
}
