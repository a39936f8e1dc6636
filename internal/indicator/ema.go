package indicator

import "strconv"

// EMA calculates Exponential Moving Average.
// O(1) per update, no window storage.
//
// The recursion is seeded with the first value and smoothed with
// k = 2/(period+1) from then on. Ready only turns true once period values
// have been seen, so an under-warmed average is never reported.
type EMA struct {
	period     int
	multiplier float64
	current    float64
	count      int
}

// NewEMA creates a new EMA indicator with the given period.
func NewEMA(period int) *EMA {
	if period < 1 {
		period = 1
	}
	return &EMA{
		period:     period,
		multiplier: 2.0 / float64(period+1),
	}
}

func (e *EMA) Name() string { return "EMA_" + strconv.Itoa(e.period) }

func (e *EMA) Update(v float64) {
	e.count++
	if e.count == 1 {
		e.current = v
		return
	}
	// EMA formula: EMA = (Price * multiplier) + (EMA_prev * (1 - multiplier))
	e.current = (v * e.multiplier) + (e.current * (1 - e.multiplier))
}

// Value returns the running average, or 0 before warm-up.
func (e *EMA) Value() float64 {
	if !e.Ready() {
		return 0
	}
	return e.current
}

func (e *EMA) Ready() bool { return e.count >= e.period }

// Reset clears the EMA state for reuse.
func (e *EMA) Reset() {
	e.current = 0
	e.count = 0
}
