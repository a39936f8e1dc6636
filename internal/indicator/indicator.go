// Package indicator provides technical indicator calculations over candle data.
//
// Streaming accumulators (SMA, EMA) consume one value at a time in O(1).
// The series functions (MA, ExpMA, VolMA) replay a whole candle slice through
// an accumulator and return a Series aligned 1:1 with the input, undefined for
// indices before the indicator has warmed up.
package indicator

import (
	"bytes"
	"strconv"
)

// Accumulator is the interface for streaming indicators.
type Accumulator interface {
	// Name returns the indicator name (e.g., "SMA_20", "EMA_150").
	Name() string

	// Update feeds the next value and recalculates.
	Update(v float64)

	// Value returns the current calculated value. Returns 0 if not enough data.
	Value() float64

	// Ready returns true when enough data has been accumulated.
	Ready() bool

	// Reset clears all state for reuse.
	Reset()
}

// Series is an indicator output aligned with its input candles.
// Indices before the warm-up index are undefined.
type Series struct {
	values []float64
	from   int
}

func newSeries(n, from int) Series {
	if from < 0 {
		from = 0
	}
	return Series{values: make([]float64, n), from: from}
}

// Len returns the number of aligned entries (defined or not).
func (s Series) Len() int { return len(s.values) }

// WarmUp returns the first defined index.
func (s Series) WarmUp() int { return s.from }

// Defined reports whether index i carries a value.
func (s Series) Defined(i int) bool {
	return i >= s.from && i >= 0 && i < len(s.values)
}

// At returns the value at index i and whether it is defined.
func (s Series) At(i int) (float64, bool) {
	if !s.Defined(i) {
		return 0, false
	}
	return s.values[i], true
}

// Last returns the final value of the series and whether it is defined.
func (s Series) Last() (float64, bool) {
	return s.At(len(s.values) - 1)
}

// MarshalJSON encodes undefined entries as null.
func (s Series) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, v := range s.values {
		if i > 0 {
			buf.WriteByte(',')
		}
		if !s.Defined(i) {
			buf.WriteString("null")
			continue
		}
		buf.WriteString(strconv.FormatFloat(v, 'f', -1, 64))
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}
