package binance

import (
	"errors"
	"fmt"
)

// ErrDataFetch marks every recoverable candle retrieval failure: transport
// errors, non-200 responses, malformed payloads and an open circuit breaker.
var ErrDataFetch = errors.New("data fetch failed")

// FetchError carries the request that failed.
type FetchError struct {
	Symbol   string
	Interval string
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("binance: fetch %s %s: %v", e.Symbol, e.Interval, e.Err)
}

// Unwrap exposes both the cause and ErrDataFetch to errors.Is.
func (e *FetchError) Unwrap() []error { return []error{ErrDataFetch, e.Err} }

func fetchErr(symbol, interval string, err error) error {
	return &FetchError{Symbol: symbol, Interval: interval, Err: err}
}
