package binance

var higherIntervals = map[string]string{
	"1h": "4h",
	"4h": "1d",
}

// HigherInterval returns the confirmation interval used by the MTF filter.
// ok is false for intervals with no mapping (everything below 1h, and 1d),
// which leaves the higher-timeframe trend unknown so MTF does not block.
func HigherInterval(interval string) (string, bool) {
	hi, ok := higherIntervals[interval]
	return hi, ok
}
