package domain

import "github.com/shopspring/decimal"

// Candle is one fixed-width OHLC aggregate of consecutive price samples.
// OpenTick is the engine tick of the first sample in the bucket.
type Candle struct {
	Open     decimal.Decimal `json:"o"`
	High     decimal.Decimal `json:"h"`
	Low      decimal.Decimal `json:"l"`
	Close    decimal.Decimal `json:"c"`
	OpenTick int64           `json:"open_tick"`
}

// Valid reports whether the OHLC invariant holds:
// low <= min(open, close) and high >= max(open, close).
func (c Candle) Valid() bool {
	if c.Low.GreaterThan(c.High) {
		return false
	}
	if c.Low.GreaterThan(c.Open) || c.Low.GreaterThan(c.Close) {
		return false
	}
	if c.High.LessThan(c.Open) || c.High.LessThan(c.Close) {
		return false
	}
	return true
}

// Bullish reports whether the candle closed at or above its open.
func (c Candle) Bullish() bool {
	return c.Close.GreaterThanOrEqual(c.Open)
}
