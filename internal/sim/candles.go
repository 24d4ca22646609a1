package sim

import (
	"github.com/shopspring/decimal"

	"market_go/internal/domain"
)

// bucket accumulates one in-progress candle.
type bucket struct {
	candle domain.Candle
	count  int
}

// CandleAggregator folds the per-asset raw sample stream into
// fixed-width OHLC candles. Each bucket spans exactly width ticks and
// opens at the previous bucket's close, so the candle sequence is
// contiguous: no gaps even across save/load.
type CandleAggregator struct {
	width   int
	buckets map[string]*bucket
}

// NewCandleAggregator creates an aggregator with the given bucket width.
func NewCandleAggregator(width int) *CandleAggregator {
	if width <= 0 {
		panic("sim: candle width must be positive")
	}
	return &CandleAggregator{
		width:   width,
		buckets: make(map[string]*bucket),
	}
}

// Observe records one price sample for an asset, called exactly once per
// tick after the price step. When the bucket fills, the completed candle
// is appended to the asset's bounded candle history and the next bucket
// opens at this bucket's close.
func (a *CandleAggregator) Observe(st *domain.AssetRuntimeState, tick int64, price decimal.Decimal) {
	b, ok := a.buckets[st.Symbol]
	if !ok {
		b = &bucket{candle: newCandle(price, tick)}
		a.buckets[st.Symbol] = b
	}

	if price.GreaterThan(b.candle.High) {
		b.candle.High = price
	}
	if price.LessThan(b.candle.Low) {
		b.candle.Low = price
	}
	b.candle.Close = price
	b.count++

	if b.count >= a.width {
		st.Candles.Append(b.candle)
		// Next bucket opens where this one closed.
		b.candle = newCandle(price, tick+1)
		b.count = 0
	}
}

// IntrabarRange returns the open bucket's running low/high for an asset,
// used by the order book to catch targets crossed earlier in the bucket.
func (a *CandleAggregator) IntrabarRange(symbol string) (low, high decimal.Decimal, ok bool) {
	b, found := a.buckets[symbol]
	if !found || b.count == 0 {
		return decimal.Zero, decimal.Zero, false
	}
	return b.candle.Low, b.candle.High, true
}

// Snapshot exports the in-progress bucket so a save/load cycle does not
// lose a partially filled candle. A bucket with zero samples is still
// exported: after a save on a bucket boundary it carries the open the
// next candle must continue from. Returns nil only before the first
// observation.
func (a *CandleAggregator) Snapshot(symbol string) (*domain.Candle, int) {
	b, ok := a.buckets[symbol]
	if !ok {
		return nil, 0
	}
	c := b.candle
	return &c, b.count
}

// Restore resumes an in-progress bucket from a snapshot.
func (a *CandleAggregator) Restore(symbol string, partial *domain.Candle, count int) {
	if partial == nil || count < 0 {
		delete(a.buckets, symbol)
		return
	}
	a.buckets[symbol] = &bucket{candle: *partial, count: count}
}

func newCandle(open decimal.Decimal, openTick int64) domain.Candle {
	return domain.Candle{
		Open:     open,
		High:     open,
		Low:      open,
		Close:    open,
		OpenTick: openTick,
	}
}
