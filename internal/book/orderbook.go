// Package book holds the per-market conditional order books.
package book

import (
	"log/slog"

	"github.com/shopspring/decimal"

	"market_go/internal/domain"
	"market_go/internal/event"
	"market_go/internal/infra"
	"market_go/pkg/ring"
)

// TickRange is one asset's price movement during the tick being
// evaluated: Open is the prior tick's close, Close the fresh price, and
// Low/High bracket the intrabar path (they include the open candle
// bucket's extremes when the engine supplies them).
type TickRange struct {
	Open  decimal.Decimal
	Close decimal.Decimal
	Low   decimal.Decimal
	High  decimal.Decimal
}

// OrderBook owns all pending conditional orders for one market type and
// resolves them against each tick's fresh prices. It never mutates
// portfolio state; fills are reported as events.
type OrderBook struct {
	market     domain.MarketType
	maxPending int
	pending    []*domain.LimitOrder // placement order, evaluated FIFO
	history    *ring.Buffer[domain.LimitOrder]
}

// New creates an empty book with the given capacity limits.
func New(market domain.MarketType, maxPending, historyCap int) *OrderBook {
	return &OrderBook{
		market:     market,
		maxPending: maxPending,
		history:    ring.New[domain.LimitOrder](historyCap),
	}
}

// Admit adds an already validated pending order. The capacity cap is the
// one placement-time rule the book enforces itself.
func (b *OrderBook) Admit(o *domain.LimitOrder) error {
	if len(b.pending) >= b.maxPending {
		return &domain.PlacementError{Symbol: o.Symbol, Err: domain.ErrBookFull}
	}
	b.pending = append(b.pending, o)
	return nil
}

// Cancel transitions a pending order to CANCELLED and moves it to
// history. Terminal orders cannot be cancelled.
func (b *OrderBook) Cancel(id string) error {
	for i, o := range b.pending {
		if o.ID != id {
			continue
		}
		o.Status = domain.OrderStatusCancelled
		b.retire(i, o)
		infra.GlobalMetrics.RecordOrderCancelled()
		return nil
	}
	return domain.ErrOrderNotFound
}

// Evaluate resolves every pending order against the tick's prices.
// Expiration always wins: an order at or past its expiry tick is expired
// before any crossing check. Orders whose asset has no range (should be
// impossible given catalog immutability) are force-expired defensively
// so one corrupt order cannot halt the tick.
func (b *OrderBook) Evaluate(tick int64, ranges map[string]TickRange) []event.FillEvent {
	var fills []event.FillEvent

	kept := b.pending[:0]
	for _, o := range b.pending {
		if o.ExpiresAtTick != 0 && o.ExpiresAtTick <= tick {
			o.Status = domain.OrderStatusExpired
			b.history.Append(*o)
			infra.GlobalMetrics.RecordOrderExpired()
			continue
		}

		r, ok := ranges[o.Symbol]
		if !ok {
			slog.Error("order references asset missing from catalog, force-expiring",
				slog.String("order_id", o.ID), slog.String("symbol", o.Symbol))
			o.Status = domain.OrderStatusExpired
			b.history.Append(*o)
			infra.GlobalMetrics.RecordOrderExpired()
			continue
		}

		fillPrice, crossed := crossing(o.Type, o.TargetPrice, r)
		if !crossed {
			kept = append(kept, o)
			continue
		}

		o.Status = domain.OrderStatusFilled
		o.FilledPrice = fillPrice
		b.history.Append(*o)
		infra.GlobalMetrics.RecordOrderFilled()
		fills = append(fills, event.FillEvent{
			OrderID:  o.ID,
			Symbol:   o.Symbol,
			Market:   o.Market,
			Type:     o.Type,
			Quantity: o.Quantity,
			Price:    fillPrice,
			Tick:     tick,
		})
	}

	// Zero the tail so retired orders do not linger in the backing array.
	for i := len(kept); i < len(b.pending); i++ {
		b.pending[i] = nil
	}
	b.pending = kept
	return fills
}

// crossing decides whether the tick's range triggers the order and at
// what price. Fill policy is conservative: when the price crossed
// through the target within the tick the fill is exactly the target; when
// the tick already opened beyond the target, the fill is the open — the
// price the holder would actually have gotten, never a better one.
func crossing(t domain.OrderType, target decimal.Decimal, r TickRange) (decimal.Decimal, bool) {
	switch t {
	case domain.OrderLimitBuy, domain.OrderStopLoss:
		// Triggers when the price reaches the target from above.
		if r.Low.GreaterThan(target) {
			return decimal.Zero, false
		}
		if r.Open.LessThan(target) {
			return r.Open, true
		}
		return target, true

	case domain.OrderLimitSell, domain.OrderTakeProfit:
		// Triggers when the price reaches the target from below.
		if r.High.LessThan(target) {
			return decimal.Zero, false
		}
		if r.Open.GreaterThan(target) {
			return r.Open, true
		}
		return target, true
	}
	return decimal.Zero, false
}

// retire moves pending[i] to history, preserving order of the rest.
func (b *OrderBook) retire(i int, o *domain.LimitOrder) {
	b.history.Append(*o)
	b.pending = append(b.pending[:i], b.pending[i+1:]...)
}

// PendingCount returns the number of live orders.
func (b *OrderBook) PendingCount() int {
	return len(b.pending)
}

// Find returns a copy of a pending order by ID.
func (b *OrderBook) Find(id string) (domain.LimitOrder, bool) {
	for _, o := range b.pending {
		if o.ID == id {
			return *o, true
		}
	}
	return domain.LimitOrder{}, false
}

// Pending returns copies of all pending orders in placement order.
func (b *OrderBook) Pending() []domain.LimitOrder {
	out := make([]domain.LimitOrder, len(b.pending))
	for i, o := range b.pending {
		out[i] = *o
	}
	return out
}

// History returns the retained terminal orders, oldest first.
func (b *OrderBook) History() []domain.LimitOrder {
	return b.history.Slice()
}

// Restore repopulates the book from saved orders. Pending orders beyond
// the capacity cap are dropped newest-first rather than silently
// exceeding the cap.
func (b *OrderBook) Restore(pending, history []domain.LimitOrder) {
	b.pending = b.pending[:0]
	for i := range pending {
		if len(b.pending) >= b.maxPending {
			break
		}
		o := pending[i]
		if o.Market != b.market || !o.IsPending() {
			continue
		}
		b.pending = append(b.pending, &o)
	}

	b.history.Reset()
	for _, o := range history {
		if o.Market != b.market {
			continue
		}
		b.history.Append(o)
	}
}
