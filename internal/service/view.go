package service

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"market_go/internal/domain"
	"market_go/internal/event"
)

// Quote is the UI-facing view of one asset: last price, tick-over-tick
// change, and the market it trades in. Plain data, safe to hand out.
type Quote struct {
	Symbol    string            `json:"symbol"`
	Market    domain.MarketType `json:"market"`
	Price     decimal.Decimal   `json:"price"`
	ChangePct decimal.Decimal   `json:"change_pct"`
	Tick      int64             `json:"tick"`
}

// MarketView is the read model consumed by chart cards and panels. It
// subscribes to engine tick events over a channel so UI reads never
// touch engine state, and engine ticks never block on a slow UI.
type MarketView struct {
	mu     sync.RWMutex
	quotes map[string]Quote
	inbox  chan []Quote
}

// NewMarketView creates an empty view.
func NewMarketView() *MarketView {
	return &MarketView{
		quotes: make(map[string]Quote),
		inbox:  make(chan []Quote, 64), // Enough buffer for a stalled UI thread
	}
}

// OnTick is the engine tick handler. The TickEvent is pooled, so the
// updates are copied out before the handler returns.
func (v *MarketView) OnTick(ev *event.TickEvent) {
	quotes := make([]Quote, 0, len(ev.Updates))
	for _, u := range ev.Updates {
		quotes = append(quotes, Quote{
			Symbol:    u.Symbol,
			Market:    u.Market,
			Price:     u.Price,
			ChangePct: u.ChangePct,
			Tick:      ev.Tick,
		})
	}

	select {
	case v.inbox <- quotes:
	default:
		// UI is far behind; dropping a frame is fine, the next tick
		// carries fresh prices anyway.
	}
}

// Start consumes queued updates in a background goroutine until ctx ends.
func (v *MarketView) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case quotes := <-v.inbox:
				v.apply(quotes)
			}
		}
	}()
}

func (v *MarketView) apply(quotes []Quote) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, q := range quotes {
		v.quotes[q.Symbol] = q
	}
}

// Quote returns the latest quote for a symbol.
func (v *MarketView) Quote(symbol string) (Quote, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	q, ok := v.quotes[symbol]
	return q, ok
}

// AllQuotes returns every known quote sorted by symbol for consistent
// ordering in list views.
func (v *MarketView) AllQuotes() []Quote {
	v.mu.RLock()
	defer v.mu.RUnlock()

	out := make([]Quote, 0, len(v.quotes))
	for _, q := range v.quotes {
		out = append(out, q)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Symbol < out[j].Symbol
	})
	return out
}
