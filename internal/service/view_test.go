package service

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"market_go/internal/domain"
	"market_go/internal/event"
)

func tickEvent(tick int64, prices map[string]int64) *event.TickEvent {
	ev := &event.TickEvent{Tick: tick}
	for symbol, p := range prices {
		ev.Updates = append(ev.Updates, event.PriceUpdate{
			Symbol: symbol,
			Market: domain.MarketStock,
			Price:  decimal.NewFromInt(p),
		})
	}
	return ev
}

func waitForTick(t *testing.T, v *MarketView, symbol string, tick int64) Quote {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if q, ok := v.Quote(symbol); ok && q.Tick == tick {
			return q
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Quote for %s at tick %d never arrived", symbol, tick)
	return Quote{}
}

func TestMarketView_AppliesUpdates(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	v := NewMarketView()
	v.Start(ctx)

	v.OnTick(tickEvent(1, map[string]int64{"APEX": 100, "NOVA": 50}))
	q := waitForTick(t, v, "APEX", 1)
	if !q.Price.Equal(decimal.NewFromInt(100)) {
		t.Errorf("Expected APEX at 100, got %s", q.Price)
	}

	// A newer tick replaces the stored quote.
	v.OnTick(tickEvent(2, map[string]int64{"APEX": 105}))
	q = waitForTick(t, v, "APEX", 2)
	if !q.Price.Equal(decimal.NewFromInt(105)) {
		t.Errorf("Expected APEX at 105, got %s", q.Price)
	}

	// NOVA keeps its last known quote.
	if q, ok := v.Quote("NOVA"); !ok || q.Tick != 1 {
		t.Errorf("Expected NOVA quote from tick 1, got %+v (ok=%v)", q, ok)
	}
}

func TestMarketView_AllQuotesSorted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	v := NewMarketView()
	v.Start(ctx)

	v.OnTick(tickEvent(1, map[string]int64{"NOVA": 50, "APEX": 100, "MERID": 75}))
	waitForTick(t, v, "NOVA", 1)
	waitForTick(t, v, "APEX", 1)
	waitForTick(t, v, "MERID", 1)

	quotes := v.AllQuotes()
	if len(quotes) != 3 {
		t.Fatalf("Expected 3 quotes, got %d", len(quotes))
	}
	for i, want := range []string{"APEX", "MERID", "NOVA"} {
		if quotes[i].Symbol != want {
			t.Errorf("Position %d: expected %s, got %s", i, want, quotes[i].Symbol)
		}
	}
}

func TestMarketView_DropsFramesWhenStalled(t *testing.T) {
	// No consumer goroutine: the inbox fills and OnTick must not block.
	v := NewMarketView()
	done := make(chan struct{})
	go func() {
		for i := int64(1); i <= 200; i++ {
			v.OnTick(tickEvent(i, map[string]int64{"APEX": 100}))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("OnTick blocked on a full inbox")
	}
}
