package engine

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"market_go/internal/domain"
	"market_go/internal/event"
	"market_go/internal/infra"
)

// testConfig builds a small validated config: one flat dividend-paying
// stock and one deterministically decaying stock, regime rolls disabled.
func testConfig() *infra.Config {
	cfg := &infra.Config{}
	cfg.Simulation.Seed = 1234
	cfg.Simulation.TicksPerYear = 10
	cfg.Simulation.TicksPerCandle = 5
	cfg.Simulation.UpdateIntervalMS = 1000
	cfg.Simulation.MaxPendingOrders = 5
	cfg.Simulation.OrderHistoryCap = 50
	cfg.Simulation.DividendIntervalTicks = 10
	cfg.Simulation.MaxCatchUpTicks = 20

	cfg.Regime.EvalWindowTicks = 120
	cfg.Regime.ShortWindow = 12
	cfg.Regime.MediumWindow = 48
	cfg.Regime.MomentumScale = 2.0
	cfg.Regime.DurationMinTicks = 60
	cfg.Regime.DurationMaxTicks = 240

	cfg.Markets.Stocks = []domain.AssetConfig{
		{
			Symbol: "FLAT", Name: "Flat Corp", Market: domain.MarketStock,
			BasePrice: decimal.NewFromInt(100), MinPrice: decimal.NewFromInt(1),
			Drift: 0, Volatility: 0, MaxHistory: 300, DividendYield: 0.05,
		},
		{
			Symbol: "DECAY", Name: "Decay Inc", Market: domain.MarketStock,
			BasePrice: decimal.NewFromInt(100), MinPrice: decimal.NewFromInt(1),
			Drift: -0.5, Volatility: 0, MaxHistory: 300,
		},
	}
	return cfg
}

func newTestEngine(t *testing.T, cfg *infra.Config) *MarketEngine {
	t.Helper()
	e, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return e
}

func TestTick_FlatAssetStaysExact(t *testing.T) {
	e := newTestEngine(t, testConfig())
	for i := 0; i < 100; i++ {
		e.Tick()
	}

	snap, ok := e.AssetState("FLAT")
	if !ok {
		t.Fatal("FLAT missing")
	}
	hundred := decimal.NewFromInt(100)
	if !snap.CurrentPrice.Equal(hundred) {
		t.Errorf("Expected exactly 100, got %s", snap.CurrentPrice)
	}
	if !snap.ATH.Equal(hundred) || !snap.ATL.Equal(hundred) {
		t.Errorf("Expected ATH=ATL=100, got %s / %s", snap.ATH, snap.ATL)
	}
	if e.CurrentTick() != 100 {
		t.Errorf("Expected tick 100, got %d", e.CurrentTick())
	}
}

func TestTick_Deterministic(t *testing.T) {
	cfg := testConfig()
	cfg.Markets.Stocks[0].Volatility = 0.4
	cfg.Markets.Stocks[1].Volatility = 0.6
	cfg.Markets.Crypto = []domain.AssetConfig{{
		Symbol: "BITC", Name: "Bitcorn", Market: domain.MarketCrypto,
		BasePrice: decimal.NewFromInt(50000), MinPrice: decimal.NewFromInt(100),
		Drift: 0.3, Volatility: 1.2, MaxHistory: 300,
	}}

	run := func() []domain.AssetStateSnapshot {
		e := newTestEngine(t, cfg)
		for i := 0; i < 200; i++ {
			e.Tick()
		}
		var out []domain.AssetStateSnapshot
		for _, mt := range domain.AllMarkets {
			out = append(out, e.Assets(mt)...)
		}
		return out
	}

	a, b := run(), run()
	if len(a) != len(b) || len(a) != 3 {
		t.Fatalf("Snapshot count mismatch: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if !a[i].CurrentPrice.Equal(b[i].CurrentPrice) {
			t.Errorf("%s: trajectories diverged, %s vs %s",
				a[i].Symbol, a[i].CurrentPrice, b[i].CurrentPrice)
		}
		if len(a[i].History) != len(b[i].History) {
			t.Fatalf("%s: history length mismatch", a[i].Symbol)
		}
		for j := range a[i].History {
			if !a[i].History[j].Equal(b[i].History[j]) {
				t.Fatalf("%s: history diverged at %d", a[i].Symbol, j)
			}
		}
	}
}

func TestPlaceOrder_Validation(t *testing.T) {
	e := newTestEngine(t, testConfig())
	e.SetHoldingsProvider(func(symbol string) int64 {
		if symbol == "FLAT" {
			return 10
		}
		return 0
	})

	valid := PlaceOrderRequest{
		Symbol: "FLAT", Type: domain.OrderLimitBuy,
		Quantity: 1, TargetPrice: decimal.NewFromInt(90),
	}

	cases := []struct {
		name    string
		mutate  func(r *PlaceOrderRequest)
		wantErr error
	}{
		{"zero quantity", func(r *PlaceOrderRequest) { r.Quantity = 0 }, domain.ErrInvalidQuantity},
		{"negative price", func(r *PlaceOrderRequest) { r.TargetPrice = decimal.NewFromInt(-5) }, domain.ErrInvalidPrice},
		{"unknown symbol", func(r *PlaceOrderRequest) { r.Symbol = "GHOST" }, domain.ErrUnknownAsset},
		{"sell without position", func(r *PlaceOrderRequest) {
			r.Symbol = "DECAY"
			r.Type = domain.OrderTakeProfit
			r.TargetPrice = decimal.NewFromInt(120)
		}, domain.ErrNoPosition},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := valid
			tc.mutate(&req)
			if _, err := e.PlaceOrder(req); !errors.Is(err, tc.wantErr) {
				t.Errorf("Expected %v, got %v", tc.wantErr, err)
			}
		})
	}

	t.Run("unknown type", func(t *testing.T) {
		req := valid
		req.Type = domain.OrderType("MARKET")
		if _, err := e.PlaceOrder(req); err == nil {
			t.Error("Expected rejection for unknown order type")
		}
	})

	t.Run("sell with position", func(t *testing.T) {
		req := valid
		req.Type = domain.OrderTakeProfit
		req.TargetPrice = decimal.NewFromInt(120)
		if _, err := e.PlaceOrder(req); err != nil {
			t.Errorf("Expected acceptance, got %v", err)
		}
	})
}

func TestPlaceOrder_CapacityIncludesQueued(t *testing.T) {
	e := newTestEngine(t, testConfig())
	req := PlaceOrderRequest{
		Symbol: "FLAT", Type: domain.OrderLimitBuy,
		Quantity: 1, TargetPrice: decimal.NewFromInt(90),
	}

	for i := 0; i < 5; i++ {
		if _, err := e.PlaceOrder(req); err != nil {
			t.Fatalf("Placement %d rejected: %v", i, err)
		}
	}
	if _, err := e.PlaceOrder(req); !errors.Is(err, domain.ErrBookFull) {
		t.Errorf("Expected ErrBookFull on 6th placement, got %v", err)
	}
}

func TestOrderLifecycle_FillAtTarget(t *testing.T) {
	// DECAY loses exp(-0.05) per tick: 100, 95.12, 90.48, 86.07. The buy
	// target 90 is crossed within tick 3, so the fill is exactly 90.
	e := newTestEngine(t, testConfig())

	var fills []event.FillEvent
	e.SetHandlers(Handlers{OnFill: func(f event.FillEvent) { fills = append(fills, f) }})

	id, err := e.PlaceOrder(PlaceOrderRequest{
		Symbol: "DECAY", Type: domain.OrderLimitBuy,
		Quantity: 5, TargetPrice: decimal.NewFromInt(90),
	})
	if err != nil {
		t.Fatal(err)
	}

	e.Tick() // admitted, price 95.12
	e.Tick() // 90.48
	if len(fills) != 0 {
		t.Fatalf("Filled too early: %+v", fills)
	}

	e.Tick() // 86.07, crosses 90
	if len(fills) != 1 {
		t.Fatalf("Expected 1 fill after tick 3, got %d", len(fills))
	}
	f := fills[0]
	if f.OrderID != id || f.Tick != 3 {
		t.Errorf("Unexpected fill event: %+v", f)
	}
	if !f.Price.Equal(decimal.NewFromInt(90)) {
		t.Errorf("Expected fill at exactly 90, got %s", f.Price)
	}

	if n := len(e.PendingOrders(domain.MarketStock)); n != 0 {
		t.Errorf("Expected no pending orders, got %d", n)
	}
	h := e.OrderHistory(domain.MarketStock)
	if len(h) != 1 || h[0].Status != domain.OrderStatusFilled {
		t.Errorf("Expected filled order in history, got %+v", h)
	}
}

func TestOrderLifecycle_Expiration(t *testing.T) {
	// FLAT never moves, so the order can only expire. TTL 5 from the
	// admission tick 1 means the order lives through tick 5 and expires
	// on tick 6; no fill may ever fire.
	e := newTestEngine(t, testConfig())

	var fills []event.FillEvent
	e.SetHandlers(Handlers{OnFill: func(f event.FillEvent) { fills = append(fills, f) }})

	if _, err := e.PlaceOrder(PlaceOrderRequest{
		Symbol: "FLAT", Type: domain.OrderLimitBuy,
		Quantity: 1, TargetPrice: decimal.NewFromInt(90), TTLTicks: 5,
	}); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 5; i++ {
		e.Tick()
	}
	if n := len(e.PendingOrders(domain.MarketStock)); n != 1 {
		t.Fatalf("Expected order still pending at tick 5, got %d", n)
	}

	e.Tick()
	if len(fills) != 0 {
		t.Errorf("Expired order must never fill: %+v", fills)
	}
	h := e.OrderHistory(domain.MarketStock)
	if len(h) != 1 || h[0].Status != domain.OrderStatusExpired {
		t.Errorf("Expected expired order in history, got %+v", h)
	}
}

func TestCancelOrder(t *testing.T) {
	e := newTestEngine(t, testConfig())
	req := PlaceOrderRequest{
		Symbol: "FLAT", Type: domain.OrderLimitBuy,
		Quantity: 1, TargetPrice: decimal.NewFromInt(90),
	}

	t.Run("still queued", func(t *testing.T) {
		id, _ := e.PlaceOrder(req)
		if err := e.CancelOrder(domain.MarketStock, id); err != nil {
			t.Fatalf("Cancel of queued order failed: %v", err)
		}
		e.Tick()
		if n := len(e.PendingOrders(domain.MarketStock)); n != 0 {
			t.Errorf("Cancelled-in-queue order was still admitted: %d pending", n)
		}
	})

	t.Run("already admitted", func(t *testing.T) {
		id, _ := e.PlaceOrder(req)
		e.Tick()
		if err := e.CancelOrder(domain.MarketStock, id); err != nil {
			t.Fatalf("Cancel failed: %v", err)
		}
		e.Tick() // cancellation applies at the boundary
		if n := len(e.PendingOrders(domain.MarketStock)); n != 0 {
			t.Errorf("Expected order cancelled, got %d pending", n)
		}
	})

	t.Run("unknown id", func(t *testing.T) {
		if err := e.CancelOrder(domain.MarketStock, "nope"); !errors.Is(err, domain.ErrOrderNotFound) {
			t.Errorf("Expected ErrOrderNotFound, got %v", err)
		}
	})
}

func TestDividends(t *testing.T) {
	e := newTestEngine(t, testConfig())

	var divs []event.DividendEvent
	e.SetHandlers(Handlers{OnDividend: func(d event.DividendEvent) { divs = append(divs, d) }})

	for i := 0; i < 10; i++ {
		e.Tick()
	}

	// Only FLAT carries a yield. 0.05 annual * 10 ticks / 10 ticks-per-year
	// of a 100 price is 5 per share.
	if len(divs) != 1 {
		t.Fatalf("Expected 1 dividend at tick 10, got %d", len(divs))
	}
	d := divs[0]
	if d.Symbol != "FLAT" || d.Tick != 10 {
		t.Errorf("Unexpected dividend event: %+v", d)
	}
	if !d.PerShare.Equal(decimal.NewFromInt(5)) {
		t.Errorf("Expected 5 per share, got %s", d.PerShare)
	}
}

func TestConditionChangeEvent(t *testing.T) {
	cfg := testConfig()
	cfg.Regime.EvalWindowTicks = 10
	cfg.Regime.ProbCrash = 1.0
	e := newTestEngine(t, cfg)

	var changes []event.ConditionChangeEvent
	e.SetHandlers(Handlers{OnCondition: func(c event.ConditionChangeEvent) { changes = append(changes, c) }})

	for i := 0; i < 10; i++ {
		e.Tick()
	}

	if len(changes) != 1 {
		t.Fatalf("Expected 1 condition change, got %d", len(changes))
	}
	c := changes[0]
	if c.Market != domain.MarketStock || c.From != domain.ConditionNormal || c.To != domain.ConditionCrash || c.Tick != 10 {
		t.Errorf("Unexpected condition change: %+v", c)
	}

	a, _ := e.Analysis(domain.MarketStock)
	if a.Condition != domain.ConditionCrash {
		t.Errorf("Expected CRASH analysis, got %s", a.Condition)
	}
}

func TestSnapshotRestore_Resumes(t *testing.T) {
	cfg := testConfig()
	cfg.Markets.Stocks[0].Volatility = 0.5
	cfg.Markets.Stocks[1].Volatility = 0.5

	e1 := newTestEngine(t, cfg)
	if _, err := e1.PlaceOrder(PlaceOrderRequest{
		Symbol: "FLAT", Type: domain.OrderTakeProfit,
		Quantity: 3, TargetPrice: decimal.NewFromInt(1000000), // never triggers
	}); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 100; i++ {
		e1.Tick()
	}

	snap := e1.Snapshot()
	if snap.Tick != 100 || len(snap.Assets) != 2 || len(snap.Pending) != 1 {
		t.Fatalf("Unexpected snapshot shape: tick=%d assets=%d pending=%d",
			snap.Tick, len(snap.Assets), len(snap.Pending))
	}

	e2 := newTestEngine(t, cfg)
	if err := e2.Restore(snap); err != nil {
		t.Fatal(err)
	}

	if e2.CurrentTick() != 100 {
		t.Errorf("Expected restored tick 100, got %d", e2.CurrentTick())
	}
	for _, as := range snap.Assets {
		got, ok := e2.AssetState(as.Symbol)
		if !ok {
			t.Fatalf("%s missing after restore", as.Symbol)
		}
		if !got.CurrentPrice.Equal(as.CurrentPrice) || !got.ATH.Equal(as.ATH) || !got.ATL.Equal(as.ATL) {
			t.Errorf("%s: restored state differs: %+v vs %+v", as.Symbol, got, as)
		}
		if len(got.History) != len(as.History) {
			t.Errorf("%s: history length %d != %d", as.Symbol, len(got.History), len(as.History))
		}
	}
	if n := len(e2.PendingOrders(domain.MarketStock)); n != 1 {
		t.Errorf("Expected 1 pending order after restore, got %d", n)
	}

	// Restoring both engines from the same snapshot re-keys both random
	// streams identically, so the resumed trajectories must agree.
	if err := e1.Restore(snap); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 20; i++ {
		e1.Tick()
		e2.Tick()
	}
	for _, symbol := range []string{"FLAT", "DECAY"} {
		s1, _ := e1.AssetState(symbol)
		s2, _ := e2.AssetState(symbol)
		if !s1.CurrentPrice.Equal(s2.CurrentPrice) {
			t.Errorf("%s: resumed trajectories diverged, %s vs %s",
				symbol, s1.CurrentPrice, s2.CurrentPrice)
		}
	}
}

func TestSnapshotRestore_CandleContiguityOnBucketBoundary(t *testing.T) {
	// Candle width is 5 and the save lands at tick 5, exactly when the
	// first bucket completes. The candle built after restore must still
	// open at the pre-save close.
	e1 := newTestEngine(t, testConfig())
	for i := 0; i < 5; i++ {
		e1.Tick()
	}
	snap := e1.Snapshot()

	e2 := newTestEngine(t, testConfig())
	if err := e2.Restore(snap); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		e2.Tick()
	}

	for _, symbol := range []string{"FLAT", "DECAY"} {
		st, ok := e2.AssetState(symbol)
		if !ok {
			t.Fatalf("%s missing", symbol)
		}
		if len(st.Candles) != 2 {
			t.Fatalf("%s: expected 2 candles, got %d", symbol, len(st.Candles))
		}
		if !st.Candles[1].Open.Equal(st.Candles[0].Close) {
			t.Errorf("%s: candle open %s does not continue pre-save close %s",
				symbol, st.Candles[1].Open, st.Candles[0].Close)
		}
	}
}

func TestPendingOrders_UnknownMarket(t *testing.T) {
	e := newTestEngine(t, testConfig())

	if got := e.PendingOrders(domain.MarketType("COMMODITY")); len(got) != 0 {
		t.Errorf("Expected no orders for unknown market, got %+v", got)
	}
	if got := e.OrderHistory(domain.MarketType("COMMODITY")); len(got) != 0 {
		t.Errorf("Expected no history for unknown market, got %+v", got)
	}
}

func TestCancelOrder_QueuedWrongMarket(t *testing.T) {
	// A cancel addressed to the wrong market must not reach into another
	// market's placement queue.
	e := newTestEngine(t, testConfig())

	id, err := e.PlaceOrder(PlaceOrderRequest{
		Symbol: "FLAT", Type: domain.OrderLimitBuy,
		Quantity: 1, TargetPrice: decimal.NewFromInt(90),
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := e.CancelOrder(domain.MarketCrypto, id); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Errorf("Expected ErrOrderNotFound, got %v", err)
	}

	e.Tick()
	if n := len(e.PendingOrders(domain.MarketStock)); n != 1 {
		t.Errorf("Expected the queued order to survive, got %d pending", n)
	}
}

func TestCatchUp_Capped(t *testing.T) {
	e := newTestEngine(t, testConfig())

	ran := e.CatchUp(100)
	if ran != 20 {
		t.Errorf("Expected catch-up capped at 20, got %d", ran)
	}
	if e.CurrentTick() != 20 {
		t.Errorf("Expected tick 20, got %d", e.CurrentTick())
	}

	if ran := e.CatchUp(0); ran != 0 {
		t.Errorf("Expected no-op for 0, got %d", ran)
	}
}
