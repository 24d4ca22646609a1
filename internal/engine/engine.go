// Package engine is the simulator's composition root: it owns all
// mutable market state and advances it one tick at a time.
package engine

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"market_go/internal/book"
	"market_go/internal/domain"
	"market_go/internal/event"
	"market_go/internal/infra"
	"market_go/internal/sim"
)

// HoldingsProvider reports the player's current position in an asset.
// The portfolio collaborator supplies it so sell-side orders can be
// validated at placement time. A nil provider skips that check.
type HoldingsProvider func(symbol string) int64

// Handlers receive engine events after a tick completes. They run on the
// ticking goroutine: keep them fast, and never call back into the engine
// from inside a handler. The TickEvent is pooled and must not be retained.
type Handlers struct {
	OnFill      func(event.FillEvent)
	OnDividend  func(event.DividendEvent)
	OnCondition func(event.ConditionChangeEvent)
	OnTick      func(*event.TickEvent)
}

// PlaceOrderRequest is the player-facing order-placement command.
// TTLTicks counts from the tick the order is admitted; 0 never expires.
type PlaceOrderRequest struct {
	Symbol      string
	Type        domain.OrderType
	Quantity    int64
	TargetPrice decimal.Decimal
	TTLTicks    int64
}

type assetSlot struct {
	cfg   domain.AssetConfig
	state *domain.AssetRuntimeState
}

// command is one queued boundary mutation: a placement or a cancellation.
type command struct {
	place  *domain.LimitOrder
	ttl    int64
	cancel string
	market domain.MarketType
}

// MarketEngine orchestrates the tick: regime update, price steps, candle
// aggregation, order evaluation, event dispatch — strictly in that order.
// All state is mutated only inside Tick while holding the write lock;
// external readers get copies under the read lock. Order placement and
// cancellation are queued and applied at the next tick boundary, never
// mid-evaluation.
type MarketEngine struct {
	mu sync.RWMutex // Used only for external reads (e.g. UI)

	seed int64
	tick int64
	rng  *rand.Rand

	symbols map[string]*assetSlot
	order   map[domain.MarketType][]string // catalog order, fixed for determinism

	process     *sim.PriceProcess
	classifiers map[domain.MarketType]*sim.Classifier
	candles     *sim.CandleAggregator
	books       map[domain.MarketType]*book.OrderBook

	ticksPerYear     int
	yearFraction     float64 // of one tick
	dividendInterval int64
	maxCatchUp       int64
	booksCap         int

	cmdMu  sync.Mutex
	queue  []command
	queued map[domain.MarketType]int // pending placements per market

	handlers Handlers
	holdings HoldingsProvider
}

// New builds an engine from validated configuration. A malformed config
// is fatal: the engine refuses to initialize rather than simulate
// undefined behavior.
func New(cfg *infra.Config) (*MarketEngine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &MarketEngine{
		seed:             cfg.Simulation.Seed,
		rng:              rand.New(rand.NewSource(cfg.Simulation.Seed)),
		symbols:          make(map[string]*assetSlot),
		order:            make(map[domain.MarketType][]string),
		classifiers:      make(map[domain.MarketType]*sim.Classifier),
		books:            make(map[domain.MarketType]*book.OrderBook),
		candles:          sim.NewCandleAggregator(cfg.Simulation.TicksPerCandle),
		ticksPerYear:     cfg.Simulation.TicksPerYear,
		yearFraction:     1.0 / float64(cfg.Simulation.TicksPerYear),
		dividendInterval: cfg.Simulation.DividendIntervalTicks,
		maxCatchUp:       cfg.Simulation.MaxCatchUpTicks,
		booksCap:         cfg.Simulation.MaxPendingOrders,
		queued:           make(map[domain.MarketType]int),
	}
	e.process = sim.NewPriceProcess(e.rng, cfg.Simulation.TicksPerYear)

	regimeCfg := sim.RegimeConfig{
		EvalWindowTicks:  cfg.Regime.EvalWindowTicks,
		ShortWindow:      cfg.Regime.ShortWindow,
		MediumWindow:     cfg.Regime.MediumWindow,
		TicksPerYear:     cfg.Simulation.TicksPerYear,
		MomentumScale:    cfg.Regime.MomentumScale,
		ProbBull:         cfg.Regime.ProbBull,
		ProbBear:         cfg.Regime.ProbBear,
		ProbCrash:        cfg.Regime.ProbCrash,
		ProbBubble:       cfg.Regime.ProbBubble,
		DurationMinTicks: cfg.Regime.DurationMinTicks,
		DurationMaxTicks: cfg.Regime.DurationMaxTicks,
	}

	catalogs := map[domain.MarketType][]domain.AssetConfig{
		domain.MarketStock:  cfg.Markets.Stocks,
		domain.MarketCrypto: cfg.Markets.Crypto,
	}
	for _, mt := range domain.AllMarkets {
		e.classifiers[mt] = sim.NewClassifier(mt, regimeCfg, e.rng)
		e.books[mt] = book.New(mt, cfg.Simulation.MaxPendingOrders, cfg.Simulation.OrderHistoryCap)
		for _, ac := range catalogs[mt] {
			ac.Market = mt
			e.symbols[ac.Symbol] = &assetSlot{cfg: ac, state: domain.NewAssetRuntimeState(ac)}
			e.order[mt] = append(e.order[mt], ac.Symbol)
		}
	}

	return e, nil
}

// SetHandlers installs the event handlers. Call before the first Tick.
func (e *MarketEngine) SetHandlers(h Handlers) {
	e.handlers = h
}

// SetHoldingsProvider installs the portfolio lookup used to validate
// sell-side placements. Call before the first Tick.
func (e *MarketEngine) SetHoldingsProvider(p HoldingsProvider) {
	e.holdings = p
}

// Tick advances the whole simulation by one step. It is synchronous:
// everything for the tick runs to completion before Tick returns, and
// handlers observe only fully applied state.
func (e *MarketEngine) Tick() {
	start := time.Now()
	fills, dividends, conds, tickEv := e.step()
	infra.GlobalMetrics.RecordTick(time.Since(start).Nanoseconds())
	e.dispatch(fills, dividends, conds, tickEv)
}

// step performs the locked portion of the tick and returns the events to
// dispatch once the lock is released.
func (e *MarketEngine) step() ([]event.FillEvent, []event.DividendEvent, []event.ConditionChangeEvent, *event.TickEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.tick++
	tick := e.tick
	e.applyCommands(tick)

	tickEv := event.AcquireTickEvent()
	tickEv.Tick = tick

	var fills []event.FillEvent
	var conds []event.ConditionChangeEvent

	for _, mt := range domain.AllMarkets {
		syms := e.order[mt]
		if len(syms) == 0 {
			continue
		}

		cls := e.classifiers[mt]
		prev := cls.Analysis().Condition
		analysis := cls.Tick(tick, e.statesFor(mt))
		if analysis.Condition != prev {
			infra.GlobalMetrics.RecordRegimeChange()
			conds = append(conds, event.ConditionChangeEvent{
				Market: mt, From: prev, To: analysis.Condition, Tick: tick,
			})
		}
		mod := sim.ModifierFor(analysis.Condition)

		ranges := make(map[string]book.TickRange, len(syms))
		for _, symbol := range syms {
			slot := e.symbols[symbol]
			open := slot.state.CurrentPrice
			price := e.process.Advance(&slot.cfg, slot.state, mod)
			e.candles.Observe(slot.state, tick, price)

			lo, hi := open, open
			if price.LessThan(lo) {
				lo = price
			}
			if price.GreaterThan(hi) {
				hi = price
			}
			// Widen to the open candle bucket so targets the price passed
			// earlier in the bucket still count as crossed.
			if blo, bhi, ok := e.candles.IntrabarRange(symbol); ok {
				if blo.LessThan(lo) {
					lo = blo
				}
				if bhi.GreaterThan(hi) {
					hi = bhi
				}
			}
			ranges[symbol] = book.TickRange{Open: open, Close: price, Low: lo, High: hi}

			tickEv.Updates = append(tickEv.Updates, event.PriceUpdate{
				Symbol:    symbol,
				Market:    mt,
				Price:     price,
				ChangePct: slot.state.ChangePct(),
			})
		}

		fills = append(fills, e.books[mt].Evaluate(tick, ranges)...)
	}

	return fills, e.accrueDividends(tick), conds, tickEv
}

// accrueDividends emits prorated per-share payouts on the dividend
// boundary for every asset with a configured yield.
func (e *MarketEngine) accrueDividends(tick int64) []event.DividendEvent {
	if e.dividendInterval <= 0 || tick%e.dividendInterval != 0 {
		return nil
	}

	var out []event.DividendEvent
	for _, mt := range domain.AllMarkets {
		for _, symbol := range e.order[mt] {
			slot := e.symbols[symbol]
			if slot.cfg.DividendYield <= 0 {
				continue
			}
			fraction := slot.cfg.DividendYield * float64(e.dividendInterval) * e.yearFraction
			perShare := slot.state.CurrentPrice.
				Mul(decimal.NewFromFloat(fraction)).
				Round(8)
			out = append(out, event.DividendEvent{
				Symbol: symbol, Market: mt, PerShare: perShare, Tick: tick,
			})
		}
	}
	return out
}

func (e *MarketEngine) dispatch(fills []event.FillEvent, dividends []event.DividendEvent, conds []event.ConditionChangeEvent, tickEv *event.TickEvent) {
	if e.handlers.OnCondition != nil {
		for _, c := range conds {
			e.handlers.OnCondition(c)
		}
	}
	if e.handlers.OnFill != nil {
		for _, f := range fills {
			e.handlers.OnFill(f)
		}
	}
	if e.handlers.OnDividend != nil {
		for _, d := range dividends {
			e.handlers.OnDividend(d)
		}
	}
	if e.handlers.OnTick != nil {
		e.handlers.OnTick(tickEv)
	}
	event.ReleaseTickEvent(tickEv)
}

// applyCommands drains the queued placements/cancellations at the tick
// boundary. Runs with the write lock held, before any price advances.
func (e *MarketEngine) applyCommands(tick int64) {
	e.cmdMu.Lock()
	cmds := e.queue
	e.queue = nil
	for mt := range e.queued {
		e.queued[mt] = 0
	}
	e.cmdMu.Unlock()

	for _, c := range cmds {
		if c.cancel != "" {
			if err := e.books[c.market].Cancel(c.cancel); err != nil {
				slog.Warn("cancellation dropped",
					slog.String("order_id", c.cancel), slog.Any("error", err))
			}
			continue
		}

		c.place.CreatedAtTick = tick
		if c.ttl > 0 {
			c.place.ExpiresAtTick = tick + c.ttl
		}
		if err := e.books[c.place.Market].Admit(c.place); err != nil {
			// Capacity can be exhausted by earlier commands in the same batch.
			infra.GlobalMetrics.RecordOrderRejected()
			slog.Warn("queued order rejected at admission",
				slog.String("order_id", c.place.ID), slog.Any("error", err))
		}
	}
}

// PlaceOrder validates the request synchronously and queues the order
// for admission at the next tick boundary. Returns the assigned order ID.
func (e *MarketEngine) PlaceOrder(req PlaceOrderRequest) (string, error) {
	reject := func(err error) (string, error) {
		infra.GlobalMetrics.RecordOrderRejected()
		return "", &domain.PlacementError{Symbol: req.Symbol, Err: err}
	}

	if !req.Type.Valid() {
		return reject(fmt.Errorf("unknown order type %q", req.Type))
	}
	if req.Quantity <= 0 {
		return reject(domain.ErrInvalidQuantity)
	}
	if !req.TargetPrice.IsPositive() {
		return reject(domain.ErrInvalidPrice)
	}
	slot, ok := e.symbols[req.Symbol]
	if !ok {
		return reject(domain.ErrUnknownAsset)
	}
	if req.Type.IsSell() && e.holdings != nil && e.holdings(req.Symbol) <= 0 {
		return reject(domain.ErrNoPosition)
	}

	market := slot.cfg.Market

	e.mu.RLock()
	pendingNow := e.books[market].PendingCount()
	e.mu.RUnlock()

	e.cmdMu.Lock()
	defer e.cmdMu.Unlock()
	if pendingNow+e.queued[market] >= e.bookCapacity(market) {
		infra.GlobalMetrics.RecordOrderRejected()
		return "", &domain.PlacementError{Symbol: req.Symbol, Err: domain.ErrBookFull}
	}

	o := &domain.LimitOrder{
		ID:          uuid.NewString(),
		Symbol:      req.Symbol,
		Market:      market,
		Type:        req.Type,
		Quantity:    req.Quantity,
		TargetPrice: req.TargetPrice,
		Status:      domain.OrderStatusPending,
	}
	e.queue = append(e.queue, command{place: o, ttl: req.TTLTicks, market: market})
	e.queued[market]++
	return o.ID, nil
}

// CancelOrder queues a cancellation for the next tick boundary. An order
// still sitting in the placement queue is removed immediately.
func (e *MarketEngine) CancelOrder(market domain.MarketType, id string) error {
	e.cmdMu.Lock()
	for i, c := range e.queue {
		if c.place != nil && c.place.ID == id && c.market == market {
			e.queue = append(e.queue[:i], e.queue[i+1:]...)
			e.queued[c.market]--
			e.cmdMu.Unlock()
			infra.GlobalMetrics.RecordOrderCancelled()
			return nil
		}
	}
	e.cmdMu.Unlock()

	e.mu.RLock()
	b, ok := e.books[market]
	if !ok {
		e.mu.RUnlock()
		return domain.ErrOrderNotFound
	}
	_, found := b.Find(id)
	e.mu.RUnlock()
	if !found {
		return domain.ErrOrderNotFound
	}

	e.cmdMu.Lock()
	e.queue = append(e.queue, command{cancel: id, market: market})
	e.cmdMu.Unlock()
	return nil
}

func (e *MarketEngine) bookCapacity(market domain.MarketType) int {
	// Books share one configured cap; kept behind a helper in case the
	// markets ever diverge.
	return e.booksCap
}

// CatchUp fast-forwards the simulation by n ticks through the normal
// Tick path, so every invariant and event fires exactly as it would have
// live. The configured cap bounds the work after long offline stretches.
// Returns the number of ticks actually simulated.
func (e *MarketEngine) CatchUp(n int64) int64 {
	if n <= 0 {
		return 0
	}
	if e.maxCatchUp > 0 && n > e.maxCatchUp {
		n = e.maxCatchUp
	}
	for i := int64(0); i < n; i++ {
		e.Tick()
	}
	return n
}

// CurrentTick returns the last completed tick.
func (e *MarketEngine) CurrentTick() int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.tick
}

// AssetState returns a copy of one asset's runtime state.
func (e *MarketEngine) AssetState(symbol string) (domain.AssetStateSnapshot, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	slot, ok := e.symbols[symbol]
	if !ok {
		return domain.AssetStateSnapshot{}, false
	}
	return e.snapshotSlot(slot), true
}

// Assets returns copies of all asset states for a market, catalog order.
func (e *MarketEngine) Assets(market domain.MarketType) []domain.AssetStateSnapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]domain.AssetStateSnapshot, 0, len(e.order[market]))
	for _, symbol := range e.order[market] {
		out = append(out, e.snapshotSlot(e.symbols[symbol]))
	}
	return out
}

// Analysis returns the current market analysis for a market type.
func (e *MarketEngine) Analysis(market domain.MarketType) (domain.MarketAnalysis, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cls, ok := e.classifiers[market]
	if !ok {
		return domain.MarketAnalysis{}, false
	}
	return cls.Analysis(), true
}

// PendingOrders returns copies of a market's live orders.
func (e *MarketEngine) PendingOrders(market domain.MarketType) []domain.LimitOrder {
	e.mu.RLock()
	defer e.mu.RUnlock()
	b, ok := e.books[market]
	if !ok {
		return nil
	}
	return b.Pending()
}

// OrderHistory returns a market's retained terminal orders, oldest first.
func (e *MarketEngine) OrderHistory(market domain.MarketType) []domain.LimitOrder {
	e.mu.RLock()
	defer e.mu.RUnlock()
	b, ok := e.books[market]
	if !ok {
		return nil
	}
	return b.History()
}

func (e *MarketEngine) snapshotSlot(slot *assetSlot) domain.AssetStateSnapshot {
	snap := slot.state.Snapshot()
	snap.PartialCandle, snap.SamplesInBucket = e.candles.Snapshot(slot.cfg.Symbol)
	return snap
}

// Snapshot captures the complete simulator state for persistence.
func (e *MarketEngine) Snapshot() *domain.SimSnapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()

	snap := &domain.SimSnapshot{
		Tick:        e.tick,
		Seed:        e.seed,
		SavedAtUnix: time.Now().Unix(),
	}
	for _, mt := range domain.AllMarkets {
		for _, symbol := range e.order[mt] {
			snap.Assets = append(snap.Assets, e.snapshotSlot(e.symbols[symbol]))
		}
		snap.Analyses = append(snap.Analyses, e.classifiers[mt].Analysis())
		snap.Pending = append(snap.Pending, e.books[mt].Pending()...)
		snap.History = append(snap.History, e.books[mt].History()...)
	}
	return snap
}

// Restore resumes from a saved snapshot. Assets no longer in the catalog
// are skipped with a warning; their orders expire defensively on the
// next evaluation. The random source is reseeded from (seed, tick) so
// the resumed trajectory is reproducible.
func (e *MarketEngine) Restore(snap *domain.SimSnapshot) error {
	if snap == nil {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.tick = snap.Tick
	e.seed = snap.Seed
	e.reseed()

	for _, as := range snap.Assets {
		slot, ok := e.symbols[as.Symbol]
		if !ok {
			slog.Warn("saved asset missing from catalog, skipping",
				slog.String("symbol", as.Symbol))
			continue
		}
		slot.state = domain.RestoreAssetState(slot.cfg, as)
		e.candles.Restore(as.Symbol, as.PartialCandle, as.SamplesInBucket)
	}

	for _, an := range snap.Analyses {
		if cls, ok := e.classifiers[an.Market]; ok {
			cls.Restore(an)
		}
	}

	for _, mt := range domain.AllMarkets {
		e.books[mt].Restore(snap.Pending, snap.History)
	}

	slog.Info("simulator state restored",
		slog.Int64("tick", snap.Tick),
		slog.Int("assets", len(snap.Assets)),
		slog.Int("pending_orders", len(snap.Pending)))
	return nil
}

// reseed derives a fresh deterministic random stream from (seed, tick).
// math/rand sources cannot serialize their internal position, so a
// resumed run re-keys instead of continuing the exact original stream.
func (e *MarketEngine) reseed() {
	e.rng = rand.New(rand.NewSource(e.seed ^ int64(uint64(e.tick)*0x9E3779B97F4A7C15)))
	e.process = sim.NewPriceProcess(e.rng, e.ticksPerYear)
	for _, cls := range e.classifiers {
		cls.SetRand(e.rng)
	}
}

// DumpState writes the entire internal state to a file (for post-mortem).
func (e *MarketEngine) DumpState(filename string) {
	slog.Info("Dumping internal state...", slog.String("file", filename))

	b, err := json.MarshalIndent(e.Snapshot(), "", "  ")
	if err != nil {
		slog.Error("Failed to marshal state", slog.Any("error", err))
		return
	}
	if err := os.WriteFile(filename, b, 0644); err != nil {
		slog.Error("Failed to write state dump", slog.Any("error", err))
	}
}

func (e *MarketEngine) statesFor(market domain.MarketType) []*domain.AssetRuntimeState {
	states := make([]*domain.AssetRuntimeState, 0, len(e.order[market]))
	for _, symbol := range e.order[market] {
		states = append(states, e.symbols[symbol].state)
	}
	return states
}
