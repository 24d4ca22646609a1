package domain

import (
	"fmt"

	"github.com/shopspring/decimal"

	"market_go/pkg/ring"
)

// MarketType separates the two independently simulated markets.
// Stocks and crypto assets share the engine but never share a regime.
type MarketType string

const (
	MarketStock  MarketType = "STOCK"
	MarketCrypto MarketType = "CRYPTO"
)

// AllMarkets lists market types in their fixed processing order.
// The engine iterates this slice, never a map, to keep runs reproducible.
var AllMarkets = []MarketType{MarketStock, MarketCrypto}

// AssetConfig is the immutable per-asset configuration loaded at startup.
// Drift and Volatility are annualized; DividendYield is an annual fraction.
type AssetConfig struct {
	Symbol        string          `yaml:"symbol" json:"symbol"`
	Name          string          `yaml:"name" json:"name"`
	Sector        string          `yaml:"sector" json:"sector"`
	Market        MarketType      `yaml:"-" json:"market"`
	BasePrice     decimal.Decimal `yaml:"base_price" json:"base_price"`
	Drift         float64         `yaml:"drift" json:"drift"`
	Volatility    float64         `yaml:"volatility" json:"volatility"`
	MinPrice      decimal.Decimal `yaml:"min_price" json:"min_price"`
	MaxHistory    int             `yaml:"max_history" json:"max_history"`
	DividendYield float64         `yaml:"dividend_yield" json:"dividend_yield"`
}

// Validate enforces the startup invariants. A violation is fatal:
// the engine refuses to initialize rather than simulate undefined behavior.
func (c *AssetConfig) Validate() error {
	if c.Symbol == "" {
		return &ConfigError{Field: "symbol", Err: fmt.Errorf("must not be empty")}
	}
	if !c.BasePrice.IsPositive() {
		return &ConfigError{Field: c.Symbol + ".base_price", Err: fmt.Errorf("must be positive, got %s", c.BasePrice)}
	}
	if !c.MinPrice.IsPositive() {
		return &ConfigError{Field: c.Symbol + ".min_price", Err: fmt.Errorf("must be positive, got %s", c.MinPrice)}
	}
	if c.MinPrice.GreaterThan(c.BasePrice) {
		return &ConfigError{Field: c.Symbol + ".min_price", Err: fmt.Errorf("must not exceed base_price (%s > %s)", c.MinPrice, c.BasePrice)}
	}
	if c.Volatility < 0 {
		return &ConfigError{Field: c.Symbol + ".volatility", Err: fmt.Errorf("must not be negative")}
	}
	if c.MaxHistory <= 0 {
		return &ConfigError{Field: c.Symbol + ".max_history", Err: fmt.Errorf("must be positive")}
	}
	if c.DividendYield < 0 {
		return &ConfigError{Field: c.Symbol + ".dividend_yield", Err: fmt.Errorf("must not be negative")}
	}
	return nil
}

// AssetRuntimeState is the mutable per-asset state, owned exclusively by
// the engine during its tick. External readers only ever see copies.
type AssetRuntimeState struct {
	Symbol        string
	Market        MarketType
	CurrentPrice  decimal.Decimal
	PreviousPrice decimal.Decimal
	ATH           decimal.Decimal
	ATL           decimal.Decimal
	History       *ring.Buffer[decimal.Decimal]
	Candles       *ring.Buffer[Candle]
}

// NewAssetRuntimeState seeds runtime state at the configured base price.
// The base price counts as the first sample, so ATH/ATL are defined from tick 0.
func NewAssetRuntimeState(cfg AssetConfig) *AssetRuntimeState {
	s := &AssetRuntimeState{
		Symbol:        cfg.Symbol,
		Market:        cfg.Market,
		CurrentPrice:  cfg.BasePrice,
		PreviousPrice: cfg.BasePrice,
		ATH:           cfg.BasePrice,
		ATL:           cfg.BasePrice,
		History:       ring.New[decimal.Decimal](cfg.MaxHistory),
		Candles:       ring.New[Candle](cfg.MaxHistory),
	}
	s.History.Append(cfg.BasePrice)
	return s
}

// RecordSample installs the next tick price: rotates previous/current,
// appends to the bounded history and updates ATH/ATL incrementally.
func (s *AssetRuntimeState) RecordSample(price decimal.Decimal) {
	s.PreviousPrice = s.CurrentPrice
	s.CurrentPrice = price
	s.History.Append(price)
	if price.GreaterThan(s.ATH) {
		s.ATH = price
	}
	if price.LessThan(s.ATL) {
		s.ATL = price
	}
}

// ChangePct returns the tick-over-tick percent change, for display.
func (s *AssetRuntimeState) ChangePct() decimal.Decimal {
	if s.PreviousPrice.IsZero() {
		return decimal.Zero
	}
	return s.CurrentPrice.Sub(s.PreviousPrice).
		Div(s.PreviousPrice).
		Mul(decimal.NewFromInt(100))
}

// DrawdownFromATH returns the fractional distance below the all-time high,
// in [0,1]. 0 means the asset sits at its high.
func (s *AssetRuntimeState) DrawdownFromATH() float64 {
	if !s.ATH.IsPositive() {
		return 0
	}
	dd, _ := s.ATH.Sub(s.CurrentPrice).Div(s.ATH).Float64()
	if dd < 0 {
		return 0
	}
	if dd > 1 {
		return 1
	}
	return dd
}

// AssetStateSnapshot is the serializable form of AssetRuntimeState,
// used for external reads and for save/load round-trips.
type AssetStateSnapshot struct {
	Symbol          string            `json:"symbol"`
	Market          MarketType        `json:"market"`
	CurrentPrice    decimal.Decimal   `json:"current_price"`
	PreviousPrice   decimal.Decimal   `json:"previous_price"`
	ATH             decimal.Decimal   `json:"ath"`
	ATL             decimal.Decimal   `json:"atl"`
	History         []decimal.Decimal `json:"history"`
	Candles         []Candle          `json:"candles"`
	PartialCandle   *Candle           `json:"partial_candle,omitempty"`
	SamplesInBucket int               `json:"samples_in_bucket,omitempty"`
}

// Snapshot copies the runtime state into its serializable form.
// The in-progress candle bucket is filled in by the aggregator.
func (s *AssetRuntimeState) Snapshot() AssetStateSnapshot {
	return AssetStateSnapshot{
		Symbol:        s.Symbol,
		Market:        s.Market,
		CurrentPrice:  s.CurrentPrice,
		PreviousPrice: s.PreviousPrice,
		ATH:           s.ATH,
		ATL:           s.ATL,
		History:       s.History.Slice(),
		Candles:       s.Candles.Slice(),
	}
}

// RestoreAssetState rebuilds runtime state from a snapshot. Histories
// longer than the configured capacity keep only the newest entries.
func RestoreAssetState(cfg AssetConfig, snap AssetStateSnapshot) *AssetRuntimeState {
	s := NewAssetRuntimeState(cfg)
	s.CurrentPrice = snap.CurrentPrice
	s.PreviousPrice = snap.PreviousPrice
	s.ATH = snap.ATH
	s.ATL = snap.ATL
	s.History.Restore(snap.History)
	s.Candles.Restore(snap.Candles)
	return s
}
