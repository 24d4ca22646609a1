package event

import (
	"github.com/shopspring/decimal"

	"market_go/internal/domain"
)

// FillEvent is emitted when a pending order fills. The portfolio
// collaborator consumes it to mutate cash/positions; the engine itself
// never touches holdings.
type FillEvent struct {
	OrderID  string            `json:"order_id"`
	Symbol   string            `json:"symbol"`
	Market   domain.MarketType `json:"market"`
	Type     domain.OrderType  `json:"type"`
	Quantity int64             `json:"quantity"`
	Price    decimal.Decimal   `json:"price"`
	Tick     int64             `json:"tick"`
}

// DividendEvent is emitted once per dividend interval for each asset
// with a non-zero yield. PerShare is already prorated to the interval.
type DividendEvent struct {
	Symbol   string            `json:"symbol"`
	Market   domain.MarketType `json:"market"`
	PerShare decimal.Decimal   `json:"per_share"`
	Tick     int64             `json:"tick"`
}

// ConditionChangeEvent announces a regime transition, e.g. for the UI's
// market-crash banner.
type ConditionChangeEvent struct {
	Market domain.MarketType `json:"market"`
	From   domain.Condition  `json:"from"`
	To     domain.Condition  `json:"to"`
	Tick   int64             `json:"tick"`
}

// PriceUpdate is one asset's price movement within a TickEvent.
type PriceUpdate struct {
	Symbol    string            `json:"symbol"`
	Market    domain.MarketType `json:"market"`
	Price     decimal.Decimal   `json:"price"`
	ChangePct decimal.Decimal   `json:"change_pct"`
}

// TickEvent summarizes one completed engine tick for external readers.
// TickEvents are pooled: consumers must not retain one past the handler
// call, copying out anything they need instead.
type TickEvent struct {
	Tick    int64
	Updates []PriceUpdate
}
