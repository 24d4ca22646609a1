package domain

import "github.com/shopspring/decimal"

// OrderType distinguishes the four conditional order kinds.
type OrderType string

const (
	OrderLimitBuy   OrderType = "LIMIT_BUY"
	OrderLimitSell  OrderType = "LIMIT_SELL"
	OrderStopLoss   OrderType = "STOP_LOSS"
	OrderTakeProfit OrderType = "TAKE_PROFIT"
)

// IsSell reports whether the order reduces a position when filled.
func (t OrderType) IsSell() bool {
	return t == OrderLimitSell || t == OrderStopLoss || t == OrderTakeProfit
}

// Valid reports whether t is one of the known order types.
func (t OrderType) Valid() bool {
	switch t {
	case OrderLimitBuy, OrderLimitSell, OrderStopLoss, OrderTakeProfit:
		return true
	}
	return false
}

// OrderStatus is the order lifecycle state. Transitions are monotone:
// PENDING moves to exactly one terminal status and never back.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusFilled    OrderStatus = "FILLED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
	OrderStatusExpired   OrderStatus = "EXPIRED"
)

// LimitOrder is a player-submitted conditional order. It is owned by the
// per-market OrderBook while pending, then moved to the bounded history log.
type LimitOrder struct {
	ID            string          `gorm:"primaryKey" json:"id"`
	Symbol        string          `gorm:"index" json:"symbol"`
	Market        MarketType      `json:"market"`
	Type          OrderType       `json:"type"`
	Quantity      int64           `json:"quantity"`
	TargetPrice   decimal.Decimal `json:"target_price"`
	ExpiresAtTick int64           `json:"expires_at_tick"` // 0 = never
	Status        OrderStatus     `gorm:"index" json:"status"`
	FilledPrice   decimal.Decimal `json:"filled_price"` // zero until filled
	CreatedAtTick int64           `json:"created_at_tick"`
}

// IsPending reports whether the order is still evaluated by the book.
func (o *LimitOrder) IsPending() bool {
	return o.Status == OrderStatusPending
}

// IsTerminal reports whether the order reached a final status.
func (o *LimitOrder) IsTerminal() bool {
	switch o.Status {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusExpired:
		return true
	}
	return false
}
