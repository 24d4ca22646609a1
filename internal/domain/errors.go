package domain

import "errors"

// Placement violations. These are returned synchronously by the
// order-placement command; a rejected order never enters the book.
var (
	// ErrUnknownAsset is returned when an order targets a symbol missing from the catalog.
	ErrUnknownAsset = errors.New("unknown asset")

	// ErrBookFull is returned when the market's pending-order cap is reached.
	ErrBookFull = errors.New("order book at capacity")

	// ErrInvalidQuantity is returned for a non-positive order quantity.
	ErrInvalidQuantity = errors.New("quantity must be positive")

	// ErrInvalidPrice is returned for a non-positive target price.
	ErrInvalidPrice = errors.New("target price must be positive")

	// ErrNoPosition is returned when a sell-side order is placed without holdings.
	ErrNoPosition = errors.New("no open position for asset")

	// ErrOrderNotFound is returned when cancelling an unknown order ID.
	ErrOrderNotFound = errors.New("order not found")

	// ErrOrderNotPending is returned when cancelling an order already terminal.
	ErrOrderNotPending = errors.New("order is not pending")

	// ErrConfigNotFound is returned when the configuration file is missing.
	ErrConfigNotFound = errors.New("configuration not found")
)

// ConfigError represents a fatal startup configuration error.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return "config error [" + e.Field + "]: " + e.Err.Error()
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// PlacementError wraps a placement rejection with the offending order context.
type PlacementError struct {
	Symbol string
	Err    error
}

func (e *PlacementError) Error() string {
	return "order rejected [" + e.Symbol + "]: " + e.Err.Error()
}

func (e *PlacementError) Unwrap() error {
	return e.Err
}
