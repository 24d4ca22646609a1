package domain

// SimSnapshot is a point-in-time capture of the full simulator state:
// every asset's runtime state, both market analyses, and all orders
// (pending and history). It round-trips through storage unchanged.
type SimSnapshot struct {
	Tick        int64                `json:"tick"`
	Seed        int64                `json:"seed"`
	SavedAtUnix int64                `json:"saved_at"`
	Assets      []AssetStateSnapshot `json:"assets"`
	Analyses    []MarketAnalysis     `json:"analyses"`
	Pending     []LimitOrder         `json:"pending"`
	History     []LimitOrder         `json:"history"`
}
