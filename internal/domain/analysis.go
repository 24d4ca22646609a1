package domain

// Condition is the active market-wide regime. Entered by a periodic
// probabilistic roll, exited when its countdown reaches zero.
type Condition string

const (
	ConditionNormal Condition = "NORMAL"
	ConditionBull   Condition = "BULL"
	ConditionBear   Condition = "BEAR"
	ConditionCrash  Condition = "CRASH"
	ConditionBubble Condition = "BUBBLE"
)

// Phase is the coarser label derived from the recent price trajectory
// relative to its trailing high, independent of the active condition.
type Phase string

const (
	PhaseNormal     Phase = "NORMAL"
	PhaseBubble     Phase = "BUBBLE"
	PhaseCorrection Phase = "CORRECTION"
	PhaseCrash      Phase = "CRASH"
	PhaseRecovery   Phase = "RECOVERY"
)

// Trend is the five-bucket discretization of medium-term momentum.
type Trend string

const (
	TrendStrongBull Trend = "STRONG_BULL"
	TrendBull       Trend = "BULL"
	TrendNeutral    Trend = "NEUTRAL"
	TrendBear       Trend = "BEAR"
	TrendStrongBear Trend = "STRONG_BEAR"
)

// MarketAnalysis is the aggregate sentiment state of one market type,
// re-derived every tick from the rolling samples of all its assets.
// There is exactly one instance per market type, owned by the engine.
type MarketAnalysis struct {
	Market                  MarketType `json:"market"`
	Condition               Condition  `json:"condition"`
	Phase                   Phase      `json:"phase"`
	Trend                   Trend      `json:"trend"`
	FearGreedIndex          float64    `json:"fear_greed"`         // 0..100, 50 = neutral
	VolatilityIndex         float64    `json:"volatility_index"`   // annualized %, unbounded above
	ShortTermMomentum       float64    `json:"short_momentum"`     // -1..1
	MediumTermMomentum      float64    `json:"medium_momentum"`    // -1..1
	ConditionTicksRemaining int64      `json:"condition_ticks"`    // 0 = no active condition
	AvgDistanceFromATH      float64    `json:"avg_dist_from_ath"`  // 0..1
}

// NewMarketAnalysis returns the neutral analysis a market starts in.
func NewMarketAnalysis(market MarketType) MarketAnalysis {
	return MarketAnalysis{
		Market:         market,
		Condition:      ConditionNormal,
		Phase:          PhaseNormal,
		Trend:          TrendNeutral,
		FearGreedIndex: 50,
	}
}
