package sim

import (
	"math"
	"math/rand"

	"market_go/internal/domain"
)

// RegimeModifier adjusts an asset's drift/volatility before the price
// step is drawn. DriftBias is an annualized additive shift: a crash must
// be able to turn a positive configured drift strongly negative, which a
// pure multiplier cannot do.
type RegimeModifier struct {
	DriftScale float64
	DriftBias  float64
	VolScale   float64
}

// regimeModifiers is the per-condition adjustment table.
var regimeModifiers = map[domain.Condition]RegimeModifier{
	domain.ConditionNormal: {DriftScale: 1, DriftBias: 0, VolScale: 1},
	domain.ConditionBull:   {DriftScale: 1.2, DriftBias: 0.45, VolScale: 1.1},
	domain.ConditionBear:   {DriftScale: 1, DriftBias: -0.60, VolScale: 1.25},
	domain.ConditionCrash:  {DriftScale: 1, DriftBias: -2.80, VolScale: 2.4},
	domain.ConditionBubble: {DriftScale: 1.3, DriftBias: 1.60, VolScale: 1.7},
}

// ModifierFor returns the drift/volatility adjustment for a condition.
// Unknown conditions map to the neutral modifier.
func ModifierFor(c domain.Condition) RegimeModifier {
	if m, ok := regimeModifiers[c]; ok {
		return m
	}
	return regimeModifiers[domain.ConditionNormal]
}

// RegimeConfig tunes the classifier. Zero values are replaced by
// DefaultRegimeConfig at construction.
type RegimeConfig struct {
	EvalWindowTicks int64   // how often the condition roll happens
	ShortWindow     int     // ticks for short-term momentum
	MediumWindow    int     // ticks for medium-term momentum and volatility
	TicksPerYear    int     // shared with PriceProcess
	MomentumScale   float64 // annualized return mapping to momentum = ±1

	// Per-roll entry probabilities, evaluated only while NORMAL.
	ProbBull   float64
	ProbBear   float64
	ProbCrash  float64
	ProbBubble float64

	// Condition duration range in ticks, inclusive.
	DurationMinTicks int64
	DurationMaxTicks int64
}

// DefaultRegimeConfig returns the calibration used by the game.
func DefaultRegimeConfig() RegimeConfig {
	return RegimeConfig{
		EvalWindowTicks:  120,
		ShortWindow:      12,
		MediumWindow:     48,
		TicksPerYear:     365,
		MomentumScale:    2.0,
		ProbBull:         0.10,
		ProbBear:         0.08,
		ProbCrash:        0.02,
		ProbBubble:       0.03,
		DurationMinTicks: 60,
		DurationMaxTicks: 240,
	}
}

// Classifier owns the condition state machine and sentiment indices for
// one market type. Stocks and crypto each get their own instance and
// never influence each other.
type Classifier struct {
	market   domain.MarketType
	cfg      RegimeConfig
	rng      *rand.Rand
	analysis domain.MarketAnalysis
}

// NewClassifier creates a classifier starting in the neutral state.
func NewClassifier(market domain.MarketType, cfg RegimeConfig, rng *rand.Rand) *Classifier {
	if cfg.EvalWindowTicks <= 0 {
		cfg = DefaultRegimeConfig()
	}
	return &Classifier{
		market:   market,
		cfg:      cfg,
		rng:      rng,
		analysis: domain.NewMarketAnalysis(market),
	}
}

// Analysis returns the current analysis by value.
func (c *Classifier) Analysis() domain.MarketAnalysis {
	return c.analysis
}

// SetRand swaps the random source. The engine calls this when reseeding
// after a state restore.
func (c *Classifier) SetRand(rng *rand.Rand) {
	c.rng = rng
}

// Restore resumes from a saved analysis, preserving countdown continuity.
func (c *Classifier) Restore(a domain.MarketAnalysis) {
	a.Market = c.market
	c.analysis = a
}

// Tick advances the state machine and re-derives all indices from the
// market's current asset states. It must run before the price step it
// influences; the engine guarantees that ordering.
func (c *Classifier) Tick(tick int64, assets []*domain.AssetRuntimeState) domain.MarketAnalysis {
	c.analysis.Condition, c.analysis.ConditionTicksRemaining =
		c.nextCondition(tick, c.analysis.Condition, c.analysis.ConditionTicksRemaining)

	shortM, medM, volIdx, avgDD, ok := c.computeIndices(assets)
	if !ok {
		// Fewer than 2 samples anywhere: neutral defaults, no division.
		c.analysis.ShortTermMomentum = 0
		c.analysis.MediumTermMomentum = 0
		c.analysis.VolatilityIndex = 0
		c.analysis.FearGreedIndex = 50
		c.analysis.AvgDistanceFromATH = avgDD
		c.analysis.Trend = domain.TrendNeutral
		c.analysis.Phase = domain.PhaseNormal
		return c.analysis
	}

	c.analysis.ShortTermMomentum = shortM
	c.analysis.MediumTermMomentum = medM
	c.analysis.VolatilityIndex = volIdx
	c.analysis.AvgDistanceFromATH = avgDD
	c.analysis.Trend = deriveTrend(medM)
	c.analysis.Phase = derivePhase(c.analysis.Phase, avgDD, shortM, medM)
	c.analysis.FearGreedIndex = fearGreed(shortM, medM, volIdx, avgDD)
	return c.analysis
}

// nextCondition is the transition table keyed by (state, countdown, roll).
// A non-normal condition only counts down; NORMAL rolls once per
// evaluation window. The random source is consumed only on roll ticks,
// which keeps trajectories reproducible.
func (c *Classifier) nextCondition(tick int64, cur domain.Condition, remaining int64) (domain.Condition, int64) {
	if remaining > 0 {
		remaining--
		if remaining == 0 {
			return domain.ConditionNormal, 0
		}
		return cur, remaining
	}

	if tick%c.cfg.EvalWindowTicks != 0 {
		return domain.ConditionNormal, 0
	}

	roll := c.rng.Float64()
	for _, entry := range []struct {
		prob float64
		cond domain.Condition
	}{
		{c.cfg.ProbCrash, domain.ConditionCrash},
		{c.cfg.ProbBubble, domain.ConditionBubble},
		{c.cfg.ProbBear, domain.ConditionBear},
		{c.cfg.ProbBull, domain.ConditionBull},
	} {
		if roll < entry.prob {
			return entry.cond, c.rollDuration()
		}
		roll -= entry.prob
	}
	return domain.ConditionNormal, 0
}

func (c *Classifier) rollDuration() int64 {
	span := c.cfg.DurationMaxTicks - c.cfg.DurationMinTicks
	if span <= 0 {
		return c.cfg.DurationMinTicks
	}
	return c.cfg.DurationMinTicks + c.rng.Int63n(span+1)
}

// computeIndices derives momentum, volatility and drawdown from the
// trailing sample windows, averaged across the market's assets.
// ok is false when no asset has at least 2 samples.
func (c *Classifier) computeIndices(assets []*domain.AssetRuntimeState) (shortM, medM, volIdx, avgDD float64, ok bool) {
	dt := 1.0 / float64(c.cfg.TicksPerYear)

	var shortSum, medSum, volSum float64
	var contributing int

	for _, st := range assets {
		avgDD += st.DrawdownFromATH()

		n := st.History.Len()
		if n < 2 {
			continue
		}
		contributing++

		shortSum += meanLogReturn(st, c.cfg.ShortWindow)
		med := meanLogReturn(st, c.cfg.MediumWindow)
		medSum += med
		volSum += stdevLogReturn(st, c.cfg.MediumWindow, med)
	}

	if len(assets) > 0 {
		avgDD /= float64(len(assets))
	}
	if contributing == 0 {
		return 0, 0, 0, avgDD, false
	}

	inv := 1.0 / float64(contributing)
	shortM = clamp(shortSum*inv/dt/c.cfg.MomentumScale, -1, 1)
	medM = clamp(medSum*inv/dt/c.cfg.MomentumScale, -1, 1)
	volIdx = volSum * inv * math.Sqrt(1.0/dt) * 100
	return shortM, medM, volIdx, avgDD, true
}

// meanLogReturn averages per-tick log returns over the newest window
// samples (or as many as the history holds).
func meanLogReturn(st *domain.AssetRuntimeState, window int) float64 {
	n := st.History.Len()
	steps := window
	if steps > n-1 {
		steps = n - 1
	}
	if steps <= 0 {
		return 0
	}

	var sum float64
	for i := n - steps; i < n; i++ {
		sum += logReturn(st, i)
	}
	return sum / float64(steps)
}

// stdevLogReturn computes the population standard deviation of per-tick
// log returns over the same window, given their mean.
func stdevLogReturn(st *domain.AssetRuntimeState, window int, mean float64) float64 {
	n := st.History.Len()
	steps := window
	if steps > n-1 {
		steps = n - 1
	}
	if steps <= 0 {
		return 0
	}

	var sq float64
	for i := n - steps; i < n; i++ {
		d := logReturn(st, i) - mean
		sq += d * d
	}
	return math.Sqrt(sq / float64(steps))
}

// logReturn is ln(h[i] / h[i-1]), with a zero fallback for degenerate
// inputs so a single corrupt sample cannot poison the indices.
func logReturn(st *domain.AssetRuntimeState, i int) float64 {
	prev, _ := st.History.At(i - 1).Float64()
	cur, _ := st.History.At(i).Float64()
	if prev <= 0 || cur <= 0 {
		return 0
	}
	r := math.Log(cur / prev)
	if math.IsNaN(r) || math.IsInf(r, 0) {
		return 0
	}
	return r
}

func deriveTrend(medM float64) domain.Trend {
	switch {
	case medM >= 0.5:
		return domain.TrendStrongBull
	case medM >= 0.15:
		return domain.TrendBull
	case medM <= -0.5:
		return domain.TrendStrongBear
	case medM <= -0.15:
		return domain.TrendBear
	default:
		return domain.TrendNeutral
	}
}

// derivePhase labels the trajectory relative to the trailing high.
// Recovery is sticky: it only follows a drawdown phase and holds while
// the market climbs back.
func derivePhase(prev domain.Phase, avgDD, shortM, medM float64) domain.Phase {
	switch {
	case avgDD >= 0.30:
		return domain.PhaseCrash
	case avgDD >= 0.15:
		return domain.PhaseCorrection
	case avgDD <= 0.03 && shortM > 0.5:
		return domain.PhaseBubble
	case (prev == domain.PhaseCrash || prev == domain.PhaseCorrection || prev == domain.PhaseRecovery) &&
		avgDD > 0.03 && medM > 0:
		return domain.PhaseRecovery
	default:
		return domain.PhaseNormal
	}
}

// fearGreed blends momentum, inverted volatility and drawdown into the
// 0..100 scale. The weights are calibration; the clamp and the neutral
// midpoint are the contract.
func fearGreed(shortM, medM, volIdx, avgDD float64) float64 {
	fg := 50 + 25*shortM + 15*medM
	fg += clamp((30-volIdx)*0.4, -12, 12)
	fg += (1 - 2*avgDD) * 10
	return clamp(fg, 0, 100)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
