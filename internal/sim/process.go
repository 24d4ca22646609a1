package sim

import (
	"log/slog"
	"math"
	"math/rand"

	"github.com/shopspring/decimal"

	"market_go/internal/domain"
	"market_go/internal/infra"
)

// priceDecimals bounds the stored price precision. Each stochastic step
// multiplies by an irrational factor; without a fixed scale the decimal
// coefficient would grow every tick for the life of the session.
const priceDecimals = 8

// maxResamples caps the defensive re-draw loop for degenerate normals.
const maxResamples = 8

// PriceProcess advances asset prices one sample per tick using a
// discretized geometric random walk in log space. The regime modifier
// scales drift and volatility before the step is drawn.
//
// The process shares the engine's seeded random source: price steps are
// reproducible given a fixed seed and tick sequence.
type PriceProcess struct {
	rng *rand.Rand
	dt  float64 // year fraction represented by one tick
}

// NewPriceProcess creates a process with the given tick-to-time ratio.
func NewPriceProcess(rng *rand.Rand, ticksPerYear int) *PriceProcess {
	if ticksPerYear <= 0 {
		panic("sim: ticksPerYear must be positive")
	}
	return &PriceProcess{rng: rng, dt: 1.0 / float64(ticksPerYear)}
}

// Advance draws the next price for one asset and records it on the
// runtime state (history append, ATH/ATL update). The result is floored
// at MinPrice: clamped, never reflected. The returned price equals
// st.CurrentPrice after the call.
func (p *PriceProcess) Advance(cfg *domain.AssetConfig, st *domain.AssetRuntimeState, mod RegimeModifier) decimal.Decimal {
	drift := cfg.Drift*mod.DriftScale + mod.DriftBias
	vol := cfg.Volatility * mod.VolScale

	step := (drift - 0.5*vol*vol) * p.dt
	if vol > 0 {
		step += vol * math.Sqrt(p.dt) * p.normal()
	}

	next := st.CurrentPrice
	if step != 0 {
		factor := math.Exp(step)
		next = st.CurrentPrice.
			Mul(decimal.NewFromFloat(factor)).
			Round(priceDecimals)
	}

	if next.LessThan(cfg.MinPrice) {
		next = cfg.MinPrice
	}

	st.RecordSample(next)
	return next
}

// normal draws a standard normal variate, re-sampling defensively if the
// source ever yields a non-finite value. Exhausting the retry budget
// falls back to zero (a flat step) rather than corrupting the price.
func (p *PriceProcess) normal() float64 {
	for i := 0; i < maxResamples; i++ {
		z := p.rng.NormFloat64()
		if !math.IsNaN(z) && !math.IsInf(z, 0) {
			return z
		}
		infra.GlobalMetrics.RecordResample()
	}
	slog.Warn("price step resample budget exhausted, using flat step")
	return 0
}
