// Package scoring implements the Scoring Engine (§4.3): recency,
// relevance, importance and their weighted combination, plus the
// semantic re-ranking blend used by the Search Engine.
package scoring

import (
	"fmt"
	"math"

	"github.com/memoryvault/memoryvault/internal/domain"
)

// Lambdas holds the tier-dependent recency decay rate (per hour).
type Lambdas struct {
	Working float64
	Warm    float64
	Cold    float64
}

// DefaultLambdas are the §4.3 defaults.
func DefaultLambdas() Lambdas {
	return Lambdas{Working: 0.005, Warm: 0.0005, Cold: 0.00005}
}

func (l Lambdas) forTier(t domain.Tier) float64 {
	switch t {
	case domain.TierWorking:
		return l.Working
	case domain.TierWarm:
		return l.Warm
	case domain.TierCold, domain.TierFrozen:
		return l.Cold
	default:
		return l.Working
	}
}

// Weights are the combined-score weights; they must sum to 1 within
// 1e-6 (§4.3).
type Weights struct {
	Recency    float64
	Importance float64
	Relevance  float64
}

// DefaultWeights are the §4.3 defaults.
func DefaultWeights() Weights {
	return Weights{Recency: 0.333, Importance: 0.334, Relevance: 0.333}
}

// Validate rejects a Weights whose components don't sum to 1 ± 1e-6.
func (w Weights) Validate() error {
	sum := w.Recency + w.Importance + w.Relevance
	if math.Abs(sum-1.0) > 1e-6 {
		return domain.InvalidInput("scoring.Weights.Validate", errSumNotOne(sum))
	}
	return nil
}

type errSumNotOne float64

func (e errSumNotOne) Error() string {
	return fmt.Sprintf("scoring weights must sum to 1 ± 1e-6, got %v", float64(e))
}

const alpha = 0.1

// Recency computes exp(-λ_r · Δ) where Δ is hours since last access,
// λ_r chosen by tier, clamped to [0,1].
func Recency(deltaHours float64, tier domain.Tier, l Lambdas) float64 {
	if deltaHours < 0 {
		deltaHours = 0
	}
	v := math.Exp(-l.forTier(tier) * deltaHours)
	return domain.Clamp01(v)
}

// Relevance computes 1 - 1/(1+α·n), monotone and saturating in n.
func Relevance(accessCount int64) float64 {
	n := float64(accessCount)
	if n < 0 {
		n = 0
	}
	return domain.Clamp01(1 - 1/(1+alpha*n))
}

// Importance clamps a verbatim importance value to [0,1].
func Importance(v float64) float64 {
	return domain.Clamp01(v)
}

// Combined computes w_r·recency + w_i·importance + w_v·relevance.
func Combined(recency, importance, relevance float64, w Weights) float64 {
	return domain.Clamp01(w.Recency*recency + w.Importance*importance + w.Relevance*relevance)
}

// Rerank computes the semantic re-ranking blend β·cosine + (1-β)·combined.
// β=0 reduces to the lexical case, β=1 to pure semantic similarity.
func Rerank(cosineSimilarity, combined, beta float64) float64 {
	return domain.Clamp01(beta*cosineSimilarity + (1-beta)*combined)
}

// DefaultBeta is the semantic re-ranking blend weight (§4.3).
const DefaultBeta = 0.7

// LexicalBeta is used for pure-lexical search, where similarity is
// undefined and the combined score alone should rank results.
const LexicalBeta = 0.0
