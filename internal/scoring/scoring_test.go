package scoring

import (
	"math"
	"testing"

	"github.com/memoryvault/memoryvault/internal/domain"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestRecencyDecaysWithTime(t *testing.T) {
	l := DefaultLambdas()
	fresh := Recency(0, domain.TierWorking, l)
	if !almostEqual(fresh, 1.0) {
		t.Fatalf("Recency(0) = %v, want 1.0", fresh)
	}
	stale := Recency(1000, domain.TierWorking, l)
	if stale >= fresh {
		t.Fatalf("Recency should decay: fresh=%v stale=%v", fresh, stale)
	}
	if stale < 0 || stale > 1 {
		t.Fatalf("Recency out of [0,1]: %v", stale)
	}
}

func TestRecencyTierDependence(t *testing.T) {
	l := DefaultLambdas()
	delta := 100.0
	working := Recency(delta, domain.TierWorking, l)
	cold := Recency(delta, domain.TierCold, l)
	if cold <= working {
		t.Fatalf("cold tier decays slower than working: cold=%v working=%v", cold, working)
	}
}

func TestRelevanceMonotoneSaturating(t *testing.T) {
	r0 := Relevance(0)
	if !almostEqual(r0, 0) {
		t.Fatalf("Relevance(0) = %v, want 0", r0)
	}
	r1 := Relevance(10)
	r2 := Relevance(100)
	if !(r1 < r2 && r2 < 1.0) {
		t.Fatalf("Relevance should be monotone and saturate below 1: r1=%v r2=%v", r1, r2)
	}
}

func TestCombinedDefaultWeights(t *testing.T) {
	w := DefaultWeights()
	if err := w.Validate(); err != nil {
		t.Fatalf("default weights should validate: %v", err)
	}
	c := Combined(1, 1, 1, w)
	if !almostEqual(c, 1.0) {
		t.Fatalf("Combined(1,1,1) = %v, want ~1.0", c)
	}
}

func TestWeightsMustSumToOne(t *testing.T) {
	bad := Weights{Recency: 0.5, Importance: 0.5, Relevance: 0.5}
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected validation error for weights summing to 1.5")
	}
}

func TestRerankBlend(t *testing.T) {
	semantic := Rerank(1.0, 0.0, DefaultBeta)
	if !almostEqual(semantic, DefaultBeta) {
		t.Fatalf("Rerank(1,0,0.7) = %v, want 0.7", semantic)
	}
	lexical := Rerank(1.0, 0.4, LexicalBeta)
	if !almostEqual(lexical, 0.4) {
		t.Fatalf("Rerank with β=0 should equal combined alone, got %v", lexical)
	}
}
