package search

import (
	"context"
	"testing"
	"time"

	"github.com/memoryvault/memoryvault/internal/domain"
	"github.com/memoryvault/memoryvault/internal/store"
)

type fakeStore struct {
	annHits     []store.ANNHit
	ftsHits     map[string]float64
	records     map[string]*domain.Memory
	bumpedIDs   []string
	vectorErr   error
	ftsErr      error
}

func (f *fakeStore) Query(ctx context.Context, pred store.Predicate, order store.OrderBy, limit int, cursor string) ([]*domain.Memory, string, error) {
	return nil, "", nil
}

func (f *fakeStore) SearchFTS(ctx context.Context, query string, limit int) (map[string]float64, error) {
	if f.ftsErr != nil {
		return nil, f.ftsErr
	}
	return f.ftsHits, nil
}

func (f *fakeStore) VectorSearch(ctx context.Context, vec []float32, k int, filter map[string]any) ([]store.ANNHit, error) {
	if f.vectorErr != nil {
		return nil, f.vectorErr
	}
	return f.annHits, nil
}

func (f *fakeStore) GetMany(ctx context.Context, ids []string) (map[string]*domain.Memory, error) {
	out := make(map[string]*domain.Memory)
	for _, id := range ids {
		if m, ok := f.records[id]; ok {
			out[id] = m
		}
	}
	return out, nil
}

func (f *fakeStore) BumpAccess(ctx context.Context, ids []string) error {
	f.bumpedIDs = append(f.bumpedIDs, ids...)
	return nil
}

type fakeEmbedder struct {
	vec []float32
	err error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return f.vec, f.err
}

func newActiveMemory(id string) *domain.Memory {
	now := time.Now().UTC()
	return &domain.Memory{
		ID:              id,
		Content:         "content " + id,
		Tier:            domain.TierWorking,
		Status:          domain.StatusActive,
		ImportanceScore: 0.5,
		CombinedScore:   0.5,
		CreatedAt:       now,
		LastAccessedAt:  now,
		UpdatedAt:       now,
	}
}

func TestHybridSearchUnionsBranches(t *testing.T) {
	fs := &fakeStore{
		annHits: []store.ANNHit{{ID: "a", Similarity: 0.9}},
		ftsHits: map[string]float64{"b": 0.8},
		records: map[string]*domain.Memory{
			"a": newActiveMemory("a"),
			"b": newActiveMemory("b"),
		},
	}
	eng := NewEngine(fs, &fakeEmbedder{vec: []float32{0.1, 0.2}}, nil)

	page, err := eng.Search(context.Background(), domain.Query{QueryText: "hello", Mode: domain.ModeHybrid})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(page.Records) != 2 {
		t.Fatalf("Records = %d, want 2 (one per branch)", len(page.Records))
	}
}

func TestSemanticSearchBelowThresholdExcluded(t *testing.T) {
	fs := &fakeStore{
		annHits: []store.ANNHit{{ID: "a", Similarity: 0.1}},
		records: map[string]*domain.Memory{"a": newActiveMemory("a")},
	}
	eng := NewEngine(fs, &fakeEmbedder{vec: []float32{0.1}}, nil)

	page, err := eng.Search(context.Background(), domain.Query{QueryText: "hello", Mode: domain.ModeSemantic, SimilarityThreshold: 0.7})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(page.Records) != 0 {
		t.Fatalf("expected below-threshold hit excluded, got %d records", len(page.Records))
	}
}

func TestFrozenTierFilterRejected(t *testing.T) {
	fs := &fakeStore{}
	eng := NewEngine(fs, &fakeEmbedder{}, nil)

	_, err := eng.Search(context.Background(), domain.Query{Tiers: []domain.Tier{domain.TierFrozen}})
	if !domain.IsKind(err, domain.KindInvalidQuery) {
		t.Fatalf("expected InvalidQuery for tier=Frozen filter, got %v", err)
	}
}

func TestBothQueryFormsRejectedInSemanticMode(t *testing.T) {
	fs := &fakeStore{}
	eng := NewEngine(fs, &fakeEmbedder{}, nil)

	_, err := eng.Search(context.Background(), domain.Query{Mode: domain.ModeSemantic, QueryText: "x", QueryVector: []float32{1}})
	if !domain.IsKind(err, domain.KindInvalidQuery) {
		t.Fatalf("expected InvalidQuery when both query forms set under mode=semantic, got %v", err)
	}
}

func TestBothQueryFormsAllowedInHybridMode(t *testing.T) {
	fs := &fakeStore{records: map[string]*domain.Memory{}}
	eng := NewEngine(fs, &fakeEmbedder{}, nil)

	_, err := eng.Search(context.Background(), domain.Query{Mode: domain.ModeHybrid, QueryText: "x", QueryVector: []float32{1}})
	if err != nil {
		t.Fatalf("expected hybrid mode to accept both query_text and query_vector, got %v", err)
	}
}

func TestSemanticWithoutVectorOrTextFails(t *testing.T) {
	fs := &fakeStore{}
	eng := NewEngine(fs, &fakeEmbedder{}, nil)

	_, err := eng.Search(context.Background(), domain.Query{Mode: domain.ModeSemantic})
	if !domain.IsKind(err, domain.KindEmbeddingUnavailable) {
		t.Fatalf("expected EmbeddingUnavailable, got %v", err)
	}
}

// TestSearchSurfacesCancelledFromBackend reproduces §8 scenario 6 at the
// search-engine level: a candidate-generation branch failing with
// Cancelled (e.g. a deadline exceeded against a cold backend) must
// propagate as Cancelled, not be swallowed into a degraded hybrid result.
func TestSearchSurfacesCancelledFromBackend(t *testing.T) {
	fs := &fakeStore{vectorErr: domain.Cancelled("store.VectorSearch", context.DeadlineExceeded)}
	eng := NewEngine(fs, &fakeEmbedder{vec: []float32{0.1}}, nil)

	_, err := eng.Search(context.Background(), domain.Query{QueryText: "x", Mode: domain.ModeHybrid})
	if !domain.IsKind(err, domain.KindCancelled) {
		t.Fatalf("expected Cancelled, got %v", err)
	}
	if len(fs.bumpedIDs) != 0 {
		t.Fatalf("expected no access_count mutation on a cancelled search, bumped %v", fs.bumpedIDs)
	}
}

func TestAccessBumpIsAsync(t *testing.T) {
	fs := &fakeStore{
		annHits: []store.ANNHit{{ID: "a", Similarity: 0.9}},
		records: map[string]*domain.Memory{"a": newActiveMemory("a")},
	}
	eng := NewEngine(fs, &fakeEmbedder{vec: []float32{0.1}}, nil)

	page, err := eng.Search(context.Background(), domain.Query{QueryText: "x", Mode: domain.ModeSemantic, SimilarityThreshold: 0.5})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(page.Records) != 1 {
		t.Fatalf("Records = %d, want 1", len(page.Records))
	}
	// BumpAccess runs in a goroutine; give it a moment without making the
	// test itself flaky on slow CI by polling briefly.
	deadline := time.Now().Add(time.Second)
	for len(fs.bumpedIDs) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if len(fs.bumpedIDs) != 1 || fs.bumpedIDs[0] != "a" {
		t.Fatalf("bumpedIDs = %v, want [a]", fs.bumpedIDs)
	}
}
