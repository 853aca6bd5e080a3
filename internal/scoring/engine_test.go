package scoring

import (
	"context"
	"testing"
	"time"

	"github.com/memoryvault/memoryvault/internal/domain"
)

func TestRecomputeQueuesAndReturnsCombined(t *testing.T) {
	applied := map[string]FlushDelta{}
	e, err := NewEngine(Config{
		Apply: func(ctx context.Context, id string, d FlushDelta) error {
			applied[id] = d
			return nil
		},
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	now := time.Now().UTC()
	m := &domain.Memory{
		ID:              "mem-1",
		ImportanceScore: 0.8,
		AccessCount:     5,
		Tier:            domain.TierWorking,
		LastAccessedAt:  now.Add(-time.Hour),
		UpdatedAt:       now,
	}

	combined := e.Recompute(m, now)
	if combined <= 0 || combined > 1 {
		t.Fatalf("combined out of range: %v", combined)
	}
	if e.PendingCount() != 1 {
		t.Fatalf("PendingCount = %d, want 1", e.PendingCount())
	}

	e.Flush(context.Background())
	if e.PendingCount() != 0 {
		t.Fatalf("PendingCount after flush = %d, want 0", e.PendingCount())
	}
	if _, ok := applied[m.ID]; !ok {
		t.Fatalf("expected %s to be applied", m.ID)
	}
}

func TestFlushRequeuesOnFailure(t *testing.T) {
	calls := 0
	e, err := NewEngine(Config{
		Apply: func(ctx context.Context, id string, d FlushDelta) error {
			calls++
			return domain.Conflict("test.apply", "mem-1")
		},
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	now := time.Now().UTC()
	m := &domain.Memory{ID: "mem-1", Tier: domain.TierWorking, LastAccessedAt: now, UpdatedAt: now}
	e.Recompute(m, now)

	e.Flush(context.Background())
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
	if e.PendingCount() != 1 {
		t.Fatalf("failed flush should requeue: PendingCount = %d, want 1", e.PendingCount())
	}
}

func TestNewEngineRejectsInvalidWeights(t *testing.T) {
	_, err := NewEngine(Config{Weights: Weights{Recency: 1, Importance: 1, Relevance: 1}})
	if err == nil {
		t.Fatalf("expected error for weights summing to 3")
	}
}
