package tier

import (
	"context"
	"testing"
	"time"

	"github.com/memoryvault/memoryvault/internal/domain"
	"github.com/memoryvault/memoryvault/internal/store"
)

type fakeRowStore struct {
	byTier map[domain.Tier][]*domain.Memory
	moved  map[string]domain.Tier
}

func newFakeRowStore() *fakeRowStore {
	return &fakeRowStore{byTier: make(map[domain.Tier][]*domain.Memory), moved: make(map[string]domain.Tier)}
}

func (f *fakeRowStore) add(t domain.Tier, m *domain.Memory) {
	m.Tier = t
	f.byTier[t] = append(f.byTier[t], m)
}

func (f *fakeRowStore) Query(ctx context.Context, pred store.Predicate, order store.OrderBy, limit int, cursor string) ([]*domain.Memory, string, error) {
	var out []*domain.Memory
	for _, t := range pred.Tiers {
		out = append(out, f.byTier[t]...)
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, "", nil
}

func (f *fakeRowStore) UpdatePartial(ctx context.Context, id string, d store.Deltas) (*domain.Memory, error) {
	if d.Tier != nil {
		f.moved[id] = *d.Tier
	}
	return nil, nil
}

func newTestMemory(id string, score float64, enteredAgo time.Duration) *domain.Memory {
	now := time.Now().UTC()
	return &domain.Memory{
		ID:             id,
		CombinedScore:  score,
		Status:         domain.StatusActive,
		TierEnteredAt:  now.Add(-enteredAgo),
		UpdatedAt:      now,
		LastAccessedAt: now,
	}
}

func TestDemoteFromWorkingWhenOverLowWater(t *testing.T) {
	fs := newFakeRowStore()
	// Capacity 10, low_water = 8.5. Put 9 records in Working, all past dwell.
	for i := 0; i < 9; i++ {
		fs.add(domain.TierWorking, newTestMemory(string(rune('a'+i)), float64(i)/10, time.Hour))
	}

	cfg := DefaultConfig()
	cfg.Working = TierCapacity{Capacity: 10}
	cfg.MigrationBatch = 100
	mgr := NewManager(fs, cfg)

	if err := mgr.demote(context.Background(), domain.TierWorking, domain.TierWarm, cfg.Working); err != nil {
		t.Fatalf("demote: %v", err)
	}
	if len(fs.moved) == 0 {
		t.Fatalf("expected at least one record demoted, got none")
	}
	for id, to := range fs.moved {
		if to != domain.TierWarm {
			t.Errorf("record %s moved to %v, want warm", id, to)
		}
	}
}

func TestDemoteRespectsMinDwell(t *testing.T) {
	fs := newFakeRowStore()
	for i := 0; i < 9; i++ {
		// All entered their tier 1 minute ago, well inside the 15m dwell.
		fs.add(domain.TierWorking, newTestMemory(string(rune('a'+i)), float64(i)/10, time.Minute))
	}

	cfg := DefaultConfig()
	cfg.Working = TierCapacity{Capacity: 10}
	mgr := NewManager(fs, cfg)

	if err := mgr.demote(context.Background(), domain.TierWorking, domain.TierWarm, cfg.Working); err != nil {
		t.Fatalf("demote: %v", err)
	}
	if len(fs.moved) != 0 {
		t.Fatalf("expected no demotions during min_dwell, got %d", len(fs.moved))
	}
}

func TestDemoteNoopUnderLowWater(t *testing.T) {
	fs := newFakeRowStore()
	for i := 0; i < 3; i++ {
		fs.add(domain.TierWorking, newTestMemory(string(rune('a'+i)), float64(i)/10, time.Hour))
	}

	cfg := DefaultConfig()
	cfg.Working = TierCapacity{Capacity: 10}
	mgr := NewManager(fs, cfg)

	if err := mgr.demote(context.Background(), domain.TierWorking, domain.TierWarm, cfg.Working); err != nil {
		t.Fatalf("demote: %v", err)
	}
	if len(fs.moved) != 0 {
		t.Fatalf("expected no demotions below low_water, got %d", len(fs.moved))
	}
}

// TestDemoteBreaksScoreTiesByRecency reproduces §8 scenario 3: Working
// capacity=2, min_dwell=0, three records where two share the lowest
// score. Exactly one of the tied pair is demoted, and it's the one
// accessed longer ago.
func TestDemoteBreaksScoreTiesByRecency(t *testing.T) {
	fs := newFakeRowStore()
	now := time.Now().UTC()

	r1 := newTestMemory("r1", 0.5, 0)
	r1.LastAccessedAt = now.Add(-time.Hour)
	r2 := newTestMemory("r2", 0.5, 0)
	r2.LastAccessedAt = now
	r3 := newTestMemory("r3", 0.9, 0)
	r3.LastAccessedAt = now

	fs.add(domain.TierWorking, r1)
	fs.add(domain.TierWorking, r2)
	fs.add(domain.TierWorking, r3)

	cfg := DefaultConfig()
	cfg.Working = TierCapacity{Capacity: 2}
	cfg.MinDwell = 0
	mgr := NewManager(fs, cfg)

	if err := mgr.demote(context.Background(), domain.TierWorking, domain.TierWarm, cfg.Working); err != nil {
		t.Fatalf("demote: %v", err)
	}
	if len(fs.moved) != 1 {
		t.Fatalf("expected exactly one record demoted, moved=%v", fs.moved)
	}
	if to, ok := fs.moved["r1"]; !ok || to != domain.TierWarm {
		t.Fatalf("expected r1 (accessed longer ago) demoted to warm, moved=%v", fs.moved)
	}
	if _, ok := fs.moved["r2"]; ok {
		t.Fatalf("r2 (accessed more recently) should stay in working, moved=%v", fs.moved)
	}
}

func TestPromoteToWorkingRequiresMargin(t *testing.T) {
	fs := newFakeRowStore()
	fs.add(domain.TierWorking, newTestMemory("w1", 0.5, time.Hour))
	fs.add(domain.TierWarm, newTestMemory("warm-high", 0.9, time.Hour))
	fs.add(domain.TierWarm, newTestMemory("warm-low", 0.51, time.Hour))

	cfg := DefaultConfig()
	cfg.Working = TierCapacity{Capacity: 10}
	cfg.PromotionMargin = 0.1
	mgr := NewManager(fs, cfg)

	if err := mgr.promoteToWorking(context.Background()); err != nil {
		t.Fatalf("promoteToWorking: %v", err)
	}
	if to, ok := fs.moved["warm-high"]; !ok || to != domain.TierWorking {
		t.Errorf("expected warm-high promoted to working, moved=%v", fs.moved)
	}
	if _, ok := fs.moved["warm-low"]; ok {
		t.Errorf("warm-low should not clear the promotion margin, moved=%v", fs.moved)
	}
}

func TestPromoteOnAccessBypassesScheduler(t *testing.T) {
	fs := newFakeRowStore()
	cold := newTestMemory("c1", 0.2, 24*time.Hour)
	cold.Tier = domain.TierCold
	mgr := NewManager(fs, DefaultConfig())

	if err := mgr.PromoteOnAccess(context.Background(), cold); err != nil {
		t.Fatalf("PromoteOnAccess: %v", err)
	}
	if to, ok := fs.moved["c1"]; !ok || to != domain.TierWarm {
		t.Errorf("expected c1 promoted to warm, moved=%v", fs.moved)
	}
}

func TestUnboundedColdTierIsNeverDemoted(t *testing.T) {
	fs := newFakeRowStore()
	for i := 0; i < 50; i++ {
		fs.add(domain.TierCold, newTestMemory(string(rune('a'+i)), 0.1, time.Hour))
	}
	cfg := DefaultConfig()
	mgr := NewManager(fs, cfg)

	if err := mgr.demote(context.Background(), domain.TierCold, domain.TierFrozen, TierCapacity{Capacity: 0}); err != nil {
		t.Fatalf("demote: %v", err)
	}
	if len(fs.moved) != 0 {
		t.Fatalf("unbounded tier should never be demoted on capacity grounds, moved=%v", fs.moved)
	}
}
