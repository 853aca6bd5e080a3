// Package domain holds the types shared by every component of the memory
// store: the memory record itself, tiers, statuses, and the error
// taxonomy in errors.go. Nothing in this package talks to a database,
// an embedding provider, or the network.
package domain

import "time"

// Tier is the storage class governing a record's expected latency and
// capacity. Frozen is a soft-deleted record and is never returned from a
// non-admin query.
type Tier string

const (
	TierWorking Tier = "working"
	TierWarm    Tier = "warm"
	TierCold    Tier = "cold"
	TierFrozen  Tier = "frozen"
)

// Tiers lists the tiers eligible for normal residency, in promotion order.
var Tiers = []Tier{TierWorking, TierWarm, TierCold}

func (t Tier) Valid() bool {
	switch t {
	case TierWorking, TierWarm, TierCold, TierFrozen:
		return true
	}
	return false
}

// Status is the lifecycle state of a record. tier == Frozen iff status ==
// Deleted (§3 invariant); the two fields are kept in lockstep by the
// repository and row store, never set independently.
type Status string

const (
	StatusActive  Status = "active"
	StatusDeleted Status = "deleted"
)

// Memory is the central entity: a piece of text content plus its
// embedding, its three-component score, and its tier/status placement.
type Memory struct {
	ID          string
	Content     string
	ContentHash string

	Embedding []float32

	ImportanceScore float64
	RecencyScore    float64
	RelevanceScore  float64
	CombinedScore   float64

	AccessCount int64

	Tier   Tier
	Status Status

	Metadata map[string]any

	CreatedAt      time.Time
	LastAccessedAt time.Time
	UpdatedAt      time.Time
	TierEnteredAt  time.Time
}

// Clone returns a deep-enough copy for callers that need to mutate a
// record without affecting the caller's original (metadata map and
// embedding slice are copied; this matters because the row store hands
// out records that must not alias its own scan buffers).
func (m *Memory) Clone() *Memory {
	if m == nil {
		return nil
	}
	c := *m
	if m.Embedding != nil {
		c.Embedding = append([]float32(nil), m.Embedding...)
	}
	if m.Metadata != nil {
		c.Metadata = make(map[string]any, len(m.Metadata))
		for k, v := range m.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// MemoryUpdate is a partial update applied via update_partial /
// update_memory. Only Metadata and Importance may be set per §4.6:
// content is immutable after creation. A nil pointer field means "leave
// unchanged"; a non-nil pointer to a zero value is a deliberate clear.
type MemoryUpdate struct {
	Metadata   map[string]any
	Importance *float64
	Tier       *Tier
}

// Clamp01 clamps x into [0,1], used for importance and every derived score.
func Clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
