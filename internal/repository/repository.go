package repository

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"golang.org/x/text/unicode/norm"

	"github.com/memoryvault/memoryvault/internal/domain"
	"github.com/memoryvault/memoryvault/internal/embedding"
	"github.com/memoryvault/memoryvault/internal/logging"
	"github.com/memoryvault/memoryvault/internal/scoring"
	"github.com/memoryvault/memoryvault/internal/search"
	"github.com/memoryvault/memoryvault/internal/store"
	"github.com/memoryvault/memoryvault/internal/tier"
)

var (
	_ Store        = (*store.Store)(nil)
	_ Embedder     = (*embedding.Service)(nil)
	_ SearchEngine = (*search.Engine)(nil)
	_ TierPromoter = (*tier.Manager)(nil)
)

// Store is the subset of *store.Store the repository needs.
type Store interface {
	Insert(ctx context.Context, m *domain.Memory) error
	Get(ctx context.Context, id string) (*domain.Memory, error)
	UpdatePartial(ctx context.Context, id string, d store.Deltas) (*domain.Memory, error)
	Delete(ctx context.Context, id string) error
	Compact(ctx context.Context, olderThan time.Time) ([]string, error)
	Stats(ctx context.Context) (store.Stats, error)
}

// Embedder is the subset of embedding.Service the repository needs.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// SearchEngine is the subset of search.Engine the repository needs.
type SearchEngine interface {
	Search(ctx context.Context, q domain.Query) (*domain.Page, error)
}

// TierPromoter is the subset of tier.Manager the repository needs: an
// access-driven Cold→Warm promotion, independent of the manager's own
// scheduled migration cycle.
type TierPromoter interface {
	PromoteOnAccess(ctx context.Context, rec *domain.Memory) error
}

// Config configures the repository's compaction sweep (§3's lifecycle:
// "eventually compacted"; no original-source precedent named a default
// grace period, so 30 days is chosen directly from the spec's own
// duration-valued config keys).
type Config struct {
	CompactionGrace    time.Duration // retention.compaction_grace, default 720h
	CompactionInterval time.Duration // how often the sweep runs, default 1h
}

func DefaultConfig() Config {
	return Config{
		CompactionGrace:    720 * time.Hour,
		CompactionInterval: time.Hour,
	}
}

// Counters is the shape returned by Statistics (§4.6's get_statistics).
type Counters struct {
	ByTier                map[domain.Tier]int64
	ActiveCount           int64
	DeletedCount          int64
	DedupIndexSize        int64
	AvgQueryLatencyMS     float64
	AvgEmbeddingLatencyMS float64
	PendingScoreFlushes   int
}

// Repository implements the Memory API (§4.6) by composing the row
// store, embedding service, scoring engine, search engine, and tier
// manager behind the store/get/update/delete/search/statistics/compact
// operation set.
type Repository struct {
	store    Store
	embedder Embedder
	search   SearchEngine
	scorer   *scoring.Engine
	tier     TierPromoter

	cfg    Config
	cron   *cron.Cron
	logger *logging.Logger
	lat    *latencyTracker
}

func New(s Store, e Embedder, se SearchEngine, scorer *scoring.Engine, tp TierPromoter, cfg Config) *Repository {
	if cfg.CompactionGrace <= 0 {
		cfg.CompactionGrace = 720 * time.Hour
	}
	if cfg.CompactionInterval <= 0 {
		cfg.CompactionInterval = time.Hour
	}
	return &Repository{
		store:    s,
		embedder: e,
		search:   se,
		scorer:   scorer,
		tier:     tp,
		cfg:      cfg,
		logger:   logging.GetLogger("repository"),
		lat:      &latencyTracker{},
	}
}

// Start schedules the compaction sweep as a recurring task, the same
// cooperative cron idiom the Scoring Engine and Tier Manager use.
func (r *Repository) Start(ctx context.Context) error {
	r.cron = cron.New(cron.WithSeconds())
	_, err := r.cron.AddFunc("@every "+r.cfg.CompactionInterval.String(), func() {
		ids, err := r.Compact(ctx, r.cfg.CompactionGrace)
		if err != nil {
			r.logger.Warn("compaction sweep failed", "error", err)
			return
		}
		if len(ids) > 0 {
			r.logger.Info("compaction sweep removed deleted records", "count", len(ids))
		}
	})
	if err != nil {
		return err
	}
	r.cron.Start()
	return nil
}

// Stop halts the compaction sweep scheduler, letting an in-flight sweep finish.
func (r *Repository) Stop() {
	if r.cron != nil {
		<-r.cron.Stop().Done()
	}
}

// Store normalizes content, computes its dedup hash, embeds it, and
// inserts a new Active record at importance, merging metadata
// last-writer-wins into the existing record on a duplicate (§4.6).
func (r *Repository) Store(ctx context.Context, content string, metadata map[string]any, importance float64, tier domain.Tier) (string, error) {
	op := "repository.Store"
	start := time.Now()
	defer func() { r.lat.observeQuery(time.Since(start)) }()

	normalized := normalizeContent(content)
	if normalized == "" {
		return "", domain.InvalidInput(op, errors.New("content must not be empty"))
	}
	if tier == "" {
		tier = domain.TierWorking
	}
	if !tier.Valid() {
		return "", domain.InvalidInput(op, fmt.Errorf("invalid tier %q", tier))
	}
	hash := contentHash(normalized)

	embedStart := time.Now()
	vec, err := r.embedder.Embed(ctx, normalized)
	r.lat.observeEmbedding(time.Since(embedStart))
	if err != nil {
		return "", domain.EmbeddingUnavailable(op, err)
	}
	if dim := r.embedder.Dimension(); dim > 0 && len(vec) != dim {
		return "", domain.InvalidInput(op, fmt.Errorf("embedding dimension %d does not match provider dimension %d", len(vec), dim))
	}

	now := time.Now().UTC()
	m := &domain.Memory{
		ID:             uuid.NewString(),
		Content:        normalized,
		ContentHash:    hash,
		Embedding:      vec,
		ImportanceScore: domain.Clamp01(importance),
		Tier:           tier,
		Status:         domain.StatusActive,
		Metadata:       metadata,
		CreatedAt:      now,
		LastAccessedAt: now,
		UpdatedAt:      now,
		TierEnteredAt:  now,
	}
	if r.scorer != nil {
		r.scorer.Recompute(m, now)
	}

	err = r.store.Insert(ctx, m)
	if err == nil {
		return m.ID, nil
	}
	if domain.IsKind(err, domain.KindDuplicateContent) {
		var derr *domain.Error
		errors.As(err, &derr)
		if mergeErr := r.mergeMetadata(ctx, derr.ID, metadata); mergeErr != nil {
			r.logger.Warn("failed to merge metadata on duplicate store", "id", derr.ID, "error", mergeErr)
		}
		return derr.ID, nil
	}
	return "", err
}

// mergeMetadata applies incoming keys over the existing record's
// metadata, last-writer-wins per key, retrying the CAS a few times
// against a concurrent writer before giving up.
func (r *Repository) mergeMetadata(ctx context.Context, id string, incoming map[string]any) error {
	if len(incoming) == 0 {
		return nil
	}
	op := "repository.mergeMetadata"
	for attempt := 0; attempt < 3; attempt++ {
		cur, err := r.store.Get(ctx, id)
		if err != nil {
			return err
		}
		merged := make(map[string]any, len(cur.Metadata)+len(incoming))
		for k, v := range cur.Metadata {
			merged[k] = v
		}
		for k, v := range incoming {
			merged[k] = v
		}
		_, err = r.store.UpdatePartial(ctx, id, store.Deltas{
			Metadata:          merged,
			MetadataSet:       true,
			ExpectedUpdatedAt: cur.UpdatedAt,
		})
		if err == nil {
			return nil
		}
		if !domain.IsKind(err, domain.KindConflict) {
			return err
		}
	}
	return domain.Conflict(op, id)
}

// Get returns the record and bumps its access counters (§4.6; §8's
// invariant that a fetch strictly increases access_count and advances
// last_accessed_at). A lost CAS race against a concurrent writer still
// lets the read succeed; only the bump itself is dropped, logged, and
// left for the next access.
func (r *Repository) Get(ctx context.Context, id string) (*domain.Memory, error) {
	start := time.Now()
	defer func() { r.lat.observeQuery(time.Since(start)) }()

	m, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	nextAccess := m.AccessCount + 1
	updated, err := r.store.UpdatePartial(ctx, id, store.Deltas{
		AccessCount:       &nextAccess,
		LastAccessedAt:    &now,
		ExpectedUpdatedAt: m.UpdatedAt,
	})
	if err != nil {
		if domain.IsKind(err, domain.KindConflict) {
			r.logger.Warn("access bump lost a CAS race, returning unbumped read", "id", id)
			return m, nil
		}
		return nil, err
	}

	if r.tier != nil {
		if perr := r.tier.PromoteOnAccess(ctx, updated); perr != nil {
			r.logger.Warn("promote on access failed", "id", id, "error", perr)
		}
	}
	return updated, nil
}

// Update applies patch.Metadata and patch.Importance only; content is
// immutable after creation (§4.6).
func (r *Repository) Update(ctx context.Context, id string, patch domain.MemoryUpdate) (*domain.Memory, error) {
	cur, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	d := store.Deltas{ExpectedUpdatedAt: cur.UpdatedAt}
	if patch.Metadata != nil {
		d.Metadata = patch.Metadata
		d.MetadataSet = true
	}
	if patch.Importance != nil {
		v := domain.Clamp01(*patch.Importance)
		d.ImportanceScore = &v
	}
	return r.store.UpdatePartial(ctx, id, d)
}

// Delete soft-deletes a record (§3: status=deleted, tier=frozen).
func (r *Repository) Delete(ctx context.Context, id string) error {
	return r.store.Delete(ctx, id)
}

// Search delegates to the Search Engine (§4.4), timing the call for
// the query-latency moving average surfaced by Statistics.
func (r *Repository) Search(ctx context.Context, q domain.Query) (*domain.Page, error) {
	start := time.Now()
	page, err := r.search.Search(ctx, q)
	r.lat.observeQuery(time.Since(start))
	return page, err
}

// Statistics reports per-tier/status counts, dedup index size, and the
// moving averages for query and embedding latency (§4.6).
func (r *Repository) Statistics(ctx context.Context) (Counters, error) {
	st, err := r.store.Stats(ctx)
	if err != nil {
		return Counters{}, err
	}
	c := Counters{
		ByTier:                st.ByTier,
		ActiveCount:           st.ActiveRows,
		DeletedCount:          st.DeletedRows,
		DedupIndexSize:        st.ActiveRows, // the content_hash unique index spans exactly the Active set
		AvgQueryLatencyMS:     r.lat.queryAverage(),
		AvgEmbeddingLatencyMS: r.lat.embeddingAverage(),
	}
	if r.scorer != nil {
		c.PendingScoreFlushes = r.scorer.PendingCount()
	}
	return c, nil
}

// Compact is the admin-only sweep (§3, §9): permanently remove Deleted
// records older than gracePeriod, freeing their content_hash.
func (r *Repository) Compact(ctx context.Context, gracePeriod time.Duration) ([]string, error) {
	if gracePeriod <= 0 {
		gracePeriod = r.cfg.CompactionGrace
	}
	cutoff := time.Now().UTC().Add(-gracePeriod)
	return r.store.Compact(ctx, cutoff)
}

// QueryLoadFraction reports the current query-latency moving average
// as a fraction of budget, in the shape of the Tier Manager's
// LatencyBudgetFn backpressure hook (§4.5, §5: "pool acquisition...
// bounded wait"). buildApp in cmd/memvault does not set that hook, so
// nothing calls this outside tests.
func (r *Repository) QueryLoadFraction(budget time.Duration) float64 {
	if budget <= 0 {
		return 0
	}
	return r.lat.queryAverage() / float64(budget.Milliseconds())
}

func normalizeContent(s string) string {
	s = norm.NFC.String(s)
	return strings.TrimRightFunc(s, unicode.IsSpace)
}

func contentHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// latencyTracker keeps an exponentially-weighted moving average of
// query and embedding latency in milliseconds, read by Statistics and
// by QueryLoadFraction.
type latencyTracker struct {
	mu           sync.Mutex
	queryEMA     float64
	embeddingEMA float64
}

const emaAlpha = 0.2

func (t *latencyTracker) observeQuery(d time.Duration)     { t.observe(&t.queryEMA, d) }
func (t *latencyTracker) observeEmbedding(d time.Duration) { t.observe(&t.embeddingEMA, d) }

func (t *latencyTracker) observe(acc *float64, d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v := float64(d.Microseconds()) / 1000.0
	if *acc == 0 {
		*acc = v
		return
	}
	*acc = emaAlpha*v + (1-emaAlpha)*(*acc)
}

func (t *latencyTracker) queryAverage() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.queryEMA
}

func (t *latencyTracker) embeddingAverage() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.embeddingEMA
}
