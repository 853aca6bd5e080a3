package search

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/memoryvault/memoryvault/internal/domain"
	"github.com/memoryvault/memoryvault/internal/embedding"
	"github.com/memoryvault/memoryvault/internal/logging"
	"github.com/memoryvault/memoryvault/internal/scoring"
	"github.com/memoryvault/memoryvault/internal/store"
)

var (
	errBothQueryFormsSet = errors.New("exactly one of query_text/query_vector may be set when mode=semantic")
	errFrozenTierFilter  = errors.New("tier=Frozen is not a valid search filter; Frozen records are reachable only by direct lookup")
	errInvalidTier       = errors.New("invalid tier in filter")
	errLimitOutOfRange   = errors.New("limit must be between 1 and 1000")
)

// RowStore is the subset of *store.Store the engine needs; named so
// the engine can be tested against a fake without importing sqlite.
type RowStore interface {
	Query(ctx context.Context, pred store.Predicate, order store.OrderBy, limit int, cursor string) ([]*domain.Memory, string, error)
	SearchFTS(ctx context.Context, query string, limit int) (map[string]float64, error)
	VectorSearch(ctx context.Context, vec []float32, k int, filter map[string]any) ([]store.ANNHit, error)
	GetMany(ctx context.Context, ids []string) (map[string]*domain.Memory, error)
	BumpAccess(ctx context.Context, ids []string) error
}

// Embedder is the subset of embedding.Service the engine needs.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Engine implements the §4.4 algorithm.
type Engine struct {
	store    RowStore
	embedder Embedder
	scorer   *scoring.Engine
	logger   *logging.Logger
}

func NewEngine(s RowStore, e Embedder, scorer *scoring.Engine) *Engine {
	return &Engine{store: s, embedder: e, scorer: scorer, logger: logging.GetLogger("search")}
}

var _ Embedder = (*embedding.Service)(nil)

// candidate tracks a record's in-flight scoring state across the
// semantic and lexical branches before final ranking.
type candidate struct {
	similarity float64 // step 5: 0 if found only in the lexical branch
	lexical    float64 // normalized FTS rank, 0 if found only in the semantic branch
}

// Search runs the eight-step algorithm of §4.4 and returns a ranked
// Page. access_count/last_accessed_at bumps for returned records are
// kicked off asynchronously and never block the response (step 8).
func (e *Engine) Search(ctx context.Context, q domain.Query) (*domain.Page, error) {
	if err := validate(q); err != nil {
		return nil, err
	}

	mode := q.Mode
	if mode == "" {
		mode = domain.ModeHybrid
	}
	limit := q.Limit
	if limit <= 0 {
		limit = domain.DefaultLimit
	}
	if limit > domain.MaxLimit {
		limit = domain.MaxLimit
	}

	// Step 1: resolve query_vector.
	queryVec := q.QueryVector
	if queryVec == nil && q.QueryText != "" && (mode == domain.ModeSemantic || mode == domain.ModeHybrid) {
		var err error
		queryVec, err = e.embedder.Embed(ctx, q.QueryText)
		if err != nil {
			return nil, domain.EmbeddingUnavailable("search.Search", err)
		}
	}
	if queryVec == nil && mode == domain.ModeSemantic {
		return nil, domain.EmbeddingUnavailable("search.Search", nil)
	}

	// Step 2: ANN filter from tier/date_range/metadata_filters/importance_min/status=Active.
	filter := buildANNFilter(q)

	candidates := make(map[string]*candidate)
	degraded := false

	threshold := q.SimilarityThreshold
	if threshold == 0 {
		threshold = domain.DefaultSimilarityThresh
	}

	// Step 3: semantic branch.
	if (mode == domain.ModeSemantic || mode == domain.ModeHybrid) && queryVec != nil {
		kPrime := 4 * limit
		if kPrime < 200 {
			kPrime = 200
		}
		hits, err := e.store.VectorSearch(ctx, queryVec, kPrime, filter)
		if err != nil {
			if mode == domain.ModeSemantic || domain.IsKind(err, domain.KindCancelled) {
				return nil, err
			}
			e.logger.Warn("semantic branch unavailable, continuing with lexical only", "error", err)
			degraded = true
		}
		for _, h := range hits {
			if h.Similarity < threshold {
				continue
			}
			candidates[h.ID] = &candidate{similarity: h.Similarity}
		}
	}

	// Step 4: lexical branch, rank normalized to [0,1] by the caller (store.SearchFTS already does this).
	if (mode == domain.ModeLexical || mode == domain.ModeHybrid) && q.QueryText != "" {
		hits, err := e.store.SearchFTS(ctx, q.QueryText, 4*limit)
		if err != nil {
			if mode == domain.ModeLexical || domain.IsKind(err, domain.KindCancelled) {
				return nil, err
			}
			e.logger.Warn("lexical branch failed, continuing with semantic only", "error", err)
			degraded = true
		}
		for id, rank := range hits {
			if c, ok := candidates[id]; ok {
				c.lexical = rank
			} else {
				candidates[id] = &candidate{lexical: rank}
			}
		}
	}

	// Step 5 is implicit in the map-union above: ids found in only one
	// branch keep a zero value for the missing component.

	// Temporal mode bypasses the semantic/lexical branches entirely:
	// chronological browsing scored by the combined score alone.
	if mode == domain.ModeTemporal {
		pred := store.Predicate{
			Tiers:           q.Tiers,
			DateRange:       q.DateRange,
			MetadataFilters: q.MetadataFilters,
			ImportanceMin:   q.ImportanceMin,
		}
		records, _, err := e.store.Query(ctx, pred, store.OrderByCreatedAt, 4*limit, "")
		if err != nil {
			if domain.IsKind(err, domain.KindCancelled) {
				return nil, err
			}
			return nil, domain.StorageUnavailable("search.Search", err)
		}
		for _, m := range records {
			candidates[m.ID] = &candidate{}
		}
	}

	if len(candidates) == 0 {
		return &domain.Page{}, nil
	}

	ids := make([]string, 0, len(candidates))
	for id := range candidates {
		ids = append(ids, id)
	}
	records, err := e.store.GetMany(ctx, ids)
	if err != nil {
		if domain.IsKind(err, domain.KindCancelled) {
			return nil, err
		}
		return nil, domain.StorageUnavailable("search.Search", err)
	}

	beta := scoring.DefaultBeta
	if mode == domain.ModeLexical {
		beta = scoring.LexicalBeta
	}

	now := time.Now().UTC()
	results := make([]domain.Result, 0, len(records))
	for id, m := range records {
		if !passesPredicate(m, q) {
			continue
		}
		c := candidates[id]
		combined := m.CombinedScore
		if e.scorer != nil {
			combined = e.scorer.Recompute(m, now)
		}
		final := scoring.Rerank(c.similarity, combined, beta)
		results = append(results, domain.Result{
			Record:      m,
			Similarity:  c.similarity,
			LexicalRank: c.lexical,
			FinalScore:  final,
		})
	}

	// Step 6: final score ranking, ties broken by (created_at DESC, id DESC).
	sort.Slice(results, func(i, j int) bool {
		if results[i].FinalScore != results[j].FinalScore {
			return results[i].FinalScore > results[j].FinalScore
		}
		if !results[i].Record.CreatedAt.Equal(results[j].Record.CreatedAt) {
			return results[i].Record.CreatedAt.After(results[j].Record.CreatedAt)
		}
		return results[i].Record.ID > results[j].Record.ID
	})

	// Step 7: slice to limit, emit next cursor from the last record.
	if len(results) > limit {
		results = results[:limit]
	}
	page := &domain.Page{Records: make([]*domain.Memory, 0, len(results)), Degraded: degraded}
	returnedIDs := make([]string, 0, len(results))
	for _, r := range results {
		page.Records = append(page.Records, r.Record)
		returnedIDs = append(returnedIDs, r.Record.ID)
	}
	if len(results) > 0 {
		last := results[len(results)-1]
		page.NextCursor = store.EncodeScoreCursor(last.FinalScore, last.Record.ID)
	}

	// Step 8: asynchronous access bump, never blocks the response.
	if len(returnedIDs) > 0 {
		go func(ids []string) {
			bgCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := e.store.BumpAccess(bgCtx, ids); err != nil {
				e.logger.Warn("async access bump failed", "error", err)
			}
		}(returnedIDs)
	}

	return page, nil
}

func validate(q domain.Query) error {
	mode := q.Mode
	if mode == "" {
		mode = domain.ModeHybrid
	}
	if mode == domain.ModeSemantic && q.QueryText != "" && q.QueryVector != nil {
		return domain.InvalidQuery("search.Search", errBothQueryFormsSet)
	}
	for _, t := range q.Tiers {
		if t == domain.TierFrozen {
			return domain.InvalidQuery("search.Search", errFrozenTierFilter)
		}
		if !t.Valid() {
			return domain.InvalidQuery("search.Search", errInvalidTier)
		}
	}
	if q.Limit < 0 || q.Limit > domain.MaxLimit {
		return domain.InvalidQuery("search.Search", errLimitOutOfRange)
	}
	return nil
}

func buildANNFilter(q domain.Query) map[string]any {
	filter := map[string]any{"status": string(domain.StatusActive)}
	if len(q.Tiers) > 0 {
		tiers := make([]string, len(q.Tiers))
		for i, t := range q.Tiers {
			tiers[i] = string(t)
		}
		filter["tier"] = tiers
	}
	if q.DateRange.Bounded() {
		filter["created_at_from"] = q.DateRange.From
		filter["created_at_to"] = q.DateRange.To
	}
	for k, v := range q.MetadataFilters {
		filter["metadata."+k] = v
	}
	if q.ImportanceMin > 0 {
		filter["importance_min"] = q.ImportanceMin
	}
	return filter
}

func passesPredicate(m *domain.Memory, q domain.Query) bool {
	if m.Status != domain.StatusActive {
		return false
	}
	if len(q.Tiers) > 0 {
		found := false
		for _, t := range q.Tiers {
			if m.Tier == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	} else if m.Tier == domain.TierFrozen {
		return false
	}
	if !q.DateRange.From.IsZero() && m.CreatedAt.Before(q.DateRange.From) {
		return false
	}
	if !q.DateRange.To.IsZero() && !m.CreatedAt.Before(q.DateRange.To) {
		return false
	}
	if q.ImportanceMin > 0 && m.ImportanceScore < q.ImportanceMin {
		return false
	}
	for k, v := range q.MetadataFilters {
		if m.Metadata[k] != v {
			return false
		}
	}
	return true
}
