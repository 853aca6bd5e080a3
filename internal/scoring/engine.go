package scoring

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/memoryvault/memoryvault/internal/domain"
	"github.com/memoryvault/memoryvault/internal/logging"
)

// Flusher is the subset of the row store the Engine needs to persist
// batched score deltas. *store.Store does not satisfy it (its
// UpdatePartial takes store.Deltas and also returns the record); the
// Engine itself persists through Config.Apply instead.
type Flusher interface {
	UpdatePartial(ctx context.Context, id string, d FlushDelta) error
}

// FlushDelta carries the three score fields the Engine recomputes.
// Field names and shape mirror store.Deltas so callers can convert
// with a one-line struct literal; kept separate to avoid a dependency
// from scoring on store.
type FlushDelta struct {
	RecencyScore      *float64
	RelevanceScore    *float64
	CombinedScore     *float64
	ExpectedUpdatedAt time.Time
}

// pending is a score recomputation awaiting the next flush cycle.
type pending struct {
	delta     FlushDelta
	updatedAt time.Time
}

// Engine recomputes recency/relevance/combined scores on every read or
// update of a record and batches their persistence on a fixed interval
// (§4.3's write-behind discipline), scheduled the same way the Tier
// Manager schedules its migration cycle: a recurring cron job, not an
// ad hoc per-record timer goroutine.
type Engine struct {
	lambdas Lambdas
	weights Weights
	apply   func(ctx context.Context, id string, d FlushDelta) error

	mu      sync.Mutex
	pending map[string]pending

	cron   *cron.Cron
	logger *logging.Logger
}

// Config configures Engine.
type Config struct {
	Lambdas           Lambdas
	Weights           Weights
	FlushInterval     time.Duration // default 60s (score_flush_interval)
	Apply             func(ctx context.Context, id string, d FlushDelta) error
}

func NewEngine(cfg Config) (*Engine, error) {
	weights := cfg.Weights
	if weights == (Weights{}) {
		weights = DefaultWeights()
	}
	if err := weights.Validate(); err != nil {
		return nil, err
	}
	lambdas := cfg.Lambdas
	if lambdas == (Lambdas{}) {
		lambdas = DefaultLambdas()
	}

	return &Engine{
		lambdas: lambdas,
		weights: weights,
		apply:   cfg.Apply,
		pending: make(map[string]pending),
		logger:  logging.GetLogger("scoring"),
	}, nil
}

// Recompute derives recency/relevance/importance/combined for m as of
// now, queuing the recency/relevance/combined triple for the next
// flush and returning the combined score for immediate use by callers
// (e.g. the Search Engine ranking a just-fetched page).
func (e *Engine) Recompute(m *domain.Memory, now time.Time) float64 {
	deltaHours := now.Sub(m.LastAccessedAt).Hours()
	recency := Recency(deltaHours, m.Tier, e.lambdas)
	relevance := Relevance(m.AccessCount)
	importance := Importance(m.ImportanceScore)
	combined := Combined(recency, importance, relevance, e.weights)

	m.RecencyScore = recency
	m.RelevanceScore = relevance
	m.CombinedScore = combined

	e.mu.Lock()
	e.pending[m.ID] = pending{
		delta: FlushDelta{
			RecencyScore:      &m.RecencyScore,
			RelevanceScore:    &m.RelevanceScore,
			CombinedScore:     &m.CombinedScore,
			ExpectedUpdatedAt: m.UpdatedAt,
		},
		updatedAt: now,
	}
	e.mu.Unlock()

	return combined
}

// Start schedules the periodic flush via a recurring cron entry,
// mirroring the Tier Manager's own cooperative-task scheduling idiom.
func (e *Engine) Start(ctx context.Context, flushInterval time.Duration) error {
	if flushInterval <= 0 {
		flushInterval = 60 * time.Second
	}
	e.cron = cron.New(cron.WithSeconds())
	spec := everySpec(flushInterval)
	_, err := e.cron.AddFunc(spec, func() {
		e.Flush(ctx)
	})
	if err != nil {
		return err
	}
	e.cron.Start()
	return nil
}

// Stop halts the flush scheduler, waiting for any in-flight flush.
func (e *Engine) Stop() {
	if e.cron != nil {
		stopCtx := e.cron.Stop()
		<-stopCtx.Done()
	}
}

// Flush persists every pending score delta, clearing entries on
// success and leaving failed ones queued for the next cycle.
func (e *Engine) Flush(ctx context.Context) {
	e.mu.Lock()
	batch := e.pending
	e.pending = make(map[string]pending)
	e.mu.Unlock()

	if len(batch) == 0 || e.apply == nil {
		return
	}

	for id, p := range batch {
		if err := e.apply(ctx, id, p.delta); err != nil {
			e.logger.Warn("score flush failed, requeuing", "id", id, "error", err)
			e.mu.Lock()
			if _, ok := e.pending[id]; !ok {
				e.pending[id] = p
			}
			e.mu.Unlock()
		}
	}
}

// PendingCount reports the number of records awaiting their next
// flush, used by Health & Statistics.
func (e *Engine) PendingCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

// everySpec renders a robfig/cron "@every" duration spec.
func everySpec(d time.Duration) string {
	return "@every " + d.String()
}
