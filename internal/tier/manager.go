package tier

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/memoryvault/memoryvault/internal/domain"
	"github.com/memoryvault/memoryvault/internal/logging"
	"github.com/memoryvault/memoryvault/internal/store"
)

// RowStore is the subset of *store.Store the Tier Manager needs.
type RowStore interface {
	Query(ctx context.Context, pred store.Predicate, order store.OrderBy, limit int, cursor string) ([]*domain.Memory, string, error)
	UpdatePartial(ctx context.Context, id string, d store.Deltas) (*domain.Memory, error)
}

// TierCapacity configures capacity and water marks for one tier.
// Capacity <= 0 means unbounded (Cold's default).
type TierCapacity struct {
	Capacity int
}

func (c TierCapacity) lowWater() float64  { return 0.85 * float64(c.Capacity) }
func (c TierCapacity) highWater() float64 { return 0.95 * float64(c.Capacity) }

// Config configures the Tier Manager (§4.5).
type Config struct {
	Working TierCapacity
	Warm    TierCapacity

	MigrationInterval time.Duration // default 5m
	MinDwell          time.Duration // default 15m; 0 disables the dwell
	PromotionMargin   float64       // default 0.1
	MigrationBatch    int           // default 100

	RetryBase time.Duration // default 1s
	RetryCap  time.Duration // default 30s
	RetryMax  int           // default 5

	// LatencyBudgetFn reports the fraction of query capacity the
	// migration load would consume this cycle; when it exceeds 0.05,
	// the manager halves its batch size and doubles its interval for
	// the next cycle (§4.5 backpressure).
	LatencyBudgetFn func() float64
}

func DefaultConfig() Config {
	return Config{
		Working:           TierCapacity{Capacity: 1000},
		Warm:               TierCapacity{Capacity: 10000},
		MigrationInterval:  5 * time.Minute,
		MinDwell:           15 * time.Minute,
		PromotionMargin:    0.1,
		MigrationBatch:     100,
		RetryBase:          1 * time.Second,
		RetryCap:           30 * time.Second,
		RetryMax:           5,
	}
}

// Manager runs the migration cycle described in §4.5: scheduled
// promotion/demotion between Working/Warm/Cold with hysteresis and
// batched, retryable migrations. It runs as a single recurring task;
// there is no concurrent tier manager (§5).
type Manager struct {
	store  RowStore
	cfg    Config
	cron   *cron.Cron
	logger *logging.Logger

	batchSize     int
	skipNextCycle bool
}

func NewManager(s RowStore, cfg Config) *Manager {
	if cfg.MigrationInterval <= 0 {
		cfg.MigrationInterval = 5 * time.Minute
	}
	if cfg.MinDwell < 0 {
		cfg.MinDwell = 15 * time.Minute
	}
	if cfg.PromotionMargin == 0 {
		cfg.PromotionMargin = 0.1
	}
	if cfg.MigrationBatch <= 0 {
		cfg.MigrationBatch = 100
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = time.Second
	}
	if cfg.RetryCap <= 0 {
		cfg.RetryCap = 30 * time.Second
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = 5
	}
	return &Manager{
		store:      s,
		cfg:        cfg,
		logger:     logging.GetLogger("tier"),
		batchSize:  cfg.MigrationBatch,
	}
}

// Start schedules RunCycle on a recurring cron entry, the same
// cooperative-task idiom the Scoring Engine's flush uses, rather than
// a hand-rolled time.Sleep loop (§4.5).
func (m *Manager) Start(ctx context.Context) error {
	m.cron = cron.New(cron.WithSeconds())
	_, err := m.cron.AddFunc("@every "+m.cfg.MigrationInterval.String(), func() {
		m.RunCycle(ctx)
	})
	if err != nil {
		return err
	}
	m.cron.Start()
	return nil
}

// Stop halts the migration scheduler, letting an in-flight batch finish.
func (m *Manager) Stop() {
	if m.cron != nil {
		<-m.cron.Stop().Done()
	}
}

// RunCycle executes one migration pass: backpressure check, then
// demotion-from-Working, promotion-to-Working, demotion-from-Warm, in
// that order (matching the state machine's natural flow direction). A
// cycle that engaged backpressure on the prior run skips this tick
// entirely, which is what "doubles its interval" means for a
// fixed-schedule cron entry.
func (m *Manager) RunCycle(ctx context.Context) {
	if m.skipNextCycle {
		m.skipNextCycle = false
		m.logger.Warn("skipping migration cycle, prior backpressure doubled the interval")
		return
	}
	m.applyBackpressure()

	if err := m.demote(ctx, domain.TierWorking, domain.TierWarm, m.cfg.Working); err != nil {
		m.logger.Warn("demotion from working failed", "error", err)
	}
	if err := m.promoteToWorking(ctx); err != nil {
		m.logger.Warn("promotion to working failed", "error", err)
	}
	if err := m.demote(ctx, domain.TierWarm, domain.TierCold, m.cfg.Warm); err != nil {
		m.logger.Warn("demotion from warm failed", "error", err)
	}
}

// applyBackpressure halves the batch size and doubles the effective
// interval for this cycle when recent query latency indicates the
// migration load would consume more than 5% of query capacity.
func (m *Manager) applyBackpressure() {
	m.batchSize = m.cfg.MigrationBatch
	if m.cfg.LatencyBudgetFn == nil {
		return
	}
	if m.cfg.LatencyBudgetFn() > 0.05 {
		m.batchSize = max(1, m.batchSize/2)
		m.skipNextCycle = true
		m.logger.Warn("backpressure engaged, halving migration batch size and doubling interval", "batch_size", m.batchSize)
	}
}

// demote moves records out of from into to when from is above its
// low_water mark, selecting the lowest combined_score records first,
// skipping records still inside min_dwell.
func (m *Manager) demote(ctx context.Context, from, to domain.Tier, cap TierCapacity) error {
	if cap.Capacity <= 0 {
		return nil // unbounded tier, nothing to demote out of it on capacity grounds
	}
	records, _, err := m.store.Query(ctx, store.Predicate{Tiers: []domain.Tier{from}}, store.OrderByScore, cap.Capacity+m.batchSize, "")
	if err != nil {
		return err
	}
	currentCount := len(records)
	low := cap.lowWater()
	if float64(currentCount) <= low {
		return nil
	}

	// low_water is fractional (0.85*capacity); round the excess to the
	// nearest whole record rather than flooring low_water itself, which
	// would over-evict at small capacities (e.g. capacity=2 gives
	// low_water=1.7: rounding the excess demotes 1 record, not 2).
	excess := int(math.Round(float64(currentCount) - low))
	if excess <= 0 {
		return nil
	}

	// records come back ordered by combined_score DESC (store.Query's
	// default keyset axis); the bottom (currentCount - low_water) are
	// demotion candidates, i.e. the tail of this slice. Among tied
	// scores, the less-recently-accessed record sorts first so it is
	// chosen as a candidate ahead of the one accessed more recently.
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].CombinedScore != records[j].CombinedScore {
			return records[i].CombinedScore < records[j].CombinedScore
		}
		return records[i].LastAccessedAt.Before(records[j].LastAccessedAt)
	})

	candidates := make([]*domain.Memory, 0, excess)
	now := time.Now().UTC()
	for _, r := range records {
		if len(candidates) >= excess {
			break
		}
		if now.Sub(r.TierEnteredAt) < m.cfg.MinDwell {
			continue // hysteresis: still pinned in its current tier
		}
		candidates = append(candidates, r)
	}

	return m.migrateBatch(ctx, candidates, to)
}

// promoteToWorking moves records from Warm into Working whose
// combined_score exceeds the Working median by at least
// promotion_margin, up to the number of free Working slots.
func (m *Manager) promoteToWorking(ctx context.Context) error {
	cap := m.cfg.Working
	if cap.Capacity <= 0 {
		return nil
	}
	working, _, err := m.store.Query(ctx, store.Predicate{Tiers: []domain.Tier{domain.TierWorking}}, store.OrderByScore, cap.Capacity, "")
	if err != nil {
		return err
	}
	freeSlots := cap.Capacity - len(working)
	if freeSlots <= 0 {
		return nil
	}
	median := medianScore(working)

	warm, _, err := m.store.Query(ctx, store.Predicate{Tiers: []domain.Tier{domain.TierWarm}}, store.OrderByScore, freeSlots+m.batchSize, "")
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	candidates := make([]*domain.Memory, 0, freeSlots)
	for _, r := range warm {
		if len(candidates) >= freeSlots {
			break
		}
		if r.CombinedScore < median+m.cfg.PromotionMargin {
			continue
		}
		if now.Sub(r.TierEnteredAt) < m.cfg.MinDwell {
			continue
		}
		candidates = append(candidates, r)
	}

	return m.migrateBatch(ctx, candidates, domain.TierWorking)
}

// PromoteOnAccess bypasses the scheduler for an explicitly accessed
// Cold record, moving it directly into Warm (§4.5's access-driven
// promotion path).
func (m *Manager) PromoteOnAccess(ctx context.Context, rec *domain.Memory) error {
	if rec.Tier != domain.TierCold {
		return nil
	}
	return m.migrateBatch(ctx, []*domain.Memory{rec}, domain.TierWarm)
}

func medianScore(records []*domain.Memory) float64 {
	if len(records) == 0 {
		return 0
	}
	scores := make([]float64, len(records))
	for i, r := range records {
		scores[i] = r.CombinedScore
	}
	sort.Float64s(scores)
	mid := len(scores) / 2
	if len(scores)%2 == 0 {
		return (scores[mid-1] + scores[mid]) / 2
	}
	return scores[mid]
}

// migrateBatch applies the tier change to candidates in batches of
// batchSize, each inside UpdatePartial's own transaction, retrying a
// failed batch with exponential backoff (base/cap/max attempts) before
// surfacing it and moving on to the next batch (§4.5).
func (m *Manager) migrateBatch(ctx context.Context, candidates []*domain.Memory, to domain.Tier) error {
	for start := 0; start < len(candidates); start += m.batchSize {
		end := start + m.batchSize
		if end > len(candidates) {
			end = len(candidates)
		}
		batch := candidates[start:end]
		if err := m.migrateOneBatchWithRetry(ctx, batch, to); err != nil {
			m.logger.Warn("migration batch failed after retries, alerting and continuing", "error", err, "tier", to)
		}
	}
	return nil
}

func (m *Manager) migrateOneBatchWithRetry(ctx context.Context, batch []*domain.Memory, to domain.Tier) error {
	backoff := m.cfg.RetryBase
	var lastErr error
	for attempt := 0; attempt < m.cfg.RetryMax; attempt++ {
		lastErr = m.migrateOnce(ctx, batch, to)
		if lastErr == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > m.cfg.RetryCap {
			backoff = m.cfg.RetryCap
		}
	}
	return lastErr
}

func (m *Manager) migrateOnce(ctx context.Context, batch []*domain.Memory, to domain.Tier) error {
	var firstErr error
	for _, rec := range batch {
		target := to
		_, err := m.store.UpdatePartial(ctx, rec.ID, store.Deltas{
			Tier:              &target,
			ExpectedUpdatedAt: rec.UpdatedAt,
		})
		if err != nil && firstErr == nil {
			// A concurrent update won the CAS race; the migration
			// retries the whole batch (up to RetryMax attempts) via
			// migrateOneBatchWithRetry rather than re-reading
			// individual rows mid-batch.
			firstErr = err
		}
	}
	return firstErr
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
