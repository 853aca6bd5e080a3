package health

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/robfig/cron/v3"
	"github.com/sony/gobreaker/v2"

	"github.com/memoryvault/memoryvault/internal/domain"
	"github.com/memoryvault/memoryvault/internal/logging"
)

// Snapshot is the plain counters map behind get_statistics (§4.6),
// independent of whether Prometheus is wired in.
type Snapshot struct {
	ByTier                map[domain.Tier]int64
	ActiveCount           int64
	DeletedCount          int64
	DedupIndexSize        int64
	AvgQueryLatencyMS     float64
	AvgEmbeddingLatencyMS float64
	PendingScoreFlushes   int
}

// SnapshotFunc pulls a fresh Snapshot, typically backed by
// repository.Repository.Statistics.
type SnapshotFunc func(ctx context.Context) (Snapshot, error)

// Metrics holds every Prometheus collector the core exposes in
// addition to the plain counters map, grouped the way the reference
// corpus's own observability package groups gauges/histograms by
// subsystem.
type Metrics struct {
	TierPopulation      *prometheus.GaugeVec
	ActiveRecords       prometheus.Gauge
	DeletedRecords      prometheus.Gauge
	DedupIndexSize      prometheus.Gauge
	PendingScoreFlushes prometheus.Gauge

	QueryLatency     prometheus.Histogram
	EmbeddingLatency prometheus.Histogram

	// CircuitBreakerState: 0=closed, 1=half-open, 2=open. Labels: name
	// (the breaker's own Settings.Name, e.g. "embedding:ollama" or
	// "vector-index:memories").
	CircuitBreakerState *prometheus.GaugeVec
}

// NewMetrics registers every collector with Prometheus's default
// registry, to be called once at process startup.
func NewMetrics() *Metrics {
	return &Metrics{
		TierPopulation: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "memvault_tier_population",
				Help: "Current number of Active records per tier",
			},
			[]string{"tier"},
		),
		ActiveRecords: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "memvault_active_records",
			Help: "Current number of Active records across all tiers",
		}),
		DeletedRecords: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "memvault_deleted_records",
			Help: "Current number of soft-deleted (Frozen) records awaiting compaction",
		}),
		DedupIndexSize: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "memvault_dedup_index_size",
			Help: "Number of distinct content_hash entries in the active dedup index",
		}),
		PendingScoreFlushes: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "memvault_pending_score_flushes",
			Help: "Number of score recomputations queued for the next flush cycle",
		}),
		QueryLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "memvault_query_duration_seconds",
			Help:    "Duration of store/get/search operations against the row store",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
		EmbeddingLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "memvault_embedding_duration_seconds",
			Help:    "Duration of embedding provider calls",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		}),
		CircuitBreakerState: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "memvault_circuit_breaker_state",
				Help: "Circuit breaker state per guarded dependency: 0=closed, 1=half-open, 2=open",
			},
			[]string{"name"},
		),
	}
}

func (m *Metrics) RecordQuery(d time.Duration)     { m.QueryLatency.Observe(d.Seconds()) }
func (m *Metrics) RecordEmbedding(d time.Duration) { m.EmbeddingLatency.Observe(d.Seconds()) }

// SetCircuitBreakerState records the current state of a named circuit
// breaker (the Embedding Service's per-provider breakers, the vector
// index client's breaker).
func (m *Metrics) SetCircuitBreakerState(name string, state gobreaker.State) {
	m.CircuitBreakerState.WithLabelValues(name).Set(stateValue(state))
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

func (m *Metrics) apply(s Snapshot) {
	for _, t := range domain.Tiers {
		m.TierPopulation.WithLabelValues(string(t)).Set(float64(s.ByTier[t]))
	}
	m.ActiveRecords.Set(float64(s.ActiveCount))
	m.DeletedRecords.Set(float64(s.DeletedCount))
	m.DedupIndexSize.Set(float64(s.DedupIndexSize))
	m.PendingScoreFlushes.Set(float64(s.PendingScoreFlushes))
}

// Poller periodically pulls a Snapshot and reflects it into the
// gauges above, scheduled with the same recurring-cron idiom as the
// Scoring Engine's flush and the Tier Manager's migration cycle.
type Poller struct {
	metrics  *Metrics
	snapshot SnapshotFunc
	interval time.Duration
	cron     *cron.Cron
	logger   *logging.Logger
}

func NewPoller(m *Metrics, fn SnapshotFunc, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Poller{
		metrics:  m,
		snapshot: fn,
		interval: interval,
		logger:   logging.GetLogger("health"),
	}
}

func (p *Poller) Start(ctx context.Context) error {
	p.cron = cron.New(cron.WithSeconds())
	_, err := p.cron.AddFunc("@every "+p.interval.String(), func() {
		p.pollOnce(ctx)
	})
	if err != nil {
		return err
	}
	p.cron.Start()
	return nil
}

func (p *Poller) Stop() {
	if p.cron != nil {
		<-p.cron.Stop().Done()
	}
}

func (p *Poller) pollOnce(ctx context.Context) {
	s, err := p.snapshot(ctx)
	if err != nil {
		p.logger.Warn("statistics snapshot failed", "error", err)
		return
	}
	p.metrics.apply(s)
}
