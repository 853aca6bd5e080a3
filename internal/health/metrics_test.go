package health

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sony/gobreaker/v2"

	"github.com/memoryvault/memoryvault/internal/domain"
)

// newTestMetrics builds a *Metrics from bare (unregistered) collectors
// rather than NewMetrics' promauto ones, so repeated test runs don't
// collide on Prometheus's default registry.
func newTestMetrics() *Metrics {
	return &Metrics{
		TierPopulation: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "test_tier_population"}, []string{"tier"}),
		ActiveRecords:       prometheus.NewGauge(prometheus.GaugeOpts{Name: "test_active_records"}),
		DeletedRecords:      prometheus.NewGauge(prometheus.GaugeOpts{Name: "test_deleted_records"}),
		DedupIndexSize:      prometheus.NewGauge(prometheus.GaugeOpts{Name: "test_dedup_index_size"}),
		PendingScoreFlushes: prometheus.NewGauge(prometheus.GaugeOpts{Name: "test_pending_flushes"}),
		QueryLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "test_query_duration_seconds", Buckets: []float64{0.01, 0.1, 1},
		}),
		EmbeddingLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "test_embedding_duration_seconds", Buckets: []float64{0.01, 0.1, 1},
		}),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "test_circuit_breaker_state"}, []string{"name"}),
	}
}

func TestApplySnapshotSetsGauges(t *testing.T) {
	m := newTestMetrics()
	m.apply(Snapshot{
		ByTier: map[domain.Tier]int64{
			domain.TierWorking: 3,
			domain.TierWarm:    5,
			domain.TierCold:    7,
		},
		ActiveCount:         15,
		DeletedCount:         2,
		DedupIndexSize:       15,
		PendingScoreFlushes:  4,
	})

	if got := testutil.ToFloat64(m.TierPopulation.WithLabelValues("working")); got != 3 {
		t.Errorf("working population = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.TierPopulation.WithLabelValues("warm")); got != 5 {
		t.Errorf("warm population = %v, want 5", got)
	}
	if got := testutil.ToFloat64(m.TierPopulation.WithLabelValues("cold")); got != 7 {
		t.Errorf("cold population = %v, want 7", got)
	}
	if got := testutil.ToFloat64(m.ActiveRecords); got != 15 {
		t.Errorf("active records = %v, want 15", got)
	}
	if got := testutil.ToFloat64(m.DeletedRecords); got != 2 {
		t.Errorf("deleted records = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.PendingScoreFlushes); got != 4 {
		t.Errorf("pending flushes = %v, want 4", got)
	}
}

func TestSetCircuitBreakerState(t *testing.T) {
	m := newTestMetrics()
	m.SetCircuitBreakerState("embedding:ollama", gobreaker.StateOpen)
	if got := testutil.ToFloat64(m.CircuitBreakerState.WithLabelValues("embedding:ollama")); got != 2 {
		t.Errorf("open state = %v, want 2", got)
	}
	m.SetCircuitBreakerState("embedding:ollama", gobreaker.StateClosed)
	if got := testutil.ToFloat64(m.CircuitBreakerState.WithLabelValues("embedding:ollama")); got != 0 {
		t.Errorf("closed state = %v, want 0", got)
	}
}

func TestPollerAppliesSnapshotOnDemand(t *testing.T) {
	m := newTestMetrics()
	calls := 0
	poller := NewPoller(m, func(ctx context.Context) (Snapshot, error) {
		calls++
		return Snapshot{ActiveCount: 1}, nil
	}, 0)

	poller.pollOnce(context.Background())
	if calls != 1 {
		t.Fatalf("expected snapshot func invoked once, got %d", calls)
	}
	if got := testutil.ToFloat64(m.ActiveRecords); got != 1 {
		t.Errorf("active records = %v, want 1", got)
	}
}
