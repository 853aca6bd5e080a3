package ratelimit

import (
	"sync"
	"sync/atomic"
	"time"
)

// Metrics tracks allow/reject counts per operation and per limit
// type, independent of whether Prometheus is wired in. Nothing in this
// module exports these counts to Prometheus or the health package.
type Metrics struct {
	mu sync.RWMutex

	totalAllowed  uint64
	totalRejected uint64

	allowedByOp      map[string]*uint64
	rejectedByOp      map[string]*uint64
	rejectionsByType map[string]*uint64

	startTime time.Time
}

func NewMetrics() *Metrics {
	return &Metrics{
		allowedByOp:      make(map[string]*uint64),
		rejectedByOp:     make(map[string]*uint64),
		rejectionsByType: make(map[string]*uint64),
		startTime:        time.Now(),
	}
}

func (m *Metrics) RecordAllowed(operation string) {
	atomic.AddUint64(&m.totalAllowed, 1)

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.allowedByOp[operation]; !exists {
		var zero uint64
		m.allowedByOp[operation] = &zero
	}
	atomic.AddUint64(m.allowedByOp[operation], 1)
}

func (m *Metrics) RecordRejection(limitType, operation string) {
	atomic.AddUint64(&m.totalRejected, 1)

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.rejectedByOp[operation]; !exists {
		var zero uint64
		m.rejectedByOp[operation] = &zero
	}
	atomic.AddUint64(m.rejectedByOp[operation], 1)

	if _, exists := m.rejectionsByType[limitType]; !exists {
		var zero uint64
		m.rejectionsByType[limitType] = &zero
	}
	atomic.AddUint64(m.rejectionsByType[limitType], 1)
}

// MetricsSnapshot is a point-in-time view suitable for JSON responses.
type MetricsSnapshot struct {
	TotalAllowed     uint64            `json:"total_allowed"`
	TotalRejected    uint64            `json:"total_rejected"`
	AllowedByOp      map[string]uint64 `json:"allowed_by_operation"`
	RejectedByOp     map[string]uint64 `json:"rejected_by_operation"`
	RejectionsByType map[string]uint64 `json:"rejections_by_type"`
	Uptime           time.Duration     `json:"uptime"`
	RequestsPerSec   float64           `json:"requests_per_second"`
}

func (m *Metrics) Snapshot() *MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snapshot := &MetricsSnapshot{
		TotalAllowed:     atomic.LoadUint64(&m.totalAllowed),
		TotalRejected:    atomic.LoadUint64(&m.totalRejected),
		AllowedByOp:      make(map[string]uint64),
		RejectedByOp:     make(map[string]uint64),
		RejectionsByType: make(map[string]uint64),
		Uptime:           time.Since(m.startTime),
	}
	for op, count := range m.allowedByOp {
		snapshot.AllowedByOp[op] = atomic.LoadUint64(count)
	}
	for op, count := range m.rejectedByOp {
		snapshot.RejectedByOp[op] = atomic.LoadUint64(count)
	}
	for limitType, count := range m.rejectionsByType {
		snapshot.RejectionsByType[limitType] = atomic.LoadUint64(count)
	}

	total := snapshot.TotalAllowed + snapshot.TotalRejected
	if snapshot.Uptime.Seconds() > 0 {
		snapshot.RequestsPerSec = float64(total) / snapshot.Uptime.Seconds()
	}
	return snapshot
}

func (m *Metrics) TotalAllowed() uint64  { return atomic.LoadUint64(&m.totalAllowed) }
func (m *Metrics) TotalRejected() uint64 { return atomic.LoadUint64(&m.totalRejected) }

func (m *Metrics) RejectionRate() float64 {
	allowed := atomic.LoadUint64(&m.totalAllowed)
	rejected := atomic.LoadUint64(&m.totalRejected)
	total := allowed + rejected
	if total == 0 {
		return 0
	}
	return float64(rejected) / float64(total)
}

func (m *Metrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	atomic.StoreUint64(&m.totalAllowed, 0)
	atomic.StoreUint64(&m.totalRejected, 0)
	m.allowedByOp = make(map[string]*uint64)
	m.rejectedByOp = make(map[string]*uint64)
	m.rejectionsByType = make(map[string]*uint64)
	m.startTime = time.Now()
}
