package ratelimit

import (
	"sync"
	"time"
)

// LimitResult contains the result of a rate limit check.
type LimitResult struct {
	Allowed    bool
	RetryAfter time.Duration
	LimitType  string // "global" or the operation name
	Remaining  float64
}

// Limiter enforces a global token bucket plus optional per-operation
// overrides in front of the request interface's six operations
// (store_memory, get_memory, update_memory, delete_memory,
// search_memory, get_statistics).
type Limiter struct {
	mu        sync.RWMutex
	enabled   bool
	global    *Bucket
	perOp     map[string]*Bucket
	config    *Config
	metrics   *Metrics
}

// NewLimiter creates a rate limiter from configuration, falling back
// to DefaultConfig when cfg is nil.
func NewLimiter(cfg *Config) *Limiter {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	l := &Limiter{
		enabled: cfg.Enabled,
		perOp:   make(map[string]*Bucket),
		config:  cfg,
		metrics: NewMetrics(),
		global:  NewBucket(float64(cfg.Global.BurstSize), cfg.Global.RequestsPerSecond),
	}
	for _, op := range cfg.Operations {
		l.perOp[op.Name] = NewBucket(float64(op.BurstSize), op.RequestsPerSecond)
	}
	return l
}

// Allow checks whether a call to the named operation may proceed. The
// global bucket is consulted first; an operation-specific bucket, if
// configured, is consulted second. A rejection at the operation level
// returns the global token it already spent rather than resetting the
// whole bucket.
func (l *Limiter) Allow(operation string) *LimitResult {
	if !l.enabled {
		return &LimitResult{Allowed: true, LimitType: "disabled", Remaining: -1}
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	if !l.global.TryConsume(1) {
		retryAfter := l.global.TimeToWait(1)
		l.metrics.RecordRejection("global", operation)
		return &LimitResult{Allowed: false, RetryAfter: retryAfter, LimitType: "global", Remaining: l.global.Tokens()}
	}

	bucket, exists := l.perOp[operation]
	if !exists {
		l.metrics.RecordAllowed(operation)
		return &LimitResult{Allowed: true, LimitType: "global", Remaining: l.global.Tokens()}
	}

	if !bucket.TryConsume(1) {
		l.global.Refund(1)
		retryAfter := bucket.TimeToWait(1)
		l.metrics.RecordRejection(operation, operation)
		return &LimitResult{Allowed: false, RetryAfter: retryAfter, LimitType: operation, Remaining: bucket.Tokens()}
	}

	l.metrics.RecordAllowed(operation)
	return &LimitResult{Allowed: true, LimitType: operation, Remaining: bucket.Tokens()}
}

func (l *Limiter) IsEnabled() bool { return l.enabled }

func (l *Limiter) SetEnabled(enabled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.enabled = enabled
}

func (l *Limiter) GetMetrics() *Metrics { return l.metrics }

// OperationBucket returns the bucket for a specific operation, for
// tests and diagnostics. Returns nil if the operation has no override.
func (l *Limiter) OperationBucket(operation string) *Bucket {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.perOp[operation]
}

func (l *Limiter) GlobalBucket() *Bucket {
	return l.global
}

// Reset restores every bucket to full capacity.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.global.Reset()
	for _, bucket := range l.perOp {
		bucket.Reset()
	}
}

// Stats is a point-in-time view of bucket occupancy, returned by
// GetStats. Neither the doctor CLI command nor the statistics HTTP
// endpoint reports it.
type Stats struct {
	Enabled        bool               `json:"enabled"`
	GlobalTokens   float64            `json:"global_tokens"`
	OperationTokens map[string]float64 `json:"operation_tokens"`
}

func (l *Limiter) GetStats() *Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	stats := &Stats{
		Enabled:         l.enabled,
		GlobalTokens:    l.global.Tokens(),
		OperationTokens: make(map[string]float64),
	}
	for name, bucket := range l.perOp {
		stats.OperationTokens[name] = bucket.Tokens()
	}
	return stats
}
