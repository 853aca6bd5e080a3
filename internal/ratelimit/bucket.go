package ratelimit

import (
	"sync"
	"time"
)

// Bucket is a thread-safe token bucket: tokens refill continuously at
// refillRate per second up to capacity, and TryConsume spends them.
type Bucket struct {
	mu         sync.Mutex
	tokens     float64
	capacity   float64
	refillRate float64
	lastRefill time.Time
}

// NewBucket creates a bucket starting full: capacity is the burst
// size, refillRate is tokens added per second.
func NewBucket(capacity, refillRate float64) *Bucket {
	return &Bucket{
		tokens:     capacity,
		capacity:   capacity,
		refillRate: refillRate,
		lastRefill: time.Now(),
	}
}

// TryConsume spends n tokens if available.
func (b *Bucket) TryConsume(n float64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill()
	if b.tokens >= n {
		b.tokens -= n
		return true
	}
	return false
}

// Refund returns n tokens to the bucket, capped at capacity. Used
// when a caller consumed a token from this bucket but was then
// rejected by a narrower one downstream.
func (b *Bucket) Refund(n float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill()
	b.tokens += n
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
}

// refill must be called with mu held.
func (b *Bucket) refill() {
	now := time.Now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	b.lastRefill = now
	b.tokens += elapsed * b.refillRate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
}

func (b *Bucket) Tokens() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill()
	return b.tokens
}

// TimeToWait returns how long until n tokens are available, or 0 if
// they already are.
func (b *Bucket) TimeToWait(n float64) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill()
	if b.tokens >= n {
		return 0
	}
	needed := n - b.tokens
	return time.Duration(needed / b.refillRate * float64(time.Second))
}

func (b *Bucket) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tokens = b.capacity
	b.lastRefill = time.Now()
}

func (b *Bucket) Capacity() float64   { return b.capacity }
func (b *Bucket) RefillRate() float64 { return b.refillRate }
