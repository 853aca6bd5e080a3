package embedding

import (
	"context"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/sync/semaphore"

	"github.com/memoryvault/memoryvault/internal/domain"
	"github.com/memoryvault/memoryvault/internal/logging"
)

// Service composes a primary Provider and an ordered fallback chain
// behind a single Embed call (§4.2), wrapping every provider in its own
// circuit breaker so a failing provider is skipped for a cool-down
// window rather than retried on each request, and bounding total
// in-flight calls with a weighted semaphore sized by
// max_concurrent_requests.
type Service struct {
	providers    []guardedProvider
	sem          *semaphore.Weighted
	acquireTO    time.Duration
	retryBudget  int
	retryBackoff time.Duration
	logger       *logging.Logger
}

type guardedProvider struct {
	Provider
	breaker *gobreaker.CircuitBreaker[[]float32]
}

// Config configures Service.
type Config struct {
	// Providers lists the chain in priority order: index 0 is primary,
	// the rest are fallbacks tried only once the previous one's circuit
	// breaker is open or the call itself fails.
	Providers []Provider
	// MaxConcurrentRequests bounds in-flight Embed calls across all
	// providers combined.
	MaxConcurrentRequests int64
	// AcquireTimeout bounds how long Embed waits for a semaphore slot
	// before returning EmbeddingQueueFull.
	AcquireTimeout time.Duration
	// RetryAttempts bounds how many times a single provider's breaker
	// is invoked (with RetryBackoff between attempts) before Embed
	// falls through to the next provider in the chain.
	RetryAttempts int
	RetryBackoff  time.Duration
}

func NewService(cfg Config) *Service {
	maxConcurrent := cfg.MaxConcurrentRequests
	if maxConcurrent <= 0 {
		maxConcurrent = 8
	}
	acquireTO := cfg.AcquireTimeout
	if acquireTO <= 0 {
		acquireTO = 2 * time.Second
	}
	retryBudget := cfg.RetryAttempts
	if retryBudget <= 0 {
		retryBudget = 3
	}
	retryBackoff := cfg.RetryBackoff
	if retryBackoff <= 0 {
		retryBackoff = 200 * time.Millisecond
	}

	guarded := make([]guardedProvider, 0, len(cfg.Providers))
	for _, p := range cfg.Providers {
		cb := gobreaker.NewCircuitBreaker[[]float32](gobreaker.Settings{
			Name:        "embedding:" + p.Name(),
			MaxRequests: 1,
			Interval:    60 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		})
		guarded = append(guarded, guardedProvider{Provider: p, breaker: cb})
	}

	return &Service{
		providers:    guarded,
		sem:          semaphore.NewWeighted(maxConcurrent),
		acquireTO:    acquireTO,
		retryBudget:  retryBudget,
		retryBackoff: retryBackoff,
		logger:       logging.GetLogger("embedding"),
	}
}

// Embed tries the primary provider, then each fallback in order,
// returning the first success. If every provider's circuit breaker is
// open or every call fails, it returns EmbeddingUnavailable.
func (s *Service) Embed(ctx context.Context, text string) ([]float32, error) {
	if len(s.providers) == 0 {
		return nil, domain.EmbeddingUnavailable("embedding.Embed", nil)
	}

	acqCtx, cancel := context.WithTimeout(ctx, s.acquireTO)
	defer cancel()
	if err := s.sem.Acquire(acqCtx, 1); err != nil {
		return nil, domain.EmbeddingQueueFull("embedding.Embed")
	}
	defer s.sem.Release(1)

	var lastErr error
	for _, gp := range s.providers {
		vec, err := s.embedWithRetry(ctx, gp, text)
		if err == nil {
			return vec, nil
		}
		lastErr = err
		s.logger.Warn("embedding provider exhausted its retry budget, trying next", "provider", gp.Name(), "error", err)
	}
	return nil, domain.EmbeddingUnavailable("embedding.Embed", lastErr)
}

// embedWithRetry calls a single provider's breaker up to retryBudget
// times, backing off retryBackoff between attempts, before giving up on
// this provider and letting Embed fall through to the next one.
func (s *Service) embedWithRetry(ctx context.Context, gp guardedProvider, text string) ([]float32, error) {
	var lastErr error
	for attempt := 0; attempt < s.retryBudget; attempt++ {
		vec, err := gp.breaker.Execute(func() ([]float32, error) {
			return gp.Provider.Embed(ctx, text)
		})
		if err == nil {
			return vec, nil
		}
		lastErr = err
		if attempt == s.retryBudget-1 {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.retryBackoff):
		}
	}
	return nil, lastErr
}

// Dimension returns the primary provider's output width, the dimension
// every stored vector in this deployment must match.
func (s *Service) Dimension() int {
	if len(s.providers) == 0 {
		return 0
	}
	return s.providers[0].Dimension()
}

// HealthCheck reports whether at least one provider in the chain is
// currently reachable.
func (s *Service) HealthCheck(ctx context.Context) bool {
	for _, gp := range s.providers {
		if gp.HealthCheck(ctx) {
			return true
		}
	}
	return false
}
