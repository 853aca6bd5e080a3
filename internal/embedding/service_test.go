package embedding

import (
	"context"
	"errors"
	"testing"
	"time"
)

type failingProvider struct {
	name string
	dim  int
}

func (p *failingProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, errors.New("provider down")
}
func (p *failingProvider) HealthCheck(ctx context.Context) bool { return false }
func (p *failingProvider) Dimension() int                       { return p.dim }
func (p *failingProvider) Name() string                         { return p.name }
func (p *failingProvider) CosineOps() bool                      { return false }

// flakyProvider fails the first failCount calls, then succeeds.
type flakyProvider struct {
	name      string
	dim       int
	failCount int
	calls     int
}

func (p *flakyProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	p.calls++
	if p.calls <= p.failCount {
		return nil, errors.New("transient failure")
	}
	return DeterministicVector(text, p.dim), nil
}
func (p *flakyProvider) HealthCheck(ctx context.Context) bool { return true }
func (p *flakyProvider) Dimension() int                       { return p.dim }
func (p *flakyProvider) Name() string                         { return p.name }
func (p *flakyProvider) CosineOps() bool                      { return false }

const testRetryBackoff = time.Millisecond

func TestMockDeterminism(t *testing.T) {
	a := DeterministicVector("hello world", 16)
	b := DeterministicVector("hello world", 16)
	if len(a) != 16 {
		t.Fatalf("len = %d, want 16", len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("embed(x) != embed(x) at index %d: %v != %v", i, a[i], b[i])
		}
	}
}

func TestMockDiffersOnDifferentInput(t *testing.T) {
	a := DeterministicVector("hello", 16)
	b := DeterministicVector("goodbye", 16)
	same := true
	for i := range a {
		if a[i] != b[i] {
			same = false
			break
		}
	}
	if same {
		t.Fatalf("expected different inputs to produce different vectors")
	}
}

func TestServiceFallsBackToSecondProvider(t *testing.T) {
	svc := NewService(Config{
		Providers: []Provider{
			&failingProvider{name: "primary", dim: 8},
			NewMockProvider(8),
		},
		RetryAttempts: 2,
		RetryBackoff:  testRetryBackoff,
	})

	vec, err := svc.Embed(context.Background(), "some text")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 8 {
		t.Fatalf("len(vec) = %d, want 8", len(vec))
	}
}

func TestServiceReturnsEmbeddingUnavailableWhenAllFail(t *testing.T) {
	svc := NewService(Config{
		Providers: []Provider{
			&failingProvider{name: "a", dim: 8},
			&failingProvider{name: "b", dim: 8},
		},
		RetryAttempts: 2,
		RetryBackoff:  testRetryBackoff,
	})

	_, err := svc.Embed(context.Background(), "some text")
	if err == nil {
		t.Fatalf("expected an error when every provider fails")
	}
}

// TestServiceRetriesBeforeFallingBack ensures a provider that only
// fails transiently succeeds within its own retry budget instead of
// immediately falling through to the next provider in the chain.
func TestServiceRetriesBeforeFallingBack(t *testing.T) {
	primary := &flakyProvider{name: "primary", dim: 8, failCount: 2}
	fallback := &flakyProvider{name: "fallback", dim: 8}
	svc := NewService(Config{
		Providers:     []Provider{primary, fallback},
		RetryAttempts: 3,
		RetryBackoff:  testRetryBackoff,
	})

	_, err := svc.Embed(context.Background(), "some text")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if primary.calls != 3 {
		t.Fatalf("primary.calls = %d, want 3 (2 failures + 1 success within its retry budget)", primary.calls)
	}
	if fallback.calls != 0 {
		t.Fatalf("fallback should not be called once primary recovers within its retry budget, calls=%d", fallback.calls)
	}
}

// TestServiceExhaustsRetryBudgetThenFallsBack ensures a provider that
// never recovers is abandoned after RetryAttempts, not retried forever.
func TestServiceExhaustsRetryBudgetThenFallsBack(t *testing.T) {
	primary := &flakyProvider{name: "primary", dim: 8, failCount: 100}
	fallback := &flakyProvider{name: "fallback", dim: 8}
	svc := NewService(Config{
		Providers:     []Provider{primary, fallback},
		RetryAttempts: 3,
		RetryBackoff:  testRetryBackoff,
	})

	vec, err := svc.Embed(context.Background(), "some text")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 8 {
		t.Fatalf("len(vec) = %d, want 8", len(vec))
	}
	if primary.calls != 3 {
		t.Fatalf("primary.calls = %d, want 3 (its full retry budget)", primary.calls)
	}
	if fallback.calls != 1 {
		t.Fatalf("fallback.calls = %d, want 1", fallback.calls)
	}
}

func TestServiceDimensionReflectsPrimary(t *testing.T) {
	svc := NewService(Config{Providers: []Provider{NewMockProvider(32)}})
	if svc.Dimension() != 32 {
		t.Fatalf("Dimension() = %d, want 32", svc.Dimension())
	}
}
