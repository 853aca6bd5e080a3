// Package embedding implements the Embedding Service (spec §4.2): a
// text -> vector mapping with a primary provider, an ordered fallback
// chain, and a deterministic mock, composed behind a uniform capability
// set per §9 ("Polymorphism over embedding providers").
package embedding

import "context"

// Provider is the capability set every embedding backend implements:
// embed, health_check, dimension (§9).
type Provider interface {
	// Embed returns a vector of length Dimension() for text.
	Embed(ctx context.Context, text string) ([]float32, error)
	// HealthCheck reports whether the provider is currently usable,
	// without performing an embedding call.
	HealthCheck(ctx context.Context) bool
	// Dimension is the fixed output width for this provider's model.
	Dimension() int
	// Name identifies the provider for logging and circuit-breaker naming.
	Name() string
	// CosineOps reports whether vectors from this provider should be
	// normalized to unit L2 norm (§4.2: "iff model.cosine_ops = true").
	CosineOps() bool
}
