package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
)

// MockProvider is the deterministic-mock provider (§4.2, §8): embed(x)
// == embed(x) across calls and processes because the vector is derived
// purely from a hash of the text, with no network I/O or model state.
// It is used by tests and, opt-in, as a last-resort fallback when every
// real provider is down.
type MockProvider struct {
	dim int
}

func NewMockProvider(dim int) *MockProvider {
	if dim <= 0 {
		dim = 384
	}
	return &MockProvider{dim: dim}
}

func (p *MockProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	return DeterministicVector(text, p.dim), nil
}

func (p *MockProvider) HealthCheck(ctx context.Context) bool { return true }
func (p *MockProvider) Dimension() int                       { return p.dim }
func (p *MockProvider) Name() string                          { return "deterministic-mock" }
func (p *MockProvider) CosineOps() bool                       { return true }

var _ Provider = (*MockProvider)(nil)

// DeterministicVector expands a SHA-256 digest of text into dim floats
// in [-1, 1] via repeated re-hashing, a cheap way to get a reproducible,
// reasonably well-spread vector without pulling in an actual model.
func DeterministicVector(text string, dim int) []float32 {
	out := make([]float32, dim)
	seed := sha256.Sum256([]byte(text))
	block := seed
	idx := 0
	for i := 0; i < dim; i++ {
		if idx >= len(block) {
			block = sha256.Sum256(block[:])
			idx = 0
		}
		if idx+4 > len(block) {
			block = sha256.Sum256(block[:])
			idx = 0
		}
		u := binary.LittleEndian.Uint32(block[idx : idx+4])
		idx += 4
		// map uint32 -> [-1, 1]
		out[i] = float32(int32(u))/float32(math.MaxInt32)
	}
	return Normalize(out)
}

// Normalize scales v to unit L2 norm, a no-op on the zero vector.
func Normalize(v []float32) []float32 {
	var sumSq float64
	for _, f := range v {
		sumSq += float64(f) * float64(f)
	}
	if sumSq == 0 {
		return v
	}
	norm := math.Sqrt(sumSq)
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(float64(f) / norm)
	}
	return out
}
