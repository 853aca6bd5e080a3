package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// OllamaProvider is the local-ollama provider (§4.2): an HTTP client
// against a local Ollama-compatible /api/embeddings endpoint. Grounded
// on the reference codebase's own Ollama client, generalized from a
// fixed nomic-embed-text/768 pairing to an arbitrary model/dimension.
type OllamaProvider struct {
	baseURL    string
	model      string
	dim        int
	cosineOps  bool
	httpClient *http.Client
}

type OllamaConfig struct {
	BaseURL   string
	Model     string
	Dimension int
	CosineOps bool
	Timeout   time.Duration
}

func NewOllamaProvider(cfg OllamaConfig) *OllamaProvider {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	model := cfg.Model
	if model == "" {
		model = "nomic-embed-text"
	}
	dim := cfg.Dimension
	if dim == 0 {
		dim = 768
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &OllamaProvider{
		baseURL:    baseURL,
		model:      model,
		dim:        dim,
		cosineOps:  cfg.CosineOps,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (p *OllamaProvider) Name() string    { return "local-ollama:" + p.model }
func (p *OllamaProvider) Dimension() int  { return p.dim }
func (p *OllamaProvider) CosineOps() bool { return p.cosineOps }

func (p *OllamaProvider) HealthCheck(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

type ollamaEmbeddingRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbeddingResponse struct {
	Embedding []float64 `json:"embedding"`
}

func (p *OllamaProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(ollamaEmbeddingRequest{Model: p.model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, string(b))
	}

	var out ollamaEmbeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(out.Embedding) != p.dim {
		return nil, fmt.Errorf("provider returned dimension %d, want %d", len(out.Embedding), p.dim)
	}

	vec := make([]float32, len(out.Embedding))
	for i, f := range out.Embedding {
		vec[i] = float32(f)
	}
	if p.cosineOps {
		vec = Normalize(vec)
	}
	return vec, nil
}
