package embedding

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIProvider is the remote-openai-like provider (§4.2): any service
// speaking the OpenAI embeddings wire format, reached through an
// api_base override so a self-hosted OpenAI-compatible gateway works
// the same as the real API.
type OpenAIProvider struct {
	client    *openai.Client
	model     string
	dim       int
	cosineOps bool
}

type OpenAIConfig struct {
	APIKey    string
	BaseURL   string
	Model     string
	Dimension int
	CosineOps bool
}

func NewOpenAIProvider(cfg OpenAIConfig) *OpenAIProvider {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = string(openai.SmallEmbedding3)
	}
	dim := cfg.Dimension
	if dim == 0 {
		dim = 1536
	}
	return &OpenAIProvider{
		client:    openai.NewClientWithConfig(clientCfg),
		model:     model,
		dim:       dim,
		cosineOps: cfg.CosineOps,
	}
}

func (p *OpenAIProvider) Name() string    { return "remote-openai-like:" + p.model }
func (p *OpenAIProvider) Dimension() int  { return p.dim }
func (p *OpenAIProvider) CosineOps() bool { return p.cosineOps }

func (p *OpenAIProvider) HealthCheck(ctx context.Context) bool {
	_, err := p.client.ListModels(ctx)
	return err == nil
}

func (p *OpenAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(p.model),
		Input: text,
	})
	if err != nil {
		return nil, fmt.Errorf("create embeddings: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("provider returned no embedding data")
	}

	src := resp.Data[0].Embedding
	if len(src) != p.dim {
		return nil, fmt.Errorf("provider returned dimension %d, want %d", len(src), p.dim)
	}
	vec := make([]float32, len(src))
	copy(vec, src)
	if p.cosineOps {
		vec = Normalize(vec)
	}
	return vec, nil
}

var (
	_ Provider = (*OpenAIProvider)(nil)
	_ Provider = (*OllamaProvider)(nil)
)
