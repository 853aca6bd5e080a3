package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/memoryvault/memoryvault/internal/embedding"
	"github.com/memoryvault/memoryvault/internal/health"
	"github.com/memoryvault/memoryvault/internal/repository"
	"github.com/memoryvault/memoryvault/internal/scoring"
	"github.com/memoryvault/memoryvault/internal/search"
	"github.com/memoryvault/memoryvault/internal/store"
	"github.com/memoryvault/memoryvault/internal/tier"
	"github.com/memoryvault/memoryvault/pkg/config"
)

// app bundles every long-lived component a command needs: one entry
// point building the whole dependency graph from a loaded Config.
type app struct {
	cfg     *config.Config
	store   *store.Store
	embed   *embedding.Service
	scorer  *scoring.Engine
	search  *search.Engine
	tier    *tier.Manager
	repo    *repository.Repository
	metrics *health.Metrics
}

// storagePath strips the sqlite:// scheme the storage.url key carries;
// any other scheme is rejected since the row store only speaks SQLite.
func storagePath(url string) (string, error) {
	if p, ok := strings.CutPrefix(url, "sqlite://"); ok {
		return p, nil
	}
	if !strings.Contains(url, "://") {
		return url, nil
	}
	return "", fmt.Errorf("unsupported storage.url scheme: %s", url)
}

// embeddingDimension returns the fixed vector width a provider name
// produces, matching the dimensions buildEmbeddingProvider wires up.
func embeddingDimension(providerName string) int {
	switch providerName {
	case "remote-openai-like":
		return 1536
	case "local-ollama", "deterministic-mock":
		return 768
	default:
		return 768
	}
}

func buildEmbeddingProvider(name string, cfg config.EmbeddingConfig) (embedding.Provider, error) {
	switch name {
	case "local-ollama":
		return embedding.NewOllamaProvider(embedding.OllamaConfig{
			Model:     "nomic-embed-text",
			Dimension: 768,
			CosineOps: true,
			Timeout:   cfg.Timeout,
		}), nil
	case "remote-openai-like":
		return embedding.NewOpenAIProvider(embedding.OpenAIConfig{
			APIKey:    os.Getenv("MEMVAULT_OPENAI_API_KEY"),
			BaseURL:   os.Getenv("MEMVAULT_OPENAI_BASE_URL"),
			Model:     "text-embedding-3-small",
			Dimension: 1536,
			CosineOps: true,
		}), nil
	case "deterministic-mock":
		return embedding.NewMockProvider(768), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", name)
	}
}

// buildApp loads no config itself (the caller already has one) and
// assembles the Row Store, Embedding Service, Scoring Engine, Search
// Engine, Tier Manager, and Repository behind it, in that dependency
// order.
func buildApp(cfg *config.Config) (*app, error) {
	path, err := storagePath(cfg.Storage.URL)
	if err != nil {
		return nil, err
	}

	storeCfg := store.DefaultConfig(path)
	storeCfg.PoolWaitTimeout = cfg.Storage.Pool.WaitTimeout
	storeCfg.StatementTimeout = cfg.Storage.Pool.StatementTimeout
	storeCfg.IdleTxTimeout = cfg.Storage.Pool.IdleTxTimeout

	s, err := store.Open(storeCfg)
	if err != nil {
		return nil, fmt.Errorf("opening row store: %w", err)
	}

	if cfg.Storage.VectorIndex.Enabled {
		vi := cfg.Storage.VectorIndex
		s.SetVectorIndex(store.NewVectorIndex(store.VectorIndexConfig{
			BaseURL:        vi.BaseURL,
			CollectionName: vi.CollectionName,
			Dimension:      embeddingDimension(cfg.Embedding.Primary),
			M:              vi.M,
			EfConstruct:    vi.EfConstruct,
			Timeout:        vi.Timeout,
		}))
	}

	providers := make([]embedding.Provider, 0, 1+len(cfg.Embedding.Fallback))
	primary, err := buildEmbeddingProvider(cfg.Embedding.Primary, cfg.Embedding)
	if err != nil {
		s.Close()
		return nil, err
	}
	providers = append(providers, primary)
	for _, name := range cfg.Embedding.Fallback {
		p, err := buildEmbeddingProvider(name, cfg.Embedding)
		if err != nil {
			s.Close()
			return nil, err
		}
		providers = append(providers, p)
	}

	embedSvc := embedding.NewService(embedding.Config{
		Providers:             providers,
		MaxConcurrentRequests: int64(cfg.Embedding.MaxConcurrent),
		AcquireTimeout:        cfg.Embedding.Timeout,
		RetryAttempts:         cfg.Embedding.RetryAttempts,
		RetryBackoff:          cfg.Embedding.RetryBackoff,
	})

	scorer, err := scoring.NewEngine(scoring.Config{
		Weights: scoring.Weights{
			Recency:    cfg.Scoring.Weights.Recency,
			Importance: cfg.Scoring.Weights.Importance,
			Relevance:  cfg.Scoring.Weights.Relevance,
		},
		Lambdas: scoring.Lambdas{
			Working: cfg.Scoring.Decay.Working,
			Warm:    cfg.Scoring.Decay.Warm,
			Cold:    cfg.Scoring.Decay.Cold,
		},
		FlushInterval: cfg.Scoring.FlushInterval,
		Apply: func(ctx context.Context, id string, d scoring.FlushDelta) error {
			_, err := s.UpdatePartial(ctx, id, store.Deltas{
				RecencyScore:      d.RecencyScore,
				RelevanceScore:    d.RelevanceScore,
				CombinedScore:     d.CombinedScore,
				ExpectedUpdatedAt: d.ExpectedUpdatedAt,
			})
			return err
		},
	})
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("building scoring engine: %w", err)
	}

	searchEngine := search.NewEngine(s, embedSvc, scorer)

	tierMgr := tier.NewManager(s, tier.Config{
		Working:           tier.TierCapacity{Capacity: cfg.Tier.Working.Capacity},
		Warm:              tier.TierCapacity{Capacity: cfg.Tier.Warm.Capacity},
		MigrationInterval: cfg.Tier.MigrationInterval,
		MinDwell:          cfg.Tier.MinDwell,
		PromotionMargin:   cfg.Tier.PromotionMargin,
	})

	repo := repository.New(s, embedSvc, searchEngine, scorer, tierMgr, repository.Config{
		CompactionGrace: cfg.Retention.CompactionGrace,
	})

	metrics := health.NewMetrics()

	return &app{
		cfg:     cfg,
		store:   s,
		embed:   embedSvc,
		scorer:  scorer,
		search:  searchEngine,
		tier:    tierMgr,
		repo:    repo,
		metrics: metrics,
	}, nil
}

// start brings up every background scheduler: the scoring engine's
// flush cron, the tier manager's migration cron, and the repository's
// compaction sweep cron.
func (a *app) start(ctx context.Context) error {
	if err := a.scorer.Start(ctx, a.cfg.Scoring.FlushInterval); err != nil {
		return fmt.Errorf("starting scoring engine: %w", err)
	}
	if err := a.tier.Start(ctx); err != nil {
		return fmt.Errorf("starting tier manager: %w", err)
	}
	if err := a.repo.Start(ctx); err != nil {
		return fmt.Errorf("starting repository: %w", err)
	}
	return nil
}

func (a *app) close() {
	a.repo.Stop()
	a.tier.Stop()
	a.scorer.Stop()
	a.store.Close()
}
