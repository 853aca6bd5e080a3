package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/multierr"
)

// Config is the complete, typed configuration surface.
type Config struct {
	Tier      TierConfig      `mapstructure:"tier"`
	Scoring   ScoringConfig   `mapstructure:"scoring"`
	Search    SearchConfig    `mapstructure:"search"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Retention RetentionConfig `mapstructure:"retention"`
	Shutdown  ShutdownConfig  `mapstructure:"shutdown"`
	Server    ServerConfig    `mapstructure:"server"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// TierConfig governs the Tier Manager's capacities and migration cadence.
type TierConfig struct {
	Working           TierCapacityConfig `mapstructure:"working"`
	Warm              TierCapacityConfig `mapstructure:"warm"`
	MigrationInterval time.Duration      `mapstructure:"migration_interval"`
	MinDwell          time.Duration      `mapstructure:"min_dwell"`
	PromotionMargin   float64            `mapstructure:"promotion_margin"`
}

type TierCapacityConfig struct {
	Capacity int `mapstructure:"capacity"`
}

// ScoringConfig governs the Scoring Engine's weights, decay rates,
// and flush cadence.
type ScoringConfig struct {
	Weights       ScoringWeightsConfig `mapstructure:"weights"`
	FlushInterval time.Duration        `mapstructure:"flush_interval"`
	Decay         ScoringDecayConfig   `mapstructure:"decay"`
}

type ScoringWeightsConfig struct {
	Recency    float64 `mapstructure:"recency"`
	Importance float64 `mapstructure:"importance"`
	Relevance  float64 `mapstructure:"relevance"`
}

// ScoringDecayConfig holds the per-hour recency decay constant for
// each tier (recency's λ may vary by tier).
type ScoringDecayConfig struct {
	Working float64 `mapstructure:"working"`
	Warm    float64 `mapstructure:"warm"`
	Cold    float64 `mapstructure:"cold"`
}

// SearchConfig governs the Search Engine's default thresholds.
type SearchConfig struct {
	DefaultThreshold float64 `mapstructure:"default_threshold"`
	HybridBeta       float64 `mapstructure:"hybrid_beta"`
	MaxLimit         int     `mapstructure:"max_limit"`
}

// EmbeddingConfig governs the Embedding Service's provider chain.
type EmbeddingConfig struct {
	Primary       string        `mapstructure:"primary"`
	Fallback      []string      `mapstructure:"fallback"`
	Timeout       time.Duration `mapstructure:"timeout"`
	MaxConcurrent int           `mapstructure:"max_concurrent"`
	// RetryAttempts bounds how many times a single provider is retried
	// (with RetryBackoff between attempts) before the chain falls
	// through to the next provider.
	RetryAttempts int           `mapstructure:"retry_attempts"`
	RetryBackoff  time.Duration `mapstructure:"retry_backoff"`
}

// StorageConfig governs the Row Store Adapter's backend and pool.
type StorageConfig struct {
	URL         string            `mapstructure:"url"`
	Pool        StoragePoolConfig `mapstructure:"pool"`
	VectorIndex VectorIndexConfig `mapstructure:"vector_index"`
}

type StoragePoolConfig struct {
	Min              int           `mapstructure:"min"`
	Max              int           `mapstructure:"max"`
	WaitTimeout      time.Duration `mapstructure:"wait_timeout"`
	StatementTimeout time.Duration `mapstructure:"statement_timeout"`
	IdleTxTimeout    time.Duration `mapstructure:"idle_tx_timeout"`
}

// VectorIndexConfig governs the adapter's external ANN vector-index
// service (the HNSW-family graph index fronted over HTTP). Disabled by
// default: vector_search degrades to StorageUnavailable until a URL is
// configured.
type VectorIndexConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	BaseURL        string        `mapstructure:"base_url"`
	CollectionName string        `mapstructure:"collection_name"`
	M              int           `mapstructure:"m"`
	EfConstruct    int           `mapstructure:"ef_construct"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

// RetentionConfig governs the compaction sweep. No precedent in the
// request interface's configuration table names this knob, so it is
// added here with a conservative default rather than left unconfigurable.
type RetentionConfig struct {
	CompactionGrace time.Duration `mapstructure:"compaction_grace"`
}

// ShutdownConfig bounds how long a graceful shutdown waits for
// in-flight operations and background tasks to drain.
type ShutdownConfig struct {
	Deadline time.Duration `mapstructure:"deadline"`
}

// ServerConfig governs the optional HTTP transport.
type ServerConfig struct {
	Host         string   `mapstructure:"host"`
	Port         int      `mapstructure:"port"`
	APIKey       string   `mapstructure:"api_key"`
	AllowOrigins []string `mapstructure:"allow_origins"`
}

// RateLimitConfig governs the token-bucket middleware in front of
// the HTTP transport.
type RateLimitConfig struct {
	Enabled           bool                       `mapstructure:"enabled"`
	RequestsPerSecond float64                    `mapstructure:"requests_per_second"`
	BurstSize         int                        `mapstructure:"burst_size"`
	Operations        []RateLimitOperationConfig `mapstructure:"operations"`
}

type RateLimitOperationConfig struct {
	Name              string  `mapstructure:"name"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	BurstSize         int     `mapstructure:"burst_size"`
}

// LoggingConfig governs the slog wrapper's level, format, and sink.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // console, json
	Output string `mapstructure:"output"` // stderr, stdout, or a file path
}

// DefaultConfig returns configuration with the defaults recorded
// throughout the request interface and ambient stack sections: 1000
// Working / 10000 Warm capacity, a 5-minute migration cycle, 15-minute
// min dwell, 0.1 promotion margin, the canonical 1/3-1/3-1/3 scoring
// weight split, a 60-second score flush, 0.7 hybrid blend, 30-day
// compaction grace.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	dbPath := filepath.Join(homeDir, ".memvault", "memvault.db")

	return &Config{
		Tier: TierConfig{
			Working:           TierCapacityConfig{Capacity: 1000},
			Warm:              TierCapacityConfig{Capacity: 10000},
			MigrationInterval: 5 * time.Minute,
			MinDwell:          15 * time.Minute,
			PromotionMargin:   0.1,
		},
		Scoring: ScoringConfig{
			Weights:       ScoringWeightsConfig{Recency: 0.333, Importance: 0.334, Relevance: 0.333},
			FlushInterval: 60 * time.Second,
			Decay:         ScoringDecayConfig{Working: 0.08, Warm: 0.02, Cold: 0.005},
		},
		Search: SearchConfig{
			DefaultThreshold: 0.7,
			HybridBeta:       0.7,
			MaxLimit:         1000,
		},
		Embedding: EmbeddingConfig{
			Primary:       "local-ollama",
			Fallback:      []string{"deterministic-mock"},
			Timeout:       10 * time.Second,
			MaxConcurrent: 8,
			RetryAttempts: 3,
			RetryBackoff:  200 * time.Millisecond,
		},
		Storage: StorageConfig{
			URL: "sqlite://" + dbPath,
			Pool: StoragePoolConfig{
				Min:              1,
				Max:              8,
				WaitTimeout:      5 * time.Second,
				StatementTimeout: 30 * time.Second,
				IdleTxTimeout:    60 * time.Second,
			},
			VectorIndex: VectorIndexConfig{
				Enabled:        false,
				CollectionName: "memoryvault-memories",
				M:              16,
				EfConstruct:    100,
				Timeout:        30 * time.Second,
			},
		},
		Retention: RetentionConfig{CompactionGrace: 720 * time.Hour},
		Shutdown:  ShutdownConfig{Deadline: 30 * time.Second},
		Server: ServerConfig{
			Host:         "localhost",
			Port:         8420,
			AllowOrigins: []string{"*"},
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerSecond: 100,
			BurstSize:         200,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			Output: "stderr",
		},
	}
}

// Load reads configuration from a YAML file (search paths `.`,
// `~/.memvault`, `/etc/memvault`), environment overrides, and coded
// defaults, then validates the result.
func Load() (*Config, error) {
	return LoadPath("")
}

// LoadPath behaves like Load, but reads exactly the file at path when
// path is non-empty instead of searching the default locations — used
// by the --config flag.
func LoadPath(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		homeDir, _ := os.UserHomeDir()
		v.AddConfigPath(filepath.Join(homeDir, ".memvault"))
		v.AddConfigPath("/etc/memvault")
	}

	v.SetEnvPrefix("memvault")
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := DefaultConfig()

	v.SetDefault("tier.working.capacity", d.Tier.Working.Capacity)
	v.SetDefault("tier.warm.capacity", d.Tier.Warm.Capacity)
	v.SetDefault("tier.migration_interval", d.Tier.MigrationInterval.String())
	v.SetDefault("tier.min_dwell", d.Tier.MinDwell.String())
	v.SetDefault("tier.promotion_margin", d.Tier.PromotionMargin)

	v.SetDefault("scoring.weights.recency", d.Scoring.Weights.Recency)
	v.SetDefault("scoring.weights.importance", d.Scoring.Weights.Importance)
	v.SetDefault("scoring.weights.relevance", d.Scoring.Weights.Relevance)
	v.SetDefault("scoring.flush_interval", d.Scoring.FlushInterval.String())
	v.SetDefault("scoring.decay.working", d.Scoring.Decay.Working)
	v.SetDefault("scoring.decay.warm", d.Scoring.Decay.Warm)
	v.SetDefault("scoring.decay.cold", d.Scoring.Decay.Cold)

	v.SetDefault("search.default_threshold", d.Search.DefaultThreshold)
	v.SetDefault("search.hybrid_beta", d.Search.HybridBeta)
	v.SetDefault("search.max_limit", d.Search.MaxLimit)

	v.SetDefault("embedding.primary", d.Embedding.Primary)
	v.SetDefault("embedding.fallback", d.Embedding.Fallback)
	v.SetDefault("embedding.timeout", d.Embedding.Timeout.String())
	v.SetDefault("embedding.max_concurrent", d.Embedding.MaxConcurrent)
	v.SetDefault("embedding.retry_attempts", d.Embedding.RetryAttempts)
	v.SetDefault("embedding.retry_backoff", d.Embedding.RetryBackoff.String())

	v.SetDefault("storage.url", d.Storage.URL)
	v.SetDefault("storage.pool.min", d.Storage.Pool.Min)
	v.SetDefault("storage.pool.max", d.Storage.Pool.Max)
	v.SetDefault("storage.pool.wait_timeout", d.Storage.Pool.WaitTimeout.String())
	v.SetDefault("storage.pool.statement_timeout", d.Storage.Pool.StatementTimeout.String())
	v.SetDefault("storage.pool.idle_tx_timeout", d.Storage.Pool.IdleTxTimeout.String())
	v.SetDefault("storage.vector_index.enabled", d.Storage.VectorIndex.Enabled)
	v.SetDefault("storage.vector_index.collection_name", d.Storage.VectorIndex.CollectionName)
	v.SetDefault("storage.vector_index.m", d.Storage.VectorIndex.M)
	v.SetDefault("storage.vector_index.ef_construct", d.Storage.VectorIndex.EfConstruct)
	v.SetDefault("storage.vector_index.timeout", d.Storage.VectorIndex.Timeout.String())

	v.SetDefault("retention.compaction_grace", d.Retention.CompactionGrace.String())
	v.SetDefault("shutdown.deadline", d.Shutdown.Deadline.String())

	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.allow_origins", d.Server.AllowOrigins)

	v.SetDefault("rate_limit.enabled", d.RateLimit.Enabled)
	v.SetDefault("rate_limit.requests_per_second", d.RateLimit.RequestsPerSecond)
	v.SetDefault("rate_limit.burst_size", d.RateLimit.BurstSize)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.output", d.Logging.Output)
}

// Validate checks every bound, enum, and cross-field constraint and
// returns a single error aggregating every violation found, not just
// the first.
func (c *Config) Validate() error {
	var errs error

	if c.Tier.Working.Capacity < 0 {
		errs = multierr.Append(errs, fmt.Errorf("tier.working.capacity must be >= 0"))
	}
	if c.Tier.Warm.Capacity < 0 {
		errs = multierr.Append(errs, fmt.Errorf("tier.warm.capacity must be >= 0"))
	}
	if c.Tier.PromotionMargin < 0 || c.Tier.PromotionMargin > 1 {
		errs = multierr.Append(errs, fmt.Errorf("tier.promotion_margin must be in [0,1]"))
	}

	const weightEpsilon = 1e-6
	weightSum := c.Scoring.Weights.Recency + c.Scoring.Weights.Importance + c.Scoring.Weights.Relevance
	if weightSum < 1-weightEpsilon || weightSum > 1+weightEpsilon {
		errs = multierr.Append(errs, fmt.Errorf("scoring.weights.{recency,importance,relevance} must sum to 1, got %f", weightSum))
	}
	if c.Scoring.Decay.Working <= 0 || c.Scoring.Decay.Warm <= 0 || c.Scoring.Decay.Cold <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("scoring.decay.{working,warm,cold} must each be > 0"))
	}

	if c.Search.DefaultThreshold < 0 || c.Search.DefaultThreshold > 1 {
		errs = multierr.Append(errs, fmt.Errorf("search.default_threshold must be in [0,1]"))
	}
	if c.Search.HybridBeta < 0 || c.Search.HybridBeta > 1 {
		errs = multierr.Append(errs, fmt.Errorf("search.hybrid_beta must be in [0,1]"))
	}
	if c.Search.MaxLimit <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("search.max_limit must be > 0"))
	}

	if c.Embedding.Primary == "" {
		errs = multierr.Append(errs, fmt.Errorf("embedding.primary is required"))
	}
	if c.Embedding.MaxConcurrent <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("embedding.max_concurrent must be > 0"))
	}
	if c.Embedding.RetryAttempts <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("embedding.retry_attempts must be > 0"))
	}

	if c.Storage.URL == "" {
		errs = multierr.Append(errs, fmt.Errorf("storage.url is required"))
	}
	if c.Storage.Pool.Min < 0 || c.Storage.Pool.Max < c.Storage.Pool.Min {
		errs = multierr.Append(errs, fmt.Errorf("storage.pool.max must be >= storage.pool.min >= 0"))
	}
	if c.Storage.VectorIndex.Enabled && c.Storage.VectorIndex.BaseURL == "" {
		errs = multierr.Append(errs, fmt.Errorf("storage.vector_index.base_url is required when storage.vector_index.enabled is true"))
	}

	if c.Server.Port != 0 && (c.Server.Port < 1 || c.Server.Port > 65535) {
		errs = multierr.Append(errs, fmt.Errorf("server.port must be between 1 and 65535"))
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		errs = multierr.Append(errs, fmt.Errorf("logging.level must be one of: debug, info, warn, error"))
	}
	validFormats := map[string]bool{"console": true, "json": true}
	if !validFormats[c.Logging.Format] {
		errs = multierr.Append(errs, fmt.Errorf("logging.format must be one of: console, json"))
	}

	return errs
}

// ConfigDir returns the user-scoped configuration directory.
func ConfigDir() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".memvault")
}

// EnsureConfigDir creates the storage directory implied by the
// default storage.url if it doesn't exist.
func EnsureConfigDir() error {
	if err := os.MkdirAll(ConfigDir(), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	return nil
}
