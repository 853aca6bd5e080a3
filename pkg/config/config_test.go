package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Tier.Working.Capacity != 1000 {
		t.Errorf("expected Working capacity=1000, got %d", cfg.Tier.Working.Capacity)
	}
	if cfg.Tier.Warm.Capacity != 10000 {
		t.Errorf("expected Warm capacity=10000, got %d", cfg.Tier.Warm.Capacity)
	}
	if cfg.Tier.MigrationInterval != 5*time.Minute {
		t.Errorf("expected migration_interval=5m, got %v", cfg.Tier.MigrationInterval)
	}
	if cfg.Tier.MinDwell != 15*time.Minute {
		t.Errorf("expected min_dwell=15m, got %v", cfg.Tier.MinDwell)
	}

	weightSum := cfg.Scoring.Weights.Recency + cfg.Scoring.Weights.Importance + cfg.Scoring.Weights.Relevance
	if weightSum < 0.999 || weightSum > 1.001 {
		t.Errorf("expected scoring weights to sum to 1, got %f", weightSum)
	}

	if cfg.Search.HybridBeta != 0.7 {
		t.Errorf("expected hybrid_beta=0.7, got %f", cfg.Search.HybridBeta)
	}
	if cfg.Search.MaxLimit != 1000 {
		t.Errorf("expected max_limit=1000, got %d", cfg.Search.MaxLimit)
	}

	if cfg.Embedding.Primary == "" {
		t.Error("expected a default embedding.primary provider")
	}
	if cfg.Embedding.MaxConcurrent <= 0 {
		t.Error("expected embedding.max_concurrent > 0")
	}
	if cfg.Embedding.RetryAttempts <= 0 {
		t.Error("expected embedding.retry_attempts > 0")
	}

	if cfg.Retention.CompactionGrace != 720*time.Hour {
		t.Errorf("expected compaction_grace=720h, got %v", cfg.Retention.CompactionGrace)
	}

	if cfg.Logging.Level != "info" || cfg.Logging.Format != "console" {
		t.Errorf("unexpected logging defaults: %+v", cfg.Logging)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate cleanly, got: %v", err)
	}
}

func TestValidateAggregatesEveryViolation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Tier.Working.Capacity = -1
	cfg.Scoring.Weights.Recency = 0.9 // breaks the sum-to-1 constraint
	cfg.Logging.Level = "verbose"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected an aggregated validation error")
	}
	msg := err.Error()
	for _, want := range []string{"tier.working.capacity", "must sum to 1", "logging.level"} {
		if !strings.Contains(msg, want) {
			t.Errorf("expected aggregated error to mention %q, got: %s", want, msg)
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		modify    func(*Config)
		expectErr bool
	}{
		{"valid config", func(c *Config) {}, false},
		{"negative working capacity", func(c *Config) { c.Tier.Working.Capacity = -1 }, true},
		{"promotion margin out of range", func(c *Config) { c.Tier.PromotionMargin = 1.5 }, true},
		{"weights do not sum to one", func(c *Config) { c.Scoring.Weights.Recency = 0.9 }, true},
		{"zero decay", func(c *Config) { c.Scoring.Decay.Working = 0 }, true},
		{"hybrid beta out of range", func(c *Config) { c.Search.HybridBeta = 1.5 }, true},
		{"max limit zero", func(c *Config) { c.Search.MaxLimit = 0 }, true},
		{"missing embedding primary", func(c *Config) { c.Embedding.Primary = "" }, true},
		{"zero embedding retry attempts", func(c *Config) { c.Embedding.RetryAttempts = 0 }, true},
		{"missing storage url", func(c *Config) { c.Storage.URL = "" }, true},
		{"pool max below min", func(c *Config) { c.Storage.Pool.Min = 5; c.Storage.Pool.Max = 1 }, true},
		{"invalid port", func(c *Config) { c.Server.Port = 99999 }, true},
		{"invalid logging level", func(c *Config) { c.Logging.Level = "invalid" }, true},
		{"invalid logging format", func(c *Config) { c.Logging.Format = "invalid" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)

			err := cfg.Validate()
			if tt.expectErr && err == nil {
				t.Error("expected error, got nil")
			}
			if !tt.expectErr && err != nil {
				t.Errorf("expected no error, got: %v", err)
			}
		})
	}
}

func TestLoadConfigNoFile(t *testing.T) {
	tmpDir := t.TempDir()
	oldWd, _ := os.Getwd()
	defer os.Chdir(oldWd) //nolint:errcheck
	_ = os.Chdir(tmpDir)

	oldHome := os.Getenv("HOME")
	os.Setenv("HOME", tmpDir)
	defer os.Setenv("HOME", oldHome)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error with missing config, got: %v", err)
	}
	if cfg == nil {
		t.Fatal("expected config, got nil")
	}
	if cfg.Tier.Working.Capacity != 1000 {
		t.Errorf("expected default working capacity 1000, got %d", cfg.Tier.Working.Capacity)
	}
}

func TestLoadConfigWithFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
tier:
  working:
    capacity: 500
  migration_interval: 1m
search:
  hybrid_beta: 0.5
logging:
  level: debug
  format: json
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	oldWd, _ := os.Getwd()
	defer os.Chdir(oldWd) //nolint:errcheck
	_ = os.Chdir(tmpDir)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Tier.Working.Capacity != 500 {
		t.Errorf("expected working capacity=500, got %d", cfg.Tier.Working.Capacity)
	}
	if cfg.Tier.MigrationInterval != time.Minute {
		t.Errorf("expected migration_interval=1m, got %v", cfg.Tier.MigrationInterval)
	}
	if cfg.Search.HybridBeta != 0.5 {
		t.Errorf("expected hybrid_beta=0.5, got %f", cfg.Search.HybridBeta)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected level=debug, got %s", cfg.Logging.Level)
	}
}

func TestEnsureConfigDir(t *testing.T) {
	tmpDir := t.TempDir()
	oldHome := os.Getenv("HOME")
	os.Setenv("HOME", tmpDir)
	defer os.Setenv("HOME", oldHome)

	if err := EnsureConfigDir(); err != nil {
		t.Fatalf("EnsureConfigDir failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(tmpDir, ".memvault")); os.IsNotExist(err) {
		t.Error("config directory was not created")
	}
}

func TestConfigDir(t *testing.T) {
	path := ConfigDir()
	if path == "" {
		t.Error("ConfigDir returned empty string")
	}
	homeDir, _ := os.UserHomeDir()
	expected := filepath.Join(homeDir, ".memvault")
	if path != expected {
		t.Errorf("expected %s, got %s", expected, path)
	}
}

