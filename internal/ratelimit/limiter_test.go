package ratelimit

import (
	"testing"
)

func TestNewLimiter(t *testing.T) {
	cfg := &Config{
		Enabled: true,
		Global: LimitConfig{
			RequestsPerSecond: 100,
			BurstSize:         200,
		},
		Operations: []OperationLimit{
			{Name: "search_memory", RequestsPerSecond: 20, BurstSize: 40},
		},
	}

	limiter := NewLimiter(cfg)

	if !limiter.IsEnabled() {
		t.Error("expected limiter to be enabled")
	}
	if limiter.GlobalBucket() == nil {
		t.Error("expected global bucket to exist")
	}
	if limiter.OperationBucket("search_memory") == nil {
		t.Error("expected search_memory bucket to exist")
	}
	if limiter.OperationBucket("unknown") != nil {
		t.Error("expected unknown bucket to be nil")
	}
}

func TestAllowGlobalLimit(t *testing.T) {
	cfg := &Config{
		Enabled: true,
		Global:  LimitConfig{RequestsPerSecond: 1, BurstSize: 2},
	}
	limiter := NewLimiter(cfg)

	if r := limiter.Allow("get_memory"); !r.Allowed {
		t.Error("expected first request to be allowed")
	}
	if r := limiter.Allow("get_memory"); !r.Allowed {
		t.Error("expected second request to be allowed")
	}
	r := limiter.Allow("get_memory")
	if r.Allowed {
		t.Error("expected third request to be rejected")
	}
	if r.LimitType != "global" {
		t.Errorf("expected limit type 'global', got '%s'", r.LimitType)
	}
}

func TestAllowOperationLimit(t *testing.T) {
	cfg := &Config{
		Enabled: true,
		Global:  LimitConfig{RequestsPerSecond: 100, BurstSize: 200},
		Operations: []OperationLimit{
			{Name: "delete_memory", RequestsPerSecond: 1, BurstSize: 1},
		},
	}
	limiter := NewLimiter(cfg)

	if r := limiter.Allow("delete_memory"); !r.Allowed {
		t.Error("expected first delete to be allowed")
	}
	r := limiter.Allow("delete_memory")
	if r.Allowed {
		t.Error("expected second delete to be rejected")
	}
	if r.LimitType != "delete_memory" {
		t.Errorf("expected limit type 'delete_memory', got '%s'", r.LimitType)
	}

	if r := limiter.Allow("get_memory"); !r.Allowed {
		t.Error("expected unrelated operation to still pass the global bucket")
	}
}

func TestAllowOperationRejectionRefundsGlobalToken(t *testing.T) {
	cfg := &Config{
		Enabled: true,
		Global:  LimitConfig{RequestsPerSecond: 0, BurstSize: 1},
		Operations: []OperationLimit{
			{Name: "delete_memory", RequestsPerSecond: 0, BurstSize: 0},
		},
	}
	limiter := NewLimiter(cfg)

	before := limiter.GlobalBucket().Tokens()
	limiter.Allow("delete_memory") // consumes 1 global, then rejected by the 0-capacity op bucket
	after := limiter.GlobalBucket().Tokens()

	if after < before-0.001 {
		t.Errorf("expected global token refunded on operation-level rejection: before=%f after=%f", before, after)
	}
}

func TestDisabledLimiter(t *testing.T) {
	cfg := &Config{Enabled: false, Global: LimitConfig{RequestsPerSecond: 1, BurstSize: 1}}
	limiter := NewLimiter(cfg)

	for i := 0; i < 100; i++ {
		r := limiter.Allow("get_memory")
		if !r.Allowed {
			t.Errorf("expected request %d to be allowed when disabled", i)
		}
		if r.LimitType != "disabled" {
			t.Errorf("expected limit type 'disabled', got '%s'", r.LimitType)
		}
	}
}

func TestSetEnabled(t *testing.T) {
	cfg := &Config{Enabled: true, Global: LimitConfig{RequestsPerSecond: 1, BurstSize: 1}}
	limiter := NewLimiter(cfg)

	limiter.Allow("get_memory")
	if r := limiter.Allow("get_memory"); r.Allowed {
		t.Error("expected request to be rejected")
	}

	limiter.SetEnabled(false)
	if r := limiter.Allow("get_memory"); !r.Allowed {
		t.Error("expected request to be allowed once disabled")
	}
}

func TestGetStats(t *testing.T) {
	cfg := &Config{
		Enabled: true,
		Global:  LimitConfig{RequestsPerSecond: 100, BurstSize: 200},
		Operations: []OperationLimit{
			{Name: "search_memory", RequestsPerSecond: 20, BurstSize: 40},
		},
	}
	limiter := NewLimiter(cfg)
	stats := limiter.GetStats()

	if !stats.Enabled {
		t.Error("expected stats.Enabled to be true")
	}
	if stats.GlobalTokens < 199 {
		t.Errorf("expected ~200 global tokens, got %f", stats.GlobalTokens)
	}
	if _, ok := stats.OperationTokens["search_memory"]; !ok {
		t.Error("expected search_memory tokens in stats")
	}
}

func TestLimiterReset(t *testing.T) {
	cfg := &Config{Enabled: true, Global: LimitConfig{RequestsPerSecond: 1, BurstSize: 2}}
	limiter := NewLimiter(cfg)

	limiter.Allow("get_memory")
	limiter.Allow("get_memory")
	limiter.Reset()

	if r := limiter.Allow("get_memory"); !r.Allowed {
		t.Error("expected request to be allowed after reset")
	}
}
