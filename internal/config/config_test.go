package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != "8080" || cfg.Currency != "usd" {
		t.Errorf("unexpected defaults %+v", cfg)
	}
	if cfg.Market.CacheTTL != 2*time.Minute || cfg.Market.PoolSize != 100 || cfg.Market.ResultCount != 5 {
		t.Errorf("unexpected market defaults %+v", cfg.Market)
	}
	if cfg.Source.RatePerMin != 30 || cfg.Source.KeyInQuery {
		t.Errorf("unexpected source defaults %+v", cfg.Source)
	}
	if cfg.UsesRedis() {
		t.Error("redis should be off by default")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("VS_CURRENCY", "EUR")
	t.Setenv("SOURCE_KEY_IN_QUERY", "yes")
	t.Setenv("CACHE_TTL", "45")
	t.Setenv("SOURCE_TIMEOUT", "3s")
	t.Setenv("POOL_SIZE", "250")
	t.Setenv("REDIS_ADDR", "localhost:6379")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Currency != "eur" {
		t.Errorf("currency = %q", cfg.Currency)
	}
	if !cfg.Source.KeyInQuery {
		t.Error("SOURCE_KEY_IN_QUERY not applied")
	}
	if cfg.Market.CacheTTL != 45*time.Second {
		t.Errorf("bare seconds not parsed: %v", cfg.Market.CacheTTL)
	}
	if cfg.Source.Timeout != 3*time.Second {
		t.Errorf("timeout = %v", cfg.Source.Timeout)
	}
	if cfg.Market.PoolSize != 250 || !cfg.UsesRedis() {
		t.Errorf("unexpected %+v", cfg)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		env    map[string]string
		errMsg string
	}{
		{"empty port", map[string]string{"PORT": ""}, "PORT"},
		{"zero pool", map[string]string{"POOL_SIZE": "0"}, "POOL_SIZE"},
		{"count above pool", map[string]string{"POOL_SIZE": "10", "RESULT_COUNT": "20"}, "RESULT_COUNT"},
		{"refresh too fast", map[string]string{"CATALOG_REFRESH": "10s"}, "CATALOG_REFRESH"},
		{"negative throttle", map[string]string{"PROVIDER_RATE_PER_MIN": "-1"}, "PROVIDER_RATE_PER_MIN"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			if err == nil || !strings.Contains(err.Error(), tc.errMsg) {
				t.Fatalf("expected error mentioning %s, got %v", tc.errMsg, err)
			}
		})
	}
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("TEST_BOOL", "maybe")
	t.Setenv("TEST_INT", "abc")
	t.Setenv("TEST_DURATION", "soon")

	if !getEnvBool("TEST_BOOL", true) {
		t.Error("invalid bool should fall back")
	}
	if getEnvInt("TEST_INT", 7) != 7 {
		t.Error("invalid int should fall back")
	}
	if getEnvDuration("TEST_DURATION", time.Minute) != time.Minute {
		t.Error("invalid duration should fall back")
	}
	if getEnv("TEST_UNSET_KEY", "fallback") != "fallback" {
		t.Error("unset key should fall back")
	}
}
