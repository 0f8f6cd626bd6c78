// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port     string
	Currency string
	DBPath   string

	Source  SourceConfig
	Redis   RedisConfig
	Catalog CatalogConfig
	Market  MarketConfig

	ClientRatePerSec int
}

// SourceConfig describes the market data provider.
type SourceConfig struct {
	URL        string
	APIKey     string
	KeyInQuery bool
	Timeout    time.Duration
	RatePerMin int // 0 disables the outgoing throttle
}

// RedisConfig selects the shared cache. Both empty means in-process only.
type RedisConfig struct {
	Addr string
	URL  string
}

// CatalogConfig controls the coin catalog refresh.
type CatalogConfig struct {
	Size    int
	Refresh time.Duration
}

// MarketConfig controls aggregation and reply sizes.
type MarketConfig struct {
	CacheTTL     time.Duration
	RetryBackoff time.Duration
	PoolSize     int
	ResultCount  int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:     getEnv("PORT", "8080"),
		Currency: strings.ToLower(getEnv("VS_CURRENCY", "usd")),
		DBPath:   getEnv("DB_PATH", "./data/cryptochat.db"),
		Source: SourceConfig{
			URL:        getEnv("SOURCE_URL", "https://api.coingecko.com/api/v3"),
			APIKey:     getEnv("SOURCE_API_KEY", ""),
			KeyInQuery: getEnvBool("SOURCE_KEY_IN_QUERY", false),
			Timeout:    getEnvDuration("SOURCE_TIMEOUT", 10*time.Second),
			RatePerMin: getEnvInt("PROVIDER_RATE_PER_MIN", 30),
		},
		Redis: RedisConfig{
			Addr: getEnv("REDIS_ADDR", ""),
			URL:  getEnv("REDIS_URL", ""),
		},
		Catalog: CatalogConfig{
			Size:    getEnvInt("CATALOG_SIZE", 250),
			Refresh: getEnvDuration("CATALOG_REFRESH", 24*time.Hour),
		},
		Market: MarketConfig{
			CacheTTL:     getEnvDuration("CACHE_TTL", 2*time.Minute),
			RetryBackoff: getEnvDuration("RETRY_BACKOFF", 500*time.Millisecond),
			PoolSize:     getEnvInt("POOL_SIZE", 100),
			ResultCount:  getEnvInt("RESULT_COUNT", 5),
		},
		ClientRatePerSec: getEnvInt("CLIENT_RATE_PER_SEC", 5),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.Currency == "" {
		return fmt.Errorf("VS_CURRENCY cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.Source.URL == "" {
		return fmt.Errorf("SOURCE_URL cannot be empty")
	}
	if c.Source.Timeout <= 0 {
		return fmt.Errorf("SOURCE_TIMEOUT must be > 0")
	}
	if c.Source.RatePerMin < 0 {
		return fmt.Errorf("PROVIDER_RATE_PER_MIN must be >= 0")
	}
	if c.Catalog.Size <= 0 {
		return fmt.Errorf("CATALOG_SIZE must be > 0")
	}
	if c.Catalog.Refresh < time.Minute {
		return fmt.Errorf("CATALOG_REFRESH must be at least 1m")
	}
	if c.Market.CacheTTL <= 0 {
		return fmt.Errorf("CACHE_TTL must be > 0")
	}
	if c.Market.RetryBackoff < 0 {
		return fmt.Errorf("RETRY_BACKOFF must be >= 0")
	}
	if c.Market.PoolSize <= 0 {
		return fmt.Errorf("POOL_SIZE must be > 0")
	}
	if c.Market.ResultCount <= 0 || c.Market.ResultCount > c.Market.PoolSize {
		return fmt.Errorf("RESULT_COUNT must be between 1 and POOL_SIZE")
	}
	if c.ClientRatePerSec < 0 {
		return fmt.Errorf("CLIENT_RATE_PER_SEC must be >= 0")
	}
	return nil
}

// UsesRedis reports whether a shared redis is configured.
func (c *Config) UsesRedis() bool {
	return c.Redis.Addr != "" || c.Redis.URL != ""
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

// getEnvDuration accepts Go durations ("90s") or a bare number of seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if n, err := strconv.Atoi(value); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}
