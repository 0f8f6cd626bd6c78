// Package app wires configuration into a running chat pipeline.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/edibez/cryptochat/internal/ai"
	"github.com/edibez/cryptochat/internal/cache"
	"github.com/edibez/cryptochat/internal/catalog"
	"github.com/edibez/cryptochat/internal/config"
	"github.com/edibez/cryptochat/internal/price"
	"github.com/edibez/cryptochat/internal/query"
	"github.com/edibez/cryptochat/internal/ranking"
	"github.com/edibez/cryptochat/internal/ratelimit"
	"github.com/edibez/cryptochat/internal/store"
)

// App holds every long-lived component
type App struct {
	Config       *config.Config
	Redis        *redis.Client
	Provider     *price.Client
	Catalog      *catalog.Catalog
	Aggregator   *ranking.Aggregator
	Warmer       *ranking.Warmer
	Orchestrator *query.Orchestrator
	Stats        *store.Store
	Limiter      ratelimit.Limiter // per client, nil when disabled

	logger *slog.Logger
}

// New builds the pipeline. Nothing is fetched until Start.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, logger: logger}

	if cfg.UsesRedis() {
		client, err := newRedis(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		a.Redis = client
	}

	providerOpts := []price.Option{
		price.WithTimeout(cfg.Source.Timeout),
		price.WithKeyInQuery(cfg.Source.KeyInQuery),
		price.WithLogger(logger.With("component", "provider")),
	}
	if cfg.Source.RatePerMin > 0 {
		providerOpts = append(providerOpts, price.WithThrottle(a.newLimiter(cfg.Source.RatePerMin, time.Minute)))
	}
	a.Provider = price.NewClient(cfg.Source.URL, cfg.Source.APIKey, providerOpts...)

	catCfg := catalog.Config{
		Size:     cfg.Catalog.Size,
		Currency: cfg.Currency,
		Logger:   logger.With("component", "catalog"),
	}
	var responses cache.Store = cache.NewMemory()
	if a.Redis != nil {
		catCfg.Snapshots = catalog.NewRedisSnapshot(a.Redis)
		responses = cache.NewRedis(a.Redis)
	}
	a.Catalog = catalog.New(a.Provider, catCfg)

	a.Aggregator = ranking.New(a.Provider, a.Catalog, ranking.Config{
		TTL:         cfg.Market.CacheTTL,
		Backoff:     cfg.Market.RetryBackoff,
		CallTimeout: cfg.Source.Timeout,
		Store:       responses,
		Logger:      logger.With("component", "aggregator"),
	})

	a.Warmer = ranking.NewWarmer(a.Aggregator, a.Redis, ranking.WarmerConfig{
		Currency: cfg.Currency,
		Interval: warmInterval(cfg.Market.CacheTTL),
		Logger:   logger.With("component", "warmer"),
	})

	a.Orchestrator = query.New(a.Aggregator, ai.NewResolver(a.Catalog), a.Catalog, query.Config{
		Currency:    cfg.Currency,
		PoolSize:    cfg.Market.PoolSize,
		ResultCount: cfg.Market.ResultCount,
		Tracker:     a.Warmer,
		Logger:      logger.With("component", "orchestrator"),
	})

	if cfg.ClientRatePerSec > 0 {
		a.Limiter = a.newLimiter(cfg.ClientRatePerSec, time.Second)
	}

	if dir := filepath.Dir(cfg.DBPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			a.Close()
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	stats, err := store.NewStore(cfg.DBPath)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Stats = stats

	return a, nil
}

// Start loads the catalog and runs the background refreshers until ctx is
// done. A failed first refresh is logged; the restored snapshot, if any, keeps
// serving.
func (a *App) Start(ctx context.Context) {
	if err := a.Catalog.Restore(ctx); err != nil {
		a.logger.Warn("catalog restore failed", "error", err)
	}
	if err := a.Catalog.Refresh(ctx); err != nil {
		a.logger.Warn("initial catalog refresh failed", "error", err, "coins", a.Catalog.Len())
	}

	go a.refreshLoop(ctx)
	go a.Warmer.Run(ctx)
}

func (a *App) refreshLoop(ctx context.Context) {
	ticker := time.NewTicker(a.Config.Catalog.Refresh)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.Catalog.Refresh(ctx); err != nil {
				a.logger.Warn("scheduled catalog refresh failed", "error", err)
			}
		}
	}
}

// Close releases the database and redis connections
func (a *App) Close() {
	if a.Stats != nil {
		if err := a.Stats.Close(); err != nil {
			a.logger.Error("failed to close stats store", "error", err)
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.logger.Error("failed to close redis", "error", err)
		}
	}
}

// newLimiter shares the budget through redis when available
func (a *App) newLimiter(limit int, window time.Duration) ratelimit.Limiter {
	if a.Redis != nil {
		return ratelimit.NewRedisLimiter(a.Redis, limit, window)
	}
	return ratelimit.NewLocal(limit, window)
}

func newRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	opts := &redis.Options{Addr: cfg.Addr}
	if cfg.URL != "" {
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		opts = parsed
	}

	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", opts.Addr, err)
	}
	return client, nil
}

// warmInterval keeps hot coins refreshed before their cache entries expire
func warmInterval(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return ranking.DefaultWarmInterval
	}
	return ttl * 3 / 4
}
