package ranking

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/edibez/cryptochat/internal/cache"
	"github.com/edibez/cryptochat/internal/price"
)

const (
	HotCoinsKey = "cryptochat:hot_coins" // Hash: coin id -> last request unix ts

	DefaultWarmInterval = 90 * time.Second
	DefaultStaleAfter   = 24 * time.Hour
	maxWarmBatch        = 250
)

// WarmCoins refreshes the per-coin cache entries of ids with one provider
// call per batch and returns how many records were stored
func (a *Aggregator) WarmCoins(ctx context.Context, currency string, ids []string) (int, error) {
	currency = normalizeCurrency(currency)
	stored := 0
	for start := 0; start < len(ids); start += maxWarmBatch {
		end := start + maxWarmBatch
		if end > len(ids) {
			end = len(ids)
		}
		batch := ids[start:end]

		coins, err := a.marketsWithRetry(ctx, price.MarketsQuery{
			Currency: currency,
			IDs:      batch,
			PerPage:  len(batch),
			Page:     1,
		})
		if err != nil {
			return stored, fmt.Errorf("warm coins: %w", err)
		}
		for _, coin := range coins {
			rec, _ := coin.Record()
			payload, err := json.Marshal(rec)
			if err != nil {
				continue
			}
			key := CacheKey("coin", currency, rec.ID)
			entry := cache.Entry{Key: key, Payload: payload, FetchedAt: a.now(), TTL: a.cfg.TTL}
			if err := a.store.Set(ctx, entry); err != nil {
				a.logger.Warn("cache set failed", "key", key, "error", err)
				continue
			}
			stored++
		}
	}
	return stored, nil
}

// WarmerConfig for a Warmer
type WarmerConfig struct {
	Currency   string
	Interval   time.Duration
	StaleAfter time.Duration
	Logger     *slog.Logger
}

// Warmer remembers which coins users ask about and keeps their snapshots
// fresh in the cache. With a redis client the hot set is shared by every
// process; otherwise it lives in memory.
type Warmer struct {
	agg    *Aggregator
	redis  *redis.Client
	cfg    WarmerConfig
	logger *slog.Logger
	now    func() time.Time

	mu  sync.Mutex
	hot map[string]int64
}

// NewWarmer creates a warmer. redisClient may be nil.
func NewWarmer(agg *Aggregator, redisClient *redis.Client, cfg WarmerConfig) *Warmer {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultWarmInterval
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	cfg.Currency = normalizeCurrency(cfg.Currency)
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Warmer{
		agg:    agg,
		redis:  redisClient,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		hot:    make(map[string]int64),
	}
}

// Track records a request for each id
func (w *Warmer) Track(ctx context.Context, ids ...string) {
	if len(ids) == 0 {
		return
	}
	now := w.now().Unix()

	if w.redis == nil {
		w.mu.Lock()
		for _, id := range ids {
			w.hot[id] = now
		}
		w.mu.Unlock()
		return
	}

	values := make([]interface{}, 0, len(ids)*2)
	for _, id := range ids {
		values = append(values, id, now)
	}
	if err := w.redis.HSet(ctx, HotCoinsKey, values...).Err(); err != nil {
		w.logger.Warn("track hot coins failed", "error", err)
	}
}

// Hot returns the tracked ids that are not stale, sorted, and forgets the
// stale ones
func (w *Warmer) Hot(ctx context.Context) ([]string, error) {
	threshold := w.now().Add(-w.cfg.StaleAfter).Unix()

	var (
		ids   []string
		stale []string
	)
	if w.redis == nil {
		w.mu.Lock()
		for id, last := range w.hot {
			if last < threshold {
				delete(w.hot, id)
				continue
			}
			ids = append(ids, id)
		}
		w.mu.Unlock()
	} else {
		all, err := w.redis.HGetAll(ctx, HotCoinsKey).Result()
		if err != nil {
			return nil, fmt.Errorf("load hot coins: %w", err)
		}
		for id, raw := range all {
			last, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || last < threshold {
				stale = append(stale, id)
				continue
			}
			ids = append(ids, id)
		}
		if len(stale) > 0 {
			if err := w.redis.HDel(ctx, HotCoinsKey, stale...).Err(); err != nil {
				w.logger.Warn("drop stale hot coins failed", "error", err)
			}
		}
	}

	sort.Strings(ids)
	return ids, nil
}

// Warm refreshes every hot coin once
func (w *Warmer) Warm(ctx context.Context) error {
	ids, err := w.Hot(ctx)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	n, err := w.agg.WarmCoins(ctx, w.cfg.Currency, ids)
	if err != nil {
		return err
	}
	w.logger.Debug("hot coins warmed", "tracked", len(ids), "stored", n)
	return nil
}

// Run warms on every interval until ctx is done
func (w *Warmer) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.Warm(ctx); err != nil {
				w.logger.Warn("warm hot coins failed", "error", err)
			}
		}
	}
}
