// Package ranking aggregates paginated market snapshots from the provider into
// ranked, cached results.
package ranking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/edibez/cryptochat/internal/cache"
	"github.com/edibez/cryptochat/internal/price"
	"github.com/edibez/cryptochat/pkg/types"
)

const (
	DefaultPerPage  = 100
	DefaultPoolSize = 100
	DefaultTTL      = 2 * time.Minute
	DefaultBackoff  = 500 * time.Millisecond
	DefaultTimeout  = 10 * time.Second
)

// ErrCoinNotFound is returned when the provider has no snapshot for an id
var ErrCoinNotFound = errors.New("coin not found")

// Provider is the subset of the market API the aggregator needs
type Provider interface {
	Markets(ctx context.Context, q price.MarketsQuery) ([]price.MarketCoin, error)
	Trending(ctx context.Context) ([]price.TrendingItem, error)
	Global(ctx context.Context) (*price.GlobalData, error)
}

// Normalizer maps user-facing tokens to canonical coin ids
type Normalizer interface {
	Canonical(token string) string
}

// Config for an Aggregator
type Config struct {
	PerPage     int
	TTL         time.Duration
	Backoff     time.Duration
	CallTimeout time.Duration
	Store       cache.Store
	Logger      *slog.Logger
}

// Aggregator fetches, merges and ranks market data. Concurrent calls sharing a
// cache key collapse into one provider round.
type Aggregator struct {
	provider Provider
	ids      Normalizer
	store    cache.Store
	group    singleflight.Group
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
}

// New creates an aggregator. ids may be nil, in which case ids are only
// lower-cased.
func New(provider Provider, ids Normalizer, cfg Config) *Aggregator {
	if cfg.PerPage <= 0 {
		cfg.PerPage = DefaultPerPage
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Backoff < 0 {
		cfg.Backoff = 0
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultTimeout
	}
	store := cfg.Store
	if store == nil {
		store = cache.NewMemory()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{
		provider: provider,
		ids:      ids,
		store:    store,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// Less orders two records
type Less func(a, b types.CoinRecord) bool

var (
	ByChange24hDesc Less = func(a, b types.CoinRecord) bool { return a.Change24h > b.Change24h }
	ByChange24hAsc  Less = func(a, b types.CoinRecord) bool { return a.Change24h < b.Change24h }
)

// RankedQuery describes one FetchRanked call
type RankedQuery struct {
	Currency string
	PoolSize int
	Limit    int
	Less     Less
}

// CacheKey builds the deterministic key for a logical query
func CacheKey(kind, currency string, params ...string) string {
	parts := append([]string{kind, strings.ToLower(currency)}, params...)
	return strings.Join(parts, "|")
}

// FetchRanked returns up to q.Limit records (q.PoolSize when Limit is unset)
// from the top q.PoolSize market, de-duplicated, without non-positive prices
// or missing 24h changes, sorted by q.Less.
func (a *Aggregator) FetchRanked(ctx context.Context, q RankedQuery) ([]types.CoinRecord, error) {
	if q.PoolSize <= 0 {
		q.PoolSize = DefaultPoolSize
	}
	currency := normalizeCurrency(q.Currency)

	key := CacheKey("markets", currency, "pool="+strconv.Itoa(q.PoolSize), "per_page="+strconv.Itoa(a.cfg.PerPage))
	var pool []types.CoinRecord
	err := a.load(ctx, key, &pool, func(ctx context.Context) (interface{}, error) {
		return a.fetchPool(ctx, currency, q.PoolSize)
	})
	if err != nil {
		return nil, err
	}

	ranked := make([]types.CoinRecord, len(pool))
	copy(ranked, pool)
	if q.Less != nil {
		sort.SliceStable(ranked, func(i, j int) bool { return q.Less(ranked[i], ranked[j]) })
	}

	size := q.PoolSize
	if q.Limit > 0 && q.Limit < size {
		size = q.Limit
	}
	if len(ranked) > size {
		ranked = ranked[:size]
	}
	return ranked, nil
}

func (a *Aggregator) fetchPool(ctx context.Context, currency string, poolSize int) ([]types.CoinRecord, error) {
	pages := (poolSize + a.cfg.PerPage - 1) / a.cfg.PerPage
	results := make([][]price.MarketCoin, pages)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < pages; i++ {
		page := i + 1
		g.Go(func() error {
			coins, err := a.marketsWithRetry(gctx, price.MarketsQuery{
				Currency: currency,
				Order:    "market_cap_desc",
				PerPage:  a.cfg.PerPage,
				Page:     page,
			})
			if err != nil {
				return fmt.Errorf("fetch page %d: %w", page, err)
			}
			results[page-1] = coins
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	merged := make([]types.CoinRecord, 0, poolSize)
	for _, page := range results {
		for _, coin := range page {
			if coin.ID == "" || seen[coin.ID] {
				continue
			}
			seen[coin.ID] = true
			rec, complete := coin.Record()
			if !complete || rec.CurrentPrice <= 0 {
				continue
			}
			merged = append(merged, rec)
		}
	}
	a.logger.Debug("market pool fetched", "currency", currency, "pages", pages, "records", len(merged))
	return merged, nil
}

// FetchCoin returns the snapshot of one coin
func (a *Aggregator) FetchCoin(ctx context.Context, currency, id string) (types.CoinRecord, error) {
	currency = normalizeCurrency(currency)
	id = a.canonical(id)

	var rec types.CoinRecord
	err := a.load(ctx, CacheKey("coin", currency, id), &rec, func(ctx context.Context) (interface{}, error) {
		coins, err := a.marketsWithRetry(ctx, price.MarketsQuery{
			Currency: currency,
			IDs:      []string{id},
			PerPage:  1,
			Page:     1,
		})
		if err != nil {
			return nil, err
		}
		for _, coin := range coins {
			if coin.ID == id {
				r, _ := coin.Record()
				return r, nil
			}
		}
		return nil, fmt.Errorf("%w: %s", ErrCoinNotFound, id)
	})
	if err != nil {
		return types.CoinRecord{}, err
	}
	return rec, nil
}

// FetchTrending returns the provider's trending coins in provider order
func (a *Aggregator) FetchTrending(ctx context.Context, currency string) ([]types.TrendingCoin, error) {
	currency = normalizeCurrency(currency)

	var coins []types.TrendingCoin
	err := a.load(ctx, CacheKey("trending", currency), &coins, func(ctx context.Context) (interface{}, error) {
		var items []price.TrendingItem
		err := a.withRetry(ctx, func(ctx context.Context) error {
			var err error
			items, err = a.provider.Trending(ctx)
			return err
		})
		if err != nil {
			return nil, err
		}
		out := make([]types.TrendingCoin, 0, len(items))
		for _, item := range items {
			out = append(out, item.Coin(currency))
		}
		return out, nil
	})
	return coins, err
}

// FetchGlobal returns market-wide totals in currency
func (a *Aggregator) FetchGlobal(ctx context.Context, currency string) (types.GlobalMarket, error) {
	currency = normalizeCurrency(currency)

	var market types.GlobalMarket
	err := a.load(ctx, CacheKey("global", currency), &market, func(ctx context.Context) (interface{}, error) {
		var data *price.GlobalData
		err := a.withRetry(ctx, func(ctx context.Context) error {
			var err error
			data, err = a.provider.Global(ctx)
			return err
		})
		if err != nil {
			return nil, err
		}
		return data.Market(currency), nil
	})
	return market, err
}

// load serves key from the cache or runs fetch once for all concurrent callers
// and caches its JSON form
func (a *Aggregator) load(ctx context.Context, key string, out interface{}, fetch func(context.Context) (interface{}, error)) error {
	if payload, ok := a.cached(ctx, key); ok {
		return json.Unmarshal(payload, out)
	}

	v, err, shared := a.group.Do(key, func() (interface{}, error) {
		if payload, ok := a.cached(ctx, key); ok {
			return payload, nil
		}
		val, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		payload, err := json.Marshal(val)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", key, err)
		}
		entry := cache.Entry{Key: key, Payload: payload, FetchedAt: a.now(), TTL: a.cfg.TTL}
		if err := a.store.Set(ctx, entry); err != nil {
			a.logger.Warn("cache set failed", "key", key, "error", err)
		}
		return payload, nil
	})
	if err != nil {
		a.logger.Warn("provider fetch failed", "key", key, "shared", shared, "error", err)
		return err
	}
	return json.Unmarshal(v.([]byte), out)
}

func (a *Aggregator) cached(ctx context.Context, key string) ([]byte, bool) {
	e, ok, err := a.store.Get(ctx, key)
	if err != nil {
		a.logger.Warn("cache get failed", "key", key, "error", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	return e.Payload, true
}

func (a *Aggregator) marketsWithRetry(ctx context.Context, q price.MarketsQuery) ([]price.MarketCoin, error) {
	var coins []price.MarketCoin
	err := a.withRetry(ctx, func(ctx context.Context) error {
		var err error
		coins, err = a.provider.Markets(ctx, q)
		return err
	})
	return coins, err
}

// withRetry runs call with a bounded timeout and retries it once after the
// configured backoff
func (a *Aggregator) withRetry(ctx context.Context, call func(context.Context) error) error {
	attempt := func() error {
		cctx, cancel := context.WithTimeout(ctx, a.cfg.CallTimeout)
		defer cancel()
		return call(cctx)
	}

	err := attempt()
	if err == nil || errors.Is(err, ErrCoinNotFound) {
		return err
	}

	if a.cfg.Backoff > 0 {
		timer := time.NewTimer(a.cfg.Backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
	return attempt()
}

func (a *Aggregator) canonical(id string) string {
	if a.ids != nil {
		return a.ids.Canonical(id)
	}
	return strings.ToLower(strings.TrimSpace(id))
}

func normalizeCurrency(c string) string {
	c = strings.ToLower(strings.TrimSpace(c))
	if c == "" {
		return "usd"
	}
	return c
}
