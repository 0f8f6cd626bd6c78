// Package catalog holds the known universe of tradable assets and answers
// token lookups against it.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/edibez/cryptochat/internal/price"
	"github.com/edibez/cryptochat/pkg/types"
)

const (
	DefaultSize    = 250
	maxPerPage     = 250
	minPrefixChars = 3
)

// Source pages through the provider's market list
type Source interface {
	Markets(ctx context.Context, q price.MarketsQuery) ([]price.MarketCoin, error)
}

// Snapshotter persists the last good catalog so a restart is not empty
type Snapshotter interface {
	Save(ctx context.Context, records []types.CoinRecord) error
	Load(ctx context.Context) ([]types.CoinRecord, error)
}

// Config for a Catalog
type Config struct {
	Size      int
	Currency  string
	PageDelay time.Duration
	Snapshots Snapshotter
	Logger    *slog.Logger
}

type entry struct {
	rec     types.CoinRecord
	symbol  string
	name    string
	aliases []string
}

// Catalog is the process-wide coin store. Refresh replaces it wholesale.
type Catalog struct {
	source Source
	cfg    Config
	logger *slog.Logger

	mu        sync.RWMutex
	entries   map[string]*entry
	refreshed time.Time
}

// New creates an empty catalog fed by source
func New(source Source, cfg Config) *Catalog {
	if cfg.Size <= 0 {
		cfg.Size = DefaultSize
	}
	if cfg.Currency == "" {
		cfg.Currency = "usd"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{
		source:  source,
		cfg:     cfg,
		logger:  logger,
		entries: make(map[string]*entry),
	}
}

// Refresh pulls the asset list and swaps it in. On failure the previous
// catalog stays in place.
func (c *Catalog) Refresh(ctx context.Context) error {
	perPage := c.cfg.Size
	if perPage > maxPerPage {
		perPage = maxPerPage
	}

	var records []types.CoinRecord
	for page := 1; len(records) < c.cfg.Size; page++ {
		coins, err := c.source.Markets(ctx, price.MarketsQuery{
			Currency: c.cfg.Currency,
			Order:    "market_cap_desc",
			PerPage:  perPage,
			Page:     page,
		})
		if err != nil {
			c.logger.Warn("catalog refresh failed, keeping previous catalog", "page", page, "error", err, "kept", c.Len())
			return fmt.Errorf("fetch catalog page %d: %w", page, err)
		}
		for _, coin := range coins {
			if coin.ID == "" {
				continue
			}
			rec, _ := coin.Record()
			records = append(records, rec)
		}
		if len(coins) < perPage {
			break
		}
		if c.cfg.PageDelay > 0 {
			time.Sleep(c.cfg.PageDelay)
		}
	}
	if len(records) == 0 {
		return errors.New("provider returned an empty catalog")
	}
	if len(records) > c.cfg.Size {
		records = records[:c.cfg.Size]
	}

	c.replace(records)
	c.logger.Info("catalog refreshed", "coins", c.Len())

	if c.cfg.Snapshots != nil {
		if err := c.cfg.Snapshots.Save(ctx, records); err != nil {
			c.logger.Warn("catalog snapshot save failed", "error", err)
		}
	}
	return nil
}

// Restore loads the last snapshot when the catalog is still empty
func (c *Catalog) Restore(ctx context.Context) error {
	if c.cfg.Snapshots == nil || c.Len() > 0 {
		return nil
	}
	records, err := c.cfg.Snapshots.Load(ctx)
	if err != nil {
		return fmt.Errorf("load catalog snapshot: %w", err)
	}
	if len(records) == 0 {
		return nil
	}
	c.replace(records)
	c.logger.Info("catalog restored from snapshot", "coins", len(records))
	return nil
}

// Replace installs records directly, bypassing the provider
func (c *Catalog) Replace(records []types.CoinRecord) {
	c.replace(records)
}

func (c *Catalog) replace(records []types.CoinRecord) {
	next := make(map[string]*entry, len(records))
	for _, rec := range records {
		if _, dup := next[rec.ID]; dup {
			continue
		}
		rec.Aliases = mergeAliases(rec.Aliases, builtinAliases[rec.ID])
		next[rec.ID] = &entry{
			rec:     rec,
			symbol:  strings.ToLower(rec.Symbol),
			name:    strings.ToLower(rec.Name),
			aliases: lowerAll(rec.Aliases),
		}
	}

	c.mu.Lock()
	c.entries = next
	c.refreshed = time.Now()
	c.mu.Unlock()
}

// Lookup returns the ids whose symbol, name or alias equals or starts with
// token, best market-cap rank first. Prefix hits only count when nothing
// matches exactly and token has at least three characters.
func (c *Catalog) Lookup(token string) []string {
	ids, _ := c.LookupMatches(token)
	return ids
}

// LookupMatches is Lookup plus whether the hits were exact. Exact hits shadow
// prefix hits; prefix matching needs at least three characters.
func (c *Catalog) LookupMatches(token string) ([]string, bool) {
	t := strings.ToLower(strings.TrimSpace(token))
	if t == "" {
		return nil, false
	}

	c.mu.RLock()
	var exact, prefix []*entry
	for _, e := range c.entries {
		switch {
		case e.matches(t, func(field string) bool { return field == t }):
			exact = append(exact, e)
		case len(t) >= minPrefixChars && e.matches(t, func(field string) bool { return strings.HasPrefix(field, t) }):
			prefix = append(prefix, e)
		}
	}
	c.mu.RUnlock()

	if len(exact) > 0 {
		return rankedIDs(exact), true
	}
	return rankedIDs(prefix), false
}

// Get returns the record for id
func (c *Catalog) Get(id string) (types.CoinRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[id]
	if !ok {
		return types.CoinRecord{}, false
	}
	return e.rec, true
}

// Canonical maps an id or a unique symbol to the catalog id
func (c *Catalog) Canonical(token string) string {
	t := strings.ToLower(strings.TrimSpace(token))
	c.mu.RLock()
	defer c.mu.RUnlock()
	if _, ok := c.entries[t]; ok {
		return t
	}
	var found string
	for id, e := range c.entries {
		if e.symbol == t {
			if found != "" {
				return t
			}
			found = id
		}
	}
	if found != "" {
		return found
	}
	return t
}

// Len returns the number of coins in the catalog
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// RefreshedAt returns when the catalog was last replaced
func (c *Catalog) RefreshedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.refreshed
}

func (e *entry) matches(t string, eq func(string) bool) bool {
	if eq(e.symbol) || eq(e.name) {
		return true
	}
	for _, a := range e.aliases {
		if eq(a) {
			return true
		}
	}
	return false
}

func rankedIDs(entries []*entry) []string {
	if len(entries) == 0 {
		return nil
	}
	sort.Slice(entries, func(i, j int) bool {
		ri, rj := entries[i].rec.MarketCapRank, entries[j].rec.MarketCapRank
		if ri != rj {
			if ri == 0 {
				return false
			}
			if rj == 0 {
				return true
			}
			return ri < rj
		}
		return entries[i].rec.ID < entries[j].rec.ID
	})
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.rec.ID
	}
	return ids
}

func lowerAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}
	return out
}

func mergeAliases(have, extra []string) []string {
	if len(extra) == 0 {
		return have
	}
	seen := make(map[string]bool, len(have)+len(extra))
	out := make([]string, 0, len(have)+len(extra))
	for _, a := range append(append([]string{}, have...), extra...) {
		k := strings.ToLower(a)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, a)
	}
	return out
}
