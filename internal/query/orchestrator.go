// Package query runs one conversation turn: classify, resolve, fetch and
// compose.
package query

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/edibez/cryptochat/internal/ai"
	"github.com/edibez/cryptochat/internal/compose"
	"github.com/edibez/cryptochat/internal/markup"
	"github.com/edibez/cryptochat/internal/ranking"
	"github.com/edibez/cryptochat/pkg/types"
)

const (
	DefaultPoolSize    = 100
	DefaultResultCount = 5
	DefaultMaxResults  = 25
)

// State is a stage of a turn
type State string

const (
	StateClassifying State = "classifying"
	StateResolving   State = "resolving"
	StateFetching    State = "fetching"
	StateComposing   State = "composing"
	StateDone        State = "done"
	StateFailed      State = "failed"
)

// Aggregator is the market data the orchestrator can ask for
type Aggregator interface {
	FetchRanked(ctx context.Context, q ranking.RankedQuery) ([]types.CoinRecord, error)
	FetchCoin(ctx context.Context, currency, id string) (types.CoinRecord, error)
	FetchTrending(ctx context.Context, currency string) ([]types.TrendingCoin, error)
	FetchGlobal(ctx context.Context, currency string) (types.GlobalMarket, error)
}

// Resolver finds coins in text
type Resolver interface {
	Resolve(text string) []types.EntityMatch
}

// Catalog supplies candidate details for clarifications
type Catalog interface {
	Get(id string) (types.CoinRecord, bool)
}

// Tracker is told which coins users ask about
type Tracker interface {
	Track(ctx context.Context, ids ...string)
}

// Config for an Orchestrator
type Config struct {
	Currency    string
	PoolSize    int
	ResultCount int
	MaxResults  int
	Tracker     Tracker
	Logger      *slog.Logger
}

// Orchestrator drives the per-turn state machine
type Orchestrator struct {
	agg      Aggregator
	resolver Resolver
	catalog  Catalog
	cfg      Config
	logger   *slog.Logger
}

// New creates an orchestrator
func New(agg Aggregator, resolver Resolver, catalog Catalog, cfg Config) *Orchestrator {
	if cfg.Currency == "" {
		cfg.Currency = "usd"
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = DefaultPoolSize
	}
	if cfg.ResultCount <= 0 {
		cfg.ResultCount = DefaultResultCount
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = DefaultMaxResults
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		agg:      agg,
		resolver: resolver,
		catalog:  catalog,
		cfg:      cfg,
		logger:   logger,
	}
}

// Result of one turn. Err is set only on the Failed path and is for logging;
// the document already explains the failure to the user.
type Result struct {
	Intent   types.Intent
	Document markup.Document
	Trace    []State
	Err      error
}

type turn struct {
	text    string
	intent  types.Intent
	matches []types.EntityMatch
	payload compose.Payload
	doc     markup.Document
	err     error
}

// Handle runs text through the pipeline. It always produces a document.
func (o *Orchestrator) Handle(ctx context.Context, text string) Result {
	start := time.Now()
	t := &turn{text: text}
	var trace []State

	state := StateClassifying
	for {
		trace = append(trace, state)
		switch state {
		case StateClassifying:
			state = o.classify(t)
		case StateResolving:
			state = o.resolve(t)
		case StateFetching:
			state = o.fetch(ctx, t)
		case StateComposing:
			state = o.compose(t)
		default:
			o.logger.Info("turn handled",
				"intent", t.intent,
				"state", state,
				"duration", time.Since(start),
				"error", t.err,
			)
			return Result{Intent: t.intent, Document: t.doc, Trace: trace, Err: t.err}
		}
	}
}

func (o *Orchestrator) classify(t *turn) State {
	t.intent = ai.Classify(t.text)
	t.payload = compose.Payload{Intent: t.intent, Currency: o.cfg.Currency}
	if t.intent == types.IntentUnknown {
		t.payload.Problem = &ai.UnsupportedIntentError{Text: t.text}
		return StateComposing
	}
	return StateResolving
}

func (o *Orchestrator) resolve(t *turn) State {
	if !t.intent.NeedsEntities() {
		return StateFetching
	}
	t.matches = o.resolver.Resolve(t.text)

	err := ai.Check(t.intent, t.text, t.matches)
	if err == nil {
		return StateFetching
	}
	t.payload.Problem = err

	var ambiguous *ai.AmbiguousEntityError
	if errors.As(err, &ambiguous) && o.catalog != nil {
		for _, id := range ambiguous.Candidates {
			if rec, ok := o.catalog.Get(id); ok {
				t.payload.Candidates = append(t.payload.Candidates, rec)
			} else {
				t.payload.Candidates = append(t.payload.Candidates, types.CoinRecord{ID: id})
			}
		}
	}
	o.logger.Debug("clarification needed", "intent", t.intent, "reason", err)
	return StateComposing
}

func (o *Orchestrator) fetch(ctx context.Context, t *turn) State {
	switch t.intent {
	case types.IntentPriceLookup, types.IntentComparison:
		t.err = o.fetchCoins(ctx, t)
	case types.IntentTopGainers:
		t.err = o.fetchRanked(ctx, t, ranking.ByChange24hDesc)
	case types.IntentTopLosers:
		t.err = o.fetchRanked(ctx, t, ranking.ByChange24hAsc)
	case types.IntentTrending:
		t.payload.Trending, t.err = o.agg.FetchTrending(ctx, o.cfg.Currency)
	case types.IntentMarketOverview:
		t.err = o.fetchOverview(ctx, t)
	}
	if t.err != nil {
		t.payload.Problem = t.err
	}
	return StateComposing
}

func (o *Orchestrator) compose(t *turn) State {
	t.doc = compose.Compose(t.payload)
	if t.err != nil {
		return StateFailed
	}
	return StateDone
}

// fetchCoins looks up every resolved coin in parallel. Results keep mention
// order. It fails only when no coin could be fetched.
func (o *Orchestrator) fetchCoins(ctx context.Context, t *turn) error {
	var labels, ids []string
	for _, m := range t.matches {
		if m.Kind == types.MatchResolved {
			labels = append(labels, m.RawSpan)
			ids = append(ids, m.ResolvedID)
		}
	}
	if o.cfg.Tracker != nil {
		o.cfg.Tracker.Track(ctx, ids...)
	}

	results := make([]compose.CoinResult, len(ids))
	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			rec, err := o.agg.FetchCoin(ctx, o.cfg.Currency, id)
			results[i] = compose.CoinResult{Label: labels[i], Record: rec, Err: err}
		}(i, id)
	}
	wg.Wait()

	t.payload.Coins = results
	t.payload.Unknown = ai.UnresolvedSpans(t.matches)

	var errs []error
	for _, r := range results {
		if r.Err == nil {
			return nil
		}
		errs = append(errs, r.Err)
	}
	return errors.Join(errs...)
}

func (o *Orchestrator) fetchRanked(ctx context.Context, t *turn, less ranking.Less) error {
	count := ai.ExtractCount(t.text, o.cfg.ResultCount, o.cfg.MaxResults)
	ranked, err := o.agg.FetchRanked(ctx, ranking.RankedQuery{
		Currency: o.cfg.Currency,
		PoolSize: o.cfg.PoolSize,
		Limit:    count,
		Less:     less,
	})
	if err != nil {
		return err
	}
	t.payload.Ranked = ranked
	t.payload.PoolSize = o.cfg.PoolSize
	return nil
}

// fetchOverview combines the ranked pool and global totals. Either half may be
// missing; both missing is a failure.
func (o *Orchestrator) fetchOverview(ctx context.Context, t *turn) error {
	var (
		wg                 sync.WaitGroup
		pool               []types.CoinRecord
		global             types.GlobalMarket
		poolErr, globalErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		pool, poolErr = o.agg.FetchRanked(ctx, ranking.RankedQuery{
			Currency: o.cfg.Currency,
			PoolSize: o.cfg.PoolSize,
			Less:     ranking.ByChange24hDesc,
		})
	}()
	go func() {
		defer wg.Done()
		global, globalErr = o.agg.FetchGlobal(ctx, o.cfg.Currency)
	}()
	wg.Wait()

	if poolErr != nil && globalErr != nil {
		return errors.Join(poolErr, globalErr)
	}

	overview := &compose.Overview{}
	if globalErr == nil {
		overview.Global = &global
	} else {
		o.logger.Warn("market totals unavailable", "error", globalErr)
	}
	if poolErr == nil && len(pool) > 0 {
		overview.TopGainer = &pool[0]
		overview.TopLoser = &pool[len(pool)-1]
	} else if poolErr != nil {
		o.logger.Warn("market movers unavailable", "error", poolErr)
	}
	t.payload.Overview = overview
	return nil
}
