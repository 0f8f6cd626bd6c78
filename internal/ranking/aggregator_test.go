package ranking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/edibez/cryptochat/internal/price"
	"github.com/edibez/cryptochat/pkg/types"
)

// marketServer simulates 250 ranked coins. Page 2 repeats five ids of page 1,
// and every block of 50 carries a zero price, a negative price and a null
// 24h change.
func marketServer(t *testing.T, hits *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))

		rows := []map[string]interface{}{}
		start := (page - 1) * perPage
		for i := start; i < start+perPage && i < 250; i++ {
			id := fmt.Sprintf("coin-%03d", i)
			if page == 2 && i < start+5 {
				id = fmt.Sprintf("coin-%03d", i-perPage)
			}
			p := float64(i + 1)
			switch i % 50 {
			case 7:
				p = 0
			case 13:
				p = -1
			}
			row := map[string]interface{}{
				"id":                          id,
				"symbol":                      fmt.Sprintf("C%d", i),
				"name":                        "Coin " + strconv.Itoa(i),
				"current_price":               p,
				"market_cap":                  float64(1_000_000 - i),
				"market_cap_rank":             i + 1,
				"price_change_percentage_24h": float64((i*37)%100 - 50),
			}
			if i%50 == 21 {
				row["price_change_percentage_24h"] = nil
			}
			rows = append(rows, row)
		}
		_ = json.NewEncoder(w).Encode(rows)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchRankedMergesPages(t *testing.T) {
	var hits int32
	srv := marketServer(t, &hits)
	agg := New(price.NewClient(srv.URL, ""), nil, Config{})

	got, err := agg.FetchRanked(context.Background(), RankedQuery{Currency: "usd", PoolSize: 250, Less: ByChange24hDesc})
	if err != nil {
		t.Fatalf("FetchRanked failed: %v", err)
	}
	if hits != 3 {
		t.Fatalf("expected 3 page requests, got %d", hits)
	}
	// 250 rows, 5 duplicates, 3 filtered rows in each of the 5 blocks
	if len(got) != 230 {
		t.Fatalf("expected 230 records, got %d", len(got))
	}

	seen := make(map[string]bool)
	for i, rec := range got {
		if seen[rec.ID] {
			t.Fatalf("duplicate id %s", rec.ID)
		}
		seen[rec.ID] = true
		if rec.CurrentPrice <= 0 {
			t.Fatalf("%s kept with price %v", rec.ID, rec.CurrentPrice)
		}
		if i > 0 && got[i-1].Change24h < rec.Change24h {
			t.Fatalf("not sorted at %d: %v < %v", i, got[i-1].Change24h, rec.Change24h)
		}
	}
	if seen["coin-021"] {
		t.Fatal("record with null 24h change should be filtered")
	}
}

func TestFetchRankedSharesCachedPool(t *testing.T) {
	var hits int32
	srv := marketServer(t, &hits)
	agg := New(price.NewClient(srv.URL, ""), nil, Config{})
	ctx := context.Background()

	gainers, err := agg.FetchRanked(ctx, RankedQuery{PoolSize: 100, Limit: 5, Less: ByChange24hDesc})
	if err != nil {
		t.Fatalf("gainers: %v", err)
	}
	losers, err := agg.FetchRanked(ctx, RankedQuery{PoolSize: 100, Limit: 5, Less: ByChange24hAsc})
	if err != nil {
		t.Fatalf("losers: %v", err)
	}
	if hits != 1 {
		t.Fatalf("second ranking should be served from cache, got %d requests", hits)
	}
	if len(gainers) != 5 || len(losers) != 5 {
		t.Fatalf("limit not applied: %d gainers, %d losers", len(gainers), len(losers))
	}
	if gainers[0].Change24h < losers[0].Change24h {
		t.Fatalf("gainer %v below loser %v", gainers[0].Change24h, losers[0].Change24h)
	}
}

type fakeProvider struct {
	mu      sync.Mutex
	calls   map[int]int
	failFor map[int]int // page -> number of leading failures
	gate    chan struct{}
	ids     [][]string
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{calls: make(map[int]int), failFor: make(map[int]int)}
}

func (f *fakeProvider) Markets(ctx context.Context, q price.MarketsQuery) ([]price.MarketCoin, error) {
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	f.calls[q.Page]++
	n := f.calls[q.Page]
	f.ids = append(f.ids, q.IDs)
	f.mu.Unlock()

	if n <= f.failFor[q.Page] {
		return nil, &price.ProviderError{Op: "markets", Status: http.StatusBadGateway, Err: errors.New("bad gateway")}
	}
	p, change, rank := 42.0, 1.5, q.Page
	id := fmt.Sprintf("page-%d", q.Page)
	if len(q.IDs) == 1 {
		id = q.IDs[0]
	}
	return []price.MarketCoin{{ID: id, Symbol: "x", CurrentPrice: &p, Change24h: &change, MarketCapRank: &rank}}, nil
}

func (f *fakeProvider) Trending(ctx context.Context) ([]price.TrendingItem, error) {
	return []price.TrendingItem{{ID: "pepe", Symbol: "PEPE", Name: "Pepe", Score: 0}}, nil
}

func (f *fakeProvider) Global(ctx context.Context) (*price.GlobalData, error) {
	return &price.GlobalData{
		TotalMarketCap: map[string]float64{"usd": 2.5e12},
		TotalVolume:    map[string]float64{"usd": 9e10},
	}, nil
}

func (f *fakeProvider) count(page int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[page]
}

func TestFetchRankedSingleFlight(t *testing.T) {
	fp := newFakeProvider()
	fp.gate = make(chan struct{})
	agg := New(fp, nil, Config{})

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := agg.FetchRanked(context.Background(), RankedQuery{PoolSize: 100, Less: ByChange24hDesc})
			errs <- err
		}()
	}
	close(fp.gate)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("FetchRanked failed: %v", err)
		}
	}
	if n := fp.count(1); n != 1 {
		t.Fatalf("expected one provider call, got %d", n)
	}
}

func TestFetchRankedRetriesOnce(t *testing.T) {
	fp := newFakeProvider()
	fp.failFor[1] = 1
	agg := New(fp, nil, Config{})

	if _, err := agg.FetchRanked(context.Background(), RankedQuery{PoolSize: 50}); err != nil {
		t.Fatalf("retry should recover: %v", err)
	}
	if n := fp.count(1); n != 2 {
		t.Fatalf("expected 2 attempts, got %d", n)
	}
}

func TestFetchRankedPageFailureFailsWholeCall(t *testing.T) {
	fp := newFakeProvider()
	fp.failFor[2] = 5
	agg := New(fp, nil, Config{})

	_, err := agg.FetchRanked(context.Background(), RankedQuery{PoolSize: 300})
	var pe *price.ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ProviderError, got %v", err)
	}
	if n := fp.count(2); n != 2 {
		t.Fatalf("failing page should be tried twice, got %d", n)
	}

	// failures are not cached
	fp.failFor[2] = 0
	if _, err := agg.FetchRanked(context.Background(), RankedQuery{PoolSize: 300}); err != nil {
		t.Fatalf("recovered provider should succeed: %v", err)
	}
}

type symbols map[string]string

func (s symbols) Canonical(token string) string {
	if id, ok := s[token]; ok {
		return id
	}
	return token
}

func TestFetchCoinNormalizesID(t *testing.T) {
	fp := newFakeProvider()
	agg := New(fp, symbols{"BTC": "bitcoin"}, Config{})
	ctx := context.Background()

	rec, err := agg.FetchCoin(ctx, "USD", "BTC")
	if err != nil {
		t.Fatalf("FetchCoin failed: %v", err)
	}
	if rec.ID != "bitcoin" || rec.CurrentPrice != 42 {
		t.Fatalf("unexpected record %+v", rec)
	}
	if _, err := agg.FetchCoin(ctx, "usd", "bitcoin"); err != nil {
		t.Fatalf("second FetchCoin failed: %v", err)
	}
	if n := fp.count(1); n != 1 {
		t.Fatalf("coin should be cached under one key, got %d calls", n)
	}
	if len(fp.ids) == 0 || fp.ids[0][0] != "bitcoin" {
		t.Fatalf("provider asked for %v", fp.ids)
	}
}

func TestFetchTrendingAndGlobal(t *testing.T) {
	agg := New(newFakeProvider(), nil, Config{})
	ctx := context.Background()

	trending, err := agg.FetchTrending(ctx, "usd")
	if err != nil || len(trending) != 1 || trending[0].Symbol != "pepe" {
		t.Fatalf("FetchTrending = %+v, %v", trending, err)
	}
	global, err := agg.FetchGlobal(ctx, "usd")
	if err != nil {
		t.Fatalf("FetchGlobal failed: %v", err)
	}
	want := types.GlobalMarket{TotalMarketCap: 2.5e12, TotalVolume: 9e10}
	if global != want {
		t.Fatalf("FetchGlobal = %+v, want %+v", global, want)
	}
}

func TestCacheKey(t *testing.T) {
	if got := CacheKey("markets", "USD", "pool=100", "per_page=100"); got != "markets|usd|pool=100|per_page=100" {
		t.Fatalf("CacheKey = %q", got)
	}
}
