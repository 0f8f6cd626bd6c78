package price

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

type denyAll struct{}

func (denyAll) Allow(ctx context.Context, key string) (bool, int, error) { return false, 0, nil }

type brokenThrottle struct{}

func (brokenThrottle) Allow(ctx context.Context, key string) (bool, int, error) {
	return false, 0, errors.New("redis down")
}

func TestMarketsSendsQueryAndHeader(t *testing.T) {
	var gotKey string
	var gotQuery map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/coins/markets" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		gotKey = r.Header.Get("x-cg-demo-api-key")
		gotQuery = map[string]string{}
		for k := range r.URL.Query() {
			gotQuery[k] = r.URL.Query().Get(k)
		}
		w.Write([]byte(`[{"id":"bitcoin","symbol":"BTC","name":"Bitcoin","current_price":67234.12,"market_cap_rank":1,"price_change_percentage_24h":null,"price_change_percentage_24h_in_currency":1.5}]`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "demo-key")
	coins, err := c.Markets(context.Background(), MarketsQuery{Currency: "USD", PerPage: 100, Page: 2})
	if err != nil {
		t.Fatalf("Markets failed: %v", err)
	}
	if gotKey != "demo-key" {
		t.Fatalf("expected api key header, got %q", gotKey)
	}
	for k, want := range map[string]string{"vs_currency": "usd", "order": "market_cap_desc", "per_page": "100", "page": "2", "price_change_percentage": "24h,7d"} {
		if gotQuery[k] != want {
			t.Errorf("query %s = %q, want %q", k, gotQuery[k], want)
		}
	}
	if len(coins) != 1 {
		t.Fatalf("expected 1 coin, got %d", len(coins))
	}
	rec, complete := coins[0].Record()
	if !complete {
		t.Fatal("expected record to be complete via the in-currency change")
	}
	if rec.Symbol != "btc" || rec.Change24h != 1.5 || rec.MarketCapRank != 1 {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestKeyInQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("x_cg_demo_api_key") != "k" {
			t.Errorf("expected key in query, got %q", r.URL.RawQuery)
		}
		if r.Header.Get("x-cg-demo-api-key") != "" {
			t.Error("key should not be sent as header")
		}
		w.Write([]byte(`{"data":{"total_market_cap":{"usd":2.5e12},"total_volume":{"usd":9e10},"market_cap_change_percentage_24h_usd":-1.25,"active_cryptocurrencies":12000}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k", WithKeyInQuery(true))
	g, err := c.Global(context.Background())
	if err != nil {
		t.Fatalf("Global failed: %v", err)
	}
	m := g.Market("USD")
	if m.TotalMarketCap != 2.5e12 || m.MarketCapChange != -1.25 || m.ActiveCoins != 12000 {
		t.Fatalf("unexpected totals: %+v", m)
	}
}

func TestRateLimitedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "").Markets(context.Background(), MarketsQuery{Currency: "usd"})
	var pe *ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ProviderError, got %v", err)
	}
	if !pe.RateLimited || pe.Status != http.StatusTooManyRequests {
		t.Fatalf("expected rate limited 429, got %+v", pe)
	}
	if !IsRateLimited(err) {
		t.Fatal("IsRateLimited should report true")
	}
}

func TestMalformedBodyIsProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{not json`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "").Markets(context.Background(), MarketsQuery{Currency: "usd"})
	var pe *ProviderError
	if !errors.As(err, &pe) || pe.RateLimited {
		t.Fatalf("expected non-rate-limited ProviderError, got %v", err)
	}
}

func TestTimeoutIsProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "", WithTimeout(20*time.Millisecond)).Markets(context.Background(), MarketsQuery{Currency: "usd"})
	var pe *ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ProviderError on timeout, got %v", err)
	}
}

func TestThrottleRefusesWithoutNetwork(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "", WithThrottle(denyAll{})).Trending(context.Background())
	if !IsRateLimited(err) || !errors.Is(err, ErrThrottled) {
		t.Fatalf("expected throttled error, got %v", err)
	}
	if called {
		t.Fatal("throttled call must not reach the provider")
	}
}

func TestThrottleErrorFailsOpenAndLogs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"active_cryptocurrencies":1}}`))
	}))
	defer srv.Close()

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	g, err := NewClient(srv.URL, "", WithThrottle(brokenThrottle{}), WithLogger(logger)).Global(context.Background())
	if err != nil {
		t.Fatalf("a broken throttle must not block the call: %v", err)
	}
	if g.ActiveCryptocurrencies != 1 {
		t.Fatalf("unexpected global data %+v", g)
	}
	if out := buf.String(); !strings.Contains(out, "level=WARN") || !strings.Contains(out, "redis down") {
		t.Fatalf("expected a warning, got %q", out)
	}
}

func TestTrendingShapes(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"wrapped object", `{"coins":[{"item":{"id":"pepe","symbol":"PEPE","name":"Pepe","market_cap_rank":30,"score":0,"data":{"price":0.0000123,"market_cap":"$5,123,000,000","price_change_percentage_24h":{"usd":12.5}}}}]}`},
		{"bare array", `[{"id":"pepe","symbol":"PEPE","name":"Pepe","market_cap_rank":30,"score":0,"data":{"price":"0.0000123","market_cap":5123000000,"price_change_percentage_24h":{"usd":12.5}}}]`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			items, err := NewClient(srv.URL, "").Trending(context.Background())
			if err != nil {
				t.Fatalf("Trending failed: %v", err)
			}
			if len(items) != 1 {
				t.Fatalf("expected 1 item, got %d", len(items))
			}
			coin := items[0].Coin("usd")
			if coin.ID != "pepe" || coin.Symbol != "pepe" || coin.MarketCapRank != 30 {
				t.Fatalf("unexpected coin: %+v", coin)
			}
			if coin.Price != 0.0000123 || coin.MarketCap != 5123000000 || coin.Change24h != 12.5 {
				t.Fatalf("unexpected figures: %+v", coin)
			}
		})
	}
}
