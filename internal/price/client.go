package price

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultBaseURL = "https://api.coingecko.com/api/v3"
	DefaultTimeout = 10 * time.Second

	apiKeyHeader = "x-cg-demo-api-key"
	apiKeyParam  = "x_cg_demo_api_key"
	throttleKey  = "provider:coingecko"
)

// Throttle gates outgoing provider calls. ratelimit.Limiter satisfies it.
type Throttle interface {
	Allow(ctx context.Context, key string) (bool, int, error)
}

// Client for the CoinGecko market API
type Client struct {
	baseURL    string
	apiKey     string
	keyInQuery bool
	httpClient *http.Client
	throttle   Throttle
	logger     *slog.Logger
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout bounds every provider call
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithKeyInQuery sends the API key as a query parameter instead of a header
func WithKeyInQuery(enabled bool) Option {
	return func(c *Client) { c.keyInQuery = enabled }
}

// WithThrottle makes the client ask t before each request
func WithThrottle(t Throttle) Option {
	return func(c *Client) { c.throttle = t }
}

// WithLogger sets the logger used for throttle failures
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewClient creates a new provider client
func NewClient(baseURL, apiKey string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// MarketsQuery selects one page of /coins/markets
type MarketsQuery struct {
	Currency string
	Order    string
	PerPage  int
	Page     int
	IDs      []string
}

// MarketCoin is one row of /coins/markets. Nullable metrics are pointers.
type MarketCoin struct {
	ID            string   `json:"id"`
	Symbol        string   `json:"symbol"`
	Name          string   `json:"name"`
	Image         string   `json:"image"`
	CurrentPrice  *float64 `json:"current_price"`
	MarketCap     *float64 `json:"market_cap"`
	MarketCapRank *int     `json:"market_cap_rank"`
	TotalVolume   *float64 `json:"total_volume"`
	Change24h     *float64 `json:"price_change_percentage_24h"`
	Change24hCur  *float64 `json:"price_change_percentage_24h_in_currency"`
	Change7dCur   *float64 `json:"price_change_percentage_7d_in_currency"`
}

// TrendingItem is the "item" object of /search/trending
type TrendingItem struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Symbol        string `json:"symbol"`
	MarketCapRank *int   `json:"market_cap_rank"`
	Score         int    `json:"score"`
	Data          struct {
		Price     json.RawMessage    `json:"price"`
		MarketCap json.RawMessage    `json:"market_cap"`
		Change    map[string]float64 `json:"price_change_percentage_24h"`
	} `json:"data"`
}

// LooseNumber reads values the trending endpoint sends either as JSON numbers
// or as display strings such as "$1,234,567".
func LooseNumber(raw json.RawMessage) float64 {
	s := strings.TrimSpace(string(raw))
	s = strings.Trim(s, `"`)
	s = strings.NewReplacer("$", "", ",", "", " ", "").Replace(s)
	if s == "" || s == "null" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

// GlobalData is the "data" object of /global
type GlobalData struct {
	ActiveCryptocurrencies int                `json:"active_cryptocurrencies"`
	TotalMarketCap         map[string]float64 `json:"total_market_cap"`
	TotalVolume            map[string]float64 `json:"total_volume"`
	MarketCapChange24hUSD  float64            `json:"market_cap_change_percentage_24h_usd"`
}

// Markets fetches one page of market snapshots
func (c *Client) Markets(ctx context.Context, q MarketsQuery) ([]MarketCoin, error) {
	params := url.Values{}
	params.Set("vs_currency", strings.ToLower(q.Currency))
	order := q.Order
	if order == "" {
		order = "market_cap_desc"
	}
	params.Set("order", order)
	if q.PerPage > 0 {
		params.Set("per_page", strconv.Itoa(q.PerPage))
	}
	if q.Page > 0 {
		params.Set("page", strconv.Itoa(q.Page))
	}
	if len(q.IDs) > 0 {
		params.Set("ids", strings.Join(q.IDs, ","))
	}
	params.Set("sparkline", "false")
	params.Set("price_change_percentage", "24h,7d")

	var coins []MarketCoin
	if err := c.get(ctx, "markets", "/coins/markets", params, &coins); err != nil {
		return nil, err
	}
	return coins, nil
}

// Trending fetches the provider's trending list. Both {coins:[{item:{}}]} and a
// bare array of items are accepted.
func (c *Client) Trending(ctx context.Context) ([]TrendingItem, error) {
	var raw json.RawMessage
	if err := c.get(ctx, "trending", "/search/trending", nil, &raw); err != nil {
		return nil, err
	}

	if strings.HasPrefix(strings.TrimSpace(string(raw)), "{") {
		var body struct {
			Coins json.RawMessage `json:"coins"`
		}
		if err := json.Unmarshal(raw, &body); err != nil {
			return nil, &ProviderError{Op: "trending", Err: fmt.Errorf("decode response: %w", err)}
		}
		raw = body.Coins
	}
	if len(raw) == 0 {
		return nil, nil
	}

	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, &ProviderError{Op: "trending", Err: fmt.Errorf("decode response: %w", err)}
	}

	items := make([]TrendingItem, 0, len(list))
	for _, elem := range list {
		var wrapped struct {
			Item *TrendingItem `json:"item"`
		}
		if err := json.Unmarshal(elem, &wrapped); err == nil && wrapped.Item != nil {
			items = append(items, *wrapped.Item)
			continue
		}
		var item TrendingItem
		if err := json.Unmarshal(elem, &item); err == nil && item.ID != "" {
			items = append(items, item)
		}
	}
	return items, nil
}

// Global fetches market-wide totals
func (c *Client) Global(ctx context.Context) (*GlobalData, error) {
	var result struct {
		Data GlobalData `json:"data"`
	}
	if err := c.get(ctx, "global", "/global", nil, &result); err != nil {
		return nil, err
	}
	return &result.Data, nil
}

func (c *Client) get(ctx context.Context, op, path string, params url.Values, out interface{}) error {
	if c.throttle != nil {
		allowed, _, err := c.throttle.Allow(ctx, throttleKey)
		switch {
		case err != nil:
			c.logger.Warn("provider throttle check failed, allowing call", "op", op, "error", err)
		case !allowed:
			return &ProviderError{Op: op, Status: http.StatusTooManyRequests, RateLimited: true, Err: ErrThrottled}
		}
	}

	if params == nil {
		params = url.Values{}
	}
	if c.apiKey != "" && c.keyInQuery {
		params.Set(apiKeyParam, c.apiKey)
	}
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return &ProviderError{Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" && !c.keyInQuery {
		req.Header.Set(apiKeyHeader, c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &ProviderError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &ProviderError{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		return &ProviderError{
			Op:          op,
			Status:      resp.StatusCode,
			RateLimited: resp.StatusCode == http.StatusTooManyRequests,
			Err:         fmt.Errorf("provider returned status %d", resp.StatusCode),
		}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return &ProviderError{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
