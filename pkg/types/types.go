package types

import "time"

// Role identifies who authored a chat message
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of a session log
type Message struct {
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Intent is the category of user need inferred from input text
type Intent string

const (
	IntentPriceLookup    Intent = "price_lookup"
	IntentComparison     Intent = "comparison"
	IntentTopGainers     Intent = "top_gainers"
	IntentTopLosers      Intent = "top_losers"
	IntentTrending       Intent = "trending"
	IntentMarketOverview Intent = "market_overview"
	IntentUnknown        Intent = "unknown"
)

// NeedsEntities reports whether the intent cannot be answered without coins
func (i Intent) NeedsEntities() bool {
	return i == IntentPriceLookup || i == IntentComparison
}

// CoinRecord is a market snapshot of one tradable asset
type CoinRecord struct {
	ID            string   `json:"id"`
	Symbol        string   `json:"symbol"`
	Name          string   `json:"name"`
	Aliases       []string `json:"aliases,omitempty"`
	CurrentPrice  float64  `json:"current_price"`
	MarketCapRank int      `json:"market_cap_rank"`
	MarketCap     float64  `json:"market_cap"`
	Volume24h     float64  `json:"total_volume"`
	Change24h     float64  `json:"price_change_percentage_24h"`
	Change7d      float64  `json:"price_change_percentage_7d"`
	Image         string   `json:"image,omitempty"`
}

// TrendingCoin is an entry of the provider's trending list
type TrendingCoin struct {
	ID            string  `json:"id"`
	Symbol        string  `json:"symbol"`
	Name          string  `json:"name"`
	MarketCapRank int     `json:"market_cap_rank"`
	Price         float64 `json:"price"`
	Change24h     float64 `json:"price_change_percentage_24h"`
	MarketCap     float64 `json:"market_cap"`
	Score         int     `json:"score"`
}

// GlobalMarket holds aggregate totals for the whole market
type GlobalMarket struct {
	TotalMarketCap  float64 `json:"total_market_cap"`
	TotalVolume     float64 `json:"total_volume"`
	MarketCapChange float64 `json:"market_cap_change_percentage_24h"` // measured in USD whatever the currency
	ActiveCoins     int     `json:"active_cryptocurrencies"`
}

// MatchKind tags how a span of text resolved against the catalog
type MatchKind int

const (
	MatchUnresolved MatchKind = iota
	MatchResolved
	MatchAmbiguous
)

func (k MatchKind) String() string {
	switch k {
	case MatchResolved:
		return "resolved"
	case MatchAmbiguous:
		return "ambiguous"
	default:
		return "unresolved"
	}
}

// EntityMatch is a span of user text and what it resolved to.
// ResolvedID is set only for MatchResolved, Candidates only for MatchAmbiguous.
type EntityMatch struct {
	RawSpan    string    `json:"raw_span"`
	Kind       MatchKind `json:"kind"`
	ResolvedID string    `json:"resolved_id,omitempty"`
	Confidence float64   `json:"confidence"`
	Candidates []string  `json:"ambiguous_candidates,omitempty"`
}

// QueryRequest for natural language queries
type QueryRequest struct {
	Query string `json:"query" binding:"required"`
}

// QueryResponse for natural language queries
type QueryResponse struct {
	Query    string      `json:"query"`
	Intent   Intent      `json:"intent"`
	Markup   string      `json:"markup"`
	Document interface{} `json:"document"`
}

// RenderRequest carries a Markup-Lite document to parse
type RenderRequest struct {
	Markup string `json:"markup"`
}

// ChatEvent is a websocket frame exchanged with a chat client
type ChatEvent struct {
	Type         string      `json:"type"`
	SessionID    string      `json:"session_id,omitempty"`
	Text         string      `json:"text,omitempty"`
	Role         Role        `json:"role,omitempty"`
	Document     interface{} `json:"document,omitempty"`
	QuickPrompts []string    `json:"quick_prompts,omitempty"`
	Error        string      `json:"error,omitempty"`
	Timestamp    time.Time   `json:"timestamp"`
}

// ErrorResponse standard error format
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// TurnRecord summarizes one finished turn for usage statistics
type TurnRecord struct {
	SessionID string        `json:"session_id"`
	Intent    Intent        `json:"intent"`
	Outcome   string        `json:"outcome"`
	Duration  time.Duration `json:"duration"`
	At        time.Time     `json:"at"`
}
