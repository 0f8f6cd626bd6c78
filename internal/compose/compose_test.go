package compose

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/edibez/cryptochat/internal/ai"
	"github.com/edibez/cryptochat/internal/markup"
	"github.com/edibez/cryptochat/internal/price"
	"github.com/edibez/cryptochat/pkg/types"
)

func TestFormatPrice(t *testing.T) {
	tests := []struct {
		v        float64
		currency string
		want     string
	}{
		{67234.123, "usd", "$67,234.12"},
		{1.5, "usd", "$1.50"},
		{0.5, "eur", "0.50 EUR"},
		{0.00012345, "usd", "$0.00012345"},
		{0.005, "usd", "$0.005"},
		{0.0000000012, "usd", "$0.0000000012"},
		{4e-9, "usd", "$0.000000004"},
		{1.23456e-11, "usd", "$0.00000000001235"},
		{0, "usd", NA},
		{-1, "usd", NA},
	}
	for _, tc := range tests {
		if got := FormatPrice(tc.v, tc.currency); got != tc.want {
			t.Errorf("FormatPrice(%v, %s) = %q, want %q", tc.v, tc.currency, got, tc.want)
		}
	}
}

func TestFormatPercent(t *testing.T) {
	tests := map[float64]string{
		2.346:   "+2.35%",
		-1.2:    "-1.20%",
		0:       "+0.00%",
		-0.0001: "+0.00%",
		12.5:    "+12.50%",
	}
	for v, want := range tests {
		if got := FormatPercent(v); got != want {
			t.Errorf("FormatPercent(%v) = %q, want %q", v, got, want)
		}
	}
}

func TestFormatLarge(t *testing.T) {
	tests := []struct {
		v    float64
		want string
	}{
		{1_320_000_000_000, "$1,320.00B"},
		{45_600_000_000, "$45.60B"},
		{7_250_000, "$7.25M"},
		{1_500, "$1.50K"},
		{999, "$999.00"},
		{999_999, "$1.00M"},
		{999_999_999, "$1.00B"},
		{999.999, "$1.00K"},
		{-2_500_000, "-$2.50M"},
		{0, NA},
	}
	for _, tc := range tests {
		if got := FormatLarge(tc.v, "usd"); got != tc.want {
			t.Errorf("FormatLarge(%v) = %q, want %q", tc.v, got, tc.want)
		}
	}
}

func btc() types.CoinRecord {
	return types.CoinRecord{ID: "bitcoin", Symbol: "btc", Name: "Bitcoin", CurrentPrice: 67234.12, Change24h: 2.1, MarketCap: 1.32e12, MarketCapRank: 1}
}

func sol() types.CoinRecord {
	return types.CoinRecord{ID: "solana", Symbol: "sol", Name: "Solana", CurrentPrice: 142.1, Change24h: 5.2, MarketCap: 6.5e10, MarketCapRank: 5}
}

func TestTableColumnOrder(t *testing.T) {
	d := Compose(Payload{Intent: types.IntentTopGainers, Currency: "usd", PoolSize: 100, Ranked: []types.CoinRecord{sol(), btc()}})

	var table *markup.TableBlock
	for _, b := range d.Blocks {
		if tb, ok := b.(markup.TableBlock); ok {
			table = &tb
		}
	}
	if table == nil {
		t.Fatalf("no table in %s", d)
	}
	var header []string
	for _, c := range table.Header {
		header = append(header, c.Text())
	}
	if want := []string{"Coin", "Price", "24h", "Market Cap", "Rank"}; !reflect.DeepEqual(header, want) {
		t.Fatalf("header = %v", header)
	}
	var first []string
	for _, c := range table.Rows[0] {
		first = append(first, c.Text())
	}
	if want := []string{"SOL", "$142.10", "+5.20%", "$65.00B", "#5"}; !reflect.DeepEqual(first, want) {
		t.Fatalf("first row = %v", first)
	}
}

func TestComparisonPartialFailure(t *testing.T) {
	d := Compose(Payload{
		Intent:   types.IntentComparison,
		Currency: "usd",
		Coins: []CoinResult{
			{Label: "BTC", Record: btc()},
			{Label: "ETH", Err: &price.ProviderError{Op: "markets", Status: 500, Err: errors.New("boom")}},
			{Label: "SOL", Record: sol()},
		},
	})
	text := d.String()

	if !strings.Contains(text, "**ETH** is unavailable right now.") {
		t.Fatalf("failed coin not flagged:\n%s", text)
	}
	if strings.Index(text, "| **BTC** |") > strings.Index(text, "| **SOL** |") {
		t.Fatalf("rows must follow request order:\n%s", text)
	}
	if !strings.Contains(text, "**SOL** leads over 24h at **+5.20%**") {
		t.Fatalf("missing leader line:\n%s", text)
	}
}

func TestProblems(t *testing.T) {
	candidates := []types.CoinRecord{
		{ID: "uniswap", Symbol: "uni", Name: "Uniswap", MarketCapRank: 20},
		{ID: "unicorn-token", Symbol: "uni", Name: "Unicorn", MarketCapRank: 900},
	}

	tests := []struct {
		name    string
		payload Payload
		want    string
	}{
		{
			name:    "ambiguous",
			payload: Payload{Problem: &ai.AmbiguousEntityError{Span: "UNI"}, Candidates: candidates},
			want:    "- **Uniswap** (UNI), rank #20",
		},
		{
			name:    "unresolved",
			payload: Payload{Problem: &ai.UnresolvedEntityError{Spans: []string{"FOOO"}, Need: 1}},
			want:    "I couldn't find **FOOO** in my coin list.",
		},
		{
			name:    "comparison needs two",
			payload: Payload{Problem: &ai.UnresolvedEntityError{Resolved: 1, Need: 2}},
			want:    "_Compare ETH vs SOL_",
		},
		{
			name:    "unsupported",
			payload: Payload{Problem: &ai.UnsupportedIntentError{Text: "asdkjf"}},
			want:    "_Price of BTC_",
		},
		{
			name:    "apology",
			payload: Payload{Problem: errors.New("boom")},
			want:    "Something went wrong. Please try again!",
		},
		{
			name:    "rate limited apology",
			payload: Payload{Problem: &price.ProviderError{Op: "markets", RateLimited: true, Err: price.ErrThrottled}},
			want:    "rate limiting",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			text := Compose(tc.payload).String()
			if !strings.Contains(text, tc.want) {
				t.Fatalf("expected %q in:\n%s", tc.want, text)
			}
		})
	}
}

func TestAmbiguityListsAtMostFive(t *testing.T) {
	var candidates []types.CoinRecord
	for i := 1; i <= 8; i++ {
		candidates = append(candidates, types.CoinRecord{ID: "c" + string(rune('0'+i)), Symbol: "c", Name: "C", MarketCapRank: i})
	}
	d := Ambiguity("C", candidates)
	if n := strings.Count(d.String(), "\n- "); n != maxCandidates {
		t.Fatalf("listed %d candidates", n)
	}
}

func TestOverviewChangeLabel(t *testing.T) {
	global := &types.GlobalMarket{TotalMarketCap: 2.4e12, TotalVolume: 9e10, MarketCapChange: 1.2}

	usd := Compose(Payload{Intent: types.IntentMarketOverview, Currency: "usd", Overview: &Overview{Global: global}}).String()
	if !strings.Contains(usd, "(+1.20% 24h)") {
		t.Fatalf("unexpected usd overview:\n%s", usd)
	}

	eur := Compose(Payload{Intent: types.IntentMarketOverview, Currency: "eur", Overview: &Overview{Global: global}}).String()
	if !strings.Contains(eur, "(+1.20% 24h, in USD)") {
		t.Fatalf("eur overview should mark the change as USD based:\n%s", eur)
	}
}

// Everything the composer emits must parse back to the same document.
func TestComposedDocumentsRoundTrip(t *testing.T) {
	g := btc()
	l := sol()
	l.Change24h = -3.3
	payloads := []Payload{
		{Intent: types.IntentPriceLookup, Currency: "usd", Coins: []CoinResult{{Label: "BTC", Record: btc()}, {Label: "X", Err: errors.New("x")}}, Unknown: []string{"FOOO"}},
		{Intent: types.IntentComparison, Currency: "eur", Coins: []CoinResult{{Label: "BTC", Record: btc()}, {Label: "SOL", Record: sol()}}},
		{Intent: types.IntentTopLosers, Currency: "usd", PoolSize: 100, Ranked: []types.CoinRecord{btc(), sol()}},
		{Intent: types.IntentTopGainers, Currency: "usd"},
		{Intent: types.IntentTrending, Trending: []types.TrendingCoin{{ID: "pepe", Symbol: "pepe", Price: 0.0000123, Change24h: 12}}},
		{Intent: types.IntentMarketOverview, Currency: "usd", Overview: &Overview{Global: &types.GlobalMarket{TotalMarketCap: 2.4e12, TotalVolume: 9e10, MarketCapChange: 1.2}, TopGainer: &g, TopLoser: &l}},
		{Intent: types.IntentMarketOverview, Currency: "usd"},
		{Intent: types.IntentMarketOverview, Currency: "eur", Overview: &Overview{Global: &types.GlobalMarket{TotalMarketCap: 2.2e12, MarketCapChange: -0.4}}},
		{Intent: types.IntentUnknown},
		{Problem: &ai.AmbiguousEntityError{Span: "UNI"}, Candidates: []types.CoinRecord{btc()}},
		{Problem: &ai.UnresolvedEntityError{Spans: []string{"FOOO"}, Need: 2}},
		{Problem: errors.New("boom")},
	}

	docs := []markup.Document{Welcome(), Help(), Apology(true)}
	for _, p := range payloads {
		docs = append(docs, Compose(p))
	}
	for i, d := range docs {
		text := d.String()
		if again := markup.Parse(text); !reflect.DeepEqual(again, d) {
			t.Errorf("document %d does not round trip:\n%s\n%+v\n%+v", i, text, d, again)
		}
	}
}
