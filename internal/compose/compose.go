// Package compose turns query results into Markup-Lite documents.
package compose

import (
	"errors"
	"fmt"
	"strings"

	"github.com/edibez/cryptochat/internal/ai"
	"github.com/edibez/cryptochat/internal/markup"
	"github.com/edibez/cryptochat/internal/price"
	"github.com/edibez/cryptochat/pkg/types"
)

// QuickPrompts are suggested first questions
var QuickPrompts = []string{
	"How's the market?",
	"Top gainers today",
	"Price of BTC",
	"What's trending?",
	"Compare ETH vs SOL",
}

const (
	maxCandidates = 5
	apologyText   = "Something went wrong. Please try again!"
)

// Columns of every coin table
var tableHeader = markup.Cells("Coin", "Price", "24h", "Market Cap", "Rank")

// CoinResult is one requested coin and how its fetch went
type CoinResult struct {
	Label  string // what the user typed
	Record types.CoinRecord
	Err    error
}

// Overview is the market overview data. Nil parts were unavailable.
type Overview struct {
	Global    *types.GlobalMarket
	TopGainer *types.CoinRecord
	TopLoser  *types.CoinRecord
}

// Payload is everything a reply is built from
type Payload struct {
	Intent     types.Intent
	Currency   string
	Coins      []CoinResult
	Ranked     []types.CoinRecord
	PoolSize   int
	Trending   []types.TrendingCoin
	Overview   *Overview
	Unknown    []string           // ticker-like words nothing matched
	Candidates []types.CoinRecord // details of ambiguous candidates
	Problem    error
}

// Compose renders p. A Problem wins over any data: resolver errors become
// clarifications and anything else the apology.
func Compose(p Payload) markup.Document {
	if p.Problem != nil {
		return composeProblem(p)
	}
	switch p.Intent {
	case types.IntentPriceLookup:
		return priceDoc(p)
	case types.IntentComparison:
		return comparisonDoc(p)
	case types.IntentTopGainers:
		return rankedDoc(p, "gainers")
	case types.IntentTopLosers:
		return rankedDoc(p, "losers")
	case types.IntentTrending:
		return trendingDoc(p)
	case types.IntentMarketOverview:
		return overviewDoc(p)
	default:
		return Help()
	}
}

func composeProblem(p Payload) markup.Document {
	var (
		ambiguous   *ai.AmbiguousEntityError
		unresolved  *ai.UnresolvedEntityError
		unsupported *ai.UnsupportedIntentError
	)
	switch {
	case errors.As(p.Problem, &ambiguous):
		return Ambiguity(ambiguous.Span, p.Candidates)
	case errors.As(p.Problem, &unresolved):
		return Unresolved(unresolved)
	case errors.As(p.Problem, &unsupported):
		return Help()
	default:
		return Apology(price.IsRateLimited(p.Problem))
	}
}

// Welcome greets a new session
func Welcome() markup.Document {
	return doc(
		markup.Line(markup.P("Hey! 👋 I'm "), markup.B("CryptoBot"), markup.P(", your on-chain assistant. Ask me about prices, market trends, gainers, losers, or anything crypto!")),
		markup.TextBlock{},
		markup.Line(markup.P("Try one of the suggestions below, or just type naturally.")),
	)
}

// Help lists what the assistant understands
func Help() markup.Document {
	blocks := []markup.Block{
		markup.Line(markup.P("I can look up "), markup.B("prices"), markup.P(", compare coins, list the "), markup.B("top gainers"), markup.P(" and "), markup.B("losers"), markup.P(", show what's trending and summarize the market.")),
		markup.Line(markup.P("Try asking:")),
	}
	for _, q := range QuickPrompts {
		blocks = append(blocks, markup.Line(markup.I(q)))
	}
	return doc(blocks...)
}

// Apology is the reply when no data could be fetched
func Apology(rateLimited bool) markup.Document {
	if rateLimited {
		return doc(
			markup.Line(markup.P("The market data provider is rate limiting me right now.")),
			markup.Line(markup.P("Please try again in a minute.")),
		)
	}
	return doc(markup.Line(markup.P(apologyText)))
}

// Ambiguity asks the user to pick one of the candidates
func Ambiguity(span string, candidates []types.CoinRecord) markup.Document {
	blocks := []markup.Block{
		markup.Line(markup.B(span), markup.P(" could mean more than one coin. Which one did you mean?")),
	}
	for i, c := range candidates {
		if i == maxCandidates {
			break
		}
		blocks = append(blocks, markup.Line(
			markup.P("- "),
			markup.B(name(c)),
			markup.P(fmt.Sprintf(" (%s), rank %s", symbol(c), FormatRank(c.MarketCapRank))),
		))
	}
	blocks = append(blocks, markup.Line(markup.P("Ask again with the full name.")))
	return doc(blocks...)
}

// Unresolved explains which coins were missing
func Unresolved(err *ai.UnresolvedEntityError) markup.Document {
	var blocks []markup.Block
	for _, s := range err.Spans {
		blocks = append(blocks, notFoundLine(s))
	}
	if err.Need > 1 {
		blocks = append(blocks,
			markup.Line(markup.P(fmt.Sprintf("I need at least %d coins to compare. For example:", err.Need))),
			markup.Line(markup.I("Compare ETH vs SOL")),
		)
	} else {
		blocks = append(blocks,
			markup.Line(markup.P("Which coin do you mean? For example:")),
			markup.Line(markup.I("Price of BTC")),
		)
	}
	return doc(blocks...)
}

func priceDoc(p Payload) markup.Document {
	var blocks []markup.Block
	for i, c := range p.Coins {
		if i > 0 {
			blocks = append(blocks, markup.TextBlock{})
		}
		if c.Err != nil {
			blocks = append(blocks, unavailableLine(c.Label))
			continue
		}
		r := c.Record
		blocks = append(blocks,
			markup.Line(markup.B(name(r)), markup.P(" ("+symbol(r)+")")),
			markup.Line(markup.P("Price: "), markup.B(FormatPrice(r.CurrentPrice, p.Currency))),
			markup.Line(markup.P("24h: "), markup.B(FormatPercent(r.Change24h))),
			markup.Line(markup.P("Market cap: "+FormatLarge(r.MarketCap, p.Currency))),
			markup.Line(markup.P("Rank: "+FormatRank(r.MarketCapRank))),
		)
	}
	for _, s := range p.Unknown {
		blocks = append(blocks, notFoundLine(s))
	}
	return doc(blocks...)
}

func comparisonDoc(p Payload) markup.Document {
	var (
		rows   [][]markup.Cell
		failed []string
		leader *types.CoinRecord
	)
	for i, c := range p.Coins {
		if c.Err != nil {
			failed = append(failed, c.Label)
			continue
		}
		rows = append(rows, coinRow(c.Record, p.Currency))
		if leader == nil || c.Record.Change24h > leader.Change24h {
			leader = &p.Coins[i].Record
		}
	}

	blocks := []markup.Block{markup.Line(markup.P("Here's how they compare:"))}
	if len(rows) > 0 {
		blocks = append(blocks, markup.TableBlock{Header: tableHeader, Rows: rows})
	}
	if len(rows) > 1 {
		blocks = append(blocks, markup.Line(
			markup.B(symbol(*leader)),
			markup.P(" leads over 24h at "),
			markup.B(FormatPercent(leader.Change24h)),
		))
	}
	for _, label := range failed {
		blocks = append(blocks, unavailableLine(label))
	}
	for _, s := range p.Unknown {
		blocks = append(blocks, notFoundLine(s))
	}
	return doc(blocks...)
}

func rankedDoc(p Payload, what string) markup.Document {
	if len(p.Ranked) == 0 {
		return doc(markup.Line(markup.P(fmt.Sprintf("No %s to show right now.", what))))
	}
	rows := make([][]markup.Cell, 0, len(p.Ranked))
	for _, r := range p.Ranked {
		rows = append(rows, coinRow(r, p.Currency))
	}
	title := fmt.Sprintf("Top %d %s", len(p.Ranked), what)
	scope := " over 24h"
	if p.PoolSize > 0 {
		scope += fmt.Sprintf(" among the top %d coins by market cap:", p.PoolSize)
	} else {
		scope += ":"
	}
	return doc(
		markup.Line(markup.B(title), markup.P(scope)),
		markup.TableBlock{Header: tableHeader, Rows: rows},
	)
}

// Trending prices come from the provider in USD only
func trendingDoc(p Payload) markup.Document {
	if len(p.Trending) == 0 {
		return doc(markup.Line(markup.P("Nothing is trending right now.")))
	}
	rows := make([][]markup.Cell, 0, len(p.Trending))
	for _, t := range p.Trending {
		rows = append(rows, []markup.Cell{
			{markup.B(strings.ToUpper(t.Symbol))},
			cell(FormatPrice(t.Price, "usd")),
			cell(FormatPercent(t.Change24h)),
			cell(FormatLarge(t.MarketCap, "usd")),
			cell(FormatRank(t.MarketCapRank)),
		})
	}
	return doc(
		markup.Line(markup.B("Trending"), markup.P(" on CoinGecko right now:")),
		markup.TableBlock{Header: tableHeader, Rows: rows},
	)
}

// changeLabel notes that the global change is USD based for other currencies
func changeLabel(currency string) string {
	if c := strings.ToLower(currency); c != "" && c != "usd" {
		return " 24h, in USD"
	}
	return " 24h"
}

func overviewDoc(p Payload) markup.Document {
	o := p.Overview
	if o == nil {
		o = &Overview{}
	}
	blocks := []markup.Block{markup.Line(markup.B("Market overview"))}

	if g := o.Global; g != nil {
		blocks = append(blocks,
			markup.Line(
				markup.P("Total market cap: "),
				markup.B(FormatLarge(g.TotalMarketCap, p.Currency)),
				markup.P(" ("+FormatPercent(g.MarketCapChange)+changeLabel(p.Currency)+")"),
			),
			markup.Line(markup.P("24h volume: "), markup.B(FormatLarge(g.TotalVolume, p.Currency))),
		)
	} else {
		blocks = append(blocks, markup.Line(markup.P("Market totals are unavailable right now.")))
	}

	blocks = append(blocks, moverLine("Top gainer: ", o.TopGainer, p.Currency))
	blocks = append(blocks, moverLine("Top loser: ", o.TopLoser, p.Currency))
	return doc(blocks...)
}

func moverLine(label string, r *types.CoinRecord, currency string) markup.Block {
	if r == nil {
		return markup.Line(markup.P(label + NA))
	}
	return markup.Line(
		markup.P(label),
		markup.B(symbol(*r)),
		markup.P(" "+FormatPercent(r.Change24h)+" at "+FormatPrice(r.CurrentPrice, currency)),
	)
}

func coinRow(r types.CoinRecord, currency string) []markup.Cell {
	return []markup.Cell{
		{markup.B(symbol(r))},
		cell(FormatPrice(r.CurrentPrice, currency)),
		cell(FormatPercent(r.Change24h)),
		cell(FormatLarge(r.MarketCap, currency)),
		cell(FormatRank(r.MarketCapRank)),
	}
}

func unavailableLine(label string) markup.Block {
	return markup.Line(markup.B(label), markup.P(" is unavailable right now."))
}

func notFoundLine(span string) markup.Block {
	return markup.Line(markup.P("I couldn't find "), markup.B(span), markup.P(" in my coin list."))
}

func symbol(r types.CoinRecord) string {
	if r.Symbol == "" {
		return r.ID
	}
	return strings.ToUpper(r.Symbol)
}

func name(r types.CoinRecord) string {
	if r.Name == "" {
		return r.ID
	}
	return r.Name
}

func cell(text string) markup.Cell {
	return markup.Cell{markup.P(text)}
}

func doc(blocks ...markup.Block) markup.Document {
	return markup.Document{Blocks: blocks}
}
