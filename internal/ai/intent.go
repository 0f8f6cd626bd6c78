// Package ai turns free text into an intent and a list of coin references.
package ai

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/edibez/cryptochat/pkg/types"
)

type rule struct {
	intent  types.Intent
	phrases []string
}

// Rules are tried in order and the first hit wins. Comparison outranks price
// markers, which outrank the ranked lists, which outrank the generic market
// fallback.
var rules = []rule{
	{types.IntentComparison, []string{"vs", "versus", "compare", "comparison", "compared"}},
	{types.IntentPriceLookup, []string{"price of", "price for", "how much is", "how much does", "value of", "worth", "price", "prices", "cost of"}},
	{types.IntentTopGainers, []string{"gainer", "gainers", "top gaining", "biggest gains", "pumping", "best performing", "winners"}},
	{types.IntentTopLosers, []string{"loser", "losers", "top losing", "biggest drops", "dumping", "worst performing", "biggest losses"}},
	{types.IntentTrending, []string{"trending", "trend", "hot", "popular", "buzzing"}},
	{types.IntentMarketOverview, []string{"hows the market", "how is the market", "market today", "market overview", "overview", "market", "markets"}},
}

// Classify maps text to an intent. Unrecognized input yields IntentUnknown.
func Classify(text string) types.Intent {
	padded := " " + Normalize(text) + " "
	for _, r := range rules {
		for _, phrase := range r.phrases {
			if strings.Contains(padded, " "+phrase+" ") {
				return r.intent
			}
		}
	}
	return types.IntentUnknown
}

// Normalize lower-cases text, drops apostrophes, turns every other
// non-alphanumeric rune into a space and collapses runs of spaces
func Normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range strings.ToLower(text) {
		switch {
		case r == '\'' || r == '’':
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		default:
			b.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// ExtractCount returns the first positive number in text ("top 10 gainers"),
// capped at max, or def when there is none
func ExtractCount(text string, def, max int) int {
	for _, word := range strings.Fields(Normalize(text)) {
		n, err := strconv.Atoi(word)
		if err != nil || n <= 0 {
			continue
		}
		if max > 0 && n > max {
			return max
		}
		return n
	}
	return def
}
