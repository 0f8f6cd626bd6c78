package ai

import (
	"regexp"
	"sort"
	"strings"

	"github.com/edibez/cryptochat/pkg/types"
)

const (
	exactConfidence  = 1.0
	prefixConfidence = 0.6
)

// Lookuper answers catalog lookups. catalog.Catalog satisfies it.
type Lookuper interface {
	LookupMatches(token string) ([]string, bool)
}

var (
	wordRegex   = regexp.MustCompile(`[\p{L}\p{N}'’]+`)
	tickerRegex = regexp.MustCompile(`^[A-Z0-9]{2,6}$`)
)

// Words that only name a coin as an exact catalog match
var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "of": true, "for": true, "to": true,
	"in": true, "on": true, "at": true, "is": true, "are": true, "was": true,
	"be": true, "i": true, "me": true, "my": true, "you": true, "your": true,
	"it": true, "its": true, "and": true, "or": true, "with": true, "than": true,
	"this": true, "that": true, "there": true, "which": true, "who": true,
	"what": true, "whats": true, "how": true, "hows": true, "much": true,
	"many": true, "does": true, "do": true, "did": true, "can": true,
	"could": true, "would": true, "should": true, "will": true, "please": true,
	"show": true, "tell": true, "give": true, "get": true, "check": true,
	"about": true, "between": true, "against": true, "better": true,
	"vs": true, "versus": true, "compare": true, "comparison": true, "compared": true,
	"price": true, "prices": true, "cost": true, "value": true, "worth": true,
	"today": true, "now": true, "current": true, "currently": true, "right": true,
	"top": true, "best": true, "worst": true, "biggest": true, "performing": true,
	"gainer": true, "gainers": true, "gaining": true, "gains": true, "winners": true,
	"loser": true, "losers": true, "losing": true, "drops": true, "losses": true,
	"pumping": true, "dumping": true, "trending": true, "trend": true, "hot": true,
	"popular": true, "buzzing": true, "market": true, "markets": true,
	"overview": true, "up": true, "down": true, "day": true, "week": true,
	"hour": true, "24h": true, "7d": true, "usd": true, "eur": true, "all": true,
	"any": true, "some": true, "more": true, "less": true, "like": true,
	"also": true, "hey": true, "hi": true, "hello": true, "thanks": true,
}

// Words that only name a coin together with a neighbour ("Binance Coin")
var weakWords = map[string]bool{
	"coin": true, "coins": true, "token": true, "tokens": true, "crypto": true,
	"cash": true, "network": true, "protocol": true, "finance": true,
	"chain": true, "classic": true,
}

type word struct {
	text  string
	lower string
}

type candidate struct {
	start, end int // word indexes, end exclusive
	ids        []string
	exact      bool
}

// Resolver finds coin references in free text
type Resolver struct {
	catalog Lookuper
}

// NewResolver creates a resolver over catalog
func NewResolver(catalog Lookuper) *Resolver {
	return &Resolver{catalog: catalog}
}

// Resolve returns the coin references of text in mention order. Longer spans
// win over the single words they overlap. A span with several catalog hits is
// returned ambiguous, never guessed.
func (r *Resolver) Resolve(text string) []types.EntityMatch {
	words := tokenize(text)

	var cands []candidate
	for i := range words {
		if i+1 < len(words) {
			// a stop word inside a pair only counts for an exact name ("USD Coin")
			filler := stopWords[words[i].lower] || stopWords[words[i+1].lower]
			if c, ok := r.lookup(words, i, i+2); ok && (c.exact || !filler) {
				cands = append(cands, c)
			}
		}
		if isNumber(words[i].lower) {
			continue
		}
		if stopWords[words[i].lower] || weakWords[words[i].lower] {
			// typed as a ticker ("HOT") it may still be an exact symbol
			if isTicker(words[i].text) {
				if c, ok := r.lookup(words, i, i+1); ok && c.exact {
					cands = append(cands, c)
				}
			}
			continue
		}
		if c, ok := r.lookup(words, i, i+1); ok {
			cands = append(cands, c)
		}
	}

	sort.SliceStable(cands, func(i, j int) bool {
		li, lj := cands[i].end-cands[i].start, cands[j].end-cands[j].start
		if li != lj {
			return li > lj
		}
		if cands[i].exact != cands[j].exact {
			return cands[i].exact
		}
		return cands[i].start < cands[j].start
	})

	covered := make([]bool, len(words))
	var chosen []candidate
	for _, c := range cands {
		if anyCovered(covered, c.start, c.end) {
			continue
		}
		for k := c.start; k < c.end; k++ {
			covered[k] = true
		}
		chosen = append(chosen, c)
	}

	type placed struct {
		pos   int
		match types.EntityMatch
	}
	var out []placed
	for _, c := range chosen {
		out = append(out, placed{c.start, toMatch(span(words, c.start, c.end), c)})
	}
	for i, w := range words {
		if covered[i] || stopWords[w.lower] || !isTicker(w.text) {
			continue
		}
		out = append(out, placed{i, types.EntityMatch{RawSpan: w.text, Kind: types.MatchUnresolved}})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].pos < out[j].pos })

	seen := make(map[string]bool)
	matches := make([]types.EntityMatch, 0, len(out))
	for _, p := range out {
		if p.match.Kind == types.MatchResolved {
			if seen[p.match.ResolvedID] {
				continue
			}
			seen[p.match.ResolvedID] = true
		}
		matches = append(matches, p.match)
	}
	return matches
}

func (r *Resolver) lookup(words []word, start, end int) (candidate, bool) {
	ids, exact := r.catalog.LookupMatches(span(words, start, end))
	if len(ids) == 0 {
		return candidate{}, false
	}
	return candidate{start: start, end: end, ids: ids, exact: exact}, true
}

func toMatch(raw string, c candidate) types.EntityMatch {
	if len(c.ids) > 1 {
		return types.EntityMatch{
			RawSpan:    raw,
			Kind:       types.MatchAmbiguous,
			Candidates: append([]string(nil), c.ids...),
		}
	}
	confidence := prefixConfidence
	if c.exact {
		confidence = exactConfidence
	}
	return types.EntityMatch{
		RawSpan:    raw,
		Kind:       types.MatchResolved,
		ResolvedID: c.ids[0],
		Confidence: confidence,
	}
}

// tokenize splits text into words, keeping their case. Possessive 's and
// apostrophes are removed.
func tokenize(text string) []word {
	var words []word
	for _, raw := range wordRegex.FindAllString(text, -1) {
		w := strings.TrimSuffix(strings.TrimSuffix(raw, "'s"), "’s")
		w = strings.NewReplacer("'", "", "’", "").Replace(w)
		if w == "" {
			continue
		}
		words = append(words, word{text: w, lower: strings.ToLower(w)})
	}
	return words
}

func span(words []word, start, end int) string {
	parts := make([]string, 0, end-start)
	for _, w := range words[start:end] {
		parts = append(parts, w.text)
	}
	return strings.Join(parts, " ")
}

func anyCovered(covered []bool, start, end int) bool {
	for k := start; k < end; k++ {
		if covered[k] {
			return true
		}
	}
	return false
}

// isTicker reports whether an unmatched word still looks like a symbol the
// user meant, such as "FOOO"
func isTicker(w string) bool {
	return tickerRegex.MatchString(w) && strings.IndexFunc(w, func(r rune) bool { return r >= 'A' && r <= 'Z' }) >= 0
}

func isNumber(w string) bool {
	for _, r := range w {
		if r < '0' || r > '9' {
			return false
		}
	}
	return w != ""
}
