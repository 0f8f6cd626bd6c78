package ai

import (
	"fmt"
	"strings"

	"github.com/edibez/cryptochat/pkg/types"
)

// UnresolvedEntityError means the intent needs more coins than the text named
type UnresolvedEntityError struct {
	Spans    []string // ticker-like words the catalog does not know
	Resolved int
	Need     int
}

func (e *UnresolvedEntityError) Error() string {
	if len(e.Spans) == 0 {
		return fmt.Sprintf("need %d coin(s), resolved %d", e.Need, e.Resolved)
	}
	return fmt.Sprintf("unknown coin(s): %s", strings.Join(e.Spans, ", "))
}

// AmbiguousEntityError means a span matched more than one catalog id
type AmbiguousEntityError struct {
	Span       string
	Candidates []string
}

func (e *AmbiguousEntityError) Error() string {
	return fmt.Sprintf("%q matches %d coins", e.Span, len(e.Candidates))
}

// UnsupportedIntentError means the classifier found no intent
type UnsupportedIntentError struct {
	Text string
}

func (e *UnsupportedIntentError) Error() string {
	return fmt.Sprintf("unsupported request: %q", e.Text)
}

// Check returns the problem that keeps intent from being answered with
// matches, or nil. Ambiguity is reported before missing coins.
func Check(intent types.Intent, text string, matches []types.EntityMatch) error {
	if intent == types.IntentUnknown {
		return &UnsupportedIntentError{Text: text}
	}
	if !intent.NeedsEntities() {
		return nil
	}

	for _, m := range matches {
		if m.Kind == types.MatchAmbiguous {
			return &AmbiguousEntityError{Span: m.RawSpan, Candidates: m.Candidates}
		}
	}

	need := 1
	if intent == types.IntentComparison {
		need = 2
	}
	resolved := len(ResolvedIDs(matches))
	if resolved >= need {
		return nil
	}
	return &UnresolvedEntityError{Spans: UnresolvedSpans(matches), Resolved: resolved, Need: need}
}

// ResolvedIDs returns the resolved ids in mention order
func ResolvedIDs(matches []types.EntityMatch) []string {
	var ids []string
	for _, m := range matches {
		if m.Kind == types.MatchResolved {
			ids = append(ids, m.ResolvedID)
		}
	}
	return ids
}

// UnresolvedSpans returns the spans nothing matched
func UnresolvedSpans(matches []types.EntityMatch) []string {
	var spans []string
	for _, m := range matches {
		if m.Kind == types.MatchUnresolved {
			spans = append(spans, m.RawSpan)
		}
	}
	return spans
}
