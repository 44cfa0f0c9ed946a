// Package refiner rewrites raw user queries into search-optimized form.
//
// Refinement is purely local and best-effort: it never fails and never makes
// a remote call. When the heuristics cannot improve a query, the raw query is
// returned unchanged with WasRefined false.
package refiner

import (
	"regexp"
	"strings"

	"github.com/researchgenie/ai-service/internal/domain"
)

// Heuristic thresholds for refinement.
const (
	// stopWordMinQueryLen is the minimum word count before stop words are
	// removed; short queries keep every word to preserve context.
	stopWordMinQueryLen = 6

	// academicEnhanceMaxLen is the maximum word count for appending an
	// academic keyword to a generic query.
	academicEnhanceMaxLen = 7

	// keyTermMinLen is the minimum length of a word to count as a key term.
	keyTermMinLen = 4
)

var (
	whitespaceRe  = regexp.MustCompile(`\s+`)
	punctuationRe = regexp.MustCompile(`[^\w\s\-]`)
)

// stopWords are filler words removed from sufficiently long queries.
var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "is": {}, "are": {}, "was": {},
	"were": {}, "be": {}, "been": {}, "what": {}, "how": {},
	"where": {}, "when": {}, "why": {}, "which": {},
}

// academicKeywords mark a query as already search-oriented.
var academicKeywords = []string{"research", "study", "paper", "analysis", "survey"}

// QueryRefiner refines user queries for better scraper results.
type QueryRefiner struct{}

// New creates a QueryRefiner.
func New() *QueryRefiner {
	return &QueryRefiner{}
}

// Refine rewrites the raw query into a search-optimized form. It never
// returns an error; when nothing can be improved the raw query comes back
// with WasRefined false.
func (r *QueryRefiner) Refine(rawQuery string) domain.RefinedQuery {
	refined := strings.ToLower(strings.TrimSpace(rawQuery))
	if refined == "" {
		return domain.RefinedQuery{Text: rawQuery, WasRefined: false}
	}

	refined = punctuationRe.ReplaceAllString(refined, " ")
	refined = whitespaceRe.ReplaceAllString(refined, " ")
	refined = strings.TrimSpace(refined)

	words := strings.Fields(refined)
	if len(words) >= stopWordMinQueryLen {
		kept := words[:0]
		for _, w := range words {
			if _, isStop := stopWords[w]; isStop && len(w) <= 3 {
				continue
			}
			kept = append(kept, w)
		}
		words = kept
	}
	refined = strings.Join(words, " ")

	refined = enhanceAcademicContext(refined)

	if refined == "" || refined == rawQuery {
		return domain.RefinedQuery{Text: rawQuery, WasRefined: false}
	}
	return domain.RefinedQuery{Text: refined, WasRefined: true}
}

// KeyTerms extracts the key terms of a query: non-stop-words of at least
// keyTermMinLen characters, in query order.
func (r *QueryRefiner) KeyTerms(query string) []string {
	var terms []string
	for _, w := range strings.Fields(strings.ToLower(query)) {
		if _, isStop := stopWords[w]; isStop {
			continue
		}
		if len(w) < keyTermMinLen {
			continue
		}
		terms = append(terms, w)
	}
	return terms
}

// enhanceAcademicContext appends a research keyword to short generic queries
// so the scraper favors academic results.
func enhanceAcademicContext(query string) string {
	if query == "" {
		return query
	}
	for _, kw := range academicKeywords {
		if strings.Contains(query, kw) {
			return query
		}
	}
	if len(strings.Fields(query)) < academicEnhanceMaxLen+1 {
		return query + " research"
	}
	return query
}
