package pipeline

import (
	"strings"
	"unicode/utf8"

	"github.com/texttheater/golang-levenshtein/levenshtein"

	"github.com/dvloznov/budget-autopilot/internal/domain"
)

// MatchKind tells how a model-proposed category was resolved.
type MatchKind string

const (
	MatchExact      MatchKind = "exact"
	MatchNormalized MatchKind = "normalized"
	MatchFuzzy      MatchKind = "fuzzy"
	MatchNone       MatchKind = "none"
)

// minContainedLength is the shortest name accepted as a substring match.
const minContainedLength = 4

// CategoryResolver validates model output against the known category set.
type CategoryResolver struct {
	names      []string
	exact      map[string]struct{}
	normalized map[string]string // normalized name -> canonical name
	threshold  float64
}

// NewCategoryResolver creates a resolver for the given category names.
// threshold is the minimum Levenshtein ratio for a fuzzy match.
func NewCategoryResolver(names []string, threshold float64) *CategoryResolver {
	r := &CategoryResolver{
		names:      names,
		exact:      make(map[string]struct{}, len(names)),
		normalized: make(map[string]string, len(names)),
		threshold:  threshold,
	}
	for _, name := range names {
		r.exact[name] = struct{}{}
		if _, taken := r.normalized[normalizeCategory(name)]; !taken {
			r.normalized[normalizeCategory(name)] = name
		}
	}
	return r
}

// Resolve maps a proposed category to a known name. Unresolvable proposals
// yield domain.UncategorizedCategory and MatchNone.
func (r *CategoryResolver) Resolve(proposed string) (string, MatchKind) {
	if _, ok := r.exact[proposed]; ok {
		return proposed, MatchExact
	}

	norm := normalizeCategory(proposed)
	if norm == "" || norm == normalizeCategory(domain.UncategorizedCategory) {
		return domain.UncategorizedCategory, MatchNone
	}
	if name, ok := r.normalized[norm]; ok {
		return name, MatchNormalized
	}

	best, bestRatio := "", 0.0
	for _, name := range r.names {
		ratio := similarity(norm, normalizeCategory(name))
		if ratio > bestRatio {
			best, bestRatio = name, ratio
		}
	}
	if best != "" && bestRatio >= r.threshold {
		return best, MatchFuzzy
	}
	return domain.UncategorizedCategory, MatchNone
}

// similarity scores two normalized names between 0 and 1. A name contained
// in the other counts as a full match.
func similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	shorter, longer := a, b
	if utf8.RuneCountInString(shorter) > utf8.RuneCountInString(longer) {
		shorter, longer = longer, shorter
	}
	if utf8.RuneCountInString(shorter) >= minContainedLength && strings.Contains(longer, shorter) {
		return 1
	}
	return levenshtein.RatioForStrings([]rune(a), []rune(b), levenshtein.DefaultOptions)
}

// normalizeCategory normalizes a category name for comparison.
// Converts to uppercase, trims and collapses whitespace.
func normalizeCategory(name string) string {
	return strings.ToUpper(strings.Join(strings.Fields(name), " "))
}
