package resolver

import (
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

// Scorer rates the similarity of two strings on a 0..100 scale. A nil Scorer
// disables the fuzzy fallback entirely.
type Scorer interface {
	Score(a, b string) float64
}

// LevenshteinScorer scores by edit distance normalized over the longer
// string, so one typo in a long designator is not punished as hard as in a
// short one.
type LevenshteinScorer struct{}

func (LevenshteinScorer) Score(a, b string) float64 {
	longest := utf8.RuneCountInString(a)
	if lb := utf8.RuneCountInString(b); lb > longest {
		longest = lb
	}
	if longest == 0 {
		return 100
	}
	dist := levenshtein.ComputeDistance(a, b)
	return 100 * (1 - float64(dist)/float64(longest))
}
