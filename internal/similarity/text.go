// Package similarity provides the string and geographic distance primitives
// used by the field scorers.
package similarity

import (
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"
)

// Normalize lowercases text, strips punctuation and collapses whitespace so
// that cosmetic differences do not affect comparison.
func Normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// EditDistance returns the Levenshtein distance between the normalized forms
// of a and b.
func EditDistance(a, b string) int {
	return levenshtein.ComputeDistance(Normalize(a), Normalize(b))
}

// StringSimilarity returns 1 - editDistance/maxLen over normalized strings.
// Two empty strings are identical; one empty string matches nothing.
func StringSimilarity(a, b string) float64 {
	na, nb := Normalize(a), Normalize(b)
	if na == "" && nb == "" {
		return 1
	}
	if na == "" || nb == "" {
		return 0
	}
	maxLen := len([]rune(na))
	if l := len([]rune(nb)); l > maxLen {
		maxLen = l
	}
	dist := levenshtein.ComputeDistance(na, nb)
	return 1 - float64(dist)/float64(maxLen)
}

// JaccardSimilarity tokenizes both strings into word sets and returns
// |intersection| / |union|. Both-empty is 1, exactly-one-empty is 0.
func JaccardSimilarity(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)
	if len(setA) == 0 && len(setB) == 0 {
		return 1
	}
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}

	intersection := 0
	for tok := range setA {
		if setB[tok] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	return float64(intersection) / float64(union)
}

func tokenSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range strings.Fields(Normalize(s)) {
		set[tok] = true
	}
	return set
}
