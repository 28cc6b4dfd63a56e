// Package normalize implements the deterministic string normalization used
// by lexical maps and dedup keys.
package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Text applies Unicode NFKC, lowercases, replaces any non-alphanumeric rune
// with a single space, collapses whitespace, and trims. Pure and total.
func Text(s string) string {
	folded := norm.NFKC.String(s)
	folded = strings.ToLower(folded)

	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
