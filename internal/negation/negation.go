// Package negation implements the windowed negation check from spec.md
// §4.7: given a mention's local context within its own source field, flag
// it as negated using a fixed set of word-boundary-anchored phrases.
package negation

import "regexp"

// Config holds the negation window size; spec.md §4.7/§6 default is 60.
type Config struct {
	WindowChars int
}

// DefaultConfig matches spec.md §6's documented default window.
func DefaultConfig() Config {
	return Config{WindowChars: 60}
}

// patterns are the fixed, case-insensitive, word-boundary-anchored
// negation cues from spec.md §4.7.
var patterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bno\b`),
	regexp.MustCompile(`(?i)\bnot\b`),
	regexp.MustCompile(`(?i)\bwithout\b`),
	regexp.MustCompile(`(?i)\bnegative for\b`),
	regexp.MustCompile(`(?i)\bno evidence of\b`),
}

// IsNegated reports whether any negation cue appears within window W chars
// on either side of [start, end) in fieldText (spec.md §4.7: examines
// fieldText[max(0, start-W):min(len, end+W)]).
func IsNegated(fieldText string, start, end, windowChars int) bool {
	if windowChars <= 0 {
		windowChars = DefaultConfig().WindowChars
	}
	lo := start - windowChars
	if lo < 0 {
		lo = 0
	}
	hi := end + windowChars
	if hi > len(fieldText) {
		hi = len(fieldText)
	}
	if lo >= hi || lo > len(fieldText) {
		return false
	}
	window := fieldText[lo:hi]
	for _, p := range patterns {
		if p.MatchString(window) {
			return true
		}
	}
	return false
}
