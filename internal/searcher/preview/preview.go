// Package preview builds the short text snippet shown with each result.
package preview

import (
	"strings"
	"unicode"
)

// DefaultMaxChars is the preview budget in runes.
const DefaultMaxChars = 200

// Ellipsis marks a preview that was cut mid-sentence.
const Ellipsis = "..."

// sentenceTerminators covers CJK and Latin sentence ends.
const sentenceTerminators = "。.!?！？"

// Create returns text unchanged when it fits in maxChars runes. Otherwise it
// cuts after the last sentence terminator that falls in the trailing 30% of
// the budget, or hard-cuts at maxChars and appends an ellipsis.
func Create(text string, maxChars int) string {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	runes := []rune(text)
	if len(runes) <= maxChars {
		return text
	}
	truncated := runes[:maxChars]
	threshold := float64(maxChars) * 0.7
	for i := len(truncated) - 1; float64(i) > threshold; i-- {
		if isSentenceEnd(runes, i) {
			return string(truncated[:i+1])
		}
	}
	return string(truncated) + Ellipsis
}

// isSentenceEnd reports whether runes[i] ends a sentence. A Latin full stop
// only counts when followed by whitespace or the end of text, so decimals,
// version numbers and host names are not split.
func isSentenceEnd(runes []rune, i int) bool {
	r := runes[i]
	if !strings.ContainsRune(sentenceTerminators, r) {
		return false
	}
	if r != '.' || i+1 == len(runes) {
		return true
	}
	return unicode.IsSpace(runes[i+1])
}
