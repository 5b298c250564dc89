package usecase

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	tagPattern = regexp.MustCompile(`<[^>]*?>`)
	// Whitespace is the full Unicode set: ASCII \s plus \v, the
	// information separators, NEL and every Z category rune.
	disallowedPattern = regexp.MustCompile(`[^a-zA-Z0-9\s\v\x1c-\x1f\x{85}\p{Z}.,!?-]`)
)

// Sanitize strips tag-like fragments and every character outside ASCII
// letters, digits, whitespace and ". , ! ? -", then trims the result.
// The output is always a subsequence of the input.
func Sanitize(text string) string {
	text = tagPattern.ReplaceAllString(text, "")
	text = disallowedPattern.ReplaceAllString(text, "")
	return strings.TrimFunc(text, isSpace)
}

func isSpace(r rune) bool {
	return unicode.IsSpace(r) || (r >= 0x1c && r <= 0x1f)
}
