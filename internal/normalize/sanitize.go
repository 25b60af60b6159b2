package normalize

import (
	"strings"
	"unicode"
)

// SanitizeText strips control characters (category Cc except newline and tab)
// and NUL bytes. Raw scraped text can carry them and they corrupt downstream
// JSON encoding, so this runs before hashing or storage.
func SanitizeText(s string) string {
	if s == "" {
		return s
	}

	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if r == 0 || unicode.Is(unicode.Cc, r) {
			return -1
		}
		return r
	}, s)
}
