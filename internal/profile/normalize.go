package profile

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// RemoveDiacritics removes diacritical marks from a string (e.g., "Jiří" -> "Jiri").
func RemoveDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	result, _, _ := transform.String(t, s)
	return result
}

// NormalizeName normalizes a name for comparison: no diacritics, lowercase,
// dashes as spaces and runs of whitespace collapsed.
func NormalizeName(name string) string {
	name = RemoveDiacritics(name)
	name = strings.ToLower(name)
	name = strings.ReplaceAll(name, "-", " ")
	return strings.Join(strings.Fields(name), " ")
}

// MatchesName reports whether every word of query occurs in name, ignoring
// case and diacritics.
func MatchesName(name, query string) bool {
	n := NormalizeName(name)
	for _, word := range strings.Fields(NormalizeName(query)) {
		if !strings.Contains(n, word) {
			return false
		}
	}
	return true
}
