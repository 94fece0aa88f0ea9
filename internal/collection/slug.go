package collection

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Slug derives a collection id from its display name: accents are folded, spaces and
// underscores become dashes, every other non word character is dropped and the result is lowercased.
func Slug(name string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, name)
	if err != nil {
		folded = name
	}

	var sb strings.Builder
	sb.Grow(len(folded))
	for _, r := range folded {
		switch {
		case r == ' ' || r == '_' || r == '-':
			sb.WriteRune('-')
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			sb.WriteRune(unicode.ToLower(r))
		}
	}
	return sb.String()
}
