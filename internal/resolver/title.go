package resolver

import (
	"strings"
	"unicode"

	"github.com/mozillazg/go-unidecode"
)

// NormalizeTitle folds a title for equality checks: transliterated to ASCII,
// lower-cased, "&" spelled "and", punctuation dropped, whitespace collapsed.
func NormalizeTitle(s string) string {
	s = unidecode.Unidecode(s)
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, "&", " and ")
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r) || r == '-' || r == '_' || r == '/':
			b.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// firstToken returns the first whitespace-separated token of a normalized title.
func firstToken(s string) string {
	fields := strings.Fields(NormalizeTitle(s))
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// tokensAgree reports whether the first tokens are equal or one prefixes the other.
func tokensAgree(a, b string) bool {
	ta, tb := firstToken(a), firstToken(b)
	if ta == "" || tb == "" {
		return false
	}
	return strings.HasPrefix(ta, tb) || strings.HasPrefix(tb, ta)
}
