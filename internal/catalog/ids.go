package catalog

import (
	"regexp"
	"strings"
)

var crossRefPattern = regexp.MustCompile(`^tt\d{5,10}$`)

// IsCrossRef reports whether id looks like an external cross-reference id (tt1234567).
func IsCrossRef(id string) bool {
	return crossRefPattern.MatchString(id)
}

// FallbackID builds the deterministic fallback identifier for a site-native id.
func FallbackID(siteID string) string {
	return FallbackPrefix + siteID
}

// SiteIDFrom extracts the site-native id from a fallback or legacy identifier.
func SiteIDFrom(id string) (string, bool) {
	for _, prefix := range []string{FallbackPrefix, LegacyPrefix} {
		if rest, ok := strings.CutPrefix(id, prefix); ok && rest != "" {
			return rest, true
		}
	}
	return "", false
}

// SupportedID reports whether id is a form the addon can resolve.
func SupportedID(id string) bool {
	if IsCrossRef(id) {
		return true
	}
	_, ok := SiteIDFrom(id)
	return ok
}
