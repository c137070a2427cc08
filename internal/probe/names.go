package probe

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// maxNameLen is the tightest identifier limit among the supported sinks
// (PostgreSQL truncates identifiers at 63 bytes).
const maxNameLen = 63

// identTransform strips diacritics: decompose, drop nonspacing marks,
// recompose.
var identTransform = transform.Chain(
	norm.NFD,
	runes.Remove(runes.In(unicode.Mn)),
	norm.NFC,
)

// normalizeName converts arbitrary header text into a lowercase identifier:
// accents are stripped, [a-z0-9] is kept, separator punctuation collapses to
// a single underscore, and everything else is dropped. An unusable header
// becomes "col".
func normalizeName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	ascii, _, _ := transform.String(identTransform, s)

	var b strings.Builder
	pendingSep := false
	for _, r := range ascii {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(r)
		case r == '_' || r == ' ' || r == '-' || r == '.' || r == '/':
			pendingSep = true
		}
	}
	name := b.String()
	if len(name) > maxNameLen {
		name = strings.TrimRight(name[:maxNameLen], "_")
	}
	if name == "" {
		return "col"
	}
	return name
}

// dedupeNames suffixes repeated names with _2, _3, ... so the proposed
// schema passes validation, which requires unique column names.
func dedupeNames(names []string) []string {
	used := make(map[string]bool, len(names))
	out := make([]string, len(names))
	for i, name := range names {
		n := name
		for k := 2; used[n]; k++ {
			n = fmt.Sprintf("%s_%d", name, k)
		}
		used[n] = true
		out[i] = n
	}
	return out
}
