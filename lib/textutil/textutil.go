package textutil

import (
	"regexp"
	"strings"
)

// longest name component we will create on disk
const maxNameLength = 120

var (
	illegalRegex    = regexp.MustCompile(`[\\/*?:"<>|]`)
	whitespaceRegex = regexp.MustCompile(`\s+`)
)

// SanitizeName turns free-form link text into a string that is safe to use
// as a file or directory component. Illegal path characters are removed,
// whitespace runs collapse to a single space, and the result is trimmed and
// capped at 120 characters. Applying it twice changes nothing.
func SanitizeName(name string) string {
	name = illegalRegex.ReplaceAllString(name, "")
	name = whitespaceRegex.ReplaceAllString(name, " ")
	name = strings.TrimSpace(name)

	runes := []rune(name)
	if len(runes) > maxNameLength {
		// the cut can land after a space, which a second pass would
		// then trim, so trim it now to stay idempotent
		name = strings.TrimRight(string(runes[:maxNameLength]), " ")
	}
	return name
}

// MatchName reports whether any of the matchers occurs in name,
// case-insensitively. Matching is by substring so that short forms like "7"
// or "Grade 7" both hit the label "Grade 7".
func MatchName(name string, matchers []string) bool {
	name = strings.ToLower(name)
	for _, m := range matchers {
		if strings.Contains(name, strings.ToLower(m)) {
			return true
		}
	}
	return false
}
