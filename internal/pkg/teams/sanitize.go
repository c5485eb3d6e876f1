package teams

import (
	"regexp"
	"strings"
)

var (
	teamWordPattern   = regexp.MustCompile(`(?i)t[e3][a4@]m`)
	whitespacePattern = regexp.MustCompile(`[\s\p{Z}]+`)
)

// SanitizeTeamName strips every spelling of the word "team" (including 3/4/@ substitutions),
// collapses whitespace and trims. Stripping repeats until nothing matches, so nested input
// like "teteamam" cannot reassemble the word.
func SanitizeTeamName(name string) string {
	s := name
	for {
		next := teamWordPattern.ReplaceAllString(s, "")
		if next == s {
			break
		}
		s = next
	}
	s = whitespacePattern.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
