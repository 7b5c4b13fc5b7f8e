// Package parser derives tags, titles and excerpts from note content.
package parser

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var tagRe = regexp.MustCompile(`#(\w+)`)

const titleMaxRunes = 80

// Tags returns the #tags found in content, without the marker, in order of
// first occurrence and deduplicated. It never returns nil.
func Tags(content string) []string {
	matches := tagRe.FindAllStringSubmatch(content, -1)
	seen := make(map[string]struct{}, len(matches))
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		t := m[1]
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// Title returns the first non-blank line of content, shortened to a display
// length.
func Title(content string) string {
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed != "" {
			return Excerpt(trimmed, titleMaxRunes)
		}
	}
	return ""
}

// Excerpt cuts s to at most n runes, appending an ellipsis when shortened.
func Excerpt(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return strings.TrimRightFunc(string(runes[:n]), isSpace) + "…"
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r'
}
