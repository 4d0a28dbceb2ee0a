// Package format holds text helpers for Telegram's HTML parse mode.
package format

import (
	"html"
	"strings"
	"unicode/utf8"
)

// Escape makes arbitrary text safe for ParseMode HTML.
func Escape(s string) string {
	return html.EscapeString(s)
}

// Truncate shortens s to at most limit runes, marking the cut with an ellipsis.
func Truncate(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	r := []rune(s)
	if limit == 1 {
		return "…"
	}
	return string(r[:limit-1]) + "…"
}

// Render substitutes {name} placeholders in tmpl. Values are escaped;
// the template itself is trusted HTML.
func Render(tmpl string, vars map[string]string) string {
	if len(vars) == 0 {
		return tmpl
	}
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", Escape(v))
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}
