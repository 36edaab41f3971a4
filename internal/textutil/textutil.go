// Package textutil holds the small string helpers shared by the report renderers.
package textutil

import "strings"

var htmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&#39;",
)

// EscapeHTML escapes the five characters that are unsafe in HTML text and
// attribute values.
func EscapeHTML(s string) string {
	return htmlEscaper.Replace(s)
}

// FormatMultiline escapes s and turns each newline into a <br /> tag.
func FormatMultiline(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(EscapeHTML(s), "\n", "<br />")
}

// Truncate shortens s to at most max runes, ending with an ellipsis when cut.
func Truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	if max <= 1 {
		return "…"
	}
	return string(runes[:max-1]) + "…"
}

// IndentMultiline trims trailing space from each line and joins the lines
// with the given indent, for nesting text under a Markdown list item.
func IndentMultiline(s, indent string) string {
	lines := strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.Join(lines, "\n"+indent)
}
