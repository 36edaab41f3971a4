// Package report writes a bookmark run to disk as JSON plus either Markdown
// (with downloaded images) or a small static HTML site.
package report

import (
	"errors"
	"fmt"
	"strings"

	"github.com/TobiSchelling/tweetextract/internal/textutil"
)

// ErrInvalidFormat is returned for an output format other than markdown or html.
var ErrInvalidFormat = errors.New("invalid format")

// Format is an output format.
type Format string

const (
	FormatMarkdown Format = "markdown"
	FormatHTML     Format = "html"
)

// ParseFormat normalizes a format name. Empty selects markdown; "md" is an
// alias for markdown.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "markdown", "md":
		return FormatMarkdown, nil
	case "html":
		return FormatHTML, nil
	default:
		return "", fmt.Errorf("%w %q (allowed: markdown, html)", ErrInvalidFormat, s)
	}
}

// Post is one post of a thread as it appears in the report.
type Post struct {
	ID             string `json:"id"`
	URL            string `json:"url"`
	Text           string `json:"text"`
	AuthorName     string `json:"authorName"`
	AuthorUsername string `json:"authorUsername"`
	CreatedAt      string `json:"createdAt,omitempty"`
}

// LinkPreview is the readable summary of a page a post links to.
type LinkPreview struct {
	URL      string `json:"url"`
	Title    string `json:"title,omitempty"`
	SiteName string `json:"siteName,omitempty"`
	Excerpt  string `json:"excerpt,omitempty"`
}

// Item is one bookmarked post with its thread and optional analysis.
type Item struct {
	ID             string        `json:"id"`
	URL            string        `json:"url"`
	Text           string        `json:"text"`
	AuthorName     string        `json:"authorName"`
	AuthorUsername string        `json:"authorUsername"`
	CreatedAt      string        `json:"createdAt,omitempty"`
	Thread         []Post        `json:"thread"`
	Summary        string        `json:"summary,omitempty"`
	Tags           []string      `json:"tags,omitempty"`
	Quoted         *Post         `json:"quoted,omitempty"`
	Links          []LinkPreview `json:"links,omitempty"`
}

// Headline is the summary when there is one, otherwise the body cut to max runes.
func (it Item) Headline(max int) string {
	if it.Summary != "" {
		return it.Summary
	}
	return textutil.Truncate(it.Text, max)
}

// Meta describes the run that produced a report.
type Meta struct {
	GeneratedAt string `json:"generatedAt"`
	Source      string `json:"source"`
	Count       int    `json:"count"`
	Duration    string `json:"duration,omitempty"`
	RunID       string `json:"runId,omitempty"`
}

// Payload is everything a report is rendered from.
type Payload struct {
	Meta  Meta   `json:"meta"`
	Items []Item `json:"items"`
}

// Options controls where and how a report is written.
type Options struct {
	ReportName   string
	RootDir      string
	Format       string
	CookieHeader string
}

// Result describes a written report.
type Result struct {
	Dir    string
	Format Format
	Images int
}
