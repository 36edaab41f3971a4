package report

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/TobiSchelling/tweetextract/internal/media"
	"github.com/TobiSchelling/tweetextract/internal/textutil"
)

const markdownHeadlineLen = 120

func (w *Writer) writeMarkdown(ctx context.Context, dir string, payload *Payload, cookieHeader string) (int, error) {
	var session *media.Session
	if w.media != nil {
		session = w.media.NewSession(dir, cookieHeader)
	}

	images := 0
	for _, item := range payload.Items {
		var paths []string
		if session != nil {
			paths = session.Collect(ctx, item.ID, mediaRefs(item))
			images += len(paths)
		}
		path := filepath.Join(dir, itemsDir, itemFile(item.ID, ".md"))
		if err := writeFile(path, markdownItem(item, paths)); err != nil {
			return images, err
		}
	}

	if err := writeFile(filepath.Join(dir, markdownFile), markdownIndex(payload)); err != nil {
		return images, err
	}
	return images, nil
}

func mediaRefs(item Item) []media.PostRef {
	refs := make([]media.PostRef, 0, len(item.Thread))
	for _, p := range item.Thread {
		refs = append(refs, media.PostRef{ID: p.ID, Text: p.Text})
	}
	return refs
}

func markdownIndex(payload *Payload) string {
	lines := []string{
		"# Bookmark Report",
		"",
		"Generated: " + payload.Meta.GeneratedAt,
		fmt.Sprintf("Count: %d", payload.Meta.Count),
	}
	if payload.Meta.Duration != "" {
		lines = append(lines, "Duration: "+payload.Meta.Duration)
	}
	lines = append(lines, "")

	for _, item := range payload.Items {
		headline := oneLine(item.Headline(markdownHeadlineLen))
		lines = append(lines, fmt.Sprintf("- **@%s** %s ([details](%s/%s))",
			item.AuthorUsername, headline, itemsDir, itemFile(item.ID, ".md")))
	}

	return strings.TrimRight(strings.Join(lines, "\n"), "\n") + "\n"
}

func markdownItem(item Item, images []string) string {
	var lines []string
	lines = append(lines,
		fmt.Sprintf("# @%s: %s", item.AuthorUsername, oneLine(item.Headline(markdownHeadlineLen))),
		"",
		"- URL: "+item.URL,
		fmt.Sprintf("- Author: %s (@%s)", item.AuthorName, item.AuthorUsername),
	)
	if item.CreatedAt != "" {
		lines = append(lines, "- Created: "+item.CreatedAt)
	}
	if len(item.Tags) > 0 {
		lines = append(lines, "- Tags: "+strings.Join(item.Tags, ", "))
	}
	lines = append(lines, "")

	if item.Summary != "" {
		lines = append(lines, "## Summary", "", item.Summary, "")
	}

	if item.Quoted != nil {
		lines = append(lines, "## Quoted post", "", fmt.Sprintf("> **@%s** (%s)", item.Quoted.AuthorUsername, item.Quoted.URL))
		for _, l := range strings.Split(strings.ReplaceAll(item.Quoted.Text, "\r\n", "\n"), "\n") {
			lines = append(lines, strings.TrimRight("> "+l, " "))
		}
		lines = append(lines, "")
	}

	if len(item.Links) > 0 {
		lines = append(lines, "## Links", "")
		for _, l := range item.Links {
			title := l.Title
			if title == "" {
				title = l.URL
			}
			line := fmt.Sprintf("- [%s](%s)", title, l.URL)
			if l.Excerpt != "" {
				line += ": " + oneLine(l.Excerpt)
			}
			lines = append(lines, line)
		}
		lines = append(lines, "")
	}

	if len(images) > 0 {
		lines = append(lines, "## Images", "")
		for i, img := range images {
			lines = append(lines, fmt.Sprintf("![image-%d](../%s)", i+1, img))
		}
		lines = append(lines, "")
	}

	lines = append(lines, "## Thread", "")
	for _, p := range item.Thread {
		header := "- **@" + p.AuthorUsername + "**"
		if p.CreatedAt != "" {
			header += " · " + p.CreatedAt
		}
		lines = append(lines, header, "  "+textutil.IndentMultiline(p.Text, "  "))
	}
	lines = append(lines, "", "[Back to report](../"+markdownFile+")")

	return strings.Join(lines, "\n") + "\n"
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
