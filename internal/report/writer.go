package report

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/TobiSchelling/tweetextract/internal/media"
)

const (
	jsonFile     = "report.json"
	markdownFile = "report.md"
	indexFile    = "index.html"
	itemsDir     = "tweets"
)

// Writer renders payloads into report directories.
type Writer struct {
	media *media.Collector
	pages *pageSet
}

// NewWriter creates a Writer. A nil collector disables image downloads.
func NewWriter(collector *media.Collector) (*Writer, error) {
	pages, err := parsePages()
	if err != nil {
		return nil, err
	}
	return &Writer{media: collector, pages: pages}, nil
}

// Write renders payload under opts.RootDir. report.json is always written;
// the format selects the human-readable rendering next to it.
func (w *Writer) Write(ctx context.Context, payload *Payload, opts Options) (*Result, error) {
	format, err := ParseFormat(opts.Format)
	if err != nil {
		return nil, err
	}

	dir := filepath.Join(opts.RootDir, SanitizeName(opts.ReportName))
	if err := os.MkdirAll(filepath.Join(dir, itemsDir), 0o755); err != nil {
		return nil, fmt.Errorf("creating report dir: %w", err)
	}

	if err := writeJSON(filepath.Join(dir, jsonFile), payload); err != nil {
		return nil, err
	}

	result := &Result{Dir: dir, Format: format}
	switch format {
	case FormatHTML:
		err = w.writeHTML(dir, payload)
	default:
		result.Images, err = w.writeMarkdown(ctx, dir, payload, opts.CookieHeader)
	}
	if err != nil {
		return nil, err
	}

	log.Debug().Str("dir", dir).Str("format", string(format)).Int("items", len(payload.Items)).Msg("report written")
	return result, nil
}

func writeJSON(path string, payload *Payload) error {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}
	return nil
}

func writeFile(path, content string) error {
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}
	return nil
}

// itemFile is the per-item file name. Post ids come from upstream, so they go
// through the same sanitizer as report names.
func itemFile(id, ext string) string {
	return SanitizeName(id) + ext
}
