// Package media finds the images attached to posts and downloads them into a
// report directory.
package media

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const (
	DefaultUserAgent     = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"
	DefaultMaxImageBytes = 20 << 20
	DefaultTimeout       = 20 * time.Second

	// Dir is the report subdirectory images are written to.
	Dir = "media"
)

var (
	mediaURLRe    = regexp.MustCompile(`https://pbs\.twimg\.com/media/[A-Za-z0-9_-]+(?:\.[A-Za-z0-9]+)?(?:\?[^\s"'<>]*)?`)
	textURLRe     = regexp.MustCompile(`(?i)\bhttps?://[^\s<>()]+`)
	trailingPunct = regexp.MustCompile(`[),.;!?]+$`)
	imageExtRe    = regexp.MustCompile(`(?i)\.(?:jpe?g|png|gif|webp|avif)(?:\?|$)`)
	urlExtRe      = regexp.MustCompile(`\.([a-zA-Z0-9]{2,5})(?:\?|$)`)
)

// Recorder receives scrape and download outcomes.
type Recorder interface {
	RecordPageFetch(ok bool)
	RecordImageDownload(ok bool)
}

type nopRecorder struct{}

func (nopRecorder) RecordPageFetch(bool)     {}
func (nopRecorder) RecordImageDownload(bool) {}

// Config configures a Collector. Zero values select the defaults.
type Config struct {
	UserAgent         string
	RequestsPerSecond float64
	MaxImageBytes     int64
	Timeout           time.Duration

	// PageClient fetches x.com post pages. DownloadClient fetches image URLs,
	// which come from post text and are untrusted.
	PageClient     *http.Client
	DownloadClient *http.Client
	Recorder       Recorder
}

// Collector discovers and downloads post images.
type Collector struct {
	userAgent string
	maxBytes  int64
	pages     *http.Client
	downloads *http.Client
	limiter   *rate.Limiter
	recorder  Recorder
}

// New creates a Collector.
func New(cfg Config) *Collector {
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.MaxImageBytes <= 0 {
		cfg.MaxImageBytes = DefaultMaxImageBytes
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.PageClient == nil {
		cfg.PageClient = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.DownloadClient == nil {
		cfg.DownloadClient = newSafeClient(cfg.Timeout)
	}
	if cfg.Recorder == nil {
		cfg.Recorder = nopRecorder{}
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	return &Collector{
		userAgent: cfg.UserAgent,
		maxBytes:  cfg.MaxImageBytes,
		pages:     cfg.PageClient,
		downloads: cfg.DownloadClient,
		limiter:   rate.NewLimiter(limit, 1),
		recorder:  cfg.Recorder,
	}
}

// newSafeClient blocks private, loopback and link-local targets as well as
// non-web ports.
func newSafeClient(timeout time.Duration) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes("http", "https").
		SetAllowedPorts(80, 443).
		Build()
	return safeurl.Client(config).Client
}

// PostRef is the part of a post the collector looks at.
type PostRef struct {
	ID   string
	Text string
}

// Session scopes downloads to one report. Every distinct URL and post page is
// requested at most once per session, failures included. A Session is not
// safe for concurrent use.
type Session struct {
	c            *Collector
	dir          string
	cookieHeader string
	downloaded   map[string]string
	pages        map[string][]string
}

// NewSession starts a session writing into reportDir/media.
func (c *Collector) NewSession(reportDir, cookieHeader string) *Session {
	return &Session{
		c:            c,
		dir:          filepath.Join(reportDir, Dir),
		cookieHeader: cookieHeader,
		downloaded:   make(map[string]string),
		pages:        make(map[string][]string),
	}
}

// Collect returns the report-relative paths ("media/…") of the images for one
// item: image URLs found in the posts' text first, then those scraped from each
// post's page, in discovery order without duplicates.
func (s *Session) Collect(ctx context.Context, anchorID string, posts []PostRef) []string {
	var urls []string
	seen := make(map[string]bool)
	add := func(u string) {
		if !seen[u] {
			seen[u] = true
			urls = append(urls, u)
		}
	}

	for _, p := range posts {
		for _, u := range ExtractURLs(p.Text) {
			if IsImageURL(u) {
				add(u)
			}
		}
	}

	ids := []string{}
	seenID := make(map[string]bool)
	for _, p := range posts {
		if p.ID != "" && !seenID[p.ID] {
			seenID[p.ID] = true
			ids = append(ids, p.ID)
		}
	}
	if anchorID != "" && !seenID[anchorID] {
		ids = append(ids, anchorID)
	}

	for _, id := range ids {
		for _, u := range s.pageImages(ctx, id) {
			add(u)
		}
	}

	var paths []string
	for _, u := range urls {
		if p, ok := s.Download(ctx, u); ok {
			paths = append(paths, p)
		}
	}
	return paths
}

func (s *Session) pageImages(ctx context.Context, id string) []string {
	if urls, ok := s.pages[id]; ok {
		return urls
	}
	urls, err := s.c.scrapePage(ctx, id, s.cookieHeader)
	if err != nil {
		log.Debug().Err(err).Str("post", id).Msg("post page scrape failed")
	}
	s.c.recorder.RecordPageFetch(err == nil)
	s.pages[id] = urls
	return urls
}

// Download fetches one image into the session's media directory and returns
// its report-relative path.
func (s *Session) Download(ctx context.Context, url string) (string, bool) {
	if p, ok := s.downloaded[url]; ok {
		return p, p != ""
	}

	p, err := s.c.download(ctx, url, s.dir)
	if err != nil {
		log.Debug().Err(err).Str("url", url).Msg("image download skipped")
	}
	s.c.recorder.RecordImageDownload(err == nil)
	s.downloaded[url] = p
	return p, p != ""
}

// PageURL is the public page of a post.
func PageURL(id string) string {
	return "https://x.com/i/status/" + id
}

func (c *Collector) scrapePage(ctx context.Context, id, cookieHeader string) ([]string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, PageURL(id), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	if cookieHeader != "" {
		req.Header.Set("Cookie", cookieHeader)
	}

	resp, err := c.pages.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, err
	}
	return ExtractMediaURLs(string(body)), nil
}

func (c *Collector) download(ctx context.Context, url, dir string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.downloads.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("status %d", resp.StatusCode)
	}
	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(strings.ToLower(contentType), "image/") {
		return "", fmt.Errorf("not an image: %q", contentType)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBytes+1))
	if err != nil {
		return "", err
	}
	if int64(len(data)) > c.maxBytes {
		return "", fmt.Errorf("image larger than %d bytes", c.maxBytes)
	}

	name := FileName(url, contentType)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating media dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		return "", fmt.Errorf("writing image: %w", err)
	}
	return Dir + "/" + name, nil
}

// FileName is the stable local name for an image URL.
func FileName(url, contentType string) string {
	sum := sha256.Sum256([]byte(url))
	return fmt.Sprintf("image-%s.%s", hex.EncodeToString(sum[:])[:12], extension(url, contentType))
}

func extension(url, contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err == nil {
		switch mediaType {
		case "image/jpeg":
			return "jpg"
		case "image/png":
			return "png"
		case "image/gif":
			return "gif"
		case "image/webp":
			return "webp"
		case "image/avif":
			return "avif"
		}
	}
	if m := urlExtRe.FindStringSubmatch(url); m != nil {
		return strings.ToLower(m[1])
	}
	return "img"
}

// ExtractURLs returns the http(s) URLs in text with trailing punctuation removed.
func ExtractURLs(text string) []string {
	matches := textURLRe.FindAllString(text, -1)
	urls := make([]string, 0, len(matches))
	for _, m := range matches {
		if u := trailingPunct.ReplaceAllString(m, ""); u != "" {
			urls = append(urls, u)
		}
	}
	return urls
}

// IsImageURL reports whether a URL points at X's media host or has an image
// file extension.
func IsImageURL(u string) bool {
	return mediaURLRe.MatchString(u) || imageExtRe.MatchString(u)
}
