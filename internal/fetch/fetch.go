package fetch

import (
	"context"
	"html"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/doyensec/safeurl"
	readability "github.com/go-shiori/go-readability"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog/log"

	"github.com/TobiSchelling/tweetextract/internal/media"
	"github.com/TobiSchelling/tweetextract/internal/textutil"
)

const (
	DefaultMaxLinks = 3
	userAgent       = "tweetextract/1.0 (link preview)"
	excerptLen      = 280
	maxPageBytes    = 5 << 20
)

// Page metadata sometimes carries markup; previews are plain text.
var plainPolicy = bluemonday.StrictPolicy().AddSpaceWhenStrippingTag(true)

// Preview is the readable summary of a linked page.
type Preview struct {
	URL      string
	Title    string
	SiteName string
	Excerpt  string
}

// LinkFetcher fetches pages linked from posts and extracts a readable preview.
// It is safe for concurrent use.
type LinkFetcher struct {
	client   *http.Client
	maxLinks int

	mu            sync.Mutex
	cache         map[string]*Preview
	failedDomains map[string]struct{}
}

// NewLinkFetcher creates a link fetcher. A nil client selects an SSRF-safe
// client with the given timeout.
func NewLinkFetcher(client *http.Client, timeout time.Duration, maxLinks int) *LinkFetcher {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	if client == nil {
		config := safeurl.GetConfigBuilder().
			SetTimeout(timeout).
			SetAllowedSchemes("http", "https").
			SetAllowedPorts(80, 443).
			Build()
		client = safeurl.Client(config).Client
		client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return http.ErrUseLastResponse
			}
			return nil
		}
	}
	if maxLinks <= 0 {
		maxLinks = DefaultMaxLinks
	}
	return &LinkFetcher{
		client:        client,
		maxLinks:      maxLinks,
		cache:         make(map[string]*Preview),
		failedDomains: make(map[string]struct{}),
	}
}

// Previews returns previews for the article links in text. Post permalinks
// and image URLs are skipped; failures are dropped silently.
func (f *LinkFetcher) Previews(ctx context.Context, text string) []Preview {
	var previews []Preview
	seen := make(map[string]bool)
	for _, link := range media.ExtractURLs(text) {
		if len(previews) >= f.maxLinks {
			break
		}
		if seen[link] || !isArticleLink(link) {
			continue
		}
		seen[link] = true
		if p := f.preview(ctx, link); p != nil {
			previews = append(previews, *p)
		}
	}
	return previews
}

func (f *LinkFetcher) preview(ctx context.Context, link string) *Preview {
	domain := domainOf(link)

	f.mu.Lock()
	if p, ok := f.cache[link]; ok {
		f.mu.Unlock()
		return p
	}
	if _, failed := f.failedDomains[domain]; failed {
		f.mu.Unlock()
		return nil
	}
	f.mu.Unlock()

	p, httpErr := f.fetchPreview(ctx, link)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.cache[link] = p
	if httpErr != nil && domain != "" {
		f.failedDomains[domain] = struct{}{}
		log.Debug().Str("url", link).Str("domain", domain).Msg("HTTP error, skipping remaining links from domain")
	}
	return p
}

// fetchPreview returns an error only for HTTP status failures; other problems
// yield a nil preview without marking the domain.
func (f *LinkFetcher) fetchPreview(ctx context.Context, link string) (*Preview, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return nil, nil
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		log.Debug().Err(err).Str("url", link).Msg("link fetch failed")
		return nil, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, &httpError{code: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, nil
	}

	// Redirects (t.co) land somewhere else; resolve relative links against that.
	final := req.URL
	if resp.Request != nil {
		final = resp.Request.URL
	}
	article, err := readability.FromReader(strings.NewReader(string(body)), final)
	if err != nil {
		return nil, nil
	}

	excerpt := plainText(article.Excerpt)
	if excerpt == "" {
		excerpt = strings.Join(strings.Fields(article.TextContent), " ")
	}
	p := &Preview{
		URL:      final.String(),
		Title:    plainText(article.Title),
		SiteName: plainText(article.SiteName),
		Excerpt:  textutil.Truncate(excerpt, excerptLen),
	}
	if p.Title == "" && p.Excerpt == "" {
		return nil, nil
	}
	return p, nil
}

// plainText strips tags and entities and collapses whitespace.
func plainText(s string) string {
	return strings.Join(strings.Fields(html.UnescapeString(plainPolicy.Sanitize(s))), " ")
}

func isArticleLink(link string) bool {
	if media.IsImageURL(link) {
		return false
	}
	switch domainOf(link) {
	case "x.com", "www.x.com", "twitter.com", "www.twitter.com", "mobile.twitter.com", "pbs.twimg.com":
		return false
	}
	return true
}

func domainOf(link string) string {
	u, err := url.Parse(link)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Host)
}

type httpError struct {
	code int
}

func (e *httpError) Error() string {
	return http.StatusText(e.code)
}
