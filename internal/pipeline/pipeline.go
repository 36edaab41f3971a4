// Package pipeline runs the bookmarks command: credentials, fetch, filter,
// per-post thread and summary, then the report.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/TobiSchelling/tweetextract/internal/config"
	"github.com/TobiSchelling/tweetextract/internal/duration"
	"github.com/TobiSchelling/tweetextract/internal/fetch"
	"github.com/TobiSchelling/tweetextract/internal/llm"
	"github.com/TobiSchelling/tweetextract/internal/media"
	"github.com/TobiSchelling/tweetextract/internal/metrics"
	"github.com/TobiSchelling/tweetextract/internal/report"
	"github.com/TobiSchelling/tweetextract/internal/xclient"
)

const (
	DefaultCount       = 50
	DefaultTimeoutMS   = 15000
	DefaultQuoteDepth  = 2
	DefaultConcurrency = 1

	reportSource = "bookmarks"
	isoLayout    = "2006-01-02T15:04:05.000Z"
)

const missingCookiesMsg = "Missing required cookies (authToken, ct0). Provide --auth-token/--ct0 or enable browser cookie extraction."

// Options are the bookmarks command's flags.
type Options struct {
	Count          int
	Duration       string
	Out            string
	Format         string
	LLM            bool
	CookieSource   string
	AuthToken      string
	CT0            string
	ChromeProfile  string
	FirefoxProfile string
	TimeoutMS      int
	QuoteDepth     int
	Concurrency    int
	FailFast       bool
	FetchLinks     bool
	MetricsFile    string
}

// DefaultOptions returns the flag defaults.
func DefaultOptions() Options {
	return Options{
		Count:        DefaultCount,
		Format:       string(report.FormatMarkdown),
		LLM:          true,
		CookieSource: string(xclient.CookieSourceSafari),
		TimeoutMS:    DefaultTimeoutMS,
		QuoteDepth:   DefaultQuoteDepth,
		Concurrency:  DefaultConcurrency,
	}
}

// Summarizer turns a post and its context into a summary.
type Summarizer interface {
	Summarize(ctx context.Context, text string) (*llm.Summary, error)
}

// LinkPreviewer fetches previews for the links in a post.
type LinkPreviewer interface {
	Previews(ctx context.Context, text string) []fetch.Preview
}

// ReportWriter renders a payload to disk.
type ReportWriter interface {
	Write(ctx context.Context, payload *report.Payload, opts report.Options) (*report.Result, error)
}

// Pipeline wires the collaborators of one bookmarks run. The function fields
// default to the real implementations and are replaced in tests.
type Pipeline struct {
	cfg     *config.Config
	stdout  io.Writer
	stderr  io.Writer
	metrics *metrics.Collector

	Now           func() time.Time
	Getenv        func(string) string
	Resolver      xclient.CredentialResolver
	NewSource     func(creds xclient.Credentials, opts Options) xclient.Source
	NewSummarizer func(settings llm.Settings) (Summarizer, error)
	NewLinks      func(opts Options) LinkPreviewer
	NewWriter     func(rec media.Recorder) (ReportWriter, error)

	warnMu sync.Mutex
}

// Result describes a finished run.
type Result struct {
	Dir      string
	Items    int
	Fetched  int
	Filtered int
	RunID    string
}

// New creates a pipeline printing user-facing lines to stdout and stderr.
func New(cfg *config.Config, stdout, stderr io.Writer) *Pipeline {
	p := &Pipeline{
		cfg:     cfg,
		stdout:  stdout,
		stderr:  stderr,
		metrics: metrics.New(),
		Now:     time.Now,
		Getenv:  os.Getenv,
	}
	p.Resolver = xclient.NewBirdResolver(cfg.Bird.Path)
	p.NewSource = func(creds xclient.Credentials, opts Options) xclient.Source {
		return xclient.NewBird(xclient.BirdConfig{
			Path:        cfg.Bird.Path,
			Credentials: creds,
			Timeout:     time.Duration(opts.TimeoutMS) * time.Millisecond,
			QuoteDepth:  opts.QuoteDepth,
		})
	}
	p.NewSummarizer = func(settings llm.Settings) (Summarizer, error) {
		return llm.New(settings)
	}
	p.NewLinks = func(opts Options) LinkPreviewer {
		return fetch.NewLinkFetcher(nil, time.Duration(opts.TimeoutMS)*time.Millisecond, fetch.DefaultMaxLinks)
	}
	p.NewWriter = func(rec media.Recorder) (ReportWriter, error) {
		collector := media.New(media.Config{
			UserAgent:         cfg.Media.UserAgent,
			RequestsPerSecond: cfg.Media.RequestsPerSecond,
			MaxImageBytes:     cfg.Media.MaxImageBytes,
			Recorder:          rec,
		})
		return report.NewWriter(collector)
	}
	return p
}

// Metrics exposes the run counters.
func (p *Pipeline) Metrics() *metrics.Collector { return p.metrics }

type validated struct {
	sources  []xclient.CookieSource
	window   time.Duration
	timeout  time.Duration
	format   report.Format
	duration string
}

// validate checks opts without touching the network.
func validate(opts Options) (*validated, error) {
	sources, err := ParseCookieSources(opts.CookieSource)
	if err != nil {
		return nil, err
	}
	if opts.Count <= 0 {
		return nil, &ValidationError{Msg: "--count must be a positive number"}
	}
	if opts.TimeoutMS <= 0 {
		return nil, &ValidationError{Msg: "--timeout-ms must be a positive number"}
	}
	if opts.QuoteDepth < 0 {
		return nil, &ValidationError{Msg: "--quote-depth must be zero or greater"}
	}
	if opts.Concurrency < 1 {
		return nil, &ValidationError{Msg: "--concurrency must be at least 1"}
	}

	format, err := report.ParseFormat(opts.Format)
	if err != nil {
		return nil, &ValidationError{Msg: "--format", Err: err}
	}

	v := &validated{
		sources: sources,
		timeout: time.Duration(opts.TimeoutMS) * time.Millisecond,
		format:  format,
	}
	if strings.TrimSpace(opts.Duration) != "" {
		d, err := duration.Parse(opts.Duration)
		if err != nil {
			return nil, &ValidationError{Msg: "--duration", Err: err}
		}
		v.window = d
		v.duration = duration.Format(d)
	}
	return v, nil
}

// ParseCookieSources parses a comma-separated list of cookie stores. An empty
// list selects Safari.
func ParseCookieSources(input string) ([]xclient.CookieSource, error) {
	var candidates []string
	for _, part := range strings.Split(input, ",") {
		if v := strings.ToLower(strings.TrimSpace(part)); v != "" {
			candidates = append(candidates, v)
		}
	}
	if len(candidates) == 0 {
		return []xclient.CookieSource{xclient.CookieSourceSafari}, nil
	}

	allowed := make(map[string]bool)
	names := make([]string, 0, len(xclient.CookieSources))
	for _, s := range xclient.CookieSources {
		allowed[string(s)] = true
		names = append(names, string(s))
	}

	var sources []xclient.CookieSource
	var invalid []string
	for _, c := range candidates {
		if !allowed[c] {
			invalid = append(invalid, c)
			continue
		}
		sources = append(sources, xclient.CookieSource(c))
	}
	if len(invalid) > 0 {
		return nil, &ValidationError{Msg: fmt.Sprintf("Invalid --cookie-source value(s): %s. Allowed: %s.",
			strings.Join(invalid, ", "), strings.Join(names, ", "))}
	}
	return sources, nil
}

// Run executes one bookmarks run.
func (p *Pipeline) Run(ctx context.Context, opts Options) (*Result, error) {
	start := p.Now()
	defer p.exportMetrics(opts.MetricsFile, start)

	v, err := validate(opts)
	if err != nil {
		return nil, err
	}

	var summarizer Summarizer
	if opts.LLM {
		settings := p.cfg.SummarizerSettings(p.Getenv, v.timeout)
		summarizer, err = p.NewSummarizer(settings)
		if err != nil {
			return nil, &ValidationError{Msg: "summarizer", Err: err}
		}
		log.Debug().Str("provider", settings.Provider).Str("model", settings.Model).Msg("summarizer ready")
	}

	creds, err := p.resolveCredentials(ctx, opts, v.sources)
	if err != nil {
		return nil, err
	}

	source := p.NewSource(creds, opts)
	posts, err := source.Bookmarks(ctx, opts.Count)
	if err != nil {
		return nil, &UpstreamFetchError{Err: err}
	}
	p.metrics.RecordPostsFetched(len(posts))

	kept := posts
	if v.window > 0 {
		kept = FilterByDuration(posts, v.window, p.Now())
	}
	p.metrics.RecordPostsFiltered(len(posts) - len(kept))
	log.Info().Int("fetched", len(posts)).Int("kept", len(kept)).Msg("bookmarks loaded")

	var links LinkPreviewer
	if opts.FetchLinks {
		links = p.NewLinks(opts)
	}

	items, err := p.buildItems(ctx, source, summarizer, links, kept, opts)
	if err != nil {
		return nil, err
	}

	now := p.Now().UTC()
	runID := uuid.NewString()
	payload := &report.Payload{
		Meta: report.Meta{
			GeneratedAt: now.Format(isoLayout),
			Source:      reportSource,
			Count:       len(items),
			Duration:    v.duration,
			RunID:       runID,
		},
		Items: items,
	}

	writer, err := p.NewWriter(p.metrics)
	if err != nil {
		return nil, err
	}
	written, err := writer.Write(ctx, payload, report.Options{
		ReportName:   ReportName(opts.Out, now),
		RootDir:      p.cfg.GetReportsDir(),
		Format:       string(v.format),
		CookieHeader: creds.CookieHeader(),
	})
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(p.stdout, "Report saved to %s\n", written.Dir)

	return &Result{
		Dir:      written.Dir,
		Items:    len(items),
		Fetched:  len(posts),
		Filtered: len(posts) - len(kept),
		RunID:    runID,
	}, nil
}

// exportMetrics writes the counters to path, if set, whether or not the run
// succeeded.
func (p *Pipeline) exportMetrics(path string, start time.Time) {
	p.metrics.RecordRunDuration(p.Now().Sub(start).Seconds())
	if path == "" {
		return
	}
	if err := p.metrics.WriteTextfile(path); err != nil {
		p.warn("%v", err)
	}
}

func (p *Pipeline) resolveCredentials(ctx context.Context, opts Options, sources []xclient.CookieSource) (xclient.Credentials, error) {
	creds, warnings, err := p.Resolver.Resolve(ctx, xclient.CredentialRequest{
		AuthToken:      opts.AuthToken,
		CT0:            opts.CT0,
		Sources:        sources,
		ChromeProfile:  opts.ChromeProfile,
		FirefoxProfile: opts.FirefoxProfile,
	})
	for _, w := range warnings {
		p.warn("%s", w)
	}
	if err != nil {
		return xclient.Credentials{}, &CredentialError{Msg: "resolving credentials", Err: err}
	}
	if !creds.Complete() {
		return xclient.Credentials{}, &CredentialError{Msg: missingCookiesMsg}
	}
	return creds, nil
}

// buildItems resolves each post's thread, link previews and summary. Up to
// opts.Concurrency posts are processed at once; items keep input order.
func (p *Pipeline) buildItems(ctx context.Context, source xclient.Source, summarizer Summarizer, links LinkPreviewer, posts []xclient.Post, opts Options) ([]report.Item, error) {
	items := make([]report.Item, len(posts))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)

	for i, post := range posts {
		g.Go(func() error {
			item, err := p.buildItem(ctx, source, summarizer, links, post, opts.FailFast)
			if err != nil {
				return err
			}
			items[i] = item
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return items, nil
}

func (p *Pipeline) buildItem(ctx context.Context, source xclient.Source, summarizer Summarizer, links LinkPreviewer, post xclient.Post, failFast bool) (report.Item, error) {
	thread := p.thread(ctx, source, post)

	item := report.Item{
		ID:             post.ID,
		URL:            post.URL(),
		Text:           post.Text,
		AuthorName:     post.Author.Name,
		AuthorUsername: post.Author.Username,
		CreatedAt:      post.CreatedAt,
		Thread:         make([]report.Post, 0, len(thread)),
	}
	for _, tp := range thread {
		item.Thread = append(item.Thread, reportPost(tp))
	}
	if post.Quoted != nil {
		q := reportPost(*post.Quoted)
		item.Quoted = &q
	}

	if links != nil {
		for _, pv := range links.Previews(ctx, post.Text) {
			item.Links = append(item.Links, report.LinkPreview{
				URL:      pv.URL,
				Title:    pv.Title,
				SiteName: pv.SiteName,
				Excerpt:  pv.Excerpt,
			})
		}
		p.metrics.RecordLinkPreviews(len(item.Links))
	}

	if summarizer == nil {
		return item, nil
	}

	summary, err := summarizer.Summarize(ctx, BuildSummaryInput(post, thread))
	p.metrics.RecordSummary(err == nil)
	if err != nil {
		if failFast || errors.Is(err, context.Canceled) {
			return item, fmt.Errorf("summarizing %s: %w", post.ID, err)
		}
		p.warn("Summary failed for %s: %v", post.ID, err)
		return item, nil
	}
	item.Summary = summary.Summary
	item.Tags = summary.Tags
	return item, nil
}

// thread returns the conversation anchored at post, or the post alone when the
// lookup fails or comes back empty.
func (p *Pipeline) thread(ctx context.Context, source xclient.Source, post xclient.Post) []xclient.Post {
	thread, err := source.Thread(ctx, post.ID)
	if err != nil || len(thread) == 0 {
		if err != nil {
			log.Debug().Err(err).Str("post", post.ID).Msg("thread lookup failed")
		}
		p.metrics.RecordThreadFallback()
		return []xclient.Post{post}
	}
	return thread
}

func reportPost(post xclient.Post) report.Post {
	return report.Post{
		ID:             post.ID,
		URL:            post.URL(),
		Text:           post.Text,
		AuthorName:     post.Author.Name,
		AuthorUsername: post.Author.Username,
		CreatedAt:      post.CreatedAt,
	}
}

func (p *Pipeline) warn(format string, args ...any) {
	p.warnMu.Lock()
	defer p.warnMu.Unlock()
	fmt.Fprintf(p.stderr, "[warn] "+format+"\n", args...)
}

// FilterByDuration keeps posts created at or after now-window. Posts without a
// parseable timestamp are kept.
func FilterByDuration(posts []xclient.Post, window time.Duration, now time.Time) []xclient.Post {
	cutoff := now.Add(-window)
	kept := make([]xclient.Post, 0, len(posts))
	for _, post := range posts {
		created, ok := xclient.ParseCreatedAt(post.CreatedAt)
		if !ok || !created.Before(cutoff) {
			kept = append(kept, post)
		}
	}
	return kept
}

// BuildSummaryInput renders a post, its thread and its quoted post as the
// summarizer prompt.
func BuildSummaryInput(post xclient.Post, thread []xclient.Post) string {
	lines := []string{
		fmt.Sprintf("Main tweet by @%s (%s):", post.Author.Username, post.Author.Name),
		post.Text,
	}

	if len(thread) > 1 {
		lines = append(lines, "\nThread:")
		for _, entry := range thread {
			lines = append(lines, fmt.Sprintf("@%s: %s", entry.Author.Username, entry.Text))
		}
	}

	if post.Quoted != nil {
		lines = append(lines, "\nQuoted tweet:")
		lines = append(lines, fmt.Sprintf("@%s: %s", post.Quoted.Author.Username, post.Quoted.Text))
	}

	return strings.Join(lines, "\n")
}

// ReportName is out when set, otherwise bookmarks-<timestamp> with ':' and
// '.' replaced by '-'.
func ReportName(out string, now time.Time) string {
	if name := strings.TrimSpace(out); name != "" {
		return name
	}
	stamp := strings.NewReplacer(":", "-", ".", "-").Replace(now.UTC().Format(isoLayout))
	return "bookmarks-" + stamp
}
