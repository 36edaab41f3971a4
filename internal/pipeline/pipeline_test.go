package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/tweetextract/internal/config"
	"github.com/TobiSchelling/tweetextract/internal/fetch"
	"github.com/TobiSchelling/tweetextract/internal/llm"
	"github.com/TobiSchelling/tweetextract/internal/media"
	"github.com/TobiSchelling/tweetextract/internal/report"
	"github.com/TobiSchelling/tweetextract/internal/xclient"
)

var fixedNow = time.Date(2025, 3, 10, 12, 30, 45, 123_000_000, time.UTC)

type fakeResolver struct {
	creds    xclient.Credentials
	warnings []string
	err      error
	got      xclient.CredentialRequest
}

func (f *fakeResolver) Resolve(_ context.Context, req xclient.CredentialRequest) (xclient.Credentials, []string, error) {
	f.got = req
	return f.creds, f.warnings, f.err
}

type fakeSource struct {
	bookmarks   []xclient.Post
	bookmarkErr error
	threads     map[string][]xclient.Post
	threadErr   error
	gotCount    int
}

func (f *fakeSource) Bookmarks(_ context.Context, count int) ([]xclient.Post, error) {
	f.gotCount = count
	return f.bookmarks, f.bookmarkErr
}

func (f *fakeSource) Thread(_ context.Context, id string) ([]xclient.Post, error) {
	if f.threadErr != nil {
		return nil, f.threadErr
	}
	return f.threads[id], nil
}

type fakeSummarizer struct {
	mu     sync.Mutex
	inputs []string
	fail   map[string]error
}

func (f *fakeSummarizer) Summarize(_ context.Context, text string) (*llm.Summary, error) {
	f.mu.Lock()
	f.inputs = append(f.inputs, text)
	f.mu.Unlock()
	for marker, err := range f.fail {
		if strings.Contains(text, marker) {
			return nil, err
		}
	}
	first := strings.SplitN(text, "\n", 3)[1]
	return &llm.Summary{Summary: "sum: " + first, Tags: []string{"tag"}}, nil
}

type fakeLinks struct{}

func (fakeLinks) Previews(_ context.Context, text string) []fetch.Preview {
	if !strings.Contains(text, "https://example.com/a") {
		return nil
	}
	return []fetch.Preview{{URL: "https://example.com/a", Title: "Article"}}
}

func post(id, text string) xclient.Post {
	return xclient.Post{
		ID:     id,
		Text:   text,
		Author: xclient.Author{Username: "user" + id, Name: "User " + id},
	}
}

type harness struct {
	p          *Pipeline
	stdout     *bytes.Buffer
	stderr     *bytes.Buffer
	resolver   *fakeResolver
	source     *fakeSource
	summarizer *fakeSummarizer
	settings   llm.Settings
	root       string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	root := t.TempDir()
	cfg.ReportsDir = root

	h := &harness{
		stdout:     &bytes.Buffer{},
		stderr:     &bytes.Buffer{},
		resolver:   &fakeResolver{creds: xclient.Credentials{AuthToken: "tok", CT0: "csrf"}},
		source:     &fakeSource{threads: map[string][]xclient.Post{}},
		summarizer: &fakeSummarizer{},
		root:       root,
	}
	h.p = New(cfg, h.stdout, h.stderr)
	h.p.Now = func() time.Time { return fixedNow }
	h.p.Getenv = func(k string) string {
		if k == "DEEPSEEK_API_KEY" {
			return "sk-test"
		}
		return ""
	}
	h.p.Resolver = h.resolver
	h.p.NewSource = func(xclient.Credentials, Options) xclient.Source { return h.source }
	h.p.NewSummarizer = func(s llm.Settings) (Summarizer, error) {
		h.settings = s
		return h.summarizer, nil
	}
	h.p.NewLinks = func(Options) LinkPreviewer { return fakeLinks{} }
	h.p.NewWriter = func(media.Recorder) (ReportWriter, error) { return report.NewWriter(nil) }
	return h
}

func readPayload(t *testing.T, dir string) report.Payload {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, "report.json"))
	require.NoError(t, err)
	var payload report.Payload
	require.NoError(t, json.Unmarshal(data, &payload))
	return payload
}

func TestParseCookieSources(t *testing.T) {
	got, err := ParseCookieSources("")
	require.NoError(t, err)
	assert.Equal(t, []xclient.CookieSource{xclient.CookieSourceSafari}, got)

	got, err = ParseCookieSources(" Chrome , firefox,,")
	require.NoError(t, err)
	assert.Equal(t, []xclient.CookieSource{xclient.CookieSourceChrome, xclient.CookieSourceFirefox}, got)

	_, err = ParseCookieSources("safari,opera,edge")
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, err.Error(), "opera, edge")
	assert.Contains(t, err.Error(), "Allowed: safari, chrome, firefox")
}

func TestValidateRejectsBadOptions(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Options)
		want   string
	}{
		{"count", func(o *Options) { o.Count = 0 }, "--count"},
		{"timeout", func(o *Options) { o.TimeoutMS = -1 }, "--timeout-ms"},
		{"quote depth", func(o *Options) { o.QuoteDepth = -1 }, "--quote-depth"},
		{"concurrency", func(o *Options) { o.Concurrency = 0 }, "--concurrency"},
		{"duration", func(o *Options) { o.Duration = "5q" }, "unknown duration unit"},
		{"format", func(o *Options) { o.Format = "pdf" }, "invalid format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := DefaultOptions()
			tt.modify(&opts)
			_, err := validate(opts)
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestRunValidationHappensBeforeFetch(t *testing.T) {
	h := newHarness(t)
	opts := DefaultOptions()
	opts.Count = -5

	_, err := h.p.Run(context.Background(), opts)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Zero(t, h.source.gotCount)
}

func TestRunMissingAPIKeyFailsBeforeCredentials(t *testing.T) {
	h := newHarness(t)
	h.p.NewSummarizer = func(s llm.Settings) (Summarizer, error) { return llm.New(s) }
	h.p.Getenv = func(string) string { return "" }
	h.resolver.err = errors.New("should not be reached")

	_, err := h.p.Run(context.Background(), DefaultOptions())
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.ErrorIs(t, err, llm.ErrMissingAPIKey)
}

func TestRunMissingCookies(t *testing.T) {
	h := newHarness(t)
	h.resolver.creds = xclient.Credentials{AuthToken: "tok"}
	h.resolver.warnings = []string{"No X session cookies found in safari"}

	_, err := h.p.Run(context.Background(), DefaultOptions())
	var ce *CredentialError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, missingCookiesMsg, err.Error())
	assert.Equal(t, "[warn] No X session cookies found in safari\n", h.stderr.String())
}

func TestRunPassesCredentialRequest(t *testing.T) {
	h := newHarness(t)
	opts := DefaultOptions()
	opts.LLM = false
	opts.CookieSource = "firefox,chrome"
	opts.AuthToken = "a"
	opts.CT0 = "b"
	opts.ChromeProfile = "Profile 1"

	_, err := h.p.Run(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, xclient.CredentialRequest{
		AuthToken:     "a",
		CT0:           "b",
		Sources:       []xclient.CookieSource{xclient.CookieSourceFirefox, xclient.CookieSourceChrome},
		ChromeProfile: "Profile 1",
	}, h.resolver.got)
}

func TestRunUpstreamFailure(t *testing.T) {
	h := newHarness(t)
	h.source.bookmarkErr = errors.New("rate limited")

	_, err := h.p.Run(context.Background(), DefaultOptions())
	var ue *UpstreamFetchError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, "Failed to fetch bookmarks: rate limited", err.Error())
}

func TestRunWritesReport(t *testing.T) {
	h := newHarness(t)
	quoted := post("9", "quoted body")
	main := post("1", "first post https://example.com/a")
	main.Quoted = &quoted
	h.source.bookmarks = []xclient.Post{main, post("2", "second post")}
	h.source.threads["1"] = []xclient.Post{main, post("3", "reply")}

	opts := DefaultOptions()
	opts.Count = 10
	opts.Out = "my report"
	opts.FetchLinks = true

	res, err := h.p.Run(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, 10, h.source.gotCount)
	assert.Equal(t, filepath.Join(h.root, "my-report"), res.Dir)
	assert.Equal(t, "Report saved to "+res.Dir+"\n", h.stdout.String())
	assert.Empty(t, h.stderr.String())
	assert.Equal(t, 15*time.Second, h.settings.Timeout)

	payload := readPayload(t, res.Dir)
	assert.Equal(t, "bookmarks", payload.Meta.Source)
	assert.Equal(t, 2, payload.Meta.Count)
	assert.Equal(t, "2025-03-10T12:30:45.123Z", payload.Meta.GeneratedAt)
	assert.NotEmpty(t, payload.Meta.RunID)
	require.Len(t, payload.Items, 2)

	first := payload.Items[0]
	assert.Equal(t, "https://x.com/user1/status/1", first.URL)
	assert.Len(t, first.Thread, 2)
	assert.Equal(t, "sum: first post https://example.com/a", first.Summary)
	assert.Equal(t, []string{"tag"}, first.Tags)
	require.NotNil(t, first.Quoted)
	assert.Equal(t, "quoted body", first.Quoted.Text)
	require.Len(t, first.Links, 1)
	assert.Equal(t, "Article", first.Links[0].Title)

	second := payload.Items[1]
	require.Len(t, second.Thread, 1)
	assert.Equal(t, "2", second.Thread[0].ID)

	_, err = os.Stat(filepath.Join(res.Dir, "report.md"))
	assert.NoError(t, err)
}

func TestRunDefaultReportName(t *testing.T) {
	h := newHarness(t)
	opts := DefaultOptions()
	opts.LLM = false

	res, err := h.p.Run(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, "bookmarks-2025-03-10T12-30-45-123Z", filepath.Base(res.Dir))
	assert.Equal(t, 0, readPayload(t, res.Dir).Meta.Count)
}

func TestRunSummaryFailureIsIsolated(t *testing.T) {
	h := newHarness(t)
	h.source.bookmarks = []xclient.Post{post("1", "ok one"), post("2", "broken"), post("3", "ok two")}
	h.summarizer.fail = map[string]error{"broken": fmt.Errorf("%w after 15s", llm.ErrTimeout)}

	opts := DefaultOptions()
	opts.Concurrency = 3
	res, err := h.p.Run(context.Background(), opts)
	require.NoError(t, err)

	assert.Contains(t, h.stderr.String(), "[warn] Summary failed for 2:")
	payload := readPayload(t, res.Dir)
	require.Len(t, payload.Items, 3)
	assert.Equal(t, []string{"1", "2", "3"}, []string{payload.Items[0].ID, payload.Items[1].ID, payload.Items[2].ID})
	assert.Equal(t, "sum: ok one", payload.Items[0].Summary)
	assert.Empty(t, payload.Items[1].Summary)
	assert.Equal(t, "sum: ok two", payload.Items[2].Summary)
}

func TestRunFailFastAborts(t *testing.T) {
	h := newHarness(t)
	h.source.bookmarks = []xclient.Post{post("1", "broken")}
	h.summarizer.fail = map[string]error{"broken": &llm.RemoteError{Provider: "DeepSeek", Status: 500}}

	opts := DefaultOptions()
	opts.FailFast = true
	opts.Out = "never"
	_, err := h.p.Run(context.Background(), opts)

	var re *llm.RemoteError
	require.ErrorAs(t, err, &re)
	_, statErr := os.Stat(filepath.Join(h.root, "never"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestRunThreadFailureFallsBackToPost(t *testing.T) {
	h := newHarness(t)
	h.source.bookmarks = []xclient.Post{post("1", "alone")}
	h.source.threadErr = errors.New("boom")

	opts := DefaultOptions()
	opts.LLM = false
	res, err := h.p.Run(context.Background(), opts)
	require.NoError(t, err)

	payload := readPayload(t, res.Dir)
	require.Len(t, payload.Items[0].Thread, 1)
	assert.Equal(t, "alone", payload.Items[0].Thread[0].Text)
}

func TestRunWritesMetricsFile(t *testing.T) {
	h := newHarness(t)
	h.source.bookmarks = []xclient.Post{post("1", "one")}

	opts := DefaultOptions()
	opts.MetricsFile = filepath.Join(t.TempDir(), "run.prom")
	_, err := h.p.Run(context.Background(), opts)
	require.NoError(t, err)

	data, err := os.ReadFile(opts.MetricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "tweetextract_posts_fetched_total 1")
	assert.Contains(t, string(data), `tweetextract_summaries_total{outcome="ok"} 1`)
}

func TestRunWritesMetricsFileOnFailure(t *testing.T) {
	h := newHarness(t)
	h.source.bookmarks = []xclient.Post{post("1", "broken")}
	h.summarizer.fail = map[string]error{"broken": errors.New("upstream 500")}

	opts := DefaultOptions()
	opts.FailFast = true
	opts.MetricsFile = filepath.Join(t.TempDir(), "run.prom")
	_, err := h.p.Run(context.Background(), opts)
	require.Error(t, err)

	data, err := os.ReadFile(opts.MetricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "tweetextract_posts_fetched_total 1")
	assert.Contains(t, string(data), `tweetextract_summaries_total{outcome="failed"} 1`)
}

func TestFilterByDuration(t *testing.T) {
	recent := post("1", "recent")
	recent.CreatedAt = fixedNow.Add(-time.Hour).Format(time.RFC3339)
	old := post("2", "old")
	old.CreatedAt = "Mon Jan 02 15:04:05 +0000 2006"
	undated := post("3", "undated")
	garbage := post("4", "garbage")
	garbage.CreatedAt = "yesterday-ish"

	kept := FilterByDuration([]xclient.Post{recent, old, undated, garbage}, 24*time.Hour, fixedNow)
	var ids []string
	for _, p := range kept {
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []string{"1", "3", "4"}, ids)
}

func TestBuildSummaryInput(t *testing.T) {
	main := post("1", "hello")
	quoted := post("2", "quoted")
	main.Quoted = &quoted

	got := BuildSummaryInput(main, []xclient.Post{main})
	assert.Equal(t, "Main tweet by @user1 (User 1):\nhello\n\nQuoted tweet:\n@user2: quoted", got)

	got = BuildSummaryInput(post("1", "hello"), []xclient.Post{post("1", "hello"), post("5", "reply")})
	assert.Equal(t, "Main tweet by @user1 (User 1):\nhello\n\nThread:\n@user1: hello\n@user5: reply", got)
}

func TestReportName(t *testing.T) {
	assert.Equal(t, "custom", ReportName(" custom ", fixedNow))
	assert.Equal(t, "bookmarks-2025-03-10T12-30-45-123Z", ReportName("", fixedNow))
}
