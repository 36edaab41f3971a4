package media

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeResponse struct {
	status      int
	contentType string
	body        string
	err         error
}

// fakeTransport serves canned responses and counts requests per URL.
type fakeTransport struct {
	mu        sync.Mutex
	responses map[string]fakeResponse
	calls     map[string]int
	headers   map[string]http.Header
}

func newFakeTransport(responses map[string]fakeResponse) *fakeTransport {
	return &fakeTransport{
		responses: responses,
		calls:     make(map[string]int),
		headers:   make(map[string]http.Header),
	}
}

func (f *fakeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	u := req.URL.String()
	f.calls[u]++
	f.headers[u] = req.Header.Clone()

	r, ok := f.responses[u]
	if !ok {
		r = fakeResponse{status: http.StatusNotFound}
	}
	if r.err != nil {
		return nil, r.err
	}
	header := make(http.Header)
	if r.contentType != "" {
		header.Set("Content-Type", r.contentType)
	}
	return &http.Response{
		StatusCode: r.status,
		Header:     header,
		Body:       io.NopCloser(strings.NewReader(r.body)),
		Request:    req,
	}, nil
}

func (f *fakeTransport) count(u string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[u]
}

func newTestCollector(ft *fakeTransport) *Collector {
	client := &http.Client{Transport: ft}
	return New(Config{PageClient: client, DownloadClient: client})
}

func TestExtractURLs(t *testing.T) {
	got := ExtractURLs("see https://example.com/a.png), and (https://pbs.twimg.com/media/Abc?format=jpg). also http://x.y/z!")
	assert.Equal(t, []string{
		"https://example.com/a.png",
		"https://pbs.twimg.com/media/Abc?format=jpg",
		"http://x.y/z",
	}, got)
	assert.Empty(t, ExtractURLs("no links here"))
}

func TestIsImageURL(t *testing.T) {
	assert.True(t, IsImageURL("https://pbs.twimg.com/media/Gx1_a-B?format=jpg&name=small"))
	assert.True(t, IsImageURL("https://example.com/photo.JPEG"))
	assert.True(t, IsImageURL("https://example.com/photo.webp?x=1"))
	assert.False(t, IsImageURL("https://example.com/article"))
	assert.False(t, IsImageURL("https://pbs.twimg.com/profile_images/1/a"))
}

func TestExtractMediaURLs(t *testing.T) {
	page := `<html><head>
		<meta property="og:image" content="https://pbs.twimg.com/media/OG1.jpg?name=large">
		<meta name="twitter:image" content="https://pbs.twimg.com/profile_images/9/me.jpg">
		</head><body>
		<img src="https://pbs.twimg.com/media/IMG2?format=png&amp;name=small">
		<script>{"url":"https://pbs.twimg.com/media/JSON3.jpg"}</script>
		<img src="https://pbs.twimg.com/media/JSON3.jpg">
		</body></html>`

	got := ExtractMediaURLs(page)
	assert.Equal(t, []string{
		"https://pbs.twimg.com/media/OG1.jpg?name=large",
		"https://pbs.twimg.com/media/IMG2?format=png&name=small",
		"https://pbs.twimg.com/media/JSON3.jpg",
	}, got)
}

func TestFileName(t *testing.T) {
	name := FileName("https://pbs.twimg.com/media/A.png", "image/jpeg; charset=binary")
	assert.True(t, strings.HasPrefix(name, "image-"))
	assert.True(t, strings.HasSuffix(name, ".jpg"))
	assert.Len(t, name, len("image-")+12+len(".jpg"))

	assert.True(t, strings.HasSuffix(FileName("https://e.com/a.PNG?x=1", "image/x-unknown"), ".png"))
	assert.True(t, strings.HasSuffix(FileName("https://e.com/a", "image/x-unknown"), ".img"))
	assert.Equal(t, FileName("https://e.com/a", "image/png"), FileName("https://e.com/a", "image/png"))
}

func TestSessionDownloadsEachURLOnce(t *testing.T) {
	img := "https://pbs.twimg.com/media/Same.jpg"
	ft := newFakeTransport(map[string]fakeResponse{
		img: {status: 200, contentType: "image/jpeg", body: "jpegdata"},
	})
	dir := t.TempDir()
	s := newTestCollector(ft).NewSession(dir, "")

	p1, ok1 := s.Download(context.Background(), img)
	p2, ok2 := s.Download(context.Background(), img)

	require.True(t, ok1)
	require.True(t, ok2)
	assert.Equal(t, p1, p2)
	assert.Equal(t, 1, ft.count(img))
	assert.True(t, strings.HasPrefix(p1, "media/image-"))

	data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(p1)))
	require.NoError(t, err)
	assert.Equal(t, "jpegdata", string(data))
}

func TestSessionRemembersFailures(t *testing.T) {
	notImage := "https://example.com/fake.png"
	broken := "https://example.com/broken.png"
	ft := newFakeTransport(map[string]fakeResponse{
		notImage: {status: 200, contentType: "text/html", body: "<html>"},
		broken:   {err: errors.New("connection reset")},
	})
	s := newTestCollector(ft).NewSession(t.TempDir(), "")

	for i := 0; i < 2; i++ {
		_, ok := s.Download(context.Background(), notImage)
		assert.False(t, ok)
		_, ok = s.Download(context.Background(), broken)
		assert.False(t, ok)
	}
	assert.Equal(t, 1, ft.count(notImage))
	assert.Equal(t, 1, ft.count(broken))
}

func TestSessionRejectsOversizedImages(t *testing.T) {
	big := "https://example.com/big.png"
	ft := newFakeTransport(map[string]fakeResponse{
		big: {status: 200, contentType: "image/png", body: strings.Repeat("x", 64)},
	})
	client := &http.Client{Transport: ft}
	c := New(Config{PageClient: client, DownloadClient: client, MaxImageBytes: 16})

	_, ok := c.NewSession(t.TempDir(), "").Download(context.Background(), big)
	assert.False(t, ok)
}

func TestSessionCollect(t *testing.T) {
	textImg := "https://example.com/inline.png"
	pageImg := "https://pbs.twimg.com/media/Page1.jpg"
	ft := newFakeTransport(map[string]fakeResponse{
		PageURL("1"): {status: 200, contentType: "text/html", body: `<meta property="og:image" content="` + pageImg + `">`},
		PageURL("2"): {status: 403},
		textImg:      {status: 200, contentType: "image/png", body: "png"},
		pageImg:      {status: 200, contentType: "image/jpeg", body: "jpg"},
	})
	s := newTestCollector(ft).NewSession(t.TempDir(), "auth_token=a; ct0=b")

	posts := []PostRef{
		{ID: "1", Text: "look " + textImg + " and https://example.com/article"},
		{ID: "2", Text: "reply"},
	}
	paths := s.Collect(context.Background(), "1", posts)
	require.Len(t, paths, 2)
	assert.True(t, strings.HasSuffix(paths[0], ".png"))
	assert.True(t, strings.HasSuffix(paths[1], ".jpg"))

	assert.Equal(t, "auth_token=a; ct0=b", ft.headers[PageURL("1")].Get("Cookie"))
	assert.Equal(t, DefaultUserAgent, ft.headers[PageURL("1")].Get("User-Agent"))
	assert.Zero(t, ft.count("https://example.com/article"))

	// A second item sharing a post and an image reuses both.
	again := s.Collect(context.Background(), "1", []PostRef{{ID: "1", Text: textImg}})
	assert.Equal(t, paths, again)
	assert.Equal(t, 1, ft.count(PageURL("1")))
	assert.Equal(t, 1, ft.count(textImg))
	assert.Equal(t, 1, ft.count(pageImg))
}

type countingRecorder struct {
	pagesOK, pagesFailed, imagesOK, imagesFailed int
}

func (r *countingRecorder) RecordPageFetch(ok bool) {
	if ok {
		r.pagesOK++
	} else {
		r.pagesFailed++
	}
}

func (r *countingRecorder) RecordImageDownload(ok bool) {
	if ok {
		r.imagesOK++
	} else {
		r.imagesFailed++
	}
}

func TestCollectorRecordsOutcomes(t *testing.T) {
	ft := newFakeTransport(map[string]fakeResponse{
		PageURL("5"):                    {status: 200, body: "nothing here"},
		"https://example.com/ok.gif":    {status: 200, contentType: "image/gif", body: "gif"},
		"https://example.com/gone.jpeg": {status: 404},
	})
	rec := &countingRecorder{}
	client := &http.Client{Transport: ft}
	c := New(Config{PageClient: client, DownloadClient: client, Recorder: rec})

	c.NewSession(t.TempDir(), "").Collect(context.Background(), "5", []PostRef{
		{ID: "5", Text: "https://example.com/ok.gif https://example.com/gone.jpeg"},
		{ID: "6"},
	})
	assert.Equal(t, 1, rec.pagesOK)
	assert.Equal(t, 1, rec.pagesFailed)
	assert.Equal(t, 1, rec.imagesOK)
	assert.Equal(t, 1, rec.imagesFailed)
}
