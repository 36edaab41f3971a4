// Package xclient describes what the tool needs from an X client: a list of
// bookmarked posts, the thread around a post, and the credentials to ask for
// them. The bird CLI adapter in this package is the production Source.
package xclient

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// CookieSource names a browser cookie store credentials can be read from.
type CookieSource string

const (
	CookieSourceSafari  CookieSource = "safari"
	CookieSourceChrome  CookieSource = "chrome"
	CookieSourceFirefox CookieSource = "firefox"
)

// CookieSources lists every supported store in its canonical order.
var CookieSources = []CookieSource{CookieSourceSafari, CookieSourceChrome, CookieSourceFirefox}

// Author is the account that wrote a post.
type Author struct {
	Username string `json:"username"`
	Name     string `json:"name"`
}

// Post is a single X post as returned by the client.
type Post struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	Author    Author `json:"author"`
	CreatedAt string `json:"createdAt,omitempty"`
	Quoted    *Post  `json:"quotedTweet,omitempty"`
}

// URL returns the canonical link to the post.
func (p Post) URL() string {
	username := p.Author.Username
	if username == "" {
		username = "i"
	}
	return fmt.Sprintf("https://x.com/%s/status/%s", username, p.ID)
}

// Handle returns "@username".
func (p Post) Handle() string {
	return "@" + p.Author.Username
}

var createdAtLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	time.RubyDate, // X's legacy "Mon Jan 02 15:04:05 -0700 2006"
}

// ParseCreatedAt parses a post timestamp. The second result is false when the
// value is empty or in no known layout.
func ParseCreatedAt(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range createdAtLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Credentials are the two session cookies X requires, or a browser session
// that bird reads on its own.
type Credentials struct {
	AuthToken string
	CT0       string

	// Browser is set once bird has confirmed a session in a local cookie store.
	Browser *BrowserSession
}

// Complete reports whether bird can authenticate with these credentials.
func (c Credentials) Complete() bool {
	return (c.AuthToken != "" && c.CT0 != "") || c.Browser != nil
}

// BrowserSession tells bird which browser cookie stores to read.
type BrowserSession struct {
	Sources        []CookieSource
	ChromeProfile  string
	FirefoxProfile string
}

// Args renders the session as bird flags.
func (s BrowserSession) Args() []string {
	var args []string
	for _, src := range s.Sources {
		args = append(args, "--cookie-source", string(src))
	}
	if s.ChromeProfile != "" {
		args = append(args, "--chrome-profile", s.ChromeProfile)
	}
	if s.FirefoxProfile != "" {
		args = append(args, "--firefox-profile", s.FirefoxProfile)
	}
	return args
}

// CookieHeader renders the explicit cookies as a Cookie header value. It is
// empty for a browser session.
func (c Credentials) CookieHeader() string {
	var parts []string
	if c.AuthToken != "" {
		parts = append(parts, "auth_token="+c.AuthToken)
	}
	if c.CT0 != "" {
		parts = append(parts, "ct0="+c.CT0)
	}
	return strings.Join(parts, "; ")
}

// CredentialRequest carries everything a resolver may consult.
type CredentialRequest struct {
	AuthToken      string
	CT0            string
	Sources        []CookieSource
	ChromeProfile  string
	FirefoxProfile string
}

// CredentialResolver finds session credentials. Non-fatal problems are
// returned as warnings alongside whatever was found.
type CredentialResolver interface {
	Resolve(ctx context.Context, req CredentialRequest) (Credentials, []string, error)
}

// Source retrieves posts from X.
type Source interface {
	Bookmarks(ctx context.Context, count int) ([]Post, error)
	Thread(ctx context.Context, id string) ([]Post, error)
}
