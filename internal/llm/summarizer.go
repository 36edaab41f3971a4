package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	DefaultMaxTokens = 256
	DefaultTimeout   = 15 * time.Second

	emptyInputSummary = "(empty)"
	noResponseSummary = "(no response)"
)

// ErrTimeout is returned when a summarizer request exceeds its timeout.
var ErrTimeout = errors.New("summarizer request timed out")

var systemPrompt = strings.Join([]string{
	"You are summarizing a bookmarked tweet or thread.",
	"Return JSON strictly in this format:",
	`{"summary":"one or two sentences","tags":["tag1","tag2"]}`,
	"Rules:",
	"- summary should be concise (max 2 sentences).",
	"- tags should be 1-3 lowercase keywords.",
	"- Output JSON only, no extra text.",
	"- Output must be valid json.",
}, "\n\n")

// Summary is the condensed form of one bookmarked post.
type Summary struct {
	Summary string   `json:"summary"`
	Tags    []string `json:"tags"`
	Raw     string   `json:"-"`
}

// Settings selects and configures the provider behind a Summarizer.
type Settings struct {
	Provider  string
	Model     string
	APIKey    string
	BaseURL   string
	MaxTokens int
	Timeout   time.Duration
}

// Summarizer turns post text into a Summary using a Provider.
type Summarizer struct {
	provider  Provider
	maxTokens int
	timeout   time.Duration
}

// NewSummarizer wraps a provider. Zero values select the defaults.
func NewSummarizer(p Provider, maxTokens int, timeout time.Duration) *Summarizer {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Summarizer{provider: p, maxTokens: maxTokens, timeout: timeout}
}

// New builds a Summarizer from settings.
func New(s Settings) (*Summarizer, error) {
	p, err := CreateProvider(s.Provider, s.Model, s.APIKey, s.BaseURL)
	if err != nil {
		return nil, err
	}
	return NewSummarizer(p, s.MaxTokens, s.Timeout), nil
}

// ProviderName reports which backend answers requests.
func (s *Summarizer) ProviderName() string {
	return s.provider.Name()
}

// Summarize asks the provider for a summary of text. Blank input short-circuits
// to "(empty)" without a request.
func (s *Summarizer) Summarize(ctx context.Context, text string) (*Summary, error) {
	if strings.TrimSpace(text) == "" {
		return &Summary{Summary: emptyInputSummary, Tags: []string{}}, nil
	}

	reqCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	raw, err := s.provider.Complete(reqCtx, Request{
		System:    systemPrompt,
		User:      text,
		MaxTokens: s.maxTokens,
		JSON:      true,
	})
	if err != nil {
		if ctx.Err() == nil && errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s", ErrTimeout, s.timeout)
		}
		return nil, err
	}

	raw = strings.TrimSpace(raw)
	if raw == "" {
		return &Summary{Summary: noResponseSummary, Tags: []string{}, Raw: raw}, nil
	}

	switch p := ParseResponse(raw).(type) {
	case StructuredJSON:
		return &Summary{Summary: p.Summary, Tags: p.Tags, Raw: raw}, nil
	case RawFallback:
		return &Summary{Summary: p.Text, Tags: []string{}, Raw: raw}, nil
	default:
		return &Summary{Summary: raw, Tags: []string{}, Raw: raw}, nil
	}
}
