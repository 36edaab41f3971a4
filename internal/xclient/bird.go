package xclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultBirdPath is the executable looked up on PATH when none is configured.
const DefaultBirdPath = "bird"

// ErrBirdNotFound is returned when the bird executable cannot be located.
var ErrBirdNotFound = errors.New("bird CLI not found")

// ErrNoTweets is returned when bird succeeds without a post list.
var ErrNoTweets = errors.New("unknown error (no tweets in response)")

// Runner executes a command and returns its standard output. env holds extra
// KEY=VALUE pairs added to the current environment.
type Runner func(ctx context.Context, name string, args, env []string) ([]byte, error)

// BirdConfig configures the bird adapter.
type BirdConfig struct {
	Path        string
	Credentials Credentials
	Timeout     time.Duration
	QuoteDepth  int
	Run         Runner
}

// Bird is a Source backed by the bird command-line client.
type Bird struct {
	path       string
	creds      Credentials
	timeout    time.Duration
	quoteDepth int
	run        Runner
}

// NewBird creates a bird-backed Source.
func NewBird(cfg BirdConfig) *Bird {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		path = DefaultBirdPath
	}
	run := cfg.Run
	if run == nil {
		run = execRunner
	}
	return &Bird{
		path:       path,
		creds:      cfg.Credentials,
		timeout:    cfg.Timeout,
		quoteDepth: cfg.QuoteDepth,
		run:        run,
	}
}

// Bookmarks fetches up to count bookmarked posts, newest first.
func (b *Bird) Bookmarks(ctx context.Context, count int) ([]Post, error) {
	out, err := b.exec(ctx, "bookmarks", "-n", strconv.Itoa(count))
	if err != nil {
		return nil, fmt.Errorf("fetching bookmarks: %w", err)
	}
	posts, ok, err := decodePosts(out)
	if err != nil {
		return nil, fmt.Errorf("fetching bookmarks: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("fetching bookmarks: %w", ErrNoTweets)
	}
	return posts, nil
}

// Thread fetches the conversation around the post with the given id.
func (b *Bird) Thread(ctx context.Context, id string) ([]Post, error) {
	out, err := b.exec(ctx, "thread", id)
	if err != nil {
		return nil, fmt.Errorf("fetching thread %s: %w", id, err)
	}
	posts, _, err := decodePosts(out)
	if err != nil {
		return nil, fmt.Errorf("fetching thread %s: %w", id, err)
	}
	return posts, nil
}

func (b *Bird) exec(ctx context.Context, args ...string) ([]byte, error) {
	args = append(args, "--json")
	if b.timeout > 0 {
		args = append(args, "--timeout", strconv.FormatInt(b.timeout.Milliseconds(), 10))
	}
	if b.quoteDepth >= 0 {
		args = append(args, "--quote-depth", strconv.Itoa(b.quoteDepth))
	}

	if b.creds.Browser != nil {
		args = append(args, b.creds.Browser.Args()...)
	}
	env := credentialEnv(b.creds)

	log.Debug().Str("cmd", b.path).Strs("args", args).Msg("running bird")
	return b.run(ctx, b.path, args, env)
}

func credentialEnv(c Credentials) []string {
	var env []string
	if c.AuthToken != "" {
		env = append(env, "AUTH_TOKEN="+c.AuthToken)
	}
	if c.CT0 != "" {
		env = append(env, "CT0="+c.CT0)
	}
	return env
}

// birdResult is the envelope form some bird commands print instead of a bare array.
type birdResult struct {
	Success *bool  `json:"success"`
	Tweets  []Post `json:"tweets"`
	Error   string `json:"error"`
}

// decodePosts reports ok=false when the output carries no post list at all,
// as opposed to an empty one.
func decodePosts(data []byte) (posts []Post, ok bool, err error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return []Post{}, false, nil
	}

	if data[0] == '[' {
		if err := json.Unmarshal(data, &posts); err != nil {
			return nil, false, fmt.Errorf("decoding bird output: %w", err)
		}
		if posts == nil {
			posts = []Post{}
		}
		return posts, true, nil
	}

	var result birdResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, false, fmt.Errorf("decoding bird output: %w", err)
	}
	if result.Success != nil && !*result.Success {
		msg := result.Error
		if msg == "" {
			msg = "unknown error"
		}
		return nil, false, errors.New(msg)
	}
	if result.Tweets == nil {
		return []Post{}, false, nil
	}
	return result.Tweets, true, nil
}

func execRunner(ctx context.Context, name string, args, env []string) ([]byte, error) {
	path, err := exec.LookPath(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s (install it or set bird.path in the config)", ErrBirdNotFound, name)
	}

	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Env = append(os.Environ(), env...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%s %s: %s", name, args[0], msg)
		}
		return nil, fmt.Errorf("%s %s: %w", name, args[0], err)
	}
	return stdout.Bytes(), nil
}
