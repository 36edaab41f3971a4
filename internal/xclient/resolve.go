package xclient

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
)

// BirdResolver is the production CredentialResolver. Explicit cookies win,
// then AUTH_TOKEN and CT0 from the environment. Anything else is left to bird,
// which reads the requested browser stores itself; a whoami call confirms a
// session is there before the run goes on.
type BirdResolver struct {
	path   string
	getenv func(string) string
	run    Runner
}

// NewBirdResolver creates a resolver that delegates browser lookups to the
// bird executable at path.
func NewBirdResolver(path string) *BirdResolver {
	path = strings.TrimSpace(path)
	if path == "" {
		path = DefaultBirdPath
	}
	return &BirdResolver{path: path, getenv: os.Getenv, run: execRunner}
}

// Resolve implements CredentialResolver.
func (r *BirdResolver) Resolve(ctx context.Context, req CredentialRequest) (Credentials, []string, error) {
	creds := Credentials{
		AuthToken: strings.TrimSpace(req.AuthToken),
		CT0:       strings.TrimSpace(req.CT0),
	}
	if creds.AuthToken == "" {
		creds.AuthToken = strings.TrimSpace(r.getenv("AUTH_TOKEN"))
	}
	if creds.CT0 == "" {
		creds.CT0 = strings.TrimSpace(r.getenv("CT0"))
	}
	if creds.Complete() || len(req.Sources) == 0 {
		return creds, nil, nil
	}

	session := &BrowserSession{
		Sources:        req.Sources,
		ChromeProfile:  strings.TrimSpace(req.ChromeProfile),
		FirefoxProfile: strings.TrimSpace(req.FirefoxProfile),
	}
	args := append([]string{"whoami"}, session.Args()...)
	log.Debug().Str("cmd", r.path).Strs("args", args).Msg("checking browser session")

	if _, err := r.run(ctx, r.path, args, credentialEnv(creds)); err != nil {
		if errors.Is(err, ErrBirdNotFound) || ctx.Err() != nil {
			return creds, nil, err
		}
		return creds, []string{fmt.Sprintf("No X session found in %s: %v", sourceList(req.Sources), err)}, nil
	}
	creds.Browser = session
	return creds, nil, nil
}

func sourceList(sources []CookieSource) string {
	names := make([]string, len(sources))
	for i, s := range sources {
		names[i] = string(s)
	}
	return strings.Join(names, ", ")
}
