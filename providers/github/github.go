package github

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"
	oauthgithub "golang.org/x/oauth2/github"

	"github.com/lakeshorelabs/oauthd/providers"
)

// Compile-time check that Provider implements the providers.Provider interface.
var _ providers.Provider = (*Provider)(nil)

// userinfoEndpoint is GitHub's user API endpoint.
const userinfoEndpoint = "https://api.github.com/user"

// delegationScope is the fixed scope string sent on every GitHub delegation.
const delegationScope = "user:email"

// Provider implements federation against GitHub OAuth apps.
type Provider struct {
	httpClient     *http.Client
	endpoint       oauth2.Endpoint
	userinfoURL    string
	requestTimeout time.Duration
}

// Config holds GitHub provider construction options. All fields are
// optional; endpoints default to GitHub's public API.
type Config struct {
	// HTTPClient is an optional custom HTTP client.
	HTTPClient *http.Client

	// Endpoint overrides the OAuth endpoints (for tests).
	Endpoint *oauth2.Endpoint

	// UserinfoURL overrides the user API endpoint (for tests).
	UserinfoURL string

	// RequestTimeout bounds GitHub API calls when the caller's context has
	// no deadline (default: 30s).
	RequestTimeout time.Duration
}

// New creates a GitHub provider.
func New(cfg *Config) *Provider {
	if cfg == nil {
		cfg = &Config{}
	}
	p := &Provider{
		httpClient:     cfg.HTTPClient,
		endpoint:       oauthgithub.Endpoint,
		userinfoURL:    userinfoEndpoint,
		requestTimeout: cfg.RequestTimeout,
	}
	if cfg.Endpoint != nil {
		p.endpoint = *cfg.Endpoint
	}
	if cfg.UserinfoURL != "" {
		p.userinfoURL = cfg.UserinfoURL
	}
	if p.requestTimeout == 0 {
		p.requestTimeout = 30 * time.Second
	}
	if p.httpClient == nil {
		p.httpClient = &http.Client{Timeout: p.requestTimeout}
	}
	return p
}

// Kind returns the provider kind.
func (p *Provider) Kind() providers.Kind {
	return providers.KindGitHub
}

// Validate checks the authenticator configuration.
func (p *Provider) Validate(config map[string]string) error {
	return providers.ValidateConfig(config)
}

// Delegate builds the GitHub authorize redirect.
func (p *Provider) Delegate(config map[string]string, callbackURI string) (string, error) {
	return providers.Delegate(config, callbackURI, p.endpoint, []string{delegationScope})
}

// Authenticate completes the GitHub handshake and maps the user document
// onto a profile. GitHub identifies users by a numeric id; it is carried as
// its decimal string form.
func (p *Provider) Authenticate(ctx context.Context, config map[string]string, params url.Values, callbackURI string) (*providers.Profile, error) {
	doc, err := providers.CompleteHandshake(ctx, p.httpClient, config, params, callbackURI, p.endpoint, []string{delegationScope}, p.userinfoURL)
	if err != nil {
		return nil, err
	}

	profile := &providers.Profile{
		ID:     providers.StringClaim(doc, "id"),
		Claims: map[string]string{},
	}
	for _, claim := range []string{"login", "name", "email", "avatar_url"} {
		if v := providers.StringClaim(doc, claim); v != "" {
			profile.Claims[claim] = v
		}
	}
	if profile.ID == "" {
		return nil, &providers.ThirdPartyError{Description: "github user document has no id"}
	}
	return profile, nil
}
