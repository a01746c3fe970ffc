package google

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"
	oauthgoogle "golang.org/x/oauth2/google"

	"github.com/lakeshorelabs/oauthd/providers"
)

// Compile-time check that Provider implements the providers.Provider interface.
var _ providers.Provider = (*Provider)(nil)

// userinfoEndpoint is the OpenID Connect userinfo endpoint.
const userinfoEndpoint = "https://openidconnect.googleapis.com/v1/userinfo"

// delegationScope is the fixed scope string sent on every Google delegation.
const delegationScope = "openid email profile"

// Provider implements federation against Google.
type Provider struct {
	httpClient     *http.Client
	endpoint       oauth2.Endpoint
	userinfoURL    string
	requestTimeout time.Duration
}

// Config holds Google provider construction options. All fields are
// optional; endpoints default to Google's public API.
type Config struct {
	// HTTPClient is an optional custom HTTP client.
	HTTPClient *http.Client

	// Endpoint overrides the OAuth endpoints (for tests).
	Endpoint *oauth2.Endpoint

	// UserinfoURL overrides the userinfo endpoint (for tests).
	UserinfoURL string

	// RequestTimeout bounds Google API calls when the caller's context has
	// no deadline (default: 30s).
	RequestTimeout time.Duration
}

// New creates a Google provider.
func New(cfg *Config) *Provider {
	if cfg == nil {
		cfg = &Config{}
	}
	p := &Provider{
		httpClient:     cfg.HTTPClient,
		endpoint:       oauthgoogle.Endpoint,
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
	return providers.KindGoogle
}

// Validate checks the authenticator configuration.
func (p *Provider) Validate(config map[string]string) error {
	return providers.ValidateConfig(config)
}

// Delegate builds the Google authorize redirect.
func (p *Provider) Delegate(config map[string]string, callbackURI string) (string, error) {
	return providers.Delegate(config, callbackURI, p.endpoint, []string{delegationScope})
}

// Authenticate completes the Google handshake. The OIDC userinfo document
// identifies the user by sub; older userinfo v2 responses use id, accepted
// as a fallback.
func (p *Provider) Authenticate(ctx context.Context, config map[string]string, params url.Values, callbackURI string) (*providers.Profile, error) {
	doc, err := providers.CompleteHandshake(ctx, p.httpClient, config, params, callbackURI, p.endpoint, []string{delegationScope}, p.userinfoURL)
	if err != nil {
		return nil, err
	}

	id := providers.StringClaim(doc, "sub")
	if id == "" {
		id = providers.StringClaim(doc, "id")
	}
	if id == "" {
		return nil, &providers.ThirdPartyError{Description: "google userinfo document has no subject"}
	}

	profile := &providers.Profile{ID: id, Claims: map[string]string{}}
	for _, claim := range []string{"email", "name", "given_name", "family_name", "picture", "locale"} {
		if v := providers.StringClaim(doc, claim); v != "" {
			profile.Claims[claim] = v
		}
	}
	return profile, nil
}
