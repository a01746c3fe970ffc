// Package mock provides a configurable Provider implementation for tests.
package mock

import (
	"context"
	"net/url"

	"github.com/lakeshorelabs/oauthd/providers"
)

// Compile-time check that Provider implements the providers.Provider interface.
var _ providers.Provider = (*Provider)(nil)

// Provider is a test double. Configure the exported fields, then inspect the
// recorded call arguments.
type Provider struct {
	ProviderKind providers.Kind

	ValidateErr error

	DelegateURL string
	DelegateErr error

	Profile         *providers.Profile
	AuthenticateErr error

	// Recorded arguments from the most recent calls.
	LastConfig      map[string]string
	LastCallbackURI string
	LastParams      url.Values
}

// New creates a mock provider with a default kind and profile.
func New() *Provider {
	return &Provider{
		ProviderKind: providers.KindGitHub,
		DelegateURL:  "https://idp.example.com/authorize?state=test",
		Profile: &providers.Profile{
			ID:     "remote-user-1",
			Claims: map[string]string{"name": "Test User", "email": "test@example.com"},
		},
	}
}

// Kind returns the configured kind.
func (p *Provider) Kind() providers.Kind {
	return p.ProviderKind
}

// Validate returns the configured validation error.
func (p *Provider) Validate(config map[string]string) error {
	p.LastConfig = config
	if p.ValidateErr != nil {
		return p.ValidateErr
	}
	return providers.ValidateConfig(config)
}

// Delegate returns the configured redirect or error.
func (p *Provider) Delegate(config map[string]string, callbackURI string) (string, error) {
	p.LastConfig = config
	p.LastCallbackURI = callbackURI
	if p.DelegateErr != nil {
		return "", p.DelegateErr
	}
	return p.DelegateURL, nil
}

// Authenticate returns the configured profile or error.
func (p *Provider) Authenticate(_ context.Context, config map[string]string, params url.Values, callbackURI string) (*providers.Profile, error) {
	p.LastConfig = config
	p.LastParams = params
	p.LastCallbackURI = callbackURI
	if p.AuthenticateErr != nil {
		return nil, p.AuthenticateErr
	}
	return p.Profile, nil
}
