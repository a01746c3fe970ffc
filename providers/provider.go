// Package providers implements delegation to third-party identity providers.
// Each supported provider kind drives the same two-step protocol: build the
// outbound authorize redirect, then complete the handshake when the callback
// arrives by exchanging the code and fetching the remote profile.
package providers

import (
	"context"
	"errors"
	"fmt"
	"net/url"
)

// Kind identifies a supported provider implementation. The set is closed:
// authenticator type strings resolve through a Registry built at startup,
// never through reflection.
type Kind string

const (
	KindGitHub Kind = "github"
	KindGoogle Kind = "google"
)

// Authenticator configuration keys every third-party kind requires. Extra
// keys in a configuration map are ignored, never rejected.
const (
	ConfigKeyClientID     = "client_id"
	ConfigKeyClientSecret = "client_secret"
)

// Errors surfaced by provider operations. The server layer maps these onto
// the catalogued OAuth error kinds.
var (
	// ErrMisconfigured means the authenticator configuration lacks the
	// client-id or client-secret entry. A deployment defect, not caller error.
	ErrMisconfigured = errors.New("authenticator configuration missing client credentials")

	// ErrMissingCallbackState means the callback URI carried no state query
	// parameter. This is a programmer invariant: the caller builds the
	// callback URI and must thread the correlation state through it.
	ErrMissingCallbackState = errors.New("callback URI missing state parameter")

	// ErrMissingCode means the provider callback carried neither a code nor
	// an error: the request is malformed.
	ErrMissingCode = errors.New("callback missing authorization code")
)

// ThirdPartyError reports a failure attributable to the identity provider:
// an explicit error callback, an unparseable or non-success response, or a
// response missing a required field.
type ThirdPartyError struct {
	// Code is the provider's own error code when it supplied one.
	Code string

	// Description is human-readable detail, from the provider when available.
	Description string
}

func (e *ThirdPartyError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("identity provider error %s: %s", e.Code, e.Description)
	}
	return fmt.Sprintf("identity provider error: %s", e.Description)
}

// Profile is the remote identity fetched from a provider's userinfo endpoint.
type Profile struct {
	// ID is the provider-assigned identifier. Never empty: a profile without
	// an id is rejected as a ThirdPartyError before it reaches callers.
	ID string

	// Claims holds the remaining profile attributes (name, email, ...).
	Claims map[string]string
}

// Provider drives the federation handshake against one identity provider.
// Implementations are stateless aside from their injected HTTP client and
// are safe for concurrent use.
type Provider interface {
	// Kind returns the provider kind this implementation serves.
	Kind() Kind

	// Validate checks that the authenticator configuration carries the
	// entries this provider requires. Returns ErrMisconfigured otherwise.
	Validate(config map[string]string) error

	// Delegate builds the redirect to the provider's authorize endpoint.
	// The callback URI must carry a state query parameter; it is copied onto
	// the redirect verbatim so the callback handler can correlate it, while
	// the redirect_uri sent to the provider is the callback stripped of its
	// query string.
	Delegate(config map[string]string, callbackURI string) (string, error)

	// Authenticate completes the handshake: surfaces provider-reported
	// errors, exchanges the code, fetches the user profile and returns it.
	Authenticate(ctx context.Context, config map[string]string, params url.Values, callbackURI string) (*Profile, error)
}

// Registry maps authenticator type strings to provider implementations.
// It is assembled at startup and read-only afterwards.
type Registry struct {
	providers map[Kind]Provider
}

// NewRegistry builds a registry from the given providers.
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[Kind]Provider, len(providers))}
	for _, p := range providers {
		r.providers[p.Kind()] = p
	}
	return r
}

// Lookup resolves an authenticator type string to its provider.
func (r *Registry) Lookup(authenticatorType string) (Provider, bool) {
	p, ok := r.providers[Kind(authenticatorType)]
	return p, ok
}
