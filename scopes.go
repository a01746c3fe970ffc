package oauth

import (
	"fmt"

	"github.com/lakeshorelabs/oauthd/storage"
)

// AuthenticatorTypeLocal is the authenticator type for password login against
// locally stored identities. Every other type resolves through the provider
// registry.
const AuthenticatorTypeLocal = "local"

// ValidateScopes resolves a requested scope string against an allowed set.
// An empty request yields an empty set. Every requested name must be a key of
// allowed; one miss fails the whole request, there are no partial grants.
func ValidateScopes(requested string, allowed storage.ScopeSet) (storage.ScopeSet, error) {
	granted := storage.NewScopeSet()
	for _, name := range storage.SplitScopes(requested) {
		scope, ok := allowed[name]
		if !ok {
			return nil, ErrInvalidScope(fmt.Sprintf("scope %q is not available", name))
		}
		granted[name] = scope
	}
	return granted, nil
}

// ValidateScopesForRole resolves a requested scope string against the scopes
// of a user's role. A user without a role can be granted nothing.
func ValidateScopesForRole(requested string, role *storage.Role) (storage.ScopeSet, error) {
	if role == nil {
		return nil, ErrInvalidScope("no role available for the requesting user")
	}
	return ValidateScopes(requested, role.Scopes)
}

// RevalidateScopes recomputes a scope set at refresh-token redemption.
//
// Escalation beyond the original grant fails loudly even when the scope is
// currently valid. A scope that was originally granted but has since left the
// currently valid set is dropped silently; the dropped names are returned so
// the caller can audit the shrinkage. An empty request yields an empty set
// without consulting either input.
func RevalidateScopes(requested string, originallyGranted, currentlyValid storage.ScopeSet) (storage.ScopeSet, []string, error) {
	names := storage.SplitScopes(requested)
	if len(names) == 0 {
		return storage.NewScopeSet(), nil, nil
	}
	if originallyGranted == nil {
		return nil, nil, ErrServerError("refresh token carries no granted scope set")
	}
	if currentlyValid == nil {
		return nil, nil, ErrServerError("no currently valid scope set for refresh")
	}

	granted := storage.NewScopeSet()
	var dropped []string
	for _, name := range names {
		if !originallyGranted.Has(name) {
			return nil, nil, ErrInvalidScope(fmt.Sprintf("scope %q was not part of the original grant", name))
		}
		scope, ok := currentlyValid[name]
		if !ok {
			dropped = append(dropped, name)
			continue
		}
		granted[name] = scope
	}
	return granted, dropped, nil
}

// ValidateAuthenticator selects one of a client's configured authenticators.
// An empty requested type defaults to the sole configured entry; with several
// configured the choice is ambiguous and fails. Otherwise the first exact
// type match wins.
func ValidateAuthenticator(requestedType string, available []*storage.Authenticator) (*storage.Authenticator, error) {
	if len(available) == 0 {
		return nil, ErrInvalidRequest("client has no authenticators configured")
	}
	if requestedType == "" {
		if len(available) == 1 {
			return available[0], nil
		}
		return nil, ErrInvalidRequest("authenticator type is required when several are configured")
	}
	for _, auth := range available {
		if auth.Type == requestedType {
			return auth, nil
		}
	}
	return nil, ErrInvalidRequest(fmt.Sprintf("unknown authenticator type %q", requestedType))
}

// ValidateResponseType checks a response type against the client type.
// Implicit clients may only request "token" and authorization-grant clients
// only "code"; every other pairing is unsupported.
func ValidateResponseType(client *storage.Client, responseType string) error {
	if client == nil {
		return ErrUnsupportedResponseType("no client for response type check")
	}
	switch {
	case client.Type == storage.ClientImplicit && responseType == "token":
		return nil
	case client.Type == storage.ClientAuthorizationGrant && responseType == "code":
		return nil
	}
	return ErrUnsupportedResponseType(fmt.Sprintf("response_type %q is not supported for this client", responseType))
}
