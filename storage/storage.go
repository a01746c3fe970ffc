package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by every lookup when no record matches the key.
// Callers decide how absence is presented; the stores never distinguish
// "never existed" from "deleted".
var ErrNotFound = errors.New("storage: record not found")

// ClientType determines which response and grant types a client may use.
type ClientType string

const (
	// ClientImplicit clients receive tokens directly from the authorization
	// endpoint (response_type=token) and hold no secret.
	ClientImplicit ClientType = "implicit"

	// ClientAuthorizationGrant clients go through the authorization code flow
	// (response_type=code) and authenticate with a secret at the token endpoint.
	ClientAuthorizationGrant ClientType = "authorization_grant"

	// ClientClientCredentials clients obtain tokens for themselves, with no
	// user identity attached.
	ClientClientCredentials ClientType = "client_credentials"

	// ClientOwnerCredentials clients exchange a user's own credentials for a
	// token (resource owner password grant).
	ClientOwnerCredentials ClientType = "owner_credentials"
)

// Client is a registered application credential.
type Client struct {
	ID            string
	ApplicationID string
	Type          ClientType

	// SecretHash is the bcrypt hash of the client secret. Empty for public
	// (implicit) clients.
	SecretHash string

	// RedirectURIs is the registered redirect allow-list. Order is the
	// tie-break when several registrations match the same candidate.
	RedirectURIs []string

	// Scopes is the full scope set this client may hand out.
	Scopes ScopeSet

	// Authenticators lists the authentication methods configured for this
	// client, in registration order.
	Authenticators []*Authenticator

	CreatedAt time.Time
}

// Confidential reports whether the client type carries a secret.
func (c *Client) Confidential() bool {
	return c.Type != ClientImplicit
}

// ApplicationScope is a named permission unit, unique per application.
type ApplicationScope struct {
	Name          string
	Description   string
	ApplicationID string
}

// Role is a named bundle of scopes available to a user. A token's requested
// scopes must be a subset of the user's role scopes.
type Role struct {
	Name          string
	ApplicationID string
	Scopes        ScopeSet
}

// Authenticator is the per-client configuration for one authentication
// method: local password, or a named third-party identity provider.
type Authenticator struct {
	Type     string
	ClientID string

	// Config is opaque to the core. Third-party types carry at least
	// client_id and client_secret entries; extra keys are ignored.
	Config map[string]string
}

// AuthenticatorState is the single-use record bridging an outbound federation
// redirect and its callback. It is created when delegating to a third-party
// IdP and consumed exactly once when the callback arrives.
type AuthenticatorState struct {
	// ID is the server-generated correlation id, sent to the IdP as the
	// state parameter.
	ID string

	ClientID          string
	AuthenticatorType string

	// ClientState is the state query value the client originally supplied,
	// returned to it verbatim when the flow completes.
	ClientState string

	// RedirectURI is the validated redirect target of the original request.
	RedirectURI string

	// ResponseType is the response type of the original request, replayed
	// when the callback completes the flow.
	ResponseType string

	// Scope is the originally requested scope string.
	Scope string

	CreatedAt time.Time
	ExpiresAt time.Time
}

// User is a local account. Identities link it to authentication methods.
type User struct {
	ID            string
	ApplicationID string
	RoleName      string
	CreatedAt     time.Time
}

// UserIdentity links a user to one authentication method, scoped per
// application. The same remote account used against two applications yields
// two independent records; no cross-application correlation is permitted.
type UserIdentity struct {
	ID                string
	UserID            string
	ApplicationID     string
	AuthenticatorType string

	// RemoteID is the IdP-assigned identifier (or the local username for
	// password identities).
	RemoteID string

	// Claims holds profile attributes fetched from the IdP. Overwritten in
	// full each time the remote id authenticates again.
	Claims map[string]string

	// PasswordSalt and PasswordHash are set only for local password
	// identities.
	PasswordSalt string
	PasswordHash string

	UpdatedAt time.Time
}

// TokenType classifies an issued credential.
type TokenType string

const (
	TokenAuthorization TokenType = "authorization"
	TokenBearer        TokenType = "bearer"
	TokenRefresh       TokenType = "refresh"
)

// OAuthToken is one issued credential. Expiry is computed once at issuance
// and derived thereafter; it is never stored or mutated.
type OAuthToken struct {
	ID            string
	Type          TokenType
	ClientID      string
	ApplicationID string

	// IdentityID and UserID are empty for client-credentials tokens.
	IdentityID string
	UserID     string

	Scopes ScopeSet

	IssuedAt  time.Time
	ExpiresIn time.Duration

	// RefreshTokenID links an access token to the refresh token that
	// produced it, when there is one.
	RefreshTokenID string
}

// ExpiresAt returns the fixed expiry instant.
func (t *OAuthToken) ExpiresAt() time.Time {
	return t.IssuedAt.Add(t.ExpiresIn)
}

// Expired reports whether the token has expired at the given instant.
func (t *OAuthToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt())
}

// ClientStore manages registered clients.
type ClientStore interface {
	// GetClient retrieves a client by id.
	GetClient(ctx context.Context, clientID string) (*Client, error)

	// SaveClient persists a new or updated client.
	SaveClient(ctx context.Context, client *Client) error

	// ValidateClientSecret checks a client's secret against the stored hash.
	ValidateClientSecret(ctx context.Context, clientID, secret string) error
}

// TokenStore manages issued tokens.
type TokenStore interface {
	// GetToken retrieves a token by id.
	GetToken(ctx context.Context, tokenID string) (*OAuthToken, error)

	// SaveToken persists a newly issued token.
	SaveToken(ctx context.Context, token *OAuthToken) error

	// DeleteToken removes a token. Deleting an absent token returns
	// ErrNotFound; revocation callers treat that as success.
	DeleteToken(ctx context.Context, tokenID string) error

	// DeleteTokensForRefreshToken removes every access token linked to the
	// given refresh token. Used during refresh rotation.
	DeleteTokensForRefreshToken(ctx context.Context, refreshTokenID string) error
}

// IdentityStore manages users and their identities.
type IdentityStore interface {
	// GetIdentity retrieves the identity for an (application, authenticator
	// type, remote id) key.
	GetIdentity(ctx context.Context, applicationID, authenticatorType, remoteID string) (*UserIdentity, error)

	// GetIdentityByID retrieves an identity by its record id.
	GetIdentityByID(ctx context.Context, identityID string) (*UserIdentity, error)

	// SaveIdentity persists a new or updated identity.
	SaveIdentity(ctx context.Context, identity *UserIdentity) error

	// GetUser retrieves a user by id.
	GetUser(ctx context.Context, userID string) (*User, error)

	// SaveUser persists a new user.
	SaveUser(ctx context.Context, user *User) error

	// GetRole retrieves a role by (application, name).
	GetRole(ctx context.Context, applicationID, name string) (*Role, error)
}

// StateStore manages pending federation states.
type StateStore interface {
	// SaveAuthenticatorState persists a pending federation state.
	SaveAuthenticatorState(ctx context.Context, state *AuthenticatorState) error

	// ConsumeAuthenticatorState retrieves and deletes a pending state in one
	// atomic step. Two racing callbacks with the same correlation id must
	// not both succeed; the loser receives ErrNotFound.
	ConsumeAuthenticatorState(ctx context.Context, stateID string) (*AuthenticatorState, error)
}
