package oauth

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/lakeshorelabs/oauthd/instrumentation"
	"github.com/lakeshorelabs/oauthd/providers"
	"github.com/lakeshorelabs/oauthd/security"
	"github.com/lakeshorelabs/oauthd/storage"
)

// safeTruncate safely truncates a string to maxLen characters without panicking.
// Returns the original string if it's shorter than maxLen, otherwise returns
// the first maxLen characters. This prevents index out of bounds errors when logging.
func safeTruncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

// Server implements the authorization server's decision logic. It coordinates
// redirect validation, scope resolution, federated login and token governance
// over the injected storage backends and provider registry. All dependencies
// arrive through New; the server holds no ambient state.
type Server struct {
	clients    storage.ClientStore
	tokens     storage.TokenStore
	identities storage.IdentityStore
	states     storage.StateStore
	registry   *providers.Registry
	hasher     security.Hasher

	cors *security.CORSPolicy

	Auditor         *security.Auditor
	RateLimiter     *security.RateLimiter // IP-based rate limiter
	Instrumentation *instrumentation.Instrumentation
	Logger          *slog.Logger
	Config          *Config
}

// New creates a new authorization server
func New(
	clients storage.ClientStore,
	tokens storage.TokenStore,
	identities storage.IdentityStore,
	states storage.StateStore,
	registry *providers.Registry,
	config *Config,
	logger *slog.Logger,
) (*Server, error) {
	if clients == nil {
		return nil, fmt.Errorf("client store is required")
	}
	if tokens == nil {
		return nil, fmt.Errorf("token store is required")
	}
	if identities == nil {
		return nil, fmt.Errorf("identity store is required")
	}
	if states == nil {
		return nil, fmt.Errorf("state store is required")
	}
	if registry == nil {
		registry = providers.NewRegistry()
	}
	if config == nil {
		config = &Config{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	config = applySecureDefaults(config, logger)

	srv := &Server{
		clients:    clients,
		tokens:     tokens,
		identities: identities,
		states:     states,
		registry:   registry,
		cors:       security.NewCORSPolicy(config.CORSOriginValidator, config.CORSSources...),
		Config:     config,
		Logger:     logger,
	}

	return srv, nil
}

// CORSPolicy returns the immutable policy built from the configured sources.
// It is populated once here and read-only thereafter.
func (s *Server) CORSPolicy() *security.CORSPolicy {
	return s.cors
}

// SetAuditor sets the security auditor
func (s *Server) SetAuditor(aud *security.Auditor) {
	s.Auditor = aud
}

// SetRateLimiter sets the IP-based rate limiter
func (s *Server) SetRateLimiter(rl *security.RateLimiter) {
	s.RateLimiter = rl
}

// SetInstrumentation sets the OpenTelemetry instrumentation
func (s *Server) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.Instrumentation = inst
}

// callbackURI builds the federation callback URI carrying the correlation id
// the IdP must round-trip. Providers strip the query when deriving their
// redirect_uri parameter.
func (s *Server) callbackURI(stateID string) string {
	return s.Config.Issuer + s.Config.CallbackPath + "?state=" + stateID
}

// newTokenID returns a fresh token identifier. Token ids double as the wire
// token strings and as jti values in introspection responses.
func newTokenID() string {
	return uuid.NewString()
}

// issueToken creates and persists one token record. Expiry is fixed at
// issuance and never updated.
func (s *Server) issueToken(ctx context.Context, typ storage.TokenType, client *storage.Client, identity *storage.UserIdentity, scopes storage.ScopeSet, ttl int64, refreshTokenID string) (*storage.OAuthToken, error) {
	token := &storage.OAuthToken{
		ID:             newTokenID(),
		Type:           typ,
		ClientID:       client.ID,
		ApplicationID:  client.ApplicationID,
		Scopes:         scopes.Clone(),
		IssuedAt:       time.Now(),
		ExpiresIn:      time.Duration(ttl) * time.Second,
		RefreshTokenID: refreshTokenID,
	}
	if identity != nil {
		token.IdentityID = identity.ID
		token.UserID = identity.UserID
	}
	if err := s.tokens.SaveToken(ctx, token); err != nil {
		return nil, ErrServerError("failed to save token")
	}
	return token, nil
}
