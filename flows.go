package oauth

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/lakeshorelabs/oauthd/providers"
	"github.com/lakeshorelabs/oauthd/storage"
)

// AuthorizeRequest carries the parsed parameters of one authorization
// endpoint request.
type AuthorizeRequest struct {
	ClientID          string
	RedirectURI       string
	ResponseType      string
	Scope             string
	State             string
	AuthenticatorType string

	// Username and Password are consulted only when the selected
	// authenticator is the local password type.
	Username string
	Password string
}

// AuthorizeResult is the outcome of an authorization endpoint request: a
// redirect, either back to the client carrying a code or token, or out to an
// identity provider when the flow was delegated.
type AuthorizeResult struct {
	RedirectURL string
	Delegated   bool
}

// StartAuthorizationFlow runs the authorization endpoint decision chain:
// client lookup, redirect validation, response type and scope checks,
// authenticator selection, then either local credential verification or
// delegation to the selected identity provider.
func (s *Server) StartAuthorizationFlow(ctx context.Context, req *AuthorizeRequest) (*AuthorizeResult, error) {
	client, err := s.clients.GetClient(ctx, req.ClientID)
	if err != nil {
		if s.Auditor != nil {
			s.Auditor.LogAuthFailure("", req.ClientID, "", ErrorCodeInvalidClient)
		}
		return nil, ErrInvalidRequest("unknown client")
	}

	redirect, err := s.RequireRedirectURI(client, req.RedirectURI)
	if err != nil {
		return nil, err
	}

	// From here a trusted redirect target exists, so response type failures
	// travel back on it rather than as a direct error body.
	if err := ValidateResponseType(client, req.ResponseType); err != nil {
		var oauthErr *OAuthError
		if errors.As(err, &oauthErr) {
			return nil, &RedirectError{RedirectURI: redirect.String(), State: req.State, Err: oauthErr}
		}
		return nil, err
	}

	scopes, err := ValidateScopes(req.Scope, client.Scopes)
	if err != nil {
		if s.Auditor != nil {
			s.Auditor.LogAuthFailure("", client.ID, "", ErrorCodeInvalidScope)
		}
		return nil, err
	}

	auth, err := ValidateAuthenticator(req.AuthenticatorType, client.Authenticators)
	if err != nil {
		return nil, err
	}

	if auth.Type == AuthenticatorTypeLocal {
		identity, err := s.authenticateLocal(ctx, client, req.Username, req.Password)
		if err != nil {
			return nil, err
		}
		return s.completeAuthorization(ctx, client, identity, scopes, redirect, req.ResponseType, req.State)
	}

	return s.delegateToProvider(ctx, client, auth, req, scopes)
}

// delegateToProvider records a single-use federation state and builds the
// outbound redirect to the identity provider.
func (s *Server) delegateToProvider(ctx context.Context, client *storage.Client, auth *storage.Authenticator, req *AuthorizeRequest, scopes storage.ScopeSet) (*AuthorizeResult, error) {
	provider, ok := s.registry.Lookup(auth.Type)
	if !ok {
		s.Logger.Error("No provider registered for authenticator", "type", auth.Type)
		return nil, ErrMisconfiguredAuthenticator("authenticator is not available")
	}

	state := &storage.AuthenticatorState{
		ID:                uuid.NewString(),
		ClientID:          client.ID,
		AuthenticatorType: auth.Type,
		ClientState:       req.State,
		RedirectURI:       req.RedirectURI,
		ResponseType:      req.ResponseType,
		Scope:             scopes.String(),
		CreatedAt:         time.Now(),
		ExpiresAt:         time.Now().Add(time.Duration(s.Config.FederationStateTTL) * time.Second),
	}
	if err := s.states.SaveAuthenticatorState(ctx, state); err != nil {
		return nil, ErrServerError("failed to save federation state")
	}

	idpURL, err := provider.Delegate(auth.Config, s.callbackURI(state.ID))
	if err != nil {
		return nil, s.mapProviderError(err)
	}

	if s.Auditor != nil {
		s.Auditor.LogDelegationStarted(client.ID, auth.Type)
	}
	return &AuthorizeResult{RedirectURL: idpURL, Delegated: true}, nil
}

// HandleFederationCallback completes a delegated flow: it consumes the
// pending state exactly once, finishes the provider handshake, reconciles the
// returned identity with local records and issues the code or token the
// original request asked for.
func (s *Server) HandleFederationCallback(ctx context.Context, stateID string, params url.Values) (*AuthorizeResult, error) {
	if stateID == "" {
		return nil, ErrInvalidRequest("state parameter is required")
	}

	state, err := s.states.ConsumeAuthenticatorState(ctx, stateID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrInvalidRequest("unknown or already used state")
		}
		return nil, ErrServerError("federation state lookup failed")
	}
	if time.Now().After(state.ExpiresAt) {
		return nil, ErrInvalidRequest("federation state has expired")
	}

	client, err := s.clients.GetClient(ctx, state.ClientID)
	if err != nil {
		return nil, ErrServerError("client for pending federation no longer exists")
	}

	auth, err := ValidateAuthenticator(state.AuthenticatorType, client.Authenticators)
	if err != nil {
		return nil, err
	}
	provider, ok := s.registry.Lookup(auth.Type)
	if !ok {
		return nil, ErrMisconfiguredAuthenticator("authenticator is not available")
	}

	profile, err := provider.Authenticate(ctx, auth.Config, params, s.callbackURI(state.ID))
	if err != nil {
		if s.Auditor != nil {
			s.Auditor.LogAuthFailure("", client.ID, "", "federation_failed")
		}
		return nil, s.mapProviderError(err)
	}

	identity, created, err := s.reconcileIdentity(ctx, client.ApplicationID, state.AuthenticatorType, profile)
	if err != nil {
		return nil, err
	}
	if s.Auditor != nil {
		s.Auditor.LogFederationCompleted(identity.UserID, client.ID, auth.Type, created)
	}

	// The client's scope set may have changed while the user was away.
	scopes, err := ValidateScopes(state.Scope, client.Scopes)
	if err != nil {
		return nil, err
	}

	redirect := ValidateRedirectURI(state.RedirectURI, client.RedirectURIs)
	if redirect == nil {
		return nil, ErrInvalidRequest("redirect_uri is no longer registered for this client")
	}

	return s.completeAuthorization(ctx, client, identity, scopes, redirect, state.ResponseType, state.ClientState)
}

// reconcileIdentity links a fetched remote profile to a local identity within
// one application. A returning remote id has its claims overwritten in full;
// an unknown one gets a fresh user and identity. Identities never correlate
// across applications.
func (s *Server) reconcileIdentity(ctx context.Context, applicationID, authenticatorType string, profile *providers.Profile) (*storage.UserIdentity, bool, error) {
	identity, err := s.identities.GetIdentity(ctx, applicationID, authenticatorType, profile.ID)
	if err == nil {
		identity.Claims = profile.Claims
		identity.UpdatedAt = time.Now()
		if err := s.identities.SaveIdentity(ctx, identity); err != nil {
			return nil, false, ErrServerError("failed to update identity")
		}
		return identity, false, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, false, ErrServerError("identity lookup failed")
	}

	user := &storage.User{
		ID:            uuid.NewString(),
		ApplicationID: applicationID,
		CreatedAt:     time.Now(),
	}
	if err := s.identities.SaveUser(ctx, user); err != nil {
		return nil, false, ErrServerError("failed to create user")
	}
	identity = &storage.UserIdentity{
		ID:                uuid.NewString(),
		UserID:            user.ID,
		ApplicationID:     applicationID,
		AuthenticatorType: authenticatorType,
		RemoteID:          profile.ID,
		Claims:            profile.Claims,
		UpdatedAt:         time.Now(),
	}
	if err := s.identities.SaveIdentity(ctx, identity); err != nil {
		return nil, false, ErrServerError("failed to create identity")
	}
	return identity, true, nil
}

// authenticateLocal verifies resource owner credentials against the local
// password identity for this application.
func (s *Server) authenticateLocal(ctx context.Context, client *storage.Client, username, password string) (*storage.UserIdentity, error) {
	if username == "" || password == "" {
		return nil, ErrAccessDenied("credentials are required")
	}
	identity, err := s.identities.GetIdentity(ctx, client.ApplicationID, AuthenticatorTypeLocal, username)
	if err != nil {
		if s.Auditor != nil {
			s.Auditor.LogAuthFailure("", client.ID, "", "unknown_user")
		}
		return nil, ErrAccessDenied("invalid credentials")
	}
	if !s.hasher.Verify(password, identity.PasswordSalt, identity.PasswordHash) {
		if s.Auditor != nil {
			s.Auditor.LogAuthFailure(identity.UserID, client.ID, "", "bad_password")
		}
		return nil, ErrAccessDenied("invalid credentials")
	}
	return identity, nil
}

// completeAuthorization issues the credential the original request asked for
// and builds the redirect back to the client. Codes travel in the query,
// implicit tokens in the fragment.
func (s *Server) completeAuthorization(ctx context.Context, client *storage.Client, identity *storage.UserIdentity, scopes storage.ScopeSet, redirect *url.URL, responseType, clientState string) (*AuthorizeResult, error) {
	target := *redirect

	switch responseType {
	case "code":
		code, err := s.issueToken(ctx, storage.TokenAuthorization, client, identity, scopes, s.Config.AuthorizationCodeTTL, "")
		if err != nil {
			return nil, err
		}
		query := target.Query()
		query.Set("code", code.ID)
		if clientState != "" {
			query.Set("state", clientState)
		}
		target.RawQuery = query.Encode()

	case "token":
		token, err := s.issueToken(ctx, storage.TokenBearer, client, identity, scopes, s.Config.AccessTokenTTL, "")
		if err != nil {
			return nil, err
		}
		if s.Auditor != nil {
			s.Auditor.LogTokenIssued(token.UserID, client.ID, "", token.Scopes.String())
		}
		fragment := url.Values{}
		fragment.Set("access_token", token.ID)
		fragment.Set("token_type", "Bearer")
		fragment.Set("expires_in", strconv.FormatInt(s.Config.AccessTokenTTL, 10))
		if scope := token.Scopes.String(); scope != "" {
			fragment.Set("scope", scope)
		}
		if clientState != "" {
			fragment.Set("state", clientState)
		}
		target.Fragment = ""
		target.RawFragment = fragment.Encode()

	default:
		return nil, ErrUnsupportedResponseType("response_type must be code or token")
	}

	return &AuthorizeResult{RedirectURL: target.String()}, nil
}

// mapProviderError recasts provider package failures into the catalogued
// error kinds. Unrecognized errors pass through untouched and surface as
// server errors.
func (s *Server) mapProviderError(err error) error {
	var thirdParty *providers.ThirdPartyError
	if errors.As(err, &thirdParty) {
		return ErrThirdParty(thirdParty.Code, thirdParty.Description)
	}
	switch {
	case errors.Is(err, providers.ErrMissingCode):
		return ErrInvalidRequest("authorization code missing from callback")
	case errors.Is(err, providers.ErrMisconfigured):
		return ErrMisconfiguredAuthenticator("identity provider is not configured correctly")
	case errors.Is(err, providers.ErrMissingCallbackState):
		return ErrServerError("callback URI is missing its state parameter")
	}
	return err
}

// AuthenticateClient authenticates a confidential client by id and secret.
func (s *Server) AuthenticateClient(ctx context.Context, clientID, secret string) (*storage.Client, error) {
	client, err := s.clients.GetClient(ctx, clientID)
	if err != nil {
		return nil, ErrInvalidClient("client authentication failed")
	}
	if !client.Confidential() {
		return nil, ErrInvalidClient("client cannot authenticate with a secret")
	}
	if err := s.clients.ValidateClientSecret(ctx, clientID, secret); err != nil {
		if s.Auditor != nil {
			s.Auditor.LogAuthFailure("", clientID, "", ErrorCodeInvalidClient)
		}
		return nil, ErrInvalidClient("client authentication failed")
	}
	return client, nil
}

// ExchangeAuthorizationCode redeems a single-use authorization code for a
// bearer and refresh token pair.
func (s *Server) ExchangeAuthorizationCode(ctx context.Context, client *storage.Client, code, redirectURI string) (*TokenResponse, error) {
	if client.Type != storage.ClientAuthorizationGrant {
		return nil, ErrUnauthorizedClient("client may not use the authorization_code grant")
	}
	if uuid.Validate(code) != nil {
		return nil, ErrInvalidGrant("invalid authorization code")
	}

	grant, err := s.tokens.GetToken(ctx, code)
	if err != nil {
		return nil, ErrInvalidGrant("invalid authorization code")
	}
	if grant.Type != storage.TokenAuthorization || grant.ClientID != client.ID {
		return nil, ErrInvalidGrant("invalid authorization code")
	}
	if grant.Expired(time.Now()) {
		return nil, ErrInvalidGrant("authorization code has expired")
	}
	if ValidateRedirectURI(redirectURI, client.RedirectURIs) == nil {
		return nil, ErrInvalidGrant("redirect_uri does not match a registered redirect")
	}

	// Single use: the code is gone before any token exists.
	if err := s.tokens.DeleteToken(ctx, grant.ID); err != nil {
		return nil, ErrInvalidGrant("invalid authorization code")
	}

	identity, err := s.identityForToken(ctx, grant)
	if err != nil {
		return nil, err
	}

	refresh, err := s.issueToken(ctx, storage.TokenRefresh, client, identity, grant.Scopes, s.Config.RefreshTokenTTL, "")
	if err != nil {
		return nil, err
	}
	access, err := s.issueToken(ctx, storage.TokenBearer, client, identity, grant.Scopes, s.Config.AccessTokenTTL, refresh.ID)
	if err != nil {
		return nil, err
	}

	if s.Auditor != nil {
		s.Auditor.LogTokenIssued(access.UserID, client.ID, "", access.Scopes.String())
	}
	return s.tokenResponse(access, refresh.ID), nil
}

// ClientCredentialsGrant issues a bearer token carrying the client's own
// authority. No user identity is attached and no refresh token is issued.
func (s *Server) ClientCredentialsGrant(ctx context.Context, client *storage.Client, scope string) (*TokenResponse, error) {
	if client.Type != storage.ClientClientCredentials {
		return nil, ErrUnauthorizedClient("client may not use the client_credentials grant")
	}
	scopes, err := ValidateScopes(scope, client.Scopes)
	if err != nil {
		return nil, err
	}
	access, err := s.issueToken(ctx, storage.TokenBearer, client, nil, scopes, s.Config.AccessTokenTTL, "")
	if err != nil {
		return nil, err
	}
	if s.Auditor != nil {
		s.Auditor.LogTokenIssued("", client.ID, "", access.Scopes.String())
	}
	return s.tokenResponse(access, ""), nil
}

// PasswordGrant exchanges resource owner credentials for a bearer and refresh
// token pair. Requested scopes must fit inside the owner's role.
func (s *Server) PasswordGrant(ctx context.Context, client *storage.Client, username, password, scope string) (*TokenResponse, error) {
	if client.Type != storage.ClientOwnerCredentials {
		return nil, ErrUnauthorizedClient("client may not use the password grant")
	}

	identity, err := s.authenticateLocal(ctx, client, username, password)
	if err != nil {
		var oauthErr *OAuthError
		if errors.As(err, &oauthErr) && oauthErr.Code == ErrorCodeAccessDenied {
			return nil, ErrInvalidGrant("invalid resource owner credentials")
		}
		return nil, err
	}

	role, err := s.roleForUser(ctx, client.ApplicationID, identity.UserID)
	if err != nil {
		return nil, err
	}
	scopes, err := ValidateScopesForRole(scope, role)
	if err != nil {
		return nil, err
	}

	refresh, err := s.issueToken(ctx, storage.TokenRefresh, client, identity, scopes, s.Config.RefreshTokenTTL, "")
	if err != nil {
		return nil, err
	}
	access, err := s.issueToken(ctx, storage.TokenBearer, client, identity, scopes, s.Config.AccessTokenTTL, refresh.ID)
	if err != nil {
		return nil, err
	}

	if s.Auditor != nil {
		s.Auditor.LogTokenIssued(access.UserID, client.ID, "", access.Scopes.String())
	}
	return s.tokenResponse(access, refresh.ID), nil
}

// RefreshAccessToken redeems a refresh token for a fresh bearer token.
// The request may narrow but never widen the original grant; scopes the
// owner's role has since lost are dropped without error. Previously issued
// bearer tokens for this refresh token are replaced.
func (s *Server) RefreshAccessToken(ctx context.Context, client *storage.Client, refreshTokenID, scope string) (*TokenResponse, error) {
	if uuid.Validate(refreshTokenID) != nil {
		return nil, ErrInvalidGrant("invalid refresh token")
	}

	refresh, err := s.tokens.GetToken(ctx, refreshTokenID)
	if err != nil {
		return nil, ErrInvalidGrant("invalid refresh token")
	}
	if refresh.Type != storage.TokenRefresh || refresh.ClientID != client.ID {
		return nil, ErrInvalidGrant("invalid refresh token")
	}
	if refresh.Expired(time.Now()) {
		return nil, ErrInvalidGrant("refresh token has expired")
	}

	currentlyValid, err := s.currentlyValidScopes(ctx, client, refresh)
	if err != nil {
		return nil, err
	}

	// Omitting scope asks for the original grant back.
	if scope == "" {
		scope = refresh.Scopes.String()
	}
	scopes, dropped, err := RevalidateScopes(scope, refresh.Scopes, currentlyValid)
	if err != nil {
		if s.Auditor != nil {
			s.Auditor.LogAuthFailure(refresh.UserID, client.ID, "", ErrorCodeInvalidScope)
		}
		return nil, err
	}

	if err := s.tokens.DeleteTokensForRefreshToken(ctx, refresh.ID); err != nil {
		return nil, ErrServerError("failed to rotate access tokens")
	}

	identity, err := s.identityForToken(ctx, refresh)
	if err != nil {
		return nil, err
	}
	access, err := s.issueToken(ctx, storage.TokenBearer, client, identity, scopes, s.Config.AccessTokenTTL, refresh.ID)
	if err != nil {
		return nil, err
	}

	if s.Auditor != nil {
		s.Auditor.LogTokenRefreshed(access.UserID, client.ID, access.Scopes.String(), dropped)
	}
	return s.tokenResponse(access, refresh.ID), nil
}

// currentlyValidScopes computes the scope set a refreshed token may still
// draw from: the owner's role scopes for user-bound tokens, the client's own
// scopes otherwise.
func (s *Server) currentlyValidScopes(ctx context.Context, client *storage.Client, refresh *storage.OAuthToken) (storage.ScopeSet, error) {
	if refresh.UserID == "" {
		return client.Scopes, nil
	}
	role, err := s.roleForUser(ctx, client.ApplicationID, refresh.UserID)
	if err != nil {
		return nil, err
	}
	if role == nil {
		return storage.NewScopeSet(), nil
	}
	return role.Scopes, nil
}

// roleForUser resolves a user's role. A user without an assigned role yields
// nil, not an error.
func (s *Server) roleForUser(ctx context.Context, applicationID, userID string) (*storage.Role, error) {
	user, err := s.identities.GetUser(ctx, userID)
	if err != nil {
		return nil, ErrServerError("user lookup failed")
	}
	if user.RoleName == "" {
		return nil, nil
	}
	role, err := s.identities.GetRole(ctx, applicationID, user.RoleName)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, ErrServerError("role lookup failed")
	}
	return role, nil
}

// identityForToken loads the identity a token is bound to, when it has one.
func (s *Server) identityForToken(ctx context.Context, token *storage.OAuthToken) (*storage.UserIdentity, error) {
	if token.IdentityID == "" {
		return nil, nil
	}
	identity, err := s.identities.GetIdentityByID(ctx, token.IdentityID)
	if err != nil {
		return nil, ErrServerError("identity for token no longer exists")
	}
	return identity, nil
}

// tokenResponse renders the wire shape for an issued bearer token.
func (s *Server) tokenResponse(access *storage.OAuthToken, refreshTokenID string) *TokenResponse {
	return &TokenResponse{
		AccessToken:  access.ID,
		TokenType:    "Bearer",
		ExpiresIn:    int64(access.ExpiresIn / time.Second),
		RefreshToken: refreshTokenID,
		Scope:        access.Scopes.String(),
	}
}
