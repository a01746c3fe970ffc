package oauth

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/lakeshorelabs/oauthd/storage"
)

// Principal is the authenticated caller of a revoke or introspect request.
// Exactly one of Token and Client is set: Token when the caller presented a
// bearer token, Client when it authenticated with its client credentials.
type Principal struct {
	Token  *storage.OAuthToken
	Client *storage.Client
}

// applicationID returns the application the principal acts for.
func (p Principal) applicationID() string {
	if p.Client != nil {
		return p.Client.ApplicationID
	}
	if p.Token != nil {
		return p.Token.ApplicationID
	}
	return ""
}

// actsAsClient reports whether the principal carries client authority rather
// than a user's. Client credentials do; so does a bearer token issued through
// the client-credentials grant, which has no identity attached. Non-bearer
// tokens never carry client authority.
func (p Principal) actsAsClient() bool {
	if p.Client != nil {
		return true
	}
	return p.Token != nil && p.Token.Type == storage.TokenBearer && p.Token.IdentityID == ""
}

// mayAct decides whether the principal may revoke or introspect the target
// token. The rules are shared by both operations except for one carve-out:
// only bearer tokens may introspect themselves, while any token may revoke
// itself.
func (p Principal) mayAct(target *storage.OAuthToken, introspection bool) bool {
	if target == nil {
		return false
	}

	// Self-action.
	if p.Token != nil && p.Token.ID == target.ID {
		if introspection && p.Token.Type != storage.TokenBearer {
			return false
		}
		return true
	}

	// Governance never crosses applications, whoever is asking.
	if p.applicationID() == "" || p.applicationID() != target.ApplicationID {
		return false
	}

	// A client governs every token issued within its application, whichever
	// sibling client issued it.
	if p.actsAsClient() {
		return true
	}

	// A user-bound bearer token governs the same user's tokens across
	// clients. UserID is scoped to one application, so equal ids cannot
	// reach across applications. Refresh tokens and authorization codes
	// carry no such authority beyond revoking themselves.
	if p.Token != nil && p.Token.Type == storage.TokenBearer &&
		p.Token.UserID != "" && p.Token.UserID == target.UserID {
		return true
	}

	return false
}

// RevokeToken deletes the target token if the principal is authorized for it.
// Refusal and absence collapse into the same not-found result so a caller
// cannot probe for token existence. Revoking an already-deleted token id is
// the same not-found, never a crash.
func (s *Server) RevokeToken(ctx context.Context, principal Principal, tokenID string) error {
	if uuid.Validate(tokenID) != nil {
		return ErrInvalidRequest("token is not a well-formed token id")
	}

	target, err := s.tokens.GetToken(ctx, tokenID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrNotFound("token not found")
		}
		return ErrServerError("token lookup failed")
	}

	if !principal.mayAct(target, false) {
		s.Logger.Debug("Revocation refused", "token_id", safeTruncate(tokenID, 8))
		return ErrNotFound("token not found")
	}

	// A revoked refresh token takes every access token it produced with it.
	if target.Type == storage.TokenRefresh {
		if err := s.tokens.DeleteTokensForRefreshToken(ctx, target.ID); err != nil {
			return ErrServerError("failed to revoke derived tokens")
		}
	}
	if err := s.tokens.DeleteToken(ctx, tokenID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return ErrServerError("failed to revoke token")
	}

	if s.Auditor != nil {
		s.Auditor.LogTokenRevoked(target.UserID, target.ClientID, "", string(target.Type))
	}
	return nil
}

// IntrospectToken reports the state of the target token to an authorized
// caller. Denied, absent and expired targets all produce the same inactive
// body; only a syntactically malformed token id is a caller error.
func (s *Server) IntrospectToken(ctx context.Context, principal Principal, tokenID string) (*IntrospectionResponse, error) {
	if uuid.Validate(tokenID) != nil {
		return nil, ErrInvalidRequest("token is not a well-formed token id")
	}

	inactive := &IntrospectionResponse{Active: false}

	target, err := s.tokens.GetToken(ctx, tokenID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return inactive, nil
		}
		return nil, ErrServerError("token lookup failed")
	}

	if target.Expired(time.Now()) {
		return inactive, nil
	}

	if !principal.mayAct(target, true) {
		if s.Auditor != nil {
			clientID := ""
			if principal.Client != nil {
				clientID = principal.Client.ID
			} else if principal.Token != nil {
				clientID = principal.Token.ClientID
			}
			s.Auditor.LogIntrospectionDenied(clientID, "")
		}
		return inactive, nil
	}

	return s.buildIntrospection(ctx, target), nil
}

// buildIntrospection renders the active response body for a token the caller
// may see.
func (s *Server) buildIntrospection(ctx context.Context, token *storage.OAuthToken) *IntrospectionResponse {
	resp := &IntrospectionResponse{
		Active:    true,
		ClientID:  token.ClientID,
		TokenType: string(token.Type),
		IssuedAt:  token.IssuedAt.Unix(),
		ExpiresAt: token.ExpiresAt().Unix(),
		NotBefore: token.IssuedAt.Unix(),
		TokenID:   token.ID,
		Audience:  token.ApplicationID,
		Issuer:    s.Config.Issuer,
		Scope:     token.Scopes.String(),
		Subject:   token.ClientID,
	}
	if token.UserID != "" {
		resp.Subject = token.UserID
		identity, err := s.identities.GetIdentityByID(ctx, token.IdentityID)
		if err != nil {
			s.Logger.Warn("Identity missing for user-bound token", "token_id", safeTruncate(token.ID, 8), "error", err)
		} else {
			resp.Username = identity.RemoteID
		}
	}
	return resp
}
