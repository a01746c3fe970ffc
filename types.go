package oauth

// ErrorResponse represents an OAuth error response
type ErrorResponse struct {
	// Error is the error code
	Error string `json:"error"`

	// ErrorDescription provides additional information
	ErrorDescription string `json:"error_description,omitempty"`
}

// TokenResponse represents an OAuth 2.0 token response
type TokenResponse struct {
	// AccessToken is the access token
	AccessToken string `json:"access_token"`

	// TokenType is the type of token (always "bearer")
	TokenType string `json:"token_type"`

	// ExpiresIn is the lifetime in seconds of the access token
	ExpiresIn int64 `json:"expires_in,omitempty"`

	// RefreshToken is the refresh token (optional)
	RefreshToken string `json:"refresh_token,omitempty"`

	// Scope is the granted scope set, space-separated and sorted
	Scope string `json:"scope,omitempty"`

	// State echoes the client's state parameter when one was supplied
	State string `json:"state,omitempty"`
}

// IntrospectionResponse represents an RFC 7662 introspection response.
// Every field other than Active is omitted for inactive tokens, so a denied
// or expired lookup is structurally valid but carries no information.
type IntrospectionResponse struct {
	// Active reports whether the token is live and the caller may see it
	Active bool `json:"active"`

	// ClientID is the id of the client the token was issued to
	ClientID string `json:"client_id,omitempty"`

	// TokenType is the token's type (authorization, bearer, refresh)
	TokenType string `json:"token_type,omitempty"`

	// IssuedAt is the issuance instant (Unix seconds)
	IssuedAt int64 `json:"iat,omitempty"`

	// ExpiresAt is the expiry instant (Unix seconds)
	ExpiresAt int64 `json:"exp,omitempty"`

	// NotBefore equals IssuedAt; the token is valid from issuance
	NotBefore int64 `json:"nbf,omitempty"`

	// TokenID is the token identifier
	TokenID string `json:"jti,omitempty"`

	// Audience is the owning application id
	Audience string `json:"aud,omitempty"`

	// Issuer is the authorization server's issuer identifier
	Issuer string `json:"iss,omitempty"`

	// Scope is the granted scope set, space-joined and sorted; absent when empty
	Scope string `json:"scope,omitempty"`

	// Subject is the user id for user-bound tokens, else the client id
	Subject string `json:"sub,omitempty"`

	// Username is the identity's remote id, present only for user-bound tokens
	Username string `json:"username,omitempty"`
}
