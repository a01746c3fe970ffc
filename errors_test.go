package oauth

import (
	"errors"
	"net/http"
	"testing"
)

func TestOAuthErrorConstructors(t *testing.T) {
	tests := []struct {
		name       string
		err        *OAuthError
		wantCode   string
		wantStatus int
	}{
		{"invalid request", ErrInvalidRequest("d"), ErrorCodeInvalidRequest, http.StatusBadRequest},
		{"invalid grant", ErrInvalidGrant("d"), ErrorCodeInvalidGrant, http.StatusBadRequest},
		{"invalid client", ErrInvalidClient("d"), ErrorCodeInvalidClient, http.StatusUnauthorized},
		{"invalid scope", ErrInvalidScope("d"), ErrorCodeInvalidScope, http.StatusBadRequest},
		{"invalid token", ErrInvalidToken("d"), ErrorCodeInvalidToken, http.StatusUnauthorized},
		{"unauthorized client", ErrUnauthorizedClient("d"), ErrorCodeUnauthorizedClient, http.StatusBadRequest},
		{"unsupported grant type", ErrUnsupportedGrantType("d"), ErrorCodeUnsupportedGrantType, http.StatusBadRequest},
		{"unsupported response type", ErrUnsupportedResponseType("d"), ErrorCodeUnsupportedResponseType, http.StatusBadRequest},
		{"server error", ErrServerError("d"), ErrorCodeServerError, http.StatusInternalServerError},
		{"access denied", ErrAccessDenied("d"), ErrorCodeAccessDenied, http.StatusForbidden},
		{"not found", ErrNotFound("d"), ErrorCodeNotFound, http.StatusNotFound},
		{"misconfigured authenticator", ErrMisconfiguredAuthenticator("d"), ErrorCodeServerError, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Code != tt.wantCode {
				t.Errorf("Code = %s, want %s", tt.err.Code, tt.wantCode)
			}
			if tt.err.Status != tt.wantStatus {
				t.Errorf("Status = %d, want %d", tt.err.Status, tt.wantStatus)
			}
			if tt.err.Description != "d" {
				t.Errorf("Description = %q", tt.err.Description)
			}
		})
	}
}

func TestErrThirdParty(t *testing.T) {
	t.Run("provider code surfaces as-is", func(t *testing.T) {
		err := ErrThirdParty("access_denied", "user said no")
		if err.Code != "access_denied" || err.Description != "user said no" {
			t.Errorf("err = %+v", err)
		}
		if err.Status != http.StatusBadGateway {
			t.Errorf("Status = %d, want %d", err.Status, http.StatusBadGateway)
		}
	})

	t.Run("missing provider code falls back to the generic kind", func(t *testing.T) {
		err := ErrThirdParty("", "upstream timeout")
		if err.Code != ErrorCodeThirdPartyError {
			t.Errorf("Code = %s, want %s", err.Code, ErrorCodeThirdPartyError)
		}
	})
}

func TestRedirectErrorUnwrap(t *testing.T) {
	inner := ErrUnsupportedResponseType("wrong type")
	redirectErr := &RedirectError{RedirectURI: "https://app.example.com/cb", State: "s", Err: inner}

	var oauthErr *OAuthError
	if !errors.As(redirectErr, &oauthErr) {
		t.Fatal("errors.As failed to reach the wrapped OAuthError")
	}
	if oauthErr != inner {
		t.Error("unwrap returned a different error")
	}
	if redirectErr.Error() == "" {
		t.Error("Error() returned an empty string")
	}
}
