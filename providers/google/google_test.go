package google

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"golang.org/x/oauth2"

	"github.com/lakeshorelabs/oauthd/providers"
)

const callbackURI = "https://auth.example.com/callback?state=abc123"

func startFake(t *testing.T, userinfo map[string]any) *Provider {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "remote-access-token", "token_type": "bearer"})
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(userinfo)
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	return New(&Config{
		HTTPClient:  ts.Client(),
		Endpoint:    &oauth2.Endpoint{AuthURL: ts.URL + "/authorize", TokenURL: ts.URL + "/token"},
		UserinfoURL: ts.URL + "/userinfo",
	})
}

func validConfig() map[string]string {
	return map[string]string{
		providers.ConfigKeyClientID:     "idp-client",
		providers.ConfigKeyClientSecret: "idp-secret",
	}
}

func TestAuthenticate(t *testing.T) {
	provider := startFake(t, map[string]any{
		"sub":   "108417015",
		"email": "user@example.com",
		"name":  "Some User",
	})

	profile, err := provider.Authenticate(context.Background(), validConfig(), url.Values{"code": {"the-code"}}, callbackURI)
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if profile.ID != "108417015" {
		t.Errorf("ID = %q, want the sub claim", profile.ID)
	}
	if profile.Claims["email"] != "user@example.com" {
		t.Errorf("claims = %v", profile.Claims)
	}
}

func TestAuthenticateLegacyIDFallback(t *testing.T) {
	provider := startFake(t, map[string]any{"id": "legacy-42"})

	profile, err := provider.Authenticate(context.Background(), validConfig(), url.Values{"code": {"the-code"}}, callbackURI)
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if profile.ID != "legacy-42" {
		t.Errorf("ID = %q, want the legacy id fallback", profile.ID)
	}
}

func TestAuthenticateNoSubject(t *testing.T) {
	provider := startFake(t, map[string]any{"email": "user@example.com"})

	_, err := provider.Authenticate(context.Background(), validConfig(), url.Values{"code": {"the-code"}}, callbackURI)
	var thirdParty *providers.ThirdPartyError
	if !errors.As(err, &thirdParty) {
		t.Errorf("error = %v, want *ThirdPartyError", err)
	}
}
