package github

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

func validConfig() map[string]string {
	return map[string]string{
		providers.ConfigKeyClientID:     "idp-client",
		providers.ConfigKeyClientSecret: "idp-secret",
	}
}

// fakeGitHub stands in for GitHub's token and user endpoints.
type fakeGitHub struct {
	tokenStatus    int
	tokenBody      map[string]any
	userinfoStatus int
	userinfoBody   map[string]any
}

func (f *fakeGitHub) start(t *testing.T) (*httptest.Server, *Provider) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(f.tokenStatus)
		_ = json.NewEncoder(w).Encode(f.tokenBody)
	})
	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer remote-access-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(f.userinfoStatus)
		_ = json.NewEncoder(w).Encode(f.userinfoBody)
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	provider := New(&Config{
		HTTPClient:  ts.Client(),
		Endpoint:    &oauth2.Endpoint{AuthURL: ts.URL + "/authorize", TokenURL: ts.URL + "/token"},
		UserinfoURL: ts.URL + "/user",
	})
	return ts, provider
}

func happyGitHub() *fakeGitHub {
	return &fakeGitHub{
		tokenStatus:    http.StatusOK,
		tokenBody:      map[string]any{"access_token": "remote-access-token", "token_type": "bearer"},
		userinfoStatus: http.StatusOK,
		userinfoBody: map[string]any{
			"id":    float64(583231),
			"login": "octocat",
			"name":  "Octo Cat",
			"email": "octo@example.com",
		},
	}
}

func TestDelegate(t *testing.T) {
	provider := New(nil)

	redirect, err := provider.Delegate(validConfig(), callbackURI)
	if err != nil {
		t.Fatalf("Delegate() error = %v", err)
	}
	parsed, err := url.Parse(redirect)
	if err != nil {
		t.Fatalf("redirect does not parse: %v", err)
	}
	q := parsed.Query()
	if q.Get("client_id") != "idp-client" {
		t.Errorf("client_id = %q", q.Get("client_id"))
	}
	if q.Get("state") != "abc123" {
		t.Errorf("state = %q, want the verbatim callback state", q.Get("state"))
	}
	if q.Get("redirect_uri") != "https://auth.example.com/callback" {
		t.Errorf("redirect_uri = %q, want the callback stripped of its query", q.Get("redirect_uri"))
	}
	if q.Get("response_type") != "code" {
		t.Errorf("response_type = %q", q.Get("response_type"))
	}
	if q.Get("scope") != "user:email" {
		t.Errorf("scope = %q", q.Get("scope"))
	}
}

func TestDelegateMisconfigured(t *testing.T) {
	provider := New(nil)
	if _, err := provider.Delegate(map[string]string{}, callbackURI); !errors.Is(err, providers.ErrMisconfigured) {
		t.Errorf("error = %v, want ErrMisconfigured", err)
	}
	if _, err := provider.Delegate(validConfig(), "https://auth.example.com/callback"); !errors.Is(err, providers.ErrMissingCallbackState) {
		t.Errorf("error = %v, want ErrMissingCallbackState", err)
	}
}

func TestAuthenticate(t *testing.T) {
	fake := happyGitHub()
	_, provider := fake.start(t)
	ctx := context.Background()

	profile, err := provider.Authenticate(ctx, validConfig(), url.Values{"code": {"the-code"}}, callbackURI)
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if profile.ID != "583231" {
		t.Errorf("ID = %q, want the numeric id as a decimal string", profile.ID)
	}
	if profile.Claims["login"] != "octocat" || profile.Claims["email"] != "octo@example.com" {
		t.Errorf("claims = %v", profile.Claims)
	}
}

func TestAuthenticateFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("provider error callback", func(t *testing.T) {
		_, provider := happyGitHub().start(t)
		_, err := provider.Authenticate(ctx, validConfig(), url.Values{
			"error": {"access_denied"},
		}, callbackURI)
		var thirdParty *providers.ThirdPartyError
		if !errors.As(err, &thirdParty) {
			t.Fatalf("error = %v, want *ThirdPartyError", err)
		}
		if thirdParty.Code != "access_denied" {
			t.Errorf("code = %q", thirdParty.Code)
		}
	})

	t.Run("missing code", func(t *testing.T) {
		_, provider := happyGitHub().start(t)
		_, err := provider.Authenticate(ctx, validConfig(), url.Values{}, callbackURI)
		if !errors.Is(err, providers.ErrMissingCode) {
			t.Errorf("error = %v, want ErrMissingCode", err)
		}
	})

	t.Run("token endpoint rejects the code", func(t *testing.T) {
		fake := happyGitHub()
		fake.tokenStatus = http.StatusBadRequest
		fake.tokenBody = map[string]any{"error": "bad_verification_code"}
		_, provider := fake.start(t)

		_, err := provider.Authenticate(ctx, validConfig(), url.Values{"code": {"stale"}}, callbackURI)
		var thirdParty *providers.ThirdPartyError
		if !errors.As(err, &thirdParty) {
			t.Fatalf("error = %v, want *ThirdPartyError", err)
		}
		if thirdParty.Code != "bad_verification_code" {
			t.Errorf("code = %q", thirdParty.Code)
		}
	})

	t.Run("userinfo endpoint fails", func(t *testing.T) {
		fake := happyGitHub()
		fake.userinfoStatus = http.StatusInternalServerError
		fake.userinfoBody = map[string]any{}
		_, provider := fake.start(t)

		_, err := provider.Authenticate(ctx, validConfig(), url.Values{"code": {"the-code"}}, callbackURI)
		var thirdParty *providers.ThirdPartyError
		if !errors.As(err, &thirdParty) {
			t.Errorf("error = %v, want *ThirdPartyError", err)
		}
	})

	t.Run("user document without an id", func(t *testing.T) {
		fake := happyGitHub()
		fake.userinfoBody = map[string]any{"login": "ghost"}
		_, provider := fake.start(t)

		_, err := provider.Authenticate(ctx, validConfig(), url.Values{"code": {"the-code"}}, callbackURI)
		var thirdParty *providers.ThirdPartyError
		if !errors.As(err, &thirdParty) {
			t.Errorf("error = %v, want *ThirdPartyError", err)
		}
	})
}
