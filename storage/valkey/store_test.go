package valkey

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/lakeshorelabs/oauthd/storage"
)

// testStore connects to a local Valkey instance. Tests are skipped when no
// server is reachable, so the pure helper tests below still run everywhere.
// Each test gets its own key prefix for isolation.
func testStore(t *testing.T) *Store {
	t.Helper()

	addr := os.Getenv("VALKEY_TEST_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	prefix := fmt.Sprintf("oauthdtest:%s:", t.Name())

	store, err := New(Config{
		Address:   addr,
		KeyPrefix: prefix,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Skipf("Skipping test: could not connect to Valkey at %s: %v", addr, err)
	}

	t.Cleanup(store.Close)
	return store
}

func testToken(id string) *storage.OAuthToken {
	return &storage.OAuthToken{
		ID:            id,
		Type:          storage.TokenBearer,
		ClientID:      "client-1",
		ApplicationID: "app-1",
		UserID:        "user-1",
		Scopes:        storage.ScopeSet{"read": {}},
		IssuedAt:      time.Now(),
		ExpiresIn:     time.Hour,
	}
}

func TestNew_MissingAddress(t *testing.T) {
	_, err := New(Config{})
	if err == nil {
		t.Error("New() with empty address should return an error")
	}
}

func TestNew_InvalidAddress(t *testing.T) {
	_, err := New(Config{
		Address: "invalid-host-that-does-not-exist:6379",
	})
	if err == nil {
		t.Error("New() with unreachable address should return an error")
	}
}

func TestTokenStore_SaveAndGetToken(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	token := testToken(uuid.NewString())
	if err := store.SaveToken(ctx, token); err != nil {
		t.Fatalf("SaveToken() error = %v", err)
	}

	got, err := store.GetToken(ctx, token.ID)
	if err != nil {
		t.Fatalf("GetToken() error = %v", err)
	}
	if got.ClientID != token.ClientID {
		t.Errorf("ClientID = %q, want %q", got.ClientID, token.ClientID)
	}
	if got.UserID != token.UserID {
		t.Errorf("UserID = %q, want %q", got.UserID, token.UserID)
	}
	if !got.Scopes.Has("read") {
		t.Error("saved scopes were not preserved")
	}
}

func TestTokenStore_GetToken_NotFound(t *testing.T) {
	store := testStore(t)

	_, err := store.GetToken(context.Background(), uuid.NewString())
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetToken() error = %v, want ErrNotFound", err)
	}
}

func TestTokenStore_SaveToken_Expired(t *testing.T) {
	store := testStore(t)

	token := testToken(uuid.NewString())
	token.IssuedAt = time.Now().Add(-2 * time.Hour)

	if err := store.SaveToken(context.Background(), token); err == nil {
		t.Error("SaveToken() with an already expired token should return an error")
	}
}

func TestTokenStore_DeleteToken(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	token := testToken(uuid.NewString())
	if err := store.SaveToken(ctx, token); err != nil {
		t.Fatalf("SaveToken() error = %v", err)
	}

	if err := store.DeleteToken(ctx, token.ID); err != nil {
		t.Fatalf("DeleteToken() error = %v", err)
	}
	if _, err := store.GetToken(ctx, token.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetToken() after delete error = %v, want ErrNotFound", err)
	}
	if err := store.DeleteToken(ctx, token.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("second DeleteToken() error = %v, want ErrNotFound", err)
	}
}

func TestTokenStore_DeleteTokensForRefreshToken(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	refreshID := uuid.NewString()
	a1 := testToken(uuid.NewString())
	a1.RefreshTokenID = refreshID
	a2 := testToken(uuid.NewString())
	a2.RefreshTokenID = refreshID
	unrelated := testToken(uuid.NewString())

	for _, tok := range []*storage.OAuthToken{a1, a2, unrelated} {
		if err := store.SaveToken(ctx, tok); err != nil {
			t.Fatalf("SaveToken(%s) error = %v", tok.ID, err)
		}
	}

	if err := store.DeleteTokensForRefreshToken(ctx, refreshID); err != nil {
		t.Fatalf("DeleteTokensForRefreshToken() error = %v", err)
	}

	for _, id := range []string{a1.ID, a2.ID} {
		if _, err := store.GetToken(ctx, id); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("GetToken(%s) error = %v, want ErrNotFound", id, err)
		}
	}
	if _, err := store.GetToken(ctx, unrelated.ID); err != nil {
		t.Errorf("unrelated token should survive, got error = %v", err)
	}
}

func TestClientStore_SaveAndGetClient(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt.GenerateFromPassword() error = %v", err)
	}

	client := &storage.Client{
		ID:            "client-1",
		ApplicationID: "app-1",
		Type:          storage.ClientAuthorizationGrant,
		SecretHash:    string(hash),
		RedirectURIs:  []string{"https://app.example.com/callback"},
		Scopes:        storage.ScopeSet{"read": {}, "write": {}},
	}
	if err := store.SaveClient(ctx, client); err != nil {
		t.Fatalf("SaveClient() error = %v", err)
	}

	got, err := store.GetClient(ctx, "client-1")
	if err != nil {
		t.Fatalf("GetClient() error = %v", err)
	}
	if got.ApplicationID != "app-1" {
		t.Errorf("ApplicationID = %q, want %q", got.ApplicationID, "app-1")
	}
	if len(got.RedirectURIs) != 1 {
		t.Errorf("RedirectURIs = %v, want one entry", got.RedirectURIs)
	}

	if err := store.ValidateClientSecret(ctx, "client-1", "s3cret"); err != nil {
		t.Errorf("ValidateClientSecret() with correct secret error = %v", err)
	}
	if err := store.ValidateClientSecret(ctx, "client-1", "wrong"); err == nil {
		t.Error("ValidateClientSecret() with wrong secret should fail")
	}
}

func TestClientStore_GetClient_NotFound(t *testing.T) {
	store := testStore(t)

	_, err := store.GetClient(context.Background(), "missing")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetClient() error = %v, want ErrNotFound", err)
	}
}

func TestIdentityStore_RoundTrip(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	identity := &storage.UserIdentity{
		ID:                uuid.NewString(),
		UserID:            "user-1",
		ApplicationID:     "app-1",
		AuthenticatorType: "github",
		RemoteID:          "583231",
		Claims:            map[string]string{"login": "octocat"},
	}
	if err := store.SaveIdentity(ctx, identity); err != nil {
		t.Fatalf("SaveIdentity() error = %v", err)
	}

	byName, err := store.GetIdentity(ctx, "app-1", "github", "583231")
	if err != nil {
		t.Fatalf("GetIdentity() error = %v", err)
	}
	if byName.ID != identity.ID {
		t.Errorf("GetIdentity() ID = %q, want %q", byName.ID, identity.ID)
	}

	byID, err := store.GetIdentityByID(ctx, identity.ID)
	if err != nil {
		t.Fatalf("GetIdentityByID() error = %v", err)
	}
	if byID.RemoteID != "583231" {
		t.Errorf("GetIdentityByID() RemoteID = %q, want %q", byID.RemoteID, "583231")
	}

	// Same remote account against another application is a different record.
	if _, err := store.GetIdentity(ctx, "app-2", "github", "583231"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetIdentity() cross-application error = %v, want ErrNotFound", err)
	}
}

func TestStateStore_ConsumeOnce(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	state := &storage.AuthenticatorState{
		ID:                uuid.NewString(),
		ClientID:          "client-1",
		AuthenticatorType: "github",
		ClientState:       "xyz",
		RedirectURI:       "https://app.example.com/callback",
		ResponseType:      "code",
		CreatedAt:         time.Now(),
		ExpiresAt:         time.Now().Add(10 * time.Minute),
	}
	if err := store.SaveAuthenticatorState(ctx, state); err != nil {
		t.Fatalf("SaveAuthenticatorState() error = %v", err)
	}

	got, err := store.ConsumeAuthenticatorState(ctx, state.ID)
	if err != nil {
		t.Fatalf("ConsumeAuthenticatorState() error = %v", err)
	}
	if got.ClientState != "xyz" {
		t.Errorf("ClientState = %q, want %q", got.ClientState, "xyz")
	}

	if _, err := store.ConsumeAuthenticatorState(ctx, state.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("second ConsumeAuthenticatorState() error = %v, want ErrNotFound", err)
	}
}

func TestStateStore_ConsumeIsAtomic(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	state := &storage.AuthenticatorState{
		ID:        uuid.NewString(),
		ClientID:  "client-1",
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(10 * time.Minute),
	}
	if err := store.SaveAuthenticatorState(ctx, state); err != nil {
		t.Fatalf("SaveAuthenticatorState() error = %v", err)
	}

	const racers = 16
	var wg sync.WaitGroup
	var wins int64
	var mu sync.Mutex

	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.ConsumeAuthenticatorState(ctx, state.ID); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("ConsumeAuthenticatorState() succeeded %d times, want exactly 1", wins)
	}
}

func TestCalculateTTL(t *testing.T) {
	tests := []struct {
		name      string
		expiresAt time.Time
		wantZero  bool
	}{
		{"future expiry", time.Now().Add(time.Hour), false},
		{"past expiry", time.Now().Add(-time.Hour), true},
		{"exactly now", time.Now(), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := calculateTTL(tt.expiresAt)
			if tt.wantZero && got != 0 {
				t.Errorf("calculateTTL() = %v, want 0", got)
			}
			if !tt.wantZero && got <= 0 {
				t.Errorf("calculateTTL() = %v, want > 0", got)
			}
		})
	}
}

func TestKeyNamespaces(t *testing.T) {
	s := &Store{prefix: "oauthd:"}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"client", s.clientKey("c1"), "oauthd:client:c1"},
		{"token", s.tokenKey("t1"), "oauthd:token:t1"},
		{"refresh index", s.refreshIndexKey("r1"), "oauthd:refresh_index:r1"},
		{"identity", s.identityKey("i1"), "oauthd:identity:i1"},
		{"identity name", s.identityNameKey("app-1", "github", "583231"), "oauthd:identity_name:app-1:github:583231"},
		{"user", s.userKey("u1"), "oauthd:user:u1"},
		{"role", s.roleKey("app-1", "editor"), "oauthd:role:app-1:editor"},
		{"state", s.stateKey("s1"), "oauthd:state:s1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("key = %q, want %q", tt.got, tt.want)
			}
		})
	}
}
