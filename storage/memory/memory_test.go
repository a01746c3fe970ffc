package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lakeshorelabs/oauthd/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := New()
	t.Cleanup(s.Stop)
	return s
}

func TestClientStore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	hash, err := HashSecret("s3cret")
	if err != nil {
		t.Fatalf("HashSecret() error = %v", err)
	}
	client := &storage.Client{
		ID:            "web",
		ApplicationID: "app-1",
		Type:          storage.ClientAuthorizationGrant,
		SecretHash:    hash,
	}
	if err := s.SaveClient(ctx, client); err != nil {
		t.Fatalf("SaveClient() error = %v", err)
	}

	got, err := s.GetClient(ctx, "web")
	if err != nil {
		t.Fatalf("GetClient() error = %v", err)
	}
	if got.ApplicationID != "app-1" {
		t.Errorf("ApplicationID = %s", got.ApplicationID)
	}

	if _, err := s.GetClient(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetClient(missing) error = %v, want ErrNotFound", err)
	}

	if err := s.ValidateClientSecret(ctx, "web", "s3cret"); err != nil {
		t.Errorf("ValidateClientSecret() error = %v", err)
	}
	if err := s.ValidateClientSecret(ctx, "web", "wrong"); err == nil {
		t.Error("wrong secret must not validate")
	}
	if err := s.ValidateClientSecret(ctx, "missing", "s3cret"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("unknown client error = %v, want ErrNotFound", err)
	}
}

func TestTokenStore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	save := func(t *testing.T, id, refreshID string) {
		t.Helper()
		err := s.SaveToken(ctx, &storage.OAuthToken{
			ID:             id,
			Type:           storage.TokenBearer,
			IssuedAt:       time.Now(),
			ExpiresIn:      time.Hour,
			RefreshTokenID: refreshID,
		})
		if err != nil {
			t.Fatalf("SaveToken() error = %v", err)
		}
	}

	save(t, "t1", "")
	if _, err := s.GetToken(ctx, "t1"); err != nil {
		t.Fatalf("GetToken() error = %v", err)
	}

	if err := s.DeleteToken(ctx, "t1"); err != nil {
		t.Fatalf("DeleteToken() error = %v", err)
	}
	if err := s.DeleteToken(ctx, "t1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("second delete error = %v, want ErrNotFound", err)
	}

	t.Run("delete by refresh token", func(t *testing.T) {
		save(t, "refresh-1", "")
		save(t, "a1", "refresh-1")
		save(t, "a2", "refresh-1")
		save(t, "unrelated", "refresh-2")

		if err := s.DeleteTokensForRefreshToken(ctx, "refresh-1"); err != nil {
			t.Fatalf("DeleteTokensForRefreshToken() error = %v", err)
		}
		for _, id := range []string{"a1", "a2"} {
			if _, err := s.GetToken(ctx, id); !errors.Is(err, storage.ErrNotFound) {
				t.Errorf("token %s survived, err = %v", id, err)
			}
		}
		// The refresh token itself is not linked to its own id.
		if _, err := s.GetToken(ctx, "refresh-1"); err != nil {
			t.Errorf("refresh token deleted, err = %v", err)
		}
		if _, err := s.GetToken(ctx, "unrelated"); err != nil {
			t.Errorf("unrelated token deleted, err = %v", err)
		}
	})
}

func TestIdentityStore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	identity := &storage.UserIdentity{
		ID:                "id-1",
		UserID:            "user-1",
		ApplicationID:     "app-1",
		AuthenticatorType: "github",
		RemoteID:          "octocat",
		Claims:            map[string]string{"name": "Octo Cat"},
	}
	if err := s.SaveIdentity(ctx, identity); err != nil {
		t.Fatalf("SaveIdentity() error = %v", err)
	}

	byName, err := s.GetIdentity(ctx, "app-1", "github", "octocat")
	if err != nil {
		t.Fatalf("GetIdentity() error = %v", err)
	}
	if byName.ID != "id-1" {
		t.Errorf("ID = %s", byName.ID)
	}
	byID, err := s.GetIdentityByID(ctx, "id-1")
	if err != nil {
		t.Fatalf("GetIdentityByID() error = %v", err)
	}
	if byID != byName {
		t.Error("name index and id lookup must resolve to the same record")
	}

	t.Run("lookup is application scoped", func(t *testing.T) {
		if _, err := s.GetIdentity(ctx, "app-2", "github", "octocat"); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("cross-application lookup error = %v, want ErrNotFound", err)
		}
	})

	t.Run("users and roles", func(t *testing.T) {
		user := &storage.User{ID: "user-1", ApplicationID: "app-1", RoleName: "editor"}
		if err := s.SaveUser(ctx, user); err != nil {
			t.Fatalf("SaveUser() error = %v", err)
		}
		if _, err := s.GetUser(ctx, "user-1"); err != nil {
			t.Errorf("GetUser() error = %v", err)
		}

		role := &storage.Role{Name: "editor", ApplicationID: "app-1"}
		if err := s.SaveRole(ctx, role); err != nil {
			t.Fatalf("SaveRole() error = %v", err)
		}
		if _, err := s.GetRole(ctx, "app-1", "editor"); err != nil {
			t.Errorf("GetRole() error = %v", err)
		}
		if _, err := s.GetRole(ctx, "app-2", "editor"); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("roles must be application scoped, err = %v", err)
		}
	})
}

func TestConsumeAuthenticatorState(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	state := &storage.AuthenticatorState{
		ID:        "state-1",
		ClientID:  "web",
		ExpiresAt: time.Now().Add(10 * time.Minute),
	}
	if err := s.SaveAuthenticatorState(ctx, state); err != nil {
		t.Fatalf("SaveAuthenticatorState() error = %v", err)
	}

	got, err := s.ConsumeAuthenticatorState(ctx, "state-1")
	if err != nil {
		t.Fatalf("ConsumeAuthenticatorState() error = %v", err)
	}
	if got.ClientID != "web" {
		t.Errorf("ClientID = %s", got.ClientID)
	}
	if _, err := s.ConsumeAuthenticatorState(ctx, "state-1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("second consume error = %v, want ErrNotFound", err)
	}
}

func TestConsumeAuthenticatorStateIsAtomic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SaveAuthenticatorState(ctx, &storage.AuthenticatorState{
		ID:        "state-race",
		ExpiresAt: time.Now().Add(time.Minute),
	}); err != nil {
		t.Fatalf("SaveAuthenticatorState() error = %v", err)
	}

	const callers = 16
	var wg sync.WaitGroup
	results := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.ConsumeAuthenticatorState(ctx, "state-race")
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	won := 0
	for err := range results {
		if err == nil {
			won++
		} else if !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("unexpected error: %v", err)
		}
	}
	if won != 1 {
		t.Errorf("%d callers consumed the state, want exactly 1", won)
	}
}

func TestCleanup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	_ = s.SaveToken(ctx, &storage.OAuthToken{ID: "live", IssuedAt: now, ExpiresIn: time.Hour})
	_ = s.SaveToken(ctx, &storage.OAuthToken{ID: "dead", IssuedAt: now.Add(-2 * time.Hour), ExpiresIn: time.Hour})
	_ = s.SaveAuthenticatorState(ctx, &storage.AuthenticatorState{ID: "live-state", ExpiresAt: now.Add(time.Hour)})
	_ = s.SaveAuthenticatorState(ctx, &storage.AuthenticatorState{ID: "dead-state", ExpiresAt: now.Add(-time.Hour)})

	s.cleanup(now)

	if _, err := s.GetToken(ctx, "live"); err != nil {
		t.Error("live token dropped by cleanup")
	}
	if _, err := s.GetToken(ctx, "dead"); !errors.Is(err, storage.ErrNotFound) {
		t.Error("expired token survived cleanup")
	}
	if _, err := s.ConsumeAuthenticatorState(ctx, "live-state"); err != nil {
		t.Error("live state dropped by cleanup")
	}
	if _, err := s.ConsumeAuthenticatorState(ctx, "dead-state"); !errors.Is(err, storage.ErrNotFound) {
		t.Error("expired state survived cleanup")
	}
}
