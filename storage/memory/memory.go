// Package memory provides an in-memory implementation of all storage
// interfaces. It is suitable for development, testing, and single-instance
// deployments.
package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/lakeshorelabs/oauthd/storage"
)

// identityKey is the application-scoped lookup key for identities. Keeping
// the application id in the key is what prevents cross-application
// correlation of the same remote account.
type identityKey struct {
	applicationID     string
	authenticatorType string
	remoteID          string
}

type roleKey struct {
	applicationID string
	name          string
}

// Store is an in-memory implementation of all storage interfaces.
type Store struct {
	mu sync.RWMutex

	clients map[string]*storage.Client
	tokens  map[string]*storage.OAuthToken

	identities     map[string]*storage.UserIdentity // by record id
	identityByName map[identityKey]string           // lookup key -> record id
	users          map[string]*storage.User
	roles          map[roleKey]*storage.Role

	states map[string]*storage.AuthenticatorState

	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
	logger          *slog.Logger
}

// Compile-time interface checks
var (
	_ storage.ClientStore   = (*Store)(nil)
	_ storage.TokenStore    = (*Store)(nil)
	_ storage.IdentityStore = (*Store)(nil)
	_ storage.StateStore    = (*Store)(nil)
)

// New creates a new in-memory store with the default cleanup interval (1 minute)
func New() *Store {
	return NewWithInterval(time.Minute)
}

// NewWithInterval creates a new in-memory store with a custom cleanup
// interval. If cleanupInterval is 0 or negative, the default of 1 minute is
// used.
func NewWithInterval(cleanupInterval time.Duration) *Store {
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}

	s := &Store{
		clients:         make(map[string]*storage.Client),
		tokens:          make(map[string]*storage.OAuthToken),
		identities:      make(map[string]*storage.UserIdentity),
		identityByName:  make(map[identityKey]string),
		users:           make(map[string]*storage.User),
		roles:           make(map[roleKey]*storage.Role),
		states:          make(map[string]*storage.AuthenticatorState),
		cleanupInterval: cleanupInterval,
		stopCleanup:     make(chan struct{}),
		logger:          slog.Default(),
	}

	go s.cleanupLoop()

	return s
}

// SetLogger sets a custom logger
func (s *Store) SetLogger(logger *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger
}

// Stop stops the background cleanup goroutine
func (s *Store) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCleanup)
	})
}

// HashSecret produces the bcrypt hash stored in Client.SecretHash.
func HashSecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// GetClient retrieves a client by id
func (s *Store) GetClient(_ context.Context, clientID string) (*storage.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	client, ok := s.clients[clientID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return client, nil
}

// SaveClient persists a new or updated client
func (s *Store) SaveClient(_ context.Context, client *storage.Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.clients[client.ID] = client
	return nil
}

// ValidateClientSecret checks a client's secret against the stored bcrypt hash
func (s *Store) ValidateClientSecret(_ context.Context, clientID, secret string) error {
	s.mu.RLock()
	client, ok := s.clients[clientID]
	s.mu.RUnlock()

	if !ok {
		return storage.ErrNotFound
	}
	return bcrypt.CompareHashAndPassword([]byte(client.SecretHash), []byte(secret))
}

// GetToken retrieves a token by id
func (s *Store) GetToken(_ context.Context, tokenID string) (*storage.OAuthToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	token, ok := s.tokens[tokenID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return token, nil
}

// SaveToken persists a newly issued token
func (s *Store) SaveToken(_ context.Context, token *storage.OAuthToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tokens[token.ID] = token
	return nil
}

// DeleteToken removes a token
func (s *Store) DeleteToken(_ context.Context, tokenID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tokens[tokenID]; !ok {
		return storage.ErrNotFound
	}
	delete(s.tokens, tokenID)
	return nil
}

// DeleteTokensForRefreshToken removes every access token linked to the given
// refresh token
func (s *Store) DeleteTokensForRefreshToken(_ context.Context, refreshTokenID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, token := range s.tokens {
		if token.RefreshTokenID == refreshTokenID {
			delete(s.tokens, id)
		}
	}
	return nil
}

// GetIdentity retrieves the identity for an (application, authenticator type,
// remote id) key
func (s *Store) GetIdentity(_ context.Context, applicationID, authenticatorType, remoteID string) (*storage.UserIdentity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.identityByName[identityKey{applicationID, authenticatorType, remoteID}]
	if !ok {
		return nil, storage.ErrNotFound
	}
	identity, ok := s.identities[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return identity, nil
}

// GetIdentityByID retrieves an identity by its record id
func (s *Store) GetIdentityByID(_ context.Context, identityID string) (*storage.UserIdentity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	identity, ok := s.identities[identityID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return identity, nil
}

// SaveIdentity persists a new or updated identity
func (s *Store) SaveIdentity(_ context.Context, identity *storage.UserIdentity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.identities[identity.ID] = identity
	s.identityByName[identityKey{identity.ApplicationID, identity.AuthenticatorType, identity.RemoteID}] = identity.ID
	return nil
}

// GetUser retrieves a user by id
func (s *Store) GetUser(_ context.Context, userID string) (*storage.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[userID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return user, nil
}

// SaveUser persists a new user
func (s *Store) SaveUser(_ context.Context, user *storage.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.users[user.ID] = user
	return nil
}

// GetRole retrieves a role by (application, name)
func (s *Store) GetRole(_ context.Context, applicationID, name string) (*storage.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	role, ok := s.roles[roleKey{applicationID, name}]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return role, nil
}

// SaveRole persists a role. Not part of the store interfaces; used for
// seeding deployments and tests.
func (s *Store) SaveRole(_ context.Context, role *storage.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.roles[roleKey{role.ApplicationID, role.Name}] = role
	return nil
}

// SaveAuthenticatorState persists a pending federation state
func (s *Store) SaveAuthenticatorState(_ context.Context, state *storage.AuthenticatorState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.states[state.ID] = state
	return nil
}

// ConsumeAuthenticatorState retrieves and deletes a pending state in one
// atomic step. The write lock makes the test-and-delete indivisible, so two
// racing callbacks with the same correlation id cannot both succeed.
func (s *Store) ConsumeAuthenticatorState(_ context.Context, stateID string) (*storage.AuthenticatorState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.states[stateID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	delete(s.states, stateID)
	return state, nil
}

// cleanupLoop periodically drops expired tokens and abandoned federation
// states.
func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanup(time.Now())
		case <-s.stopCleanup:
			return
		}
	}
}

// cleanup removes records that expired before now
func (s *Store) cleanup(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var tokens, states int
	for id, token := range s.tokens {
		if token.Expired(now) {
			delete(s.tokens, id)
			tokens++
		}
	}
	for id, state := range s.states {
		if now.After(state.ExpiresAt) {
			delete(s.states, id)
			states++
		}
	}

	if tokens > 0 || states > 0 {
		s.logger.Debug("Cleaned up expired records",
			"tokens", tokens,
			"states", states)
	}
}
