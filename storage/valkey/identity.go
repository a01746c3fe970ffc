package valkey

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lakeshorelabs/oauthd/storage"
)

// GetIdentity retrieves an identity by its application, authenticator type,
// and remote id. Identities are stored once by id with a name index pointing
// at them, so both lookups resolve to the same record.
func (s *Store) GetIdentity(ctx context.Context, applicationID, authenticatorType, remoteID string) (*storage.UserIdentity, error) {
	nameKey := s.identityNameKey(applicationID, authenticatorType, remoteID)
	identityID, err := s.client.Do(ctx, s.client.B().Get().Key(nameKey).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to resolve identity name index: %w", err)
	}
	return s.GetIdentityByID(ctx, identityID)
}

// GetIdentityByID retrieves an identity by its id
func (s *Store) GetIdentityByID(ctx context.Context, identityID string) (*storage.UserIdentity, error) {
	var identity storage.UserIdentity
	if err := s.getJSON(ctx, s.identityKey(identityID), &identity); err != nil {
		return nil, err
	}
	return &identity, nil
}

// SaveIdentity persists an identity and its name index entry
func (s *Store) SaveIdentity(ctx context.Context, identity *storage.UserIdentity) error {
	if err := s.setJSON(ctx, s.identityKey(identity.ID), identity, 0); err != nil {
		return err
	}
	nameKey := s.identityNameKey(identity.ApplicationID, identity.AuthenticatorType, identity.RemoteID)
	return s.client.Do(ctx, s.client.B().Set().Key(nameKey).Value(identity.ID).Build()).Error()
}

// GetUser retrieves a user by id
func (s *Store) GetUser(ctx context.Context, userID string) (*storage.User, error) {
	var user storage.User
	if err := s.getJSON(ctx, s.userKey(userID), &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// SaveUser persists a user
func (s *Store) SaveUser(ctx context.Context, user *storage.User) error {
	return s.setJSON(ctx, s.userKey(user.ID), user, 0)
}

// GetRole retrieves a role by application id and name
func (s *Store) GetRole(ctx context.Context, applicationID, name string) (*storage.Role, error) {
	var role storage.Role
	if err := s.getJSON(ctx, s.roleKey(applicationID, name), &role); err != nil {
		return nil, err
	}
	return &role, nil
}

// SaveRole persists a role. Not part of the storage interfaces; used for
// seeding deployments.
func (s *Store) SaveRole(ctx context.Context, role *storage.Role) error {
	return s.setJSON(ctx, s.roleKey(role.ApplicationID, role.Name), role, 0)
}

// SaveAuthenticatorState persists a pending federation handshake with a TTL
// matching its expiry
func (s *Store) SaveAuthenticatorState(ctx context.Context, state *storage.AuthenticatorState) error {
	ttl := calculateTTL(state.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("authenticator state already expired")
	}
	return s.setJSON(ctx, s.stateKey(state.ID), state, ttl)
}

// ConsumeAuthenticatorState retrieves and deletes a pending handshake in a
// single GETDEL round trip. Two racing callbacks carrying the same
// correlation id cannot both succeed.
func (s *Store) ConsumeAuthenticatorState(ctx context.Context, stateID string) (*storage.AuthenticatorState, error) {
	data, err := s.client.Do(ctx, s.client.B().Getdel().Key(s.stateKey(stateID)).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to consume authenticator state: %w", err)
	}

	var state storage.AuthenticatorState
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal authenticator state: %w", err)
	}

	if time.Now().After(state.ExpiresAt) {
		return nil, storage.ErrNotFound
	}
	return &state, nil
}
