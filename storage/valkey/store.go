package valkey

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	valkeygo "github.com/valkey-io/valkey-go"
	"golang.org/x/crypto/bcrypt"

	"github.com/lakeshorelabs/oauthd/storage"
)

const (
	// DefaultKeyPrefix is the default prefix for all Valkey keys
	DefaultKeyPrefix = "oauthd:"

	// connectionVerifyTimeout is the timeout for initial connection verification
	connectionVerifyTimeout = 5 * time.Second
)

// Config holds configuration for the Valkey storage backend.
type Config struct {
	// Address is the Valkey server address (required), e.g., "localhost:6379"
	Address string

	// Password is the optional password for Valkey authentication
	Password string

	// DB is the optional database number (default 0)
	DB int

	// KeyPrefix is the prefix for all keys (default "oauthd:")
	KeyPrefix string

	// TLS is the optional TLS configuration for encrypted connections
	TLS *tls.Config

	// Logger is the optional structured logger (default: slog.Default())
	Logger *slog.Logger
}

// Store is a Valkey-backed implementation of all storage interfaces.
type Store struct {
	client valkeygo.Client
	prefix string
	logger *slog.Logger
}

// Compile-time interface checks
var (
	_ storage.ClientStore   = (*Store)(nil)
	_ storage.TokenStore    = (*Store)(nil)
	_ storage.IdentityStore = (*Store)(nil)
	_ storage.StateStore    = (*Store)(nil)
)

// New creates a new Valkey-backed storage instance.
// Returns an error if the connection cannot be established.
func New(cfg Config) (*Store, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("valkey address is required")
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	opts := valkeygo.ClientOption{
		InitAddress: []string{cfg.Address},
		SelectDB:    cfg.DB,
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.TLS != nil {
		opts.TLSConfig = cfg.TLS
	}

	client, err := valkeygo.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create valkey client: %w", err)
	}

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), connectionVerifyTimeout)
	defer cancel()

	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to valkey: %w", err)
	}

	logger.Info("Connected to Valkey storage",
		"address", cfg.Address,
		"db", cfg.DB,
		"prefix", prefix)

	return &Store{
		client: client,
		prefix: prefix,
		logger: logger,
	}, nil
}

// Close closes the Valkey client connection.
func (s *Store) Close() {
	s.client.Close()
	s.logger.Info("Valkey storage connection closed")
}

// SetLogger sets a custom logger for the store.
func (s *Store) SetLogger(logger *slog.Logger) {
	s.logger = logger
}

// Key builders. Every record type lives under its own namespace so a SCAN
// over one namespace never touches another.

func (s *Store) clientKey(clientID string) string {
	return s.prefix + "client:" + clientID
}

func (s *Store) tokenKey(tokenID string) string {
	return s.prefix + "token:" + tokenID
}

func (s *Store) refreshIndexKey(refreshTokenID string) string {
	return s.prefix + "refresh_index:" + refreshTokenID
}

func (s *Store) identityKey(identityID string) string {
	return s.prefix + "identity:" + identityID
}

func (s *Store) identityNameKey(applicationID, authenticatorType, remoteID string) string {
	return s.prefix + "identity_name:" + applicationID + ":" + authenticatorType + ":" + remoteID
}

func (s *Store) userKey(userID string) string {
	return s.prefix + "user:" + userID
}

func (s *Store) roleKey(applicationID, name string) string {
	return s.prefix + "role:" + applicationID + ":" + name
}

func (s *Store) stateKey(stateID string) string {
	return s.prefix + "state:" + stateID
}

// getJSON fetches one key and unmarshals it into dst.
func (s *Store) getJSON(ctx context.Context, key string, dst any) error {
	data, err := s.client.Do(ctx, s.client.B().Get().Key(key).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("failed to get %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(data), dst); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return nil
}

// setJSON marshals v and stores it, with an optional TTL.
func (s *Store) setJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	if ttl > 0 {
		return s.client.Do(ctx, s.client.B().Set().Key(key).Value(string(data)).Ex(ttl).Build()).Error()
	}
	return s.client.Do(ctx, s.client.B().Set().Key(key).Value(string(data)).Build()).Error()
}

// GetClient retrieves a client by id
func (s *Store) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	var client storage.Client
	if err := s.getJSON(ctx, s.clientKey(clientID), &client); err != nil {
		return nil, err
	}
	return &client, nil
}

// SaveClient persists a new or updated client
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) error {
	return s.setJSON(ctx, s.clientKey(client.ID), client, 0)
}

// ValidateClientSecret checks a client's secret against the stored bcrypt hash
func (s *Store) ValidateClientSecret(ctx context.Context, clientID, secret string) error {
	client, err := s.GetClient(ctx, clientID)
	if err != nil {
		return err
	}
	return bcrypt.CompareHashAndPassword([]byte(client.SecretHash), []byte(secret))
}

// GetToken retrieves a token by id
func (s *Store) GetToken(ctx context.Context, tokenID string) (*storage.OAuthToken, error) {
	var token storage.OAuthToken
	if err := s.getJSON(ctx, s.tokenKey(tokenID), &token); err != nil {
		return nil, err
	}
	return &token, nil
}

// SaveToken persists a newly issued token. The Valkey TTL mirrors the token's
// own expiry so expired tokens vanish without a cleanup pass.
func (s *Store) SaveToken(ctx context.Context, token *storage.OAuthToken) error {
	ttl := calculateTTL(token.ExpiresAt())
	if ttl <= 0 {
		return fmt.Errorf("token already expired")
	}
	if err := s.setJSON(ctx, s.tokenKey(token.ID), token, ttl); err != nil {
		return err
	}

	// Index access tokens under their refresh token so rotation can find them.
	if token.RefreshTokenID != "" {
		key := s.refreshIndexKey(token.RefreshTokenID)
		if err := s.client.Do(ctx, s.client.B().Sadd().Key(key).Member(token.ID).Build()).Error(); err != nil {
			return fmt.Errorf("failed to index token by refresh token: %w", err)
		}
	}
	return nil
}

// DeleteToken removes a token
func (s *Store) DeleteToken(ctx context.Context, tokenID string) error {
	deleted, err := s.client.Do(ctx, s.client.B().Del().Key(s.tokenKey(tokenID)).Build()).AsInt64()
	if err != nil {
		return fmt.Errorf("failed to delete token: %w", err)
	}
	if deleted == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// DeleteTokensForRefreshToken removes every access token linked to the given
// refresh token
func (s *Store) DeleteTokensForRefreshToken(ctx context.Context, refreshTokenID string) error {
	key := s.refreshIndexKey(refreshTokenID)
	members, err := s.client.Do(ctx, s.client.B().Smembers().Key(key).Build()).AsStrSlice()
	if err != nil {
		if isNilError(err) {
			return nil
		}
		return fmt.Errorf("failed to read refresh token index: %w", err)
	}

	for _, tokenID := range members {
		if err := s.client.Do(ctx, s.client.B().Del().Key(s.tokenKey(tokenID)).Build()).Error(); err != nil {
			return fmt.Errorf("failed to delete indexed token: %w", err)
		}
	}
	return s.client.Do(ctx, s.client.B().Del().Key(key).Build()).Error()
}

// isNilError checks if the error indicates a nil/not-found result from Valkey.
func isNilError(err error) bool {
	return valkeygo.IsValkeyNil(err)
}

// calculateTTL derives the remaining Valkey TTL for a record.
func calculateTTL(expiresAt time.Time) time.Duration {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return 0
	}
	return ttl
}
