package security

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

// PBKDF2 parameters. These are fixed: stored digests from earlier deployments
// must keep verifying, so changing any of them is a data migration.
const (
	pbkdf2Iterations = 1000
	pbkdf2KeyLength  = 32 // 256-bit output
	saltLength       = 16
)

// Hasher derives and verifies password digests. The zero value is usable.
type Hasher struct{}

// CreateSalt generates a random Base64-encoded salt.
func (Hasher) CreateSalt() (string, error) {
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}
	return base64.StdEncoding.EncodeToString(salt), nil
}

// Hash derives a Base64-encoded PBKDF2-SHA256 digest of the password under
// the given Base64-encoded salt.
func (Hasher) Hash(password, salt string) (string, error) {
	rawSalt, err := base64.StdEncoding.DecodeString(salt)
	if err != nil {
		return "", fmt.Errorf("invalid salt encoding: %w", err)
	}
	key := pbkdf2.Key([]byte(password), rawSalt, pbkdf2Iterations, pbkdf2KeyLength, sha256.New)
	return base64.StdEncoding.EncodeToString(key), nil
}

// Verify reports whether the password matches the stored digest. The digest
// comparison is constant-time.
func (h Hasher) Verify(password, salt, digest string) bool {
	computed, err := h.Hash(password, salt)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(computed), []byte(digest)) == 1
}
