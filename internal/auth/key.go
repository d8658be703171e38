// Integration key handling.
//
// The voice platform calls the integration endpoints server to server and
// cannot carry a user's JWT. It authenticates with a shared key sent in the
// X-Integration-Key header instead. The server only stores the key's bcrypt
// hash (INTEGRATION_KEY_HASH), produced with cmd/hashkey.
//
// Hash format (the full output of bcrypt.GenerateFromPassword):
//
//	$2a$12$<22-char salt><31-char hash>
//	 ^   ^
//	 |   cost (12 rounds → 2^12 iterations)
//	 version
package auth

import (
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/crypto/bcrypt"
)

// IntegrationKeyHeader carries the integration key on server-to-server calls.
const IntegrationKeyHeader = "X-Integration-Key"

// DefaultKeyCost is the bcrypt work factor for new key hashes. Every
// integration request pays one comparison at this cost.
const DefaultKeyCost = 12

// maxKeyLen is bcrypt's input limit. Longer keys would be silently truncated.
const maxKeyLen = 72

// ErrInvalidKey is returned by Verify for a missing or mismatched key.
var ErrInvalidKey = errors.New("auth: invalid integration key")

// HashKey hashes a plaintext integration key with bcrypt at the given cost.
func HashKey(plaintext string, cost int) (string, error) {
	if plaintext == "" {
		return "", fmt.Errorf("auth: integration key must not be empty")
	}
	if len(plaintext) > maxKeyLen {
		return "", fmt.Errorf("auth: integration key must be %d bytes or fewer", maxKeyLen)
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(plaintext), cost)
	if err != nil {
		return "", fmt.Errorf("auth: hashing integration key: %w", err)
	}

	return string(hashed), nil
}

// KeyVerifier checks presented integration keys against one stored hash.
type KeyVerifier struct {
	hash []byte
}

// NewKeyVerifier validates that hash is a well-formed bcrypt hash.
func NewKeyVerifier(hash string) (*KeyVerifier, error) {
	if _, err := bcrypt.Cost([]byte(hash)); err != nil {
		return nil, fmt.Errorf("auth: integration key hash: %w", err)
	}
	return &KeyVerifier{hash: []byte(hash)}, nil
}

// Verify returns nil if plaintext matches the stored hash. The comparison is
// constant-time.
func (v *KeyVerifier) Verify(plaintext string) error {
	if plaintext == "" {
		return ErrInvalidKey
	}
	err := bcrypt.CompareHashAndPassword(v.hash, []byte(plaintext))
	if err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrInvalidKey
		}
		return fmt.Errorf("auth: comparing integration key: %w", err)
	}
	return nil
}

// RequireIntegrationKey rejects requests whose X-Integration-Key header does
// not verify, with 401 and the API's JSON error body.
func RequireIntegrationKey(v *KeyVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := v.Verify(r.Header.Get(IntegrationKeyHeader)); err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"error":"unauthorized","message":"valid integration key required"}`)) //nolint:errcheck
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
