package storage

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

const (
	apiKeyPrefix    = "gemini_ak_"
	randomBytesSize = 32
	apiKeyLength    = len(apiKeyPrefix) + randomBytesSize*2
	maskPrefixLen   = 14 // "gemini_ak_1234"
	maskSuffixLen   = 4

	// Cost 10 is ~60ms per hash; raise for hardening if ingestion auth
	// latency allows.
	bcryptCost  = 10
	bcryptLimit = 72
)

var (
	// ErrKeyNil is returned when a nil or empty API key is provided.
	ErrKeyNil = errors.New("API key cannot be nil")
	// ErrKeyNotFound is returned when operating on a non-existent key.
	ErrKeyNotFound = errors.New("API key not found")
	// ErrClientIDEmpty is returned when the client ID is empty during key generation.
	ErrClientIDEmpty = errors.New("client ID cannot be empty")
	// ErrInvalidKeyFormat is returned when an API key has the wrong prefix or length.
	ErrInvalidKeyFormat = errors.New("invalid API key format")
)

// APIKey identifies an ingestion client. The Key field holds the bcrypt hash
// in storage; plaintext keys exist only at generation time.
type APIKey struct {
	ID          string     `json:"id"`
	Key         string     `json:"key"`
	ClientID    string     `json:"clientId"`
	Name        string     `json:"name"`
	Permissions []string   `json:"permissions"`
	CreatedAt   time.Time  `json:"createdAt"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
	Active      bool       `json:"active"`
}

// Valid reports whether the key is active and unexpired.
func (k *APIKey) Valid() bool {
	if !k.Active {
		return false
	}

	if k.ExpiresAt != nil && time.Now().After(*k.ExpiresAt) {
		return false
	}

	return true
}

// HasPermission checks if the API key carries a specific permission.
func (k *APIKey) HasPermission(permission string) bool {
	for _, p := range k.Permissions {
		if p == permission {
			return true
		}
	}

	return false
}

// HashAPIKey generates a bcrypt hash of the API key for storage. Keys longer
// than bcrypt's 72-byte input limit are pre-hashed with SHA-256.
func HashAPIKey(apiKey string) (string, error) {
	if apiKey == "" {
		return "", ErrKeyNil
	}

	hash, err := bcrypt.GenerateFromPassword(bcryptInput(apiKey), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash API key: %w", err)
	}

	return string(hash), nil
}

// CompareAPIKeyHash performs constant-time comparison of a plaintext key
// against a stored bcrypt hash. Returns false on any error condition.
func CompareAPIKeyHash(hash, apiKey string) bool {
	if hash == "" || apiKey == "" {
		return false
	}

	return bcrypt.CompareHashAndPassword([]byte(hash), bcryptInput(apiKey)) == nil
}

func bcryptInput(apiKey string) []byte {
	if len(apiKey) <= bcryptLimit {
		return []byte(apiKey)
	}

	sum := sha256.Sum256([]byte(apiKey))

	return sum[:]
}

// SecureCompare performs constant-time comparison of two strings.
func SecureCompare(a, b string) bool {
	if len(a) != len(b) {
		dummy := make([]byte, len(a))
		subtle.ConstantTimeCompare([]byte(a), dummy)

		return false
	}

	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// GenerateAPIKey creates a new random API key for an ingestion client.
func GenerateAPIKey(clientID string) (string, error) {
	if clientID == "" {
		return "", ErrClientIDEmpty
	}

	randomBytes := make([]byte, randomBytesSize)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	return apiKeyPrefix + hex.EncodeToString(randomBytes), nil
}

// ParseAPIKey extracts and validates an API key from a header value,
// stripping an optional Bearer prefix.
func ParseAPIKey(headerValue string) (string, error) {
	if headerValue == "" {
		return "", ErrKeyNil
	}

	key := strings.TrimPrefix(headerValue, "Bearer ")

	if !strings.HasPrefix(key, apiKeyPrefix) || len(key) != apiKeyLength {
		return "", ErrInvalidKeyFormat
	}

	return key, nil
}

// MaskKey masks an API key for logging, showing only a short prefix and
// suffix of well-formed keys and masking everything else entirely.
func MaskKey(key string) string {
	if key == "" {
		return ""
	}

	if len(key) == apiKeyLength {
		masked := len(key) - maskPrefixLen - maskSuffixLen

		return key[:maskPrefixLen] + strings.Repeat("*", masked) + key[len(key)-maskSuffixLen:]
	}

	return strings.Repeat("*", len(key))
}
