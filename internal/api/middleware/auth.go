package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/GEMINI-Breeding/gemini-engine/internal/storage"
)

// publicEndpoints lists paths that bypass authentication. Only health probes
// belong here; registration and ingestion endpoints must authenticate.
var publicEndpoints = map[string]bool{} //nolint: gochecknoglobals

// RegisterPublicEndpoint registers an endpoint that bypasses authentication.
// Called during route setup for health check endpoints only.
func RegisterPublicEndpoint(endpoint string) {
	publicEndpoints[endpoint] = true
}

// AuthError represents an authentication failure with a typed cause.
type AuthError struct {
	Type    error
	Message string
}

// Authentication error types for granular handling.
var (
	// ErrMissingAPIKey is returned when no API key is present in headers.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidAPIKey covers malformed and unknown keys. The generic message
	// prevents key enumeration.
	ErrInvalidAPIKey = errors.New("invalid API key")

	// ErrAPIKeyExpired is returned when the API key has expired.
	ErrAPIKeyExpired = errors.New("API key expired")

	// ErrAPIKeyInactive is returned when the API key has been deactivated.
	ErrAPIKeyInactive = errors.New("API key inactive")
)

// Error implements the error interface.
func (e *AuthError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("authentication failed: %s: %s", e.Type.Error(), e.Message)
	}

	return "authentication failed: " + e.Type.Error()
}

// Unwrap returns the wrapped error type for errors.Is and errors.As.
func (e *AuthError) Unwrap() error {
	return e.Type
}

// extractAPIKey pulls the API key from X-Api-Key (primary) or
// Authorization: Bearer (fallback). Keys containing newlines are rejected to
// prevent header injection.
func extractAPIKey(r *http.Request) (string, bool) {
	if apiKey := r.Header.Get("X-Api-Key"); apiKey != "" {
		return cleanAPIKey(apiKey)
	}

	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return cleanAPIKey(strings.TrimPrefix(authHeader, "Bearer "))
	}

	return "", false
}

func cleanAPIKey(key string) (string, bool) {
	if strings.ContainsAny(key, "\r\n") {
		return "", false
	}

	key = strings.TrimSpace(key)
	if key == "" {
		return "", false
	}

	return key, true
}

// performDummyBcryptComparison keeps rejection timing constant regardless of
// where validation fails.
func performDummyBcryptComparison() {
	_ = bcrypt.CompareHashAndPassword([]byte("dummy"), []byte("dummy"))
}

// authenticateRequest validates the API key against the store. Format
// failures and unknown keys both map to the generic ErrInvalidAPIKey.
func authenticateRequest(
	ctx context.Context,
	store storage.KeyStore,
	apiKey string,
	logger *slog.Logger,
) (*storage.APIKey, error) {
	parsedKey, err := storage.ParseAPIKey(apiKey)
	if err != nil {
		performDummyBcryptComparison()

		logger.Error("authentication failed: invalid key format",
			slog.String("error", err.Error()),
			slog.String("correlation_id", GetCorrelationID(ctx)),
			slog.String("failure_type", "format_validation"),
		)

		return nil, &AuthError{Type: ErrInvalidAPIKey, Message: "Invalid or missing API key"}
	}

	foundKey, exists := store.FindByKey(ctx, parsedKey)
	if !exists {
		logger.Error("authentication failed: key not found",
			slog.String("correlation_id", GetCorrelationID(ctx)),
			slog.String("failure_type", "key_lookup"),
		)

		return nil, &AuthError{Type: ErrInvalidAPIKey, Message: "Invalid or missing API key"}
	}

	if !foundKey.Active {
		return nil, &AuthError{Type: ErrAPIKeyInactive, Message: "API key has been deactivated"}
	}

	if foundKey.ExpiresAt != nil && time.Now().After(*foundKey.ExpiresAt) {
		return nil, &AuthError{Type: ErrAPIKeyExpired, Message: "API key has expired"}
	}

	return foundKey, nil
}

// AuthenticateClient creates a middleware that authenticates ingestion
// clients via API key and enriches the request context with ClientContext.
// Public endpoints registered via RegisterPublicEndpoint bypass the check.
func AuthenticateClient(store storage.KeyStore, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if publicEndpoints[r.URL.Path] {
				next.ServeHTTP(w, r)

				return
			}

			apiKey, ok := extractAPIKey(r)
			if !ok {
				writeAuthError(w, r, logger, &AuthError{
					Type:    ErrMissingAPIKey,
					Message: "API key required",
				})

				return
			}

			foundKey, err := authenticateRequest(r.Context(), store, apiKey, logger)
			if err != nil {
				var authErr *AuthError
				if !errors.As(err, &authErr) {
					authErr = &AuthError{Type: ErrInvalidAPIKey}
				}

				writeAuthError(w, r, logger, authErr)

				return
			}

			clientCtx := ClientContext{
				ClientID:    foundKey.ClientID,
				Name:        foundKey.Name,
				Permissions: foundKey.Permissions,
				KeyID:       foundKey.ID,
				AuthTime:    time.Now(),
			}

			next.ServeHTTP(w, r.WithContext(SetClientContext(r.Context(), clientCtx)))
		})
	}
}

// writeAuthError maps an AuthError to the proper status code and writes the
// RFC 7807 response.
func writeAuthError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, authErr *AuthError) {
	correlationID := GetCorrelationID(r.Context())

	statusCode := http.StatusUnauthorized
	if errors.Is(authErr.Type, ErrAPIKeyInactive) {
		statusCode = http.StatusForbidden
	}

	if err := writeRFC7807Error(w, r, statusCode, authErr.Message, correlationID); err != nil {
		logger.Error("failed to write response with RFC 7807 error format",
			slog.String("correlation_id", correlationID),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)

		http.Error(w, authErr.Message, statusCode)
	}
}

// writeRFC7807Error writes an RFC 7807 problem response with a status-mapped
// title.
func writeRFC7807Error(
	w http.ResponseWriter,
	r *http.Request,
	statusCode int,
	detail,
	correlationID string,
) error {
	var title string

	switch statusCode {
	case http.StatusUnauthorized:
		title = "Unauthorized"
	case http.StatusForbidden:
		title = "Forbidden"
	case http.StatusTooManyRequests:
		title = "Too Many Requests"
	case http.StatusInternalServerError:
		title = "Internal Server Error"
	default:
		title = "Request Failed"
	}

	problem := map[string]interface{}{
		"type":          fmt.Sprintf("https://gemini-breeding.github.io/problems/%d", statusCode),
		"title":         title,
		"status":        statusCode,
		"detail":        detail,
		"instance":      r.URL.Path,
		"correlationId": correlationID,
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(statusCode)

	return json.NewEncoder(w).Encode(problem)
}
