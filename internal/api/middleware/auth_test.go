package middleware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/GEMINI-Breeding/gemini-engine/internal/storage"
)

const testKey = "gemini_ak_1234567890abcdef1234567890abcdef1234567890abcdef1234567890abcdef"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// TestExtractAPIKey_XAPIKeyHeader verifies extraction from the X-Api-Key
// header (primary header).
func TestExtractAPIKey_XAPIKeyHeader(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("X-Api-Key", testKey)

	apiKey, found := extractAPIKey(req)

	if !found {
		t.Fatal("extractAPIKey should return true when X-Api-Key header is present")
	}

	if apiKey != testKey {
		t.Errorf("Expected API key %q, got %q", testKey, apiKey)
	}
}

// TestExtractAPIKey_AuthorizationHeader verifies extraction from the
// Authorization: Bearer header (fallback header).
func TestExtractAPIKey_AuthorizationHeader(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("Authorization", "Bearer "+testKey)

	apiKey, found := extractAPIKey(req)

	if !found {
		t.Fatal("extractAPIKey should return true when Authorization header is present")
	}

	if apiKey != testKey {
		t.Errorf("Expected API key %q, got %q", testKey, apiKey)
	}
}

// TestExtractAPIKey_BothHeaders verifies that X-Api-Key takes precedence
// when both headers are present.
func TestExtractAPIKey_BothHeaders(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("X-Api-Key", "gemini_ak_primary")
	req.Header.Set("Authorization", "Bearer gemini_ak_secondary")

	apiKey, found := extractAPIKey(req)

	if !found {
		t.Fatal("extractAPIKey should return true when headers are present")
	}

	if apiKey != "gemini_ak_primary" {
		t.Errorf("X-Api-Key should take precedence, got %q", apiKey)
	}
}

// TestExtractAPIKey_NoHeaders verifies the miss case.
func TestExtractAPIKey_NoHeaders(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	req := httptest.NewRequest(http.MethodGet, "/test", nil)

	if _, found := extractAPIKey(req); found {
		t.Error("extractAPIKey should return false when no headers are present")
	}
}

// TestExtractAPIKey_RejectsHeaderInjection verifies that keys containing
// newlines are rejected.
func TestExtractAPIKey_RejectsHeaderInjection(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	tests := []struct {
		name string
		key  string
	}{
		{"carriage return", "gemini_ak_bad\rkey"},
		{"newline", "gemini_ak_bad\nkey"},
		{"whitespace only", "   "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, ok := cleanAPIKey(tt.key); ok {
				t.Errorf("cleanAPIKey(%q) accepted a malformed key", tt.key)
			}
		})
	}
}

// TestAuthenticateRequest_UnknownKey verifies that a well-formed but
// unregistered key maps to the generic invalid-key error.
func TestAuthenticateRequest_UnknownKey(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	store := &MockKeyStore{}

	_, err := authenticateRequest(context.Background(), store, testKey, discardLogger())
	if err == nil {
		t.Fatal("authenticateRequest should fail for an unknown key")
	}

	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("error = %v, want *AuthError", err)
	}

	if authErr.Type != ErrInvalidAPIKey {
		t.Errorf("error type = %v, want %v", authErr.Type, ErrInvalidAPIKey)
	}
}

// TestAuthenticateRequest_MalformedKey verifies that format failures map to
// the same generic error as unknown keys, preventing enumeration.
func TestAuthenticateRequest_MalformedKey(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	store := &MockKeyStore{
		FindByKeyFunc: func(_ context.Context, _ string) (*storage.APIKey, bool) {
			t.Error("store must not be consulted for malformed keys")

			return nil, false
		},
	}

	_, err := authenticateRequest(context.Background(), store, "not-a-key", discardLogger())
	if err == nil {
		t.Fatal("authenticateRequest should fail for a malformed key")
	}

	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("error = %v, want *AuthError", err)
	}

	if authErr.Type != ErrInvalidAPIKey {
		t.Errorf("error type = %v, want %v", authErr.Type, ErrInvalidAPIKey)
	}
}

// TestAuthenticateRequest_InactiveKey verifies the deactivated-key path.
func TestAuthenticateRequest_InactiveKey(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	store := &MockKeyStore{
		FindByKeyFunc: func(_ context.Context, _ string) (*storage.APIKey, bool) {
			return &storage.APIKey{ID: "key-1", ClientID: "station-1", Active: false}, true
		},
	}

	_, err := authenticateRequest(context.Background(), store, testKey, discardLogger())

	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("error = %v, want *AuthError", err)
	}

	if authErr.Type != ErrAPIKeyInactive {
		t.Errorf("error type = %v, want %v", authErr.Type, ErrAPIKeyInactive)
	}
}

// TestAuthenticateRequest_ExpiredKey verifies the expiry path.
func TestAuthenticateRequest_ExpiredKey(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	expired := time.Now().Add(-time.Hour)
	store := &MockKeyStore{
		FindByKeyFunc: func(_ context.Context, _ string) (*storage.APIKey, bool) {
			return &storage.APIKey{ID: "key-1", ClientID: "station-1", Active: true, ExpiresAt: &expired}, true
		},
	}

	_, err := authenticateRequest(context.Background(), store, testKey, discardLogger())

	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("error = %v, want *AuthError", err)
	}

	if authErr.Type != ErrAPIKeyExpired {
		t.Errorf("error type = %v, want %v", authErr.Type, ErrAPIKeyExpired)
	}
}

// TestAuthenticateClient_ValidKey verifies the middleware attaches the
// client context and forwards the request.
func TestAuthenticateClient_ValidKey(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	store := &MockKeyStore{
		FindByKeyFunc: func(_ context.Context, _ string) (*storage.APIKey, bool) {
			return &storage.APIKey{
				ID:          "key-1",
				ClientID:    "field-station-07",
				Name:        "Field Station 07",
				Permissions: []string{"records:write"},
				Active:      true,
			}, true
		},
	}

	var captured ClientContext

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured, _ = GetClientContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/records/trait", nil)
	req.Header.Set("X-Api-Key", testKey)

	rr := httptest.NewRecorder()
	AuthenticateClient(store, discardLogger())(next).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200. Body: %s", rr.Code, rr.Body.String())
	}

	if captured.ClientID != "field-station-07" {
		t.Errorf("client id = %q, want field-station-07", captured.ClientID)
	}

	if len(captured.Permissions) != 1 || captured.Permissions[0] != "records:write" {
		t.Errorf("permissions = %v, want [records:write]", captured.Permissions)
	}
}

// TestAuthenticateClient_MissingKey verifies a 401 with a problem response.
func TestAuthenticateClient_MissingKey(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		t.Error("handler must not run without authentication")
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/records/trait", nil)
	rr := httptest.NewRecorder()

	AuthenticateClient(&MockKeyStore{}, discardLogger())(next).ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rr.Code)
	}

	if ct := rr.Header().Get("Content-Type"); ct != "application/problem+json" {
		t.Errorf("Content-Type = %q, want application/problem+json", ct)
	}
}

// TestAuthenticateClient_InactiveKeyForbidden verifies deactivated keys get
// 403 rather than 401.
func TestAuthenticateClient_InactiveKeyForbidden(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	store := &MockKeyStore{
		FindByKeyFunc: func(_ context.Context, _ string) (*storage.APIKey, bool) {
			return &storage.APIKey{ID: "key-1", ClientID: "station-1", Active: false}, true
		},
	}

	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		t.Error("handler must not run with a deactivated key")
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/records/trait", nil)
	req.Header.Set("X-Api-Key", testKey)

	rr := httptest.NewRecorder()
	AuthenticateClient(store, discardLogger())(next).ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rr.Code)
	}
}

// TestAuthenticateClient_PublicEndpointBypass verifies registered public
// endpoints skip the check entirely.
func TestAuthenticateClient_PublicEndpointBypass(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	RegisterPublicEndpoint("/ping")

	called := false

	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	rr := httptest.NewRecorder()

	AuthenticateClient(&MockKeyStore{}, discardLogger())(next).ServeHTTP(rr, req)

	if !called {
		t.Error("public endpoint should bypass authentication")
	}

	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rr.Code)
	}
}
