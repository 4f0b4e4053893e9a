// Package middleware provides HTTP middleware components for the GEMINI API.
package middleware

import (
	"context"

	"github.com/GEMINI-Breeding/gemini-engine/internal/storage"
)

// MockKeyStore is a mock implementation of storage.KeyStore for testing.
type MockKeyStore struct {
	FindByKeyFunc    func(ctx context.Context, key string) (*storage.APIKey, bool)
	AddFunc          func(ctx context.Context, apiKey *storage.APIKey) error
	DeactivateFunc   func(ctx context.Context, keyID string) error
	ListByClientFunc func(ctx context.Context, clientID string) ([]*storage.APIKey, error)
}

// FindByKey implements storage.KeyStore.FindByKey.
func (m *MockKeyStore) FindByKey(ctx context.Context, key string) (*storage.APIKey, bool) {
	if m.FindByKeyFunc != nil {
		return m.FindByKeyFunc(ctx, key)
	}

	return nil, false
}

// Add implements storage.KeyStore.Add.
func (m *MockKeyStore) Add(ctx context.Context, apiKey *storage.APIKey) error {
	if m.AddFunc != nil {
		return m.AddFunc(ctx, apiKey)
	}

	return nil
}

// Deactivate implements storage.KeyStore.Deactivate.
func (m *MockKeyStore) Deactivate(ctx context.Context, keyID string) error {
	if m.DeactivateFunc != nil {
		return m.DeactivateFunc(ctx, keyID)
	}

	return nil
}

// ListByClient implements storage.KeyStore.ListByClient.
func (m *MockKeyStore) ListByClient(ctx context.Context, clientID string) ([]*storage.APIKey, error) {
	if m.ListByClientFunc != nil {
		return m.ListByClientFunc(ctx, clientID)
	}

	return []*storage.APIKey{}, nil
}
