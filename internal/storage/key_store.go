package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/lib/pq"

	"github.com/GEMINI-Breeding/gemini-engine/internal/config"
)

// KeyStore defines API key storage for authenticated ingestion clients.
type KeyStore interface {
	// FindByKey retrieves an API key by its plaintext value, comparing
	// against stored hashes.
	FindByKey(ctx context.Context, key string) (*APIKey, bool)
	// Add stores a new API key. The Key field must hold the bcrypt hash.
	Add(ctx context.Context, apiKey *APIKey) error
	// Deactivate marks a key inactive without deleting it.
	Deactivate(ctx context.Context, keyID string) error
	// ListByClient returns all keys for a client.
	ListByClient(ctx context.Context, clientID string) ([]*APIKey, error)
}

var _ KeyStore = (*PersistentKeyStore)(nil)

// PersistentKeyStore implements KeyStore with a PostgreSQL backend.
type PersistentKeyStore struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPersistentKeyStore creates a PostgreSQL-backed key store.
func NewPersistentKeyStore(conn *Connection) (*PersistentKeyStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	return &PersistentKeyStore{
		conn: conn,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
	}, nil
}

// FindByKey retrieves an API key by plaintext value. All active keys are
// scanned with bcrypt comparison; acceptable while key counts stay small.
func (s *PersistentKeyStore) FindByKey(ctx context.Context, key string) (*APIKey, bool) {
	if key == "" {
		return nil, false
	}

	query := `
		SELECT id, key_hash, client_id, name, permissions, created_at, expires_at, active
		FROM api_keys
		WHERE active = TRUE
	`

	rows, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		s.logger.ErrorContext(ctx, "key lookup failed", slog.String("error", err.Error()))

		return nil, false
	}
	defer func() { _ = rows.Close() }()

	var found *APIKey

	for rows.Next() {
		var k APIKey

		err := rows.Scan(&k.ID, &k.Key, &k.ClientID, &k.Name,
			pq.Array(&k.Permissions), &k.CreatedAt, &k.ExpiresAt, &k.Active)
		if err != nil {
			continue
		}

		if CompareAPIKeyHash(k.Key, key) {
			k.Key = MaskKey(k.Key)
			found = &k

			break
		}
	}

	if err := rows.Err(); err != nil {
		s.logger.ErrorContext(ctx, "key lookup failed", slog.String("error", err.Error()))

		return nil, false
	}

	if found == nil || !found.Valid() {
		return nil, false
	}

	return found, true
}

// Add stores a new API key. The Key field must already hold the bcrypt hash.
func (s *PersistentKeyStore) Add(ctx context.Context, apiKey *APIKey) error {
	if apiKey == nil || apiKey.Key == "" {
		return ErrKeyNil
	}

	query := `
		INSERT INTO api_keys (key_hash, client_id, name, permissions, active, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`

	err := s.conn.QueryRowContext(ctx, query,
		apiKey.Key, apiKey.ClientID, apiKey.Name,
		pq.Array(apiKey.Permissions), apiKey.Active, apiKey.ExpiresAt).Scan(&apiKey.ID)
	if err != nil {
		return fmt.Errorf("failed to add API key: %w", err)
	}

	return nil
}

// Deactivate marks a key inactive. Returns ErrKeyNotFound for unknown ids.
func (s *PersistentKeyStore) Deactivate(ctx context.Context, keyID string) error {
	if keyID == "" {
		return ErrKeyNil
	}

	res, err := s.conn.ExecContext(ctx,
		`UPDATE api_keys SET active = FALSE, updated_at = NOW() WHERE id = $1`, keyID)
	if err != nil {
		return fmt.Errorf("failed to deactivate API key: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to deactivate API key: %w", err)
	}

	if affected == 0 {
		return ErrKeyNotFound
	}

	return nil
}

// ListByClient returns all keys for a client, hashes masked.
func (s *PersistentKeyStore) ListByClient(ctx context.Context, clientID string) ([]*APIKey, error) {
	if clientID == "" {
		return nil, ErrClientIDEmpty
	}

	query := `
		SELECT id, key_hash, client_id, name, permissions, created_at, expires_at, active
		FROM api_keys
		WHERE client_id = $1
		ORDER BY created_at
	`

	rows, err := s.conn.QueryContext(ctx, query, clientID)
	if err != nil {
		return nil, fmt.Errorf("failed to list API keys: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var keys []*APIKey

	for rows.Next() {
		var k APIKey

		err := rows.Scan(&k.ID, &k.Key, &k.ClientID, &k.Name,
			pq.Array(&k.Permissions), &k.CreatedAt, &k.ExpiresAt, &k.Active)
		if err != nil {
			return nil, fmt.Errorf("failed to list API keys: %w", err)
		}

		k.Key = MaskKey(k.Key)
		keys = append(keys, &k)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list API keys: %w", err)
	}

	return keys, nil
}
