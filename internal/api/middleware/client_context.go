package middleware

import (
	"context"
	"time"
)

// clientContextKey is the context key for authenticated client information.
type clientContextKey struct{}

// ClientContext carries authenticated ingestion-client information, set by
// the authentication middleware after successful API key validation.
type ClientContext struct {
	// ClientID identifies the ingestion client (e.g., "field-station-07").
	ClientID string

	// Name is the human-readable client name for logging.
	Name string

	// Permissions are the authorization scopes granted to this client.
	Permissions []string

	// KeyID is the API key ID used for authentication, for audit logging.
	KeyID string

	// AuthTime is when authentication occurred.
	AuthTime time.Time
}

// GetClientContext extracts client context from the request context.
// Returns (context, true) if authenticated, (empty, false) otherwise.
func GetClientContext(ctx context.Context) (ClientContext, bool) {
	clientCtx, ok := ctx.Value(clientContextKey{}).(ClientContext)

	return clientCtx, ok
}

// SetClientContext returns a new context with the client context attached.
func SetClientContext(ctx context.Context, clientCtx ClientContext) context.Context {
	return context.WithValue(ctx, clientContextKey{}, clientCtx)
}
