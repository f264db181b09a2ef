package tenant

import (
	"context"
	"errors"
)

type contextKey int

const (
	tenantIDKey contextKey = iota
	requestIDKey
)

var (
	// ErrTenantIDNotFound means no tenant was bound to the context.
	ErrTenantIDNotFound = errors.New("tenant ID not found in context")
	// ErrNoRequestIDInContext means the context did not come through the gateway handler.
	ErrNoRequestIDInContext = errors.New("no request ID found in context")
)

// WithTenantID binds the tenant a gateway event or job belongs to.
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantIDKey, tenantID)
}

// FromContext returns the bound tenant. An empty tenant counts as missing.
func FromContext(ctx context.Context) (string, error) {
	if id, _ := ctx.Value(tenantIDKey).(string); id != "" {
		return id, nil
	}
	return "", ErrTenantIDNotFound
}

// FromContextOr returns the bound tenant or fallback.
func FromContextOr(ctx context.Context, fallback string) string {
	if id, err := FromContext(ctx); err == nil {
		return id
	}
	return fallback
}

// WithRequestID tags the context with a correlation ID that the logger picks up.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

func FromRequestIDContext(ctx context.Context) (string, error) {
	if id, _ := ctx.Value(requestIDKey).(string); id != "" {
		return id, nil
	}
	return "", ErrNoRequestIDInContext
}
