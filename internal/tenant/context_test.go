package tenant

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTenantIDRoundTrip(t *testing.T) {
	ctx := WithTenantID(context.Background(), "tenant-a")

	id, err := FromContext(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tenant-a", id)
}

func TestFromContext_Missing(t *testing.T) {
	_, err := FromContext(context.Background())
	assert.ErrorIs(t, err, ErrTenantIDNotFound)

	_, err = FromContext(WithTenantID(context.Background(), ""))
	assert.ErrorIs(t, err, ErrTenantIDNotFound)
}

func TestFromContextOr(t *testing.T) {
	assert.Equal(t, "fallback", FromContextOr(context.Background(), "fallback"))
	assert.Equal(t, "t1", FromContextOr(WithTenantID(context.Background(), "t1"), "fallback"))
}

func TestRequestID(t *testing.T) {
	_, err := FromRequestIDContext(context.Background())
	assert.ErrorIs(t, err, ErrNoRequestIDInContext)

	ctx := WithRequestID(context.Background(), "req-1")
	id, err := FromRequestIDContext(ctx)
	require.NoError(t, err)
	assert.Equal(t, "req-1", id)
}
