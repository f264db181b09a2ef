package apperrors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRetryableAndFatalWrapping(t *testing.T) {
	retryable := NewRetryable(ErrSessionNotReady, "send to tenant %s", "t1")
	assert.True(t, IsRetryable(retryable))
	assert.False(t, IsFatal(retryable))
	assert.ErrorIs(t, retryable, ErrSessionNotReady)
	assert.Equal(t, "retryable: send to tenant t1: whatsapp session not ready", retryable.Error())

	fatal := NewFatal(ErrNotFound, "campaign %s", "c1")
	assert.True(t, IsFatal(fatal))
	assert.False(t, IsRetryable(fatal))
	assert.ErrorIs(t, fatal, ErrNotFound)
}

func TestMessageWithoutArgs(t *testing.T) {
	err := NewFatal(ErrValidation, "100% invalid")
	assert.Equal(t, "fatal: 100% invalid: validation failed", err.Error())
}

func TestWrappedDetection(t *testing.T) {
	inner := NewRetryable(errors.New("dial tcp"), "send")
	outer := fmt.Errorf("worker: %w", inner)
	assert.True(t, IsRetryable(outer))
	assert.False(t, IsRetryable(ErrQuotaExhausted))
}

func TestFromRepository(t *testing.T) {
	ctx := context.Background()

	assert.NoError(t, FromRepository(ctx, nil, "find", ""))
	assert.True(t, IsFatal(FromRepository(ctx, fmt.Errorf("%w: campaign c1", ErrNotFound), "find campaign", "c1")))
	assert.True(t, IsFatal(FromRepository(ctx, ErrDuplicate, "create", "")))
	assert.True(t, IsRetryable(FromRepository(ctx, fmt.Errorf("%w: conn reset", ErrDatabase), "update", "m1")))
	assert.True(t, IsRetryable(FromRepository(ctx, context.DeadlineExceeded, "update", "")))
	assert.True(t, IsFatal(FromRepository(ctx, errors.New("boom"), "update", "")))

	already := NewRetryable(ErrSessionNotReady, "send")
	assert.Same(t, already, FromRepository(ctx, already, "send", ""))
}
