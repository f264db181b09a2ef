package utils

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Linggaept/backend-waspread-sub001/pkg/logger"
)

func TestSafeGo(t *testing.T) {
	original := logger.Log
	logger.Log = zaptest.NewLogger(t)
	t.Cleanup(func() { logger.Log = original })

	ran := make(chan struct{})
	SafeGo(func() { close(ran) }, nil)
	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("goroutine did not run")
	}

	recovered := make(chan interface{}, 1)
	SafeGo(func() { panic("send loop crashed") }, func(r interface{}, stack []byte) {
		assert.NotEmpty(t, stack)
		recovered <- r
	})
	select {
	case r := <-recovered:
		assert.Equal(t, "send loop crashed", r)
	case <-time.After(time.Second):
		t.Fatal("panic was not handed to onPanic")
	}
}

func TestWrapWithContextRecovery(t *testing.T) {
	ctx := logger.WithLogger(context.Background(), zaptest.NewLogger(t))

	assert.NoError(t, WrapWithContextRecovery(func(context.Context) error { return nil })(ctx))

	sendErr := errors.New("gateway unavailable")
	assert.Equal(t, sendErr, WrapWithContextRecovery(func(context.Context) error { return sendErr })(ctx))

	err := WrapWithContextRecovery(func(context.Context) error {
		var m map[string]int
		m["job"]++
		return nil
	})(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPanic)
	assert.Contains(t, err.Error(), "assignment to entry in nil map")
}
