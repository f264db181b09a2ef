package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Linggaept/backend-waspread-sub001/internal/apperrors"
	"github.com/Linggaept/backend-waspread-sub001/internal/lock"
)

type failingLocker struct{}

func (failingLocker) TryAcquire(context.Context, string, time.Duration) (lock.Release, bool, error) {
	return nil, false, errors.New("redis down")
}

func TestRunner_Register(t *testing.T) {
	r := NewRunner(lock.NewLocalLocker(), time.Minute, time.Second, zap.NewNop())
	noop := func(context.Context) error { return nil }

	require.NoError(t, r.Register("followup-dispatch", "*/15 * * * *", noop))
	assert.ErrorIs(t, r.Register("followup-dispatch", "*/15 * * * *", noop), apperrors.ErrConflict)
	assert.ErrorIs(t, r.Register("bad", "every now and then", noop), apperrors.ErrValidation)
}

func TestRunner_OverlappingTickIsDropped(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	r := NewRunner(lock.NewLocalLocker(), time.Minute, 5*time.Second, zap.New(core))

	started := make(chan struct{})
	unblock := make(chan struct{})
	runs := 0
	require.NoError(t, r.Register("followup-materialize", "0 * * * *", func(ctx context.Context) error {
		runs++
		close(started)
		<-unblock
		return nil
	}))

	first := make(chan Result, 1)
	go func() { first <- r.Run(context.Background(), "followup-materialize") }()
	<-started

	assert.Equal(t, ResultSkipped, r.Run(context.Background(), "followup-materialize"))
	close(unblock)
	assert.Equal(t, ResultRan, <-first)
	assert.Equal(t, 1, runs)
	assert.Equal(t, 1, logs.FilterMessage("Previous run still in progress, skipping tick").Len())
}

func TestRunner_ReleasesAfterFailure(t *testing.T) {
	r := NewRunner(lock.NewLocalLocker(), time.Minute, time.Second, zap.NewNop())
	calls := 0
	require.NoError(t, r.Register("funnel-stale-sweep", "30 2 * * *", func(ctx context.Context) error {
		calls++
		return errors.New("db unavailable")
	}))

	assert.Equal(t, ResultFailed, r.Run(context.Background(), "funnel-stale-sweep"))
	assert.Equal(t, ResultFailed, r.Run(context.Background(), "funnel-stale-sweep"))
	assert.Equal(t, 2, calls, "a failed run must release its lock")
}

func TestRunner_Timeout(t *testing.T) {
	r := NewRunner(lock.NewLocalLocker(), time.Minute, 20*time.Millisecond, zap.NewNop())
	require.NoError(t, r.Register("slow", "* * * * *", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))
	assert.Equal(t, ResultFailed, r.Run(context.Background(), "slow"))
}

func TestRunner_LockError(t *testing.T) {
	r := NewRunner(failingLocker{}, time.Minute, time.Second, zap.NewNop())
	called := false
	require.NoError(t, r.Register("contact-followup-dispatch", "* * * * *", func(context.Context) error {
		called = true
		return nil
	}))
	assert.Equal(t, ResultFailed, r.Run(context.Background(), "contact-followup-dispatch"))
	assert.False(t, called)
}

func TestRunner_UnknownTask(t *testing.T) {
	r := NewRunner(lock.NewLocalLocker(), time.Minute, time.Second, zap.NewNop())
	assert.Equal(t, ResultFailed, r.Run(context.Background(), "missing"))
}

func TestRunner_StartStop(t *testing.T) {
	r := NewRunner(lock.NewLocalLocker(), time.Minute, time.Second, zap.NewNop())
	require.NoError(t, r.Register("noop", "@every 1h", func(context.Context) error { return nil }))
	r.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	r.Stop(ctx)
}
