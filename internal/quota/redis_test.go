package quota

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Linggaept/backend-waspread-sub001/internal/apperrors"
	"github.com/Linggaept/backend-waspread-sub001/internal/config"
)

func newTestLedger(t *testing.T, daily, monthly int64) (*RedisLedger, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	l := NewRedisLedger(client, config.QuotaConfig{DailyLimit: daily, MonthlyLimit: monthly})
	l.now = func() time.Time { return time.Date(2026, 5, 20, 10, 0, 0, 0, time.UTC) }
	return l, mr
}

func TestRedisLedger_Quota(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t, 2, 10)

	s, err := l.CheckQuota(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, Status{CanSend: true, RemainingDaily: 2, RemainingMonthly: 10}, s)

	require.NoError(t, l.UseQuota(ctx, "t1", 1))
	require.NoError(t, l.UseQuota(ctx, "t1", 1))

	s, err = l.CheckQuota(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, s.CanSend, "daily allowance used up")
	assert.Equal(t, int64(0), s.RemainingDaily)
	assert.Equal(t, int64(8), s.RemainingMonthly)

	other, err := l.CheckQuota(ctx, "t2")
	require.NoError(t, err)
	assert.True(t, other.CanSend)
}

func TestRedisLedger_NewDayResetsDaily(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t, 1, 10)

	require.NoError(t, l.UseQuota(ctx, "t1", 1))
	l.now = func() time.Time { return time.Date(2026, 5, 21, 0, 5, 0, 0, time.UTC) }

	s, err := l.CheckQuota(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, s.CanSend)
	assert.Equal(t, int64(9), s.RemainingMonthly)
}

func TestRedisLedger_TenantLimitOverride(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t, 100, 1000)

	require.NoError(t, l.SetLimits(ctx, "t1", 0, 1000))
	s, err := l.CheckQuota(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, s.CanSend)
}

func TestRedisLedger_ConcurrentUse(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t, 1000, 1000)

	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, l.UseQuota(ctx, "t1", 1))
		}()
	}
	wg.Wait()

	s, err := l.CheckQuota(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, int64(975), s.RemainingDaily)
}

func TestRedisLedger_AiBalance(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t, 1, 1)

	b, err := l.CheckAiBalance(ctx, "t1", 1)
	require.NoError(t, err)
	assert.False(t, b.HasEnough, "no balance yet")

	_, err = l.TopUpAi(ctx, "t1", 5)
	require.NoError(t, err)

	b, err = l.CheckAiBalance(ctx, "t1", 3)
	require.NoError(t, err)
	assert.True(t, b.HasEnough)
	assert.InDelta(t, 5.0, b.Balance, 1e-9)

	require.NoError(t, l.DebitAi(ctx, "t1", "auto_reply", 1.5, "log-1"))
	require.NoError(t, l.DebitAi(ctx, "t1", "auto_reply", 1.5, "log-1"), "same reference is charged once")
	require.NoError(t, l.DebitAi(ctx, "t1", "auto_reply", 0, "log-2"))

	b, err = l.CheckAiBalance(ctx, "t1", 3)
	require.NoError(t, err)
	assert.InDelta(t, 3.5, b.Balance, 1e-9)
}

func TestRedisLedger_ConnectionError(t *testing.T) {
	l, mr := newTestLedger(t, 1, 1)
	mr.Close()

	_, err := l.CheckQuota(context.Background(), "t1")
	assert.ErrorIs(t, err, apperrors.ErrDatabase)
	assert.ErrorIs(t, l.UseQuota(context.Background(), "t1", 1), apperrors.ErrDatabase)
}
