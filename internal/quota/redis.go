package quota

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Linggaept/backend-waspread-sub001/internal/apperrors"
	"github.com/Linggaept/backend-waspread-sub001/internal/config"
	"github.com/Linggaept/backend-waspread-sub001/pkg/logger"
	"github.com/Linggaept/backend-waspread-sub001/pkg/utils"
)

const (
	keyPrefix      = "waspread:"
	debitMarkerTTL = 30 * 24 * time.Hour
)

// debitScript charges the balance once per reference.
// KEYS[1] balance, KEYS[2] debit marker; ARGV[1] cost, ARGV[2] marker ttl ms.
var debitScript = redis.NewScript(`
if redis.call("SET", KEYS[2], "1", "NX", "PX", ARGV[2]) then
	return redis.call("INCRBYFLOAT", KEYS[1], "-" .. ARGV[1])
end
return false
`)

// RedisLedger keeps daily and monthly send counters and the AI balance in Redis.
// Per-tenant limits live in the hash waspread:quota:<tenant>:limits (fields daily and
// monthly) and fall back to the configured defaults.
type RedisLedger struct {
	client redis.UniversalClient
	cfg    config.QuotaConfig
	now    func() time.Time
}

var _ Ledger = (*RedisLedger)(nil)

// NewRedisLedger creates a ledger on the given client.
func NewRedisLedger(client redis.UniversalClient, cfg config.QuotaConfig) *RedisLedger {
	return &RedisLedger{client: client, cfg: cfg, now: utils.Now}
}

func (l *RedisLedger) dailyKey(tenantID string, at time.Time) string {
	return fmt.Sprintf("%squota:%s:d:%s", keyPrefix, tenantID, at.Format("20060102"))
}

func (l *RedisLedger) monthlyKey(tenantID string, at time.Time) string {
	return fmt.Sprintf("%squota:%s:m:%s", keyPrefix, tenantID, at.Format("200601"))
}

func limitsKey(tenantID string) string {
	return fmt.Sprintf("%squota:%s:limits", keyPrefix, tenantID)
}

func balanceKey(tenantID string) string {
	return fmt.Sprintf("%sai:%s:balance", keyPrefix, tenantID)
}

func debitKey(tenantID, referenceID string) string {
	return fmt.Sprintf("%sai:%s:debit:%s", keyPrefix, tenantID, referenceID)
}

func wrap(err error, op string) error {
	return fmt.Errorf("%w: %s: %v", apperrors.ErrDatabase, op, err)
}

func (l *RedisLedger) limits(ctx context.Context, tenantID string) (daily, monthly int64, err error) {
	daily, monthly = l.cfg.DailyLimit, l.cfg.MonthlyLimit
	vals, err := l.client.HMGet(ctx, limitsKey(tenantID), "daily", "monthly").Result()
	if err != nil {
		return 0, 0, wrap(err, "read limits")
	}
	if v, ok := vals[0].(string); ok {
		if n, perr := strconv.ParseInt(v, 10, 64); perr == nil {
			daily = n
		}
	}
	if v, ok := vals[1].(string); ok {
		if n, perr := strconv.ParseInt(v, 10, 64); perr == nil {
			monthly = n
		}
	}
	return daily, monthly, nil
}

func counter(ctx context.Context, client redis.UniversalClient, key string) (int64, error) {
	n, err := client.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

// CheckQuota reports the remaining allowance for today and this month.
func (l *RedisLedger) CheckQuota(ctx context.Context, tenantID string) (Status, error) {
	now := l.now()
	daily, monthly, err := l.limits(ctx, tenantID)
	if err != nil {
		return Status{}, err
	}
	usedDaily, err := counter(ctx, l.client, l.dailyKey(tenantID, now))
	if err != nil {
		return Status{}, wrap(err, "read daily usage")
	}
	usedMonthly, err := counter(ctx, l.client, l.monthlyKey(tenantID, now))
	if err != nil {
		return Status{}, wrap(err, "read monthly usage")
	}

	s := Status{
		RemainingDaily:   max(daily-usedDaily, 0),
		RemainingMonthly: max(monthly-usedMonthly, 0),
	}
	s.CanSend = s.RemainingDaily > 0 && s.RemainingMonthly > 0
	return s, nil
}

// UseQuota adds n sends to today's and this month's counters.
func (l *RedisLedger) UseQuota(ctx context.Context, tenantID string, n int) error {
	now := l.now()
	dk, mk := l.dailyKey(tenantID, now), l.monthlyKey(tenantID, now)

	_, err := l.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.IncrBy(ctx, dk, int64(n))
		p.Expire(ctx, dk, 48*time.Hour)
		p.IncrBy(ctx, mk, int64(n))
		p.Expire(ctx, mk, 32*24*time.Hour)
		return nil
	})
	if err != nil {
		return wrap(err, "use quota")
	}
	return nil
}

// CheckAiBalance compares the balance with a conservative cost estimate.
func (l *RedisLedger) CheckAiBalance(ctx context.Context, tenantID string, estimatedCost float64) (Balance, error) {
	bal, err := l.client.Get(ctx, balanceKey(tenantID)).Float64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return Balance{}, wrap(err, "read ai balance")
	}
	return Balance{HasEnough: bal >= estimatedCost, Balance: bal}, nil
}

// DebitAi charges actualCost once per referenceID. Repeated calls with the same
// reference are ignored.
func (l *RedisLedger) DebitAi(ctx context.Context, tenantID, feature string, actualCost float64, referenceID string) error {
	if actualCost <= 0 {
		return nil
	}
	res, err := debitScript.Run(ctx, l.client,
		[]string{balanceKey(tenantID), debitKey(tenantID, referenceID)},
		fmt.Sprintf("%g", actualCost), debitMarkerTTL.Milliseconds(),
	).Result()
	if errors.Is(err, redis.Nil) {
		logger.FromContext(ctx).Debug("AI debit already applied",
			zap.String("tenant_id", tenantID), zap.String("reference_id", referenceID))
		return nil
	}
	if err != nil {
		return wrap(err, "debit ai")
	}
	logger.FromContext(ctx).Info("Debited AI balance",
		zap.String("tenant_id", tenantID),
		zap.String("feature", feature),
		zap.Float64("cost", actualCost),
		zap.Any("balance", res),
		zap.String("reference_id", referenceID))
	return nil
}

// TopUpAi adds amount to the tenant's AI balance.
func (l *RedisLedger) TopUpAi(ctx context.Context, tenantID string, amount float64) (float64, error) {
	bal, err := l.client.IncrByFloat(ctx, balanceKey(tenantID), amount).Result()
	if err != nil {
		return 0, wrap(err, "top up ai")
	}
	return bal, nil
}

// SetLimits overrides the default limits of one tenant.
func (l *RedisLedger) SetLimits(ctx context.Context, tenantID string, daily, monthly int64) error {
	if err := l.client.HSet(ctx, limitsKey(tenantID), "daily", daily, "monthly", monthly).Err(); err != nil {
		return wrap(err, "set limits")
	}
	return nil
}
