package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/Linggaept/backend-waspread-sub001/internal/apperrors"
)

const keyPrefix = "waspread:lock:"

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker shares locks between processes with SET NX PX. A holder that dies keeps
// the lock until the ttl expires.
type RedisLocker struct {
	client redis.UniversalClient
}

var _ Locker = (*RedisLocker)(nil)

// NewRedisLocker creates a locker on the given client.
func NewRedisLocker(client redis.UniversalClient) *RedisLocker {
	return &RedisLocker{client: client}
}

// TryAcquire sets the lock key with a random token.
func (l *RedisLocker) TryAcquire(ctx context.Context, name string, ttl time.Duration) (Release, bool, error) {
	key := keyPrefix + name
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("%w: acquire lock %s: %v", apperrors.ErrDatabase, name, err)
	}
	if !ok {
		return nil, false, nil
	}

	var once sync.Once
	return func(ctx context.Context) error {
		var relErr error
		once.Do(func() {
			if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil {
				relErr = fmt.Errorf("%w: release lock %s: %v", apperrors.ErrDatabase, name, err)
			}
		})
		return relErr
	}, true, nil
}
