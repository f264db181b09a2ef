// Package lock provides named advisory locks used to keep scheduled tasks from overlapping.
package lock

import (
	"context"
	"time"
)

// Release gives a held lock back. It is safe to call more than once.
type Release func(ctx context.Context) error

// Locker acquires named locks without waiting. ok is false when another holder has the lock.
// ttl bounds how long a crashed holder can keep the lock; it may be ignored by
// process-local implementations.
type Locker interface {
	TryAcquire(ctx context.Context, name string, ttl time.Duration) (release Release, ok bool, err error)
}
