package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// LocalLocker is a per-process lock table. It only excludes runs within one process.
type LocalLocker struct {
	mu    sync.Mutex
	flags map[string]*atomic.Bool
}

var _ Locker = (*LocalLocker)(nil)

// NewLocalLocker creates an empty lock table.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{flags: make(map[string]*atomic.Bool)}
}

func (l *LocalLocker) flag(name string) *atomic.Bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	f, ok := l.flags[name]
	if !ok {
		f = new(atomic.Bool)
		l.flags[name] = f
	}
	return f
}

// TryAcquire flips the named flag. ttl is ignored.
func (l *LocalLocker) TryAcquire(_ context.Context, name string, _ time.Duration) (Release, bool, error) {
	f := l.flag(name)
	if !f.CompareAndSwap(false, true) {
		return nil, false, nil
	}
	var once sync.Once
	return func(context.Context) error {
		once.Do(func() { f.Store(false) })
		return nil
	}, true, nil
}
