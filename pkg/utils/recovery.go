package utils

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime/debug"

	"go.uber.org/zap"

	"github.com/Linggaept/backend-waspread-sub001/pkg/logger"
)

// ErrPanic marks an error produced by a recovered panic.
var ErrPanic = errors.New("panic recovered")

// RecoverFn handles a recovered panic value and its stack.
type RecoverFn func(r interface{}, stack []byte)

// SafeGo runs fn on its own goroutine. A panic goes to onPanic, or to the global logger when
// onPanic is nil.
func SafeGo(fn func(), onPanic RecoverFn) {
	go func() {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			if onPanic != nil {
				onPanic(r, debug.Stack())
				return
			}
			logPanic(logger.Log, "Recovered from panic in goroutine", r)
		}()
		fn()
	}()
}

// WrapWithContextRecovery turns a panic inside fn into an error wrapping ErrPanic, logged
// through the context logger.
func WrapWithContextRecovery(fn func(ctx context.Context) error) func(ctx context.Context) (err error) {
	return func(ctx context.Context) (err error) {
		defer func() {
			if r := recover(); r != nil {
				log := logger.FromContext(ctx)
				if log == nil {
					log = logger.Log
				}
				logPanic(log, "Recovered from panic", r)
				err = fmt.Errorf("%w: %v", ErrPanic, r)
			}
		}()
		return fn(ctx)
	}
}

func logPanic(log *zap.Logger, msg string, r interface{}) {
	stack := debug.Stack()
	if log == nil {
		fmt.Fprintf(os.Stderr, "[PANIC] %s: %v\n%s\n", msg, r, stack)
		return
	}
	log.Error(msg, zap.Any("panic", r), zap.ByteString("stack", stack))
}
