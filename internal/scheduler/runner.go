// Package scheduler runs periodic tasks on cron expressions. Each run holds a named lock
// and a tick that finds the lock held is dropped.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/Linggaept/backend-waspread-sub001/internal/apperrors"
	"github.com/Linggaept/backend-waspread-sub001/internal/lock"
	"github.com/Linggaept/backend-waspread-sub001/internal/observer"
	"github.com/Linggaept/backend-waspread-sub001/pkg/logger"
)

// Task is one periodic unit of work.
type Task func(ctx context.Context) error

// Result of a single tick.
type Result string

const (
	ResultRan     Result = "ran"
	ResultSkipped Result = "skipped"
	ResultFailed  Result = "failed"
)

// Runner owns the cron engine and the registered tasks.
type Runner struct {
	engine  *cron.Cron
	locker  lock.Locker
	lockTTL time.Duration
	timeout time.Duration
	logger  *zap.Logger

	mu    sync.Mutex
	tasks map[string]Task
}

// NewRunner creates a runner. lockTTL bounds how long a crashed run can block the task;
// timeout bounds a single run.
func NewRunner(locker lock.Locker, lockTTL, timeout time.Duration, log *zap.Logger) *Runner {
	log = log.Named("scheduler")
	return &Runner{
		engine: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithChain(cron.Recover(cronLogger{log})),
		),
		locker:  locker,
		lockTTL: lockTTL,
		timeout: timeout,
		logger:  log,
		tasks:   make(map[string]Task),
	}
}

// Register schedules task under name on a standard five-field cron spec.
func (r *Runner) Register(name, spec string, task Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tasks[name]; ok {
		return fmt.Errorf("%w: task %s already registered", apperrors.ErrConflict, name)
	}
	if _, err := r.engine.AddFunc(spec, func() { r.Run(context.Background(), name) }); err != nil {
		return fmt.Errorf("%w: task %s spec %q: %v", apperrors.ErrValidation, name, spec, err)
	}
	r.tasks[name] = task
	r.logger.Info("Registered scheduled task", zap.String("task", name), zap.String("spec", spec))
	return nil
}

// Run executes one tick of the named task now, under the same lock as scheduled ticks.
func (r *Runner) Run(ctx context.Context, name string) Result {
	r.mu.Lock()
	task, ok := r.tasks[name]
	r.mu.Unlock()
	log := r.logger.With(zap.String("task", name))
	if !ok {
		log.Error("Unknown scheduled task")
		return ResultFailed
	}

	release, acquired, err := r.locker.TryAcquire(ctx, name, r.lockTTL)
	if err != nil {
		log.Error("Failed to acquire task lock", zap.Error(err))
		observer.IncSchedulerRun(name, string(ResultFailed))
		return ResultFailed
	}
	if !acquired {
		log.Info("Previous run still in progress, skipping tick")
		observer.IncSchedulerRun(name, string(ResultSkipped))
		return ResultSkipped
	}
	defer func() {
		// The run context may already be done; releasing must not depend on it.
		if err := release(context.Background()); err != nil {
			log.Warn("Failed to release task lock", zap.Error(err))
		}
	}()

	runCtx, cancel := context.WithTimeout(logger.WithLogger(ctx, log), r.timeout)
	defer cancel()

	start := time.Now()
	err = task(runCtx)
	observer.ObserveSchedulerRunDuration(name, time.Since(start))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			log.Error("Scheduled task timed out", zap.Duration("timeout", r.timeout), zap.Error(err))
		} else {
			log.Error("Scheduled task failed", zap.Error(err))
		}
		observer.IncSchedulerRun(name, string(ResultFailed))
		return ResultFailed
	}
	log.Debug("Scheduled task finished", zap.Duration("duration", time.Since(start)))
	observer.IncSchedulerRun(name, string(ResultRan))
	return ResultRan
}

// Start begins firing scheduled ticks.
func (r *Runner) Start() {
	r.engine.Start()
	r.logger.Info("Scheduler started", zap.Int("tasks", len(r.engine.Entries())))
}

// Stop prevents new ticks and waits for running ones, bounded by ctx.
func (r *Runner) Stop(ctx context.Context) {
	r.logger.Info("Stopping scheduler...")
	done := r.engine.Stop()
	select {
	case <-done.Done():
		r.logger.Info("Scheduler gracefully stopped")
	case <-ctx.Done():
		r.logger.Warn("Scheduler stop timed out with tasks still running")
	}
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	logger *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
