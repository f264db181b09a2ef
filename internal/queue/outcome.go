package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/Linggaept/backend-waspread-sub001/internal/apperrors"
	"github.com/Linggaept/backend-waspread-sub001/internal/model"
	"github.com/Linggaept/backend-waspread-sub001/internal/observer"
	"github.com/Linggaept/backend-waspread-sub001/internal/storage"
)

type verdict string

const (
	verdictDone      verdict = "done"
	verdictDropped   verdict = "dropped"
	verdictRetry     verdict = "retry"
	verdictExhausted verdict = "exhausted"
)

// decide applies the outcome rules shared by every driver.
func decide(job *Job, err error) verdict {
	switch {
	case err == nil:
		return verdictDone
	case apperrors.IsFatal(err):
		return verdictDropped
	case job.IsFinalAttempt():
		return verdictExhausted
	default:
		return verdictRetry
	}
}

// newJob builds the first attempt of a job.
func newJob(queue, tenantID string, payload interface{}, opts Options, now time.Time) (*Job, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal %s payload: %v", apperrors.ErrBadRequest, queue, err)
	}
	attempts := opts.Attempts
	if attempts < 1 {
		attempts = 1
	}
	id := opts.JobID
	if id == "" {
		id = uuid.NewString()
	}
	return &Job{
		ID:          id,
		Queue:       queue,
		TenantID:    tenantID,
		Payload:     raw,
		Attempt:     1,
		MaxAttempts: attempts,
		Backoff:     opts.Backoff,
		NotBefore:   now.Add(opts.Delay),
		EnqueuedAt:  now,
	}, nil
}

// retryOf returns the next attempt of job after it failed with err.
func retryOf(job *Job, err error, now time.Time) *Job {
	next := *job
	next.Attempt = job.Attempt + 1
	next.NotBefore = now.Add(job.Backoff.Next(job.Attempt))
	next.LastError = err.Error()
	return &next
}

// exhaust records a job that used every attempt. Persistence failures are logged only.
func exhaust(ctx context.Context, repo storage.ExhaustedJobRepo, log *zap.Logger, job *Job, err error) {
	observer.IncJobsProcessed(job.Queue, job.TenantID, string(verdictExhausted))
	log.Warn("Job exhausted all attempts",
		zap.String("queue", job.Queue),
		zap.String("job_id", job.ID),
		zap.Int("attempts", job.Attempt),
		zap.Error(err),
	)
	if repo == nil {
		return
	}
	record := model.ExhaustedJob{
		TenantID:   job.TenantID,
		JobID:      job.ID,
		Queue:      job.Queue,
		LastError:  err.Error(),
		Attempts:   job.Attempt,
		EnqueuedAt: job.EnqueuedAt,
		Payload:    datatypes.JSON(job.Payload),
	}
	if saveErr := repo.SaveExhaustedJob(ctx, record); saveErr != nil {
		log.Error("Failed to persist exhausted job", zap.String("job_id", job.ID), zap.Error(saveErr))
	}
}
