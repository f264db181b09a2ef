// Package queue runs named background job queues with delayed delivery and bounded retries.
package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/Linggaept/backend-waspread-sub001/internal/apperrors"
)

// Named queues.
const (
	CampaignSend        = "campaign-send"
	AutoReplySend       = "auto-reply-send"
	FollowupSend        = "follow-up-send"
	ContactFollowupSend = "contact-followup-send"
)

// BackoffKind selects how the delay between attempts grows.
type BackoffKind string

const (
	BackoffFixed       BackoffKind = "fixed"
	BackoffExponential BackoffKind = "exponential"
)

// maxBackoff caps exponential growth.
const maxBackoff = time.Hour

// Backoff describes the wait before a failed job is attempted again.
type Backoff struct {
	Kind  BackoffKind   `json:"kind"`
	Delay time.Duration `json:"delay"`
}

// Fixed returns a constant backoff.
func Fixed(delay time.Duration) Backoff {
	return Backoff{Kind: BackoffFixed, Delay: delay}
}

// Exponential returns a backoff that doubles after every failed attempt.
func Exponential(delay time.Duration) Backoff {
	return Backoff{Kind: BackoffExponential, Delay: delay}
}

// Next returns the wait after the given failed attempt (1-based).
// Exponential backoff waits Delay, 2*Delay, 4*Delay ... capped at one hour.
func (b Backoff) Next(attempt int) time.Duration {
	if b.Delay <= 0 {
		return 0
	}
	if b.Kind != BackoffExponential || attempt <= 1 {
		return b.Delay
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = b.Delay
	eb.Multiplier = 2
	eb.RandomizationFactor = 0
	eb.MaxInterval = maxBackoff
	eb.MaxElapsedTime = 0
	eb.Reset()

	next := eb.NextBackOff()
	for i := 1; i < attempt; i++ {
		next = eb.NextBackOff()
	}
	return next
}

// Options controls how a single job is scheduled.
type Options struct {
	Delay    time.Duration
	Attempts int
	Backoff  Backoff
	// JobID deduplicates enqueues; a second job with the same id is ignored while the
	// first is still open. Generated when empty.
	JobID string
}

// Job is the envelope handed to a Handler.
type Job struct {
	ID          string          `json:"id"`
	Queue       string          `json:"queue"`
	TenantID    string          `json:"tenant_id"`
	Payload     json.RawMessage `json:"payload"`
	Attempt     int             `json:"attempt"`
	MaxAttempts int             `json:"max_attempts"`
	Backoff     Backoff         `json:"backoff"`
	NotBefore   time.Time       `json:"not_before"`
	EnqueuedAt  time.Time       `json:"enqueued_at"`
	LastError   string          `json:"last_error,omitempty"`
}

// Decode unmarshals the payload into v. A payload that cannot be decoded will never
// succeed, so the error is fatal.
func (j *Job) Decode(v interface{}) error {
	if err := json.Unmarshal(j.Payload, v); err != nil {
		return apperrors.NewFatal(apperrors.ErrBadRequest, "decode %s job %s: %v", j.Queue, j.ID, err)
	}
	return nil
}

// IsFinalAttempt reports whether a failure of this attempt exhausts the job.
func (j *Job) IsFinalAttempt() bool {
	return j.Attempt >= j.MaxAttempts
}

// Handler processes one attempt of a job. Returning nil completes the job, an
// apperrors.FatalError drops it, and any other error schedules a retry.
type Handler func(ctx context.Context, job *Job) error

// Enqueuer adds jobs to a named queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, queue, tenantID string, payload interface{}, opts Options) (string, error)
}

// Queue is a set of named queues with registered handlers.
type Queue interface {
	Enqueuer
	Register(queue string, handler Handler) error
	Start(ctx context.Context) error
	Stop()
}
