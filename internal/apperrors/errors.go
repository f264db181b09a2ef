package apperrors

import (
	"errors"
	"fmt"
)

// RetryableError marks a failure the job queue and the gateway consumer should redeliver.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string { return "retryable: " + e.Err.Error() }
func (e *RetryableError) Unwrap() error { return e.Err }

// FatalError marks a failure that will not improve on redelivery. Jobs failing with it are
// dropped instead of retried.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return "fatal: " + e.Err.Error() }
func (e *FatalError) Unwrap() error { return e.Err }

// NewRetryable wraps err as retryable. message and args are formatted as a prefix and err
// stays reachable through errors.Is.
func NewRetryable(err error, message string, args ...interface{}) error {
	return &RetryableError{Err: prefix(err, message, args)}
}

// NewFatal wraps err as fatal, formatting message and args the way NewRetryable does.
func NewFatal(err error, message string, args ...interface{}) error {
	return &FatalError{Err: prefix(err, message, args)}
}

func prefix(err error, message string, args []interface{}) error {
	if len(args) > 0 {
		message = fmt.Sprintf(message, args...)
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Storage and plumbing sentinels. ErrDuplicate is a unique constraint hit; ErrConflict is a
// lost compare-and-swap or a state transition that no longer applies.
var (
	ErrNotFound    = errors.New("resource not found")
	ErrValidation  = errors.New("validation failed")
	ErrDatabase    = errors.New("database error")
	ErrNATS        = errors.New("nats communication error")
	ErrDuplicate   = errors.New("duplicate resource")
	ErrConflict    = errors.New("resource conflict")
	ErrBadRequest  = errors.New("bad request")
	ErrTimeout     = errors.New("operation timeout")
	ErrRateLimited = errors.New("rate limited")
)

// Delivery sentinels. Transport and ledger adapters wrap these so the pipelines can map a
// send failure to its ErrorKind without knowing the gateway.
var (
	ErrQuotaExhausted  = errors.New("quota exhausted")
	ErrSessionNotReady = errors.New("whatsapp session not ready")
	ErrNotRegistered   = errors.New("number not registered")
)

// IsRetryable reports whether err carries a RetryableError anywhere in its chain.
func IsRetryable(err error) bool {
	var target *RetryableError
	return errors.As(err, &target)
}

// IsFatal reports whether err carries a FatalError anywhere in its chain.
func IsFatal(err error) bool {
	var target *FatalError
	return errors.As(err, &target)
}
