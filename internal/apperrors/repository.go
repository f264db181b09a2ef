package apperrors

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/Linggaept/backend-waspread-sub001/pkg/logger"
)

// FromRepository classifies a storage error for a queue handler. Missing or conflicting
// records cannot be fixed by a retry and become fatal; database, timeout and NATS errors
// are retryable. Anything else is fatal.
func FromRepository(ctx context.Context, err error, operation string, id string) error {
	if err == nil {
		return nil
	}
	if IsRetryable(err) || IsFatal(err) {
		return err
	}

	log := logger.FromContext(ctx)
	logFields := []zap.Field{
		zap.String("operation", operation),
		zap.Error(err),
	}
	if id != "" {
		logFields = append(logFields, zap.String("id", id))
	}

	switch {
	case errors.Is(err, ErrNotFound):
		log.Warn("Repository operation failed: Not found", logFields...)
		return NewFatal(err, "%s failed: resource not found", operation)
	case errors.Is(err, ErrDuplicate):
		log.Warn("Repository operation failed: Duplicate resource", logFields...)
		return NewFatal(err, "%s failed: duplicate resource", operation)
	case errors.Is(err, ErrBadRequest):
		log.Warn("Repository operation failed: Bad request", logFields...)
		return NewFatal(err, "%s failed: bad request data", operation)
	case errors.Is(err, ErrConflict):
		log.Warn("Repository operation failed: Conflict", logFields...)
		return NewFatal(err, "%s failed: resource conflict", operation)
	case errors.Is(err, ErrDatabase):
		log.Error("Repository operation failed: Database error", logFields...)
		return NewRetryable(err, "%s failed: database error", operation)
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		log.Warn("Repository operation failed: Timeout", logFields...)
		return NewRetryable(err, "%s failed: operation timeout", operation)
	case errors.Is(err, ErrNATS):
		log.Error("Repository operation failed: NATS error", logFields...)
		return NewRetryable(err, "%s failed: NATS communication error", operation)
	}

	log.Error("Repository operation failed: Unexpected error", logFields...)
	return NewFatal(err, "%s failed: unexpected repository error", operation)
}
