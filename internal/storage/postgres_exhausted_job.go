package storage

import (
	"context"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Linggaept/backend-waspread-sub001/internal/model"
	"github.com/Linggaept/backend-waspread-sub001/pkg/logger"
)

// SaveExhaustedJob stores a queue job that used up every attempt.
func (r *PostgresRepo) SaveExhaustedJob(ctx context.Context, job model.ExhaustedJob) error {
	tenantID := job.TenantID
	if tenantID == "" {
		tenantID = "unknown"
	}

	operation := func() error {
		return r.inTx(ctx, func(tx *gorm.DB) error {
			return checkConstraintViolation(tx.Create(&job).Error)
		})
	}

	if err := observe(ctx, commitRetryMaxElapsedTime, "save", "exhausted_job", tenantID, operation); err != nil {
		logger.FromContext(ctx).Error("Failed to save exhausted job after retries",
			zap.String("queue", job.Queue),
			zap.String("job_id", job.JobID),
			zap.Error(err))
		return err
	}

	logger.FromContext(ctx).Info("Saved exhausted job", zap.Uint("id", job.ID), zap.String("queue", job.Queue), zap.String("job_id", job.JobID))
	return nil
}
