package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Linggaept/backend-waspread-sub001/internal/apperrors"
	"github.com/Linggaept/backend-waspread-sub001/internal/model"
	"github.com/Linggaept/backend-waspread-sub001/pkg/logger"
)

// funnelStageColumns are the columns a stage transition may change.
var funnelStageColumns = []string{
	"stage", "campaign_id", "campaign_name",
	"blast_sent_at", "delivered_at", "replied_at", "interested_at", "negotiating_at", "closed_at",
	"deal_value", "close_reason", "history", "updated_at",
}

// FindFunnel finds the funnel row of a phone number within a tenant.
func (r *PostgresRepo) FindFunnel(ctx context.Context, tenantID, phone string) (*model.ConversationFunnel, error) {
	var funnel model.ConversationFunnel
	operation := func() error {
		return checkConstraintViolation(r.db.WithContext(ctx).Where("tenant_id = ? AND phone = ?", tenantID, phone).First(&funnel).Error)
	}

	if err := observe(ctx, readRetryMaxElapsedTime, "find", "funnel", tenantID, operation); err != nil {
		if !errors.Is(err, apperrors.ErrNotFound) {
			logger.FromContext(ctx).Error("Failed to find funnel", zap.String("phone", phone), zap.Error(err))
		}
		return nil, err
	}
	return &funnel, nil
}

// CreateFunnel inserts a new funnel row. A concurrent insert for the same phone
// surfaces as apperrors.ErrDuplicate.
func (r *PostgresRepo) CreateFunnel(ctx context.Context, funnel *model.ConversationFunnel) error {
	if funnel.ID == "" {
		funnel.ID = uuid.NewString()
	}
	operation := func() error {
		return checkConstraintViolation(r.db.WithContext(ctx).Create(funnel).Error)
	}
	return observe(ctx, commitRetryMaxElapsedTime, "create", "funnel", funnel.TenantID, operation)
}

// CompareAndSwapFunnel writes the stage columns of funnel if the stored stage still equals expected.
func (r *PostgresRepo) CompareAndSwapFunnel(ctx context.Context, funnel *model.ConversationFunnel, expected model.Stage) (bool, error) {
	var affected int64
	operation := func() error {
		result := r.db.WithContext(ctx).Model(funnel).
			Where("tenant_id = ? AND stage = ?", funnel.TenantID, expected).
			Select(funnelStageColumns).
			Updates(funnel)
		affected = result.RowsAffected
		return checkConstraintViolation(result.Error)
	}

	if err := observe(ctx, commitRetryMaxElapsedTime, "cas", "funnel", funnel.TenantID, operation); err != nil {
		logger.FromContext(ctx).Error("Failed to update funnel stage",
			zap.String("funnel_id", funnel.ID),
			zap.String("stage", string(funnel.Stage)),
			zap.Error(err))
		return false, err
	}
	return affected > 0, nil
}

// TouchFunnelInbound records inbound activity without changing the stage.
func (r *PostgresRepo) TouchFunnelInbound(ctx context.Context, tenantID, phone string, at time.Time) error {
	operation := func() error {
		result := r.db.WithContext(ctx).Model(&model.ConversationFunnel{}).
			Where("tenant_id = ? AND phone = ?", tenantID, phone).
			Updates(map[string]interface{}{"last_inbound_at": at, "updated_at": at})
		return checkConstraintViolation(result.Error)
	}
	return observe(ctx, commitRetryMaxElapsedTime, "touch", "funnel", tenantID, operation)
}

// FindStaleFunnels returns non-terminal funnels not updated since updatedBefore, oldest first.
func (r *PostgresRepo) FindStaleFunnels(ctx context.Context, updatedBefore time.Time, limit int) ([]model.ConversationFunnel, error) {
	var funnels []model.ConversationFunnel
	operation := func() error {
		result := r.db.WithContext(ctx).
			Where("stage NOT IN ? AND updated_at < ?", statusStrings([]model.Stage{model.StageClosedWon, model.StageClosedLost}), updatedBefore).
			Order("updated_at ASC").
			Limit(limit).
			Find(&funnels)
		return checkConstraintViolation(result.Error)
	}

	if err := observe(ctx, readRetryMaxElapsedTime, "find_stale", "funnel", "", operation); err != nil {
		return nil, err
	}
	return funnels, nil
}
