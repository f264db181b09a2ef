package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Linggaept/backend-waspread-sub001/internal/apperrors"
	"github.com/Linggaept/backend-waspread-sub001/internal/model"
	"github.com/Linggaept/backend-waspread-sub001/pkg/logger"
	"github.com/Linggaept/backend-waspread-sub001/pkg/utils"
)

var openFollowupStatuses = []model.FollowupStatus{model.FollowupScheduled, model.FollowupQueued}

// CreateFollowupCampaign stores a new follow-up campaign.
func (r *PostgresRepo) CreateFollowupCampaign(ctx context.Context, campaign *model.FollowupCampaign) error {
	if campaign.ID == "" {
		campaign.ID = uuid.NewString()
	}
	operation := func() error {
		return checkConstraintViolation(r.db.WithContext(ctx).Create(campaign).Error)
	}

	if err := observe(ctx, commitRetryMaxElapsedTime, "create", "followup_campaign", campaign.TenantID, operation); err != nil {
		logger.FromContext(ctx).Error("Failed to create follow-up campaign", zap.String("followup_campaign_id", campaign.ID), zap.Error(err))
		return err
	}
	return nil
}

// FindFollowupCampaign finds a non-deleted follow-up campaign.
func (r *PostgresRepo) FindFollowupCampaign(ctx context.Context, tenantID, id string) (*model.FollowupCampaign, error) {
	var campaign model.FollowupCampaign
	operation := func() error {
		return checkConstraintViolation(r.db.WithContext(ctx).Where("id = ? AND tenant_id = ?", id, tenantID).First(&campaign).Error)
	}

	if err := observe(ctx, readRetryMaxElapsedTime, "find", "followup_campaign", tenantID, operation); err != nil {
		return nil, err
	}
	return &campaign, nil
}

// ListRunnableFollowupCampaigns returns every ACTIVE, enabled follow-up campaign across tenants.
func (r *PostgresRepo) ListRunnableFollowupCampaigns(ctx context.Context) ([]model.FollowupCampaign, error) {
	var campaigns []model.FollowupCampaign
	operation := func() error {
		result := r.db.WithContext(ctx).
			Where("status = ? AND is_active = ?", model.FollowupCampaignActive, true).
			Order("created_at ASC").
			Find(&campaigns)
		return checkConstraintViolation(result.Error)
	}

	if err := observe(ctx, readRetryMaxElapsedTime, "list_runnable", "followup_campaign", "", operation); err != nil {
		return nil, err
	}
	return campaigns, nil
}

// SetFollowupCampaignStatus changes the campaign status when it is currently one of from.
func (r *PostgresRepo) SetFollowupCampaignStatus(ctx context.Context, tenantID, id string, status model.FollowupCampaignStatus, from ...model.FollowupCampaignStatus) (bool, error) {
	var affected int64
	operation := func() error {
		q := r.db.WithContext(ctx).Model(&model.FollowupCampaign{}).Where("id = ? AND tenant_id = ?", id, tenantID)
		if len(from) > 0 {
			q = q.Where("status IN ?", statusStrings(from))
		}
		result := q.Updates(map[string]interface{}{"status": status, "updated_at": utils.Now()})
		affected = result.RowsAffected
		return checkConstraintViolation(result.Error)
	}

	if err := observe(ctx, defaultRetryMaxElapsedTime, "set_status", "followup_campaign", tenantID, operation); err != nil {
		return false, err
	}
	return affected > 0, nil
}

// IncrementFollowupCounters adds delta to the running totals atomically.
func (r *PostgresRepo) IncrementFollowupCounters(ctx context.Context, tenantID, id string, delta model.FollowupCounters) error {
	values := map[string]interface{}{"updated_at": utils.Now()}
	add := func(column string, n int) {
		if n != 0 {
			values[column] = gorm.Expr(column+" + ?", n)
		}
	}
	add("total_scheduled", delta.Scheduled)
	add("total_sent", delta.Sent)
	add("total_skipped", delta.Skipped)
	add("total_failed", delta.Failed)
	add("total_replied", delta.Replied)
	if len(values) == 1 {
		return nil
	}

	operation := func() error {
		result := r.db.WithContext(ctx).Model(&model.FollowupCampaign{}).
			Where("id = ? AND tenant_id = ?", id, tenantID).
			Updates(values)
		return checkConstraintViolation(result.Error)
	}
	return observe(ctx, commitRetryMaxElapsedTime, "increment", "followup_campaign", tenantID, operation)
}

// DeleteFollowupCampaign soft-deletes the campaign and cancels its open messages.
func (r *PostgresRepo) DeleteFollowupCampaign(ctx context.Context, tenantID, id string) (int64, error) {
	var cancelled int64
	operation := func() error {
		cancelled = 0
		return r.inTx(ctx, func(tx *gorm.DB) error {
			var campaign model.FollowupCampaign
			if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("id = ? AND tenant_id = ?", id, tenantID).
				First(&campaign).Error; err != nil {
				return checkConstraintViolation(err)
			}

			now := utils.Now()
			result := tx.Model(&model.FollowupMessage{}).
				Where("followup_campaign_id = ? AND tenant_id = ? AND status IN ?", id, tenantID, statusStrings(openFollowupStatuses)).
				Updates(map[string]interface{}{"status": model.FollowupCancelled, "skip_reason": "campaign_deleted", "updated_at": now})
			if result.Error != nil {
				return checkConstraintViolation(result.Error)
			}
			cancelled = result.RowsAffected

			if err := tx.Model(&campaign).Updates(map[string]interface{}{"is_active": false, "updated_at": now}).Error; err != nil {
				return checkConstraintViolation(err)
			}
			return checkConstraintViolation(tx.Delete(&campaign).Error)
		})
	}

	if err := observe(ctx, commitRetryMaxElapsedTime, "delete", "followup_campaign", tenantID, operation); err != nil {
		logger.FromContext(ctx).Error("Failed to delete follow-up campaign", zap.String("followup_campaign_id", id), zap.Error(err))
		return 0, err
	}
	return cancelled, nil
}

// ListFollowupMessages returns every message of a follow-up campaign ordered by recipient and step.
func (r *PostgresRepo) ListFollowupMessages(ctx context.Context, tenantID, followupCampaignID string) ([]model.FollowupMessage, error) {
	var messages []model.FollowupMessage
	operation := func() error {
		result := r.db.WithContext(ctx).
			Where("followup_campaign_id = ? AND tenant_id = ?", followupCampaignID, tenantID).
			Order("campaign_message_id ASC, step ASC").
			Find(&messages)
		return checkConstraintViolation(result.Error)
	}

	if err := observe(ctx, readRetryMaxElapsedTime, "list", "followup_message", tenantID, operation); err != nil {
		return nil, err
	}
	return messages, nil
}

// CreateFollowupMessage inserts the message unless the recipient already has that step.
func (r *PostgresRepo) CreateFollowupMessage(ctx context.Context, message *model.FollowupMessage) (bool, error) {
	if message.ID == "" {
		message.ID = uuid.NewString()
	}
	var affected int64
	operation := func() error {
		result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "followup_campaign_id"}, {Name: "campaign_message_id"}, {Name: "step"}},
			DoNothing: true,
		}).Create(message)
		affected = result.RowsAffected
		return checkConstraintViolation(result.Error)
	}

	if err := observe(ctx, commitRetryMaxElapsedTime, "create", "followup_message", message.TenantID, operation); err != nil {
		if errors.Is(err, apperrors.ErrDuplicate) {
			return false, nil
		}
		return false, err
	}
	return affected > 0, nil
}

// FindDueFollowupMessages returns up to limit SCHEDULED messages due at or before now, oldest
// first. Messages of paused, disabled or deleted campaigns are left out.
func (r *PostgresRepo) FindDueFollowupMessages(ctx context.Context, now time.Time, limit int) ([]model.FollowupMessage, error) {
	var messages []model.FollowupMessage
	operation := func() error {
		result := r.db.WithContext(ctx).
			Select("followup_messages.*").
			Joins("JOIN followup_campaigns fc ON fc.id = followup_messages.followup_campaign_id AND fc.tenant_id = followup_messages.tenant_id").
			Where("followup_messages.status = ? AND followup_messages.scheduled_at <= ?", model.FollowupScheduled, now).
			Where("fc.status = ? AND fc.is_active AND fc.deleted_at IS NULL", model.FollowupCampaignActive).
			Order("followup_messages.scheduled_at ASC").
			Limit(limit).
			Find(&messages)
		return checkConstraintViolation(result.Error)
	}

	if err := observe(ctx, readRetryMaxElapsedTime, "find_due", "followup_message", "", operation); err != nil {
		return nil, err
	}
	return messages, nil
}

// FindFollowupMessage finds a follow-up message by id within a tenant.
func (r *PostgresRepo) FindFollowupMessage(ctx context.Context, tenantID, id string) (*model.FollowupMessage, error) {
	var message model.FollowupMessage
	operation := func() error {
		return checkConstraintViolation(r.db.WithContext(ctx).Where("id = ? AND tenant_id = ?", id, tenantID).First(&message).Error)
	}

	if err := observe(ctx, readRetryMaxElapsedTime, "find", "followup_message", tenantID, operation); err != nil {
		return nil, err
	}
	return &message, nil
}

// TransitionFollowupMessage applies update only when the message is in one of the from statuses.
// With no from statuses given, SCHEDULED and QUEUED qualify.
func (r *PostgresRepo) TransitionFollowupMessage(ctx context.Context, tenantID, id string, update model.FollowupUpdate, from ...model.FollowupStatus) (bool, error) {
	if len(from) == 0 {
		from = openFollowupStatuses
	}
	values := map[string]interface{}{
		"status":     update.Status,
		"updated_at": utils.Now(),
	}
	if update.ErrorMessage != "" {
		values["error_message"] = update.ErrorMessage
	}
	if update.SkipReason != "" {
		values["skip_reason"] = update.SkipReason
	}
	if update.TransportMessageID != "" {
		values["transport_message_id"] = update.TransportMessageID
	}
	if update.SentAt != nil {
		values["sent_at"] = *update.SentAt
	}

	var affected int64
	operation := func() error {
		result := r.db.WithContext(ctx).Model(&model.FollowupMessage{}).
			Where("id = ? AND tenant_id = ? AND status IN ?", id, tenantID, statusStrings(from)).
			Updates(values)
		affected = result.RowsAffected
		return checkConstraintViolation(result.Error)
	}

	if err := observe(ctx, commitRetryMaxElapsedTime, "transition", "followup_message", tenantID, operation); err != nil {
		return false, err
	}
	return affected > 0, nil
}

// IncrementFollowupMessageRetry bumps the retry count and records the last error.
func (r *PostgresRepo) IncrementFollowupMessageRetry(ctx context.Context, tenantID, id string, errMsg string) (int, error) {
	var retryCount int
	operation := func() error {
		return r.inTx(ctx, func(tx *gorm.DB) error {
			var existing model.FollowupMessage
			if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("id = ? AND tenant_id = ?", id, tenantID).
				First(&existing).Error; err != nil {
				return checkConstraintViolation(err)
			}
			retryCount = existing.RetryCount + 1
			return checkConstraintViolation(tx.Model(&existing).Updates(map[string]interface{}{
				"retry_count":   retryCount,
				"error_message": errMsg,
				"updated_at":    utils.Now(),
			}).Error)
		})
	}

	if err := observe(ctx, commitRetryMaxElapsedTime, "retry", "followup_message", tenantID, operation); err != nil {
		return 0, err
	}
	return retryCount, nil
}
