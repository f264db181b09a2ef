package storage

import (
	"context"
	"errors"
	"fmt"
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

// CreateCampaign stores a campaign and all of its messages in one transaction.
func (r *PostgresRepo) CreateCampaign(ctx context.Context, campaign *model.Campaign, messages []*model.CampaignMessage) error {
	if campaign.ID == "" {
		campaign.ID = uuid.NewString()
	}
	for _, m := range messages {
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		m.CampaignID = campaign.ID
		m.TenantID = campaign.TenantID
	}

	operation := func() error {
		return r.inTx(ctx, func(tx *gorm.DB) error {
			if err := tx.Create(campaign).Error; err != nil {
				return checkConstraintViolation(err)
			}
			if len(messages) == 0 {
				return nil
			}
			if err := tx.CreateInBatches(messages, 500).Error; err != nil {
				return checkConstraintViolation(err)
			}
			return nil
		})
	}

	if err := observe(ctx, commitRetryMaxElapsedTime, "create", "campaign", campaign.TenantID, operation); err != nil {
		logger.FromContext(ctx).Error("Failed to create campaign after retries", zap.String("campaign_id", campaign.ID), zap.Error(err))
		return err
	}
	return nil
}

// FindCampaign finds a campaign by id within a tenant.
func (r *PostgresRepo) FindCampaign(ctx context.Context, tenantID, id string) (*model.Campaign, error) {
	var campaign model.Campaign
	operation := func() error {
		return checkConstraintViolation(r.db.WithContext(ctx).Where("id = ? AND tenant_id = ?", id, tenantID).First(&campaign).Error)
	}

	if err := observe(ctx, readRetryMaxElapsedTime, "find", "campaign", tenantID, operation); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, err
		}
		logger.FromContext(ctx).Error("Failed to find campaign", zap.String("campaign_id", id), zap.Error(err))
		return nil, err
	}
	return &campaign, nil
}

// StartCampaign moves a PENDING campaign to PROCESSING.
func (r *PostgresRepo) StartCampaign(ctx context.Context, tenantID, id string, at time.Time) (bool, error) {
	var affected int64
	operation := func() error {
		result := r.db.WithContext(ctx).Model(&model.Campaign{}).
			Where("id = ? AND tenant_id = ? AND status = ?", id, tenantID, model.CampaignPending).
			Updates(map[string]interface{}{"status": model.CampaignProcessing, "started_at": at, "updated_at": at})
		affected = result.RowsAffected
		return checkConstraintViolation(result.Error)
	}

	if err := observe(ctx, defaultRetryMaxElapsedTime, "start", "campaign", tenantID, operation); err != nil {
		return false, err
	}
	return affected > 0, nil
}

// CancelCampaign moves a PENDING or PROCESSING campaign to CANCELLED.
func (r *PostgresRepo) CancelCampaign(ctx context.Context, tenantID, id string) (bool, error) {
	var affected int64
	operation := func() error {
		now := utils.Now()
		result := r.db.WithContext(ctx).Model(&model.Campaign{}).
			Where("id = ? AND tenant_id = ? AND status IN ?", id, tenantID, statusStrings([]model.CampaignStatus{model.CampaignPending, model.CampaignProcessing})).
			Updates(map[string]interface{}{"status": model.CampaignCancelled, "completed_at": now, "updated_at": now})
		affected = result.RowsAffected
		return checkConstraintViolation(result.Error)
	}

	if err := observe(ctx, defaultRetryMaxElapsedTime, "cancel", "campaign", tenantID, operation); err != nil {
		return false, err
	}
	return affected > 0, nil
}

// FindCampaignMessage finds a campaign message by id within a tenant.
func (r *PostgresRepo) FindCampaignMessage(ctx context.Context, tenantID, id string) (*model.CampaignMessage, error) {
	var message model.CampaignMessage
	operation := func() error {
		return checkConstraintViolation(r.db.WithContext(ctx).Where("id = ? AND tenant_id = ?", id, tenantID).First(&message).Error)
	}

	if err := observe(ctx, readRetryMaxElapsedTime, "find", "campaign_message", tenantID, operation); err != nil {
		return nil, err
	}
	return &message, nil
}

// TransitionCampaignMessage applies update only when the message is in one of the from statuses.
// With no from statuses given, any non-terminal status qualifies.
func (r *PostgresRepo) TransitionCampaignMessage(ctx context.Context, tenantID, id string, update model.MessageUpdate, from ...model.MessageStatus) (bool, error) {
	if len(from) == 0 {
		from = []model.MessageStatus{model.MessagePending, model.MessageQueued}
	}
	values := map[string]interface{}{
		"status":     update.Status,
		"updated_at": utils.Now(),
	}
	if update.ErrorKind != "" {
		values["error_kind"] = update.ErrorKind
	}
	if update.ErrorMessage != "" {
		values["error_message"] = update.ErrorMessage
	}
	if update.TransportMessageID != "" {
		values["transport_message_id"] = update.TransportMessageID
	}
	if update.SentAt != nil {
		values["sent_at"] = *update.SentAt
	}

	var affected int64
	operation := func() error {
		result := r.db.WithContext(ctx).Model(&model.CampaignMessage{}).
			Where("id = ? AND tenant_id = ? AND status IN ?", id, tenantID, statusStrings(from)).
			Updates(values)
		affected = result.RowsAffected
		return checkConstraintViolation(result.Error)
	}

	if err := observe(ctx, commitRetryMaxElapsedTime, "transition", "campaign_message", tenantID, operation); err != nil {
		logger.FromContext(ctx).Error("Failed to transition campaign message",
			zap.String("message_id", id),
			zap.String("status", string(update.Status)),
			zap.Error(err))
		return false, err
	}
	return affected > 0, nil
}

// IncrementCampaignMessageRetry bumps the retry count and records the last error.
func (r *PostgresRepo) IncrementCampaignMessageRetry(ctx context.Context, tenantID, id string, kind model.ErrorKind, errMsg string) (int, error) {
	var retryCount int
	operation := func() error {
		return r.inTx(ctx, func(tx *gorm.DB) error {
			var existing model.CampaignMessage
			if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("id = ? AND tenant_id = ?", id, tenantID).
				First(&existing).Error; err != nil {
				return checkConstraintViolation(err)
			}

			retryCount = existing.RetryCount + 1
			result := tx.Model(&existing).Updates(map[string]interface{}{
				"retry_count":   retryCount,
				"error_kind":    kind,
				"error_message": errMsg,
				"updated_at":    utils.Now(),
			})
			return checkConstraintViolation(result.Error)
		})
	}

	if err := observe(ctx, commitRetryMaxElapsedTime, "retry", "campaign_message", tenantID, operation); err != nil {
		return 0, err
	}
	return retryCount, nil
}

// RecordCampaignOutcome applies one settled message to the campaign counters under a row lock.
// It reports whether this call completed the campaign.
func (r *PostgresRepo) RecordCampaignOutcome(ctx context.Context, tenantID, id string, outcome model.CampaignOutcome, at time.Time) (*model.Campaign, bool, error) {
	var (
		campaign  model.Campaign
		completed bool
	)
	operation := func() error {
		completed = false
		return r.inTx(ctx, func(tx *gorm.DB) error {
			if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("id = ? AND tenant_id = ?", id, tenantID).
				First(&campaign).Error; err != nil {
				return checkConstraintViolation(err)
			}

			completed = applyCampaignOutcome(&campaign, outcome, at)
			values := map[string]interface{}{
				"sent_count":    campaign.SentCount,
				"failed_count":  campaign.FailedCount,
				"invalid_count": campaign.InvalidCount,
				"pending_count": campaign.PendingCount,
				"status":        campaign.Status,
				"completed_at":  campaign.CompletedAt,
				"updated_at":    at,
			}
			return checkConstraintViolation(tx.Model(&model.Campaign{}).Where("id = ?", campaign.ID).Updates(values).Error)
		})
	}

	if err := observe(ctx, commitRetryMaxElapsedTime, "record_outcome", "campaign", tenantID, operation); err != nil {
		logger.FromContext(ctx).Error("Failed to record campaign outcome", zap.String("campaign_id", id), zap.Error(err))
		return nil, false, err
	}
	return &campaign, completed, nil
}

// applyCampaignOutcome mutates c with one outcome and reports whether it completed the campaign.
func applyCampaignOutcome(c *model.Campaign, outcome model.CampaignOutcome, at time.Time) bool {
	c.SentCount += outcome.Sent
	c.FailedCount += outcome.Failed
	c.InvalidCount += outcome.Invalid
	if c.PendingCount > 0 {
		c.PendingCount--
	}
	c.UpdatedAt = at

	if c.PendingCount > 0 || c.Status != model.CampaignProcessing {
		return false
	}
	if c.SentCount > 0 {
		c.Status = model.CampaignCompleted
	} else {
		c.Status = model.CampaignFailed
	}
	completedAt := at
	c.CompletedAt = &completedAt
	return true
}

// ListSentCampaignMessages returns the SENT messages of a campaign ordered by send time.
func (r *PostgresRepo) ListSentCampaignMessages(ctx context.Context, tenantID, campaignID string) ([]model.CampaignMessage, error) {
	var messages []model.CampaignMessage
	operation := func() error {
		result := r.db.WithContext(ctx).
			Where("campaign_id = ? AND tenant_id = ? AND status = ?", campaignID, tenantID, model.MessageSent).
			Order("sent_at ASC").
			Find(&messages)
		return checkConstraintViolation(result.Error)
	}

	if err := observe(ctx, readRetryMaxElapsedTime, "list_sent", "campaign_message", tenantID, operation); err != nil {
		return nil, fmt.Errorf("list sent messages of campaign %s: %w", campaignID, err)
	}
	return messages, nil
}
