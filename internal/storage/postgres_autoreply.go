package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm/clause"

	"github.com/Linggaept/backend-waspread-sub001/internal/apperrors"
	"github.com/Linggaept/backend-waspread-sub001/internal/model"
	"github.com/Linggaept/backend-waspread-sub001/internal/validator"
	"github.com/Linggaept/backend-waspread-sub001/pkg/utils"
)

// CreateAutoReplyLog stores one auto-reply decision.
func (r *PostgresRepo) CreateAutoReplyLog(ctx context.Context, log *model.AutoReplyLog) error {
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	operation := func() error {
		return checkConstraintViolation(r.db.WithContext(ctx).Create(log).Error)
	}
	return observe(ctx, commitRetryMaxElapsedTime, "create", "auto_reply_log", log.TenantID, operation)
}

// FindAutoReplyLog finds an auto-reply log by id within a tenant.
func (r *PostgresRepo) FindAutoReplyLog(ctx context.Context, tenantID, id string) (*model.AutoReplyLog, error) {
	var log model.AutoReplyLog
	operation := func() error {
		return checkConstraintViolation(r.db.WithContext(ctx).Where("id = ? AND tenant_id = ?", id, tenantID).First(&log).Error)
	}

	if err := observe(ctx, readRetryMaxElapsedTime, "find", "auto_reply_log", tenantID, operation); err != nil {
		return nil, err
	}
	return &log, nil
}

// CompleteAutoReplyLog moves a QUEUED log to its final status.
func (r *PostgresRepo) CompleteAutoReplyLog(ctx context.Context, tenantID, id string, update model.AutoReplyUpdate) (bool, error) {
	values := map[string]interface{}{
		"status":        update.Status,
		"reply_text":    update.ReplyText,
		"cost_units":    update.CostUnits,
		"used_fallback": update.UsedFallback,
		"updated_at":    utils.Now(),
	}
	if update.TransportMessageID != "" {
		values["transport_message_id"] = update.TransportMessageID
	}
	if update.ErrorMessage != "" {
		values["error_message"] = update.ErrorMessage
	}
	if update.SentAt != nil {
		values["sent_at"] = *update.SentAt
	}

	var affected int64
	operation := func() error {
		result := r.db.WithContext(ctx).Model(&model.AutoReplyLog{}).
			Where("id = ? AND tenant_id = ? AND status = ?", id, tenantID, model.AutoReplyQueued).
			Updates(values)
		affected = result.RowsAffected
		return checkConstraintViolation(result.Error)
	}

	if err := observe(ctx, commitRetryMaxElapsedTime, "complete", "auto_reply_log", tenantID, operation); err != nil {
		return false, err
	}
	return affected > 0, nil
}

// LastAutoReplySentAt returns when the phone last received a SENT auto-reply, or nil.
func (r *PostgresRepo) LastAutoReplySentAt(ctx context.Context, tenantID, phone string) (*time.Time, error) {
	var log model.AutoReplyLog
	operation := func() error {
		result := r.db.WithContext(ctx).
			Where("tenant_id = ? AND phone = ? AND status = ?", tenantID, phone, model.AutoReplySent).
			Order("sent_at DESC").
			First(&log)
		return checkConstraintViolation(result.Error)
	}

	if err := observe(ctx, readRetryMaxElapsedTime, "last_sent", "auto_reply_log", tenantID, operation); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return log.SentAt, nil
}

// GetAutoReplySettings returns the tenant's auto-reply settings.
func (r *PostgresRepo) GetAutoReplySettings(ctx context.Context, tenantID string) (*model.AutoReplySettings, error) {
	var settings model.AutoReplySettings
	operation := func() error {
		return checkConstraintViolation(r.db.WithContext(ctx).Where("tenant_id = ?", tenantID).First(&settings).Error)
	}

	if err := observe(ctx, readRetryMaxElapsedTime, "find", "auto_reply_settings", tenantID, operation); err != nil {
		return nil, err
	}
	return &settings, nil
}

// SaveAutoReplySettings upserts the tenant's auto-reply settings.
func (r *PostgresRepo) SaveAutoReplySettings(ctx context.Context, settings *model.AutoReplySettings) error {
	if err := validator.Validate(settings); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrValidation, err)
	}
	settings.UpdatedAt = utils.Now()
	operation := func() error {
		result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tenant_id"}},
			UpdateAll: true,
		}).Create(settings)
		return checkConstraintViolation(result.Error)
	}
	return observe(ctx, commitRetryMaxElapsedTime, "upsert", "auto_reply_settings", settings.TenantID, operation)
}

// GetFunnelSettings returns the tenant's keyword overrides.
func (r *PostgresRepo) GetFunnelSettings(ctx context.Context, tenantID string) (*model.FunnelSettings, error) {
	var settings model.FunnelSettings
	operation := func() error {
		return checkConstraintViolation(r.db.WithContext(ctx).Where("tenant_id = ?", tenantID).First(&settings).Error)
	}

	if err := observe(ctx, readRetryMaxElapsedTime, "find", "funnel_settings", tenantID, operation); err != nil {
		return nil, err
	}
	return &settings, nil
}

// SaveFunnelSettings upserts the tenant's keyword overrides.
func (r *PostgresRepo) SaveFunnelSettings(ctx context.Context, settings *model.FunnelSettings) error {
	settings.UpdatedAt = utils.Now()
	operation := func() error {
		result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tenant_id"}},
			UpdateAll: true,
		}).Create(settings)
		return checkConstraintViolation(result.Error)
	}
	return observe(ctx, commitRetryMaxElapsedTime, "upsert", "funnel_settings", settings.TenantID, operation)
}
