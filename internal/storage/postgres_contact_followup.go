package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Linggaept/backend-waspread-sub001/internal/model"
	"github.com/Linggaept/backend-waspread-sub001/pkg/utils"
)

// CreateContactFollowup stores a new ad-hoc follow-up.
func (r *PostgresRepo) CreateContactFollowup(ctx context.Context, followup *model.ContactFollowup) error {
	if followup.ID == "" {
		followup.ID = uuid.NewString()
	}
	operation := func() error {
		return checkConstraintViolation(r.db.WithContext(ctx).Create(followup).Error)
	}
	return observe(ctx, commitRetryMaxElapsedTime, "create", "contact_followup", followup.TenantID, operation)
}

// FindContactFollowup finds an ad-hoc follow-up by id within a tenant.
func (r *PostgresRepo) FindContactFollowup(ctx context.Context, tenantID, id string) (*model.ContactFollowup, error) {
	var followup model.ContactFollowup
	operation := func() error {
		return checkConstraintViolation(r.db.WithContext(ctx).Where("id = ? AND tenant_id = ?", id, tenantID).First(&followup).Error)
	}

	if err := observe(ctx, readRetryMaxElapsedTime, "find", "contact_followup", tenantID, operation); err != nil {
		return nil, err
	}
	return &followup, nil
}

// FindDueContactFollowups returns up to limit SCHEDULED follow-ups due at or before now.
func (r *PostgresRepo) FindDueContactFollowups(ctx context.Context, now time.Time, limit int) ([]model.ContactFollowup, error) {
	var followups []model.ContactFollowup
	operation := func() error {
		result := r.db.WithContext(ctx).
			Where("status = ? AND scheduled_at <= ?", model.ContactFollowupScheduled, now).
			Order("scheduled_at ASC").
			Limit(limit).
			Find(&followups)
		return checkConstraintViolation(result.Error)
	}

	if err := observe(ctx, readRetryMaxElapsedTime, "find_due", "contact_followup", "", operation); err != nil {
		return nil, err
	}
	return followups, nil
}

// TransitionContactFollowup applies update only when the row is in one of the from statuses.
func (r *PostgresRepo) TransitionContactFollowup(ctx context.Context, tenantID, id string, update model.ContactFollowupUpdate, from ...model.ContactFollowupStatus) (bool, error) {
	if len(from) == 0 {
		from = []model.ContactFollowupStatus{model.ContactFollowupScheduled, model.ContactFollowupQueued}
	}
	values := map[string]interface{}{
		"status":     update.Status,
		"updated_at": utils.Now(),
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
		result := r.db.WithContext(ctx).Model(&model.ContactFollowup{}).
			Where("id = ? AND tenant_id = ? AND status IN ?", id, tenantID, statusStrings(from)).
			Updates(values)
		affected = result.RowsAffected
		return checkConstraintViolation(result.Error)
	}

	if err := observe(ctx, commitRetryMaxElapsedTime, "transition", "contact_followup", tenantID, operation); err != nil {
		return false, err
	}
	return affected > 0, nil
}

// IncrementContactFollowupRetry bumps the retry count and records the last error.
func (r *PostgresRepo) IncrementContactFollowupRetry(ctx context.Context, tenantID, id string, errMsg string) (int, error) {
	var retryCount int
	operation := func() error {
		return r.inTx(ctx, func(tx *gorm.DB) error {
			var existing model.ContactFollowup
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

	if err := observe(ctx, commitRetryMaxElapsedTime, "retry", "contact_followup", tenantID, operation); err != nil {
		return 0, err
	}
	return retryCount, nil
}
