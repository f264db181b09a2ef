package model

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// TriggerCondition is the predicate a recipient must satisfy to receive follow-ups.
type TriggerCondition string

const (
	TriggerNoReply          TriggerCondition = "NO_REPLY"
	TriggerStageReplied     TriggerCondition = "STAGE_REPLIED"
	TriggerStageInterested  TriggerCondition = "STAGE_INTERESTED"
	TriggerStageNegotiating TriggerCondition = "STAGE_NEGOTIATING"
)

// Stage returns the funnel stage a stage-based trigger waits for.
func (t TriggerCondition) Stage() (Stage, bool) {
	switch t {
	case TriggerStageReplied:
		return StageReplied, true
	case TriggerStageInterested:
		return StageInterested, true
	case TriggerStageNegotiating:
		return StageNegotiating, true
	}
	return "", false
}

// FollowupCampaignStatus is the lifecycle of a follow-up campaign.
type FollowupCampaignStatus string

const (
	FollowupCampaignActive    FollowupCampaignStatus = "ACTIVE"
	FollowupCampaignPaused    FollowupCampaignStatus = "PAUSED"
	FollowupCampaignCompleted FollowupCampaignStatus = "COMPLETED"
)

// FollowupStep is one message in a follow-up sequence.
type FollowupStep struct {
	StepNumber int    `json:"step_number" validate:"required,gte=1"`
	Message    string `json:"message" validate:"required"`
	DelayHours int    `json:"delay_hours" validate:"gte=1"`
}

// FollowupCampaign schedules conditional messages after an originating campaign.
type FollowupCampaign struct {
	ID                 string                            `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID           string                            `gorm:"type:varchar(64);not null;index" json:"tenant_id"`
	OriginalCampaignID string                            `gorm:"type:uuid;not null;index" json:"original_campaign_id"`
	Name               string                            `gorm:"type:varchar(255)" json:"name"`
	Trigger            TriggerCondition                  `gorm:"type:varchar(32);not null" json:"trigger"`
	Steps              datatypes.JSONSlice[FollowupStep] `gorm:"type:jsonb;not null" json:"steps"`
	MaxFollowups       int                               `gorm:"not null;default:1" json:"max_followups"`
	IsActive           bool                              `gorm:"not null;default:true" json:"is_active"`
	Status             FollowupCampaignStatus            `gorm:"type:varchar(20);not null;index" json:"status"`
	TotalScheduled     int                               `gorm:"not null;default:0" json:"total_scheduled"`
	TotalSent          int                               `gorm:"not null;default:0" json:"total_sent"`
	TotalSkipped       int                               `gorm:"not null;default:0" json:"total_skipped"`
	TotalFailed        int                               `gorm:"not null;default:0" json:"total_failed"`
	TotalReplied       int                               `gorm:"not null;default:0" json:"total_replied"`
	CreatedAt          time.Time                         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time                         `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt          gorm.DeletedAt                    `gorm:"index" json:"-"`
}

// TableName specifies the table name for the FollowupCampaign model.
func (FollowupCampaign) TableName() string {
	return "followup_campaigns"
}

// Runnable reports whether the campaign should still produce and send messages.
func (c *FollowupCampaign) Runnable() bool {
	return c.IsActive && c.Status == FollowupCampaignActive
}

// StepLimit is the number of messages a single recipient can receive.
func (c *FollowupCampaign) StepLimit() int {
	if c.MaxFollowups < len(c.Steps) {
		return c.MaxFollowups
	}
	return len(c.Steps)
}

// FollowupCounters is a delta applied to the running totals of a follow-up campaign.
type FollowupCounters struct {
	Scheduled int
	Sent      int
	Skipped   int
	Failed    int
	Replied   int
}

// FollowupStatus is the state of one scheduled follow-up message.
type FollowupStatus string

const (
	FollowupScheduled FollowupStatus = "SCHEDULED"
	FollowupQueued    FollowupStatus = "QUEUED"
	FollowupSent      FollowupStatus = "SENT"
	FollowupFailed    FollowupStatus = "FAILED"
	FollowupSkipped   FollowupStatus = "SKIPPED"
	FollowupCancelled FollowupStatus = "CANCELLED"
)

// IsTerminal reports whether the follow-up has settled.
func (s FollowupStatus) IsTerminal() bool {
	switch s {
	case FollowupSent, FollowupFailed, FollowupSkipped, FollowupCancelled:
		return true
	}
	return false
}

// FollowupMessage is one materialized step for one recipient.
type FollowupMessage struct {
	ID                 string         `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID           string         `gorm:"type:varchar(64);not null;index" json:"tenant_id"`
	FollowupCampaignID string         `gorm:"type:uuid;not null;uniqueIndex:idx_followup_recipient_step" json:"followup_campaign_id"`
	CampaignMessageID  string         `gorm:"type:uuid;not null;uniqueIndex:idx_followup_recipient_step" json:"campaign_message_id"`
	Step               int            `gorm:"not null;uniqueIndex:idx_followup_recipient_step" json:"step"`
	Phone              string         `gorm:"type:varchar(32);not null" json:"phone"`
	Message            string         `gorm:"type:text;not null" json:"message"`
	Status             FollowupStatus `gorm:"type:varchar(20);not null;index:idx_followup_due,priority:1" json:"status"`
	TriggeredAt        time.Time      `gorm:"not null" json:"triggered_at"` // event the step delay counts from
	ScheduledAt        time.Time      `gorm:"not null;index:idx_followup_due,priority:2" json:"scheduled_at"`
	SentAt             *time.Time     `json:"sent_at,omitempty"`
	RetryCount         int            `gorm:"not null;default:0" json:"retry_count"`
	ErrorMessage       string         `gorm:"type:text" json:"error_message,omitempty"`
	SkipReason         string         `gorm:"type:varchar(64)" json:"skip_reason,omitempty"`
	TransportMessageID string         `gorm:"type:varchar(128)" json:"transport_message_id,omitempty"`
	CreatedAt          time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName specifies the table name for the FollowupMessage model.
func (FollowupMessage) TableName() string {
	return "followup_messages"
}

// FollowupUpdate is a guarded status change of a follow-up message.
type FollowupUpdate struct {
	Status             FollowupStatus
	ErrorMessage       string
	SkipReason         string
	TransportMessageID string
	SentAt             *time.Time
}

// ContactFollowupStatus is the state of an ad-hoc follow-up.
type ContactFollowupStatus string

const (
	ContactFollowupScheduled ContactFollowupStatus = "SCHEDULED"
	ContactFollowupQueued    ContactFollowupStatus = "QUEUED"
	ContactFollowupSent      ContactFollowupStatus = "SENT"
	ContactFollowupFailed    ContactFollowupStatus = "FAILED"
	ContactFollowupCancelled ContactFollowupStatus = "CANCELLED"
)

// IsTerminal reports whether the contact follow-up has settled.
func (s ContactFollowupStatus) IsTerminal() bool {
	return s == ContactFollowupSent || s == ContactFollowupFailed || s == ContactFollowupCancelled
}

// ContactFollowup is a single user-scheduled message with no campaign behind it.
type ContactFollowup struct {
	ID                 string                `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID           string                `gorm:"type:varchar(64);not null;index" json:"tenant_id"`
	Phone              string                `gorm:"type:varchar(32);not null" json:"phone"`
	Message            string                `gorm:"type:text;not null" json:"message"`
	Status             ContactFollowupStatus `gorm:"type:varchar(20);not null;index:idx_contact_followup_due,priority:1" json:"status"`
	ScheduledAt        time.Time             `gorm:"not null;index:idx_contact_followup_due,priority:2" json:"scheduled_at"`
	SentAt             *time.Time            `json:"sent_at,omitempty"`
	RetryCount         int                   `gorm:"not null;default:0" json:"retry_count"`
	ErrorMessage       string                `gorm:"type:text" json:"error_message,omitempty"`
	TransportMessageID string                `gorm:"type:varchar(128)" json:"transport_message_id,omitempty"`
	CreatedAt          time.Time             `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time             `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName specifies the table name for the ContactFollowup model.
func (ContactFollowup) TableName() string {
	return "contact_followups"
}

// ContactFollowupUpdate is a guarded status change of a contact follow-up.
type ContactFollowupUpdate struct {
	Status             ContactFollowupStatus
	ErrorMessage       string
	TransportMessageID string
	SentAt             *time.Time
}
