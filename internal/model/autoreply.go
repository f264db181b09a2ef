package model

import (
	"time"

	"gorm.io/datatypes"
)

// AutoReplyStatus is the state of one auto-reply decision.
type AutoReplyStatus string

const (
	AutoReplyQueued  AutoReplyStatus = "QUEUED"
	AutoReplySent    AutoReplyStatus = "SENT"
	AutoReplyFailed  AutoReplyStatus = "FAILED"
	AutoReplySkipped AutoReplyStatus = "SKIPPED"
)

// IsTerminal reports whether the log row can no longer change.
func (s AutoReplyStatus) IsTerminal() bool {
	return s != AutoReplyQueued
}

// Skip reasons recorded on SKIPPED auto-reply logs, in gate order.
const (
	SkipReasonDisabled            = "disabled"
	SkipReasonInsufficientBalance = "insufficient_balance"
	SkipReasonOutsideWorkingHours = "outside_working_hours"
	SkipReasonBlocked             = "blocked"
	SkipReasonCooldown            = "cooldown"
)

// AutoReplyLog records the decision taken for one inbound message.
type AutoReplyLog struct {
	ID                 string          `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID           string          `gorm:"type:varchar(64);not null;index:idx_autoreply_last_sent,priority:1" json:"tenant_id"`
	Phone              string          `gorm:"type:varchar(32);not null;index:idx_autoreply_last_sent,priority:2" json:"phone"`
	InboundMessageID   string          `gorm:"type:varchar(128)" json:"inbound_message_id,omitempty"`
	InboundText        string          `gorm:"type:text" json:"inbound_text,omitempty"`
	HasMedia           bool            `gorm:"not null;default:false" json:"has_media"`
	Status             AutoReplyStatus `gorm:"type:varchar(20);not null;index:idx_autoreply_last_sent,priority:3" json:"status"`
	SkipReason         string          `gorm:"type:varchar(64)" json:"skip_reason,omitempty"`
	DelaySeconds       int             `gorm:"not null;default:0" json:"delay_seconds"`
	EstimatedCost      float64         `gorm:"not null;default:0" json:"estimated_cost"`
	ReplyText          string          `gorm:"type:text" json:"reply_text,omitempty"`
	CostUnits          float64         `gorm:"not null;default:0" json:"cost_units"`
	UsedFallback       bool            `gorm:"not null;default:false" json:"used_fallback"`
	TransportMessageID string          `gorm:"type:varchar(128)" json:"transport_message_id,omitempty"`
	ErrorMessage       string          `gorm:"type:text" json:"error_message,omitempty"`
	SentAt             *time.Time      `gorm:"index:idx_autoreply_last_sent,priority:4" json:"sent_at,omitempty"`
	CreatedAt          time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName specifies the table name for the AutoReplyLog model.
func (AutoReplyLog) TableName() string {
	return "auto_reply_logs"
}

// AutoReplyUpdate is the worker's guarded QUEUED -> SENT/FAILED change.
type AutoReplyUpdate struct {
	Status             AutoReplyStatus
	ReplyText          string
	CostUnits          float64
	UsedFallback       bool
	TransportMessageID string
	ErrorMessage       string
	SentAt             *time.Time
}

// AutoReplySettings is the per-tenant auto-reply configuration.
type AutoReplySettings struct {
	TenantID            string                      `gorm:"type:varchar(64);primaryKey" json:"tenant_id" validate:"required"`
	Enabled             bool                        `gorm:"not null;default:false" json:"enabled"`
	WorkingHoursEnabled bool                        `gorm:"not null;default:false" json:"working_hours_enabled"`
	WorkingHoursStart   string                      `gorm:"type:varchar(5)" json:"working_hours_start" validate:"required_if=WorkingHoursEnabled true,omitempty,clock"`
	WorkingHoursEnd     string                      `gorm:"type:varchar(5)" json:"working_hours_end" validate:"required_if=WorkingHoursEnabled true,omitempty,clock"`
	Timezone            string                      `gorm:"type:varchar(64)" json:"timezone" validate:"omitempty,timezone"`
	Blocklist           datatypes.JSONSlice[string] `gorm:"type:jsonb" json:"blocklist"`
	CooldownMinutes     int                         `gorm:"not null;default:0" json:"cooldown_minutes" validate:"gte=0"`
	DelayMinSeconds     int                         `gorm:"not null;default:0" json:"delay_min_seconds" validate:"gte=0"`
	DelayMaxSeconds     int                         `gorm:"not null;default:0" json:"delay_max_seconds" validate:"gtefield=DelayMinSeconds"`
	FallbackMessage     string                      `gorm:"type:text" json:"fallback_message"`
	TextCost            *float64                    `json:"text_cost,omitempty"`
	ImageCost           *float64                    `json:"image_cost,omitempty"`
	UpdatedAt           time.Time                   `json:"updated_at"`
}

// TableName specifies the table name for the AutoReplySettings model.
func (AutoReplySettings) TableName() string {
	return "auto_reply_settings"
}
