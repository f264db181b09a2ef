package model

import (
	"time"
)

// CampaignStatus is the lifecycle state of a bulk send.
type CampaignStatus string

const (
	CampaignPending    CampaignStatus = "PENDING"
	CampaignProcessing CampaignStatus = "PROCESSING"
	CampaignCompleted  CampaignStatus = "COMPLETED"
	CampaignCancelled  CampaignStatus = "CANCELLED"
	CampaignFailed     CampaignStatus = "FAILED"
)

// IsTerminal reports whether no further transition is allowed.
func (s CampaignStatus) IsTerminal() bool {
	return s == CampaignCompleted || s == CampaignCancelled || s == CampaignFailed
}

// MessageStatus is the per-recipient send state.
type MessageStatus string

const (
	MessagePending       MessageStatus = "PENDING"
	MessageQueued        MessageStatus = "QUEUED"
	MessageSent          MessageStatus = "SENT"
	MessageFailed        MessageStatus = "FAILED"
	MessageCancelled     MessageStatus = "CANCELLED"
	MessageInvalidNumber MessageStatus = "INVALID_NUMBER"
)

// IsTerminal reports whether the message has reached a final state.
func (s MessageStatus) IsTerminal() bool {
	switch s {
	case MessageSent, MessageFailed, MessageCancelled, MessageInvalidNumber:
		return true
	}
	return false
}

// ErrorKind classifies why a send did not succeed.
type ErrorKind string

const (
	ErrorKindNone          ErrorKind = "NONE"
	ErrorKindInvalidNumber ErrorKind = "INVALID_NUMBER"
	ErrorKindNetwork       ErrorKind = "NETWORK_ERROR"
	ErrorKindSession       ErrorKind = "SESSION_ERROR"
	ErrorKindRateLimited   ErrorKind = "RATE_LIMITED"
	ErrorKindUnknown       ErrorKind = "UNKNOWN"
)

// Campaign is a bulk send of one template to many recipients.
type Campaign struct {
	ID              string         `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID        string         `gorm:"type:varchar(64);not null;index" json:"tenant_id"`
	Name            string         `gorm:"type:varchar(255)" json:"name"`
	MessageTemplate string         `gorm:"type:text;not null" json:"message_template"`
	ImageURL        string         `gorm:"type:text" json:"image_url,omitempty"`
	RecipientCount  int            `gorm:"not null;default:0" json:"recipient_count"`
	DelayMs         int            `gorm:"not null;default:0" json:"delay_ms"`
	Status          CampaignStatus `gorm:"type:varchar(20);not null;index" json:"status"`
	SentCount       int            `gorm:"not null;default:0" json:"sent_count"`
	FailedCount     int            `gorm:"not null;default:0" json:"failed_count"`
	InvalidCount    int            `gorm:"not null;default:0" json:"invalid_count"`
	PendingCount    int            `gorm:"not null;default:0" json:"pending_count"`
	StartedAt       *time.Time     `json:"started_at,omitempty"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty"`
	CreatedAt       time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName specifies the table name for the Campaign model.
func (Campaign) TableName() string {
	return "campaigns"
}

// CampaignMessage is one recipient of a campaign.
type CampaignMessage struct {
	ID                 string        `gorm:"type:uuid;primaryKey" json:"id"`
	CampaignID         string        `gorm:"type:uuid;not null;index" json:"campaign_id"`
	TenantID           string        `gorm:"type:varchar(64);not null;index" json:"tenant_id"`
	Phone              string        `gorm:"type:varchar(32);not null" json:"phone"`
	RecipientName      string        `gorm:"type:varchar(255)" json:"recipient_name,omitempty"`
	Status             MessageStatus `gorm:"type:varchar(20);not null;index" json:"status"`
	RetryCount         int           `gorm:"not null;default:0" json:"retry_count"`
	ErrorKind          ErrorKind     `gorm:"type:varchar(20);not null;default:'NONE'" json:"error_kind"`
	ErrorMessage       string        `gorm:"type:text" json:"error_message,omitempty"`
	TransportMessageID string        `gorm:"type:varchar(128)" json:"transport_message_id,omitempty"`
	SentAt             *time.Time    `json:"sent_at,omitempty"`
	CreatedAt          time.Time     `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time     `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName specifies the table name for the CampaignMessage model.
func (CampaignMessage) TableName() string {
	return "campaign_messages"
}

// CampaignOutcome is the counter delta applied when one message settles.
// Every outcome releases exactly one pending slot.
type CampaignOutcome struct {
	Sent    int
	Failed  int
	Invalid int
}

// OutcomeFor maps a terminal message status to its counter delta.
func OutcomeFor(status MessageStatus) CampaignOutcome {
	switch status {
	case MessageSent:
		return CampaignOutcome{Sent: 1}
	case MessageFailed:
		return CampaignOutcome{Failed: 1}
	case MessageInvalidNumber:
		return CampaignOutcome{Invalid: 1}
	}
	return CampaignOutcome{}
}

// MessageUpdate is a guarded status change of a campaign message.
type MessageUpdate struct {
	Status             MessageStatus
	ErrorKind          ErrorKind
	ErrorMessage       string
	TransportMessageID string
	SentAt             *time.Time
}
