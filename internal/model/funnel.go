package model

import (
	"time"

	"gorm.io/datatypes"
)

// Stage is a step of the conversation funnel.
type Stage string

const (
	StageBlastSent   Stage = "BLAST_SENT"
	StageDelivered   Stage = "DELIVERED"
	StageReplied     Stage = "REPLIED"
	StageInterested  Stage = "INTERESTED"
	StageNegotiating Stage = "NEGOTIATING"
	StageClosedWon   Stage = "CLOSED_WON"
	StageClosedLost  Stage = "CLOSED_LOST"
)

var stageRanks = map[Stage]int{
	StageBlastSent:   1,
	StageDelivered:   2,
	StageReplied:     3,
	StageInterested:  4,
	StageNegotiating: 5,
	StageClosedWon:   6,
}

// Rank is the position of the stage in the forward order.
// CLOSED_LOST sits outside the order and ranks 0, as does any unknown value.
func (s Stage) Rank() int {
	return stageRanks[s]
}

// IsTerminal reports whether the stage is absorbing.
func (s Stage) IsTerminal() bool {
	return s == StageClosedWon || s == StageClosedLost
}

// IsValid reports whether s is a known stage.
func (s Stage) IsValid() bool {
	return s == StageClosedLost || s.Rank() > 0
}

// StageTransition is one immutable history entry.
type StageTransition struct {
	Stage     Stage     `json:"stage"`
	EnteredAt time.Time `json:"entered_at"`
	Trigger   string    `json:"trigger"`
}

// ConversationFunnel tracks one phone number of one tenant through the sales funnel.
type ConversationFunnel struct {
	ID            string                               `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID      string                               `gorm:"type:varchar(64);not null;uniqueIndex:idx_funnel_tenant_phone" json:"tenant_id"`
	Phone         string                               `gorm:"type:varchar(32);not null;uniqueIndex:idx_funnel_tenant_phone" json:"phone"`
	Stage         Stage                                `gorm:"type:varchar(20);not null;index" json:"stage"`
	CampaignID    string                               `gorm:"type:varchar(64)" json:"campaign_id,omitempty"`
	CampaignName  string                               `gorm:"type:varchar(255)" json:"campaign_name,omitempty"`
	BlastSentAt   *time.Time                           `json:"blast_sent_at,omitempty"`
	DeliveredAt   *time.Time                           `json:"delivered_at,omitempty"`
	RepliedAt     *time.Time                           `json:"replied_at,omitempty"`
	InterestedAt  *time.Time                           `json:"interested_at,omitempty"`
	NegotiatingAt *time.Time                           `json:"negotiating_at,omitempty"`
	ClosedAt      *time.Time                           `json:"closed_at,omitempty"`
	LastInboundAt *time.Time                           `json:"last_inbound_at,omitempty"`
	DealValue     *float64                             `gorm:"type:numeric(18,2)" json:"deal_value,omitempty"`
	CloseReason   string                               `gorm:"type:varchar(255)" json:"close_reason,omitempty"`
	History       datatypes.JSONSlice[StageTransition] `gorm:"type:jsonb" json:"history"`
	CreatedAt     time.Time                            `json:"created_at"`
	UpdatedAt     time.Time                            `gorm:"index" json:"updated_at"`
}

// TableName specifies the table name for the ConversationFunnel model.
func (ConversationFunnel) TableName() string {
	return "conversation_funnels"
}

// StageAt returns the timestamp at which the funnel entered the given stage, if it did.
func (f *ConversationFunnel) StageAt(s Stage) *time.Time {
	switch s {
	case StageBlastSent:
		return f.BlastSentAt
	case StageDelivered:
		return f.DeliveredAt
	case StageReplied:
		return f.RepliedAt
	case StageInterested:
		return f.InterestedAt
	case StageNegotiating:
		return f.NegotiatingAt
	case StageClosedWon, StageClosedLost:
		return f.ClosedAt
	}
	return nil
}

// Enter moves the funnel to s, stamps the stage timestamp and appends a history entry.
// It does not check ordering.
func (f *ConversationFunnel) Enter(s Stage, at time.Time, trigger string) {
	ts := at
	switch s {
	case StageBlastSent:
		f.BlastSentAt = &ts
	case StageDelivered:
		f.DeliveredAt = &ts
	case StageReplied:
		f.RepliedAt = &ts
	case StageInterested:
		f.InterestedAt = &ts
	case StageNegotiating:
		f.NegotiatingAt = &ts
	case StageClosedWon, StageClosedLost:
		f.ClosedAt = &ts
	}
	f.Stage = s
	f.History = append(f.History, StageTransition{Stage: s, EnteredAt: at, Trigger: trigger})
	f.UpdatedAt = at
}

// FunnelSettings carries per-tenant keyword overrides for stage detection.
// An empty list means the default table is used for that stage.
type FunnelSettings struct {
	TenantID            string                      `gorm:"type:varchar(64);primaryKey" json:"tenant_id"`
	ClosedWonKeywords   datatypes.JSONSlice[string] `gorm:"type:jsonb" json:"closed_won_keywords"`
	ClosedLostKeywords  datatypes.JSONSlice[string] `gorm:"type:jsonb" json:"closed_lost_keywords"`
	NegotiatingKeywords datatypes.JSONSlice[string] `gorm:"type:jsonb" json:"negotiating_keywords"`
	InterestedKeywords  datatypes.JSONSlice[string] `gorm:"type:jsonb" json:"interested_keywords"`
	UpdatedAt           time.Time                   `json:"updated_at"`
}

// TableName specifies the table name for the FunnelSettings model.
func (FunnelSettings) TableName() string {
	return "funnel_settings"
}
