package storage

import (
	"context"
	"time"

	"github.com/Linggaept/backend-waspread-sub001/internal/model"
)

// CampaignRepo defines campaign and campaign message storage operations.
// Guarded transitions return false without error when the row is not in one of the
// expected states.
type CampaignRepo interface {
	CreateCampaign(ctx context.Context, campaign *model.Campaign, messages []*model.CampaignMessage) error
	FindCampaign(ctx context.Context, tenantID, id string) (*model.Campaign, error)
	StartCampaign(ctx context.Context, tenantID, id string, at time.Time) (bool, error)
	CancelCampaign(ctx context.Context, tenantID, id string) (bool, error)
	FindCampaignMessage(ctx context.Context, tenantID, id string) (*model.CampaignMessage, error)
	TransitionCampaignMessage(ctx context.Context, tenantID, id string, update model.MessageUpdate, from ...model.MessageStatus) (bool, error)
	IncrementCampaignMessageRetry(ctx context.Context, tenantID, id string, kind model.ErrorKind, errMsg string) (int, error)
	// RecordCampaignOutcome applies the counter delta of one settled message, releases one
	// pending slot and completes a PROCESSING campaign once nothing is pending.
	RecordCampaignOutcome(ctx context.Context, tenantID, id string, outcome model.CampaignOutcome, at time.Time) (*model.Campaign, bool, error)
	ListSentCampaignMessages(ctx context.Context, tenantID, campaignID string) ([]model.CampaignMessage, error)
}

// FollowupRepo defines follow-up campaign and follow-up message storage operations.
type FollowupRepo interface {
	CreateFollowupCampaign(ctx context.Context, campaign *model.FollowupCampaign) error
	FindFollowupCampaign(ctx context.Context, tenantID, id string) (*model.FollowupCampaign, error)
	ListRunnableFollowupCampaigns(ctx context.Context) ([]model.FollowupCampaign, error)
	SetFollowupCampaignStatus(ctx context.Context, tenantID, id string, status model.FollowupCampaignStatus, from ...model.FollowupCampaignStatus) (bool, error)
	IncrementFollowupCounters(ctx context.Context, tenantID, id string, delta model.FollowupCounters) error
	// DeleteFollowupCampaign soft-deletes the campaign and cancels its non-terminal messages.
	DeleteFollowupCampaign(ctx context.Context, tenantID, id string) (int64, error)
	ListFollowupMessages(ctx context.Context, tenantID, followupCampaignID string) ([]model.FollowupMessage, error)
	// CreateFollowupMessage returns false when the (campaign, recipient, step) row already exists.
	CreateFollowupMessage(ctx context.Context, message *model.FollowupMessage) (bool, error)
	// FindDueFollowupMessages only returns rows of runnable campaigns.
	FindDueFollowupMessages(ctx context.Context, now time.Time, limit int) ([]model.FollowupMessage, error)
	FindFollowupMessage(ctx context.Context, tenantID, id string) (*model.FollowupMessage, error)
	TransitionFollowupMessage(ctx context.Context, tenantID, id string, update model.FollowupUpdate, from ...model.FollowupStatus) (bool, error)
	IncrementFollowupMessageRetry(ctx context.Context, tenantID, id string, errMsg string) (int, error)
}

// ContactFollowupRepo defines ad-hoc follow-up storage operations.
type ContactFollowupRepo interface {
	CreateContactFollowup(ctx context.Context, followup *model.ContactFollowup) error
	FindContactFollowup(ctx context.Context, tenantID, id string) (*model.ContactFollowup, error)
	FindDueContactFollowups(ctx context.Context, now time.Time, limit int) ([]model.ContactFollowup, error)
	TransitionContactFollowup(ctx context.Context, tenantID, id string, update model.ContactFollowupUpdate, from ...model.ContactFollowupStatus) (bool, error)
	IncrementContactFollowupRetry(ctx context.Context, tenantID, id string, errMsg string) (int, error)
}

// FunnelRepo defines conversation funnel storage operations.
type FunnelRepo interface {
	FindFunnel(ctx context.Context, tenantID, phone string) (*model.ConversationFunnel, error)
	// CreateFunnel returns apperrors.ErrDuplicate when the (tenant, phone) row already exists.
	CreateFunnel(ctx context.Context, funnel *model.ConversationFunnel) error
	// CompareAndSwapFunnel persists the stage fields of funnel only if the stored stage still
	// equals expected.
	CompareAndSwapFunnel(ctx context.Context, funnel *model.ConversationFunnel, expected model.Stage) (bool, error)
	TouchFunnelInbound(ctx context.Context, tenantID, phone string, at time.Time) error
	FindStaleFunnels(ctx context.Context, updatedBefore time.Time, limit int) ([]model.ConversationFunnel, error)
}

// AutoReplyRepo defines auto-reply log storage operations.
type AutoReplyRepo interface {
	CreateAutoReplyLog(ctx context.Context, log *model.AutoReplyLog) error
	FindAutoReplyLog(ctx context.Context, tenantID, id string) (*model.AutoReplyLog, error)
	// CompleteAutoReplyLog moves a QUEUED log to SENT or FAILED.
	CompleteAutoReplyLog(ctx context.Context, tenantID, id string, update model.AutoReplyUpdate) (bool, error)
	LastAutoReplySentAt(ctx context.Context, tenantID, phone string) (*time.Time, error)
}

// SettingsRepo defines per-tenant settings storage operations.
// Getters return apperrors.ErrNotFound when the tenant has no row.
type SettingsRepo interface {
	GetAutoReplySettings(ctx context.Context, tenantID string) (*model.AutoReplySettings, error)
	SaveAutoReplySettings(ctx context.Context, settings *model.AutoReplySettings) error
	GetFunnelSettings(ctx context.Context, tenantID string) (*model.FunnelSettings, error)
	SaveFunnelSettings(ctx context.Context, settings *model.FunnelSettings) error
}

// ExhaustedJobRepo defines exhausted job storage operations
type ExhaustedJobRepo interface {
	SaveExhaustedJob(ctx context.Context, job model.ExhaustedJob) error
}

// Store bundles every repository. Both the postgres and in-memory stores satisfy it.
type Store interface {
	CampaignRepo
	FollowupRepo
	ContactFollowupRepo
	FunnelRepo
	AutoReplyRepo
	SettingsRepo
	ExhaustedJobRepo
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}
