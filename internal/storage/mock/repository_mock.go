package mock

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/Linggaept/backend-waspread-sub001/internal/model"
	"github.com/Linggaept/backend-waspread-sub001/internal/storage"
)

// StoreMock mocks storage.Store.
type StoreMock struct {
	mock.Mock
}

var _ storage.Store = (*StoreMock)(nil)

// --- CampaignRepo ---

func (m *StoreMock) CreateCampaign(ctx context.Context, campaign *model.Campaign, messages []*model.CampaignMessage) error {
	args := m.Called(ctx, campaign, messages)
	return args.Error(0)
}

func (m *StoreMock) FindCampaign(ctx context.Context, tenantID, id string) (*model.Campaign, error) {
	args := m.Called(ctx, tenantID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Campaign), args.Error(1)
}

func (m *StoreMock) StartCampaign(ctx context.Context, tenantID, id string, at time.Time) (bool, error) {
	args := m.Called(ctx, tenantID, id, at)
	return args.Bool(0), args.Error(1)
}

func (m *StoreMock) CancelCampaign(ctx context.Context, tenantID, id string) (bool, error) {
	args := m.Called(ctx, tenantID, id)
	return args.Bool(0), args.Error(1)
}

func (m *StoreMock) FindCampaignMessage(ctx context.Context, tenantID, id string) (*model.CampaignMessage, error) {
	args := m.Called(ctx, tenantID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.CampaignMessage), args.Error(1)
}

func (m *StoreMock) TransitionCampaignMessage(ctx context.Context, tenantID, id string, update model.MessageUpdate, from ...model.MessageStatus) (bool, error) {
	args := m.Called(ctx, tenantID, id, update, from)
	return args.Bool(0), args.Error(1)
}

func (m *StoreMock) IncrementCampaignMessageRetry(ctx context.Context, tenantID, id string, kind model.ErrorKind, errMsg string) (int, error) {
	args := m.Called(ctx, tenantID, id, kind, errMsg)
	return args.Int(0), args.Error(1)
}

func (m *StoreMock) RecordCampaignOutcome(ctx context.Context, tenantID, id string, outcome model.CampaignOutcome, at time.Time) (*model.Campaign, bool, error) {
	args := m.Called(ctx, tenantID, id, outcome, at)
	if args.Get(0) == nil {
		return nil, false, args.Error(2)
	}
	return args.Get(0).(*model.Campaign), args.Bool(1), args.Error(2)
}

func (m *StoreMock) ListSentCampaignMessages(ctx context.Context, tenantID, campaignID string) ([]model.CampaignMessage, error) {
	args := m.Called(ctx, tenantID, campaignID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.CampaignMessage), args.Error(1)
}

// --- FollowupRepo ---

func (m *StoreMock) CreateFollowupCampaign(ctx context.Context, campaign *model.FollowupCampaign) error {
	args := m.Called(ctx, campaign)
	return args.Error(0)
}

func (m *StoreMock) FindFollowupCampaign(ctx context.Context, tenantID, id string) (*model.FollowupCampaign, error) {
	args := m.Called(ctx, tenantID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.FollowupCampaign), args.Error(1)
}

func (m *StoreMock) ListRunnableFollowupCampaigns(ctx context.Context) ([]model.FollowupCampaign, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.FollowupCampaign), args.Error(1)
}

func (m *StoreMock) SetFollowupCampaignStatus(ctx context.Context, tenantID, id string, status model.FollowupCampaignStatus, from ...model.FollowupCampaignStatus) (bool, error) {
	args := m.Called(ctx, tenantID, id, status, from)
	return args.Bool(0), args.Error(1)
}

func (m *StoreMock) IncrementFollowupCounters(ctx context.Context, tenantID, id string, delta model.FollowupCounters) error {
	args := m.Called(ctx, tenantID, id, delta)
	return args.Error(0)
}

func (m *StoreMock) DeleteFollowupCampaign(ctx context.Context, tenantID, id string) (int64, error) {
	args := m.Called(ctx, tenantID, id)
	return args.Get(0).(int64), args.Error(1)
}

func (m *StoreMock) ListFollowupMessages(ctx context.Context, tenantID, followupCampaignID string) ([]model.FollowupMessage, error) {
	args := m.Called(ctx, tenantID, followupCampaignID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.FollowupMessage), args.Error(1)
}

func (m *StoreMock) CreateFollowupMessage(ctx context.Context, message *model.FollowupMessage) (bool, error) {
	args := m.Called(ctx, message)
	return args.Bool(0), args.Error(1)
}

func (m *StoreMock) FindDueFollowupMessages(ctx context.Context, now time.Time, limit int) ([]model.FollowupMessage, error) {
	args := m.Called(ctx, now, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.FollowupMessage), args.Error(1)
}

func (m *StoreMock) FindFollowupMessage(ctx context.Context, tenantID, id string) (*model.FollowupMessage, error) {
	args := m.Called(ctx, tenantID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.FollowupMessage), args.Error(1)
}

func (m *StoreMock) TransitionFollowupMessage(ctx context.Context, tenantID, id string, update model.FollowupUpdate, from ...model.FollowupStatus) (bool, error) {
	args := m.Called(ctx, tenantID, id, update, from)
	return args.Bool(0), args.Error(1)
}

func (m *StoreMock) IncrementFollowupMessageRetry(ctx context.Context, tenantID, id string, errMsg string) (int, error) {
	args := m.Called(ctx, tenantID, id, errMsg)
	return args.Int(0), args.Error(1)
}

// --- ContactFollowupRepo ---

func (m *StoreMock) CreateContactFollowup(ctx context.Context, followup *model.ContactFollowup) error {
	args := m.Called(ctx, followup)
	return args.Error(0)
}

func (m *StoreMock) FindContactFollowup(ctx context.Context, tenantID, id string) (*model.ContactFollowup, error) {
	args := m.Called(ctx, tenantID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ContactFollowup), args.Error(1)
}

func (m *StoreMock) FindDueContactFollowups(ctx context.Context, now time.Time, limit int) ([]model.ContactFollowup, error) {
	args := m.Called(ctx, now, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.ContactFollowup), args.Error(1)
}

func (m *StoreMock) TransitionContactFollowup(ctx context.Context, tenantID, id string, update model.ContactFollowupUpdate, from ...model.ContactFollowupStatus) (bool, error) {
	args := m.Called(ctx, tenantID, id, update, from)
	return args.Bool(0), args.Error(1)
}

func (m *StoreMock) IncrementContactFollowupRetry(ctx context.Context, tenantID, id string, errMsg string) (int, error) {
	args := m.Called(ctx, tenantID, id, errMsg)
	return args.Int(0), args.Error(1)
}

// --- FunnelRepo ---

func (m *StoreMock) FindFunnel(ctx context.Context, tenantID, phone string) (*model.ConversationFunnel, error) {
	args := m.Called(ctx, tenantID, phone)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ConversationFunnel), args.Error(1)
}

func (m *StoreMock) CreateFunnel(ctx context.Context, funnel *model.ConversationFunnel) error {
	args := m.Called(ctx, funnel)
	return args.Error(0)
}

func (m *StoreMock) CompareAndSwapFunnel(ctx context.Context, funnel *model.ConversationFunnel, expected model.Stage) (bool, error) {
	args := m.Called(ctx, funnel, expected)
	return args.Bool(0), args.Error(1)
}

func (m *StoreMock) TouchFunnelInbound(ctx context.Context, tenantID, phone string, at time.Time) error {
	args := m.Called(ctx, tenantID, phone, at)
	return args.Error(0)
}

func (m *StoreMock) FindStaleFunnels(ctx context.Context, updatedBefore time.Time, limit int) ([]model.ConversationFunnel, error) {
	args := m.Called(ctx, updatedBefore, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.ConversationFunnel), args.Error(1)
}

// --- AutoReplyRepo ---

func (m *StoreMock) CreateAutoReplyLog(ctx context.Context, log *model.AutoReplyLog) error {
	args := m.Called(ctx, log)
	return args.Error(0)
}

func (m *StoreMock) FindAutoReplyLog(ctx context.Context, tenantID, id string) (*model.AutoReplyLog, error) {
	args := m.Called(ctx, tenantID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.AutoReplyLog), args.Error(1)
}

func (m *StoreMock) CompleteAutoReplyLog(ctx context.Context, tenantID, id string, update model.AutoReplyUpdate) (bool, error) {
	args := m.Called(ctx, tenantID, id, update)
	return args.Bool(0), args.Error(1)
}

func (m *StoreMock) LastAutoReplySentAt(ctx context.Context, tenantID, phone string) (*time.Time, error) {
	args := m.Called(ctx, tenantID, phone)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*time.Time), args.Error(1)
}

// --- SettingsRepo ---

func (m *StoreMock) GetAutoReplySettings(ctx context.Context, tenantID string) (*model.AutoReplySettings, error) {
	args := m.Called(ctx, tenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.AutoReplySettings), args.Error(1)
}

func (m *StoreMock) SaveAutoReplySettings(ctx context.Context, settings *model.AutoReplySettings) error {
	args := m.Called(ctx, settings)
	return args.Error(0)
}

func (m *StoreMock) GetFunnelSettings(ctx context.Context, tenantID string) (*model.FunnelSettings, error) {
	args := m.Called(ctx, tenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.FunnelSettings), args.Error(1)
}

func (m *StoreMock) SaveFunnelSettings(ctx context.Context, settings *model.FunnelSettings) error {
	args := m.Called(ctx, settings)
	return args.Error(0)
}

// --- ExhaustedJobRepo ---

func (m *StoreMock) SaveExhaustedJob(ctx context.Context, job model.ExhaustedJob) error {
	args := m.Called(ctx, job)
	return args.Error(0)
}

// --- Store ---

func (m *StoreMock) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *StoreMock) Close(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
