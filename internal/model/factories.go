package model

import (
	"time"

	"github.com/brianvoe/gofakeit/v6"

	"github.com/Linggaept/backend-waspread-sub001/pkg/utils"
)

// init ensures gofakeit is seeded.
func init() {
	gofakeit.Seed(time.Now().UnixNano())
}

// FakePhone returns a normalised Indonesian mobile number.
func FakePhone() string {
	return "628" + gofakeit.Numerify("#########")
}

func fakeTenant() string {
	return "tenant_" + gofakeit.LetterN(10)
}

// NewCampaign creates a new Campaign instance with default fake data.
func NewCampaign(overrideDefaults ...*Campaign) *Campaign {
	base := &Campaign{
		ID:              gofakeit.UUID(),
		TenantID:        fakeTenant(),
		Name:            gofakeit.BuzzWord() + " blast",
		MessageTemplate: "Hi {name}, " + gofakeit.Sentence(6),
		RecipientCount:  2,
		DelayMs:         gofakeit.Number(1000, 5000),
		Status:          CampaignPending,
		PendingCount:    2,
		CreatedAt:       utils.Now().Add(-time.Duration(gofakeit.Number(1, 100)) * time.Hour),
		UpdatedAt:       utils.Now(),
	}

	if len(overrideDefaults) > 0 && overrideDefaults[0] != nil {
		ovr := overrideDefaults[0]
		if ovr.ID != "" {
			base.ID = ovr.ID
		}
		if ovr.TenantID != "" {
			base.TenantID = ovr.TenantID
		}
		if ovr.Name != "" {
			base.Name = ovr.Name
		}
		if ovr.MessageTemplate != "" {
			base.MessageTemplate = ovr.MessageTemplate
		}
		if ovr.RecipientCount != 0 {
			base.RecipientCount = ovr.RecipientCount
			base.PendingCount = ovr.RecipientCount
		}
		if ovr.DelayMs != 0 {
			base.DelayMs = ovr.DelayMs
		}
		if ovr.Status != "" {
			base.Status = ovr.Status
		}
		if ovr.PendingCount != 0 {
			base.PendingCount = ovr.PendingCount
		}
		base.SentCount = ovr.SentCount
		base.FailedCount = ovr.FailedCount
		base.InvalidCount = ovr.InvalidCount
		base.ImageURL = ovr.ImageURL
		base.StartedAt = ovr.StartedAt
		base.CompletedAt = ovr.CompletedAt
		if !ovr.CreatedAt.IsZero() {
			base.CreatedAt = ovr.CreatedAt
		}
	}
	return base
}

// NewCampaignMessage creates a new CampaignMessage instance with default fake data.
func NewCampaignMessage(overrideDefaults ...*CampaignMessage) *CampaignMessage {
	base := &CampaignMessage{
		ID:            gofakeit.UUID(),
		CampaignID:    gofakeit.UUID(),
		TenantID:      fakeTenant(),
		Phone:         FakePhone(),
		RecipientName: gofakeit.FirstName(),
		Status:        MessagePending,
		ErrorKind:     ErrorKindNone,
		CreatedAt:     utils.Now(),
		UpdatedAt:     utils.Now(),
	}

	if len(overrideDefaults) > 0 && overrideDefaults[0] != nil {
		ovr := overrideDefaults[0]
		if ovr.ID != "" {
			base.ID = ovr.ID
		}
		if ovr.CampaignID != "" {
			base.CampaignID = ovr.CampaignID
		}
		if ovr.TenantID != "" {
			base.TenantID = ovr.TenantID
		}
		if ovr.Phone != "" {
			base.Phone = ovr.Phone
		}
		if ovr.RecipientName != "" {
			base.RecipientName = ovr.RecipientName
		}
		if ovr.Status != "" {
			base.Status = ovr.Status
		}
		if ovr.ErrorKind != "" {
			base.ErrorKind = ovr.ErrorKind
		}
		base.RetryCount = ovr.RetryCount
		base.SentAt = ovr.SentAt
		base.TransportMessageID = ovr.TransportMessageID
	}
	return base
}

// NewFollowupCampaign creates a new FollowupCampaign instance with default fake data.
func NewFollowupCampaign(overrideDefaults ...*FollowupCampaign) *FollowupCampaign {
	base := &FollowupCampaign{
		ID:                 gofakeit.UUID(),
		TenantID:           fakeTenant(),
		OriginalCampaignID: gofakeit.UUID(),
		Name:               gofakeit.BuzzWord() + " follow-up",
		Trigger:            TriggerNoReply,
		Steps: []FollowupStep{
			{StepNumber: 1, Message: gofakeit.Sentence(5), DelayHours: 1},
		},
		MaxFollowups: 1,
		IsActive:     true,
		Status:       FollowupCampaignActive,
		CreatedAt:    utils.Now(),
		UpdatedAt:    utils.Now(),
	}

	if len(overrideDefaults) > 0 && overrideDefaults[0] != nil {
		ovr := overrideDefaults[0]
		if ovr.ID != "" {
			base.ID = ovr.ID
		}
		if ovr.TenantID != "" {
			base.TenantID = ovr.TenantID
		}
		if ovr.OriginalCampaignID != "" {
			base.OriginalCampaignID = ovr.OriginalCampaignID
		}
		if ovr.Trigger != "" {
			base.Trigger = ovr.Trigger
		}
		if len(ovr.Steps) > 0 {
			base.Steps = ovr.Steps
		}
		if ovr.MaxFollowups != 0 {
			base.MaxFollowups = ovr.MaxFollowups
		}
		if ovr.Status != "" {
			base.Status = ovr.Status
			base.IsActive = ovr.IsActive
		}
		if !ovr.CreatedAt.IsZero() {
			base.CreatedAt = ovr.CreatedAt
		}
	}
	return base
}

// NewFollowupMessage creates a new FollowupMessage instance with default fake data.
func NewFollowupMessage(overrideDefaults ...*FollowupMessage) *FollowupMessage {
	base := &FollowupMessage{
		ID:                 gofakeit.UUID(),
		TenantID:           fakeTenant(),
		FollowupCampaignID: gofakeit.UUID(),
		CampaignMessageID:  gofakeit.UUID(),
		Step:               1,
		Phone:              FakePhone(),
		Message:            gofakeit.Sentence(5),
		Status:             FollowupScheduled,
		TriggeredAt:        utils.Now(),
		ScheduledAt:        utils.Now().Add(time.Hour),
		CreatedAt:          utils.Now(),
		UpdatedAt:          utils.Now(),
	}

	if len(overrideDefaults) > 0 && overrideDefaults[0] != nil {
		ovr := overrideDefaults[0]
		if ovr.ID != "" {
			base.ID = ovr.ID
		}
		if ovr.TenantID != "" {
			base.TenantID = ovr.TenantID
		}
		if ovr.FollowupCampaignID != "" {
			base.FollowupCampaignID = ovr.FollowupCampaignID
		}
		if ovr.CampaignMessageID != "" {
			base.CampaignMessageID = ovr.CampaignMessageID
		}
		if ovr.Step != 0 {
			base.Step = ovr.Step
		}
		if ovr.Phone != "" {
			base.Phone = ovr.Phone
		}
		if ovr.Status != "" {
			base.Status = ovr.Status
		}
		if !ovr.TriggeredAt.IsZero() {
			base.TriggeredAt = ovr.TriggeredAt
		}
		if !ovr.ScheduledAt.IsZero() {
			base.ScheduledAt = ovr.ScheduledAt
		}
		if !ovr.CreatedAt.IsZero() {
			base.CreatedAt = ovr.CreatedAt
		}
		base.SentAt = ovr.SentAt
		base.RetryCount = ovr.RetryCount
	}
	return base
}

// NewContactFollowup creates a new ContactFollowup instance with default fake data.
func NewContactFollowup(overrideDefaults ...*ContactFollowup) *ContactFollowup {
	base := &ContactFollowup{
		ID:          gofakeit.UUID(),
		TenantID:    fakeTenant(),
		Phone:       FakePhone(),
		Message:     gofakeit.Sentence(5),
		Status:      ContactFollowupScheduled,
		ScheduledAt: utils.Now().Add(-time.Minute),
		CreatedAt:   utils.Now(),
		UpdatedAt:   utils.Now(),
	}

	if len(overrideDefaults) > 0 && overrideDefaults[0] != nil {
		ovr := overrideDefaults[0]
		if ovr.ID != "" {
			base.ID = ovr.ID
		}
		if ovr.TenantID != "" {
			base.TenantID = ovr.TenantID
		}
		if ovr.Phone != "" {
			base.Phone = ovr.Phone
		}
		if ovr.Message != "" {
			base.Message = ovr.Message
		}
		if ovr.Status != "" {
			base.Status = ovr.Status
		}
		if !ovr.ScheduledAt.IsZero() {
			base.ScheduledAt = ovr.ScheduledAt
		}
		base.RetryCount = ovr.RetryCount
	}
	return base
}

// NewConversationFunnel creates a new ConversationFunnel instance with default fake data.
// The history holds a single entry for the starting stage.
func NewConversationFunnel(overrideDefaults ...*ConversationFunnel) *ConversationFunnel {
	created := utils.Now().Add(-time.Duration(gofakeit.Number(1, 48)) * time.Hour)
	base := &ConversationFunnel{
		ID:        gofakeit.UUID(),
		TenantID:  fakeTenant(),
		Phone:     FakePhone(),
		CreatedAt: created,
	}
	stage := StageBlastSent

	if len(overrideDefaults) > 0 && overrideDefaults[0] != nil {
		ovr := overrideDefaults[0]
		if ovr.ID != "" {
			base.ID = ovr.ID
		}
		if ovr.TenantID != "" {
			base.TenantID = ovr.TenantID
		}
		if ovr.Phone != "" {
			base.Phone = ovr.Phone
		}
		if ovr.Stage != "" {
			stage = ovr.Stage
		}
		if !ovr.CreatedAt.IsZero() {
			base.CreatedAt = ovr.CreatedAt
		}
		base.CampaignID = ovr.CampaignID
		base.CampaignName = ovr.CampaignName
	}
	base.Enter(stage, base.CreatedAt, "seed")
	return base
}

// NewAutoReplySettings creates enabled settings with no gates tripping by default.
func NewAutoReplySettings(overrideDefaults ...*AutoReplySettings) *AutoReplySettings {
	base := &AutoReplySettings{
		TenantID:        fakeTenant(),
		Enabled:         true,
		Timezone:        "Asia/Jakarta",
		DelayMinSeconds: 5,
		DelayMaxSeconds: 30,
		FallbackMessage: "Thanks, we will get back to you shortly.",
		UpdatedAt:       utils.Now(),
	}

	if len(overrideDefaults) > 0 && overrideDefaults[0] != nil {
		ovr := overrideDefaults[0]
		if ovr.TenantID != "" {
			base.TenantID = ovr.TenantID
		}
		base.Enabled = ovr.Enabled
		base.WorkingHoursEnabled = ovr.WorkingHoursEnabled
		base.WorkingHoursStart = ovr.WorkingHoursStart
		base.WorkingHoursEnd = ovr.WorkingHoursEnd
		if ovr.Timezone != "" {
			base.Timezone = ovr.Timezone
		}
		base.Blocklist = ovr.Blocklist
		base.CooldownMinutes = ovr.CooldownMinutes
		if ovr.DelayMinSeconds != 0 || ovr.DelayMaxSeconds != 0 {
			base.DelayMinSeconds = ovr.DelayMinSeconds
			base.DelayMaxSeconds = ovr.DelayMaxSeconds
		}
		base.FallbackMessage = ovr.FallbackMessage
		base.TextCost = ovr.TextCost
		base.ImageCost = ovr.ImageCost
	}
	return base
}

// NewInboundMessagePayload creates an IN-flow text message payload.
func NewInboundMessagePayload(overrideDefaults ...*InboundMessagePayload) *InboundMessagePayload {
	base := &InboundMessagePayload{
		MessageID:        gofakeit.UUID(),
		TenantID:         fakeTenant(),
		FromPhone:        FakePhone(),
		Flow:             FlowIn,
		MessageType:      "text",
		MessageText:      gofakeit.Sentence(4),
		MessageTimestamp: utils.Now().Unix(),
	}

	if len(overrideDefaults) > 0 && overrideDefaults[0] != nil {
		ovr := overrideDefaults[0]
		if ovr.MessageID != "" {
			base.MessageID = ovr.MessageID
		}
		if ovr.TenantID != "" {
			base.TenantID = ovr.TenantID
		}
		if ovr.FromPhone != "" {
			base.FromPhone = ovr.FromPhone
		}
		if ovr.Flow != "" {
			base.Flow = ovr.Flow
		}
		if ovr.MessageText != "" {
			base.MessageText = ovr.MessageText
		}
		base.MediaURL = ovr.MediaURL
	}
	return base
}

// NewMessageStatusPayload creates a delivery receipt for an outbound message.
func NewMessageStatusPayload(overrideDefaults ...*MessageStatusPayload) *MessageStatusPayload {
	base := &MessageStatusPayload{
		MessageID: gofakeit.UUID(),
		TenantID:  fakeTenant(),
		ToPhone:   FakePhone(),
		Status:    gofakeit.RandomString([]string{DeliveryStatusDelivered, DeliveryStatusRead}),
	}

	if len(overrideDefaults) > 0 && overrideDefaults[0] != nil {
		ovr := overrideDefaults[0]
		if ovr.MessageID != "" {
			base.MessageID = ovr.MessageID
		}
		if ovr.TenantID != "" {
			base.TenantID = ovr.TenantID
		}
		if ovr.ToPhone != "" {
			base.ToPhone = ovr.ToPhone
		}
		if ovr.Status != "" {
			base.Status = ovr.Status
		}
	}
	return base
}
