package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMapToBaseEventType(t *testing.T) {
	tests := []struct {
		name          string
		input         string
		expectedType  EventType
		expectedFound bool
	}{
		{"direct match upsert", string(V1MessagesUpsert), V1MessagesUpsert, true},
		{"direct match update", string(V1MessagesUpdate), V1MessagesUpdate, true},
		{"strip tenant upsert", "v1.messages.upsert.tenant123", V1MessagesUpsert, true},
		{"strip tenant update", "v1.messages.update.tenantXYZ", V1MessagesUpdate, true},
		{"no known base", "v1.unknown.event.tenant1", "", false},
		{"no dot to strip", "unknown", "", false},
		{"only dot", ".", "", false},
		{"leading dot", ".v1.messages.update", "", false},
		{"empty string", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			actualType, actualFound := MapToBaseEventType(tt.input)
			assert.Equal(t, tt.expectedType, actualType)
			assert.Equal(t, tt.expectedFound, actualFound)
		})
	}
}

func TestTenantFromSubject(t *testing.T) {
	assert.Equal(t, "acme", TenantFromSubject("v1.messages.upsert.acme"))
	assert.Equal(t, "t1", TenantFromSubject("v1.messages.update.t1"))
	assert.Equal(t, "", TenantFromSubject("v1.messages.upsert"))
	assert.Equal(t, "", TenantFromSubject("v1.chats.upsert.acme"))
}

func TestEventType_Version(t *testing.T) {
	assert.Equal(t, "v1", V1MessagesUpsert.GetVersion())
	assert.Equal(t, EventType("messages.upsert"), V1MessagesUpsert.GetBaseType())
	assert.Equal(t, "", EventType("messages").GetVersion())
	assert.Equal(t, EventType("messages.upsert"), EventType("messages.upsert").GetBaseType())
}

func TestStage_Rank(t *testing.T) {
	order := []Stage{StageBlastSent, StageDelivered, StageReplied, StageInterested, StageNegotiating, StageClosedWon}
	for i := 1; i < len(order); i++ {
		assert.Greater(t, order[i].Rank(), order[i-1].Rank(), "%s should rank above %s", order[i], order[i-1])
	}
	assert.Equal(t, 0, StageClosedLost.Rank())
	assert.True(t, StageClosedLost.IsValid())
	assert.False(t, Stage("BOGUS").IsValid())
	assert.True(t, StageClosedWon.IsTerminal())
	assert.True(t, StageClosedLost.IsTerminal())
	assert.False(t, StageNegotiating.IsTerminal())
}

func TestConversationFunnel_Enter(t *testing.T) {
	f := NewConversationFunnel(&ConversationFunnel{Stage: StageBlastSent})
	f.History = nil
	at := f.CreatedAt.Add(1)

	f.Enter(StageReplied, at, "inbound")

	assert.Equal(t, StageReplied, f.Stage)
	if assert.NotNil(t, f.RepliedAt) {
		assert.Equal(t, at, *f.RepliedAt)
	}
	assert.Equal(t, at, *f.StageAt(StageReplied))
	assert.Len(t, f.History, 1)
	assert.Equal(t, StageTransition{Stage: StageReplied, EnteredAt: at, Trigger: "inbound"}, f.History[0])

	f.Enter(StageClosedLost, at, "stale")
	assert.Equal(t, at, *f.StageAt(StageClosedLost))
	assert.Len(t, f.History, 2)
}

func TestFollowupCampaign_StepLimit(t *testing.T) {
	c := NewFollowupCampaign(&FollowupCampaign{MaxFollowups: 5})
	c.Steps = []FollowupStep{{StepNumber: 1, Message: "a", DelayHours: 1}, {StepNumber: 2, Message: "b", DelayHours: 2}}
	assert.Equal(t, 2, c.StepLimit())
	c.MaxFollowups = 1
	assert.Equal(t, 1, c.StepLimit())
}

func TestTriggerCondition_Stage(t *testing.T) {
	s, ok := TriggerStageInterested.Stage()
	assert.True(t, ok)
	assert.Equal(t, StageInterested, s)
	_, ok = TriggerNoReply.Stage()
	assert.False(t, ok)
}

func TestOutcomeFor(t *testing.T) {
	assert.Equal(t, CampaignOutcome{Sent: 1}, OutcomeFor(MessageSent))
	assert.Equal(t, CampaignOutcome{Failed: 1}, OutcomeFor(MessageFailed))
	assert.Equal(t, CampaignOutcome{Invalid: 1}, OutcomeFor(MessageInvalidNumber))
	assert.Equal(t, CampaignOutcome{}, OutcomeFor(MessageCancelled))
}
