package followup

import (
	"time"

	"github.com/Linggaept/backend-waspread-sub001/internal/model"
)

// Skip and cancel reasons stored on follow-up messages.
const (
	ReasonReplied         = "replied"
	ReasonClosed          = "closed"
	ReasonStageChanged    = "stage_changed"
	ReasonCampaignDeleted = "campaign_deleted"
	ReasonCampaignEnded   = "campaign_inactive"
)

// lastInbound is the latest inbound message time known for the funnel.
func lastInbound(f *model.ConversationFunnel) *time.Time {
	if f.LastInboundAt != nil {
		return f.LastInboundAt
	}
	return f.RepliedAt
}

// ShouldFollowup reports whether a follow-up whose delay counts from since may still be
// sent to the owner of funnel. f is nil when the number has no funnel. The reason is set
// when the answer is no.
func ShouldFollowup(trigger model.TriggerCondition, f *model.ConversationFunnel, since time.Time) (bool, string) {
	if f == nil {
		if trigger == model.TriggerNoReply {
			return true, ""
		}
		return false, ReasonStageChanged
	}
	if f.Stage.IsTerminal() {
		return false, ReasonClosed
	}

	if stage, ok := trigger.Stage(); ok && f.Stage != stage {
		return false, ReasonStageChanged
	}
	if in := lastInbound(f); in != nil && in.After(since) {
		return false, ReasonReplied
	}
	return true, ""
}

// triggerTime returns the moment the trigger condition was met for a recipient, which is
// when the first step's delay starts. waiting is true when a stage trigger has not been
// reached yet but still can be.
func triggerTime(trigger model.TriggerCondition, m *model.CampaignMessage, f *model.ConversationFunnel) (since time.Time, waiting bool, ok bool) {
	stage, isStage := trigger.Stage()
	if !isStage {
		if m.SentAt != nil {
			return *m.SentAt, false, true
		}
		return m.UpdatedAt, false, true
	}

	if f == nil {
		return time.Time{}, true, false
	}
	if at := f.StageAt(stage); at != nil && f.Stage == stage {
		return *at, false, true
	}
	if f.Stage.IsTerminal() || f.Stage.Rank() > stage.Rank() {
		return time.Time{}, false, false
	}
	return time.Time{}, true, false
}
