package followup

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/iter"
	"go.uber.org/zap"

	"github.com/Linggaept/backend-waspread-sub001/internal/campaign"
	"github.com/Linggaept/backend-waspread-sub001/internal/model"
	"github.com/Linggaept/backend-waspread-sub001/pkg/logger"
)

// recipientState is where one recipient stands in a follow-up sequence.
type recipientState int

const (
	// stateWaiting: a step is open or the trigger may still be met.
	stateWaiting recipientState = iota
	// stateScheduled: the next step was created in this pass.
	stateScheduled
	// stateExhausted: nothing more will be sent to this recipient.
	stateExhausted
)

// MaterializeResult summarizes one materializer pass.
type MaterializeResult struct {
	Campaigns int
	Scheduled int
	Completed int
}

// Materialize creates the next due step for every eligible recipient of every runnable
// follow-up campaign and completes campaigns with no recipient left.
func (s *Scheduler) Materialize(ctx context.Context) (MaterializeResult, error) {
	log := logger.FromContextOr(ctx, s.logger)
	var res MaterializeResult

	campaigns, err := s.followups.ListRunnableFollowupCampaigns(ctx)
	if err != nil {
		return res, fmt.Errorf("list runnable follow-up campaigns: %w", err)
	}
	for i := range campaigns {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		fc := &campaigns[i]
		scheduled, completed, err := s.materializeCampaign(ctx, fc)
		if err != nil {
			log.Error("Failed to materialize follow-up campaign",
				zap.String("tenant_id", fc.TenantID),
				zap.String("followup_campaign_id", fc.ID),
				zap.Error(err))
			continue
		}
		res.Campaigns++
		res.Scheduled += scheduled
		if completed {
			res.Completed++
		}
	}

	log.Info("Follow-up materialization finished",
		zap.Int("campaigns", res.Campaigns),
		zap.Int("scheduled", res.Scheduled),
		zap.Int("completed", res.Completed))
	return res, nil
}

func (s *Scheduler) materializeCampaign(ctx context.Context, fc *model.FollowupCampaign) (int, bool, error) {
	original, err := s.campaigns.FindCampaign(ctx, fc.TenantID, fc.OriginalCampaignID)
	if err != nil {
		return 0, false, fmt.Errorf("find original campaign: %w", err)
	}
	recipients, err := s.campaigns.ListSentCampaignMessages(ctx, fc.TenantID, fc.OriginalCampaignID)
	if err != nil {
		return 0, false, fmt.Errorf("list sent recipients: %w", err)
	}
	existing, err := s.followups.ListFollowupMessages(ctx, fc.TenantID, fc.ID)
	if err != nil {
		return 0, false, fmt.Errorf("list follow-up messages: %w", err)
	}
	history := make(map[string][]model.FollowupMessage, len(recipients))
	for _, m := range existing {
		history[m.CampaignMessageID] = append(history[m.CampaignMessageID], m)
	}
	steps := sortedSteps(fc.Steps)

	var scheduled, exhausted, failed atomic.Int64
	it := iter.Iterator[model.CampaignMessage]{MaxGoroutines: s.cfg.Concurrency}
	it.ForEach(recipients, func(m *model.CampaignMessage) {
		state, err := s.planRecipient(ctx, fc, steps, m, history[m.ID])
		if err != nil {
			failed.Add(1)
			logger.FromContextOr(ctx, s.logger).Warn("Failed to plan follow-up for recipient",
				zap.String("followup_campaign_id", fc.ID),
				zap.String("campaign_message_id", m.ID),
				zap.Error(err))
			return
		}
		switch state {
		case stateScheduled:
			scheduled.Add(1)
		case stateExhausted:
			exhausted.Add(1)
		}
	})

	n := int(scheduled.Load())
	if n > 0 {
		if err := s.followups.IncrementFollowupCounters(ctx, fc.TenantID, fc.ID, model.FollowupCounters{Scheduled: n}); err != nil {
			return n, false, fmt.Errorf("increment scheduled counter: %w", err)
		}
	}

	if !original.Status.IsTerminal() || len(recipients) == 0 || failed.Load() > 0 ||
		int(exhausted.Load()) < len(recipients) {
		return n, false, nil
	}
	completed, err := s.completeCampaign(ctx, fc)
	return n, completed, err
}

// completeCampaign marks an ACTIVE campaign COMPLETED.
func (s *Scheduler) completeCampaign(ctx context.Context, fc *model.FollowupCampaign) (bool, error) {
	ok, err := s.followups.SetFollowupCampaignStatus(ctx, fc.TenantID, fc.ID,
		model.FollowupCampaignCompleted, model.FollowupCampaignActive)
	if err != nil {
		return false, fmt.Errorf("complete follow-up campaign: %w", err)
	}
	if ok {
		logger.FromContextOr(ctx, s.logger).Info("Follow-up campaign completed",
			zap.String("tenant_id", fc.TenantID),
			zap.String("followup_campaign_id", fc.ID))
	}
	return ok, nil
}

// planRecipient decides the state of one recipient and creates its next step when due.
// history holds the recipient's existing messages ordered by step.
func (s *Scheduler) planRecipient(ctx context.Context, fc *model.FollowupCampaign, steps []model.FollowupStep, m *model.CampaignMessage, history []model.FollowupMessage) (recipientState, error) {
	count := len(history)
	if count > 0 && !history[count-1].Status.IsTerminal() {
		return stateWaiting, nil
	}
	if count >= fc.StepLimit() {
		return stateExhausted, nil
	}

	var since time.Time
	if count > 0 {
		last := history[count-1]
		if last.Status != model.FollowupSent || last.SentAt == nil {
			return stateExhausted, nil
		}
		since = *last.SentAt
	}

	f, err := s.findFunnel(ctx, fc.TenantID, m.Phone)
	if err != nil {
		return stateWaiting, err
	}
	if count == 0 {
		at, waiting, ok := triggerTime(fc.Trigger, m, f)
		if !ok {
			if waiting {
				return stateWaiting, nil
			}
			return stateExhausted, nil
		}
		since = at
	}
	if ok, _ := ShouldFollowup(fc.Trigger, f, since); !ok {
		return stateExhausted, nil
	}

	step := steps[count]
	msg := &model.FollowupMessage{
		ID:                 uuid.NewString(),
		TenantID:           fc.TenantID,
		FollowupCampaignID: fc.ID,
		CampaignMessageID:  m.ID,
		Step:               step.StepNumber,
		Phone:              m.Phone,
		Message:            campaign.Render(step.Message, m),
		Status:             model.FollowupScheduled,
		TriggeredAt:        since,
		ScheduledAt:        since.Add(time.Duration(step.DelayHours) * time.Hour),
	}
	created, err := s.followups.CreateFollowupMessage(ctx, msg)
	if err != nil {
		return stateWaiting, err
	}
	if !created {
		return stateWaiting, nil
	}
	logger.FromContextOr(ctx, s.logger).Debug("Follow-up scheduled",
		zap.String("tenant_id", fc.TenantID),
		zap.String("followup_campaign_id", fc.ID),
		zap.String("phone", m.Phone),
		zap.Int("step", msg.Step),
		zap.Time("scheduled_at", msg.ScheduledAt))
	return stateScheduled, nil
}
