// Package followup schedules conditional follow-up messages after a campaign and sends
// ad-hoc contact follow-ups.
package followup

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Linggaept/backend-waspread-sub001/internal/apperrors"
	"github.com/Linggaept/backend-waspread-sub001/internal/config"
	"github.com/Linggaept/backend-waspread-sub001/internal/delivery"
	"github.com/Linggaept/backend-waspread-sub001/internal/model"
	"github.com/Linggaept/backend-waspread-sub001/internal/notify"
	"github.com/Linggaept/backend-waspread-sub001/internal/queue"
	"github.com/Linggaept/backend-waspread-sub001/internal/storage"
	"github.com/Linggaept/backend-waspread-sub001/internal/validator"
	"github.com/Linggaept/backend-waspread-sub001/pkg/logger"
	"github.com/Linggaept/backend-waspread-sub001/pkg/utils"
)

const pipeline = "followup"

// CreateRequest is a new follow-up campaign.
type CreateRequest struct {
	TenantID           string                 `json:"tenant_id" validate:"required"`
	OriginalCampaignID string                 `json:"original_campaign_id" validate:"required"`
	Name               string                 `json:"name" validate:"max=255"`
	Trigger            model.TriggerCondition `json:"trigger" validate:"required,oneof=NO_REPLY STAGE_REPLIED STAGE_INTERESTED STAGE_NEGOTIATING"`
	Steps              []model.FollowupStep   `json:"steps" validate:"required,min=1,dive"`
	MaxFollowups       int                    `json:"max_followups" validate:"gte=0"`
}

// sendJob is the payload of a follow-up-send job.
type sendJob struct {
	MessageID string `json:"message_id"`
}

// Scheduler materializes, dispatches and sends follow-up messages.
type Scheduler struct {
	followups storage.FollowupRepo
	campaigns storage.CampaignRepo
	funnels   storage.FunnelRepo
	queue     queue.Enqueuer
	sender    *delivery.Sender
	notifier  notify.Notifier
	cfg       config.FollowupConfig
	logger    *zap.Logger
	now       func() time.Time
}

// NewScheduler creates the follow-up scheduler.
func NewScheduler(
	followups storage.FollowupRepo,
	campaigns storage.CampaignRepo,
	funnels storage.FunnelRepo,
	q queue.Enqueuer,
	sender *delivery.Sender,
	notifier notify.Notifier,
	cfg config.FollowupConfig,
	log *zap.Logger,
) *Scheduler {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	return &Scheduler{
		followups: followups,
		campaigns: campaigns,
		funnels:   funnels,
		queue:     q,
		sender:    sender,
		notifier:  notifier,
		cfg:       cfg,
		logger:    log.Named("followup"),
		now:       utils.Now,
	}
}

// SetClock replaces the time source.
func (s *Scheduler) SetClock(now func() time.Time) {
	s.now = now
}

// sortedSteps returns the steps ordered by step number.
func sortedSteps(steps []model.FollowupStep) []model.FollowupStep {
	out := make([]model.FollowupStep, len(steps))
	copy(out, steps)
	sort.Slice(out, func(i, j int) bool { return out[i].StepNumber < out[j].StepNumber })
	return out
}

// Create validates and stores a follow-up campaign. Step numbers must run 1..n.
func (s *Scheduler) Create(ctx context.Context, req CreateRequest) (*model.FollowupCampaign, error) {
	if err := validator.Validate(req); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrValidation, err)
	}
	steps := sortedSteps(req.Steps)
	for i, st := range steps {
		if st.StepNumber != i+1 {
			return nil, fmt.Errorf("%w: step numbers must run from 1 to %d without gaps", apperrors.ErrValidation, len(steps))
		}
	}
	if _, err := s.campaigns.FindCampaign(ctx, req.TenantID, req.OriginalCampaignID); err != nil {
		return nil, fmt.Errorf("find original campaign: %w", err)
	}

	maxFollowups := req.MaxFollowups
	if maxFollowups == 0 || maxFollowups > len(steps) {
		maxFollowups = len(steps)
	}
	fc := &model.FollowupCampaign{
		ID:                 uuid.NewString(),
		TenantID:           req.TenantID,
		OriginalCampaignID: req.OriginalCampaignID,
		Name:               req.Name,
		Trigger:            req.Trigger,
		Steps:              steps,
		MaxFollowups:       maxFollowups,
		IsActive:           true,
		Status:             model.FollowupCampaignActive,
	}
	if err := s.followups.CreateFollowupCampaign(ctx, fc); err != nil {
		return nil, fmt.Errorf("create follow-up campaign: %w", err)
	}
	logger.FromContextOr(ctx, s.logger).Info("Follow-up campaign created",
		zap.String("tenant_id", fc.TenantID),
		zap.String("followup_campaign_id", fc.ID),
		zap.String("trigger", string(fc.Trigger)),
		zap.Int("steps", len(steps)))
	return fc, nil
}

// Pause stops scheduling and sending until Resume. Scheduled messages are kept.
func (s *Scheduler) Pause(ctx context.Context, tenantID, id string) error {
	return s.setStatus(ctx, tenantID, id, model.FollowupCampaignPaused, model.FollowupCampaignActive)
}

// Resume reactivates a paused campaign.
func (s *Scheduler) Resume(ctx context.Context, tenantID, id string) error {
	return s.setStatus(ctx, tenantID, id, model.FollowupCampaignActive, model.FollowupCampaignPaused)
}

func (s *Scheduler) setStatus(ctx context.Context, tenantID, id string, to, from model.FollowupCampaignStatus) error {
	ok, err := s.followups.SetFollowupCampaignStatus(ctx, tenantID, id, to, from)
	if err != nil {
		return err
	}
	if ok {
		logger.FromContextOr(ctx, s.logger).Info("Follow-up campaign status changed",
			zap.String("tenant_id", tenantID),
			zap.String("followup_campaign_id", id),
			zap.String("status", string(to)))
		return nil
	}
	fc, err := s.followups.FindFollowupCampaign(ctx, tenantID, id)
	if err != nil {
		return err
	}
	if fc.Status == to {
		return nil
	}
	return fmt.Errorf("%w: follow-up campaign %s is %s", apperrors.ErrConflict, id, fc.Status)
}

// DeleteCampaign soft-deletes the campaign and cancels its open messages.
func (s *Scheduler) DeleteCampaign(ctx context.Context, tenantID, id string) error {
	cancelled, err := s.followups.DeleteFollowupCampaign(ctx, tenantID, id)
	if err != nil {
		return err
	}
	logger.FromContextOr(ctx, s.logger).Info("Follow-up campaign deleted",
		zap.String("tenant_id", tenantID),
		zap.String("followup_campaign_id", id),
		zap.Int64("cancelled_messages", cancelled))
	return nil
}

// findFunnel returns nil when the number has no funnel.
func (s *Scheduler) findFunnel(ctx context.Context, tenantID, phone string) (*model.ConversationFunnel, error) {
	f, err := s.funnels.FindFunnel(ctx, tenantID, phone)
	if errors.Is(err, apperrors.ErrNotFound) {
		return nil, nil
	}
	return f, err
}

// settle applies a guarded status change and, when it wins, moves the campaign counters.
func (s *Scheduler) settle(ctx context.Context, msg *model.FollowupMessage, update model.FollowupUpdate, from ...model.FollowupStatus) (bool, error) {
	won, err := s.followups.TransitionFollowupMessage(ctx, msg.TenantID, msg.ID, update, from...)
	if err != nil || !won {
		return false, err
	}
	recordOutcome(msg.TenantID, string(update.Status))

	var delta model.FollowupCounters
	switch update.Status {
	case model.FollowupSent:
		delta.Sent = 1
	case model.FollowupFailed:
		delta.Failed = 1
	case model.FollowupSkipped:
		delta.Skipped = 1
		if update.SkipReason == ReasonReplied {
			delta.Replied = 1
		}
	}
	if err := s.followups.IncrementFollowupCounters(ctx, msg.TenantID, msg.FollowupCampaignID, delta); err != nil {
		return true, fmt.Errorf("increment follow-up counters: %w", err)
	}
	return true, nil
}

// skip marks the message SKIPPED.
func (s *Scheduler) skip(ctx context.Context, msg *model.FollowupMessage, reason string) error {
	won, err := s.settle(ctx, msg, model.FollowupUpdate{Status: model.FollowupSkipped, SkipReason: reason},
		model.FollowupScheduled, model.FollowupQueued)
	if err != nil {
		return err
	}
	if won {
		logger.FromContextOr(ctx, s.logger).Info("Follow-up skipped",
			zap.String("tenant_id", msg.TenantID),
			zap.String("followup_message_id", msg.ID),
			zap.Int("step", msg.Step),
			zap.String("reason", reason))
	}
	return nil
}

// cancel marks the message CANCELLED.
func (s *Scheduler) cancel(ctx context.Context, msg *model.FollowupMessage, reason string) error {
	_, err := s.settle(ctx, msg, model.FollowupUpdate{Status: model.FollowupCancelled, SkipReason: reason},
		model.FollowupScheduled, model.FollowupQueued)
	return err
}
