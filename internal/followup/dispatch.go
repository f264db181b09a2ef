package followup

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/Linggaept/backend-waspread-sub001/internal/apperrors"
	"github.com/Linggaept/backend-waspread-sub001/internal/model"
	"github.com/Linggaept/backend-waspread-sub001/internal/notify"
	"github.com/Linggaept/backend-waspread-sub001/internal/observer"
	"github.com/Linggaept/backend-waspread-sub001/internal/queue"
	"github.com/Linggaept/backend-waspread-sub001/internal/transport"
	"github.com/Linggaept/backend-waspread-sub001/pkg/logger"
)

func recordOutcome(tenantID, status string) {
	observer.IncSendOutcome(pipeline, tenantID, status)
}

// DispatchResult summarizes one dispatch poll.
type DispatchResult struct {
	Queued    int
	Skipped   int
	Cancelled int
}

// DispatchDue re-checks every due SCHEDULED message and enqueues the ones that are still
// eligible. Messages of paused campaigns stay SCHEDULED.
func (s *Scheduler) DispatchDue(ctx context.Context) (DispatchResult, error) {
	log := logger.FromContextOr(ctx, s.logger)
	var res DispatchResult

	due, err := s.followups.FindDueFollowupMessages(ctx, s.now(), s.cfg.BatchSize)
	if err != nil {
		return res, fmt.Errorf("find due follow-up messages: %w", err)
	}

	campaigns := make(map[string]*model.FollowupCampaign)
	settled := make(map[string]*model.FollowupCampaign)
	for i := range due {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		msg := &due[i]
		mlog := log.With(zap.String("tenant_id", msg.TenantID), zap.String("followup_message_id", msg.ID))

		fc, ok := campaigns[msg.FollowupCampaignID]
		if !ok {
			fc, err = s.followups.FindFollowupCampaign(ctx, msg.TenantID, msg.FollowupCampaignID)
			if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
				mlog.Error("Failed to load follow-up campaign", zap.Error(err))
				continue
			}
			campaigns[msg.FollowupCampaignID] = fc
		}

		if fc == nil || !fc.Runnable() {
			if fc != nil && fc.Status == model.FollowupCampaignPaused {
				continue
			}
			reason := ReasonCampaignEnded
			if fc == nil {
				reason = ReasonCampaignDeleted
			}
			if err := s.cancel(ctx, msg, reason); err != nil {
				mlog.Error("Failed to cancel follow-up", zap.Error(err))
				continue
			}
			res.Cancelled++
			continue
		}

		f, err := s.findFunnel(ctx, msg.TenantID, msg.Phone)
		if err != nil {
			mlog.Error("Failed to load funnel", zap.Error(err))
			continue
		}
		if ok, reason := ShouldFollowup(fc.Trigger, f, msg.TriggeredAt); !ok {
			if err := s.skip(ctx, msg, reason); err != nil {
				mlog.Error("Failed to skip follow-up", zap.Error(err))
				continue
			}
			settled[fc.ID] = fc
			res.Skipped++
			continue
		}

		if err := s.enqueue(ctx, msg); err != nil {
			mlog.Error("Failed to enqueue follow-up", zap.Error(err))
			continue
		}
		res.Queued++
	}
	for _, fc := range settled {
		s.checkCompletion(ctx, fc)
	}

	log.Info("Follow-up dispatch finished",
		zap.Int("due", len(due)),
		zap.Int("queued", res.Queued),
		zap.Int("skipped", res.Skipped),
		zap.Int("cancelled", res.Cancelled))
	return res, nil
}

// enqueue marks the message QUEUED and hands it to the queue, putting it back to
// SCHEDULED when the queue refuses it.
func (s *Scheduler) enqueue(ctx context.Context, msg *model.FollowupMessage) error {
	won, err := s.followups.TransitionFollowupMessage(ctx, msg.TenantID, msg.ID,
		model.FollowupUpdate{Status: model.FollowupQueued}, model.FollowupScheduled)
	if err != nil {
		return err
	}
	if !won {
		return nil
	}
	_, err = s.queue.Enqueue(ctx, queue.FollowupSend, msg.TenantID, sendJob{MessageID: msg.ID}, queue.Options{
		Attempts: s.cfg.MaxAttempts,
		Backoff:  queue.Exponential(s.cfg.BackoffDelay),
		JobID:    msg.ID,
	})
	if err == nil {
		return nil
	}
	if _, rerr := s.followups.TransitionFollowupMessage(ctx, msg.TenantID, msg.ID,
		model.FollowupUpdate{Status: model.FollowupScheduled}, model.FollowupQueued); rerr != nil {
		return errors.Join(err, rerr)
	}
	return err
}

// ProcessMessage is the follow-up-send handler.
func (s *Scheduler) ProcessMessage(ctx context.Context, job *queue.Job) error {
	var p sendJob
	if err := job.Decode(&p); err != nil {
		return err
	}
	tenantID := job.TenantID
	log := logger.FromContextOr(ctx, s.logger).With(
		zap.String("tenant_id", tenantID),
		zap.String("followup_message_id", p.MessageID),
		zap.Int("attempt", job.Attempt),
	)
	ctx = logger.WithLogger(ctx, log)

	msg, err := s.followups.FindFollowupMessage(ctx, tenantID, p.MessageID)
	if err != nil {
		return apperrors.FromRepository(ctx, err, "find follow-up message", p.MessageID)
	}
	if msg.Status.IsTerminal() {
		log.Debug("Follow-up already settled, skipping", zap.String("status", string(msg.Status)))
		return nil
	}

	fc, err := s.followups.FindFollowupCampaign(ctx, tenantID, msg.FollowupCampaignID)
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		return apperrors.FromRepository(ctx, s.cancel(ctx, msg, ReasonCampaignDeleted), "cancel follow-up", msg.ID)
	case err != nil:
		return apperrors.FromRepository(ctx, err, "find follow-up campaign", msg.FollowupCampaignID)
	case fc.Status == model.FollowupCampaignPaused:
		log.Info("Follow-up campaign paused, returning message to schedule")
		_, err := s.followups.TransitionFollowupMessage(ctx, tenantID, msg.ID,
			model.FollowupUpdate{Status: model.FollowupScheduled}, model.FollowupQueued)
		return apperrors.FromRepository(ctx, err, "reschedule follow-up", msg.ID)
	case !fc.Runnable():
		return apperrors.FromRepository(ctx, s.cancel(ctx, msg, ReasonCampaignEnded), "cancel follow-up", msg.ID)
	}

	f, err := s.findFunnel(ctx, tenantID, msg.Phone)
	if err != nil {
		return apperrors.FromRepository(ctx, err, "find funnel", msg.Phone)
	}
	if ok, reason := ShouldFollowup(fc.Trigger, f, msg.TriggeredAt); !ok {
		if err := s.skip(ctx, msg, reason); err != nil {
			return apperrors.FromRepository(ctx, err, "skip follow-up", msg.ID)
		}
		s.checkCompletion(ctx, fc)
		return nil
	}

	if err := s.sender.Preflight(ctx, tenantID, msg.Phone); err != nil {
		if isTerminalSendError(err) {
			return s.fail(ctx, fc, msg, err)
		}
		return s.retryOrFail(ctx, job, fc, msg, err)
	}

	transportID, err := s.sender.Send(ctx, transport.Message{TenantID: tenantID, Phone: msg.Phone, Text: msg.Message})
	if err != nil {
		if isTerminalSendError(err) {
			return s.fail(ctx, fc, msg, err)
		}
		return s.retryOrFail(ctx, job, fc, msg, err)
	}

	sentAt := s.now()
	won, err := s.settle(ctx, msg, model.FollowupUpdate{
		Status:             model.FollowupSent,
		TransportMessageID: transportID,
		SentAt:             &sentAt,
	}, model.FollowupScheduled, model.FollowupQueued)
	if err != nil {
		log.Error("Follow-up sent but not recorded", zap.String("transport_message_id", transportID), zap.Error(err))
		return apperrors.NewFatal(err, "record sent follow-up %s", msg.ID)
	}
	if !won {
		log.Warn("Follow-up settled concurrently after send", zap.String("transport_message_id", transportID))
		return nil
	}

	log.Info("Follow-up sent", zap.Int("step", msg.Step), zap.String("transport_message_id", transportID))
	s.notifier.Notify(ctx, notify.Event{
		Type:     notify.FollowupSent,
		TenantID: tenantID,
		At:       sentAt,
		Data: map[string]interface{}{
			"followup_campaign_id": fc.ID,
			"followup_message_id":  msg.ID,
			"phone":                msg.Phone,
			"step":                 msg.Step,
		},
	})
	if msg.Step >= fc.StepLimit() {
		s.checkCompletion(ctx, fc)
	}
	return nil
}

// checkCompletion re-plans the campaign after one of its messages settled, so it completes
// as soon as its last recipient finishes. Errors are logged only.
func (s *Scheduler) checkCompletion(ctx context.Context, fc *model.FollowupCampaign) {
	if _, _, err := s.materializeCampaign(ctx, fc); err != nil {
		logger.FromContextOr(ctx, s.logger).Warn("Failed to check follow-up campaign completion",
			zap.String("followup_campaign_id", fc.ID), zap.Error(err))
	}
}

func (s *Scheduler) fail(ctx context.Context, fc *model.FollowupCampaign, msg *model.FollowupMessage, cause error) error {
	logger.FromContextOr(ctx, s.logger).Warn("Follow-up failed permanently",
		zap.String("error_kind", string(transport.Classify(cause))),
		zap.Error(cause))
	won, err := s.settle(ctx, msg, model.FollowupUpdate{Status: model.FollowupFailed, ErrorMessage: cause.Error()},
		model.FollowupScheduled, model.FollowupQueued)
	if err != nil {
		return apperrors.FromRepository(ctx, err, "fail follow-up", msg.ID)
	}
	if won {
		s.checkCompletion(ctx, fc)
	}
	return nil
}

func (s *Scheduler) retryOrFail(ctx context.Context, job *queue.Job, fc *model.FollowupCampaign, msg *model.FollowupMessage, cause error) error {
	if _, err := s.followups.IncrementFollowupMessageRetry(ctx, msg.TenantID, msg.ID, cause.Error()); err != nil {
		return apperrors.FromRepository(ctx, err, "increment follow-up retry", msg.ID)
	}
	if !job.IsFinalAttempt() {
		return apperrors.NewRetryable(cause, "send follow-up %s", msg.ID)
	}
	return s.fail(ctx, fc, msg, cause)
}

// isTerminalSendError reports errors that end the message without a retry.
func isTerminalSendError(err error) bool {
	return errors.Is(err, apperrors.ErrQuotaExhausted) || errors.Is(err, apperrors.ErrNotRegistered)
}
