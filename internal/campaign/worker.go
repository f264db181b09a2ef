package campaign

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/Linggaept/backend-waspread-sub001/internal/apperrors"
	"github.com/Linggaept/backend-waspread-sub001/internal/model"
	"github.com/Linggaept/backend-waspread-sub001/internal/notify"
	"github.com/Linggaept/backend-waspread-sub001/internal/observer"
	"github.com/Linggaept/backend-waspread-sub001/internal/queue"
	"github.com/Linggaept/backend-waspread-sub001/internal/transport"
	"github.com/Linggaept/backend-waspread-sub001/pkg/logger"
)

const pipeline = "campaign"

func recordOutcome(tenantID string, status model.MessageStatus) {
	observer.IncSendOutcome(pipeline, tenantID, string(status))
}

// Render fills the {name} and {phone} placeholders of a template.
func Render(template string, msg *model.CampaignMessage) string {
	return strings.NewReplacer(
		"{name}", msg.RecipientName,
		"{phone}", msg.Phone,
	).Replace(template)
}

// ProcessMessage is the campaign-send handler. Terminal messages are skipped, so a
// redelivered job never sends twice.
func (s *Service) ProcessMessage(ctx context.Context, job *queue.Job) error {
	var p sendJob
	if err := job.Decode(&p); err != nil {
		return err
	}
	tenantID := job.TenantID
	log := logger.FromContextOr(ctx, s.logger).With(
		zap.String("tenant_id", tenantID),
		zap.String("campaign_id", p.CampaignID),
		zap.String("message_id", p.MessageID),
		zap.Int("attempt", job.Attempt),
	)
	ctx = logger.WithLogger(ctx, log)

	msg, err := s.repo.FindCampaignMessage(ctx, tenantID, p.MessageID)
	if err != nil {
		return apperrors.FromRepository(ctx, err, "find campaign message", p.MessageID)
	}
	if msg.Status.IsTerminal() {
		log.Debug("Campaign message already settled, skipping", zap.String("status", string(msg.Status)))
		return nil
	}
	campaign, err := s.repo.FindCampaign(ctx, tenantID, msg.CampaignID)
	if err != nil {
		return apperrors.FromRepository(ctx, err, "find campaign", msg.CampaignID)
	}

	if campaign.Status == model.CampaignCancelled {
		log.Info("Campaign cancelled, dropping message")
		_, err := s.settle(ctx, campaign, msg, model.MessageUpdate{Status: model.MessageCancelled})
		return apperrors.FromRepository(ctx, err, "cancel campaign message", msg.ID)
	}

	if err := s.sender.Preflight(ctx, tenantID, msg.Phone); err != nil {
		if isTerminalSendError(err) {
			return s.fail(ctx, campaign, msg, err)
		}
		return s.retryOrFail(ctx, job, campaign, msg, err)
	}

	transportID, err := s.sender.Send(ctx, transport.Message{
		TenantID: tenantID,
		Phone:    msg.Phone,
		Text:     Render(campaign.MessageTemplate, msg),
		MediaURL: campaign.ImageURL,
	})
	if err != nil {
		if isTerminalSendError(err) {
			return s.fail(ctx, campaign, msg, err)
		}
		return s.retryOrFail(ctx, job, campaign, msg, err)
	}

	sentAt := s.now()
	won, err := s.settle(ctx, campaign, msg, model.MessageUpdate{
		Status:             model.MessageSent,
		ErrorKind:          model.ErrorKindNone,
		TransportMessageID: transportID,
		SentAt:             &sentAt,
	})
	if err != nil {
		// The message is out; a retry would send it again.
		log.Error("Campaign message sent but not recorded", zap.String("transport_message_id", transportID), zap.Error(err))
		return apperrors.NewFatal(err, "record sent campaign message %s", msg.ID)
	}
	if !won {
		log.Warn("Campaign message settled concurrently after send", zap.String("transport_message_id", transportID))
		return nil
	}

	log.Info("Campaign message sent", zap.String("transport_message_id", transportID))
	if s.funnel != nil {
		if _, err := s.funnel.HandleBlastSent(ctx, tenantID, msg.Phone, campaign.ID, campaign.Name); err != nil {
			log.Warn("Failed to record blast in funnel", zap.Error(err))
		}
	}
	s.notifier.Notify(ctx, notify.Event{
		Type:     notify.CampaignMessageSent,
		TenantID: tenantID,
		At:       sentAt,
		Data: map[string]interface{}{
			"campaign_id":          campaign.ID,
			"message_id":           msg.ID,
			"phone":                msg.Phone,
			"transport_message_id": transportID,
		},
	})
	return nil
}

// fail settles a message that cannot succeed: an unregistered number becomes
// INVALID_NUMBER, anything else FAILED with the classified kind.
func (s *Service) fail(ctx context.Context, campaign *model.Campaign, msg *model.CampaignMessage, cause error) error {
	kind := transport.Classify(cause)
	status := model.MessageFailed
	if errors.Is(cause, apperrors.ErrNotRegistered) {
		status = model.MessageInvalidNumber
	}
	logger.FromContextOr(ctx, s.logger).Warn("Campaign message failed permanently",
		zap.String("status", string(status)),
		zap.String("error_kind", string(kind)),
		zap.Error(cause))

	_, err := s.settle(ctx, campaign, msg, model.MessageUpdate{
		Status:       status,
		ErrorKind:    kind,
		ErrorMessage: cause.Error(),
	})
	return apperrors.FromRepository(ctx, err, "fail campaign message", msg.ID)
}

// retryOrFail counts the failed attempt. Below the attempt ceiling the error goes back to
// the queue; on the last attempt the message is FAILED and the job completes.
func (s *Service) retryOrFail(ctx context.Context, job *queue.Job, campaign *model.Campaign, msg *model.CampaignMessage, cause error) error {
	kind := transport.Classify(cause)
	if _, err := s.repo.IncrementCampaignMessageRetry(ctx, msg.TenantID, msg.ID, kind, cause.Error()); err != nil {
		return apperrors.FromRepository(ctx, err, "increment campaign message retry", msg.ID)
	}
	if !job.IsFinalAttempt() {
		return apperrors.NewRetryable(cause, "send campaign message %s", msg.ID)
	}
	return s.fail(ctx, campaign, msg, cause)
}
