package autoreply

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/Linggaept/backend-waspread-sub001/internal/apperrors"
	"github.com/Linggaept/backend-waspread-sub001/internal/model"
	"github.com/Linggaept/backend-waspread-sub001/internal/notify"
	"github.com/Linggaept/backend-waspread-sub001/internal/observer"
	"github.com/Linggaept/backend-waspread-sub001/internal/queue"
	"github.com/Linggaept/backend-waspread-sub001/internal/replygen"
	"github.com/Linggaept/backend-waspread-sub001/internal/transport"
	"github.com/Linggaept/backend-waspread-sub001/pkg/logger"
)

const pipeline = "auto_reply"

// ProcessReply is the auto-reply-send handler.
func (s *Service) ProcessReply(ctx context.Context, job *queue.Job) error {
	var p replyJob
	if err := job.Decode(&p); err != nil {
		return err
	}
	tenantID := job.TenantID
	log := logger.FromContextOr(ctx, s.logger).With(
		zap.String("tenant_id", tenantID),
		zap.String("auto_reply_log_id", p.LogID),
		zap.Int("attempt", job.Attempt),
	)
	ctx = logger.WithLogger(ctx, log)

	entry, err := s.logs.FindAutoReplyLog(ctx, tenantID, p.LogID)
	if err != nil {
		return apperrors.FromRepository(ctx, err, "find auto-reply log", p.LogID)
	}
	if entry.Status.IsTerminal() {
		log.Debug("Auto-reply already settled, skipping", zap.String("status", string(entry.Status)))
		return nil
	}

	text, cost, fallback, err := s.compose(ctx, entry, p)
	if err != nil {
		if !job.IsFinalAttempt() {
			return apperrors.NewRetryable(err, "generate auto-reply %s", entry.ID)
		}
		return s.fail(ctx, entry, err)
	}

	transportID, err := s.transport.Send(ctx, transport.Message{TenantID: tenantID, Phone: entry.Phone, Text: text})
	if err != nil {
		if errors.Is(err, apperrors.ErrNotRegistered) || job.IsFinalAttempt() {
			return s.fail(ctx, entry, err)
		}
		return apperrors.NewRetryable(err, "send auto-reply %s", entry.ID)
	}

	sentAt := s.now()
	won, err := s.logs.CompleteAutoReplyLog(ctx, tenantID, entry.ID, model.AutoReplyUpdate{
		Status:             model.AutoReplySent,
		ReplyText:          text,
		CostUnits:          cost,
		UsedFallback:       fallback,
		TransportMessageID: transportID,
		SentAt:             &sentAt,
	})
	if err != nil {
		log.Error("Auto-reply sent but not recorded", zap.String("transport_message_id", transportID), zap.Error(err))
		return apperrors.NewFatal(err, "record sent auto-reply %s", entry.ID)
	}
	if !won {
		log.Warn("Auto-reply settled concurrently after send", zap.String("transport_message_id", transportID))
		return nil
	}

	if cost > 0 {
		if err := s.ledger.DebitAi(ctx, tenantID, feature(entry.HasMedia), cost, entry.ID); err != nil {
			log.Error("Failed to debit ai usage", zap.Float64("cost", cost), zap.Error(err))
		}
	}

	observer.IncSendOutcome(pipeline, tenantID, string(model.AutoReplySent))
	log.Info("Auto-reply sent",
		zap.String("transport_message_id", transportID),
		zap.Bool("used_fallback", fallback),
		zap.Float64("cost", cost))
	s.notifier.Notify(ctx, notify.Event{
		Type:     notify.AutoReplySent,
		TenantID: tenantID,
		At:       sentAt,
		Data: map[string]interface{}{
			"auto_reply_log_id": entry.ID,
			"phone":             entry.Phone,
			"used_fallback":     fallback,
		},
	})
	return nil
}

// compose asks the generator for a reply and falls back to the tenant's static message.
// The returned cost is what gets debited; the fallback is free.
func (s *Service) compose(ctx context.Context, entry *model.AutoReplyLog, p replyJob) (string, float64, bool, error) {
	res, err := s.generator.Generate(ctx, replygen.Request{
		TenantID:      entry.TenantID,
		Phone:         entry.Phone,
		Text:          p.Text,
		Media:         p.Media,
		MediaMimeType: p.MediaMimeType,
	})
	if err == nil && (res == nil || len(res.Suggestions) == 0 || res.Suggestions[0] == "") {
		err = errors.New("reply generator returned no suggestion")
	}
	if err == nil {
		cost := res.CostUnits
		if cost <= 0 {
			cost = entry.EstimatedCost
		}
		return res.Suggestions[0], cost, false, nil
	}

	settings, serr := s.settings.GetAutoReplySettings(ctx, entry.TenantID)
	if serr == nil && settings.FallbackMessage != "" {
		logger.FromContextOr(ctx, s.logger).Warn("Reply generation failed, using fallback message", zap.Error(err))
		return settings.FallbackMessage, 0, true, nil
	}
	return "", 0, false, err
}

func (s *Service) fail(ctx context.Context, entry *model.AutoReplyLog, cause error) error {
	logger.FromContextOr(ctx, s.logger).Warn("Auto-reply failed permanently",
		zap.String("error_kind", string(transport.Classify(cause))),
		zap.Error(cause))
	won, err := s.logs.CompleteAutoReplyLog(ctx, entry.TenantID, entry.ID, model.AutoReplyUpdate{
		Status:       model.AutoReplyFailed,
		ErrorMessage: cause.Error(),
	})
	if won {
		observer.IncSendOutcome(pipeline, entry.TenantID, string(model.AutoReplyFailed))
	}
	return apperrors.FromRepository(ctx, err, "fail auto-reply", entry.ID)
}
