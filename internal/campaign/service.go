// Package campaign turns a bulk send into paced per-recipient jobs and processes them.
package campaign

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Linggaept/backend-waspread-sub001/internal/apperrors"
	"github.com/Linggaept/backend-waspread-sub001/internal/config"
	"github.com/Linggaept/backend-waspread-sub001/internal/delivery"
	"github.com/Linggaept/backend-waspread-sub001/internal/funnel"
	"github.com/Linggaept/backend-waspread-sub001/internal/model"
	"github.com/Linggaept/backend-waspread-sub001/internal/notify"
	"github.com/Linggaept/backend-waspread-sub001/internal/queue"
	"github.com/Linggaept/backend-waspread-sub001/internal/storage"
	"github.com/Linggaept/backend-waspread-sub001/internal/validator"
	"github.com/Linggaept/backend-waspread-sub001/pkg/logger"
	"github.com/Linggaept/backend-waspread-sub001/pkg/utils"
)

// Recipient is one entry of a submitted recipient list.
type Recipient struct {
	Phone string `json:"phone" validate:"required,phone"`
	Name  string `json:"name" validate:"max=255"`
}

// SubmitRequest is a new campaign as submitted by a tenant.
type SubmitRequest struct {
	TenantID        string      `json:"tenant_id" validate:"required"`
	Name            string      `json:"name" validate:"max=255"`
	MessageTemplate string      `json:"message_template" validate:"required"`
	ImageURL        string      `json:"image_url" validate:"omitempty,url"`
	DelayMs         int         `json:"delay_ms" validate:"gte=0"`
	Recipients      []Recipient `json:"recipients" validate:"required,dive"`
}

// FunnelRecorder receives successful blasts.
type FunnelRecorder interface {
	HandleBlastSent(ctx context.Context, tenantID, phone, campaignID, campaignName string) (*funnel.Transition, error)
}

// sendJob is the payload of a campaign-send job.
type sendJob struct {
	CampaignID string `json:"campaign_id"`
	MessageID  string `json:"message_id"`
}

// Service is the campaign dispatcher.
type Service struct {
	repo     storage.CampaignRepo
	queue    queue.Enqueuer
	sender   *delivery.Sender
	funnel   FunnelRecorder
	notifier notify.Notifier
	cfg      config.CampaignConfig
	logger   *zap.Logger
	now      func() time.Time
}

// NewService creates the campaign dispatcher.
func NewService(
	repo storage.CampaignRepo,
	q queue.Enqueuer,
	sender *delivery.Sender,
	funnel FunnelRecorder,
	notifier notify.Notifier,
	cfg config.CampaignConfig,
	log *zap.Logger,
) *Service {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if cfg.MinRecipients <= 0 {
		cfg.MinRecipients = 2
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	return &Service{
		repo:     repo,
		queue:    q,
		sender:   sender,
		funnel:   funnel,
		notifier: notifier,
		cfg:      cfg,
		logger:   log.Named("campaign"),
		now:      utils.Now,
	}
}

// SetClock replaces the time source.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// NormalizePhone keeps the digits of phone and rewrites a leading 0 to the 62 country code.
func NormalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if strings.HasPrefix(digits, "0") {
		digits = "62" + digits[1:]
	}
	return digits
}

// dedupe normalizes the recipients and keeps the first occurrence of each number.
func dedupe(recipients []Recipient) []Recipient {
	seen := make(map[string]struct{}, len(recipients))
	out := make([]Recipient, 0, len(recipients))
	for _, r := range recipients {
		phone := NormalizePhone(r.Phone)
		if phone == "" {
			continue
		}
		if _, dup := seen[phone]; dup {
			continue
		}
		seen[phone] = struct{}{}
		out = append(out, Recipient{Phone: phone, Name: strings.TrimSpace(r.Name)})
	}
	return out
}

// Submit validates and stores the campaign, then enqueues one paced job per recipient.
// A recipient whose job cannot be enqueued is failed immediately.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*model.Campaign, error) {
	if err := validator.Validate(req); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrValidation, err)
	}
	recipients := dedupe(req.Recipients)
	if len(recipients) < s.cfg.MinRecipients {
		return nil, fmt.Errorf("%w: campaign needs at least %d distinct recipients, got %d",
			apperrors.ErrValidation, s.cfg.MinRecipients, len(recipients))
	}

	delayMs := req.DelayMs
	if delayMs == 0 {
		delayMs = s.cfg.DefaultDelayMs
	}

	campaign := &model.Campaign{
		ID:              uuid.NewString(),
		TenantID:        req.TenantID,
		Name:            req.Name,
		MessageTemplate: req.MessageTemplate,
		ImageURL:        req.ImageURL,
		RecipientCount:  len(recipients),
		PendingCount:    len(recipients),
		DelayMs:         delayMs,
		Status:          model.CampaignPending,
	}
	messages := make([]*model.CampaignMessage, len(recipients))
	for i, r := range recipients {
		messages[i] = &model.CampaignMessage{
			ID:            uuid.NewString(),
			CampaignID:    campaign.ID,
			TenantID:      req.TenantID,
			Phone:         r.Phone,
			RecipientName: r.Name,
			Status:        model.MessagePending,
			ErrorKind:     model.ErrorKindNone,
		}
	}

	log := logger.FromContextOr(ctx, s.logger).With(
		zap.String("tenant_id", req.TenantID),
		zap.String("campaign_id", campaign.ID),
	)

	if err := s.repo.CreateCampaign(ctx, campaign, messages); err != nil {
		return nil, fmt.Errorf("create campaign: %w", err)
	}
	if _, err := s.repo.StartCampaign(ctx, req.TenantID, campaign.ID, s.now()); err != nil {
		return nil, fmt.Errorf("start campaign: %w", err)
	}

	enqueued := 0
	for i, m := range messages {
		opts := queue.Options{
			Delay:    time.Duration(i*delayMs) * time.Millisecond,
			Attempts: s.cfg.MaxAttempts,
			Backoff:  queue.Exponential(s.cfg.BackoffDelay),
			JobID:    m.ID,
		}
		if _, err := s.queue.Enqueue(ctx, queue.CampaignSend, req.TenantID, sendJob{CampaignID: campaign.ID, MessageID: m.ID}, opts); err != nil {
			log.Error("Failed to enqueue campaign message", zap.String("message_id", m.ID), zap.Error(err))
			if _, serr := s.settle(ctx, campaign, m, model.MessageUpdate{
				Status:       model.MessageFailed,
				ErrorKind:    model.ErrorKindUnknown,
				ErrorMessage: err.Error(),
			}); serr != nil {
				log.Error("Failed to record enqueue failure", zap.String("message_id", m.ID), zap.Error(serr))
			}
			continue
		}
		enqueued++
		if _, err := s.repo.TransitionCampaignMessage(ctx, req.TenantID, m.ID,
			model.MessageUpdate{Status: model.MessageQueued}, model.MessagePending); err != nil {
			log.Warn("Failed to mark campaign message queued", zap.String("message_id", m.ID), zap.Error(err))
		}
	}

	log.Info("Campaign submitted",
		zap.Int("recipients", len(recipients)),
		zap.Int("submitted", len(req.Recipients)),
		zap.Int("enqueued", enqueued),
		zap.Int("delay_ms", delayMs))

	return s.repo.FindCampaign(ctx, req.TenantID, campaign.ID)
}

// Cancel stops a PENDING or PROCESSING campaign. Messages not yet sent are cancelled by
// their workers.
func (s *Service) Cancel(ctx context.Context, tenantID, campaignID string) error {
	cancelled, err := s.repo.CancelCampaign(ctx, tenantID, campaignID)
	if err != nil {
		return err
	}
	if cancelled {
		logger.FromContextOr(ctx, s.logger).Info("Campaign cancelled",
			zap.String("tenant_id", tenantID), zap.String("campaign_id", campaignID))
		return nil
	}

	c, err := s.repo.FindCampaign(ctx, tenantID, campaignID)
	if err != nil {
		return err
	}
	if c.Status == model.CampaignCancelled {
		return nil
	}
	return fmt.Errorf("%w: campaign %s is %s", apperrors.ErrConflict, campaignID, c.Status)
}

// settle applies a guarded terminal update and, when it wins, records the outcome on the
// campaign. It reports whether this call moved the message.
func (s *Service) settle(ctx context.Context, campaign *model.Campaign, msg *model.CampaignMessage, update model.MessageUpdate) (bool, error) {
	won, err := s.repo.TransitionCampaignMessage(ctx, msg.TenantID, msg.ID, update, model.MessagePending, model.MessageQueued)
	if err != nil || !won {
		return false, err
	}
	recordOutcome(msg.TenantID, update.Status)

	updated, completed, err := s.repo.RecordCampaignOutcome(ctx, msg.TenantID, campaign.ID, model.OutcomeFor(update.Status), s.now())
	if err != nil {
		return true, fmt.Errorf("record campaign outcome: %w", err)
	}
	if completed {
		s.completed(ctx, updated)
	}
	return true, nil
}

func (s *Service) completed(ctx context.Context, c *model.Campaign) {
	logger.FromContextOr(ctx, s.logger).Info("Campaign finished",
		zap.String("tenant_id", c.TenantID),
		zap.String("campaign_id", c.ID),
		zap.String("status", string(c.Status)),
		zap.Int("sent", c.SentCount),
		zap.Int("failed", c.FailedCount),
		zap.Int("invalid", c.InvalidCount))

	s.notifier.Notify(ctx, notify.Event{
		Type:     notify.CampaignCompleted,
		TenantID: c.TenantID,
		Data: map[string]interface{}{
			"campaign_id": c.ID,
			"status":      c.Status,
			"sent":        c.SentCount,
			"failed":      c.FailedCount,
			"invalid":     c.InvalidCount,
		},
	})
}

// isTerminalSendError reports errors that end the message without a retry.
func isTerminalSendError(err error) bool {
	return errors.Is(err, apperrors.ErrQuotaExhausted) || errors.Is(err, apperrors.ErrNotRegistered)
}
