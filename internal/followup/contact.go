package followup

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Linggaept/backend-waspread-sub001/internal/apperrors"
	"github.com/Linggaept/backend-waspread-sub001/internal/campaign"
	"github.com/Linggaept/backend-waspread-sub001/internal/config"
	"github.com/Linggaept/backend-waspread-sub001/internal/delivery"
	"github.com/Linggaept/backend-waspread-sub001/internal/model"
	"github.com/Linggaept/backend-waspread-sub001/internal/notify"
	"github.com/Linggaept/backend-waspread-sub001/internal/observer"
	"github.com/Linggaept/backend-waspread-sub001/internal/queue"
	"github.com/Linggaept/backend-waspread-sub001/internal/storage"
	"github.com/Linggaept/backend-waspread-sub001/internal/transport"
	"github.com/Linggaept/backend-waspread-sub001/internal/validator"
	"github.com/Linggaept/backend-waspread-sub001/pkg/logger"
	"github.com/Linggaept/backend-waspread-sub001/pkg/utils"
)

const contactPipeline = "contact_followup"

// ScheduleRequest is a single message a user wants sent to one contact later.
type ScheduleRequest struct {
	TenantID    string    `json:"tenant_id" validate:"required"`
	Phone       string    `json:"phone" validate:"required,phone"`
	Message     string    `json:"message" validate:"required"`
	ScheduledAt time.Time `json:"scheduled_at" validate:"required"`
}

type contactJob struct {
	FollowupID string `json:"followup_id"`
}

// ContactService sends ad-hoc follow-ups. Each row is independent.
type ContactService struct {
	repo     storage.ContactFollowupRepo
	queue    queue.Enqueuer
	sender   *delivery.Sender
	notifier notify.Notifier
	cfg      config.ContactFollowupConfig
	logger   *zap.Logger
	now      func() time.Time
}

// NewContactService creates the contact follow-up service.
func NewContactService(repo storage.ContactFollowupRepo, q queue.Enqueuer, sender *delivery.Sender, notifier notify.Notifier, cfg config.ContactFollowupConfig, log *zap.Logger) *ContactService {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	return &ContactService{
		repo:     repo,
		queue:    q,
		sender:   sender,
		notifier: notifier,
		cfg:      cfg,
		logger:   log.Named("contact_followup"),
		now:      utils.Now,
	}
}

// SetClock replaces the time source.
func (s *ContactService) SetClock(now func() time.Time) {
	s.now = now
}

// Schedule stores a contact follow-up. A time in the past makes it due on the next poll.
func (s *ContactService) Schedule(ctx context.Context, req ScheduleRequest) (*model.ContactFollowup, error) {
	if err := validator.Validate(req); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrValidation, err)
	}
	phone := campaign.NormalizePhone(req.Phone)
	if phone == "" {
		return nil, fmt.Errorf("%w: phone %q has no digits", apperrors.ErrValidation, req.Phone)
	}
	f := &model.ContactFollowup{
		ID:          uuid.NewString(),
		TenantID:    req.TenantID,
		Phone:       phone,
		Message:     req.Message,
		Status:      model.ContactFollowupScheduled,
		ScheduledAt: req.ScheduledAt.UTC(),
	}
	if err := s.repo.CreateContactFollowup(ctx, f); err != nil {
		return nil, fmt.Errorf("create contact follow-up: %w", err)
	}
	logger.FromContextOr(ctx, s.logger).Info("Contact follow-up scheduled",
		zap.String("tenant_id", f.TenantID),
		zap.String("followup_id", f.ID),
		zap.Time("scheduled_at", f.ScheduledAt))
	return f, nil
}

// Cancel stops a follow-up that has not been sent.
func (s *ContactService) Cancel(ctx context.Context, tenantID, id string) error {
	ok, err := s.repo.TransitionContactFollowup(ctx, tenantID, id,
		model.ContactFollowupUpdate{Status: model.ContactFollowupCancelled},
		model.ContactFollowupScheduled, model.ContactFollowupQueued)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	f, err := s.repo.FindContactFollowup(ctx, tenantID, id)
	if err != nil {
		return err
	}
	if f.Status == model.ContactFollowupCancelled {
		return nil
	}
	return fmt.Errorf("%w: contact follow-up %s is %s", apperrors.ErrConflict, id, f.Status)
}

// DispatchDue enqueues every due follow-up and returns how many were queued.
func (s *ContactService) DispatchDue(ctx context.Context) (int, error) {
	log := logger.FromContextOr(ctx, s.logger)
	due, err := s.repo.FindDueContactFollowups(ctx, s.now(), s.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("find due contact follow-ups: %w", err)
	}

	queued := 0
	for i := range due {
		f := &due[i]
		won, err := s.repo.TransitionContactFollowup(ctx, f.TenantID, f.ID,
			model.ContactFollowupUpdate{Status: model.ContactFollowupQueued}, model.ContactFollowupScheduled)
		if err != nil {
			log.Error("Failed to mark contact follow-up queued", zap.String("followup_id", f.ID), zap.Error(err))
			continue
		}
		if !won {
			continue
		}
		if _, err := s.queue.Enqueue(ctx, queue.ContactFollowupSend, f.TenantID, contactJob{FollowupID: f.ID}, queue.Options{
			Attempts: s.cfg.MaxAttempts,
			Backoff:  queue.Exponential(s.cfg.BackoffDelay),
			JobID:    f.ID,
		}); err != nil {
			log.Error("Failed to enqueue contact follow-up", zap.String("followup_id", f.ID), zap.Error(err))
			if _, rerr := s.repo.TransitionContactFollowup(ctx, f.TenantID, f.ID,
				model.ContactFollowupUpdate{Status: model.ContactFollowupScheduled}, model.ContactFollowupQueued); rerr != nil {
				log.Error("Failed to reschedule contact follow-up", zap.String("followup_id", f.ID), zap.Error(rerr))
			}
			continue
		}
		queued++
	}
	if len(due) > 0 {
		log.Info("Contact follow-up dispatch finished", zap.Int("due", len(due)), zap.Int("queued", queued))
	}
	return queued, nil
}

// ProcessMessage is the contact-followup-send handler.
func (s *ContactService) ProcessMessage(ctx context.Context, job *queue.Job) error {
	var p contactJob
	if err := job.Decode(&p); err != nil {
		return err
	}
	tenantID := job.TenantID
	log := logger.FromContextOr(ctx, s.logger).With(
		zap.String("tenant_id", tenantID),
		zap.String("followup_id", p.FollowupID),
		zap.Int("attempt", job.Attempt),
	)
	ctx = logger.WithLogger(ctx, log)

	f, err := s.repo.FindContactFollowup(ctx, tenantID, p.FollowupID)
	if err != nil {
		return apperrors.FromRepository(ctx, err, "find contact follow-up", p.FollowupID)
	}
	if f.Status.IsTerminal() {
		log.Debug("Contact follow-up already settled, skipping", zap.String("status", string(f.Status)))
		return nil
	}

	if err := s.sender.Preflight(ctx, tenantID, f.Phone); err != nil {
		if isTerminalSendError(err) {
			return s.fail(ctx, f, err)
		}
		return s.retryOrFail(ctx, job, f, err)
	}
	transportID, err := s.sender.Send(ctx, transport.Message{TenantID: tenantID, Phone: f.Phone, Text: f.Message})
	if err != nil {
		if isTerminalSendError(err) {
			return s.fail(ctx, f, err)
		}
		return s.retryOrFail(ctx, job, f, err)
	}

	sentAt := s.now()
	won, err := s.repo.TransitionContactFollowup(ctx, tenantID, f.ID, model.ContactFollowupUpdate{
		Status:             model.ContactFollowupSent,
		TransportMessageID: transportID,
		SentAt:             &sentAt,
	})
	if err != nil {
		log.Error("Contact follow-up sent but not recorded", zap.String("transport_message_id", transportID), zap.Error(err))
		return apperrors.NewFatal(err, "record sent contact follow-up %s", f.ID)
	}
	if !won {
		log.Warn("Contact follow-up settled concurrently after send", zap.String("transport_message_id", transportID))
		return nil
	}

	observer.IncSendOutcome(contactPipeline, tenantID, string(model.ContactFollowupSent))
	log.Info("Contact follow-up sent", zap.String("transport_message_id", transportID))
	s.notifier.Notify(ctx, notify.Event{
		Type:     notify.ContactFollowupSent,
		TenantID: tenantID,
		At:       sentAt,
		Data: map[string]interface{}{
			"followup_id": f.ID,
			"phone":       f.Phone,
		},
	})
	return nil
}

func (s *ContactService) fail(ctx context.Context, f *model.ContactFollowup, cause error) error {
	logger.FromContextOr(ctx, s.logger).Warn("Contact follow-up failed permanently",
		zap.String("error_kind", string(transport.Classify(cause))),
		zap.Error(cause))
	won, err := s.repo.TransitionContactFollowup(ctx, f.TenantID, f.ID,
		model.ContactFollowupUpdate{Status: model.ContactFollowupFailed, ErrorMessage: cause.Error()})
	if won {
		observer.IncSendOutcome(contactPipeline, f.TenantID, string(model.ContactFollowupFailed))
	}
	return apperrors.FromRepository(ctx, err, "fail contact follow-up", f.ID)
}

func (s *ContactService) retryOrFail(ctx context.Context, job *queue.Job, f *model.ContactFollowup, cause error) error {
	if _, err := s.repo.IncrementContactFollowupRetry(ctx, f.TenantID, f.ID, cause.Error()); err != nil {
		return apperrors.FromRepository(ctx, err, "increment contact follow-up retry", f.ID)
	}
	if !job.IsFinalAttempt() {
		return apperrors.NewRetryable(cause, "send contact follow-up %s", f.ID)
	}
	return s.fail(ctx, f, cause)
}
