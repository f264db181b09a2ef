// Package autoreply decides whether an inbound message gets an AI reply and sends it
// after a humanizing delay.
package autoreply

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Linggaept/backend-waspread-sub001/internal/apperrors"
	"github.com/Linggaept/backend-waspread-sub001/internal/cache"
	"github.com/Linggaept/backend-waspread-sub001/internal/config"
	"github.com/Linggaept/backend-waspread-sub001/internal/model"
	"github.com/Linggaept/backend-waspread-sub001/internal/notify"
	"github.com/Linggaept/backend-waspread-sub001/internal/observer"
	"github.com/Linggaept/backend-waspread-sub001/internal/queue"
	"github.com/Linggaept/backend-waspread-sub001/internal/quota"
	"github.com/Linggaept/backend-waspread-sub001/internal/replygen"
	"github.com/Linggaept/backend-waspread-sub001/internal/storage"
	"github.com/Linggaept/backend-waspread-sub001/internal/transport"
	"github.com/Linggaept/backend-waspread-sub001/pkg/logger"
	"github.com/Linggaept/backend-waspread-sub001/pkg/utils"
)

// MediaFetcher downloads the media attached to an inbound message.
type MediaFetcher func(ctx context.Context) (data []byte, mimeType string, err error)

// Inbound is one message received from a contact.
type Inbound struct {
	TenantID     string
	Phone        string
	MessageID    string
	Text         string
	MediaFetcher MediaFetcher
}

type replyJob struct {
	LogID         string `json:"log_id"`
	Text          string `json:"text"`
	Media         []byte `json:"media,omitempty"`
	MediaMimeType string `json:"media_mime_type,omitempty"`
}

// Service runs the auto-reply gates and the auto-reply-send worker.
type Service struct {
	logs      storage.AutoReplyRepo
	settings  storage.SettingsRepo
	ledger    quota.Ledger
	blocklist *cache.BlocklistCache
	generator replygen.Generator
	transport transport.Transport
	queue     queue.Enqueuer
	notifier  notify.Notifier
	pricing   Pricing
	cfg       config.AutoReplyConfig
	logger    *zap.Logger
	now       func() time.Time

	randMu sync.Mutex
	rand   *rand.Rand
}

// NewService creates the auto-reply pipeline. Prices come from cfg unless SetPricing is called.
func NewService(
	logs storage.AutoReplyRepo,
	settings storage.SettingsRepo,
	ledger quota.Ledger,
	blocklist *cache.BlocklistCache,
	generator replygen.Generator,
	tr transport.Transport,
	q queue.Enqueuer,
	notifier notify.Notifier,
	cfg config.AutoReplyConfig,
	log *zap.Logger,
) *Service {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if blocklist == nil {
		blocklist = cache.NewBlocklistCache(cfg.BlocklistFPRate)
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 2
	}
	if cfg.BackoffDelay <= 0 {
		cfg.BackoffDelay = 10 * time.Second
	}
	return &Service{
		logs:      logs,
		settings:  settings,
		ledger:    ledger,
		blocklist: blocklist,
		generator: generator,
		transport: tr,
		queue:     q,
		notifier:  notifier,
		pricing:   ConfigPricing{Text: cfg.TextCost, Image: cfg.ImageCost},
		cfg:       cfg,
		logger:    log.Named("autoreply"),
		now:       utils.Now,
		rand:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SetClock replaces the time source.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// SetPricing replaces the cost estimator.
func (s *Service) SetPricing(p Pricing) {
	s.pricing = p
}

// SetRand replaces the delay source.
func (s *Service) SetRand(r *rand.Rand) {
	s.randMu.Lock()
	s.rand = r
	s.randMu.Unlock()
}

// HandleIncoming runs the gates for one inbound message. A skipped message yields a
// SKIPPED log and no error; a passing one yields a QUEUED log with its send job enqueued.
func (s *Service) HandleIncoming(ctx context.Context, in Inbound) (*model.AutoReplyLog, error) {
	log := logger.FromContextOr(ctx, s.logger).With(
		zap.String("tenant_id", in.TenantID),
		zap.String("phone", in.Phone),
		zap.String("inbound_message_id", in.MessageID),
	)
	ctx = logger.WithLogger(ctx, log)

	settings, err := s.settings.GetAutoReplySettings(ctx, in.TenantID)
	if errors.Is(err, apperrors.ErrNotFound) {
		settings, err = nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load auto-reply settings: %w", err)
	}

	hasMedia := in.MediaFetcher != nil
	estimate := s.pricing.EstimateCost(settings, hasMedia)
	entry := &model.AutoReplyLog{
		ID:               uuid.NewString(),
		TenantID:         in.TenantID,
		Phone:            in.Phone,
		InboundMessageID: in.MessageID,
		InboundText:      in.Text,
		HasMedia:         hasMedia,
		EstimatedCost:    estimate,
	}

	reason, err := s.gate(ctx, settings, in, estimate)
	if err != nil {
		return nil, err
	}
	if reason != "" {
		entry.Status = model.AutoReplySkipped
		entry.SkipReason = reason
		if err := s.logs.CreateAutoReplyLog(ctx, entry); err != nil {
			return nil, fmt.Errorf("create skipped auto-reply log: %w", err)
		}
		observer.IncAutoReplyDecision(in.TenantID, reason)
		log.Debug("Auto-reply skipped", zap.String("reason", reason))
		return entry, nil
	}

	job := replyJob{LogID: entry.ID, Text: in.Text}
	if hasMedia {
		data, mime, err := in.MediaFetcher(ctx)
		if err != nil {
			log.Warn("Failed to fetch inbound media, replying to text only", zap.Error(err))
		} else {
			job.Media, job.MediaMimeType = data, mime
		}
	}

	entry.DelaySeconds = s.delay(settings.DelayMinSeconds, settings.DelayMaxSeconds)
	entry.Status = model.AutoReplyQueued
	if err := s.logs.CreateAutoReplyLog(ctx, entry); err != nil {
		return nil, fmt.Errorf("create auto-reply log: %w", err)
	}

	_, err = s.queue.Enqueue(ctx, queue.AutoReplySend, in.TenantID, job, queue.Options{
		Delay:    time.Duration(entry.DelaySeconds) * time.Second,
		Attempts: s.cfg.MaxAttempts,
		Backoff:  queue.Fixed(s.cfg.BackoffDelay),
		JobID:    entry.ID,
	})
	if err != nil {
		if _, ferr := s.logs.CompleteAutoReplyLog(ctx, in.TenantID, entry.ID, model.AutoReplyUpdate{
			Status:       model.AutoReplyFailed,
			ErrorMessage: err.Error(),
		}); ferr != nil {
			log.Error("Failed to mark unqueued auto-reply failed", zap.Error(ferr))
		}
		return nil, fmt.Errorf("enqueue auto-reply: %w", err)
	}

	observer.IncAutoReplyDecision(in.TenantID, "queued")
	log.Info("Auto-reply queued",
		zap.String("auto_reply_log_id", entry.ID),
		zap.Int("delay_seconds", entry.DelaySeconds),
		zap.Float64("estimated_cost", estimate))
	return entry, nil
}

// gate returns the first skip reason that applies, or "".
func (s *Service) gate(ctx context.Context, settings *model.AutoReplySettings, in Inbound, estimate float64) (string, error) {
	if settings == nil || !settings.Enabled {
		return model.SkipReasonDisabled, nil
	}

	balance, err := s.ledger.CheckAiBalance(ctx, in.TenantID, estimate)
	if err != nil {
		return "", fmt.Errorf("check ai balance: %w", err)
	}
	if !balance.HasEnough {
		return model.SkipReasonInsufficientBalance, nil
	}

	if settings.WorkingHoursEnabled {
		loc := location(settings.Timezone, s.cfg.DefaultTimezone)
		open, err := WithinWorkingHours(settings.WorkingHoursStart, settings.WorkingHoursEnd, loc, s.now())
		if err != nil {
			logger.FromContextOr(ctx, s.logger).Warn("Ignoring malformed working hours", zap.Error(err))
		} else if !open {
			return model.SkipReasonOutsideWorkingHours, nil
		}
	}

	if s.blocklist.Blocked(in.TenantID, in.Phone, settings.Blocklist) {
		return model.SkipReasonBlocked, nil
	}

	if settings.CooldownMinutes > 0 {
		last, err := s.logs.LastAutoReplySentAt(ctx, in.TenantID, in.Phone)
		if err != nil {
			return "", fmt.Errorf("find last auto-reply: %w", err)
		}
		window := time.Duration(settings.CooldownMinutes) * time.Minute
		if last != nil && s.now().Sub(*last) < window {
			return model.SkipReasonCooldown, nil
		}
	}
	return "", nil
}

// delay picks a whole number of seconds in [min, max].
func (s *Service) delay(min, max int) int {
	if max < min {
		min, max = max, min
	}
	if min < 0 {
		min = 0
	}
	if max <= min {
		return min
	}
	s.randMu.Lock()
	defer s.randMu.Unlock()
	return min + s.rand.Intn(max-min+1)
}
