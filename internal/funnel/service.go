// Package funnel tracks each phone number through the sales funnel.
package funnel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Linggaept/backend-waspread-sub001/internal/apperrors"
	"github.com/Linggaept/backend-waspread-sub001/internal/config"
	"github.com/Linggaept/backend-waspread-sub001/internal/model"
	"github.com/Linggaept/backend-waspread-sub001/internal/notify"
	"github.com/Linggaept/backend-waspread-sub001/internal/observer"
	"github.com/Linggaept/backend-waspread-sub001/internal/storage"
	"github.com/Linggaept/backend-waspread-sub001/pkg/logger"
	"github.com/Linggaept/backend-waspread-sub001/pkg/utils"
)

// Triggers recorded in the stage history.
const (
	TriggerBlast    = "blast_sent"
	TriggerDelivery = "delivery_receipt"
	TriggerInbound  = "inbound_message"
	TriggerStale    = "stale"
)

// maxCASAttempts exceeds the number of stages, so a caller only gives up after real progress.
const maxCASAttempts = 8

// Transition describes the result of one Advance call.
type Transition struct {
	From    model.Stage
	To      model.Stage
	Changed bool
	Funnel  *model.ConversationFunnel
}

type advanceOptions struct {
	campaignID   string
	campaignName string
	dealValue    *float64
	closeReason  string
	at           time.Time
}

// Option adjusts the fields written together with a stage change.
type Option func(*advanceOptions)

// WithCampaign records the originating campaign.
func WithCampaign(id, name string) Option {
	return func(o *advanceOptions) {
		o.campaignID = id
		o.campaignName = name
	}
}

// WithDealValue records the deal value on the funnel.
func WithDealValue(v float64) Option {
	return func(o *advanceOptions) {
		o.dealValue = &v
	}
}

// WithCloseReason records why the funnel was closed.
func WithCloseReason(reason string) Option {
	return func(o *advanceOptions) {
		o.closeReason = reason
	}
}

// withTime stamps the transition with at instead of the service clock.
func withTime(at time.Time) Option {
	return func(o *advanceOptions) {
		o.at = at
	}
}

func (o *advanceOptions) apply(f *model.ConversationFunnel) {
	if o.campaignID != "" {
		f.CampaignID = o.campaignID
		f.CampaignName = o.campaignName
	}
	if o.dealValue != nil {
		f.DealValue = o.dealValue
	}
	if o.closeReason != "" {
		f.CloseReason = o.closeReason
	}
}

// allowed reports whether a funnel at current may move to candidate.
func allowed(current, candidate model.Stage) bool {
	if current.IsTerminal() {
		return false
	}
	if candidate == model.StageClosedLost {
		return true
	}
	return candidate.Rank() > current.Rank()
}

// Service is the funnel state machine.
type Service struct {
	repo     storage.FunnelRepo
	settings storage.SettingsRepo
	cfg      config.FunnelConfig
	notifier notify.Notifier
	logger   *zap.Logger
	now      func() time.Time
}

// NewService creates the funnel state machine.
func NewService(repo storage.FunnelRepo, settings storage.SettingsRepo, cfg config.FunnelConfig, notifier notify.Notifier, log *zap.Logger) *Service {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Service{
		repo:     repo,
		settings: settings,
		cfg:      cfg,
		notifier: notifier,
		logger:   log.Named("funnel"),
		now:      utils.Now,
	}
}

// SetClock replaces the time source.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Advance moves the funnel of phone to candidate when the transition rules allow it,
// creating the row when the phone has none. Lower or equal stages are a no-op.
// A lost compare-and-set reloads the row and decides again.
func (s *Service) Advance(ctx context.Context, tenantID, phone string, candidate model.Stage, trigger string, opts ...Option) (*Transition, error) {
	if !candidate.IsValid() {
		return nil, fmt.Errorf("%w: unknown funnel stage %q", apperrors.ErrValidation, candidate)
	}
	var o advanceOptions
	for _, opt := range opts {
		opt(&o)
	}
	log := logger.FromContextOr(ctx, s.logger).With(
		zap.String("tenant_id", tenantID),
		zap.String("phone", phone),
		zap.String("candidate", string(candidate)),
	)

	for attempt := 1; attempt <= maxCASAttempts; attempt++ {
		now := o.at
		if now.IsZero() {
			now = s.now()
		}
		current, err := s.repo.FindFunnel(ctx, tenantID, phone)
		if errors.Is(err, apperrors.ErrNotFound) {
			f := &model.ConversationFunnel{TenantID: tenantID, Phone: phone, CreatedAt: now}
			o.apply(f)
			f.Enter(candidate, now, trigger)
			err = s.repo.CreateFunnel(ctx, f)
			if errors.Is(err, apperrors.ErrDuplicate) {
				log.Debug("Funnel created concurrently, retrying", zap.Int("attempt", attempt))
				continue
			}
			if err != nil {
				return nil, err
			}
			t := &Transition{To: candidate, Changed: true, Funnel: f}
			s.committed(ctx, t, trigger)
			return t, nil
		}
		if err != nil {
			return nil, err
		}

		from := current.Stage
		if !allowed(from, candidate) {
			return &Transition{From: from, To: from, Funnel: current}, nil
		}

		o.apply(current)
		current.Enter(candidate, now, trigger)
		swapped, err := s.repo.CompareAndSwapFunnel(ctx, current, from)
		if err != nil {
			return nil, err
		}
		if swapped {
			t := &Transition{From: from, To: candidate, Changed: true, Funnel: current}
			s.committed(ctx, t, trigger)
			return t, nil
		}
		log.Debug("Funnel stage changed concurrently, retrying", zap.Int("attempt", attempt))
	}

	return nil, fmt.Errorf("%w: funnel %s kept changing after %d attempts", apperrors.ErrConflict, phone, maxCASAttempts)
}

func (s *Service) committed(ctx context.Context, t *Transition, trigger string) {
	f := t.Funnel
	observer.IncFunnelTransition(f.TenantID, string(t.From), string(t.To))
	logger.FromContextOr(ctx, s.logger).Info("Funnel stage changed",
		zap.String("tenant_id", f.TenantID),
		zap.String("phone", f.Phone),
		zap.String("from", string(t.From)),
		zap.String("to", string(t.To)),
		zap.String("trigger", trigger))

	s.notifier.Notify(ctx, notify.Event{
		Type:     notify.FunnelStageChanged,
		TenantID: f.TenantID,
		At:       f.UpdatedAt,
		Data: map[string]interface{}{
			"phone":   f.Phone,
			"from":    t.From,
			"to":      t.To,
			"trigger": trigger,
		},
	})
}

// HandleBlastSent records a successful campaign send.
func (s *Service) HandleBlastSent(ctx context.Context, tenantID, phone, campaignID, campaignName string) (*Transition, error) {
	return s.Advance(ctx, tenantID, phone, model.StageBlastSent, TriggerBlast, WithCampaign(campaignID, campaignName))
}

// HandleDelivery advances an existing funnel to DELIVERED. Receipts for numbers without a
// funnel are ignored.
func (s *Service) HandleDelivery(ctx context.Context, tenantID, phone string) (*Transition, error) {
	current, err := s.repo.FindFunnel(ctx, tenantID, phone)
	if errors.Is(err, apperrors.ErrNotFound) {
		return &Transition{}, nil
	}
	if err != nil {
		return nil, err
	}
	if !allowed(current.Stage, model.StageDelivered) {
		return &Transition{From: current.Stage, To: current.Stage, Funnel: current}, nil
	}
	return s.Advance(ctx, tenantID, phone, model.StageDelivered, TriggerDelivery)
}

// HandleInbound records an inbound message: the funnel moves at least to REPLIED, the
// inbound time is stamped and the text is scanned for stage keywords. Every write uses
// the same timestamp, so the stage a message triggers is never newer than the message.
func (s *Service) HandleInbound(ctx context.Context, tenantID, phone, text string) (*Transition, error) {
	now := s.now()
	t, err := s.Advance(ctx, tenantID, phone, model.StageReplied, TriggerInbound, withTime(now))
	if err != nil {
		return nil, err
	}
	if err := s.repo.TouchFunnelInbound(ctx, tenantID, phone, now); err != nil {
		return nil, err
	}

	stage, keyword, ok := s.keywordsFor(ctx, tenantID).Match(text)
	if !ok {
		return t, nil
	}

	opts := []Option{withTime(now)}
	if stage.IsTerminal() {
		opts = append(opts, WithCloseReason("keyword: "+keyword))
	}
	kt, err := s.Advance(ctx, tenantID, phone, stage, "keyword:"+keyword, opts...)
	if err != nil {
		return nil, err
	}
	if !kt.Changed {
		return t, nil
	}
	if t.Changed {
		kt.From = t.From
	}
	return kt, nil
}

// SweepStale closes every non-terminal funnel untouched for the configured window.
// It returns the number of funnels closed.
func (s *Service) SweepStale(ctx context.Context) (int, error) {
	log := logger.FromContextOr(ctx, s.logger)
	window := s.cfg.StaleAfter
	if window <= 0 {
		window = 7 * 24 * time.Hour
	}
	batch := s.cfg.SweepBatchSize
	if batch <= 0 {
		batch = 500
	}
	cutoff := s.now().Add(-window)

	closed := 0
	for {
		if err := ctx.Err(); err != nil {
			return closed, err
		}
		funnels, err := s.repo.FindStaleFunnels(ctx, cutoff, batch)
		if err != nil {
			return closed, err
		}

		progressed := 0
		for _, f := range funnels {
			t, err := s.Advance(ctx, f.TenantID, f.Phone, model.StageClosedLost, TriggerStale, WithCloseReason(TriggerStale))
			if err != nil {
				log.Warn("Failed to close stale funnel", zap.String("tenant_id", f.TenantID), zap.String("phone", f.Phone), zap.Error(err))
				continue
			}
			if t.Changed {
				closed++
				progressed++
			}
		}
		if len(funnels) < batch || progressed == 0 {
			break
		}
	}

	log.Info("Stale funnel sweep finished", zap.Int("closed", closed), zap.Time("cutoff", cutoff))
	return closed, nil
}
