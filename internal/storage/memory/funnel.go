package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/Linggaept/backend-waspread-sub001/internal/apperrors"
	"github.com/Linggaept/backend-waspread-sub001/internal/model"
	"github.com/Linggaept/backend-waspread-sub001/internal/validator"
	"github.com/Linggaept/backend-waspread-sub001/pkg/utils"
)

func cloneFunnel(f model.ConversationFunnel) *model.ConversationFunnel {
	f.History = slices.Clone(f.History)
	return &f
}

func (s *Store) FindFunnel(ctx context.Context, tenantID, phone string) (*model.ConversationFunnel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.funnels[funnelKey(tenantID, phone)]
	if !ok {
		return nil, notFound("funnel", phone)
	}
	return cloneFunnel(f), nil
}

func (s *Store) CreateFunnel(ctx context.Context, funnel *model.ConversationFunnel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := funnelKey(funnel.TenantID, funnel.Phone)
	if _, ok := s.funnels[key]; ok {
		return fmt.Errorf("%w: funnel %s", apperrors.ErrDuplicate, funnel.Phone)
	}
	if funnel.ID == "" {
		funnel.ID = uuid.NewString()
	}
	stamp(&funnel.CreatedAt, &funnel.UpdatedAt)
	s.funnels[key] = *cloneFunnel(*funnel)
	return nil
}

// CompareAndSwapFunnel copies the stage fields only, like the postgres column list.
func (s *Store) CompareAndSwapFunnel(ctx context.Context, funnel *model.ConversationFunnel, expected model.Stage) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := funnelKey(funnel.TenantID, funnel.Phone)
	stored, ok := s.funnels[key]
	if !ok || stored.ID != funnel.ID || stored.Stage != expected {
		return false, nil
	}

	stored.Stage = funnel.Stage
	stored.CampaignID = funnel.CampaignID
	stored.CampaignName = funnel.CampaignName
	stored.BlastSentAt = funnel.BlastSentAt
	stored.DeliveredAt = funnel.DeliveredAt
	stored.RepliedAt = funnel.RepliedAt
	stored.InterestedAt = funnel.InterestedAt
	stored.NegotiatingAt = funnel.NegotiatingAt
	stored.ClosedAt = funnel.ClosedAt
	stored.DealValue = funnel.DealValue
	stored.CloseReason = funnel.CloseReason
	stored.History = slices.Clone(funnel.History)
	stored.UpdatedAt = funnel.UpdatedAt
	s.funnels[key] = stored
	return true, nil
}

func (s *Store) TouchFunnelInbound(ctx context.Context, tenantID, phone string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := funnelKey(tenantID, phone)
	f, ok := s.funnels[key]
	if !ok {
		return nil
	}
	inbound := at
	f.LastInboundAt = &inbound
	f.UpdatedAt = at
	s.funnels[key] = f
	return nil
}

func (s *Store) FindStaleFunnels(ctx context.Context, updatedBefore time.Time, limit int) ([]model.ConversationFunnel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.ConversationFunnel
	for _, f := range s.funnels {
		if !f.Stage.IsTerminal() && f.UpdatedAt.Before(updatedBefore) {
			out = append(out, *cloneFunnel(f))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// --- Auto-reply ---

func (s *Store) CreateAutoReplyLog(ctx context.Context, log *model.AutoReplyLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	if _, ok := s.autoReplyLogs[log.ID]; ok {
		return fmt.Errorf("%w: auto-reply log %s", apperrors.ErrDuplicate, log.ID)
	}
	stamp(&log.CreatedAt, &log.UpdatedAt)
	s.autoReplyLogs[log.ID] = *log
	return nil
}

func (s *Store) FindAutoReplyLog(ctx context.Context, tenantID, id string) (*model.AutoReplyLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.autoReplyLogs[id]
	if !ok || l.TenantID != tenantID {
		return nil, notFound("auto-reply log", id)
	}
	return &l, nil
}

func (s *Store) CompleteAutoReplyLog(ctx context.Context, tenantID, id string, update model.AutoReplyUpdate) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.autoReplyLogs[id]
	if !ok || l.TenantID != tenantID || l.Status != model.AutoReplyQueued {
		return false, nil
	}
	l.Status = update.Status
	l.ReplyText = update.ReplyText
	l.CostUnits = update.CostUnits
	l.UsedFallback = update.UsedFallback
	if update.TransportMessageID != "" {
		l.TransportMessageID = update.TransportMessageID
	}
	if update.ErrorMessage != "" {
		l.ErrorMessage = update.ErrorMessage
	}
	if update.SentAt != nil {
		sentAt := *update.SentAt
		l.SentAt = &sentAt
	}
	l.UpdatedAt = utils.Now()
	s.autoReplyLogs[id] = l
	return true, nil
}

func (s *Store) LastAutoReplySentAt(ctx context.Context, tenantID, phone string) (*time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var last *time.Time
	for _, l := range s.autoReplyLogs {
		if l.TenantID != tenantID || l.Phone != phone || l.Status != model.AutoReplySent || l.SentAt == nil {
			continue
		}
		if last == nil || l.SentAt.After(*last) {
			sentAt := *l.SentAt
			last = &sentAt
		}
	}
	return last, nil
}

// AutoReplyLogs returns every log row of a tenant ordered by creation, for inspection in tests.
func (s *Store) AutoReplyLogs(tenantID string) []model.AutoReplyLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.AutoReplyLog
	for _, l := range s.autoReplyLogs {
		if l.TenantID == tenantID {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// --- Settings ---

func (s *Store) GetAutoReplySettings(ctx context.Context, tenantID string) (*model.AutoReplySettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	settings, ok := s.autoReplySettings[tenantID]
	if !ok {
		return nil, notFound("auto-reply settings", tenantID)
	}
	settings.Blocklist = slices.Clone(settings.Blocklist)
	return &settings, nil
}

func (s *Store) SaveAutoReplySettings(ctx context.Context, settings *model.AutoReplySettings) error {
	if err := validator.Validate(settings); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrValidation, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	settings.UpdatedAt = utils.Now()
	stored := *settings
	stored.Blocklist = slices.Clone(settings.Blocklist)
	s.autoReplySettings[settings.TenantID] = stored
	return nil
}

func (s *Store) GetFunnelSettings(ctx context.Context, tenantID string) (*model.FunnelSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	settings, ok := s.funnelSettings[tenantID]
	if !ok {
		return nil, notFound("funnel settings", tenantID)
	}
	return &settings, nil
}

func (s *Store) SaveFunnelSettings(ctx context.Context, settings *model.FunnelSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	settings.UpdatedAt = utils.Now()
	s.funnelSettings[settings.TenantID] = *settings
	return nil
}

// --- Exhausted jobs ---

func (s *Store) SaveExhaustedJob(ctx context.Context, job model.ExhaustedJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job.ID = uint(len(s.exhaustedJobs) + 1)
	if job.CreatedAt.IsZero() {
		job.CreatedAt = utils.Now()
	}
	s.exhaustedJobs = append(s.exhaustedJobs, job)
	return nil
}

// ExhaustedJobs returns a copy of the stored exhausted jobs.
func (s *Store) ExhaustedJobs() []model.ExhaustedJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.exhaustedJobs)
}
