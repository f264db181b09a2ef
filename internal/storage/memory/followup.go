package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Linggaept/backend-waspread-sub001/internal/apperrors"
	"github.com/Linggaept/backend-waspread-sub001/internal/model"
	"github.com/Linggaept/backend-waspread-sub001/pkg/utils"
)

var openFollowupStatuses = []model.FollowupStatus{model.FollowupScheduled, model.FollowupQueued}

func cloneFollowupCampaign(c model.FollowupCampaign) *model.FollowupCampaign {
	c.Steps = slices.Clone(c.Steps)
	return &c
}

func (s *Store) liveFollowupCampaign(tenantID, id string) (model.FollowupCampaign, bool) {
	c, ok := s.followupCampaigns[id]
	if !ok || c.TenantID != tenantID || c.DeletedAt.Valid {
		return model.FollowupCampaign{}, false
	}
	return c, true
}

func (s *Store) CreateFollowupCampaign(ctx context.Context, campaign *model.FollowupCampaign) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if campaign.ID == "" {
		campaign.ID = uuid.NewString()
	}
	if _, ok := s.followupCampaigns[campaign.ID]; ok {
		return fmt.Errorf("%w: follow-up campaign %s", apperrors.ErrDuplicate, campaign.ID)
	}
	stamp(&campaign.CreatedAt, &campaign.UpdatedAt)
	s.followupCampaigns[campaign.ID] = *cloneFollowupCampaign(*campaign)
	return nil
}

func (s *Store) FindFollowupCampaign(ctx context.Context, tenantID, id string) (*model.FollowupCampaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.liveFollowupCampaign(tenantID, id)
	if !ok {
		return nil, notFound("follow-up campaign", id)
	}
	return cloneFollowupCampaign(c), nil
}

func (s *Store) ListRunnableFollowupCampaigns(ctx context.Context) ([]model.FollowupCampaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.FollowupCampaign
	for _, c := range s.followupCampaigns {
		if !c.DeletedAt.Valid && c.Runnable() {
			out = append(out, *cloneFollowupCampaign(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) SetFollowupCampaignStatus(ctx context.Context, tenantID, id string, status model.FollowupCampaignStatus, from ...model.FollowupCampaignStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.liveFollowupCampaign(tenantID, id)
	if !ok {
		return false, nil
	}
	if len(from) > 0 && !slices.Contains(from, c.Status) {
		return false, nil
	}
	c.Status = status
	c.UpdatedAt = utils.Now()
	s.followupCampaigns[id] = c
	return true, nil
}

func (s *Store) IncrementFollowupCounters(ctx context.Context, tenantID, id string, delta model.FollowupCounters) error {
	if delta == (model.FollowupCounters{}) {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.followupCampaigns[id]
	if !ok || c.TenantID != tenantID {
		return nil
	}
	c.TotalScheduled += delta.Scheduled
	c.TotalSent += delta.Sent
	c.TotalSkipped += delta.Skipped
	c.TotalFailed += delta.Failed
	c.TotalReplied += delta.Replied
	c.UpdatedAt = utils.Now()
	s.followupCampaigns[id] = c
	return nil
}

func (s *Store) DeleteFollowupCampaign(ctx context.Context, tenantID, id string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.liveFollowupCampaign(tenantID, id)
	if !ok {
		return 0, notFound("follow-up campaign", id)
	}

	now := utils.Now()
	var cancelled int64
	for msgID, m := range s.followupMessages {
		if m.FollowupCampaignID != id || !slices.Contains(openFollowupStatuses, m.Status) {
			continue
		}
		m.Status = model.FollowupCancelled
		m.SkipReason = "campaign_deleted"
		m.UpdatedAt = now
		s.followupMessages[msgID] = m
		cancelled++
	}

	c.IsActive = false
	c.UpdatedAt = now
	c.DeletedAt = gorm.DeletedAt{Time: now, Valid: true}
	s.followupCampaigns[id] = c
	return cancelled, nil
}

func (s *Store) ListFollowupMessages(ctx context.Context, tenantID, followupCampaignID string) ([]model.FollowupMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.FollowupMessage
	for _, m := range s.followupMessages {
		if m.TenantID == tenantID && m.FollowupCampaignID == followupCampaignID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CampaignMessageID != out[j].CampaignMessageID {
			return out[i].CampaignMessageID < out[j].CampaignMessageID
		}
		return out[i].Step < out[j].Step
	})
	return out, nil
}

func (s *Store) CreateFollowupMessage(ctx context.Context, message *model.FollowupMessage) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := followupKey(message)
	if _, ok := s.followupKeys[key]; ok {
		return false, nil
	}
	if message.ID == "" {
		message.ID = uuid.NewString()
	}
	stamp(&message.CreatedAt, &message.UpdatedAt)
	s.followupMessages[message.ID] = *message
	s.followupKeys[key] = message.ID
	return true, nil
}

func (s *Store) FindDueFollowupMessages(ctx context.Context, now time.Time, limit int) ([]model.FollowupMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.FollowupMessage
	for _, m := range s.followupMessages {
		if m.Status != model.FollowupScheduled || m.ScheduledAt.After(now) {
			continue
		}
		if c, ok := s.liveFollowupCampaign(m.TenantID, m.FollowupCampaignID); ok && c.Runnable() {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(out[j].ScheduledAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) FindFollowupMessage(ctx context.Context, tenantID, id string) (*model.FollowupMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.followupMessages[id]
	if !ok || m.TenantID != tenantID {
		return nil, notFound("follow-up message", id)
	}
	return &m, nil
}

func (s *Store) TransitionFollowupMessage(ctx context.Context, tenantID, id string, update model.FollowupUpdate, from ...model.FollowupStatus) (bool, error) {
	if len(from) == 0 {
		from = openFollowupStatuses
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.followupMessages[id]
	if !ok || m.TenantID != tenantID || !slices.Contains(from, m.Status) {
		return false, nil
	}
	m.Status = update.Status
	if update.ErrorMessage != "" {
		m.ErrorMessage = update.ErrorMessage
	}
	if update.SkipReason != "" {
		m.SkipReason = update.SkipReason
	}
	if update.TransportMessageID != "" {
		m.TransportMessageID = update.TransportMessageID
	}
	if update.SentAt != nil {
		sentAt := *update.SentAt
		m.SentAt = &sentAt
	}
	m.UpdatedAt = utils.Now()
	s.followupMessages[id] = m
	return true, nil
}

func (s *Store) IncrementFollowupMessageRetry(ctx context.Context, tenantID, id string, errMsg string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.followupMessages[id]
	if !ok || m.TenantID != tenantID {
		return 0, notFound("follow-up message", id)
	}
	m.RetryCount++
	m.ErrorMessage = errMsg
	m.UpdatedAt = utils.Now()
	s.followupMessages[id] = m
	return m.RetryCount, nil
}

// --- Contact follow-ups ---

func (s *Store) CreateContactFollowup(ctx context.Context, followup *model.ContactFollowup) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if followup.ID == "" {
		followup.ID = uuid.NewString()
	}
	if _, ok := s.contactFollowups[followup.ID]; ok {
		return fmt.Errorf("%w: contact follow-up %s", apperrors.ErrDuplicate, followup.ID)
	}
	stamp(&followup.CreatedAt, &followup.UpdatedAt)
	s.contactFollowups[followup.ID] = *followup
	return nil
}

func (s *Store) FindContactFollowup(ctx context.Context, tenantID, id string) (*model.ContactFollowup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.contactFollowups[id]
	if !ok || f.TenantID != tenantID {
		return nil, notFound("contact follow-up", id)
	}
	return &f, nil
}

func (s *Store) FindDueContactFollowups(ctx context.Context, now time.Time, limit int) ([]model.ContactFollowup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.ContactFollowup
	for _, f := range s.contactFollowups {
		if f.Status == model.ContactFollowupScheduled && !f.ScheduledAt.After(now) {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(out[j].ScheduledAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) TransitionContactFollowup(ctx context.Context, tenantID, id string, update model.ContactFollowupUpdate, from ...model.ContactFollowupStatus) (bool, error) {
	if len(from) == 0 {
		from = []model.ContactFollowupStatus{model.ContactFollowupScheduled, model.ContactFollowupQueued}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.contactFollowups[id]
	if !ok || f.TenantID != tenantID || !slices.Contains(from, f.Status) {
		return false, nil
	}
	f.Status = update.Status
	if update.ErrorMessage != "" {
		f.ErrorMessage = update.ErrorMessage
	}
	if update.TransportMessageID != "" {
		f.TransportMessageID = update.TransportMessageID
	}
	if update.SentAt != nil {
		sentAt := *update.SentAt
		f.SentAt = &sentAt
	}
	f.UpdatedAt = utils.Now()
	s.contactFollowups[id] = f
	return true, nil
}

func (s *Store) IncrementContactFollowupRetry(ctx context.Context, tenantID, id string, errMsg string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.contactFollowups[id]
	if !ok || f.TenantID != tenantID {
		return 0, notFound("contact follow-up", id)
	}
	f.RetryCount++
	f.ErrorMessage = errMsg
	f.UpdatedAt = utils.Now()
	s.contactFollowups[id] = f
	return f.RetryCount, nil
}
