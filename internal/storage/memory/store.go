// Package memory is a process-local storage.Store used by the single-node driver
// and by end-to-end tests. It keeps the guarded-transition semantics of the postgres
// repositories under a single mutex.
package memory

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Linggaept/backend-waspread-sub001/internal/apperrors"
	"github.com/Linggaept/backend-waspread-sub001/internal/model"
	"github.com/Linggaept/backend-waspread-sub001/internal/storage"
	"github.com/Linggaept/backend-waspread-sub001/pkg/utils"
)

var errClosed = errors.New("memory store closed")

// Store implements storage.Store in memory.
type Store struct {
	mu sync.Mutex

	campaigns         map[string]model.Campaign
	campaignMessages  map[string]model.CampaignMessage
	messageOrder      []string
	followupCampaigns map[string]model.FollowupCampaign
	followupMessages  map[string]model.FollowupMessage
	followupKeys      map[string]string
	contactFollowups  map[string]model.ContactFollowup
	funnels           map[string]model.ConversationFunnel
	autoReplyLogs     map[string]model.AutoReplyLog
	autoReplySettings map[string]model.AutoReplySettings
	funnelSettings    map[string]model.FunnelSettings
	exhaustedJobs     []model.ExhaustedJob

	closed bool
}

var _ storage.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		campaigns:         make(map[string]model.Campaign),
		campaignMessages:  make(map[string]model.CampaignMessage),
		followupCampaigns: make(map[string]model.FollowupCampaign),
		followupMessages:  make(map[string]model.FollowupMessage),
		followupKeys:      make(map[string]string),
		contactFollowups:  make(map[string]model.ContactFollowup),
		funnels:           make(map[string]model.ConversationFunnel),
		autoReplyLogs:     make(map[string]model.AutoReplyLog),
		autoReplySettings: make(map[string]model.AutoReplySettings),
		funnelSettings:    make(map[string]model.FunnelSettings),
	}
}

func notFound(entity, id string) error {
	return fmt.Errorf("%w: %s %s", apperrors.ErrNotFound, entity, id)
}

func funnelKey(tenantID, phone string) string {
	return tenantID + "|" + phone
}

func followupKey(m *model.FollowupMessage) string {
	return fmt.Sprintf("%s|%s|%d", m.FollowupCampaignID, m.CampaignMessageID, m.Step)
}

func stamp(created, updated *time.Time) {
	now := utils.Now()
	if created.IsZero() {
		*created = now
	}
	if updated.IsZero() {
		*updated = now
	}
}

// Ping reports whether the store is still open.
func (s *Store) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("%w: %w", apperrors.ErrDatabase, errClosed)
	}
	return nil
}

// Close marks the store closed. Data is kept for inspection.
func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// --- Campaigns ---

func (s *Store) CreateCampaign(ctx context.Context, campaign *model.Campaign, messages []*model.CampaignMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if campaign.ID == "" {
		campaign.ID = uuid.NewString()
	}
	if _, ok := s.campaigns[campaign.ID]; ok {
		return fmt.Errorf("%w: campaign %s", apperrors.ErrDuplicate, campaign.ID)
	}
	for _, m := range messages {
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		if _, ok := s.campaignMessages[m.ID]; ok {
			return fmt.Errorf("%w: campaign message %s", apperrors.ErrDuplicate, m.ID)
		}
	}

	stamp(&campaign.CreatedAt, &campaign.UpdatedAt)
	s.campaigns[campaign.ID] = *campaign
	for _, m := range messages {
		m.CampaignID = campaign.ID
		m.TenantID = campaign.TenantID
		stamp(&m.CreatedAt, &m.UpdatedAt)
		s.campaignMessages[m.ID] = *m
		s.messageOrder = append(s.messageOrder, m.ID)
	}
	return nil
}

func (s *Store) FindCampaign(ctx context.Context, tenantID, id string) (*model.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok || c.TenantID != tenantID {
		return nil, notFound("campaign", id)
	}
	return &c, nil
}

func (s *Store) StartCampaign(ctx context.Context, tenantID, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok || c.TenantID != tenantID || c.Status != model.CampaignPending {
		return false, nil
	}
	started := at
	c.Status = model.CampaignProcessing
	c.StartedAt = &started
	c.UpdatedAt = at
	s.campaigns[id] = c
	return true, nil
}

func (s *Store) CancelCampaign(ctx context.Context, tenantID, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok || c.TenantID != tenantID {
		return false, nil
	}
	if c.Status != model.CampaignPending && c.Status != model.CampaignProcessing {
		return false, nil
	}
	now := utils.Now()
	c.Status = model.CampaignCancelled
	c.CompletedAt = &now
	c.UpdatedAt = now
	s.campaigns[id] = c
	return true, nil
}

func (s *Store) FindCampaignMessage(ctx context.Context, tenantID, id string) (*model.CampaignMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.campaignMessages[id]
	if !ok || m.TenantID != tenantID {
		return nil, notFound("campaign message", id)
	}
	return &m, nil
}

func (s *Store) TransitionCampaignMessage(ctx context.Context, tenantID, id string, update model.MessageUpdate, from ...model.MessageStatus) (bool, error) {
	if len(from) == 0 {
		from = []model.MessageStatus{model.MessagePending, model.MessageQueued}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.campaignMessages[id]
	if !ok || m.TenantID != tenantID || !slices.Contains(from, m.Status) {
		return false, nil
	}
	m.Status = update.Status
	if update.ErrorKind != "" {
		m.ErrorKind = update.ErrorKind
	}
	if update.ErrorMessage != "" {
		m.ErrorMessage = update.ErrorMessage
	}
	if update.TransportMessageID != "" {
		m.TransportMessageID = update.TransportMessageID
	}
	if update.SentAt != nil {
		sentAt := *update.SentAt
		m.SentAt = &sentAt
	}
	m.UpdatedAt = utils.Now()
	s.campaignMessages[id] = m
	return true, nil
}

func (s *Store) IncrementCampaignMessageRetry(ctx context.Context, tenantID, id string, kind model.ErrorKind, errMsg string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.campaignMessages[id]
	if !ok || m.TenantID != tenantID {
		return 0, notFound("campaign message", id)
	}
	m.RetryCount++
	m.ErrorKind = kind
	m.ErrorMessage = errMsg
	m.UpdatedAt = utils.Now()
	s.campaignMessages[id] = m
	return m.RetryCount, nil
}

func (s *Store) RecordCampaignOutcome(ctx context.Context, tenantID, id string, outcome model.CampaignOutcome, at time.Time) (*model.Campaign, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok || c.TenantID != tenantID {
		return nil, false, notFound("campaign", id)
	}

	c.SentCount += outcome.Sent
	c.FailedCount += outcome.Failed
	c.InvalidCount += outcome.Invalid
	if c.PendingCount > 0 {
		c.PendingCount--
	}
	c.UpdatedAt = at

	completed := false
	if c.PendingCount == 0 && c.Status == model.CampaignProcessing {
		if c.SentCount > 0 {
			c.Status = model.CampaignCompleted
		} else {
			c.Status = model.CampaignFailed
		}
		completedAt := at
		c.CompletedAt = &completedAt
		completed = true
	}
	s.campaigns[id] = c
	return &c, completed, nil
}

func (s *Store) ListSentCampaignMessages(ctx context.Context, tenantID, campaignID string) ([]model.CampaignMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.CampaignMessage
	for _, m := range s.campaignMessages {
		if m.TenantID == tenantID && m.CampaignID == campaignID && m.Status == model.MessageSent {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].SentAt, out[j].SentAt
		if a == nil || b == nil {
			return b != nil
		}
		return a.Before(*b)
	})
	return out, nil
}

// CampaignMessages returns the messages of a campaign in recipient order.
func (s *Store) CampaignMessages(campaignID string) []model.CampaignMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.CampaignMessage
	for _, id := range s.messageOrder {
		if m := s.campaignMessages[id]; m.CampaignID == campaignID {
			out = append(out, m)
		}
	}
	return out
}
