// Package delivery runs the checks every outbound pipeline performs before a message
// reaches the transport, and consumes quota after a successful send.
package delivery

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/Linggaept/backend-waspread-sub001/internal/apperrors"
	"github.com/Linggaept/backend-waspread-sub001/internal/quota"
	"github.com/Linggaept/backend-waspread-sub001/internal/transport"
	"github.com/Linggaept/backend-waspread-sub001/pkg/logger"
)

// Sender pairs the transport with the quota ledger.
type Sender struct {
	transport transport.Transport
	ledger    quota.Ledger
	logger    *zap.Logger
}

// NewSender creates a Sender.
func NewSender(t transport.Transport, ledger quota.Ledger, log *zap.Logger) *Sender {
	return &Sender{transport: t, ledger: ledger, logger: log.Named("sender")}
}

// Preflight checks, in order, the tenant's quota, the session and the recipient's
// registration. It returns apperrors.ErrQuotaExhausted, apperrors.ErrSessionNotReady or
// apperrors.ErrNotRegistered (wrapped) when a check fails, and the collaborator's error
// when a check cannot be made.
func (s *Sender) Preflight(ctx context.Context, tenantID, phone string) error {
	status, err := s.ledger.CheckQuota(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("check quota: %w", err)
	}
	if !status.CanSend {
		return fmt.Errorf("%w: %d left today, %d left this month",
			apperrors.ErrQuotaExhausted, status.RemainingDaily, status.RemainingMonthly)
	}

	ready, err := s.transport.IsSessionReady(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("check session: %w", err)
	}
	if !ready {
		return fmt.Errorf("%w: tenant %s", apperrors.ErrSessionNotReady, tenantID)
	}

	registered, err := s.transport.IsRegistered(ctx, tenantID, phone)
	if err != nil {
		return fmt.Errorf("check registration: %w", err)
	}
	if !registered {
		return fmt.Errorf("%w: %s", apperrors.ErrNotRegistered, phone)
	}
	return nil
}

// Send hands msg to the transport and consumes one unit of quota. A quota write failure
// after a successful send is logged, never reported, so the caller does not resend.
func (s *Sender) Send(ctx context.Context, msg transport.Message) (string, error) {
	id, err := s.transport.Send(ctx, msg)
	if err != nil {
		return "", err
	}
	if err := s.ledger.UseQuota(ctx, msg.TenantID, 1); err != nil {
		logger.FromContextOr(ctx, s.logger).Error("Failed to consume quota after send",
			zap.String("tenant_id", msg.TenantID),
			zap.String("transport_message_id", id),
			zap.Error(err))
	}
	return id, nil
}
