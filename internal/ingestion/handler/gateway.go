package handler

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Linggaept/backend-waspread-sub001/internal/apperrors"
	"github.com/Linggaept/backend-waspread-sub001/internal/autoreply"
	"github.com/Linggaept/backend-waspread-sub001/internal/campaign"
	"github.com/Linggaept/backend-waspread-sub001/internal/funnel"
	"github.com/Linggaept/backend-waspread-sub001/internal/model"
	"github.com/Linggaept/backend-waspread-sub001/internal/tenant"
	"github.com/Linggaept/backend-waspread-sub001/internal/validator"
	"github.com/Linggaept/backend-waspread-sub001/pkg/logger"
	"github.com/Linggaept/backend-waspread-sub001/pkg/utils"
)

// FunnelService advances conversation funnels from gateway events.
type FunnelService interface {
	HandleInbound(ctx context.Context, tenantID, phone, text string) (*funnel.Transition, error)
	HandleDelivery(ctx context.Context, tenantID, phone string) (*funnel.Transition, error)
}

// AutoReplier decides on an automatic reply to an inbound message.
type AutoReplier interface {
	HandleIncoming(ctx context.Context, in autoreply.Inbound) (*model.AutoReplyLog, error)
}

// MediaFetcherFunc builds a downloader for an inbound media URL.
type MediaFetcherFunc func(url string) autoreply.MediaFetcher

// GatewayHandler turns WhatsApp gateway events into funnel and auto-reply calls
type GatewayHandler struct {
	funnels   FunnelService
	autoReply AutoReplier
	media     MediaFetcherFunc
}

// NewGatewayHandler creates the gateway event handler. media may be nil, in which case
// inbound media is ignored.
func NewGatewayHandler(funnels FunnelService, autoReply AutoReplier, media MediaFetcherFunc) *GatewayHandler {
	return &GatewayHandler{funnels: funnels, autoReply: autoReply, media: media}
}

// HandleEvent processes one gateway event
func (h *GatewayHandler) HandleEvent(ctx context.Context, eventType model.EventType, metadata *model.MessageMetadata, rawEvent []byte) error {
	ctx = tenant.WithRequestID(ctx, uuid.NewString())

	switch eventType {
	case model.V1MessagesUpsert:
		return h.handleMessageUpsert(ctx, metadata, rawEvent)
	case model.V1MessagesUpdate:
		return h.handleMessageUpdate(ctx, metadata, rawEvent)
	default:
		logger.FromContext(ctx).Error("Unsupported gateway event type", zap.String("eventType", string(eventType)))
		return apperrors.NewFatal(fmt.Errorf("unsupported gateway event type: %s", eventType), "unsupported gateway event type")
	}
}

// handleMessageUpsert advances the sender's funnel and runs the auto-reply gates.
// Outbound echoes are ignored.
func (h *GatewayHandler) handleMessageUpsert(ctx context.Context, metadata *model.MessageMetadata, rawEvent []byte) error {
	log := logger.FromContext(ctx)

	var payload model.InboundMessagePayload
	if err := json.Unmarshal(rawEvent, &payload); err != nil {
		log.Error("Failed to unmarshal message upsert payload", zap.Error(err))
		return apperrors.NewFatal(err, "failed to unmarshal message upsert payload")
	}
	if payload.TenantID == "" {
		payload.TenantID = tenant.FromContextOr(ctx, metadata.TenantID)
	}
	if err := validator.Validate(payload); err != nil {
		return apperrors.NewFatal(fmt.Errorf("%w: %v", apperrors.ErrValidation, err), "invalid message upsert payload")
	}
	if payload.TenantID == "" {
		return apperrors.NewFatal(apperrors.ErrValidation, "message upsert %s has no tenant", payload.MessageID)
	}
	if payload.Flow != model.FlowIn {
		log.Debug("Ignoring outbound message echo", zap.String("message_id", payload.MessageID))
		return nil
	}

	phone := campaign.NormalizePhone(payload.FromPhone)
	if phone == "" {
		return apperrors.NewFatal(apperrors.ErrValidation, "message upsert %s has no sender phone", payload.MessageID)
	}
	log = log.With(zap.String("message_id", payload.MessageID), zap.String("phone", phone))
	ctx = logger.WithLogger(ctx, log)

	if _, err := h.funnels.HandleInbound(ctx, payload.TenantID, phone, payload.MessageText); err != nil {
		return apperrors.NewRetryable(err, "advance funnel for inbound message %s", payload.MessageID)
	}

	in := autoreply.Inbound{
		TenantID:  payload.TenantID,
		Phone:     phone,
		MessageID: payload.MessageID,
		Text:      payload.MessageText,
	}
	if payload.MediaURL != "" && h.media != nil {
		in.MediaFetcher = h.media(payload.MediaURL)
	}
	entry, err := h.autoReply.HandleIncoming(ctx, in)
	if err != nil {
		return apperrors.NewRetryable(err, "auto-reply for inbound message %s", payload.MessageID)
	}
	log.Info("Inbound message processed",
		zap.String("auto_reply_status", string(entry.Status)),
		zap.String("skip_reason", entry.SkipReason),
		zap.Time("sent_at", utils.UnixToTime(payload.MessageTimestamp)))
	return nil
}

// handleMessageUpdate advances the recipient's funnel on a delivery receipt.
func (h *GatewayHandler) handleMessageUpdate(ctx context.Context, metadata *model.MessageMetadata, rawEvent []byte) error {
	log := logger.FromContext(ctx)

	var payload model.MessageStatusPayload
	if err := json.Unmarshal(rawEvent, &payload); err != nil {
		log.Error("Failed to unmarshal message update payload", zap.Error(err))
		return apperrors.NewFatal(err, "failed to unmarshal message update payload")
	}
	if payload.TenantID == "" {
		payload.TenantID = tenant.FromContextOr(ctx, metadata.TenantID)
	}
	if err := validator.Validate(payload); err != nil {
		return apperrors.NewFatal(fmt.Errorf("%w: %v", apperrors.ErrValidation, err), "invalid message update payload")
	}
	if !payload.IsDelivered() {
		return nil
	}

	phone := campaign.NormalizePhone(payload.ToPhone)
	if _, err := h.funnels.HandleDelivery(ctx, payload.TenantID, phone); err != nil {
		return apperrors.NewRetryable(err, "advance funnel for receipt %s", payload.MessageID)
	}
	log.Debug("Delivery receipt processed", zap.String("message_id", payload.MessageID), zap.String("phone", phone))
	return nil
}
