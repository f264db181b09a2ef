package handler

import (
	"context"

	"github.com/Linggaept/backend-waspread-sub001/internal/model"
)

// EventHandlerInterface defines the common interface for event handlers
type EventHandlerInterface interface {
	// HandleEvent processes an event
	HandleEvent(ctx context.Context, eventType model.EventType, metadata *model.MessageMetadata, rawEvent []byte) error
}

var _ EventHandlerInterface = (*GatewayHandler)(nil)
