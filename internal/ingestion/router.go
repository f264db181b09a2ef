package ingestion

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/Linggaept/backend-waspread-sub001/internal/model"
	"github.com/Linggaept/backend-waspread-sub001/internal/tenant"
	"github.com/Linggaept/backend-waspread-sub001/pkg/logger"
	"github.com/Linggaept/backend-waspread-sub001/pkg/utils"
)

// EventHandler processes one gateway event. eventType is the base type with any tenant
// suffix stripped, or "" when the subject is unknown.
type EventHandler func(ctx context.Context, eventType model.EventType, metadata *model.MessageMetadata, rawEvent []byte) error

// Router dispatches gateway events by base event type.
type Router struct {
	mu             sync.RWMutex
	handlers       map[model.EventType]EventHandler
	defaultHandler EventHandler
}

func NewRouter() *Router {
	return &Router{handlers: make(map[model.EventType]EventHandler)}
}

// Register binds handler to a base event type, replacing any earlier binding.
func (r *Router) Register(eventType model.EventType, handler EventHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[eventType] = handler
}

// RegisterDefault sets the handler for events no registered type matches.
func (r *Router) RegisterDefault(handler EventHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaultHandler = handler
}

// Route scopes the context to the event's tenant and logger, then calls the matching
// handler. An event nobody handles is logged and acknowledged.
func (r *Router) Route(ctx context.Context, metadata *model.MessageMetadata, rawEvent []byte) error {
	eventType, known := model.MapToBaseEventType(metadata.MessageSubject)

	log := logger.FromContext(ctx).With(
		zap.String("subject", metadata.MessageSubject),
		zap.String("event_id", metadata.MessageID),
		zap.String("tenant_id", metadata.TenantID),
	)
	ctx = logger.WithLogger(ctx, log)
	if metadata.TenantID != "" {
		ctx = tenant.WithTenantID(ctx, metadata.TenantID)
	}

	log.Debug("Gateway event received",
		zap.Bool("known_type", known),
		zap.String("base_type", string(eventType.GetBaseType())),
		zap.String("version", eventType.GetVersion()),
		zap.String("payload_size", utils.ByteCountSI(len(rawEvent))))

	r.mu.RLock()
	handler, ok := r.handlers[eventType]
	if !ok {
		handler = r.defaultHandler
	}
	r.mu.RUnlock()

	switch {
	case ok:
	case handler != nil:
		log.Warn("No handler for gateway event type, using default")
	default:
		log.Error("No handler for gateway event type, dropping")
		return nil
	}
	return handler(ctx, eventType, metadata, rawEvent)
}
