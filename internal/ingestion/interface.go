package ingestion

import (
	"context"

	"github.com/Linggaept/backend-waspread-sub001/internal/model"
)

// RouterInterface is what the gateway consumer needs from a router.
type RouterInterface interface {
	Register(eventType model.EventType, handler EventHandler)
	RegisterDefault(handler EventHandler)
	Route(ctx context.Context, metadata *model.MessageMetadata, rawEvent []byte) error
}

// ConsumerInterface is the lifecycle main drives: Setup provisions the stream and durable
// consumer, Start subscribes, Stop drains.
type ConsumerInterface interface {
	Setup() error
	Start() error
	Stop()
}

var (
	_ RouterInterface   = (*Router)(nil)
	_ ConsumerInterface = (*GatewayConsumer)(nil)
)
