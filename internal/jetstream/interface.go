package jetstream

import (
	"context"

	"github.com/nats-io/nats.go"
)

// ClientInterface is the NATS surface the gateway consumer, the job queue and the
// request/reply ports depend on.
type ClientInterface interface {
	SetupStream(ctx context.Context, cfg *nats.StreamConfig) error
	SetupConsumer(ctx context.Context, stream string, cfg *nats.ConsumerConfig) error

	// SubscribePush feeds the gateway consumer; SubscribePull feeds the job queue.
	SubscribePush(subject, consumer, group, stream string, handler nats.MsgHandler) (*nats.Subscription, error)
	SubscribePull(stream, subject, consumer string) (*nats.Subscription, error)

	// Publish goes through JetStream and honours Nats-Msg-Id dedupe.
	Publish(subject string, data []byte, headers map[string]string) error
	// PublishCore is fire-and-forget core NATS, used for notifications.
	PublishCore(subject string, data []byte) error
	// Request is core NATS request/reply bounded by ctx.
	Request(ctx context.Context, subject string, data []byte) ([]byte, error)

	Close()
	NatsConn() *nats.Conn
}
