package jetstream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/Linggaept/backend-waspread-sub001/pkg/logger"
	"github.com/Linggaept/backend-waspread-sub001/pkg/utils"
)

// Client owns one NATS connection and the JetStream context on top of it. The gateway stream,
// the job stream and the request/reply ports (transport, reply generator) all share it.
type Client struct {
	nc *nats.Conn
	js nats.JetStreamContext
}

var _ ClientInterface = (*Client)(nil)

type clientOptions struct {
	name          string
	reconnectWait time.Duration
}

// ClientOption tunes the connection opened by NewClient.
type ClientOption func(*clientOptions)

// WithName sets the connection name shown in the server's connz output.
func WithName(name string) ClientOption {
	return func(o *clientOptions) { o.name = name }
}

// WithReconnectWait overrides the pause between reconnect attempts.
func WithReconnectWait(d time.Duration) ClientOption {
	return func(o *clientOptions) { o.reconnectWait = d }
}

// NewClient connects to url and retries forever in the background if the server is down.
func NewClient(url string, opts ...ClientOption) (*Client, error) {
	o := clientOptions{name: "waspread", reconnectWait: 2 * time.Second}
	for _, opt := range opts {
		opt(&o)
	}

	nc, err := nats.Connect(url,
		nats.Name(o.name),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(o.reconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Log.Warn("NATS disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Log.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			fields := []zap.Field{zap.Error(err)}
			if sub != nil {
				fields = append(fields, zap.String("subject", sub.Subject))
			}
			logger.Log.Error("NATS async error", fields...)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}
	return &Client{nc: nc, js: js}, nil
}

// SetupStream creates the stream, or updates it when the live config drifted from cfg.
func (c *Client) SetupStream(ctx context.Context, cfg *nats.StreamConfig) error {
	log := logger.FromContext(ctx).With(zap.String("stream", cfg.Name))

	info, err := c.js.StreamInfo(cfg.Name)
	switch {
	case errors.Is(err, nats.ErrStreamNotFound):
		if _, err := c.js.AddStream(cfg); err != nil {
			return fmt.Errorf("failed to add stream '%s': %w", cfg.Name, err)
		}
		log.Info("Created stream", zap.Strings("subjects", cfg.Subjects))
	case err != nil:
		return fmt.Errorf("failed to get stream info for '%s': %w", cfg.Name, err)
	case utils.StreamConfigEqual(info.Config, *cfg):
		log.Debug("Stream up to date")
	default:
		if _, err := c.js.UpdateStream(cfg); err != nil {
			return fmt.Errorf("failed to update stream '%s': %w", cfg.Name, err)
		}
		log.Info("Updated stream",
			zap.Strings("subjects", cfg.Subjects),
			zap.Duration("max_age", cfg.MaxAge),
			zap.Duration("duplicates", cfg.Duplicates))
	}
	return nil
}

// SetupConsumer creates the durable consumer on stream. Consumers cannot change most fields
// in place, so a drifted consumer is deleted and recreated; pending acks on it are lost and
// redelivered from the stream.
func (c *Client) SetupConsumer(ctx context.Context, stream string, cfg *nats.ConsumerConfig) error {
	log := logger.FromContext(ctx).With(zap.String("stream", stream), zap.String("consumer", cfg.Durable))

	info, err := c.js.ConsumerInfo(stream, cfg.Durable)
	switch {
	case errors.Is(err, nats.ErrConsumerNotFound):
	case err != nil:
		return fmt.Errorf("failed to get consumer info for stream '%s', consumer '%s': %w", stream, cfg.Durable, err)
	case utils.ConsumerConfigEqual(info.Config, *cfg):
		log.Debug("Consumer up to date")
		return nil
	default:
		log.Warn("Consumer config drifted, recreating",
			zap.String("provided_cfg", fmt.Sprintf("%+v", cfg)),
			zap.String("current_cfg", fmt.Sprintf("%+v", info.Config)))
		if err := c.js.DeleteConsumer(stream, cfg.Durable); err != nil {
			return fmt.Errorf("failed to delete consumer '%s' from stream '%s': %w", cfg.Durable, stream, err)
		}
	}

	if _, err := c.js.AddConsumer(stream, cfg); err != nil {
		return fmt.Errorf("failed to add consumer '%s' to stream '%s': %w", cfg.Durable, stream, err)
	}
	log.Info("Created consumer",
		zap.String("queue_group", cfg.DeliverGroup),
		zap.Strings("filter_subjects", cfg.FilterSubjects),
		zap.String("filter_subject", cfg.FilterSubject))
	return nil
}

// SubscribePush joins the queue group on an existing push consumer with manual acks.
func (c *Client) SubscribePush(subject, consumer, group, stream string, handler nats.MsgHandler) (*nats.Subscription, error) {
	sub, err := c.js.QueueSubscribe(subject, group, handler,
		nats.Durable(consumer),
		nats.ManualAck(),
		nats.BindStream(stream),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to '%s' as '%s': %w", subject, consumer, err)
	}
	return sub, nil
}

// SubscribePull binds to an existing pull consumer.
func (c *Client) SubscribePull(stream, subject, consumer string) (*nats.Subscription, error) {
	sub, err := c.js.PullSubscribe(subject, consumer, nats.Bind(stream, consumer))
	if err != nil {
		return nil, fmt.Errorf("failed to create pull subscription for stream '%s', consumer '%s': %w", stream, consumer, err)
	}
	return sub, nil
}

// Publish stores a message on the stream owning subject. A Nats-Msg-Id header seen inside
// the stream's dedupe window is acknowledged without storing a second copy.
func (c *Client) Publish(subject string, data []byte, headers map[string]string) error {
	msg := nats.NewMsg(subject)
	msg.Data = data
	for k, v := range headers {
		msg.Header.Set(k, v)
	}

	ack, err := c.js.PublishMsg(msg)
	if err != nil {
		return fmt.Errorf("failed to publish to '%s': %w", subject, err)
	}
	if ack.Duplicate {
		logger.Log.Debug("Publish deduplicated by stream",
			zap.String("subject", subject),
			zap.String("msg_id", msg.Header.Get(nats.MsgIdHdr)))
	}
	return nil
}

// PublishCore publishes a plain NATS message without waiting for a stream ack.
func (c *Client) PublishCore(subject string, data []byte) error {
	if err := c.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to '%s': %w", subject, err)
	}
	return nil
}

// Request sends a plain NATS request and returns the reply payload. The deadline comes from ctx.
func (c *Client) Request(ctx context.Context, subject string, data []byte) ([]byte, error) {
	msg, err := c.nc.RequestWithContext(ctx, subject, data)
	if err != nil {
		return nil, fmt.Errorf("request to '%s' failed: %w", subject, err)
	}
	return msg.Data, nil
}

func (c *Client) NatsConn() *nats.Conn {
	return c.nc
}

// Close closes the connection without draining. In-flight requests fail with
// nats.ErrConnectionClosed.
func (c *Client) Close() {
	if c.nc != nil {
		c.nc.Close()
	}
}
