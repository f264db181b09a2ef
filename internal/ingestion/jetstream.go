package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/Linggaept/backend-waspread-sub001/internal/apperrors"
	"github.com/Linggaept/backend-waspread-sub001/internal/config"
	"github.com/Linggaept/backend-waspread-sub001/internal/jetstream"
	"github.com/Linggaept/backend-waspread-sub001/internal/model"
	"github.com/Linggaept/backend-waspread-sub001/internal/observer"
	"github.com/Linggaept/backend-waspread-sub001/internal/storage"
	"github.com/Linggaept/backend-waspread-sub001/pkg/logger"
	"github.com/Linggaept/backend-waspread-sub001/pkg/utils"
)

const consumerType = "gateway"

// AckNakAction represents the decision made after processing a message
type AckNakAction int

const (
	ActionAck      AckNakAction = iota // Message processed successfully, ACK it
	ActionNak                          // Parking failed, NAK immediately
	ActionNakDelay                     // Retryable error, NAK with calculated delay
	ActionPark                         // Max deliveries reached or fatal error, record then ACK
)

// determineAckNakAction decides the fate of a message based on processing result and metadata.
func determineAckNakAction(
	processingErr error,
	metadata *nats.MsgMetadata,
	maxDeliver int,
	nakBaseDelay time.Duration,
	nakMaxDelay time.Duration,
) (action AckNakAction, delay time.Duration) {
	if processingErr == nil {
		return ActionAck, 0
	}

	numDelivered := metadata.NumDelivered
	if numDelivered >= uint64(maxDeliver) || !apperrors.IsRetryable(processingErr) {
		return ActionPark, 0
	}

	// base * 2^(attempt-1), capped
	delay = nakBaseDelay
	if numDelivered > 1 {
		delay = nakBaseDelay * (1 << (numDelivered - 1))
	}
	if delay > nakMaxDelay || delay <= 0 {
		delay = nakMaxDelay
	}
	return ActionNakDelay, delay
}

// streamSubjects widens each base subject to every tenant, e.g. v1.messages.upsert.*
func streamSubjects(subjects []string) []string {
	out := make([]string, 0, len(subjects))
	for _, subject := range subjects {
		out = append(out, subject+".*")
	}
	return out
}

// GatewayConsumer consumes WhatsApp gateway events for every tenant.
type GatewayConsumer struct {
	client    jetstream.ClientInterface
	router    *Router
	exhausted storage.ExhaustedJobRepo
	cfg       config.ConsumerNatsConfig
	sub       *nats.Subscription
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewGatewayConsumer creates the gateway consumer. Events that cannot be processed are
// recorded in exhausted, which may be nil.
func NewGatewayConsumer(client jetstream.ClientInterface, router *Router, exhausted storage.ExhaustedJobRepo, cfg config.ConsumerNatsConfig, log *zap.Logger) *GatewayConsumer {
	ctx, cancel := context.WithCancel(context.Background())
	ctx = logger.WithLogger(ctx, log.Named("gateway_consumer"))
	return &GatewayConsumer{
		client:    client,
		router:    router,
		exhausted: exhausted,
		cfg:       cfg,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Setup configures the NATS stream and durable consumer
func (c *GatewayConsumer) Setup() error {
	log := logger.FromContext(c.ctx)
	log.Info("Setting up GatewayConsumer...", zap.String("stream", c.cfg.Stream), zap.String("consumer", c.cfg.Consumer))

	subjects := streamSubjects(c.cfg.SubjectList)
	streamCfg := &nats.StreamConfig{
		Name:      c.cfg.Stream,
		Subjects:  subjects,
		Storage:   nats.FileStorage,
		Retention: nats.LimitsPolicy,
		MaxAge:    time.Duration(c.cfg.MaxAge*24) * time.Hour,
	}
	if err := c.client.SetupStream(c.ctx, streamCfg); err != nil {
		log.Error("Failed to setup gateway stream", zap.Error(err), zap.String("stream", c.cfg.Stream))
		return fmt.Errorf("failed to setup gateway stream '%s': %w", c.cfg.Stream, err)
	}

	consumerCfg := &nats.ConsumerConfig{
		Durable:        c.cfg.Consumer,
		DeliverGroup:   c.cfg.QueueGroup,
		FilterSubjects: subjects,
		AckPolicy:      nats.AckExplicitPolicy,
		DeliverSubject: nats.NewInbox(),
		MaxDeliver:     c.cfg.MaxDeliver,
		AckWait:        30 * time.Second,
		MaxAckPending:  1000,
		ReplayPolicy:   nats.ReplayInstantPolicy,
		DeliverPolicy:  nats.DeliverNewPolicy,
	}
	if err := c.client.SetupConsumer(c.ctx, c.cfg.Stream, consumerCfg); err != nil {
		log.Error("Failed to setup gateway consumer", zap.Error(err), zap.String("consumer", c.cfg.Consumer))
		return fmt.Errorf("failed to setup gateway consumer '%s' for stream '%s': %w", c.cfg.Consumer, c.cfg.Stream, err)
	}

	log.Info("GatewayConsumer setup complete")
	return nil
}

// Start subscribes to the stream
func (c *GatewayConsumer) Start() error {
	log := logger.FromContext(c.ctx)
	sub, err := c.client.SubscribePush("v1.>", c.cfg.Consumer, c.cfg.QueueGroup, c.cfg.Stream, c.handleMessage)
	if err != nil {
		log.Error("Failed to subscribe gateway consumer", zap.Error(err),
			zap.String("stream", c.cfg.Stream),
			zap.String("consumer", c.cfg.Consumer),
			zap.String("group", c.cfg.QueueGroup),
		)
		return fmt.Errorf("failed to subscribe gateway consumer '%s': %w", c.cfg.Consumer, err)
	}
	c.sub = sub
	log.Info("GatewayConsumer subscribed successfully")
	return nil
}

// Stop drains the subscription
func (c *GatewayConsumer) Stop() {
	log := logger.FromContext(c.ctx)
	log.Info("Stopping GatewayConsumer...")
	if c.sub != nil {
		if err := c.sub.Drain(); err != nil {
			log.Error("Error draining gateway subscription", zap.Error(err))
		}
	}
	if c.cancel != nil {
		c.cancel()
	}
	log.Info("GatewayConsumer stopped")
}

// handleMessage reads the JetStream metadata, processes the event, and acknowledges it.
func (c *GatewayConsumer) handleMessage(msg *nats.Msg) {
	log := logger.FromContext(c.ctx)
	tenantID := model.TenantFromSubject(msg.Subject)
	eventType, _ := model.MapToBaseEventType(msg.Subject)

	defer func() {
		if r := recover(); r != nil {
			log.Error("[panic] Recovered from panic in message handler",
				zap.Any("panic", r),
				zap.String("subject", msg.Subject),
				zap.Stack("stack"))
			observer.IncEventsFailed(string(eventType), tenantID, consumerType)
			observer.IncEventProcessingAction(string(eventType), tenantID, consumerType, "panic_nak", "panic")
			if nakErr := msg.Nak(); nakErr != nil {
				log.Error("Failed to NAK message after panic", zap.Error(nakErr))
			}
		}
	}()

	metadata, err := msg.Metadata()
	if err != nil {
		log.Error("Failed to read message metadata", zap.Error(err), zap.String("subject", msg.Subject))
		observer.IncEventProcessingAction(string(eventType), tenantID, consumerType, "nak_metadata_error", "metadata")
		if nakErr := msg.Nak(); nakErr != nil {
			log.Error("Failed to NAK message", zap.Error(nakErr))
		}
		return
	}
	var msgID string
	if msg.Header != nil {
		msgID = msg.Header.Get(nats.MsgIdHdr)
	}

	action, delay := c.process(msg.Subject, msgID, msg.Data, metadata)
	switch action {
	case ActionAck, ActionPark:
		if ackErr := msg.Ack(); ackErr != nil {
			log.Error("Failed to ACK message", zap.Error(ackErr))
		}
	case ActionNakDelay:
		if nakErr := msg.NakWithDelay(delay); nakErr != nil {
			log.Error("Failed to NAK message with delay", zap.Error(nakErr))
		}
	case ActionNak:
		if nakErr := msg.Nak(); nakErr != nil {
			log.Error("Failed to NAK message", zap.Error(nakErr))
		}
	}
}

// process routes one event and decides how to acknowledge it. Events that will never
// succeed are recorded as exhausted jobs before being acknowledged.
func (c *GatewayConsumer) process(subject, msgID string, data []byte, metadata *nats.MsgMetadata) (AckNakAction, time.Duration) {
	startTime := utils.Now()
	tenantID := model.TenantFromSubject(subject)
	eventType, found := model.MapToBaseEventType(subject)
	if msgID == "" {
		msgID = fmt.Sprintf("msg-%d", metadata.Sequence.Stream)
	}

	log := logger.FromContext(c.ctx).With(
		zap.String("nats_message_id", msgID),
		zap.Uint64("stream_sequence", metadata.Sequence.Stream),
		zap.String("subject", subject),
		zap.String("tenant_id", tenantID),
	)
	ctx := logger.WithLogger(c.ctx, log)
	defer func() {
		observer.ObserveEventProcessingDuration(string(eventType), tenantID, consumerType, time.Since(startTime))
	}()

	var processingErr error
	if !found || tenantID == "" {
		processingErr = apperrors.NewFatal(apperrors.ErrBadRequest, "unroutable subject %s", subject)
	} else {
		observer.IncEventsReceived(string(eventType), tenantID, consumerType)
		routingStart := utils.Now()
		processingErr = c.router.Route(ctx, &model.MessageMetadata{
			StreamSequence:   metadata.Sequence.Stream,
			ConsumerSequence: metadata.Sequence.Consumer,
			NumDelivered:     metadata.NumDelivered,
			NumPending:       metadata.NumPending,
			Timestamp:        metadata.Timestamp,
			Stream:           metadata.Stream,
			Consumer:         metadata.Consumer,
			Domain:           metadata.Domain,
			MessageID:        msgID,
			MessageSubject:   subject,
			TenantID:         tenantID,
		}, data)
		observer.ObserveEventRoutingDuration(string(eventType), tenantID, consumerType, time.Since(routingStart))
	}

	action, delay := determineAckNakAction(processingErr, metadata, c.cfg.MaxDeliver, c.cfg.NakBaseDelay, c.cfg.NakMaxDelay)
	errorType := "none"
	if processingErr != nil {
		errorType = observer.SanitizeErrorType(processingErr.Error())
	}

	switch action {
	case ActionAck:
		log.Debug("Successfully processed message", zap.Duration("duration", time.Since(startTime)))
		observer.IncEventsProcessed(string(eventType), tenantID, consumerType)
		observer.IncEventProcessingAction(string(eventType), tenantID, consumerType, "ack_success", errorType)

	case ActionNakDelay:
		log.Info("NAKing message with delay for redelivery",
			zap.Error(processingErr),
			zap.Uint64("num_delivered", metadata.NumDelivered),
			zap.Int("max_deliver", c.cfg.MaxDeliver),
			zap.Duration("nak_delay", delay))
		observer.IncEventsFailed(string(eventType), tenantID, consumerType)
		observer.IncEventProcessingAction(string(eventType), tenantID, consumerType, "nak_retry", errorType)

	case ActionPark:
		observer.IncEventsFailed(string(eventType), tenantID, consumerType)
		log.Warn("Parking event that cannot be processed",
			zap.Error(processingErr),
			zap.Uint64("num_delivered", metadata.NumDelivered),
			zap.Bool("is_retryable", apperrors.IsRetryable(processingErr)))
		if err := c.park(ctx, tenantID, msgID, subject, data, metadata, processingErr); err != nil {
			log.Error("Failed to record parked event, NAKing", zap.Error(err))
			observer.IncEventProcessingAction(string(eventType), tenantID, consumerType, "nak_park_fail", "park_fail")
			return ActionNak, 0
		}
		observer.IncEventProcessingAction(string(eventType), tenantID, consumerType, "parked_ack", errorType)
	}
	return action, delay
}

func (c *GatewayConsumer) park(ctx context.Context, tenantID, msgID, subject string, data []byte, metadata *nats.MsgMetadata, cause error) error {
	if c.exhausted == nil {
		return nil
	}
	queue := "inbound:unknown"
	if eventType, ok := model.MapToBaseEventType(subject); ok {
		queue = "inbound:" + string(eventType)
	}
	payload := data
	if !json.Valid(payload) {
		var err error
		if payload, err = json.Marshal(string(data)); err != nil {
			return err
		}
	}
	return c.exhausted.SaveExhaustedJob(ctx, model.ExhaustedJob{
		TenantID:   tenantID,
		JobID:      msgID,
		Queue:      queue,
		LastError:  cause.Error(),
		Attempts:   int(metadata.NumDelivered),
		EnqueuedAt: metadata.Timestamp,
		Payload:    datatypes.JSON(payload),
	})
}
