package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/Linggaept/backend-waspread-sub001/internal/apperrors"
	"github.com/Linggaept/backend-waspread-sub001/internal/config"
	internal_js "github.com/Linggaept/backend-waspread-sub001/internal/jetstream"
	"github.com/Linggaept/backend-waspread-sub001/internal/observer"
	"github.com/Linggaept/backend-waspread-sub001/internal/storage"
	"github.com/Linggaept/backend-waspread-sub001/internal/tenant"
	"github.com/Linggaept/backend-waspread-sub001/pkg/logger"
	"github.com/Linggaept/backend-waspread-sub001/pkg/utils"
)

const (
	defaultMsgChanCap = 100
	fetchMaxWait      = 5 * time.Second
	dedupeWindow      = 2 * time.Minute
	resubmitDelay     = 5 * time.Second
)

// delivery is the acknowledgement surface of a JetStream message.
type delivery interface {
	Ack(opts ...nats.AckOpt) error
	NakWithDelay(delay time.Duration, opts ...nats.AckOpt) error
	Term(opts ...nats.AckOpt) error
}

type fetched struct {
	queue string
	msg   *nats.Msg
}

// JetStreamQueue persists jobs on a JetStream work-queue stream with one durable pull
// consumer per queue. Delays are honoured by NAK-ing early deliveries until the job is
// due; every retry is republished as a new message carrying the next attempt number.
type JetStreamQueue struct {
	cfg       config.QueueConfig
	logger    *zap.Logger
	js        internal_js.ClientInterface
	pool      *ants.Pool
	exhausted storage.ExhaustedJobRepo
	now       func() time.Time

	mu       sync.RWMutex
	handlers map[string]Handler

	msgCh  chan fetched
	stopWg sync.WaitGroup
	cancel context.CancelFunc
}

var _ Queue = (*JetStreamQueue)(nil)

// NewJetStreamQueue creates the worker pool and makes sure the job stream exists.
func NewJetStreamQueue(cfg config.QueueConfig, log *zap.Logger, js internal_js.ClientInterface, exhausted storage.ExhaustedJobRepo) (*JetStreamQueue, error) {
	pool, err := ants.NewPool(cfg.PoolSize,
		ants.WithLogger(newAntsLoggerAdapter(log.Named("ants_pool"))),
		ants.WithPanicHandler(func(err interface{}) {
			log.Error("Job worker panic caught", zap.Any("error", err), zap.Stack("stack"))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ants pool: %w", err)
	}

	streamCfg := &nats.StreamConfig{
		Name:       cfg.Stream,
		Subjects:   []string{cfg.SubjectPrefix + ".>"},
		Storage:    nats.FileStorage,
		Retention:  nats.WorkQueuePolicy,
		MaxAge:     cfg.MaxAge,
		Duplicates: dedupeWindow,
	}
	if err := js.SetupStream(context.Background(), streamCfg); err != nil {
		pool.Release()
		return nil, fmt.Errorf("failed to setup job stream '%s': %w", cfg.Stream, err)
	}

	q := &JetStreamQueue{
		cfg:       cfg,
		logger:    log.Named("jetstream_queue"),
		js:        js,
		pool:      pool,
		exhausted: exhausted,
		now:       utils.Now,
		handlers:  make(map[string]Handler),
		msgCh:     make(chan fetched, defaultMsgChanCap),
	}
	q.logger.Info("Job queue initialized", zap.String("stream", cfg.Stream), zap.Int("pool_size", cfg.PoolSize))
	return q, nil
}

func (q *JetStreamQueue) subject(queue string) string {
	return q.cfg.SubjectPrefix + "." + queue
}

func (q *JetStreamQueue) durable(queue string) string {
	r := strings.NewReplacer(".", "_", "-", "_")
	return r.Replace(q.cfg.SubjectPrefix + "_" + queue + "_worker")
}

// Register creates the durable consumer of a queue and binds its handler.
func (q *JetStreamQueue) Register(queue string, handler Handler) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.handlers[queue]; ok {
		return fmt.Errorf("%w: handler already registered for queue %s", apperrors.ErrConflict, queue)
	}

	consumerCfg := &nats.ConsumerConfig{
		Durable:       q.durable(queue),
		FilterSubject: q.subject(queue),
		AckPolicy:     nats.AckExplicitPolicy,
		AckWait:       q.cfg.AckWait,
		MaxDeliver:    -1, // attempts are counted in the job envelope
		DeliverPolicy: nats.DeliverAllPolicy,
		ReplayPolicy:  nats.ReplayInstantPolicy,
	}
	if err := q.js.SetupConsumer(context.Background(), q.cfg.Stream, consumerCfg); err != nil {
		return fmt.Errorf("failed to setup consumer '%s': %w", consumerCfg.Durable, err)
	}

	q.handlers[queue] = handler
	return nil
}

// Enqueue publishes the first attempt of a job.
func (q *JetStreamQueue) Enqueue(ctx context.Context, queue, tenantID string, payload interface{}, opts Options) (string, error) {
	job, err := newJob(queue, tenantID, payload, opts, q.now())
	if err != nil {
		return "", err
	}
	if err := q.publish(job); err != nil {
		logger.FromContextOr(ctx, q.logger).Error("Failed to enqueue job", zap.String("queue", queue), zap.Error(err))
		return "", err
	}
	observer.IncJobsEnqueued(queue, tenantID)
	return job.ID, nil
}

func (q *JetStreamQueue) publish(job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("%w: marshal job: %v", apperrors.ErrBadRequest, err)
	}
	headers := map[string]string{
		nats.MsgIdHdr: fmt.Sprintf("%s-%d", job.ID, job.Attempt),
		"Tenant-Id":   job.TenantID,
	}
	if err := q.js.Publish(q.subject(job.Queue), data, headers); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrNATS, err)
	}
	return nil
}

// Start binds a pull subscription per registered queue and begins consuming.
func (q *JetStreamQueue) Start(ctx context.Context) error {
	derivedCtx, cancel := context.WithCancel(ctx)
	q.cancel = cancel

	q.mu.RLock()
	queues := make([]string, 0, len(q.handlers))
	for name := range q.handlers {
		queues = append(queues, name)
	}
	q.mu.RUnlock()

	for _, name := range queues {
		sub, err := q.js.SubscribePull(q.cfg.Stream, q.subject(name), q.durable(name))
		if err != nil {
			cancel()
			return fmt.Errorf("failed to create pull subscription for queue %s: %w", name, err)
		}
		q.stopWg.Add(1)
		go q.fetchMessages(derivedCtx, name, sub)
	}

	q.stopWg.Add(1)
	go q.dispatchMessages(derivedCtx)

	q.logger.Info("Job queue started", zap.Strings("queues", queues))
	return nil
}

// Stop stops fetching, waits for the loops and releases the pool.
func (q *JetStreamQueue) Stop() {
	q.logger.Info("Stopping job queue...")
	if q.cancel != nil {
		q.cancel()
	}
	q.stopWg.Wait()
	q.pool.Release()
	q.logger.Info("Job queue stopped")
}

func (q *JetStreamQueue) fetchMessages(ctx context.Context, queue string, sub *nats.Subscription) {
	defer q.stopWg.Done()
	log := q.logger.With(zap.String("queue", queue))

	for {
		if ctx.Err() != nil {
			return
		}
		msgs, err := sub.Fetch(q.cfg.FetchBatch, nats.MaxWait(fetchMaxWait))
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, nats.ErrTimeout) || errors.Is(err, nats.ErrConnectionClosed) {
				continue
			}
			observer.IncQueueFetchError(queue)
			log.Error("Fetcher loop error retrieving jobs", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}

		for _, msg := range msgs {
			select {
			case q.msgCh <- fetched{queue: queue, msg: msg}:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (q *JetStreamQueue) dispatchMessages(ctx context.Context) {
	defer q.stopWg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case f := <-q.msgCh:
			current := f
			err := q.pool.Submit(func() {
				q.handle(context.Background(), current.queue, current.msg.Data, current.msg)
			})
			if err != nil {
				q.logger.Error("Failed to submit job to ants pool", zap.String("queue", current.queue), zap.Error(err))
				if nakErr := current.msg.NakWithDelay(resubmitDelay); nakErr != nil {
					observer.IncQueueAckFailure(current.queue)
				}
			}
			observer.SetQueueWorkersActive(current.queue, q.pool.Running())
		}
	}
}

// handle runs one delivery of a job and settles the message.
func (q *JetStreamQueue) handle(ctx context.Context, queue string, data []byte, d delivery) {
	log := q.logger.With(zap.String("queue", queue))

	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		log.Error("Failed to unmarshal job envelope", zap.Error(err), zap.ByteString("data", data))
		q.settle(queue, d.Term())
		return
	}
	log = log.With(zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt), zap.String("tenant_id", job.TenantID))

	if wait := job.NotBefore.Sub(q.now()); wait > 0 {
		q.settle(queue, d.NakWithDelay(wait))
		return
	}

	q.mu.RLock()
	handler := q.handlers[queue]
	q.mu.RUnlock()
	if handler == nil {
		log.Error("No handler registered, terminating job")
		q.settle(queue, d.Term())
		return
	}

	jobCtx := tenant.WithTenantID(logger.WithLogger(ctx, log), job.TenantID)
	jobCtx, cancel := context.WithTimeout(jobCtx, q.cfg.JobTimeout)
	defer cancel()

	start := time.Now()
	err := utils.WrapWithContextRecovery(func(ctx context.Context) error {
		return handler(ctx, &job)
	})(jobCtx)
	observer.ObserveJobDuration(queue, job.TenantID, time.Since(start))

	switch decide(&job, err) {
	case verdictDone:
		observer.IncJobsProcessed(queue, job.TenantID, string(verdictDone))
		q.settle(queue, d.Ack())
	case verdictDropped:
		observer.IncJobsProcessed(queue, job.TenantID, string(verdictDropped))
		log.Error("Dropping job after fatal error", zap.Error(err))
		q.settle(queue, d.Term())
	case verdictExhausted:
		exhaust(ctx, q.exhausted, log, &job, err)
		q.settle(queue, d.Term())
	case verdictRetry:
		observer.IncJobsProcessed(queue, job.TenantID, string(verdictRetry))
		next := retryOf(&job, err, q.now())
		log.Warn("Job failed, scheduling retry", zap.Time("not_before", next.NotBefore), zap.Error(err))
		if pubErr := q.publish(next); pubErr != nil {
			log.Error("Failed to republish retry, redelivering current attempt", zap.Error(pubErr))
			q.settle(queue, d.NakWithDelay(job.Backoff.Next(job.Attempt)))
			return
		}
		q.settle(queue, d.Ack())
	}
}

func (q *JetStreamQueue) settle(queue string, err error) {
	if err != nil {
		q.logger.Error("Failed to acknowledge job message", zap.String("queue", queue), zap.Error(err))
		observer.IncQueueAckFailure(queue)
	}
}

// --- Ants Logger Adapter ---

type antsLoggerAdapter struct {
	logger *zap.Logger
}

func newAntsLoggerAdapter(logger *zap.Logger) *antsLoggerAdapter {
	return &antsLoggerAdapter{logger: logger}
}

func (a *antsLoggerAdapter) Printf(format string, args ...interface{}) {
	a.logger.Info(fmt.Sprintf(format, args...))
}
