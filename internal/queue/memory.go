package queue

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Linggaept/backend-waspread-sub001/internal/apperrors"
	"github.com/Linggaept/backend-waspread-sub001/internal/observer"
	"github.com/Linggaept/backend-waspread-sub001/internal/storage"
	"github.com/Linggaept/backend-waspread-sub001/pkg/logger"
	"github.com/Linggaept/backend-waspread-sub001/pkg/utils"
)

// MemoryQueue keeps jobs in a process-local, time-ordered heap. Jobs are lost on restart.
type MemoryQueue struct {
	mu        sync.Mutex
	jobs      jobHeap
	open      map[string]struct{}
	handlers  map[string]Handler
	seq       uint64
	exhausted storage.ExhaustedJobRepo
	logger    *zap.Logger
	interval  time.Duration
	timeout   time.Duration
	now       func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ Queue = (*MemoryQueue)(nil)

// MemoryOption configures a MemoryQueue.
type MemoryOption func(*MemoryQueue)

// WithClock overrides the clock used for scheduling.
func WithClock(now func() time.Time) MemoryOption {
	return func(q *MemoryQueue) { q.now = now }
}

// WithPollInterval sets how often Start checks for due jobs.
func WithPollInterval(d time.Duration) MemoryOption {
	return func(q *MemoryQueue) { q.interval = d }
}

// WithJobTimeout bounds a single handler call.
func WithJobTimeout(d time.Duration) MemoryOption {
	return func(q *MemoryQueue) { q.timeout = d }
}

// NewMemoryQueue creates an empty in-process queue. exhausted may be nil.
func NewMemoryQueue(log *zap.Logger, exhausted storage.ExhaustedJobRepo, opts ...MemoryOption) *MemoryQueue {
	q := &MemoryQueue{
		open:      make(map[string]struct{}),
		handlers:  make(map[string]Handler),
		exhausted: exhausted,
		logger:    log.Named("memory_queue"),
		interval:  time.Second,
		timeout:   time.Minute,
		now:       utils.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Register binds a handler to a queue name.
func (q *MemoryQueue) Register(queue string, handler Handler) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.handlers[queue]; ok {
		return fmt.Errorf("%w: handler already registered for queue %s", apperrors.ErrConflict, queue)
	}
	q.handlers[queue] = handler
	return nil
}

// Enqueue schedules a job. An open job with the same id makes this a no-op.
func (q *MemoryQueue) Enqueue(ctx context.Context, queue, tenantID string, payload interface{}, opts Options) (string, error) {
	job, err := newJob(queue, tenantID, payload, opts, q.now())
	if err != nil {
		return "", err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if _, dup := q.open[job.ID]; dup {
		logger.FromContextOr(ctx, q.logger).Debug("Job already enqueued", zap.String("queue", queue), zap.String("job_id", job.ID))
		return job.ID, nil
	}
	q.push(job)
	observer.IncJobsEnqueued(queue, tenantID)
	return job.ID, nil
}

// push must be called with mu held.
func (q *MemoryQueue) push(job *Job) {
	q.seq++
	q.open[job.ID] = struct{}{}
	heap.Push(&q.jobs, &entry{job: job, seq: q.seq})
}

// popDue removes the earliest job due at now, if any.
func (q *MemoryQueue) popDue(now time.Time) (*Job, Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.jobs) == 0 || q.jobs[0].job.NotBefore.After(now) {
		return nil, nil
	}
	e := heap.Pop(&q.jobs).(*entry)
	return e.job, q.handlers[e.job.Queue]
}

// RunDue runs every job due at now, including retries that become due within the
// same pass, and returns the number of attempts made.
func (q *MemoryQueue) RunDue(ctx context.Context, now time.Time) int {
	ran := 0
	for {
		job, handler := q.popDue(now)
		if job == nil {
			return ran
		}
		ran++
		q.run(ctx, job, handler, now)
	}
}

func (q *MemoryQueue) run(ctx context.Context, job *Job, handler Handler, now time.Time) {
	log := q.logger.With(zap.String("queue", job.Queue), zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))

	var err error
	if handler == nil {
		err = apperrors.NewFatal(apperrors.ErrNotFound, "no handler for queue %s", job.Queue)
	} else {
		err = q.invoke(ctx, log, job, handler)
	}

	switch decide(job, err) {
	case verdictDone:
		observer.IncJobsProcessed(job.Queue, job.TenantID, string(verdictDone))
		q.close(job.ID)
	case verdictDropped:
		observer.IncJobsProcessed(job.Queue, job.TenantID, string(verdictDropped))
		log.Error("Dropping job after fatal error", zap.Error(err))
		q.close(job.ID)
	case verdictExhausted:
		exhaust(ctx, q.exhausted, log, job, err)
		q.close(job.ID)
	case verdictRetry:
		observer.IncJobsProcessed(job.Queue, job.TenantID, string(verdictRetry))
		next := retryOf(job, err, now)
		log.Warn("Job failed, scheduling retry", zap.Time("not_before", next.NotBefore), zap.Error(err))
		q.mu.Lock()
		q.push(next)
		q.mu.Unlock()
	}
}

func (q *MemoryQueue) invoke(ctx context.Context, log *zap.Logger, job *Job, handler Handler) error {
	start := time.Now()
	defer func() { observer.ObserveJobDuration(job.Queue, job.TenantID, time.Since(start)) }()

	jobCtx, cancel := context.WithTimeout(logger.WithLogger(ctx, log), q.timeout)
	defer cancel()
	return utils.WrapWithContextRecovery(func(ctx context.Context) error {
		return handler(ctx, job)
	})(jobCtx)
}

func (q *MemoryQueue) close(id string) {
	q.mu.Lock()
	delete(q.open, id)
	q.mu.Unlock()
}

// Start polls for due jobs until ctx is cancelled or Stop is called.
func (q *MemoryQueue) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	q.cancel = cancel

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		ticker := time.NewTicker(q.interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				q.RunDue(runCtx, q.now())
			}
		}
	}()
	q.logger.Info("Memory queue started", zap.Duration("poll_interval", q.interval))
	return nil
}

// Stop ends polling and waits for the running pass to finish.
func (q *MemoryQueue) Stop() {
	if q.cancel != nil {
		q.cancel()
	}
	q.wg.Wait()
	q.logger.Info("Memory queue stopped")
}

// Pending returns a snapshot of the open jobs of a queue ordered by due time.
func (q *MemoryQueue) Pending(queue string) []Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	sorted := make(jobHeap, len(q.jobs))
	copy(sorted, q.jobs)
	var out []Job
	for len(sorted) > 0 {
		e := heap.Pop(&sorted).(*entry)
		if queue == "" || e.job.Queue == queue {
			out = append(out, *e.job)
		}
	}
	return out
}

type entry struct {
	job *Job
	seq uint64
}

// jobHeap orders by NotBefore, then by enqueue order.
type jobHeap []*entry

func (h jobHeap) Len() int { return len(h) }

func (h jobHeap) Less(i, j int) bool {
	if h[i].job.NotBefore.Equal(h[j].job.NotBefore) {
		return h[i].seq < h[j].seq
	}
	return h[i].job.NotBefore.Before(h[j].job.NotBefore)
}

func (h jobHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *jobHeap) Push(x interface{}) { *h = append(*h, x.(*entry)) }

func (h *jobHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}
