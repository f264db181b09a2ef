package transport

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"

	"github.com/Linggaept/backend-waspread-sub001/internal/apperrors"
)

// RateLimited paces Send per tenant. Other calls pass through.
type RateLimited struct {
	next  Transport
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

var _ Transport = (*RateLimited)(nil)

// NewRateLimited wraps next with a per-tenant token bucket. A non-positive rate disables pacing.
func NewRateLimited(next Transport, perSecond float64, burst int) *RateLimited {
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{next: next, limit: limit, burst: burst, limiters: make(map[string]*rate.Limiter)}
}

func (r *RateLimited) limiter(tenantID string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.limiters[tenantID]
	if !ok {
		l = rate.NewLimiter(r.limit, r.burst)
		r.limiters[tenantID] = l
	}
	return l
}

func (r *RateLimited) IsSessionReady(ctx context.Context, tenantID string) (bool, error) {
	return r.next.IsSessionReady(ctx, tenantID)
}

func (r *RateLimited) IsRegistered(ctx context.Context, tenantID, phone string) (bool, error) {
	return r.next.IsRegistered(ctx, tenantID, phone)
}

// Send waits for the tenant's token. A wait that cannot finish before ctx ends is
// reported as rate limited.
func (r *RateLimited) Send(ctx context.Context, msg Message) (string, error) {
	if err := r.limiter(msg.TenantID).Wait(ctx); err != nil {
		return "", fmt.Errorf("%w: %v", apperrors.ErrRateLimited, err)
	}
	return r.next.Send(ctx, msg)
}
