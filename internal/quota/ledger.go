// Package quota tracks per-tenant send allowances and AI usage balance.
package quota

import "context"

// Status is the tenant's remaining send allowance.
type Status struct {
	CanSend          bool
	RemainingMonthly int64
	RemainingDaily   int64
}

// Balance is the tenant's AI balance checked against an estimated cost.
type Balance struct {
	HasEnough bool
	Balance   float64
}

// Ledger is the accounting surface the dispatchers depend on. UseQuota and DebitAi are
// atomic with respect to concurrent workers of the same tenant.
type Ledger interface {
	CheckQuota(ctx context.Context, tenantID string) (Status, error)
	UseQuota(ctx context.Context, tenantID string, n int) error
	CheckAiBalance(ctx context.Context, tenantID string, estimatedCost float64) (Balance, error)
	// DebitAi charges actualCost once per referenceID.
	DebitAi(ctx context.Context, tenantID, feature string, actualCost float64, referenceID string) error
}
