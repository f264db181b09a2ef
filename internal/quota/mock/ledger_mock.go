package mock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/Linggaept/backend-waspread-sub001/internal/quota"
)

// LedgerMock is a mock implementation of quota.Ledger
type LedgerMock struct {
	mock.Mock
}

var _ quota.Ledger = (*LedgerMock)(nil)

func (m *LedgerMock) CheckQuota(ctx context.Context, tenantID string) (quota.Status, error) {
	args := m.Called(ctx, tenantID)
	return args.Get(0).(quota.Status), args.Error(1)
}

func (m *LedgerMock) UseQuota(ctx context.Context, tenantID string, n int) error {
	args := m.Called(ctx, tenantID, n)
	return args.Error(0)
}

func (m *LedgerMock) CheckAiBalance(ctx context.Context, tenantID string, estimatedCost float64) (quota.Balance, error) {
	args := m.Called(ctx, tenantID, estimatedCost)
	return args.Get(0).(quota.Balance), args.Error(1)
}

func (m *LedgerMock) DebitAi(ctx context.Context, tenantID, feature string, actualCost float64, referenceID string) error {
	args := m.Called(ctx, tenantID, feature, actualCost, referenceID)
	return args.Error(0)
}
