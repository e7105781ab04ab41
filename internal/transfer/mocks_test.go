package transfer

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dvloznov/budget-autopilot/internal/domain"
	"github.com/dvloznov/budget-autopilot/internal/idempotency"
)

// MockBank is a FundsTransferService with overridable methods.
type MockBank struct {
	GetAccountFunc        func(ctx context.Context, accountID string) (domain.AccountInfo, error)
	FindTransferFunc      func(ctx context.Context, key string) (domain.TransferRecord, bool, error)
	InitiateTransferFunc  func(ctx context.Context, sourceID, destinationID string, amount decimal.Decimal, key string) (string, error)
	GetTransferStatusFunc func(ctx context.Context, transferID string) (domain.TransferStatus, error)

	InitiateCalls int
	StatusCalls   int
}

func (m *MockBank) GetAccount(ctx context.Context, accountID string) (domain.AccountInfo, error) {
	if m.GetAccountFunc != nil {
		return m.GetAccountFunc(ctx, accountID)
	}
	return domain.AccountInfo{ID: accountID, Status: domain.AccountActive, AvailableBalance: decimal.NewFromInt(1000)}, nil
}

func (m *MockBank) FindTransfer(ctx context.Context, key string) (domain.TransferRecord, bool, error) {
	if m.FindTransferFunc != nil {
		return m.FindTransferFunc(ctx, key)
	}
	return domain.TransferRecord{}, false, nil
}

func (m *MockBank) InitiateTransfer(ctx context.Context, sourceID, destinationID string, amount decimal.Decimal, key string) (string, error) {
	m.InitiateCalls++
	if m.InitiateTransferFunc != nil {
		return m.InitiateTransferFunc(ctx, sourceID, destinationID, amount, key)
	}
	return "tr-1", nil
}

func (m *MockBank) GetTransferStatus(ctx context.Context, transferID string) (domain.TransferStatus, error) {
	m.StatusCalls++
	if m.GetTransferStatusFunc != nil {
		return m.GetTransferStatusFunc(ctx, transferID)
	}
	return domain.TransferVerified, nil
}

// MockClaimStore is a ClaimStore with overridable methods.
type MockClaimStore struct {
	ClaimFunc    func(ctx context.Context, key, owner string) (idempotency.Claim, error)
	CompleteFunc func(ctx context.Context, key, transferID string) error
	ReleaseFunc  func(ctx context.Context, key, owner string) error

	Released bool
}

func (m *MockClaimStore) Claim(ctx context.Context, key, owner string) (idempotency.Claim, error) {
	if m.ClaimFunc != nil {
		return m.ClaimFunc(ctx, key, owner)
	}
	return idempotency.Claim{Acquired: true, Holder: owner}, nil
}

func (m *MockClaimStore) Complete(ctx context.Context, key, transferID string) error {
	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, key, transferID)
	}
	return nil
}

func (m *MockClaimStore) Release(ctx context.Context, key, owner string) error {
	m.Released = true
	if m.ReleaseFunc != nil {
		return m.ReleaseFunc(ctx, key, owner)
	}
	return nil
}

// fakeClock advances time whenever the engine sleeps.
type fakeClock struct {
	now    time.Time
	sleeps []time.Duration
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(_ context.Context, d time.Duration) error {
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return nil
}
