package transfer

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/dvloznov/budget-autopilot/internal/domain"
	"github.com/dvloznov/budget-autopilot/internal/idempotency"
)

// FundsTransferService is the bank API the engine moves money through.
type FundsTransferService interface {
	GetAccount(ctx context.Context, accountID string) (domain.AccountInfo, error)
	// FindTransfer looks up a transfer by idempotency key. found is false
	// when the bank has no such transfer.
	FindTransfer(ctx context.Context, idempotencyKey string) (record domain.TransferRecord, found bool, err error)
	InitiateTransfer(ctx context.Context, sourceID, destinationID string, amount decimal.Decimal, idempotencyKey string) (transferID string, err error)
	GetTransferStatus(ctx context.Context, transferID string) (domain.TransferStatus, error)
}

// ClaimStore guards an idempotency key across runs before the bank is asked
// to move money.
type ClaimStore interface {
	Claim(ctx context.Context, key, owner string) (idempotency.Claim, error)
	Complete(ctx context.Context, key, transferID string) error
	Release(ctx context.Context, key, owner string) error
}
