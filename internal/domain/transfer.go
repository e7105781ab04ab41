package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransferStatus tracks a savings transfer through its lifecycle.
type TransferStatus string

const (
	TransferPending    TransferStatus = "pending"
	TransferInitiated  TransferStatus = "initiated"
	TransferVerified   TransferStatus = "verified"
	TransferFailed     TransferStatus = "failed"
	TransferUnverified TransferStatus = "unverified"
)

// IsTerminal reports whether the bank will not move the transfer any further.
func (s TransferStatus) IsTerminal() bool {
	return s == TransferVerified || s == TransferFailed
}

// SkipReason records why no transfer was made for a surplus week.
type SkipReason string

const (
	ReasonNone              SkipReason = ""
	ReasonNoSurplus         SkipReason = "no_surplus"
	ReasonBelowMinimum      SkipReason = "below_minimum"
	ReasonInsufficientFunds SkipReason = "insufficient_funds"
	ReasonAccountInactive   SkipReason = "account_inactive"
	ReasonInvalidTransfer   SkipReason = "invalid_transfer"
	// ReasonClaimHeld means another run holds the week's idempotency claim
	// but no bank transfer is recorded under it.
	ReasonClaimHeld SkipReason = "claim_held"
)

// AccountStatus is the state of a bank account as reported by the bank.
type AccountStatus string

const (
	AccountActive   AccountStatus = "active"
	AccountInactive AccountStatus = "inactive"
	AccountFrozen   AccountStatus = "frozen"
	AccountClosed   AccountStatus = "closed"
)

// AccountInfo is the subset of bank account data the transfer engine needs.
type AccountInfo struct {
	ID               string
	Status           AccountStatus
	AvailableBalance decimal.Decimal
}

// Transfer moves a weekly surplus from the spending account to savings.
type Transfer struct {
	Amount               decimal.Decimal `json:"amount"`
	SourceAccountID      string          `json:"source_account_id"`
	DestinationAccountID string          `json:"destination_account_id"`
	IdempotencyKey       string          `json:"idempotency_key"`
	Status               TransferStatus  `json:"status"`
	BankTransferID       string          `json:"bank_transfer_id,omitempty"`
	InitiatedAt          *time.Time      `json:"initiated_at,omitempty"`
	VerifiedAt           *time.Time      `json:"verified_at,omitempty"`
}

// TransferRecord is a transfer as the bank knows it.
type TransferRecord struct {
	ID             string
	IdempotencyKey string
	Amount         decimal.Decimal
	Status         TransferStatus
}
