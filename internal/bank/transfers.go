package bank

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/dvloznov/budget-autopilot/internal/apperror"
	"github.com/dvloznov/budget-autopilot/internal/domain"
)

type accountJSON struct {
	ID               string `json:"id"`
	Status           string `json:"status"`
	AvailableBalance string `json:"available_balance"`
}

type transferJSON struct {
	ID             string `json:"id"`
	IdempotencyKey string `json:"idempotency_key"`
	Amount         string `json:"amount"`
	Status         string `json:"status"`
}

type transferRequest struct {
	SourceAccountID      string `json:"source_account_id"`
	DestinationAccountID string `json:"destination_account_id"`
	Amount               string `json:"amount"`
	Reference            string `json:"reference"`
}

// GetAccount returns the account status and available balance.
func (c *Client) GetAccount(ctx context.Context, accountID string) (domain.AccountInfo, error) {
	const op = "bank.get_account"
	var body accountJSON
	if err := c.do(ctx, op, "GET", "/accounts/"+url.PathEscape(accountID), nil, nil, nil, &body); err != nil {
		return domain.AccountInfo{}, err
	}
	balance, err := decimal.NewFromString(strings.TrimSpace(body.AvailableBalance))
	if err != nil {
		return domain.AccountInfo{}, apperror.Validation(op, fmt.Sprintf("available balance %q", body.AvailableBalance), err)
	}
	id := body.ID
	if id == "" {
		id = accountID
	}
	return domain.AccountInfo{
		ID:               id,
		Status:           accountStatus(body.Status),
		AvailableBalance: balance,
	}, nil
}

// FindTransfer looks a transfer up by idempotency key. A 404 answer means the
// bank has never seen the key.
func (c *Client) FindTransfer(ctx context.Context, idempotencyKey string) (domain.TransferRecord, bool, error) {
	const op = "bank.find_transfer"
	query := url.Values{"idempotency_key": {idempotencyKey}}
	var body transferJSON
	err := c.do(ctx, op, "GET", "/transfers", query, nil, nil, &body)
	if isNotFound(err) {
		return domain.TransferRecord{}, false, nil
	}
	if err != nil {
		return domain.TransferRecord{}, false, err
	}
	record, err := recordFromJSON(body)
	if err != nil {
		return domain.TransferRecord{}, false, apperror.Validation(op, "malformed transfer", err)
	}
	return record, true, nil
}

// InitiateTransfer asks the bank to move amount. The idempotency key is sent
// as the Idempotency-Key header, so a replayed request returns the original
// transfer.
func (c *Client) InitiateTransfer(ctx context.Context, sourceID, destinationID string, amount decimal.Decimal, idempotencyKey string) (string, error) {
	const op = "bank.initiate_transfer"
	if idempotencyKey == "" {
		return "", apperror.Validation(op, "idempotency key is required", nil)
	}
	req := transferRequest{
		SourceAccountID:      sourceID,
		DestinationAccountID: destinationID,
		Amount:               amount.StringFixed(domain.AmountPlaces),
		Reference:            "Weekly budget surplus",
	}
	var body transferJSON
	headers := map[string]string{"Idempotency-Key": idempotencyKey}
	if err := c.do(ctx, op, "POST", "/transfers", nil, headers, req, &body); err != nil {
		return "", err
	}
	if body.ID == "" {
		return "", apperror.Validation(op, "response has no transfer id", nil)
	}
	return body.ID, nil
}

// GetTransferStatus returns the current state of a transfer.
func (c *Client) GetTransferStatus(ctx context.Context, transferID string) (domain.TransferStatus, error) {
	const op = "bank.get_transfer_status"
	var body transferJSON
	if err := c.do(ctx, op, "GET", "/transfers/"+url.PathEscape(transferID), nil, nil, nil, &body); err != nil {
		return "", err
	}
	return transferStatus(body.Status), nil
}

func recordFromJSON(body transferJSON) (domain.TransferRecord, error) {
	if body.ID == "" {
		return domain.TransferRecord{}, fmt.Errorf("missing id")
	}
	var amount decimal.Decimal
	if s := strings.TrimSpace(body.Amount); s != "" {
		parsed, err := decimal.NewFromString(s)
		if err != nil {
			return domain.TransferRecord{}, fmt.Errorf("amount %q: %w", body.Amount, err)
		}
		amount = parsed
	}
	return domain.TransferRecord{
		ID:             body.ID,
		IdempotencyKey: body.IdempotencyKey,
		Amount:         amount,
		Status:         transferStatus(body.Status),
	}, nil
}

// transferStatus maps the bank's transfer states onto the transfer
// lifecycle. Unknown states count as still in flight.
func transferStatus(s string) domain.TransferStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "completed", "settled", "verified":
		return domain.TransferVerified
	case "failed", "rejected", "cancelled", "canceled", "returned":
		return domain.TransferFailed
	default:
		return domain.TransferInitiated
	}
}

// accountStatus maps the bank's account states. Anything unrecognised is
// treated as inactive so no money moves.
func accountStatus(s string) domain.AccountStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "active", "open":
		return domain.AccountActive
	case "frozen", "blocked":
		return domain.AccountFrozen
	case "closed":
		return domain.AccountClosed
	default:
		return domain.AccountInactive
	}
}

// ReadOnly wraps a bank client for dry runs: lookups pass through, while
// initiation is refused with a validation error.
type ReadOnly struct {
	*Client
}

func (r ReadOnly) InitiateTransfer(_ context.Context, _, _ string, amount decimal.Decimal, _ string) (string, error) {
	return "", apperror.Validation("bank.initiate_transfer",
		fmt.Sprintf("dry run: transfer of %s not initiated", amount.StringFixed(domain.AmountPlaces)), nil)
}
