package bank

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dvloznov/budget-autopilot/internal/apperror"
	"github.com/dvloznov/budget-autopilot/internal/domain"
)

// maxPages bounds cursor pagination of a single week.
const maxPages = 50

type transactionJSON struct {
	ID       string `json:"id"`
	Merchant string `json:"merchant"`
	Amount   string `json:"amount"`
	// Direction is "debit" for spending and "credit" for refunds and income.
	Direction string    `json:"direction"`
	BookedAt  time.Time `json:"booked_at"`
}

type transactionsPage struct {
	Transactions []transactionJSON `json:"transactions"`
	NextCursor   string            `json:"next_cursor"`
}

// FetchTransactions returns the account's transactions booked in
// [start, end), following cursor pagination.
func (c *Client) FetchTransactions(ctx context.Context, accountID string, start, end time.Time) ([]domain.Transaction, error) {
	const op = "bank.fetch_transactions"
	if accountID == "" {
		return nil, apperror.Validation(op, "account id is required", nil)
	}
	if !end.After(start) {
		return nil, apperror.Validation(op, fmt.Sprintf("empty range %s..%s", start.Format(time.RFC3339), end.Format(time.RFC3339)), nil)
	}

	path := "/accounts/" + url.PathEscape(accountID) + "/transactions"
	query := url.Values{}
	query.Set("from", start.UTC().Format(time.RFC3339))
	query.Set("to", end.UTC().Format(time.RFC3339))

	var txs []domain.Transaction
	for page := 0; ; page++ {
		if page == maxPages {
			return nil, apperror.Validation(op, fmt.Sprintf("more than %d pages", maxPages), nil)
		}
		var body transactionsPage
		if err := c.do(ctx, op, "GET", path, query, nil, nil, &body); err != nil {
			return nil, err
		}
		for _, raw := range body.Transactions {
			tx, err := c.transactionFromJSON(raw)
			if err != nil {
				return nil, apperror.Validation(op, "malformed transaction", err)
			}
			txs = append(txs, tx)
		}
		if body.NextCursor == "" {
			break
		}
		query.Set("cursor", body.NextCursor)
	}
	return txs, nil
}

func (c *Client) transactionFromJSON(raw transactionJSON) (domain.Transaction, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(raw.Amount))
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("transaction %s: amount %q: %w", raw.ID, raw.Amount, err)
	}
	if raw.BookedAt.IsZero() {
		return domain.Transaction{}, fmt.Errorf("transaction %s: missing booked_at", raw.ID)
	}

	switch strings.ToLower(raw.Direction) {
	case "", "debit":
		amount = amount.Abs()
	case "credit":
		amount = amount.Abs().Neg()
	default:
		return domain.Transaction{}, fmt.Errorf("transaction %s: unknown direction %q", raw.ID, raw.Direction)
	}

	return domain.Transaction{
		ExternalID: raw.ID,
		Location:   strings.TrimSpace(raw.Merchant),
		Amount:     amount,
		Timestamp:  raw.BookedAt.In(c.loc),
	}, nil
}
