package bigquery

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"google.golang.org/api/iterator"

	"github.com/dvloznov/budget-autopilot/internal/apperror"
	"github.com/dvloznov/budget-autopilot/internal/domain"
)

type TransactionRow struct {
	TransactionID string              `bigquery:"transaction_id"` // REQUIRED
	ExternalID    bigquery.NullString `bigquery:"external_id"`    // NULLABLE
	Location      string              `bigquery:"location"`       // REQUIRED
	Amount        *big.Rat            `bigquery:"amount"`         // REQUIRED NUMERIC
	TransactionTS time.Time           `bigquery:"transaction_ts"` // REQUIRED
	WeekStart     civil.Date          `bigquery:"week_start"`     // REQUIRED
	CategoryName  bigquery.NullString `bigquery:"category_name"`  // NULLABLE
	CreatedTS     time.Time           `bigquery:"created_ts"`     // REQUIRED
}

// transactionParam is a transaction as a query parameter. Query parameters
// cannot carry NULL struct fields, so empty strings stand in for NULL.
type transactionParam struct {
	TransactionID string     `bigquery:"transaction_id"`
	ExternalID    string     `bigquery:"external_id"`
	Location      string     `bigquery:"location"`
	Amount        *big.Rat   `bigquery:"amount"`
	TransactionTS time.Time  `bigquery:"transaction_ts"`
	WeekStart     civil.Date `bigquery:"week_start"`
	CategoryName  string     `bigquery:"category_name"`
}

type categoryUpdate struct {
	TransactionID string `bigquery:"transaction_id"`
	CategoryName  string `bigquery:"category_name"`
}

// ReadTransactions returns the transactions with start <= transaction_ts < end.
func (s *Store) ReadTransactions(ctx context.Context, start, end time.Time) ([]domain.Transaction, error) {
	const op = "bigquery.ReadTransactions"

	q := s.client.Query(fmt.Sprintf(`
		SELECT
			transaction_id,
			external_id,
			location,
			amount,
			transaction_ts,
			week_start,
			category_name,
			created_ts
		FROM %s
		WHERE transaction_ts >= @start_ts
		  AND transaction_ts < @end_ts
		ORDER BY transaction_ts, transaction_id
	`, s.table(transactionsTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "start_ts", Value: start},
		{Name: "end_ts", Value: end},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, classify(op, "query read", err)
	}

	var txs []domain.Transaction
	for {
		var r TransactionRow
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, classify(op, "iter next", err)
		}
		tx, err := transactionFromRow(r, start.Location())
		if err != nil {
			return nil, apperror.Validation(op, "invalid transaction row", err)
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

// WriteTransactions upserts the week's transactions by transaction id, so a
// repeated run for the same week rewrites the same rows. A DML statement is
// used instead of a streaming insert because streamed rows cannot be updated
// by WriteCategoriesFor until the streaming buffer is flushed.
func (s *Store) WriteTransactions(ctx context.Context, weekStart time.Time, txs []domain.Transaction) error {
	const op = "bigquery.WriteTransactions"
	if len(txs) == 0 {
		return nil
	}

	params := make([]transactionParam, 0, len(txs))
	for _, tx := range txs {
		params = append(params, transactionToParam(tx, weekStart))
	}

	sql := fmt.Sprintf(`
		MERGE %s T
		USING UNNEST(@rows) S
		ON T.transaction_id = S.transaction_id
		WHEN MATCHED THEN UPDATE SET
			location = S.location,
			amount = S.amount,
			transaction_ts = S.transaction_ts,
			week_start = S.week_start
		WHEN NOT MATCHED THEN INSERT (
			transaction_id,
			external_id,
			location,
			amount,
			transaction_ts,
			week_start,
			category_name,
			created_ts
		) VALUES (
			S.transaction_id,
			NULLIF(S.external_id, ''),
			S.location,
			S.amount,
			S.transaction_ts,
			S.week_start,
			NULLIF(S.category_name, ''),
			CURRENT_TIMESTAMP()
		)
	`, s.table(transactionsTable))

	return s.exec(ctx, op, sql, bigquery.QueryParameter{Name: "rows", Value: params})
}

// WriteCategoriesFor stores the category of each transaction.
func (s *Store) WriteCategoriesFor(ctx context.Context, txs []domain.Transaction) error {
	const op = "bigquery.WriteCategoriesFor"

	updates := make([]categoryUpdate, 0, len(txs))
	for _, tx := range txs {
		if tx.ID == "" || tx.Category == "" {
			continue
		}
		updates = append(updates, categoryUpdate{TransactionID: tx.ID, CategoryName: tx.Category})
	}
	if len(updates) == 0 {
		return nil
	}

	sql := fmt.Sprintf(`
		UPDATE %s T
		SET category_name = U.category_name
		FROM UNNEST(@updates) U
		WHERE T.transaction_id = U.transaction_id
	`, s.table(transactionsTable))

	return s.exec(ctx, op, sql, bigquery.QueryParameter{Name: "updates", Value: updates})
}

func transactionToParam(tx domain.Transaction, weekStart time.Time) transactionParam {
	return transactionParam{
		TransactionID: tx.ID,
		ExternalID:    tx.ExternalID,
		Location:      tx.Location,
		Amount:        ratFromDecimal(tx.Amount),
		TransactionTS: tx.Timestamp.UTC(),
		WeekStart:     civil.DateOf(weekStart),
		CategoryName:  tx.Category,
	}
}

func transactionFromRow(r TransactionRow, loc *time.Location) (domain.Transaction, error) {
	if r.TransactionID == "" {
		return domain.Transaction{}, fmt.Errorf("transaction without an id")
	}
	amount, err := decimalFromRat(r.Amount)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("transaction %s: %w", r.TransactionID, err)
	}
	if loc == nil {
		loc = time.UTC
	}

	tx := domain.Transaction{
		ID:        r.TransactionID,
		Location:  r.Location,
		Amount:    amount,
		Timestamp: r.TransactionTS.In(loc),
	}
	if r.ExternalID.Valid {
		tx.ExternalID = r.ExternalID.StringVal
	}
	if r.CategoryName.Valid {
		tx.Category = r.CategoryName.StringVal
	}
	return tx, nil
}
