package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dvloznov/budget-autopilot/internal/apperror"
	"github.com/dvloznov/budget-autopilot/internal/domain"
	"github.com/dvloznov/budget-autopilot/internal/logger"
	"github.com/dvloznov/budget-autopilot/internal/retry"
)

var transactionNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("budget-autopilot/transaction"))

// RetrievalStage loads the budget categories and the week's transactions.
type RetrievalStage struct {
	Source    TransactionSource
	Store     BudgetStore
	Exec      *retry.Executor
	AccountID string
	// FromStore reads the week's transactions back from the store instead of
	// the bank, for re-analysing a week that was already retrieved.
	FromStore bool
	// Refresh renews bank credentials after an authentication failure.
	Refresh func(ctx context.Context) error
}

func (s *RetrievalStage) Name() StageName { return StageRetrieval }

func (s *RetrievalStage) Execute(ctx context.Context, run RunContext, state *State) StageStatus {
	log := logger.FromContext(ctx)

	cats := retry.Do(ctx, s.Exec, retry.Call{Class: classStore, Operation: "store.read_categories"}, s.Store.ReadCategories)
	if !cats.OK() {
		return failedWith(StageRetrieval, cats.Err)
	}
	if len(cats.Value) == 0 {
		return failedWith(StageRetrieval, apperror.Critical("store.read_categories", "no budget categories configured", nil))
	}

	var fetched retry.Result[[]domain.Transaction]
	if s.FromStore {
		fetched = retry.Do(ctx, s.Exec, retry.Call{Class: classStore, Operation: "store.read_transactions"},
			func(ctx context.Context) ([]domain.Transaction, error) {
				return s.Store.ReadTransactions(ctx, run.WeekStart, run.WeekEnd)
			})
	} else {
		fetched = retry.Do(ctx, s.Exec, retry.Call{Class: classBank, Operation: "bank.fetch_transactions", Refresh: s.Refresh},
			func(ctx context.Context) ([]domain.Transaction, error) {
				return s.Source.FetchTransactions(ctx, s.AccountID, run.WeekStart, run.WeekEnd)
			})
	}
	if !fetched.OK() {
		return failedWith(StageRetrieval, fetched.Err)
	}

	status := succeeded(StageRetrieval)
	txs, dropped := normalizeTransactions(fetched.Value, run)
	if dropped > 0 {
		status.warn(fmt.Sprintf("dropped %d duplicate or out-of-week transactions", dropped))
	}

	if !s.FromStore && len(txs) > 0 {
		written := retry.Run(ctx, s.Exec, retry.Call{Class: classStore, Operation: "store.write_transactions"},
			func(ctx context.Context) error {
				return s.Store.WriteTransactions(ctx, run.WeekStart, txs)
			})
		if !written.OK() {
			status.warn("transactions not saved to the budget store: " + written.Err.Error())
		}
	}

	state.Categories = cats.Value
	state.Transactions = txs
	log.Info().
		Int("categories", len(cats.Value)).
		Int("transactions", len(txs)).
		Bool("from_store", s.FromStore).
		Msg("Retrieved week")
	return status
}

// normalizeTransactions moves timestamps into the run's timezone, assigns
// store ids and drops duplicates and transactions outside the week.
func normalizeTransactions(in []domain.Transaction, run RunContext) ([]domain.Transaction, int) {
	out := make([]domain.Transaction, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	dropped := 0

	for _, tx := range in {
		tx.Timestamp = tx.Timestamp.In(run.Location)
		if !inWeek(tx.Timestamp, run) {
			dropped++
			continue
		}
		if tx.ExternalID != "" {
			if _, dup := seen[tx.ExternalID]; dup {
				dropped++
				continue
			}
			seen[tx.ExternalID] = struct{}{}
		}
		if tx.ID == "" {
			tx.ID = transactionID(tx)
		}
		out = append(out, tx)
	}
	return out, dropped
}

func inWeek(ts time.Time, run RunContext) bool {
	return !ts.Before(run.WeekStart) && ts.Before(run.WeekEnd)
}

// transactionID derives a stable id so re-running a week updates the same
// store rows.
func transactionID(tx domain.Transaction) string {
	key := tx.ExternalID
	if key == "" {
		key = tx.Timestamp.UTC().Format(time.RFC3339Nano) + "|" + tx.Location + "|" + tx.Amount.String()
	}
	return uuid.NewSHA1(transactionNamespace, []byte(key)).String()
}
