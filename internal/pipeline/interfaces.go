package pipeline

import (
	"context"
	"time"

	"github.com/dvloznov/budget-autopilot/internal/domain"
	"github.com/dvloznov/budget-autopilot/internal/transfer"
)

// TransactionSource fetches bank transactions for an account.
type TransactionSource interface {
	FetchTransactions(ctx context.Context, accountID string, start, end time.Time) ([]domain.Transaction, error)
}

// BudgetStore holds the budget categories and the categorized transactions.
type BudgetStore interface {
	ReadCategories(ctx context.Context) ([]domain.Category, error)
	ReadTransactions(ctx context.Context, start, end time.Time) ([]domain.Transaction, error)
	WriteTransactions(ctx context.Context, weekStart time.Time, txs []domain.Transaction) error
	WriteCategoriesFor(ctx context.Context, txs []domain.Transaction) error
}

// RunRecorder keeps a record of every run.
type RunRecorder interface {
	StartRun(ctx context.Context, runID string, weekStart time.Time) error
	FinishRun(ctx context.Context, runID, state string, report []byte, errorMessage string) error
}

// InsightGenerator is the generative text model used to categorize
// locations and to word the weekly narrative.
type InsightGenerator interface {
	// Categorize maps each location to one of the category names.
	Categorize(ctx context.Context, locations, categories []string) (map[string]string, error)
	GenerateInsight(ctx context.Context, analysis *domain.BudgetAnalysisResult) (string, error)
}

// Mailer delivers the weekly report and returns a delivery id.
type Mailer interface {
	Send(ctx context.Context, subject, body string, attachments []domain.Attachment, recipients []string) (string, error)
}

// ReportArchive stores report files and returns their URIs.
type ReportArchive interface {
	Archive(ctx context.Context, weekStart time.Time, files []domain.Attachment) ([]string, error)
}

// TransferRunner carries out the savings transfer for a week.
type TransferRunner interface {
	Run(ctx context.Context, result *domain.BudgetAnalysisResult, weekStart time.Time, owner string) transfer.Outcome
}

// Notifier alerts an operator about a run that needs follow-up.
type Notifier interface {
	Notify(ctx context.Context, report *RunReport) error
}
