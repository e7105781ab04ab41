package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/dvloznov/budget-autopilot/internal/domain"
	"github.com/dvloznov/budget-autopilot/internal/retry"
	"github.com/dvloznov/budget-autopilot/internal/transfer"
)

var errNotImplemented = errors.New("not implemented")

// MockTransactionSource is a mock implementation of TransactionSource for testing.
type MockTransactionSource struct {
	FetchTransactionsFunc func(ctx context.Context, accountID string, start, end time.Time) ([]domain.Transaction, error)
	Calls                 int
}

func (m *MockTransactionSource) FetchTransactions(ctx context.Context, accountID string, start, end time.Time) ([]domain.Transaction, error) {
	m.Calls++
	if m.FetchTransactionsFunc != nil {
		return m.FetchTransactionsFunc(ctx, accountID, start, end)
	}
	return nil, errNotImplemented
}

// MockBudgetStore is a mock implementation of BudgetStore for testing.
type MockBudgetStore struct {
	ReadCategoriesFunc     func(ctx context.Context) ([]domain.Category, error)
	ReadTransactionsFunc   func(ctx context.Context, start, end time.Time) ([]domain.Transaction, error)
	WriteTransactionsFunc  func(ctx context.Context, weekStart time.Time, txs []domain.Transaction) error
	WriteCategoriesForFunc func(ctx context.Context, txs []domain.Transaction) error

	Written     []domain.Transaction
	Categorized []domain.Transaction
}

func (m *MockBudgetStore) ReadCategories(ctx context.Context) ([]domain.Category, error) {
	if m.ReadCategoriesFunc != nil {
		return m.ReadCategoriesFunc(ctx)
	}
	return nil, errNotImplemented
}

func (m *MockBudgetStore) ReadTransactions(ctx context.Context, start, end time.Time) ([]domain.Transaction, error) {
	if m.ReadTransactionsFunc != nil {
		return m.ReadTransactionsFunc(ctx, start, end)
	}
	return nil, errNotImplemented
}

func (m *MockBudgetStore) WriteTransactions(ctx context.Context, weekStart time.Time, txs []domain.Transaction) error {
	if m.WriteTransactionsFunc != nil {
		return m.WriteTransactionsFunc(ctx, weekStart, txs)
	}
	m.Written = append(m.Written, txs...)
	return nil
}

func (m *MockBudgetStore) WriteCategoriesFor(ctx context.Context, txs []domain.Transaction) error {
	if m.WriteCategoriesForFunc != nil {
		return m.WriteCategoriesForFunc(ctx, txs)
	}
	m.Categorized = append(m.Categorized, txs...)
	return nil
}

// MockInsightGenerator is a mock implementation of InsightGenerator for testing.
type MockInsightGenerator struct {
	CategorizeFunc      func(ctx context.Context, locations, categories []string) (map[string]string, error)
	GenerateInsightFunc func(ctx context.Context, analysis *domain.BudgetAnalysisResult) (string, error)

	CategorizeCalls int
}

func (m *MockInsightGenerator) Categorize(ctx context.Context, locations, categories []string) (map[string]string, error) {
	m.CategorizeCalls++
	if m.CategorizeFunc != nil {
		return m.CategorizeFunc(ctx, locations, categories)
	}
	return nil, errNotImplemented
}

func (m *MockInsightGenerator) GenerateInsight(ctx context.Context, analysis *domain.BudgetAnalysisResult) (string, error) {
	if m.GenerateInsightFunc != nil {
		return m.GenerateInsightFunc(ctx, analysis)
	}
	return "", errNotImplemented
}

// sentMail is one message captured by MockMailer.
type sentMail struct {
	Subject     string
	Body        string
	Attachments []domain.Attachment
	Recipients  []string
}

// MockMailer is a mock implementation of Mailer for testing.
type MockMailer struct {
	SendFunc func(ctx context.Context, subject, body string, attachments []domain.Attachment, recipients []string) (string, error)
	Sent     []sentMail
}

func (m *MockMailer) Send(ctx context.Context, subject, body string, attachments []domain.Attachment, recipients []string) (string, error) {
	m.Sent = append(m.Sent, sentMail{Subject: subject, Body: body, Attachments: attachments, Recipients: recipients})
	if m.SendFunc != nil {
		return m.SendFunc(ctx, subject, body, attachments, recipients)
	}
	return "<msg-1@test>", nil
}

// MockReportArchive is a mock implementation of ReportArchive for testing.
type MockReportArchive struct {
	ArchiveFunc func(ctx context.Context, weekStart time.Time, files []domain.Attachment) ([]string, error)
}

func (m *MockReportArchive) Archive(ctx context.Context, weekStart time.Time, files []domain.Attachment) ([]string, error) {
	if m.ArchiveFunc != nil {
		return m.ArchiveFunc(ctx, weekStart, files)
	}
	uris := make([]string, 0, len(files))
	for _, f := range files {
		uris = append(uris, "gs://reports/"+weekStart.Format(dateLayout)+"/"+f.Filename)
	}
	return uris, nil
}

// MockTransferRunner is a mock implementation of TransferRunner for testing.
type MockTransferRunner struct {
	RunFunc func(ctx context.Context, result *domain.BudgetAnalysisResult, weekStart time.Time, owner string) transfer.Outcome
}

func (m *MockTransferRunner) Run(ctx context.Context, result *domain.BudgetAnalysisResult, weekStart time.Time, owner string) transfer.Outcome {
	if m.RunFunc != nil {
		return m.RunFunc(ctx, result, weekStart, owner)
	}
	return transfer.Outcome{Kind: transfer.OutcomeNone, Reason: domain.ReasonNoSurplus}
}

// MockRunRecorder is a mock implementation of RunRecorder for testing.
type MockRunRecorder struct {
	Started       []string
	FinishedState string
	FinishedError string
	Report        []byte
}

func (m *MockRunRecorder) StartRun(ctx context.Context, runID string, weekStart time.Time) error {
	m.Started = append(m.Started, runID)
	return nil
}

func (m *MockRunRecorder) FinishRun(ctx context.Context, runID, state string, report []byte, errorMessage string) error {
	m.FinishedState = state
	m.FinishedError = errorMessage
	m.Report = report
	return nil
}

// MockNotifier is a mock implementation of Notifier for testing.
type MockNotifier struct {
	Reports []*RunReport
}

func (m *MockNotifier) Notify(ctx context.Context, report *RunReport) error {
	m.Reports = append(m.Reports, report)
	return nil
}

// stubStage runs a function in place of a real stage.
type stubStage struct {
	name StageName
	exec func(ctx context.Context, run RunContext, state *State) StageStatus
	runs int
}

func (s *stubStage) Name() StageName { return s.name }

func (s *stubStage) Execute(ctx context.Context, run RunContext, state *State) StageStatus {
	s.runs++
	if s.exec != nil {
		return s.exec(ctx, run, state)
	}
	return succeeded(s.name)
}

// fallbackStage is a stubStage that can degrade.
type fallbackStage struct {
	stubStage
	fallback func(ctx context.Context, run RunContext, state *State, failed StageStatus) StageStatus
}

func (s *fallbackStage) Fallback(ctx context.Context, run RunContext, state *State, failed StageStatus) StageStatus {
	return s.fallback(ctx, run, state, failed)
}

func noSleep(context.Context, time.Duration) error { return nil }

func testExecutor() *retry.Executor {
	return retry.NewExecutor(retry.Policy{MaxRetries: 2}, retry.WithSleeper(noSleep))
}

func testRun() RunContext {
	loc := time.UTC
	return NewRunContext(time.Date(2024, 3, 13, 9, 0, 0, 0, loc), loc, time.Time{}, 0)
}
