// Package transfer decides whether a week's surplus is moved to savings and
// carries the transfer out exactly once per week.
package transfer

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/budget-autopilot/internal/domain"
	"github.com/dvloznov/budget-autopilot/internal/logger"
	"github.com/dvloznov/budget-autopilot/internal/retry"
)

const (
	DefaultVerifyTimeout = 2 * time.Minute
	DefaultPollInterval  = 5 * time.Second
)

var keyNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("budget-autopilot/savings-transfer"))

// IdempotencyKey derives the key for the transfer of the week starting at
// weekStart. The same week and accounts always give the same key.
func IdempotencyKey(weekStart time.Time, sourceID, destinationID string) string {
	name := weekStart.Format("2006-01-02") + "|" + sourceID + "|" + destinationID
	return uuid.NewSHA1(keyNamespace, []byte(name)).String()
}

// Config configures an Engine.
type Config struct {
	SourceAccountID      string
	DestinationAccountID string
	// Minimum is the smallest amount transferred; smaller surpluses are
	// skipped. Zero transfers any surplus of at least one cent.
	Minimum       decimal.Decimal
	VerifyTimeout time.Duration
	PollInterval  time.Duration
}

// Engine decides on, validates and executes savings transfers.
type Engine struct {
	cfg     Config
	bank    FundsTransferService
	claims  ClaimStore
	exec    *retry.Executor
	refresh func(ctx context.Context) error
	sleep   retry.Sleeper
	now     func() time.Time
}

// Option customises an Engine.
type Option func(*Engine)

// WithClaimStore guards initiation with a claim ledger in addition to the
// bank's own idempotency lookup.
func WithClaimStore(c ClaimStore) Option {
	return func(e *Engine) { e.claims = c }
}

// WithCredentialRefresh sets the callback used after the bank rejects the
// credentials.
func WithCredentialRefresh(f func(ctx context.Context) error) Option {
	return func(e *Engine) { e.refresh = f }
}

// WithClock replaces the clock and sleeper used by the verification poll.
func WithClock(now func() time.Time, sleep retry.Sleeper) Option {
	return func(e *Engine) {
		e.now = now
		e.sleep = sleep
	}
}

// NewEngine creates an Engine. Zero Config durations take the package
// defaults.
func NewEngine(cfg Config, bank FundsTransferService, exec *retry.Executor, opts ...Option) *Engine {
	if cfg.VerifyTimeout <= 0 {
		cfg.VerifyTimeout = DefaultVerifyTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	e := &Engine{
		cfg:   cfg,
		bank:  bank,
		exec:  exec,
		sleep: sleepContext,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Decision is the result of Decide.
type Decision struct {
	// Transfer is nil when no transfer should be made.
	Transfer *domain.Transfer
	Reason   domain.SkipReason
}

// Decide turns an analysis result into a pending transfer. Deficit and
// break-even weeks produce no transfer, and amounts below the minimum are
// skipped rather than clamped.
func (e *Engine) Decide(ctx context.Context, result *domain.BudgetAnalysisResult, weekStart time.Time) Decision {
	log := logger.FromContext(ctx)

	if result == nil || result.Status != domain.StatusSurplus || !result.TotalVariance.IsPositive() {
		return Decision{Reason: domain.ReasonNoSurplus}
	}

	amount := result.TotalVariance.Round(domain.AmountPlaces)
	if !amount.IsPositive() || amount.LessThan(e.cfg.Minimum) {
		log.Info().
			Str("amount", amount.StringFixed(domain.AmountPlaces)).
			Str("minimum", e.cfg.Minimum.StringFixed(domain.AmountPlaces)).
			Msg("Surplus below minimum transfer, skipping")
		return Decision{Reason: domain.ReasonBelowMinimum}
	}

	return Decision{Transfer: &domain.Transfer{
		Amount:               amount,
		SourceAccountID:      e.cfg.SourceAccountID,
		DestinationAccountID: e.cfg.DestinationAccountID,
		IdempotencyKey:       IdempotencyKey(weekStart, e.cfg.SourceAccountID, e.cfg.DestinationAccountID),
		Status:               domain.TransferPending,
	}}
}

// Run decides, validates and executes the transfer for a week. owner
// identifies the run for the claim ledger.
func (e *Engine) Run(ctx context.Context, result *domain.BudgetAnalysisResult, weekStart time.Time, owner string) Outcome {
	decision := e.Decide(ctx, result, weekStart)
	if decision.Transfer == nil {
		if decision.Reason == domain.ReasonNoSurplus {
			return none()
		}
		return skipped(decision.Reason, nil)
	}

	reason, err := e.Validate(ctx, decision.Transfer)
	if err != nil {
		return failed(decision.Transfer, err)
	}
	if reason != domain.ReasonNone {
		return skipped(reason, decision.Transfer)
	}

	return e.Execute(ctx, decision.Transfer, owner)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
