package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/dvloznov/budget-autopilot/internal/bank"
	"github.com/dvloznov/budget-autopilot/internal/config"
	"github.com/dvloznov/budget-autopilot/internal/gcs"
	"github.com/dvloznov/budget-autopilot/internal/gemini"
	"github.com/dvloznov/budget-autopilot/internal/idempotency"
	infraBQ "github.com/dvloznov/budget-autopilot/internal/infra/bigquery"
	"github.com/dvloznov/budget-autopilot/internal/logger"
	"github.com/dvloznov/budget-autopilot/internal/mailer"
	"github.com/dvloznov/budget-autopilot/internal/notification"
	"github.com/dvloznov/budget-autopilot/internal/pipeline"
	"github.com/dvloznov/budget-autopilot/internal/retry"
	"github.com/dvloznov/budget-autopilot/internal/transfer"
)

// services are the collaborators of one run.
type services struct {
	store     *infraBQ.Store
	generator *gemini.Client
	bank      *bank.Client
	exec      *retry.Executor

	closers []io.Closer
}

func (s *services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		_ = s.closers[i].Close()
	}
}

func retryPolicy(cnf *config.Configuration) retry.Policy {
	return retry.Policy{
		MaxRetries:       cnf.Retry.MaxRetries,
		BaseDelay:        cnf.Retry.BaseDelay.Duration,
		MaxDelay:         cnf.Retry.MaxDelay.Duration,
		Jitter:           cnf.Retry.Jitter,
		BreakerThreshold: cnf.Breaker.Threshold,
		BreakerCoolDown:  cnf.Breaker.CoolDown.Duration,
	}
}

// newServices connects the store, the generator and the bank. Callers must
// Close the result.
func newServices(ctx context.Context, cnf *config.Configuration) (*services, error) {
	loc, err := cnf.Location()
	if err != nil {
		return nil, err
	}

	s := &services{
		exec: retry.NewExecutor(retryPolicy(cnf), retry.WithLogger(logger.FromContext(ctx))),
	}

	store, err := infraBQ.NewStore(ctx, cnf.BigQuery.ProjectID, cnf.BigQuery.Dataset)
	if err != nil {
		return nil, err
	}
	s.store = store
	s.closers = append(s.closers, store)

	generator, err := gemini.NewClient(ctx, cnf.Gemini.APIKey, cnf.Gemini.Model)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.generator = generator

	bankClient, err := bank.NewClient(cnf.Bank.BaseURL, bank.NewEnvCredentials(cnf.Bank.TokenEnv),
		cnf.Bank.Timeout.Duration, bank.WithLocation(loc))
	if err != nil {
		s.Close()
		return nil, err
	}
	s.bank = bankClient
	return s, nil
}

// analysisStages are the stages that end with a budget analysis.
func (s *services) analysisStages(cnf *config.Configuration, fromStore bool) pipeline.Stages {
	return pipeline.Stages{
		Retrieval: &pipeline.RetrievalStage{
			Source:    s.bank,
			Store:     s.store,
			Exec:      s.exec,
			AccountID: cnf.Accounts.Source,
			FromStore: fromStore,
			Refresh:   s.bank.Refresh,
		},
		Categorization: &pipeline.CategorizationStage{
			Generator:           s.generator,
			Store:               s.store,
			Exec:                s.exec,
			CoverageThreshold:   cnf.Categorization.CoverageThreshold,
			SimilarityThreshold: cnf.Categorization.SimilarityThreshold,
		},
		Analysis: &pipeline.AnalysisStage{},
	}
}

// fullStages adds report generation, delivery and the savings transfer.
// With dryRun the bank refuses to initiate transfers.
func (s *services) fullStages(ctx context.Context, cnf *config.Configuration, dryRun bool) (pipeline.Stages, error) {
	log := logger.FromContext(ctx)
	stages := s.analysisStages(cnf, false)

	m, err := mailer.New(mailer.Config{
		Host:     cnf.SMTP.Host,
		Port:     cnf.SMTP.Port,
		Username: cnf.SMTP.Username,
		Password: cnf.SMTP.Password,
		From:     cnf.SMTP.From,
	})
	if err != nil {
		return pipeline.Stages{}, err
	}
	distribution := &pipeline.DistributionStage{Mailer: m, Exec: s.exec, Recipients: cnf.Report.Recipients}
	if cnf.Storage.Bucket != "" {
		archive, err := gcs.NewArchive(ctx, cnf.Storage.Bucket)
		if err != nil {
			return pipeline.Stages{}, err
		}
		s.closers = append(s.closers, archive)
		distribution.Archive = archive
	} else {
		log.Info().Msg("No storage bucket configured, reports are not archived")
	}

	var funds transfer.FundsTransferService = s.bank
	if dryRun {
		funds = bank.ReadOnly{Client: s.bank}
	}
	opts := []transfer.Option{transfer.WithCredentialRefresh(s.bank.Refresh)}
	if cnf.Redis.Addr != "" {
		rdb := idempotency.NewClient(cnf.Redis.Addr)
		s.closers = append(s.closers, rdb)
		opts = append(opts, transfer.WithClaimStore(idempotency.NewLedger(rdb, cnf.Redis.IdempotencyTTL.Duration)))
	}
	engine := transfer.NewEngine(transfer.Config{
		SourceAccountID:      cnf.Accounts.Source,
		DestinationAccountID: cnf.Accounts.Savings,
		Minimum:              cnf.Transfer.Minimum.Decimal,
		VerifyTimeout:        cnf.Transfer.VerifyTimeout.Duration,
		PollInterval:         cnf.Transfer.PollInterval.Duration,
	}, funds, s.exec, opts...)

	stages.Insight = &pipeline.InsightStage{Generator: s.generator, Exec: s.exec}
	stages.Distribution = distribution
	stages.Savings = &pipeline.SavingsStage{Transfers: engine}
	return stages, nil
}

// parseWeekStart reads a YYYY-MM-DD flag value in loc. An empty value
// yields the zero time, meaning the previous complete week.
func parseWeekStart(value string, loc *time.Location) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	t, err := time.ParseInLocation("2006-01-02", value, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --week-start %q, want YYYY-MM-DD", value)
	}
	return t, nil
}

func runContext(cnf *config.Configuration, weekStart string) (pipeline.RunContext, error) {
	loc, err := cnf.Location()
	if err != nil {
		return pipeline.RunContext{}, err
	}
	ws, err := parseWeekStart(weekStart, loc)
	if err != nil {
		return pipeline.RunContext{}, err
	}
	return pipeline.NewRunContext(time.Now(), loc, ws, cnf.RunTimeout.Duration), nil
}

func newNotifier(cnf *config.Configuration) *notification.Webhook {
	return notification.NewWebhook(cnf.Notification.WebhookURL, nil)
}
