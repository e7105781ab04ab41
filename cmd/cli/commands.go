package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dvloznov/budget-autopilot/internal/gcs"
	infraBQ "github.com/dvloznov/budget-autopilot/internal/infra/bigquery"
	"github.com/dvloznov/budget-autopilot/internal/logger"
	"github.com/dvloznov/budget-autopilot/internal/pipeline"
)

func runCommand(app *cli) *cobra.Command {
	var (
		weekStart string
		dryRun    bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the weekly pipeline: retrieve, categorize, analyse, report and save",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			rc, err := runContext(app.cnf, weekStart)
			if err != nil {
				return err
			}

			svc, err := newServices(ctx, app.cnf)
			if err != nil {
				return err
			}
			defer svc.Close()

			stages, err := svc.fullStages(ctx, app.cnf, dryRun)
			if err != nil {
				return err
			}
			if dryRun {
				ctxLog := logger.FromContext(ctx)
				ctxLog.Warn().Msg("Dry run: savings transfers will not be initiated")
			}

			coordinator := pipeline.NewCoordinator(stages,
				pipeline.WithRecorder(svc.store),
				pipeline.WithNotifier(newNotifier(app.cnf)))
			report := coordinator.Run(ctx, rc)

			out, err := report.JSON()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			if report.Failed() {
				return exitCode(1)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&weekStart, "week-start", "", "First day of the week to process (YYYY-MM-DD); defaults to the previous complete week")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Run every stage but refuse to initiate the savings transfer")
	return cmd
}

func analyzeCommand(app *cli) *cobra.Command {
	var (
		weekStart string
		fromStore bool
	)
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Retrieve, categorize and analyse a week without reporting or saving",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			rc, err := runContext(app.cnf, weekStart)
			if err != nil {
				return err
			}

			svc, err := newServices(ctx, app.cnf)
			if err != nil {
				return err
			}
			defer svc.Close()

			report := pipeline.NewCoordinator(svc.analysisStages(app.cnf, fromStore)).Run(ctx, rc)
			if report.Analysis == nil {
				out, _ := report.JSON()
				fmt.Fprintln(cmd.OutOrStdout(), string(out))
				return exitCode(1)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report.Analysis)
		},
	}
	cmd.Flags().StringVar(&weekStart, "week-start", "", "First day of the week to analyse (YYYY-MM-DD)")
	cmd.Flags().BoolVar(&fromStore, "from-store", false, "Read the week's transactions from the budget store instead of the bank")
	return cmd
}

func migrateCommand(app *cli) *cobra.Command {
	var appliedBy string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending BigQuery schema migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			store, err := infraBQ.NewStore(ctx, app.cnf.BigQuery.ProjectID, app.cnf.BigQuery.Dataset)
			if err != nil {
				return err
			}
			defer store.Close()

			applied, err := store.Migrate(ctx, appliedBy)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) to %s.%s\n",
				applied, app.cnf.BigQuery.ProjectID, app.cnf.BigQuery.Dataset)
			return nil
		},
	}
	cmd.Flags().StringVar(&appliedBy, "applied-by", "budget-autopilot", "Name recorded with each applied migration")
	return cmd
}

func reportCommand(app *cli) *cobra.Command {
	var (
		weekStart string
		csv       bool
	)
	cmd := &cobra.Command{
		Use:   "report [gs://uri]",
		Short: "Print an archived weekly report",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if app.cnf.Storage.Bucket == "" {
				return fmt.Errorf("report: no storage bucket configured")
			}

			uri := ""
			if len(args) == 1 {
				uri = args[0]
			} else {
				rc, err := runContext(app.cnf, weekStart)
				if err != nil {
					return err
				}
				uri = archivedReportURI(app.cnf.Storage.Bucket, rc, csv)
			}

			data, err := fetchReport(ctx, app.cnf.Storage.Bucket, uri)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	cmd.Flags().StringVar(&weekStart, "week-start", "", "First day of the archived week (YYYY-MM-DD); defaults to the previous complete week")
	cmd.Flags().BoolVar(&csv, "csv", false, "Print the variance CSV instead of the text report")
	return cmd
}

// archivedReportURI is where the distribution stage archives the week's
// report files.
func archivedReportURI(bucket string, rc pipeline.RunContext, csv bool) string {
	name := pipeline.ReportFilename(rc.WeekStart)
	if csv {
		name = pipeline.VarianceFilename(rc.WeekStart)
	}
	return gcs.URI(bucket, gcs.ObjectName(rc.WeekStart, name))
}

func fetchReport(ctx context.Context, bucket, uri string) ([]byte, error) {
	archive, err := gcs.NewArchive(ctx, bucket)
	if err != nil {
		return nil, err
	}
	defer archive.Close()

	data, err := archive.Fetch(ctx, uri)
	if err != nil {
		ctxLog := logger.FromContext(ctx)
		ctxLog.Error().Err(err).Str("uri", uri).Msg("Failed to fetch archived report")
		return nil, err
	}
	return data, nil
}
