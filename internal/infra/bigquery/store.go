// Package bigquery is the budget store and run bookkeeping on BigQuery.
package bigquery

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
)

const (
	categoriesTable   = "budget_categories"
	transactionsTable = "transactions"
	runsTable         = "pipeline_runs"
	dateFormat        = "2006-01-02"
)

// Store is the BigQuery budget store. It satisfies pipeline.BudgetStore and
// pipeline.RunRecorder.
type Store struct {
	client    *bigquery.Client
	projectID string
	datasetID string
	now       func() time.Time
}

// NewStore creates a Store with a shared BigQuery client.
func NewStore(ctx context.Context, projectID, datasetID string) (*Store, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("NewStore: creating client: %w", err)
	}
	return NewStoreWithClient(client, datasetID), nil
}

// NewStoreWithClient creates a Store using the provided BigQuery client.
func NewStoreWithClient(client *bigquery.Client, datasetID string) *Store {
	return &Store{
		client:    client,
		projectID: client.Project(),
		datasetID: datasetID,
		now:       time.Now,
	}
}

// Close closes the BigQuery client connection.
func (s *Store) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// table returns the fully qualified, quoted name of a table.
func (s *Store) table(name string) string {
	return qualifiedTable(s.projectID, s.datasetID, name)
}

func qualifiedTable(projectID, datasetID, name string) string {
	return fmt.Sprintf("`%s.%s.%s`", projectID, datasetID, name)
}

// exec runs a DML or DDL statement and waits for it to finish.
func (s *Store) exec(ctx context.Context, op, sql string, params ...bigquery.QueryParameter) error {
	return runStatement(ctx, s.client, op, sql, params...)
}

func runStatement(ctx context.Context, client *bigquery.Client, op, sql string, params ...bigquery.QueryParameter) error {
	q := client.Query(sql)
	q.Parameters = params

	job, err := q.Run(ctx)
	if err != nil {
		return classify(op, "running query", err)
	}

	status, err := job.Wait(ctx)
	if err != nil {
		return classify(op, "waiting for job", err)
	}
	if err := status.Err(); err != nil {
		return classify(op, "job error", err)
	}
	return nil
}
