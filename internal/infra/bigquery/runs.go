package bigquery

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
)

// maxErrorMessage caps the stored error message.
const maxErrorMessage = 2000

// StartRun inserts a row into pipeline_runs with status=RUNNING.
func (s *Store) StartRun(ctx context.Context, runID string, weekStart time.Time) error {
	sql := fmt.Sprintf(`
		INSERT %s (
			run_id,
			week_start,
			started_ts,
			status
		)
		VALUES (
			@run_id,
			@week_start,
			@started_ts,
			@status
		)
	`, s.table(runsTable))

	return s.exec(ctx, "bigquery.StartRun", sql,
		bigquery.QueryParameter{Name: "run_id", Value: runID},
		bigquery.QueryParameter{Name: "week_start", Value: civil.DateOf(weekStart)},
		bigquery.QueryParameter{Name: "started_ts", Value: s.now()},
		bigquery.QueryParameter{Name: "status", Value: "RUNNING"},
	)
}

// FinishRun sets the final status, finished_ts, the JSON run report and the
// error message of a run.
func (s *Store) FinishRun(ctx context.Context, runID, state string, report []byte, errorMessage string) error {
	sql := fmt.Sprintf(`
		UPDATE %s
		SET status = @status,
		    finished_ts = @finished_ts,
		    report = SAFE.PARSE_JSON(NULLIF(@report, '')),
		    error_message = @error_message
		WHERE run_id = @run_id
	`, s.table(runsTable))

	return s.exec(ctx, "bigquery.FinishRun", sql,
		bigquery.QueryParameter{Name: "status", Value: runStatus(state)},
		bigquery.QueryParameter{Name: "finished_ts", Value: s.now()},
		bigquery.QueryParameter{Name: "report", Value: string(report)},
		bigquery.QueryParameter{Name: "error_message", Value: truncate(errorMessage, maxErrorMessage)},
		bigquery.QueryParameter{Name: "run_id", Value: runID},
	)
}

// runStatus maps a run state to the stored status.
func runStatus(state string) string {
	switch state {
	case "completed":
		return "SUCCESS"
	case "failed":
		return "FAILED"
	default:
		return "RUNNING"
	}
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
