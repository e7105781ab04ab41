package bigquery

import (
	"errors"
	"fmt"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"

	"github.com/dvloznov/budget-autopilot/internal/apperror"
)

// classify maps BigQuery API and job errors onto the error taxonomy.
func classify(op, msg string, err error) error {
	if err == nil {
		return nil
	}
	wrapped := fmt.Errorf("%s: %s: %w", op, msg, err)

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		ae := apperror.FromHTTPStatus(op, apiErr.Code, apiErr.Header.Get("Retry-After"), apiErr.Message)
		if ae == nil {
			return apperror.Critical(op, msg, wrapped)
		}
		ae.Err = wrapped
		return ae
	}

	var jobErr *bigquery.Error
	if errors.As(err, &jobErr) {
		switch jobErr.Reason {
		case "backendError", "internalError", "rateLimitExceeded", "jobBackendError", "jobInternalError":
			return apperror.Transient(op, msg, wrapped)
		case "accessDenied":
			return apperror.Auth(op, msg, wrapped)
		case "invalid", "invalidQuery", "notFound", "duplicate":
			return apperror.Validation(op, msg, wrapped)
		}
		return apperror.Critical(op, msg, wrapped)
	}

	return apperror.Classify(op, wrapped)
}
