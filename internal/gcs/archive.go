// Package gcs archives weekly reports in a Cloud Storage bucket.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"

	"github.com/dvloznov/budget-autopilot/internal/apperror"
	"github.com/dvloznov/budget-autopilot/internal/domain"
	"github.com/dvloznov/budget-autopilot/internal/logger"
)

const (
	reportsPrefix = "reports"
	dateFormat    = "2006-01-02"
	uploadTimeout = 2 * time.Minute
)

// Archive stores report files under gs://<bucket>/reports/<week-start>/.
type Archive struct {
	bucket string
	client *storage.Client

	// newWriter and newReader are replaced in tests.
	newWriter func(ctx context.Context, object, contentType string) io.WriteCloser
	newReader func(ctx context.Context, object string) (io.ReadCloser, error)
}

// NewArchive creates an Archive for the bucket. It assumes Application
// Default Credentials are configured.
func NewArchive(ctx context.Context, bucket string) (*Archive, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("NewArchive: create storage client: %w", err)
	}

	a := &Archive{bucket: bucket, client: client}
	a.newWriter = func(ctx context.Context, object, contentType string) io.WriteCloser {
		w := client.Bucket(bucket).Object(object).NewWriter(ctx)
		w.ContentType = contentType
		return w
	}
	a.newReader = func(ctx context.Context, object string) (io.ReadCloser, error) {
		return client.Bucket(bucket).Object(object).NewReader(ctx)
	}
	return a, nil
}

// Close closes the storage client.
func (a *Archive) Close() error {
	if a.client != nil {
		return a.client.Close()
	}
	return nil
}

// ObjectName returns the object a report file of the week is stored under.
func ObjectName(weekStart time.Time, filename string) string {
	return path.Join(reportsPrefix, weekStart.Format(dateFormat), filename)
}

// Archive uploads the files and returns their gs:// URIs in order.
func (a *Archive) Archive(ctx context.Context, weekStart time.Time, files []domain.Attachment) ([]string, error) {
	const op = "gcs.Archive"
	log := logger.FromContext(ctx)

	uris := make([]string, 0, len(files))
	for _, f := range files {
		object := ObjectName(weekStart, f.Filename)
		if err := a.upload(ctx, object, f); err != nil {
			return uris, classify(op, fmt.Sprintf("upload %s", object), err)
		}
		uri := URI(a.bucket, object)
		uris = append(uris, uri)
		log.Debug().Str("uri", uri).Int("bytes", len(f.Data)).Msg("Archived report file")
	}
	return uris, nil
}

func (a *Archive) upload(ctx context.Context, object string, f domain.Attachment) error {
	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	w := a.newWriter(ctx, object, f.ContentType)
	if _, err := w.Write(f.Data); err != nil {
		_ = w.Close()
		return fmt.Errorf("write to GCS writer: %w", err)
	}
	// Close finalizes the upload.
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalize upload: %w", err)
	}
	return nil
}

// Fetch downloads an archived report file by its gs:// URI.
func (a *Archive) Fetch(ctx context.Context, uri string) ([]byte, error) {
	const op = "gcs.Fetch"

	bucket, object, err := ParseURI(uri)
	if err != nil {
		return nil, apperror.Validation(op, "invalid URI", err)
	}
	if bucket != a.bucket {
		return nil, apperror.Validation(op, fmt.Sprintf("object %s is not in bucket %s", uri, a.bucket), nil)
	}

	rc, err := a.newReader(ctx, object)
	if err != nil {
		return nil, classify(op, "reading object "+object, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, classify(op, "reading bytes", err)
	}
	return data, nil
}

// URI renders a gs:// URI.
func URI(bucket, object string) string {
	return "gs://" + bucket + "/" + object
}

// ParseURI splits gs://bucket/path/to/file into bucket and object.
func ParseURI(uri string) (bucket, object string, err error) {
	if !strings.HasPrefix(uri, "gs://") {
		return "", "", fmt.Errorf("invalid GCS URI: %s", uri)
	}
	parts := strings.SplitN(strings.TrimPrefix(uri, "gs://"), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid GCS URI (no object path): %s", uri)
	}
	return parts[0], parts[1], nil
}

// FilenameFromURI extracts the filename from a GCS URI.
// e.g., "gs://bucket/reports/2024-03-04/report.txt" → "report.txt"
func FilenameFromURI(uri string) string {
	trimmed := strings.TrimPrefix(uri, "gs://")
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) < 2 {
		return trimmed
	}
	return path.Base(parts[1])
}

// classify maps storage errors onto the error taxonomy. Failed uploads
// without an API status are network failures and may be retried.
func classify(op, msg string, err error) error {
	var apiErr *googleapi.Error
	switch {
	case errors.As(err, &apiErr):
		ae := apperror.FromHTTPStatus(op, apiErr.Code, apiErr.Header.Get("Retry-After"), apiErr.Message)
		if ae == nil {
			return apperror.Critical(op, msg, err)
		}
		ae.Err = fmt.Errorf("%s: %w", msg, err)
		return ae
	case errors.Is(err, storage.ErrBucketNotExist), errors.Is(err, storage.ErrObjectNotExist):
		return apperror.Validation(op, msg, err)
	case errors.Is(err, context.Canceled):
		return apperror.Critical(op, msg, err)
	default:
		return apperror.Transient(op, msg, err)
	}
}
