// Package apperror classifies failures of external calls into the kinds the
// retry executor and the pipeline coordinator act on.
package apperror

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Kind is the failure class of an error.
type Kind string

const (
	// KindTransient covers timeouts, 5xx and rate limiting; eligible for retry.
	KindTransient Kind = "transient"
	// KindAuth means credentials were rejected; refreshed once and retried once.
	KindAuth Kind = "authentication"
	// KindValidation means the data was malformed or out of range; never retried.
	KindValidation Kind = "validation"
	// KindCritical is unrecoverable within the run.
	KindCritical Kind = "critical"
)

// Error is a classified error.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	// RetryAfter is the server-provided wait before the next attempt, zero if none.
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(string(e.Kind))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the retry executor may attempt the call again
// after backing off.
func (e *Error) Retryable() bool { return e.Kind == KindTransient }

func newError(kind Kind, op, msg string, err error) *Error {
	return &Error{Kind: kind, Op: op, Message: msg, Err: err}
}

// Transient returns a retry-eligible error.
func Transient(op, msg string, err error) *Error { return newError(KindTransient, op, msg, err) }

// Auth returns an authentication error.
func Auth(op, msg string, err error) *Error { return newError(KindAuth, op, msg, err) }

// Validation returns a validation error.
func Validation(op, msg string, err error) *Error { return newError(KindValidation, op, msg, err) }

// Critical returns an unrecoverable error.
func Critical(op, msg string, err error) *Error { return newError(KindCritical, op, msg, err) }

// WithRetryAfter sets the server-provided retry hint and returns e.
func (e *Error) WithRetryAfter(d time.Duration) *Error {
	e.RetryAfter = d
	return e
}

// As extracts the classified error from err's chain.
func As(err error) (*Error, bool) {
	var ae *Error
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// KindOf returns the kind of err. Context expiry and network timeouts are
// transient; anything unclassified is critical.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	if ae, ok := As(err); ok {
		return ae.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTransient
	}
	return KindCritical
}

// Classify wraps err as a classified error, keeping an existing
// classification intact.
func Classify(op string, err error) *Error {
	if err == nil {
		return nil
	}
	if ae, ok := As(err); ok {
		return ae
	}
	return newError(KindOf(err), op, "", err)
}

// FromHTTPStatus maps an HTTP response status to an error kind. A nil error
// is returned for 2xx statuses. retryAfter is the raw Retry-After header.
func FromHTTPStatus(op string, status int, retryAfter string, body string) *Error {
	if status >= 200 && status < 300 {
		return nil
	}
	msg := fmt.Sprintf("status %d", status)
	if body = strings.TrimSpace(body); body != "" {
		const maxLen = 512
		if len(body) > maxLen {
			body = body[:maxLen]
		}
		msg += ": " + body
	}

	switch {
	case status == http.StatusRequestTimeout,
		status == http.StatusTooEarly,
		status == http.StatusTooManyRequests,
		status >= 500:
		return Transient(op, msg, nil).WithRetryAfter(ParseRetryAfter(retryAfter, time.Now()))
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return Auth(op, msg, nil)
	default:
		return Validation(op, msg, nil)
	}
}

// ParseRetryAfter reads a Retry-After header given either in seconds or as an
// HTTP date. Unparseable or past values yield zero.
func ParseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
