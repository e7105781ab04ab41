// Package bank is the REST client for the banking service. It reads account
// transactions and moves the weekly surplus to savings.
package bank

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dvloznov/budget-autopilot/internal/apperror"
	"github.com/dvloznov/budget-autopilot/internal/logger"
)

var errNotFound = errors.New("not found")

const (
	DefaultTimeout = 30 * time.Second
	maxBodyBytes   = 4 << 20
)

// Client talks to the bank API. It is safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	creds      CredentialProvider
	loc        *time.Location
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client, e.g. to install a mock transport.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLocation sets the timezone transaction timestamps are normalized to.
func WithLocation(loc *time.Location) Option {
	return func(c *Client) { c.loc = loc }
}

// NewClient creates a client for the API rooted at baseURL.
func NewClient(baseURL string, creds CredentialProvider, timeout time.Duration, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if _, err := url.ParseRequestURI(baseURL); err != nil || baseURL == "" {
		return nil, fmt.Errorf("NewClient: invalid base url %q", baseURL)
	}
	if creds == nil {
		return nil, errors.New("NewClient: credential provider is required")
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		creds:      creds,
		loc:        time.UTC,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Refresh renews the bearer token. It is handed to the retry executor as the
// authentication refresh callback.
func (c *Client) Refresh(ctx context.Context) error {
	return c.creds.Refresh(ctx)
}

// do sends a request and decodes a 2xx JSON response into out. Non-2xx
// responses are returned as classified errors.
func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, headers map[string]string, body, out interface{}) error {
	token, err := c.creds.Token(ctx)
	if err != nil {
		return apperror.Auth(op, "no bank credentials", err)
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return apperror.Validation(op, "encode request", err)
		}
		reader = bytes.NewReader(payload)
	}

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return apperror.Critical(op, "build request", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	log := logger.FromContext(ctx)
	log.Debug().Str("method", method).Str("path", path).Msg("Bank request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classifyTransportError(op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return apperror.Transient(op, "read response", err)
	}

	if ae := apperror.FromHTTPStatus(op, resp.StatusCode, resp.Header.Get("Retry-After"), errorMessage(raw)); ae != nil {
		if resp.StatusCode == http.StatusNotFound {
			ae.Err = errNotFound
		}
		return ae
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return apperror.Validation(op, "decode response", err)
	}
	return nil
}

// errorMessage extracts the "error" or "message" field of a JSON error body,
// falling back to the raw text.
func errorMessage(raw []byte) string {
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		if body.Message != "" {
			return body.Message
		}
		if body.Error != "" {
			return body.Error
		}
	}
	return string(raw)
}

func classifyTransportError(op string, err error) *apperror.Error {
	if errors.Is(err, context.Canceled) {
		return apperror.Critical(op, "request cancelled", err)
	}
	return apperror.Transient(op, "request failed", err)
}

// isNotFound reports whether err is the bank's 404 answer.
func isNotFound(err error) bool {
	return errors.Is(err, errNotFound)
}
