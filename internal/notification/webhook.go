// Package notification alerts an operator when a run needs follow-up.
package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dvloznov/budget-autopilot/internal/apperror"
	"github.com/dvloznov/budget-autopilot/internal/logger"
	"github.com/dvloznov/budget-autopilot/internal/pipeline"
)

const defaultTimeout = 10 * time.Second

// Payload is the JSON body posted to the webhook. Text makes it readable by
// chat webhooks that only render a text field.
type Payload struct {
	Text            string   `json:"text"`
	RunID           string   `json:"run_id"`
	WeekStart       string   `json:"week_start"`
	State           string   `json:"state"`
	TransferOutcome string   `json:"transfer_outcome,omitempty"`
	Error           string   `json:"error,omitempty"`
	Warnings        []string `json:"warnings,omitempty"`
	FailedStages    []string `json:"failed_stages,omitempty"`
}

// Webhook posts run summaries to a URL. A Webhook without a URL is disabled
// and Notify does nothing.
type Webhook struct {
	url    string
	client *http.Client
}

// NewWebhook creates a notifier posting to url.
func NewWebhook(url string, client *http.Client) *Webhook {
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	return &Webhook{url: strings.TrimSpace(url), client: client}
}

// Enabled reports whether a URL is configured.
func (w *Webhook) Enabled() bool { return w.url != "" }

// Notify posts the summary of report.
func (w *Webhook) Notify(ctx context.Context, report *pipeline.RunReport) error {
	const op = "notification.notify"
	if !w.Enabled() || report == nil {
		return nil
	}

	payload, err := json.Marshal(BuildPayload(report))
	if err != nil {
		return apperror.Validation(op, "encode payload", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return apperror.Validation(op, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return apperror.Transient(op, "post webhook", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if ae := apperror.FromHTTPStatus(op, resp.StatusCode, resp.Header.Get("Retry-After"), string(body)); ae != nil {
		return ae
	}
	ctxLog := logger.FromContext(ctx)
	ctxLog.Info().Str("run_id", report.RunID).Msg("Operator notified")
	return nil
}

// BuildPayload summarises a run report for an operator.
func BuildPayload(report *pipeline.RunReport) Payload {
	p := Payload{
		RunID:           report.RunID,
		WeekStart:       report.WeekStart,
		State:           string(report.State),
		TransferOutcome: report.TransferOutcome,
		Error:           report.ErrorMessage(),
		Warnings:        report.Warnings,
	}
	for _, s := range report.Stages {
		if !s.Success && !s.Skipped {
			p.FailedStages = append(p.FailedStages, string(s.Stage))
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Budget run %s for week %s ended %s", report.RunID, report.WeekStart, report.State)
	if report.RequiresFollowUp {
		b.WriteString(" and needs follow-up")
	}
	b.WriteString(".")
	if len(p.FailedStages) > 0 {
		fmt.Fprintf(&b, " Failed stages: %s.", strings.Join(p.FailedStages, ", "))
	}
	if p.TransferOutcome != "" {
		fmt.Fprintf(&b, " Transfer: %s.", p.TransferOutcome)
	}
	if p.Error != "" {
		fmt.Fprintf(&b, " Error: %s", p.Error)
	}
	p.Text = b.String()
	return p
}
