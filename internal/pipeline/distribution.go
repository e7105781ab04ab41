package pipeline

import (
	"context"
	"strings"

	"github.com/dvloznov/budget-autopilot/internal/apperror"
	"github.com/dvloznov/budget-autopilot/internal/domain"
	"github.com/dvloznov/budget-autopilot/internal/logger"
	"github.com/dvloznov/budget-autopilot/internal/retry"
)

// DistributionStage archives the rendered report and emails it.
type DistributionStage struct {
	Mailer Mailer
	// Archive is optional; without it the report is only emailed.
	Archive    ReportArchive
	Exec       *retry.Executor
	Recipients []string
}

func (s *DistributionStage) Name() StageName { return StageDistribution }

func (s *DistributionStage) Execute(ctx context.Context, run RunContext, state *State) StageStatus {
	log := logger.FromContext(ctx)

	rendered, err := RenderReport(run, state)
	if err != nil {
		return failedWith(StageDistribution, apperror.Validation("report.render", "rendering report", err))
	}

	status := succeeded(StageDistribution)
	body := rendered.Body
	if s.Archive != nil {
		archived := retry.Do(ctx, s.Exec, retry.Call{Class: classArchive, Operation: "gcs.archive_report"},
			func(ctx context.Context) ([]string, error) {
				return s.Archive.Archive(ctx, run.WeekStart, rendered.Attachments)
			})
		if archived.OK() {
			state.Delivery.ArchiveURIs = archived.Value
			body += "\nArchived copies:\n  " + strings.Join(archived.Value, "\n  ") + "\n"
		} else {
			status.warn("report not archived: " + archived.Err.Error())
		}
	}

	sent := s.send(ctx, rendered.Subject, body, rendered.Attachments)
	if !sent.OK() {
		return failedWith(StageDistribution, sent.Err)
	}
	state.Delivery.DeliveryID = sent.Value

	log.Info().
		Str("delivery_id", sent.Value).
		Int("recipients", len(s.Recipients)).
		Int("attachments", len(rendered.Attachments)).
		Msg("Report sent")
	return status
}

// Fallback sends the report as plain text without attachments.
func (s *DistributionStage) Fallback(ctx context.Context, run RunContext, state *State, failed StageStatus) StageStatus {
	status := failed

	rendered, err := RenderReport(run, state)
	if err != nil {
		status.warn("report not delivered: " + err.Error())
		return status
	}

	sent := s.send(ctx, rendered.Subject, rendered.Body, nil)
	if !sent.OK() {
		status.warn("report not delivered: " + sent.Err.Error())
		return status
	}

	state.Delivery.DeliveryID = sent.Value
	state.Delivery.PlainText = true
	status.Degraded = true
	status.warn("report sent as plain text without attachments")
	return status
}

func (s *DistributionStage) send(ctx context.Context, subject, body string, attachments []domain.Attachment) retry.Result[string] {
	return retry.Do(ctx, s.Exec, retry.Call{Class: classMail, Operation: "mail.send"},
		func(ctx context.Context) (string, error) {
			return s.Mailer.Send(ctx, subject, body, attachments, s.Recipients)
		})
}
