package notification

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/budget-autopilot/internal/apperror"
	"github.com/dvloznov/budget-autopilot/internal/pipeline"
)

const hookURL = "https://hooks.test/budget"

func testReport() *pipeline.RunReport {
	return &pipeline.RunReport{
		RunID:           "run-1",
		WeekStart:       "2024-03-04",
		State:           pipeline.StateCompleted,
		TransferOutcome: "unverified",
		Warnings:        []string{"transfer could not be verified"},
		Stages: []pipeline.StageStatus{
			{Stage: pipeline.StageRetrieval, Success: true},
			{Stage: pipeline.StageInsight, Success: false, Degraded: true},
			{Stage: pipeline.StageSavings, Success: false},
			{Stage: pipeline.StageDistribution, Skipped: true},
		},
		RequiresFollowUp: true,
	}
}

func TestBuildPayload(t *testing.T) {
	p := BuildPayload(testReport())

	assert.Equal(t, "run-1", p.RunID)
	assert.Equal(t, "completed", p.State)
	assert.Equal(t, []string{"insight", "savings"}, p.FailedStages)
	assert.Equal(t,
		"Budget run run-1 for week 2024-03-04 ended completed and needs follow-up. Failed stages: insight, savings. Transfer: unverified.",
		p.Text)
}

func TestNotify(t *testing.T) {
	transport := httpmock.NewMockTransport()
	var got Payload
	transport.RegisterResponder("POST", hookURL, func(req *http.Request) (*http.Response, error) {
		assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(req.Body).Decode(&got))
		return httpmock.NewStringResponse(204, ""), nil
	})

	w := NewWebhook(hookURL, &http.Client{Transport: transport})
	require.NoError(t, w.Notify(context.Background(), testReport()))

	assert.Equal(t, 1, transport.GetCallCountInfo()["POST "+hookURL])
	assert.Equal(t, "run-1", got.RunID)
	assert.Equal(t, "unverified", got.TransferOutcome)
}

func TestNotify_Disabled(t *testing.T) {
	transport := httpmock.NewMockTransport()
	w := NewWebhook("  ", &http.Client{Transport: transport})

	assert.False(t, w.Enabled())
	assert.NoError(t, w.Notify(context.Background(), testReport()))
	assert.Zero(t, transport.GetTotalCallCount())
}

func TestNotify_Errors(t *testing.T) {
	tests := []struct {
		name      string
		responder httpmock.Responder
		wantKind  apperror.Kind
	}{
		{name: "server error", responder: httpmock.NewStringResponder(502, "bad gateway"), wantKind: apperror.KindTransient},
		{name: "forbidden", responder: httpmock.NewStringResponder(403, "nope"), wantKind: apperror.KindAuth},
		{name: "gone", responder: httpmock.NewStringResponder(410, ""), wantKind: apperror.KindValidation},
		{name: "connection failure", responder: httpmock.ConnectionFailure, wantKind: apperror.KindTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transport := httpmock.NewMockTransport()
			transport.RegisterResponder("POST", hookURL, tt.responder)

			w := NewWebhook(hookURL, &http.Client{Transport: transport})
			err := w.Notify(context.Background(), testReport())
			require.Error(t, err)
			assert.Equal(t, tt.wantKind, apperror.KindOf(err))
		})
	}
}
