package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/budget-autopilot/internal/config"
	"github.com/dvloznov/budget-autopilot/internal/pipeline"
)

func TestParseWeekStart(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	tests := []struct {
		name    string
		value   string
		want    time.Time
		wantErr bool
	}{
		{name: "empty means previous week", value: "", want: time.Time{}},
		{name: "date", value: "2024-03-04", want: time.Date(2024, 3, 4, 0, 0, 0, 0, loc)},
		{name: "wrong layout", value: "04/03/2024", wantErr: true},
		{name: "not a date", value: "last week", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseWeekStart(tt.value, loc)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %s", got)
		})
	}
}

func TestRetryPolicy(t *testing.T) {
	cnf := &config.Configuration{}
	cnf.Retry.MaxRetries = 4
	cnf.Retry.BaseDelay.Duration = time.Second
	cnf.Retry.MaxDelay.Duration = 20 * time.Second
	cnf.Retry.Jitter = 0.1
	cnf.Breaker.Threshold = 3
	cnf.Breaker.CoolDown.Duration = time.Minute

	p := retryPolicy(cnf)
	assert.Equal(t, 4, p.MaxRetries)
	assert.Equal(t, time.Second, p.BaseDelay)
	assert.Equal(t, 20*time.Second, p.MaxDelay)
	assert.Equal(t, 0.1, p.Jitter)
	assert.Equal(t, uint32(3), p.BreakerThreshold)
	assert.Equal(t, time.Minute, p.BreakerCoolDown)
}

func TestRunContext(t *testing.T) {
	cnf := &config.Configuration{
		Timezone:   "Europe/London",
		RunTimeout: config.Duration{Duration: 5 * time.Minute},
	}

	rc, err := runContext(cnf, "2024-03-04")
	require.NoError(t, err)
	assert.Equal(t, "2024-03-04", rc.WeekStart.Format("2006-01-02"))
	assert.Equal(t, "2024-03-11", rc.WeekEnd.Format("2006-01-02"))
	assert.Equal(t, "Europe/London", rc.Location.String())
	assert.False(t, rc.Deadline.IsZero())
	assert.NotEmpty(t, rc.RunID)

	_, err = runContext(cnf, "yesterday")
	assert.Error(t, err)
}

func TestArchivedReportURI(t *testing.T) {
	rc := pipeline.RunContext{WeekStart: time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)}

	assert.Equal(t, "gs://reports-bucket/reports/2024-03-04/report-2024-03-04.txt",
		archivedReportURI("reports-bucket", rc, false))
	assert.Equal(t, "gs://reports-bucket/reports/2024-03-04/variance-2024-03-04.csv",
		archivedReportURI("reports-bucket", rc, true))
}

func TestRootCommand(t *testing.T) {
	root := newRootCommand()

	for _, name := range []string{"run", "analyze", "migrate", "report"} {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, cmd.Name())
	}

	run, _, err := root.Find([]string{"run"})
	require.NoError(t, err)
	assert.NotNil(t, run.Flags().Lookup("dry-run"))
	assert.NotNil(t, run.Flags().Lookup("week-start"))

	analyze, _, err := root.Find([]string{"analyze"})
	require.NoError(t, err)
	assert.NotNil(t, analyze.Flags().Lookup("from-store"))
	assert.NotNil(t, root.PersistentFlags().Lookup("config"))
}

func TestExitCode(t *testing.T) {
	var err error = exitCode(1)
	code, ok := err.(exitCode)
	assert.True(t, ok)
	assert.Equal(t, exitCode(1), code)
	assert.Equal(t, "exit status 1", err.Error())
}
