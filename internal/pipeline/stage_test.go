package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPreviousWeekStart(t *testing.T) {
	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{"wednesday", time.Date(2024, 3, 13, 9, 0, 0, 0, time.UTC), time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)},
		{"monday midnight", time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC), time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)},
		{"sunday night", time.Date(2024, 3, 10, 23, 59, 0, 0, time.UTC), time.Date(2024, 2, 26, 0, 0, 0, 0, time.UTC)},
		{"across year end", time.Date(2025, 1, 2, 12, 0, 0, 0, time.UTC), time.Date(2024, 12, 23, 0, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.want.Equal(PreviousWeekStart(tt.now, time.UTC)), "got %s", PreviousWeekStart(tt.now, time.UTC))
		})
	}
}

func TestNewRunContext(t *testing.T) {
	now := time.Date(2024, 3, 13, 9, 0, 0, 0, time.UTC)

	t.Run("previous week by default", func(t *testing.T) {
		rc := NewRunContext(now, nil, time.Time{}, 10*time.Minute)

		assert.NotEmpty(t, rc.RunID)
		assert.Equal(t, time.UTC, rc.Location)
		assert.True(t, rc.WeekStart.Equal(time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)))
		assert.True(t, rc.WeekEnd.Equal(time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC)))
		assert.True(t, rc.Deadline.Equal(now.Add(10*time.Minute)))
		assert.Equal(t, "2024-03-04 to 2024-03-10", rc.WeekLabel())
	})

	t.Run("explicit week start is truncated to midnight", func(t *testing.T) {
		rc := NewRunContext(now, time.UTC, time.Date(2024, 2, 5, 15, 30, 0, 0, time.UTC), 0)

		assert.True(t, rc.WeekStart.Equal(time.Date(2024, 2, 5, 0, 0, 0, 0, time.UTC)))
		assert.True(t, rc.Deadline.IsZero())
	})

	t.Run("run ids are unique", func(t *testing.T) {
		assert.NotEqual(t, NewRunContext(now, nil, time.Time{}, 0).RunID, NewRunContext(now, nil, time.Time{}, 0).RunID)
	})
}

func TestStageStatus_Level(t *testing.T) {
	tests := []struct {
		status StageStatus
		want   string
	}{
		{StageStatus{Success: true}, "success"},
		{StageStatus{Success: true, Warnings: []string{"w"}}, "warning"},
		{StageStatus{Degraded: true}, "degraded"},
		{StageStatus{}, "failed"},
		{StageStatus{Skipped: true}, "skipped"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.status.Level())
		})
	}
}
