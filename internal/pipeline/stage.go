package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/dvloznov/budget-autopilot/internal/apperror"
	"github.com/dvloznov/budget-autopilot/internal/domain"
	"github.com/dvloznov/budget-autopilot/internal/transfer"
)

// StageName identifies one stage of a run.
type StageName string

const (
	StageRetrieval      StageName = "retrieval"
	StageCategorization StageName = "categorization"
	StageAnalysis       StageName = "analysis"
	StageInsight        StageName = "insight"
	StageDistribution   StageName = "distribution"
	StageSavings        StageName = "savings"
)

// stageOrder is the fixed execution order. The report branch (insight,
// distribution) runs before savings.
var stageOrder = []StageName{
	StageRetrieval,
	StageCategorization,
	StageAnalysis,
	StageInsight,
	StageDistribution,
	StageSavings,
}

// Stage is one unit of the weekly run. Execute reports failures through the
// returned status instead of an error.
type Stage interface {
	Name() StageName
	Execute(ctx context.Context, run RunContext, state *State) StageStatus
}

// Fallbacker is implemented by stages that can degrade after a failure.
// Fallback receives the failed status and returns the degraded one.
type Fallbacker interface {
	Fallback(ctx context.Context, run RunContext, state *State, failed StageStatus) StageStatus
}

// StageError is the classified error carried by a status.
type StageError struct {
	Kind    apperror.Kind `json:"kind"`
	Message string        `json:"message"`
}

func newStageError(err error) *StageError {
	if err == nil {
		return nil
	}
	return &StageError{Kind: apperror.KindOf(err), Message: err.Error()}
}

// StageStatus is the outcome of one stage.
type StageStatus struct {
	Stage StageName `json:"stage"`
	Tier  Tier      `json:"tier"`
	// Success is true when the stage did everything it set out to do.
	Success bool `json:"success"`
	// Degraded is true when a fallback replaced the stage's normal result.
	Degraded bool `json:"degraded,omitempty"`
	// Skipped is true when the stage did not run.
	Skipped    bool        `json:"skipped,omitempty"`
	Warnings   []string    `json:"warnings,omitempty"`
	Error      *StageError `json:"error,omitempty"`
	StartedAt  time.Time   `json:"started_at"`
	DurationMS int64       `json:"duration_ms"`
}

// Satisfied reports whether stages depending on this one may run.
func (s StageStatus) Satisfied() bool {
	return !s.Skipped && (s.Success || s.Degraded)
}

// Level summarises the status as success, warning, degraded, failed or skipped.
func (s StageStatus) Level() string {
	switch {
	case s.Skipped:
		return "skipped"
	case s.Degraded:
		return "degraded"
	case !s.Success:
		return "failed"
	case len(s.Warnings) > 0:
		return "warning"
	default:
		return "success"
	}
}

func (s *StageStatus) warn(msg string) {
	s.Warnings = append(s.Warnings, msg)
}

func succeeded(name StageName) StageStatus {
	return StageStatus{Stage: name, Success: true}
}

func failedWith(name StageName, err error) StageStatus {
	return StageStatus{Stage: name, Error: newStageError(err)}
}

// RunContext identifies one run. It is created once and passed to every stage.
type RunContext struct {
	RunID string
	// WeekStart is midnight of the first day of the analysed week and WeekEnd
	// midnight of the day after the last, both in Location.
	WeekStart time.Time
	WeekEnd   time.Time
	// Deadline is checked before each stage; zero means none.
	Deadline time.Time
	Location *time.Location
}

// NewRunContext creates a run context for the week starting at weekStart,
// or for the previous complete week when weekStart is zero.
func NewRunContext(now time.Time, loc *time.Location, weekStart time.Time, timeout time.Duration) RunContext {
	if loc == nil {
		loc = time.UTC
	}
	if weekStart.IsZero() {
		weekStart = PreviousWeekStart(now, loc)
	} else {
		y, m, d := weekStart.In(loc).Date()
		weekStart = time.Date(y, m, d, 0, 0, 0, 0, loc)
	}
	rc := RunContext{
		RunID:     uuid.NewString(),
		WeekStart: weekStart,
		WeekEnd:   weekStart.AddDate(0, 0, weekDays),
		Location:  loc,
	}
	if timeout > 0 {
		rc.Deadline = now.Add(timeout)
	}
	return rc
}

// PreviousWeekStart returns midnight of the Monday that starts the last
// complete Monday-to-Sunday week before now.
func PreviousWeekStart(now time.Time, loc *time.Location) time.Time {
	t := now.In(loc)
	sinceMonday := (int(t.Weekday()) + 6) % 7
	y, m, d := t.Date()
	return time.Date(y, m, d-sinceMonday-weekDays, 0, 0, 0, 0, loc)
}

// WeekLabel renders the week as "YYYY-MM-DD to YYYY-MM-DD", both inclusive.
func (rc RunContext) WeekLabel() string {
	return rc.WeekStart.Format(dateLayout) + " to " + rc.WeekEnd.AddDate(0, 0, -1).Format(dateLayout)
}

// Delivery records how the report went out.
type Delivery struct {
	DeliveryID  string   `json:"delivery_id,omitempty"`
	PlainText   bool     `json:"plain_text,omitempty"`
	ArchiveURIs []string `json:"archive_uris,omitempty"`
}

// State carries the data stages hand to each other within one run. It is
// owned by the coordinator and passed to one stage at a time.
type State struct {
	Categories   []domain.Category
	Transactions []domain.Transaction
	// Coverage is the share of transactions with a known category.
	Coverage float64
	Analysis *domain.BudgetAnalysisResult
	Insight  string
	Delivery Delivery
	Transfer *transfer.Outcome
}
