package pipeline

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dvloznov/budget-autopilot/internal/domain"
	"github.com/dvloznov/budget-autopilot/internal/transfer"
)

// RunState is the state of the run state machine.
type RunState string

const (
	StateInitialized  RunState = "initialized"
	StateRetrieving   RunState = "retrieving"
	StateCategorizing RunState = "categorizing"
	StateAnalyzing    RunState = "analyzing"
	StateGenerating   RunState = "generating"
	StateDistributing RunState = "distributing"
	StateTransferring RunState = "transferring"
	StateCompleted    RunState = "completed"
	StateFailed       RunState = "failed"
)

var stageStates = map[StageName]RunState{
	StageRetrieval:      StateRetrieving,
	StageCategorization: StateCategorizing,
	StageAnalysis:       StateAnalyzing,
	StageInsight:        StateGenerating,
	StageDistribution:   StateDistributing,
	StageSavings:        StateTransferring,
}

// Terminal reports whether no further transitions are possible.
func (s RunState) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// canTransition reports whether the state machine may move from one state to
// another. Stage states only move forward in stage order, skipped stages
// are passed over, and any non-terminal state may finish.
func canTransition(from, to RunState) bool {
	if from.Terminal() {
		return false
	}
	if to.Terminal() {
		return true
	}
	return stateRank(to) > stateRank(from)
}

func stateRank(s RunState) int {
	if s == StateInitialized {
		return 0
	}
	for i, name := range stageOrder {
		if stageStates[name] == s {
			return i + 1
		}
	}
	return -1
}

// RunReport is the single structured record of a run.
type RunReport struct {
	RunID      string        `json:"run_id"`
	WeekStart  string        `json:"week_start"`
	WeekEnd    string        `json:"week_end"`
	State      RunState      `json:"state"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Stages     []StageStatus `json:"stages"`

	Analysis        *domain.BudgetAnalysisResult `json:"analysis,omitempty"`
	Coverage        float64                      `json:"coverage"`
	Delivery        Delivery                     `json:"delivery"`
	TransferOutcome string                       `json:"transfer_outcome,omitempty"`
	Transfer        *transfer.Outcome            `json:"transfer,omitempty"`

	Warnings         []string    `json:"warnings,omitempty"`
	Error            *StageError `json:"error,omitempty"`
	RequiresFollowUp bool        `json:"requires_follow_up"`
}

func newRunReport(rc RunContext, now time.Time) *RunReport {
	return &RunReport{
		RunID:     rc.RunID,
		WeekStart: rc.WeekStart.Format(dateLayout),
		WeekEnd:   rc.WeekEnd.AddDate(0, 0, -1).Format(dateLayout),
		State:     StateInitialized,
		StartedAt: now,
	}
}

// Status returns the recorded status of a stage.
func (r *RunReport) Status(name StageName) (StageStatus, bool) {
	for _, s := range r.Stages {
		if s.Stage == name {
			return s, true
		}
	}
	return StageStatus{}, false
}

// Failed reports whether the run ended in the failed state.
func (r *RunReport) Failed() bool { return r.State == StateFailed }

// JSON renders the report as indented JSON.
func (r *RunReport) JSON() ([]byte, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("RunReport.JSON: %w", err)
	}
	return data, nil
}

// ErrorMessage returns the message of the run's terminal error, if any.
func (r *RunReport) ErrorMessage() string {
	if r.Error == nil {
		return ""
	}
	return r.Error.Message
}

func (r *RunReport) warn(msg string) {
	r.Warnings = append(r.Warnings, msg)
}

func (r *RunReport) collect(state *State, now time.Time) {
	r.Analysis = state.Analysis
	r.Coverage = state.Coverage
	r.Delivery = state.Delivery
	if state.Transfer != nil {
		r.Transfer = state.Transfer
		r.TransferOutcome = state.Transfer.String()
		if state.Transfer.RequiresFollowUp() {
			r.RequiresFollowUp = true
		}
	}
	r.FinishedAt = now
}
