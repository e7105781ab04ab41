package pipeline

import (
	"context"
	"strings"

	"github.com/dvloznov/budget-autopilot/internal/apperror"
	"github.com/dvloznov/budget-autopilot/internal/retry"
)

// InsightStage asks the text generator for a short narrative of the week.
type InsightStage struct {
	Generator InsightGenerator
	Exec      *retry.Executor
}

func (s *InsightStage) Name() StageName { return StageInsight }

func (s *InsightStage) Execute(ctx context.Context, run RunContext, state *State) StageStatus {
	res := retry.Do(ctx, s.Exec, retry.Call{Class: classGenerate, Operation: "gemini.generate_insight"},
		func(ctx context.Context) (string, error) {
			return s.Generator.GenerateInsight(ctx, state.Analysis)
		})
	if !res.OK() {
		return failedWith(StageInsight, res.Err)
	}

	text := strings.TrimSpace(res.Value)
	if text == "" {
		return failedWith(StageInsight, apperror.Validation("gemini.generate_insight", "empty insight", nil))
	}
	state.Insight = text
	return succeeded(StageInsight)
}

// Fallback replaces the narrative with a summary built from the figures.
func (s *InsightStage) Fallback(ctx context.Context, run RunContext, state *State, failed StageStatus) StageStatus {
	state.Insight = SummaryInsight(state.Analysis)
	status := failed
	status.Degraded = true
	status.warn("insight generation failed, using figures summary")
	return status
}
