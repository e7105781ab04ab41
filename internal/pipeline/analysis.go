package pipeline

import (
	"context"
	"fmt"

	"github.com/dvloznov/budget-autopilot/internal/budget"
	"github.com/dvloznov/budget-autopilot/internal/domain"
	"github.com/dvloznov/budget-autopilot/internal/logger"
)

// AnalysisStage compares the week's spend with the budget.
type AnalysisStage struct{}

func (s *AnalysisStage) Name() StageName { return StageAnalysis }

func (s *AnalysisStage) Execute(ctx context.Context, run RunContext, state *State) StageStatus {
	result, err := budget.Analyze(state.Transactions, state.Categories)
	if err != nil {
		return failedWith(StageAnalysis, err)
	}
	state.Analysis = result

	status := succeeded(StageAnalysis)
	if result.UncategorizedCount > 0 {
		status.warn(fmt.Sprintf("%d uncategorized transactions totalling %s left out of category totals",
			result.UncategorizedCount, result.UncategorizedTotal.StringFixed(domain.AmountPlaces)))
	}

	ctxLog := logger.FromContext(ctx)
	ctxLog.Info().
		Str("total_budget", result.TotalBudget.StringFixed(domain.AmountPlaces)).
		Str("total_actual", result.TotalActual.StringFixed(domain.AmountPlaces)).
		Str("total_variance", result.TotalVariance.StringFixed(domain.AmountPlaces)).
		Str("status", string(result.Status)).
		Msg("Analysed week")
	return status
}
