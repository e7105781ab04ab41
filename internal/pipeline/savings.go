package pipeline

import (
	"context"

	"github.com/dvloznov/budget-autopilot/internal/apperror"
	"github.com/dvloznov/budget-autopilot/internal/transfer"
)

// SavingsStage moves a surplus to the savings account.
type SavingsStage struct {
	Transfers TransferRunner
}

func (s *SavingsStage) Name() StageName { return StageSavings }

func (s *SavingsStage) Execute(ctx context.Context, run RunContext, state *State) StageStatus {
	outcome := s.Transfers.Run(ctx, state.Analysis, run.WeekStart, run.RunID)
	state.Transfer = &outcome

	switch outcome.Kind {
	case transfer.OutcomeFailed:
		var err error = apperror.Critical("savings", "transfer failed", nil)
		if outcome.Err != nil {
			err = outcome.Err
		}
		return failedWith(StageSavings, err)

	case transfer.OutcomeUnverified:
		return failedWith(StageSavings, apperror.Transient("savings",
			"transfer "+outcome.Transfer.BankTransferID+" not confirmed before the verification timeout", nil))

	case transfer.OutcomeSkipped:
		if outcome.RequiresFollowUp() {
			return failedWith(StageSavings, apperror.Validation("savings", "transfer skipped: "+string(outcome.Reason), nil))
		}
		status := succeeded(StageSavings)
		status.warn("transfer skipped: " + string(outcome.Reason))
		return status

	case transfer.OutcomeDuplicate:
		if outcome.RequiresFollowUp() {
			return failedWith(StageSavings, apperror.Transient("savings",
				"existing transfer for this week is not confirmed by the bank", nil))
		}
		status := succeeded(StageSavings)
		status.warn("transfer for this week already exists")
		return status
	}
	return succeeded(StageSavings)
}
