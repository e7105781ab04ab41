package transfer

import (
	"github.com/dvloznov/budget-autopilot/internal/apperror"
	"github.com/dvloznov/budget-autopilot/internal/domain"
)

// OutcomeKind is how the savings step of a run ended.
type OutcomeKind string

const (
	OutcomeNone       OutcomeKind = "none"
	OutcomeSkipped    OutcomeKind = "skipped"
	OutcomeVerified   OutcomeKind = "verified"
	OutcomeFailed     OutcomeKind = "failed"
	OutcomeUnverified OutcomeKind = "unverified"
	OutcomeDuplicate  OutcomeKind = "duplicate"
)

// Outcome is the result of one savings attempt.
type Outcome struct {
	Kind     OutcomeKind       `json:"kind"`
	Reason   domain.SkipReason `json:"reason,omitempty"`
	Transfer *domain.Transfer  `json:"transfer,omitempty"`
	Error    string            `json:"error,omitempty"`

	Err *apperror.Error `json:"-"`
}

// String renders the outcome as "kind" or "skipped:<reason>".
func (o Outcome) String() string {
	if o.Kind == OutcomeSkipped && o.Reason != domain.ReasonNone {
		return string(o.Kind) + ":" + string(o.Reason)
	}
	return string(o.Kind)
}

// RequiresFollowUp reports whether an operator should look at the outcome.
// Transfers that failed, could not be verified, or were blocked by the state
// of an account or a stale claim need attention. So does a duplicate the bank
// has not confirmed. Weeks without a surplus do not.
func (o Outcome) RequiresFollowUp() bool {
	switch o.Kind {
	case OutcomeFailed, OutcomeUnverified:
		return true
	case OutcomeDuplicate:
		return o.Transfer == nil || o.Transfer.Status != domain.TransferVerified
	case OutcomeSkipped:
		return o.Reason == domain.ReasonInsufficientFunds ||
			o.Reason == domain.ReasonAccountInactive ||
			o.Reason == domain.ReasonInvalidTransfer ||
			o.Reason == domain.ReasonClaimHeld
	default:
		return false
	}
}

func none() Outcome {
	return Outcome{Kind: OutcomeNone, Reason: domain.ReasonNoSurplus}
}

func skipped(reason domain.SkipReason, t *domain.Transfer) Outcome {
	return Outcome{Kind: OutcomeSkipped, Reason: reason, Transfer: t}
}

func failed(t *domain.Transfer, err error) Outcome {
	o := Outcome{Kind: OutcomeFailed, Transfer: t}
	if err != nil {
		o.Err = apperror.Classify("transfer", err)
		o.Error = o.Err.Error()
	}
	if t != nil {
		t.Status = domain.TransferFailed
	}
	return o
}
