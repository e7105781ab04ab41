package transfer

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/dvloznov/budget-autopilot/internal/apperror"
	"github.com/dvloznov/budget-autopilot/internal/domain"
	"github.com/dvloznov/budget-autopilot/internal/logger"
	"github.com/dvloznov/budget-autopilot/internal/retry"
)

type lookup struct {
	record domain.TransferRecord
	found  bool
}

// Execute initiates a validated transfer and waits for the bank to confirm
// it. A transfer already known under the same idempotency key is never
// initiated again: it is reported as a duplicate once the bank confirms it,
// and as failed or unverified otherwise.
func (e *Engine) Execute(ctx context.Context, t *domain.Transfer, owner string) Outcome {
	log := logger.FromContext(ctx).With().Str("idempotency_key", t.IdempotencyKey).Logger()

	existing := retry.Do(ctx, e.exec, e.call("bank.find_transfer"), func(ctx context.Context) (lookup, error) {
		rec, found, err := e.bank.FindTransfer(ctx, t.IdempotencyKey)
		return lookup{record: rec, found: found}, err
	})
	if !existing.OK() {
		return failed(t, existing.Err)
	}
	if existing.Value.found {
		t.BankTransferID = existing.Value.record.ID
		t.Status = existing.Value.record.Status
		log.Info().
			Str("transfer_id", t.BankTransferID).
			Str("status", string(t.Status)).
			Msg("Transfer already exists for this week")
		return e.resume(ctx, log, t)
	}

	if e.claims != nil {
		claim, err := e.claims.Claim(ctx, t.IdempotencyKey, owner)
		if err != nil {
			return failed(t, apperror.Transient("transfer.claim", "idempotency ledger unavailable", err))
		}
		if !claim.Acquired {
			if claim.TransferID == "" {
				// The holder has not reached the bank yet, or stopped before it did.
				log.Warn().Str("holder", claim.Holder).Msg("Transfer claimed by another run without a bank transfer")
				return skipped(domain.ReasonClaimHeld, t)
			}
			t.BankTransferID = claim.TransferID
			t.Status = domain.TransferInitiated
			log.Info().
				Str("holder", claim.Holder).
				Str("transfer_id", t.BankTransferID).
				Msg("Transfer already claimed by another run")
			return e.resume(ctx, log, t)
		}
	}

	initiated := retry.Do(ctx, e.exec, e.call("bank.initiate_transfer"), func(ctx context.Context) (string, error) {
		return e.bank.InitiateTransfer(ctx, t.SourceAccountID, t.DestinationAccountID, t.Amount, t.IdempotencyKey)
	})
	if !initiated.OK() {
		if e.claims != nil {
			if err := e.claims.Release(ctx, t.IdempotencyKey, owner); err != nil {
				log.Warn().Err(err).Msg("Failed to release transfer claim")
			}
		}
		return failed(t, initiated.Err)
	}

	at := e.now()
	t.BankTransferID = initiated.Value
	t.Status = domain.TransferInitiated
	t.InitiatedAt = &at
	log.Info().
		Str("transfer_id", t.BankTransferID).
		Str("amount", t.Amount.StringFixed(domain.AmountPlaces)).
		Msg("Transfer initiated")

	if e.claims != nil {
		if err := e.claims.Complete(ctx, t.IdempotencyKey, t.BankTransferID); err != nil {
			log.Warn().Err(err).Msg("Failed to record transfer in idempotency ledger")
		}
	}

	return e.settle(log, t, OutcomeVerified, e.verify(ctx, t.BankTransferID))
}

// resume settles a transfer made by an earlier run. Only a transfer the bank
// confirms is a duplicate.
func (e *Engine) resume(ctx context.Context, log zerolog.Logger, t *domain.Transfer) Outcome {
	status := t.Status
	if !status.IsTerminal() {
		status = e.verify(ctx, t.BankTransferID)
	}
	return e.settle(log, t, OutcomeDuplicate, status)
}

// settle maps the bank's view of a transfer to an outcome. confirmed is the
// kind reported when the bank has verified it.
func (e *Engine) settle(log zerolog.Logger, t *domain.Transfer, confirmed OutcomeKind, status domain.TransferStatus) Outcome {
	switch status {
	case domain.TransferVerified:
		verifiedAt := e.now()
		t.Status = domain.TransferVerified
		t.VerifiedAt = &verifiedAt
		return Outcome{Kind: confirmed, Transfer: t}
	case domain.TransferFailed:
		return failed(t, apperror.Critical("transfer.verify", "bank reported transfer "+t.BankTransferID+" as failed", nil))
	default:
		t.Status = domain.TransferUnverified
		log.Warn().Str("transfer_id", t.BankTransferID).Msg("Transfer not confirmed before verification timeout")
		return Outcome{Kind: OutcomeUnverified, Transfer: t}
	}
}

// verify polls the transfer status until it is terminal or the verification
// timeout passes. It returns TransferUnverified when the outcome is unknown.
func (e *Engine) verify(ctx context.Context, transferID string) domain.TransferStatus {
	log := logger.FromContext(ctx)
	deadline := e.now().Add(e.cfg.VerifyTimeout)

	for {
		status, err := e.bank.GetTransferStatus(ctx, transferID)
		if err != nil {
			log.Warn().Err(err).Str("transfer_id", transferID).Msg("Transfer status poll failed")
		} else if status.IsTerminal() {
			return status
		}

		remaining := deadline.Sub(e.now())
		if remaining <= 0 {
			return domain.TransferUnverified
		}
		wait := e.cfg.PollInterval
		if wait > remaining {
			wait = remaining
		}
		if err := e.sleep(ctx, wait); err != nil {
			return domain.TransferUnverified
		}
	}
}
