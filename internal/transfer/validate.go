package transfer

import (
	"context"
	"errors"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/budget-autopilot/internal/domain"
	"github.com/dvloznov/budget-autopilot/internal/logger"
	"github.com/dvloznov/budget-autopilot/internal/retry"
)

func validateTransfer(t *domain.Transfer, minimum decimal.Decimal) error {
	return validation.ValidateStruct(t,
		validation.Field(&t.SourceAccountID, validation.Required),
		validation.Field(&t.DestinationAccountID, validation.Required,
			validation.NotIn(t.SourceAccountID).Error("must differ from the source account")),
		validation.Field(&t.IdempotencyKey, validation.Required),
		validation.Field(&t.Amount, validation.By(func(value interface{}) error {
			amount, ok := value.(decimal.Decimal)
			if !ok {
				return errors.New("must be a decimal amount")
			}
			if !amount.IsPositive() {
				return errors.New("must be positive")
			}
			if amount.LessThan(minimum) {
				return errors.New("must not be below the minimum transfer")
			}
			if !amount.Equal(amount.Round(domain.AmountPlaces)) {
				return errors.New("must have at most two decimal places")
			}
			return nil
		})),
	)
}

// Validate checks a pending transfer against the bank. A non-empty reason
// means the transfer must not be made; an error means the accounts could not
// be checked.
func (e *Engine) Validate(ctx context.Context, t *domain.Transfer) (domain.SkipReason, error) {
	log := logger.FromContext(ctx)

	if err := validateTransfer(t, e.cfg.Minimum); err != nil {
		log.Warn().Err(err).Msg("Transfer failed validation")
		return domain.ReasonInvalidTransfer, nil
	}

	source, err := e.account(ctx, t.SourceAccountID)
	if err != nil {
		return domain.ReasonNone, err
	}
	destination, err := e.account(ctx, t.DestinationAccountID)
	if err != nil {
		return domain.ReasonNone, err
	}

	if source.Status != domain.AccountActive || destination.Status != domain.AccountActive {
		log.Warn().
			Str("source_status", string(source.Status)).
			Str("destination_status", string(destination.Status)).
			Msg("Account not active, skipping transfer")
		return domain.ReasonAccountInactive, nil
	}
	if source.AvailableBalance.LessThan(t.Amount) {
		log.Warn().
			Str("available", source.AvailableBalance.StringFixed(domain.AmountPlaces)).
			Str("amount", t.Amount.StringFixed(domain.AmountPlaces)).
			Msg("Insufficient funds, skipping transfer")
		return domain.ReasonInsufficientFunds, nil
	}
	return domain.ReasonNone, nil
}

func (e *Engine) account(ctx context.Context, id string) (domain.AccountInfo, error) {
	res := retry.Do(ctx, e.exec, e.call("bank.get_account"), func(ctx context.Context) (domain.AccountInfo, error) {
		return e.bank.GetAccount(ctx, id)
	})
	if !res.OK() {
		return domain.AccountInfo{}, res.Err
	}
	return res.Value, nil
}

func (e *Engine) call(op string) retry.Call {
	return retry.Call{Class: "bank", Operation: op, Refresh: e.refresh}
}
