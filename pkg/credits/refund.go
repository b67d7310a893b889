package credits

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	explanationFullRefund    = "full refund"
	explanationEarlyWithdraw = "withdrawn within the full refund window"
	explanationPartialRefund = "withdrawn within the partial refund window"
	explanationZeroPartial   = "partial refund rounds to zero credits"
	explanationPeriodExpired = "refund period expired"
	explanationUnknownReason = "unknown refund reason"
)

// CheckRefundEligibility computes whether an application can be refunded and
// for how much. A missing or already-refunded application is reported as
// ineligible, not as an error.
func (service *Service) CheckRefundEligibility(ctx context.Context, applicationID int64, userID int64, reason RefundReason) (Eligibility, error) {
	application, err := service.store.GetApplication(ctx, applicationID, userID)
	if err != nil {
		if errors.Is(err, ErrApplicationNotFound) {
			return Eligibility{Eligible: false, Reason: "application not found"}, nil
		}
		return Eligibility{}, err
	}
	if application.Refunded {
		return Eligibility{Eligible: false, Reason: "application already refunded"}, nil
	}
	return service.refundQuote(application, reason, service.nowFn()), nil
}

// refundQuote applies the refund policy table: non-withdrawal reasons refund
// in full regardless of elapsed time; withdrawals decay from 100% through the
// configured partial percent down to nothing.
func (service *Service) refundQuote(application Application, reason RefundReason, now time.Time) Eligibility {
	creditsSpent := application.CreditsSpent
	if creditsSpent <= 0 {
		creditsSpent = 1
	}
	switch reason {
	case RefundProjectCancelled, RefundProjectExpired, RefundTechnicalError,
		RefundAdmin, RefundDuplicateApplication:
		return Eligibility{Eligible: true, Amount: creditsSpent, Percent: 100, Reason: explanationFullRefund}
	case RefundWithdrawal:
		age := now.Sub(application.CreatedAt)
		if age <= service.policy.FullRefundWindow() {
			return Eligibility{Eligible: true, Amount: creditsSpent, Percent: 100, Reason: explanationEarlyWithdraw}
		}
		if age <= service.policy.PartialRefundWindow() {
			amount := creditsSpent * service.policy.PartialRefundPercent / 100
			explanation := explanationPartialRefund
			if amount == 0 {
				explanation = explanationZeroPartial
			}
			return Eligibility{
				Eligible: amount > 0,
				Amount:   amount,
				Percent:  service.policy.PartialRefundPercent,
				Reason:   explanation,
			}
		}
		return Eligibility{Eligible: false, Reason: explanationPeriodExpired}
	}
	return Eligibility{Eligible: false, Reason: explanationUnknownReason}
}

// ProcessRefund refunds one application atomically: eligibility is
// re-checked under the application row lock so a racing second refund fails
// with ErrAlreadyRefunded instead of double-crediting.
func (service *Service) ProcessRefund(ctx context.Context, applicationID int64, userID int64, reason RefundReason, admin *AdminAction) (RefundResult, error) {
	var result RefundResult
	reference := ApplicationReference(applicationID)
	operationError := service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		application, err := txStore.GetApplicationForUpdate(ctx, applicationID, userID)
		if err != nil {
			if errors.Is(err, ErrApplicationNotFound) {
				return fmt.Errorf("%w: application not found", ErrRefundNotEligible)
			}
			return err
		}
		if application.Refunded {
			return ErrAlreadyRefunded
		}
		now := service.nowFn()
		quote := service.refundQuote(application, reason, now)
		if !quote.Eligible {
			return fmt.Errorf("%w: %s", ErrRefundNotEligible, quote.Reason)
		}
		balance, err := txStore.GetBalanceForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		updated := balance
		updated.CreditsBalance = balance.CreditsBalance + quote.Amount
		updated.CreditsUsed = balance.CreditsUsed - quote.Amount
		if updated.CreditsUsed < 0 {
			updated.CreditsUsed = 0
		}
		if err := txStore.UpdateBalance(ctx, updated); err != nil {
			return err
		}
		if err := txStore.MarkApplicationRefunded(ctx, applicationID, quote.Amount, reason, now); err != nil {
			return err
		}
		if _, err := txStore.InsertEntry(ctx, Entry{
			UserID:        userID,
			Type:          TransactionRefund,
			Amount:        quote.Amount,
			BalanceBefore: balance.CreditsBalance,
			BalanceAfter:  updated.CreditsBalance,
			Reference:     reference,
			Admin:         admin,
			CreatedAt:     now,
		}); err != nil {
			return err
		}
		result = RefundResult{
			Success:        true,
			RefundedAmount: quote.Amount,
			NewBalance:     updated.CreditsBalance,
			Message:        fmt.Sprintf("refunded %d credits (%d%%)", quote.Amount, quote.Percent),
		}
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationRefund,
		UserID:    userID,
		Amount:    result.RefundedAmount,
		Reference: reference,
		Error:     operationError,
	})
	return result, operationError
}

// ProcessProjectCancellationRefunds refunds every open application of a
// cancelled project. Each refund is its own atomic unit; one failure does
// not undo or stop the rest of the batch.
func (service *Service) ProcessProjectCancellationRefunds(ctx context.Context, projectID int64, admin *AdminAction) (BatchRefundResult, error) {
	applications, err := service.store.ListOpenApplicationsByProject(ctx, projectID)
	if err != nil {
		return BatchRefundResult{}, err
	}
	result := BatchRefundResult{Total: len(applications)}
	for _, application := range applications {
		_, refundErr := service.ProcessRefund(ctx, application.ApplicationID, application.UserID, RefundProjectCancelled, admin)
		if refundErr != nil {
			service.logOperation(ctx, OperationLog{
				Operation: operationBatchRefund,
				UserID:    application.UserID,
				Reference: ApplicationReference(application.ApplicationID),
				Error:     refundErr,
			})
			continue
		}
		result.Refunded++
	}
	service.logOperation(ctx, OperationLog{
		Operation: operationBatchRefund,
		Amount:    result.Refunded,
		Reference: Reference{Kind: ReferenceApplication, ID: formatInt64(projectID)},
	})
	return result, nil
}
