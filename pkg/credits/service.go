package credits

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

// Service contains the credits domain logic over a Store. Every mutating
// operation runs inside one store transaction that locks the balance row
// before reading it, so concurrent mutators for the same user serialize
// at the row.
type Service struct {
	store  Store
	policy Policy
	nowFn  func() time.Time
	logger OperationLogger
}

// NewService wires a Service.
func NewService(store Store, policy Policy, now func() time.Time, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	service := &Service{store: store, policy: policy, nowFn: now}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// Policy exposes the active configuration.
func (service *Service) Policy() Policy {
	return service.policy
}

// WithTx runs fn against a service bound to one store transaction, so
// external flows (profile creation during registration) can commit their
// own writes atomically with credits mutations.
func (service *Service) WithTx(ctx context.Context, fn func(ctx context.Context, txService *Service) error) error {
	return service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		txService := &Service{
			store:  txStore,
			policy: service.policy,
			nowFn:  service.nowFn,
			logger: service.logger,
		}
		return fn(ctx, txService)
	})
}

// EnsureProfile provisions a zero-balance record for a new freelancer
// profile. Safe to call twice; an existing balance is left untouched.
func (service *Service) EnsureProfile(ctx context.Context, userID int64) error {
	return service.store.EnsureBalance(ctx, userID)
}

// Balance returns the current balance state for a user.
func (service *Service) Balance(ctx context.Context, userID int64) (Balance, error) {
	return service.store.GetBalance(ctx, userID)
}

// AddCredits credits a purchase to the user's balance. The max-balance
// ceiling is enforced unless payment details are supplied: a paid top-up is
// never rejected for racing past the ceiling, only logged.
func (service *Service) AddCredits(ctx context.Context, userID int64, amount int, payment *PaymentDetails) (MutationResult, error) {
	reference := Reference{}
	if payment != nil {
		reference = PaymentReference(payment.TransactionID)
	}
	entryType := TransactionPurchase
	result, note, operationError := service.credit(ctx, userID, amount, entryType, reference, payment, nil, payment == nil)
	service.logOperation(ctx, OperationLog{
		Operation: operationAddCredits,
		UserID:    userID,
		Amount:    amount,
		Reference: reference,
		Note:      note,
		Error:     operationError,
	})
	return result, operationError
}

// AdminAddCredits credits a manual admin adjustment. The ceiling is
// always enforced for admin additions.
func (service *Service) AdminAddCredits(ctx context.Context, userID int64, amount int, admin AdminAction) (MutationResult, error) {
	reference := Reference{Kind: ReferenceAdmin, ID: formatInt64(admin.AdminUserID)}
	result, note, operationError := service.credit(ctx, userID, amount, TransactionAdminAdd, reference, nil, &admin, true)
	service.logOperation(ctx, OperationLog{
		Operation: operationAdminAdd,
		UserID:    userID,
		Amount:    amount,
		Reference: reference,
		Note:      note,
		Error:     operationError,
	})
	return result, operationError
}

func (service *Service) credit(ctx context.Context, userID int64, amount int, entryType TransactionType, reference Reference, payment *PaymentDetails, admin *AdminAction, enforceCeiling bool) (MutationResult, string, error) {
	if amount <= 0 {
		return MutationResult{}, "", fmt.Errorf("%w: amount must be a positive integer", ErrInvalidAmount)
	}
	if amount > service.policy.MaxSinglePurchase {
		return MutationResult{}, "", fmt.Errorf("%w: amount %d exceeds max single purchase %d", ErrInvalidAmount, amount, service.policy.MaxSinglePurchase)
	}
	var result MutationResult
	var note string
	operationError := service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		balance, err := txStore.GetBalanceForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		newBalance := balance.CreditsBalance + amount
		if newBalance > service.policy.MaxBalance {
			if enforceCeiling {
				maxIncrement := service.policy.MaxBalance - balance.CreditsBalance
				if maxIncrement < 0 {
					maxIncrement = 0
				}
				return MaxBalanceExceededError{
					CurrentBalance:      balance.CreditsBalance,
					MaxAllowedIncrement: maxIncrement,
				}
			}
			note = noteCeilingBypassed
		}
		updated := balance
		updated.CreditsBalance = newBalance
		updated.TotalCreditsPurchased = balance.TotalCreditsPurchased + amount
		if err := txStore.UpdateBalance(ctx, updated); err != nil {
			return err
		}
		transactionID, err := txStore.InsertEntry(ctx, Entry{
			UserID:        userID,
			Type:          entryType,
			Amount:        amount,
			BalanceBefore: balance.CreditsBalance,
			BalanceAfter:  newBalance,
			Reference:     reference,
			Payment:       payment,
			Admin:         admin,
			CreatedAt:     service.nowFn(),
		})
		if err != nil {
			return err
		}
		result = MutationResult{
			TransactionID:         transactionID,
			NewBalance:            updated.CreditsBalance,
			TotalCreditsPurchased: updated.TotalCreditsPurchased,
			CreditsUsed:           updated.CreditsUsed,
		}
		return nil
	})
	return result, note, operationError
}

// DeductCredits spends credits on a project application. Fails with
// InsufficientCreditsError before any write when the locked balance is
// too low.
func (service *Service) DeductCredits(ctx context.Context, userID int64, amount int, projectID int64) (MutationResult, error) {
	reference := ApplicationReference(projectID)
	result, operationError := service.debit(ctx, userID, amount, TransactionDeduction, reference, nil)
	service.logOperation(ctx, OperationLog{
		Operation: operationDeduct,
		UserID:    userID,
		Amount:    amount,
		Reference: reference,
		Error:     operationError,
	})
	return result, operationError
}

// AdminDeductCredits removes credits as a manual admin adjustment.
func (service *Service) AdminDeductCredits(ctx context.Context, userID int64, amount int, admin AdminAction) (MutationResult, error) {
	reference := Reference{Kind: ReferenceAdmin, ID: formatInt64(admin.AdminUserID)}
	result, operationError := service.debit(ctx, userID, amount, TransactionAdminDeduct, reference, &admin)
	service.logOperation(ctx, OperationLog{
		Operation: operationAdminDeduct,
		UserID:    userID,
		Amount:    amount,
		Reference: reference,
		Error:     operationError,
	})
	return result, operationError
}

func (service *Service) debit(ctx context.Context, userID int64, amount int, entryType TransactionType, reference Reference, admin *AdminAction) (MutationResult, error) {
	if amount <= 0 {
		return MutationResult{}, fmt.Errorf("%w: amount must be a positive integer", ErrInvalidAmount)
	}
	var result MutationResult
	operationError := service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		balance, err := txStore.GetBalanceForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		if balance.CreditsBalance < amount {
			return InsufficientCreditsError{
				Required:  amount,
				Available: balance.CreditsBalance,
			}
		}
		updated := balance
		updated.CreditsBalance = balance.CreditsBalance - amount
		updated.CreditsUsed = balance.CreditsUsed + amount
		if err := txStore.UpdateBalance(ctx, updated); err != nil {
			return err
		}
		transactionID, err := txStore.InsertEntry(ctx, Entry{
			UserID:        userID,
			Type:          entryType,
			Amount:        -amount,
			BalanceBefore: balance.CreditsBalance,
			BalanceAfter:  updated.CreditsBalance,
			Reference:     reference,
			Admin:         admin,
			CreatedAt:     service.nowFn(),
		})
		if err != nil {
			return err
		}
		result = MutationResult{
			TransactionID:         transactionID,
			NewBalance:            updated.CreditsBalance,
			TotalCreditsPurchased: updated.TotalCreditsPurchased,
			CreditsUsed:           updated.CreditsUsed,
		}
		return nil
	})
	return result, operationError
}

// HasEnoughCredits is a best-effort, non-transactional check. It returns
// false on any lookup failure; callers must still attempt the real
// deduction and handle its failure.
func (service *Service) HasEnoughCredits(ctx context.Context, userID int64, required int) bool {
	if required <= 0 {
		return true
	}
	balance, err := service.store.GetBalance(ctx, userID)
	if err != nil {
		return false
	}
	return balance.CreditsBalance >= required
}

func formatInt64(value int64) string {
	return strconv.FormatInt(value, 10)
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}
