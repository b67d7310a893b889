package credits

import (
	"errors"
	"fmt"
)

// Domain-level error values returned by the credits service.
var (
	ErrInvalidAmount           = errors.New("invalid amount")
	ErrProfileNotFound         = errors.New("freelancer profile not found")
	ErrInsufficientCredits     = errors.New("insufficient credits")
	ErrMaxBalanceExceeded      = errors.New("max balance exceeded")
	ErrRefundNotEligible       = errors.New("refund not eligible")
	ErrAlreadyRefunded         = errors.New("application already refunded")
	ErrApplicationNotFound     = errors.New("application not found")
	ErrPaymentAlreadyProcessed = errors.New("payment already processed")
	ErrInvalidPrice            = errors.New("invalid price")
	ErrInvalidTransactionType  = errors.New("invalid transaction type")
	ErrInvalidRefundReason     = errors.New("invalid refund reason")
	ErrInvalidServiceConfig    = errors.New("invalid service config")
)

// InsufficientCreditsError reports a deduction that exceeds the balance.
type InsufficientCreditsError struct {
	Required  int
	Available int
}

// Error formats the shortfall with a purchase hint for the caller.
func (insufficientError InsufficientCreditsError) Error() string {
	return fmt.Sprintf("%v: required %d, available %d, shortfall %d; purchase more credits to continue",
		ErrInsufficientCredits, insufficientError.Required, insufficientError.Available, insufficientError.Shortfall())
}

// Unwrap ties the detail carrier to its sentinel.
func (insufficientError InsufficientCreditsError) Unwrap() error {
	return ErrInsufficientCredits
}

// Shortfall returns how many credits are missing.
func (insufficientError InsufficientCreditsError) Shortfall() int {
	return insufficientError.Required - insufficientError.Available
}

// MaxBalanceExceededError reports an addition rejected by the balance ceiling.
type MaxBalanceExceededError struct {
	CurrentBalance      int
	MaxAllowedIncrement int
}

// Error formats the ceiling violation.
func (maxBalanceError MaxBalanceExceededError) Error() string {
	return fmt.Sprintf("%v: current balance %d, max allowed increment %d",
		ErrMaxBalanceExceeded, maxBalanceError.CurrentBalance, maxBalanceError.MaxAllowedIncrement)
}

// Unwrap ties the detail carrier to its sentinel.
func (maxBalanceError MaxBalanceExceededError) Unwrap() error {
	return ErrMaxBalanceExceeded
}

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}
