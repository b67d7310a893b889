package credits

import (
	"errors"
	"testing"
)

func TestParseTransactionType(test *testing.T) {
	test.Parallel()
	valid := []string{"purchase", "deduction", "refund", "admin_add", "admin_deduct", "expiry", "signup_bonus"}
	for _, raw := range valid {
		parsed, err := ParseTransactionType(raw)
		if err != nil {
			test.Fatalf("%q: %v", raw, err)
		}
		if parsed.String() != raw {
			test.Fatalf("expected %q round-trip, got %q", raw, parsed)
		}
	}
	for _, raw := range []string{"", "PURCHASE", "bonus"} {
		if _, err := ParseTransactionType(raw); !errors.Is(err, ErrInvalidTransactionType) {
			test.Fatalf("%q: expected ErrInvalidTransactionType, got %v", raw, err)
		}
	}
}

func TestParseRefundReason(test *testing.T) {
	test.Parallel()
	valid := []string{"withdrawal", "project_cancelled", "project_expired", "technical_error", "admin_refund", "duplicate_application"}
	for _, raw := range valid {
		parsed, err := ParseRefundReason(raw)
		if err != nil {
			test.Fatalf("%q: %v", raw, err)
		}
		if parsed.String() != raw {
			test.Fatalf("expected %q round-trip, got %q", raw, parsed)
		}
	}
	for _, raw := range []string{"", "cancelled", "Withdrawal"} {
		if _, err := ParseRefundReason(raw); !errors.Is(err, ErrInvalidRefundReason) {
			test.Fatalf("%q: expected ErrInvalidRefundReason, got %v", raw, err)
		}
	}
}

func TestReferenceBuilders(test *testing.T) {
	test.Parallel()
	application := ApplicationReference(42)
	if application.Kind != ReferenceApplication || application.ID != "42" {
		test.Fatalf("unexpected application reference: %+v", application)
	}
	payment := PaymentReference("pay_9")
	if payment.Kind != ReferencePayment || payment.ID != "pay_9" {
		test.Fatalf("unexpected payment reference: %+v", payment)
	}
}

func TestPolicyValidate(test *testing.T) {
	test.Parallel()
	if err := DefaultPolicy().Validate(); err != nil {
		test.Fatalf("default policy must validate: %v", err)
	}

	testCases := []struct {
		name   string
		mutate func(policy *Policy)
	}{
		{name: "zero max balance", mutate: func(policy *Policy) { policy.MaxBalance = 0 }},
		{name: "zero single purchase", mutate: func(policy *Policy) { policy.MaxSinglePurchase = 0 }},
		{name: "negative full window", mutate: func(policy *Policy) { policy.FullRefundWindowMinutes = -1 }},
		{name: "negative partial window", mutate: func(policy *Policy) { policy.PartialRefundWindowHours = -1 }},
		{name: "percent above 100", mutate: func(policy *Policy) { policy.PartialRefundPercent = 101 }},
		{name: "negative bonus", mutate: func(policy *Policy) { policy.SignupBonusCredits = -1 }},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			policy := DefaultPolicy()
			testCase.mutate(&policy)
			if err := policy.Validate(); !errors.Is(err, ErrInvalidServiceConfig) {
				test.Fatalf("expected ErrInvalidServiceConfig, got %v", err)
			}
		})
	}
}

func TestInsufficientCreditsErrorShortfall(test *testing.T) {
	test.Parallel()
	err := InsufficientCreditsError{Required: 5, Available: 2}
	if err.Shortfall() != 3 {
		test.Fatalf("expected shortfall 3, got %d", err.Shortfall())
	}
	if !errors.Is(err, ErrInsufficientCredits) {
		test.Fatal("expected unwrap to sentinel")
	}
	mustContainMessage(test, err.Error(), "purchase more credits")
}

func TestOperationErrorCarriesSegments(test *testing.T) {
	test.Parallel()
	base := errors.New("boom")
	wrapped := WrapError("store", "balance", "query_failed", base)
	var operationError OperationError
	if !errors.As(wrapped, &operationError) {
		test.Fatalf("expected OperationError, got %T", wrapped)
	}
	if operationError.Operation() != "store" || operationError.Subject() != "balance" || operationError.Code() != "query_failed" {
		test.Fatalf("unexpected segments: %+v", operationError)
	}
	if !errors.Is(wrapped, base) {
		test.Fatal("expected unwrap to base error")
	}
	if WrapError("store", "balance", "query_failed", nil) != nil {
		test.Fatal("expected nil passthrough")
	}
}
