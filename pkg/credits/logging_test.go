package credits

import (
	"context"
	"testing"
	"time"
)

type recorderLogger struct {
	entries []OperationLog
}

func (logger *recorderLogger) LogOperation(_ context.Context, entry OperationLog) {
	logger.entries = append(logger.entries, entry)
}

func mustNewLoggedService(test *testing.T, store Store, logger OperationLogger) *Service {
	test.Helper()
	service, err := NewService(store, DefaultPolicy(), func() time.Time { return fixedNow },
		WithOperationLogger(logger))
	if err != nil {
		test.Fatalf("new service: %v", err)
	}
	return service
}

func TestServiceLogsPurchaseOperation(test *testing.T) {
	test.Parallel()
	store := newStubStore(test, 0)
	logger := &recorderLogger{}
	service := mustNewLoggedService(test, store, logger)

	if _, err := service.AddCredits(context.Background(), testUserID, 10, &PaymentDetails{TransactionID: "pay_log"}); err != nil {
		test.Fatalf("add credits: %v", err)
	}
	if len(logger.entries) != 1 {
		test.Fatalf("expected one log entry, got %d", len(logger.entries))
	}
	entry := logger.entries[0]
	if entry.Operation != "add_credits" || entry.UserID != testUserID || entry.Amount != 10 {
		test.Fatalf("unexpected log entry: %+v", entry)
	}
}

func TestAdminAdjustmentsLogDistinctOperations(test *testing.T) {
	test.Parallel()
	store := newStubStore(test, 20)
	logger := &recorderLogger{}
	service := mustNewLoggedService(test, store, logger)
	admin := AdminAction{AdminUserID: 9, Reason: "manual correction"}

	if _, err := service.AdminAddCredits(context.Background(), testUserID, 5, admin); err != nil {
		test.Fatalf("admin add: %v", err)
	}
	if _, err := service.AdminDeductCredits(context.Background(), testUserID, 3, admin); err != nil {
		test.Fatalf("admin deduct: %v", err)
	}
	if _, err := service.DeductCredits(context.Background(), testUserID, 2, 77); err != nil {
		test.Fatalf("deduct: %v", err)
	}
	if len(logger.entries) != 3 {
		test.Fatalf("expected three log entries, got %d", len(logger.entries))
	}
	if logger.entries[0].Operation != "admin_add_credits" {
		test.Fatalf("expected admin_add_credits, got %q", logger.entries[0].Operation)
	}
	if logger.entries[1].Operation != "admin_deduct_credits" {
		test.Fatalf("expected admin_deduct_credits, got %q", logger.entries[1].Operation)
	}
	if logger.entries[2].Operation != "deduct_credits" {
		test.Fatalf("expected deduct_credits, got %q", logger.entries[2].Operation)
	}
}
