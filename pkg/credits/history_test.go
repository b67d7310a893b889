package credits

import (
	"context"
	"testing"
	"time"
)

func seedHistory(test *testing.T, store *stubStore) {
	test.Helper()
	entries := []Entry{
		{UserID: testUserID, Type: TransactionPurchase, Amount: 10, BalanceBefore: 0, BalanceAfter: 10, CreatedAt: fixedNow.Add(-3 * time.Hour)},
		{UserID: testUserID, Type: TransactionDeduction, Amount: -1, BalanceBefore: 10, BalanceAfter: 9, Reference: ApplicationReference(77), CreatedAt: fixedNow.Add(-2 * time.Hour)},
		{UserID: testUserID, Type: TransactionRefund, Amount: 1, BalanceBefore: 9, BalanceAfter: 10, Reference: ApplicationReference(77), CreatedAt: fixedNow.Add(-time.Hour)},
	}
	for _, entry := range entries {
		if _, err := store.InsertEntry(context.Background(), entry); err != nil {
			test.Fatalf("seed entry: %v", err)
		}
	}
}

func TestHistoryReturnsNewestFirstWithDescriptions(test *testing.T) {
	test.Parallel()
	store := newStubStore(test, 0)
	seedHistory(test, store)
	service := mustNewService(test, store)

	entries, err := service.History(context.Background(), testUserID, HistoryFilter{})
	if err != nil {
		test.Fatalf("history: %v", err)
	}
	if len(entries) != 3 {
		test.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[0].Type != TransactionRefund || entries[2].Type != TransactionPurchase {
		test.Fatalf("expected newest-first ordering, got %s .. %s", entries[0].Type, entries[2].Type)
	}
	if entries[2].Description != "Purchased 10 credits" {
		test.Fatalf("unexpected purchase description: %q", entries[2].Description)
	}
	if entries[1].Description != "Spent 1 credits on application 77" {
		test.Fatalf("unexpected deduction description: %q", entries[1].Description)
	}
	if entries[0].Description != "Refund of 1 credits for application 77" {
		test.Fatalf("unexpected refund description: %q", entries[0].Description)
	}
}

func TestHistoryKeepsStoredDescriptions(test *testing.T) {
	test.Parallel()
	store := newStubStore(test, 0)
	entry := Entry{UserID: testUserID, Type: TransactionAdminAdd, Amount: 2, Description: "manual correction", CreatedAt: fixedNow}
	if _, err := store.InsertEntry(context.Background(), entry); err != nil {
		test.Fatalf("seed entry: %v", err)
	}
	service := mustNewService(test, store)

	entries, err := service.History(context.Background(), testUserID, HistoryFilter{})
	if err != nil {
		test.Fatalf("history: %v", err)
	}
	if entries[0].Description != "manual correction" {
		test.Fatalf("expected stored description kept, got %q", entries[0].Description)
	}
}

func TestHistoryFiltersByType(test *testing.T) {
	test.Parallel()
	store := newStubStore(test, 0)
	seedHistory(test, store)
	service := mustNewService(test, store)
	entryType := TransactionDeduction

	entries, err := service.History(context.Background(), testUserID, HistoryFilter{Type: &entryType})
	if err != nil {
		test.Fatalf("history: %v", err)
	}
	if len(entries) != 1 || entries[0].Type != TransactionDeduction {
		test.Fatalf("expected one deduction entry, got %+v", entries)
	}

	total, err := service.HistoryCount(context.Background(), testUserID, HistoryFilter{Type: &entryType})
	if err != nil {
		test.Fatalf("history count: %v", err)
	}
	if total != 1 {
		test.Fatalf("expected count 1, got %d", total)
	}
}

func TestHistoryNormalizesPagination(test *testing.T) {
	test.Parallel()
	store := newStubStore(test, 0)
	seedHistory(test, store)
	service := mustNewService(test, store)

	entries, err := service.History(context.Background(), testUserID, HistoryFilter{Limit: -5, Offset: -3})
	if err != nil {
		test.Fatalf("history: %v", err)
	}
	if len(entries) != 3 {
		test.Fatalf("expected negative limit/offset normalized, got %d entries", len(entries))
	}

	entries, err = service.History(context.Background(), testUserID, HistoryFilter{Limit: 2, Offset: 2})
	if err != nil {
		test.Fatalf("history: %v", err)
	}
	if len(entries) != 1 || entries[0].Type != TransactionPurchase {
		test.Fatalf("expected last page containing the purchase, got %+v", entries)
	}
}

func TestIsPaymentProcessed(test *testing.T) {
	test.Parallel()
	store := newStubStore(test, 0)
	service := mustNewService(test, store)
	ctx := context.Background()

	processed, err := service.IsPaymentProcessed(ctx, "pay_unknown")
	if err != nil {
		test.Fatalf("is payment processed: %v", err)
	}
	if processed {
		test.Fatal("expected unknown payment unprocessed")
	}

	if _, err := service.AddCredits(ctx, testUserID, 10, &PaymentDetails{TransactionID: "pay_123"}); err != nil {
		test.Fatalf("add credits: %v", err)
	}
	processed, err = service.IsPaymentProcessed(ctx, "pay_123")
	if err != nil {
		test.Fatalf("is payment processed: %v", err)
	}
	if !processed {
		test.Fatal("expected credited payment processed")
	}

	entry, found, err := service.PaymentEntry(ctx, "pay_123")
	if err != nil || !found {
		test.Fatalf("payment entry lookup: found=%t err=%v", found, err)
	}
	if entry.BalanceAfter != 10 {
		test.Fatalf("expected replay entry balance 10, got %d", entry.BalanceAfter)
	}
}
