package gormstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Avhad-Enterprises/mmv-credits/pkg/credits"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const testUserID int64 = 42

func newTestStore(test *testing.T) *Store {
	test.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		test.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		test.Fatalf("sql db: %v", err)
	}
	// One connection keeps every query on the same in-memory database.
	sqlDB.SetMaxOpenConns(1)
	test.Cleanup(func() { _ = sqlDB.Close() })
	if err := Migrate(db); err != nil {
		test.Fatalf("migrate: %v", err)
	}
	return New(db)
}

func mustNewService(test *testing.T, store credits.Store) *credits.Service {
	test.Helper()
	clock := func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
	service, err := credits.NewService(store, credits.DefaultPolicy(), clock)
	if err != nil {
		test.Fatalf("new service: %v", err)
	}
	return service
}

func TestEnsureBalanceIsIdempotent(test *testing.T) {
	store := newTestStore(test)
	ctx := context.Background()

	if err := store.EnsureBalance(ctx, testUserID); err != nil {
		test.Fatalf("ensure balance: %v", err)
	}
	balance, err := store.GetBalance(ctx, testUserID)
	if err != nil {
		test.Fatalf("get balance: %v", err)
	}
	balance.CreditsBalance = 7
	if err := store.UpdateBalance(ctx, balance); err != nil {
		test.Fatalf("update balance: %v", err)
	}
	if err := store.EnsureBalance(ctx, testUserID); err != nil {
		test.Fatalf("repeat ensure balance: %v", err)
	}
	balance, err = store.GetBalance(ctx, testUserID)
	if err != nil {
		test.Fatalf("get balance: %v", err)
	}
	if balance.CreditsBalance != 7 {
		test.Fatalf("expected repeat ensure to keep balance 7, got %d", balance.CreditsBalance)
	}
}

func TestGetBalanceUnknownUser(test *testing.T) {
	store := newTestStore(test)

	_, err := store.GetBalance(context.Background(), 999)
	if !errors.Is(err, credits.ErrProfileNotFound) {
		test.Fatalf("expected ErrProfileNotFound, got %v", err)
	}
}

func TestUpdateBalanceUnknownUser(test *testing.T) {
	store := newTestStore(test)

	err := store.UpdateBalance(context.Background(), credits.Balance{UserID: 999, CreditsBalance: 5})
	if !errors.Is(err, credits.ErrProfileNotFound) {
		test.Fatalf("expected ErrProfileNotFound, got %v", err)
	}
}

func TestLedgerChainStaysConsistent(test *testing.T) {
	store := newTestStore(test)
	service := mustNewService(test, store)
	ctx := context.Background()

	if err := service.EnsureProfile(ctx, testUserID); err != nil {
		test.Fatalf("ensure profile: %v", err)
	}
	if _, err := service.AddCredits(ctx, testUserID, 10, &credits.PaymentDetails{TransactionID: "pay_1"}); err != nil {
		test.Fatalf("add credits: %v", err)
	}
	if _, err := service.DeductCredits(ctx, testUserID, 3, 77); err != nil {
		test.Fatalf("deduct: %v", err)
	}
	if _, err := service.DeductCredits(ctx, testUserID, 2, 78); err != nil {
		test.Fatalf("deduct: %v", err)
	}

	balance, err := service.Balance(ctx, testUserID)
	if err != nil {
		test.Fatalf("balance: %v", err)
	}
	if balance.CreditsBalance != 5 || balance.TotalCreditsPurchased != 10 || balance.CreditsUsed != 5 {
		test.Fatalf("unexpected balance state: %+v", balance)
	}

	entries, err := store.ListEntries(ctx, testUserID, credits.HistoryFilter{Limit: 50})
	if err != nil {
		test.Fatalf("list entries: %v", err)
	}
	if len(entries) != 3 {
		test.Fatalf("expected 3 entries, got %d", len(entries))
	}
	// Entries come newest-first; replay oldest-first and check each
	// snapshot chains onto the previous one.
	running := 0
	for index := len(entries) - 1; index >= 0; index-- {
		entry := entries[index]
		if entry.BalanceBefore != running {
			test.Fatalf("entry %d: expected balance_before %d, got %d", entry.TransactionID, running, entry.BalanceBefore)
		}
		if entry.BalanceAfter != entry.BalanceBefore+entry.Amount {
			test.Fatalf("entry %d: snapshot does not match amount: %+v", entry.TransactionID, entry)
		}
		running = entry.BalanceAfter
	}
	if running != balance.CreditsBalance {
		test.Fatalf("expected replayed balance %d, got %d", balance.CreditsBalance, running)
	}
}

func TestInsertEntryRejectsDuplicatePayment(test *testing.T) {
	store := newTestStore(test)
	ctx := context.Background()

	entry := credits.Entry{
		UserID:       testUserID,
		Type:         credits.TransactionPurchase,
		Amount:       10,
		BalanceAfter: 10,
		Payment:      &credits.PaymentDetails{Gateway: "razorpay", TransactionID: "pay_dup", Metadata: `{"order":"abc"}`},
		CreatedAt:    time.Now().UTC(),
	}
	if _, err := store.InsertEntry(ctx, entry); err != nil {
		test.Fatalf("first insert: %v", err)
	}
	_, err := store.InsertEntry(ctx, entry)
	if !errors.Is(err, credits.ErrPaymentAlreadyProcessed) {
		test.Fatalf("expected ErrPaymentAlreadyProcessed, got %v", err)
	}

	stored, found, err := store.GetEntryByPaymentID(ctx, "pay_dup")
	if err != nil || !found {
		test.Fatalf("payment lookup: found=%t err=%v", found, err)
	}
	if stored.Payment == nil || stored.Payment.Gateway != "razorpay" {
		test.Fatalf("expected payment details restored, got %+v", stored.Payment)
	}
	if stored.Payment.Metadata != `{"order":"abc"}` {
		test.Fatalf("expected payment metadata restored, got %q", stored.Payment.Metadata)
	}
}

func TestInsertEntryAllowsManyEntriesWithoutPayment(test *testing.T) {
	store := newTestStore(test)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		entry := credits.Entry{
			UserID:    testUserID,
			Type:      credits.TransactionDeduction,
			Amount:    -1,
			CreatedAt: time.Now().UTC(),
		}
		if _, err := store.InsertEntry(ctx, entry); err != nil {
			test.Fatalf("insert without payment: %v", err)
		}
	}
}

func TestGetEntryByPaymentIDMissing(test *testing.T) {
	store := newTestStore(test)

	_, found, err := store.GetEntryByPaymentID(context.Background(), "pay_missing")
	if err != nil {
		test.Fatalf("lookup: %v", err)
	}
	if found {
		test.Fatal("expected missing payment not found")
	}
}

func TestHistoryFilters(test *testing.T) {
	store := newTestStore(test)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	seed := []credits.Entry{
		{UserID: testUserID, Type: credits.TransactionPurchase, Amount: 10, BalanceAfter: 10, CreatedAt: base},
		{UserID: testUserID, Type: credits.TransactionDeduction, Amount: -1, BalanceBefore: 10, BalanceAfter: 9, CreatedAt: base.Add(time.Hour)},
		{UserID: testUserID, Type: credits.TransactionDeduction, Amount: -1, BalanceBefore: 9, BalanceAfter: 8, CreatedAt: base.Add(2 * time.Hour)},
		{UserID: 777, Type: credits.TransactionPurchase, Amount: 5, BalanceAfter: 5, CreatedAt: base},
	}
	for _, entry := range seed {
		if _, err := store.InsertEntry(ctx, entry); err != nil {
			test.Fatalf("seed entry: %v", err)
		}
	}

	entryType := credits.TransactionDeduction
	entries, err := store.ListEntries(ctx, testUserID, credits.HistoryFilter{Limit: 50, Type: &entryType})
	if err != nil {
		test.Fatalf("list by type: %v", err)
	}
	if len(entries) != 2 {
		test.Fatalf("expected 2 deductions, got %d", len(entries))
	}

	from := base.Add(30 * time.Minute)
	to := base.Add(90 * time.Minute)
	entries, err = store.ListEntries(ctx, testUserID, credits.HistoryFilter{Limit: 50, From: &from, To: &to})
	if err != nil {
		test.Fatalf("list by window: %v", err)
	}
	if len(entries) != 1 || !entries[0].CreatedAt.Equal(base.Add(time.Hour)) {
		test.Fatalf("expected single windowed entry, got %+v", entries)
	}

	count, err := store.CountEntries(ctx, testUserID, credits.HistoryFilter{})
	if err != nil {
		test.Fatalf("count: %v", err)
	}
	if count != 3 {
		test.Fatalf("expected count 3, got %d", count)
	}

	entries, err = store.ListEntries(ctx, testUserID, credits.HistoryFilter{Limit: 2, Offset: 2})
	if err != nil {
		test.Fatalf("list paged: %v", err)
	}
	if len(entries) != 1 || entries[0].Type != credits.TransactionPurchase {
		test.Fatalf("expected last page containing the purchase, got %+v", entries)
	}
}

func TestMarkApplicationRefundedOnlyOnce(test *testing.T) {
	store := newTestStore(test)
	ctx := context.Background()
	applicationID := seedApplication(test, store, testUserID, 77, 2)

	refundedAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	if err := store.MarkApplicationRefunded(ctx, applicationID, 2, credits.RefundWithdrawal, refundedAt); err != nil {
		test.Fatalf("mark refunded: %v", err)
	}
	err := store.MarkApplicationRefunded(ctx, applicationID, 2, credits.RefundWithdrawal, refundedAt)
	if !errors.Is(err, credits.ErrAlreadyRefunded) {
		test.Fatalf("expected ErrAlreadyRefunded, got %v", err)
	}

	application, err := store.GetApplication(ctx, applicationID, testUserID)
	if err != nil {
		test.Fatalf("get application: %v", err)
	}
	if !application.Refunded || application.RefundAmount != 2 || application.RefundReason != "withdrawal" {
		test.Fatalf("unexpected application state: %+v", application)
	}
}

func TestGetApplicationScopedToUser(test *testing.T) {
	store := newTestStore(test)
	ctx := context.Background()
	applicationID := seedApplication(test, store, testUserID, 77, 2)

	if _, err := store.GetApplication(ctx, applicationID, testUserID); err != nil {
		test.Fatalf("get application: %v", err)
	}
	_, err := store.GetApplication(ctx, applicationID, 999)
	if !errors.Is(err, credits.ErrApplicationNotFound) {
		test.Fatalf("expected ErrApplicationNotFound for wrong user, got %v", err)
	}
}

func TestListOpenApplicationsByProject(test *testing.T) {
	store := newTestStore(test)
	ctx := context.Background()
	first := seedApplication(test, store, testUserID, 77, 2)
	second := seedApplication(test, store, 500, 77, 3)
	seedApplication(test, store, testUserID, 88, 1)

	if err := store.MarkApplicationRefunded(ctx, second, 3, credits.RefundProjectCancelled, time.Now().UTC()); err != nil {
		test.Fatalf("mark refunded: %v", err)
	}

	open, err := store.ListOpenApplicationsByProject(ctx, 77)
	if err != nil {
		test.Fatalf("list open: %v", err)
	}
	if len(open) != 1 || open[0].ApplicationID != first {
		test.Fatalf("expected only the unrefunded application on project 77, got %+v", open)
	}
}

func TestSettingsUpsert(test *testing.T) {
	store := newTestStore(test)
	ctx := context.Background()

	setting := credits.Setting{Key: "price_per_credit", Value: "10", UpdatedBy: 9, UpdatedAt: time.Now().UTC()}
	if err := store.UpsertSetting(ctx, setting); err != nil {
		test.Fatalf("insert setting: %v", err)
	}
	setting.Value = "12.5"
	if err := store.UpsertSetting(ctx, setting); err != nil {
		test.Fatalf("update setting: %v", err)
	}

	stored, err := store.GetSetting(ctx, "price_per_credit")
	if err != nil {
		test.Fatalf("get setting: %v", err)
	}
	if stored.Value != "12.5" || stored.UpdatedBy != 9 {
		test.Fatalf("unexpected setting: %+v", stored)
	}
}

func TestRefundFlowEndToEnd(test *testing.T) {
	store := newTestStore(test)
	service := mustNewService(test, store)
	ctx := context.Background()

	if err := service.EnsureProfile(ctx, testUserID); err != nil {
		test.Fatalf("ensure profile: %v", err)
	}
	if _, err := service.AddCredits(ctx, testUserID, 10, nil); err != nil {
		test.Fatalf("add credits: %v", err)
	}
	if _, err := service.DeductCredits(ctx, testUserID, 2, 77); err != nil {
		test.Fatalf("deduct: %v", err)
	}
	applicationID := seedApplication(test, store, testUserID, 77, 2)

	result, err := service.ProcessRefund(ctx, applicationID, testUserID, credits.RefundProjectCancelled, nil)
	if err != nil {
		test.Fatalf("refund: %v", err)
	}
	if !result.Success || result.RefundedAmount != 2 || result.NewBalance != 10 {
		test.Fatalf("unexpected refund result: %+v", result)
	}

	_, err = service.ProcessRefund(ctx, applicationID, testUserID, credits.RefundProjectCancelled, nil)
	if !errors.Is(err, credits.ErrAlreadyRefunded) {
		test.Fatalf("expected ErrAlreadyRefunded, got %v", err)
	}
}

func seedApplication(test *testing.T, store *Store, userID int64, projectID int64, creditsSpent int) int64 {
	test.Helper()
	model := AppliedProject{
		UserID:       userID,
		ProjectID:    projectID,
		CreditsSpent: creditsSpent,
		CreatedAt:    time.Now().UTC(),
	}
	if err := store.db.Create(&model).Error; err != nil {
		test.Fatalf("seed application: %v", err)
	}
	return model.ApplicationID
}
