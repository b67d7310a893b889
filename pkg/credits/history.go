package credits

import (
	"context"
	"fmt"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// History returns ledger entries newest-first. Entries stored without an
// explicit description get a synthesized one.
func (service *Service) History(ctx context.Context, userID int64, filter HistoryFilter) ([]Entry, error) {
	filter = normalizeHistoryFilter(filter)
	entries, err := service.store.ListEntries(ctx, userID, filter)
	if err != nil {
		return nil, err
	}
	for index := range entries {
		if entries[index].Description == "" {
			entries[index].Description = defaultDescription(entries[index])
		}
	}
	return entries, nil
}

// HistoryCount returns the total matching entries for pagination.
func (service *Service) HistoryCount(ctx context.Context, userID int64, filter HistoryFilter) (int64, error) {
	return service.store.CountEntries(ctx, userID, normalizeHistoryFilter(filter))
}

// IsPaymentProcessed reports whether a payment transaction id has already
// been credited. Webhook handlers must consult this before AddCredits so a
// gateway retry cannot double-credit.
func (service *Service) IsPaymentProcessed(ctx context.Context, paymentTransactionID string) (bool, error) {
	_, found, err := service.store.GetEntryByPaymentID(ctx, paymentTransactionID)
	if err != nil {
		return false, err
	}
	return found, nil
}

// PaymentEntry returns the ledger entry recorded for a payment, if any.
func (service *Service) PaymentEntry(ctx context.Context, paymentTransactionID string) (Entry, bool, error) {
	return service.store.GetEntryByPaymentID(ctx, paymentTransactionID)
}

func normalizeHistoryFilter(filter HistoryFilter) HistoryFilter {
	if filter.Limit <= 0 {
		filter.Limit = defaultHistoryLimit
	}
	if filter.Limit > maxHistoryLimit {
		filter.Limit = maxHistoryLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return filter
}

func defaultDescription(entry Entry) string {
	switch entry.Type {
	case TransactionPurchase:
		return fmt.Sprintf("Purchased %d credits", entry.Amount)
	case TransactionDeduction:
		return fmt.Sprintf("Spent %d credits on application %s", -entry.Amount, entry.Reference.ID)
	case TransactionRefund:
		return fmt.Sprintf("Refund of %d credits for application %s", entry.Amount, entry.Reference.ID)
	case TransactionAdminAdd:
		return fmt.Sprintf("Admin credited %d credits", entry.Amount)
	case TransactionAdminDeduct:
		return fmt.Sprintf("Admin deducted %d credits", -entry.Amount)
	case TransactionExpiry:
		return fmt.Sprintf("%d credits expired", -entry.Amount)
	case TransactionSignupBonus:
		return fmt.Sprintf("Signup bonus of %d credits", entry.Amount)
	}
	return fmt.Sprintf("Credits adjustment of %d", entry.Amount)
}
