package credits

import (
	"context"
	"time"
)

// Store is the persistence contract used by Service. WithTx yields a Store
// bound to one database transaction; the *ForUpdate variants must take a
// row-level lock that serializes concurrent mutators on the same row.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error

	EnsureBalance(ctx context.Context, userID int64) error
	GetBalance(ctx context.Context, userID int64) (Balance, error)
	GetBalanceForUpdate(ctx context.Context, userID int64) (Balance, error)
	UpdateBalance(ctx context.Context, balance Balance) error

	InsertEntry(ctx context.Context, entry Entry) (int64, error)
	ListEntries(ctx context.Context, userID int64, filter HistoryFilter) ([]Entry, error)
	CountEntries(ctx context.Context, userID int64, filter HistoryFilter) (int64, error)
	GetEntryByPaymentID(ctx context.Context, paymentTransactionID string) (Entry, bool, error)

	GetApplication(ctx context.Context, applicationID int64, userID int64) (Application, error)
	GetApplicationForUpdate(ctx context.Context, applicationID int64, userID int64) (Application, error)
	MarkApplicationRefunded(ctx context.Context, applicationID int64, amount int, reason RefundReason, refundedAt time.Time) error
	ListOpenApplicationsByProject(ctx context.Context, projectID int64) ([]Application, error)

	GetSetting(ctx context.Context, key string) (Setting, error)
	UpsertSetting(ctx context.Context, setting Setting) error
}
