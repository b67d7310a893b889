package credits

import (
	"fmt"
	"strconv"
	"time"
)

// TransactionType enumerates ledger entry kinds.
type TransactionType string

const (
	TransactionPurchase    TransactionType = "purchase"
	TransactionDeduction   TransactionType = "deduction"
	TransactionRefund      TransactionType = "refund"
	TransactionAdminAdd    TransactionType = "admin_add"
	TransactionAdminDeduct TransactionType = "admin_deduct"
	TransactionExpiry      TransactionType = "expiry"
	TransactionSignupBonus TransactionType = "signup_bonus"
)

// ParseTransactionType validates a raw transaction type.
func ParseTransactionType(raw string) (TransactionType, error) {
	switch TransactionType(raw) {
	case TransactionPurchase, TransactionDeduction, TransactionRefund,
		TransactionAdminAdd, TransactionAdminDeduct, TransactionExpiry,
		TransactionSignupBonus:
		return TransactionType(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidTransactionType, raw)
}

// String returns the persisted form.
func (transactionType TransactionType) String() string {
	return string(transactionType)
}

// RefundReason enumerates accepted refund reason codes.
type RefundReason string

const (
	RefundWithdrawal           RefundReason = "withdrawal"
	RefundProjectCancelled     RefundReason = "project_cancelled"
	RefundProjectExpired       RefundReason = "project_expired"
	RefundTechnicalError       RefundReason = "technical_error"
	RefundAdmin                RefundReason = "admin_refund"
	RefundDuplicateApplication RefundReason = "duplicate_application"
)

// ParseRefundReason validates a raw refund reason code.
func ParseRefundReason(raw string) (RefundReason, error) {
	switch RefundReason(raw) {
	case RefundWithdrawal, RefundProjectCancelled, RefundProjectExpired,
		RefundTechnicalError, RefundAdmin, RefundDuplicateApplication:
		return RefundReason(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidRefundReason, raw)
}

// String returns the persisted form.
func (reason RefundReason) String() string {
	return string(reason)
}

// ReferenceKind tags the entity that caused a ledger entry.
type ReferenceKind string

const (
	ReferencePayment     ReferenceKind = "payment"
	ReferenceApplication ReferenceKind = "application"
	ReferenceAdmin       ReferenceKind = "admin"
	ReferenceSignup      ReferenceKind = "signup"
)

// Reference is the application-layer view of the loose
// reference_type/reference_id column pair.
type Reference struct {
	Kind ReferenceKind
	ID   string
}

// ApplicationReference builds a reference to an applied project.
func ApplicationReference(applicationID int64) Reference {
	return Reference{Kind: ReferenceApplication, ID: strconv.FormatInt(applicationID, 10)}
}

// PaymentReference builds a reference to a payment transaction.
func PaymentReference(paymentTransactionID string) Reference {
	return Reference{Kind: ReferencePayment, ID: paymentTransactionID}
}

// Balance is the spendable-credits state held on a freelancer profile.
type Balance struct {
	UserID                int64
	CreditsBalance        int
	TotalCreditsPurchased int
	CreditsUsed           int
	SignupBonusClaimed    bool
}

// PaymentDetails carries gateway metadata recorded on purchase entries.
// Metadata holds the raw gateway payload as JSON for audit.
type PaymentDetails struct {
	Gateway       string
	OrderID       string
	TransactionID string
	Amount        string
	Currency      string
	Metadata      string
}

// AdminAction carries the acting admin and a free-text reason for
// manual adjustments and admin-initiated refunds.
type AdminAction struct {
	AdminUserID int64
	Reason      string
}

// Entry is a single immutable line in the credits ledger.
type Entry struct {
	TransactionID int64
	UserID        int64
	Type          TransactionType
	Amount        int
	BalanceBefore int
	BalanceAfter  int
	Reference     Reference
	Payment       *PaymentDetails
	Admin         *AdminAction
	Description   string
	CreatedAt     time.Time
}

// Application is the ledger-relevant view of an applied project.
type Application struct {
	ApplicationID int64
	UserID        int64
	ProjectID     int64
	CreditsSpent  int
	Refunded      bool
	RefundAmount  int
	RefundReason  string
	RefundedAt    *time.Time
	CreatedAt     time.Time
}

// HistoryFilter narrows ledger history queries.
type HistoryFilter struct {
	Limit  int
	Offset int
	Type   *TransactionType
	From   *time.Time
	To     *time.Time
}

// MutationResult reports the post-mutation balance state.
type MutationResult struct {
	TransactionID         int64
	NewBalance            int
	TotalCreditsPurchased int
	CreditsUsed           int
}

// Eligibility is the outcome of a refund policy check.
type Eligibility struct {
	Eligible bool
	Amount   int
	Percent  int
	Reason   string
}

// RefundResult reports a processed refund.
type RefundResult struct {
	Success        bool
	RefundedAmount int
	NewBalance     int
	Message        string
}

// BatchRefundResult counts a project-wide refund sweep.
type BatchRefundResult struct {
	Refunded int
	Total    int
}

// BonusResult reports a signup bonus attempt. Failures are carried in the
// result rather than an error so registration flows never abort on them.
type BonusResult struct {
	Success      bool
	CreditsAdded int
	Message      string
}

// CreditPackage is a purchasable credit bundle priced from the
// current price-per-credit setting.
type CreditPackage struct {
	Name    string
	Credits int
	Price   string
}

// Setting is one upsertable key/value configuration row.
type Setting struct {
	Key       string
	Value     string
	UpdatedBy int64
	UpdatedAt time.Time
}
