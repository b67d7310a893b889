// Package gormstore implements credits.Store using GORM, for the sqlite
// development path and store-level tests.
package gormstore

import (
	"context"
	"errors"
	"time"

	"github.com/Avhad-Enterprises/mmv-credits/pkg/credits"
	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	constraintPaymentTransactionID = "credit_transactions_payment_transaction_id_key"
	defaultPaymentMetadata         = "{}"
	pgUniqueViolationCode          = "23505"
	sqliteConstraintCode           = 19

	errorOperationStore     = "store"
	errorSubjectBalance     = "balance"
	errorSubjectEntry       = "entry"
	errorSubjectApplication = "application"
	errorSubjectSetting     = "setting"
	errorCodeCount          = "count"
	errorCodeDuplicate      = "duplicate"
	errorCodeEnsure         = "ensure"
	errorCodeGet            = "get"
	errorCodeInsert         = "insert"
	errorCodeInvalid        = "invalid"
	errorCodeList           = "list"
	errorCodeMarkRefunded   = "mark_refunded"
	errorCodeUpdate         = "update"
	errorCodeUpsert         = "upsert"
)

// Store implements credits.Store using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate brings the schema up to date via AutoMigrate.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&FreelancerBalance{},
		&CreditTransaction{},
		&AppliedProject{},
		&CreditSetting{},
	)
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore credits.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

func (store *Store) EnsureBalance(ctx context.Context, userID int64) error {
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&FreelancerBalance{UserID: userID}).Error
	if err != nil {
		return wrapStoreError(errorSubjectBalance, errorCodeEnsure, err)
	}
	return nil
}

func (store *Store) GetBalance(ctx context.Context, userID int64) (credits.Balance, error) {
	return store.getBalance(ctx, userID, false)
}

func (store *Store) GetBalanceForUpdate(ctx context.Context, userID int64) (credits.Balance, error) {
	return store.getBalance(ctx, userID, true)
}

func (store *Store) getBalance(ctx context.Context, userID int64, forUpdate bool) (credits.Balance, error) {
	query := store.db.WithContext(ctx)
	if forUpdate {
		query = store.lockForUpdate(query)
	}
	var model FreelancerBalance
	err := query.Where("user_id = ?", userID).Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return credits.Balance{}, wrapStoreError(errorSubjectBalance, errorCodeGet, credits.ErrProfileNotFound)
		}
		return credits.Balance{}, wrapStoreError(errorSubjectBalance, errorCodeGet, err)
	}
	return credits.Balance{
		UserID:                model.UserID,
		CreditsBalance:        model.CreditsBalance,
		TotalCreditsPurchased: model.TotalCreditsPurchased,
		CreditsUsed:           model.CreditsUsed,
		SignupBonusClaimed:    model.SignupBonusClaimed,
	}, nil
}

// lockForUpdate adds a row lock on dialects that support it. SQLite has
// no SELECT ... FOR UPDATE; its transactions lock the whole database, so
// the clause is skipped there.
func (store *Store) lockForUpdate(query *gorm.DB) *gorm.DB {
	if store.db.Dialector.Name() == "sqlite" {
		return query
	}
	return query.Clauses(clause.Locking{Strength: "UPDATE"})
}

func (store *Store) UpdateBalance(ctx context.Context, balance credits.Balance) error {
	result := store.db.WithContext(ctx).
		Model(&FreelancerBalance{}).
		Where("user_id = ?", balance.UserID).
		Updates(map[string]interface{}{
			"credits_balance":         balance.CreditsBalance,
			"total_credits_purchased": balance.TotalCreditsPurchased,
			"credits_used":            balance.CreditsUsed,
			"signup_bonus_claimed":    balance.SignupBonusClaimed,
			"updated_at":              time.Now().UTC(),
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectBalance, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectBalance, errorCodeUpdate, credits.ErrProfileNotFound)
	}
	return nil
}

func (store *Store) InsertEntry(ctx context.Context, entry credits.Entry) (int64, error) {
	model := CreditTransaction{
		UserID:          entry.UserID,
		TransactionType: entry.Type.String(),
		Amount:          entry.Amount,
		BalanceBefore:   entry.BalanceBefore,
		BalanceAfter:    entry.BalanceAfter,
		ReferenceType:   string(entry.Reference.Kind),
		ReferenceID:     entry.Reference.ID,
		PaymentMetadata: datatypes.JSON([]byte(defaultPaymentMetadata)),
		Description:     entry.Description,
		CreatedAt:       entry.CreatedAt,
	}
	if model.CreatedAt.IsZero() {
		model.CreatedAt = time.Now().UTC()
	}
	if entry.Payment != nil {
		model.PaymentGateway = &entry.Payment.Gateway
		model.PaymentOrderID = &entry.Payment.OrderID
		model.PaymentTransactionID = &entry.Payment.TransactionID
		model.PaymentAmount = &entry.Payment.Amount
		model.PaymentCurrency = &entry.Payment.Currency
		if entry.Payment.Metadata != "" {
			model.PaymentMetadata = datatypes.JSON([]byte(entry.Payment.Metadata))
		}
	}
	if entry.Admin != nil {
		model.AdminUserID = &entry.Admin.AdminUserID
		model.AdminReason = &entry.Admin.Reason
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isPaymentConflict(err) {
		return 0, wrapStoreError(errorSubjectEntry, errorCodeDuplicate, credits.ErrPaymentAlreadyProcessed)
	}
	if err != nil {
		return 0, wrapStoreError(errorSubjectEntry, errorCodeInsert, err)
	}
	return model.TransactionID, nil
}

func (store *Store) ListEntries(ctx context.Context, userID int64, filter credits.HistoryFilter) ([]credits.Entry, error) {
	var rows []CreditTransaction
	err := store.historyQuery(ctx, userID, filter).
		Order("created_at DESC, transaction_id DESC").
		Limit(filter.Limit).
		Offset(filter.Offset).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectEntry, errorCodeList, err)
	}
	entries := make([]credits.Entry, 0, len(rows))
	for _, row := range rows {
		entry, err := mapEntry(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectEntry, errorCodeInvalid, err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (store *Store) CountEntries(ctx context.Context, userID int64, filter credits.HistoryFilter) (int64, error) {
	var count int64
	err := store.historyQuery(ctx, userID, filter).Count(&count).Error
	if err != nil {
		return 0, wrapStoreError(errorSubjectEntry, errorCodeCount, err)
	}
	return count, nil
}

func (store *Store) historyQuery(ctx context.Context, userID int64, filter credits.HistoryFilter) *gorm.DB {
	query := store.db.WithContext(ctx).
		Model(&CreditTransaction{}).
		Where("user_id = ?", userID)
	if filter.Type != nil {
		query = query.Where("transaction_type = ?", filter.Type.String())
	}
	if filter.From != nil {
		query = query.Where("created_at >= ?", *filter.From)
	}
	if filter.To != nil {
		query = query.Where("created_at <= ?", *filter.To)
	}
	return query
}

func (store *Store) GetEntryByPaymentID(ctx context.Context, paymentTransactionID string) (credits.Entry, bool, error) {
	var model CreditTransaction
	err := store.db.WithContext(ctx).
		Where("payment_transaction_id = ?", paymentTransactionID).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return credits.Entry{}, false, nil
		}
		return credits.Entry{}, false, wrapStoreError(errorSubjectEntry, errorCodeGet, err)
	}
	entry, err := mapEntry(model)
	if err != nil {
		return credits.Entry{}, false, wrapStoreError(errorSubjectEntry, errorCodeInvalid, err)
	}
	return entry, true, nil
}

func (store *Store) GetApplication(ctx context.Context, applicationID int64, userID int64) (credits.Application, error) {
	return store.getApplication(ctx, applicationID, userID, false)
}

func (store *Store) GetApplicationForUpdate(ctx context.Context, applicationID int64, userID int64) (credits.Application, error) {
	return store.getApplication(ctx, applicationID, userID, true)
}

func (store *Store) getApplication(ctx context.Context, applicationID int64, userID int64, forUpdate bool) (credits.Application, error) {
	query := store.db.WithContext(ctx)
	if forUpdate {
		query = store.lockForUpdate(query)
	}
	var model AppliedProject
	err := query.Where("application_id = ? AND user_id = ?", applicationID, userID).Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return credits.Application{}, wrapStoreError(errorSubjectApplication, errorCodeGet, credits.ErrApplicationNotFound)
		}
		return credits.Application{}, wrapStoreError(errorSubjectApplication, errorCodeGet, err)
	}
	return mapApplication(model), nil
}

func (store *Store) MarkApplicationRefunded(ctx context.Context, applicationID int64, amount int, reason credits.RefundReason, refundedAt time.Time) error {
	reasonValue := reason.String()
	result := store.db.WithContext(ctx).
		Model(&AppliedProject{}).
		Where("application_id = ? AND refunded = ?", applicationID, false).
		Updates(map[string]interface{}{
			"refunded":      true,
			"refund_amount": amount,
			"refund_reason": reasonValue,
			"refunded_at":   refundedAt,
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectApplication, errorCodeMarkRefunded, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectApplication, errorCodeMarkRefunded, credits.ErrAlreadyRefunded)
	}
	return nil
}

func (store *Store) ListOpenApplicationsByProject(ctx context.Context, projectID int64) ([]credits.Application, error) {
	var rows []AppliedProject
	err := store.db.WithContext(ctx).
		Where("project_id = ? AND refunded = ?", projectID, false).
		Order("application_id").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectApplication, errorCodeList, err)
	}
	applications := make([]credits.Application, 0, len(rows))
	for _, row := range rows {
		applications = append(applications, mapApplication(row))
	}
	return applications, nil
}

func (store *Store) GetSetting(ctx context.Context, key string) (credits.Setting, error) {
	var model CreditSetting
	err := store.db.WithContext(ctx).Where("setting_key = ?", key).Take(&model).Error
	if err != nil {
		return credits.Setting{}, wrapStoreError(errorSubjectSetting, errorCodeGet, err)
	}
	setting := credits.Setting{
		Key:       model.SettingKey,
		Value:     model.SettingValue,
		UpdatedAt: model.UpdatedAt,
	}
	if model.UpdatedBy != nil {
		setting.UpdatedBy = *model.UpdatedBy
	}
	return setting, nil
}

func (store *Store) UpsertSetting(ctx context.Context, setting credits.Setting) error {
	updatedAt := setting.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	model := CreditSetting{
		SettingKey:   setting.Key,
		SettingValue: setting.Value,
		UpdatedBy:    &setting.UpdatedBy,
		UpdatedAt:    updatedAt,
	}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "setting_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"setting_value", "updated_by", "updated_at"}),
		}).
		Create(&model).Error
	if err != nil {
		return wrapStoreError(errorSubjectSetting, errorCodeUpsert, err)
	}
	return nil
}

func mapApplication(model AppliedProject) credits.Application {
	application := credits.Application{
		ApplicationID: model.ApplicationID,
		UserID:        model.UserID,
		ProjectID:     model.ProjectID,
		CreditsSpent:  model.CreditsSpent,
		Refunded:      model.Refunded,
		RefundedAt:    model.RefundedAt,
		CreatedAt:     model.CreatedAt,
	}
	if model.RefundAmount != nil {
		application.RefundAmount = *model.RefundAmount
	}
	if model.RefundReason != nil {
		application.RefundReason = *model.RefundReason
	}
	return application
}

func mapEntry(model CreditTransaction) (credits.Entry, error) {
	transactionType, err := credits.ParseTransactionType(model.TransactionType)
	if err != nil {
		return credits.Entry{}, err
	}
	entry := credits.Entry{
		TransactionID: model.TransactionID,
		UserID:        model.UserID,
		Type:          transactionType,
		Amount:        model.Amount,
		BalanceBefore: model.BalanceBefore,
		BalanceAfter:  model.BalanceAfter,
		Reference: credits.Reference{
			Kind: credits.ReferenceKind(model.ReferenceType),
			ID:   model.ReferenceID,
		},
		Description: model.Description,
		CreatedAt:   model.CreatedAt,
	}
	if model.PaymentTransactionID != nil {
		entry.Payment = &credits.PaymentDetails{
			TransactionID: *model.PaymentTransactionID,
			Metadata:      string(model.PaymentMetadata),
		}
		if model.PaymentGateway != nil {
			entry.Payment.Gateway = *model.PaymentGateway
		}
		if model.PaymentOrderID != nil {
			entry.Payment.OrderID = *model.PaymentOrderID
		}
		if model.PaymentAmount != nil {
			entry.Payment.Amount = *model.PaymentAmount
		}
		if model.PaymentCurrency != nil {
			entry.Payment.Currency = *model.PaymentCurrency
		}
	}
	if model.AdminUserID != nil {
		entry.Admin = &credits.AdminAction{AdminUserID: *model.AdminUserID}
		if model.AdminReason != nil {
			entry.Admin.Reason = *model.AdminReason
		}
	}
	return entry, nil
}

func wrapStoreError(subject string, code string, err error) error {
	return credits.WrapError(errorOperationStore, subject, code, err)
}

func isPaymentConflict(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraintPaymentTransactionID
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}
