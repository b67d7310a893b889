// Package pgstore implements credits.Store on PostgreSQL via pgx.
package pgstore

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Avhad-Enterprises/mmv-credits/pkg/credits"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	constraintPaymentTransactionID = "credit_transactions_payment_transaction_id_key"

	errorOperationStore     = "store"
	errorSubjectBalance     = "balance"
	errorSubjectEntry       = "entry"
	errorSubjectApplication = "application"
	errorSubjectSetting     = "setting"
	errorSubjectTransaction = "transaction"
	errorCodeBegin          = "begin"
	errorCodeCommit         = "commit"
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

	sqlEnsureBalance = `
		insert into freelancer_balances(user_id) values($1)
		on conflict (user_id) do nothing
	`

	sqlSelectBalance = `
		select user_id, credits_balance, total_credits_purchased, credits_used, signup_bonus_claimed
		from freelancer_balances
		where user_id = $1
	`

	sqlSelectBalanceForUpdate = sqlSelectBalance + ` for update`

	sqlUpdateBalance = `
		update freelancer_balances
		set credits_balance = $2,
		    total_credits_purchased = $3,
		    credits_used = $4,
		    signup_bonus_claimed = $5,
		    updated_at = now()
		where user_id = $1
	`

	sqlInsertEntry = `
		insert into credit_transactions(
			user_id, transaction_type, amount, balance_before, balance_after,
			reference_type, reference_id,
			payment_gateway, payment_order_id, payment_transaction_id, payment_amount, payment_currency,
			payment_metadata, admin_user_id, admin_reason, description, created_at
		)
		values($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
		       coalesce(nullif($13,''),'{}')::jsonb, $14, $15, $16, $17)
		returning transaction_id
	`

	sqlSelectEntryColumns = `
		select
			transaction_id, user_id, transaction_type, amount, balance_before, balance_after,
			reference_type, reference_id,
			payment_gateway, payment_order_id, payment_transaction_id, payment_amount, payment_currency,
			payment_metadata::text, admin_user_id, admin_reason, description, created_at
		from credit_transactions
	`

	sqlSelectEntryByPaymentID = sqlSelectEntryColumns + ` where payment_transaction_id = $1`

	sqlSelectApplication = `
		select application_id, user_id, project_id, credits_spent,
		       refunded, coalesce(refund_amount, 0), coalesce(refund_reason, ''), refunded_at, created_at
		from applied_projects
		where application_id = $1 and user_id = $2
	`

	sqlSelectApplicationForUpdate = sqlSelectApplication + ` for update`

	sqlSelectOpenApplicationsByProject = `
		select application_id, user_id, project_id, credits_spent,
		       refunded, coalesce(refund_amount, 0), coalesce(refund_reason, ''), refunded_at, created_at
		from applied_projects
		where project_id = $1 and refunded = false
		order by application_id
	`

	sqlMarkApplicationRefunded = `
		update applied_projects
		set refunded = true,
		    refund_amount = $2,
		    refund_reason = $3,
		    refunded_at = $4
		where application_id = $1 and refunded = false
	`

	sqlSelectSetting = `
		select setting_key, setting_value, coalesce(updated_by, 0), updated_at
		from credit_settings
		where setting_key = $1
	`

	sqlUpsertSetting = `
		insert into credit_settings(setting_key, setting_value, updated_by, updated_at)
		values($1, $2, $3, $4)
		on conflict (setting_key) do update
		set setting_value = excluded.setting_value,
		    updated_by = excluded.updated_by,
		    updated_at = excluded.updated_at
	`
)

// dbConn is the subset of pgx shared by pgxpool.Pool and pgx.Tx, so one
// Store implementation serves both the autocommit and transactional paths.
type dbConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements credits.Store using a pgx connection pool. A Store
// yielded inside WithTx runs on the active transaction instead.
type Store struct {
	pool *pgxpool.Pool
	conn dbConn
}

// New connects a pool, pings it, and brings the schema up to date.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(connectCtx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	store := NewWithPool(pool)
	if err := store.runMigrations(connectCtx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// NewWithPool wraps an existing pool without running migrations.
func NewWithPool(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, conn: pool}
}

// Close releases the underlying pool.
func (store *Store) Close() {
	if store.pool != nil {
		store.pool.Close()
	}
}

func (store *Store) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(store.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// WithTx executes fn within one database transaction. Calling WithTx on a
// transaction-bound Store joins the active transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore credits.Store) error) error {
	if store.pool == nil {
		return fn(ctx, store)
	}
	tx, err := store.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeBegin, err)
	}
	transactionStore := &Store{conn: tx}
	if err := fn(ctx, transactionStore); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeCommit, err)
	}
	return nil
}

func (store *Store) EnsureBalance(ctx context.Context, userID int64) error {
	if _, err := store.conn.Exec(ctx, sqlEnsureBalance, userID); err != nil {
		return wrapStoreError(errorSubjectBalance, errorCodeEnsure, err)
	}
	return nil
}

func (store *Store) GetBalance(ctx context.Context, userID int64) (credits.Balance, error) {
	return scanBalance(store.conn.QueryRow(ctx, sqlSelectBalance, userID))
}

func (store *Store) GetBalanceForUpdate(ctx context.Context, userID int64) (credits.Balance, error) {
	return scanBalance(store.conn.QueryRow(ctx, sqlSelectBalanceForUpdate, userID))
}

func scanBalance(row pgx.Row) (credits.Balance, error) {
	var balance credits.Balance
	err := row.Scan(
		&balance.UserID,
		&balance.CreditsBalance,
		&balance.TotalCreditsPurchased,
		&balance.CreditsUsed,
		&balance.SignupBonusClaimed,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return credits.Balance{}, wrapStoreError(errorSubjectBalance, errorCodeGet, credits.ErrProfileNotFound)
		}
		return credits.Balance{}, wrapStoreError(errorSubjectBalance, errorCodeGet, err)
	}
	return balance, nil
}

func (store *Store) UpdateBalance(ctx context.Context, balance credits.Balance) error {
	tag, err := store.conn.Exec(ctx, sqlUpdateBalance,
		balance.UserID,
		balance.CreditsBalance,
		balance.TotalCreditsPurchased,
		balance.CreditsUsed,
		balance.SignupBonusClaimed,
	)
	if err != nil {
		return wrapStoreError(errorSubjectBalance, errorCodeUpdate, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectBalance, errorCodeUpdate, credits.ErrProfileNotFound)
	}
	return nil
}

func (store *Store) InsertEntry(ctx context.Context, entry credits.Entry) (int64, error) {
	var gateway, orderID, transactionID, paidAmount, currency *string
	paymentMetadata := ""
	if entry.Payment != nil {
		gateway = &entry.Payment.Gateway
		orderID = &entry.Payment.OrderID
		transactionID = &entry.Payment.TransactionID
		paidAmount = &entry.Payment.Amount
		currency = &entry.Payment.Currency
		paymentMetadata = entry.Payment.Metadata
	}
	var adminUserID *int64
	var adminReason *string
	if entry.Admin != nil {
		adminUserID = &entry.Admin.AdminUserID
		adminReason = &entry.Admin.Reason
	}
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	var id int64
	err := store.conn.QueryRow(ctx, sqlInsertEntry,
		entry.UserID,
		entry.Type.String(),
		entry.Amount,
		entry.BalanceBefore,
		entry.BalanceAfter,
		string(entry.Reference.Kind),
		entry.Reference.ID,
		gateway, orderID, transactionID, paidAmount, currency,
		paymentMetadata,
		adminUserID, adminReason,
		entry.Description,
		createdAt,
	).Scan(&id)
	if isPaymentConflict(err) {
		return 0, wrapStoreError(errorSubjectEntry, errorCodeDuplicate, credits.ErrPaymentAlreadyProcessed)
	}
	if err != nil {
		return 0, wrapStoreError(errorSubjectEntry, errorCodeInsert, err)
	}
	return id, nil
}

func (store *Store) ListEntries(ctx context.Context, userID int64, filter credits.HistoryFilter) ([]credits.Entry, error) {
	where, args := historyPredicate(userID, filter)
	query := sqlSelectEntryColumns + where +
		fmt.Sprintf(" order by created_at desc, transaction_id desc limit $%d offset $%d", len(args)+1, len(args)+2)
	args = append(args, filter.Limit, filter.Offset)
	rows, err := store.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, wrapStoreError(errorSubjectEntry, errorCodeList, err)
	}
	defer rows.Close()
	entries, err := scanEntries(rows)
	if err != nil {
		return nil, wrapStoreError(errorSubjectEntry, errorCodeInvalid, err)
	}
	return entries, nil
}

func (store *Store) CountEntries(ctx context.Context, userID int64, filter credits.HistoryFilter) (int64, error) {
	where, args := historyPredicate(userID, filter)
	var count int64
	err := store.conn.QueryRow(ctx, `select count(*) from credit_transactions`+where, args...).Scan(&count)
	if err != nil {
		return 0, wrapStoreError(errorSubjectEntry, errorCodeCount, err)
	}
	return count, nil
}

func historyPredicate(userID int64, filter credits.HistoryFilter) (string, []any) {
	clauses := []string{"user_id = $1"}
	args := []any{userID}
	if filter.Type != nil {
		args = append(args, filter.Type.String())
		clauses = append(clauses, fmt.Sprintf("transaction_type = $%d", len(args)))
	}
	if filter.From != nil {
		args = append(args, *filter.From)
		clauses = append(clauses, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if filter.To != nil {
		args = append(args, *filter.To)
		clauses = append(clauses, fmt.Sprintf("created_at <= $%d", len(args)))
	}
	return " where " + strings.Join(clauses, " and "), args
}

func (store *Store) GetEntryByPaymentID(ctx context.Context, paymentTransactionID string) (credits.Entry, bool, error) {
	rows, err := store.conn.Query(ctx, sqlSelectEntryByPaymentID, paymentTransactionID)
	if err != nil {
		return credits.Entry{}, false, wrapStoreError(errorSubjectEntry, errorCodeGet, err)
	}
	defer rows.Close()
	entries, err := scanEntries(rows)
	if err != nil {
		return credits.Entry{}, false, wrapStoreError(errorSubjectEntry, errorCodeInvalid, err)
	}
	if len(entries) == 0 {
		return credits.Entry{}, false, nil
	}
	return entries[0], true, nil
}

func (store *Store) GetApplication(ctx context.Context, applicationID int64, userID int64) (credits.Application, error) {
	return scanApplicationRow(store.conn.QueryRow(ctx, sqlSelectApplication, applicationID, userID))
}

func (store *Store) GetApplicationForUpdate(ctx context.Context, applicationID int64, userID int64) (credits.Application, error) {
	return scanApplicationRow(store.conn.QueryRow(ctx, sqlSelectApplicationForUpdate, applicationID, userID))
}

func scanApplicationRow(row pgx.Row) (credits.Application, error) {
	var application credits.Application
	err := row.Scan(
		&application.ApplicationID,
		&application.UserID,
		&application.ProjectID,
		&application.CreditsSpent,
		&application.Refunded,
		&application.RefundAmount,
		&application.RefundReason,
		&application.RefundedAt,
		&application.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return credits.Application{}, wrapStoreError(errorSubjectApplication, errorCodeGet, credits.ErrApplicationNotFound)
		}
		return credits.Application{}, wrapStoreError(errorSubjectApplication, errorCodeGet, err)
	}
	return application, nil
}

func (store *Store) MarkApplicationRefunded(ctx context.Context, applicationID int64, amount int, reason credits.RefundReason, refundedAt time.Time) error {
	tag, err := store.conn.Exec(ctx, sqlMarkApplicationRefunded, applicationID, amount, reason.String(), refundedAt)
	if err != nil {
		return wrapStoreError(errorSubjectApplication, errorCodeMarkRefunded, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectApplication, errorCodeMarkRefunded, credits.ErrAlreadyRefunded)
	}
	return nil
}

func (store *Store) ListOpenApplicationsByProject(ctx context.Context, projectID int64) ([]credits.Application, error) {
	rows, err := store.conn.Query(ctx, sqlSelectOpenApplicationsByProject, projectID)
	if err != nil {
		return nil, wrapStoreError(errorSubjectApplication, errorCodeList, err)
	}
	defer rows.Close()
	var applications []credits.Application
	for rows.Next() {
		var application credits.Application
		if err := rows.Scan(
			&application.ApplicationID,
			&application.UserID,
			&application.ProjectID,
			&application.CreditsSpent,
			&application.Refunded,
			&application.RefundAmount,
			&application.RefundReason,
			&application.RefundedAt,
			&application.CreatedAt,
		); err != nil {
			return nil, wrapStoreError(errorSubjectApplication, errorCodeInvalid, err)
		}
		applications = append(applications, application)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectApplication, errorCodeList, err)
	}
	return applications, nil
}

func (store *Store) GetSetting(ctx context.Context, key string) (credits.Setting, error) {
	var setting credits.Setting
	err := store.conn.QueryRow(ctx, sqlSelectSetting, key).Scan(
		&setting.Key,
		&setting.Value,
		&setting.UpdatedBy,
		&setting.UpdatedAt,
	)
	if err != nil {
		return credits.Setting{}, wrapStoreError(errorSubjectSetting, errorCodeGet, err)
	}
	return setting, nil
}

func (store *Store) UpsertSetting(ctx context.Context, setting credits.Setting) error {
	updatedAt := setting.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	if _, err := store.conn.Exec(ctx, sqlUpsertSetting, setting.Key, setting.Value, setting.UpdatedBy, updatedAt); err != nil {
		return wrapStoreError(errorSubjectSetting, errorCodeUpsert, err)
	}
	return nil
}

func scanEntries(rows pgx.Rows) ([]credits.Entry, error) {
	entries := make([]credits.Entry, 0, 32)
	for rows.Next() {
		var (
			entry           credits.Entry
			entryType       string
			referenceKind   string
			gateway         *string
			orderID         *string
			transactionID   *string
			paidAmount      *string
			currency        *string
			paymentMetadata string
			adminUserID     *int64
			adminReason     *string
		)
		if err := rows.Scan(
			&entry.TransactionID,
			&entry.UserID,
			&entryType,
			&entry.Amount,
			&entry.BalanceBefore,
			&entry.BalanceAfter,
			&referenceKind,
			&entry.Reference.ID,
			&gateway, &orderID, &transactionID, &paidAmount, &currency,
			&paymentMetadata,
			&adminUserID, &adminReason,
			&entry.Description,
			&entry.CreatedAt,
		); err != nil {
			return nil, err
		}
		parsedType, err := credits.ParseTransactionType(entryType)
		if err != nil {
			return nil, err
		}
		entry.Type = parsedType
		entry.Reference.Kind = credits.ReferenceKind(referenceKind)
		if transactionID != nil {
			entry.Payment = &credits.PaymentDetails{
				Gateway:       stringOrEmpty(gateway),
				OrderID:       stringOrEmpty(orderID),
				TransactionID: *transactionID,
				Amount:        stringOrEmpty(paidAmount),
				Currency:      stringOrEmpty(currency),
				Metadata:      paymentMetadata,
			}
		}
		if adminUserID != nil {
			entry.Admin = &credits.AdminAction{
				AdminUserID: *adminUserID,
				Reason:      stringOrEmpty(adminReason),
			}
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func stringOrEmpty(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

func wrapStoreError(subject string, code string, err error) error {
	return credits.WrapError(errorOperationStore, subject, code, err)
}

func isPaymentConflict(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.UniqueViolation && pgErr.ConstraintName == constraintPaymentTransactionID
	}
	return false
}
