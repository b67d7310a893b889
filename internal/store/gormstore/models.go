package gormstore

import (
	"time"

	"gorm.io/datatypes"
)

// FreelancerBalance mirrors the freelancer_balances table.
type FreelancerBalance struct {
	UserID                int64     `gorm:"primaryKey"`
	CreditsBalance        int       `gorm:"not null;default:0"`
	TotalCreditsPurchased int       `gorm:"not null;default:0"`
	CreditsUsed           int       `gorm:"not null;default:0"`
	SignupBonusClaimed    bool      `gorm:"not null;default:false"`
	CreatedAt             time.Time `gorm:"not null"`
	UpdatedAt             time.Time `gorm:"not null"`
}

func (FreelancerBalance) TableName() string { return "freelancer_balances" }

// CreditTransaction mirrors the credit_transactions table.
type CreditTransaction struct {
	TransactionID        int64          `gorm:"primaryKey;autoIncrement"`
	UserID               int64          `gorm:"not null;index:idx_credit_transactions_user_created,priority:1"`
	TransactionType      string         `gorm:"not null"`
	Amount               int            `gorm:"not null"`
	BalanceBefore        int            `gorm:"not null"`
	BalanceAfter         int            `gorm:"not null"`
	ReferenceType        string         `gorm:"not null;default:''"`
	ReferenceID          string         `gorm:"not null;default:''"`
	PaymentGateway       *string        `gorm:""`
	PaymentOrderID       *string        `gorm:""`
	PaymentTransactionID *string        `gorm:"uniqueIndex:credit_transactions_payment_transaction_id_key"`
	PaymentAmount        *string        `gorm:""`
	PaymentCurrency      *string        `gorm:""`
	PaymentMetadata      datatypes.JSON `gorm:"not null"`
	AdminUserID          *int64         `gorm:""`
	AdminReason          *string        `gorm:""`
	Description          string         `gorm:"not null;default:''"`
	CreatedAt            time.Time      `gorm:"not null;index:idx_credit_transactions_user_created,priority:2"`
}

func (CreditTransaction) TableName() string { return "credit_transactions" }

// AppliedProject mirrors the applied_projects table.
type AppliedProject struct {
	ApplicationID int64      `gorm:"primaryKey;autoIncrement"`
	UserID        int64      `gorm:"not null;index"`
	ProjectID     int64      `gorm:"not null;index"`
	CreditsSpent  int        `gorm:"not null;default:1"`
	Refunded      bool       `gorm:"not null;default:false"`
	RefundAmount  *int       `gorm:""`
	RefundReason  *string    `gorm:""`
	RefundedAt    *time.Time `gorm:""`
	CreatedAt     time.Time  `gorm:"not null"`
}

func (AppliedProject) TableName() string { return "applied_projects" }

// CreditSetting mirrors the credit_settings table.
type CreditSetting struct {
	SettingKey   string    `gorm:"primaryKey"`
	SettingValue string    `gorm:"not null"`
	UpdatedBy    *int64    `gorm:""`
	UpdatedAt    time.Time `gorm:"not null"`
}

func (CreditSetting) TableName() string { return "credit_settings" }
