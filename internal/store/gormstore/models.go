package gormstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// AccountRecord mirrors the accounts table. Trial and plan fields are
// embedded columns; a missing trial/plan is represented by the granted flag
// and a null plan id. Timestamp automation is disabled because the domain
// layer owns updated_at.
type AccountRecord struct {
	AccountID          string `gorm:"primaryKey"`
	DisplayName        string `gorm:""`
	Email              string `gorm:"index"`
	AvatarURL          string `gorm:""`
	WalletBalanceCents int64  `gorm:"not null;default:0"`

	TrialGranted         bool       `gorm:"not null;default:false"`
	TrialStartedAt       *time.Time `gorm:""`
	TrialExpiresAt       *time.Time `gorm:""`
	TrialConsumedMinutes int64      `gorm:"not null;default:0"`
	TrialMaxMinutes      int64      `gorm:"not null;default:0"`
	TrialActive          bool       `gorm:"not null;default:false"`

	PlanID               *string    `gorm:""`
	PlanActivatedAt      *time.Time `gorm:""`
	PlanExpiresAt        *time.Time `gorm:""`
	PlanRemainingMinutes int64      `gorm:"not null;default:0"`

	CreatedAt time.Time `gorm:"not null;autoCreateTime:false"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime:false"`
}

func (AccountRecord) TableName() string { return "accounts" }

// PaymentRecord mirrors the payments table.
type PaymentRecord struct {
	PaymentID        string         `gorm:"type:uuid;primaryKey"`
	AccountID        string         `gorm:"not null;index:idx_payments_account_created,priority:1"`
	Kind             string         `gorm:"not null"`
	GatewayOrderID   string         `gorm:"not null"`
	GatewayPaymentID string         `gorm:"not null"`
	AmountCents      int64          `gorm:"not null"`
	PlanID           *string        `gorm:""`
	Metadata         datatypes.JSON `gorm:"not null"`
	CreatedAt        time.Time      `gorm:"not null;autoCreateTime:false;index:idx_payments_account_created,priority:2"`
}

func (PaymentRecord) TableName() string { return "payments" }

func (payment *PaymentRecord) BeforeCreate(tx *gorm.DB) error {
	if payment.PaymentID == "" {
		payment.PaymentID = uuid.NewString()
	}
	return nil
}
