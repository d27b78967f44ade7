package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vidorahq/vidora-billing/pkg/enums"
)

// Payment records one attempted or completed charge. Monetary fields are
// immutable once the payment reaches succeeded; only refund bookkeeping may
// touch RefundedAmount and the refunded statuses afterwards.
type Payment struct {
	ID                uuid.UUID            `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID            uuid.UUID            `gorm:"column:user_id;type:uuid;not null;index"`
	SubscriptionID    *uuid.UUID           `gorm:"column:subscription_id;type:uuid;index"`
	Provider          enums.Provider       `gorm:"column:provider;type:provider;not null"`
	ProviderPaymentID string               `gorm:"column:provider_payment_id;not null;unique"`
	Amount            decimal.Decimal      `gorm:"column:amount;type:numeric(12,2);not null"`
	Currency          string               `gorm:"column:currency;not null"`
	Status            enums.PaymentStatus  `gorm:"column:status;type:payment_status;not null;default:'pending'"`
	Purpose           enums.PaymentPurpose `gorm:"column:purpose;type:payment_purpose;not null;default:'one_time'"`
	RefundedAmount    decimal.Decimal      `gorm:"column:refunded_amount;type:numeric(12,2);not null;default:0"`
	FailureCode       *string              `gorm:"column:failure_code"`
	FailureMessage    *string              `gorm:"column:failure_message"`
	ReceiptURL        *string              `gorm:"column:receipt_url"`
	Metadata          json.RawMessage      `gorm:"column:metadata;type:jsonb"`
	PaidAt            *time.Time           `gorm:"column:paid_at"`
	CreatedAt         time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}

// RefundableAmount returns how much of the payment can still be reversed.
func (p *Payment) RefundableAmount() decimal.Decimal {
	return p.Amount.Sub(p.RefundedAmount)
}
