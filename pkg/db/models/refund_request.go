package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vidorahq/vidora-billing/pkg/enums"
)

// RefundRequest is one retained attempt to reverse a Payment. Rows are the
// audit trail: they are only ever status-advanced, never deleted.
type RefundRequest struct {
	ID                uuid.UUID          `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	PaymentID         uuid.UUID          `gorm:"column:payment_id;type:uuid;not null;index"`
	RequestedBy       uuid.UUID          `gorm:"column:requested_by;type:uuid;not null"`
	Amount            decimal.Decimal    `gorm:"column:amount;type:numeric(12,2);not null"`
	Currency          string             `gorm:"column:currency;not null"`
	Reason            enums.RefundReason `gorm:"column:reason;type:refund_reason;not null"`
	ReasonDetail      *string            `gorm:"column:reason_detail"`
	InternalNote      *string            `gorm:"column:internal_note"`
	Status            enums.RefundStatus `gorm:"column:status;type:refund_status;not null;default:'pending';index"`
	FirstApproverID   *uuid.UUID         `gorm:"column:first_approver_id;type:uuid"`
	FirstApprovedAt   *time.Time         `gorm:"column:first_approved_at"`
	FirstApproveNote  *string            `gorm:"column:first_approve_note"`
	SecondApproverID  *uuid.UUID         `gorm:"column:second_approver_id;type:uuid"`
	SecondApprovedAt  *time.Time         `gorm:"column:second_approved_at"`
	SecondApproveNote *string            `gorm:"column:second_approve_note"`
	RejectedBy        *uuid.UUID         `gorm:"column:rejected_by;type:uuid"`
	RejectedAt        *time.Time         `gorm:"column:rejected_at"`
	RejectNote        *string            `gorm:"column:reject_note"`
	ProviderRefundID  *string            `gorm:"column:provider_refund_id"`
	ProcessingAt      *time.Time         `gorm:"column:processing_at"`
	CompletedAt       *time.Time         `gorm:"column:completed_at"`
	FailureReason     *string            `gorm:"column:failure_reason"`
	CreatedAt         time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}
