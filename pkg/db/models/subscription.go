package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/vidorahq/vidora-billing/pkg/enums"
)

// Subscription links a user to a plan and mirrors the provider's billing
// cycle. Rows are never deleted; status moves to canceled or expired instead.
type Subscription struct {
	ID                     uuid.UUID                `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID                 uuid.UUID                `gorm:"column:user_id;type:uuid;not null;index"`
	PlanID                 uuid.UUID                `gorm:"column:plan_id;type:uuid;not null"`
	Provider               enums.Provider           `gorm:"column:provider;type:provider;not null"`
	ProviderSubscriptionID *string                  `gorm:"column:provider_subscription_id;uniqueIndex"`
	Status                 enums.SubscriptionStatus `gorm:"column:status;type:subscription_status;not null;default:'active'"`
	CurrentPeriodStart     time.Time                `gorm:"column:current_period_start;not null"`
	CurrentPeriodEnd       time.Time                `gorm:"column:current_period_end;not null"`
	AutoRenew              bool                     `gorm:"column:auto_renew;not null;default:true"`
	PaymentMethodID        *uuid.UUID               `gorm:"column:payment_method_id;type:uuid"`
	TrialEnd               *time.Time               `gorm:"column:trial_end"`
	CanceledAt             *time.Time               `gorm:"column:canceled_at"`
	Metadata               json.RawMessage          `gorm:"column:metadata;type:jsonb"`
	CreatedAt              time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt              time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}

// HasProviderRecord reports whether the subscription exists on the gateway
// side. Locally-created rows (manual grants) have no provider identifier and
// are canceled locally only.
func (s *Subscription) HasProviderRecord() bool {
	return s.ProviderSubscriptionID != nil && *s.ProviderSubscriptionID != ""
}
