package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/vidorahq/vidora-billing/pkg/enums"
)

// BillingCustomer maps a local user to the customer record held by one
// provider. Created lazily the first time the lifecycle manager needs it.
type BillingCustomer struct {
	ID          uuid.UUID      `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID      uuid.UUID      `gorm:"column:user_id;type:uuid;not null;uniqueIndex:idx_billing_customers_user_provider"`
	Provider    enums.Provider `gorm:"column:provider;type:provider;not null;uniqueIndex:idx_billing_customers_user_provider"`
	CustomerRef string         `gorm:"column:customer_ref;not null"`
	CreatedAt   time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time      `gorm:"column:updated_at;autoUpdateTime"`
}
