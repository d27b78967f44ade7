package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	dbtypes "github.com/vidorahq/vidora-billing/pkg/db/types"
	"github.com/vidorahq/vidora-billing/pkg/enums"
)

// SubscriptionPlan is the sellable catalog entry. Once a live subscription
// references a plan, everything except the status toggle is immutable.
type SubscriptionPlan struct {
	ID               uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Code             string              `gorm:"column:code;not null;uniqueIndex"`
	Name             string              `gorm:"column:name;not null"`
	Status           enums.PlanStatus    `gorm:"column:status;type:plan_status;not null;default:'active'"`
	Period           enums.BillingPeriod `gorm:"column:period;type:billing_period;not null"`
	Prices           dbtypes.PriceTable  `gorm:"column:prices;type:jsonb;not null"`
	TrialDays        int                 `gorm:"column:trial_days;not null;default:0"`
	Features         pq.StringArray      `gorm:"column:features;type:text[];default:ARRAY[]::text[]"`
	ProviderPriceRef string              `gorm:"column:provider_price_ref"`
	CreatedAt        time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

// IsActive reports whether the plan can currently be sold.
func (p *SubscriptionPlan) IsActive() bool {
	return p.Status == enums.PlanStatusActive
}
