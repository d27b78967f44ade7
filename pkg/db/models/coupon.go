package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Coupon discounts a subscription checkout. Either PercentOff or AmountOff is
// set, never both.
type Coupon struct {
	ID            uuid.UUID        `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Code          string           `gorm:"column:code;not null;uniqueIndex"`
	PercentOff    *decimal.Decimal `gorm:"column:percent_off;type:numeric(5,2)"`
	AmountOff     *decimal.Decimal `gorm:"column:amount_off;type:numeric(12,2)"`
	Currency      *string          `gorm:"column:currency"`
	ExpiresAt     *time.Time       `gorm:"column:expires_at"`
	MaxRedemption int              `gorm:"column:max_redemptions;not null;default:0"`
	Redeemed      int              `gorm:"column:redeemed;not null;default:0"`
	Active        bool             `gorm:"column:active;not null;default:true"`
	CreatedAt     time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}

// IsRedeemable reports whether the coupon can still be applied at now.
func (c *Coupon) IsRedeemable(now time.Time) bool {
	if !c.Active {
		return false
	}
	if c.ExpiresAt != nil && now.After(*c.ExpiresAt) {
		return false
	}
	if c.MaxRedemption > 0 && c.Redeemed >= c.MaxRedemption {
		return false
	}
	return true
}
