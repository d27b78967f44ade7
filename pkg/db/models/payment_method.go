package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/vidorahq/vidora-billing/pkg/enums"
)

// PaymentMethod is a tokenized reference to a user's payment instrument.
// Only provider tokens and masked metadata are stored, never raw numbers.
type PaymentMethod struct {
	ID            uuid.UUID               `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID        uuid.UUID               `gorm:"column:user_id;type:uuid;not null;index"`
	Provider      enums.Provider          `gorm:"column:provider;type:provider;not null"`
	ProviderToken string                  `gorm:"column:provider_token;not null;unique"`
	Type          enums.PaymentMethodType `gorm:"column:type;type:payment_method_type;not null;default:'card'"`
	CardBrand     *string                 `gorm:"column:card_brand"`
	CardLast4     *string                 `gorm:"column:card_last4"`
	CardExpMonth  *int                    `gorm:"column:card_exp_month"`
	CardExpYear   *int                    `gorm:"column:card_exp_year"`
	IsDefault     bool                    `gorm:"column:is_default;not null;default:false"`
	Metadata      json.RawMessage         `gorm:"column:metadata;type:jsonb"`
	CreatedAt     time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time               `gorm:"column:updated_at;autoUpdateTime"`
}
