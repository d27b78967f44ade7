package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vidorahq/vidora-billing/pkg/enums"
)

// InvoiceLine is one billed line item, denormalized into the invoice row so
// the document stays reproducible even if the catalog changes.
type InvoiceLine struct {
	Description string          `json:"description"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Total       decimal.Decimal `json:"total"`
}

// Invoice is the billing document generated from a succeeded Payment.
type Invoice struct {
	ID           uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	PaymentID    uuid.UUID           `gorm:"column:payment_id;type:uuid;not null;uniqueIndex"`
	UserID       uuid.UUID           `gorm:"column:user_id;type:uuid;not null;index"`
	Number       string              `gorm:"column:number;not null;uniqueIndex"`
	Lines        json.RawMessage     `gorm:"column:lines;type:jsonb;not null"`
	Subtotal     decimal.Decimal     `gorm:"column:subtotal;type:numeric(12,2);not null"`
	Total        decimal.Decimal     `gorm:"column:total;type:numeric(12,2);not null"`
	Currency     string              `gorm:"column:currency;not null"`
	Status       enums.InvoiceStatus `gorm:"column:status;type:invoice_status;not null;default:'draft'"`
	DocumentPath *string             `gorm:"column:document_path"`
	IssuedAt     *time.Time          `gorm:"column:issued_at"`
	CreatedAt    time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}
