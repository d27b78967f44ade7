package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/vidorahq/vidora-billing/pkg/enums"
)

// WebhookEvent is the durable idempotency record for provider notifications.
// The unique (provider, provider_event_id) index makes replays no-ops even
// when the Redis fast-path guard has expired.
type WebhookEvent struct {
	ID              uuid.UUID       `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Provider        enums.Provider  `gorm:"column:provider;type:provider;not null;uniqueIndex:idx_webhook_events_provider_event"`
	ProviderEventID string          `gorm:"column:provider_event_id;not null;uniqueIndex:idx_webhook_events_provider_event"`
	EventType       string          `gorm:"column:event_type;not null"`
	Payload         json.RawMessage `gorm:"column:payload;type:jsonb"`
	ProcessedAt     time.Time       `gorm:"column:processed_at;not null"`
	CreatedAt       time.Time       `gorm:"column:created_at;autoCreateTime"`
}
