package models

import (
	"time"

	"github.com/google/uuid"
)

// User is the minimal local account row the billing core needs: an identity
// to hang payments off and an email for provider customer creation. Account
// management proper lives in another service.
type User struct {
	ID          uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Email       string    `gorm:"column:email;not null;uniqueIndex"`
	DisplayName string    `gorm:"column:display_name"`
	IsStaff     bool      `gorm:"column:is_staff;not null;default:false"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
