package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PaystackCustomer maps a provider customer code to a local user.
type PaystackCustomer struct {
	ID           uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	UserID       uuid.UUID `gorm:"column:user_id;type:uuid;not null"`
	CustomerCode string    `gorm:"column:customer_code;not null;uniqueIndex"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (c *PaystackCustomer) BeforeCreate(*gorm.DB) error {
	ensureID(&c.ID)
	return nil
}
