package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/settla/settla-backend/pkg/enums"
)

// Payment is one payment attempt. The reference is globally unique.
type Payment struct {
	ID             uuid.UUID             `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	UserID         uuid.UUID             `gorm:"column:user_id;type:uuid;not null;index"`
	SubscriptionID *uuid.UUID            `gorm:"column:subscription_id;type:uuid"`
	Reference      string                `gorm:"column:reference;not null;uniqueIndex"`
	Amount         decimal.Decimal       `gorm:"column:amount;type:numeric(12,2);not null"`
	Currency       string                `gorm:"column:currency;not null"`
	Provider       enums.PaymentProvider `gorm:"column:provider;type:text;not null"`
	Purpose        enums.PaymentPurpose  `gorm:"column:purpose;type:text;not null"`
	Status         enums.PaymentStatus   `gorm:"column:status;type:text;not null"`
	CreatedAt      time.Time             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time             `gorm:"column:updated_at;autoUpdateTime"`
}

func (p *Payment) BeforeCreate(*gorm.DB) error {
	ensureID(&p.ID)
	return nil
}
