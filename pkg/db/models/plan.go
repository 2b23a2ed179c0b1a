package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/settla/settla-backend/pkg/enums"
)

// Plan is a purchasable (tier, duration) pair.
type Plan struct {
	ID               uuid.UUID             `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	TierID           uuid.UUID             `gorm:"column:tier_id;type:uuid;not null"`
	Duration         enums.BillingDuration `gorm:"column:duration;type:text;not null"`
	Price            decimal.Decimal       `gorm:"column:price;type:numeric(12,2);not null"`
	Currency         string                `gorm:"column:currency;not null"`
	ExternalPlanCode *string               `gorm:"column:external_plan_code"`
	CreatedAt        time.Time             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time             `gorm:"column:updated_at;autoUpdateTime"`
}

func (p *Plan) BeforeCreate(*gorm.DB) error {
	ensureID(&p.ID)
	return nil
}
