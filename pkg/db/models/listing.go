package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/settla/settla-backend/pkg/enums"
)

// Listing is a property advertised by an agent.
type Listing struct {
	ID          uuid.UUID        `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	AgentID     uuid.UUID        `gorm:"column:agent_id;type:uuid;not null;index"`
	Title       string           `gorm:"column:title;not null"`
	Description string           `gorm:"column:description"`
	Price       decimal.Decimal  `gorm:"column:price;type:numeric(14,2);not null"`
	Visibility  enums.Visibility `gorm:"column:visibility;type:text;not null"`
	IsFeatured  bool             `gorm:"column:is_featured;not null"`
	CreatedAt   time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}

func (l *Listing) BeforeCreate(*gorm.DB) error {
	ensureID(&l.ID)
	return nil
}
