package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/settla/settla-backend/pkg/enums"
)

// Tier is a named subscription level. Limits are resolved from configuration
// by name, so only descriptive attributes live here.
type Tier struct {
	ID          uuid.UUID      `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	Name        enums.TierName `gorm:"column:name;type:text;not null;uniqueIndex"`
	Rank        int            `gorm:"column:rank;not null;default:0"`
	Description string         `gorm:"column:description"`
	Plans       []Plan         `gorm:"foreignKey:TierID"`
	CreatedAt   time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time      `gorm:"column:updated_at;autoUpdateTime"`
}

func (t *Tier) BeforeCreate(*gorm.DB) error {
	ensureID(&t.ID)
	return nil
}
