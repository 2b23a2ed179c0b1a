package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/settla/settla-backend/pkg/enums"
)

// ActivityLog is an append-only audit entry.
type ActivityLog struct {
	ID          uuid.UUID              `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	Category    enums.ActivityCategory `gorm:"column:category;type:text;not null"`
	Action      enums.ActivityAction   `gorm:"column:action;type:text;not null"`
	Description string                 `gorm:"column:description;not null"`
	ActorID     *uuid.UUID             `gorm:"column:actor_id;type:uuid"`
	Metadata    json.RawMessage        `gorm:"column:metadata;type:jsonb"`
	CreatedAt   time.Time              `gorm:"column:created_at;autoCreateTime"`
}

func (a *ActivityLog) BeforeCreate(*gorm.DB) error {
	ensureID(&a.ID)
	return nil
}
