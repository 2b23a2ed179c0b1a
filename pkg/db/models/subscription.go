package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Subscription is one agent's entitlement to a tier for a period. Rows are
// never deleted; at most one row per agent has IsActive set.
type Subscription struct {
	ID                       uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	AgentID                  uuid.UUID  `gorm:"column:agent_id;type:uuid;not null;index"`
	TierID                   uuid.UUID  `gorm:"column:tier_id;type:uuid;not null"`
	StartDate                time.Time  `gorm:"column:start_date;not null"`
	EndDate                  *time.Time `gorm:"column:end_date"`
	NextPaymentDate          *time.Time `gorm:"column:next_payment_date"`
	IsActive                 bool       `gorm:"column:is_active;not null"`
	GracePeriodEndDate       *time.Time `gorm:"column:grace_period_end_date"`
	ManuallyGranted          bool       `gorm:"column:manually_granted;not null"`
	ExternalSubscriptionCode *string    `gorm:"column:external_subscription_code"`
	ExternalCustomerCode     *string    `gorm:"column:external_customer_code"`
	ExternalPlanCode         *string    `gorm:"column:external_plan_code"`
	EmailToken               *string    `gorm:"column:email_token"`
	CreatedAt                time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt                time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (s *Subscription) BeforeCreate(*gorm.DB) error {
	ensureID(&s.ID)
	return nil
}

// ProviderManaged reports whether the provider can be asked to disable the row.
func (s *Subscription) ProviderManaged() bool {
	return s.ExternalSubscriptionCode != nil && *s.ExternalSubscriptionCode != "" &&
		s.EmailToken != nil && *s.EmailToken != ""
}

// DueForExpiry reports whether the grace period or the paid period has lapsed.
func (s *Subscription) DueForExpiry(now time.Time) bool {
	if !s.IsActive {
		return false
	}
	if s.GracePeriodEndDate != nil && !s.GracePeriodEndDate.After(now) {
		return true
	}
	return s.EndDate != nil && !s.EndDate.After(now)
}
