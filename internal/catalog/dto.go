package catalog

import (
	"github.com/google/uuid"
	"github.com/settla/settla-backend/pkg/config"
	"github.com/settla/settla-backend/pkg/db/models"
	"github.com/settla/settla-backend/pkg/enums"
	"github.com/shopspring/decimal"
)

// PlanInput describes one plan inside a tier write.
type PlanInput struct {
	Duration         enums.BillingDuration `json:"duration" validate:"required,oneof=MONTHLY YEARLY"`
	Price            decimal.Decimal       `json:"price"`
	ExternalPlanCode *string               `json:"external_plan_code,omitempty"`
}

// CreateTierInput is the admin payload for a new tier.
type CreateTierInput struct {
	Name        string      `json:"name" validate:"required"`
	Rank        int         `json:"rank" validate:"gte=0"`
	Description string      `json:"description"`
	Plans       []PlanInput `json:"plans" validate:"required,len=2,dive"`
}

// UpdateTierInput patches a tier. Nil fields are left alone.
type UpdateTierInput struct {
	Rank        *int        `json:"rank,omitempty" validate:"omitempty,gte=0"`
	Description *string     `json:"description,omitempty"`
	Plans       []PlanInput `json:"plans,omitempty" validate:"omitempty,max=2,dive"`
}

// PlanView is the public plan shape.
type PlanView struct {
	ID               uuid.UUID             `json:"id"`
	Duration         enums.BillingDuration `json:"duration"`
	Price            decimal.Decimal       `json:"price"`
	Currency         string                `json:"currency"`
	ExternalPlanCode *string               `json:"external_plan_code,omitempty"`
}

// TierView is a tier with its plans and entitlements.
type TierView struct {
	ID          uuid.UUID        `json:"id"`
	Name        enums.TierName   `json:"name"`
	Rank        int              `json:"rank"`
	Description string           `json:"description"`
	Plans       []PlanView       `json:"plans"`
	Limits      config.TierLimit `json:"limits"`
}

func (s *service) view(tier *models.Tier) TierView {
	limits, ok := s.limits[string(tier.Name)]
	if !ok {
		limits = s.limits[string(enums.TierBasic)]
	}
	plans := make([]PlanView, 0, len(tier.Plans))
	for _, p := range tier.Plans {
		plans = append(plans, PlanView{
			ID:               p.ID,
			Duration:         p.Duration,
			Price:            p.Price,
			Currency:         p.Currency,
			ExternalPlanCode: p.ExternalPlanCode,
		})
	}
	return TierView{
		ID:          tier.ID,
		Name:        tier.Name,
		Rank:        tier.Rank,
		Description: tier.Description,
		Plans:       plans,
		Limits:      limits,
	}
}
