package billing

import (
	"time"

	"github.com/google/uuid"
	"github.com/settla/settla-backend/internal/features"
	"github.com/settla/settla-backend/pkg/db/models"
	"github.com/settla/settla-backend/pkg/enums"
	"github.com/shopspring/decimal"
)

// Actor is the authenticated caller of a billing operation.
type Actor struct {
	ID   uuid.UUID
	Role enums.UserRole
}

func (a Actor) category() enums.ActivityCategory {
	if a.Role == enums.UserRoleAdmin {
		return enums.ActivityCategoryAdminAction
	}
	return enums.ActivityCategoryUserAction
}

// SubscriptionView is the agent-facing shape of the active subscription.
type SubscriptionView struct {
	ID                 uuid.UUID       `json:"id"`
	TierID             uuid.UUID       `json:"tier_id"`
	TierName           enums.TierName  `json:"tier_name"`
	StartDate          time.Time       `json:"start_date"`
	EndDate            *time.Time      `json:"end_date,omitempty"`
	NextPaymentDate    *time.Time      `json:"next_payment_date,omitempty"`
	GracePeriodEndDate *time.Time      `json:"grace_period_end_date,omitempty"`
	ManuallyGranted    bool            `json:"manually_granted"`
	ProviderManaged    bool            `json:"provider_managed"`
	Limits             features.Limits `json:"limits"`
}

func newSubscriptionView(sub *models.Subscription, tier *models.Tier, limits features.Limits) SubscriptionView {
	view := SubscriptionView{
		ID:                 sub.ID,
		TierID:             sub.TierID,
		StartDate:          sub.StartDate,
		EndDate:            sub.EndDate,
		NextPaymentDate:    sub.NextPaymentDate,
		GracePeriodEndDate: sub.GracePeriodEndDate,
		ManuallyGranted:    sub.ManuallyGranted,
		ProviderManaged:    sub.ProviderManaged(),
		Limits:             limits,
	}
	if tier != nil {
		view.TierName = tier.Name
	}
	return view
}

// ChangeTierInput is the admin request to grant a tier by hand.
type ChangeTierInput struct {
	TierName string `json:"tier_name" validate:"required"`
	Duration string `json:"duration" validate:"omitempty,oneof=MONTHLY YEARLY monthly yearly"`
}

// UpdatePaymentInput settles a pending payment.
type UpdatePaymentInput struct {
	Status string `json:"status" validate:"required"`
}

// ManualPaymentInput records money collected outside Paystack.
type ManualPaymentInput struct {
	UserID    uuid.UUID       `json:"user_id" validate:"required"`
	TierID    *uuid.UUID      `json:"tier_id"`
	Reference string          `json:"reference" validate:"required,max=100"`
	Amount    decimal.Decimal `json:"amount"`
	Purpose   string          `json:"purpose" validate:"required"`
	Status    string          `json:"status" validate:"required"`
	Duration  string          `json:"duration" validate:"omitempty,oneof=MONTHLY YEARLY monthly yearly"`
}

// ManualPaymentResult is the recorded payment and, for subscription grants,
// the new active subscription.
type ManualPaymentResult struct {
	Payment      *models.Payment      `json:"payment"`
	Subscription *models.Subscription `json:"subscription,omitempty"`
}

// PaymentFilter narrows payment listings. Empty strings and "all" match
// everything.
type PaymentFilter struct {
	UserID   *uuid.UUID
	Status   string
	Provider string
	Purpose  string
	Limit    int
	Cursor   string
}
