package subscriptions

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/settla/settla-backend/internal/catalog"
	"github.com/settla/settla-backend/pkg/db/models"
	"github.com/settla/settla-backend/pkg/enums"
	pkgerrors "github.com/settla/settla-backend/pkg/errors"
	"gorm.io/gorm"
)

// ActivateParams describes the row Activate inserts.
type ActivateParams struct {
	AgentID                  uuid.UUID
	TierID                   uuid.UUID
	StartDate                time.Time
	EndDate                  *time.Time
	NextPaymentDate          *time.Time
	ManuallyGranted          bool
	ExternalSubscriptionCode *string
	ExternalCustomerCode     *string
	ExternalPlanCode         *string
	EmailToken               *string
}

// AgentTx is the ledger bound to one agent's locked transaction. It is only
// valid inside the WithAgentLock callback that produced it.
type AgentTx struct {
	AgentID uuid.UUID

	tx       *gorm.DB
	repo     Repository
	tiers    catalog.Repository
	freeTier enums.TierName
	now      time.Time
	replaced []models.Subscription
}

// DB exposes the transaction so other ledgers can join it.
func (a *AgentTx) DB() *gorm.DB {
	return a.tx
}

// Now is the instant the unit of work started.
func (a *AgentTx) Now() time.Time {
	return a.now
}

// Active returns the agent's active row or nil.
func (a *AgentTx) Active(ctx context.Context) (*models.Subscription, error) {
	return a.repo.FindActive(ctx, a.AgentID)
}

// Reload re-reads a row inside the lock.
func (a *AgentTx) Reload(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	sub, err := a.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found")
	}
	if err := a.owns(sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// FindByExternalCode re-reads a provider-managed row inside the lock.
func (a *AgentTx) FindByExternalCode(ctx context.Context, code string) (*models.Subscription, error) {
	return a.repo.FindByExternalCode(ctx, code)
}

// FindActiveByPlanCode finds the agent's active row created for planCode.
func (a *AgentTx) FindActiveByPlanCode(ctx context.Context, planCode string) (*models.Subscription, error) {
	return a.repo.FindActiveByPlanCode(ctx, a.AgentID, planCode)
}

// Activate deactivates every active row of the agent and inserts the new one.
func (a *AgentTx) Activate(ctx context.Context, params ActivateParams) (*models.Subscription, error) {
	if params.AgentID != uuid.Nil && params.AgentID != a.AgentID {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "subscription agent does not match locked agent")
	}
	if params.TierID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tier id required")
	}

	current, err := a.repo.ListActive(ctx, a.AgentID)
	if err != nil {
		return nil, err
	}
	for i := range current {
		current[i].IsActive = false
		if err := a.repo.Save(ctx, &current[i]); err != nil {
			return nil, err
		}
		a.replaced = append(a.replaced, current[i])
	}

	start := params.StartDate
	if start.IsZero() {
		start = a.now
	}
	sub := &models.Subscription{
		AgentID:                  a.AgentID,
		TierID:                   params.TierID,
		StartDate:                start,
		EndDate:                  params.EndDate,
		NextPaymentDate:          params.NextPaymentDate,
		IsActive:                 true,
		ManuallyGranted:          params.ManuallyGranted,
		ExternalSubscriptionCode: params.ExternalSubscriptionCode,
		ExternalCustomerCode:     params.ExternalCustomerCode,
		ExternalPlanCode:         params.ExternalPlanCode,
		EmailToken:               params.EmailToken,
	}
	if err := a.repo.Create(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// ActivateFree grants the free tier: manual, open-ended, no provider codes.
func (a *AgentTx) ActivateFree(ctx context.Context) (*models.Subscription, error) {
	tier, err := a.tiers.FindTierByName(ctx, a.freeTier)
	if err != nil {
		return nil, err
	}
	if tier == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, fmt.Sprintf("free tier %q is not in the catalog", a.freeTier))
	}
	return a.Activate(ctx, ActivateParams{
		TierID:          tier.ID,
		StartDate:       a.now,
		ManuallyGranted: true,
	})
}

// Deactivate clears the active flag on sub.
func (a *AgentTx) Deactivate(ctx context.Context, sub *models.Subscription) error {
	if err := a.owns(sub); err != nil {
		return err
	}
	if !sub.IsActive {
		return nil
	}
	sub.IsActive = false
	return a.repo.Save(ctx, sub)
}

// Save writes sub back.
func (a *AgentTx) Save(ctx context.Context, sub *models.Subscription) error {
	if err := a.owns(sub); err != nil {
		return err
	}
	return a.repo.Save(ctx, sub)
}

// Replaced lists the rows Activate switched off during this unit of work.
func (a *AgentTx) Replaced() []models.Subscription {
	out := make([]models.Subscription, len(a.replaced))
	copy(out, a.replaced)
	return out
}

func (a *AgentTx) owns(sub *models.Subscription) error {
	if sub == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "subscription required")
	}
	if sub.AgentID != a.AgentID {
		return pkgerrors.New(pkgerrors.CodeValidation, "subscription belongs to another agent")
	}
	return nil
}
