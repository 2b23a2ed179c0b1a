package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/settla/settla-backend/internal/activity"
	"github.com/settla/settla-backend/pkg/config"
	"github.com/settla/settla-backend/pkg/db"
	"github.com/settla/settla-backend/pkg/db/models"
	"github.com/settla/settla-backend/pkg/enums"
	pkgerrors "github.com/settla/settla-backend/pkg/errors"
	"gorm.io/gorm"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service is the plan catalog.
type Service interface {
	ListTiers(ctx context.Context) ([]TierView, error)
	TierByID(ctx context.Context, id uuid.UUID) (*models.Tier, error)
	TierByName(ctx context.Context, name enums.TierName) (*models.Tier, error)
	PlanFor(ctx context.Context, tierID uuid.UUID, duration enums.BillingDuration) (*models.Plan, error)
	CreateTier(ctx context.Context, actorID uuid.UUID, input CreateTierInput) (*TierView, error)
	UpdateTier(ctx context.Context, actorID, tierID uuid.UUID, input UpdateTierInput) (*TierView, error)
	DeleteTier(ctx context.Context, actorID, tierID uuid.UUID) error
}

// ServiceParams groups dependencies for the catalog service.
type ServiceParams struct {
	Repo              Repository
	TransactionRunner txRunner
	Activity          activity.Recorder
	Limits            config.TierLimits
	Currency          string
}

type service struct {
	repo     Repository
	tx       txRunner
	activity activity.Recorder
	limits   config.TierLimits
	currency string
}

// NewService builds the catalog service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "catalog repository required")
	}
	if params.TransactionRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "transaction runner required")
	}
	if params.Activity == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "activity recorder required")
	}
	limits := params.Limits
	if len(limits) == 0 {
		limits = config.DefaultTierLimits()
	}
	currency := strings.ToUpper(strings.TrimSpace(params.Currency))
	if currency == "" {
		currency = "NGN"
	}
	return &service{
		repo:     params.Repo,
		tx:       params.TransactionRunner,
		activity: params.Activity,
		limits:   limits,
		currency: currency,
	}, nil
}

func (s *service) ListTiers(ctx context.Context) ([]TierView, error) {
	tiers, err := s.repo.ListTiers(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list tiers")
	}
	views := make([]TierView, 0, len(tiers))
	for i := range tiers {
		views = append(views, s.view(&tiers[i]))
	}
	return views, nil
}

func (s *service) TierByID(ctx context.Context, id uuid.UUID) (*models.Tier, error) {
	tier, err := s.repo.FindTierByID(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load tier")
	}
	if tier == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "tier not found")
	}
	return tier, nil
}

func (s *service) TierByName(ctx context.Context, name enums.TierName) (*models.Tier, error) {
	tier, err := s.repo.FindTierByName(ctx, name)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load tier")
	}
	if tier == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("tier %q not found", name))
	}
	return tier, nil
}

func (s *service) PlanFor(ctx context.Context, tierID uuid.UUID, duration enums.BillingDuration) (*models.Plan, error) {
	if !duration.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid billing duration")
	}
	plan, err := s.repo.FindPlan(ctx, tierID, duration)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load plan")
	}
	if plan == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "plan not found")
	}
	return plan, nil
}

func (s *service) CreateTier(ctx context.Context, actorID uuid.UUID, input CreateTierInput) (*TierView, error) {
	name, err := enums.ParseTierName(input.Name)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid tier name")
	}
	if err := validatePlans(input.Plans, true); err != nil {
		return nil, err
	}

	tier := &models.Tier{
		Name:        name,
		Rank:        input.Rank,
		Description: strings.TrimSpace(input.Description),
	}
	for _, p := range input.Plans {
		tier.Plans = append(tier.Plans, models.Plan{
			Duration:         p.Duration,
			Price:            p.Price,
			Currency:         s.currency,
			ExternalPlanCode: normalizeCode(p.ExternalPlanCode),
		})
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return s.repo.WithTx(tx).CreateTier(ctx, tier)
	})
	if err != nil {
		if db.IsUniqueViolation(err, "") {
			return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "tier or plan code already exists")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create tier")
	}

	s.activity.Record(ctx, activity.Entry{
		Category:    enums.ActivityCategoryAdminAction,
		Action:      enums.ActivityAdminCreateTier,
		Description: fmt.Sprintf("created tier %s", tier.Name),
		ActorID:     &actorID,
		Metadata:    map[string]any{"tier_id": tier.ID.String()},
	})
	view := s.view(tier)
	return &view, nil
}

func (s *service) UpdateTier(ctx context.Context, actorID, tierID uuid.UUID, input UpdateTierInput) (*TierView, error) {
	if err := validatePlans(input.Plans, false); err != nil {
		return nil, err
	}

	var updated *models.Tier
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		tier, err := repo.FindTierByID(ctx, tierID)
		if err != nil {
			return err
		}
		if tier == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "tier not found")
		}
		if input.Rank != nil {
			tier.Rank = *input.Rank
		}
		if input.Description != nil {
			tier.Description = strings.TrimSpace(*input.Description)
		}
		if err := repo.SaveTier(ctx, tier); err != nil {
			return err
		}
		for _, p := range input.Plans {
			plan, err := repo.FindPlan(ctx, tier.ID, p.Duration)
			if err != nil {
				return err
			}
			if plan == nil {
				plan = &models.Plan{TierID: tier.ID, Duration: p.Duration, Currency: s.currency}
			}
			plan.Price = p.Price
			plan.ExternalPlanCode = normalizeCode(p.ExternalPlanCode)
			if err := repo.SavePlan(ctx, plan); err != nil {
				return err
			}
		}
		updated, err = repo.FindTierByID(ctx, tier.ID)
		return err
	})
	if err != nil {
		if pkgerrors.As(err) != nil {
			return nil, err
		}
		if db.IsUniqueViolation(err, "") {
			return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "plan code already in use")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update tier")
	}

	s.activity.Record(ctx, activity.Entry{
		Category:    enums.ActivityCategoryAdminAction,
		Action:      enums.ActivityAdminUpdateTier,
		Description: fmt.Sprintf("updated tier %s", updated.Name),
		ActorID:     &actorID,
		Metadata:    map[string]any{"tier_id": updated.ID.String()},
	})
	view := s.view(updated)
	return &view, nil
}

func (s *service) DeleteTier(ctx context.Context, actorID, tierID uuid.UUID) error {
	var name enums.TierName
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		tier, err := repo.FindTierByID(ctx, tierID)
		if err != nil {
			return err
		}
		if tier == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "tier not found")
		}
		refs, err := repo.CountSubscriptions(ctx, tier.ID)
		if err != nil {
			return err
		}
		if refs > 0 {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "tier is referenced by subscriptions").
				WithDetails(map[string]any{"subscriptions": refs})
		}
		name = tier.Name
		return repo.DeleteTier(ctx, tier.ID)
	})
	if err != nil {
		if pkgerrors.As(err) != nil {
			return err
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete tier")
	}

	s.activity.Record(ctx, activity.Entry{
		Category:    enums.ActivityCategoryAdminAction,
		Action:      enums.ActivityAdminDeleteTier,
		Description: fmt.Sprintf("deleted tier %s", name),
		ActorID:     &actorID,
		Metadata:    map[string]any{"tier_id": tierID.String()},
	})
	return nil
}

func validatePlans(plans []PlanInput, requireBoth bool) error {
	seen := map[enums.BillingDuration]bool{}
	for _, p := range plans {
		if !p.Duration.IsValid() {
			return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid billing duration %q", p.Duration))
		}
		if seen[p.Duration] {
			return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("duplicate %s plan", p.Duration))
		}
		if p.Price.IsNegative() {
			return pkgerrors.New(pkgerrors.CodeValidation, "plan price must not be negative")
		}
		seen[p.Duration] = true
	}
	if requireBoth && (!seen[enums.BillingDurationMonthly] || !seen[enums.BillingDurationYearly]) {
		return pkgerrors.New(pkgerrors.CodeValidation, "monthly and yearly plans are required")
	}
	return nil
}

func normalizeCode(code *string) *string {
	if code == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*code)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
