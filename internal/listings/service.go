package listings

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/settla/settla-backend/internal/features"
	"github.com/settla/settla-backend/pkg/db/models"
	pkgerrors "github.com/settla/settla-backend/pkg/errors"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type gate interface {
	LimitsForAgent(ctx context.Context, agentID uuid.UUID) (features.Limits, error)
	AssertListingQuota(ctx context.Context, agentID uuid.UUID) error
	AssertFeaturedQuota(ctx context.Context, agentID uuid.UUID, listingIDs []uuid.UUID) error
}

// CreateListingInput is the agent payload for a new listing.
type CreateListingInput struct {
	Title       string          `json:"title" validate:"required,max=200"`
	Description string          `json:"description" validate:"max=5000"`
	Price       decimal.Decimal `json:"price"`
}

// SetFeaturedInput replaces the agent's featured set.
type SetFeaturedInput struct {
	ListingIDs []uuid.UUID `json:"listing_ids" validate:"omitempty,dive,required"`
}

// Service is the slice of listing management that depends on billing.
type Service interface {
	Create(ctx context.Context, agentID uuid.UUID, input CreateListingInput) (*models.Listing, error)
	SetFeatured(ctx context.Context, agentID uuid.UUID, input SetFeaturedInput) ([]models.Listing, error)
}

// ServiceParams groups dependencies for the listings service.
type ServiceParams struct {
	Repo              Repository
	Gate              gate
	TransactionRunner txRunner
}

type service struct {
	repo Repository
	gate gate
	tx   txRunner
}

func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "listings repository required")
	}
	if params.Gate == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "feature gate required")
	}
	if params.TransactionRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "transaction runner required")
	}
	return &service{repo: params.Repo, gate: params.Gate, tx: params.TransactionRunner}, nil
}

// Create checks the listing quota and stamps the tier's visibility.
func (s *service) Create(ctx context.Context, agentID uuid.UUID, input CreateListingInput) (*models.Listing, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "title is required")
	}
	if !input.Price.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "price must be positive")
	}
	if err := s.gate.AssertListingQuota(ctx, agentID); err != nil {
		return nil, err
	}
	limits, err := s.gate.LimitsForAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}

	listing := &models.Listing{
		AgentID:     agentID,
		Title:       title,
		Description: strings.TrimSpace(input.Description),
		Price:       input.Price,
		Visibility:  limits.Visibility,
	}
	if err := s.repo.Create(ctx, listing); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create listing")
	}
	return listing, nil
}

// SetFeatured makes exactly the given listings featured.
func (s *service) SetFeatured(ctx context.Context, agentID uuid.UUID, input SetFeaturedInput) ([]models.Listing, error) {
	ids := dedupe(input.ListingIDs)
	if err := s.gate.AssertFeaturedQuota(ctx, agentID, ids); err != nil {
		return nil, err
	}

	var featured []models.Listing
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		owned, err := repo.CountOwned(ctx, agentID, ids)
		if err != nil {
			return err
		}
		if owned != int64(len(ids)) {
			return pkgerrors.New(pkgerrors.CodeForbidden, "listings must belong to the agent")
		}
		if err := repo.ReplaceFeatured(ctx, agentID, ids); err != nil {
			return err
		}
		featured, err = repo.ListFeatured(ctx, agentID)
		return err
	})
	if err != nil {
		if pkgerrors.As(err) != nil {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "set featured listings")
	}
	return featured, nil
}

func dedupe(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if id == uuid.Nil {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
