package features

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/settla/settla-backend/pkg/config"
	"github.com/settla/settla-backend/pkg/db/models"
	"github.com/settla/settla-backend/pkg/enums"
	pkgerrors "github.com/settla/settla-backend/pkg/errors"
	"github.com/settla/settla-backend/pkg/logger"
)

// ErrUnknownTier is returned for tier names outside the limits table.
var ErrUnknownTier = errors.New("unknown tier")

// Limits are the entitlements of one tier.
type Limits struct {
	Tier          enums.TierName   `json:"tier"`
	MaxListings   int              `json:"max_listings"`
	FeaturedSlots int              `json:"featured_slots"`
	Visibility    enums.Visibility `json:"visibility"`
}

type activeResolver interface {
	GetOrProvisionActive(ctx context.Context, agentID uuid.UUID) (*models.Subscription, error)
}

type tierLookup interface {
	FindTierByID(ctx context.Context, id uuid.UUID) (*models.Tier, error)
}

// ListingCounter counts an agent's listings.
type ListingCounter interface {
	CountByAgent(ctx context.Context, agentID uuid.UUID) (int64, error)
}

// GateParams groups dependencies for the feature gate.
type GateParams struct {
	Limits        config.TierLimits
	FreeTier      string
	Subscriptions activeResolver
	Tiers         tierLookup
	Listings      ListingCounter
	Logger        *logger.Logger
}

// Gate answers what an agent's current tier allows.
type Gate struct {
	limits   config.TierLimits
	freeTier enums.TierName
	subs     activeResolver
	tiers    tierLookup
	listings ListingCounter
	logg     *logger.Logger
}

func NewGate(params GateParams) (*Gate, error) {
	if params.Subscriptions == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "subscription ledger required")
	}
	if params.Tiers == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "tier lookup required")
	}
	if params.Listings == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "listing counter required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "logger required")
	}
	limits := params.Limits
	if len(limits) == 0 {
		limits = config.DefaultTierLimits()
	}
	freeTier := enums.TierName(strings.ToLower(strings.TrimSpace(params.FreeTier)))
	if freeTier == "" {
		freeTier = enums.TierBasic
	}
	if _, ok := limits[string(freeTier)]; !ok {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("free tier %q has no limits", freeTier))
	}
	return &Gate{
		limits:   limits,
		freeTier: freeTier,
		subs:     params.Subscriptions,
		tiers:    params.Tiers,
		listings: params.Listings,
		logg:     params.Logger,
	}, nil
}

// LimitsFor looks up a tier by name.
func (g *Gate) LimitsFor(name string) (Limits, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	limit, ok := g.limits[key]
	if !ok {
		return Limits{}, fmt.Errorf("%w: %q", ErrUnknownTier, name)
	}
	return Limits{
		Tier:          enums.TierName(key),
		MaxListings:   limit.MaxListings,
		FeaturedSlots: limit.FeaturedSlots,
		Visibility:    limit.Visibility,
	}, nil
}

// LimitsForAgent resolves the agent's active tier, provisioning the free tier
// when needed. Tiers missing from the table get the free tier's limits.
func (g *Gate) LimitsForAgent(ctx context.Context, agentID uuid.UUID) (Limits, error) {
	sub, err := g.subs.GetOrProvisionActive(ctx, agentID)
	if err != nil {
		return Limits{}, err
	}
	tier, err := g.tiers.FindTierByID(ctx, sub.TierID)
	if err != nil {
		return Limits{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load tier")
	}
	name := ""
	if tier != nil {
		name = string(tier.Name)
	}
	limits, err := g.LimitsFor(name)
	if err != nil {
		g.logg.Warn(g.logg.WithFields(ctx, map[string]any{
			"agent_id": agentID.String(),
			"tier":     name,
		}), "features.unknown_tier_fallback")
		return g.LimitsFor(string(g.freeTier))
	}
	return limits, nil
}

// AssertListingQuota fails once the agent is at its listing limit.
func (g *Gate) AssertListingQuota(ctx context.Context, agentID uuid.UUID) error {
	limits, err := g.LimitsForAgent(ctx, agentID)
	if err != nil {
		return err
	}
	count, err := g.listings.CountByAgent(ctx, agentID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count listings")
	}
	if count >= int64(limits.MaxListings) {
		return pkgerrors.New(pkgerrors.CodeQuotaExceeded,
			fmt.Sprintf("listing limit of %d reached for the %s tier", limits.MaxListings, limits.Tier)).
			WithDetails(map[string]any{
				"tier":    limits.Tier,
				"limit":   limits.MaxListings,
				"current": count,
			})
	}
	return nil
}

// AssertFeaturedQuota fails when more listings are requested as featured
// than the tier allows.
func (g *Gate) AssertFeaturedQuota(ctx context.Context, agentID uuid.UUID, listingIDs []uuid.UUID) error {
	limits, err := g.LimitsForAgent(ctx, agentID)
	if err != nil {
		return err
	}
	if len(listingIDs) > limits.FeaturedSlots {
		return pkgerrors.New(pkgerrors.CodeQuotaExceeded,
			fmt.Sprintf("the %s tier allows %d featured listings", limits.Tier, limits.FeaturedSlots)).
			WithDetails(map[string]any{
				"tier":      limits.Tier,
				"limit":     limits.FeaturedSlots,
				"requested": len(listingIDs),
			})
	}
	return nil
}
