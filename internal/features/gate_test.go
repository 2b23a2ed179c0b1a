package features

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/settla/settla-backend/internal/catalog"
	"github.com/settla/settla-backend/internal/subscriptions"
	"github.com/settla/settla-backend/internal/users"
	"github.com/settla/settla-backend/pkg/config"
	"github.com/settla/settla-backend/pkg/db"
	"github.com/settla/settla-backend/pkg/db/dbtest"
	"github.com/settla/settla-backend/pkg/db/models"
	"github.com/settla/settla-backend/pkg/enums"
	pkgerrors "github.com/settla/settla-backend/pkg/errors"
	"github.com/settla/settla-backend/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type stubCounter struct {
	counts map[uuid.UUID]int64
	err    error
}

func (s *stubCounter) CountByAgent(_ context.Context, agentID uuid.UUID) (int64, error) {
	return s.counts[agentID], s.err
}

type gateFixture struct {
	gate    *Gate
	ledger  *subscriptions.Ledger
	conn    *gorm.DB
	tiers   map[enums.TierName]*models.Tier
	counter *stubCounter
	logs    *bytes.Buffer
}

func newGateFixture(t *testing.T, limits config.TierLimits) *gateFixture {
	t.Helper()
	conn := dbtest.New(t)
	logs := &bytes.Buffer{}
	logg := logger.New(logger.Options{ServiceName: "test", Output: logs})
	tierRepo := catalog.NewRepository(conn)
	ledger, err := subscriptions.NewLedger(subscriptions.LedgerParams{
		TransactionRunner: db.FromGorm(conn),
		Repo:              subscriptions.NewRepository(conn),
		Users:             users.NewRepository(conn),
		Tiers:             tierRepo,
		FreeTier:          "basic",
		Logger:            logg,
	})
	require.NoError(t, err)

	counter := &stubCounter{counts: map[uuid.UUID]int64{}}
	gate, err := NewGate(GateParams{
		Limits:        limits,
		FreeTier:      "basic",
		Subscriptions: ledger,
		Tiers:         tierRepo,
		Listings:      counter,
		Logger:        logg,
	})
	require.NoError(t, err)
	return &gateFixture{
		gate:    gate,
		ledger:  ledger,
		conn:    conn,
		tiers:   dbtest.SeedTiers(t, conn),
		counter: counter,
		logs:    logs,
	}
}

func (f *gateFixture) subscribe(t *testing.T, agentID uuid.UUID, tier enums.TierName) {
	t.Helper()
	_, err := f.ledger.Activate(context.Background(), subscriptions.ActivateParams{AgentID: agentID, TierID: f.tiers[tier].ID})
	require.NoError(t, err)
}

func TestLimitsFor(t *testing.T) {
	f := newGateFixture(t, nil)

	limits, err := f.gate.LimitsFor("Premium")
	require.NoError(t, err)
	assert.Equal(t, Limits{Tier: enums.TierPremium, MaxListings: 30, FeaturedSlots: 2, Visibility: enums.VisibilityMedium}, limits)

	_, err = f.gate.LimitsFor("platinum")
	assert.True(t, errors.Is(err, ErrUnknownTier))
}

func TestListingQuotaFollowsActiveTier(t *testing.T) {
	f := newGateFixture(t, nil)
	ctx := context.Background()
	agent := dbtest.SeedUser(t, f.conn, enums.UserRoleAgent)
	f.counter.counts[agent.ID] = 5

	err := f.gate.AssertListingQuota(ctx, agent.ID)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeQuotaExceeded))
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	details, ok := typed.Details().(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 5, details["limit"])

	f.subscribe(t, agent.ID, enums.TierPremium)
	require.NoError(t, f.gate.AssertListingQuota(ctx, agent.ID))

	f.counter.counts[agent.ID] = 4
	f.subscribe(t, agent.ID, enums.TierBasic)
	require.NoError(t, f.gate.AssertListingQuota(ctx, agent.ID))
}

func TestLimitsForAgentProvisionsFreeTier(t *testing.T) {
	f := newGateFixture(t, nil)
	ctx := context.Background()
	agent := dbtest.SeedUser(t, f.conn, enums.UserRoleAgent)

	limits, err := f.gate.LimitsForAgent(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.TierBasic, limits.Tier)

	active, err := f.ledger.GetActive(ctx, agent.ID)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, f.tiers[enums.TierBasic].ID, active.TierID)
}

func TestFeaturedQuota(t *testing.T) {
	f := newGateFixture(t, nil)
	ctx := context.Background()
	agent := dbtest.SeedUser(t, f.conn, enums.UserRoleAgent)
	f.subscribe(t, agent.ID, enums.TierPremium)

	require.NoError(t, f.gate.AssertFeaturedQuota(ctx, agent.ID, []uuid.UUID{uuid.New(), uuid.New()}))

	err := f.gate.AssertFeaturedQuota(ctx, agent.ID, []uuid.UUID{uuid.New(), uuid.New(), uuid.New()})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeQuotaExceeded))
}

func TestUnknownTierFallsBackToFreeLimits(t *testing.T) {
	limits := config.TierLimits{
		"basic":   {MaxListings: 5, FeaturedSlots: 1, Visibility: enums.VisibilityLow},
		"premium": {MaxListings: 30, FeaturedSlots: 2, Visibility: enums.VisibilityMedium},
	}
	f := newGateFixture(t, limits)
	agent := dbtest.SeedUser(t, f.conn, enums.UserRoleAgent)
	f.subscribe(t, agent.ID, enums.TierEnterprise)

	got, err := f.gate.LimitsForAgent(context.Background(), agent.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.TierBasic, got.Tier)
	assert.Contains(t, f.logs.String(), "features.unknown_tier_fallback")
}

func TestCounterErrorIsDependency(t *testing.T) {
	f := newGateFixture(t, nil)
	agent := dbtest.SeedUser(t, f.conn, enums.UserRoleAgent)
	f.counter.err = errors.New("db down")

	err := f.gate.AssertListingQuota(context.Background(), agent.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))
}

func TestNewGateRejectsFreeTierWithoutLimits(t *testing.T) {
	_, err := NewGate(GateParams{
		Limits:        config.TierLimits{"premium": {MaxListings: 1}},
		FreeTier:      "basic",
		Subscriptions: &subscriptions.Ledger{},
		Tiers:         catalog.NewRepository(nil),
		Listings:      &stubCounter{},
		Logger:        logger.New(logger.Options{ServiceName: "test", Output: &bytes.Buffer{}}),
	})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}
