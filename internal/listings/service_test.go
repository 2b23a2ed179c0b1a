package listings

import (
	"bytes"
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/settla/settla-backend/internal/catalog"
	"github.com/settla/settla-backend/internal/features"
	"github.com/settla/settla-backend/internal/subscriptions"
	"github.com/settla/settla-backend/internal/users"
	"github.com/settla/settla-backend/pkg/db"
	"github.com/settla/settla-backend/pkg/db/dbtest"
	"github.com/settla/settla-backend/pkg/db/models"
	"github.com/settla/settla-backend/pkg/enums"
	pkgerrors "github.com/settla/settla-backend/pkg/errors"
	"github.com/settla/settla-backend/pkg/logger"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type listingsFixture struct {
	svc    Service
	repo   Repository
	ledger *subscriptions.Ledger
	conn   *gorm.DB
	tiers  map[enums.TierName]*models.Tier
}

func newListingsFixture(t *testing.T) *listingsFixture {
	t.Helper()
	conn := dbtest.New(t)
	logg := logger.New(logger.Options{ServiceName: "test", Output: &bytes.Buffer{}})
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

	repo := NewRepository(conn)
	gate, err := features.NewGate(features.GateParams{
		FreeTier:      "basic",
		Subscriptions: ledger,
		Tiers:         tierRepo,
		Listings:      repo,
		Logger:        logg,
	})
	require.NoError(t, err)

	svc, err := NewService(ServiceParams{Repo: repo, Gate: gate, TransactionRunner: db.FromGorm(conn)})
	require.NoError(t, err)
	return &listingsFixture{svc: svc, repo: repo, ledger: ledger, conn: conn, tiers: dbtest.SeedTiers(t, conn)}
}

func (f *listingsFixture) create(t *testing.T, agentID uuid.UUID, n int) []models.Listing {
	t.Helper()
	out := make([]models.Listing, 0, n)
	for i := 0; i < n; i++ {
		listing, err := f.svc.Create(context.Background(), agentID, CreateListingInput{
			Title: "Flat in Yaba",
			Price: decimal.NewFromInt(1_500_000),
		})
		require.NoError(t, err)
		out = append(out, *listing)
	}
	return out
}

func TestCreateEnforcesTierQuota(t *testing.T) {
	f := newListingsFixture(t)
	ctx := context.Background()
	agent := dbtest.SeedUser(t, f.conn, enums.UserRoleAgent)

	created := f.create(t, agent.ID, 5)
	assert.Equal(t, enums.VisibilityLow, created[0].Visibility)

	_, err := f.svc.Create(ctx, agent.ID, CreateListingInput{Title: "One more", Price: decimal.NewFromInt(10)})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeQuotaExceeded))

	_, err = f.ledger.Activate(ctx, subscriptions.ActivateParams{AgentID: agent.ID, TierID: f.tiers[enums.TierPremium].ID})
	require.NoError(t, err)

	listing, err := f.svc.Create(ctx, agent.ID, CreateListingInput{Title: "One more", Price: decimal.NewFromInt(10)})
	require.NoError(t, err)
	assert.Equal(t, enums.VisibilityMedium, listing.Visibility)

	count, err := f.repo.CountByAgent(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(6), count)
}

func TestCreateValidatesInput(t *testing.T) {
	f := newListingsFixture(t)
	agent := dbtest.SeedUser(t, f.conn, enums.UserRoleAgent)

	_, err := f.svc.Create(context.Background(), agent.ID, CreateListingInput{Title: "  ", Price: decimal.NewFromInt(10)})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = f.svc.Create(context.Background(), agent.ID, CreateListingInput{Title: "Duplex", Price: decimal.Zero})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestSetFeaturedReplacesSet(t *testing.T) {
	f := newListingsFixture(t)
	ctx := context.Background()
	agent := dbtest.SeedUser(t, f.conn, enums.UserRoleAgent)
	_, err := f.ledger.Activate(ctx, subscriptions.ActivateParams{AgentID: agent.ID, TierID: f.tiers[enums.TierPremium].ID})
	require.NoError(t, err)
	listings := f.create(t, agent.ID, 3)

	featured, err := f.svc.SetFeatured(ctx, agent.ID, SetFeaturedInput{ListingIDs: []uuid.UUID{listings[0].ID, listings[1].ID}})
	require.NoError(t, err)
	assert.Len(t, featured, 2)

	featured, err = f.svc.SetFeatured(ctx, agent.ID, SetFeaturedInput{ListingIDs: []uuid.UUID{listings[2].ID, listings[2].ID}})
	require.NoError(t, err)
	require.Len(t, featured, 1)
	assert.Equal(t, listings[2].ID, featured[0].ID)

	featured, err = f.svc.SetFeatured(ctx, agent.ID, SetFeaturedInput{})
	require.NoError(t, err)
	assert.Empty(t, featured)
}

func TestSetFeaturedRespectsSlots(t *testing.T) {
	f := newListingsFixture(t)
	ctx := context.Background()
	agent := dbtest.SeedUser(t, f.conn, enums.UserRoleAgent)
	listings := f.create(t, agent.ID, 2)

	_, err := f.svc.SetFeatured(ctx, agent.ID, SetFeaturedInput{ListingIDs: []uuid.UUID{listings[0].ID, listings[1].ID}})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeQuotaExceeded))
}

func TestSetFeaturedRejectsForeignListings(t *testing.T) {
	f := newListingsFixture(t)
	ctx := context.Background()
	owner := dbtest.SeedUser(t, f.conn, enums.UserRoleAgent)
	other := dbtest.SeedUser(t, f.conn, enums.UserRoleAgent)
	listings := f.create(t, owner.ID, 1)
	mine := f.create(t, other.ID, 1)

	_, err := f.svc.SetFeatured(ctx, other.ID, SetFeaturedInput{ListingIDs: []uuid.UUID{listings[0].ID}})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))

	_, err = f.svc.SetFeatured(ctx, other.ID, SetFeaturedInput{ListingIDs: []uuid.UUID{mine[0].ID}})
	require.NoError(t, err)
}
