package checkout

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/settla/settla-backend/internal/activity"
	"github.com/settla/settla-backend/internal/catalog"
	"github.com/settla/settla-backend/internal/payments"
	"github.com/settla/settla-backend/internal/users"
	"github.com/settla/settla-backend/pkg/db"
	"github.com/settla/settla-backend/pkg/db/dbtest"
	"github.com/settla/settla-backend/pkg/db/models"
	"github.com/settla/settla-backend/pkg/enums"
	pkgerrors "github.com/settla/settla-backend/pkg/errors"
	"github.com/settla/settla-backend/pkg/logger"
	"github.com/settla/settla-backend/pkg/paystack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fakeProvider struct {
	calls []paystack.InitializeTransactionParams
	err   error
}

func (f *fakeProvider) InitializeTransaction(_ context.Context, params paystack.InitializeTransactionParams) (*paystack.InitializeTransactionResult, error) {
	f.calls = append(f.calls, params)
	if f.err != nil {
		return nil, f.err
	}
	return &paystack.InitializeTransactionResult{
		AuthorizationURL: "https://checkout.paystack.com/" + params.Reference,
		AccessCode:       "ac_" + params.Reference,
		Reference:        params.Reference,
	}, nil
}

type fakeLimiter struct {
	limit int64
	count int64
	err   error
}

func (f *fakeLimiter) FixedWindowAllow(_ context.Context, _ string, limit int64, _ time.Duration) (bool, int64, error) {
	if f.err != nil {
		return false, 0, f.err
	}
	f.limit = limit
	f.count++
	return f.count <= limit, f.count, nil
}

type checkoutFixture struct {
	svc      Service
	conn     *gorm.DB
	tiers    map[enums.TierName]*models.Tier
	provider *fakeProvider
	limiter  *fakeLimiter
	payments *payments.Ledger
}

func newCheckoutFixture(t *testing.T) *checkoutFixture {
	t.Helper()
	conn := dbtest.New(t)
	logg := logger.New(logger.Options{ServiceName: "test", Output: &bytes.Buffer{}})
	sink, err := activity.NewSink(activity.NewRepository(conn), logg)
	require.NoError(t, err)
	plans, err := catalog.NewService(catalog.ServiceParams{
		Repo:              catalog.NewRepository(conn),
		TransactionRunner: db.FromGorm(conn),
		Activity:          sink,
	})
	require.NoError(t, err)

	f := &checkoutFixture{
		conn:     conn,
		tiers:    dbtest.SeedTiers(t, conn),
		provider: &fakeProvider{},
		limiter:  &fakeLimiter{},
		payments: payments.NewLedger(conn, "NGN"),
	}
	f.svc, err = NewService(ServiceParams{
		Plans:       plans,
		Users:       users.NewRepository(conn),
		Payments:    f.payments,
		Provider:    f.provider,
		Limiter:     f.limiter,
		Activity:    sink,
		Logger:      logg,
		CallbackURL: "https://settla.test/subscriptions",
		PerMinute:   2,
		Now:         func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) },
	})
	require.NoError(t, err)
	return f
}

func TestInitializeRecordsPendingPayment(t *testing.T) {
	f := newCheckoutFixture(t)
	ctx := context.Background()
	agent := dbtest.SeedUser(t, f.conn, enums.UserRoleAgent)
	premium := f.tiers[enums.TierPremium]

	result, err := f.svc.Initialize(ctx, agent.ID, InitializeInput{TierID: premium.ID, BillingPeriod: "monthly", Reference: "ref-123"})
	require.NoError(t, err)
	assert.Equal(t, "ref-123", result.Reference)
	assert.Equal(t, "https://checkout.paystack.com/ref-123", result.AuthorizationURL)

	require.Len(t, f.provider.calls, 1)
	call := f.provider.calls[0]
	assert.Equal(t, agent.Email, call.Email)
	assert.Equal(t, int64(500000), call.AmountKobo)
	assert.Equal(t, "PLN_premium_monthly", call.PlanCode)
	assert.Equal(t, "https://settla.test/subscriptions", call.CallbackURL)
	assert.Equal(t, agent.ID.String(), call.Metadata["userId"])
	assert.Equal(t, premium.ID.String(), call.Metadata["tierId"])

	payment, err := f.payments.FindByReference(ctx, "ref-123")
	require.NoError(t, err)
	require.NotNil(t, payment)
	assert.Equal(t, enums.PaymentStatusPending, payment.Status)
	assert.Equal(t, enums.PaymentPurposeSubscription, payment.Purpose)
	assert.True(t, payment.Amount.Equal(premium.Plans[0].Price))

	var logged int64
	require.NoError(t, f.conn.Model(&models.ActivityLog{}).Where("action = ?", enums.ActivityInitializeTransaction).Count(&logged).Error)
	assert.Equal(t, int64(1), logged)
}

func TestInitializeGeneratesReference(t *testing.T) {
	f := newCheckoutFixture(t)
	agent := dbtest.SeedUser(t, f.conn, enums.UserRoleAgent)

	result, err := f.svc.Initialize(context.Background(), agent.ID, InitializeInput{TierID: f.tiers[enums.TierEnterprise].ID, BillingPeriod: "YEARLY"})
	require.NoError(t, err)
	assert.Regexp(t, `^chk_1740830400000_[0-9a-f]{16}$`, result.Reference)
	assert.Equal(t, int64(15000000), f.provider.calls[0].AmountKobo)
}

func TestInitializeRejectsDuplicateReference(t *testing.T) {
	f := newCheckoutFixture(t)
	agent := dbtest.SeedUser(t, f.conn, enums.UserRoleAgent)
	input := InitializeInput{TierID: f.tiers[enums.TierPremium].ID, BillingPeriod: "MONTHLY", Reference: "dup"}

	_, err := f.svc.Initialize(context.Background(), agent.ID, input)
	require.NoError(t, err)
	_, err = f.svc.Initialize(context.Background(), agent.ID, input)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))
	assert.Len(t, f.provider.calls, 1)
}

func TestInitializeRejectsFreePlan(t *testing.T) {
	f := newCheckoutFixture(t)
	agent := dbtest.SeedUser(t, f.conn, enums.UserRoleAgent)

	_, err := f.svc.Initialize(context.Background(), agent.ID, InitializeInput{TierID: f.tiers[enums.TierBasic].ID, BillingPeriod: "MONTHLY"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	assert.Empty(t, f.provider.calls)
}

func TestInitializeValidatesInput(t *testing.T) {
	f := newCheckoutFixture(t)
	agent := dbtest.SeedUser(t, f.conn, enums.UserRoleAgent)

	_, err := f.svc.Initialize(context.Background(), agent.ID, InitializeInput{TierID: f.tiers[enums.TierPremium].ID, BillingPeriod: "weekly"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = f.svc.Initialize(context.Background(), agent.ID, InitializeInput{TierID: uuid.New(), BillingPeriod: "MONTHLY"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestInitializeMarksPaymentFailedOnProviderError(t *testing.T) {
	f := newCheckoutFixture(t)
	ctx := context.Background()
	agent := dbtest.SeedUser(t, f.conn, enums.UserRoleAgent)
	f.provider.err = errors.New("connection reset")

	_, err := f.svc.Initialize(ctx, agent.ID, InitializeInput{TierID: f.tiers[enums.TierPremium].ID, BillingPeriod: "MONTHLY", Reference: "ref-fail"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))

	payment, err := f.payments.FindByReference(ctx, "ref-fail")
	require.NoError(t, err)
	require.NotNil(t, payment)
	assert.Equal(t, enums.PaymentStatusFailed, payment.Status)
}

func TestInitializeIsRateLimited(t *testing.T) {
	f := newCheckoutFixture(t)
	agent := dbtest.SeedUser(t, f.conn, enums.UserRoleAgent)
	input := InitializeInput{TierID: f.tiers[enums.TierPremium].ID, BillingPeriod: "MONTHLY"}

	for i := 0; i < 2; i++ {
		_, err := f.svc.Initialize(context.Background(), agent.ID, input)
		require.NoError(t, err)
	}
	_, err := f.svc.Initialize(context.Background(), agent.ID, input)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeRateLimit))
	assert.Equal(t, int64(2), f.limiter.limit)
}

func TestInitializeIgnoresLimiterOutage(t *testing.T) {
	f := newCheckoutFixture(t)
	agent := dbtest.SeedUser(t, f.conn, enums.UserRoleAgent)
	f.limiter.err = errors.New("redis down")

	_, err := f.svc.Initialize(context.Background(), agent.ID, InitializeInput{TierID: f.tiers[enums.TierPremium].ID, BillingPeriod: "MONTHLY"})
	require.NoError(t, err)
}
