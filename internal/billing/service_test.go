package billing

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/settla/settla-backend/internal/activity"
	"github.com/settla/settla-backend/internal/catalog"
	"github.com/settla/settla-backend/internal/features"
	"github.com/settla/settla-backend/internal/payments"
	"github.com/settla/settla-backend/internal/subscriptions"
	"github.com/settla/settla-backend/internal/users"
	"github.com/settla/settla-backend/pkg/db"
	"github.com/settla/settla-backend/pkg/db/dbtest"
	"github.com/settla/settla-backend/pkg/db/models"
	"github.com/settla/settla-backend/pkg/enums"
	pkgerrors "github.com/settla/settla-backend/pkg/errors"
	"github.com/settla/settla-backend/pkg/logger"
	"github.com/settla/settla-backend/pkg/pagination"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type notice struct {
	recipient uuid.UUID
	title     string
}

type recordingNotifier struct {
	mu      sync.Mutex
	notices []notice
}

func (r *recordingNotifier) Notify(_ context.Context, recipientID uuid.UUID, title, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, notice{recipient: recipientID, title: title})
}

type disableCall struct{ code, token string }

type fakeProvider struct {
	mu    sync.Mutex
	calls []disableCall
}

func (f *fakeProvider) DisableSubscription(_ context.Context, code, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, disableCall{code: code, token: token})
	return nil
}

type billingFixture struct {
	svc      Service
	conn     *gorm.DB
	ledger   *subscriptions.Ledger
	payments *payments.Ledger
	tiers    map[enums.TierName]*models.Tier
	notifier *recordingNotifier
	provider *fakeProvider
	clock    *dbtest.Clock
	admin    Actor
}

func newBillingFixture(t *testing.T) *billingFixture {
	t.Helper()
	conn := dbtest.New(t)
	logg := logger.New(logger.Options{ServiceName: "test", Output: &bytes.Buffer{}})
	clock := dbtest.NewClock(time.Date(2025, 1, 31, 10, 0, 0, 0, time.UTC))
	tierRepo := catalog.NewRepository(conn)
	sink, err := activity.NewSink(activity.NewRepository(conn), logg)
	require.NoError(t, err)
	tierSvc, err := catalog.NewService(catalog.ServiceParams{Repo: tierRepo, TransactionRunner: db.FromGorm(conn), Activity: sink})
	require.NoError(t, err)
	ledger, err := subscriptions.NewLedger(subscriptions.LedgerParams{
		TransactionRunner: db.FromGorm(conn),
		Repo:              subscriptions.NewRepository(conn),
		Users:             users.NewRepository(conn),
		Tiers:             tierRepo,
		FreeTier:          "basic",
		Logger:            logg,
		Now:               clock.Now,
	})
	require.NoError(t, err)
	gate, err := features.NewGate(features.GateParams{
		FreeTier:      "basic",
		Subscriptions: ledger,
		Tiers:         tierRepo,
		Listings:      zeroCounter{},
		Logger:        logg,
	})
	require.NoError(t, err)

	provider := &fakeProvider{}
	f := &billingFixture{
		conn:     conn,
		ledger:   ledger,
		payments: payments.NewLedger(conn, "NGN"),
		tiers:    dbtest.SeedTiers(t, conn),
		notifier: &recordingNotifier{},
		provider: provider,
		clock:    clock,
	}
	f.svc, err = NewService(ServiceParams{
		Ledger:   ledger,
		Payments: f.payments,
		Tiers:    tierSvc,
		Limits:   gate,
		Users:    users.NewRepository(conn),
		Disabler: subscriptions.NewDisabler(subscriptions.DisablerParams{Client: provider, Logger: logg}),
		Notifier: f.notifier,
		Activity: sink,
		Logger:   logg,
	})
	require.NoError(t, err)
	admin := dbtest.SeedUser(t, conn, enums.UserRoleAdmin)
	f.admin = Actor{ID: admin.ID, Role: enums.UserRoleAdmin}
	return f
}

type zeroCounter struct{}

func (zeroCounter) CountByAgent(context.Context, uuid.UUID) (int64, error) { return 0, nil }

func (f *billingFixture) activateProviderManaged(t *testing.T, agentID uuid.UUID) *models.Subscription {
	t.Helper()
	code, token, plan := "SUB_"+uuid.NewString()[:8], "tok_1", "PLN_premium_monthly"
	end := f.clock.Now().AddDate(0, 1, 0)
	sub, err := f.ledger.Activate(context.Background(), subscriptions.ActivateParams{
		AgentID:                  agentID,
		TierID:                   f.tiers[enums.TierPremium].ID,
		EndDate:                  &end,
		NextPaymentDate:          &end,
		ExternalSubscriptionCode: &code,
		ExternalPlanCode:         &plan,
		EmailToken:               &token,
	})
	require.NoError(t, err)
	return sub
}

func (f *billingFixture) activityCount(t *testing.T, action enums.ActivityAction) int64 {
	t.Helper()
	var count int64
	require.NoError(t, f.conn.Model(&models.ActivityLog{}).Where("action = ?", action).Count(&count).Error)
	return count
}

func TestCurrentSubscriptionProvisionsFreeTier(t *testing.T) {
	f := newBillingFixture(t)
	agent := dbtest.SeedUser(t, f.conn, enums.UserRoleAgent)

	view, err := f.svc.CurrentSubscription(context.Background(), agent.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.TierBasic, view.TierName)
	assert.True(t, view.ManuallyGranted)
	assert.Nil(t, view.EndDate)
	assert.Equal(t, 5, view.Limits.MaxListings)
}

func TestCancelDropsToFreeTierAndDisablesProvider(t *testing.T) {
	f := newBillingFixture(t)
	ctx := context.Background()
	agent := dbtest.SeedUser(t, f.conn, enums.UserRoleAgent)
	paid := f.activateProviderManaged(t, agent.ID)

	granted, err := f.svc.Cancel(ctx, Actor{ID: agent.ID, Role: enums.UserRoleAgent}, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, f.tiers[enums.TierBasic].ID, granted.TierID)
	assert.True(t, granted.ManuallyGranted)
	assert.Nil(t, granted.EndDate)

	old, err := f.ledger.FindByID(ctx, paid.ID)
	require.NoError(t, err)
	assert.False(t, old.IsActive)

	require.Len(t, f.provider.calls, 1)
	assert.Equal(t, disableCall{code: *paid.ExternalSubscriptionCode, token: "tok_1"}, f.provider.calls[0])
	assert.Equal(t, int64(1), f.activityCount(t, enums.ActivityCancelSubscription))
	require.Len(t, f.notifier.notices, 1)
	assert.Equal(t, "Subscription Cancelled", f.notifier.notices[0].title)

	var row models.ActivityLog
	require.NoError(t, f.conn.Where("action = ?", enums.ActivityCancelSubscription).First(&row).Error)
	assert.Equal(t, enums.ActivityCategoryUserAction, row.Category)
}

func TestCancelRefusesFreeTierAndMissingSubscription(t *testing.T) {
	f := newBillingFixture(t)
	ctx := context.Background()
	agent := dbtest.SeedUser(t, f.conn, enums.UserRoleAgent)

	_, err := f.svc.Cancel(ctx, f.admin, agent.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	_, err = f.ledger.GetOrProvisionActive(ctx, agent.ID)
	require.NoError(t, err)
	_, err = f.svc.Cancel(ctx, f.admin, agent.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
	assert.Empty(t, f.notifier.notices)
}

func TestChangeTierGrantsForPeriod(t *testing.T) {
	f := newBillingFixture(t)
	ctx := context.Background()
	agent := dbtest.SeedUser(t, f.conn, enums.UserRoleAgent)
	paid := f.activateProviderManaged(t, agent.ID)

	granted, err := f.svc.ChangeTier(ctx, f.admin, agent.ID, ChangeTierInput{TierName: "enterprise", Duration: "YEARLY"})
	require.NoError(t, err)
	assert.Equal(t, f.tiers[enums.TierEnterprise].ID, granted.TierID)
	require.NotNil(t, granted.EndDate)
	assert.True(t, granted.EndDate.Equal(f.clock.Now().Add(365*24*time.Hour)))
	assert.True(t, granted.ManuallyGranted)
	assert.Len(t, f.provider.calls, 1)

	old, err := f.ledger.FindByID(ctx, paid.ID)
	require.NoError(t, err)
	assert.False(t, old.IsActive)
	assert.Equal(t, int64(1), f.activityCount(t, enums.ActivityAdminChangeSubscription))

	free, err := f.svc.ChangeTier(ctx, f.admin, agent.ID, ChangeTierInput{TierName: "basic"})
	require.NoError(t, err)
	assert.Nil(t, free.EndDate)

	_, err = f.svc.ChangeTier(ctx, f.admin, agent.ID, ChangeTierInput{TierName: "gold"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestManualSubscriptionPaymentGrantsAndLinks(t *testing.T) {
	f := newBillingFixture(t)
	ctx := context.Background()
	agent := dbtest.SeedUser(t, f.conn, enums.UserRoleAgent)
	tierID := f.tiers[enums.TierPremium].ID

	result, err := f.svc.RecordManualPayment(ctx, f.admin, ManualPaymentInput{
		UserID:    agent.ID,
		TierID:    &tierID,
		Reference: "bank-001",
		Amount:    decimal.NewFromInt(5000),
		Purpose:   "subscription",
		Status:    "success",
	})
	require.NoError(t, err)
	require.NotNil(t, result.Subscription)
	assert.Equal(t, tierID, result.Subscription.TierID)
	assert.True(t, result.Subscription.EndDate.Equal(f.clock.Now().Add(30*24*time.Hour)))
	assert.Equal(t, enums.PaymentProviderManual, result.Payment.Provider)
	require.NotNil(t, result.Payment.SubscriptionID)
	assert.Equal(t, result.Subscription.ID, *result.Payment.SubscriptionID)
	assert.Equal(t, int64(1), f.activityCount(t, enums.ActivityAdminManualPayment))
}

func TestManualPaymentDuplicateReferenceRollsBackGrant(t *testing.T) {
	f := newBillingFixture(t)
	ctx := context.Background()
	agent := dbtest.SeedUser(t, f.conn, enums.UserRoleAgent)
	tierID := f.tiers[enums.TierPremium].ID
	_, err := f.payments.RecordPending(ctx, payments.PendingParams{UserID: agent.ID, Reference: "bank-002", Amount: decimal.NewFromInt(5000)})
	require.NoError(t, err)

	_, err = f.svc.RecordManualPayment(ctx, f.admin, ManualPaymentInput{
		UserID:    agent.ID,
		TierID:    &tierID,
		Reference: "bank-002",
		Amount:    decimal.NewFromInt(5000),
		Purpose:   "SUBSCRIPTION",
		Status:    "SUCCESS",
	})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))

	active, err := f.ledger.GetActive(ctx, agent.ID)
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestManualOtherPaymentDoesNotTouchSubscriptions(t *testing.T) {
	f := newBillingFixture(t)
	ctx := context.Background()
	agent := dbtest.SeedUser(t, f.conn, enums.UserRoleAgent)

	result, err := f.svc.RecordManualPayment(ctx, f.admin, ManualPaymentInput{
		UserID:    agent.ID,
		Reference: "misc-1",
		Amount:    decimal.NewFromInt(200),
		Purpose:   "OTHER",
		Status:    "PENDING",
	})
	require.NoError(t, err)
	assert.Nil(t, result.Subscription)
	assert.Equal(t, enums.PaymentStatusPending, result.Payment.Status)

	active, err := f.ledger.GetActive(ctx, agent.ID)
	require.NoError(t, err)
	assert.Nil(t, active)

	_, err = f.svc.RecordManualPayment(ctx, f.admin, ManualPaymentInput{UserID: uuid.New(), Reference: "x", Purpose: "OTHER", Status: "SUCCESS"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestUpdatePaymentOnlySettlesPending(t *testing.T) {
	f := newBillingFixture(t)
	ctx := context.Background()
	agent := dbtest.SeedUser(t, f.conn, enums.UserRoleAgent)
	pending, err := f.payments.RecordPending(ctx, payments.PendingParams{UserID: agent.ID, Reference: "ref-1", Amount: decimal.NewFromInt(5000)})
	require.NoError(t, err)

	updated, err := f.svc.UpdatePayment(ctx, f.admin, pending.ID, UpdatePaymentInput{Status: "success"})
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusSuccess, updated.Status)
	assert.Equal(t, int64(1), f.activityCount(t, enums.ActivityAdminUpdatePayment))

	_, err = f.svc.UpdatePayment(ctx, f.admin, pending.ID, UpdatePaymentInput{Status: "FAILED"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))

	_, err = f.svc.UpdatePayment(ctx, f.admin, pending.ID, UpdatePaymentInput{Status: "PENDING"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = f.svc.UpdatePayment(ctx, f.admin, uuid.New(), UpdatePaymentInput{Status: "SUCCESS"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestListPaymentsFilters(t *testing.T) {
	f := newBillingFixture(t)
	ctx := context.Background()
	agent := dbtest.SeedUser(t, f.conn, enums.UserRoleAgent)
	_, err := f.payments.RecordPending(ctx, payments.PendingParams{UserID: agent.ID, Reference: "p-1", Amount: decimal.NewFromInt(10)})
	require.NoError(t, err)
	_, _, err = f.payments.RecordTerminal(ctx, payments.RecordParams{UserID: agent.ID, Reference: "p-2", Amount: decimal.NewFromInt(10), Provider: enums.PaymentProviderManual, Status: enums.PaymentStatusSuccess})
	require.NoError(t, err)

	page, err := f.svc.ListPayments(ctx, PaymentFilter{Status: "all", Provider: "manual"})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "p-2", page.Items[0].Reference)

	page, err = f.svc.ListPayments(ctx, PaymentFilter{UserID: &agent.ID})
	require.NoError(t, err)
	assert.Len(t, page.Items, 2)

	_, err = f.svc.ListPayments(ctx, PaymentFilter{Status: "refunded"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestListSubscriptionsPages(t *testing.T) {
	f := newBillingFixture(t)
	ctx := context.Background()
	agent := dbtest.SeedUser(t, f.conn, enums.UserRoleAgent)
	for i := 0; i < 3; i++ {
		f.activateProviderManaged(t, agent.ID)
		f.clock.Advance(time.Minute)
	}

	page, err := f.svc.ListSubscriptions(ctx, agent.ID, pagination.Params{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, page.Items, 2)
	assert.NotEmpty(t, page.NextCursor)
}
