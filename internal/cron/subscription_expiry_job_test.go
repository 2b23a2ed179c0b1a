package cron

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/settla/settla-backend/internal/activity"
	"github.com/settla/settla-backend/internal/catalog"
	"github.com/settla/settla-backend/internal/payments"
	"github.com/settla/settla-backend/internal/subscriptions"
	"github.com/settla/settla-backend/internal/users"
	paystackwebhook "github.com/settla/settla-backend/internal/webhooks/paystack"
	"github.com/settla/settla-backend/pkg/db"
	"github.com/settla/settla-backend/pkg/db/dbtest"
	"github.com/settla/settla-backend/pkg/db/models"
	"github.com/settla/settla-backend/pkg/enums"
	"github.com/settla/settla-backend/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type recordingNotifier struct {
	mu     sync.Mutex
	titles []string
}

func (r *recordingNotifier) Notify(_ context.Context, _ uuid.UUID, title, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.titles = append(r.titles, title)
}

type recordingProvider struct {
	mu    sync.Mutex
	codes []string
}

func (p *recordingProvider) DisableSubscription(_ context.Context, code, _ string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.codes = append(p.codes, code)
	return nil
}

type expiryFixture struct {
	conn     *gorm.DB
	ledger   *subscriptions.Ledger
	tiers    map[enums.TierName]*models.Tier
	clock    *dbtest.Clock
	notifier *recordingNotifier
	provider *recordingProvider
	logg     *logger.Logger
	sink     *activity.Sink
	job      *subscriptionExpiryJob
}

func newExpiryFixture(t *testing.T) *expiryFixture {
	t.Helper()
	conn := dbtest.New(t)
	logg := logger.New(logger.Options{ServiceName: "test", Output: &bytes.Buffer{}})
	clock := dbtest.NewClock(time.Date(2025, 1, 15, 6, 0, 0, 0, time.UTC))
	ledger, err := subscriptions.NewLedger(subscriptions.LedgerParams{
		TransactionRunner: db.FromGorm(conn),
		Repo:              subscriptions.NewRepository(conn),
		Users:             users.NewRepository(conn),
		Tiers:             catalog.NewRepository(conn),
		FreeTier:          "basic",
		Logger:            logg,
		Now:               clock.Now,
	})
	require.NoError(t, err)
	sink, err := activity.NewSink(activity.NewRepository(conn), logg)
	require.NoError(t, err)

	f := &expiryFixture{
		conn:     conn,
		ledger:   ledger,
		tiers:    dbtest.SeedTiers(t, conn),
		clock:    clock,
		notifier: &recordingNotifier{},
		provider: &recordingProvider{},
		logg:     logg,
		sink:     sink,
	}
	job, err := NewSubscriptionExpiryJob(SubscriptionExpiryJobParams{
		Logger:    logg,
		Ledger:    ledger,
		Disabler:  subscriptions.NewDisabler(subscriptions.DisablerParams{Client: f.provider, Logger: logg}),
		Notifier:  f.notifier,
		Activity:  sink,
		BatchSize: 2,
		Now:       clock.Now,
	})
	require.NoError(t, err)
	f.job = job.(*subscriptionExpiryJob)
	return f
}

func (f *expiryFixture) activate(t *testing.T, agentID uuid.UUID, end *time.Time, grace *time.Time) *models.Subscription {
	t.Helper()
	code := "SUB_" + uuid.NewString()[:8]
	token := "tok_" + code
	sub, err := f.ledger.Activate(context.Background(), subscriptions.ActivateParams{
		AgentID:                  agentID,
		TierID:                   f.tiers[enums.TierPremium].ID,
		StartDate:                f.clock.Now().AddDate(0, -1, 0),
		EndDate:                  end,
		NextPaymentDate:          end,
		ExternalSubscriptionCode: &code,
		EmailToken:               &token,
	})
	require.NoError(t, err)
	if grace != nil {
		sub.GracePeriodEndDate = grace
		require.NoError(t, f.conn.Save(sub).Error)
	}
	return sub
}

func (f *expiryFixture) active(t *testing.T, agentID uuid.UUID) []models.Subscription {
	t.Helper()
	var rows []models.Subscription
	require.NoError(t, f.conn.Where("agent_id = ? AND is_active = ?", agentID, true).Find(&rows).Error)
	return rows
}

func (f *expiryFixture) reload(t *testing.T, id uuid.UUID) *models.Subscription {
	t.Helper()
	sub, err := f.ledger.FindByID(context.Background(), id)
	require.NoError(t, err)
	return sub
}

func ptr(t time.Time) *time.Time { return &t }

func TestExpiryJobDowngradesLapsedRows(t *testing.T) {
	f := newExpiryFixture(t)
	now := f.clock.Now()

	endedAgent := dbtest.SeedUser(t, f.conn, enums.UserRoleAgent)
	ended := f.activate(t, endedAgent.ID, ptr(now.Add(-time.Minute)), nil)

	graceAgent := dbtest.SeedUser(t, f.conn, enums.UserRoleAgent)
	inGrace := f.activate(t, graceAgent.ID, ptr(now.AddDate(0, 0, 10)), ptr(now.Add(-time.Hour)))

	currentAgent := dbtest.SeedUser(t, f.conn, enums.UserRoleAgent)
	current := f.activate(t, currentAgent.ID, ptr(now.AddDate(0, 0, 3)), ptr(now.AddDate(0, 0, 1)))

	openAgent := dbtest.SeedUser(t, f.conn, enums.UserRoleAgent)
	open := f.activate(t, openAgent.ID, nil, nil)

	require.NoError(t, f.job.Run(context.Background()))

	for _, tc := range []struct {
		agent uuid.UUID
		sub   *models.Subscription
	}{{endedAgent.ID, ended}, {graceAgent.ID, inGrace}} {
		assert.False(t, f.reload(t, tc.sub.ID).IsActive)
		rows := f.active(t, tc.agent)
		require.Len(t, rows, 1)
		assert.Equal(t, f.tiers[enums.TierBasic].ID, rows[0].TierID)
		assert.True(t, rows[0].ManuallyGranted)
		assert.Nil(t, rows[0].EndDate)
	}
	assert.True(t, f.reload(t, current.ID).IsActive)
	assert.True(t, f.reload(t, open.ID).IsActive)

	assert.ElementsMatch(t, []string{*ended.ExternalSubscriptionCode, *inGrace.ExternalSubscriptionCode}, f.provider.codes)
	assert.Equal(t, []string{"Subscription Expired", "Subscription Expired"}, f.notifier.titles)

	var logged int64
	require.NoError(t, f.conn.Model(&models.ActivityLog{}).Where("action = ?", enums.ActivitySubscriptionExpired).Count(&logged).Error)
	assert.Equal(t, int64(2), logged)
}

func TestExpiryJobPagesThroughBatches(t *testing.T) {
	f := newExpiryFixture(t)
	past := ptr(f.clock.Now().Add(-time.Hour))
	agents := make([]uuid.UUID, 0, 5)
	for i := 0; i < 5; i++ {
		agent := dbtest.SeedUser(t, f.conn, enums.UserRoleAgent)
		f.activate(t, agent.ID, past, nil)
		agents = append(agents, agent.ID)
	}

	require.NoError(t, f.job.Run(context.Background()))

	for _, agent := range agents {
		rows := f.active(t, agent)
		require.Len(t, rows, 1)
		assert.Equal(t, f.tiers[enums.TierBasic].ID, rows[0].TierID)
	}
}

func TestExpiryJobIsIdempotent(t *testing.T) {
	f := newExpiryFixture(t)
	agent := dbtest.SeedUser(t, f.conn, enums.UserRoleAgent)
	f.activate(t, agent.ID, ptr(f.clock.Now().Add(-time.Hour)), nil)

	require.NoError(t, f.job.Run(context.Background()))
	require.NoError(t, f.job.Run(context.Background()))

	var total int64
	require.NoError(t, f.conn.Model(&models.Subscription{}).Where("agent_id = ?", agent.ID).Count(&total).Error)
	assert.Equal(t, int64(2), total)
	assert.Len(t, f.notifier.titles, 1)
}

type flakyLedger struct {
	expiryLedger
	failFor map[uuid.UUID]bool
}

func (l flakyLedger) WithAgentLock(ctx context.Context, agentID uuid.UUID, fn func(ctx context.Context, tx *subscriptions.AgentTx) error) error {
	if l.failFor[agentID] {
		return errors.New("connection reset")
	}
	return l.expiryLedger.WithAgentLock(ctx, agentID, fn)
}

func TestExpiryJobContinuesPastFailures(t *testing.T) {
	f := newExpiryFixture(t)
	past := ptr(f.clock.Now().Add(-time.Hour))
	broken := dbtest.SeedUser(t, f.conn, enums.UserRoleAgent)
	brokenSub := f.activate(t, broken.ID, past, nil)
	healthy := dbtest.SeedUser(t, f.conn, enums.UserRoleAgent)
	f.activate(t, healthy.ID, past, nil)

	f.job.ledger = flakyLedger{expiryLedger: f.ledger, failFor: map[uuid.UUID]bool{broken.ID: true}}
	err := f.job.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), brokenSub.ID.String())

	assert.True(t, f.reload(t, brokenSub.ID).IsActive)
	rows := f.active(t, healthy.ID)
	require.Len(t, rows, 1)
	assert.Equal(t, f.tiers[enums.TierBasic].ID, rows[0].TierID)
}

func TestExpiryJobReachesRowsBehindFullPageOfFailures(t *testing.T) {
	f := newExpiryFixture(t)
	past := ptr(f.clock.Now().Add(-time.Hour))
	failing := map[uuid.UUID]bool{}
	brokenSubs := make([]uuid.UUID, 0, 3)
	for i := 0; i < 3; i++ {
		agent := dbtest.SeedUser(t, f.conn, enums.UserRoleAgent)
		brokenSubs = append(brokenSubs, f.activate(t, agent.ID, past, nil).ID)
		failing[agent.ID] = true
	}
	healthy := dbtest.SeedUser(t, f.conn, enums.UserRoleAgent)
	healthySub := f.activate(t, healthy.ID, past, nil)
	require.NoError(t, f.conn.Model(&models.Subscription{}).Where("id = ?", healthySub.ID).
		Update("created_at", time.Now().UTC().Add(time.Hour)).Error)

	f.job.ledger = flakyLedger{expiryLedger: f.ledger, failFor: failing}
	err := f.job.Run(context.Background())
	require.Error(t, err)
	for _, id := range brokenSubs {
		assert.True(t, f.reload(t, id).IsActive)
	}

	rows := f.active(t, healthy.ID)
	require.Len(t, rows, 1)
	assert.Equal(t, f.tiers[enums.TierBasic].ID, rows[0].TierID)
	assert.False(t, f.reload(t, healthySub.ID).IsActive)
}

func TestPaymentFailureGraceThenExpiry(t *testing.T) {
	f := newExpiryFixture(t)
	ctx := context.Background()
	agent := dbtest.SeedUser(t, f.conn, enums.UserRoleAgent)
	sub := f.activate(t, agent.ID, ptr(f.clock.Now().AddDate(0, 0, 20)), nil)

	rec, err := paystackwebhook.NewReconciler(paystackwebhook.ReconcilerParams{
		Ledger:      f.ledger,
		Payments:    payments.NewLedger(f.conn, "NGN"),
		Users:       users.NewRepository(f.conn),
		Customers:   users.NewCustomerRepository(f.conn),
		Catalog:     catalog.NewRepository(f.conn),
		Notifier:    f.notifier,
		Activity:    f.sink,
		Logger:      f.logg,
		GracePeriod: 7 * 24 * time.Hour,
	})
	require.NoError(t, err)
	body, err := json.Marshal(map[string]any{
		"event": "invoice.payment_failed",
		"data": map[string]any{
			"invoice_code": "INV_grace",
			"amount":       500000,
			"subscription": map[string]any{"subscription_code": *sub.ExternalSubscriptionCode},
		},
	})
	require.NoError(t, err)
	require.NoError(t, rec.Handle(ctx, body))

	graced := f.reload(t, sub.ID)
	require.True(t, graced.IsActive)
	require.NotNil(t, graced.GracePeriodEndDate)
	assert.WithinDuration(t, f.clock.Now().Add(7*24*time.Hour), *graced.GracePeriodEndDate, time.Second)

	f.clock.Advance(8 * 24 * time.Hour)
	require.NoError(t, f.job.Run(ctx))

	assert.False(t, f.reload(t, sub.ID).IsActive)
	rows := f.active(t, agent.ID)
	require.Len(t, rows, 1)
	assert.Equal(t, f.tiers[enums.TierBasic].ID, rows[0].TierID)

	f.clock.Advance(30 * 24 * time.Hour)
	require.NoError(t, f.job.Run(ctx))
	assert.False(t, f.reload(t, sub.ID).IsActive)
	assert.Len(t, f.active(t, agent.ID), 1)
}
