package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/settla/settla-backend/internal/activity"
	"github.com/settla/settla-backend/internal/notifications"
	"github.com/settla/settla-backend/internal/subscriptions"
	"github.com/settla/settla-backend/pkg/db/models"
	"github.com/settla/settla-backend/pkg/enums"
	"github.com/settla/settla-backend/pkg/logger"
	"github.com/settla/settla-backend/pkg/metrics"
	"github.com/settla/settla-backend/pkg/pagination"
	"go.uber.org/multierr"
)

const (
	SubscriptionExpiryJobName = "subscription-expiry"

	defaultExpiryBatch = 200
)

type expiryLedger interface {
	ListDueForExpiry(ctx context.Context, now time.Time, after *pagination.Cursor, limit int) ([]models.Subscription, error)
	WithAgentLock(ctx context.Context, agentID uuid.UUID, fn func(ctx context.Context, tx *subscriptions.AgentTx) error) error
}

type providerDisabler interface {
	DisableAll(ctx context.Context, subs []models.Subscription)
}

// SubscriptionExpiryJobParams configures the grace-period sweeper.
type SubscriptionExpiryJobParams struct {
	Logger    *logger.Logger
	Ledger    expiryLedger
	Disabler  providerDisabler
	Notifier  notifications.Notifier
	Activity  activity.Recorder
	Metrics   *metrics.CronJobMetrics
	BatchSize int
	Now       func() time.Time
}

// NewSubscriptionExpiryJob builds the sweeper that downgrades lapsed
// subscriptions to the free tier.
func NewSubscriptionExpiryJob(params SubscriptionExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("subscription ledger required")
	}
	if params.Notifier == nil {
		return nil, fmt.Errorf("notifier required")
	}
	if params.Activity == nil {
		return nil, fmt.Errorf("activity recorder required")
	}
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultExpiryBatch
	}
	return &subscriptionExpiryJob{
		logg:     params.Logger,
		ledger:   params.Ledger,
		disabler: params.Disabler,
		notifier: params.Notifier,
		activity: params.Activity,
		metrics:  params.Metrics,
		batch:    batch,
		now:      now,
	}, nil
}

type subscriptionExpiryJob struct {
	logg     *logger.Logger
	ledger   expiryLedger
	disabler providerDisabler
	notifier notifications.Notifier
	activity activity.Recorder
	metrics  *metrics.CronJobMetrics
	batch    int
	now      func() time.Time
}

func (j *subscriptionExpiryJob) Name() string { return SubscriptionExpiryJobName }

// Run walks due rows with a keyset cursor until none remain. Rows are handled
// one by one; a failed row is reported and stays behind the cursor.
func (j *subscriptionExpiryJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	var (
		errs                              error
		scanned, expired, skipped, failed int
		after                             *pagination.Cursor
	)
	for {
		due, err := j.ledger.ListDueForExpiry(ctx, now, after, j.batch)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("list due subscriptions: %w", err))
			break
		}
		for i := range due {
			sub := due[i]
			after = &pagination.Cursor{CreatedAt: sub.CreatedAt, ID: sub.ID}
			scanned++
			done, err := j.expire(ctx, sub, now)
			switch {
			case err != nil:
				failed++
				errs = multierr.Append(errs, fmt.Errorf("expire subscription %s: %w", sub.ID, err))
			case done:
				expired++
			default:
				skipped++
			}
		}
		if len(due) < j.batch {
			break
		}
	}

	j.metrics.AddRows(j.Name(), "expired", expired)
	j.metrics.AddRows(j.Name(), "skipped", skipped)
	j.metrics.AddRows(j.Name(), "failed", failed)
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"scanned": scanned,
		"expired": expired,
		"skipped": skipped,
		"failed":  failed,
	}), "cron.subscription_expiry.complete")
	return errs
}

// expire downgrades one row. It reports false when the row changed under the
// lock and no longer qualifies.
func (j *subscriptionExpiryJob) expire(ctx context.Context, sub models.Subscription, now time.Time) (bool, error) {
	ctx = j.logg.WithFields(ctx, map[string]any{
		"agent_id":        sub.AgentID.String(),
		"subscription_id": sub.ID.String(),
	})

	var (
		lapsed *models.Subscription
		free   *models.Subscription
	)
	err := j.ledger.WithAgentLock(ctx, sub.AgentID, func(ctx context.Context, tx *subscriptions.AgentTx) error {
		lapsed, free = nil, nil
		current, err := tx.Reload(ctx, sub.ID)
		if err != nil {
			return err
		}
		if !current.DueForExpiry(now) {
			return nil
		}
		if err := tx.Deactivate(ctx, current); err != nil {
			return err
		}
		free, err = tx.ActivateFree(ctx)
		if err != nil {
			return err
		}
		lapsed = current
		return nil
	})
	if err != nil {
		return false, err
	}
	if lapsed == nil {
		j.logg.Info(ctx, "cron.subscription_expiry.no_longer_due")
		return false, nil
	}

	if j.disabler != nil {
		j.disabler.DisableAll(ctx, []models.Subscription{*lapsed})
	}
	reason := "period_ended"
	if lapsed.GracePeriodEndDate != nil && !lapsed.GracePeriodEndDate.After(now) {
		reason = "grace_period_ended"
	}
	j.activity.Record(ctx, activity.Entry{
		Category:    enums.ActivityCategorySystem,
		Action:      enums.ActivitySubscriptionExpired,
		Description: "Subscription expired and was downgraded to the free tier",
		ActorID:     &lapsed.AgentID,
		Metadata: map[string]any{
			"subscription_id":   lapsed.ID.String(),
			"free_subscription": free.ID.String(),
			"reason":            reason,
		},
	})
	j.notifier.Notify(ctx, lapsed.AgentID, "Subscription Expired",
		"Your subscription has expired and your account has been moved to the free plan.")
	return true, nil
}
