package paystackwebhook

import (
	"context"
	"fmt"
	"strings"

	"github.com/settla/settla-backend/internal/activity"
	"github.com/settla/settla-backend/internal/subscriptions"
	"github.com/settla/settla-backend/pkg/db/models"
	"github.com/settla/settla-backend/pkg/enums"
	pkgerrors "github.com/settla/settla-backend/pkg/errors"
)

func (r *Reconciler) handleSubscriptionCreate(ctx context.Context, event SubscriptionCreate) error {
	code := strings.TrimSpace(event.SubscriptionCode)
	planCode := strings.TrimSpace(event.Plan.PlanCode)
	if code == "" || planCode == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "subscription and plan codes required")
	}
	ctx = r.logg.WithField(ctx, "subscription_code", code)

	known, err := r.ledger.FindByExternalSubscriptionCode(ctx, code)
	if err != nil {
		return err
	}
	if known != nil {
		r.logg.Info(ctx, "paystack.subscription.already_recorded")
		return nil
	}

	user, err := r.resolveUser(ctx, "", event.Customer.CustomerCode, event.Customer.Email)
	if err != nil {
		return err
	}
	ctx = r.logg.WithAgentID(ctx, user.ID.String())
	customerCode := strings.TrimSpace(event.Customer.CustomerCode)
	if err := r.rememberCustomer(ctx, user.ID, customerCode); err != nil {
		return err
	}

	plan, err := r.catalog.FindPlanByExternalCode(ctx, planCode)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load plan")
	}
	if plan == nil {
		return pkgerrors.New(pkgerrors.CodeNotFound, "plan not found").
			WithDetails(map[string]any{"plan_code": planCode})
	}
	tier, err := r.catalog.FindTierByID(ctx, plan.TierID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load tier")
	}
	if tier == nil {
		return pkgerrors.New(pkgerrors.CodeNotFound, "tier not found").
			WithDetails(map[string]any{"plan_code": planCode})
	}

	var (
		created  *models.Subscription
		replaced []models.Subscription
		linked   *models.Payment
	)
	err = r.ledger.WithAgentLock(ctx, user.ID, func(ctx context.Context, tx *subscriptions.AgentTx) error {
		created, replaced, linked = nil, nil, nil

		existing, err := tx.FindByExternalCode(ctx, code)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription by code")
		}
		if existing != nil {
			return nil
		}

		now := tx.Now()
		end := subscriptions.AddPeriod(now, plan.Duration)
		if event.NextPaymentDate != nil {
			end = event.NextPaymentDate.UTC()
		}
		next := end
		created, err = tx.Activate(ctx, subscriptions.ActivateParams{
			TierID:                   plan.TierID,
			StartDate:                now,
			EndDate:                  &end,
			NextPaymentDate:          &next,
			ExternalSubscriptionCode: strPtr(code),
			ExternalCustomerCode:     strPtr(customerCode),
			ExternalPlanCode:         strPtr(planCode),
			EmailToken:               strPtr(event.EmailToken),
		})
		if err != nil {
			return err
		}
		linked, err = r.payments.WithTx(tx.DB()).LinkLatestUnlinkedSuccess(ctx, user.ID, created.ID, now.Add(-r.linkWindow))
		if err != nil {
			if !pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) {
				return err
			}
			r.logg.Warn(ctx, "paystack.subscription.payment_link_conflict")
			linked = nil
		}
		replaced = tx.Replaced()
		return nil
	})
	if err != nil {
		return err
	}
	if created == nil {
		r.logg.Info(ctx, "paystack.subscription.already_recorded")
		return nil
	}

	r.disable(ctx, replaced)

	metadata := map[string]any{
		"subscription_id":   created.ID.String(),
		"subscription_code": code,
		"tier":              string(tier.Name),
		"duration":          string(plan.Duration),
		"replaced":          len(replaced),
	}
	if linked != nil {
		metadata["payment_reference"] = linked.Reference
	}
	r.activity.Record(ctx, activity.Entry{
		Category:    enums.ActivityCategorySystem,
		Action:      enums.ActivityCreateSubscription,
		Description: fmt.Sprintf("Subscribed to %s (%s)", tier.Name, plan.Duration.Lower()),
		ActorID:     &user.ID,
		Metadata:    metadata,
	})
	r.notifier.Notify(ctx, user.ID, "Subscription Activated",
		fmt.Sprintf("Your %s subscription is active until %s.", tier.Name, created.EndDate.Format("2 Jan 2006")))
	r.logg.Info(ctx, "paystack.subscription.created")
	return nil
}

func (r *Reconciler) handleSubscriptionNotRenew(ctx context.Context, event SubscriptionNotRenew) error {
	code := strings.TrimSpace(event.SubscriptionCode)
	if code == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "subscription code required")
	}
	ctx = r.logg.WithField(ctx, "subscription_code", code)

	sub, err := r.ledger.FindByExternalSubscriptionCode(ctx, code)
	if err != nil {
		return err
	}
	var user *models.User
	if sub != nil {
		user, err = r.users.FindByID(ctx, sub.AgentID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load user")
		}
	}
	if user == nil {
		user, err = r.resolveUser(ctx, "", event.Customer.CustomerCode, event.Customer.Email)
		if err != nil {
			return err
		}
	}

	until := event.NextPaymentDate
	if until == nil && sub != nil {
		until = sub.EndDate
	}
	message := "Your subscription will not renew. It stays active until the end of the current period."
	if until != nil {
		message = fmt.Sprintf("Your subscription will not renew. It stays active until %s.", until.Format("2 Jan 2006"))
	}
	r.notifier.Notify(ctx, user.ID, "Subscription Not Renewing", message)
	r.activity.Record(ctx, activity.Entry{
		Category:    enums.ActivityCategorySystem,
		Action:      enums.ActivitySubscriptionNotRenewing,
		Description: "Subscription will not renew",
		ActorID:     &user.ID,
		Metadata:    map[string]any{"subscription_code": code},
	})
	return nil
}

func (r *Reconciler) handleSubscriptionDisable(ctx context.Context, event SubscriptionDisable) error {
	code := strings.TrimSpace(event.SubscriptionCode)
	if code == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "subscription code required")
	}
	ctx = r.logg.WithField(ctx, "subscription_code", code)

	sub, err := r.ledger.FindByExternalSubscriptionCode(ctx, code)
	if err != nil {
		return err
	}
	if sub == nil {
		return pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found").
			WithDetails(map[string]any{"subscription_code": code})
	}
	ctx = r.logg.WithAgentID(ctx, sub.AgentID.String())

	var free *models.Subscription
	err = r.ledger.WithAgentLock(ctx, sub.AgentID, func(ctx context.Context, tx *subscriptions.AgentTx) error {
		free = nil
		current, err := tx.Reload(ctx, sub.ID)
		if err != nil {
			return err
		}
		if !current.IsActive {
			return nil
		}
		if err := tx.Deactivate(ctx, current); err != nil {
			return err
		}
		free, err = tx.ActivateFree(ctx)
		return err
	})
	if err != nil {
		return err
	}
	if free == nil {
		r.logg.Info(ctx, "paystack.subscription.already_disabled")
		return nil
	}

	r.activity.Record(ctx, activity.Entry{
		Category:    enums.ActivityCategorySystem,
		Action:      enums.ActivityCancelSubscription,
		Description: "Subscription disabled by provider",
		ActorID:     &sub.AgentID,
		Metadata: map[string]any{
			"subscription_id":   sub.ID.String(),
			"subscription_code": code,
			"free_subscription": free.ID.String(),
		},
	})
	r.notifier.Notify(ctx, sub.AgentID, "Subscription Cancelled",
		fmt.Sprintf("Your subscription has been cancelled. You are now on the %s plan.", r.ledger.FreeTier()))
	r.logg.Info(ctx, "paystack.subscription.disabled")
	return nil
}
