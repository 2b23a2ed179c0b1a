package paystackwebhook

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/settla/settla-backend/internal/activity"
	"github.com/settla/settla-backend/internal/payments"
	"github.com/settla/settla-backend/internal/subscriptions"
	"github.com/settla/settla-backend/pkg/db/models"
	"github.com/settla/settla-backend/pkg/enums"
	pkgerrors "github.com/settla/settla-backend/pkg/errors"
)

type chargeOutcome struct {
	payment  *models.Payment
	recorded bool
	renewed  *models.Subscription
}

func (r *Reconciler) handleChargeSuccess(ctx context.Context, event ChargeSuccess) error {
	reference := strings.TrimSpace(event.Reference)
	if reference == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "charge reference required")
	}
	ctx = r.logg.WithField(ctx, "reference", reference)

	user, err := r.resolveUser(ctx, event.Metadata.UserID, event.Customer.CustomerCode, event.Customer.Email)
	if err != nil {
		return err
	}
	ctx = r.logg.WithAgentID(ctx, user.ID.String())

	customerCode := strings.TrimSpace(event.Customer.CustomerCode)
	if err := r.rememberCustomer(ctx, user.ID, customerCode); err != nil {
		return err
	}

	var outcome chargeOutcome
	err = r.ledger.WithAgentLock(ctx, user.ID, func(ctx context.Context, tx *subscriptions.AgentTx) error {
		outcome = chargeOutcome{}
		ledger := r.payments.WithTx(tx.DB())

		payment, wasPending, err := r.settleCharge(ctx, ledger, user.ID, reference, event)
		if err != nil || payment == nil {
			return err
		}
		outcome.payment = payment
		outcome.recorded = true

		sub, err := r.renewalTarget(ctx, tx, event, customerCode != "" && !wasPending)
		if err != nil || sub == nil {
			return err
		}
		if wasPending {
			// first charge of a checkout; subscription.create sets the period.
			// Extending here as well would add the period twice.
			return r.link(ctx, ledger, payment, sub)
		}

		plan, err := r.renewalPlan(ctx, tx, sub, event.Plan.PlanCode)
		if err != nil || plan == nil {
			return err
		}
		end := subscriptions.RenewalEnd(sub.EndDate, tx.Now(), plan.Duration)
		sub.EndDate = &end
		sub.NextPaymentDate = &end
		sub.GracePeriodEndDate = nil
		if err := tx.Save(ctx, sub); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "extend subscription")
		}
		outcome.renewed = sub
		return r.link(ctx, ledger, payment, sub)
	})
	if err != nil {
		return err
	}
	if !outcome.recorded {
		r.logg.Info(ctx, "paystack.charge.already_processed")
		return nil
	}

	payment := outcome.payment
	r.activity.Record(ctx, activity.Entry{
		Category:    enums.ActivityCategorySystem,
		Action:      enums.ActivityPaymentSuccessful,
		Description: "Payment " + payment.Reference + " succeeded",
		ActorID:     &user.ID,
		Metadata: map[string]any{
			"reference": payment.Reference,
			"amount":    payment.Amount.StringFixed(2),
			"currency":  payment.Currency,
		},
	})
	if outcome.renewed != nil {
		r.activity.Record(ctx, activity.Entry{
			Category:    enums.ActivityCategorySystem,
			Action:      enums.ActivityRenewSubscription,
			Description: "Subscription renewed",
			ActorID:     &user.ID,
			Metadata: map[string]any{
				"subscription_id": outcome.renewed.ID.String(),
				"end_date":        outcome.renewed.EndDate,
			},
		})
	}
	r.logg.Info(r.logg.WithField(ctx, "renewed", outcome.renewed != nil), "paystack.charge.reconciled")
	return nil
}

// settleCharge moves the reference to SUCCESS. A nil payment means the
// reference was already settled by an earlier delivery.
func (r *Reconciler) settleCharge(ctx context.Context, ledger *payments.Ledger, userID uuid.UUID, reference string, event ChargeSuccess) (*models.Payment, bool, error) {
	existing, err := ledger.FindByReference(ctx, reference)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		payment, created, err := ledger.RecordTerminal(ctx, payments.RecordParams{
			UserID:    userID,
			Reference: reference,
			Amount:    koboToMajor(event.AmountKobo),
			Currency:  event.Currency,
			Provider:  enums.PaymentProviderPaystack,
			Purpose:   enums.PaymentPurposeSubscription,
			Status:    enums.PaymentStatusSuccess,
		})
		if err != nil {
			return nil, false, err
		}
		if !created {
			existing = payment
		} else {
			return payment, false, nil
		}
	}
	if existing.UserID != userID {
		return nil, false, pkgerrors.New(pkgerrors.CodeStateConflict, "payment reference belongs to another user").
			WithDetails(map[string]any{"reference": reference})
	}

	switch existing.Status {
	case enums.PaymentStatusSuccess:
		return nil, false, nil
	case enums.PaymentStatusFailed:
		return nil, false, pkgerrors.New(pkgerrors.CodeStateConflict, "charge succeeded for a failed payment").
			WithDetails(map[string]any{"reference": reference})
	}
	payment, changed, err := ledger.MarkResult(ctx, reference, enums.PaymentStatusSuccess, nil)
	if err != nil {
		return nil, false, err
	}
	if !changed {
		return nil, false, nil
	}
	return payment, true, nil
}

// renewalTarget finds the row a charge pays for: by subscription code, then
// by plan code among the payer's active rows.
func (r *Reconciler) renewalTarget(ctx context.Context, tx *subscriptions.AgentTx, event ChargeSuccess, byPlan bool) (*models.Subscription, error) {
	var (
		sub *models.Subscription
		err error
	)
	if code := strings.TrimSpace(event.Subscription.SubscriptionCode); code != "" {
		sub, err = tx.FindByExternalCode(ctx, code)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription by code")
		}
		if sub != nil && sub.AgentID != tx.AgentID {
			r.logg.Warn(r.logg.WithField(ctx, "subscription_code", code), "paystack.charge.subscription_owner_mismatch")
			return nil, nil
		}
	}
	if sub == nil && byPlan {
		if planCode := strings.TrimSpace(event.Plan.PlanCode); planCode != "" {
			sub, err = tx.FindActiveByPlanCode(ctx, planCode)
			if err != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription by plan")
			}
		}
	}
	if sub == nil {
		return nil, nil
	}
	if !sub.IsActive {
		r.logg.Info(r.logg.WithField(ctx, "subscription_id", sub.ID.String()), "paystack.charge.subscription_inactive")
		return nil, nil
	}
	return sub, nil
}

func (r *Reconciler) renewalPlan(ctx context.Context, tx *subscriptions.AgentTx, sub *models.Subscription, eventPlanCode string) (*models.Plan, error) {
	code := strings.TrimSpace(eventPlanCode)
	if sub.ExternalPlanCode != nil && *sub.ExternalPlanCode != "" {
		code = *sub.ExternalPlanCode
	}
	plan, err := r.catalog.WithTx(tx.DB()).FindPlanByExternalCode(ctx, code)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load plan")
	}
	if plan == nil || plan.TierID != sub.TierID {
		r.logg.Warn(r.logg.WithFields(ctx, map[string]any{
			"subscription_id": sub.ID.String(),
			"plan_code":       code,
		}), "paystack.charge.plan_unresolved")
		return nil, nil
	}
	return plan, nil
}

func (r *Reconciler) link(ctx context.Context, ledger *payments.Ledger, payment *models.Payment, sub *models.Subscription) error {
	err := ledger.LinkToSubscription(ctx, payment.ID, sub.ID)
	if err == nil {
		payment.SubscriptionID = &sub.ID
		return nil
	}
	if pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) {
		r.logg.Warn(r.logg.WithField(ctx, "payment_id", payment.ID.String()), "paystack.charge.payment_linked_elsewhere")
		return nil
	}
	return err
}
