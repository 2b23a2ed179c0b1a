package paystackwebhook

import (
	"context"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/settla/settla-backend/internal/activity"
	"github.com/settla/settla-backend/internal/payments"
	"github.com/settla/settla-backend/internal/subscriptions"
	"github.com/settla/settla-backend/pkg/db/models"
	"github.com/settla/settla-backend/pkg/enums"
	pkgerrors "github.com/settla/settla-backend/pkg/errors"
	"golang.org/x/crypto/blake2b"
)

func (r *Reconciler) handleInvoicePaymentFailed(ctx context.Context, event InvoicePaymentFailed) error {
	code := strings.TrimSpace(event.Subscription.SubscriptionCode)
	ctx = r.logg.WithField(ctx, "subscription_code", code)

	var (
		sub *models.Subscription
		err error
	)
	if code != "" {
		sub, err = r.ledger.FindByExternalSubscriptionCode(ctx, code)
		if err != nil {
			return err
		}
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
	ctx = r.logg.WithAgentID(ctx, user.ID.String())

	reference, err := r.failedInvoiceReference(ctx, event, sub, user)
	if err != nil {
		return err
	}
	params := payments.RecordParams{
		UserID:    user.ID,
		Reference: reference,
		Amount:    koboToMajor(event.AmountKobo),
		Currency:  event.Currency,
		Provider:  enums.PaymentProviderPaystack,
		Purpose:   enums.PaymentPurposeSubscription,
		Status:    enums.PaymentStatusFailed,
	}

	var (
		payment *models.Payment
		created bool
		graceTo *time.Time
	)
	if sub == nil {
		payment, created, err = r.payments.RecordTerminal(ctx, params)
		if err != nil {
			return err
		}
	} else {
		err = r.ledger.WithAgentLock(ctx, sub.AgentID, func(ctx context.Context, tx *subscriptions.AgentTx) error {
			graceTo = nil
			current, err := tx.Reload(ctx, sub.ID)
			if err != nil {
				return err
			}
			if current.IsActive {
				if current.GracePeriodEndDate == nil {
					end := tx.Now().Add(r.gracePeriod)
					current.GracePeriodEndDate = &end
					if err := tx.Save(ctx, current); err != nil {
						return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "start grace period")
					}
				}
				graceTo = current.GracePeriodEndDate
			}
			linked := params
			linked.SubscriptionID = &current.ID
			payment, created, err = r.payments.WithTx(tx.DB()).RecordTerminal(ctx, linked)
			return err
		})
		if err != nil {
			return err
		}
	}
	if !created {
		r.logg.Info(r.logg.WithField(ctx, "reference", reference), "paystack.invoice.already_recorded")
		return nil
	}

	message := "We could not process your subscription payment. Please update your payment method."
	if graceTo != nil {
		message = fmt.Sprintf("We could not process your subscription payment. Your plan stays active until %s while you update your payment method.",
			graceTo.Format("2 Jan 2006"))
	}
	r.notifier.Notify(ctx, user.ID, "Payment Failed", message)

	metadata := map[string]any{
		"reference": payment.Reference,
		"amount":    payment.Amount.StringFixed(2),
		"currency":  payment.Currency,
	}
	if sub != nil {
		metadata["subscription_id"] = sub.ID.String()
	}
	if graceTo != nil {
		metadata["grace_period_end_date"] = graceTo.UTC()
	}
	r.activity.Record(ctx, activity.Entry{
		Category:    enums.ActivityCategorySystem,
		Action:      enums.ActivityPaymentFailed,
		Description: "Subscription payment failed",
		ActorID:     &user.ID,
		Metadata:    metadata,
	})
	r.logg.Info(r.logg.WithField(ctx, "reference", reference), "paystack.invoice.failed_recorded")
	return nil
}

// failedInvoiceReference prefers the invoice code. Without one the reference
// is derived from the tier, the period and the billing cycle so redeliveries
// map to the same row.
func (r *Reconciler) failedInvoiceReference(ctx context.Context, event InvoicePaymentFailed, sub *models.Subscription, user *models.User) (string, error) {
	if code := strings.TrimSpace(event.InvoiceCode); code != "" {
		return code, nil
	}

	planCode := strings.TrimSpace(event.Plan.PlanCode)
	if sub != nil && sub.ExternalPlanCode != nil && *sub.ExternalPlanCode != "" {
		planCode = *sub.ExternalPlanCode
	}
	tierName, period := "unknown", "unknown"
	plan, err := r.catalog.FindPlanByExternalCode(ctx, planCode)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load plan")
	}
	if plan != nil {
		period = plan.Duration.Lower()
		tier, err := r.catalog.FindTierByID(ctx, plan.TierID)
		if err != nil {
			return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load tier")
		}
		if tier != nil {
			tierName = string(tier.Name)
		}
	}

	var cycle *time.Time
	switch {
	case event.Subscription.NextPaymentDate != nil:
		cycle = event.Subscription.NextPaymentDate
	case sub != nil && sub.NextPaymentDate != nil:
		cycle = sub.NextPaymentDate
	case sub != nil && sub.EndDate != nil:
		cycle = sub.EndDate
	case sub != nil:
		cycle = &sub.StartDate
	}
	if cycle == nil {
		return fmt.Sprintf("sub_%s_%s_%s_%s", tierName, period, invoiceFingerprint(event), user.ID), nil
	}
	return fmt.Sprintf("sub_%s_%s_%d_%s", tierName, period, cycle.UnixMilli(), user.ID), nil
}

// invoiceFingerprint hashes the fields Paystack repeats on every delivery of
// the same failed invoice.
func invoiceFingerprint(event InvoicePaymentFailed) string {
	sum := blake2b.Sum256([]byte(strings.Join([]string{
		event.Subscription.SubscriptionCode,
		event.Plan.PlanCode,
		event.Customer.CustomerCode,
		strings.ToLower(strings.TrimSpace(event.Customer.Email)),
		strconv.FormatInt(event.AmountKobo, 10),
		event.Currency,
	}, "|")))
	return hex.EncodeToString(sum[:8])
}
