package billing

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/settla/settla-backend/internal/activity"
	"github.com/settla/settla-backend/internal/features"
	"github.com/settla/settla-backend/internal/notifications"
	"github.com/settla/settla-backend/internal/payments"
	"github.com/settla/settla-backend/internal/subscriptions"
	"github.com/settla/settla-backend/pkg/db/models"
	"github.com/settla/settla-backend/pkg/enums"
	pkgerrors "github.com/settla/settla-backend/pkg/errors"
	"github.com/settla/settla-backend/pkg/logger"
	"github.com/settla/settla-backend/pkg/pagination"
)

type tierLookup interface {
	TierByID(ctx context.Context, id uuid.UUID) (*models.Tier, error)
	TierByName(ctx context.Context, name enums.TierName) (*models.Tier, error)
}

type limitsResolver interface {
	LimitsForAgent(ctx context.Context, agentID uuid.UUID) (features.Limits, error)
}

type userLookup interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

type providerDisabler interface {
	DisableAll(ctx context.Context, subs []models.Subscription)
}

// Service covers the agent and admin billing operations outside the webhook
// flow.
type Service interface {
	CurrentSubscription(ctx context.Context, agentID uuid.UUID) (*SubscriptionView, error)
	ListSubscriptions(ctx context.Context, agentID uuid.UUID, params pagination.Params) (pagination.Page[models.Subscription], error)
	Cancel(ctx context.Context, actor Actor, agentID uuid.UUID) (*models.Subscription, error)
	ChangeTier(ctx context.Context, actor Actor, agentID uuid.UUID, input ChangeTierInput) (*models.Subscription, error)
	ListPayments(ctx context.Context, filter PaymentFilter) (pagination.Page[models.Payment], error)
	UpdatePayment(ctx context.Context, actor Actor, paymentID uuid.UUID, input UpdatePaymentInput) (*models.Payment, error)
	RecordManualPayment(ctx context.Context, actor Actor, input ManualPaymentInput) (*ManualPaymentResult, error)
}

// ServiceParams groups dependencies for the billing service.
type ServiceParams struct {
	Ledger   *subscriptions.Ledger
	Payments *payments.Ledger
	Tiers    tierLookup
	Limits   limitsResolver
	Users    userLookup
	Disabler providerDisabler
	Notifier notifications.Notifier
	Activity activity.Recorder
	Logger   *logger.Logger
}

type service struct {
	ledger   *subscriptions.Ledger
	payments *payments.Ledger
	tiers    tierLookup
	limits   limitsResolver
	users    userLookup
	disabler providerDisabler
	notifier notifications.Notifier
	activity activity.Recorder
	logg     *logger.Logger
}

// NewService builds a billing service.
func NewService(params ServiceParams) (Service, error) {
	switch {
	case params.Ledger == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "subscription ledger required")
	case params.Payments == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "payment ledger required")
	case params.Tiers == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "tier lookup required")
	case params.Limits == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "limits resolver required")
	case params.Users == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "user lookup required")
	case params.Notifier == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "notifier required")
	case params.Activity == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "activity recorder required")
	case params.Logger == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "logger required")
	}
	return &service{
		ledger:   params.Ledger,
		payments: params.Payments,
		tiers:    params.Tiers,
		limits:   params.Limits,
		users:    params.Users,
		disabler: params.Disabler,
		notifier: params.Notifier,
		activity: params.Activity,
		logg:     params.Logger,
	}, nil
}

func (s *service) CurrentSubscription(ctx context.Context, agentID uuid.UUID) (*SubscriptionView, error) {
	sub, err := s.ledger.GetOrProvisionActive(ctx, agentID)
	if err != nil {
		return nil, err
	}
	tier, err := s.tiers.TierByID(ctx, sub.TierID)
	if err != nil {
		return nil, err
	}
	limits, err := s.limits.LimitsForAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	view := newSubscriptionView(sub, tier, limits)
	return &view, nil
}

func (s *service) ListSubscriptions(ctx context.Context, agentID uuid.UUID, params pagination.Params) (pagination.Page[models.Subscription], error) {
	return s.ledger.ListForAgent(ctx, agentID, params)
}

// Cancel ends the agent's paid subscription and drops them to the free tier.
func (s *service) Cancel(ctx context.Context, actor Actor, agentID uuid.UUID) (*models.Subscription, error) {
	freeTier, err := s.tiers.TierByName(ctx, s.ledger.FreeTier())
	if err != nil {
		return nil, err
	}

	var (
		cancelled models.Subscription
		granted   *models.Subscription
		replaced  []models.Subscription
	)
	err = s.ledger.WithAgentLock(ctx, agentID, func(ctx context.Context, tx *subscriptions.AgentTx) error {
		active, err := tx.Active(ctx)
		if err != nil {
			return err
		}
		if active == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "no active subscription found")
		}
		if active.TierID == freeTier.ID {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "subscription is already on the free tier")
		}
		cancelled = *active
		granted, err = tx.ActivateFree(ctx)
		if err != nil {
			return err
		}
		replaced = tx.Replaced()
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.disable(ctx, replaced)

	ctx = s.logg.WithFields(ctx, map[string]any{
		"agent_id":        agentID.String(),
		"subscription_id": cancelled.ID.String(),
		"actor_role":      string(actor.Role),
	})
	s.logg.Info(ctx, "billing.subscription.cancelled")

	actorID := actor.ID
	s.activity.Record(ctx, activity.Entry{
		Category:    actor.category(),
		Action:      enums.ActivityCancelSubscription,
		Description: fmt.Sprintf("Subscription %s cancelled, reset to %s", cancelled.ID, freeTier.Name),
		ActorID:     &actorID,
		Metadata: map[string]any{
			"agent_id":            agentID.String(),
			"subscription_id":     cancelled.ID.String(),
			"new_subscription_id": granted.ID.String(),
		},
	})
	s.notifier.Notify(ctx, agentID, "Subscription Cancelled",
		fmt.Sprintf("Your subscription has been cancelled. You are now on the %s plan.", freeTier.Name))
	return granted, nil
}

// ChangeTier grants a tier by hand for one billing period. The free tier is
// granted open-ended.
func (s *service) ChangeTier(ctx context.Context, actor Actor, agentID uuid.UUID, input ChangeTierInput) (*models.Subscription, error) {
	name, err := enums.ParseTierName(input.TierName)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid tier_name")
	}
	duration, err := parseDuration(input.Duration)
	if err != nil {
		return nil, err
	}
	tier, err := s.tiers.TierByName(ctx, name)
	if err != nil {
		return nil, err
	}

	var (
		granted  *models.Subscription
		replaced []models.Subscription
	)
	err = s.ledger.WithAgentLock(ctx, agentID, func(ctx context.Context, tx *subscriptions.AgentTx) error {
		var err error
		if name == s.ledger.FreeTier() {
			granted, err = tx.ActivateFree(ctx)
		} else {
			end := subscriptions.GrantEnd(tx.Now(), duration)
			granted, err = tx.Activate(ctx, subscriptions.ActivateParams{
				TierID:          tier.ID,
				EndDate:         &end,
				NextPaymentDate: &end,
				ManuallyGranted: true,
			})
		}
		if err != nil {
			return err
		}
		replaced = tx.Replaced()
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.disable(ctx, replaced)

	ctx = s.logg.WithFields(ctx, map[string]any{
		"agent_id":        agentID.String(),
		"subscription_id": granted.ID.String(),
		"tier":            string(name),
	})
	s.logg.Info(ctx, "billing.subscription.changed")

	actorID := actor.ID
	s.activity.Record(ctx, activity.Entry{
		Category:    actor.category(),
		Action:      enums.ActivityAdminChangeSubscription,
		Description: fmt.Sprintf("Agent %s moved to the %s tier", agentID, name),
		ActorID:     &actorID,
		Metadata: map[string]any{
			"agent_id":        agentID.String(),
			"subscription_id": granted.ID.String(),
			"tier":            string(name),
			"duration":        string(duration),
		},
	})
	s.notifier.Notify(ctx, agentID, "Subscription Updated",
		fmt.Sprintf("Your subscription has been changed to the %s plan.", name))
	return granted, nil
}

func (s *service) ListPayments(ctx context.Context, filter PaymentFilter) (pagination.Page[models.Payment], error) {
	query := payments.ListQuery{UserID: filter.UserID, Limit: filter.Limit, Cursor: filter.Cursor}
	if v := normalizeFilter(filter.Status); v != "" {
		status, err := enums.ParsePaymentStatus(v)
		if err != nil {
			return pagination.Page[models.Payment]{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status filter")
		}
		query.Status = &status
	}
	if v := normalizeFilter(filter.Provider); v != "" {
		provider, err := enums.ParsePaymentProvider(v)
		if err != nil {
			return pagination.Page[models.Payment]{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid provider filter")
		}
		query.Provider = &provider
	}
	if v := normalizeFilter(filter.Purpose); v != "" {
		purpose, err := enums.ParsePaymentPurpose(v)
		if err != nil {
			return pagination.Page[models.Payment]{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid purpose filter")
		}
		query.Purpose = &purpose
	}
	return s.payments.List(ctx, query)
}

// UpdatePayment settles a PENDING payment. Terminal rows cannot be moved.
func (s *service) UpdatePayment(ctx context.Context, actor Actor, paymentID uuid.UUID, input UpdatePaymentInput) (*models.Payment, error) {
	status, err := enums.ParsePaymentStatus(strings.ToUpper(strings.TrimSpace(input.Status)))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status")
	}
	if !status.IsTerminal() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "status must be SUCCESS or FAILED")
	}
	existing, err := s.payments.FindByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
	}
	before := existing.Status

	updated, changed, err := s.payments.MarkResult(ctx, existing.Reference, status, nil)
	if err != nil {
		return nil, err
	}
	if !changed {
		return updated, nil
	}

	actorID := actor.ID
	s.activity.Record(ctx, activity.Entry{
		Category:    enums.ActivityCategoryAdminAction,
		Action:      enums.ActivityAdminUpdatePayment,
		Description: fmt.Sprintf("Payment %s marked %s", updated.Reference, updated.Status),
		ActorID:     &actorID,
		Metadata: map[string]any{
			"payment_id": updated.ID.String(),
			"reference":  updated.Reference,
			"before":     string(before),
			"after":      string(updated.Status),
		},
	})
	return updated, nil
}

// RecordManualPayment stores a MANUAL payment. A successful subscription
// payment also grants the tier and links the payment in the same unit of work.
func (s *service) RecordManualPayment(ctx context.Context, actor Actor, input ManualPaymentInput) (*ManualPaymentResult, error) {
	purpose, err := enums.ParsePaymentPurpose(strings.ToUpper(strings.TrimSpace(input.Purpose)))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid purpose")
	}
	status, err := enums.ParsePaymentStatus(strings.ToUpper(strings.TrimSpace(input.Status)))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status")
	}
	if input.Amount.IsNegative() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must not be negative")
	}
	user, err := s.users.FindByID(ctx, input.UserID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load user")
	}
	if user == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
	}

	result := &ManualPaymentResult{}
	if purpose == enums.PaymentPurposeSubscription && status == enums.PaymentStatusSuccess {
		if err := s.grantWithPayment(ctx, input, result); err != nil {
			return nil, err
		}
	} else {
		payment, err := s.recordStandalone(ctx, input, purpose, status)
		if err != nil {
			return nil, err
		}
		result.Payment = payment
	}

	actorID := actor.ID
	metadata := map[string]any{
		"payment_id": result.Payment.ID.String(),
		"reference":  result.Payment.Reference,
		"user_id":    input.UserID.String(),
		"amount":     result.Payment.Amount.StringFixed(2),
		"status":     string(result.Payment.Status),
	}
	if result.Subscription != nil {
		metadata["subscription_id"] = result.Subscription.ID.String()
	}
	s.activity.Record(ctx, activity.Entry{
		Category:    enums.ActivityCategoryAdminAction,
		Action:      enums.ActivityAdminManualPayment,
		Description: fmt.Sprintf("Manual payment %s recorded for %s", result.Payment.Reference, user.Email),
		ActorID:     &actorID,
		Metadata:    metadata,
	})
	return result, nil
}

func (s *service) grantWithPayment(ctx context.Context, input ManualPaymentInput, result *ManualPaymentResult) error {
	if input.TierID == nil || *input.TierID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "tier_id is required for subscription payments")
	}
	duration, err := parseDuration(input.Duration)
	if err != nil {
		return err
	}
	tier, err := s.tiers.TierByID(ctx, *input.TierID)
	if err != nil {
		return err
	}

	var replaced []models.Subscription
	err = s.ledger.WithAgentLock(ctx, input.UserID, func(ctx context.Context, tx *subscriptions.AgentTx) error {
		end := subscriptions.GrantEnd(tx.Now(), duration)
		sub, err := tx.Activate(ctx, subscriptions.ActivateParams{
			TierID:          tier.ID,
			EndDate:         &end,
			NextPaymentDate: &end,
			ManuallyGranted: true,
		})
		if err != nil {
			return err
		}
		payment, created, err := s.payments.WithTx(tx.DB()).RecordTerminal(ctx, payments.RecordParams{
			UserID:         input.UserID,
			SubscriptionID: &sub.ID,
			Reference:      input.Reference,
			Amount:         input.Amount,
			Provider:       enums.PaymentProviderManual,
			Purpose:        enums.PaymentPurposeSubscription,
			Status:         enums.PaymentStatusSuccess,
		})
		if err != nil {
			return err
		}
		if !created {
			return duplicateReference(input.Reference)
		}
		result.Subscription = sub
		result.Payment = payment
		replaced = tx.Replaced()
		return nil
	})
	if err != nil {
		return err
	}
	s.disable(ctx, replaced)
	s.notifier.Notify(ctx, input.UserID, "Subscription Activated",
		fmt.Sprintf("Your %s subscription is active until %s.", tier.Name, result.Subscription.EndDate.Format("2 Jan 2006")))
	return nil
}

func (s *service) recordStandalone(ctx context.Context, input ManualPaymentInput, purpose enums.PaymentPurpose, status enums.PaymentStatus) (*models.Payment, error) {
	if status == enums.PaymentStatusPending {
		return s.payments.RecordPending(ctx, payments.PendingParams{
			UserID:    input.UserID,
			Reference: input.Reference,
			Amount:    input.Amount,
			Provider:  enums.PaymentProviderManual,
			Purpose:   purpose,
		})
	}
	payment, created, err := s.payments.RecordTerminal(ctx, payments.RecordParams{
		UserID:    input.UserID,
		Reference: input.Reference,
		Amount:    input.Amount,
		Provider:  enums.PaymentProviderManual,
		Purpose:   purpose,
		Status:    status,
	})
	if err != nil {
		return nil, err
	}
	if !created {
		return nil, duplicateReference(input.Reference)
	}
	return payment, nil
}

func (s *service) disable(ctx context.Context, subs []models.Subscription) {
	if s.disabler == nil || len(subs) == 0 {
		return
	}
	s.disabler.DisableAll(ctx, subs)
}

func duplicateReference(reference string) error {
	return pkgerrors.New(pkgerrors.CodeConflict, "duplicate payment reference").
		WithDetails(map[string]any{"reference": reference})
}

func parseDuration(value string) (enums.BillingDuration, error) {
	if strings.TrimSpace(value) == "" {
		return enums.BillingDurationMonthly, nil
	}
	duration, err := enums.ParseBillingDuration(value)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid duration")
	}
	return duration, nil
}

func normalizeFilter(value string) string {
	value = strings.ToUpper(strings.TrimSpace(value))
	if value == "ALL" {
		return ""
	}
	return value
}
