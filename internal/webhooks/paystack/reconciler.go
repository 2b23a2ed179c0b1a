package paystackwebhook

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/settla/settla-backend/internal/activity"
	"github.com/settla/settla-backend/internal/catalog"
	"github.com/settla/settla-backend/internal/notifications"
	"github.com/settla/settla-backend/internal/payments"
	"github.com/settla/settla-backend/internal/subscriptions"
	"github.com/settla/settla-backend/internal/users"
	"github.com/settla/settla-backend/pkg/db/models"
	pkgerrors "github.com/settla/settla-backend/pkg/errors"
	"github.com/settla/settla-backend/pkg/logger"
	"github.com/settla/settla-backend/pkg/metrics"
)

const (
	providerName = "paystack"

	defaultGracePeriod = 7 * 24 * time.Hour
	defaultLinkWindow  = 24 * time.Hour
)

type handlerFunc func(ctx context.Context, event Event) error

// on adapts a typed handler to the dispatch table.
func on[E Event](fn func(context.Context, E) error) handlerFunc {
	return func(ctx context.Context, event Event) error {
		typed, ok := event.(E)
		if !ok {
			return pkgerrors.New(pkgerrors.CodeInternal, fmt.Sprintf("%s routed to the wrong handler", event.Type()))
		}
		return fn(ctx, typed)
	}
}

type providerDisabler interface {
	DisableAll(ctx context.Context, subs []models.Subscription)
}

// ReconcilerParams groups dependencies for the reconciler.
type ReconcilerParams struct {
	Ledger      *subscriptions.Ledger
	Payments    *payments.Ledger
	Users       *users.Repository
	Customers   *users.CustomerRepository
	Catalog     catalog.Repository
	Disabler    providerDisabler
	Notifier    notifications.Notifier
	Activity    activity.Recorder
	Guard       *DeliveryGuard
	Metrics     *metrics.WebhookMetrics
	Logger      *logger.Logger
	GracePeriod time.Duration
	LinkWindow  time.Duration
}

// Reconciler applies Paystack events to the subscription and payment ledgers.
type Reconciler struct {
	ledger      *subscriptions.Ledger
	payments    *payments.Ledger
	users       *users.Repository
	customers   *users.CustomerRepository
	catalog     catalog.Repository
	disabler    providerDisabler
	notifier    notifications.Notifier
	activity    activity.Recorder
	guard       *DeliveryGuard
	metrics     *metrics.WebhookMetrics
	logg        *logger.Logger
	gracePeriod time.Duration
	linkWindow  time.Duration
	handlers    map[EventType]handlerFunc
}

func NewReconciler(params ReconcilerParams) (*Reconciler, error) {
	switch {
	case params.Ledger == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "subscription ledger required")
	case params.Payments == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payment ledger required")
	case params.Users == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "users repository required")
	case params.Customers == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "customer repository required")
	case params.Catalog == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "catalog repository required")
	case params.Notifier == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "notifier required")
	case params.Activity == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "activity recorder required")
	case params.Logger == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	grace := params.GracePeriod
	if grace <= 0 {
		grace = defaultGracePeriod
	}
	window := params.LinkWindow
	if window <= 0 {
		window = defaultLinkWindow
	}
	r := &Reconciler{
		ledger:      params.Ledger,
		payments:    params.Payments,
		users:       params.Users,
		customers:   params.Customers,
		catalog:     params.Catalog,
		disabler:    params.Disabler,
		notifier:    params.Notifier,
		activity:    params.Activity,
		guard:       params.Guard,
		metrics:     params.Metrics,
		logg:        params.Logger,
		gracePeriod: grace,
		linkWindow:  window,
	}
	r.handlers = map[EventType]handlerFunc{
		EventChargeSuccess:        on(r.handleChargeSuccess),
		EventSubscriptionCreate:   on(r.handleSubscriptionCreate),
		EventInvoicePaymentFailed: on(r.handleInvoicePaymentFailed),
		EventSubscriptionNotRenew: on(r.handleSubscriptionNotRenew),
		EventSubscriptionDisable:  on(r.handleSubscriptionDisable),
	}
	return r, nil
}

// Handle parses and applies one delivery. It returns an error only for
// malformed bodies (CodeValidation) and transient failures the provider
// should retry. Data problems are logged and acknowledged.
func (r *Reconciler) Handle(ctx context.Context, body []byte) error {
	started := time.Now()
	event, err := ParseEvent(body)
	if err != nil {
		r.logg.Warn(r.logg.WithField(ctx, "error", err.Error()), "paystack.webhook.malformed")
		r.metrics.Observe(providerName, "unknown", metrics.OutcomeRejected, time.Since(started))
		return err
	}
	name := string(event.Type())
	ctx = r.logg.WithEvent(ctx, name)

	handler, ok := r.handlers[event.Type()]
	if !ok {
		r.logg.Info(ctx, "paystack.webhook.unhandled")
		r.metrics.Observe(providerName, "unhandled", metrics.OutcomeIgnored, time.Since(started))
		return nil
	}

	key := ""
	if r.guard != nil {
		duplicate, claimKey, err := r.guard.Claim(ctx, body)
		switch {
		case err != nil:
			r.logg.Warn(r.logg.WithField(ctx, "error", err.Error()), "paystack.webhook.guard_unavailable")
		case duplicate:
			r.logg.Info(ctx, "paystack.webhook.duplicate_delivery")
			r.metrics.Observe(providerName, name, metrics.OutcomeDuplicate, time.Since(started))
			return nil
		default:
			key = claimKey
		}
	}

	err = handler(ctx, event)
	if err == nil {
		r.metrics.Observe(providerName, name, metrics.OutcomeHandled, time.Since(started))
		return nil
	}
	if pkgerrors.IsTransient(err) {
		r.logg.Error(ctx, "paystack.webhook.failed", err)
		if key != "" {
			if releaseErr := r.guard.Release(ctx, key); releaseErr != nil {
				r.logg.Warn(r.logg.WithField(ctx, "error", releaseErr.Error()), "paystack.webhook.guard_release_failed")
			}
		}
		r.metrics.Observe(providerName, name, metrics.OutcomeFailed, time.Since(started))
		return err
	}

	fields := map[string]any{"error": err.Error()}
	if typed := pkgerrors.As(err); typed != nil {
		fields["code"] = string(typed.Code())
		if details := typed.Details(); details != nil {
			fields["details"] = details
		}
	}
	r.logg.Warn(r.logg.WithFields(ctx, fields), "paystack.webhook.acknowledged_with_error")
	r.metrics.Observe(providerName, name, metrics.OutcomeIgnored, time.Since(started))
	return nil
}

// resolveUser tries the explicit user id, then the customer code mapping,
// then the customer email.
func (r *Reconciler) resolveUser(ctx context.Context, userID, customerCode, email string) (*models.User, error) {
	if id, err := uuid.Parse(strings.TrimSpace(userID)); err == nil {
		user, err := r.users.FindByID(ctx, id)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load user")
		}
		if user != nil {
			return user, nil
		}
	}
	if customerCode != "" {
		id, err := r.customers.FindUserID(ctx, customerCode)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load paystack customer")
		}
		if id != nil {
			user, err := r.users.FindByID(ctx, *id)
			if err != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load user")
			}
			if user != nil {
				return user, nil
			}
		}
	}
	user, err := r.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load user by email")
	}
	if user == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "user not resolvable").
			WithDetails(map[string]any{"customer_code": customerCode, "email": email})
	}
	return user, nil
}

func (r *Reconciler) rememberCustomer(ctx context.Context, userID uuid.UUID, customerCode string) error {
	if err := r.customers.Upsert(ctx, userID, customerCode); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "upsert paystack customer")
	}
	return nil
}

func (r *Reconciler) disable(ctx context.Context, subs []models.Subscription) {
	if r.disabler == nil || len(subs) == 0 {
		return
	}
	r.disabler.DisableAll(ctx, subs)
}

func strPtr(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}
