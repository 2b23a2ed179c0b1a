package billing

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/settla/settla-backend/api/controllers/actorcontext"
	"github.com/settla/settla-backend/api/responses"
	"github.com/settla/settla-backend/api/validators"
	billingsvc "github.com/settla/settla-backend/internal/billing"
	"github.com/settla/settla-backend/internal/checkout"
	"github.com/settla/settla-backend/pkg/db/models"
	pkgerrors "github.com/settla/settla-backend/pkg/errors"
	"github.com/settla/settla-backend/pkg/logger"
	"github.com/settla/settla-backend/pkg/pagination"
)

// SubscriptionService is the subset of the billing service the agent routes use.
type SubscriptionService interface {
	CurrentSubscription(ctx context.Context, agentID uuid.UUID) (*billingsvc.SubscriptionView, error)
	ListSubscriptions(ctx context.Context, agentID uuid.UUID, params pagination.Params) (pagination.Page[models.Subscription], error)
	Cancel(ctx context.Context, actor billingsvc.Actor, agentID uuid.UUID) (*models.Subscription, error)
	ListPayments(ctx context.Context, filter billingsvc.PaymentFilter) (pagination.Page[models.Payment], error)
}

// CheckoutService starts a hosted Paystack checkout.
type CheckoutService interface {
	Initialize(ctx context.Context, agentID uuid.UUID, input checkout.InitializeInput) (*checkout.InitializeResult, error)
}

// AgentSubscription returns the caller's active subscription, provisioning the
// free tier when none exists.
func AgentSubscription(svc SubscriptionService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "billing service unavailable"))
			return
		}
		actor, err := actorcontext.ResolveActor(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		view, err := svc.CurrentSubscription(ctx, actor.ID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, view)
	}
}

func AgentSubscriptions(svc SubscriptionService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "billing service unavailable"))
			return
		}
		actor, err := actorcontext.ResolveActor(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		params, err := pageParams(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		page, err := svc.ListSubscriptions(ctx, actor.ID, params)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, page)
	}
}

func AgentCancelSubscription(svc SubscriptionService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "billing service unavailable"))
			return
		}
		actor, err := actorcontext.ResolveActor(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		sub, err := svc.Cancel(ctx, actor, actor.ID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, sub)
	}
}

func AgentPayments(svc SubscriptionService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "billing service unavailable"))
			return
		}
		actor, err := actorcontext.ResolveActor(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		params, err := pageParams(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		query := r.URL.Query()
		page, err := svc.ListPayments(ctx, billingsvc.PaymentFilter{
			UserID:  &actor.ID,
			Status:  strings.TrimSpace(query.Get("status")),
			Purpose: strings.TrimSpace(query.Get("purpose")),
			Limit:   params.Limit,
			Cursor:  params.Cursor,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, page)
	}
}

// AgentInitializePayment records a pending payment and returns the hosted
// checkout URL.
func AgentInitializePayment(svc CheckoutService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}
		actor, err := actorcontext.ResolveActor(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var input checkout.InitializeInput
		if err := validators.DecodeJSONBody(r, &input); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		input.Reference = validators.SanitizeString(input.Reference, 100)

		result, err := svc.Initialize(ctx, actor.ID, input)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}

func pageParams(r *http.Request) (pagination.Params, error) {
	limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
	if err != nil {
		return pagination.Params{}, err
	}
	return pagination.Params{Limit: limit, Cursor: strings.TrimSpace(r.URL.Query().Get("cursor"))}, nil
}
