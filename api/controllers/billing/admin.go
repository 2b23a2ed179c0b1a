package billing

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/settla/settla-backend/api/controllers/actorcontext"
	"github.com/settla/settla-backend/api/responses"
	"github.com/settla/settla-backend/api/validators"
	"github.com/settla/settla-backend/internal/activity"
	billingsvc "github.com/settla/settla-backend/internal/billing"
	"github.com/settla/settla-backend/pkg/db/models"
	pkgerrors "github.com/settla/settla-backend/pkg/errors"
	"github.com/settla/settla-backend/pkg/logger"
	"github.com/settla/settla-backend/pkg/pagination"
)

// AdminService is the subset of the billing service the admin routes use.
type AdminService interface {
	Cancel(ctx context.Context, actor billingsvc.Actor, agentID uuid.UUID) (*models.Subscription, error)
	ChangeTier(ctx context.Context, actor billingsvc.Actor, agentID uuid.UUID, input billingsvc.ChangeTierInput) (*models.Subscription, error)
	ListPayments(ctx context.Context, filter billingsvc.PaymentFilter) (pagination.Page[models.Payment], error)
	UpdatePayment(ctx context.Context, actor billingsvc.Actor, paymentID uuid.UUID, input billingsvc.UpdatePaymentInput) (*models.Payment, error)
	RecordManualPayment(ctx context.Context, actor billingsvc.Actor, input billingsvc.ManualPaymentInput) (*billingsvc.ManualPaymentResult, error)
}

// ActivityLister pages the activity log.
type ActivityLister interface {
	List(ctx context.Context, params activity.ListParams) (pagination.Page[models.ActivityLog], error)
}

func AdminCancelSubscription(svc AdminService, logg *logger.Logger) http.HandlerFunc {
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
		agentID, err := actorcontext.URLUUID(r, "agentId")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		sub, err := svc.Cancel(ctx, actor, agentID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, sub)
	}
}

// AdminChangeSubscription manually grants a tier to an agent.
func AdminChangeSubscription(svc AdminService, logg *logger.Logger) http.HandlerFunc {
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
		agentID, err := actorcontext.URLUUID(r, "agentId")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var input billingsvc.ChangeTierInput
		if err := validators.DecodeJSONBody(r, &input); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		sub, err := svc.ChangeTier(ctx, actor, agentID, input)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, sub)
	}
}

func AdminPayments(svc AdminService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "billing service unavailable"))
			return
		}
		params, err := pageParams(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		query := r.URL.Query()
		filter := billingsvc.PaymentFilter{
			Status:   strings.TrimSpace(query.Get("status")),
			Provider: strings.TrimSpace(query.Get("provider")),
			Purpose:  strings.TrimSpace(query.Get("purpose")),
			Limit:    params.Limit,
			Cursor:   params.Cursor,
		}
		if raw := strings.TrimSpace(query.Get("user_id")); raw != "" {
			userID, err := uuid.Parse(raw)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid user_id"))
				return
			}
			filter.UserID = &userID
		}

		page, err := svc.ListPayments(ctx, filter)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, page)
	}
}

func AdminUpdatePayment(svc AdminService, logg *logger.Logger) http.HandlerFunc {
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
		paymentID, err := actorcontext.URLUUID(r, "paymentId")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var input billingsvc.UpdatePaymentInput
		if err := validators.DecodeJSONBody(r, &input); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		payment, err := svc.UpdatePayment(ctx, actor, paymentID, input)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, payment)
	}
}

// AdminManualPayment records an offline payment and, for successful
// subscription payments, grants the tier.
func AdminManualPayment(svc AdminService, logg *logger.Logger) http.HandlerFunc {
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

		var input billingsvc.ManualPaymentInput
		if err := validators.DecodeJSONBody(r, &input); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		input.Reference = validators.SanitizeString(input.Reference, 100)

		result, err := svc.RecordManualPayment(ctx, actor, input)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}

func AdminActivity(svc ActivityLister, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "activity log unavailable"))
			return
		}
		params, err := pageParams(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		query := r.URL.Query()
		page, err := svc.List(ctx, activity.ListParams{
			Category: strings.ToUpper(strings.TrimSpace(query.Get("category"))),
			Action:   strings.ToUpper(strings.TrimSpace(query.Get("action"))),
			Limit:    params.Limit,
			Cursor:   params.Cursor,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, page)
	}
}
