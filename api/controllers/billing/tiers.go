package billing

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/settla/settla-backend/api/controllers/actorcontext"
	"github.com/settla/settla-backend/api/responses"
	"github.com/settla/settla-backend/api/validators"
	"github.com/settla/settla-backend/internal/catalog"
	pkgerrors "github.com/settla/settla-backend/pkg/errors"
	"github.com/settla/settla-backend/pkg/logger"
)

// TierService manages the plan catalog.
type TierService interface {
	ListTiers(ctx context.Context) ([]catalog.TierView, error)
	CreateTier(ctx context.Context, actorID uuid.UUID, input catalog.CreateTierInput) (*catalog.TierView, error)
	UpdateTier(ctx context.Context, actorID, tierID uuid.UUID, input catalog.UpdateTierInput) (*catalog.TierView, error)
	DeleteTier(ctx context.Context, actorID, tierID uuid.UUID) error
}

// ListTiers returns every tier with its plans and limits. It is mounted both
// publicly and under the admin group.
func ListTiers(svc TierService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "catalog service unavailable"))
			return
		}
		tiers, err := svc.ListTiers(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, tiers)
	}
}

func AdminCreateTier(svc TierService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "catalog service unavailable"))
			return
		}
		actor, err := actorcontext.ResolveActor(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var input catalog.CreateTierInput
		if err := validators.DecodeJSONBody(r, &input); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		input.Name = validators.SanitizeString(input.Name, 64)
		input.Description = validators.SanitizeString(input.Description, 500)

		view, err := svc.CreateTier(ctx, actor.ID, input)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, view)
	}
}

func AdminUpdateTier(svc TierService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "catalog service unavailable"))
			return
		}
		actor, err := actorcontext.ResolveActor(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		tierID, err := actorcontext.URLUUID(r, "tierId")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var input catalog.UpdateTierInput
		if err := validators.DecodeJSONBody(r, &input); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if input.Description != nil {
			desc := validators.SanitizeString(*input.Description, 500)
			input.Description = &desc
		}

		view, err := svc.UpdateTier(ctx, actor.ID, tierID, input)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, view)
	}
}

func AdminDeleteTier(svc TierService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "catalog service unavailable"))
			return
		}
		actor, err := actorcontext.ResolveActor(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		tierID, err := actorcontext.URLUUID(r, "tierId")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		if err := svc.DeleteTier(ctx, actor.ID, tierID); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]bool{"deleted": true})
	}
}
