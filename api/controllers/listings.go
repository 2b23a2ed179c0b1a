package controllers

import (
	"net/http"

	"github.com/settla/settla-backend/api/controllers/actorcontext"
	"github.com/settla/settla-backend/api/responses"
	"github.com/settla/settla-backend/api/validators"
	"github.com/settla/settla-backend/internal/listings"
	pkgerrors "github.com/settla/settla-backend/pkg/errors"
	"github.com/settla/settla-backend/pkg/logger"
)

// CreateListing publishes a listing when the caller's tier has room for it.
func CreateListing(svc listings.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "listings service unavailable"))
			return
		}

		actor, err := actorcontext.ResolveActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var input listings.CreateListingInput
		if err := validators.DecodeJSONBody(r, &input); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		input.Title = validators.SanitizeString(input.Title, 200)
		input.Description = validators.SanitizeString(input.Description, 5000)

		listing, err := svc.Create(r.Context(), actor.ID, input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, listing)
	}
}

// SetFeaturedListings replaces the caller's featured set.
func SetFeaturedListings(svc listings.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "listings service unavailable"))
			return
		}

		actor, err := actorcontext.ResolveActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var input listings.SetFeaturedInput
		if err := validators.DecodeJSONBody(r, &input); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		featured, err := svc.SetFeatured(r.Context(), actor.ID, input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, featured)
	}
}
