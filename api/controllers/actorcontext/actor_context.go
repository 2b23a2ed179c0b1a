package actorcontext

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/settla/settla-backend/api/middleware"
	"github.com/settla/settla-backend/internal/billing"
	"github.com/settla/settla-backend/pkg/enums"
	pkgerrors "github.com/settla/settla-backend/pkg/errors"
)

// ResolveActor extracts the authenticated caller seeded by the auth middleware.
func ResolveActor(r *http.Request) (billing.Actor, error) {
	ctx := r.Context()
	userID := middleware.UserIDFromContext(ctx)
	if userID == "" {
		return billing.Actor{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context required")
	}

	id, err := uuid.Parse(userID)
	if err != nil {
		return billing.Actor{}, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid user id")
	}

	role, err := enums.ParseUserRole(middleware.RoleFromContext(ctx))
	if err != nil {
		return billing.Actor{}, pkgerrors.Wrap(pkgerrors.CodeForbidden, err, "invalid role")
	}
	return billing.Actor{ID: id, Role: role}, nil
}

// URLUUID parses a uuid route parameter.
func URLUUID(r *http.Request, name string) (uuid.UUID, error) {
	raw := chi.URLParam(r, name)
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, name+" is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid "+name)
	}
	return id, nil
}
