package controllers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/settla/settla-backend/internal/listings"
	"github.com/settla/settla-backend/pkg/db/models"
	pkgerrors "github.com/settla/settla-backend/pkg/errors"
)

type stubListings struct {
	createErr error
	created   listings.CreateListingInput
	featured  listings.SetFeaturedInput
}

func (s *stubListings) Create(_ context.Context, agentID uuid.UUID, input listings.CreateListingInput) (*models.Listing, error) {
	s.created = input
	if s.createErr != nil {
		return nil, s.createErr
	}
	return &models.Listing{ID: uuid.New(), AgentID: agentID, Title: input.Title}, nil
}

func (s *stubListings) SetFeatured(_ context.Context, _ uuid.UUID, input listings.SetFeaturedInput) ([]models.Listing, error) {
	s.featured = input
	return []models.Listing{}, nil
}

func TestCreateListing(t *testing.T) {
	svc := &stubListings{}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/agent/listings", strings.NewReader(`{"title":"  3 bed flat  ","price":"250000"}`))
	req = asAgent(req, uuid.New())
	rec := httptest.NewRecorder()
	CreateListing(svc, testLogger())(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}
	if svc.created.Title != "3 bed flat" {
		t.Fatalf("expected trimmed title, got %q", svc.created.Title)
	}
}

func TestCreateListingQuotaExceeded(t *testing.T) {
	svc := &stubListings{createErr: pkgerrors.New(pkgerrors.CodeQuotaExceeded, "listing limit reached for tier")}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/agent/listings", strings.NewReader(`{"title":"flat"}`))
	req = asAgent(req, uuid.New())
	rec := httptest.NewRecorder()
	CreateListing(svc, testLogger())(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestCreateListingRejectsUnknownFields(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/agent/listings", strings.NewReader(`{"title":"flat","visibility":"high"}`))
	req = asAgent(req, uuid.New())
	rec := httptest.NewRecorder()
	CreateListing(&stubListings{}, testLogger())(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestSetFeaturedListings(t *testing.T) {
	svc := &stubListings{}
	a, b := uuid.New(), uuid.New()
	req := httptest.NewRequest(http.MethodPut, "/api/v1/agent/listings/featured", strings.NewReader(`{"listing_ids":["`+a.String()+`","`+b.String()+`"]}`))
	req = asAgent(req, uuid.New())
	rec := httptest.NewRecorder()
	SetFeaturedListings(svc, testLogger())(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(svc.featured.ListingIDs) != 2 {
		t.Fatalf("unexpected ids %v", svc.featured.ListingIDs)
	}
}
