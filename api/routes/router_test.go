package routes

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/settla/settla-backend/internal/billing"
	"github.com/settla/settla-backend/pkg/auth"
	"github.com/settla/settla-backend/pkg/config"
	"github.com/settla/settla-backend/pkg/db/models"
	"github.com/settla/settla-backend/pkg/enums"
	"github.com/settla/settla-backend/pkg/logger"
	"github.com/settla/settla-backend/pkg/metrics"
	"github.com/settla/settla-backend/pkg/pagination"
	"github.com/settla/settla-backend/pkg/paystack"
)

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error {
	return s.err
}

type stubBilling struct{}

func (stubBilling) CurrentSubscription(_ context.Context, agentID uuid.UUID) (*billing.SubscriptionView, error) {
	return &billing.SubscriptionView{TierName: enums.TierBasic}, nil
}

func (stubBilling) ListSubscriptions(context.Context, uuid.UUID, pagination.Params) (pagination.Page[models.Subscription], error) {
	return pagination.Page[models.Subscription]{}, nil
}

func (stubBilling) Cancel(context.Context, billing.Actor, uuid.UUID) (*models.Subscription, error) {
	return &models.Subscription{}, nil
}

func (stubBilling) ChangeTier(context.Context, billing.Actor, uuid.UUID, billing.ChangeTierInput) (*models.Subscription, error) {
	return &models.Subscription{}, nil
}

func (stubBilling) ListPayments(context.Context, billing.PaymentFilter) (pagination.Page[models.Payment], error) {
	return pagination.Page[models.Payment]{}, nil
}

func (stubBilling) UpdatePayment(context.Context, billing.Actor, uuid.UUID, billing.UpdatePaymentInput) (*models.Payment, error) {
	return &models.Payment{}, nil
}

func (stubBilling) RecordManualPayment(context.Context, billing.Actor, billing.ManualPaymentInput) (*billing.ManualPaymentResult, error) {
	return &billing.ManualPaymentResult{}, nil
}

type stubWebhooks struct{ calls int }

func (s *stubWebhooks) Handle(context.Context, []byte) error {
	s.calls++
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		App:      config.AppConfig{Env: "dev"},
		JWT:      config.JWTConfig{Secret: "secret", Issuer: "settla", ExpirationMinutes: 60},
		Paystack: config.PaystackConfig{SecretKey: "sk_test"},
	}
}

func newTestRouter(t *testing.T, db stubPinger, hooks *stubWebhooks) http.Handler {
	t.Helper()
	cfg := testConfig()
	client, err := paystack.NewClient(cfg.Paystack.SecretKey)
	if err != nil {
		t.Fatalf("paystack client: %v", err)
	}
	reg := prometheus.NewRegistry()
	metrics.NewWebhookMetrics(reg).Observe("paystack", "charge.success", metrics.OutcomeHandled, time.Millisecond)
	return NewRouter(RouterParams{
		Config:   cfg,
		Logger:   logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
		DB:       db,
		Gatherer: reg,
		Billing:  stubBilling{},
		Webhooks: hooks,
		Paystack: client,
	})
}

func bearer(t *testing.T, role enums.UserRole) string {
	t.Helper()
	token, err := auth.MintAccessToken(testConfig().JWT, time.Now(), auth.AccessTokenPayload{UserID: uuid.New(), Role: role})
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	return "Bearer " + token
}

func TestHealthRoutes(t *testing.T) {
	router := newTestRouter(t, stubPinger{}, &stubWebhooks{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("live: expected 200, got %d", rec.Code)
	}
	if rec.Header().Get("X-Settla-Env") != "dev" {
		t.Fatalf("missing env header")
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("ready: expected 200, got %d", rec.Code)
	}
}

func TestReadyFailsWhenDatabaseDown(t *testing.T) {
	router := newTestRouter(t, stubPinger{err: context.DeadlineExceeded}, &stubWebhooks{})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	router := newTestRouter(t, stubPinger{}, &stubWebhooks{})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "settla_webhook") {
		t.Fatalf("expected webhook metrics in exposition, got %s", rec.Body.String())
	}
}

func TestAgentRoutesRequireAgentToken(t *testing.T) {
	router := newTestRouter(t, stubPinger{}, &stubWebhooks{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/agent/subscription", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/agent/subscription", nil)
	req.Header.Set("Authorization", bearer(t, enums.UserRoleBuyer))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for buyer, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/agent/subscription", nil)
	req.Header.Set("Authorization", bearer(t, enums.UserRoleAgent))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for agent, got %d", rec.Code)
	}
}

func TestAdminRoutesRejectAgents(t *testing.T) {
	router := newTestRouter(t, stubPinger{}, &stubWebhooks{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/payments", nil)
	req.Header.Set("Authorization", bearer(t, enums.UserRoleAgent))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/admin/payments", nil)
	req.Header.Set("Authorization", bearer(t, enums.UserRoleAdmin))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin, got %d", rec.Code)
	}
}

func TestPaystackWebhookRouteVerifiesSignature(t *testing.T) {
	hooks := &stubWebhooks{}
	router := newTestRouter(t, stubPinger{}, hooks)
	body := `{"event":"charge.success","data":{"reference":"ref"}}`

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/paystack", strings.NewReader(body))
	req.Header.Set(paystack.SignatureHeader, "bogus")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad signature, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/paystack", strings.NewReader(body))
	req.Header.Set(paystack.SignatureHeader, paystack.Sign([]byte(body), "sk_test"))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for signed delivery, got %d", rec.Code)
	}
	if hooks.calls != 1 {
		t.Fatalf("expected one reconciler call, got %d", hooks.calls)
	}
}
