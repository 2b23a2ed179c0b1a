package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/settla/settla-backend/api/controllers"
	billingcontrollers "github.com/settla/settla-backend/api/controllers/billing"
	webhookcontrollers "github.com/settla/settla-backend/api/controllers/webhooks"
	"github.com/settla/settla-backend/api/middleware"
	"github.com/settla/settla-backend/internal/billing"
	"github.com/settla/settla-backend/internal/listings"
	"github.com/settla/settla-backend/internal/notifications"
	"github.com/settla/settla-backend/pkg/config"
	"github.com/settla/settla-backend/pkg/enums"
	"github.com/settla/settla-backend/pkg/logger"
	"github.com/settla/settla-backend/pkg/paystack"
	"github.com/settla/settla-backend/pkg/redis"
)

const (
	webhookRateWindow = time.Minute
	webhookRateLimit  = 600
)

// RouterParams groups everything the HTTP surface is wired to.
type RouterParams struct {
	Config        *config.Config
	Logger        *logger.Logger
	DB            controllers.Pinger
	Redis         *redis.Client
	Gatherer      prometheus.Gatherer
	Catalog       billingcontrollers.TierService
	Billing       billing.Service
	Checkout      billingcontrollers.CheckoutService
	Listings      listings.Service
	Notifications notifications.Service
	Activity      billingcontrollers.ActivityLister
	Webhooks      webhookcontrollers.PaystackWebhookService
	Paystack      *paystack.Client
	CORSOrigins   []string
}

func NewRouter(p RouterParams) http.Handler {
	cfg, logg := p.Config, p.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(p.CORSOrigins),
	)

	deps := map[string]controllers.Pinger{"db": p.DB}
	if p.Redis != nil {
		deps["redis"] = p.Redis
	}
	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, deps, logg))
	})

	gatherer := p.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Get("/api/v1/tiers", billingcontrollers.ListTiers(p.Catalog, logg))

	var verifier interface {
		VerifySignature(payload []byte, header string) bool
	}
	if p.Paystack != nil && cfg.Paystack.SecretKey != "" {
		verifier = p.Paystack
	}
	r.Route("/api/v1/webhooks", func(r chi.Router) {
		if p.Redis != nil {
			r.Use(middleware.RateLimit(middleware.NewRateLimitPolicy("webhook", webhookRateWindow, webhookRateLimit), p.Redis, logg))
		}
		r.Post("/paystack", webhookcontrollers.PaystackWebhook(p.Webhooks, verifier, logg))
	})

	r.Route("/api/v1/agent", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RequireRole(string(enums.UserRoleAgent), logg))
		if p.Redis != nil {
			r.Use(middleware.Idempotency(p.Redis, logg))
		}

		r.Get("/subscription", billingcontrollers.AgentSubscription(p.Billing, logg))
		r.Get("/subscriptions", billingcontrollers.AgentSubscriptions(p.Billing, logg))
		r.Post("/subscriptions/cancel", billingcontrollers.AgentCancelSubscription(p.Billing, logg))
		r.Post("/payments/initialize", billingcontrollers.AgentInitializePayment(p.Checkout, logg))
		r.Get("/payments", billingcontrollers.AgentPayments(p.Billing, logg))
		r.Post("/listings", controllers.CreateListing(p.Listings, logg))
		r.Put("/listings/featured", controllers.SetFeaturedListings(p.Listings, logg))
		r.Get("/notifications", controllers.ListNotifications(p.Notifications, logg))
		r.Post("/notifications/read-all", controllers.MarkAllNotificationsRead(p.Notifications, logg))
		r.Post("/notifications/{notificationId}/read", controllers.MarkNotificationRead(p.Notifications, logg))
	})

	r.Route("/api/v1/admin", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RequireRole(string(enums.UserRoleAdmin), logg))
		if p.Redis != nil {
			r.Use(middleware.Idempotency(p.Redis, logg))
		}

		r.Get("/tiers", billingcontrollers.ListTiers(p.Catalog, logg))
		r.Post("/tiers", billingcontrollers.AdminCreateTier(p.Catalog, logg))
		r.Put("/tiers/{tierId}", billingcontrollers.AdminUpdateTier(p.Catalog, logg))
		r.Delete("/tiers/{tierId}", billingcontrollers.AdminDeleteTier(p.Catalog, logg))
		r.Post("/subscriptions/{agentId}/cancel", billingcontrollers.AdminCancelSubscription(p.Billing, logg))
		r.Post("/subscriptions/{agentId}/change", billingcontrollers.AdminChangeSubscription(p.Billing, logg))
		r.Get("/payments", billingcontrollers.AdminPayments(p.Billing, logg))
		r.Post("/payments/manual", billingcontrollers.AdminManualPayment(p.Billing, logg))
		r.Put("/payments/{paymentId}", billingcontrollers.AdminUpdatePayment(p.Billing, logg))
		r.Get("/activity", billingcontrollers.AdminActivity(p.Activity, logg))
	})

	return r
}
