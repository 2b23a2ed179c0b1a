package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/settla/settla-backend/api/routes"
	"github.com/settla/settla-backend/internal/activity"
	"github.com/settla/settla-backend/internal/billing"
	"github.com/settla/settla-backend/internal/catalog"
	"github.com/settla/settla-backend/internal/checkout"
	"github.com/settla/settla-backend/internal/features"
	"github.com/settla/settla-backend/internal/listings"
	"github.com/settla/settla-backend/internal/notifications"
	"github.com/settla/settla-backend/internal/payments"
	"github.com/settla/settla-backend/internal/subscriptions"
	"github.com/settla/settla-backend/internal/users"
	paystackwebhook "github.com/settla/settla-backend/internal/webhooks/paystack"
	"github.com/settla/settla-backend/pkg/config"
	"github.com/settla/settla-backend/pkg/db"
	"github.com/settla/settla-backend/pkg/instance"
	"github.com/settla/settla-backend/pkg/logger"
	"github.com/settla/settla-backend/pkg/metrics"
	"github.com/settla/settla-backend/pkg/migrate"
	"github.com/settla/settla-backend/pkg/paystack"
	"github.com/settla/settla-backend/pkg/pubsub"
	"github.com/settla/settla-backend/pkg/redis"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	paystackClient, err := paystack.NewClient(
		cfg.Paystack.SecretKey,
		paystack.WithBaseURL(cfg.Paystack.BaseURL),
		paystack.WithTimeout(cfg.Paystack.Timeout),
		paystack.WithRetry(cfg.Paystack.MaxRetries, 0),
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create paystack client", err)
		os.Exit(1)
	}

	var email notifications.EmailPublisher
	if cfg.PubSub.Enabled() {
		pubsubClient, err := pubsub.NewClient(context.Background(), cfg.GCP, cfg.PubSub, logg)
		if err != nil {
			logg.Error(context.Background(), "failed to bootstrap pubsub", err)
			os.Exit(1)
		}
		defer func() {
			if err := pubsubClient.Close(); err != nil {
				logg.Error(context.Background(), "error closing pubsub", err)
			}
		}()
		email = pubsubClient
	}

	conn := dbClient.DB()
	userRepo := users.NewRepository(conn)
	tierRepo := catalog.NewRepository(conn)
	listingRepo := listings.NewRepository(conn)
	notificationRepo := notifications.NewRepository(conn)
	paymentLedger := payments.NewLedger(conn, cfg.Billing.Currency)

	activitySink, err := activity.NewSink(activity.NewRepository(conn), logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create activity sink", err)
		os.Exit(1)
	}

	notifier, err := notifications.NewSink(notifications.SinkParams{
		Repo:   notificationRepo,
		Users:  userRepo,
		Email:  email,
		Logger: logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create notification sink", err)
		os.Exit(1)
	}

	notificationService, err := notifications.NewService(notificationRepo)
	if err != nil {
		logg.Error(context.Background(), "failed to create notifications service", err)
		os.Exit(1)
	}

	catalogService, err := catalog.NewService(catalog.ServiceParams{
		Repo:              tierRepo,
		TransactionRunner: dbClient,
		Activity:          activitySink,
		Limits:            cfg.Billing.Limits(),
		Currency:          cfg.Billing.Currency,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create catalog service", err)
		os.Exit(1)
	}

	ledger, err := subscriptions.NewLedger(subscriptions.LedgerParams{
		TransactionRunner: dbClient,
		Repo:              subscriptions.NewRepository(conn),
		Users:             userRepo,
		Tiers:             tierRepo,
		FreeTier:          cfg.Billing.FreeTier,
		Logger:            logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create subscription ledger", err)
		os.Exit(1)
	}

	disabler := subscriptions.NewDisabler(subscriptions.DisablerParams{
		Client: paystackClient,
		Logger: logg,
		Async:  true,
	})
	defer disabler.Wait()

	gate, err := features.NewGate(features.GateParams{
		Limits:        cfg.Billing.Limits(),
		FreeTier:      cfg.Billing.FreeTier,
		Subscriptions: ledger,
		Tiers:         tierRepo,
		Listings:      listingRepo,
		Logger:        logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create feature gate", err)
		os.Exit(1)
	}

	billingService, err := billing.NewService(billing.ServiceParams{
		Ledger:   ledger,
		Payments: paymentLedger,
		Tiers:    catalogService,
		Limits:   gate,
		Users:    userRepo,
		Disabler: disabler,
		Notifier: notifier,
		Activity: activitySink,
		Logger:   logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create billing service", err)
		os.Exit(1)
	}

	checkoutService, err := checkout.NewService(checkout.ServiceParams{
		Plans:       catalogService,
		Users:       userRepo,
		Payments:    paymentLedger,
		Provider:    paystackClient,
		Limiter:     redisClient,
		Activity:    activitySink,
		Logger:      logg,
		CallbackURL: cfg.Paystack.CallbackURL,
		PerMinute:   cfg.Billing.CheckoutPerMinute,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create checkout service", err)
		os.Exit(1)
	}

	listingService, err := listings.NewService(listings.ServiceParams{
		Repo:              listingRepo,
		Gate:              gate,
		TransactionRunner: dbClient,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create listings service", err)
		os.Exit(1)
	}

	guard, err := paystackwebhook.NewDeliveryGuard(redisClient, cfg.Billing.WebhookDedupeTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook guard", err)
		os.Exit(1)
	}

	reconciler, err := paystackwebhook.NewReconciler(paystackwebhook.ReconcilerParams{
		Ledger:      ledger,
		Payments:    paymentLedger,
		Users:       userRepo,
		Customers:   users.NewCustomerRepository(conn),
		Catalog:     tierRepo,
		Disabler:    disabler,
		Notifier:    notifier,
		Activity:    activitySink,
		Guard:       guard,
		Metrics:     metrics.NewWebhookMetrics(prometheus.DefaultRegisterer),
		Logger:      logg,
		GracePeriod: cfg.Billing.GracePeriod(),
		LinkWindow:  cfg.Billing.PaymentLinkWindow,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook reconciler", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": instance.ID(),
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.RouterParams{
			Config:        cfg,
			Logger:        logg,
			DB:            dbClient,
			Redis:         redisClient,
			Gatherer:      prometheus.DefaultGatherer,
			Catalog:       catalogService,
			Billing:       billingService,
			Checkout:      checkoutService,
			Listings:      listingService,
			Notifications: notificationService,
			Activity:      activitySink,
			Webhooks:      reconciler,
			Paystack:      paystackClient,
			CORSOrigins:   cfg.App.CORSOrigins,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-sigCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "api server shutdown failed", err)
		}
		logg.Info(ctx, "api server stopped")
	}
}
