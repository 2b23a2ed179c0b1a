package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/settla/settla-backend/internal/activity"
	"github.com/settla/settla-backend/internal/catalog"
	"github.com/settla/settla-backend/internal/cron"
	"github.com/settla/settla-backend/internal/notifications"
	"github.com/settla/settla-backend/internal/subscriptions"
	"github.com/settla/settla-backend/internal/users"
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

func main() {
	once := flag.Bool("once", false, "run every job a single time and exit")
	flag.Parse()

	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
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

	// Sweeps still run without a Paystack key; the provider-side disable is skipped.
	var provider subscriptions.ProviderClient
	if cfg.Paystack.SecretKey != "" {
		client, err := paystack.NewClient(
			cfg.Paystack.SecretKey,
			paystack.WithBaseURL(cfg.Paystack.BaseURL),
			paystack.WithTimeout(cfg.Paystack.Timeout),
			paystack.WithRetry(cfg.Paystack.MaxRetries, 0),
		)
		if err != nil {
			logg.Error(context.Background(), "failed to create paystack client", err)
			os.Exit(1)
		}
		provider = client
	} else {
		logg.Warn(context.Background(), "paystack secret missing; provider subscriptions will not be disabled")
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

	ledger, err := subscriptions.NewLedger(subscriptions.LedgerParams{
		TransactionRunner: dbClient,
		Repo:              subscriptions.NewRepository(conn),
		Users:             userRepo,
		Tiers:             catalog.NewRepository(conn),
		FreeTier:          cfg.Billing.FreeTier,
		Logger:            logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create subscription ledger", err)
		os.Exit(1)
	}

	activitySink, err := activity.NewSink(activity.NewRepository(conn), logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create activity sink", err)
		os.Exit(1)
	}

	notifier, err := notifications.NewSink(notifications.SinkParams{
		Repo:   notifications.NewRepository(conn),
		Users:  userRepo,
		Email:  email,
		Logger: logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create notification sink", err)
		os.Exit(1)
	}

	metricsCollector := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)

	expiryJob, err := cron.NewSubscriptionExpiryJob(cron.SubscriptionExpiryJobParams{
		Logger: logg,
		Ledger: ledger,
		Disabler: subscriptions.NewDisabler(subscriptions.DisablerParams{
			Client: provider,
			Logger: logg,
		}),
		Notifier: notifier,
		Activity: activitySink,
		Metrics:  metricsCollector,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create subscription expiry job", err)
		os.Exit(1)
	}

	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey("cron-worker:"+lockEnv(cfg.App.Env)), cfg.Cron.LockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: cron.NewRegistry(expiryJob),
		Lock:     lock,
		Metrics:  metricsCollector,
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"instance":    instance.ID(),
		"once":        *once,
	})
	logg.Info(ctx, "starting cron worker")

	if *once {
		if err := service.RunOnce(ctx); err != nil {
			logg.Error(ctx, "cron cycle failed", err)
			os.Exit(1)
		}
		return
	}

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func lockEnv(env string) string {
	if env == "" {
		return "local"
	}
	return env
}
