package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/shopmall/shopmall-backend/internal/carts"
	"github.com/shopmall/shopmall-backend/internal/consumers/settlement"
	"github.com/shopmall/shopmall-backend/internal/orders"
	"github.com/shopmall/shopmall-backend/internal/payments"
	"github.com/shopmall/shopmall-backend/internal/points"
	"github.com/shopmall/shopmall-backend/internal/users"
	"github.com/shopmall/shopmall-backend/pkg/config"
	"github.com/shopmall/shopmall-backend/pkg/db"
	"github.com/shopmall/shopmall-backend/pkg/logger"
	"github.com/shopmall/shopmall-backend/pkg/metrics"
	"github.com/shopmall/shopmall-backend/pkg/outbox"
	"github.com/shopmall/shopmall-backend/pkg/outbox/idempotency"
	"github.com/shopmall/shopmall-backend/pkg/pubsub"
	"github.com/shopmall/shopmall-backend/pkg/redis"
	"github.com/shopmall/shopmall-backend/pkg/toss"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logg := logger.New(logger.Options{ServiceName: "worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(ctx, ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(ctx, "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(ctx, "error closing database", err)
		}
	}()

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(ctx, "error closing redis", err)
		}
	}()

	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap pubsub", err)
		os.Exit(1)
	}
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logg.Error(ctx, "error closing pubsub", err)
		}
	}()

	tossClient, err := toss.NewClient(cfg.Toss)
	if err != nil {
		logg.Error(ctx, "failed to build toss client", err)
		os.Exit(1)
	}

	settlementMetrics := metrics.NewSettlementMetrics(prometheus.DefaultRegisterer)

	pointsSvc, err := points.NewService(points.NewRepository(dbClient.DB()))
	if err != nil {
		logg.Error(ctx, "failed to create points service", err)
		os.Exit(1)
	}

	paymentsSvc, err := payments.NewService(
		payments.NewRepository(dbClient.DB()),
		orders.NewRepository(dbClient.DB()),
		carts.NewRepository(dbClient.DB()),
		dbClient,
		tossClient,
		pointsSvc,
		users.NewRepository(dbClient.DB()),
		outbox.NewService(outbox.NewRepository(dbClient.DB()), logg),
		settlementMetrics,
	)
	if err != nil {
		logg.Error(ctx, "failed to create payments service", err)
		os.Exit(1)
	}

	manager, err := idempotency.NewManager(redisClient, cfg.Eventing.OutboxIdempotencyTTL)
	if err != nil {
		logg.Error(ctx, "failed to create idempotency manager", err)
		os.Exit(1)
	}

	consumer, err := settlement.NewConsumer(
		pubsubClient.SettlementSubscription(),
		tossClient,
		paymentsSvc,
		manager,
		cfg.Settlement,
		logg,
		settlementMetrics,
	)
	if err != nil {
		logg.Error(ctx, "failed to create settlement consumer", err)
		os.Exit(1)
	}

	svc, err := NewService(ServiceParams{
		Config:             cfg,
		Logger:             logg,
		DB:                 dbClient,
		Redis:              redisClient,
		PubSub:             pubsubClient,
		SettlementConsumer: consumer,
	})
	if err != nil {
		logg.Error(ctx, "failed to build worker service", err)
		os.Exit(1)
	}

	logg.Info(logg.WithField(ctx, "env", cfg.App.Env), "starting settlement worker")
	if err := svc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "worker stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(context.Background(), "worker shut down gracefully")
}
