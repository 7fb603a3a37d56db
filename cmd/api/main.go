package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/shopmall/shopmall-backend/api/controllers"
	"github.com/shopmall/shopmall-backend/api/routes"
	"github.com/shopmall/shopmall-backend/internal/carts"
	"github.com/shopmall/shopmall-backend/internal/orders"
	"github.com/shopmall/shopmall-backend/internal/payments"
	"github.com/shopmall/shopmall-backend/internal/points"
	"github.com/shopmall/shopmall-backend/internal/users"
	tosswebhook "github.com/shopmall/shopmall-backend/internal/webhooks/toss"
	"github.com/shopmall/shopmall-backend/pkg/config"
	"github.com/shopmall/shopmall-backend/pkg/db"
	"github.com/shopmall/shopmall-backend/pkg/logger"
	"github.com/shopmall/shopmall-backend/pkg/metrics"
	"github.com/shopmall/shopmall-backend/pkg/migrate"
	"github.com/shopmall/shopmall-backend/pkg/outbox"
	"github.com/shopmall/shopmall-backend/pkg/redis"
	"github.com/shopmall/shopmall-backend/pkg/toss"
)

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

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	tossClient, err := toss.NewClient(cfg.Toss)
	if err != nil {
		logg.Error(context.Background(), "failed to build toss client", err)
		os.Exit(1)
	}

	settlementMetrics := metrics.NewSettlementMetrics(prometheus.DefaultRegisterer)

	usersRepo := users.NewRepository(dbClient.DB())
	cartsRepo := carts.NewRepository(dbClient.DB())
	ordersRepo := orders.NewRepository(dbClient.DB())
	paymentsRepo := payments.NewRepository(dbClient.DB())
	pointsRepo := points.NewRepository(dbClient.DB())
	outboxSvc := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)

	pointsSvc, err := points.NewService(pointsRepo)
	if err != nil {
		logg.Error(context.Background(), "failed to create points service", err)
		os.Exit(1)
	}

	ordersSvc, err := orders.NewService(ordersRepo, dbClient, cartsRepo, pointsSvc, outboxSvc)
	if err != nil {
		logg.Error(context.Background(), "failed to create orders service", err)
		os.Exit(1)
	}

	paymentsSvc, err := payments.NewService(
		paymentsRepo,
		ordersRepo,
		cartsRepo,
		dbClient,
		tossClient,
		pointsSvc,
		usersRepo,
		outboxSvc,
		settlementMetrics,
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create payments service", err)
		os.Exit(1)
	}

	webhookSvc, err := tosswebhook.NewService(tosswebhook.ServiceParams{
		Payments: paymentsSvc,
		Repo:     paymentsRepo,
		Logger:   logg,
		Metrics:  settlementMetrics,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook service", err)
		os.Exit(1)
	}

	webhookGuard, err := tosswebhook.NewIdempotencyGuard(redisClient, cfg.Eventing.WebhookDedupTTL, "toss-webhook")
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook idempotency guard", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.RouterParams{
			Config: cfg,
			Logger: logg,
			ReadyChecks: map[string]controllers.Pinger{
				"db":    dbClient,
				"redis": redisClient,
			},
			Orders:       ordersSvc,
			Payments:     paymentsSvc,
			Points:       pointsSvc,
			TossClient:   tossClient,
			TossWebhook:  webhookSvc,
			WebhookGuard: webhookGuard,
		}),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
