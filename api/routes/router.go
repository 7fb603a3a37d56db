package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shopmall/shopmall-backend/api/controllers"
	webhookcontrollers "github.com/shopmall/shopmall-backend/api/controllers/webhooks"
	"github.com/shopmall/shopmall-backend/api/middleware"
	"github.com/shopmall/shopmall-backend/internal/orders"
	"github.com/shopmall/shopmall-backend/internal/payments"
	"github.com/shopmall/shopmall-backend/internal/points"
	tosswebhook "github.com/shopmall/shopmall-backend/internal/webhooks/toss"
	"github.com/shopmall/shopmall-backend/pkg/config"
	"github.com/shopmall/shopmall-backend/pkg/logger"
	"github.com/shopmall/shopmall-backend/pkg/toss"
)

// RouterParams carries everything the HTTP surface depends on.
type RouterParams struct {
	Config       *config.Config
	Logger       *logger.Logger
	ReadyChecks  map[string]controllers.Pinger
	Orders       orders.Service
	Payments     payments.Service
	Points       points.Service
	TossClient   *toss.Client
	TossWebhook  *tosswebhook.Service
	WebhookGuard *tosswebhook.IdempotencyGuard
}

func NewRouter(p RouterParams) http.Handler {
	cfg := p.Config
	logg := p.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, p.ReadyChecks))
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/public", func(r chi.Router) {
		r.Get("/ping", controllers.PublicPing())
	})

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/toss", webhookcontrollers.TossWebhook(p.TossWebhook, p.TossClient, p.WebhookGuard, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))

		r.Route("/orders", func(r chi.Router) {
			r.Post("/", controllers.OrderPlace(p.Orders, logg))
			r.Get("/", controllers.OrderList(p.Orders, logg))
			r.Get("/{orderId}", controllers.OrderDetail(p.Orders, logg))
		})

		r.Route("/payments", func(r chi.Router) {
			r.Post("/request", controllers.PaymentRequest(p.Payments, logg))
			r.Post("/confirm", controllers.PaymentConfirm(p.Payments, logg))
			r.Post("/confirm-async", controllers.PaymentConfirmAsync(p.Payments, logg))
			r.Post("/cancel", controllers.PaymentCancel(p.Payments, logg))
			r.Post("/fail", controllers.PaymentFail(p.Payments, logg))
			r.Get("/", controllers.PaymentList(p.Payments, logg))
			r.Get("/{paymentId}", controllers.PaymentDetail(p.Payments, logg))
		})

		r.Get("/points/history", controllers.PointHistory(p.Points, logg))
	})

	return r
}
