package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hackgods/vetclinic-core/internal/appointment"
	"github.com/hackgods/vetclinic-core/internal/invoice"
	"github.com/hackgods/vetclinic-core/internal/metrics"
)

type RouterConfig struct {
	Appointments *appointment.Service
	Invoices     *invoice.Service

	// Optional dependencies; nil ones are reported as disabled by readiness.
	PgPool *pgxpool.Pool
	Redis  *redis.Client

	Logger   zerolog.Logger
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer

	Env     string
	Version string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(middleware.Recoverer)
	if cfg.Metrics != nil {
		r.Use(MetricsMiddleware(cfg.Metrics))
	}

	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/appointments", func(r chi.Router) {
		r.Post("/", proposeAppointmentHandler(cfg.Appointments))
		r.Get("/{id}", getAppointmentHandler(cfg.Appointments))
		r.Post("/{id}/transition", transitionAppointmentHandler(cfg.Appointments))
		r.Delete("/{id}", archiveAppointmentHandler(cfg.Appointments))
	})

	r.Route("/practitioners/{id}", func(r chi.Router) {
		r.Get("/agenda", agendaHandler(cfg.Appointments))
		r.Get("/availability", availabilityHandler(cfg.Appointments))
	})

	r.Route("/invoices", func(r chi.Router) {
		r.Post("/", openInvoiceHandler(cfg.Invoices))
		r.Get("/{id}", getInvoiceHandler(cfg.Invoices))
		r.Post("/{id}/items", addItemHandler(cfg.Invoices))
		r.Post("/{id}/payments", recordPaymentHandler(cfg.Invoices))
		r.Get("/{id}/balance", balanceHandler(cfg.Invoices))
	})

	return r
}
