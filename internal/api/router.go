package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/hackgods/pms-scheduling/internal/appointment"
)

type RouterConfig struct {
	Service  *appointment.Service
	DB       Pinger
	Redis    Pinger
	Logger   zerolog.Logger
	Registry *prometheus.Registry
	Env      string
	Version  string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Apply middleware
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	if cfg.Registry != nil {
		r.Use(NewHTTPMetrics(cfg.Registry).Middleware)
	}

	// Health endpoints
	health := NewHealthHandler(cfg.DB, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	if cfg.Registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Registry, promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(r chi.Router) {
		// Availability reads are public
		r.Get("/providers/{providerID}/slots", availableSlotsHandler(cfg.Service))
		r.Get("/providers/{providerID}/availability", listRulesHandler(cfg.Service))

		r.Group(func(r chi.Router) {
			r.Use(ActorMiddleware)

			r.Put("/providers/{providerID}/availability", replaceAvailabilityHandler(cfg.Service))
			r.Post("/providers/{providerID}/slots/generate", generateSlotsHandler(cfg.Service))
			r.Post("/providers/{providerID}/slots/materialize", materializeSlotsHandler(cfg.Service))
			r.Get("/providers/{providerID}/appointments", providerAppointmentsHandler(cfg.Service))
			r.Get("/patients/{patientID}/appointments", patientAppointmentsHandler(cfg.Service))

			// Appointment endpoints
			r.Post("/appointments", bookAppointmentHandler(cfg.Service))
			r.Get("/appointments/{id}", getAppointmentHandler(cfg.Service))
			r.Post("/appointments/{id}/complete", completeAppointmentHandler(cfg.Service))
			r.Post("/appointments/{id}/status", updateStatusHandler(cfg.Service))
		})
	})

	return r
}
