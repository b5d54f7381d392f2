package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/medisched/scheduling/internal/appointment"
)

type RouterConfig struct {
	Service           *appointment.Service
	PgPool            *pgxpool.Pool
	Redis             *redis.Client
	Logger            zerolog.Logger
	Env               string
	Version           string
	RateLimitRequests int
	RateLimitWindow   time.Duration
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))

	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	r.Route("/appointments", func(r chi.Router) {
		// Booking is the only write a client can spam to probe slots.
		r.With(httprate.LimitByIP(cfg.RateLimitRequests, cfg.RateLimitWindow)).
			Post("/", createAppointmentHandler(cfg.Service))

		r.Get("/available/{doctorID}/{date}", availableSlotsHandler(cfg.Service))
		r.Get("/patient/{patientID}", listByPatientHandler(cfg.Service))
		r.Get("/doctor/{doctorID}", listByDoctorHandler(cfg.Service))

		r.Get("/{id}", getAppointmentHandler(cfg.Service))
		r.Put("/{id}", updateStatusHandler(cfg.Service))
		r.Post("/{id}/reschedule", rescheduleHandler(cfg.Service))
		r.Post("/{id}/cancel", cancelAppointmentHandler(cfg.Service))
	})

	r.Route("/notifications", func(r chi.Router) {
		r.Get("/{userID}", listNotificationsHandler(cfg.Service))
		r.Post("/{id}/read", markNotificationReadHandler(cfg.Service))
	})

	return r
}
