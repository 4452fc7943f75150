package http

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robertarktes/ticket-holds-and-bookings/internal/observability"
	"github.com/robertarktes/ticket-holds-and-bookings/internal/rateLimit"
)

func SetupRouter(h *Handlers, logger observability.Logger, rl *rateLimit.RateLimiter) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(RequestIDMiddleware)
	r.Use(LoggerMiddleware(logger))
	r.Use(TracingMiddleware)
	r.Use(MetricsMiddleware)
	r.Use(RateLimitMiddleware(rl, logger, 300, time.Minute, byIP))

	r.Get("/v1/items/{itemID}/inventory", h.GetInventory)

	r.Route("/v1/sessions/{sessionID}", func(r chi.Router) {
		r.Use(RateLimitMiddleware(rl, logger, 120, time.Minute, bySession))

		r.Get("/holds", h.GetSessionHolds)
		r.Delete("/holds", h.DeleteSessionHolds)
		r.Get("/bookings", h.ListSessionBookings)

		r.Route("/items/{itemID}", func(r chi.Router) {
			r.Get("/holds", h.GetItemHolds)
			r.Put("/holds", h.PutHolds)
			r.Delete("/holds", h.DeleteItemHolds)
			r.Post("/heartbeat", h.Heartbeat)
			r.Post("/bookings", h.CreateBooking)
		})
	})

	r.Get("/v1/bookings/{id}", h.GetBooking)
	r.Get("/v1/config", h.GetConfig)
	r.Get("/v1/healthz", h.Healthz)
	r.Get("/v1/readyz", h.Readyz)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	return r
}
