/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests, origins from config
  5. Metrics:    Prometheus request counters and latency

ROUTE GROUPS:
  /api/events/*         Event management
  /api/instances*       Instance queries and iCalendar export
  /api/import           iCalendar import
  /api/admin/*          Republish and repair
  /api/samples/*        Demo data
  /health               Liveness
  /metrics              Prometheus scrape endpoint (when enabled)

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/warp/calendar-engine/metrics"
)

// RouterOptions configures the router.
type RouterOptions struct {
	CORSOrigins    []string
	MetricsEnabled bool
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))
	if opts.MetricsEnabled {
		r.Use(metrics.Middleware())
		r.Method(http.MethodGet, "/metrics", metrics.Handler())
	}

	r.Get("/health", h.Health)

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Event routes
		r.Route("/events", func(r chi.Router) {
			r.Get("/", h.ListEvents)
			r.Post("/", h.CreateEvent)
			r.Get("/{id}", h.GetEvent)
			r.Put("/{id}", h.UpdateEvent)
			r.Delete("/{id}", h.DeleteEvent)
			r.Get("/{id}/instances", h.EventInstances)
		})

		// Instance routes
		r.Get("/instances", h.ListInstances)
		r.Get("/instances.ics", h.ExportInstances)
		r.Post("/import", h.ImportCalendar)

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Post("/republish", h.Republish)
			r.Post("/repair", h.TriggerRepair)
			r.Get("/repair", h.GetRepair)
		})

		// Sample routes
		r.Route("/samples", func(r chi.Router) {
			r.Get("/", h.ListSamples)
			r.Get("/current", h.GetCurrentSample)
			r.Post("/load", h.LoadSampleHandler)
		})
	})

	return r
}
