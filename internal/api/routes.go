package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var defaultAllowedOrigins = []string{"http://localhost:5173", "http://localhost:3000"}

// SetupRoutes configures all API routes.
func SetupRoutes(h *Handlers, hc *HealthChecker, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	if len(allowedOrigins) == 0 {
		allowedOrigins = defaultAllowedOrigins
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", HeaderUserID, HeaderTenantID},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/", h.HandleRoot)

	// Health checks (no caller required)
	if hc != nil {
		r.Get("/health", hc.HandleHealth)
		r.Get("/health/live", hc.HandleLiveness)
		r.Get("/health/ready", hc.HandleReadiness)
	}
	r.Handle("/metrics", promhttp.Handler())

	// Gateway callbacks carry no caller
	r.Get("/webhook", h.HandleWebhookVerify)
	r.Post("/webhook", h.HandleWebhookEvent)

	// External cron, authenticated by the run secret
	r.Get("/run-scheduled", h.HandleRunScheduled)
	r.Post("/run-scheduled", h.HandleRunScheduled)

	r.Group(func(r chi.Router) {
		r.Use(CallerMiddleware)

		r.Post("/broadcast", h.HandleBroadcast)
		r.Get("/broadcasts/{id}", h.HandleGetBroadcast)
		r.Post("/custom-message", h.HandleCustomMessage)
		r.Get("/templates", h.HandleListTemplates)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusNotFound, map[string]string{"error": "not found", "code": "not_found"})
	})

	return r
}
