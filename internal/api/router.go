package api

import (
	"encoding/json"
	"net/http"

	"github.com/agentoven/uiforge/internal/api/handlers"
	"github.com/agentoven/uiforge/internal/api/middleware"
	"github.com/agentoven/uiforge/internal/config"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates the HTTP router with all API routes.
func NewRouter(cfg *config.Config, h *handlers.Handlers, auth *middleware.APIKeyAuth) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Compress(5))
	r.Use(middleware.ProjectExtractor)
	r.Use(middleware.Logger)
	r.Use(middleware.Telemetry)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Project-Id", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id", "X-Trace-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	if auth != nil {
		r.Use(auth.Middleware)
	}

	// Health & info
	r.Get("/health", healthHandler)
	r.Get("/version", versionHandler(cfg))

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/tools", h.ListTools)

		r.Route("/runs", func(r chi.Router) {
			r.Post("/", h.CreateRun)
			r.Route("/{runID}", func(r chi.Router) {
				r.Get("/", h.GetRun)
				r.Delete("/", h.CancelRun)
				r.Get("/telemetry", h.RunTelemetry)
			})
		})

		r.Route("/projects/{projectID}", func(r chi.Router) {
			r.Get("/dna", h.GetProjectDNA)
			r.Get("/runs/{runID}", h.GetArchivedRun)
		})
	})

	return r
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"service": "uiforge",
	})
}

func versionHandler(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"version": cfg.Version,
			"service": "uiforge",
		})
	}
}
