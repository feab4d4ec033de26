package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRoutes configures all routes. Reads under /api/contacts accept an
// optional bearer token that decides masking; everything under /api/admin
// needs a token with the admin role.
func SetupRoutes(h *Handlers, hc *HealthChecker, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"http://localhost:5173", "http://localhost:8080"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if hc != nil {
		r.Get("/health", hc.HandleHealth)
		r.Get("/health/live", hc.HandleLiveness)
		r.Get("/health/ready", hc.HandleReadiness)
	} else {
		r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
		})
	}
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		if h.auth != nil {
			r.Use(h.auth.Middleware)
		}

		r.Route("/contacts", func(r chi.Router) {
			r.Get("/", h.SearchContacts)
			r.Get("/masked", h.ListCompanyContacts)
			r.Get("/{email}", h.GetContact)
		})

		r.Route("/admin", func(r chi.Router) {
			if h.auth != nil {
				r.Use(h.auth.RequireAdmin)
			} else {
				r.Use(denyAll)
			}

			r.Route("/contacts", func(r chi.Router) {
				r.Post("/", h.CreateContact)
				r.Delete("/", h.DeleteAllContacts)
				r.Get("/stats", h.ContactStats)
				r.Post("/bulk-delete", h.BulkDeleteContacts)
				r.Post("/dedupe", h.DeduplicateContacts)
				r.Post("/reindex", h.ReindexContacts)
				r.Post("/import", h.ImportContacts)
				r.Put("/{email}", h.UpdateContact)
				r.Delete("/{email}", h.DeleteContact)
			})
			r.Get("/audit", h.ListAudit)
		})
	})

	return r
}

// denyAll guards admin routes when no authenticator is configured.
func denyAll(http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusUnauthorized, map[string]any{
			"success": false,
			"error":   "authentication is not configured",
			"code":    "unauthorized",
		})
	})
}
