// Package httpapi is the Delta Sharing wire surface: a chi router
// exposing the listing, metadata, version, and query endpoints the buyer
// CLI expects, plus /health and /metrics for operators (spec §6,
// SPEC_FULL §9-11).
package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter builds the full route tree for one Server. metricsHandler
// backs /metrics; pass nil to omit the endpoint (e.g. in handler tests).
func NewRouter(s *Server, metricsHandler http.Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.StripSlashes)
	r.Use(recoverer(s.log))
	r.Use(requestLogger(s.log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: false,
	}))

	r.Get("/health", s.handleHealth)
	if metricsHandler != nil {
		r.Handle("/metrics", metricsHandler)
	}

	r.Route("/shares", func(r chi.Router) {
		r.Post("/prepare", s.handlePrepareShare)
		r.Get("/", s.handleListShares)
		r.Route("/{share}/schemas", func(r chi.Router) {
			r.Get("/", s.handleListSchemas)
			r.Route("/{schema}/tables", func(r chi.Router) {
				r.Get("/", s.handleListTables)
				r.Get("/{table}/metadata", s.handleGetTableMetadata)
				r.Get("/{table}/version", s.handleGetTableVersion)
				r.Post("/{table}/query", s.handleQueryTable)
			})
		})
	})

	return r
}

// MetricsHandlerFor wraps reg for /metrics, matching the instrumentation
// SPEC_FULL §9 calls for. Pass the same registry handed to metrics.New.
func MetricsHandlerFor(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
