package api

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// healthCheckTimeout bounds each component probe in the health endpoint.
const healthCheckTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.metricsHandler())

		r.Route("/catalog", func(r chi.Router) {
			r.Get("/", s.handleCatalog)
			r.Post("/reload", s.handleCatalogReload)
		})

		r.Get("/rounds/last", s.handleLastRound)
		r.Get("/series/{station}/{sensor}", s.handleSeries)
		r.Get("/series/{station}/{sensor}/latest", s.handleLatest)
	})

	// The WebSocket path is configurable; it defaults to /api/v1/ws.
	wsPath := s.wsCfg.Path
	if wsPath == "" {
		wsPath = "/api/v1/ws"
	}
	r.Get(wsPath, s.handleWebSocket)

	return r
}

// healthResponse is the body of GET /health.
type healthResponse struct {
	Status         string            `json:"status"`
	Version        string            `json:"version"`
	CatalogSensors int               `json:"catalog_sensors"`
	LastRound      *time.Time        `json:"last_round,omitempty"`
	LiveClients    int               `json:"live_clients"`
	LiveDropped    uint64            `json:"live_dropped"`
	Components     map[string]string `json:"components,omitempty"`
}

// handleHealth reports the version, catalog size and the state of every
// registered component. Any failing component turns the status to
// "degraded" and the code to 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:      "ok",
		Version:     s.version,
		LiveClients: s.hub.ClientCount(),
		LiveDropped: s.hub.Dropped(),
	}
	if s.catalog != nil {
		resp.CatalogSensors = len(s.catalog.Snapshot().Sensors)
	}
	if last, ok := s.LastRound(); ok {
		finished := last.Finished
		resp.LastRound = &finished
	}

	if len(s.checks) > 0 {
		names := make([]string, 0, len(s.checks))
		for name := range s.checks {
			names = append(names, name)
		}
		sort.Strings(names)

		resp.Components = make(map[string]string, len(names))
		for _, name := range names {
			ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
			err := s.checks[name].HealthCheck(ctx)
			cancel()
			if err != nil {
				resp.Components[name] = err.Error()
				resp.Status = "degraded"
				continue
			}
			resp.Components[name] = "ok"
		}
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// metricsHandler serves the Prometheus exposition of the poller registry.
func (s *Server) metricsHandler() http.HandlerFunc {
	if s.gatherer == nil {
		return func(w http.ResponseWriter, r *http.Request) {
			writeError(w, r, http.StatusServiceUnavailable, "metrics are not configured")
		}
	}
	h := promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})
	return h.ServeHTTP
}
