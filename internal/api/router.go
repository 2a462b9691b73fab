package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "route not found")
	})

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/tools", func(r chi.Router) {
		r.Get("/", s.handleListTools)
		r.Post("/{name}", s.handleCallTool)
	})

	r.Route("/devices", func(r chi.Router) {
		r.Get("/", s.handleListDevices)
		r.Get("/{id}", s.handleGetDevice)
	})

	return r
}

// healthResponse is the body of /health.
type healthResponse struct {
	Status  string            `json:"status"`
	Version string            `json:"version"`
	Checks  map[string]string `json:"checks,omitempty"`
}

// handleHealth reports ok when every dependency check passes, else 503 degraded.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Version: s.version}
	status := http.StatusOK

	if len(s.health) > 0 {
		resp.Checks = make(map[string]string, len(s.health))
		for name, checker := range s.health {
			ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
			err := checker.HealthCheck(ctx)
			cancel()
			if err != nil {
				resp.Checks[name] = err.Error()
				resp.Status = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[name] = "ok"
		}
	}

	writeJSON(w, status, resp)
}
