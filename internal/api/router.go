package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/gray-logic-switchbot/internal/bridges/switchbot"
)

// defaultWebhookPath is used when the webhook section leaves path empty.
const defaultWebhookPath = "/webhook/switchbot"

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.observeMiddleware)
	r.Use(s.recoveryMiddleware)

	// Prometheus scrape endpoint
	r.Handle("/metrics", promhttp.Handler())

	if s.hookCfg.Enabled {
		path := s.hookCfg.Path
		if path == "" {
			path = defaultWebhookPath
		}
		r.With(limitBody(maxWebhookBodySize)).Post(path, s.handleWebhook)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(limitBody(maxRequestBodySize))
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)

		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.handleListDevices)
			r.Get("/stats", s.handleDeviceStats)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetDevice)
				r.Get("/state", s.handleGetDeviceState)
				r.Post("/refresh", s.handleRefreshDevice)
				r.Put("/capabilities/{field}", s.handleSetCapability)
				r.Get("/history", s.handleGetDeviceHistory)
				r.Get("/commands", s.handleListDeviceCommands)
			})
		})

		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// handleHealth returns the bridge health status. Degraded still answers 200;
// only a stopped or offline bridge answers 503.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status, reason := s.bridge.HealthStatus()
	code := http.StatusOK
	if status == switchbot.HealthOffline || status == switchbot.HealthStopping {
		code = http.StatusServiceUnavailable
	}

	body := map[string]any{
		"status":  status,
		"version": s.version,
	}
	if reason != "" {
		body["reason"] = reason
	}
	writeJSON(w, code, body)
}
