package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/therapy-core/internal/auth"
)

const healthCheckTimeout = 3 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.With(s.requirePermission(auth.PermDeviceRead)).Route("/devices", func(r chi.Router) {
				r.Get("/", s.handleListDevices)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetDevice)
					r.Get("/commands", s.handleListCommands)
					r.With(s.requirePermission(auth.PermPrescriptionWrite)).Post("/prescriptions", s.handleSendPrescription)
					r.With(s.requirePermission(auth.PermPrescriptionWrite)).Delete("/prescriptions", s.handleCancelPrescription)
				})
			})

			r.With(s.requirePermission(auth.PermAuditRead)).Get("/audit", s.handleListAudit)
		})
	})

	// Devices are identified by their first frame, not by a token.
	r.Get(s.devicePath(), s.handleDeviceSocket)
	r.With(s.authMiddleware).Get(s.viewerPath(), s.handleViewerSocket)

	return r
}

func (s *Server) devicePath() string {
	if s.wsCfg.DevicePath == "" {
		return "/ws/device"
	}
	return s.wsCfg.DevicePath
}

func (s *Server) viewerPath() string {
	if s.wsCfg.ViewerPath == "" {
		return "/ws/viewer"
	}
	return s.wsCfg.ViewerPath
}

// handleHealth reports the server and dependency health. Any failing
// dependency makes the response 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	status := "ok"
	components := make(map[string]string, len(s.health))
	for name, hc := range s.health {
		if hc == nil {
			continue
		}
		if err := hc.HealthCheck(ctx); err != nil {
			components[name] = err.Error()
			status = "degraded"
			continue
		}
		components[name] = "ok"
	}

	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":     status,
		"version":    s.version,
		"components": components,
		"viewers":    s.hub.ClientCount(),
	})
}
