package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// HealthHandler serves the health-check endpoint. Each registered check
// probes one optional backing service (Postgres, Redis, S3).
type HealthHandler struct {
	checks map[string]func(context.Context) error
	logger *slog.Logger
}

// NewHealthHandler creates a HealthHandler with the provided logger.
func NewHealthHandler(logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		checks: make(map[string]func(context.Context) error),
		logger: logger,
	}
}

// AddCheck registers a named connectivity probe. Call before the server
// starts serving.
func (h *HealthHandler) AddCheck(name string, check func(context.Context) error) {
	h.checks[name] = check
}

// HealthCheck responds with the server status and the result of each backing
// service probe. A failed probe degrades the status but still returns 200 so
// the bot keeps trading through a storage outage.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ok"
	services := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			status = "degraded"
			services[name] = err.Error()
			h.logger.WarnContext(ctx, "health probe failed",
				slog.String("service", name),
				slog.String("error", err.Error()),
			)
			continue
		}
		services[name] = "ok"
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":    status,
		"services":  services,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
