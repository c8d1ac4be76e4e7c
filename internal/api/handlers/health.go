package handlers

import (
	"context"
	"net/http"
	"time"
)

// healthCheckTimeout bounds dependency probes during a health check.
const healthCheckTimeout = 5 * time.Second

// Pinger probes database connectivity.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// HealthHandler serves liveness and readiness checks.
type HealthHandler struct {
	db        Pinger
	startTime time.Time
}

// NewHealthHandler creates a health handler.
func NewHealthHandler(db Pinger) *HealthHandler {
	return &HealthHandler{
		db:        db,
		startTime: time.Now(),
	}
}

// Health reports service health, including database connectivity.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	status := "healthy"
	checks := make(map[string]string)

	if h.db != nil {
		if err := h.db.PingContext(ctx); err != nil {
			status = "unhealthy"
			checks["database"] = "failed"
		} else {
			checks["database"] = "ok"
		}
	} else {
		checks["database"] = "not configured"
	}

	statusCode := http.StatusOK
	if status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, r, statusCode, map[string]interface{}{
		"status":    status,
		"checks":    checks,
		"uptime":    time.Since(h.startTime).String(),
		"timestamp": time.Now().UTC(),
	})
}
