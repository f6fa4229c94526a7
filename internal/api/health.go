package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// Pinger reports database reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	repo      Pinger
	aiEnabled bool
	timeout   time.Duration
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(repo Pinger, aiEnabled bool) *HealthHandler {
	return &HealthHandler{repo: repo, aiEnabled: aiEnabled, timeout: 5 * time.Second}
}

// Health returns the health status of the API and its dependencies. A missing
// API key degrades replies to the fallback text but does not fail the check.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	checks := map[string]string{"api": "ok", "llm": "configured"}
	if !h.aiEnabled {
		checks["llm"] = "fallback_only"
	}
	status := map[string]interface{}{
		"status": "healthy",
		"checks": checks,
	}
	statusCode := http.StatusOK

	if err := h.repo.Ping(ctx); err != nil {
		slog.Error("Health check failed", "error", err)
		status["status"] = "degraded"
		checks["database"] = "unreachable"
		statusCode = http.StatusServiceUnavailable
	} else {
		checks["database"] = "ok"
	}

	JSON(w, statusCode, status)
}

// RegisterHealth registers the health check route.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/health", h.Health)
}
