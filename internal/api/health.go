package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Check is a named dependency probe.
type Check struct {
	Name   string
	Pinger Pinger
}

// BreakerReporter exposes a circuit breaker state.
type BreakerReporter interface {
	BreakerState() string
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	checks  []Check
	model   BreakerReporter
	timeout time.Duration
}

// NewHealthHandler creates a health handler. model may be nil.
func NewHealthHandler(timeout time.Duration, model BreakerReporter, checks ...Check) *HealthHandler {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HealthHandler{checks: checks, model: model, timeout: timeout}
}

// Probe pings every dependency and returns per-check results. ok is false if
// any check failed.
func (h *HealthHandler) Probe(ctx context.Context) (results map[string]string, ok bool) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	results = map[string]string{"api": "ok"}
	ok = true
	for _, c := range h.checks {
		if err := c.Pinger.Ping(ctx); err != nil {
			slog.Error("Health check failed", "check", c.Name, "error", err)
			results[c.Name] = "unreachable"
			ok = false
			continue
		}
		results[c.Name] = "ok"
	}
	return results, ok
}

// Health returns the health status of the API and its dependencies.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	checks, ok := h.Probe(r.Context())

	status := map[string]any{
		"status": "healthy",
		"checks": checks,
	}
	if h.model != nil {
		status["model_circuit"] = h.model.BreakerState()
	}

	statusCode := http.StatusOK
	if !ok {
		status["status"] = "degraded"
		statusCode = http.StatusServiceUnavailable
	}
	JSON(w, statusCode, status)
}

// RegisterHealth registers the detailed health route.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/api/health", h.Health)
}
