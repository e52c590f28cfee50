package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/groupgate/groupgate/internal/domain/catalog"
)

// HealthResponse is the JSON response from the /healthz endpoint.
type HealthResponse struct {
	Status  string            `json:"status"` // "healthy" or "unhealthy"
	Checks  map[string]string `json:"checks"`
	Version string            `json:"version,omitempty"`
}

// HealthChecker verifies that the policy source is reachable.
type HealthChecker struct {
	source  catalog.Source
	timeout time.Duration
	version string
}

// NewHealthChecker creates a HealthChecker over the policy source.
func NewHealthChecker(source catalog.Source, version string) *HealthChecker {
	return &HealthChecker{
		source:  source,
		timeout: 5 * time.Second,
		version: version,
	}
}

// Check probes the policy source and reports component health.
func (h *HealthChecker) Check(ctx context.Context) HealthResponse {
	checks := make(map[string]string)
	healthy := true

	probeCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	if h.source != nil {
		envs, err := h.source.Environments(probeCtx)
		if err != nil {
			checks["policy_source"] = fmt.Sprintf("error: %v", err)
			healthy = false
		} else {
			checks["policy_source"] = fmt.Sprintf("ok: %d environments", len(envs))
		}
	} else {
		checks["policy_source"] = "not configured"
	}

	checks["goroutines"] = fmt.Sprintf("%d", runtime.NumGoroutine())

	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}
	return HealthResponse{
		Status:  status,
		Checks:  checks,
		Version: h.version,
	}
}

// Handler returns an HTTP handler for the health endpoint.
func (h *HealthChecker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		health := h.Check(r.Context())

		w.Header().Set("Content-Type", "application/json")
		if health.Status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		_ = json.NewEncoder(w).Encode(health)
	})
}
