package handlers

import (
	"net/http"
	"time"

	httpContracts "github.com/sawpanic/timmatch/internal/http"
)

// Health handles GET /health endpoint
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	resp := httpContracts.HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
		Version:   h.deps.Version,
		Store: httpContracts.StoreHealth{
			Backend: h.deps.Backend,
			Cache:   h.deps.Cache,
			Breaker: "disabled",
		},
	}
	if h.deps.Store != nil {
		resp.Store.Breaker = h.deps.Store.BreakerState()
		if resp.Store.Breaker != "closed" {
			resp.Status = "degraded"
		}
	}
	if h.deps.Database != nil {
		check := h.deps.Database.Health(r.Context())
		resp.Database = &check
		if !check.Healthy {
			resp.Status = "unhealthy"
		}
	}

	status := http.StatusOK
	if resp.Status == "unhealthy" {
		status = http.StatusServiceUnavailable
	}
	h.writeJSON(w, status, resp)
}
