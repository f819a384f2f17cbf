package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/fileferry/fileferry/pkg/breaker"
)

// Pinger verifies the record store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// BreakerProber reports per-provider circuit breaker states.
type BreakerProber interface {
	BreakerStates() map[string]breaker.State
}

// HealthHandler handles health check endpoints.
//
// Health endpoints are unauthenticated and provide:
//   - Liveness probe: Is the server process running?
//   - Readiness probe: Is the record store reachable?
type HealthHandler struct {
	store    Pinger
	breakers BreakerProber
}

// NewHealthHandler creates a new health handler.
//
// Either parameter may be nil: a nil store makes the readiness probe report
// unhealthy, a nil breaker prober omits provider states from the response.
func NewHealthHandler(store Pinger, breakers BreakerProber) *HealthHandler {
	return &HealthHandler{store: store, breakers: breakers}
}

// Liveness handles GET /health - simple liveness probe.
//
// Returns 200 OK if the server process is running. This endpoint is designed
// for Kubernetes liveness probes and should always succeed as long as the
// HTTP server is responsive.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthyResponse(map[string]string{
		"service": "fileferry",
	}))
}

// Readiness handles GET /health/ready - readiness probe.
//
// Returns 200 OK if the record store answers a ping. Circuit breaker states
// are included as data but do not fail the probe: an open breaker means a
// provider is down, not that this process cannot serve requests.
//
// Returns 503 Service Unavailable if the store is unreachable.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeJSON(w, http.StatusServiceUnavailable, unhealthyResponse("record store not initialized"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, unhealthyResponse("record store unreachable: "+err.Error()))
		return
	}

	data := map[string]interface{}{
		"store": "ok",
	}
	if h.breakers != nil {
		states := make(map[string]string)
		for id, state := range h.breakers.BreakerStates() {
			states[id] = state.String()
		}
		data["providers"] = states
	}

	writeJSON(w, http.StatusOK, healthyResponse(data))
}
