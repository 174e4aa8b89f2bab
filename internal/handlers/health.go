package handlers

import (
	"net/http"
	"time"

	"github.com/pavilion-trust/amg-gateway/internal/config"
	"github.com/pavilion-trust/amg-gateway/internal/metrics"
	"github.com/pavilion-trust/amg-gateway/internal/storage"
)

// HealthHandler handles health check requests. Grounded on the teacher's
// HealthHandler (internal/handlers/health.go): dependency checks with
// graceful degradation, generalized from a fixed verification-service
// dependency set to this gateway's single storage adapter plus its
// operation counters.
type HealthHandler struct {
	config    *config.Config
	adapter   storage.Adapter
	counters  *metrics.Counters
	startTime time.Time
}

// NewHealthHandler constructs a HealthHandler.
func NewHealthHandler(cfg *config.Config, adapter storage.Adapter, counters *metrics.Counters) *HealthHandler {
	return &HealthHandler{config: cfg, adapter: adapter, counters: counters, startTime: time.Now()}
}

// HealthResponse is the /health response shape.
type HealthResponse struct {
	Status      string           `json:"status"`
	Timestamp   string           `json:"timestamp"`
	Environment string           `json:"environment"`
	Uptime      string           `json:"uptime"`
	Storage     DependencyStatus `json:"storage"`
	Operations  metrics.Snapshot `json:"operations"`
}

// DependencyStatus represents the health of one backend dependency.
type DependencyStatus struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// HandleHealth serves GET /health.
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:      "healthy",
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		Environment: h.config.Env,
		Uptime:      time.Since(h.startTime).String(),
		Operations:  h.counters.Snapshot(),
	}

	if err := h.adapter.HealthCheck(r.Context()); err != nil {
		resp.Storage = DependencyStatus{Status: "unhealthy", Error: err.Error()}
		resp.Status = "unhealthy"
	} else {
		resp.Storage = DependencyStatus{Status: "healthy"}
	}

	statusCode := http.StatusOK
	if resp.Status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, statusCode, resp)
}
