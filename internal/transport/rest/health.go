package rest

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"
)

const healthCheckTimeout = 2 * time.Second

type HealthResponse struct {
	Status        string                     `json:"status"`
	UptimeSeconds int64                      `json:"uptime_seconds"`
	CheckedAt     time.Time                  `json:"checked_at"`
	Components    map[string]ComponentHealth `json:"components"`
}

type ComponentHealth struct {
	Healthy    bool   `json:"healthy"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

type HealthHandler struct {
	db        *sql.DB
	startedAt time.Time
}

func NewHealthHandler(db *sql.DB) *HealthHandler {
	return &HealthHandler{db: db, startedAt: time.Now()}
}

// pingHandler is the liveness probe. It answers as long as the process is up,
// regardless of dependency state.
func (h *HealthHandler) pingHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "OK"})
}

// healthCheckHandler is the readiness probe. Orders and payments both need
// postgres, so a failed ping takes the whole service out of rotation.
func (h *HealthHandler) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	start := time.Now()
	pingErr := h.db.PingContext(ctx)

	dbCheck := ComponentHealth{
		Healthy:    pingErr == nil,
		DurationMs: time.Since(start).Milliseconds(),
	}
	if pingErr != nil {
		dbCheck.Error = pingErr.Error()
	}

	resp := HealthResponse{
		Status:        "healthy",
		UptimeSeconds: int64(time.Since(h.startedAt).Seconds()),
		CheckedAt:     time.Now(),
		Components:    map[string]ComponentHealth{"postgres": dbCheck},
	}

	statusCode := http.StatusOK
	if !dbCheck.Healthy {
		resp.Status = "unhealthy"
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(resp)
}
