package handlers

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/nilbase/nildb/internal/database"
	"github.com/nilbase/nildb/internal/ids"
	"github.com/nilbase/nildb/internal/logging"
)

// nodeVersion is stamped at build time in a full release; fixed here since
// this module has no build-info wiring of its own.
const nodeVersion = "0.1.0"

// HealthHandlers backs the unauthenticated liveness/readiness/stats probes.
type HealthHandlers struct {
	db      *database.DB
	version string
}

func NewHealthHandlers(db *database.DB, version string) *HealthHandlers {
	return &HealthHandlers{db: db, version: version}
}

type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

type ComponentHealth struct {
	Status  HealthStatus `json:"status"`
	Latency string       `json:"latency,omitempty"`
	Message string       `json:"message,omitempty"`
}

type HealthResponse struct {
	Status     HealthStatus               `json:"status"`
	Version    string                     `json:"version"`
	Uptime     string                     `json:"uptime"`
	Timestamp  string                     `json:"timestamp"`
	Components map[string]ComponentHealth `json:"components"`
}

var startTime = time.Now()

const healthCheckTimeout = 5 * time.Second

func (h *HealthHandlers) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	dbHealth := h.checkDatabase(ctx)
	overallStatus := dbHealth.Status

	resp := HealthResponse{
		Status:     overallStatus,
		Version:    h.version,
		Uptime:     time.Since(startTime).Round(time.Second).String(),
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Components: map[string]ComponentHealth{"database": dbHealth},
	}

	status := http.StatusOK
	if overallStatus == HealthStatusUnhealthy {
		status = http.StatusServiceUnavailable
	}

	JSON(w, status, resp, nil)
}

func (h *HealthHandlers) checkDatabase(ctx context.Context) ComponentHealth {
	start := time.Now()
	err := h.db.Ping(ctx)
	latency := time.Since(start)

	if err != nil {
		return ComponentHealth{
			Status:  HealthStatusUnhealthy,
			Latency: latency.String(),
			Message: "database ping failed",
		}
	}

	return ComponentHealth{
		Status:  HealthStatusHealthy,
		Latency: latency.String(),
	}
}

func (h *HealthHandlers) Liveness(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]string{"status": "ok"}, nil)
}

func (h *HealthHandlers) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		JSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": "database unavailable",
		}, nil)
		return
	}

	JSON(w, http.StatusOK, map[string]string{"status": "ready"}, nil)
}

type RuntimeStats struct {
	GoVersion    string `json:"go_version"`
	NumGoroutine int    `json:"num_goroutine"`
	NumCPU       int    `json:"num_cpu"`
	MemAlloc     uint64 `json:"mem_alloc_bytes"`
	MemSys       uint64 `json:"mem_sys_bytes"`
	NumGC        uint32 `json:"num_gc"`
}

func (h *HealthHandlers) Stats(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	stats := RuntimeStats{
		GoVersion:    runtime.Version(),
		NumGoroutine: runtime.NumGoroutine(),
		NumCPU:       runtime.NumCPU(),
		MemAlloc:     m.Alloc,
		MemSys:       m.Sys,
		NumGC:        m.NumGC,
	}

	resp := map[string]any{
		"runtime": stats,
		"uptime":  time.Since(startTime).Round(time.Second).String(),
	}

	if h.db != nil {
		dbStats := h.db.Stats()
		resp["database"] = map[string]any{
			"open_connections": dbStats.OpenConnections,
			"in_use":           dbStats.InUse,
			"idle":             dbStats.Idle,
			"max_open":         dbStats.MaxOpenConnections,
		}
	}

	JSON(w, http.StatusOK, resp, nil)
}

// SystemHandlers backs spec §6's `/v1/system/*` routes.
type SystemHandlers struct {
	nodeDID     ids.DID
	maintenance func() bool
	setMaint    func(bool)
}

func NewSystemHandlers(nodeDID ids.DID, maintenance func() bool, setMaint func(bool)) *SystemHandlers {
	return &SystemHandlers{nodeDID: nodeDID, maintenance: maintenance, setMaint: setMaint}
}

// About implements `GET /v1/system/about` — no auth required.
func (h *SystemHandlers) About(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]any{
		"did":         string(h.nodeDID),
		"version":     nodeVersion,
		"maintenance": h.maintenance(),
		"log_level":   logging.CurrentLevel(),
	}, nil)
}

type logLevelRequest struct {
	Level string `json:"level"`
}

// LogLevel implements `POST /v1/system/log-level` (admin-delegated).
func (h *SystemHandlers) LogLevel(w http.ResponseWriter, r *http.Request) {
	var req logLevelRequest
	if err := decodeJSON(r, &req); err != nil {
		BadRequest(w, err.Error())
		return
	}
	if err := logging.SetLevel(req.Level); err != nil {
		BadRequest(w, err.Error())
		return
	}
	JSON(w, http.StatusOK, map[string]any{"level": logging.CurrentLevel()}, nil)
}

// MaintenanceStart implements `POST /v1/system/maintenance/start`
// (admin-delegated).
func (h *SystemHandlers) MaintenanceStart(w http.ResponseWriter, r *http.Request) {
	h.setMaint(true)
	NoContent(w)
}

// MaintenanceStop implements `POST /v1/system/maintenance/stop`
// (admin-delegated).
func (h *SystemHandlers) MaintenanceStop(w http.ResponseWriter, r *http.Request) {
	h.setMaint(false)
	NoContent(w)
}
