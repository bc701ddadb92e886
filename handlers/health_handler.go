package handlers

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/upb/matrix-governance/services/audit"
	"github.com/upb/matrix-governance/services/governance"
	"github.com/upb/matrix-governance/services/sweeper"
	"github.com/upb/matrix-governance/utils"
	"go.uber.org/zap"
)

// AuditStats reports the state of the audit sink
type AuditStats interface {
	GetStats() audit.Stats
}

// CacheStats reports rule cache usage
type CacheStats interface {
	Stats() governance.CacheStats
}

// SweepStatus reports the maintenance loop
type SweepStatus interface {
	Status() sweeper.Status
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// StatusResponse is the operational snapshot served on /api/v1/status
type StatusResponse struct {
	Storage string                 `json:"storage"`
	Audit   audit.Stats            `json:"audit"`
	Cache   *governance.CacheStats `json:"rule_cache,omitempty"`
	Sweeper *sweeper.Status        `json:"sweeper,omitempty"`
}

// HealthHandler handles health-related HTTP requests
type HealthHandler struct {
	db      *sql.DB
	storage string
	audit   AuditStats
	cache   CacheStats
	sweeper SweepStatus
	logger  *zap.Logger
}

// NewHealthHandler creates a new HealthHandler. db is nil with in-memory
// storage; cache and sweep may be nil.
func NewHealthHandler(db *sql.DB, storage string, auditStats AuditStats, cache CacheStats, sweep SweepStatus, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		db:      db,
		storage: storage,
		audit:   auditStats,
		cache:   cache,
		sweeper: sweep,
		logger:  logger,
	}
}

// HandleHealth handles GET /healthz
// Basic health check - always returns 200 if service is running
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	_ = utils.WriteOK(w, response)
}

// HandleReadiness handles GET /readyz
// Readiness check - validates the database and the audit sink
func (h *HealthHandler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string)
	allHealthy := true

	if err := h.checkDatabase(ctx); err != nil {
		h.logger.Warn("database health check failed", zap.Error(err))
		checks["database"] = "unhealthy"
		allHealthy = false
	} else {
		checks["database"] = "healthy"
	}

	if h.audit != nil && h.audit.GetStats().Started {
		checks["audit"] = "healthy"
	} else {
		checks["audit"] = "stopped"
		allHealthy = false
	}

	status := "healthy"
	httpStatus := http.StatusOK
	if !allHealthy {
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}

	response := HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
	}

	if err := utils.WriteJSON(w, httpStatus, utils.SuccessResponse{Data: response}); err != nil {
		h.logger.Error("failed to write readiness response", zap.Error(err))
	}
}

// HandleStatus handles GET /api/v1/status
func (h *HealthHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	response := StatusResponse{Storage: h.storage}
	if h.audit != nil {
		response.Audit = h.audit.GetStats()
	}
	if h.cache != nil {
		stats := h.cache.Stats()
		response.Cache = &stats
	}
	if h.sweeper != nil {
		st := h.sweeper.Status()
		response.Sweeper = &st
	}

	if err := utils.WriteOK(w, response); err != nil {
		h.logger.Error("failed to write status response", zap.Error(err))
	}
}

// checkDatabase checks database connectivity
func (h *HealthHandler) checkDatabase(ctx context.Context) error {
	if h.db == nil {
		return nil // in-memory storage
	}

	if err := h.db.PingContext(ctx); err != nil {
		return err
	}

	var result int
	if err := h.db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return err
	}

	return nil
}
