// Package server provides the operational HTTP server and the gRPC server host
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// defaultCheckTimeout bounds each readiness check
const defaultCheckTimeout = 2 * time.Second

// Checker reports whether a dependency is usable
type Checker func(ctx context.Context) error

// HealthHandler handles health check endpoints
type HealthHandler struct {
	logger       *zap.Logger
	checkTimeout time.Duration
	started      time.Time

	mu     sync.RWMutex
	ready  bool
	checks map[string]Checker
}

// HealthStatus represents the health status response
type HealthStatus struct {
	Status      string            `json:"status"`
	Timestamp   time.Time         `json:"timestamp"`
	Uptime      string            `json:"uptime,omitempty"`
	Checks      map[string]string `json:"checks,omitempty"`
	Description string            `json:"description,omitempty"`
}

// NewHealthHandler creates a new health handler. It starts out ready.
func NewHealthHandler(logger *zap.Logger) *HealthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthHandler{
		logger:       logger,
		checkTimeout: defaultCheckTimeout,
		started:      time.Now(),
		ready:        true,
		checks:       make(map[string]Checker),
	}
}

// AddCheck registers a readiness check under name, replacing any previous one
func (h *HealthHandler) AddCheck(name string, check Checker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check
}

// SetReady updates the readiness status
func (h *HealthHandler) SetReady(ready bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ready = ready
}

// IsReady returns the current readiness status
func (h *HealthHandler) IsReady() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.ready
}

// Health handles GET /health - Basic liveness check
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	status := HealthStatus{
		Status:      "UP",
		Timestamp:   time.Now().UTC(),
		Uptime:      time.Since(h.started).Round(time.Second).String(),
		Description: "Token service is running",
	}

	writeStatus(w, http.StatusOK, status)
}

// Live handles GET /health/live - Kubernetes liveness probe
func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	// If we can respond, we're alive
	writeStatus(w, http.StatusOK, HealthStatus{
		Status:      "ALIVE",
		Timestamp:   time.Now().UTC(),
		Description: "Process is alive and responding",
	})
}

// Ready handles GET /health/ready - Readiness with dependency checks
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	checks, allReady := h.runChecks(r.Context())

	statusCode := http.StatusOK
	status := HealthStatus{
		Status:      "UP",
		Timestamp:   time.Now().UTC(),
		Checks:      checks,
		Description: "Ready to accept traffic",
	}
	if !allReady {
		statusCode = http.StatusServiceUnavailable
		status.Status = "DOWN"
		status.Description = "Not all dependencies are ready"
	}

	writeStatus(w, statusCode, status)

	h.logger.Debug("Readiness check completed",
		zap.String("status", status.Status),
		zap.Bool("ready", allReady),
	)
}

// runChecks runs every registered check and reports per-check results
func (h *HealthHandler) runChecks(ctx context.Context) (map[string]string, bool) {
	h.mu.RLock()
	allReady := h.ready
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	checks := make(map[string]Checker, len(h.checks))
	for name, check := range h.checks {
		checks[name] = check
	}
	h.mu.RUnlock()

	sort.Strings(names)

	results := make(map[string]string, len(names)+1)
	if !allReady {
		results["server"] = "not_ready"
	}

	for _, name := range names {
		checkCtx, cancel := context.WithTimeout(ctx, h.checkTimeout)
		err := checks[name](checkCtx)
		cancel()

		if err != nil {
			h.logger.Warn("Readiness check failed",
				zap.String("check", name),
				zap.Error(err),
			)
			results[name] = "not_ready"
			allReady = false
			continue
		}
		results[name] = "ready"
	}

	return results, allReady
}

func writeStatus(w http.ResponseWriter, code int, status HealthStatus) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(status)
}
