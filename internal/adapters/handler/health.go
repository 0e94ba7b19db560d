// Package handler implements HTTP request handlers
package handler

import (
	"net/http"
	"time"
)

// HealthHandler serves the gateway's liveness check.
type HealthHandler struct{}

// NewHealthHandler creates a new HealthHandler.
func NewHealthHandler() *HealthHandler { return &HealthHandler{} }

// GET /api/health
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeOK(w, map[string]any{"status": "ok", "timestamp": time.Now()})
}
