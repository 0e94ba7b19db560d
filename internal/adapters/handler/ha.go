// Package handler implements HTTP request handlers
package handler

import (
	"encoding/json"
	"net/http"

	"github.com/bakeable/homeassistant-whatsapp-gateway/internal/core/ports"
)

// HAHandler exposes the management API's orchestrator-facing surface.
type HAHandler struct {
	orchestrator ports.OrchestratorClient
	allowList    []string
}

// NewHAHandler creates a new HAHandler.
func NewHAHandler(orchestrator ports.OrchestratorClient, allowList []string) *HAHandler {
	return &HAHandler{orchestrator: orchestrator, allowList: allowList}
}

// GET /api/ha/status
func (h *HAHandler) Status(w http.ResponseWriter, r *http.Request) {
	status, err := h.orchestrator.Status(r.Context())
	if err != nil {
		internalError(w, err.Error())
		return
	}
	writeOK(w, status)
}

// GET /api/ha/scripts
func (h *HAHandler) Scripts(w http.ResponseWriter, r *http.Request) {
	scripts, err := h.orchestrator.ListScripts(r.Context())
	if err != nil {
		internalError(w, err.Error())
		return
	}
	writeOK(w, scripts)
}

// GET /api/ha/automations
func (h *HAHandler) Automations(w http.ResponseWriter, r *http.Request) {
	automations, err := h.orchestrator.ListAutomations(r.Context())
	if err != nil {
		internalError(w, err.Error())
		return
	}
	writeOK(w, automations)
}

// GET /api/ha/entities
func (h *HAHandler) Entities(w http.ResponseWriter, r *http.Request) {
	entities, err := h.orchestrator.ListEntities(r.Context())
	if err != nil {
		internalError(w, err.Error())
		return
	}
	writeOK(w, entities)
}

// GET /api/ha/allowed-services
func (h *HAHandler) AllowedServices(w http.ResponseWriter, r *http.Request) {
	writeOK(w, h.allowList)
}

// POST /api/ha/call-service
func (h *HAHandler) CallService(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Service string         `json:"service"`
		Target  map[string]any `json:"target"`
		Data    map[string]any `json:"data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	if body.Service == "" {
		badRequest(w, "service is required")
		return
	}

	err := h.orchestrator.CallService(r.Context(), body.Service, body.Target, body.Data, h.allowList)
	if err != nil {
		if err == ports.ErrPolicyRefused {
			writeError(w, http.StatusForbidden, err.Error())
			return
		}
		internalError(w, err.Error())
		return
	}
	writeOK(w, nil)
}
