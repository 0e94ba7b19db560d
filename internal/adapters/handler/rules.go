// Package handler implements HTTP request handlers
package handler

import (
	"encoding/json"
	"net/http"

	"github.com/bakeable/homeassistant-whatsapp-gateway/internal/core/ruleset"
	"github.com/bakeable/homeassistant-whatsapp-gateway/internal/core/services"
)

// RulesHandler exposes the management API's rule-authoring surface.
type RulesHandler struct {
	engine *services.RuleEngine
}

// NewRulesHandler creates a new RulesHandler.
func NewRulesHandler(engine *services.RuleEngine) *RulesHandler {
	return &RulesHandler{engine: engine}
}

// GET /api/rules
func (h *RulesHandler) GetYAML(w http.ResponseWriter, r *http.Request) {
	row, err := h.engine.CurrentYAML(r.Context())
	if err != nil {
		internalError(w, err.Error())
		return
	}
	writeOK(w, row)
}

// PUT /api/rules
func (h *RulesHandler) PutYAML(w http.ResponseWriter, r *http.Request) {
	var body struct {
		YAML string `json:"yaml"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}

	result, err := h.engine.SaveRuleset(r.Context(), []byte(body.YAML))
	if err != nil {
		internalError(w, err.Error())
		return
	}
	if !result.Valid {
		resp := NewErrorResponse(http.StatusBadRequest, "ruleset validation failed")
		resp.Data = result
		writeJSON(w, resp)
		return
	}
	writeOK(w, result)
}

// POST /api/rules/validate
func (h *RulesHandler) Validate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		YAML string `json:"yaml"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}

	result := ruleset.ValidateYAML([]byte(body.YAML))
	writeOK(w, map[string]any{
		"valid":      result.Valid,
		"errors":     result.Errors,
		"rule_count": result.RuleCount,
	})
}

// POST /api/rules/test
func (h *RulesHandler) Test(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Message ruleset.NormalizedEvent `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}

	preview := h.engine.TestMessage(r.Context(), body.Message)
	writeOK(w, map[string]any{
		"matched_rules":   preview.Evaluated,
		"actions_preview": preview.ActionPreview,
	})
}

// POST /api/rules/reload
func (h *RulesHandler) Reload(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Reload(r.Context()); err != nil {
		internalError(w, err.Error())
		return
	}
	writeOK(w, map[string]any{"rule_count": h.engine.RuleCount()})
}
