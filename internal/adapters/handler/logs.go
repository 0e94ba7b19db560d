// Package handler implements HTTP request handlers
package handler

import (
	"net/http"
	"strconv"

	"github.com/bakeable/homeassistant-whatsapp-gateway/internal/core/ports"
)

// LogsHandler exposes the management API's paged log surfaces.
type LogsHandler struct {
	messageRepo  ports.MessageRepository
	ruleFireRepo ports.RuleFireRepository
	eventRepo    ports.EventLogRepository
}

// NewLogsHandler creates a new LogsHandler.
func NewLogsHandler(messageRepo ports.MessageRepository, ruleFireRepo ports.RuleFireRepository, eventRepo ports.EventLogRepository) *LogsHandler {
	return &LogsHandler{messageRepo: messageRepo, ruleFireRepo: ruleFireRepo, eventRepo: eventRepo}
}

func pageFromQuery(r *http.Request) ports.PageRequest {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	return ports.PageRequest{Page: page, Limit: limit}
}

// GET /api/logs/messages?page=&limit=&chat_id=
func (h *LogsHandler) Messages(w http.ResponseWriter, r *http.Request) {
	chatID := r.URL.Query().Get("chat_id")
	messages, total, err := h.messageRepo.ListMessages(r.Context(), pageFromQuery(r), chatID)
	if err != nil {
		internalError(w, err.Error())
		return
	}
	writeOK(w, map[string]any{"items": messages, "total": total})
}

// GET /api/logs/rules?page=&limit=&rule_id=
func (h *LogsHandler) RuleFires(w http.ResponseWriter, r *http.Request) {
	filter := ports.RuleFireFilter{RuleID: r.URL.Query().Get("rule_id")}
	fires, total, err := h.ruleFireRepo.ListRuleFires(r.Context(), pageFromQuery(r), filter)
	if err != nil {
		internalError(w, err.Error())
		return
	}
	writeOK(w, map[string]any{"items": fires, "total": total})
}

// GET /api/logs/events?page=&limit=&event_type=
func (h *LogsHandler) Events(w http.ResponseWriter, r *http.Request) {
	kindFilter := r.URL.Query().Get("event_type")
	events, total, err := h.eventRepo.ListEvents(r.Context(), pageFromQuery(r), kindFilter)
	if err != nil {
		internalError(w, err.Error())
		return
	}
	writeOK(w, map[string]any{"items": events, "total": total})
}
