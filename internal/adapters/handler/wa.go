// Package handler implements HTTP request handlers
package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/bakeable/homeassistant-whatsapp-gateway/internal/core/domain"
	"github.com/bakeable/homeassistant-whatsapp-gateway/internal/core/ports"
	"github.com/bakeable/homeassistant-whatsapp-gateway/internal/core/services"
)

// WAHandler exposes the management API's provider-facing surface:
// instance lifecycle, chat catalogue, and outbound send.
type WAHandler struct {
	provider     ports.ProviderClient
	chatRepo     ports.ChatRepository
	sync         *services.SyncCoordinator
	instanceName string
}

// NewWAHandler creates a new WAHandler.
func NewWAHandler(provider ports.ProviderClient, chatRepo ports.ChatRepository, sync *services.SyncCoordinator, instanceName string) *WAHandler {
	return &WAHandler{provider: provider, chatRepo: chatRepo, sync: sync, instanceName: instanceName}
}

// GET /api/wa/status
func (h *WAHandler) Status(w http.ResponseWriter, r *http.Request) {
	status, err := h.provider.ConnectionStatus(r.Context(), h.instanceName)
	if err != nil {
		internalError(w, err.Error())
		return
	}
	writeOK(w, map[string]any{
		"instance_name":       h.instanceName,
		"evolution_status":    status.State,
		"evolution_connected": status.State == ports.ConnectionConnected,
	})
}

// POST /api/wa/instances
func (h *WAHandler) EnsureInstance(w http.ResponseWriter, r *http.Request) {
	outcome, err := h.provider.EnsureInstance(r.Context(), h.instanceName)
	if err != nil {
		internalError(w, err.Error())
		return
	}
	writeOK(w, map[string]any{"outcome": outcome})
}

// POST /api/wa/instances/{name}/connect
func (h *WAHandler) Connect(w http.ResponseWriter, r *http.Request, name string) {
	qr, err := h.provider.RequestQR(r.Context(), name)
	if err != nil {
		internalError(w, err.Error())
		return
	}
	writeOK(w, map[string]any{"qr": qr.Payload, "qr_type": qr.Kind, "expires_in": qr.TTLSeconds})
}

// GET /api/wa/instances/{name}/status
func (h *WAHandler) InstanceStatus(w http.ResponseWriter, r *http.Request, name string) {
	status, err := h.provider.ConnectionStatus(r.Context(), name)
	if err != nil {
		internalError(w, err.Error())
		return
	}
	writeOK(w, status)
}

// POST /api/wa/instances/{name}/disconnect
func (h *WAHandler) Disconnect(w http.ResponseWriter, r *http.Request, name string) {
	if err := h.provider.Disconnect(r.Context(), name); err != nil {
		internalError(w, err.Error())
		return
	}
	writeOK(w, nil)
}

// GET /api/wa/chats?type=&enabled=
func (h *WAHandler) ListChats(w http.ResponseWriter, r *http.Request) {
	var filter ports.ChatFilter
	if kind := r.URL.Query().Get("type"); kind != "" {
		k := domain.ChatKind(kind)
		filter.Kind = &k
	}
	if enabledStr := r.URL.Query().Get("enabled"); enabledStr != "" {
		enabled, err := strconv.ParseBool(enabledStr)
		if err != nil {
			badRequest(w, "enabled must be a boolean")
			return
		}
		filter.Enabled = &enabled
	}

	chats, err := h.chatRepo.ListChats(r.Context(), filter)
	if err != nil {
		internalError(w, err.Error())
		return
	}
	writeOK(w, chats)
}

// POST /api/wa/chats/refresh
func (h *WAHandler) RefreshChats(w http.ResponseWriter, r *http.Request) {
	result := h.sync.StartSync(r.Context())
	writeOK(w, map[string]any{"status": result})
}

// GET /api/wa/chats/refresh/status
func (h *WAHandler) RefreshStatus(w http.ResponseWriter, r *http.Request) {
	writeOK(w, h.sync.Progress())
}

// PATCH /api/wa/chats/{id}
func (h *WAHandler) SetChatEnabled(w http.ResponseWriter, r *http.Request, chatID string) {
	var body struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	if err := h.chatRepo.SetEnabled(r.Context(), chatID, body.Enabled); err != nil {
		internalError(w, err.Error())
		return
	}
	writeOK(w, nil)
}

// POST /api/wa/send
func (h *WAHandler) Send(w http.ResponseWriter, r *http.Request) {
	var body struct {
		To   string `json:"to"`
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	if body.To == "" || body.Text == "" {
		badRequest(w, "to and text are required")
		return
	}

	messageID, err := h.provider.SendText(r.Context(), h.instanceName, normalizeRecipient(body.To), body.Text)
	if err != nil {
		internalError(w, err.Error())
		return
	}
	writeOK(w, map[string]any{"message_id": messageID})
}

// POST /api/wa/send-media
func (h *WAHandler) SendMedia(w http.ResponseWriter, r *http.Request) {
	var body struct {
		To        string `json:"to"`
		MediaURL  string `json:"media_url"`
		MediaType string `json:"media_type"`
		Caption   string `json:"caption"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	if body.To == "" || body.MediaURL == "" {
		badRequest(w, "to and media_url are required")
		return
	}
	switch ports.MediaKind(body.MediaType) {
	case ports.MediaImage, ports.MediaDocument, ports.MediaAudio, ports.MediaVideo:
	default:
		badRequest(w, "media_type must be one of image, document, audio, video")
		return
	}

	messageID, err := h.provider.SendMedia(r.Context(), h.instanceName, normalizeRecipient(body.To), body.MediaURL, ports.MediaKind(body.MediaType), body.Caption)
	if err != nil {
		internalError(w, err.Error())
		return
	}
	writeOK(w, map[string]any{"message_id": messageID})
}

// normalizeRecipient converts a bare phone number into a WhatsApp chat id:
// if to carries no "@", strip non-digits and append "@s.whatsapp.net".
func normalizeRecipient(to string) string {
	if strings.Contains(to, "@") {
		return to
	}
	var digits strings.Builder
	for _, r := range to {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	return digits.String() + "@s.whatsapp.net"
}
