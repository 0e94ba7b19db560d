// Package handler implements HTTP request handlers
package handler

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/bakeable/homeassistant-whatsapp-gateway/internal/core/ports"
)

// NotifyHandler exposes the orchestrator-facing send endpoint: the mirror
// image of the provider-facing /api/wa/send, shaped for Home Assistant's
// notify.* service call convention rather than the gateway's own send API.
type NotifyHandler struct {
	provider     ports.ProviderClient
	instanceName string
}

// NewNotifyHandler creates a new NotifyHandler.
func NewNotifyHandler(provider ports.ProviderClient, instanceName string) *NotifyHandler {
	return &NotifyHandler{provider: provider, instanceName: instanceName}
}

type notifyData struct {
	Image    string `json:"image,omitempty"`
	Document string `json:"document,omitempty"`
}

// POST /api/notify/send
func (h *NotifyHandler) Send(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Message string     `json:"message"`
		Target  string     `json:"target"`
		Title   string     `json:"title,omitempty"`
		Data    notifyData `json:"data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	if body.Message == "" || body.Target == "" {
		badRequest(w, "message and target are required")
		return
	}

	to := normalizeRecipient(body.Target)
	text := body.Message
	if body.Title != "" {
		text = fmt.Sprintf("*%s*\n\n%s", body.Title, text)
	}

	var (
		messageID string
		err       error
	)
	switch {
	case body.Data.Image != "":
		messageID, err = h.provider.SendMedia(r.Context(), h.instanceName, to, body.Data.Image, ports.MediaImage, text)
	case body.Data.Document != "":
		messageID, err = h.provider.SendMedia(r.Context(), h.instanceName, to, body.Data.Document, ports.MediaDocument, text)
	default:
		messageID, err = h.provider.SendText(r.Context(), h.instanceName, to, text)
	}
	if err != nil {
		internalError(w, err.Error())
		return
	}

	writeOK(w, map[string]any{"message_id": messageID})
}
