// Package handler implements HTTP request handlers
// Following Hexagonal Architecture: Adapters translate HTTP to domain logic
package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/bakeable/homeassistant-whatsapp-gateway/internal/core/services"
)

// WebhookHandler handles inbound provider webhook events.
type WebhookHandler struct {
	ingestor *services.WebhookIngestor
}

// NewWebhookHandler creates a new webhook handler.
func NewWebhookHandler(ingestor *services.WebhookIngestor) *WebhookHandler {
	return &WebhookHandler{ingestor: ingestor}
}

// ============================================================================
// POST /webhook/provider - Inbound Event Ingest
// ============================================================================

// HandleProviderEvent handles incoming provider webhook events. Once the body
// has been read it returns 200 immediately and processes the event in the
// background, so no downstream failure reaches the upstream provider, which
// retries on anything else (spec §7 error 5). A body that cannot be read is
// answered with 400.
func (h *WebhookHandler) HandleProviderEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		slog.Error("failed to read webhook body", "error", err)
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("EVENT_RECEIVED"))

	// context.WithoutCancel: the request context is canceled once this
	// handler returns, but processing must outlive the HTTP round-trip.
	ctx := context.WithoutCancel(r.Context())
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("PANIC in webhook processing goroutine", "panic", r)
			}
		}()
		h.ingestor.ProcessWebhook(ctx, body)
	}()

	slog.Info("webhook received and queued for processing", "content_length", len(body))
}
