package services

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/bakeable/homeassistant-whatsapp-gateway/internal/adapters/dto"
	"github.com/bakeable/homeassistant-whatsapp-gateway/internal/core/domain"
	"github.com/bakeable/homeassistant-whatsapp-gateway/internal/core/ports"
	"github.com/bakeable/homeassistant-whatsapp-gateway/internal/core/ruleset"
)

// WebhookIngestor normalizes, deduplicates, persists, and routes every
// inbound provider webhook event to the rule engine.
type WebhookIngestor struct {
	messageRepo ports.MessageRepository
	chatRepo    ports.ChatRepository
	eventRepo   ports.EventLogRepository
	engine      *RuleEngine
}

// NewWebhookIngestor constructs a WebhookIngestor with its dependencies injected.
func NewWebhookIngestor(
	messageRepo ports.MessageRepository,
	chatRepo ports.ChatRepository,
	eventRepo ports.EventLogRepository,
	engine *RuleEngine,
) *WebhookIngestor {
	return &WebhookIngestor{
		messageRepo: messageRepo,
		chatRepo:    chatRepo,
		eventRepo:   eventRepo,
		engine:      engine,
	}
}

// normalizeEventKind turns a provider event name like "messages.upsert" into
// the uppercase, underscore-joined vocabulary the rule engine matches on:
// "MESSAGES_UPSERT".
func normalizeEventKind(raw string) string {
	return strings.ToUpper(strings.ReplaceAll(raw, ".", "_"))
}

// ProcessWebhook handles one raw webhook POST body. It logs an event entry for
// every body that parses as a provider envelope (a body that is not valid JSON
// is only reported via slog) and always returns quickly: panics are recovered, and every failure
// path is logged rather than propagated, since the upstream provider expects
// a fast 200 regardless of downstream outcome.
func (w *WebhookIngestor) ProcessWebhook(ctx context.Context, raw []byte) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("PANIC recovered in ProcessWebhook", "panic", r)
		}
	}()

	var envelope dto.ProviderWebhookEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		slog.Error("failed to parse provider webhook JSON", "error", err)
		return
	}

	kind := normalizeEventKind(envelope.Event)

	// Step 1: always append to the audit log, regardless of what follows.
	w.logEvent(ctx, kind, envelope, raw)

	if kind != "MESSAGES_UPSERT" {
		// Other event kinds carry no message content, but rules that
		// enumerate them must still get a chance to fire.
		w.engine.Evaluate(ctx, ruleset.NormalizedEvent{EventKind: kind}, nil)
		return
	}

	if envelope.Data.Key != nil && envelope.Data.Key.FromMe {
		slog.Debug("skipping self-sent message", "chat_id", envelope.Data.GetChatID())
		return
	}

	if envelope.Data.GetContent() == "" {
		slog.Debug("skipping message with no extractable text", "chat_id", envelope.Data.GetChatID())
		return
	}

	w.processMessage(ctx, kind, &envelope)
}

// messageSummaryTruncateLimit is the per-kind rule for MESSAGES_UPSERT
// summaries (spec §4.5 step 2); the 1000-char EventLogEntry-wide cap in
// domain.EventSummaryTruncateLimit still applies as the outer bound.
const messageSummaryTruncateLimit = 120

func (w *WebhookIngestor) logEvent(ctx context.Context, kind string, envelope dto.ProviderWebhookEnvelope, raw []byte) {
	entry := &domain.EventLogEntry{
		EventKind:    kind,
		InstanceName: envelope.Instance,
		Summary:      domain.TruncateRunes(eventSummary(kind, envelope.Data), domain.EventSummaryTruncateLimit),
		RawPayload:   json.RawMessage(raw),
		ReceivedAt:   time.Now(),
	}
	if chatID := envelope.Data.GetChatID(); chatID != "" {
		entry.ChatID = &chatID
	}
	if senderID := envelope.Data.GetSenderID(); senderID != "" {
		entry.SenderID = &senderID
	}

	if err := w.eventRepo.InsertEvent(ctx, entry); err != nil {
		slog.Error("failed to persist event log entry", "error", err, "event_kind", kind)
	}
}

// eventSummary builds the event log's short summary. For MESSAGES_UPSERT it
// is the first 120 chars of the extracted text, prefixed "[sent]" when the
// gateway's own instance sent it (spec §4.5 step 2); other kinds carry no
// message content, so the summary is empty.
func eventSummary(kind string, data dto.ProviderPayload) string {
	if kind != "MESSAGES_UPSERT" {
		return ""
	}
	content := domain.TruncateRunes(data.GetContent(), messageSummaryTruncateLimit)
	if data.Key != nil && data.Key.FromMe {
		return "[sent] " + content
	}
	return content
}

func (w *WebhookIngestor) processMessage(ctx context.Context, kind string, envelope *dto.ProviderWebhookEnvelope) {
	data := envelope.Data
	chatID := data.GetChatID()
	messageID := data.GetMessageID()
	senderID := data.GetSenderID()

	now := time.Now()
	chat := &domain.Chat{
		ID:            chatID,
		Kind:          domain.ChatKindFromID(chatID),
		DisplayName:   data.PushName,
		Enabled:       true,
		LastMessageAt: &now,
	}
	if err := w.chatRepo.UpsertChat(ctx, chat); err != nil {
		slog.Error("failed to upsert chat", "error", err, "chat_id", chatID)
	}

	msg := &domain.Message{
		ChatID:     chatID,
		SenderID:   senderID,
		SenderName: data.PushName,
		Text:       data.GetContent(),
		Kind:       domain.MessageKind(data.GetMessageKind()),
		ReceivedAt: time.Now(),
	}
	if messageID != "" {
		msg.ProviderMessageID = &messageID
	}

	inserted, err := w.messageRepo.InsertMessage(ctx, msg)
	if err != nil {
		slog.Error("failed to persist inbound message", "error", err, "chat_id", chatID)
		return
	}
	if !inserted {
		slog.Info("duplicate provider message, skipping rule evaluation", "provider_message_id", messageID)
		return
	}

	event := ruleset.NormalizedEvent{
		EventKind:         kind,
		ChatID:            chatID,
		ChatKind:          ruleset.ChatKindFilter(chat.Kind),
		SenderID:          senderID,
		SenderNumber:      numericPrefix(senderID),
		SenderName:        data.PushName,
		Text:              msg.Text,
		ProviderMessageID: msg.ProviderMessageID,
	}

	outcome := w.engine.Evaluate(ctx, event, messageIDPtr(msg))
	if err := w.messageRepo.MarkProcessed(ctx, msg.ID); err != nil {
		slog.Warn("failed to mark message processed", "error", err, "message_id", msg.ID)
	}

	slog.Info("inbound message processed",
		"chat_id", chatID,
		"rules_matched", outcome.RulesMatched,
		"rules_fired", outcome.RulesFired,
	)
}

func messageIDPtr(msg *domain.Message) *int64 {
	if msg.ID == 0 {
		return nil
	}
	id := msg.ID
	return &id
}

// numericPrefix returns everything before the first "@" in a chat/sender id,
// the "numeric part" spec.md's sender.numbers match is defined against.
func numericPrefix(id string) string {
	if i := strings.IndexByte(id, '@'); i >= 0 {
		return id[:i]
	}
	return id
}
