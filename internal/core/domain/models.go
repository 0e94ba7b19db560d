// Package domain contains core business entities.
// Following Hexagonal Architecture: these models are infrastructure-agnostic.
package domain

import (
	"encoding/json"
	"time"
)

// ChatKind distinguishes a group chat from a direct one-to-one chat.
type ChatKind string

const (
	ChatKindGroup  ChatKind = "group"
	ChatKindDirect ChatKind = "direct"
)

// Chat-id suffixes recognised by the gateway.
const (
	GroupSuffix          = "@g.us"
	DirectSuffixWhatsApp = "@s.whatsapp.net"
	DirectSuffixLegacy   = "@c.us"
)

// ChatKindFromID derives a ChatKind from a chat id's suffix.
func ChatKindFromID(id string) ChatKind {
	if hasSuffix(id, GroupSuffix) {
		return ChatKindGroup
	}
	return ChatKindDirect
}

// HasValidSuffix reports whether id carries one of the known chat-id suffixes.
// Sync reconciliation never deletes a chat whose id carries a recognised
// suffix, even if it looks stale; only stale chats lacking one are removed.
func HasValidSuffix(id string) bool {
	return hasSuffix(id, GroupSuffix) || hasSuffix(id, DirectSuffixWhatsApp) || hasSuffix(id, DirectSuffixLegacy)
}

func hasSuffix(id, suffix string) bool {
	return len(id) >= len(suffix) && id[len(id)-len(suffix):] == suffix
}

// Chat represents a WhatsApp chat (group or direct) known to the gateway.
type Chat struct {
	ID            string     `json:"id" db:"id"`
	Kind          ChatKind   `json:"kind" db:"kind"`
	DisplayName   string     `json:"display_name" db:"display_name"`
	PhoneNumber   *string    `json:"phone_number,omitempty" db:"phone_number"`
	Enabled       bool       `json:"enabled" db:"enabled"`
	LastMessageAt *time.Time `json:"last_message_at,omitempty" db:"last_message_at"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at" db:"updated_at"`
}

// MessageKind enumerates the supported message content kinds.
type MessageKind string

const (
	MessageKindText  MessageKind = "text"
	MessageKindImage MessageKind = "image"
	MessageKindVideo MessageKind = "video"
	MessageKindOther MessageKind = "other"
)

// Message represents a single persisted inbound chat message.
type Message struct {
	ID                int64           `json:"id" db:"id"`
	ProviderMessageID *string         `json:"provider_message_id,omitempty" db:"provider_message_id"`
	ChatID            string          `json:"chat_id" db:"chat_id"`
	SenderID          string          `json:"sender_id" db:"sender_id"`
	SenderName        string          `json:"sender_name" db:"sender_name"`
	Text              string          `json:"text" db:"text"`
	Kind              MessageKind     `json:"kind" db:"kind"`
	RawPayload        json.RawMessage `json:"raw_payload,omitempty" db:"raw_payload"`
	ReceivedAt        time.Time       `json:"received_at" db:"received_at"`
	Processed         bool            `json:"processed" db:"processed"`
}

// RuleSetRow is the singleton persisted rule-set row: canonical YAML plus version.
type RuleSetRow struct {
	YAML      string    `json:"yaml" db:"yaml_text"`
	Version   int64     `json:"version" db:"version"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Cooldown is a (rule id, chat id) scope key mapped to an expiry instant.
type Cooldown struct {
	RuleID   string    `json:"rule_id" db:"rule_id"`
	ScopeKey string    `json:"scope_key" db:"scope_key"`
	ExpireAt time.Time `json:"expire_at" db:"expire_at"`
}

// ActionResult records the outcome of one dispatched action within a rule fire.
type ActionResult struct {
	Kind    string `json:"kind"`
	Success bool   `json:"success"`
	Detail  string `json:"detail,omitempty"`
	Error   string `json:"error,omitempty"`
}

// MatchedTextTruncateLimit is the max length stored for a rule fire's triggering text.
const MatchedTextTruncateLimit = 500

// RuleFire is an append-only record of a rule that matched and had actions attempted.
type RuleFire struct {
	ID            int64          `json:"id" db:"id"`
	RuleID        string         `json:"rule_id" db:"rule_id"`
	RuleName      string         `json:"rule_name" db:"rule_name"`
	MessageID     *int64         `json:"message_id,omitempty" db:"message_id"`
	ChatID        string         `json:"chat_id" db:"chat_id"`
	SenderID      string         `json:"sender_id" db:"sender_id"`
	MatchedText   string         `json:"matched_text" db:"matched_text"`
	ActionResults []ActionResult `json:"action_results" db:"-"`
	Success       bool           `json:"success" db:"success"`
	ErrorMessage  string         `json:"error_message,omitempty" db:"error_message"`
	FiredAt       time.Time      `json:"fired_at" db:"fired_at"`
}

// EventSummaryTruncateLimit is the max length of an EventLogEntry's summary field.
const EventSummaryTruncateLimit = 1000

// EventLogEntry is an append-only record of every inbound webhook event.
type EventLogEntry struct {
	ID           int64           `json:"id" db:"id"`
	EventKind    string          `json:"event_kind" db:"event_kind"`
	InstanceName string          `json:"instance_name" db:"instance_name"`
	ChatID       *string         `json:"chat_id,omitempty" db:"chat_id"`
	SenderID     *string         `json:"sender_id,omitempty" db:"sender_id"`
	Summary      string          `json:"summary" db:"summary"`
	RawPayload   json.RawMessage `json:"raw_payload,omitempty" db:"raw_payload"`
	ReceivedAt   time.Time       `json:"received_at" db:"received_at"`
}

// TruncateRunes truncates s to at most n runes, leaving s untouched if shorter.
func TruncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
