// Package ports defines interfaces for dependency inversion.
// Following Hexagonal Architecture: core defines contracts, adapters implement them.
package ports

import (
	"context"
	"time"

	"github.com/bakeable/homeassistant-whatsapp-gateway/internal/core/domain"
)

// ChatFilter narrows a ListChats query.
type ChatFilter struct {
	Kind    *domain.ChatKind
	Enabled *bool
}

// PageRequest carries paging parameters shared by every list operation.
type PageRequest struct {
	Page  int
	Limit int
}

// ChatRepository handles persistence of chats.
// Per spec §4.1: upsert_chat, list_chats, sync_reconcile.
type ChatRepository interface {
	// UpsertChat inserts a new chat or updates an existing one's metadata.
	// updated_at is always stamped from the Store's own clock, never the caller's.
	UpsertChat(ctx context.Context, chat *domain.Chat) error

	// SetEnabled flips a chat's enabled flag under exclusive operator control.
	SetEnabled(ctx context.Context, chatID string, enabled bool) error

	// ListChats returns chats matching filter, newest activity first.
	ListChats(ctx context.Context, filter ChatFilter) ([]*domain.Chat, error)

	// SyncReconcile deletes chats whose updated_at predates since and whose id
	// lacks a recognised suffix (domain.HasValidSuffix), in a single transaction.
	SyncReconcile(ctx context.Context, since time.Time) (deleted int, err error)
}

// MessageRepository handles persistence of inbound chat messages.
type MessageRepository interface {
	// InsertMessage persists msg. If msg.ProviderMessageID is non-nil and already
	// present, this is a no-op: it returns inserted=false, err=nil (spec P1).
	InsertMessage(ctx context.Context, msg *domain.Message) (inserted bool, err error)

	// MarkProcessed flips the processed flag, exactly once per row.
	MarkProcessed(ctx context.Context, messageID int64) error

	// ListMessages returns paged messages, optionally filtered by chat id.
	ListMessages(ctx context.Context, page PageRequest, chatID string) ([]*domain.Message, int, error)
}

// RuleSetRepository handles the singleton rule-set row.
type RuleSetRepository interface {
	// GetRulesetYAML returns the current canonical YAML text (empty on first boot).
	GetRulesetYAML(ctx context.Context) (*domain.RuleSetRow, error)

	// PutRuleset atomically replaces the singleton row, bumping the version.
	// ruleCount is stored only for observability (rule_count column); the
	// Engine's in-memory cache is the source of truth for evaluation.
	PutRuleset(ctx context.Context, yamlText string, ruleCount int) (version int64, err error)
}

// CooldownRepository handles per-(rule, chat) cooldown bookkeeping.
type CooldownRepository interface {
	// IsOnCooldown reports whether (ruleID, scopeKey) is currently cooling down.
	IsOnCooldown(ctx context.Context, ruleID, scopeKey string) (bool, error)

	// SetCooldown starts a cooldown window of the given duration.
	SetCooldown(ctx context.Context, ruleID, scopeKey string, ttl time.Duration) error

	// SweepExpired opportunistically removes cooldown entries past expiry.
	// Backends with native TTL support (Redis) may implement this as a no-op.
	SweepExpired(ctx context.Context) (removed int, err error)
}

// RuleFireFilter narrows a ListRuleFires query.
type RuleFireFilter struct {
	RuleID string
}

// RuleFireRepository handles the append-only rule-fire log.
type RuleFireRepository interface {
	InsertRuleFire(ctx context.Context, fire *domain.RuleFire) error
	ListRuleFires(ctx context.Context, page PageRequest, filter RuleFireFilter) ([]*domain.RuleFire, int, error)
}

// EventLogRepository handles the append-only webhook event log.
type EventLogRepository interface {
	InsertEvent(ctx context.Context, entry *domain.EventLogEntry) error
	ListEvents(ctx context.Context, page PageRequest, kindFilter string) ([]*domain.EventLogEntry, int, error)
}
