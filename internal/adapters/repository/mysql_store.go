// Package repository implements data persistence adapters
// Following Hexagonal Architecture: Adapters implement ports defined in core
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/bakeable/homeassistant-whatsapp-gateway/internal/core/domain"
	"github.com/bakeable/homeassistant-whatsapp-gateway/internal/core/ports"
)

// mysqlErrDupEntry is MySQL's ER_DUP_ENTRY error number, returned when a
// unique-index insert collides with an existing row.
const mysqlErrDupEntry = 1062

// Ensure MySQLStore implements every Store-side port.
var (
	_ ports.ChatRepository     = (*MySQLStore)(nil)
	_ ports.MessageRepository  = (*MySQLStore)(nil)
	_ ports.RuleSetRepository  = (*MySQLStore)(nil)
	_ ports.RuleFireRepository = (*MySQLStore)(nil)
	_ ports.EventLogRepository = (*MySQLStore)(nil)
)

// MySQLStore implements the gateway's Store ports against MySQL/MariaDB.
// Cooldown bookkeeping is not implemented here; that lives in the
// Redis-backed CooldownRepository since cooldowns are TTL-native.
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore creates a new MySQL-backed Store.
func NewMySQLStore(db *sql.DB) *MySQLStore {
	return &MySQLStore{db: db}
}

// ============================================================================
// ChatRepository Implementation
// ============================================================================

// UpsertChat inserts a new chat or updates an existing one's metadata.
// updated_at is always stamped from the Store's own clock, never the caller's.
// last_message_at is only advanced when chat.LastMessageAt is set (message
// ingestion); a catalogue-sync upsert leaves it untouched via COALESCE.
func (s *MySQLStore) UpsertChat(ctx context.Context, chat *domain.Chat) error {
	query := `
		INSERT INTO chats (id, kind, display_name, phone_number, enabled, last_message_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, NOW(), NOW())
		ON DUPLICATE KEY UPDATE
			display_name = VALUES(display_name),
			phone_number = COALESCE(VALUES(phone_number), phone_number),
			last_message_at = COALESCE(VALUES(last_message_at), last_message_at),
			updated_at = NOW()
	`

	_, err := s.db.ExecContext(ctx, query,
		chat.ID,
		chat.Kind,
		chat.DisplayName,
		chat.PhoneNumber,
		chat.Enabled,
		chat.LastMessageAt,
	)
	if err != nil {
		slog.Error("Failed to upsert chat", "error", err, "chat_id", chat.ID)
		return fmt.Errorf("upsert chat: %w", err)
	}

	return nil
}

// SetEnabled flips a chat's enabled flag under exclusive operator control.
func (s *MySQLStore) SetEnabled(ctx context.Context, chatID string, enabled bool) error {
	query := `UPDATE chats SET enabled = ?, updated_at = NOW() WHERE id = ?`

	result, err := s.db.ExecContext(ctx, query, enabled, chatID)
	if err != nil {
		slog.Error("Failed to set chat enabled flag", "error", err, "chat_id", chatID)
		return fmt.Errorf("set chat enabled: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		slog.Warn("No chat found for enabled toggle", "chat_id", chatID)
	}

	return nil
}

// ListChats returns chats matching filter, newest activity first.
func (s *MySQLStore) ListChats(ctx context.Context, filter ports.ChatFilter) ([]*domain.Chat, error) {
	query := `
		SELECT id, kind, display_name, phone_number, enabled, last_message_at, created_at, updated_at
		FROM chats
		WHERE (? IS NULL OR kind = ?)
		  AND (? IS NULL OR enabled = ?)
		ORDER BY COALESCE(last_message_at, created_at) DESC
	`

	var kindArg, enabledArg any
	if filter.Kind != nil {
		kindArg = *filter.Kind
	}
	if filter.Enabled != nil {
		enabledArg = *filter.Enabled
	}

	rows, err := s.db.QueryContext(ctx, query, kindArg, kindArg, enabledArg, enabledArg)
	if err != nil {
		slog.Error("Failed to list chats", "error", err)
		return nil, fmt.Errorf("list chats: %w", err)
	}
	defer rows.Close()

	var chats []*domain.Chat
	for rows.Next() {
		var c domain.Chat
		if err := rows.Scan(
			&c.ID, &c.Kind, &c.DisplayName, &c.PhoneNumber, &c.Enabled,
			&c.LastMessageAt, &c.CreatedAt, &c.UpdatedAt,
		); err != nil {
			slog.Error("Failed to scan chat row", "error", err)
			continue
		}
		chats = append(chats, &c)
	}

	return chats, rows.Err()
}

// SyncReconcile deletes chats whose updated_at predates since and whose id
// lacks a recognised chat-kind suffix (spec §4.1/§4.6): the suffix filter is
// applied in Go (domain.HasValidSuffix is not expressible cleanly in SQL),
// over the candidate rows returned by the time predicate, all inside one
// transaction.
func (s *MySQLStore) SyncReconcile(ctx context.Context, since time.Time) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sync reconcile: begin tx: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `SELECT id FROM chats WHERE updated_at < ?`, since)
	if err != nil {
		return 0, fmt.Errorf("sync reconcile: select stale: %w", err)
	}
	var staleIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("sync reconcile: scan stale id: %w", err)
		}
		if !domain.HasValidSuffix(id) {
			staleIDs = append(staleIDs, id)
		}
	}
	rows.Close()

	deleted := 0
	for _, id := range staleIDs {
		if _, err := tx.ExecContext(ctx, `DELETE FROM chats WHERE id = ?`, id); err != nil {
			return 0, fmt.Errorf("sync reconcile: delete %s: %w", id, err)
		}
		deleted++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("sync reconcile: commit: %w", err)
	}

	slog.Info("sync reconcile deleted stale chats", "deleted", deleted, "since", since)
	return deleted, nil
}

// ============================================================================
// MessageRepository Implementation
// ============================================================================

// InsertMessage persists msg, relying on the `messages.provider_message_id`
// unique index (nullable, so NULL ids never collide) rather than a
// check-then-insert race: two concurrent deliveries of the same provider
// message id both reach ExecContext, and MySQL's own constraint decides the
// winner. The loser's ER_DUP_ENTRY (1062) is translated into an idempotent
// inserted=false, err=nil outcome instead of propagating as a failure.
func (s *MySQLStore) InsertMessage(ctx context.Context, msg *domain.Message) (bool, error) {
	query := `
		INSERT INTO messages (
			provider_message_id, chat_id, sender_id, sender_name, text,
			kind, raw_payload, received_at, processed
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := s.db.ExecContext(ctx, query,
		msg.ProviderMessageID,
		msg.ChatID,
		msg.SenderID,
		msg.SenderName,
		msg.Text,
		msg.Kind,
		msg.RawPayload,
		msg.ReceivedAt,
		msg.Processed,
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlErrDupEntry {
			slog.Info("duplicate provider message id, skipping insert", "provider_message_id", msg.ProviderMessageID)
			return false, nil
		}
		slog.Error("Failed to insert message", "error", err, "chat_id", msg.ChatID)
		return false, fmt.Errorf("insert message: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return false, fmt.Errorf("insert message: last insert id: %w", err)
	}
	msg.ID = id

	return true, nil
}

// MarkProcessed flips the processed flag, exactly once per row.
func (s *MySQLStore) MarkProcessed(ctx context.Context, messageID int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE messages SET processed = TRUE WHERE id = ?`, messageID)
	if err != nil {
		slog.Error("Failed to mark message processed", "error", err, "message_id", messageID)
		return fmt.Errorf("mark message processed: %w", err)
	}
	return nil
}

// ListMessages returns paged messages, optionally filtered by chat id.
func (s *MySQLStore) ListMessages(ctx context.Context, page ports.PageRequest, chatID string) ([]*domain.Message, int, error) {
	limit, offset := pageBounds(page)

	var total int
	countQuery := `SELECT COUNT(*) FROM messages WHERE (? = '' OR chat_id = ?)`
	if err := s.db.QueryRowContext(ctx, countQuery, chatID, chatID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("list messages: count: %w", err)
	}

	query := `
		SELECT id, provider_message_id, chat_id, sender_id, sender_name, text,
		       kind, raw_payload, received_at, processed
		FROM messages
		WHERE (? = '' OR chat_id = ?)
		ORDER BY received_at DESC
		LIMIT ? OFFSET ?
	`
	rows, err := s.db.QueryContext(ctx, query, chatID, chatID, limit, offset)
	if err != nil {
		slog.Error("Failed to list messages", "error", err)
		return nil, 0, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var messages []*domain.Message
	for rows.Next() {
		var m domain.Message
		if err := rows.Scan(
			&m.ID, &m.ProviderMessageID, &m.ChatID, &m.SenderID, &m.SenderName,
			&m.Text, &m.Kind, &m.RawPayload, &m.ReceivedAt, &m.Processed,
		); err != nil {
			slog.Error("Failed to scan message row", "error", err)
			continue
		}
		messages = append(messages, &m)
	}

	return messages, total, rows.Err()
}

// ============================================================================
// RuleSetRepository Implementation
// ============================================================================

// GetRulesetYAML returns the current canonical YAML text (empty on first boot).
// The rule set is a singleton row keyed by id = 1.
func (s *MySQLStore) GetRulesetYAML(ctx context.Context) (*domain.RuleSetRow, error) {
	query := `SELECT yaml_text, version, updated_at FROM rule_sets WHERE id = 1`

	var row domain.RuleSetRow
	err := s.db.QueryRowContext(ctx, query).Scan(&row.YAML, &row.Version, &row.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("Failed to get ruleset", "error", err)
		return nil, fmt.Errorf("get ruleset: %w", err)
	}

	return &row, nil
}

// PutRuleset atomically replaces the singleton row, bumping the version.
func (s *MySQLStore) PutRuleset(ctx context.Context, yamlText string, ruleCount int) (int64, error) {
	query := `
		INSERT INTO rule_sets (id, yaml_text, rule_count, version, updated_at)
		VALUES (1, ?, ?, 1, NOW())
		ON DUPLICATE KEY UPDATE
			yaml_text = VALUES(yaml_text),
			rule_count = VALUES(rule_count),
			version = version + 1,
			updated_at = NOW()
	`
	if _, err := s.db.ExecContext(ctx, query, yamlText, ruleCount); err != nil {
		slog.Error("Failed to put ruleset", "error", err)
		return 0, fmt.Errorf("put ruleset: %w", err)
	}

	var version int64
	if err := s.db.QueryRowContext(ctx, `SELECT version FROM rule_sets WHERE id = 1`).Scan(&version); err != nil {
		return 0, fmt.Errorf("put ruleset: read back version: %w", err)
	}

	slog.Info("rule set persisted", "rule_count", ruleCount, "version", version)
	return version, nil
}

// ============================================================================
// RuleFireRepository Implementation
// ============================================================================

// InsertRuleFire persists one append-only rule-fire record.
func (s *MySQLStore) InsertRuleFire(ctx context.Context, fire *domain.RuleFire) error {
	actionResultsJSON, err := marshalActionResults(fire.ActionResults)
	if err != nil {
		return fmt.Errorf("insert rule fire: marshal action results: %w", err)
	}

	query := `
		INSERT INTO rule_fires (
			rule_id, rule_name, message_id, chat_id, sender_id,
			matched_text, action_results, success, error_message, fired_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := s.db.ExecContext(ctx, query,
		fire.RuleID,
		fire.RuleName,
		fire.MessageID,
		fire.ChatID,
		fire.SenderID,
		fire.MatchedText,
		actionResultsJSON,
		fire.Success,
		fire.ErrorMessage,
		fire.FiredAt,
	)
	if err != nil {
		slog.Error("Failed to insert rule fire", "error", err, "rule_id", fire.RuleID)
		return fmt.Errorf("insert rule fire: %w", err)
	}

	id, err := result.LastInsertId()
	if err == nil {
		fire.ID = id
	}

	return nil
}

// ListRuleFires returns paged rule-fire records, optionally filtered by rule id.
func (s *MySQLStore) ListRuleFires(ctx context.Context, page ports.PageRequest, filter ports.RuleFireFilter) ([]*domain.RuleFire, int, error) {
	limit, offset := pageBounds(page)

	var total int
	countQuery := `SELECT COUNT(*) FROM rule_fires WHERE (? = '' OR rule_id = ?)`
	if err := s.db.QueryRowContext(ctx, countQuery, filter.RuleID, filter.RuleID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("list rule fires: count: %w", err)
	}

	query := `
		SELECT id, rule_id, rule_name, message_id, chat_id, sender_id,
		       matched_text, action_results, success, error_message, fired_at
		FROM rule_fires
		WHERE (? = '' OR rule_id = ?)
		ORDER BY fired_at DESC
		LIMIT ? OFFSET ?
	`
	rows, err := s.db.QueryContext(ctx, query, filter.RuleID, filter.RuleID, limit, offset)
	if err != nil {
		slog.Error("Failed to list rule fires", "error", err)
		return nil, 0, fmt.Errorf("list rule fires: %w", err)
	}
	defer rows.Close()

	var fires []*domain.RuleFire
	for rows.Next() {
		var f domain.RuleFire
		var actionResultsJSON []byte
		if err := rows.Scan(
			&f.ID, &f.RuleID, &f.RuleName, &f.MessageID, &f.ChatID, &f.SenderID,
			&f.MatchedText, &actionResultsJSON, &f.Success, &f.ErrorMessage, &f.FiredAt,
		); err != nil {
			slog.Error("Failed to scan rule fire row", "error", err)
			continue
		}
		f.ActionResults = unmarshalActionResults(actionResultsJSON)
		fires = append(fires, &f)
	}

	return fires, total, rows.Err()
}

// ============================================================================
// EventLogRepository Implementation
// ============================================================================

// InsertEvent persists one append-only webhook event log entry.
func (s *MySQLStore) InsertEvent(ctx context.Context, entry *domain.EventLogEntry) error {
	query := `
		INSERT INTO event_log (
			event_kind, instance_name, chat_id, sender_id, summary, raw_payload, received_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	result, err := s.db.ExecContext(ctx, query,
		entry.EventKind,
		entry.InstanceName,
		entry.ChatID,
		entry.SenderID,
		entry.Summary,
		entry.RawPayload,
		entry.ReceivedAt,
	)
	if err != nil {
		slog.Error("Failed to insert event log entry", "error", err, "event_kind", entry.EventKind)
		return fmt.Errorf("insert event: %w", err)
	}

	id, err := result.LastInsertId()
	if err == nil {
		entry.ID = id
	}

	return nil
}

// ListEvents returns paged event-log entries, optionally filtered by event kind.
func (s *MySQLStore) ListEvents(ctx context.Context, page ports.PageRequest, kindFilter string) ([]*domain.EventLogEntry, int, error) {
	limit, offset := pageBounds(page)

	var total int
	countQuery := `SELECT COUNT(*) FROM event_log WHERE (? = '' OR event_kind = ?)`
	if err := s.db.QueryRowContext(ctx, countQuery, kindFilter, kindFilter).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("list events: count: %w", err)
	}

	query := `
		SELECT id, event_kind, instance_name, chat_id, sender_id, summary, raw_payload, received_at
		FROM event_log
		WHERE (? = '' OR event_kind = ?)
		ORDER BY received_at DESC
		LIMIT ? OFFSET ?
	`
	rows, err := s.db.QueryContext(ctx, query, kindFilter, kindFilter, limit, offset)
	if err != nil {
		slog.Error("Failed to list events", "error", err)
		return nil, 0, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []*domain.EventLogEntry
	for rows.Next() {
		var e domain.EventLogEntry
		if err := rows.Scan(
			&e.ID, &e.EventKind, &e.InstanceName, &e.ChatID, &e.SenderID,
			&e.Summary, &e.RawPayload, &e.ReceivedAt,
		); err != nil {
			slog.Error("Failed to scan event log row", "error", err)
			continue
		}
		events = append(events, &e)
	}

	return events, total, rows.Err()
}

// ============================================================================
// Shared helpers
// ============================================================================

func pageBounds(page ports.PageRequest) (limit, offset int) {
	limit = page.Limit
	if limit <= 0 {
		limit = 50
	}
	p := page.Page
	if p <= 0 {
		p = 1
	}
	return limit, (p - 1) * limit
}
