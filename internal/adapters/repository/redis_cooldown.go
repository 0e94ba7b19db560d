// Package repository implements data persistence adapters
package repository

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bakeable/homeassistant-whatsapp-gateway/internal/core/ports"
)

// Ensure RedisCooldownRepository implements CooldownRepository
var _ ports.CooldownRepository = (*RedisCooldownRepository)(nil)

// RedisCooldownRepository implements per-(rule, chat) cooldown bookkeeping
// using Redis' native key TTL, keyed cooldown:{rule_id}:{scope_key}.
type RedisCooldownRepository struct {
	client *redis.Client
}

// NewRedisCooldownRepository creates a new Redis-backed cooldown repository.
func NewRedisCooldownRepository(client *redis.Client) *RedisCooldownRepository {
	return &RedisCooldownRepository{client: client}
}

// IsOnCooldown checks whether (ruleID, scopeKey) is currently cooling down.
func (r *RedisCooldownRepository) IsOnCooldown(ctx context.Context, ruleID, scopeKey string) (bool, error) {
	key := buildCooldownKey(ruleID, scopeKey)

	_, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		slog.Error("Failed to check cooldown", "error", err, "rule_id", ruleID, "scope_key", scopeKey)
		return false, fmt.Errorf("check cooldown: %w", err)
	}

	return true, nil
}

// SetCooldown starts a cooldown window of the given duration. Uses SET NX so
// a concurrent evaluation racing on the same (ruleID, scopeKey) never resets
// an already-running window.
func (r *RedisCooldownRepository) SetCooldown(ctx context.Context, ruleID, scopeKey string, ttl time.Duration) error {
	key := buildCooldownKey(ruleID, scopeKey)

	ok, err := r.client.SetNX(ctx, key, time.Now().Unix(), ttl).Result()
	if err != nil {
		slog.Error("Failed to set cooldown", "error", err, "rule_id", ruleID, "scope_key", scopeKey, "ttl", ttl)
		return fmt.Errorf("set cooldown: %w", err)
	}

	slog.Debug("cooldown set", "rule_id", ruleID, "scope_key", scopeKey, "ttl", ttl, "acquired", ok)
	return nil
}

// SweepExpired is a no-op: Redis expires cooldown keys natively via TTL.
func (r *RedisCooldownRepository) SweepExpired(ctx context.Context) (int, error) {
	return 0, nil
}

func buildCooldownKey(ruleID, scopeKey string) string {
	return fmt.Sprintf("cooldown:%s:%s", ruleID, scopeKey)
}
