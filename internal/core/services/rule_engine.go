// Package services contains core business logic
// Following Hexagonal Architecture: Services orchestrate domain logic using ports
package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bakeable/homeassistant-whatsapp-gateway/internal/core/domain"
	"github.com/bakeable/homeassistant-whatsapp-gateway/internal/core/ports"
	"github.com/bakeable/homeassistant-whatsapp-gateway/internal/core/ruleset"
)

// RuleEngine holds the active rule set in a lock-free atomic pointer and
// evaluates inbound events against it. Readers (Evaluate, TestMessage) never
// block a concurrent Reload/SaveRuleset.
type RuleEngine struct {
	active atomic.Pointer[ruleset.RuleSet]

	ruleSetRepo   ports.RuleSetRepository
	cooldownRepo  ports.CooldownRepository
	ruleFireRepo  ports.RuleFireRepository
	orchestrator  ports.OrchestratorClient
	provider      ports.ProviderClient
	defaultInst   string
	haAllowList   []string
}

// NewRuleEngine constructs a RuleEngine with its dependencies injected.
func NewRuleEngine(
	ruleSetRepo ports.RuleSetRepository,
	cooldownRepo ports.CooldownRepository,
	ruleFireRepo ports.RuleFireRepository,
	orchestrator ports.OrchestratorClient,
	provider ports.ProviderClient,
	defaultInstanceName string,
	haAllowList []string,
) *RuleEngine {
	e := &RuleEngine{
		ruleSetRepo:  ruleSetRepo,
		cooldownRepo: cooldownRepo,
		ruleFireRepo: ruleFireRepo,
		orchestrator: orchestrator,
		provider:     provider,
		defaultInst:  defaultInstanceName,
		haAllowList:  haAllowList,
	}
	e.active.Store(&ruleset.RuleSet{})
	return e
}

// Reload loads the persisted rule set from the Store and swaps it into the
// active cache. Called once at startup and by POST /api/rules/reload;
// SaveRuleset swaps the cache itself.
func (e *RuleEngine) Reload(ctx context.Context) error {
	row, err := e.ruleSetRepo.GetRulesetYAML(ctx)
	if err != nil {
		return fmt.Errorf("reload ruleset: %w", err)
	}
	if row == nil || row.YAML == "" {
		e.active.Store(&ruleset.RuleSet{})
		return nil
	}

	rs, errs := ruleset.Parse([]byte(row.YAML))
	if len(errs) > 0 {
		return fmt.Errorf("reload ruleset: persisted YAML is no longer valid: %v", errs)
	}
	if errs := ruleset.Validate(rs); len(errs) > 0 {
		return fmt.Errorf("reload ruleset: persisted YAML fails schema: %v", errs)
	}

	sortRulesByPriority(rs)
	e.active.Store(rs)

	slog.Info("rule set reloaded",
		"rule_count", len(rs.Rules),
		"version", row.Version,
	)
	return nil
}

// SaveRuleset validates raw, persists it if valid, and hot-swaps the active
// cache. Returns the validation result either way so callers can surface
// structured {path, line} errors to the operator without touching the store.
func (e *RuleEngine) SaveRuleset(ctx context.Context, raw []byte) (ruleset.ValidationResult, error) {
	result := ruleset.ValidateYAML(raw)
	if !result.Valid {
		return result, nil
	}

	version, err := e.ruleSetRepo.PutRuleset(ctx, result.Canonical, result.RuleCount)
	if err != nil {
		return result, fmt.Errorf("save ruleset: %w", err)
	}

	rs, errs := ruleset.Parse([]byte(result.Canonical))
	if len(errs) > 0 {
		return result, fmt.Errorf("save ruleset: canonical YAML failed to re-parse: %v", errs)
	}
	// Validate compiles every text.mode: regex pattern into tm.compiled; without
	// this the active cache would carry regex matchers that never match.
	if errs := ruleset.Validate(rs); len(errs) > 0 {
		return result, fmt.Errorf("save ruleset: canonical YAML failed schema on re-validate: %v", errs)
	}
	sortRulesByPriority(rs)
	e.active.Store(rs)

	slog.Info("rule set saved and activated",
		"rule_count", result.RuleCount,
		"version", version,
	)
	return result, nil
}

// CurrentYAML returns the persisted canonical YAML text, for GET /api/rules.
func (e *RuleEngine) CurrentYAML(ctx context.Context) (*domain.RuleSetRow, error) {
	row, err := e.ruleSetRepo.GetRulesetYAML(ctx)
	if err != nil {
		return nil, fmt.Errorf("get current ruleset: %w", err)
	}
	return row, nil
}

func sortRulesByPriority(rs *ruleset.RuleSet) {
	sort.SliceStable(rs.Rules, func(i, j int) bool {
		return rs.Rules[i].Priority < rs.Rules[j].Priority
	})
}

// EvaluationOutcome summarizes one Evaluate call for logging/metrics.
type EvaluationOutcome struct {
	RulesConsidered int
	RulesMatched    int
	RulesFired      int
	RulesSkippedCD  int
}

// Evaluate runs event against every enabled rule in priority order, firing
// actions for each match (subject to cooldown) and persisting a RuleFire for
// each one. If a matched rule has stop_on_match set (the default), evaluation
// stops after it fires.
func (e *RuleEngine) Evaluate(ctx context.Context, event ruleset.NormalizedEvent, messageID *int64) EvaluationOutcome {
	rs := e.active.Load()
	outcome := EvaluationOutcome{RulesConsidered: len(rs.Rules)}

	for _, rule := range rs.Rules {
		if !rule.IsEnabled() {
			continue
		}
		if !ruleset.Matches(rule, event) {
			continue
		}
		outcome.RulesMatched++

		scopeKey := event.ChatID
		if rule.CooldownSeconds > 0 {
			onCD, err := e.cooldownRepo.IsOnCooldown(ctx, rule.ID, scopeKey)
			if err != nil {
				slog.Error("cooldown check failed, firing rule anyway", "error", err, "rule_id", rule.ID)
			} else if onCD {
				outcome.RulesSkippedCD++
				continue
			}
		}

		e.fireRule(ctx, rule, event, messageID)
		outcome.RulesFired++

		if rule.CooldownSeconds > 0 {
			if err := e.cooldownRepo.SetCooldown(ctx, rule.ID, scopeKey, time.Duration(rule.CooldownSeconds)*time.Second); err != nil {
				slog.Error("failed to set cooldown", "error", err, "rule_id", rule.ID)
			}
		}

		if rule.StopsOnMatch() {
			break
		}
	}

	return outcome
}

// fireRule dispatches every action sequentially, tolerating partial failure:
// each action's outcome is recorded independently and one failing action
// never prevents the next from being attempted.
func (e *RuleEngine) fireRule(ctx context.Context, rule *ruleset.Rule, event ruleset.NormalizedEvent, messageID *int64) {
	results := make([]domain.ActionResult, 0, len(rule.Actions))
	var failedMsgs []string

	for _, action := range rule.Actions {
		res := e.dispatchAction(ctx, action, event)
		results = append(results, res)
		if !res.Success {
			failedMsgs = append(failedMsgs, res.Error)
		}
	}
	allOK := len(failedMsgs) == 0

	fire := &domain.RuleFire{
		RuleID:        rule.ID,
		RuleName:      rule.Name,
		MessageID:     messageID,
		ChatID:        event.ChatID,
		SenderID:      event.SenderID,
		MatchedText:   domain.TruncateRunes(event.Text, domain.MatchedTextTruncateLimit),
		ActionResults: results,
		Success:       allOK,
		FiredAt:       time.Now(),
	}
	if !allOK {
		fire.ErrorMessage = strings.Join(failedMsgs, "; ")
	}

	if err := e.ruleFireRepo.InsertRuleFire(ctx, fire); err != nil {
		slog.Error("failed to persist rule fire", "error", err, "rule_id", rule.ID)
	}

	slog.Info("rule fired",
		"rule_id", rule.ID,
		"rule_name", rule.Name,
		"chat_id", event.ChatID,
		"success", allOK,
	)
}

func (e *RuleEngine) dispatchAction(ctx context.Context, action *ruleset.Action, event ruleset.NormalizedEvent) domain.ActionResult {
	switch action.Kind {
	case ruleset.ActionKindHAService:
		err := e.orchestrator.CallService(ctx, action.Service, action.Target, action.Data, e.haAllowList)
		if err != nil {
			return domain.ActionResult{Kind: string(action.Kind), Success: false, Error: err.Error()}
		}
		return domain.ActionResult{Kind: string(action.Kind), Success: true, Detail: action.Service}

	case ruleset.ActionKindReplyWhatsApp:
		_, err := e.provider.SendText(ctx, e.defaultInst, event.ChatID, action.Text)
		if err != nil {
			return domain.ActionResult{Kind: string(action.Kind), Success: false, Error: err.Error()}
		}
		return domain.ActionResult{Kind: string(action.Kind), Success: true, Detail: "sent"}

	default:
		return domain.ActionResult{Kind: string(action.Kind), Success: false, Error: "unknown action kind"}
	}
}

// RuleEvaluation reports, for one rule considered during a TestMessage run,
// whether it matched and - when it did not fire - why.
type RuleEvaluation struct {
	RuleID   string `json:"rule_id"`
	RuleName string `json:"rule_name"`
	Matched  bool   `json:"matched"`
	Fired    bool   `json:"fired"`
	Reason   string `json:"reason,omitempty"`
}

// TestPreview describes the side-effect-free preview of evaluating a
// synthetic event against the active rule set (spec §4.4 test_message).
type TestPreview struct {
	Evaluated     []RuleEvaluation `json:"evaluated_rules"`
	ActionPreview []string         `json:"actions_preview,omitempty"`
}

// TestMessage evaluates event against every enabled rule in priority order,
// exactly like Evaluate's chain walk (cooldown-skip included), but never
// dispatches an action, writes a cooldown, or persists a RuleFire (spec §4.4,
// §8 P3). It reports every rule considered, not just the first match, so an
// operator can see why a rule further down the chain never got a chance to
// fire.
func (e *RuleEngine) TestMessage(ctx context.Context, event ruleset.NormalizedEvent) TestPreview {
	rs := e.active.Load()
	preview := TestPreview{Evaluated: make([]RuleEvaluation, 0, len(rs.Rules))}
	stopped := false

	for _, rule := range rs.Rules {
		if !rule.IsEnabled() {
			continue
		}
		if stopped {
			preview.Evaluated = append(preview.Evaluated, RuleEvaluation{
				RuleID: rule.ID, RuleName: rule.Name, Matched: false, Fired: false,
				Reason: "not reached: earlier rule stopped the chain",
			})
			continue
		}
		if !ruleset.Matches(rule, event) {
			preview.Evaluated = append(preview.Evaluated, RuleEvaluation{
				RuleID: rule.ID, RuleName: rule.Name, Matched: false, Fired: false,
				Reason: "conditions not met",
			})
			continue
		}

		if rule.CooldownSeconds > 0 {
			onCD, err := e.cooldownRepo.IsOnCooldown(ctx, rule.ID, event.ChatID)
			if err != nil {
				slog.Error("cooldown check failed during test_message", "error", err, "rule_id", rule.ID)
			} else if onCD {
				preview.Evaluated = append(preview.Evaluated, RuleEvaluation{
					RuleID: rule.ID, RuleName: rule.Name, Matched: true, Fired: false,
					Reason: "cooldown active",
				})
				continue
			}
		}

		eval := RuleEvaluation{RuleID: rule.ID, RuleName: rule.Name, Matched: true, Fired: true}
		preview.Evaluated = append(preview.Evaluated, eval)
		for _, a := range rule.Actions {
			preview.ActionPreview = append(preview.ActionPreview, fmt.Sprintf("[%s] %s", rule.ID, a.Describe()))
		}

		if rule.StopsOnMatch() {
			stopped = true
		}
	}

	return preview
}

// RuleCount returns the number of rules currently active, for health/status reporting.
func (e *RuleEngine) RuleCount() int {
	return len(e.active.Load().Rules)
}
