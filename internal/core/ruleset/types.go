// Package ruleset parses, validates, and matches the operator-authored YAML
// rule set. Following the "dynamic YAML -> typed variant tree" design note:
// the wire format is a single tagged-variant tree (rule, match clause, action
// variants). The Store keeps the canonical YAML produced by Canonical, not the
// operator's original formatting.
package ruleset

import (
	"fmt"
	"regexp"
)

// RuleSet is the parsed representation of the operator-authored YAML document.
type RuleSet struct {
	Rules []*Rule `yaml:"rules"`
}

// Rule is one operator-authored automation rule.
type Rule struct {
	ID              string      `yaml:"id"`
	Name            string      `yaml:"name"`
	Enabled         *bool       `yaml:"enabled,omitempty"`
	Priority        int         `yaml:"priority"`
	StopOnMatch     *bool       `yaml:"stop_on_match,omitempty"`
	Match           MatchClause `yaml:"match,omitempty"`
	Actions         []*Action   `yaml:"actions"`
	CooldownSeconds int         `yaml:"cooldown_seconds,omitempty"`
}

// IsEnabled returns the rule's enabled flag, defaulting to true when unset.
func (r *Rule) IsEnabled() bool {
	return r.Enabled == nil || *r.Enabled
}

// StopsOnMatch returns the rule's stop_on_match flag, defaulting to true.
func (r *Rule) StopsOnMatch() bool {
	return r.StopOnMatch == nil || *r.StopOnMatch
}

// ChatKindFilter enumerates the chat.kind match values.
type ChatKindFilter string

const (
	ChatKindAny    ChatKindFilter = "any"
	ChatKindGroup  ChatKindFilter = "group"
	ChatKindDirect ChatKindFilter = "direct"
)

// ChatMatch narrows a rule to specific chats or chat kinds.
type ChatMatch struct {
	Kind ChatKindFilter `yaml:"kind,omitempty"`
	IDs  []string       `yaml:"ids,omitempty"`
}

// SenderMatch narrows a rule to specific senders, by id or by bare number.
// When both are set, spec §4.4 mandates conjunctive (AND) semantics.
type SenderMatch struct {
	IDs     []string `yaml:"ids,omitempty"`
	Numbers []string `yaml:"numbers,omitempty"`
}

// TextMatchMode enumerates the supported text-matching strategies.
type TextMatchMode string

const (
	TextModeContains   TextMatchMode = "contains"
	TextModeStartsWith TextMatchMode = "starts_with"
	TextModeRegex      TextMatchMode = "regex"
)

// TextMatch narrows a rule by the event's text content.
type TextMatch struct {
	Mode     TextMatchMode `yaml:"mode"`
	Patterns []string      `yaml:"patterns"`

	compiled []*regexp.Regexp
}

// MatchClause is the full set of conditions a rule may impose on an event.
type MatchClause struct {
	Events []string    `yaml:"events,omitempty"`
	Chat   ChatMatch   `yaml:"chat,omitempty"`
	Sender SenderMatch `yaml:"sender,omitempty"`
	Text   *TextMatch  `yaml:"text,omitempty"`
}

// ActionKind discriminates the tagged Action union.
type ActionKind string

const (
	ActionKindHAService     ActionKind = "ha_service"
	ActionKindReplyWhatsApp ActionKind = "reply_whatsapp"
)

// Action is a single ordered step in a rule's action list. Exactly one of the
// kind-specific field groups is populated, selected by Kind.
type Action struct {
	Kind ActionKind

	// ha_service fields
	Service string         `yaml:"-"`
	Target  map[string]any `yaml:"-"`
	Data    map[string]any `yaml:"-"`

	// reply_whatsapp fields
	Text string `yaml:"-"`
}

// Describe renders a short human-readable preview of the action, used by the
// test_message preview path.
func (a *Action) Describe() string {
	switch a.Kind {
	case ActionKindHAService:
		return fmt.Sprintf("call orchestrator service %q with target %v", a.Service, a.Target)
	case ActionKindReplyWhatsApp:
		return fmt.Sprintf("reply with text %q", a.Text)
	default:
		return fmt.Sprintf("unknown action kind %q", a.Kind)
	}
}
