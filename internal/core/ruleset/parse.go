package ruleset

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidationError is one structured parse/schema problem, with a best-effort
// line number recovered from the YAML document.
type ValidationError struct {
	Path string `json:"path"`
	Line int    `json:"line,omitempty"`
	Msg  string `json:"message"`
}

func (e ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s (line %d): %s", e.Path, e.Line, e.Msg)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Msg)
}

// ValidationResult is the full outcome of validate_yaml (spec §4.4).
type ValidationResult struct {
	Valid     bool              `json:"valid"`
	Errors    []ValidationError `json:"errors,omitempty"`
	RuleCount int               `json:"rule_count"`
	Canonical string            `json:"canonical_yaml,omitempty"`
}

// lineNumberRE extracts "line N" from a yaml.v3 TypeError/syntax message.
var lineNumberRE = regexp.MustCompile(`line (\d+)`)

func lineFromErr(err error) int {
	m := lineNumberRE.FindStringSubmatch(err.Error())
	if m == nil {
		return 0
	}
	n, _ := strconv.Atoi(m[1])
	return n
}

// ValidateYAML is the single entry point used by the Rule Engine's
// validate_yaml and save_ruleset operations. It never panics on malformed
// input; every failure mode is reported as a ValidationError.
func ValidateYAML(raw []byte) ValidationResult {
	rs, errs := Parse(raw)
	if len(errs) > 0 {
		return ValidationResult{Valid: false, Errors: errs}
	}

	schemaErrs := Validate(rs)
	if len(schemaErrs) > 0 {
		return ValidationResult{Valid: false, Errors: schemaErrs, RuleCount: len(rs.Rules)}
	}

	canon, err := Canonical(rs)
	if err != nil {
		return ValidationResult{Valid: false, Errors: []ValidationError{{Path: "$", Msg: err.Error()}}}
	}

	return ValidationResult{
		Valid:     true,
		RuleCount: len(rs.Rules),
		Canonical: string(canon),
	}
}

// Parse decodes raw YAML into a RuleSet. Syntax errors and type mismatches are
// reported with a recovered line number where yaml.v3's error text carries one.
func Parse(raw []byte) (*RuleSet, []ValidationError) {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return &RuleSet{}, nil
	}

	var root yaml.Node
	if err := yaml.Unmarshal(raw, &root); err != nil {
		// Spec §4.4: a syntax error is reported as a single structured error
		// with an empty path - there is no rule/field to point at yet.
		return nil, []ValidationError{{Path: "", Line: lineFromErr(err), Msg: "malformed YAML: " + err.Error()}}
	}
	if len(root.Content) == 0 {
		return &RuleSet{}, nil
	}

	var doc struct {
		Rules []yaml.Node `yaml:"rules"`
	}
	if err := root.Content[0].Decode(&doc); err != nil {
		return nil, []ValidationError{{Path: "$.rules", Line: lineFromErr(err), Msg: err.Error()}}
	}

	rs := &RuleSet{}
	var errs []ValidationError
	for i, node := range doc.Rules {
		rule, ruleErrs := decodeRuleNode(&node, fmt.Sprintf("$.rules[%d]", i))
		errs = append(errs, ruleErrs...)
		if rule != nil {
			rs.Rules = append(rs.Rules, rule)
		}
	}
	if len(errs) > 0 {
		return nil, errs
	}
	return rs, nil
}

func decodeRuleNode(node *yaml.Node, path string) (*Rule, []ValidationError) {
	var raw struct {
		ID              string      `yaml:"id"`
		Name            string      `yaml:"name"`
		Enabled         *bool       `yaml:"enabled"`
		Priority        int         `yaml:"priority"`
		StopOnMatch     *bool       `yaml:"stop_on_match"`
		Match           matchRaw    `yaml:"match"`
		Actions         []yaml.Node `yaml:"actions"`
		CooldownSeconds int         `yaml:"cooldown_seconds"`
	}
	if err := node.Decode(&raw); err != nil {
		return nil, []ValidationError{{Path: path, Line: node.Line, Msg: err.Error()}}
	}

	rule := &Rule{
		ID:              raw.ID,
		Name:            raw.Name,
		Enabled:         raw.Enabled,
		Priority:        raw.Priority,
		StopOnMatch:     raw.StopOnMatch,
		Match:           raw.Match.toMatchClause(),
		CooldownSeconds: raw.CooldownSeconds,
	}

	var errs []ValidationError
	for i, actionNode := range raw.Actions {
		action, aErrs := decodeActionNode(&actionNode, fmt.Sprintf("%s.actions[%d]", path, i))
		errs = append(errs, aErrs...)
		if action != nil {
			rule.Actions = append(rule.Actions, action)
		}
	}
	if len(errs) > 0 {
		return nil, errs
	}
	return rule, nil
}

// matchRaw mirrors MatchClause but keeps Text as a node so its mode/patterns
// can be decoded with the same node path used for error reporting.
type matchRaw struct {
	Events []string  `yaml:"events"`
	Chat   ChatMatch `yaml:"chat"`
	Sender struct {
		IDs     []string `yaml:"ids"`
		Numbers []string `yaml:"numbers"`
	} `yaml:"sender"`
	Text *TextMatch `yaml:"text"`
}

func (m matchRaw) toMatchClause() MatchClause {
	return MatchClause{
		Events: m.Events,
		Chat:   m.Chat,
		Sender: SenderMatch{IDs: m.Sender.IDs, Numbers: m.Sender.Numbers},
		Text:   m.Text,
	}
}

func decodeActionNode(node *yaml.Node, path string) (*Action, []ValidationError) {
	var typed struct {
		Type    string         `yaml:"type"`
		Service string         `yaml:"service"`
		Target  map[string]any `yaml:"target"`
		Data    map[string]any `yaml:"data"`
		Text    string         `yaml:"text"`
	}
	if err := node.Decode(&typed); err != nil {
		return nil, []ValidationError{{Path: path, Line: node.Line, Msg: err.Error()}}
	}

	switch ActionKind(typed.Type) {
	case ActionKindHAService:
		return &Action{
			Kind:    ActionKindHAService,
			Service: typed.Service,
			Target:  typed.Target,
			Data:    typed.Data,
		}, nil
	case ActionKindReplyWhatsApp:
		return &Action{
			Kind: ActionKindReplyWhatsApp,
			Text: typed.Text,
		}, nil
	default:
		return nil, []ValidationError{{
			Path: path + ".type",
			Line: node.Line,
			Msg:  fmt.Sprintf("unknown action type %q, expected %q or %q", typed.Type, ActionKindHAService, ActionKindReplyWhatsApp),
		}}
	}
}

// Validate runs schema checks over an already-parsed RuleSet: unique rule
// ids, non-empty action lists, well-formed per-kind action fields, and
// compilable text-match patterns.
func Validate(rs *RuleSet) []ValidationError {
	var errs []ValidationError
	seen := make(map[string]bool, len(rs.Rules))

	for i, rule := range rs.Rules {
		path := fmt.Sprintf("$.rules[%d]", i)

		if rule.ID == "" {
			errs = append(errs, ValidationError{Path: path + ".id", Msg: "id is required"})
		} else if seen[rule.ID] {
			errs = append(errs, ValidationError{Path: path + ".id", Msg: fmt.Sprintf("duplicate rule id %q", rule.ID)})
		}
		seen[rule.ID] = true

		if rule.Name == "" {
			errs = append(errs, ValidationError{Path: path + ".name", Msg: "name is required"})
		}

		if len(rule.Actions) == 0 {
			errs = append(errs, ValidationError{Path: path + ".actions", Msg: "at least one action is required"})
		}

		if rule.Match.Chat.Kind != "" &&
			rule.Match.Chat.Kind != ChatKindAny &&
			rule.Match.Chat.Kind != ChatKindGroup &&
			rule.Match.Chat.Kind != ChatKindDirect {
			errs = append(errs, ValidationError{
				Path: path + ".match.chat.kind",
				Msg:  fmt.Sprintf("invalid chat kind %q, expected any/group/direct", rule.Match.Chat.Kind),
			})
		}

		if tm := rule.Match.Text; tm != nil {
			errs = append(errs, validateTextMatch(tm, path+".match.text")...)
		}

		for j, action := range rule.Actions {
			errs = append(errs, validateAction(action, fmt.Sprintf("%s.actions[%d]", path, j))...)
		}

		if rule.CooldownSeconds < 0 {
			errs = append(errs, ValidationError{Path: path + ".cooldown_seconds", Msg: "must not be negative"})
		}
	}

	return errs
}

func validateTextMatch(tm *TextMatch, path string) []ValidationError {
	var errs []ValidationError
	switch tm.Mode {
	case TextModeContains, TextModeStartsWith, TextModeRegex:
	default:
		errs = append(errs, ValidationError{
			Path: path + ".mode",
			Msg:  fmt.Sprintf("invalid mode %q, expected contains/starts_with/regex", tm.Mode),
		})
		return errs
	}

	if len(tm.Patterns) == 0 {
		errs = append(errs, ValidationError{Path: path + ".patterns", Msg: "at least one pattern is required"})
		return errs
	}

	if tm.Mode == TextModeRegex {
		tm.compiled = make([]*regexp.Regexp, 0, len(tm.Patterns))
		for i, pat := range tm.Patterns {
			re, err := regexp.Compile("(?i)" + pat)
			if err != nil {
				errs = append(errs, ValidationError{
					Path: fmt.Sprintf("%s.patterns[%d]", path, i),
					Msg:  "invalid regular expression: " + err.Error(),
				})
				continue
			}
			tm.compiled = append(tm.compiled, re)
		}
	}
	return errs
}

func validateAction(a *Action, path string) []ValidationError {
	var errs []ValidationError
	switch a.Kind {
	case ActionKindHAService:
		if a.Service == "" {
			errs = append(errs, ValidationError{Path: path + ".service", Msg: "service is required for ha_service actions"})
		} else if !strings.Contains(a.Service, ".") {
			errs = append(errs, ValidationError{Path: path + ".service", Msg: `service must be "domain.service"`})
		}
	case ActionKindReplyWhatsApp:
		if a.Text == "" {
			errs = append(errs, ValidationError{Path: path + ".text", Msg: "text is required for reply_whatsapp actions"})
		}
	}
	return errs
}

// Canonical re-marshals a validated RuleSet into its canonical YAML form,
// used so round-tripping save_ruleset -> get_ruleset always yields the same
// bytes regardless of the operator's original formatting (spec §8).
func Canonical(rs *RuleSet) ([]byte, error) {
	out := struct {
		Rules []canonicalRule `yaml:"rules"`
	}{}

	for _, r := range rs.Rules {
		cr := canonicalRule{
			ID:              r.ID,
			Name:            r.Name,
			Priority:        r.Priority,
			CooldownSeconds: r.CooldownSeconds,
			Match:           canonicalMatch(r.Match),
		}
		enabled := r.IsEnabled()
		cr.Enabled = &enabled
		stop := r.StopsOnMatch()
		cr.StopOnMatch = &stop

		for _, a := range r.Actions {
			cr.Actions = append(cr.Actions, canonicalAction(a))
		}
		out.Rules = append(out.Rules, cr)
	}

	return yaml.Marshal(out)
}

type canonicalRule struct {
	ID              string            `yaml:"id"`
	Name            string            `yaml:"name"`
	Enabled         *bool             `yaml:"enabled"`
	Priority        int               `yaml:"priority"`
	StopOnMatch     *bool             `yaml:"stop_on_match"`
	Match           canonicalMatchT   `yaml:"match,omitempty"`
	Actions         []canonicalActionT `yaml:"actions"`
	CooldownSeconds int               `yaml:"cooldown_seconds,omitempty"`
}

type canonicalMatchT struct {
	Events []string  `yaml:"events,omitempty"`
	Chat   ChatMatch `yaml:"chat,omitempty"`
	Sender struct {
		IDs     []string `yaml:"ids,omitempty"`
		Numbers []string `yaml:"numbers,omitempty"`
	} `yaml:"sender,omitempty"`
	Text *TextMatch `yaml:"text,omitempty"`
}

func canonicalMatch(m MatchClause) canonicalMatchT {
	out := canonicalMatchT{Events: m.Events, Chat: m.Chat, Text: m.Text}
	out.Sender.IDs = m.Sender.IDs
	out.Sender.Numbers = m.Sender.Numbers
	return out
}

type canonicalActionT struct {
	Type    ActionKind     `yaml:"type"`
	Service string         `yaml:"service,omitempty"`
	Target  map[string]any `yaml:"target,omitempty"`
	Data    map[string]any `yaml:"data,omitempty"`
	Text    string         `yaml:"text,omitempty"`
}

func canonicalAction(a *Action) canonicalActionT {
	return canonicalActionT{
		Type:    a.Kind,
		Service: a.Service,
		Target:  a.Target,
		Data:    a.Data,
		Text:    a.Text,
	}
}
