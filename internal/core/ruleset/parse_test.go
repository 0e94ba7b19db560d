package ruleset

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validYAML = `
rules:
  - id: rule-1
    name: Greet on hello
    priority: 10
    match:
      events: ["message"]
      chat:
        kind: direct
      text:
        mode: contains
        patterns: ["hello"]
    actions:
      - type: reply_whatsapp
        text: "Hi there!"
    cooldown_seconds: 30
`

func TestParse_ValidYAML(t *testing.T) {
	rs, errs := Parse([]byte(validYAML))
	require.Empty(t, errs)
	require.Len(t, rs.Rules, 1)

	rule := rs.Rules[0]
	assert.Equal(t, "rule-1", rule.ID)
	assert.Equal(t, 10, rule.Priority)
	assert.True(t, rule.IsEnabled())
	assert.True(t, rule.StopsOnMatch())
	require.Len(t, rule.Actions, 1)
	assert.Equal(t, ActionKindReplyWhatsApp, rule.Actions[0].Kind)
	assert.Equal(t, "Hi there!", rule.Actions[0].Text)
}

func TestParse_EmptyDocument(t *testing.T) {
	rs, errs := Parse([]byte(""))
	require.Empty(t, errs)
	assert.Empty(t, rs.Rules)
}

func TestParse_MalformedYAML(t *testing.T) {
	_, errs := Parse([]byte("rules: [this is not: valid"))
	require.NotEmpty(t, errs)
	assert.Equal(t, "", errs[0].Path)
}

func TestParse_UnknownActionType(t *testing.T) {
	raw := `
rules:
  - id: r1
    name: bad action
    actions:
      - type: nonsense
        text: hi
`
	_, errs := Parse([]byte(raw))
	require.NotEmpty(t, errs)
	assert.Contains(t, errs[0].Path, "actions[0].type")
}

func TestValidate_DuplicateID(t *testing.T) {
	rs := &RuleSet{
		Rules: []*Rule{
			{ID: "dup", Name: "a", Actions: []*Action{{Kind: ActionKindReplyWhatsApp, Text: "x"}}},
			{ID: "dup", Name: "b", Actions: []*Action{{Kind: ActionKindReplyWhatsApp, Text: "y"}}},
		},
	}
	errs := Validate(rs)
	require.NotEmpty(t, errs)
	found := false
	for _, e := range errs {
		if e.Msg == `duplicate rule id "dup"` {
			found = true
		}
	}
	assert.True(t, found)
}

func TestValidate_EmptyActions(t *testing.T) {
	rs := &RuleSet{Rules: []*Rule{{ID: "r1", Name: "no actions"}}}
	errs := Validate(rs)
	require.NotEmpty(t, errs)
	assert.Equal(t, "$.rules[0].actions", errs[0].Path)
}

func TestValidate_InvalidRegex(t *testing.T) {
	rs := &RuleSet{
		Rules: []*Rule{{
			ID:   "r1",
			Name: "bad regex",
			Match: MatchClause{
				Text: &TextMatch{Mode: TextModeRegex, Patterns: []string{"("}},
			},
			Actions: []*Action{{Kind: ActionKindReplyWhatsApp, Text: "x"}},
		}},
	}
	errs := Validate(rs)
	require.NotEmpty(t, errs)
}

func TestValidate_HAServiceRequiresDottedName(t *testing.T) {
	rs := &RuleSet{
		Rules: []*Rule{{
			ID:      "r1",
			Name:    "bad service",
			Actions: []*Action{{Kind: ActionKindHAService, Service: "turnon"}},
		}},
	}
	errs := Validate(rs)
	require.NotEmpty(t, errs)
	assert.Contains(t, errs[0].Msg, "domain.service")
}

func TestValidateYAML_RoundTrip(t *testing.T) {
	result := ValidateYAML([]byte(validYAML))
	require.True(t, result.Valid)
	assert.Equal(t, 1, result.RuleCount)
	require.NotEmpty(t, result.Canonical)

	// Canonical output must itself parse back to an equivalent rule set.
	rs2, errs := Parse([]byte(result.Canonical))
	require.Empty(t, errs)
	require.Len(t, rs2.Rules, 1)
	assert.Equal(t, "rule-1", rs2.Rules[0].ID)
}

func TestValidateYAML_InvalidReportsErrors(t *testing.T) {
	result := ValidateYAML([]byte(`rules: [{id: "", name: "", actions: []}]`))
	assert.False(t, result.Valid)
	assert.NotEmpty(t, result.Errors)
}
