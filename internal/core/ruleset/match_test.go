package ruleset

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatches_NoConditionsIsVacuousMatch(t *testing.T) {
	rule := &Rule{ID: "r1"}
	event := NormalizedEvent{EventKind: "message", ChatID: "123@g.us", Text: "anything"}
	assert.True(t, Matches(rule, event))
}

func TestMatches_EventKindFilter(t *testing.T) {
	rule := &Rule{Match: MatchClause{Events: []string{"message", "message_ack"}}}
	assert.True(t, Matches(rule, NormalizedEvent{EventKind: "message"}))
	assert.False(t, Matches(rule, NormalizedEvent{EventKind: "connection_update"}))
}

func TestMatches_ChatKind(t *testing.T) {
	rule := &Rule{Match: MatchClause{Chat: ChatMatch{Kind: ChatKindGroup}}}
	assert.True(t, Matches(rule, NormalizedEvent{ChatKind: ChatKindGroup}))
	assert.False(t, Matches(rule, NormalizedEvent{ChatKind: ChatKindDirect}))
}

func TestMatches_ChatIDs(t *testing.T) {
	rule := &Rule{Match: MatchClause{Chat: ChatMatch{IDs: []string{"a@g.us", "b@g.us"}}}}
	assert.True(t, Matches(rule, NormalizedEvent{ChatID: "b@g.us"}))
	assert.False(t, Matches(rule, NormalizedEvent{ChatID: "c@g.us"}))
}

func TestMatches_SenderConjunction(t *testing.T) {
	rule := &Rule{Match: MatchClause{Sender: SenderMatch{
		IDs:     []string{"user-1"},
		Numbers: []string{"31612345678"},
	}}}
	// Both must hold.
	assert.True(t, Matches(rule, NormalizedEvent{SenderID: "user-1", SenderNumber: "31612345678"}))
	assert.False(t, Matches(rule, NormalizedEvent{SenderID: "user-1", SenderNumber: "other"}))
	assert.False(t, Matches(rule, NormalizedEvent{SenderID: "other", SenderNumber: "31612345678"}))
}

func TestMatches_TextContainsIsCaseInsensitive(t *testing.T) {
	rule := &Rule{Match: MatchClause{Text: &TextMatch{Mode: TextModeContains, Patterns: []string{"HELLO"}}}}
	assert.True(t, Matches(rule, NormalizedEvent{Text: "well hello there"}))
	assert.False(t, Matches(rule, NormalizedEvent{Text: "goodbye"}))
}

func TestMatches_TextStartsWith(t *testing.T) {
	rule := &Rule{Match: MatchClause{Text: &TextMatch{Mode: TextModeStartsWith, Patterns: []string{"/lights"}}}}
	assert.True(t, Matches(rule, NormalizedEvent{Text: "/lights on"}))
	assert.False(t, Matches(rule, NormalizedEvent{Text: "please /lights on"}))
}

func TestMatches_TextRegexRequiresCompiledPatterns(t *testing.T) {
	tm := &TextMatch{Mode: TextModeRegex, Patterns: []string{`^turn (on|off) .+`}}
	rs := &RuleSet{Rules: []*Rule{{ID: "r1", Name: "n", Match: MatchClause{Text: tm}, Actions: []*Action{{Kind: ActionKindReplyWhatsApp, Text: "x"}}}}}
	errs := Validate(rs)
	assertNoErrors(t, errs)

	rule := rs.Rules[0]
	assert.True(t, Matches(rule, NormalizedEvent{Text: "Turn ON the lamp"}))
	assert.False(t, Matches(rule, NormalizedEvent{Text: "switch on the lamp"}))
}

func assertNoErrors(t *testing.T, errs []ValidationError) {
	t.Helper()
	if len(errs) != 0 {
		t.Fatalf("expected no validation errors, got %v", errs)
	}
}
