package ruleset

import "strings"

// NormalizedEvent is the Webhook Ingestor's canonical view of an inbound
// provider event, the only shape the match predicate ever sees.
type NormalizedEvent struct {
	EventKind         string         `json:"event_kind,omitempty"`
	ChatID            string         `json:"chat_id,omitempty"`
	ChatKind          ChatKindFilter `json:"chat_kind,omitempty"`
	SenderID          string         `json:"sender_id,omitempty"`
	SenderNumber      string         `json:"sender_number,omitempty"`
	SenderName        string         `json:"sender_name,omitempty"`
	Text              string         `json:"text"`
	ProviderMessageID *string        `json:"provider_message_id,omitempty"`
}

// Matches reports whether rule applies to event. Every condition group left
// unset on the rule is vacuously satisfied; groups that are set must all
// hold (conjunction across groups, per spec §4.4).
func Matches(rule *Rule, event NormalizedEvent) bool {
	if !matchesEvents(rule.Match.Events, event.EventKind) {
		return false
	}
	if !matchesChat(rule.Match.Chat, event) {
		return false
	}
	if !matchesSender(rule.Match.Sender, event) {
		return false
	}
	if !matchesText(rule.Match.Text, event.Text) {
		return false
	}
	return true
}

func matchesEvents(events []string, kind string) bool {
	if len(events) == 0 {
		return true
	}
	for _, e := range events {
		if strings.EqualFold(e, kind) {
			return true
		}
	}
	return false
}

func matchesChat(cm ChatMatch, event NormalizedEvent) bool {
	if cm.Kind != "" && cm.Kind != ChatKindAny && cm.Kind != event.ChatKind {
		return false
	}
	if len(cm.IDs) == 0 {
		return true
	}
	for _, id := range cm.IDs {
		if id == event.ChatID {
			return true
		}
	}
	return false
}

// matchesSender applies ids and numbers conjunctively: if both are set on
// the rule, the event's sender must satisfy both.
func matchesSender(sm SenderMatch, event NormalizedEvent) bool {
	if len(sm.IDs) > 0 {
		found := false
		for _, id := range sm.IDs {
			if id == event.SenderID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(sm.Numbers) > 0 {
		found := false
		for _, n := range sm.Numbers {
			if n == event.SenderNumber {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func matchesText(tm *TextMatch, text string) bool {
	if tm == nil {
		return true
	}
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false
	}
	switch tm.Mode {
	case TextModeContains:
		lower := strings.ToLower(trimmed)
		for _, p := range tm.Patterns {
			if strings.Contains(lower, strings.ToLower(p)) {
				return true
			}
		}
	case TextModeStartsWith:
		lower := strings.ToLower(trimmed)
		for _, p := range tm.Patterns {
			if strings.HasPrefix(lower, strings.ToLower(p)) {
				return true
			}
		}
	case TextModeRegex:
		for _, re := range tm.compiled {
			if re.MatchString(trimmed) {
				return true
			}
		}
	}
	return false
}
