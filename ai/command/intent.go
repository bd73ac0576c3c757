// Package command turns free-text utterances into structured intents
// with a deterministic, rule-based classifier. No model call is involved;
// the rules run in declaration order and the first match wins.
package command

import (
	"time"
)

// Kind discriminates the intent union.
type Kind string

const (
	KindAsk                 Kind = "ASK"
	KindEcho                Kind = "ECHO"
	KindBriefing            Kind = "BRIEFING"
	KindListReminders       Kind = "LIST_REMINDERS"
	KindCreateReminder      Kind = "CREATE_REMINDER"
	KindSnoozeReminder      Kind = "SNOOZE_REMINDER"
	KindAckReminder         Kind = "ACK_REMINDER"
	KindDeleteReminder      Kind = "DELETE_REMINDER"
	KindReadInbox           Kind = "READ_INBOX"
	KindDraftEmail          Kind = "DRAFT_EMAIL"
	KindSendEmail           Kind = "SEND_EMAIL"
	KindCreateCalendarEvent Kind = "CREATE_CALENDAR_EVENT"
	KindDeleteCalendarEvent Kind = "DELETE_CALENDAR_EVENT"
	KindGetWeather          Kind = "GET_WEATHER"
	KindWebSearch           Kind = "WEB_SEARCH"
	KindHelp                Kind = "HELP"
	KindUnknown             Kind = "UNKNOWN"
)

// Rule-specificity confidence bands.
const (
	ConfidenceExact   = 0.95
	ConfidenceKeyword = 0.75
	ConfidenceFuzzy   = 0.55
)

// Intent is the parsed command. Only the fields relevant to Kind are
// populated. The struct round-trips through JSON so approvals can
// persist it verbatim.
type Intent struct {
	Kind       Kind    `json:"kind"`
	Confidence float64 `json:"confidence"`
	Utterance  string  `json:"utterance"`

	Query    string        `json:"query,omitempty"`
	Text     string        `json:"text,omitempty"`
	Location string        `json:"location,omitempty"`
	When     time.Time     `json:"when,omitempty"`
	End      time.Time     `json:"end,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
	TargetID string        `json:"target_id,omitempty"`
	Count    int           `json:"count,omitempty"`
	To       string        `json:"to,omitempty"`
	Subject  string        `json:"subject,omitempty"`
	Body     string        `json:"body,omitempty"`
	Title    string        `json:"title,omitempty"`
	DraftID  string        `json:"draft_id,omitempty"`
}

// SideEffecting reports whether the intent writes to an external
// collaborator and therefore requires approval before execution. The
// policy is static per variant.
func (i Intent) SideEffecting() bool {
	switch i.Kind {
	case KindCreateReminder, KindSnoozeReminder, KindAckReminder, KindDeleteReminder,
		KindDraftEmail, KindSendEmail,
		KindCreateCalendarEvent, KindDeleteCalendarEvent:
		return true
	default:
		return false
	}
}

// AsAsk converts an Unknown intent into the conversational fallback.
func (i Intent) AsAsk() Intent {
	if i.Kind != KindUnknown {
		return i
	}
	return Intent{
		Kind:       KindAsk,
		Confidence: 0,
		Utterance:  i.Utterance,
		Query:      i.Utterance,
	}
}
