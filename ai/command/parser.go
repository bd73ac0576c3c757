package command

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/hrygo/valet/internal/errkind"
	"github.com/hrygo/valet/ports"
)

// Parser classifies utterances. Rules are evaluated in order; the first
// match wins. Time phrases resolve against the injected clock.
type Parser struct {
	clock ports.Clock
	rules []rule
}

type rule func(norm string, now time.Time) (*Intent, error)

func NewParser(clock ports.Clock) *Parser {
	if clock == nil {
		clock = ports.SystemClock{}
	}
	p := &Parser{clock: clock}
	p.rules = []rule{
		p.matchHelp,
		p.matchEcho,
		p.matchBriefing,
		p.matchListReminders,
		p.matchSnoozeReminder,
		p.matchAckReminder,
		p.matchDeleteReminder,
		p.matchCreateReminder,
		p.matchReadInbox,
		p.matchDraftEmail,
		p.matchSendEmail,
		p.matchDeleteCalendarEvent,
		p.matchCreateCalendarEvent,
		p.matchWeather,
		p.matchWebSearch,
		p.matchFuzzy,
	}
	return p
}

var whitespaceRe = regexp.MustCompile(`\s+`)

func normalize(utterance string) string {
	return whitespaceRe.ReplaceAllString(strings.ToLower(strings.TrimSpace(utterance)), " ")
}

// Parse returns the classified intent. Unmatched utterances come back
// as Unknown with confidence 0, not as an error; errors are reserved
// for recognized commands with invalid parameters (bad or ambiguous
// times, malformed durations).
func (p *Parser) Parse(utterance string) (Intent, error) {
	norm := normalize(utterance)
	now := p.clock.Now()
	for _, match := range p.rules {
		intent, err := match(norm, now)
		if err != nil {
			return Intent{}, err
		}
		if intent != nil {
			intent.Utterance = utterance
			return *intent, nil
		}
	}
	return Intent{Kind: KindUnknown, Confidence: 0, Utterance: utterance}, nil
}

func (p *Parser) matchHelp(norm string, _ time.Time) (*Intent, error) {
	switch norm {
	case "help", "commands", "what can you do":
		return &Intent{Kind: KindHelp, Confidence: ConfidenceExact}, nil
	}
	return nil, nil
}

func (p *Parser) matchEcho(norm string, _ time.Time) (*Intent, error) {
	if text, ok := strings.CutPrefix(norm, "echo "); ok {
		return &Intent{Kind: KindEcho, Confidence: ConfidenceExact, Text: text}, nil
	}
	return nil, nil
}

func (p *Parser) matchBriefing(norm string, _ time.Time) (*Intent, error) {
	switch norm {
	case "briefing", "morning briefing", "daily briefing":
		return &Intent{Kind: KindBriefing, Confidence: ConfidenceExact}, nil
	}
	return nil, nil
}

func (p *Parser) matchListReminders(norm string, _ time.Time) (*Intent, error) {
	switch norm {
	case "list reminders", "show reminders", "my reminders", "reminders":
		return &Intent{Kind: KindListReminders, Confidence: ConfidenceExact}, nil
	}
	return nil, nil
}

var snoozeRe = regexp.MustCompile(`^snooze (?:reminder )?(\S+) (?:for )?(.+)$`)

func (p *Parser) matchSnoozeReminder(norm string, _ time.Time) (*Intent, error) {
	m := snoozeRe.FindStringSubmatch(norm)
	if m == nil {
		return nil, nil
	}
	d, err := ParseDuration(m[2])
	if err != nil {
		return nil, err
	}
	return &Intent{Kind: KindSnoozeReminder, Confidence: ConfidenceKeyword, TargetID: m[1], Duration: d}, nil
}

var ackRe = regexp.MustCompile(`^(?:ack|acknowledge|done) (?:reminder )?(\S+)$`)

func (p *Parser) matchAckReminder(norm string, _ time.Time) (*Intent, error) {
	if m := ackRe.FindStringSubmatch(norm); m != nil {
		return &Intent{Kind: KindAckReminder, Confidence: ConfidenceKeyword, TargetID: m[1]}, nil
	}
	return nil, nil
}

var deleteReminderRe = regexp.MustCompile(`^(?:delete|remove|cancel) reminder (\S+)$`)

func (p *Parser) matchDeleteReminder(norm string, _ time.Time) (*Intent, error) {
	if m := deleteReminderRe.FindStringSubmatch(norm); m != nil {
		return &Intent{Kind: KindDeleteReminder, Confidence: ConfidenceExact, TargetID: m[1]}, nil
	}
	return nil, nil
}

// timePhraseRe matches a trailing time phrase in any of the accepted
// forms so the reminder text can be split off in front of it.
var timePhraseRe = regexp.MustCompile(
	`^(.*?)\s+(` +
		`\d{4}-\d{2}-\d{2}[ t]\d{1,2}:\d{2}` +
		`|in \d+ (?:minutes?|hours?|days?)` +
		`|(?:today|tomorrow) at \d{1,2}(?::\d{2})?` +
		`|at \d{1,2}(?::\d{2})?` +
		`)$`)

func (p *Parser) matchCreateReminder(norm string, now time.Time) (*Intent, error) {
	body, ok := strings.CutPrefix(norm, "remind me ")
	if !ok {
		return nil, nil
	}
	body = strings.TrimPrefix(body, "to ")
	m := timePhraseRe.FindStringSubmatch(body)
	if m == nil {
		// Recognized the command but not the schedule.
		return nil, errkind.Newf(errkind.Validation, "no time phrase in reminder: %s", body)
	}
	when, err := ParseWhen(m[2], now)
	if err != nil {
		return nil, err
	}
	return &Intent{Kind: KindCreateReminder, Confidence: ConfidenceKeyword, Text: strings.TrimSpace(m[1]), When: when}, nil
}

var inboxRe = regexp.MustCompile(`^(?:read inbox|check (?:mail|email|inbox))(?: last (\d+))?$`)

func (p *Parser) matchReadInbox(norm string, _ time.Time) (*Intent, error) {
	m := inboxRe.FindStringSubmatch(norm)
	if m == nil {
		return nil, nil
	}
	count := 5
	if m[1] != "" {
		count, _ = strconv.Atoi(m[1])
	}
	return &Intent{Kind: KindReadInbox, Confidence: ConfidenceExact, Count: count}, nil
}

var draftEmailRe = regexp.MustCompile(`^(?:draft |write )?email to (\S+) subject (.+?) body (.+)$`)

func (p *Parser) matchDraftEmail(norm string, _ time.Time) (*Intent, error) {
	if m := draftEmailRe.FindStringSubmatch(norm); m != nil {
		return &Intent{Kind: KindDraftEmail, Confidence: ConfidenceExact, To: m[1], Subject: m[2], Body: m[3]}, nil
	}
	return nil, nil
}

var sendEmailRe = regexp.MustCompile(`^send (?:email |draft )(\S+)$`)

func (p *Parser) matchSendEmail(norm string, _ time.Time) (*Intent, error) {
	if m := sendEmailRe.FindStringSubmatch(norm); m != nil {
		return &Intent{Kind: KindSendEmail, Confidence: ConfidenceExact, DraftID: m[1]}, nil
	}
	return nil, nil
}

var deleteEventRe = regexp.MustCompile(`^cancel event (\S+)$`)

func (p *Parser) matchDeleteCalendarEvent(norm string, _ time.Time) (*Intent, error) {
	if m := deleteEventRe.FindStringSubmatch(norm); m != nil {
		return &Intent{Kind: KindDeleteCalendarEvent, Confidence: ConfidenceExact, TargetID: m[1]}, nil
	}
	return nil, nil
}

func (p *Parser) matchCreateCalendarEvent(norm string, now time.Time) (*Intent, error) {
	body, ok := strings.CutPrefix(norm, "schedule ")
	if !ok {
		return nil, nil
	}
	m := timePhraseRe.FindStringSubmatch(body)
	if m == nil {
		return nil, errkind.Newf(errkind.Validation, "no time phrase in event: %s", body)
	}
	start, err := ParseWhen(m[2], now)
	if err != nil {
		return nil, err
	}
	return &Intent{
		Kind:       KindCreateCalendarEvent,
		Confidence: ConfidenceKeyword,
		Title:      strings.TrimSpace(m[1]),
		When:       start,
		End:        start.Add(time.Hour),
	}, nil
}

var weatherRe = regexp.MustCompile(`^(?:weather|forecast)(?: in (.+))?$`)

func (p *Parser) matchWeather(norm string, _ time.Time) (*Intent, error) {
	if m := weatherRe.FindStringSubmatch(norm); m != nil {
		return &Intent{Kind: KindGetWeather, Confidence: ConfidenceExact, Location: m[1]}, nil
	}
	return nil, nil
}

var searchRe = regexp.MustCompile(`^(?:search(?: for)?|google) (.+)$`)

func (p *Parser) matchWebSearch(norm string, _ time.Time) (*Intent, error) {
	if m := searchRe.FindStringSubmatch(norm); m != nil {
		return &Intent{Kind: KindWebSearch, Confidence: ConfidenceKeyword, Query: m[1]}, nil
	}
	return nil, nil
}

// matchFuzzy catches topic mentions that the precise rules missed.
func (p *Parser) matchFuzzy(norm string, _ time.Time) (*Intent, error) {
	switch {
	case strings.Contains(norm, "weather"):
		return &Intent{Kind: KindGetWeather, Confidence: ConfidenceFuzzy}, nil
	case strings.Contains(norm, "reminders"):
		return &Intent{Kind: KindListReminders, Confidence: ConfidenceFuzzy}, nil
	}
	return nil, nil
}
