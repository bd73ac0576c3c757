// Package dispatch routes parsed intents to their handlers: conversational
// intents execute directly, side-effecting ones are queued for approval,
// and approved ones come back through the Executor interface.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hrygo/valet/ai/cache"
	"github.com/hrygo/valet/ai/command"
	"github.com/hrygo/valet/internal/errkind"
	"github.com/hrygo/valet/ports"
	"github.com/hrygo/valet/server/service/approval"
	"github.com/hrygo/valet/server/service/conversation"
	"github.com/hrygo/valet/server/service/reminder"
	"github.com/hrygo/valet/store"
)

const helpText = `Ich verstehe unter anderem:
- "remind me to <Text> at <Zeit>" legt eine Erinnerung an
- "snooze <id> 10 minutes", "done <id>", "delete reminder <id>"
- "list reminders", "briefing"
- "weather in <Ort>", "search <Begriff>"
- "read inbox", "email to <Adresse> subject <...> body <...>", "send draft <id>"
- "schedule <Titel> at <Zeit>", "cancel event <id>"
Alles andere beantworte ich als normale Frage.`

// Outcome is the result of handling one utterance.
type Outcome struct {
	Intent         command.Intent         `json:"intent"`
	Reply          string                 `json:"reply,omitempty"`
	Queued         bool                   `json:"queued"`
	Approval       *store.ApprovalRequest `json:"-"`
	Completion     *ports.Completion      `json:"completion,omitempty"`
	ConversationID string                 `json:"conversation_id,omitempty"`
}

// Options tunes direct execution.
type Options struct {
	SearchLimit  int // default 5
	InboxCount   int // default 5
	ForecastDays int // default 3
}

func (o *Options) fillDefaults() {
	if o.SearchLimit <= 0 {
		o.SearchLimit = 5
	}
	if o.InboxCount <= 0 {
		o.InboxCount = 5
	}
	if o.ForecastDays <= 0 {
		o.ForecastDays = 3
	}
}

// Dispatcher wires the parser to the services and collaborator ports.
// It implements approval.Executor for the side-effecting half.
type Dispatcher struct {
	parser        *command.Parser
	approvals     *approval.Service
	conversations *conversation.Service
	reminders     *reminder.Service
	mail          ports.Mail
	calendar      ports.Calendar
	weather       ports.Weather
	search        ports.WebSearch
	cache         *cache.Tiered
	opts          Options
}

// New creates a dispatcher. Collaborator ports may be nil; intents that
// need an absent port fail with Validation. approvals is wired in by
// SetApprovals after construction to break the executor cycle.
func New(parser *command.Parser, conversations *conversation.Service, reminders *reminder.Service,
	mail ports.Mail, calendar ports.Calendar, weather ports.Weather, search ports.WebSearch,
	tiered *cache.Tiered, opts Options) *Dispatcher {
	opts.fillDefaults()
	return &Dispatcher{
		parser:        parser,
		conversations: conversations,
		reminders:     reminders,
		mail:          mail,
		calendar:      calendar,
		weather:       weather,
		search:        search,
		cache:         tiered,
		opts:          opts,
	}
}

// SetApprovals injects the approval queue. The queue needs the
// dispatcher as its executor, so one of the two is wired late.
func (d *Dispatcher) SetApprovals(approvals *approval.Service) {
	d.approvals = approvals
}

// Parse classifies an utterance without executing anything. Unmatched
// input falls back to the conversational ask.
func (d *Dispatcher) Parse(utterance string) (command.Intent, error) {
	intent, err := d.parser.Parse(utterance)
	if err != nil {
		return command.Intent{}, err
	}
	return intent.AsAsk(), nil
}

// Handle parses one utterance and either executes it or queues it for
// approval. conversationID scopes the conversational fallback.
func (d *Dispatcher) Handle(ctx context.Context, principal ports.UserID, conversationID string, utterance string) (*Outcome, error) {
	intent, err := d.Parse(utterance)
	if err != nil {
		return nil, err
	}

	if intent.SideEffecting() {
		req, err := d.approvals.Enqueue(ctx, principal, &intent)
		if err != nil {
			return nil, err
		}
		return &Outcome{
			Intent:   intent,
			Queued:   true,
			Approval: req,
			Reply:    fmt.Sprintf("Zur Bestätigung vorgemerkt (%s). Bitte bestätige die Anfrage %s.", intent.Kind, req.ID),
		}, nil
	}

	out, err := d.runConversational(ctx, principal, conversationID, intent)
	if err != nil {
		return nil, err
	}
	out.Intent = intent
	return out, nil
}

func (d *Dispatcher) runConversational(ctx context.Context, principal ports.UserID, conversationID string, intent command.Intent) (*Outcome, error) {
	switch intent.Kind {
	case command.KindAsk:
		convID, completion, err := d.conversations.Chat(ctx, principal, conversationID, intent.Query)
		if err != nil {
			return nil, err
		}
		return &Outcome{Reply: completion.Content, Completion: completion, ConversationID: convID}, nil

	case command.KindEcho:
		return &Outcome{Reply: intent.Text}, nil

	case command.KindHelp:
		return &Outcome{Reply: helpText}, nil

	case command.KindBriefing:
		text, err := d.reminders.Briefing(ctx, principal)
		if err != nil {
			return nil, err
		}
		return &Outcome{Reply: text}, nil

	case command.KindListReminders:
		return d.listReminders(ctx, principal)

	case command.KindGetWeather:
		return d.getWeather(ctx, intent.Location)

	case command.KindWebSearch:
		return d.webSearch(ctx, intent.Query)

	case command.KindReadInbox:
		return d.readInbox(ctx, principal, intent.Count)

	default:
		return nil, errkind.Newf(errkind.Internal, "unroutable intent %s", intent.Kind)
	}
}

func (d *Dispatcher) listReminders(ctx context.Context, principal ports.UserID) (*Outcome, error) {
	var b strings.Builder
	open := 0
	for _, state := range []store.ReminderState{store.ReminderPending, store.ReminderSent} {
		st := state
		list, err := d.reminders.List(ctx, principal, &st)
		if err != nil {
			return nil, err
		}
		for _, r := range list {
			fmt.Fprintf(&b, "- [%s] %s (fällig %s)\n", r.ID, r.Text, time.UnixMilli(r.FireAt).UTC().Format("02.01. 15:04"))
			open++
		}
	}
	if open == 0 {
		return &Outcome{Reply: "Keine offenen Erinnerungen."}, nil
	}
	return &Outcome{Reply: "Offene Erinnerungen:\n" + b.String()}, nil
}

// getWeather serves from the cache when possible; reports are stable
// enough for the short TTL band.
func (d *Dispatcher) getWeather(ctx context.Context, location string) (*Outcome, error) {
	if d.weather == nil {
		return nil, errkind.New(errkind.Validation, "weather lookup is not configured")
	}
	if location == "" {
		return nil, errkind.New(errkind.Validation, "weather needs a location")
	}

	load := func(ctx context.Context) ([]byte, error) {
		report, err := d.weather.Current(ctx, location)
		if err != nil {
			return nil, err
		}
		return json.Marshal(report)
	}

	var raw []byte
	var err error
	if d.cache != nil {
		raw, _, err = d.cache.GetOrLoad(ctx, cache.Key(cache.NamespaceWeather, strings.ToLower(location)), cache.ClassShort, load)
	} else {
		raw, err = load(ctx)
	}
	if err != nil {
		return nil, err
	}

	report := &ports.WeatherReport{}
	if err := json.Unmarshal(raw, report); err != nil {
		return nil, errkind.Wrap(errkind.Internal, err, "corrupt cached weather report")
	}
	return &Outcome{Reply: fmt.Sprintf("Wetter in %s: %s, %.0f°C.", report.Location, report.Summary, report.TempCelsius)}, nil
}

func (d *Dispatcher) webSearch(ctx context.Context, query string) (*Outcome, error) {
	if d.search == nil {
		return nil, errkind.New(errkind.Validation, "web search is not configured")
	}

	load := func(ctx context.Context) ([]byte, error) {
		results, err := d.search.Search(ctx, query, d.opts.SearchLimit)
		if err != nil {
			return nil, err
		}
		return json.Marshal(results)
	}

	var raw []byte
	var err error
	if d.cache != nil {
		raw, _, err = d.cache.GetOrLoad(ctx, cache.Key(cache.NamespaceSearch, query, strconv.Itoa(d.opts.SearchLimit)), cache.ClassShort, load)
	} else {
		raw, err = load(ctx)
	}
	if err != nil {
		return nil, err
	}

	var results []ports.SearchResult
	if err := json.Unmarshal(raw, &results); err != nil {
		return nil, errkind.Wrap(errkind.Internal, err, "corrupt cached search results")
	}
	if len(results) == 0 {
		return &Outcome{Reply: fmt.Sprintf("Keine Treffer für %q.", query)}, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Ergebnisse für %q:\n", query)
	for _, r := range results {
		fmt.Fprintf(&b, "- %s — %s (%s)\n", r.Title, r.Snippet, r.URL)
	}
	return &Outcome{Reply: b.String()}, nil
}

func (d *Dispatcher) readInbox(ctx context.Context, principal ports.UserID, count int) (*Outcome, error) {
	if d.mail == nil {
		return nil, errkind.New(errkind.Validation, "mail is not configured")
	}
	if count <= 0 {
		count = d.opts.InboxCount
	}
	messages, err := d.mail.ListRecent(ctx, principal, count)
	if err != nil {
		return nil, err
	}
	if len(messages) == 0 {
		return &Outcome{Reply: "Dein Posteingang ist leer."}, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Die letzten %d Mails:\n", len(messages))
	for _, m := range messages {
		fmt.Fprintf(&b, "- %s: %s (%s)\n", m.From, m.Subject, m.Date.Format("02.01. 15:04"))
	}
	return &Outcome{Reply: b.String()}, nil
}

// Execute runs an approved side-effecting intent. It satisfies
// approval.Executor; the returned string lands in the approval record.
func (d *Dispatcher) Execute(ctx context.Context, principal ports.UserID, intent *command.Intent) (string, error) {
	switch intent.Kind {
	case command.KindCreateReminder:
		r, err := d.reminders.Create(ctx, principal, intent.Text, intent.When, intent.Location)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Erinnerung %s angelegt für %s.", r.ID, intent.When.Format("02.01.2006 15:04")), nil

	case command.KindSnoozeReminder:
		r, err := d.reminders.Snooze(ctx, principal, intent.TargetID, intent.Duration)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Erinnerung %s verschoben auf %s.", r.ID, time.UnixMilli(r.FireAt).UTC().Format("15:04")), nil

	case command.KindAckReminder:
		r, err := d.reminders.Ack(ctx, principal, intent.TargetID)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Erinnerung %s erledigt.", r.ID), nil

	case command.KindDeleteReminder:
		r, err := d.reminders.Delete(ctx, principal, intent.TargetID)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Erinnerung %s gelöscht.", r.ID), nil

	case command.KindDraftEmail:
		if d.mail == nil {
			return "", errkind.New(errkind.Validation, "mail is not configured")
		}
		draftID, err := d.mail.Draft(ctx, principal, ports.MailDraft{To: intent.To, Subject: intent.Subject, Body: intent.Body})
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Entwurf %s an %s angelegt.", draftID, intent.To), nil

	case command.KindSendEmail:
		if d.mail == nil {
			return "", errkind.New(errkind.Validation, "mail is not configured")
		}
		if err := d.mail.Send(ctx, principal, intent.DraftID); err != nil {
			return "", err
		}
		return fmt.Sprintf("Entwurf %s versendet.", intent.DraftID), nil

	case command.KindCreateCalendarEvent:
		if d.calendar == nil {
			return "", errkind.New(errkind.Validation, "calendar is not configured")
		}
		eventID, err := d.calendar.CreateEvent(ctx, principal, ports.CalendarEvent{
			EventID:  intent.TargetID,
			Title:    intent.Title,
			Start:    intent.When,
			End:      intent.End,
			Location: intent.Location,
		})
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Termin %s angelegt: %s am %s.", eventID, intent.Title, intent.When.Format("02.01.2006 15:04")), nil

	case command.KindDeleteCalendarEvent:
		if d.calendar == nil {
			return "", errkind.New(errkind.Validation, "calendar is not configured")
		}
		if err := d.calendar.DeleteEvent(ctx, principal, intent.TargetID); err != nil {
			return "", err
		}
		return fmt.Sprintf("Termin %s gelöscht.", intent.TargetID), nil

	default:
		return "", errkind.Newf(errkind.Validation, "intent %s is not executable", intent.Kind)
	}
}
