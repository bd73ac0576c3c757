// Package reminder implements the scheduler feeding one reminder table
// from two sources: approved user commands and synced calendar events.
// A tick loop fires due reminders through the messenger port; a sync
// loop keeps calendar-derived reminders idempotent per (event, lead).
package reminder

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hrygo/valet/internal/errkind"
	"github.com/hrygo/valet/internal/idgen"
	"github.com/hrygo/valet/ports"
	"github.com/hrygo/valet/store"
)

// Options tunes the scheduler. Zero values take the defaults.
type Options struct {
	MaxSnooze           int
	DefaultSnooze       time.Duration
	Lead                time.Duration // how far before an event its reminder fires
	TickEvery           time.Duration
	SyncEvery           time.Duration
	SyncHorizon         time.Duration // how far ahead calendar sync looks
	BriefingAt          time.Duration // wall-clock offset from midnight
	BriefingLocation    string
	RetryBackoff        time.Duration
	MaxDispatchAttempts int
	// Recipients maps a user id to its messenger address. Users without
	// an entry are addressed by their id.
	Recipients map[string]string
	// OnDispatch observes every dispatch outcome: "delivered",
	// "retried", or "expired". May be nil.
	OnDispatch func(outcome string)
}

func (o *Options) fillDefaults() {
	if o.MaxSnooze <= 0 {
		o.MaxSnooze = 5
	}
	if o.DefaultSnooze <= 0 {
		o.DefaultSnooze = 10 * time.Minute
	}
	if o.Lead <= 0 {
		o.Lead = 30 * time.Minute
	}
	if o.TickEvery <= 0 {
		o.TickEvery = time.Minute
	}
	if o.SyncEvery <= 0 {
		o.SyncEvery = 15 * time.Minute
	}
	if o.SyncHorizon <= 0 {
		o.SyncHorizon = 7 * 24 * time.Hour
	}
	if o.BriefingAt <= 0 {
		o.BriefingAt = 7*time.Hour + 30*time.Minute
	}
	if o.BriefingLocation == "" {
		o.BriefingLocation = "Berlin"
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = 2 * time.Minute
	}
	if o.MaxDispatchAttempts <= 0 {
		o.MaxDispatchAttempts = 3
	}
}

// Service schedules and dispatches reminders.
type Service struct {
	store     *store.Store
	clock     ports.Clock
	messenger ports.Messenger
	calendar  ports.Calendar
	weather   ports.Weather
	opts      Options

	lastBriefing string // "2006-01-02" of the last sent morning briefing
}

// NewService creates the scheduler. calendar and weather may be nil when
// those collaborators are not configured; sync and briefing then degrade
// to reminder-only behavior.
func NewService(st *store.Store, clock ports.Clock, messenger ports.Messenger, calendar ports.Calendar, weather ports.Weather, opts Options) *Service {
	opts.fillDefaults()
	return &Service{
		store:     st,
		clock:     clock,
		messenger: messenger,
		calendar:  calendar,
		weather:   weather,
		opts:      opts,
	}
}

// SetMessenger injects the dispatch channel; the messenger is built
// after the scheduler when it feeds inbound messages back through it.
func (s *Service) SetMessenger(m ports.Messenger) {
	s.messenger = m
}

// Create inserts a user-created PENDING reminder.
func (s *Service) Create(ctx context.Context, principal ports.UserID, text string, fireAt time.Time, location string) (*store.Reminder, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errkind.New(errkind.Validation, "reminder text required")
	}
	now := s.clock.Now()
	return s.store.CreateReminder(ctx, &store.Reminder{
		ID:        idgen.New(),
		UserID:    string(principal),
		Source:    store.SourceUser,
		FireAt:    fireAt.UnixMilli(),
		Text:      text,
		Location:  location,
		State:     store.ReminderPending,
		MaxSnooze: s.opts.MaxSnooze,
		CreatedTs: now.UnixMilli(),
		UpdatedTs: now.UnixMilli(),
	})
}

// List returns the principal's reminders, optionally filtered by state,
// soonest first.
func (s *Service) List(ctx context.Context, principal ports.UserID, state *store.ReminderState) ([]*store.Reminder, error) {
	userID := string(principal)
	return s.store.ListReminders(ctx, &store.FindReminder{UserID: &userID, State: state})
}

func (s *Service) get(ctx context.Context, principal ports.UserID, id string) (*store.Reminder, error) {
	userID := string(principal)
	list, err := s.store.ListReminders(ctx, &store.FindReminder{ID: &id, UserID: &userID})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, errkind.New(errkind.NotFound, "reminder not found")
	}
	return list[0], nil
}

// Snooze pushes a fired reminder back by d (default snooze when d <= 0).
// The snooze budget is per reminder; exhaustion yields Conflict and the
// reminder stays SENT.
func (s *Service) Snooze(ctx context.Context, principal ports.UserID, id string, d time.Duration) (*store.Reminder, error) {
	r, err := s.get(ctx, principal, id)
	if err != nil {
		return nil, err
	}
	if r.State != store.ReminderSent && r.State != store.ReminderPending {
		return nil, errkind.Newf(errkind.Conflict, "reminder is %s", r.State)
	}
	if r.SnoozeCount >= r.MaxSnooze {
		return nil, errkind.Newf(errkind.Conflict, "reminder was already snoozed %d of %d times", r.SnoozeCount, r.MaxSnooze)
	}
	if d <= 0 {
		d = s.opts.DefaultSnooze
	}

	now := s.clock.Now()
	fireAt := now.Add(d).UnixMilli()
	state := store.ReminderPending
	count := r.SnoozeCount + 1
	if err := s.store.UpdateReminder(ctx, &store.UpdateReminder{
		ID:          r.ID,
		State:       &state,
		FireAt:      &fireAt,
		SnoozeCount: &count,
		UpdatedTs:   now.UnixMilli(),
	}); err != nil {
		return nil, err
	}
	r.State, r.FireAt, r.SnoozeCount = state, fireAt, count
	return r, nil
}

// Ack acknowledges a reminder. Acknowledgement is terminal.
func (s *Service) Ack(ctx context.Context, principal ports.UserID, id string) (*store.Reminder, error) {
	return s.transition(ctx, principal, id, store.ReminderAcknowledged)
}

// Delete marks a reminder deleted.
func (s *Service) Delete(ctx context.Context, principal ports.UserID, id string) (*store.Reminder, error) {
	return s.transition(ctx, principal, id, store.ReminderDeleted)
}

func (s *Service) transition(ctx context.Context, principal ports.UserID, id string, target store.ReminderState) (*store.Reminder, error) {
	r, err := s.get(ctx, principal, id)
	if err != nil {
		return nil, err
	}
	switch r.State {
	case store.ReminderAcknowledged, store.ReminderDeleted, store.ReminderExpired:
		return nil, errkind.Newf(errkind.Conflict, "reminder is %s", r.State)
	}
	now := s.clock.Now()
	if err := s.store.UpdateReminder(ctx, &store.UpdateReminder{
		ID:        r.ID,
		State:     &target,
		UpdatedTs: now.UnixMilli(),
	}); err != nil {
		return nil, err
	}
	r.State = target
	return r, nil
}

// SyncCalendar reconciles the principal's calendar-derived reminders
// with the events visible inside the sync horizon. At most one reminder
// exists per (event, lead); reminders whose event disappeared are
// marked deleted.
func (s *Service) SyncCalendar(ctx context.Context, principal ports.UserID) error {
	if s.calendar == nil {
		return nil
	}
	now := s.clock.Now()
	events, err := s.calendar.ListEvents(ctx, principal, now, now.Add(s.opts.SyncHorizon))
	if err != nil {
		return err
	}

	leadMs := s.opts.Lead.Milliseconds()
	seen := make(map[string]bool, len(events))
	for _, ev := range events {
		seen[ev.EventID] = true
		userID := string(principal)
		existing, err := s.store.ListReminders(ctx, &store.FindReminder{
			UserID:  &userID,
			EventID: &ev.EventID,
			LeadMs:  &leadMs,
		})
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			continue
		}
		if _, err := s.store.CreateReminder(ctx, &store.Reminder{
			ID:        idgen.New(),
			UserID:    userID,
			Source:    store.SourceCalendar,
			EventID:   ev.EventID,
			LeadMs:    leadMs,
			FireAt:    ev.Start.Add(-s.opts.Lead).UnixMilli(),
			Text:      ev.Title,
			Location:  ev.Location,
			State:     store.ReminderPending,
			MaxSnooze: s.opts.MaxSnooze,
			CreatedTs: now.UnixMilli(),
			UpdatedTs: now.UnixMilli(),
		}); err != nil {
			return err
		}
	}

	// Cancelled events: pending calendar reminders whose event start
	// still falls inside the horizon but is no longer listed.
	userID := string(principal)
	pending := store.ReminderPending
	open, err := s.store.ListReminders(ctx, &store.FindReminder{UserID: &userID, State: &pending})
	if err != nil {
		return err
	}
	for _, r := range open {
		if r.Source != store.SourceCalendar || seen[r.EventID] {
			continue
		}
		start := r.FireAt + r.LeadMs
		if start < now.UnixMilli() || start >= now.Add(s.opts.SyncHorizon).UnixMilli() {
			continue
		}
		deleted := store.ReminderDeleted
		if err := s.store.UpdateReminder(ctx, &store.UpdateReminder{
			ID:        r.ID,
			State:     &deleted,
			UpdatedTs: now.UnixMilli(),
		}); err != nil {
			return err
		}
	}
	return nil
}

// Tick claims every due reminder and dispatches its notification. A
// failed dispatch re-queues the reminder with backoff until the attempt
// budget is spent, then expires it. Returns how many notifications were
// delivered.
func (s *Service) Tick(ctx context.Context) (int, error) {
	if s.messenger == nil {
		// No dispatch channel: leave due reminders pending rather than
		// claiming what cannot be delivered.
		return 0, nil
	}
	now := s.clock.Now()
	claimed, err := s.store.ClaimDueReminders(ctx, now.UnixMilli())
	if err != nil {
		return 0, err
	}

	dispatched := 0
	for _, r := range claimed {
		if err := s.messenger.SendText(ctx, s.recipient(r.UserID), renderNotification(r)); err != nil {
			slog.Warn("reminder dispatch failed", "reminder", r.ID, "attempt", r.Attempts+1, "error", err)
			if err := s.requeue(ctx, r, now); err != nil {
				return dispatched, err
			}
			continue
		}
		s.observe("delivered")
		dispatched++
	}
	return dispatched, nil
}

func (s *Service) observe(outcome string) {
	if s.opts.OnDispatch != nil {
		s.opts.OnDispatch(outcome)
	}
}

func (s *Service) requeue(ctx context.Context, r *store.Reminder, now time.Time) error {
	attempts := r.Attempts + 1
	update := &store.UpdateReminder{ID: r.ID, Attempts: &attempts, UpdatedTs: now.UnixMilli()}
	if attempts >= s.opts.MaxDispatchAttempts {
		expired := store.ReminderExpired
		update.State = &expired
		s.observe("expired")
	} else {
		s.observe("retried")
		pending := store.ReminderPending
		fireAt := now.Add(s.opts.RetryBackoff).UnixMilli()
		update.State = &pending
		update.FireAt = &fireAt
	}
	return s.store.UpdateReminder(ctx, update)
}

func (s *Service) recipient(userID string) string {
	if addr, ok := s.opts.Recipients[userID]; ok {
		return addr
	}
	return userID
}

func renderNotification(r *store.Reminder) string {
	var b strings.Builder
	b.WriteString("Erinnerung: ")
	b.WriteString(r.Text)
	if r.Location != "" {
		b.WriteString("\nOrt: ")
		b.WriteString(r.Location)
	}
	return b.String()
}

// Briefing composes the morning summary: today's events, open
// reminders, and the weather.
func (s *Service) Briefing(ctx context.Context, principal ports.UserID) (string, error) {
	now := s.clock.Now()
	endOfDay := time.Date(now.Year(), now.Month(), now.Day(), 23, 59, 59, 0, now.Location())

	var b strings.Builder
	fmt.Fprintf(&b, "Guten Morgen! Dein Überblick für den %s:\n", now.Format("02.01.2006"))

	b.WriteString("\nTermine:\n")
	var events []ports.CalendarEvent
	if s.calendar != nil {
		var err error
		events, err = s.calendar.ListEvents(ctx, principal, now, endOfDay)
		if err != nil {
			return "", err
		}
	}
	if len(events) == 0 {
		b.WriteString("- keine Termine heute\n")
	}
	for _, ev := range events {
		fmt.Fprintf(&b, "- %s %s", ev.Start.Format("15:04"), ev.Title)
		if ev.Location != "" {
			fmt.Fprintf(&b, " (%s)", ev.Location)
		}
		b.WriteString("\n")
	}

	b.WriteString("\nErinnerungen:\n")
	open := 0
	for _, state := range []store.ReminderState{store.ReminderPending, store.ReminderSent} {
		st := state
		list, err := s.List(ctx, principal, &st)
		if err != nil {
			return "", err
		}
		for _, r := range list {
			fmt.Fprintf(&b, "- %s (fällig %s)\n", r.Text, time.UnixMilli(r.FireAt).In(now.Location()).Format("02.01. 15:04"))
			open++
		}
	}
	if open == 0 {
		b.WriteString("- keine offenen Erinnerungen\n")
	}

	if s.weather != nil {
		report, err := s.weather.Current(ctx, s.opts.BriefingLocation)
		if err != nil {
			slog.Warn("briefing weather lookup failed", "error", err)
		} else {
			fmt.Fprintf(&b, "\nWetter in %s: %s, %.0f°C\n", report.Location, report.Summary, report.TempCelsius)
		}
	}
	return b.String(), nil
}

// SendBriefing composes and dispatches the briefing for one user.
func (s *Service) SendBriefing(ctx context.Context, principal ports.UserID) error {
	text, err := s.Briefing(ctx, principal)
	if err != nil {
		return err
	}
	return s.messenger.SendText(ctx, s.recipient(string(principal)), text)
}

// maybeBriefing sends the morning briefing once per day after the
// configured wall-clock time, to every known recipient.
func (s *Service) maybeBriefing(ctx context.Context) {
	if s.messenger == nil {
		return
	}
	now := s.clock.Now()
	day := now.Format("2006-01-02")
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	if now.Sub(midnight) < s.opts.BriefingAt || s.lastBriefing == day {
		return
	}
	s.lastBriefing = day
	for userID := range s.opts.Recipients {
		if err := s.SendBriefing(ctx, ports.UserID(userID)); err != nil {
			slog.Warn("morning briefing failed", "user", userID, "error", err)
		}
	}
}

// Run drives the tick and calendar-sync loops until ctx ends.
func (s *Service) Run(ctx context.Context) {
	tick := time.NewTicker(s.opts.TickEvery)
	defer tick.Stop()
	sync := time.NewTicker(s.opts.SyncEvery)
	defer sync.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			if _, err := s.Tick(ctx); err != nil {
				slog.Warn("reminder tick failed", "error", err)
			}
			s.maybeBriefing(ctx)
		case <-sync.C:
			for userID := range s.opts.Recipients {
				if err := s.SyncCalendar(ctx, ports.UserID(userID)); err != nil {
					slog.Warn("calendar sync failed", "user", userID, "error", err)
				}
			}
		}
	}
}
