package reminder

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/valet/internal/errkind"
	"github.com/hrygo/valet/internal/profile"
	"github.com/hrygo/valet/ports"
	"github.com/hrygo/valet/ports/porttest"
	"github.com/hrygo/valet/store"
	"github.com/hrygo/valet/store/db/sqlite"
)

type fixture struct {
	svc       *Service
	store     *store.Store
	clock     *porttest.FakeClock
	messenger *porttest.FakeMessenger
	calendar  *porttest.FakeCalendar
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	p := &profile.Profile{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "valet.db")}
	driver, err := sqlite.NewDB(p)
	require.NoError(t, err)
	require.NoError(t, driver.Migrate(context.Background()))
	st := store.New(driver, p)
	t.Cleanup(func() { _ = st.Close() })

	clock := porttest.NewFakeClock(time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC))
	messenger := &porttest.FakeMessenger{}
	calendar := &porttest.FakeCalendar{}
	weather := &porttest.FakeWeather{}
	return &fixture{
		svc:       NewService(st, clock, messenger, calendar, weather, opts),
		store:     st,
		clock:     clock,
		messenger: messenger,
		calendar:  calendar,
	}
}

func TestCreateAndList(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})

	r, err := f.svc.Create(ctx, "alice", "Zahnarzt anrufen", f.clock.Now().Add(time.Hour), "")
	require.NoError(t, err)
	assert.Equal(t, store.ReminderPending, r.State)
	assert.Equal(t, store.SourceUser, r.Source)

	list, err := f.svc.List(ctx, "alice", nil)
	require.NoError(t, err)
	require.Len(t, list, 1)

	list, err = f.svc.List(ctx, "bob", nil)
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = f.svc.Create(ctx, "alice", "   ", f.clock.Now(), "")
	require.Error(t, err)
	assert.Equal(t, errkind.Validation, errkind.KindOf(err))
}

func TestTick_DispatchesDueOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})

	_, err := f.svc.Create(ctx, "alice", "Medikament nehmen", f.clock.Now().Add(time.Hour), "Küche")
	require.NoError(t, err)

	// Not due yet.
	n, err := f.svc.Tick(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.clock.Advance(time.Hour)
	n, err = f.svc.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, f.messenger.Sent, 1)
	assert.Equal(t, "Erinnerung: Medikament nehmen\nOrt: Küche", f.messenger.Sent[0])

	// A second tick at the same instant claims nothing.
	n, err = f.svc.Tick(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 1, f.messenger.SentCount())
}

func TestTick_RetryThenExpire(t *testing.T) {
	ctx := context.Background()
	var outcomes []string
	f := newFixture(t, Options{
		RetryBackoff:        time.Minute,
		MaxDispatchAttempts: 3,
		OnDispatch:          func(o string) { outcomes = append(outcomes, o) },
	})
	f.messenger.Fail = 10 // every dispatch fails

	r, err := f.svc.Create(ctx, "alice", "Miete überweisen", f.clock.Now(), "")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err = f.svc.Tick(ctx)
		require.NoError(t, err)
		f.clock.Advance(time.Minute)
	}

	list, err := f.svc.List(ctx, "alice", nil)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, r.ID, list[0].ID)
	assert.Equal(t, store.ReminderExpired, list[0].State)
	assert.Equal(t, 3, list[0].Attempts)
	assert.Zero(t, f.messenger.SentCount())
	assert.Equal(t, []string{"retried", "retried", "expired"}, outcomes)
}

func TestSnooze_BudgetExhaustion(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{MaxSnooze: 2, DefaultSnooze: 10 * time.Minute})

	r, err := f.svc.Create(ctx, "alice", "Pause machen", f.clock.Now(), "")
	require.NoError(t, err)
	_, err = f.svc.Tick(ctx)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		snoozed, err := f.svc.Snooze(ctx, "alice", r.ID, 0)
		require.NoError(t, err)
		assert.Equal(t, store.ReminderPending, snoozed.State)
		assert.Equal(t, i+1, snoozed.SnoozeCount)
		assert.Equal(t, f.clock.Now().Add(10*time.Minute).UnixMilli(), snoozed.FireAt)

		f.clock.Advance(10 * time.Minute)
		_, err = f.svc.Tick(ctx)
		require.NoError(t, err)
	}

	// Budget spent: the snooze is refused with the spent budget named,
	// and the reminder stays SENT.
	_, err = f.svc.Snooze(ctx, "alice", r.ID, 0)
	require.Error(t, err)
	assert.Equal(t, errkind.Conflict, errkind.KindOf(err))
	assert.Contains(t, err.Error(), "snoozed 2 of 2 times")
	list, err := f.svc.List(ctx, "alice", nil)
	require.NoError(t, err)
	assert.Equal(t, store.ReminderSent, list[0].State)
}

func TestAckIsTerminal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})

	r, err := f.svc.Create(ctx, "alice", "Müll rausbringen", f.clock.Now(), "")
	require.NoError(t, err)

	acked, err := f.svc.Ack(ctx, "alice", r.ID)
	require.NoError(t, err)
	assert.Equal(t, store.ReminderAcknowledged, acked.State)

	_, err = f.svc.Snooze(ctx, "alice", r.ID, time.Minute)
	require.Error(t, err)
	assert.Equal(t, errkind.Conflict, errkind.KindOf(err))
	_, err = f.svc.Delete(ctx, "alice", r.ID)
	require.Error(t, err)
	assert.Equal(t, errkind.Conflict, errkind.KindOf(err))

	// Acknowledged reminders never fire.
	f.clock.Advance(24 * time.Hour)
	n, err := f.svc.Tick(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestOwnershipIsNotFound(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})

	r, err := f.svc.Create(ctx, "alice", "Blumen gießen", f.clock.Now(), "")
	require.NoError(t, err)

	_, err = f.svc.Ack(ctx, "mallory", r.ID)
	require.Error(t, err)
	assert.Equal(t, errkind.NotFound, errkind.KindOf(err))
}

func TestSyncCalendar_Idempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{Lead: 30 * time.Minute})
	start := f.clock.Now().Add(2 * time.Hour)
	f.calendar.Events = []ports.CalendarEvent{
		{EventID: "ev-1", Title: "Teambesprechung", Start: start, End: start.Add(time.Hour), Location: "Raum 4"},
	}

	require.NoError(t, f.svc.SyncCalendar(ctx, "alice"))
	require.NoError(t, f.svc.SyncCalendar(ctx, "alice"))

	list, err := f.svc.List(ctx, "alice", nil)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, store.SourceCalendar, list[0].Source)
	assert.Equal(t, "ev-1", list[0].EventID)
	assert.Equal(t, start.Add(-30*time.Minute).UnixMilli(), list[0].FireAt)
}

func TestSyncCalendar_CancelledEvent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{Lead: 30 * time.Minute})
	start := f.clock.Now().Add(2 * time.Hour)
	f.calendar.Events = []ports.CalendarEvent{
		{EventID: "ev-1", Title: "Teambesprechung", Start: start, End: start.Add(time.Hour)},
	}
	require.NoError(t, f.svc.SyncCalendar(ctx, "alice"))

	f.calendar.Events = nil
	require.NoError(t, f.svc.SyncCalendar(ctx, "alice"))

	list, err := f.svc.List(ctx, "alice", nil)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, store.ReminderDeleted, list[0].State)

	// A deleted reminder never fires.
	f.clock.Advance(3 * time.Hour)
	n, err := f.svc.Tick(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestBriefing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{BriefingLocation: "Berlin"})
	start := f.clock.Now().Add(3 * time.Hour)
	f.calendar.Events = []ports.CalendarEvent{
		{EventID: "ev-1", Title: "Zahnarzt", Start: start, End: start.Add(time.Hour), Location: "Praxis Dr. Weber"},
	}
	_, err := f.svc.Create(ctx, "alice", "Rechnung bezahlen", f.clock.Now().Add(6*time.Hour), "")
	require.NoError(t, err)

	text, err := f.svc.Briefing(ctx, "alice")
	require.NoError(t, err)
	assert.Contains(t, text, "Guten Morgen")
	assert.Contains(t, text, "13:00 Zahnarzt (Praxis Dr. Weber)")
	assert.Contains(t, text, "Rechnung bezahlen")
	assert.Contains(t, text, "Wetter in Berlin")
}

func TestBriefing_EmptyDay(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})

	text, err := f.svc.Briefing(ctx, "alice")
	require.NoError(t, err)
	assert.Contains(t, text, "keine Termine heute")
	assert.Contains(t, text, "keine offenen Erinnerungen")
}
