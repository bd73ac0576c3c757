package dispatch

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/valet/ai/breaker"
	"github.com/hrygo/valet/ai/cache"
	"github.com/hrygo/valet/ai/command"
	"github.com/hrygo/valet/ai/gateway"
	"github.com/hrygo/valet/internal/errkind"
	"github.com/hrygo/valet/internal/profile"
	"github.com/hrygo/valet/ports"
	"github.com/hrygo/valet/ports/porttest"
	"github.com/hrygo/valet/server/service/approval"
	"github.com/hrygo/valet/server/service/conversation"
	"github.com/hrygo/valet/server/service/reminder"
	"github.com/hrygo/valet/store"
	"github.com/hrygo/valet/store/db/sqlite"
)

type fixture struct {
	dispatcher *Dispatcher
	approvals  *approval.Service
	reminders  *reminder.Service
	clock      *porttest.FakeClock
	backend    *porttest.FakeInference
	mail       *porttest.FakeMail
	search     *porttest.FakeWebSearch
	weather    *porttest.FakeWeather
	weatherHit *countingWeather
}

// countingWeather counts backend lookups so cache behavior is observable.
type countingWeather struct {
	inner ports.Weather
	calls int
}

func (w *countingWeather) Current(ctx context.Context, location string) (*ports.WeatherReport, error) {
	w.calls++
	return w.inner.Current(ctx, location)
}

func (w *countingWeather) Forecast(ctx context.Context, location string, days int) ([]ports.WeatherReport, error) {
	return w.inner.Forecast(ctx, location, days)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	p := &profile.Profile{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "valet.db")}
	driver, err := sqlite.NewDB(p)
	require.NoError(t, err)
	require.NoError(t, driver.Migrate(context.Background()))
	st := store.New(driver, p)
	t.Cleanup(func() { _ = st.Close() })

	clock := porttest.NewFakeClock(time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC))
	backend := &porttest.FakeInference{}
	tiered := cache.NewTiered(nil, cache.Options{Clock: clock})
	gw := gateway.New(backend, tiered, breaker.New(breaker.Options{Clock: clock}), gateway.DegradedConfig{}, nil)

	conversations := conversation.NewService(st, gw, nil, clock, conversation.Options{Model: "llama3.1"})
	messenger := &porttest.FakeMessenger{}
	calendar := &porttest.FakeCalendar{}
	weather := &porttest.FakeWeather{}
	counting := &countingWeather{inner: weather}
	mail := &porttest.FakeMail{}
	search := &porttest.FakeWebSearch{}
	reminders := reminder.NewService(st, clock, messenger, calendar, weather, reminder.Options{})

	d := New(command.NewParser(clock), conversations, reminders, mail, calendar, counting, search, tiered, Options{})
	approvals := approval.NewService(st, d, clock, approval.Options{TTL: time.Hour})
	d.SetApprovals(approvals)

	return &fixture{
		dispatcher: d,
		approvals:  approvals,
		reminders:  reminders,
		clock:      clock,
		backend:    backend,
		mail:       mail,
		search:     search,
		weather:    weather,
		weatherHit: counting,
	}
}

func TestHandle_AskFallsThroughToChat(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.backend.Responses = []porttest.FakeResponse{{Content: "42"}}

	out, err := f.dispatcher.Handle(ctx, "alice", "", "what is the answer to everything")
	require.NoError(t, err)
	assert.Equal(t, command.KindAsk, out.Intent.Kind)
	assert.False(t, out.Queued)
	assert.Equal(t, "42", out.Reply)
	assert.NotEmpty(t, out.ConversationID)
}

func TestParse_ClassifiesWithoutExecuting(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	intent, err := f.dispatcher.Parse("remind me to call the dentist in 2 hours")
	require.NoError(t, err)
	assert.Equal(t, command.KindCreateReminder, intent.Kind)
	assert.True(t, intent.SideEffecting())

	// Parsing queues nothing.
	pending := store.ApprovalPending
	list, err := f.approvals.List(ctx, "alice", &pending, 10)
	require.NoError(t, err)
	assert.Empty(t, list)

	intent, err = f.dispatcher.Parse("was ist die hauptstadt von frankreich")
	require.NoError(t, err)
	assert.Equal(t, command.KindAsk, intent.Kind)
	assert.False(t, intent.SideEffecting())
}

func TestHandle_SideEffectingQueuesApproval(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	out, err := f.dispatcher.Handle(ctx, "alice", "", "remind me to call the dentist in 2 hours")
	require.NoError(t, err)
	require.True(t, out.Queued)
	require.NotNil(t, out.Approval)
	assert.Equal(t, store.ApprovalPending, out.Approval.State)

	// Nothing executed yet.
	list, err := f.reminders.List(ctx, "alice", nil)
	require.NoError(t, err)
	assert.Empty(t, list)

	// Approving creates the reminder with the parsed schedule.
	decided, err := f.approvals.Decide(ctx, "alice", out.Approval.ID, approval.DecisionApprove)
	require.NoError(t, err)
	assert.Equal(t, store.ApprovalApproved, decided.State)
	assert.Contains(t, decided.Result, "angelegt")

	list, err = f.reminders.List(ctx, "alice", nil)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "call the dentist", list[0].Text)
	assert.Equal(t, f.clock.Now().Add(2*time.Hour).UnixMilli(), list[0].FireAt)
}

func TestHandle_DenyPreventsExecution(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	out, err := f.dispatcher.Handle(ctx, "alice", "", "email to bob@example.org subject hi body hallo")
	require.NoError(t, err)
	require.True(t, out.Queued)

	_, err = f.approvals.Decide(ctx, "alice", out.Approval.ID, approval.DecisionDeny)
	require.NoError(t, err)
	assert.Zero(t, f.mail.Sends())
}

func TestHandle_EchoAndHelp(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	out, err := f.dispatcher.Handle(ctx, "alice", "", "echo hallo welt")
	require.NoError(t, err)
	assert.Equal(t, "hallo welt", out.Reply)

	out, err = f.dispatcher.Handle(ctx, "alice", "", "help")
	require.NoError(t, err)
	assert.Contains(t, out.Reply, "remind me")
}

func TestHandle_WeatherIsCached(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.weather.Reports = map[string]*ports.WeatherReport{
		"berlin": {Location: "Berlin", Summary: "bewölkt", TempCelsius: 12},
	}

	out, err := f.dispatcher.Handle(ctx, "alice", "", "weather in berlin")
	require.NoError(t, err)
	assert.Equal(t, "Wetter in Berlin: bewölkt, 12°C.", out.Reply)
	assert.Equal(t, 1, f.weatherHit.calls)

	_, err = f.dispatcher.Handle(ctx, "alice", "", "weather in berlin")
	require.NoError(t, err)
	assert.Equal(t, 1, f.weatherHit.calls)
}

func TestHandle_WebSearch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.search.Results = []ports.SearchResult{
		{Title: "Go", URL: "https://go.dev", Snippet: "The Go programming language"},
	}

	out, err := f.dispatcher.Handle(ctx, "alice", "", "search for golang")
	require.NoError(t, err)
	assert.Contains(t, out.Reply, "https://go.dev")
}

func TestHandle_ListRemindersEmpty(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	out, err := f.dispatcher.Handle(ctx, "alice", "", "list reminders")
	require.NoError(t, err)
	assert.Equal(t, "Keine offenen Erinnerungen.", out.Reply)
}

func TestExecute_MailRoundTrip(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	result, err := f.dispatcher.Execute(ctx, "alice", &command.Intent{
		Kind: command.KindDraftEmail, To: "bob@example.org", Subject: "hi", Body: "hallo",
	})
	require.NoError(t, err)
	assert.Contains(t, result, "Entwurf")

	_, err = f.dispatcher.Execute(ctx, "alice", &command.Intent{Kind: command.KindSendEmail, DraftID: "draft-a"})
	require.NoError(t, err)
	assert.Equal(t, 1, f.mail.Sends())

	// Sending an unknown draft surfaces the port's NotFound.
	_, err = f.dispatcher.Execute(ctx, "alice", &command.Intent{Kind: command.KindSendEmail, DraftID: "missing"})
	require.Error(t, err)
	assert.Equal(t, errkind.NotFound, errkind.KindOf(err))
}

func TestHandle_AmbiguousTimePropagates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.dispatcher.Handle(ctx, "alice", "", "remind me to stretch at 5")
	require.Error(t, err)
	assert.Equal(t, errkind.Validation, errkind.KindOf(err))
	var ambiguous *command.AmbiguousTimeError
	assert.ErrorAs(t, err, &ambiguous)
}
