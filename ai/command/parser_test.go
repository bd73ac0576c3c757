package command

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/valet/internal/errkind"
	"github.com/hrygo/valet/ports/porttest"
)

// 2026-03-02 10:00 UTC, a Monday.
var testNow = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func newTestParser() *Parser {
	return NewParser(porttest.NewFakeClock(testNow))
}

func TestParse_ConversationalIntents(t *testing.T) {
	p := newTestParser()
	testCases := []struct {
		utterance  string
		kind       Kind
		confidence float64
	}{
		{"help", KindHelp, ConfidenceExact},
		{"  Help  ", KindHelp, ConfidenceExact},
		{"echo hello there", KindEcho, ConfidenceExact},
		{"morning briefing", KindBriefing, ConfidenceExact},
		{"list reminders", KindListReminders, ConfidenceExact},
		{"weather", KindGetWeather, ConfidenceExact},
		{"weather in berlin", KindGetWeather, ConfidenceExact},
		{"search for pelican facts", KindWebSearch, ConfidenceKeyword},
		{"check mail", KindReadInbox, ConfidenceExact},
		{"what is the weather like", KindGetWeather, ConfidenceFuzzy},
	}
	for _, tc := range testCases {
		t.Run(tc.utterance, func(t *testing.T) {
			intent, err := p.Parse(tc.utterance)
			require.NoError(t, err)
			assert.Equal(t, tc.kind, intent.Kind)
			assert.Equal(t, tc.confidence, intent.Confidence)
			assert.Equal(t, tc.utterance, intent.Utterance)
			assert.False(t, intent.SideEffecting())
		})
	}
}

func TestParse_CreateReminder(t *testing.T) {
	p := newTestParser()

	intent, err := p.Parse("remind me to water the plants in 2 hours")
	require.NoError(t, err)
	assert.Equal(t, KindCreateReminder, intent.Kind)
	assert.Equal(t, "water the plants", intent.Text)
	assert.Equal(t, testNow.Add(2*time.Hour), intent.When)
	assert.True(t, intent.SideEffecting())

	intent, err = p.Parse("remind me call mom tomorrow at 18:30")
	require.NoError(t, err)
	assert.Equal(t, "call mom", intent.Text)
	assert.Equal(t, time.Date(2026, 3, 3, 18, 30, 0, 0, time.UTC), intent.When)

	intent, err = p.Parse("remind me to pay rent 2026-04-01 09:00")
	require.NoError(t, err)
	assert.Equal(t, "pay rent", intent.Text)
	assert.Equal(t, time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC), intent.When)
}

func TestParse_ReminderLifecycleCommands(t *testing.T) {
	p := newTestParser()

	intent, err := p.Parse("snooze rem-42 for 10 minutes")
	require.NoError(t, err)
	assert.Equal(t, KindSnoozeReminder, intent.Kind)
	assert.Equal(t, "rem-42", intent.TargetID)
	assert.Equal(t, 10*time.Minute, intent.Duration)

	intent, err = p.Parse("ack rem-42")
	require.NoError(t, err)
	assert.Equal(t, KindAckReminder, intent.Kind)
	assert.Equal(t, "rem-42", intent.TargetID)

	intent, err = p.Parse("delete reminder rem-42")
	require.NoError(t, err)
	assert.Equal(t, KindDeleteReminder, intent.Kind)
}

func TestParse_MailAndCalendar(t *testing.T) {
	p := newTestParser()

	intent, err := p.Parse("email to anna@example.org subject lunch body are you free at noon?")
	require.NoError(t, err)
	assert.Equal(t, KindDraftEmail, intent.Kind)
	assert.Equal(t, "anna@example.org", intent.To)
	assert.Equal(t, "lunch", intent.Subject)
	assert.Equal(t, "are you free at noon?", intent.Body)
	assert.True(t, intent.SideEffecting())

	intent, err = p.Parse("send draft draft-a")
	require.NoError(t, err)
	assert.Equal(t, KindSendEmail, intent.Kind)
	assert.Equal(t, "draft-a", intent.DraftID)

	intent, err = p.Parse("schedule dentist tomorrow at 14:00")
	require.NoError(t, err)
	assert.Equal(t, KindCreateCalendarEvent, intent.Kind)
	assert.Equal(t, "dentist", intent.Title)
	assert.Equal(t, time.Date(2026, 3, 3, 14, 0, 0, 0, time.UTC), intent.When)
	assert.Equal(t, intent.When.Add(time.Hour), intent.End)

	intent, err = p.Parse("cancel event ev-7")
	require.NoError(t, err)
	assert.Equal(t, KindDeleteCalendarEvent, intent.Kind)
	assert.Equal(t, "ev-7", intent.TargetID)
}

func TestParse_UnknownFallsBackToAsk(t *testing.T) {
	p := newTestParser()
	intent, err := p.Parse("tell me a story about a lighthouse")
	require.NoError(t, err)
	assert.Equal(t, KindUnknown, intent.Kind)
	assert.Equal(t, 0.0, intent.Confidence)

	ask := intent.AsAsk()
	assert.Equal(t, KindAsk, ask.Kind)
	assert.Equal(t, intent.Utterance, ask.Query)
}

func TestParse_AmbiguousTime(t *testing.T) {
	p := newTestParser()
	_, err := p.Parse("remind me to stretch at 5")
	require.Error(t, err)
	assert.Equal(t, errkind.Validation, errkind.KindOf(err))

	var ambiguous *AmbiguousTimeError
	require.True(t, errors.As(err, &ambiguous))
	require.Len(t, ambiguous.Candidates, 2)
	assert.Equal(t, time.Date(2026, 3, 2, 5, 0, 0, 0, time.UTC), ambiguous.Candidates[0])
	assert.Equal(t, time.Date(2026, 3, 2, 17, 0, 0, 0, time.UTC), ambiguous.Candidates[1])
}

func TestParseWhen(t *testing.T) {
	testCases := []struct {
		input string
		want  time.Time
	}{
		{"2026-03-05 08:15", time.Date(2026, 3, 5, 8, 15, 0, 0, time.UTC)},
		{"in 45 minutes", testNow.Add(45 * time.Minute)},
		{"in 1 hour", testNow.Add(time.Hour)},
		{"in 3 days", testNow.AddDate(0, 0, 3)},
		{"tomorrow at 07:30", time.Date(2026, 3, 3, 7, 30, 0, 0, time.UTC)},
		{"today at 23:00", time.Date(2026, 3, 2, 23, 0, 0, 0, time.UTC)},
		{"at 18:00", time.Date(2026, 3, 2, 18, 0, 0, 0, time.UTC)},
		// Past clock times roll forward to the next day.
		{"at 08:00", time.Date(2026, 3, 3, 8, 0, 0, 0, time.UTC)},
	}
	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			got, err := ParseWhen(tc.input, testNow)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParseWhen_Rejections(t *testing.T) {
	for _, input := range []string{"", "yesterday", "at 25:00", "in -3 hours", "2026-13-40 10:00"} {
		t.Run(input, func(t *testing.T) {
			_, err := ParseWhen(input, testNow)
			require.Error(t, err)
			assert.Equal(t, errkind.Validation, errkind.KindOf(err))
		})
	}
}

func TestParseDuration(t *testing.T) {
	d, err := ParseDuration("for 2 hours")
	require.NoError(t, err)
	assert.Equal(t, 2*time.Hour, d)

	d, err = ParseDuration("1 day")
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, d)

	_, err = ParseDuration("a while")
	require.Error(t, err)
}
