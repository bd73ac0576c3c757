// Package porttest provides in-memory port fakes shared by the test
// suites. None of them touch the network.
package porttest

import (
	"context"
	"io"
	"math"
	"sync"
	"time"

	"github.com/hrygo/valet/internal/errkind"
	"github.com/hrygo/valet/ports"
)

// FakeClock is a manually advanced Clock.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start.UTC()}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t.UTC()
}

// FakeInference is a scripted inference port. Responses are served in
// order; when the script is exhausted the last entry repeats. A non-nil
// Err entry is returned instead of a completion.
type FakeInference struct {
	mu        sync.Mutex
	Responses []FakeResponse
	calls     int
}

type FakeResponse struct {
	Content string
	Err     error
}

func (f *FakeInference) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *FakeInference) next() FakeResponse {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.Responses) == 0 {
		return FakeResponse{Content: "ok"}
	}
	i := f.calls - 1
	if i >= len(f.Responses) {
		i = len(f.Responses) - 1
	}
	return f.Responses[i]
}

func (f *FakeInference) Generate(_ context.Context, req ports.GenerateRequest) (*ports.Completion, error) {
	r := f.next()
	if r.Err != nil {
		return nil, r.Err
	}
	return &ports.Completion{
		Content: r.Content,
		Model:   req.Model,
		Usage:   ports.Usage{PromptTokens: 1, CompletionTokens: 1, TotalTokens: 2},
	}, nil
}

func (f *FakeInference) GenerateStream(_ context.Context, req ports.GenerateRequest) (ports.Stream, error) {
	r := f.next()
	if r.Err != nil {
		return nil, r.Err
	}
	return &scriptedStream{deltas: []ports.Delta{
		{Content: r.Content},
		{Usage: &ports.Usage{CompletionTokens: 1, TotalTokens: 1}},
	}}, nil
}

func (f *FakeInference) Health(context.Context) error { return nil }

type scriptedStream struct {
	mu     sync.Mutex
	deltas []ports.Delta
	pos    int
	closed bool
}

func (s *scriptedStream) Recv() (ports.Delta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ports.Delta{}, errkind.New(errkind.Cancelled, "stream closed")
	}
	if s.pos >= len(s.deltas) {
		return ports.Delta{}, io.EOF
	}
	d := s.deltas[s.pos]
	s.pos++
	return d, nil
}

func (s *scriptedStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// FakeMessenger records sent messages. Fail can be set to make a bounded
// number of sends fail with a retriable error.
type FakeMessenger struct {
	mu    sync.Mutex
	Sent  []string
	Fail  int
	Audio [][]byte
}

func (m *FakeMessenger) SendText(_ context.Context, _ string, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail > 0 {
		m.Fail--
		return errkind.New(errkind.UpstreamUnavailable, "messenger unavailable")
	}
	m.Sent = append(m.Sent, text)
	return nil
}

func (m *FakeMessenger) SendAudio(_ context.Context, _ string, audio []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Audio = append(m.Audio, audio)
	return nil
}

func (m *FakeMessenger) SentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Sent)
}

// FakeCalendar serves a fixed event list.
type FakeCalendar struct {
	mu     sync.Mutex
	Events []ports.CalendarEvent
}

func (c *FakeCalendar) ListEvents(_ context.Context, _ ports.UserID, from, to time.Time) ([]ports.CalendarEvent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []ports.CalendarEvent
	for _, ev := range c.Events {
		if !ev.Start.Before(from) && ev.Start.Before(to) {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (c *FakeCalendar) CreateEvent(_ context.Context, _ ports.UserID, event ports.CalendarEvent) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Events = append(c.Events, event)
	return event.EventID, nil
}

func (c *FakeCalendar) DeleteEvent(_ context.Context, _ ports.UserID, eventID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, ev := range c.Events {
		if ev.EventID == eventID {
			c.Events = append(c.Events[:i], c.Events[i+1:]...)
			return nil
		}
	}
	return errkind.New(errkind.NotFound, "event not found")
}

// FakeMail records drafts and sends.
type FakeMail struct {
	mu     sync.Mutex
	drafts map[string]ports.MailDraft
	SentID []string
	nextID int
}

func (m *FakeMail) ListRecent(context.Context, ports.UserID, int) ([]ports.MailMessage, error) {
	return nil, nil
}

func (m *FakeMail) Draft(_ context.Context, _ ports.UserID, draft ports.MailDraft) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.drafts == nil {
		m.drafts = make(map[string]ports.MailDraft)
	}
	m.nextID++
	id := "draft-" + string(rune('a'+m.nextID-1))
	m.drafts[id] = draft
	return id, nil
}

func (m *FakeMail) Send(_ context.Context, _ ports.UserID, draftID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.drafts[draftID]; !ok {
		return errkind.New(errkind.NotFound, "draft not found")
	}
	m.SentID = append(m.SentID, draftID)
	return nil
}

func (m *FakeMail) Sends() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.SentID)
}

// FakeWeather serves fixed reports per location. Unknown locations get
// a bland default so briefing tests need no setup.
type FakeWeather struct {
	Reports map[string]*ports.WeatherReport
}

func (w *FakeWeather) Current(_ context.Context, location string) (*ports.WeatherReport, error) {
	if r, ok := w.Reports[location]; ok {
		return r, nil
	}
	return &ports.WeatherReport{Location: location, Summary: "heiter", TempCelsius: 18}, nil
}

func (w *FakeWeather) Forecast(_ context.Context, location string, days int) ([]ports.WeatherReport, error) {
	cur, _ := w.Current(context.Background(), location)
	out := make([]ports.WeatherReport, days)
	for i := range out {
		out[i] = *cur
	}
	return out, nil
}

// FakeWebSearch serves a fixed result list for every query.
type FakeWebSearch struct {
	Results []ports.SearchResult
}

func (s *FakeWebSearch) Search(_ context.Context, _ string, limit int) ([]ports.SearchResult, error) {
	if limit > 0 && limit < len(s.Results) {
		return s.Results[:limit], nil
	}
	return s.Results, nil
}

// FakeEmbedder produces deterministic unit vectors so that similarity in
// tests is controllable: identical texts embed identically.
type FakeEmbedder struct {
	Dim     int
	Vectors map[string][]float32 // optional fixed vectors per text
}

func (e *FakeEmbedder) Dimension() int {
	if e.Dim == 0 {
		return 8
	}
	return e.Dim
}

func (e *FakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if v, ok := e.Vectors[text]; ok {
		return v, nil
	}
	dim := e.Dimension()
	v := make([]float32, dim)
	var h uint32 = 2166136261
	for i := 0; i < len(text); i++ {
		h ^= uint32(text[i])
		h *= 16777619
	}
	for i := range v {
		h ^= h << 13
		h ^= h >> 17
		h ^= h << 5
		v[i] = float32(int32(h%2000)-1000) / 1000
	}
	return normalize(v), nil
}

func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	inv := 1.0 / math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) * inv)
	}
	return v
}
