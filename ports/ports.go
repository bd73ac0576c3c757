// Package ports defines the capability interfaces the core consumes.
// Implementations live outside the core (ai/llm, plugin/telegram,
// plugin/collab); the core only ever sees these contracts.
package ports

import (
	"context"
	"time"
)

// UserID is an opaque principal handle attached to a request after admission.
type UserID string

// GenerateRequest is a single inference request against the backend.
type GenerateRequest struct {
	Model       string
	Messages    []PromptMessage
	MaxTokens   int
	Temperature float32
}

// PromptMessage is one turn of an assembled prompt.
type PromptMessage struct {
	Role    string // system, user, assistant, tool
	Content string
}

// Usage carries token statistics for a completed generation.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Completion is the result of a synchronous generation.
type Completion struct {
	Content  string `json:"content"`
	Model    string `json:"model"`
	Usage    Usage  `json:"usage"`
	Degraded bool   `json:"degraded"`
}

// Delta is one chunk of a streaming generation. The final delta carries
// Usage and is followed by io.EOF from Stream.Recv.
type Delta struct {
	Content string `json:"content,omitempty"`
	Usage   *Usage `json:"usage,omitempty"`
}

// Stream is an ordered sequence of deltas. Recv returns io.EOF after the
// terminal usage-carrying delta has been delivered. Close releases the
// backend connection and must be safe to call concurrently with Recv.
type Stream interface {
	Recv() (Delta, error)
	Close() error
}

// Inference is the raw model backend port. Errors are classified
// retriable vs terminal through errkind so the breaker can count them.
type Inference interface {
	Generate(ctx context.Context, req GenerateRequest) (*Completion, error)
	GenerateStream(ctx context.Context, req GenerateRequest) (Stream, error)
	Health(ctx context.Context) error
}

// Embedder computes fixed-dimension embedding vectors for texts.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// Clock provides wall time. Injected so that time-driven components
// (reminder ticks, cache expiry, breaker cooldowns) are testable.
type Clock interface {
	Now() time.Time
}

// SecretStore resolves secrets by path.
type SecretStore interface {
	Get(ctx context.Context, path string) ([]byte, error)
}

// Messenger delivers outbound notifications and replies. Outbound is
// at-least-once; recipients must tolerate duplicates.
type Messenger interface {
	SendText(ctx context.Context, recipient string, text string) error
	SendAudio(ctx context.Context, recipient string, audio []byte) error
}

// MailMessage is a received mail summary.
type MailMessage struct {
	ID      string
	From    string
	Subject string
	Date    time.Time
	Snippet string
}

// MailDraft is an outgoing mail before it is sent.
type MailDraft struct {
	To      string
	Subject string
	Body    string
}

// Mail is the mailbox port. Draft ids are server-assigned.
type Mail interface {
	ListRecent(ctx context.Context, principal UserID, count int) ([]MailMessage, error)
	Draft(ctx context.Context, principal UserID, draft MailDraft) (string, error)
	Send(ctx context.Context, principal UserID, draftID string) error
}

// CalendarEvent is an event fetched from the calendar port. EventID is
// stable across syncs and is the dedup key for derived reminders.
type CalendarEvent struct {
	EventID  string
	Title    string
	Start    time.Time
	End      time.Time
	Location string
}

// Calendar is the calendar port.
type Calendar interface {
	ListEvents(ctx context.Context, principal UserID, from, to time.Time) ([]CalendarEvent, error)
	CreateEvent(ctx context.Context, principal UserID, event CalendarEvent) (string, error)
	DeleteEvent(ctx context.Context, principal UserID, eventID string) error
}

// WeatherReport is a current-conditions or forecast summary.
type WeatherReport struct {
	Location    string
	Summary     string
	TempCelsius float64
	Date        time.Time
}

// Weather is the weather port. Results are cacheable per coordinates.
type Weather interface {
	Current(ctx context.Context, location string) (*WeatherReport, error)
	Forecast(ctx context.Context, location string, days int) ([]WeatherReport, error)
}

// SearchResult is one web search hit with its citation URL.
type SearchResult struct {
	Title   string
	URL     string
	Snippet string
}

// WebSearch is the provider-agnostic search port.
type WebSearch interface {
	Search(ctx context.Context, query string, limit int) ([]SearchResult, error)
}

// Speech is the transcription/synthesis port. Both directions are
// cancellable through ctx.
type Speech interface {
	Transcribe(ctx context.Context, audio []byte, lang string) (string, error)
	Synthesize(ctx context.Context, text string, voice string) ([]byte, error)
}
