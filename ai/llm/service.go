// Package llm adapts an OpenAI-compatible chat completion API to the
// inference port. Any provider that speaks the protocol works: set the
// base URL and key in the inference config section.
package llm

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/hrygo/valet/internal/errkind"
	"github.com/hrygo/valet/ports"
)

// Config represents the inference backend configuration.
type Config struct {
	Model       string
	APIKey      string
	BaseURL     string
	MaxTokens   int     // default: 2048
	Temperature float32 // default: 0.7
	Timeout     int     // request timeout in seconds (default: 120)
}

type service struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float32
	timeout     time.Duration
}

// NewService creates an inference port backed by go-openai.
func NewService(cfg *Config) (ports.Inference, error) {
	if cfg.APIKey == "" {
		return nil, errkind.New(errkind.Validation, "inference api key required")
	}
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	clientConfig.HTTPClient = newHTTPClient()

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 2048
	}
	temperature := cfg.Temperature
	if temperature <= 0 {
		temperature = 0.7
	}

	return &service{
		client:      openai.NewClientWithConfig(clientConfig),
		model:       cfg.Model,
		maxTokens:   maxTokens,
		temperature: temperature,
		timeout:     time.Duration(timeout) * time.Second,
	}, nil
}

func (s *service) request(req ports.GenerateRequest) openai.ChatCompletionRequest {
	model := req.Model
	if model == "" {
		model = s.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = s.maxTokens
	}
	temperature := req.Temperature
	if temperature <= 0 {
		temperature = s.temperature
	}
	return openai.ChatCompletionRequest{
		Model:       model,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		Messages:    convertMessages(req.Messages),
	}
}

func (s *service) Generate(ctx context.Context, req ports.GenerateRequest) (*ports.Completion, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	resp, err := s.client.CreateChatCompletion(ctx, s.request(req))
	if err != nil {
		slog.Error("inference request failed", "model", s.model, "error", err)
		return nil, errkind.ClassifyUpstream(err)
	}
	if len(resp.Choices) == 0 {
		return nil, errkind.New(errkind.UpstreamError, "empty response from backend")
	}

	slog.Debug("inference response",
		"model", resp.Model,
		"total_tokens", resp.Usage.TotalTokens,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return &ports.Completion{
		Content: resp.Choices[0].Message.Content,
		Model:   resp.Model,
		Usage: ports.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

func (s *service) GenerateStream(ctx context.Context, req ports.GenerateRequest) (ports.Stream, error) {
	chatReq := s.request(req)
	chatReq.StreamOptions = &openai.StreamOptions{IncludeUsage: true}

	stream, err := s.client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		slog.Error("inference stream failed to open", "model", s.model, "error", err)
		return nil, errkind.ClassifyUpstream(err)
	}
	return &openaiStream{inner: stream}, nil
}

// Health issues a one-token ping so readiness checks see real backend
// reachability instead of a TCP dial.
func (s *service) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       s.model,
		MaxTokens:   1,
		Temperature: 0,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: "ping"},
		},
	})
	if err != nil {
		return errkind.ClassifyUpstream(err)
	}
	return nil
}

// openaiStream translates the SSE chunk stream into deltas. The terminal
// delta carries usage; afterwards Recv reports io.EOF.
type openaiStream struct {
	inner    *openai.ChatCompletionStream
	finished bool
}

func (s *openaiStream) Recv() (ports.Delta, error) {
	if s.finished {
		return ports.Delta{}, io.EOF
	}
	for {
		resp, err := s.inner.Recv()
		if err == io.EOF {
			// Backend closed without a usage chunk; synthesize an
			// empty terminal delta so consumers always see one.
			s.finished = true
			return ports.Delta{Usage: &ports.Usage{}}, nil
		}
		if err != nil {
			return ports.Delta{}, errkind.ClassifyUpstream(err)
		}

		if resp.Usage != nil && resp.Usage.TotalTokens > 0 {
			s.finished = true
			return ports.Delta{Usage: &ports.Usage{
				PromptTokens:     resp.Usage.PromptTokens,
				CompletionTokens: resp.Usage.CompletionTokens,
				TotalTokens:      resp.Usage.TotalTokens,
			}}, nil
		}
		if len(resp.Choices) == 0 {
			continue
		}
		if content := resp.Choices[0].Delta.Content; content != "" {
			return ports.Delta{Content: content}, nil
		}
	}
}

func (s *openaiStream) Close() error {
	return s.inner.Close()
}

func convertMessages(messages []ports.PromptMessage) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		role := m.Role
		switch role {
		case "system", "user", "assistant", "tool":
		default:
			role = openai.ChatMessageRoleUser
		}
		out[i] = openai.ChatCompletionMessage{Role: role, Content: m.Content}
	}
	return out
}

func newHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 60 * time.Second,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
}
