// Package conversation owns the chat orchestration: history, RAG
// retrieval, prompt assembly, generation through the gateway, and the
// learning write-back into long-term memory.
package conversation

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/hrygo/valet/ai/cache"
	"github.com/hrygo/valet/ai/gateway"
	"github.com/hrygo/valet/ai/memory"
	"github.com/hrygo/valet/internal/errkind"
	"github.com/hrygo/valet/internal/idgen"
	"github.com/hrygo/valet/ports"
	"github.com/hrygo/valet/store"
)

const defaultSystemPrompt = "Du bist ein persönlicher Assistent. Antworte knapp, hilfreich und auf Deutsch, sofern der Nutzer nicht in einer anderen Sprache schreibt."

// Options tunes chat generation. Zero values take the defaults.
type Options struct {
	Model        string
	MaxTokens    int
	Temperature  float32
	SystemPrompt string
	// PromptBudget bounds the assembled prompt in characters; oldest
	// history drops first, then the weakest memories.
	PromptBudget int
	RAGLimit     int
}

func (o *Options) fillDefaults() {
	if o.SystemPrompt == "" {
		o.SystemPrompt = defaultSystemPrompt
	}
	if o.PromptBudget <= 0 {
		o.PromptBudget = 12000
	}
	if o.RAGLimit <= 0 {
		o.RAGLimit = 5
	}
}

// Service is the conversation front of the assistant. memory may be nil
// when long-term memory is disabled.
type Service struct {
	store   *store.Store
	gateway *gateway.Gateway
	memory  *memory.Service
	clock   ports.Clock
	opts    Options
}

func NewService(st *store.Store, gw *gateway.Gateway, mem *memory.Service, clock ports.Clock, opts Options) *Service {
	opts.fillDefaults()
	return &Service{store: st, gateway: gw, memory: mem, clock: clock, opts: opts}
}

// Create opens a new conversation for the principal.
func (s *Service) Create(ctx context.Context, principal ports.UserID, title string) (*store.Conversation, error) {
	now := s.clock.Now()
	return s.store.CreateConversation(ctx, &store.Conversation{
		ID:        idgen.New(),
		UserID:    string(principal),
		Title:     title,
		CreatedTs: now.UnixMilli(),
		UpdatedTs: now.UnixMilli(),
	})
}

// List returns the principal's conversations, newest first.
func (s *Service) List(ctx context.Context, principal ports.UserID) ([]*store.Conversation, error) {
	userID := string(principal)
	return s.store.ListConversations(ctx, &store.FindConversation{UserID: &userID})
}

func (s *Service) get(ctx context.Context, principal ports.UserID, id string) (*store.Conversation, error) {
	userID := string(principal)
	list, err := s.store.ListConversations(ctx, &store.FindConversation{ID: &id, UserID: &userID})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, errkind.New(errkind.NotFound, "conversation not found")
	}
	return list[0], nil
}

// Delete removes the principal's conversation and its messages.
func (s *Service) Delete(ctx context.Context, principal ports.UserID, id string) error {
	if _, err := s.get(ctx, principal, id); err != nil {
		return err
	}
	return s.store.DeleteConversation(ctx, &store.DeleteConversation{ID: id, UserID: string(principal)})
}

// History returns the principal's view of a conversation, oldest first.
func (s *Service) History(ctx context.Context, principal ports.UserID, id string) ([]*store.Message, error) {
	if _, err := s.get(ctx, principal, id); err != nil {
		return nil, err
	}
	return s.store.ListMessages(ctx, id)
}

// Chat runs one synchronous turn: assemble the prompt from history and
// retrieved memories, generate, persist both turns, and learn from the
// user turn. An empty conversationID opens a fresh conversation.
func (s *Service) Chat(ctx context.Context, principal ports.UserID, conversationID string, text string) (string, *ports.Completion, error) {
	conversationID, prompt, err := s.prepare(ctx, principal, conversationID, text)
	if err != nil {
		return "", nil, err
	}

	completion, err := s.gateway.Generate(ctx, ports.GenerateRequest{
		Model:       s.opts.Model,
		Messages:    prompt,
		MaxTokens:   s.opts.MaxTokens,
		Temperature: s.opts.Temperature,
	}, gateway.Options{CacheClass: cache.ClassLLMDynamic})
	if err != nil {
		return "", nil, err
	}

	if err := s.persistTurn(ctx, principal, conversationID, text, completion.Content, completion.Usage); err != nil {
		return "", nil, err
	}
	return conversationID, completion, nil
}

// ChatStream runs one streaming turn. The returned stream mirrors the
// gateway's: ordered deltas, then one usage-carrying delta, then io.EOF.
// The assistant turn is persisted once the stream completes.
func (s *Service) ChatStream(ctx context.Context, principal ports.UserID, conversationID string, text string) (string, ports.Stream, error) {
	conversationID, prompt, err := s.prepare(ctx, principal, conversationID, text)
	if err != nil {
		return "", nil, err
	}

	inner, err := s.gateway.GenerateStream(ctx, ports.GenerateRequest{
		Model:       s.opts.Model,
		Messages:    prompt,
		MaxTokens:   s.opts.MaxTokens,
		Temperature: s.opts.Temperature,
	})
	if err != nil {
		return "", nil, err
	}
	return conversationID, &recordingStream{
		inner: inner,
		// The persisting append must survive the request context ending
		// right after the last delta.
		finish: func(content string, usage ports.Usage) {
			bg := context.WithoutCancel(ctx)
			if err := s.persistTurn(bg, principal, conversationID, text, content, usage); err != nil {
				slog.Warn("failed to persist streamed turn", "conversation", conversationID, "error", err)
			}
		},
	}, nil
}

// prepare resolves the conversation and assembles the prompt.
func (s *Service) prepare(ctx context.Context, principal ports.UserID, conversationID string, text string) (string, []ports.PromptMessage, error) {
	if strings.TrimSpace(text) == "" {
		return "", nil, errkind.New(errkind.Validation, "empty message")
	}

	var history []ports.PromptMessage
	if conversationID == "" {
		conv, err := s.Create(ctx, principal, title(text))
		if err != nil {
			return "", nil, err
		}
		conversationID = conv.ID
	} else {
		messages, err := s.History(ctx, principal, conversationID)
		if err != nil {
			return "", nil, err
		}
		for _, m := range messages {
			history = append(history, ports.PromptMessage{Role: m.Role, Content: m.Content})
		}
	}

	var snippets []gateway.MemorySnippet
	if s.memory != nil {
		retrieved, err := s.memory.Retrieve(ctx, string(principal), text, s.opts.RAGLimit)
		if err != nil {
			slog.Warn("memory retrieval failed", "conversation", conversationID, "error", err)
		}
		for _, m := range retrieved {
			snippets = append(snippets, gateway.MemorySnippet{Text: m.Content, Similarity: m.Similarity})
		}
	}

	builder := gateway.PromptBuilder{Budget: s.opts.PromptBudget}
	return conversationID, builder.Build(s.opts.SystemPrompt, snippets, history, text), nil
}

// persistTurn appends the user and assistant messages and feeds the
// user turn into long-term memory.
func (s *Service) persistTurn(ctx context.Context, principal ports.UserID, conversationID, userText, assistantText string, usage ports.Usage) error {
	now := s.clock.Now().UnixMilli()
	if err := s.store.AppendMessage(ctx, &store.Message{
		ID:             idgen.New(),
		ConversationID: conversationID,
		Role:           "user",
		Content:        userText,
		TokenCount:     usage.PromptTokens,
		CreatedTs:      now,
	}); err != nil {
		return err
	}
	if err := s.store.AppendMessage(ctx, &store.Message{
		ID:             idgen.New(),
		ConversationID: conversationID,
		Role:           "assistant",
		Content:        assistantText,
		TokenCount:     usage.CompletionTokens,
		CreatedTs:      now,
	}); err != nil {
		return err
	}

	if s.memory != nil {
		if _, _, err := s.memory.Remember(ctx, string(principal), memory.Input{
			Content:        userText,
			Type:           store.MemoryContext,
			ConversationID: conversationID,
		}); err != nil {
			slog.Warn("memory learning failed", "conversation", conversationID, "error", err)
		}
	}
	return nil
}

func title(text string) string {
	words := strings.Fields(text)
	if len(words) > 6 {
		words = words[:6]
	}
	return strings.Join(words, " ")
}

// recordingStream accumulates deltas so the assistant turn can be
// persisted once the backend signals completion.
type recordingStream struct {
	inner  ports.Stream
	finish func(content string, usage ports.Usage)

	mu      sync.Mutex
	content strings.Builder
	done    bool
}

func (s *recordingStream) Recv() (ports.Delta, error) {
	d, err := s.inner.Recv()
	if err != nil {
		return d, err
	}

	s.mu.Lock()
	s.content.WriteString(d.Content)
	terminal := d.Usage != nil && !s.done
	if terminal {
		s.done = true
	}
	content := s.content.String()
	s.mu.Unlock()

	if terminal {
		s.finish(content, *d.Usage)
	}
	return d, nil
}

func (s *recordingStream) Close() error {
	return s.inner.Close()
}
