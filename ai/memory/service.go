// Package memory implements the encrypted long-term memory store with
// embedding-based retrieval. Content and summary are sealed per record;
// vectors stay in the clear so similarity search works server-side.
package memory

import (
	"context"
	"log/slog"
	"math"

	"github.com/hrygo/valet/internal/errkind"
	"github.com/hrygo/valet/internal/idgen"
	"github.com/hrygo/valet/ports"
	"github.com/hrygo/valet/store"
)

// Options are the tunables of the memory service.
type Options struct {
	// MergeThreshold is the similarity above which a new memory folds
	// into its best match instead of inserting.
	MergeThreshold float64
	// RAGThreshold is the minimum similarity for retrieval results.
	RAGThreshold float64
	// DecayFactor multiplies importance on every decay pass.
	DecayFactor float64
	// MinImportance is the cleanup deletion floor.
	MinImportance float64
	// AccessNudge is the bounded importance bump applied on retrieval.
	AccessNudge float64
}

func (o *Options) fill() {
	if o.MergeThreshold <= 0 {
		o.MergeThreshold = 0.85
	}
	if o.RAGThreshold <= 0 {
		o.RAGThreshold = 0.5
	}
	if o.DecayFactor <= 0 {
		o.DecayFactor = 0.98
	}
	if o.MinImportance <= 0 {
		o.MinImportance = 0.1
	}
	if o.AccessNudge <= 0 {
		o.AccessNudge = 0.02
	}
}

// Input is a candidate memory before encryption.
type Input struct {
	Content        string
	Summary        string
	Type           store.MemoryType
	Tags           []string
	ConversationID string
	Importance     float64
}

// Retrieved is a decrypted memory with its query similarity.
type Retrieved struct {
	ID         string
	Content    string
	Summary    string
	Type       store.MemoryType
	Tags       []string
	Importance float64
	Similarity float64
	CreatedTs  int64
}

// Service is safe for concurrent use.
type Service struct {
	store    *store.Store
	embedder ports.Embedder
	clock    ports.Clock
	key      []byte
	opts     Options
}

func NewService(st *store.Store, embedder ports.Embedder, clock ports.Clock, key []byte, opts Options) *Service {
	opts.fill()
	if clock == nil {
		clock = ports.SystemClock{}
	}
	return &Service{store: st, embedder: embedder, clock: clock, key: key, opts: opts}
}

// Remember stores a memory, merging into the closest existing one when
// the embedding similarity exceeds the merge threshold. Returns the id
// of the row that now holds the memory and whether it was merged.
func (s *Service) Remember(ctx context.Context, userID string, input Input) (string, bool, error) {
	if input.Content == "" {
		return "", false, errkind.New(errkind.Validation, "empty memory content")
	}
	if input.Importance <= 0 {
		input.Importance = 0.5
	}

	embedText := input.Summary
	if embedText == "" {
		embedText = input.Content
	}
	vec, err := s.embedder.Embed(ctx, embedText)
	if err != nil {
		return "", false, err
	}

	matches, err := s.store.SearchMemories(ctx, userID, vec, 1)
	if err != nil {
		return "", false, err
	}
	if len(matches) > 0 && matches[0].Similarity > s.opts.MergeThreshold {
		best := matches[0].Memory
		if err := s.merge(ctx, best, input); err != nil {
			return "", false, err
		}
		return best.ID, true, nil
	}

	content, err := encrypt([]byte(input.Content), s.key)
	if err != nil {
		return "", false, err
	}
	var summary []byte
	if input.Summary != "" {
		if summary, err = encrypt([]byte(input.Summary), s.key); err != nil {
			return "", false, err
		}
	}

	nowMs := s.clock.Now().UnixMilli()
	id := idgen.New()
	_, err = s.store.CreateMemory(ctx, &store.Memory{
		ID:             id,
		UserID:         userID,
		ConversationID: input.ConversationID,
		Content:        content,
		Summary:        summary,
		Type:           input.Type,
		Importance:     clamp(input.Importance),
		Tags:           input.Tags,
		Vector:         vec,
		CreatedTs:      nowMs,
		AccessedTs:     nowMs,
	})
	if err != nil {
		return "", false, err
	}
	return id, false, nil
}

// merge folds input into an existing record: content concatenated,
// importance keeps the max, access counters bump.
func (s *Service) merge(ctx context.Context, existing *store.Memory, input Input) error {
	plain, err := decrypt(existing.Content, s.key)
	if err != nil {
		return err
	}
	merged, err := encrypt(append(append(plain, '\n'), []byte(input.Content)...), s.key)
	if err != nil {
		return err
	}
	importance := clamp(math.Max(existing.Importance, input.Importance))
	nowMs := s.clock.Now().UnixMilli()
	return s.store.UpdateMemory(ctx, &store.UpdateMemory{
		ID:          existing.ID,
		UserID:      existing.UserID,
		Content:     merged,
		Importance:  &importance,
		AccessedTs:  &nowMs,
		AccessDelta: 1,
	})
}

// Retrieve returns up to limit decrypted memories with similarity at or
// above the RAG threshold, most similar first. Each hit's access
// counters bump and its importance gets a bounded positive nudge.
func (s *Service) Retrieve(ctx context.Context, userID string, query string, limit int) ([]*Retrieved, error) {
	if limit <= 0 {
		limit = 5
	}
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	matches, err := s.store.SearchMemories(ctx, userID, vec, limit)
	if err != nil {
		return nil, err
	}

	nowMs := s.clock.Now().UnixMilli()
	out := make([]*Retrieved, 0, len(matches))
	for _, match := range matches {
		if match.Similarity < s.opts.RAGThreshold {
			continue
		}
		m := match.Memory
		content, err := decrypt(m.Content, s.key)
		if err != nil {
			return nil, errkind.Wrap(errkind.Internal, err, "memory undecryptable")
		}
		var summary []byte
		if len(m.Summary) > 0 {
			if summary, err = decrypt(m.Summary, s.key); err != nil {
				return nil, errkind.Wrap(errkind.Internal, err, "memory summary undecryptable")
			}
		}

		importance := clamp(m.Importance + s.opts.AccessNudge)
		if err := s.store.UpdateMemory(ctx, &store.UpdateMemory{
			ID:          m.ID,
			UserID:      m.UserID,
			Importance:  &importance,
			AccessedTs:  &nowMs,
			AccessDelta: 1,
		}); err != nil {
			return nil, err
		}

		out = append(out, &Retrieved{
			ID:         m.ID,
			Content:    string(content),
			Summary:    string(summary),
			Type:       m.Type,
			Tags:       m.Tags,
			Importance: importance,
			Similarity: match.Similarity,
			CreatedTs:  m.CreatedTs,
		})
	}
	return out, nil
}

// Decay applies one decay pass over a user's memories. Recently accessed
// records decay slower through the access normalizer.
func (s *Service) Decay(ctx context.Context, userID string) (int, error) {
	memories, err := s.store.ListMemories(ctx, &store.FindMemory{UserID: &userID})
	if err != nil {
		return 0, err
	}
	updated := 0
	for _, m := range memories {
		normalizer := math.Min(1, float64(m.AccessCount)/10)
		importance := clamp(m.Importance * s.opts.DecayFactor * (1 + 0.1*normalizer))
		if importance == m.Importance {
			continue
		}
		if err := s.store.UpdateMemory(ctx, &store.UpdateMemory{
			ID:         m.ID,
			UserID:     m.UserID,
			Importance: &importance,
		}); err != nil {
			return updated, err
		}
		updated++
	}
	return updated, nil
}

// Cleanup deletes a user's memories whose importance fell below the
// floor.
func (s *Service) Cleanup(ctx context.Context, userID string) (int64, error) {
	deleted, err := s.store.DeleteMemory(ctx, &store.DeleteMemory{
		UserID:          &userID,
		ImportanceBelow: &s.opts.MinImportance,
	})
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		slog.Info("memory cleanup", "user", userID, "deleted", deleted)
	}
	return deleted, nil
}

// Forget removes a single memory owned by the user.
func (s *Service) Forget(ctx context.Context, userID, id string) error {
	n, err := s.store.DeleteMemory(ctx, &store.DeleteMemory{ID: &id, UserID: &userID})
	if err != nil {
		return err
	}
	if n == 0 {
		return errkind.New(errkind.NotFound, "memory not found")
	}
	return nil
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
