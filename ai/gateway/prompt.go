package gateway

import (
	"sort"
	"strings"

	"github.com/hrygo/valet/ports"
)

// MemorySnippet is one retrieved memory rendered into the prompt.
type MemorySnippet struct {
	Text       string
	Similarity float64
}

// PromptBuilder assembles the final message list: system preamble,
// retrieved memories as bullet context, truncated history, current turn.
type PromptBuilder struct {
	// Budget is the rough prompt size limit in bytes. Zero means
	// unlimited.
	Budget int
}

// Build trims to budget by dropping the oldest non-system history
// first, then the least similar memories. The current user turn is
// never dropped.
func (b PromptBuilder) Build(system string, memories []MemorySnippet, history []ports.PromptMessage, userTurn string) []ports.PromptMessage {
	memories = append([]MemorySnippet(nil), memories...)
	sort.SliceStable(memories, func(i, j int) bool {
		return memories[i].Similarity > memories[j].Similarity
	})
	history = append([]ports.PromptMessage(nil), history...)

	for {
		messages := assemble(system, memories, history, userTurn)
		if b.Budget <= 0 || size(messages) <= b.Budget {
			return messages
		}
		if i, ok := oldestTrimmable(history); ok {
			history = append(history[:i], history[i+1:]...)
			continue
		}
		if len(memories) > 0 {
			memories = memories[:len(memories)-1]
			continue
		}
		return messages
	}
}

// oldestTrimmable returns the index of the oldest history entry that is
// not a system message.
func oldestTrimmable(history []ports.PromptMessage) (int, bool) {
	for i, m := range history {
		if m.Role != "system" {
			return i, true
		}
	}
	return 0, false
}

func assemble(system string, memories []MemorySnippet, history []ports.PromptMessage, userTurn string) []ports.PromptMessage {
	messages := make([]ports.PromptMessage, 0, len(history)+2)

	sys := system
	if len(memories) > 0 {
		var sb strings.Builder
		sb.WriteString(sys)
		sb.WriteString("\n\nRelevant context about the user:\n")
		for _, m := range memories {
			sb.WriteString("- ")
			sb.WriteString(m.Text)
			sb.WriteString("\n")
		}
		sys = sb.String()
	}
	if sys != "" {
		messages = append(messages, ports.PromptMessage{Role: "system", Content: sys})
	}
	messages = append(messages, history...)
	messages = append(messages, ports.PromptMessage{Role: "user", Content: userTurn})
	return messages
}

func size(messages []ports.PromptMessage) int {
	total := 0
	for _, m := range messages {
		total += len(m.Role) + len(m.Content)
	}
	return total
}
