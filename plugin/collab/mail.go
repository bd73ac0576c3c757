package collab

import (
	"context"
	"sync"

	"github.com/hrygo/valet/internal/errkind"
	"github.com/hrygo/valet/internal/idgen"
	"github.com/hrygo/valet/ports"
)

// InMemoryMail is a per-process mailbox. Drafts survive until sent;
// nothing leaves the process.
type InMemoryMail struct {
	mu      sync.Mutex
	inbox   map[ports.UserID][]ports.MailMessage
	drafts  map[string]ports.MailDraft
	sentLog []string
}

func NewInMemoryMail() *InMemoryMail {
	return &InMemoryMail{
		inbox:  make(map[ports.UserID][]ports.MailMessage),
		drafts: make(map[string]ports.MailDraft),
	}
}

// Deliver seeds an inbound message, newest first.
func (m *InMemoryMail) Deliver(principal ports.UserID, msg ports.MailMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inbox[principal] = append([]ports.MailMessage{msg}, m.inbox[principal]...)
}

func (m *InMemoryMail) ListRecent(_ context.Context, principal ports.UserID, count int) ([]ports.MailMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	messages := m.inbox[principal]
	if count > 0 && count < len(messages) {
		messages = messages[:count]
	}
	out := make([]ports.MailMessage, len(messages))
	copy(out, messages)
	return out, nil
}

func (m *InMemoryMail) Draft(_ context.Context, _ ports.UserID, draft ports.MailDraft) (string, error) {
	if draft.To == "" {
		return "", errkind.New(errkind.Validation, "draft needs a recipient")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	id := idgen.NewShort()
	m.drafts[id] = draft
	return id, nil
}

func (m *InMemoryMail) Send(_ context.Context, _ ports.UserID, draftID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.drafts[draftID]; !ok {
		return errkind.Newf(errkind.NotFound, "draft %q not found", draftID)
	}
	delete(m.drafts, draftID)
	m.sentLog = append(m.sentLog, draftID)
	return nil
}
