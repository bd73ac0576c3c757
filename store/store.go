// Package store provides database access to all persisted objects.
package store

import (
	"context"
	"sync"

	"github.com/hrygo/valet/internal/profile"
)

// Store provides database access to all raw objects.
type Store struct {
	profile *profile.Profile
	driver  Driver

	// Per-conversation append locks. Appends to one conversation are
	// totally ordered; across conversations there is no ordering.
	convLocks sync.Map // conversation id -> *sync.Mutex
}

// New creates a new instance of Store.
func New(driver Driver, profile *profile.Profile) *Store {
	return &Store{
		driver:  driver,
		profile: profile,
	}
}

func (s *Store) GetDriver() Driver {
	return s.driver
}

func (s *Store) Migrate(ctx context.Context) error {
	return s.driver.Migrate(ctx)
}

func (s *Store) Close() error {
	return s.driver.Close()
}

func (s *Store) UpsertUser(ctx context.Context, user *User) (*User, error) {
	return s.driver.UpsertUser(ctx, user)
}

func (s *Store) GetUser(ctx context.Context, id string) (*User, error) {
	return s.driver.GetUser(ctx, id)
}

func (s *Store) CreateConversation(ctx context.Context, create *Conversation) (*Conversation, error) {
	return s.driver.CreateConversation(ctx, create)
}

func (s *Store) ListConversations(ctx context.Context, find *FindConversation) ([]*Conversation, error) {
	return s.driver.ListConversations(ctx, find)
}

func (s *Store) DeleteConversation(ctx context.Context, delete *DeleteConversation) error {
	s.convLocks.Delete(delete.ID)
	return s.driver.DeleteConversation(ctx, delete)
}

// AppendMessage serializes appends per conversation and enforces the
// MaxHistory FIFO bound inside the driver transaction.
func (s *Store) AppendMessage(ctx context.Context, message *Message) error {
	muAny, _ := s.convLocks.LoadOrStore(message.ConversationID, &sync.Mutex{})
	mu := muAny.(*sync.Mutex)
	mu.Lock()
	defer mu.Unlock()
	return s.driver.AppendMessage(ctx, message, MaxHistory)
}

func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]*Message, error) {
	return s.driver.ListMessages(ctx, conversationID)
}

func (s *Store) CreateApproval(ctx context.Context, create *ApprovalRequest) (*ApprovalRequest, error) {
	return s.driver.CreateApproval(ctx, create)
}

func (s *Store) ListApprovals(ctx context.Context, find *FindApproval) ([]*ApprovalRequest, error) {
	return s.driver.ListApprovals(ctx, find)
}

func (s *Store) DecideApproval(ctx context.Context, decide *DecideApproval) (*ApprovalRequest, bool, error) {
	return s.driver.DecideApproval(ctx, decide)
}

func (s *Store) SetApprovalResult(ctx context.Context, id string, result string) error {
	return s.driver.SetApprovalResult(ctx, id, result)
}

func (s *Store) ExpireApprovals(ctx context.Context, nowMs int64) (int64, error) {
	return s.driver.ExpireApprovals(ctx, nowMs)
}

func (s *Store) CreateMemory(ctx context.Context, create *Memory) (*Memory, error) {
	return s.driver.CreateMemory(ctx, create)
}

func (s *Store) ListMemories(ctx context.Context, find *FindMemory) ([]*Memory, error) {
	return s.driver.ListMemories(ctx, find)
}

func (s *Store) UpdateMemory(ctx context.Context, update *UpdateMemory) error {
	return s.driver.UpdateMemory(ctx, update)
}

func (s *Store) DeleteMemory(ctx context.Context, delete *DeleteMemory) (int64, error) {
	return s.driver.DeleteMemory(ctx, delete)
}

func (s *Store) SearchMemories(ctx context.Context, userID string, vec []float32, limit int) ([]*MemoryMatch, error) {
	return s.driver.SearchMemories(ctx, userID, vec, limit)
}

func (s *Store) CreateReminder(ctx context.Context, create *Reminder) (*Reminder, error) {
	return s.driver.CreateReminder(ctx, create)
}

func (s *Store) ListReminders(ctx context.Context, find *FindReminder) ([]*Reminder, error) {
	return s.driver.ListReminders(ctx, find)
}

func (s *Store) UpdateReminder(ctx context.Context, update *UpdateReminder) error {
	return s.driver.UpdateReminder(ctx, update)
}

func (s *Store) ClaimDueReminders(ctx context.Context, nowMs int64) ([]*Reminder, error) {
	return s.driver.ClaimDueReminders(ctx, nowMs)
}
