package store

import (
	"context"
	"database/sql"
)

// Driver is an interface for store driver. One implementation per
// database engine; the Store facade never touches SQL itself.
type Driver interface {
	GetDB() *sql.DB
	Close() error

	// Migrate creates or upgrades the schema. It runs under an exclusive
	// lock so concurrent process starts cannot interleave migrations.
	Migrate(ctx context.Context) error

	UpsertUser(ctx context.Context, user *User) (*User, error)
	GetUser(ctx context.Context, id string) (*User, error)

	CreateConversation(ctx context.Context, create *Conversation) (*Conversation, error)
	ListConversations(ctx context.Context, find *FindConversation) ([]*Conversation, error)
	DeleteConversation(ctx context.Context, delete *DeleteConversation) error

	// AppendMessage inserts one message and evicts the oldest rows above
	// maxHistory in the same transaction.
	AppendMessage(ctx context.Context, message *Message, maxHistory int) error
	ListMessages(ctx context.Context, conversationID string) ([]*Message, error)

	CreateApproval(ctx context.Context, create *ApprovalRequest) (*ApprovalRequest, error)
	ListApprovals(ctx context.Context, find *FindApproval) ([]*ApprovalRequest, error)
	// DecideApproval applies the transition only if the row is still
	// PENDING; it returns the resulting row and whether the transition
	// was applied.
	DecideApproval(ctx context.Context, decide *DecideApproval) (*ApprovalRequest, bool, error)
	// SetApprovalResult records the executor outcome on an already
	// decided approval.
	SetApprovalResult(ctx context.Context, id string, result string) error
	ExpireApprovals(ctx context.Context, nowMs int64) (int64, error)

	CreateMemory(ctx context.Context, create *Memory) (*Memory, error)
	ListMemories(ctx context.Context, find *FindMemory) ([]*Memory, error)
	UpdateMemory(ctx context.Context, update *UpdateMemory) error
	DeleteMemory(ctx context.Context, delete *DeleteMemory) (int64, error)
	// SearchMemories returns the owner's memories ranked by cosine
	// similarity to vec, best first. Postgres ranks in SQL via pgvector;
	// SQLite ranks in the application layer.
	SearchMemories(ctx context.Context, userID string, vec []float32, limit int) ([]*MemoryMatch, error)

	CreateReminder(ctx context.Context, create *Reminder) (*Reminder, error)
	ListReminders(ctx context.Context, find *FindReminder) ([]*Reminder, error)
	UpdateReminder(ctx context.Context, update *UpdateReminder) error
	// ClaimDueReminders atomically transitions every PENDING reminder with
	// fire_at <= nowMs to SENT and returns the claimed rows. Running it
	// twice at the same instant claims nothing the second time.
	ClaimDueReminders(ctx context.Context, nowMs int64) ([]*Reminder, error)
}
