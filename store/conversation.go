package store

// MaxHistory is the per-conversation message bound. Append evicts the
// oldest messages FIFO within the same transaction that inserts, so the
// bound holds for every committed state.
const MaxHistory = 50

// Conversation is an ordered message list owned by one user.
type Conversation struct {
	ID        string
	UserID    string
	Title     string
	CreatedTs int64 // unix milliseconds
	UpdatedTs int64
}

// Message is one turn in a conversation. Immutable once stored.
type Message struct {
	ID             string
	ConversationID string
	Role           string // user, assistant, system, tool
	Content        string
	TokenCount     int
	CreatedTs      int64 // unix milliseconds
}

// FindConversation specifies the conditions for finding conversations.
type FindConversation struct {
	ID     *string
	UserID *string
	Limit  int
	Offset int
}

// DeleteConversation removes a conversation and its messages.
type DeleteConversation struct {
	ID     string
	UserID string
}
