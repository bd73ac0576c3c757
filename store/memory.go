package store

// MemoryType categorizes a long-term memory record.
type MemoryType string

const (
	MemoryFact       MemoryType = "FACT"
	MemoryPreference MemoryType = "PREFERENCE"
	MemoryCorrection MemoryType = "CORRECTION"
	MemoryToolResult MemoryType = "TOOL_RESULT"
	MemoryContext    MemoryType = "CONTEXT"
)

// Memory is an encrypted long-term record. Content and Summary are
// ciphertext (nonce prepended); the paired embedding vector is stored
// unencrypted to permit similarity search — a documented trade-off:
// vectors leak topical clustering, not content.
type Memory struct {
	ID             string
	UserID         string
	ConversationID string
	Content        []byte
	Summary        []byte
	Type           MemoryType
	Importance     float64
	Tags           []string
	Vector         []float32
	CreatedTs      int64 // unix milliseconds
	AccessedTs     int64
	AccessCount    int
}

// MemoryMatch is a memory with its cosine similarity to a query vector.
type MemoryMatch struct {
	Memory     *Memory
	Similarity float64
}

// FindMemory specifies the conditions for finding memories.
type FindMemory struct {
	ID     *string
	UserID *string
	Type   *MemoryType
	Limit  int
}

// UpdateMemory applies partial updates to one memory row.
type UpdateMemory struct {
	ID          string
	UserID      string
	Content     []byte // nil leaves unchanged
	Importance  *float64
	AccessedTs  *int64
	AccessDelta int // added to access_count
}

// DeleteMemory specifies the conditions for deleting memories.
type DeleteMemory struct {
	ID              *string
	UserID          *string
	ImportanceBelow *float64
}
