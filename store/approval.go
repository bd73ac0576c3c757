package store

// ApprovalState is the lifecycle state of an approval request. Exactly
// one transition out of PENDING is permitted.
type ApprovalState string

const (
	ApprovalPending   ApprovalState = "PENDING"
	ApprovalApproved  ApprovalState = "APPROVED"
	ApprovalDenied    ApprovalState = "DENIED"
	ApprovalCancelled ApprovalState = "CANCELLED"
	ApprovalExpired   ApprovalState = "EXPIRED"
)

// Terminal reports whether the state admits no further transitions.
func (s ApprovalState) Terminal() bool {
	return s != ApprovalPending
}

// ApprovalRequest is a persisted side-effecting command awaiting human
// confirmation. Intent holds the serialized CommandIntent; Result records
// the executor outcome after an Approve decision.
type ApprovalRequest struct {
	ID        string
	UserID    string
	Intent    []byte // JSON-encoded command intent
	State     ApprovalState
	Result    string
	Attempts  int
	CreatedTs int64 // unix milliseconds
	DecidedTs int64 // zero until decided
	ExpiresTs int64
}

// FindApproval specifies the conditions for finding approval requests.
type FindApproval struct {
	ID     *string
	UserID *string
	State  *ApprovalState
	Limit  int
}

// DecideApproval transitions one PENDING request into a terminal state.
// The driver applies it conditionally: a request that is no longer
// pending is left untouched and reported back so the service can return
// Conflict.
type DecideApproval struct {
	ID        string
	UserID    string
	State     ApprovalState
	Result    string
	DecidedTs int64
}
