package store

// User is a provisioned principal. Users are never hard-deleted; RowStatus
// flips to ARCHIVED instead so owned rows keep a valid owner.
type User struct {
	ID          string
	DisplayName string
	RowStatus   RowStatus
	CreatedTs   int64 // unix milliseconds
}

// RowStatus is the soft-deletion marker.
type RowStatus string

const (
	Normal   RowStatus = "NORMAL"
	Archived RowStatus = "ARCHIVED"
)

// FindUser specifies the conditions for finding users.
type FindUser struct {
	ID        *string
	RowStatus *RowStatus
}
