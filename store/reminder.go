package store

// ReminderState is the lifecycle state of a reminder.
type ReminderState string

const (
	ReminderPending      ReminderState = "PENDING"
	ReminderSent         ReminderState = "SENT"
	ReminderAcknowledged ReminderState = "ACKNOWLEDGED"
	ReminderExpired      ReminderState = "EXPIRED"
	ReminderDeleted      ReminderState = "DELETED"
)

// ReminderSource distinguishes user-created reminders from ones derived
// from synced calendar events.
type ReminderSource string

const (
	SourceUser     ReminderSource = "USER"
	SourceCalendar ReminderSource = "CALENDAR"
)

// Reminder is a scheduled notification. For calendar-derived reminders
// (EventID, LeadMs) is unique per user — the sync loop relies on that to
// stay idempotent.
type Reminder struct {
	ID          string
	UserID      string
	Source      ReminderSource
	EventID     string // empty for user-created
	LeadMs      int64
	FireAt      int64 // unix milliseconds
	Text        string
	Location    string
	State       ReminderState
	SnoozeCount int
	MaxSnooze   int
	Attempts    int
	CreatedTs   int64
	UpdatedTs   int64
}

// FindReminder specifies the conditions for finding reminders.
type FindReminder struct {
	ID      *string
	UserID  *string
	State   *ReminderState
	EventID *string
	LeadMs  *int64
	Limit   int
}

// UpdateReminder applies partial updates to one reminder row.
type UpdateReminder struct {
	ID          string
	State       *ReminderState
	FireAt      *int64
	SnoozeCount *int
	Attempts    *int
	UpdatedTs   int64
}
