package sqlite

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	// Import the SQLite driver.
	_ "modernc.org/sqlite"

	"github.com/hrygo/valet/internal/profile"
	"github.com/hrygo/valet/store"
)

// DB is the SQLite store driver. SQLite is the primary engine for
// single-node installs; vector search runs in the application layer.
type DB struct {
	db      *sql.DB
	profile *profile.Profile
}

// NewDB opens the database. Pragmas follow the usual single-writer WAL
// setup: shared-cache off, busy timeout, WAL journal.
//
// Notes:
//   - With the `modernc.org/sqlite` driver each pragma must be prefixed
//     with `_pragma=`.
func NewDB(profile *profile.Profile) (store.Driver, error) {
	if profile.DSN == "" {
		return nil, errors.New("dsn required")
	}

	sqliteDB, err := sql.Open("sqlite", profile.DSN+"?_pragma=foreign_keys(0)&_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open db with dsn: %s", profile.DSN)
	}

	// Single connection is optimal with WAL; local file, no network.
	sqliteDB.SetMaxOpenConns(1)
	sqliteDB.SetMaxIdleConns(1)
	sqliteDB.SetConnMaxLifetime(0)
	sqliteDB.SetConnMaxIdleTime(0)

	return &DB{db: sqliteDB, profile: profile}, nil
}

func (d *DB) GetDB() *sql.DB {
	return d.db
}

func (d *DB) Close() error {
	return d.db.Close()
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS user (
		id TEXT PRIMARY KEY,
		display_name TEXT NOT NULL DEFAULT '',
		row_status TEXT NOT NULL DEFAULT 'NORMAL',
		created_ts INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS conversation (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		created_ts INTEGER NOT NULL,
		updated_ts INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_conversation_user ON conversation(user_id)`,
	`CREATE TABLE IF NOT EXISTS message (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		conversation_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		token_count INTEGER NOT NULL DEFAULT 0,
		created_ts INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_message_conversation ON message(conversation_id, seq)`,
	`CREATE TABLE IF NOT EXISTS approval (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		intent BLOB NOT NULL,
		state TEXT NOT NULL DEFAULT 'PENDING',
		result TEXT NOT NULL DEFAULT '',
		attempts INTEGER NOT NULL DEFAULT 0,
		created_ts INTEGER NOT NULL,
		decided_ts INTEGER NOT NULL DEFAULT 0,
		expires_ts INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_approval_user_state ON approval(user_id, state)`,
	`CREATE TABLE IF NOT EXISTS memory (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		conversation_id TEXT NOT NULL DEFAULT '',
		content BLOB NOT NULL,
		summary BLOB NOT NULL DEFAULT X'',
		type TEXT NOT NULL,
		importance REAL NOT NULL DEFAULT 0.5,
		tags TEXT NOT NULL DEFAULT '[]',
		vector BLOB NOT NULL,
		created_ts INTEGER NOT NULL,
		accessed_ts INTEGER NOT NULL,
		access_count INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_memory_user ON memory(user_id)`,
	`CREATE TABLE IF NOT EXISTS reminder (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		source TEXT NOT NULL,
		event_id TEXT NOT NULL DEFAULT '',
		lead_ms INTEGER NOT NULL DEFAULT 0,
		fire_at INTEGER NOT NULL,
		text TEXT NOT NULL,
		location TEXT NOT NULL DEFAULT '',
		state TEXT NOT NULL DEFAULT 'PENDING',
		snooze_count INTEGER NOT NULL DEFAULT 0,
		max_snooze INTEGER NOT NULL DEFAULT 5,
		attempts INTEGER NOT NULL DEFAULT 0,
		created_ts INTEGER NOT NULL,
		updated_ts INTEGER NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_reminder_event
		ON reminder(user_id, event_id, lead_ms) WHERE source = 'CALENDAR'`,
	`CREATE INDEX IF NOT EXISTS idx_reminder_due ON reminder(state, fire_at)`,
}

// Migrate creates the schema. BEGIN IMMEDIATE takes the write lock up
// front so two process starts cannot interleave DDL.
func (d *DB) Migrate(ctx context.Context) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin migration transaction")
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "SELECT 1"); err != nil {
		return errors.Wrap(err, "database unreachable")
	}
	for _, stmt := range schema {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return errors.Wrapf(err, "migration statement failed: %.60s", stmt)
		}
	}
	return errors.Wrap(tx.Commit(), "failed to commit migration")
}
