package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	// Import the PostgreSQL driver.
	_ "github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/hrygo/valet/internal/profile"
	"github.com/hrygo/valet/store"
)

// migrationLockID is the advisory lock key guarding schema migrations.
const migrationLockID = 0x76616c65 // "vale"

// DB is the PostgreSQL store driver. Vector similarity runs in SQL via
// pgvector.
type DB struct {
	db      *sql.DB
	profile *profile.Profile
}

// NewDB opens a PostgreSQL connection pool for the given DSN.
func NewDB(profile *profile.Profile) (store.Driver, error) {
	if profile.DSN == "" {
		return nil, errors.New("dsn required")
	}
	db, err := sql.Open("postgres", profile.DSN)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open db with dsn: %s", profile.DSN)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	return &DB{db: db, profile: profile}, nil
}

func (d *DB) GetDB() *sql.DB {
	return d.db
}

func (d *DB) Close() error {
	return d.db.Close()
}

var schema = []string{
	`CREATE EXTENSION IF NOT EXISTS vector`,
	`CREATE TABLE IF NOT EXISTS "user" (
		id TEXT PRIMARY KEY,
		display_name TEXT NOT NULL DEFAULT '',
		row_status TEXT NOT NULL DEFAULT 'NORMAL',
		created_ts BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS conversation (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		created_ts BIGINT NOT NULL,
		updated_ts BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_conversation_user ON conversation(user_id)`,
	`CREATE TABLE IF NOT EXISTS message (
		seq BIGSERIAL PRIMARY KEY,
		id TEXT NOT NULL UNIQUE,
		conversation_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		token_count INTEGER NOT NULL DEFAULT 0,
		created_ts BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_message_conversation ON message(conversation_id, seq)`,
	`CREATE TABLE IF NOT EXISTS approval (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		intent BYTEA NOT NULL,
		state TEXT NOT NULL DEFAULT 'PENDING',
		result TEXT NOT NULL DEFAULT '',
		attempts INTEGER NOT NULL DEFAULT 0,
		created_ts BIGINT NOT NULL,
		decided_ts BIGINT NOT NULL DEFAULT 0,
		expires_ts BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_approval_user_state ON approval(user_id, state)`,
	`CREATE TABLE IF NOT EXISTS memory (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		conversation_id TEXT NOT NULL DEFAULT '',
		content BYTEA NOT NULL,
		summary BYTEA NOT NULL DEFAULT ''::bytea,
		type TEXT NOT NULL,
		importance DOUBLE PRECISION NOT NULL DEFAULT 0.5,
		tags JSONB NOT NULL DEFAULT '[]',
		vector vector,
		created_ts BIGINT NOT NULL,
		accessed_ts BIGINT NOT NULL,
		access_count INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_memory_user ON memory(user_id)`,
	`CREATE TABLE IF NOT EXISTS reminder (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		source TEXT NOT NULL,
		event_id TEXT NOT NULL DEFAULT '',
		lead_ms BIGINT NOT NULL DEFAULT 0,
		fire_at BIGINT NOT NULL,
		text TEXT NOT NULL,
		location TEXT NOT NULL DEFAULT '',
		state TEXT NOT NULL DEFAULT 'PENDING',
		snooze_count INTEGER NOT NULL DEFAULT 0,
		max_snooze INTEGER NOT NULL DEFAULT 5,
		attempts INTEGER NOT NULL DEFAULT 0,
		created_ts BIGINT NOT NULL,
		updated_ts BIGINT NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_reminder_event
		ON reminder(user_id, event_id, lead_ms) WHERE source = 'CALENDAR'`,
	`CREATE INDEX IF NOT EXISTS idx_reminder_due ON reminder(state, fire_at)`,
}

// Migrate creates the schema under an advisory lock so concurrent
// process starts serialize their DDL.
func (d *DB) Migrate(ctx context.Context) error {
	conn, err := d.db.Conn(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to acquire connection")
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_lock($1)", migrationLockID); err != nil {
		return errors.Wrap(err, "failed to take migration lock")
	}
	defer func() {
		_, _ = conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", migrationLockID)
	}()

	for _, stmt := range schema {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			return errors.Wrapf(err, "migration statement failed: %.60s", stmt)
		}
	}
	return nil
}

func placeholder(n int) string {
	return fmt.Sprintf("$%d", n)
}

func placeholders(n int) string {
	list := make([]string, n)
	for i := range list {
		list[i] = placeholder(i + 1)
	}
	return strings.Join(list, ", ")
}
