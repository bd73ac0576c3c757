package cache

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/hrygo/valet/ports"
)

// L2 is the on-disk cache tier, a small key-value table in its own
// SQLite file so cold reads never contend with the relational store.
type L2 struct {
	db    *sql.DB
	clock ports.Clock
}

// NewL2 opens (or creates) the cache database at path.
func NewL2(path string, clock ports.Clock) (*L2, error) {
	if clock == nil {
		clock = ports.SystemClock{}
	}
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open cache db: %s", path)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		expires_at INTEGER NOT NULL
	)`); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to create kv table")
	}
	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_kv_expires ON kv(expires_at)`); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to create kv index")
	}
	return &L2{db: db, clock: clock}, nil
}

func (l *L2) Close() error {
	return l.db.Close()
}

// Get returns the value and its remaining TTL. A row whose expiry is at
// or before now is deleted and reported as a miss.
func (l *L2) Get(ctx context.Context, key string) ([]byte, time.Duration, bool, error) {
	var value []byte
	var expiresAt int64
	err := l.db.QueryRowContext(ctx,
		"SELECT value, expires_at FROM kv WHERE key = ?", key,
	).Scan(&value, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, 0, false, nil
	}
	if err != nil {
		return nil, 0, false, errors.Wrap(err, "failed to read cache row")
	}

	nowMs := l.clock.Now().UnixMilli()
	if expiresAt <= nowMs {
		_, _ = l.db.ExecContext(ctx, "DELETE FROM kv WHERE key = ?", key)
		return nil, 0, false, nil
	}
	return value, time.Duration(expiresAt-nowMs) * time.Millisecond, true, nil
}

// Set writes the value with the given TTL, replacing any existing row.
func (l *L2) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	expiresAt := l.clock.Now().Add(ttl).UnixMilli()
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO kv (key, value, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		key, value, expiresAt,
	)
	return errors.Wrap(err, "failed to write cache row")
}

// Remove deletes a single key.
func (l *L2) Remove(ctx context.Context, key string) error {
	_, err := l.db.ExecContext(ctx, "DELETE FROM kv WHERE key = ?", key)
	return errors.Wrap(err, "failed to delete cache row")
}

// RemovePrefix deletes every key under the given prefix. Keys are
// namespace-prefixed hex digests, so the prefix never carries LIKE
// metacharacters.
func (l *L2) RemovePrefix(ctx context.Context, prefix string) (int64, error) {
	res, err := l.db.ExecContext(ctx, "DELETE FROM kv WHERE key LIKE ?", prefix+"%")
	if err != nil {
		return 0, errors.Wrap(err, "failed to delete cache prefix")
	}
	return res.RowsAffected()
}

// CleanupExpired deletes rows whose expiry has passed and returns the
// number removed.
func (l *L2) CleanupExpired(ctx context.Context) (int64, error) {
	res, err := l.db.ExecContext(ctx,
		"DELETE FROM kv WHERE expires_at <= ?", l.clock.Now().UnixMilli())
	if err != nil {
		return 0, errors.Wrap(err, "failed to sweep cache")
	}
	return res.RowsAffected()
}
