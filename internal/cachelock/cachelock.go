// Package cachelock provides the short-TTL cache, distributed lock, and
// atomic counter primitives the dispatcher uses to coordinate single-flight
// sync families across worker processes. Generalized from a plain
// expiring key/value cache to add atomic TryAcquire/Release locking and
// Incr/Decr counters, all backed by the same ops.db table family.
package cachelock

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"
)

// Cache provides short-TTL key-value storage for read-path caching.
type Cache struct {
	db *sql.DB
}

// NewCache wraps a *sql.DB positioned at the ops database.
func NewCache(db *sql.DB) *Cache { return &Cache{db: db} }

// SetJSON stores value as JSON with an absolute expiration time.
func (c *Cache) SetJSON(ctx context.Context, key string, value interface{}, expiresAt time.Time) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	_, err = c.db.ExecContext(ctx, `
		INSERT INTO cache (key, value, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at
	`, key, string(data), expiresAt.Unix())
	return err
}

// GetJSON retrieves a cached value into dest. Returns (false, nil) if the
// key is missing or has expired.
func (c *Cache) GetJSON(ctx context.Context, key string, dest interface{}) (bool, error) {
	var value string
	var expiresAt int64
	err := c.db.QueryRowContext(ctx, `SELECT value, expires_at FROM cache WHERE key = ?`, key).Scan(&value, &expiresAt)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if time.Now().Unix() >= expiresAt {
		return false, nil
	}
	if err := json.Unmarshal([]byte(value), dest); err != nil {
		return false, err
	}
	return true, nil
}

// Delete removes a cache entry.
func (c *Cache) Delete(ctx context.Context, key string) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM cache WHERE key = ?`, key)
	return err
}

// Locker provides TTL-bounded distributed mutexes over the locks table. A
// dead holder cannot wedge a sync family because locks always carry an
// expiration (§5), stored as Unix milliseconds.
type Locker struct {
	db *sql.DB
}

// NewLocker wraps a *sql.DB positioned at the ops database.
func NewLocker(db *sql.DB) *Locker { return &Locker{db: db} }

// TryAcquire attempts to take the named lock for ttl, identified by holder.
// Returns true if acquired (either the key was free, or its previous holder's
// TTL had expired); false if another holder currently holds it.
func (l *Locker) TryAcquire(ctx context.Context, key, holder string, ttl time.Duration) (bool, error) {
	now := time.Now()
	expiresAt := now.Add(ttl).UnixMilli()

	res, err := l.db.ExecContext(ctx, `
		INSERT INTO locks (key, holder, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET holder = excluded.holder, expires_at = excluded.expires_at
		WHERE locks.expires_at < ?
	`, key, holder, expiresAt, now.UnixMilli())
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// Held reports whether a lock is currently held (not expired).
func (l *Locker) Held(ctx context.Context, key string) (bool, error) {
	var expiresAt int64
	err := l.db.QueryRowContext(ctx, `SELECT expires_at FROM locks WHERE key = ?`, key).Scan(&expiresAt)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return time.Now().UnixMilli() < expiresAt, nil
}

// Release removes a lock unconditionally. Callers should only release locks
// they believe they hold; TTL expiry is the backstop against a dead holder.
func (l *Locker) Release(ctx context.Context, key string) error {
	_, err := l.db.ExecContext(ctx, `DELETE FROM locks WHERE key = ?`, key)
	return err
}

// Counter provides atomic increment/decrement over the counters table,
// used to track in-flight messages for a sync family (§4.2, §4.10).
type Counter struct {
	db *sql.DB
}

// NewCounter wraps a *sql.DB positioned at the ops database.
func NewCounter(db *sql.DB) *Counter { return &Counter{db: db} }

// Incr atomically increments the named counter by delta (creating it at 0
// first if absent) and returns the new value.
func (c *Counter) Incr(ctx context.Context, key string, delta int) (int, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO counters (key, value) VALUES (?, 0)`, key); err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE counters SET value = value + ? WHERE key = ?`, delta, key); err != nil {
		return 0, err
	}

	var value int
	if err := tx.QueryRowContext(ctx, `SELECT value FROM counters WHERE key = ?`, key).Scan(&value); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return value, nil
}

// Get returns the current value of a counter, 0 if it does not exist.
func (c *Counter) Get(ctx context.Context, key string) (int, error) {
	var value int
	err := c.db.QueryRowContext(ctx, `SELECT value FROM counters WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return value, err
}

// Reset deletes a counter's row, returning it to its implicit zero state.
func (c *Counter) Reset(ctx context.Context, key string) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM counters WHERE key = ?`, key)
	return err
}
