// Package snapshotcache is the per-account cache of recent exchange query
// results (SPEC_FULL §3 "ApiSnapshot", component I): written by query jobs,
// read by downstream jobs in the same workflow, keyed by (account, key)
// with a short TTL. Payloads are msgpack-encoded to the cache database's
// BLOB column, mirroring the teacher's use of vmihailenco/msgpack for
// compact inter-job payloads.
package snapshotcache

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// Well-known cache keys (SPEC_FULL §3).
const (
	KeyAccountPositions = "account-positions"
	KeyAccountBalance   = "account-balance"
	KeyOpenOrders       = "open-orders"
)

// DefaultTTL is the snapshot lifetime when a caller doesn't override it
// (SPEC_FULL §3 "TTL short (seconds)").
const DefaultTTL = 5 * time.Second

// Cache persists ApiSnapshot rows in the cache database.
type Cache struct {
	db  *sql.DB
	log zerolog.Logger
}

// New builds a Cache bound to the cache database connection.
func New(db *sql.DB, log zerolog.Logger) *Cache {
	return &Cache{db: db, log: log.With().Str("component", "snapshotcache").Logger()}
}

// Set msgpack-encodes value and stores it under (accountID, key) with a
// fresh expires_at = now + ttl. A later Set for the same key overwrites —
// one row per (account, key), matching the schema's primary key.
func (c *Cache) Set(accountID int64, key string, value interface{}, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	payload, err := msgpack.Marshal(value)
	if err != nil {
		return fmt.Errorf("snapshotcache: marshal %s for account %d: %w", key, accountID, err)
	}
	// Millisecond layout matching SQLite's strftime('%Y-%m-%dT%H:%M:%fZ'), so
	// Purge's text comparison against "now" orders correctly within a second.
	expiresAt := time.Now().Add(ttl).UTC().Format("2006-01-02T15:04:05.000Z")

	_, err = c.db.Exec(`INSERT INTO api_snapshots (account_id, cache_key, payload, expires_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(account_id, cache_key) DO UPDATE SET payload = excluded.payload, expires_at = excluded.expires_at,
			created_at = strftime('%Y-%m-%dT%H:%M:%fZ','now')`,
		accountID, key, payload, expiresAt)
	if err != nil {
		return fmt.Errorf("snapshotcache: set %s for account %d: %w", key, accountID, err)
	}
	return nil
}

// ErrMiss is returned when no snapshot exists, or the freshest one is
// older than the caller's requiredAfter cutoff (SPEC_FULL §5 "readers
// choose the freshest snapshot newer than their workflow start").
var ErrMiss = fmt.Errorf("snapshotcache: miss")

// Get loads and msgpack-decodes the snapshot for (accountID, key) into out
// (a pointer), provided it is still unexpired and was created at or after
// requiredAfter. requiredAfter is typically the workflow's start time, so
// a job never reads a snapshot staler than its own run.
func (c *Cache) Get(accountID int64, key string, requiredAfter time.Time, out interface{}) error {
	var payload []byte
	var expiresAt, createdAt string
	row := c.db.QueryRow(`SELECT payload, expires_at, created_at FROM api_snapshots WHERE account_id = ? AND cache_key = ?`,
		accountID, key)
	if err := row.Scan(&payload, &expiresAt, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return ErrMiss
		}
		return fmt.Errorf("snapshotcache: get %s for account %d: %w", key, accountID, err)
	}

	expiry, err := time.Parse(time.RFC3339, expiresAt)
	if err != nil {
		return fmt.Errorf("snapshotcache: parse expires_at for %s/%d: %w", key, accountID, err)
	}
	if time.Now().After(expiry) {
		return ErrMiss
	}

	created, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return fmt.Errorf("snapshotcache: parse created_at for %s/%d: %w", key, accountID, err)
	}
	if created.Before(requiredAfter) {
		return ErrMiss
	}

	if err := msgpack.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("snapshotcache: unmarshal %s for account %d: %w", key, accountID, err)
	}
	return nil
}

// Purge deletes every expired snapshot (SPEC_FULL §3 "TTL short"). No
// scheduler or dispatcher calls it; Get already treats an expired row as a
// miss.
func (c *Cache) Purge() (int64, error) {
	res, err := c.db.Exec(`DELETE FROM api_snapshots WHERE expires_at < strftime('%Y-%m-%dT%H:%M:%fZ','now')`)
	if err != nil {
		return 0, fmt.Errorf("snapshotcache: purge: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("snapshotcache: purge: %w", err)
	}
	return n, nil
}
