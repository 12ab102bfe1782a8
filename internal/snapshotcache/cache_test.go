package snapshotcache_test

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martingalian/ladder-engine/internal/snapshotcache"
	ladtesting "github.com/martingalian/ladder-engine/internal/testing"
)

type balanceSnapshot struct {
	Wallet    string
	Available string
}

func newTestCache(t *testing.T) *snapshotcache.Cache {
	db, cleanup := ladtesting.NewTestDB(t, "cache")
	t.Cleanup(cleanup)
	return snapshotcache.New(db.Conn(), zerolog.Nop())
}

func TestCache_SetThenGetRoundTrips(t *testing.T) {
	c := newTestCache(t)
	start := time.Now().Add(-time.Second)

	require.NoError(t, c.Set(1, snapshotcache.KeyAccountBalance, balanceSnapshot{Wallet: "1000", Available: "950"}, 0))

	var out balanceSnapshot
	require.NoError(t, c.Get(1, snapshotcache.KeyAccountBalance, start, &out))
	assert.Equal(t, "1000", out.Wallet)
	assert.Equal(t, "950", out.Available)
}

func TestCache_GetMissWhenNeverSet(t *testing.T) {
	c := newTestCache(t)
	var out balanceSnapshot
	err := c.Get(1, snapshotcache.KeyAccountBalance, time.Now(), &out)
	assert.ErrorIs(t, err, snapshotcache.ErrMiss)
}

func TestCache_GetMissWhenExpired(t *testing.T) {
	c := newTestCache(t)
	require.NoError(t, c.Set(1, snapshotcache.KeyOpenOrders, balanceSnapshot{Wallet: "x"}, time.Nanosecond))

	time.Sleep(5 * time.Millisecond)

	var out balanceSnapshot
	err := c.Get(1, snapshotcache.KeyOpenOrders, time.Now().Add(-time.Hour), &out)
	assert.ErrorIs(t, err, snapshotcache.ErrMiss)
}

func TestCache_GetMissWhenOlderThanRequiredAfter(t *testing.T) {
	c := newTestCache(t)
	require.NoError(t, c.Set(1, snapshotcache.KeyAccountPositions, balanceSnapshot{Wallet: "x"}, time.Minute))

	// Simulate a workflow that started after the snapshot was written —
	// the reader must not accept a snapshot older than its own start.
	future := time.Now().Add(time.Hour)

	var out balanceSnapshot
	err := c.Get(1, snapshotcache.KeyAccountPositions, future, &out)
	assert.ErrorIs(t, err, snapshotcache.ErrMiss)
}

func TestCache_SetOverwritesPreviousValue(t *testing.T) {
	c := newTestCache(t)
	start := time.Now().Add(-time.Second)

	require.NoError(t, c.Set(1, snapshotcache.KeyAccountBalance, balanceSnapshot{Wallet: "1000"}, time.Minute))
	require.NoError(t, c.Set(1, snapshotcache.KeyAccountBalance, balanceSnapshot{Wallet: "2000"}, time.Minute))

	var out balanceSnapshot
	require.NoError(t, c.Get(1, snapshotcache.KeyAccountBalance, start, &out))
	assert.Equal(t, "2000", out.Wallet)
}

func TestCache_PurgeRemovesOnlyExpired(t *testing.T) {
	c := newTestCache(t)
	require.NoError(t, c.Set(1, snapshotcache.KeyAccountBalance, balanceSnapshot{Wallet: "stale"}, time.Nanosecond))
	require.NoError(t, c.Set(2, snapshotcache.KeyAccountBalance, balanceSnapshot{Wallet: "fresh"}, time.Minute))

	time.Sleep(5 * time.Millisecond)

	n, err := c.Purge()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	var out balanceSnapshot
	require.NoError(t, c.Get(2, snapshotcache.KeyAccountBalance, time.Now().Add(-time.Minute), &out))
	assert.Equal(t, "fresh", out.Wallet)
}
