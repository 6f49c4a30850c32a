package redisclient

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("Integration test - requires redis")
	}
	c, err := NewClient(addr, "", 15, time.Minute)
	require.NoError(t, err)
	require.NoError(t, c.GetClient().FlushDB(context.Background()).Err())
	t.Cleanup(func() { c.Close() })
	return c
}

func TestSetStockKeepsNewestMovement(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	_, ok, err := c.GetStock(ctx, 1, 1)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.SetStock(ctx, 1, 1, 10, 5))
	require.NoError(t, c.SetStock(ctx, 1, 1, 12, 3))
	require.NoError(t, c.SetStock(ctx, 1, 1, 99, 0))

	q, ok, err := c.GetStock(ctx, 1, 1)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 10, q)

	require.NoError(t, c.SetStock(ctx, 1, 1, 4, 6))
	q, _, err = c.GetStock(ctx, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, 4, q)
}

func TestSeedFillsEmptyEntry(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, c.SetStock(ctx, 1, 2, 7, 0))
	q, ok, err := c.GetStock(ctx, 1, 2)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 7, q)

	require.NoError(t, c.InvalidateStock(ctx, 1, 2))
	_, ok, err = c.GetStock(ctx, 1, 2)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLockIsExclusive(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	token, ok, err := c.AcquireLock(ctx, "reconcile", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = c.AcquireLock(ctx, "reconcile", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	// a stale token cannot release someone else's lock
	require.NoError(t, c.ReleaseLock(ctx, "reconcile", "not-the-owner"))
	_, ok, err = c.AcquireLock(ctx, "reconcile", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.ReleaseLock(ctx, "reconcile", token))
	_, ok, err = c.AcquireLock(ctx, "reconcile", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}
