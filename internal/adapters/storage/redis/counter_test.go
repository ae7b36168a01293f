package redis

import (
	"context"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestOrderIDCounter_StartsAtConfiguredID(t *testing.T) {
	_, rdb := newTestClient(t)
	ctx := context.Background()

	c, err := NewOrderIDCounter(ctx, rdb, "payments:order_id", 2500)
	require.NoError(t, err)

	for want := int64(2500); want < 2505; want++ {
		got, err := c.NextOrderID(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestOrderIDCounter_ResumesExistingSequence(t *testing.T) {
	mr, rdb := newTestClient(t)
	require.NoError(t, mr.Set("payments:order_id", "9000"))

	c, err := NewOrderIDCounter(context.Background(), rdb, "payments:order_id", 2500)
	require.NoError(t, err)

	got, err := c.NextOrderID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(9001), got)
}

func TestOrderIDCounter_ConcurrentCallersGetUniqueIDs(t *testing.T) {
	_, rdb := newTestClient(t)
	ctx := context.Background()

	c, err := NewOrderIDCounter(ctx, rdb, "k", 1)
	require.NoError(t, err)

	const callers, perCaller = 8, 50
	var (
		mu   sync.Mutex
		seen = make(map[int64]bool)
		wg   sync.WaitGroup
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perCaller; j++ {
				id, err := c.NextOrderID(ctx)
				if err != nil {
					t.Error(err)
					return
				}
				mu.Lock()
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, callers*perCaller)
}

func TestOrderIDCounter_ServerDown(t *testing.T) {
	mr, rdb := newTestClient(t)
	c, err := NewOrderIDCounter(context.Background(), rdb, "k", 1)
	require.NoError(t, err)

	mr.Close()
	_, err = c.NextOrderID(context.Background())
	assert.Error(t, err)
}

func TestNewClient(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()

	rdb, err := NewClient(context.Background(), addr)
	require.NoError(t, err)
	assert.NoError(t, rdb.Close())

	mr.Close()
	_, err = NewClient(context.Background(), addr)
	assert.Error(t, err)
}
