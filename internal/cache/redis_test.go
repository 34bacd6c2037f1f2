package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/writingstreak/internal/config"
)

func setupTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	cache, err := InitServer(context.Background(), config.RedisConnection{AddressRedis: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = cache.Close() })
	return cache, mr
}

func TestInitServer_Unreachable(t *testing.T) {
	_, err := InitServer(context.Background(), config.RedisConnection{
		AddressRedis: "127.0.0.1:1",
		DialTimeout:  100 * time.Millisecond,
	})
	require.Error(t, err)
}

func TestLock(t *testing.T) {
	cache, mr := setupTestCache(t)
	ctx := context.Background()

	release, err := cache.Lock(ctx, "billing:lock:acc-1", time.Minute)
	require.NoError(t, err)

	_, err = cache.Lock(ctx, "billing:lock:acc-1", time.Minute)
	require.ErrorIs(t, err, ErrLocked)

	// другой ключ не блокируется
	otherRelease, err := cache.Lock(ctx, "billing:lock:acc-2", time.Minute)
	require.NoError(t, err)
	require.NoError(t, otherRelease(ctx))

	require.NoError(t, release(ctx))
	assert.False(t, mr.Exists("billing:lock:acc-1"))

	_, err = cache.Lock(ctx, "billing:lock:acc-1", time.Minute)
	require.NoError(t, err)
}

func TestLock_ReleaseAfterExpiryDoesNotStealNewOwner(t *testing.T) {
	cache, mr := setupTestCache(t)
	ctx := context.Background()

	staleRelease, err := cache.Lock(ctx, "k", time.Second)
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)

	_, err = cache.Lock(ctx, "k", time.Minute)
	require.NoError(t, err)

	require.NoError(t, staleRelease(ctx))
	assert.True(t, mr.Exists("k"), "stale owner must not remove new owner's lock")
}

func TestLock_Concurrent(t *testing.T) {
	cache, _ := setupTestCache(t)
	ctx := context.Background()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		acquired int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := cache.Lock(ctx, "race", time.Minute); err == nil {
				mu.Lock()
				acquired++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, acquired)
}

func TestMarkOnce(t *testing.T) {
	cache, mr := setupTestCache(t)
	ctx := context.Background()

	first, err := cache.MarkOnce(ctx, "billing:event:evt_1", time.Hour)
	require.NoError(t, err)
	assert.True(t, first)

	again, err := cache.MarkOnce(ctx, "billing:event:evt_1", time.Hour)
	require.NoError(t, err)
	assert.False(t, again)

	mr.FastForward(2 * time.Hour)

	afterTTL, err := cache.MarkOnce(ctx, "billing:event:evt_1", time.Hour)
	require.NoError(t, err)
	assert.True(t, afterTTL)
}

func TestInvalidate(t *testing.T) {
	cache, _ := setupTestCache(t)
	ctx := context.Background()

	_, err := cache.MarkOnce(ctx, "billing:event:evt_2", time.Hour)
	require.NoError(t, err)
	require.NoError(t, cache.Invalidate(ctx, "billing:event:evt_2"))

	first, err := cache.MarkOnce(ctx, "billing:event:evt_2", time.Hour)
	require.NoError(t, err)
	assert.True(t, first)

	require.NoError(t, cache.Invalidate(ctx, "missing"))
}
