package hub

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacks-network/gaia-hub/drivers"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestCache(t *testing.T, driver *drivers.MemoryDriver) *AuthTimestampCache {
	t.Helper()
	cache, err := NewAuthTimestampCache(driver, testLogger(), 16)
	require.NoError(t, err)
	t.Cleanup(cache.Close)
	return cache
}

func TestAuthTimestampDefaultsToZero(t *testing.T) {
	cache := newTestCache(t, drivers.NewMemoryDriver("http://read.local/", 10))

	ts, err := cache.GetAuthTimestamp(context.Background(), "1NeverRevoked")
	require.NoError(t, err)
	assert.Equal(t, int64(0), ts)
}

func TestAuthTimestampSetAndGet(t *testing.T) {
	driver := drivers.NewMemoryDriver("http://read.local/", 10)
	cache := newTestCache(t, driver)
	ctx := context.Background()

	require.NoError(t, cache.SetAuthTimestamp(ctx, "1Addr", 1000))
	ts, err := cache.GetAuthTimestamp(ctx, "1Addr")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), ts)

	// A fresh cache instance over the same driver sees the persisted value.
	cache2 := newTestCache(t, driver)
	ts, err = cache2.GetAuthTimestamp(ctx, "1Addr")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), ts)
}

func TestAuthTimestampMonotone(t *testing.T) {
	cache := newTestCache(t, drivers.NewMemoryDriver("http://read.local/", 10))
	ctx := context.Background()

	require.NoError(t, cache.SetAuthTimestamp(ctx, "1Addr", 2000))
	// A lower bump never lowers the watermark.
	require.NoError(t, cache.SetAuthTimestamp(ctx, "1Addr", 1500))

	ts, err := cache.GetAuthTimestamp(ctx, "1Addr")
	require.NoError(t, err)
	assert.Equal(t, int64(2000), ts)
}

func TestAuthTimestampConcurrentBumps(t *testing.T) {
	cache := newTestCache(t, drivers.NewMemoryDriver("http://read.local/", 10))
	ctx := context.Background()

	const bumps = 50
	var wg sync.WaitGroup
	for i := 1; i <= bumps; i++ {
		wg.Add(1)
		go func(ts int64) {
			defer wg.Done()
			assert.NoError(t, cache.SetAuthTimestamp(ctx, "1Addr", ts))
		}(int64(i))
	}
	wg.Wait()

	ts, err := cache.GetAuthTimestamp(ctx, "1Addr")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, ts, int64(1))
	assert.LessOrEqual(t, ts, int64(bumps))

	// Once the dust settles, a strictly newer bump always lands.
	require.NoError(t, cache.SetAuthTimestamp(ctx, "1Addr", bumps+1))
	ts, err = cache.GetAuthTimestamp(ctx, "1Addr")
	require.NoError(t, err)
	assert.Equal(t, int64(bumps+1), ts)
}

func TestAuthTimestampNamespaceIsolation(t *testing.T) {
	driver := drivers.NewMemoryDriver("http://read.local/", 10)
	cache := newTestCache(t, driver)
	ctx := context.Background()

	require.NoError(t, cache.SetAuthTimestamp(ctx, "1AddrA", 111))

	ts, err := cache.GetAuthTimestamp(ctx, "1AddrB")
	require.NoError(t, err)
	assert.Equal(t, int64(0), ts)

	// The watermark lives in the -auth namespace, not the object bucket.
	_, err = driver.PerformRead(ctx, "1AddrA-auth", "authTimestamp")
	assert.NoError(t, err)
}
