package cache_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/kiranshivaraju/licensectl/internal/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedis spins up a Redis container and returns a connected RedisCache + cleanup.
func setupRedis(t *testing.T) *cache.RedisCache {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, container.Terminate(ctx)) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	rc, err := cache.NewRedisCache("redis://" + host + ":" + port.Port())
	require.NoError(t, err)
	t.Cleanup(func() { rc.Close() })

	return rc
}

// setupMiniredis returns a RedisCache backed by an in-process miniredis.
func setupMiniredis(t *testing.T) (*cache.RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rc, err := cache.NewRedisCache("redis://" + mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { rc.Close() })
	return rc, mr
}

// runContract exercises the behaviour every Cache implementation shares.
func runContract(t *testing.T, c cache.Cache) {
	ctx := context.Background()

	t.Run("ping", func(t *testing.T) {
		assert.NoError(t, c.Ping(ctx))
	})

	t.Run("set get roundtrip", func(t *testing.T) {
		require.NoError(t, c.Set(ctx, "test:key", []byte("hello"), 10*time.Second))

		val, found, err := c.Get(ctx, "test:key")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, []byte("hello"), val)
	})

	t.Run("get not found", func(t *testing.T) {
		val, found, err := c.Get(ctx, "nonexistent:key")
		require.NoError(t, err)
		assert.False(t, found)
		assert.Nil(t, val)
	})

	t.Run("zero ttl never expires", func(t *testing.T) {
		require.NoError(t, c.Set(ctx, "session:auth-storage", []byte("{}"), 0))
		_, found, err := c.Get(ctx, "session:auth-storage")
		require.NoError(t, err)
		assert.True(t, found)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, c.Set(ctx, "del:key", []byte("bye"), 10*time.Second))
		require.NoError(t, c.Delete(ctx, "del:key"))

		_, found, err := c.Get(ctx, "del:key")
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("delete non-existent", func(t *testing.T) {
		assert.NoError(t, c.Delete(ctx, "does:not:exist"))
	})

	t.Run("delete prefix", func(t *testing.T) {
		licA := cache.QueryKey(cache.ScopeLicenses, "limit=10&offset=0")
		licB := cache.QueryKey(cache.ScopeLicenses, "limit=10&offset=10")
		keys := cache.QueryKey(cache.ScopeAPIKeys, "")
		for _, k := range []string{licA, licB, keys} {
			require.NoError(t, c.Set(ctx, k, []byte("x"), time.Minute))
		}

		require.NoError(t, c.DeletePrefix(ctx, cache.QueryScopePrefix(cache.ScopeLicenses)))

		for _, k := range []string{licA, licB} {
			_, found, err := c.Get(ctx, k)
			require.NoError(t, err)
			assert.False(t, found, k)
		}
		_, found, err := c.Get(ctx, keys)
		require.NoError(t, err)
		assert.True(t, found)
	})
}

// --- RedisCache (container) ---

func TestRedisCache_Container(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	runContract(t, setupRedis(t))
}

func TestRedisCache_Container_TTLExpiry(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()

	require.NoError(t, rc.Set(ctx, "expiry:key", []byte("temp"), 1*time.Second))

	_, found, err := rc.Get(ctx, "expiry:key")
	require.NoError(t, err)
	assert.True(t, found)

	time.Sleep(1500 * time.Millisecond)

	_, found, err = rc.Get(ctx, "expiry:key")
	require.NoError(t, err)
	assert.False(t, found)
}

// --- RedisCache (miniredis) ---

func TestRedisCache_Miniredis(t *testing.T) {
	rc, _ := setupMiniredis(t)
	runContract(t, rc)
}

func TestRedisCache_Miniredis_TTLExpiry(t *testing.T) {
	rc, mr := setupMiniredis(t)
	ctx := context.Background()

	require.NoError(t, rc.Set(ctx, "expiry:key", []byte("temp"), time.Second))
	mr.FastForward(2 * time.Second)

	_, found, err := rc.Get(ctx, "expiry:key")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRedisCache_DeletePrefix_ManyKeys(t *testing.T) {
	rc, mr := setupMiniredis(t)
	ctx := context.Background()

	for i := 0; i < 250; i++ {
		require.NoError(t, rc.Set(ctx, cache.QueryKey(cache.ScopeLicenses, fmt.Sprintf("offset=%d", i)), []byte("x"), time.Minute))
	}
	require.NoError(t, rc.Set(ctx, cache.QueryKey(cache.ScopeAPIKeys, "all"), []byte("y"), time.Minute))

	require.NoError(t, rc.DeletePrefix(ctx, cache.QueryScopePrefix(cache.ScopeLicenses)))
	assert.Equal(t, []string{cache.QueryKey(cache.ScopeAPIKeys, "all")}, mr.Keys())
}

func TestNewRedisCache_InvalidURL(t *testing.T) {
	_, err := cache.NewRedisCache("not a url")
	assert.Error(t, err)
}

// --- MemoryCache ---

func TestMemoryCache(t *testing.T) {
	runContract(t, cache.NewMemoryCache())
}

func TestMemoryCache_TTLExpiry(t *testing.T) {
	mc := cache.NewMemoryCache()
	ctx := context.Background()

	require.NoError(t, mc.Set(ctx, "expiry:key", []byte("temp"), 20*time.Millisecond))
	time.Sleep(50 * time.Millisecond)

	_, found, err := mc.Get(ctx, "expiry:key")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMemoryCache_CopiesValues(t *testing.T) {
	mc := cache.NewMemoryCache()
	ctx := context.Background()

	buf := []byte("original")
	require.NoError(t, mc.Set(ctx, "k", buf, time.Minute))
	buf[0] = 'X'

	got, _, err := mc.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("original"), got)
}

// --- Cache Key Builders ---

func TestSessionKey(t *testing.T) {
	assert.Equal(t, "session:auth-storage", cache.SessionKey("auth-storage"))
}

func TestQueryKey(t *testing.T) {
	key := cache.QueryKey(cache.ScopeLicenses, "limit=10&offset=0")
	assert.Regexp(t, `^query:licenses:[0-9a-f]{16}$`, key)
	assert.Equal(t, key, cache.QueryKey(cache.ScopeLicenses, "limit=10&offset=0"))
	assert.NotEqual(t, key, cache.QueryKey(cache.ScopeLicenses, "limit=10&offset=10"))
}

func TestKeyBuilders_NonColliding(t *testing.T) {
	keys := map[string]bool{
		cache.SessionKey("auth-storage"):          true,
		cache.QueryKey(cache.ScopeLicenses, "q"):  true,
		cache.QueryKey(cache.ScopeAPIKeys, "q"):   true,
		cache.QueryKey(cache.ScopeDashboard, "q"): true,
	}
	assert.Len(t, keys, 4, "all keys should be unique")
}
