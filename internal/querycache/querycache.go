// Package querycache caches the results of read requests by query key,
// shares concurrent identical requests and drops whole scopes when a
// mutation makes them stale.
package querycache

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/kiranshivaraju/licensectl/internal/cache"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Client is a keyed request cache. A nil *Client is valid and caches nothing.
type Client struct {
	cache cache.Cache
	log   *zap.Logger
	group singleflight.Group

	mu   sync.Mutex
	gens map[string]uint64
}

// New creates a Client storing results in c.
func New(c cache.Cache, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{cache: c, log: log, gens: map[string]uint64{}}
}

// Fetch returns the cached result of query in scope, or runs load and caches
// its result for ttl. Identical concurrent fetches share a single load. When
// fresh is set the cached value is ignored and replaced.
func Fetch[T any](ctx context.Context, c *Client, scope, query string, ttl time.Duration, fresh bool, load func(context.Context) (T, error)) (T, error) {
	if c == nil {
		return load(ctx)
	}

	key := cache.QueryKey(scope, query)
	if !fresh {
		if v, ok := lookup[T](ctx, c, key); ok {
			return v, nil
		}
	}

	gen := c.generation(scope)
	ch := c.group.DoChan(key+"#"+strconv.FormatUint(gen, 10), func() (any, error) {
		// Detached so one caller giving up does not fail the others sharing
		// this load.
		v, err := load(context.WithoutCancel(ctx))
		if err != nil {
			return v, err
		}
		if c.generation(scope) == gen {
			c.store(ctx, key, v, ttl)
		}
		return v, nil
	})

	select {
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			var zero T
			return zero, res.Err
		}
		return res.Val.(T), nil
	}
}

// Invalidate drops every cached result of the given scopes. Loads that were
// in flight when Invalidate ran neither repopulate the cache nor get shared
// with later fetches.
func (c *Client) Invalidate(ctx context.Context, scopes ...string) {
	if c == nil {
		return
	}
	for _, scope := range scopes {
		c.mu.Lock()
		c.gens[scope]++
		c.mu.Unlock()
		if err := c.cache.DeletePrefix(ctx, cache.QueryScopePrefix(scope)); err != nil {
			c.log.Warn("query cache invalidation failed", zap.String("scope", scope), zap.Error(err))
		}
	}
}

func (c *Client) generation(scope string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gens[scope]
}

func lookup[T any](ctx context.Context, c *Client, key string) (T, bool) {
	var v T
	raw, found, err := c.cache.Get(ctx, key)
	if err != nil {
		c.log.Warn("query cache read failed", zap.String("key", key), zap.Error(err))
		return v, false
	}
	if !found {
		return v, false
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		c.log.Warn("query cache entry unreadable", zap.String("key", key), zap.Error(err))
		return v, false
	}
	return v, true
}

func (c *Client) store(ctx context.Context, key string, v any, ttl time.Duration) {
	raw, err := json.Marshal(v)
	if err != nil {
		c.log.Warn("query cache encode failed", zap.String("key", key), zap.Error(err))
		return
	}
	if err := c.cache.Set(context.WithoutCancel(ctx), key, raw, ttl); err != nil {
		c.log.Warn("query cache write failed", zap.String("key", key), zap.Error(err))
	}
}
