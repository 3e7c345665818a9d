// Package cache memoizes complete search responses in Redis, keyed by the
// normalized query and the request options.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/cross-lingual-search/internal/searcher/pipeline"
	"github.com/Adithya-Monish-Kumar-K/cross-lingual-search/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/cross-lingual-search/pkg/redis"
	"golang.org/x/sync/singleflight"
)

const keyPrefix = "search:"

// Store is the subset of the Redis client the cache needs.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

// Key identifies one cacheable request.
type Key struct {
	Query     string
	TopK      int
	UseRerank bool
}

type QueryCache struct {
	store   Store
	ttl     time.Duration
	metrics *metrics.Metrics
	group   singleflight.Group
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
}

// New creates a cache over store. m may be nil.
func New(store Store, ttl time.Duration, m *metrics.Metrics) *QueryCache {
	return &QueryCache{
		store:   store,
		ttl:     ttl,
		metrics: m,
		logger:  slog.Default().With("component", "query-cache"),
	}
}

func (c *QueryCache) Get(ctx context.Context, k Key) (*pipeline.Response, bool) {
	key := buildKey(k)
	data, err := c.store.Get(ctx, key)
	if err != nil {
		if !pkgredis.IsNilError(err) {
			c.logger.Error("cache get failed", "key", key, "error", err)
		}
		c.miss()
		return nil, false
	}
	var resp pipeline.Response
	if err := json.Unmarshal([]byte(data), &resp); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		c.miss()
		return nil, false
	}
	c.hits.Add(1)
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.Inc()
	}
	c.logger.Debug("cache hit", "key", key)
	return &resp, true
}

// Set stores resp unless it is a degraded response.
func (c *QueryCache) Set(ctx context.Context, k Key, resp *pipeline.Response) {
	if resp == nil || resp.Fallback != "" {
		return
	}
	key := buildKey(k)
	data, err := json.Marshal(resp)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.store.Set(ctx, key, data, c.ttl); err != nil {
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

// GetOrCompute returns the cached response for k, or runs compute once for
// all concurrent callers with the same key. The shared compute gets a context
// detached from ctx's cancellation, since waiters other than the first caller
// receive its result. The bool reports a cache hit.
func (c *QueryCache) GetOrCompute(
	ctx context.Context,
	k Key,
	compute func(ctx context.Context) (*pipeline.Response, error),
) (*pipeline.Response, bool, error) {
	if resp, ok := c.Get(ctx, k); ok {
		return resp, true, nil
	}
	shared := context.WithoutCancel(ctx)
	val, err, _ := c.group.Do(buildKey(k), func() (any, error) {
		resp, err := compute(shared)
		if err != nil {
			return nil, err
		}
		c.Set(shared, k, resp)
		return resp, nil
	})
	if err != nil {
		return nil, false, err
	}
	return val.(*pipeline.Response), false, nil
}

// Invalidate drops every cached response and returns how many were removed.
func (c *QueryCache) Invalidate(ctx context.Context) (int64, error) {
	deleted, err := c.store.FlushByPattern(ctx, keyPrefix+"*")
	if err != nil {
		return deleted, fmt.Errorf("invalidating cache: %w", err)
	}
	c.logger.Info("cache invalidated", "keys_deleted", deleted)
	return deleted, nil
}

func (c *QueryCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *QueryCache) miss() {
	c.misses.Add(1)
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.Inc()
	}
}

func buildKey(k Key) string {
	raw := fmt.Sprintf("%s|top_k=%d|rerank=%t", NormalizeQuery(k.Query), k.TopK, k.UseRerank)
	hash := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%s%x", keyPrefix, hash[:16])
}

// NormalizeQuery trims q and collapses inner whitespace. Case and word order
// are kept since either can change the query embedding.
func NormalizeQuery(q string) string {
	return strings.Join(strings.Fields(q), " ")
}
