package cache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/cross-lingual-search/internal/searcher"
	"github.com/Adithya-Monish-Kumar-K/cross-lingual-search/internal/searcher/pipeline"
	"github.com/Adithya-Monish-Kumar-K/cross-lingual-search/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu     sync.Mutex
	data   map[string]string
	ttls   map[string]time.Duration
	getErr error
}

func newMemStore() *memStore {
	return &memStore{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (m *memStore) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return "", m.getErr
	}
	v, ok := m.data[key]
	if !ok {
		return "", goredis.Nil
	}
	return v, nil
}

func (m *memStore) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = string(value.([]byte))
	m.ttls[key] = ttl
	return nil
}

func (m *memStore) FlushByPattern(_ context.Context, pattern string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := strings.TrimSuffix(pattern, "*")
	var n int64
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			delete(m.data, k)
			n++
		}
	}
	return n, nil
}

func sampleResponse() *pipeline.Response {
	return &pipeline.Response{
		Results: []searcher.Candidate{{DocID: "a", Title: "Mountains", VectorScore: 0.8, VectorRank: 1}},
		Total:   1,
		Query:   "peaks",
		TopK:    10,
	}
}

func TestGetOrComputeCachesResponse(t *testing.T) {
	store := newMemStore()
	m := metrics.New(prometheus.NewRegistry())
	c := New(store, time.Minute, m)
	k := Key{Query: "peaks", TopK: 10}

	var calls atomic.Int32
	compute := func(context.Context) (*pipeline.Response, error) {
		calls.Add(1)
		return sampleResponse(), nil
	}

	resp, hit, err := c.GetOrCompute(context.Background(), k, compute)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, "a", resp.Results[0].DocID)

	resp, hit, err = c.GetOrCompute(context.Background(), Key{Query: "  peaks ", TopK: 10}, compute)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "Mountains", resp.Results[0].Title)
	assert.Equal(t, int32(1), calls.Load())

	hits, misses := c.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheHitsTotal))
	for _, ttl := range store.ttls {
		assert.Equal(t, time.Minute, ttl)
	}
}

func TestKeyDependsOnOptions(t *testing.T) {
	base := Key{Query: "peaks", TopK: 10}
	assert.NotEqual(t, buildKey(base), buildKey(Key{Query: "peaks", TopK: 20}))
	assert.NotEqual(t, buildKey(base), buildKey(Key{Query: "peaks", TopK: 10, UseRerank: true}))
	assert.NotEqual(t, buildKey(Key{Query: "snow peaks"}), buildKey(Key{Query: "peaks snow"}))
	assert.Equal(t, buildKey(base), buildKey(Key{Query: "peaks\t", TopK: 10}))
	assert.NotEqual(t, buildKey(base), buildKey(Key{Query: "Peaks", TopK: 10}))
	assert.True(t, strings.HasPrefix(buildKey(base), keyPrefix))
}

func TestFallbackResponsesAreNotCached(t *testing.T) {
	store := newMemStore()
	c := New(store, time.Minute, nil)
	resp := sampleResponse()
	resp.Fallback = pipeline.FallbackRerankTimeout

	_, _, err := c.GetOrCompute(context.Background(), Key{Query: "peaks", UseRerank: true}, func(context.Context) (*pipeline.Response, error) {
		return resp, nil
	})
	require.NoError(t, err)
	assert.Empty(t, store.data)
}

func TestComputeErrorIsReturned(t *testing.T) {
	c := New(newMemStore(), time.Minute, nil)
	wantErr := errors.New("boom")
	_, _, err := c.GetOrCompute(context.Background(), Key{Query: "peaks"}, func(context.Context) (*pipeline.Response, error) {
		return nil, wantErr
	})
	assert.ErrorIs(t, err, wantErr)
}

func TestStoreErrorIsAMiss(t *testing.T) {
	store := newMemStore()
	store.getErr = errors.New("connection refused")
	c := New(store, time.Minute, nil)

	_, ok := c.Get(context.Background(), Key{Query: "peaks"})
	assert.False(t, ok)
	_, misses := c.Stats()
	assert.Equal(t, int64(1), misses)
}

func TestInvalidate(t *testing.T) {
	store := newMemStore()
	c := New(store, time.Minute, nil)
	c.Set(context.Background(), Key{Query: "peaks"}, sampleResponse())
	c.Set(context.Background(), Key{Query: "river"}, sampleResponse())
	store.data["other:key"] = "x"

	n, err := c.Invalidate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Contains(t, store.data, "other:key")
}

func TestQueriesDifferingInCaseDoNotShareEntries(t *testing.T) {
	c := New(newMemStore(), time.Minute, nil)
	echo := func(query string) func(context.Context) (*pipeline.Response, error) {
		return func(context.Context) (*pipeline.Response, error) {
			resp := sampleResponse()
			resp.Query = query
			return resp, nil
		}
	}

	_, hit, err := c.GetOrCompute(context.Background(), Key{Query: "US Apple", TopK: 10}, echo("US Apple"))
	require.NoError(t, err)
	assert.False(t, hit)

	resp, hit, err := c.GetOrCompute(context.Background(), Key{Query: "us apple", TopK: 10}, echo("us apple"))
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, "us apple", resp.Query)
}

func TestSharedComputeIgnoresCallerCancellation(t *testing.T) {
	store := newMemStore()
	c := New(store, time.Minute, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	resp, _, err := c.GetOrCompute(ctx, Key{Query: "peaks"}, func(ctx context.Context) (*pipeline.Response, error) {
		if ctx.Err() != nil {
			degraded := sampleResponse()
			degraded.Results = nil
			degraded.Fallback = pipeline.FallbackRetrievalFailed
			return degraded, nil
		}
		return sampleResponse(), nil
	})
	require.NoError(t, err)
	assert.Empty(t, resp.Fallback)
	assert.Len(t, resp.Results, 1)
	assert.Len(t, store.data, 1)
}
