package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/cross-lingual-search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/cross-lingual-search/internal/relevance"
	"github.com/Adithya-Monish-Kumar-K/cross-lingual-search/internal/searcher"
	"github.com/Adithya-Monish-Kumar-K/cross-lingual-search/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/cross-lingual-search/internal/searcher/pipeline"
	apperrors "github.com/Adithya-Monish-Kumar-K/cross-lingual-search/pkg/errors"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSearcher struct {
	mu       sync.Mutex
	requests []pipeline.Request
	resp     *pipeline.Response
	err      error
	loaded   bool
}

func (f *fakeSearcher) Search(_ context.Context, req pipeline.Request) (*pipeline.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	resp := *f.resp
	resp.Query = req.Query
	resp.TopK = req.TopK
	return &resp, nil
}

func (f *fakeSearcher) ResolveTopK(topK int) (int, error) {
	switch {
	case topK == 0:
		return 100, nil
	case topK > 200:
		return 200, nil
	}
	return topK, nil
}

func (f *fakeSearcher) UnloadModel(context.Context) (bool, error) {
	was := f.loaded
	f.loaded = false
	return was, nil
}

func (f *fakeSearcher) ModelStatus() pipeline.ModelStatus {
	return pipeline.ModelStatus{
		Info:    relevance.Info{BackendInfo: relevance.BackendInfo{Model: "bge-reranker"}, Loaded: f.loaded, State: "loaded"},
		Circuit: "closed",
	}
}

type recordingTracker struct {
	events []analytics.Event
}

func (r *recordingTracker) Track(e analytics.Event) { r.events = append(r.events, e) }

type memStore struct {
	mu   sync.Mutex
	data map[string]string
}

func (m *memStore) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.data[key]; ok {
		return v, nil
	}
	return "", goredis.Nil
}

func (m *memStore) Set(_ context.Context, key string, value any, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = string(value.([]byte))
	return nil
}

func (m *memStore) FlushByPattern(context.Context, string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := int64(len(m.data))
	m.data = map[string]string{}
	return n, nil
}

func rerankedResponse() *pipeline.Response {
	score := 0.9
	return &pipeline.Response{
		Results: []searcher.Candidate{{
			DocID: "d1", Title: "Тау", VectorScore: 0.7, VectorRank: 2,
			CrossEncoderScore: &score, OriginalRank: 2, FinalRank: 1,
		}},
		Total:    1,
		Reranked: true,
		RankingComparison: &searcher.RankingComparison{
			TotalDocs: 1, DocsImproved: 1, AvgRankChange: 1, MaxRankImprovement: 1, MaxRankDecline: 1,
		},
	}
}

func doGet(h http.HandlerFunc, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestSearchParsesParameters(t *testing.T) {
	s := &fakeSearcher{resp: rerankedResponse()}
	tracker := &recordingTracker{}
	h := New(s, nil, tracker)

	rec := doGet(h.Search, "/api/v1/search?query=mountain+river&use_rerank=true&top_k=500")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, s.requests, 1)
	assert.Equal(t, pipeline.Request{Query: "mountain river", UseRerank: true, TopK: 200}, s.requests[0])

	var body SearchResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.True(t, body.Reranked)
	assert.False(t, body.Cached)
	assert.Equal(t, 200, body.TopK)
	require.Len(t, body.Results, 1)
	assert.Equal(t, 1, body.Results[0].FinalRank)

	require.Len(t, tracker.events, 1)
	event := tracker.events[0].(analytics.SearchEvent)
	assert.Equal(t, analytics.EventSearch, event.Type)
	assert.True(t, event.UseRerank)
	assert.Equal(t, 1, event.DocsImproved)
}

func TestSearchDefaults(t *testing.T) {
	s := &fakeSearcher{resp: &pipeline.Response{Results: []searcher.Candidate{}}}
	tracker := &recordingTracker{}
	rec := doGet(New(s, nil, tracker).Search, "/api/v1/search?q=peaks")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, pipeline.Request{Query: "peaks", TopK: 100}, s.requests[0])
	assert.Equal(t, analytics.EventZeroResult, tracker.events[0].Kind())
}

func TestSearchRejectsBadInput(t *testing.T) {
	h := New(&fakeSearcher{resp: rerankedResponse()}, nil, nil)
	tests := []struct {
		name   string
		target string
	}{
		{"missing query", "/api/v1/search"},
		{"blank query", "/api/v1/search?q=%20%20"},
		{"zero top_k", "/api/v1/search?q=a&top_k=0"},
		{"negative top_k", "/api/v1/search?q=a&top_k=-3"},
		{"non-numeric top_k", "/api/v1/search?q=a&top_k=ten"},
		{"bad use_rerank", "/api/v1/search?q=a&use_rerank=maybe"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doGet(h.Search, tt.target)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			var body map[string]string
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestSearchErrorDoesNotLeakInternals(t *testing.T) {
	s := &fakeSearcher{err: apperrors.New(apperrors.ErrInternal, 0, "disk /var/lib/index unreadable")}
	rec := doGet(New(s, nil, nil).Search, "/api/v1/search?q=a")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "/var/lib")
}

func TestSearchUsesCache(t *testing.T) {
	s := &fakeSearcher{resp: rerankedResponse()}
	qc := cache.New(&memStore{data: map[string]string{}}, time.Minute, nil)
	tracker := &recordingTracker{}
	h := New(s, qc, tracker)

	first := doGet(h.Search, "/api/v1/search?q=Peaks&use_rerank=true")
	second := doGet(h.Search, "/api/v1/search?q=%20Peaks%20&use_rerank=true")
	require.Equal(t, http.StatusOK, first.Code)
	require.Equal(t, http.StatusOK, second.Code)
	assert.Len(t, s.requests, 1)

	var body SearchResponse
	require.NoError(t, json.NewDecoder(second.Body).Decode(&body))
	assert.True(t, body.Cached)
	assert.True(t, tracker.events[1].(analytics.SearchEvent).CacheHit)

	stats := doGet(h.CacheStats, "/api/v1/cache/stats")
	assert.Contains(t, stats.Body.String(), `"hit_rate":"50.0%"`)

	rec := httptest.NewRecorder()
	h.CacheInvalidate(rec, httptest.NewRequest(http.MethodPost, "/api/v1/cache/invalidate", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"keys_deleted":1`)
}

func TestCacheEndpointsWhenDisabled(t *testing.T) {
	h := New(&fakeSearcher{}, nil, nil)
	assert.JSONEq(t, `{"status":"disabled"}`, doGet(h.CacheStats, "/api/v1/cache/stats").Body.String())

	rec := httptest.NewRecorder()
	h.CacheInvalidate(rec, httptest.NewRequest(http.MethodPost, "/api/v1/cache/invalidate", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRerankStatusAndUnload(t *testing.T) {
	s := &fakeSearcher{loaded: true}
	h := New(s, nil, nil)

	rec := doGet(h.RerankStatus, "/api/v1/rerank/status")
	require.Equal(t, http.StatusOK, rec.Code)
	var status map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&status))
	assert.Equal(t, true, status["model_loaded"])
	assert.Equal(t, "bge-reranker", status["model"])
	assert.Equal(t, "closed", status["circuit"])

	rec = httptest.NewRecorder()
	h.RerankUnload(rec, httptest.NewRequest(http.MethodPost, "/api/v1/rerank/unload", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"was_loaded":true`)

	rec = httptest.NewRecorder()
	h.RerankUnload(rec, httptest.NewRequest(http.MethodPost, "/api/v1/rerank/unload", nil))
	assert.Contains(t, rec.Body.String(), `"was_loaded":false`)
}
