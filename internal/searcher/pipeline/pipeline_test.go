package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/cross-lingual-search/internal/docstore"
	"github.com/Adithya-Monish-Kumar-K/cross-lingual-search/internal/relevance"
	"github.com/Adithya-Monish-Kumar-K/cross-lingual-search/internal/searcher"
	"github.com/Adithya-Monish-Kumar-K/cross-lingual-search/internal/searcher/rerank"
	apperrors "github.com/Adithya-Monish-Kumar-K/cross-lingual-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/cross-lingual-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/cross-lingual-search/pkg/resilience"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRetriever struct {
	ids   []string
	err   error
	lastK int
}

func (f *fakeRetriever) Retrieve(_ context.Context, _ string, topK int) ([]searcher.Candidate, error) {
	f.lastK = topK
	if f.err != nil {
		return nil, f.err
	}
	out := make([]searcher.Candidate, 0, len(f.ids))
	for i, id := range f.ids {
		if i == topK {
			break
		}
		out = append(out, searcher.Candidate{
			DocID:       id,
			VectorScore: 0.9 - float64(i)*0.1,
			VectorRank:  i + 1,
		})
	}
	return out, nil
}

// keywordScorer scores a pair by whether it mentions "river".
type keywordScorer struct {
	err   error
	delay time.Duration
	calls atomic.Int32
}

func (k *keywordScorer) Score(ctx context.Context, _ string, docs []string) ([]float64, error) {
	k.calls.Add(1)
	if k.delay > 0 {
		select {
		case <-time.After(k.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if k.err != nil {
		return nil, k.err
	}
	out := make([]float64, len(docs))
	for i, d := range docs {
		if strings.Contains(d, "river") {
			out[i] = 0.95
		} else {
			out[i] = 0.1 * float64(i+1)
		}
	}
	return out, nil
}

type fakeModel struct {
	loaded   bool
	loadCost time.Duration
	loadErr  error
	unloads  int
}

func (f *fakeModel) EnsureLoaded(context.Context) (time.Duration, error) {
	if f.loadErr != nil {
		return 0, f.loadErr
	}
	if f.loaded {
		return 0, nil
	}
	f.loaded = true
	return f.loadCost, nil
}

func (f *fakeModel) Unload(context.Context) (bool, error) {
	was := f.loaded
	f.loaded = false
	f.unloads++
	return was, nil
}

func (f *fakeModel) Info() relevance.Info {
	state := relevance.StateUnloaded
	if f.loaded {
		state = relevance.StateLoaded
	}
	return relevance.Info{
		BackendInfo: relevance.BackendInfo{Model: "fake-reranker"},
		Loaded:      f.loaded,
		State:       state.String(),
	}
}

func testDocs() *docstore.MemoryStore {
	return docstore.NewMemoryStore([]docstore.Document{
		{DocID: "a", Title: "Mountains", Text: "Tall peaks covered in snow."},
		{DocID: "b", Title: "", Text: "A long river crossing the plain."},
		{DocID: "c", Title: "Desert", Text: "Dry sand as far as one can see."},
	})
}

type fixture struct {
	retriever *fakeRetriever
	scorer    *keywordScorer
	model     *fakeModel
	metrics   *metrics.Metrics
	pipeline  *Pipeline
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	f := &fixture{
		retriever: &fakeRetriever{ids: []string{"a", "b", "c"}},
		scorer:    &keywordScorer{},
		model:     &fakeModel{loadCost: 5 * time.Millisecond},
		metrics:   metrics.New(prometheus.NewRegistry()),
	}
	opts.Metrics = f.metrics
	f.pipeline = New(f.retriever, rerank.New(f.scorer, 2, 0), f.model, testDocs(), opts)
	return f
}

func docIDs(cs []searcher.Candidate) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.DocID
	}
	return out
}

func TestSearchVectorOnly(t *testing.T) {
	f := newFixture(t, Options{})
	resp, err := f.pipeline.Search(context.Background(), Request{Query: "  water  ", TopK: 3})
	require.NoError(t, err)

	assert.Equal(t, "water", resp.Query)
	assert.Equal(t, []string{"a", "b", "c"}, docIDs(resp.Results))
	assert.Equal(t, 3, resp.Total)
	assert.False(t, resp.Reranked)
	assert.Empty(t, resp.Fallback)
	assert.Nil(t, resp.RerankStats)
	assert.Nil(t, resp.RankingComparison)
	assert.Zero(t, f.scorer.calls.Load())
	assert.Equal(t, UntitledDocument, resp.Results[1].Title)
	assert.NotEmpty(t, resp.Results[0].TextPreview)
	assert.Nil(t, resp.Results[0].CrossEncoderScore)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.SearchQueriesTotal.WithLabelValues("vector")))
}

func TestSearchWithRerank(t *testing.T) {
	f := newFixture(t, Options{})
	resp, err := f.pipeline.Search(context.Background(), Request{Query: "river", UseRerank: true, TopK: 3})
	require.NoError(t, err)

	assert.True(t, resp.Reranked)
	assert.Empty(t, resp.Fallback)
	require.Len(t, resp.Results, 3)
	assert.Equal(t, "b", resp.Results[0].DocID)
	for i, c := range resp.Results {
		assert.Equal(t, i+1, c.FinalRank)
		assert.NotNil(t, c.CrossEncoderScore)
		assert.Equal(t, c.VectorRank, c.OriginalRank)
	}
	require.NotNil(t, resp.RerankStats)
	assert.Equal(t, 3, resp.RerankStats.Total)
	require.NotNil(t, resp.RankingComparison)
	assert.Equal(t, 3, resp.RankingComparison.TotalDocs)
	assert.Equal(t, 1, resp.RankingComparison.MaxRankImprovement)
	assert.Equal(t, 5.0, resp.Timing.ModelLoadMs)
	assert.GreaterOrEqual(t, resp.Timing.TotalMs, resp.Timing.VectorSearchMs)

	again, err := f.pipeline.Search(context.Background(), Request{Query: "river", UseRerank: true, TopK: 3})
	require.NoError(t, err)
	assert.Zero(t, again.Timing.ModelLoadMs)
}

func TestSearchRerankFailureFallsBack(t *testing.T) {
	f := newFixture(t, Options{})
	f.scorer.err = errors.New("scorer crashed")

	resp, err := f.pipeline.Search(context.Background(), Request{Query: "river", UseRerank: true, TopK: 3})
	require.NoError(t, err)
	assert.False(t, resp.Reranked)
	assert.Equal(t, FallbackRerankFailed, resp.Fallback)
	assert.Equal(t, []string{"a", "b", "c"}, docIDs(resp.Results))
	for _, c := range resp.Results {
		assert.Nil(t, c.CrossEncoderScore)
		assert.Zero(t, c.FinalRank)
	}
	assert.Nil(t, resp.RerankStats)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.RerankFallbacksTotal.WithLabelValues(FallbackRerankFailed)))
}

func TestSearchModelLoadFailureFallsBack(t *testing.T) {
	f := newFixture(t, Options{})
	f.model.loadErr = apperrors.New(apperrors.ErrModelUnavailable, 0, "weights missing")

	resp, err := f.pipeline.Search(context.Background(), Request{Query: "river", UseRerank: true})
	require.NoError(t, err)
	assert.Equal(t, FallbackRerankFailed, resp.Fallback)
	assert.Zero(t, f.scorer.calls.Load())
	assert.Len(t, resp.Results, 3)
}

func TestSearchRerankTimeout(t *testing.T) {
	f := newFixture(t, Options{RerankTimeout: 20 * time.Millisecond})
	f.scorer.delay = time.Second

	start := time.Now()
	resp, err := f.pipeline.Search(context.Background(), Request{Query: "river", UseRerank: true, TopK: 3})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, FallbackRerankTimeout, resp.Fallback)
	assert.False(t, resp.Reranked)
	assert.Equal(t, []string{"a", "b", "c"}, docIDs(resp.Results))
}

func TestSearchCircuitOpen(t *testing.T) {
	breaker := resilience.NewCircuitBreaker("relevance", resilience.CircuitBreakerConfig{
		FailureThreshold: 1,
		ResetTimeout:     time.Hour,
	})
	f := newFixture(t, Options{Breaker: breaker})
	f.scorer.err = errors.New("scorer crashed")

	first, err := f.pipeline.Search(context.Background(), Request{Query: "river", UseRerank: true})
	require.NoError(t, err)
	assert.Equal(t, FallbackRerankFailed, first.Fallback)
	calls := f.scorer.calls.Load()

	second, err := f.pipeline.Search(context.Background(), Request{Query: "river", UseRerank: true})
	require.NoError(t, err)
	assert.Equal(t, FallbackRerankCircuitOpen, second.Fallback)
	assert.Equal(t, calls, f.scorer.calls.Load())
	assert.Equal(t, "open", f.pipeline.ModelStatus().Circuit)
}

func TestSearchRetrievalFailure(t *testing.T) {
	f := newFixture(t, Options{})
	f.retriever.err = apperrors.New(apperrors.ErrEmbeddingFailure, 0, "encoder offline")

	resp, err := f.pipeline.Search(context.Background(), Request{Query: "river", UseRerank: true})
	require.NoError(t, err)
	assert.Equal(t, FallbackRetrievalFailed, resp.Fallback)
	assert.Empty(t, resp.Results)
	assert.NotNil(t, resp.Results)
	assert.Zero(t, resp.Total)
	assert.Zero(t, f.scorer.calls.Load())
}

func TestSearchNoCandidates(t *testing.T) {
	f := newFixture(t, Options{})
	f.retriever.ids = nil

	resp, err := f.pipeline.Search(context.Background(), Request{Query: "river", UseRerank: true})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
	assert.Empty(t, resp.Fallback)
	assert.False(t, resp.Reranked)
	assert.Zero(t, f.scorer.calls.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.SearchQueriesTotal.WithLabelValues("zero_result")))
}

func TestSearchDropsUnknownDocuments(t *testing.T) {
	f := newFixture(t, Options{})
	f.retriever.ids = []string{"a", "ghost", "c"}

	resp, err := f.pipeline.Search(context.Background(), Request{Query: "peaks", TopK: 3})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, docIDs(resp.Results))
	assert.Equal(t, 1, resp.Results[0].VectorRank)
	assert.Equal(t, 2, resp.Results[1].VectorRank)
	assert.Equal(t, 2, resp.Total)
}

func TestSearchValidation(t *testing.T) {
	f := newFixture(t, Options{DefaultTopK: 2, MaxTopK: 3})

	_, err := f.pipeline.Search(context.Background(), Request{Query: "   "})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	_, err = f.pipeline.Search(context.Background(), Request{Query: "river", TopK: -1})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	resp, err := f.pipeline.Search(context.Background(), Request{Query: "river"})
	require.NoError(t, err)
	assert.Equal(t, 2, resp.TopK)
	assert.Equal(t, 2, f.retriever.lastK)

	resp, err = f.pipeline.Search(context.Background(), Request{Query: "river", TopK: 50})
	require.NoError(t, err)
	assert.Equal(t, 3, resp.TopK)
}

func TestModelStatusAndUnload(t *testing.T) {
	f := newFixture(t, Options{})
	status := f.pipeline.ModelStatus()
	assert.False(t, status.Loaded)
	assert.Equal(t, "closed", status.Circuit)

	_, err := f.pipeline.Search(context.Background(), Request{Query: "river", UseRerank: true})
	require.NoError(t, err)
	assert.True(t, f.pipeline.ModelStatus().Loaded)

	was, err := f.pipeline.UnloadModel(context.Background())
	require.NoError(t, err)
	assert.True(t, was)
	assert.False(t, f.pipeline.ModelStatus().Loaded)

	was, err = f.pipeline.UnloadModel(context.Background())
	require.NoError(t, err)
	assert.False(t, was)
}

func TestMillisRounding(t *testing.T) {
	assert.Equal(t, 1.23, millis(1234567*time.Nanosecond))
	assert.Equal(t, 0.0, millis(0))
}

func TestShortQuery(t *testing.T) {
	assert.Equal(t, "short", shortQuery("short"))
	long := strings.Repeat("ж", 60)
	assert.Equal(t, strings.Repeat("ж", 50)+"...", shortQuery(long))
}
