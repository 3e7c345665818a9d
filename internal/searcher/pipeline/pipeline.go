// Package pipeline composes retrieval and optional reranking into one
// search call, with per-stage timing and explicit fallback signalling.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/cross-lingual-search/internal/docstore"
	"github.com/Adithya-Monish-Kumar-K/cross-lingual-search/internal/relevance"
	"github.com/Adithya-Monish-Kumar-K/cross-lingual-search/internal/searcher"
	"github.com/Adithya-Monish-Kumar-K/cross-lingual-search/internal/searcher/preview"
	"github.com/Adithya-Monish-Kumar-K/cross-lingual-search/internal/searcher/rerank"
	apperrors "github.com/Adithya-Monish-Kumar-K/cross-lingual-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/cross-lingual-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/cross-lingual-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/cross-lingual-search/pkg/resilience"
)

// UntitledDocument replaces an empty title in results.
const UntitledDocument = "无标题"

// Fallback reasons reported when a stage degraded.
const (
	FallbackRetrievalFailed   = "retrieval_failed"
	FallbackRerankFailed      = "rerank_failed"
	FallbackRerankTimeout     = "rerank_timeout"
	FallbackRerankCircuitOpen = "rerank_circuit_open"
)

type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int) ([]searcher.Candidate, error)
}

type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []searcher.Candidate, topK int) ([]searcher.Candidate, error)
}

// ModelManager is the lifecycle surface of the relevance model.
type ModelManager interface {
	EnsureLoaded(ctx context.Context) (time.Duration, error)
	Unload(ctx context.Context) (bool, error)
	Info() relevance.Info
}

type Options struct {
	DefaultTopK     int
	MaxTopK         int
	PreviewMaxChars int
	// RerankTimeout bounds model loading plus scoring. Zero disables it.
	RerankTimeout time.Duration
	Breaker       *resilience.CircuitBreaker
	Metrics       *metrics.Metrics
}

type Request struct {
	Query     string
	UseRerank bool
	// TopK is the number of vector candidates; zero selects the default.
	TopK int
}

// Timing is reported in milliseconds rounded to two decimals.
type Timing struct {
	VectorSearchMs float64 `json:"vector_search_ms"`
	RerankMs       float64 `json:"rerank_ms"`
	ModelLoadMs    float64 `json:"model_load_ms"`
	TotalMs        float64 `json:"total_ms"`
}

type Response struct {
	Results           []searcher.Candidate        `json:"results"`
	Total             int                         `json:"total"`
	Query             string                      `json:"query"`
	TopK              int                         `json:"top_k"`
	Reranked          bool                        `json:"reranked"`
	Fallback          string                      `json:"fallback,omitempty"`
	Timing            Timing                      `json:"timing"`
	RerankStats       *searcher.RerankStats       `json:"rerank_stats,omitempty"`
	RankingComparison *searcher.RankingComparison `json:"ranking_comparison,omitempty"`
}

// ModelStatus is the relevance model status plus its circuit state.
type ModelStatus struct {
	relevance.Info
	Circuit string `json:"circuit"`
}

type Pipeline struct {
	retriever Retriever
	reranker  Reranker
	model     ModelManager
	docs      docstore.Store
	opts      Options
	logger    *slog.Logger
}

func New(retriever Retriever, reranker Reranker, model ModelManager, docs docstore.Store, opts Options) *Pipeline {
	if opts.DefaultTopK <= 0 {
		opts.DefaultTopK = 100
	}
	if opts.MaxTopK <= 0 {
		opts.MaxTopK = 200
	}
	if opts.DefaultTopK > opts.MaxTopK {
		opts.DefaultTopK = opts.MaxTopK
	}
	if opts.PreviewMaxChars <= 0 {
		opts.PreviewMaxChars = preview.DefaultMaxChars
	}
	return &Pipeline{
		retriever: retriever,
		reranker:  reranker,
		model:     model,
		docs:      docs,
		opts:      opts,
		logger:    slog.Default().With("component", "pipeline"),
	}
}

// ResolveTopK applies the default and the upper bound. Negative values are
// rejected.
func (p *Pipeline) ResolveTopK(topK int) (int, error) {
	switch {
	case topK < 0:
		return 0, apperrors.Newf(apperrors.ErrInvalidInput, 0, "top_k must be positive, got %d", topK)
	case topK == 0:
		return p.opts.DefaultTopK, nil
	case topK > p.opts.MaxTopK:
		return p.opts.MaxTopK, nil
	default:
		return topK, nil
	}
}

// Search runs one query. Only invalid requests return an error; stage
// failures come back as a degraded Response with Fallback set.
func (p *Pipeline) Search(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, apperrors.New(apperrors.ErrInvalidInput, 0, "query must not be empty")
	}
	topK, err := p.ResolveTopK(req.TopK)
	if err != nil {
		return nil, err
	}
	log := logger.FromContext(ctx).With("component", "pipeline", "query", shortQuery(query))

	resp := &Response{
		Results: []searcher.Candidate{},
		Query:   query,
		TopK:    topK,
	}

	vectorStart := time.Now()
	candidates, err := p.retriever.Retrieve(ctx, query, topK)
	vectorElapsed := time.Since(vectorStart)
	resp.Timing.VectorSearchMs = millis(vectorElapsed)
	p.observe("vector", vectorElapsed)
	if err != nil {
		log.Error("retrieval failed", "stage", "retrieval", "top_k", topK, "error", err)
		resp.Fallback = FallbackRetrievalFailed
		return p.finish(resp, start, "error"), nil
	}
	if len(candidates) == 0 {
		log.Info("no candidates", "top_k", topK)
		return p.finish(resp, start, "zero_result"), nil
	}

	candidates, err = p.hydrate(ctx, candidates)
	if err != nil {
		log.Error("document lookup failed", "stage", "hydrate", "candidates", len(candidates), "error", err)
		resp.Fallback = FallbackRetrievalFailed
		return p.finish(resp, start, "error"), nil
	}
	if len(candidates) == 0 {
		log.Warn("no retrieved document is in the store", "top_k", topK)
		return p.finish(resp, start, "zero_result"), nil
	}
	resp.Results = candidates

	outcome := "vector"
	if req.UseRerank {
		rerankStart := time.Now()
		reranked, loadCost, err := p.rerank(ctx, query, candidates)
		resp.Timing.ModelLoadMs = millis(loadCost)
		if err != nil {
			resp.Fallback = classify(err)
			outcome = "fallback"
			log.Warn("rerank failed, returning vector order",
				"stage", "rerank",
				"candidates", len(candidates),
				"fallback", resp.Fallback,
				"error", err,
			)
			if p.opts.Metrics != nil {
				p.opts.Metrics.RerankFallbacksTotal.WithLabelValues(resp.Fallback).Inc()
			}
		} else {
			resp.Results = reranked
			resp.Reranked = true
			stats := rerank.ComputeStats(reranked)
			cmp := rerank.CompareRankings(reranked)
			resp.RerankStats = &stats
			resp.RankingComparison = &cmp
			outcome = "reranked"
		}
		rerankElapsed := time.Since(rerankStart)
		resp.Timing.RerankMs = millis(rerankElapsed)
		p.observe("rerank", rerankElapsed)
		if loadCost > 0 {
			p.observe("model_load", loadCost)
		}
	}

	p.finish(resp, start, outcome)
	log.Info("search completed",
		"top_k", topK,
		"returned", resp.Total,
		"reranked", resp.Reranked,
		"fallback", resp.Fallback,
		"total_ms", resp.Timing.TotalMs,
	)
	return resp, nil
}

// UnloadModel releases the relevance model; it reports whether it was loaded.
func (p *Pipeline) UnloadModel(ctx context.Context) (bool, error) {
	return p.model.Unload(ctx)
}

func (p *Pipeline) ModelStatus() ModelStatus {
	status := ModelStatus{Info: p.model.Info(), Circuit: resilience.StateClosed.String()}
	if p.opts.Breaker != nil {
		status.Circuit = p.opts.Breaker.GetState().String()
	}
	return status
}

// hydrate attaches title, text, and preview from the document store,
// dropping ids the store does not know. Vector ranks are re-densified over
// the surviving candidates.
func (p *Pipeline) hydrate(ctx context.Context, candidates []searcher.Candidate) ([]searcher.Candidate, error) {
	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.DocID
	}
	docs, err := p.docs.GetMany(ctx, ids)
	if err != nil {
		return candidates, err
	}
	out := make([]searcher.Candidate, 0, len(candidates))
	for _, c := range candidates {
		d, ok := docs[c.DocID]
		if !ok {
			continue
		}
		c.Title = d.Title
		if strings.TrimSpace(c.Title) == "" {
			c.Title = UntitledDocument
		}
		c.Text = d.Text
		c.TextPreview = preview.Create(d.Text, p.opts.PreviewMaxChars)
		c.VectorRank = len(out) + 1
		out = append(out, c)
	}
	if dropped := len(candidates) - len(out); dropped > 0 {
		logger.FromContext(ctx).Warn("dropped candidates missing from document store",
			"component", "pipeline",
			"dropped", dropped,
			"candidates", len(candidates),
		)
	}
	return out, nil
}

// rerank loads the model if needed and reorders candidates, all as one call
// under the circuit breaker and the rerank timeout.
func (p *Pipeline) rerank(ctx context.Context, query string, candidates []searcher.Candidate) ([]searcher.Candidate, time.Duration, error) {
	type outcome struct {
		ranked   []searcher.Candidate
		loadCost time.Duration
	}
	var result outcome
	call := func() error {
		return resilience.WithTimeout(ctx, p.opts.RerankTimeout, "rerank", func(ctx context.Context) error {
			var local outcome
			cost, err := p.model.EnsureLoaded(ctx)
			local.loadCost = cost
			if err != nil {
				return err
			}
			ranked, err := p.reranker.Rerank(ctx, query, candidates, 0)
			if err != nil {
				return err
			}
			local.ranked = ranked
			result = local
			return nil
		})
	}
	var err error
	if p.opts.Breaker != nil {
		err = p.opts.Breaker.Execute(call)
	} else {
		err = call()
	}
	if err != nil {
		return nil, 0, err
	}
	return result.ranked, result.loadCost, nil
}

func (p *Pipeline) finish(resp *Response, start time.Time, outcome string) *Response {
	resp.Total = len(resp.Results)
	total := time.Since(start)
	resp.Timing.TotalMs = millis(total)
	if m := p.opts.Metrics; m != nil {
		m.SearchQueriesTotal.WithLabelValues(outcome).Inc()
		m.SearchResultsCount.Observe(float64(resp.Total))
		m.StageLatency.WithLabelValues("total").Observe(total.Seconds())
	}
	return resp
}

func (p *Pipeline) observe(stage string, d time.Duration) {
	if p.opts.Metrics != nil {
		p.opts.Metrics.StageLatency.WithLabelValues(stage).Observe(d.Seconds())
	}
}

func classify(err error) string {
	switch {
	case errors.Is(err, resilience.ErrCircuitOpen):
		return FallbackRerankCircuitOpen
	case errors.Is(err, context.DeadlineExceeded):
		return FallbackRerankTimeout
	default:
		return FallbackRerankFailed
	}
}

func millis(d time.Duration) float64 {
	return math.Round(float64(d)/float64(time.Millisecond)*100) / 100
}

func shortQuery(q string) string {
	const max = 50
	r := []rune(q)
	if len(r) <= max {
		return q
	}
	return fmt.Sprintf("%s...", string(r[:max]))
}
