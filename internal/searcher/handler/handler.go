// Package handler exposes the search pipeline over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/cross-lingual-search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/cross-lingual-search/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/cross-lingual-search/internal/searcher/pipeline"
	apperrors "github.com/Adithya-Monish-Kumar-K/cross-lingual-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/cross-lingual-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/cross-lingual-search/pkg/middleware"
)

type Searcher interface {
	Search(ctx context.Context, req pipeline.Request) (*pipeline.Response, error)
	ResolveTopK(topK int) (int, error)
	UnloadModel(ctx context.Context) (bool, error)
	ModelStatus() pipeline.ModelStatus
}

// Tracker receives one analytics event per served search.
type Tracker interface {
	Track(event analytics.Event)
}

// SearchResponse is the pipeline response plus whether it came from cache.
type SearchResponse struct {
	*pipeline.Response
	Cached bool `json:"cached"`
}

type Handler struct {
	searcher Searcher
	cache    *cache.QueryCache
	tracker  Tracker
	logger   *slog.Logger
}

// New creates a Handler. queryCache and tracker may be nil.
func New(searcher Searcher, queryCache *cache.QueryCache, tracker Tracker) *Handler {
	return &Handler{
		searcher: searcher,
		cache:    queryCache,
		tracker:  tracker,
		logger:   slog.Default().With("component", "search-handler"),
	}
}

// Search serves GET /api/v1/search?q=...&use_rerank=true&top_k=100.
// The query may also be passed as "query".
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)
	params := r.URL.Query()

	query := params.Get("q")
	if query == "" {
		query = params.Get("query")
	}
	if strings.TrimSpace(query) == "" {
		h.writeError(w, http.StatusBadRequest, "query parameter 'q' is required")
		return
	}

	useRerank := false
	if s := params.Get("use_rerank"); s != "" {
		v, err := strconv.ParseBool(s)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "use_rerank must be a boolean")
			return
		}
		useRerank = v
	}

	topK := 0
	if s := params.Get("top_k"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v < 1 {
			h.writeError(w, http.StatusBadRequest, "top_k must be a positive integer")
			return
		}
		topK = v
	}
	topK, err := h.searcher.ResolveTopK(topK)
	if err != nil {
		h.writeAppError(w, err)
		return
	}

	req := pipeline.Request{Query: query, UseRerank: useRerank, TopK: topK}
	compute := func(ctx context.Context) (*pipeline.Response, error) {
		return h.searcher.Search(ctx, req)
	}

	var resp *pipeline.Response
	cacheHit := false
	if h.cache != nil {
		resp, cacheHit, err = h.cache.GetOrCompute(ctx,
			cache.Key{Query: query, TopK: topK, UseRerank: useRerank}, compute)
	} else {
		resp, err = compute(ctx)
	}
	if err != nil {
		log.Error("search failed", "error", err)
		h.writeAppError(w, err)
		return
	}

	h.track(ctx, req, resp, cacheHit)
	h.writeJSON(w, http.StatusOK, SearchResponse{Response: resp, Cached: cacheHit})
}

// RerankStatus serves GET /api/v1/rerank/status.
func (h *Handler) RerankStatus(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.searcher.ModelStatus())
}

// RerankUnload serves POST /api/v1/rerank/unload.
func (h *Handler) RerankUnload(w http.ResponseWriter, r *http.Request) {
	wasLoaded, err := h.searcher.UnloadModel(r.Context())
	if err != nil {
		h.logger.Error("unloading relevance model failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "unloading relevance model failed")
		return
	}
	message := "relevance model unloaded"
	if !wasLoaded {
		message = "relevance model was not loaded"
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"message":    message,
		"was_loaded": wasLoaded,
	})
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}
	hits, misses := h.cache.Stats()
	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"hits":     hits,
		"misses":   misses,
		"total":    total,
		"hit_rate": fmt.Sprintf("%.1f%%", hitRate),
	})
}

func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeError(w, http.StatusServiceUnavailable, "caching is disabled")
		return
	}
	deleted, err := h.cache.Invalidate(r.Context())
	if err != nil {
		h.logger.Error("cache invalidation failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "cache invalidation failed")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"status": "invalidated", "keys_deleted": deleted})
}

func (h *Handler) track(ctx context.Context, req pipeline.Request, resp *pipeline.Response, cacheHit bool) {
	if h.tracker == nil {
		return
	}
	event := analytics.SearchEvent{
		Type:        analytics.EventSearch,
		Query:       resp.Query,
		TopK:        resp.TopK,
		Returned:    resp.Total,
		UseRerank:   req.UseRerank,
		Reranked:    resp.Reranked,
		Fallback:    resp.Fallback,
		VectorMs:    resp.Timing.VectorSearchMs,
		RerankMs:    resp.Timing.RerankMs,
		ModelLoadMs: resp.Timing.ModelLoadMs,
		TotalMs:     resp.Timing.TotalMs,
		CacheHit:    cacheHit,
		Timestamp:   time.Now().UTC(),
		RequestID:   middleware.GetRequestID(ctx),
	}
	if resp.Total == 0 {
		event.Type = analytics.EventZeroResult
	}
	if cmp := resp.RankingComparison; cmp != nil && !cmp.NoRankingData {
		event.DocsImproved = cmp.DocsImproved
		event.AvgRankChange = cmp.AvgRankChange
	}
	h.tracker.Track(event)
}

// writeAppError maps err to its status; 5xx bodies never carry internal text.
func (h *Handler) writeAppError(w http.ResponseWriter, err error) {
	status := apperrors.HTTPStatusCode(err)
	message := http.StatusText(status)
	var appErr *apperrors.AppError
	if status < http.StatusInternalServerError && errors.As(err, &appErr) {
		message = appErr.Message
	}
	h.writeError(w, status, message)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
