package analytics

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"
)

// maxLatencySamples bounds the latency window used for percentiles.
const maxLatencySamples = 10000

type AggregatedStats struct {
	TotalSearches      int64            `json:"total_searches"`
	CacheHits          int64            `json:"cache_hits"`
	CacheMisses        int64            `json:"cache_misses"`
	ZeroResultCount    int64            `json:"zero_result_count"`
	RerankRequested    int64            `json:"rerank_requested"`
	RerankSucceeded    int64            `json:"rerank_succeeded"`
	Fallbacks          map[string]int64 `json:"fallbacks"`
	FallbackRate       float64          `json:"fallback_rate"`
	AvgLatencyMs       float64          `json:"avg_latency_ms"`
	P50LatencyMs       float64          `json:"p50_latency_ms"`
	P95LatencyMs       float64          `json:"p95_latency_ms"`
	P99LatencyMs       float64          `json:"p99_latency_ms"`
	AvgRerankMs        float64          `json:"avg_rerank_ms"`
	ModelLoads         int64            `json:"model_loads"`
	DocsImprovedTotal  int64            `json:"docs_improved_total"`
	IndexBuilds        int64            `json:"index_builds"`
	IndexBuildFailures int64            `json:"index_build_failures"`
	LastIndexVectors   int              `json:"last_index_vectors"`
	TopQueries         []QueryCount     `json:"top_queries"`
	ZeroResultQueries  []QueryCount     `json:"zero_result_queries"`
	QueriesPerMinute   float64          `json:"queries_per_minute"`
}

type QueryCount struct {
	Query string `json:"query"`
	Count int64  `json:"count"`
}

// Aggregator folds search and index events into running statistics.
type Aggregator struct {
	mu                sync.RWMutex
	stats             AggregatedStats
	latencies         []float64
	next              int
	rerankMsSum       float64
	queryCounts       map[string]int64
	zeroResultQueries map[string]int64
	startTime         time.Time
	logger            *slog.Logger
}

func NewAggregator() *Aggregator {
	return &Aggregator{
		stats:             AggregatedStats{Fallbacks: make(map[string]int64)},
		latencies:         make([]float64, 0, 1024),
		queryCounts:       make(map[string]int64),
		zeroResultQueries: make(map[string]int64),
		startTime:         time.Now(),
		logger:            slog.Default().With("component", "analytics-aggregator"),
	}
}

// HandleMessage decodes one Kafka message and records it. Undecodable or
// unknown messages are logged and skipped so the offset still commits.
func (a *Aggregator) HandleMessage(_ context.Context, key, value []byte) error {
	var envelope struct {
		Type EventType `json:"type"`
	}
	if err := json.Unmarshal(value, &envelope); err != nil {
		a.logger.Error("failed to decode analytics event", "key", string(key), "error", err)
		return nil
	}
	switch envelope.Type {
	case EventSearch, EventZeroResult:
		var event SearchEvent
		if err := json.Unmarshal(value, &event); err != nil {
			a.logger.Error("failed to decode search event", "error", err)
			return nil
		}
		a.RecordSearch(event)
	case EventIndexBuild:
		var event IndexEvent
		if err := json.Unmarshal(value, &event); err != nil {
			a.logger.Error("failed to decode index event", "error", err)
			return nil
		}
		a.RecordIndex(event)
	default:
		a.logger.Warn("unknown analytics event type", "type", envelope.Type)
	}
	return nil
}

func (a *Aggregator) RecordSearch(event SearchEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := &a.stats
	s.TotalSearches++
	if event.CacheHit {
		s.CacheHits++
	} else {
		s.CacheMisses++
	}
	if event.UseRerank {
		s.RerankRequested++
	}
	if event.Reranked {
		s.RerankSucceeded++
		a.rerankMsSum += event.RerankMs
		s.DocsImprovedTotal += int64(event.DocsImproved)
	}
	if event.ModelLoadMs > 0 {
		s.ModelLoads++
	}
	if event.Fallback != "" {
		s.Fallbacks[event.Fallback]++
	}
	a.queryCounts[event.Query]++
	if event.Returned == 0 {
		s.ZeroResultCount++
		a.zeroResultQueries[event.Query]++
	}

	if len(a.latencies) < maxLatencySamples {
		a.latencies = append(a.latencies, event.TotalMs)
	} else {
		a.latencies[a.next] = event.TotalMs
		a.next = (a.next + 1) % maxLatencySamples
	}
}

func (a *Aggregator) RecordIndex(event IndexEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if event.Error != "" {
		a.stats.IndexBuildFailures++
		return
	}
	a.stats.IndexBuilds++
	a.stats.LastIndexVectors = event.Vectors
}

// Stats returns a snapshot of the running statistics.
func (a *Aggregator) Stats() AggregatedStats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	stats := a.stats
	stats.Fallbacks = make(map[string]int64, len(a.stats.Fallbacks))
	var fallbacks int64
	for reason, n := range a.stats.Fallbacks {
		stats.Fallbacks[reason] = n
		fallbacks += n
	}
	if stats.TotalSearches > 0 {
		stats.FallbackRate = round2(float64(fallbacks) / float64(stats.TotalSearches))
	}
	if stats.RerankSucceeded > 0 {
		stats.AvgRerankMs = round2(a.rerankMsSum / float64(stats.RerankSucceeded))
	}
	if len(a.latencies) > 0 {
		sorted := make([]float64, len(a.latencies))
		copy(sorted, a.latencies)
		sort.Float64s(sorted)
		var sum float64
		for _, l := range sorted {
			sum += l
		}
		stats.AvgLatencyMs = round2(sum / float64(len(sorted)))
		stats.P50LatencyMs = percentile(sorted, 50)
		stats.P95LatencyMs = percentile(sorted, 95)
		stats.P99LatencyMs = percentile(sorted, 99)
	}
	stats.TopQueries = topN(a.queryCounts, 10)
	stats.ZeroResultQueries = topN(a.zeroResultQueries, 10)
	if elapsed := time.Since(a.startTime).Minutes(); elapsed > 0 {
		stats.QueriesPerMinute = round2(float64(stats.TotalSearches) / elapsed)
	}
	return stats
}

func percentile(sorted []float64, pct int) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := (pct * len(sorted)) / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// topN orders by count, then query, so equal counts are stable.
func topN(counts map[string]int64, n int) []QueryCount {
	result := make([]QueryCount, 0, len(counts))
	for query, count := range counts {
		result = append(result, QueryCount{Query: query, Count: count})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Count != result[j].Count {
			return result[i].Count > result[j].Count
		}
		return result[i].Query < result[j].Query
	})
	if len(result) > n {
		result = result[:n]
	}
	return result
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
