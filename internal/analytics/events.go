package analytics

import "time"

type EventType string

const (
	EventSearch     EventType = "search"
	EventZeroResult EventType = "zero_result"
	EventIndexBuild EventType = "index_build"
)

// Event is anything the collector can publish. Kind doubles as the Kafka
// message key.
type Event interface {
	Kind() EventType
}

// SearchEvent describes one served search request.
type SearchEvent struct {
	Type          EventType `json:"type"`
	Query         string    `json:"query"`
	TopK          int       `json:"top_k"`
	Returned      int       `json:"returned"`
	UseRerank     bool      `json:"use_rerank"`
	Reranked      bool      `json:"reranked"`
	Fallback      string    `json:"fallback,omitempty"`
	VectorMs      float64   `json:"vector_search_ms"`
	RerankMs      float64   `json:"rerank_ms"`
	ModelLoadMs   float64   `json:"model_load_ms"`
	TotalMs       float64   `json:"total_ms"`
	CacheHit      bool      `json:"cache_hit"`
	DocsImproved  int       `json:"docs_improved"`
	AvgRankChange float64   `json:"avg_rank_change"`
	Timestamp     time.Time `json:"timestamp"`
	RequestID     string    `json:"request_id,omitempty"`
}

func (e SearchEvent) Kind() EventType { return e.Type }

// IndexEvent describes one index load or build.
type IndexEvent struct {
	Type       EventType `json:"type"`
	Source     string    `json:"source"`
	Vectors    int       `json:"vectors"`
	Dimension  int       `json:"dimension"`
	DurationMs int64     `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

func (e IndexEvent) Kind() EventType { return EventIndexBuild }
