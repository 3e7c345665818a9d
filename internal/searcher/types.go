// Package searcher holds the result types shared by the retrieval, rerank,
// and pipeline stages of the search path.
package searcher

import "encoding/json"

// Candidate is a document surfaced for one query. Rank fields are 1-based;
// zero means the rank was never assigned.
type Candidate struct {
	DocID             string   `json:"doc_id"`
	Title             string   `json:"title"`
	Text              string   `json:"text"`
	TextPreview       string   `json:"text_preview"`
	VectorScore       float64  `json:"vector_score"`
	VectorRank        int      `json:"vector_rank"`
	CrossEncoderScore *float64 `json:"cross_encoder_score,omitempty"`
	OriginalRank      int      `json:"original_rank,omitempty"`
	FinalRank         int      `json:"final_rank,omitempty"`
}

// RerankStats aggregates cross-encoder scores. With no scored candidates
// only Total is set.
type RerankStats struct {
	Total      int      `json:"total"`
	MaxScore   *float64 `json:"max_score,omitempty"`
	MinScore   *float64 `json:"min_score,omitempty"`
	AvgScore   *float64 `json:"avg_score,omitempty"`
	ScoreRange *float64 `json:"score_range,omitempty"`
}

// RankChange is one document's movement. Delta is OriginalRank-FinalRank,
// so positive means the document moved toward the top.
type RankChange struct {
	DocID        string `json:"doc_id"`
	OriginalRank int    `json:"original_rank"`
	FinalRank    int    `json:"final_rank"`
	Delta        int    `json:"delta"`
}

// RankingComparison summarises rank changes over candidates that carry both
// ranks. NoRankingData is set, and nothing else, when none do.
type RankingComparison struct {
	NoRankingData      bool         `json:"no_ranking_data,omitempty"`
	TotalDocs          int          `json:"total_docs"`
	AvgRankChange      float64      `json:"avg_rank_change"`
	MaxRankImprovement int          `json:"max_rank_improvement"`
	MaxRankDecline     int          `json:"max_rank_decline"`
	DocsImproved       int          `json:"docs_improved"`
	DocsDeclined       int          `json:"docs_declined"`
	DocsUnchanged      int          `json:"docs_unchanged"`
	Changes            []RankChange `json:"changes,omitempty"`
}

// MarshalJSON encodes the no-data marker on its own.
func (r RankingComparison) MarshalJSON() ([]byte, error) {
	if r.NoRankingData {
		return []byte(`{"no_ranking_data":true}`), nil
	}
	type plain RankingComparison
	return json.Marshal(plain(r))
}
