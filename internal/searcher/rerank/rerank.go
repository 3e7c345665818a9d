// Package rerank reorders retrieval candidates with a pairwise relevance
// model and measures how the ordering changed.
package rerank

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/Adithya-Monish-Kumar-K/cross-lingual-search/internal/searcher"
	apperrors "github.com/Adithya-Monish-Kumar-K/cross-lingual-search/pkg/errors"
)

const (
	DefaultBatchSize    = 16
	DefaultMaxPairChars = 400

	// EmptyDocumentText stands in for a document with neither title nor text.
	EmptyDocumentText = "无内容"
)

// Scorer returns one relevance score per doc for pairs (query, docs[i]).
type Scorer interface {
	Score(ctx context.Context, query string, docs []string) ([]float64, error)
}

type Stage struct {
	scorer       Scorer
	batchSize    int
	maxPairChars int
	logger       *slog.Logger
}

// New creates a Stage. Non-positive sizes fall back to the defaults.
func New(scorer Scorer, batchSize, maxPairChars int) *Stage {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if maxPairChars <= 0 {
		maxPairChars = DefaultMaxPairChars
	}
	return &Stage{
		scorer:       scorer,
		batchSize:    batchSize,
		maxPairChars: maxPairChars,
		logger:       slog.Default().With("component", "rerank"),
	}
}

// PreparePairText joins title and text as "{title}. {text}" (or whichever
// is present) and cuts the result to maxChars runes.
func PreparePairText(c searcher.Candidate, maxChars int) string {
	title := strings.TrimSpace(c.Title)
	text := strings.TrimSpace(c.Text)
	var combined string
	switch {
	case title != "" && text != "":
		combined = title + ". " + text
	case title != "":
		combined = title
	case text != "":
		combined = text
	default:
		combined = EmptyDocumentText
	}
	if maxChars > 0 && utf8.RuneCountInString(combined) > maxChars {
		combined = string([]rune(combined)[:maxChars])
	}
	return combined
}

// Rerank scores every candidate against query in fixed-size batches, sorts
// by score descending with ties going to the lower original rank, assigns
// dense final ranks, and truncates to topK when topK > 0. The input slice is
// not modified. Any scoring error aborts the rerank so the caller can fall
// back to vector order.
func (s *Stage) Rerank(ctx context.Context, query string, candidates []searcher.Candidate, topK int) ([]searcher.Candidate, error) {
	if len(candidates) == 0 {
		return []searcher.Candidate{}, nil
	}

	out := make([]searcher.Candidate, len(candidates))
	copy(out, candidates)
	texts := make([]string, len(out))
	for i := range out {
		if out[i].VectorRank > 0 {
			out[i].OriginalRank = out[i].VectorRank
		} else {
			out[i].OriginalRank = i + 1
		}
		texts[i] = PreparePairText(out[i], s.maxPairChars)
	}

	scores := make([]float64, 0, len(texts))
	for lo := 0; lo < len(texts); lo += s.batchSize {
		hi := min(lo+s.batchSize, len(texts))
		batch, err := s.scorer.Score(ctx, query, texts[lo:hi])
		if err != nil {
			return nil, fmt.Errorf("scoring batch at %d: %w", lo, err)
		}
		if len(batch) != hi-lo {
			return nil, fmt.Errorf("%w: got %d scores for %d pairs", apperrors.ErrScoringFailure, len(batch), hi-lo)
		}
		scores = append(scores, batch...)
	}
	for i, score := range scores {
		if math.IsNaN(score) || math.IsInf(score, 0) {
			return nil, fmt.Errorf("%w: non-finite score for %s", apperrors.ErrScoringFailure, out[i].DocID)
		}
		out[i].CrossEncoderScore = &scores[i]
	}

	sort.SliceStable(out, func(i, j int) bool {
		si, sj := *out[i].CrossEncoderScore, *out[j].CrossEncoderScore
		if si != sj {
			return si > sj
		}
		return out[i].OriginalRank < out[j].OriginalRank
	})
	for i := range out {
		out[i].FinalRank = i + 1
	}
	if topK > 0 && topK < len(out) {
		out = out[:topK]
	}

	s.logger.Debug("reranked candidates",
		"candidates", len(candidates),
		"returned", len(out),
		"top_score", *out[0].CrossEncoderScore,
	)
	return out, nil
}
