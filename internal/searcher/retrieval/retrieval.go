// Package retrieval embeds the query and runs the vector search that
// produces the first-stage candidate list.
package retrieval

import (
	"context"
	"errors"
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/cross-lingual-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/cross-lingual-search/internal/searcher"
	apperrors "github.com/Adithya-Monish-Kumar-K/cross-lingual-search/pkg/errors"
)

type QueryEncoder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

type Index interface {
	Search(queryVector []float32, k int) ([]indexer.Hit, error)
}

type Stage struct {
	encoder QueryEncoder
	index   Index
}

func New(encoder QueryEncoder, idx Index) *Stage {
	return &Stage{encoder: encoder, index: idx}
}

// Retrieve returns up to topK candidates in vector rank order. topK is
// expected to be validated by the caller.
func (s *Stage) Retrieve(ctx context.Context, query string, topK int) ([]searcher.Candidate, error) {
	vector, err := s.encoder.EmbedQuery(ctx, query)
	if err != nil {
		if errors.Is(err, apperrors.ErrEmbeddingFailure) || errors.Is(err, apperrors.ErrInvalidInput) {
			return nil, fmt.Errorf("embedding query: %w", err)
		}
		return nil, fmt.Errorf("%w: embedding query: %v", apperrors.ErrEmbeddingFailure, err)
	}
	hits, err := s.index.Search(vector, topK)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	candidates := make([]searcher.Candidate, len(hits))
	for i, h := range hits {
		candidates[i] = searcher.Candidate{
			DocID:       h.DocID,
			VectorScore: float64(h.Score),
			VectorRank:  h.Rank,
		}
	}
	return candidates, nil
}
