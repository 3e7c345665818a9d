// Package embedding provides the text-to-vector collaborators used to build
// the document index and to encode queries.
package embedding

import (
	"context"
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/cross-lingual-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/cross-lingual-search/pkg/errors"
)

// Embedder turns text into dense vectors. Documents and queries are
// separate calls because asymmetric models prefix them differently.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	Close() error
}

// New builds the Embedder selected by cfg.Provider.
func New(cfg config.EmbeddingConfig) (Embedder, error) {
	switch cfg.Provider {
	case "http", "":
		c, err := NewHTTPClient(cfg)
		if err != nil {
			return nil, err
		}
		return c, nil
	case "fastembed":
		f, err := NewFastEmbed(cfg)
		if err != nil {
			return nil, err
		}
		return f, nil
	default:
		return nil, apperrors.Newf(apperrors.ErrConfig, 0, "unknown embedding provider %q", cfg.Provider)
	}
}

func checkDimensions(vectors [][]float32, want int) error {
	if len(vectors) != want {
		return fmt.Errorf("%w: got %d vectors for %d inputs", apperrors.ErrEmbeddingFailure, len(vectors), want)
	}
	for i, v := range vectors {
		if len(v) == 0 {
			return fmt.Errorf("%w: empty vector at input %d", apperrors.ErrEmbeddingFailure, i)
		}
	}
	return nil
}
