//go:build !cgo

package embedding

import (
	"context"

	"github.com/Adithya-Monish-Kumar-K/cross-lingual-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/cross-lingual-search/pkg/errors"
)

// FastEmbed is unavailable in binaries built without cgo.
type FastEmbed struct{}

// NewFastEmbed always fails without cgo; use the http provider instead.
func NewFastEmbed(_ config.EmbeddingConfig) (*FastEmbed, error) {
	return nil, apperrors.New(apperrors.ErrConfig, 0, "fastembed provider requires a cgo build, use the http provider")
}

func (f *FastEmbed) EmbedDocuments(_ context.Context, _ []string) ([][]float32, error) {
	return nil, apperrors.ErrEmbeddingFailure
}

func (f *FastEmbed) EmbedQuery(_ context.Context, _ string) ([]float32, error) {
	return nil, apperrors.ErrEmbeddingFailure
}

func (f *FastEmbed) Close() error { return nil }
