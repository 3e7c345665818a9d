//go:build cgo

package embedding

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/cross-lingual-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/cross-lingual-search/pkg/errors"
	fastembed "github.com/anush008/fastembed-go"
)

// fastembedModels maps model names to fastembed model constants.
var fastembedModels = map[string]fastembed.EmbeddingModel{
	"BAAI/bge-small-en-v1.5":                 fastembed.BGESmallENV15,
	"BAAI/bge-small-en":                      fastembed.BGESmallEN,
	"BAAI/bge-base-en-v1.5":                  fastembed.BGEBaseENV15,
	"BAAI/bge-base-en":                       fastembed.BGEBaseEN,
	"BAAI/bge-small-zh-v1.5":                 fastembed.BGESmallZH,
	"sentence-transformers/all-MiniLM-L6-v2": fastembed.AllMiniLML6V2,
}

// FastEmbed runs an ONNX embedding model in process.
type FastEmbed struct {
	mu    sync.RWMutex
	model *fastembed.FlagEmbedding
}

// NewFastEmbed downloads (if needed) and initialises the configured model.
func NewFastEmbed(cfg config.EmbeddingConfig) (*FastEmbed, error) {
	model, ok := fastembedModels[cfg.Model]
	if !ok {
		return nil, apperrors.Newf(apperrors.ErrConfig, 0, "fastembed does not support model %q", cfg.Model)
	}
	cacheDir := cfg.CacheDir
	if cacheDir == "" {
		cacheDir = filepath.Join(".", "local_cache")
	}
	maxLength := cfg.MaxLength
	if maxLength <= 0 || maxLength > 512 {
		maxLength = 512
	}
	showProgress := false
	flag, err := fastembed.NewFlagEmbedding(&fastembed.InitOptions{
		Model:                model,
		CacheDir:             cacheDir,
		MaxLength:            maxLength,
		ShowDownloadProgress: &showProgress,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: initializing fastembed: %v", apperrors.ErrEmbeddingFailure, err)
	}
	return &FastEmbed{model: flag}, nil
}

// EmbedDocuments embeds texts with the passage prefix.
func (f *FastEmbed) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	vectors, err := f.model.PassageEmbed(texts, len(texts))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrEmbeddingFailure, err)
	}
	if err := checkDimensions(vectors, len(texts)); err != nil {
		return nil, err
	}
	return vectors, nil
}

// EmbedQuery embeds text with the query prefix.
func (f *FastEmbed) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: query text is empty", apperrors.ErrInvalidInput)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	vector, err := f.model.QueryEmbed(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrEmbeddingFailure, err)
	}
	return vector, nil
}

// Close releases the ONNX session.
func (f *FastEmbed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.model == nil {
		return nil
	}
	err := f.model.Destroy()
	f.model = nil
	return err
}
