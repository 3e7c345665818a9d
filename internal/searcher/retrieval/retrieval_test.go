package retrieval

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/cross-lingual-search/internal/docstore"
	"github.com/Adithya-Monish-Kumar-K/cross-lingual-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/cross-lingual-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/cross-lingual-search/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// axisEncoder maps known words to unit axes.
type axisEncoder struct {
	err error
}

var axis = map[string][]float32{
	"a": {1, 0, 0},
	"b": {0, 1, 0},
	"c": {0, 0, 1},
}

func (e axisEncoder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	return axis[text], nil
}

func (e axisEncoder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = append([]float32(nil), axis[t]...)
	}
	return out, nil
}

func newEngine(t *testing.T) *indexer.Engine {
	t.Helper()
	cfg := config.IndexConfig{Path: filepath.Join(t.TempDir(), "docs.index"), Dimension: 3, EmbedBatchSize: 8}
	e := indexer.NewEngine(cfg, axisEncoder{}, nil)
	_, err := e.LoadOrBuild(context.Background(), func(context.Context) ([]docstore.Document, error) {
		return []docstore.Document{
			{DocID: "doc-a", Text: "a"},
			{DocID: "doc-b", Text: "b"},
			{DocID: "doc-c", Text: "c"},
		}, nil
	})
	require.NoError(t, err)
	return e
}

func TestRetrieveReturnsRankedCandidates(t *testing.T) {
	stage := New(axisEncoder{}, newEngine(t))

	cands, err := stage.Retrieve(context.Background(), "b", 10)
	require.NoError(t, err)
	require.Len(t, cands, 3)
	assert.Equal(t, "doc-b", cands[0].DocID)
	assert.InDelta(t, 1.0, cands[0].VectorScore, 1e-6)
	for i, c := range cands {
		assert.Equal(t, i+1, c.VectorRank)
		assert.Empty(t, c.Title)
	}
}

func TestRetrieveHonoursTopK(t *testing.T) {
	stage := New(axisEncoder{}, newEngine(t))
	cands, err := stage.Retrieve(context.Background(), "c", 1)
	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Equal(t, "doc-c", cands[0].DocID)
}

func TestRetrieveWrapsEncoderFailure(t *testing.T) {
	stage := New(axisEncoder{err: errors.New("connection refused")}, newEngine(t))
	_, err := stage.Retrieve(context.Background(), "a", 5)
	assert.ErrorIs(t, err, apperrors.ErrEmbeddingFailure)
}
