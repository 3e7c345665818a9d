// Package indexer owns the vector index lifecycle: loading the persisted
// index pair, building it from the corpus when absent or corrupt, and
// serving read-only top-k searches.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/cross-lingual-search/internal/docstore"
	"github.com/Adithya-Monish-Kumar-K/cross-lingual-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/cross-lingual-search/internal/indexer/segment"
	"github.com/Adithya-Monish-Kumar-K/cross-lingual-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/cross-lingual-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/cross-lingual-search/pkg/metrics"
	"golang.org/x/sync/errgroup"
)

// DocumentEncoder embeds document texts in input order.
type DocumentEncoder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
}

// Corpus supplies the documents to index. It is only called when the index
// has to be built.
type Corpus func(ctx context.Context) ([]docstore.Document, error)

// Source records how the serving index was obtained.
type Source string

const (
	SourceLoaded  Source = "loaded"
	SourceBuilt   Source = "built"
	SourceRebuilt Source = "rebuilt"
)

// BuildResult describes a completed LoadOrBuild or Rebuild.
type BuildResult struct {
	Source    Source        `json:"source"`
	Vectors   int           `json:"vectors"`
	Dimension int           `json:"dimension"`
	Duration  time.Duration `json:"duration"`
}

// Hit is a ranked search result. Rank is 1-based and dense.
type Hit struct {
	DocID string
	Score float32
	Rank  int
}

type Engine struct {
	cfg     config.IndexConfig
	encoder DocumentEncoder
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu   sync.RWMutex
	flat *index.Flat
	ids  []string
}

// NewEngine creates an engine with no index installed. m may be nil.
func NewEngine(cfg config.IndexConfig, encoder DocumentEncoder, m *metrics.Metrics) *Engine {
	if cfg.EmbedBatchSize <= 0 {
		cfg.EmbedBatchSize = 32
	}
	if cfg.BuildConcurrency <= 0 {
		cfg.BuildConcurrency = 1
	}
	return &Engine{
		cfg:     cfg,
		encoder: encoder,
		metrics: m,
		logger:  slog.Default().With("component", "indexer", "index_path", cfg.Path),
	}
}

// LoadOrBuild installs the persisted index pair if it is present and
// consistent. A missing pair is built from corpus; a corrupt one is rebuilt.
func (e *Engine) LoadOrBuild(ctx context.Context, corpus Corpus) (BuildResult, error) {
	start := time.Now()
	pair, err := segment.Read(e.cfg.Path)
	if err == nil && e.cfg.Dimension > 0 && pair.Dim != e.cfg.Dimension {
		err = apperrors.Newf(apperrors.ErrCorruptIndex, 0, "persisted dimension %d, configured %d", pair.Dim, e.cfg.Dimension)
	}
	var flat *index.Flat
	if err == nil {
		if flat, err = index.FromData(pair.Dim, pair.Data); err != nil {
			err = apperrors.Newf(apperrors.ErrCorruptIndex, 0, "installing persisted index: %v", err)
		}
	}
	switch {
	case err == nil:
		e.install(flat, pair.IDs)
		result := BuildResult{Source: SourceLoaded, Vectors: len(pair.IDs), Dimension: pair.Dim, Duration: time.Since(start)}
		e.logger.Info("index loaded", "vectors", result.Vectors, "dimension", result.Dimension, "duration", result.Duration)
		e.record(result)
		return result, nil
	case errors.Is(err, fs.ErrNotExist):
		e.logger.Info("no persisted index, building from corpus")
		return e.build(ctx, corpus, SourceBuilt, start)
	case errors.Is(err, apperrors.ErrCorruptIndex):
		e.logger.Warn("persisted index is corrupt, rebuilding", "error", err)
		return e.build(ctx, corpus, SourceRebuilt, start)
	default:
		e.recordError()
		return BuildResult{}, fmt.Errorf("loading index: %w", err)
	}
}

// Rebuild discards any persisted pair and builds a fresh index from corpus.
func (e *Engine) Rebuild(ctx context.Context, corpus Corpus) (BuildResult, error) {
	return e.build(ctx, corpus, SourceRebuilt, time.Now())
}

// Search returns up to k hits for queryVector, which is L2-normalised here
// before scoring. An empty or uninstalled index yields no hits.
func (e *Engine) Search(queryVector []float32, k int) ([]Hit, error) {
	e.mu.RLock()
	flat, ids := e.flat, e.ids
	e.mu.RUnlock()

	if flat == nil || flat.Len() == 0 || k <= 0 {
		return []Hit{}, nil
	}
	if len(queryVector) != flat.Dim() {
		return nil, fmt.Errorf("%w: query vector has dimension %d, index has %d",
			apperrors.ErrEmbeddingFailure, len(queryVector), flat.Dim())
	}
	q := make([]float32, len(queryVector))
	copy(q, queryVector)
	index.Normalize(q)

	raw, err := flat.Search(q, k)
	if err != nil {
		return nil, fmt.Errorf("searching index: %w", err)
	}
	hits := make([]Hit, 0, len(raw))
	for _, h := range raw {
		if h.Position < 0 || h.Position >= len(ids) {
			e.logger.Error("index returned out-of-range position, dropping",
				"position", h.Position,
				"ids", len(ids),
			)
			continue
		}
		hits = append(hits, Hit{DocID: ids[h.Position], Score: h.Score, Rank: len(hits) + 1})
	}
	return hits, nil
}

// Count returns the number of vectors in the serving index.
func (e *Engine) Count() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.flat == nil {
		return 0
	}
	return e.flat.Len()
}

// Dimension returns the serving index dimension, or the configured one
// when nothing is installed.
func (e *Engine) Dimension() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.flat == nil {
		return e.cfg.Dimension
	}
	return e.flat.Dim()
}

func (e *Engine) build(ctx context.Context, corpus Corpus, source Source, start time.Time) (BuildResult, error) {
	if corpus == nil {
		e.recordError()
		return BuildResult{}, apperrors.New(apperrors.ErrConfig, 0, "index must be built but no corpus is configured")
	}
	docs, err := corpus(ctx)
	if err != nil {
		e.recordError()
		return BuildResult{}, fmt.Errorf("loading corpus: %w", err)
	}
	if len(docs) == 0 {
		e.logger.Error("corpus is empty, serving an empty index")
		e.install(nil, nil)
		return BuildResult{Source: source, Dimension: e.cfg.Dimension, Duration: time.Since(start)}, nil
	}

	texts, ids := corpusEntries(docs)
	if dups := len(docs) - len(ids); dups > 0 {
		e.logger.Warn("corpus has duplicate document ids, keeping the last of each", "duplicates", dups)
	}

	vectors, err := e.embedAll(ctx, texts)
	if err != nil {
		e.recordError()
		return BuildResult{}, err
	}

	dim := len(vectors[0])
	flat := index.NewFlat(dim)
	for _, v := range vectors {
		index.Normalize(v)
	}
	if _, err := flat.Add(vectors...); err != nil {
		e.recordError()
		return BuildResult{}, fmt.Errorf("%w: %v", apperrors.ErrEmbeddingFailure, err)
	}
	if err := segment.Write(e.cfg.Path, ids, dim, flat.Data()); err != nil {
		e.recordError()
		return BuildResult{}, fmt.Errorf("persisting index: %w", err)
	}
	e.install(flat, ids)

	result := BuildResult{Source: source, Vectors: len(ids), Dimension: dim, Duration: time.Since(start)}
	e.logger.Info("index built",
		"source", source,
		"vectors", result.Vectors,
		"dimension", dim,
		"duration", result.Duration,
	)
	if e.metrics != nil {
		e.metrics.DocsIndexedTotal.Add(float64(len(ids)))
	}
	e.record(result)
	return result, nil
}

// embedAll embeds texts in fixed-size batches with bounded concurrency and
// returns vectors in input order.
func (e *Engine) embedAll(ctx context.Context, texts []string) ([][]float32, error) {
	batchSize := e.cfg.EmbedBatchSize
	numBatches := (len(texts) + batchSize - 1) / batchSize
	batches := make([][][]float32, numBatches)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.BuildConcurrency)
	for b := 0; b < numBatches; b++ {
		lo := b * batchSize
		hi := min(lo+batchSize, len(texts))
		g.Go(func() error {
			vectors, err := e.encoder.EmbedDocuments(gctx, texts[lo:hi])
			if err != nil {
				return fmt.Errorf("embedding batch %d: %w", b, err)
			}
			if len(vectors) != hi-lo {
				return fmt.Errorf("%w: batch %d returned %d vectors for %d texts",
					apperrors.ErrEmbeddingFailure, b, len(vectors), hi-lo)
			}
			batches[b] = vectors
			e.logger.Debug("embedded batch", "batch", b, "of", numBatches)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([][]float32, 0, len(texts))
	for _, batch := range batches {
		out = append(out, batch...)
	}
	dim := len(out[0])
	if e.cfg.Dimension > 0 && dim != e.cfg.Dimension {
		return nil, fmt.Errorf("%w: model produced dimension %d, configured %d",
			apperrors.ErrEmbeddingFailure, dim, e.cfg.Dimension)
	}
	return out, nil
}

func (e *Engine) install(flat *index.Flat, ids []string) {
	e.mu.Lock()
	e.flat = flat
	e.ids = ids
	e.mu.Unlock()
	if e.metrics != nil {
		e.metrics.IndexSize.Set(float64(len(ids)))
	}
}

func (e *Engine) record(result BuildResult) {
	if e.metrics != nil {
		e.metrics.IndexBuildsTotal.WithLabelValues(string(result.Source)).Inc()
	}
}

func (e *Engine) recordError() {
	if e.metrics != nil {
		e.metrics.IndexBuildsTotal.WithLabelValues("error").Inc()
	}
}

// corpusEntries returns one embedding text per distinct document id, in
// first-seen order. A later document with the same id replaces the earlier
// one's text, matching what MemoryStore serves for that id.
func corpusEntries(docs []docstore.Document) (texts, ids []string) {
	pos := make(map[string]int, len(docs))
	for _, d := range docs {
		if i, dup := pos[d.DocID]; dup {
			texts[i] = documentText(d)
			continue
		}
		pos[d.DocID] = len(ids)
		ids = append(ids, d.DocID)
		texts = append(texts, documentText(d))
	}
	return texts, ids
}

// documentText is the text embedded for a document: its body, or its title
// when the body is blank.
func documentText(d docstore.Document) string {
	if strings.TrimSpace(d.Text) != "" {
		return d.Text
	}
	return d.Title
}
