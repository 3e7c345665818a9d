package docstore

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/cross-lingual-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/cross-lingual-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/cross-lingual-search/pkg/postgres"
)

// Source is an opened document backend together with the corpus the index
// is built from.
type Source struct {
	Store  Store
	Corpus func(ctx context.Context) ([]Document, error)
	ping   func(ctx context.Context) error
	close  func() error
}

// Open connects the backend named by cfg.Documents.Backend. The memory
// backend reads the JSONL corpus up front. The postgres backend builds from
// the JSONL corpus when one is configured, else from the table itself.
func Open(ctx context.Context, cfg *config.Config) (*Source, error) {
	log := slog.Default().With("component", "docstore", "backend", cfg.Documents.Backend)
	switch cfg.Documents.Backend {
	case "memory":
		docs, err := ReadJSONLFile(cfg.Index.CorpusPath)
		if err != nil {
			return nil, err
		}
		log.Info("corpus loaded", "path", cfg.Index.CorpusPath, "documents", len(docs))
		return &Source{
			Store:  NewMemoryStore(docs),
			Corpus: func(context.Context) ([]Document, error) { return docs, nil },
			ping:   func(context.Context) error { return nil },
			close:  func() error { return nil },
		}, nil
	case "postgres":
		client, err := postgres.New(ctx, cfg.Postgres)
		if err != nil {
			return nil, err
		}
		store := NewPostgresStore(client)
		if err := store.EnsureSchema(ctx); err != nil {
			client.Close()
			return nil, err
		}
		corpus := store.All
		if path := cfg.Index.CorpusPath; path != "" {
			corpus = func(context.Context) ([]Document, error) { return ReadJSONLFile(path) }
		}
		log.Info("document store connected", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
		return &Source{
			Store:  store,
			Corpus: corpus,
			ping:   client.Ping,
			close:  client.Close,
		}, nil
	default:
		return nil, apperrors.Newf(apperrors.ErrConfig, 0, "unknown documents.backend %q", cfg.Documents.Backend)
	}
}

func (s *Source) Ping(ctx context.Context) error {
	if err := s.ping(ctx); err != nil {
		return fmt.Errorf("document store: %w", err)
	}
	return nil
}

func (s *Source) Close() error {
	return s.close()
}
