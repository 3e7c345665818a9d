// Command indexer builds or verifies the persisted vector index offline.
//
// By default it loads the index pair and builds it only when missing or
// corrupt. With -rebuild it always re-embeds the corpus. With
// -seed-documents it first upserts the JSONL corpus into PostgreSQL.
// A completion event is published to Kafka when brokers are configured.
//
// Usage:
//
//	go run ./cmd/indexer [-config configs/development.yaml] [-rebuild] [-seed-documents]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Adithya-Monish-Kumar-K/cross-lingual-search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/cross-lingual-search/internal/docstore"
	"github.com/Adithya-Monish-Kumar-K/cross-lingual-search/internal/embedding"
	"github.com/Adithya-Monish-Kumar-K/cross-lingual-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/cross-lingual-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/cross-lingual-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/cross-lingual-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/cross-lingual-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/cross-lingual-search/pkg/postgres"
	"github.com/prometheus/client_golang/prometheus"
)

const seedBatchSize = 500

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	rebuild := flag.Bool("rebuild", false, "re-embed the corpus even if a valid index exists")
	seed := flag.Bool("seed-documents", false, "upsert the JSONL corpus into PostgreSQL before indexing")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup("indexer", cfg.Logging)
	slog.Info("starting indexer",
		"index_path", cfg.Index.Path,
		"corpus_path", cfg.Index.CorpusPath,
		"rebuild", *rebuild,
		"seed_documents", *seed,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *seed {
		if err := seedDocuments(ctx, cfg); err != nil {
			slog.Error("seeding documents failed", "error", err)
			os.Exit(1)
		}
	}

	embedder, err := embedding.New(cfg.Embedding)
	if err != nil {
		slog.Error("failed to create embedder", "error", err)
		os.Exit(1)
	}
	defer embedder.Close()

	docs, err := docstore.Open(ctx, cfg)
	if err != nil {
		slog.Error("failed to open document store", "error", err)
		os.Exit(1)
	}
	defer docs.Close()

	engine := indexer.NewEngine(cfg.Index, embedder, metrics.New(prometheus.NewRegistry()))
	var result indexer.BuildResult
	if *rebuild {
		result, err = engine.Rebuild(ctx, docs.Corpus)
	} else {
		result, err = engine.LoadOrBuild(ctx, docs.Corpus)
	}

	event := analytics.IndexEvent{
		Type:       analytics.EventIndexBuild,
		Source:     string(result.Source),
		Vectors:    result.Vectors,
		Dimension:  result.Dimension,
		DurationMs: result.Duration.Milliseconds(),
		Timestamp:  time.Now().UTC(),
	}
	if err != nil {
		event.Error = err.Error()
	}
	publishIndexEvent(cfg, event)

	if err != nil {
		slog.Error("index build failed", "error", err)
		os.Exit(1)
	}
	slog.Info("index ready",
		"source", result.Source,
		"vectors", result.Vectors,
		"dimension", result.Dimension,
		"duration", result.Duration,
	)
}

func seedDocuments(ctx context.Context, cfg *config.Config) error {
	docs, err := docstore.ReadJSONLFile(cfg.Index.CorpusPath)
	if err != nil {
		return err
	}
	client, err := postgres.New(ctx, cfg.Postgres)
	if err != nil {
		return err
	}
	defer client.Close()

	store := docstore.NewPostgresStore(client)
	if err := store.EnsureSchema(ctx); err != nil {
		return err
	}
	for lo := 0; lo < len(docs); lo += seedBatchSize {
		hi := min(lo+seedBatchSize, len(docs))
		if err := store.Upsert(ctx, docs[lo:hi]); err != nil {
			return err
		}
		slog.Debug("seeded documents", "done", hi, "total", len(docs))
	}
	slog.Info("documents seeded", "count", len(docs), "database", cfg.Postgres.Database)
	return nil
}

// publishIndexEvent logs publish failures instead of returning them.
func publishIndexEvent(cfg *config.Config, event analytics.IndexEvent) {
	if len(cfg.Kafka.Brokers) == 0 {
		return
	}
	producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.IndexComplete)
	defer producer.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := producer.Publish(ctx, kafka.Event{Key: string(event.Kind()), Value: event}); err != nil {
		slog.Warn("failed to publish index event", "topic", cfg.Kafka.Topics.IndexComplete, "error", err)
		return
	}
	slog.Info("index event published", "topic", cfg.Kafka.Topics.IndexComplete)
}
